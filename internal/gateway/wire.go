package gateway

// Wire protocol to the execution node: JSON request/response over one
// persistent socket, one request in flight per connection.

type Action string

const (
	ActionHeartbeat     Action = "HEARTBEAT"
	ActionAccountInfo   Action = "GET_ACCOUNT_INFO"
	ActionPositions     Action = "GET_POSITIONS"
	ActionOpenOrder     Action = "OPEN_ORDER"
	ActionClosePosition Action = "CLOSE_POSITION"
	ActionKillSwitch    Action = "KILL_SWITCH"
)

type Status string

const (
	StatusSuccess Status = "SUCCESS"
	StatusError   Status = "ERROR"
	StatusPending Status = "PENDING"
)

// Command is a single request. ReqID is unique per request, never reused,
// so a caller can correlate retried requests in the gateway's logs.
type Command struct {
	Action    Action         `json:"action"`
	ReqID     string         `json:"req_id"`
	Timestamp float64        `json:"timestamp"`
	Payload   map[string]any `json:"payload"`
}

type Response struct {
	Status Status         `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
	Error  string         `json:"error,omitempty"`
}

func (r *Response) valid() bool {
	switch r.Status {
	case StatusSuccess, StatusError, StatusPending:
		return true
	}
	return false
}

// OrderRequest is the payload of an OPEN_ORDER command.
type OrderRequest struct {
	Symbol  string  `json:"symbol"`
	Volume  float64 `json:"volume"`
	Side    string  `json:"side"`
	Type    string  `json:"type"`
	Price   float64 `json:"price,omitempty"`
	SL      float64 `json:"sl,omitempty"`
	TP      float64 `json:"tp,omitempty"`
	Comment string  `json:"comment,omitempty"`
}

func (o OrderRequest) payload() map[string]any {
	p := map[string]any{
		"symbol": o.Symbol,
		"volume": o.Volume,
		"side":   o.Side,
		"type":   o.Type,
	}
	if o.Price != 0 {
		p["price"] = o.Price
	}
	if o.SL != 0 {
		p["sl"] = o.SL
	}
	if o.TP != 0 {
		p["tp"] = o.TP
	}
	if o.Comment != "" {
		p["comment"] = o.Comment
	}
	return p
}
