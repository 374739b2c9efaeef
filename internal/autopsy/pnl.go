package autopsy

type PnLReport struct {
	InitialBalance float64 `json:"initial_balance"`
	FinalBalance   float64 `json:"final_balance"`
	RealizedPnL    float64 `json:"realized_pnl"`
	TotalTrades    int     `json:"total_trades"`
	Wins           int     `json:"wins"`
	WinRate        float64 `json:"win_rate"`
}

// SimulatePnL replays the batch as a naive position-flip strategy: a
// non-zero signal different from the held position closes the old
// position at the current price (minus a slippage cost in price units)
// and opens the new one. HOLD signals never open or close anything, and
// records with an invalid signal are excluded from the replay.
func SimulatePnL(records []DecisionRecord, initialBalance, slippage float64) PnLReport {
	rep := PnLReport{InitialBalance: initialBalance, FinalBalance: initialBalance}

	position := 0 // -1 short, 0 flat, 1 long
	entryPrice := 0.0

	for _, r := range records {
		if !r.ValidSignal() {
			continue
		}
		signal := *r.Signal
		if signal == 0 || signal == position {
			continue
		}

		if position != 0 {
			pnl := float64(position)*(r.Price-entryPrice) - slippage
			rep.RealizedPnL += pnl
			rep.TotalTrades++
			if pnl > 0 {
				rep.Wins++
			}
		}

		position = signal
		entryPrice = r.Price
	}

	rep.FinalBalance = initialBalance + rep.RealizedPnL
	if rep.TotalTrades > 0 {
		rep.WinRate = float64(rep.Wins) / float64(rep.TotalTrades)
	}
	return rep
}
