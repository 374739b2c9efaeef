package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/quantgate/sentinel/internal/api"
	"github.com/quantgate/sentinel/internal/autopsy"
	"github.com/quantgate/sentinel/internal/config"
	"github.com/quantgate/sentinel/internal/gateway"
	"github.com/quantgate/sentinel/internal/guardian"
	"github.com/quantgate/sentinel/internal/heartbeat"
	"github.com/quantgate/sentinel/internal/launch"
	"github.com/quantgate/sentinel/internal/notify"
	"github.com/quantgate/sentinel/internal/observ"
	"github.com/quantgate/sentinel/internal/risk"
)

func execute(ctx context.Context) error {
	var configPath string

	root := &cobra.Command{
		Use:           "sentinel",
		Short:         "safety kernel between strategy and execution gateway",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "config/sentinel.yaml", "config file path")

	root.AddCommand(runCmd(ctx, &configPath))
	root.AddCommand(autopsyCmd(&configPath))
	root.AddCommand(launchCmd(ctx, &configPath))
	root.AddCommand(disengageCmd(ctx))

	return root.Execute()
}

// loadConfig never fails hard: an invalid file falls back to safe defaults
// with the failure already logged loudly by the loader.
func loadConfig(path string) config.Root {
	cfg, err := config.Load(path)
	if err != nil {
		observ.Warn("running_on_safe_defaults", map[string]any{"config": path})
	}
	observ.SetLevel(cfg.LogLevel)
	return cfg
}

func runCmd(ctx context.Context, configPath *string) *cobra.Command {
	var startingBalance float64

	cmd := &cobra.Command{
		Use:   "run",
		Short: "live mode: heartbeat, risk monitoring, status server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(*configPath)
			return runLive(ctx, cfg, startingBalance)
		},
	}
	cmd.Flags().Float64Var(&startingBalance, "balance", 100000, "starting account balance")
	return cmd
}

func runLive(ctx context.Context, cfg config.Root, startingBalance float64) error {
	trigger, err := risk.NewTriggerLog(cfg.TriggerLogPath)
	if err != nil {
		return fmt.Errorf("open trigger log: %w", err)
	}
	breaker := risk.NewCircuitBreaker(trigger)
	monitor := risk.NewMonitor(cfg.Risk, cfg.Alerts, breaker, trigger, startingBalance)
	guard := guardian.New(breaker, cfg.Guardian)

	client := gateway.NewClient(cfg.Gateway.URL, cfg.GatewayTimeout())
	defer client.Close()

	heart := heartbeat.NewMonitor(client, breaker, cfg.Heartbeat)
	heart.Start(ctx)
	defer heart.Stop()

	var alerter *notify.Slack
	if notify.Enabled(cfg.Notify) {
		alerter = notify.NewSlack(cfg.Notify)
		defer alerter.Close()
	}

	server := api.NewServer(cfg.StatusAddr, breaker, guard, heart, monitor)
	server.Start()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	observ.Log("live_mode_started", map[string]any{
		"gateway":     cfg.Gateway.URL,
		"status_addr": cfg.StatusAddr,
	})

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	lastBalance := startingBalance
	for {
		select {
		case <-ctx.Done():
			observ.Log("live_mode_stopped", map[string]any{"reason": "signal"})
			return nil
		case <-ticker.C:
			start := time.Now()
			resp, err := client.AccountInfo(ctx)
			guard.RecordLatency(float64(time.Since(start)) / float64(time.Millisecond))
			if err != nil {
				// Transport failures degrade to "no tick"; the heartbeat
				// monitor owns escalation of a dead link.
				continue
			}
			if resp.Status != gateway.StatusSuccess {
				guard.RecordCriticalError()
				continue
			}

			tick := tickFromAccountInfo(resp.Data, lastBalance)
			lastBalance += tick.BalanceDelta
			monitor.MonitorTick(tick)

			if halt, reason := guard.ShouldHalt(); halt {
				snap := guard.Snapshot()
				observ.Error("trading_halted", map[string]any{
					"halt_reason": reason,
					"metrics":     snap,
				})
				if alerter != nil {
					alerter.Notify(notify.Event{
						Severity: notify.SeverityCritical,
						Title:    "trading halted",
						Fields: map[string]string{
							"reason":  reason,
							"breaker": fmt.Sprintf("engaged=%v", !breaker.IsSafe()),
							"p99_ms":  fmt.Sprintf("%.1f", snap.P99LatencyMs),
						},
					})
				}
				if cfg.Risk.KillSwitchMode == "engage_and_flatten" {
					if _, err := client.KillSwitch(ctx, reason); err != nil {
						observ.Error("kill_switch_send_failed", map[string]any{"error": err.Error()})
					}
				}
				// Keep the status server up so operators can read the
				// halt reason; only the trading loop stops.
				<-ctx.Done()
				return nil
			}
		}
	}
}

func tickFromAccountInfo(data map[string]any, lastBalance float64) risk.Tick {
	t := risk.Tick{Timestamp: time.Now().UTC()}
	balance := num(data, "balance")
	if balance != 0 {
		t.BalanceDelta = balance - lastBalance
	}
	t.OpenPnL = num(data, "open_pnl")
	t.TotalExposure = num(data, "total_exposure")
	t.PositionCount = int(num(data, "position_count"))
	return t
}

func num(data map[string]any, key string) float64 {
	if data == nil {
		return 0
	}
	if v, ok := data[key].(float64); ok {
		return v
	}
	return 0
}

func autopsyCmd(configPath *string) *cobra.Command {
	var (
		logPath  string
		outDir   string
		balance  float64
		slippage float64
		window   int
	)

	cmd := &cobra.Command{
		Use:   "autopsy",
		Short: "analyze a shadow decision log and write the admission artifact",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(*configPath)
			if outDir == "" {
				outDir = cfg.Launch.ArtifactDir
			}

			res, err := autopsy.Run(logPath, balance, slippage, window)
			if err != nil {
				return err
			}
			if err := autopsy.WriteArtifact(outDir, res); err != nil {
				return err
			}

			fmt.Printf("verdict: %s (confidence %.2f)\n", res.Artifact.Decision, res.Artifact.ApprovalConfidence)
			for _, r := range res.Decision.RejectionReasons {
				fmt.Printf("  - %s\n", r)
			}
			fmt.Printf("artifact written to %s\n", outDir)
			return nil
		},
	}
	cmd.Flags().StringVar(&logPath, "log", "data/shadow.jsonl", "shadow decision log (JSONL)")
	cmd.Flags().StringVar(&outDir, "out", "", "artifact output dir (default: launch.artifact_dir)")
	cmd.Flags().Float64Var(&balance, "balance", 100000, "simulated starting balance")
	cmd.Flags().Float64Var(&slippage, "slippage", 0.0001, "slippage cost per trade, price units")
	cmd.Flags().IntVar(&window, "window", 50, "drift audit window size, records")
	return cmd
}

func launchCmd(ctx context.Context, configPath *string) *cobra.Command {
	var artifactDir string

	cmd := &cobra.Command{
		Use:   "launch",
		Short: "verify the admission artifact and place the canary order",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig(*configPath)
			if artifactDir == "" {
				artifactDir = cfg.Launch.ArtifactDir
			}

			trigger, err := risk.NewTriggerLog(cfg.TriggerLogPath)
			if err != nil {
				return fmt.Errorf("open trigger log: %w", err)
			}
			breaker := risk.NewCircuitBreaker(trigger)
			guard := guardian.New(breaker, cfg.Guardian)
			client := gateway.NewClient(cfg.Gateway.URL, cfg.GatewayTimeout())
			defer client.Close()

			launcher := launch.New(cfg.Launch, breaker, guard, client)
			if err := launcher.Authenticate(artifactDir); err != nil {
				return fmt.Errorf("authentication: %w", err)
			}
			ticket, err := launcher.Launch(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("canary order placed, ticket %s\n", ticket)
			return nil
		},
	}
	cmd.Flags().StringVar(&artifactDir, "artifact", "", "admission artifact dir (default: launch.artifact_dir)")
	return cmd
}

func disengageCmd(ctx context.Context) *cobra.Command {
	var (
		addr     string
		operator string
		reason   string
	)

	cmd := &cobra.Command{
		Use:   "disengage",
		Short: "operator reset of a running kernel's circuit breaker",
		RunE: func(cmd *cobra.Command, args []string) error {
			if reason == "" {
				return fmt.Errorf("--reason is required")
			}
			if operator == "" {
				operator = os.Getenv("USER")
			}

			body, _ := json.Marshal(map[string]string{"operator": operator, "reason": reason})
			req, err := http.NewRequestWithContext(ctx, http.MethodPost,
				fmt.Sprintf("http://%s/breaker/disengage", addr), bytes.NewReader(body))
			if err != nil {
				return err
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				return fmt.Errorf("reach status server: %w", err)
			}
			defer resp.Body.Close()
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("disengage refused: %s", resp.Status)
			}
			fmt.Println("breaker disengaged")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8090", "status server address")
	cmd.Flags().StringVar(&operator, "operator", "", "operator id (defaults to $USER)")
	cmd.Flags().StringVar(&reason, "reason", "", "why the latch is being cleared")
	return cmd
}
