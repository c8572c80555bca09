// Command bridge is the CLI entrypoint of SPEC_FULL.md §4.12: a Kingsmith
// treadmill ↔ Fitness Machine Service bridge, grounded on
// adnanabbasy-ComX-Bridge's cmd/comx command shape.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"tinygo.org/x/bluetooth"

	"github.com/kingsmith/ftms-bridge/internal/bleadapter"
	"github.com/kingsmith/ftms-bridge/internal/bridge"
	"github.com/kingsmith/ftms-bridge/internal/config"
	"github.com/kingsmith/ftms-bridge/internal/facade"
	"github.com/kingsmith/ftms-bridge/internal/httpapi"
	"github.com/kingsmith/ftms-bridge/internal/logging"
	"github.com/kingsmith/ftms-bridge/internal/metrics"
	"github.com/kingsmith/ftms-bridge/internal/telemetry"
	"github.com/prometheus/client_golang/prometheus"
)

var cfgFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "bridge",
		Short: "Bridges a Kingsmith treadmill to a Fitness Machine Service peripheral",
	}
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "path to config.yaml")
	rootCmd.AddCommand(newRunCmd(), newScanCmd(), newStatusCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig() config.Config {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v, falling back to defaults\n", err)
		return config.Default()
	}
	return cfg
}

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Load config, start the bridge supervisor, and block until signalled",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBridge()
		},
	}
}

func runBridge() error {
	cfg := loadConfig()
	logger := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat}, "bridge")

	reg := prometheus.NewRegistry()
	metricsRegistry := metrics.New(reg)

	adapter := bleadapter.New(bluetooth.DefaultAdapter)
	if err := adapter.Enable(); err != nil {
		return fmt.Errorf("enable adapter: %w", err)
	}

	cell := &telemetry.Cell{}
	supervisor := bridge.New(adapter, cell, bridge.Config{
		ScanInterval:    time.Duration(cfg.ScanIntervalS * float64(time.Second)),
		StatsInterval:   time.Duration(cfg.StatsIntervalMS) * time.Millisecond,
		AutoMode:        cfg.AutoMode,
		AutoStartBridge: cfg.AutoStartBridge,
		FTMSDeviceName:  cfg.FTMSDeviceName,
		Logger:          logger,
		Metrics:         metricsRegistry,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := bridge.RunGroup(ctx, supervisor)

	f := facade.New(supervisor, cell)
	httpSrv := httpapi.New(f, cfg.HTTPAddr, logger, reg)
	if err := httpSrv.Start(); err != nil {
		return fmt.Errorf("start http control surface: %w", err)
	}

	logger.Info("bridge running", "http_addr", cfg.HTTPAddr, "auto_mode", cfg.AutoMode)
	<-groupCtx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpSrv.Stop(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", "err", err)
	}

	return group.Wait()
}

func newScanCmd() *cobra.Command {
	var durationSecs float64
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a one-shot treadmill discovery scan and print candidates",
		RunE: func(cmd *cobra.Command, args []string) error {
			adapter := bleadapter.New(bluetooth.DefaultAdapter)
			if err := adapter.Enable(); err != nil {
				return fmt.Errorf("enable adapter: %w", err)
			}

			ctx, cancel := context.WithTimeout(context.Background(), time.Duration(durationSecs*float64(time.Second))+time.Second)
			defer cancel()

			found, err := adapter.Scan(ctx, time.Duration(durationSecs*float64(time.Second)))
			if err != nil {
				return fmt.Errorf("scan: %w", err)
			}
			if len(found) == 0 {
				fmt.Println("no treadmill candidates found")
				return nil
			}
			for _, d := range found {
				fmt.Printf("%s  %-24s  rssi=%d\n", d.Address, d.AdvertisedName, d.RSSI)
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&durationSecs, "duration", 5.0, "scan duration in seconds")
	return cmd
}

func newStatusCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Query a running bridge's HTTP control surface and print its snapshot",
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := http.Get(fmt.Sprintf("http://%s/v1/status", addr))
			if err != nil {
				return fmt.Errorf("query status: %w", err)
			}
			defer resp.Body.Close()

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("read status response: %w", err)
			}

			var pretty map[string]any
			if err := json.Unmarshal(body, &pretty); err != nil {
				fmt.Println(string(body))
				return nil
			}
			out, _ := json.MarshalIndent(pretty, "", "  ")
			fmt.Println(string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8090", "bridge HTTP control surface address")
	return cmd
}
