package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/transactive/app"
	"github.com/kilianp07/transactive/config"
	"github.com/kilianp07/transactive/infra/mqtt"
)

var (
	simSpeed float64
	simStart string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run the node against an accelerated clock and an in-memory transport",
	RunE:  runSimulate,
}

func init() {
	simulateCmd.Flags().Float64Var(&simSpeed, "speed", 60, "simulated seconds per wall-clock second")
	simulateCmd.Flags().StringVar(&simStart, "start", "", "simulated start time (RFC3339), defaults to now")
	rootCmd.AddCommand(simulateCmd)
}

func runSimulate(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	start := simStart
	if start == "" {
		start = time.Now().UTC().Format(time.RFC3339)
	}
	cfg.Clock = config.ClockConfig{Mode: "simulated", Start: start, Acceleration: simSpeed}

	svc, err := app.NewWithTransport(cfg, mqtt.NewMockTransport())
	if err != nil {
		return err
	}
	defer func() { _ = svc.Close() }()
	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
