package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/config"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/infra/logger"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/simulator"
)

var (
	unitID      string
	unitSpeed   float64
	ackDelayMS  int
	ackDropRate float64
)

var unitCmd = &cobra.Command{
	Use:   "unit",
	Short: "Run a simulated delivery unit against the configured broker",
	RunE:  runUnit,
}

func init() {
	unitCmd.Flags().StringVar(&unitID, "id", "", "unit identifier (required)")
	unitCmd.Flags().Float64Var(&unitSpeed, "speed", 8, "travel speed in m/s")
	unitCmd.Flags().IntVar(&ackDelayMS, "ack-delay-ms", 0, "delay before acknowledging commands")
	unitCmd.Flags().Float64Var(&ackDropRate, "ack-drop-rate", 0, "probability of dropping an ack")
	_ = unitCmd.MarkFlagRequired("id")
	rootCmd.AddCommand(unitCmd)
}

func runUnit(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Configure(cfg.Log)
	simCfg := simulator.Config{
		UnitID:            unitID,
		Base:              cfg.Dispatch.Base,
		SpeedMPS:          unitSpeed,
		ArrivalThresholdM: cfg.Dispatch.ArrivalThresholdM,
		AckDelayMS:        ackDelayMS,
		AckDropRate:       ackDropRate,
	}
	return simulator.RunMQTT(ctx, cfg.Mesh, simCfg)
}
