// Package cmd defines the CLI: the root command runs the dispatch server,
// the unit subcommand runs a simulated delivery unit.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/app"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/config"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/infra/logger"
)

var cfgPath string

var rootCmd = &cobra.Command{
	Use:   "delivery-navigator",
	Short: "Mesh delivery dispatch service",
	Long: "Runs the dispatch side of the delivery mesh: tracks units, hands out\n" +
		"deliveries over the radio gateway and retries every command until the\n" +
		"unit acknowledges it.",
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "configuration file")
}

// Execute runs the CLI.
func Execute() error { return rootCmd.Execute() }

func run(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger.Configure(cfg.Log)
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := svc.Close(); err != nil {
			logger.New("main").Errorf("service close: %v", err)
		}
	}()
	return svc.Run(ctx)
}
