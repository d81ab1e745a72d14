package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go-attendance-agent/config"
	"go-attendance-agent/logging"

	"github.com/spf13/cobra"
)

var (
	configPath string
	cfg        config.Config
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:     "attendance-agent",
	Short:   "Biometric attendance capture agent",
	Version: Version, // This enables the --version flag
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.ReadConfigFile(configPath)
		if err != nil {
			return fmt.Errorf("failed to read config file %s: %w", configPath, err)
		}
		logging.InitLogger(cfg.LogLevel, cfg.LogFormat)
		return nil
	},
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "Path to the JSON config file")
}
