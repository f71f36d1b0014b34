package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/squadron/backend/internal/infrastructure/config"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:           "squadron-term",
	Short:         "Terminal session server for the Squadron grid",
	Long:          `Runs shell and AI CLI sessions in pseudo-terminals and streams them to the terminal grid over HTTP and WebSocket.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.AddCommand(serveCmd, providersCmd, preflightCmd)
}

// loadConfig reads the environment; flags applied by each command win
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
