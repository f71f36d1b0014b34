package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/squadron/backend/internal/infrastructure/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the terminal server",
	Long: `Start the HTTP and WebSocket server.

Configuration comes from the environment (PORT, HOST, LOG_LEVEL,
TERMINAL_*, CREDENTIALS_*, PROVIDERS_FILE). Flags override it.

Examples:
  squadron-term serve
  squadron-term serve --port 9000 --dev
  TERMINAL_ALLOWED_DIRS='/home/me/src/**' squadron-term serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("port", "", "server port (env PORT)")
	serveCmd.Flags().String("host", "", "bind address (env HOST)")
	serveCmd.Flags().Bool("dev", false, "development logging (env LOG_DEV)")
	serveCmd.Flags().String("shell", "", "default shell (env TERMINAL_DEFAULT_SHELL)")
	serveCmd.Flags().String("cwd", "", "default working directory (env TERMINAL_DEFAULT_CWD)")
	serveCmd.Flags().String("providers", "", "provider override file (env PROVIDERS_FILE)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("port") {
		cfg.Server.Port, _ = flags.GetString("port")
	}
	if flags.Changed("host") {
		cfg.Server.Host, _ = flags.GetString("host")
	}
	if flags.Changed("dev") {
		cfg.Logging.Development, _ = flags.GetBool("dev")
		if cfg.Logging.Development {
			cfg.Logging.Level = "debug"
		}
	}
	if flags.Changed("shell") {
		cfg.Terminal.DefaultShell, _ = flags.GetString("shell")
	}
	if flags.Changed("cwd") {
		cfg.Terminal.DefaultCwd, _ = flags.GetString("cwd")
	}
	if flags.Changed("providers") {
		cfg.Providers.File, _ = flags.GetString("providers")
	}

	srv, err := server.NewServer(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return srv.Run(ctx)
}

