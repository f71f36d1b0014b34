package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/squadron/backend/internal/domain/terminal"
)

var preflightCmd = &cobra.Command{
	Use:   "preflight <provider>",
	Short: "Check a provider CLI and install it if missing",
	Long: `Probe PATH for a provider's CLI and run its install command when it is
missing, exactly as the server does before spawning a session.

Examples:
  squadron-term preflight anthropic
  squadron-term preflight opencode`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		registry, err := terminal.LoadRegistry(cfg.Providers.File)
		if err != nil {
			return err
		}
		provider, ok := registry.Get(args[0])
		if !ok {
			return fmt.Errorf("unknown provider %q", args[0])
		}

		out := cmd.OutOrStdout()
		pf := terminal.NewPreflight(zap.NewNop(), cfg.Terminal.InstallTimeout)
		res := pf.Run(cmd.Context(), provider, func(line string) {
			fmt.Fprintln(out, line)
		})

		switch {
		case res.Skipped:
			fmt.Fprintf(out, "%s: nothing to check\n", provider.Name)
		case res.Ready && res.InstallAttempted:
			fmt.Fprintf(out, "%s: installed (%s)\n", provider.Name, res.Path)
		case res.Ready:
			fmt.Fprintf(out, "%s: ready (%s)\n", provider.Name, res.Path)
		default:
			if res.InstallOutput != "" {
				fmt.Fprintln(out, res.InstallOutput)
			}
			if res.InstallCommand != "" {
				return fmt.Errorf("%s is not installed; install manually: %s", provider.Name, res.InstallCommand)
			}
			return fmt.Errorf("%s is not installed: %w", provider.Name, terminal.ErrNotReady)
		}
		return nil
	},
}
