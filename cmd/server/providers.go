package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/GriffinCanCode/squadron/backend/internal/domain/terminal"
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "List terminal providers and their models",
	Long: `List the provider table: built-in providers plus PROVIDERS_FILE overrides.

Examples:
  squadron-term providers
  PROVIDERS_FILE=./providers.yaml squadron-term providers`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		registry, err := terminal.LoadRegistry(cfg.Providers.File)
		if err != nil {
			return err
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tEXECUTABLE\tENV KEY\tMODELS")
		for _, p := range registry.List() {
			models := make([]string, 0, len(p.Models))
			for _, m := range p.Models {
				models = append(models, m.ID)
			}
			envKey := p.EnvKey
			if envKey == "" {
				envKey = "-"
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", p.ID, p.Name, p.Executable, envKey, strings.Join(models, ","))
		}
		return w.Flush()
	},
}
