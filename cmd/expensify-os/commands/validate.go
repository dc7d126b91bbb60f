package commands

import (
	"fmt"
	"slices"

	"github.com/spf13/cobra"

	"expensifyos/internal/app"
)

func validateCmd(o *options) *cobra.Command {
	var offline bool
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate configuration and credentials",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Validating configuration...")
			cfg, err := o.load(cmd.Context(), offline)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "  Config: FAILED, %v\n", err)
				return errFailed
			}
			fmt.Fprintf(out, "  Config: OK (%s)\n", cfg.Path)
			fmt.Fprintf(out, "  Expensify email: %s\n", cfg.Expensify.EmployeeEmail)
			fmt.Fprintf(out, "  Default currency: %s\n", cfg.Expensify.DefaultCurrency)
			if offline {
				fmt.Fprintln(out, "\nOffline, credential checks skipped.")
				return nil
			}

			w, err := app.NewWire(cfg, o.wireOpts)
			if err != nil {
				return err
			}
			defer w.Close()

			fmt.Fprintln(out, "\nValidating plugin credentials...")
			names := make([]string, 0, len(cfg.Plugins))
			for name, p := range cfg.Plugins {
				if !p.Enabled {
					names = append(names, string(name))
				}
			}
			slices.Sort(names)
			for _, name := range names {
				fmt.Fprintf(out, "  %s: disabled\n", name)
			}
			allOK := true
			for _, c := range w.Orchestrator.Validate(cmd.Context()) {
				switch {
				case c.OK:
					fmt.Fprintf(out, "  %s: OK\n", c.Source)
				default:
					allOK = false
					fmt.Fprintf(out, "  %s: INVALID (%v)\n", c.Source, c.Err)
				}
			}
			if !allOK {
				fmt.Fprintln(cmd.ErrOrStderr(), "\nSome validations failed.")
				return errFailed
			}
			fmt.Fprintln(out, "\nAll validations passed.")
			return nil
		},
	}
	cmd.Flags().BoolVar(&offline, "offline", false, "skip 1Password resolution and credential probes")
	return cmd
}
