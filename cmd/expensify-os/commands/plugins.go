package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"expensifyos/internal/plugins"
	"expensifyos/internal/plugins/builtin"
)

func pluginsCmd(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "plugins",
		Short: "List available plugins",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			r := plugins.NewRegistry()
			if err := builtin.Discover(r); err != nil {
				return err
			}
			// A missing or broken config only hides the status column.
			cfg, err := o.load(cmd.Context(), true)
			if err != nil {
				o.log.Debug("config not loaded", "err", err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "Available plugins:")
			for _, name := range r.Names() {
				status := ""
				if cfg != nil {
					switch p, ok := cfg.Plugins[name]; {
					case !ok:
						status = "not configured"
					case p.Enabled:
						status = "enabled"
					default:
						status = "disabled"
					}
				}
				fmt.Fprintf(out, "  %-15s %s\n", name, status)
			}
			return nil
		},
	}
}
