package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSourcesCmd() *cobra.Command {
	var all bool
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "List the configured sources",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(e.out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "SLUG\tNAME\tCATEGORY\tFEEDS\tBYPASS\tENABLED")
			for _, s := range e.cfg.Sources {
				if !all && !s.Enabled {
					continue
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%t\t%t\n",
					s.Slug, s.DisplayName(), s.Category, len(s.Feeds), s.BypassEnabled, s.Enabled)
			}
			if err := tw.Flush(); err != nil {
				return fmt.Errorf("write sources: %w", err)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&all, "all", false, "include disabled sources")
	return cmd
}
