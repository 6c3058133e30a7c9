package cli

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"forgescan/scan-engine/internal/config"
)

func newToolsCmd(v *viper.Viper) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Probe scanner tools and print their availability",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			logger := cfg.Log.NewLogger(cmd.ErrOrStderr())

			reg, err := newRegistry(cfg)
			if err != nil {
				return err
			}
			_, closeRunner, err := newRunner(cmd.Context(), cfg, reg, logger)
			if err != nil {
				return err
			}
			if closeRunner != nil {
				defer closeRunner()
			}

			entries := reg.Entries()
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(entries)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TOOL\tCATEGORY\tAVAILABLE\tVERSION\tTIMEOUT")
			for _, e := range entries {
				fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n", e.Name, e.Category, e.Status.Available, e.Status.Version, e.Timeout)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON instead of a table")
	return cmd
}
