package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"forgescan/scan-engine/internal/config"
	"forgescan/scan-engine/internal/model"
	"forgescan/scan-engine/internal/orchestrator"
)

type scanOutput struct {
	Scan            model.Scan            `json:"scan"`
	Vulnerabilities []model.Vulnerability `json:"vulnerabilities"`
	Summary         model.Summary         `json:"summary"`
}

func newScanCmd(v *viper.Viper) *cobra.Command {
	var (
		target     string
		scanType   string
		mode       string
		timeout    time.Duration
		extraArgs  []string
		sequential bool
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run one scan inline and print the result as JSON",
		Example: `  engine scan --target example.com --type NMAP
  engine scan --target https://example.com --type MULTI --mode web --sequential`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			// One-shot scans never touch the broker.
			v.Set("queue.force_direct", true)
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			logger := cfg.Log.NewLogger(cmd.ErrOrStderr())

			ctx := cmd.Context()
			e, err := newEngine(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer e.close()
			e.orch.Start(ctx)

			opts := model.Options{Timeout: timeout, ExtraArgs: extraArgs}
			if sequential {
				opts.ExecMode = model.ExecSequential
			}
			created, err := e.orch.CreateScan(ctx, orchestrator.Request{
				Target:   target,
				ScanType: scanType,
				ScanMode: mode,
				Options:  opts,
			})
			if err != nil {
				return err
			}

			scan, vulns, err := e.orch.Scan(ctx, created.ScanID)
			if err != nil {
				return err
			}
			if vulns == nil {
				vulns = []model.Vulnerability{}
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			if err := enc.Encode(scanOutput{Scan: scan, Vulnerabilities: vulns, Summary: model.Summarize(vulns)}); err != nil {
				return err
			}
			if scan.Status != model.StateCompleted {
				return fmt.Errorf("scan %s ended %s: %s", scan.ID, scan.Status, scan.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&target, "target", "t", "", "URL, IPv4 address or hostname to scan")
	cmd.Flags().StringVar(&scanType, "type", string(model.ScanTypeMulti), "Scan type (NMAP, NUCLEI, ..., MULTI)")
	cmd.Flags().StringVarP(&mode, "mode", "m", "", "Scan mode for MULTI scans (full, network, web, vulnerability, quick)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Per-tool timeout override")
	cmd.Flags().StringSliceVar(&extraArgs, "arg", nil, "Extra tool argument for single-tool scans (repeatable)")
	cmd.Flags().BoolVar(&sequential, "sequential", false, "Run MULTI tools one at a time")
	_ = cmd.MarkFlagRequired("target")
	return cmd
}
