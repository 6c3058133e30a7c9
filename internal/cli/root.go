// Package cli holds the engine's cobra commands.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"forgescan/scan-engine/internal/config"
)

var Version = "0.1.0"

func NewRootCmd() *cobra.Command {
	v := config.New()

	root := &cobra.Command{
		Use:           "engine",
		Short:         "ForgeScan scan orchestration engine",
		Long:          "Runs external security scanners in a sandbox, queues scan jobs and normalizes their findings.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	pf := root.PersistentFlags()
	pf.String("config", "", "YAML config file")
	pf.String("log-level", "info", "Log level (debug, info, warn, error)")
	pf.String("log-format", "text", "Log format (text, json)")
	pf.String("broker-addr", "127.0.0.1:6379", `Redis address, or "memory" for the in-process broker`)
	pf.Bool("force-direct", false, "Run scans inline without a broker")
	pf.String("runtime", config.RuntimeProcess, "Sandbox runtime (process, docker)")
	pf.String("tools-path", "", "PATH used to find scanner binaries")
	pf.Int("max-executions", 0, "Concurrent tool executions")
	pf.String("tools-catalog", "", "YAML file with tool overrides")
	pf.String("tool-timeouts", "", "Per-tool timeouts, e.g. nmap=5m,nuclei=20m")
	bindFlags(v, pf, map[string]string{
		"config":         "config",
		"log-level":      "log.level",
		"log-format":     "log.format",
		"broker-addr":    "broker.addr",
		"force-direct":   "queue.force_direct",
		"runtime":        "sandbox.runtime",
		"tools-path":     "sandbox.tools_path",
		"max-executions": "sandbox.max_concurrent_executions",
		"tools-catalog":  "tools.catalog",
		"tool-timeouts":  "tools.timeouts",
	})

	root.AddCommand(newServeCmd(v))
	root.AddCommand(newScanCmd(v))
	root.AddCommand(newToolsCmd(v))
	root.AddCommand(newVersionCmd())
	return root
}

// bindFlags binds flags to config keys. Unchanged flags do not shadow
// environment or file values.
func bindFlags(v *viper.Viper, fs *pflag.FlagSet, keys map[string]string) {
	for flag, key := range keys {
		_ = v.BindPFlag(key, fs.Lookup(flag))
	}
}

func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the engine version",
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), Version)
		},
	}
}
