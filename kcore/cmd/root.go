// Package cmd provides the command-line interface of kcore.
package cmd

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/kcore/config"
)

var (
	envFiles []string
	logLevel string
	cfg      config.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "kcore",
	Short: "kcore runs a simulated teaching kernel.",
	Long: `kcore boots a simulated machine with frame pools, paging, VM ` +
		`pools, a cooperative scheduler, and a blocking disk, and runs ` +
		`workloads on it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		var err error

		cfg, err = config.Load(envFiles...)
		if err != nil {
			return err
		}

		if cmd.Flags().Changed("log-level") {
			cfg.LogLevel = logLevel
			if err := cfg.Validate(); err != nil {
				return err
			}
		}

		setupLogger(cfg.Level())

		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringSliceVar(&envFiles, "env", nil,
		".env files to read the configuration from")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level: debug, info, warn, or error")
}

func setupLogger(level slog.Level) {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})

	slog.SetDefault(slog.New(handler).With("component", "kcore"))
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Registered exit handlers, such as recorder flushes, run
// before the process exits.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
