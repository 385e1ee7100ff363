// Command readbench measures how dataset resolution strategies affect the
// latency of a fixed three-stage aggregation.
package main

import (
	"fmt"
	"os"

	"github.com/basekick-labs/readbench/internal/config"
	"github.com/basekick-labs/readbench/internal/logger"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Version is set at build time
var Version = "dev"

// app carries what every subcommand shares once the root has loaded config.
type app struct {
	cfgFile  string
	logLevel string
	cfg      *config.Config
}

func newRootCmd() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:           "readbench",
		Short:         "Benchmark eager and deferred dataset resolution",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(a.cfgFile)
			if err != nil {
				return err
			}
			if a.logLevel != "" {
				cfg.Log.Level = a.logLevel
			}
			logger.Setup(cfg.Log.Level, cfg.Log.Format)
			a.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVarP(&a.cfgFile, "config", "c", "", "config file (default: ./readbench.toml)")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "override log.level (debug, info, warn, error)")

	root.AddCommand(newRunCmd(a))
	root.AddCommand(newGenerateCmd(a))
	root.AddCommand(newCompareCmd(a))
	root.AddCommand(newScheduleCmd(a))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log.Error().Err(err).Msg("readbench failed")
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
