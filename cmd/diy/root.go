package main

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/diatomic/diy/internal/cmn"
)

var (
	cfgFile     string
	nranks      int
	nblocks     int
	metricsAddr string
)

var rootCmd = &cobra.Command{
	Use:   "diy",
	Short: "example drivers for the distributed block-parallel runtime",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (overrides defaults and DIY_* env vars)")
	rootCmd.PersistentFlags().IntVar(&nranks, "ranks", 2, "number of simulated ranks (processes)")
	rootCmd.PersistentFlags().IntVar(&nblocks, "blocks", 8, "total number of blocks")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics (master.Metrics) on this address until the run finishes")

	rootCmd.AddCommand(simpleCmd)
	rootCmd.AddCommand(iexchangeCmd)
	rootCmd.AddCommand(sortCmd)
	rootCmd.AddCommand(kdtreeCmd)
}

// loadConfig binds the --config flag through viper the way cmd/diy's
// subcommands share one Config (spec's ambient configuration layer).
func loadConfig() (*cmn.Config, error) {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	}
	return cmn.LoadConfig(cfgFile)
}
