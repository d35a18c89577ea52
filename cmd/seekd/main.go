// seekd inspects and drives the durable recovery state of the
// job-search agent: typed key/value state, per-search progress records,
// and recovery checkpoints, all persisted in SQLite.
package main

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/nvoss/seekd/internal/breaker"
	"github.com/nvoss/seekd/internal/config"
	"github.com/nvoss/seekd/internal/logger"
	"github.com/nvoss/seekd/internal/state"
)

var version = "dev"

var (
	cfgFile string
	noColor bool
)

var rootCmd = &cobra.Command{
	Use:           "seekd",
	Short:         "seekd persists and recovers job-search agent state",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is seekd.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))

	rootCmd.AddCommand(stateCmd, checkpointCmd, searchCmd, runCmd, versionCmd)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName("seekd")
		viper.SetConfigType("yaml")
	}

	// The config file is optional; defaults and SEEKD_* env cover everything.
	_ = viper.ReadInConfig()
}

// setup loads config and builds the logger shared by all commands.
func setup() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return config.Config{}, nil, err
	}
	lg, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		return config.Config{}, nil, err
	}
	return cfg, lg, nil
}

func openStore(cfg config.Config, lg *zap.Logger) (*state.Store, error) {
	return state.Open(cfg.Storage.DataDir, lg)
}

func newBreaker(cfg config.Config, lg *zap.Logger) *breaker.Breaker {
	return breaker.New(cfg.Breaker.FailureThreshold, cfg.Breaker.RecoveryTimeout,
		breaker.WithLogger(lg))
}
