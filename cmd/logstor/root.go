package main

import (
	"fmt"
	"os"
	"path/filepath"

	homedir "github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vorteil/logstor/pkg/elog"
	"github.com/vorteil/logstor/pkg/logstor"
)

// This CLI is a harness for exercising the core, not a control plane: it
// opens one backing file, runs a single verb, and closes. No daemon, no
// concurrent client dispatch -- per spec.md's explicit Non-goals.

var (
	flagVerbose bool
	flagDebug   bool
	flagConfig  string

	log elog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "logstor",
	Short: "Exercise a log-structured block storage device",
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVarP(&flagDebug, "debug", "d", false, "enable debug output")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "config file (default $HOME/.logstor.yaml)")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		logger := elog.NewCLI(flagDebug, flagVerbose || flagDebug)
		logrus.SetFormatter(logger)
		logrus.SetLevel(logrus.TraceLevel)
		log = logger
		return loadConfigFile()
	}

	rootCmd.AddCommand(createCmd)
	rootCmd.AddCommand(statCmd)
	rootCmd.AddCommand(shellCmd)
}

// loadConfigFile reads $HOME/.logstor.yaml (or --config) for Config
// overrides, following the same viper + go-homedir shape the reference CLI
// uses for its own per-user config. Absence (or any read error) of the
// default $HOME file is not an error -- engineConfig() falls back to
// logstor.DefaultConfig(); a file named with --config that cannot be read is.
func loadConfigFile() error {
	if flagConfig != "" {
		viper.SetConfigFile(flagConfig)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			return err
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".logstor")
		viper.SetConfigType("yaml")
	}
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok && flagConfig == "" {
			return nil
		}
		if flagConfig != "" {
			return fmt.Errorf("reading config file %s: %w", flagConfig, err)
		}
	}
	return nil
}

func engineConfig() logstor.Config {
	cfg := logstor.DefaultConfig()
	if viper.IsSet("fbuf_ratio") {
		cfg.FbufRatio = viper.GetFloat64("fbuf_ratio")
	}
	if viper.IsSet("clean_window") {
		cfg.CleanWindow = viper.GetInt("clean_window")
	}
	if viper.IsSet("clean_age_limit") {
		cfg.CleanAgeLimit = viper.GetInt("clean_age_limit")
	}
	return cfg
}

func openDevice(path string, create bool, mediaSectors uint32) (*logstor.Device, *logstor.FileBlockIO, error) {
	io, err := logstor.NewFileBlockIO(path, create, mediaSectors)
	if err != nil {
		return nil, nil, err
	}
	dev, err := logstor.Open(io, engineConfig(), log)
	if err != nil {
		io.Close()
		return nil, nil, err
	}
	return dev, io, nil
}

func exitErr(err error) {
	log.Errorf("%v", err)
	os.Exit(1)
}

func defaultDevicePath(arg string) string {
	if arg != "" {
		return arg
	}
	return filepath.Join(".", "logstor.img")
}
