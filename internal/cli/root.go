// Package cli implements the encore command line.
package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/tessro/encore/internal/config"
	encerrors "github.com/tessro/encore/internal/errors"
	"github.com/tessro/encore/internal/logging"
)

// Commands annotated as configOptional run on defaults when the config
// file is missing or invalid.
const (
	annotationConfig = "config"
	configOptional   = "optional"
)

var (
	cfgFile string
	jsonOut bool
	verbose bool

	cfg       *config.Config
	logger    *logrus.Logger
	logCloser io.Closer
)

var rootCmd = &cobra.Command{
	Use:   "encore",
	Short: "Keep playback in sync with your media server",
	Long: `Encore is a terminal client for a self-hosted media server. It follows
the server's playback state, plays audio locally and keeps working offline.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := initConfig(); err != nil {
			if cmd.Annotations[annotationConfig] != configOptional {
				return err
			}
			cfg = config.Default()
		}
		return initLogging(os.Stderr)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			_ = logCloser.Close()
		}
	},
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default: ~/.encorerc)")
	rootCmd.PersistentFlags().BoolVarP(&jsonOut, "json", "j", false, "output as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func initConfig() error {
	var err error
	if cfgFile != "" {
		if _, statErr := os.Stat(cfgFile); statErr != nil {
			return fmt.Errorf("%w: %s", encerrors.ErrConfigNotFound, cfgFile)
		}
		cfg, err = config.LoadFrom(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("%w: %w", encerrors.ErrInvalidConfig, err)
	}

	return nil
}

func initLogging(out io.Writer) error {
	logCfg := cfg.Log
	if verbose {
		logCfg.Level = "debug"
	}
	l, closer, err := logging.Setup(logCfg, out)
	if err != nil {
		return err
	}
	logger, logCloser = l, closer
	return nil
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, encerrors.Format(err))
		os.Exit(1)
	}
}

// Config returns the loaded configuration.
func Config() *config.Config {
	return cfg
}

// JSONOutput returns true if JSON output is requested.
func JSONOutput() bool {
	return jsonOut
}

// Verbose returns true if verbose output is requested.
func Verbose() bool {
	return verbose
}
