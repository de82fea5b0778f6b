// Command auraaudit runs the audit API and its operator tooling.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"auraaudit/shared/config"
	"auraaudit/shared/logging"
)

var version = "0.1.0"

type rootFlags struct {
	configPath string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	f := &rootFlags{}
	root := &cobra.Command{
		Use:           "auraaudit",
		Short:         "Identity health scoring and live audit feed service",
		Version:       version,
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	root.PersistentFlags().StringVar(&f.configPath, "config", "", "Path to a YAML, JSON or TOML config file")
	root.PersistentFlags().StringVar(&f.logLevel, "log-level", "", "Override log.level")

	root.AddCommand(
		newServeCmd(f),
		newMigrateCmd(f),
		newScoreCmd(),
		newWatchCmd(f),
		newTokenCmd(f),
	)
	return root
}

// load reads configuration and installs the process logger.
func (f *rootFlags) load() (config.Config, error) {
	cfg, err := config.Load(f.configPath)
	if err != nil {
		return config.Config{}, err
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if _, err := logging.Init(logging.Options{Level: cfg.Log.Level, Format: cfg.Log.Format}); err != nil {
		return config.Config{}, err
	}
	return cfg, nil
}

type exitErr struct {
	code int
	msg  string
}

func (e *exitErr) Error() string { return e.msg }

func exitError(code int, format string, args ...any) error {
	return &exitErr{code: code, msg: fmt.Sprintf(format, args...)}
}

func main() {
	err := newRootCmd().Execute()
	_ = logging.L().Sync()
	if err != nil {
		var ee *exitErr
		if errors.As(err, &ee) {
			fmt.Fprintln(os.Stderr, ee.msg)
			os.Exit(ee.code)
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
