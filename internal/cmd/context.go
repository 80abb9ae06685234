package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/parley-org/parley/internal/client"
	"github.com/parley-org/parley/internal/config"
	"github.com/parley-org/parley/internal/logger"
)

// Context carries the loaded configuration and the logger-bearing
// context for one command invocation.
type Context struct {
	context.Context

	Command *cobra.Command
	Config  *config.Config
}

// NewContext loads the configuration, builds the logger context and
// surfaces any config warnings.
func NewContext(cmd *cobra.Command) (*Context, error) {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	var loaderOpts []config.ConfigLoaderOption
	if cfgFile != "" {
		loaderOpts = append(loaderOpts, config.WithConfigFile(cfgFile))
	}
	cfg, err := config.Load(loaderOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	var logOpts []logger.Option
	if cfg.Logging.Level == "debug" || os.Getenv("DEBUG") != "" {
		logOpts = append(logOpts, logger.WithDebug())
	}
	if cfg.Logging.Quiet {
		logOpts = append(logOpts, logger.WithQuiet())
	}
	if cfg.Logging.Format != "" {
		logOpts = append(logOpts, logger.WithFormat(cfg.Logging.Format))
	}
	if cfg.Logging.File != "" {
		f, err := openLogFile(cfg.Logging.File)
		if err != nil {
			return nil, err
		}
		logOpts = append(logOpts, logger.WithWriter(f))
	}
	ctx = logger.WithLogger(ctx, logger.NewLogger(logOpts...))

	for _, warning := range cfg.Warnings {
		logger.Warn(ctx, "Config warning", "warning", warning)
	}

	return &Context{Context: ctx, Command: cmd, Config: cfg}, nil
}

// Client returns an API client for the configured server address.
func (c *Context) Client() *client.Client {
	return client.New(c.Config.Server)
}

func openLogFile(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0640) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, nil
}
