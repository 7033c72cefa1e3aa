package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/nn-dashboard/trainwatch/internal/config"
	"github.com/nn-dashboard/trainwatch/internal/exitcode"
)

type BuildInfo struct {
	Version string
	Commit  string
	Date    string
}

type IOStreams struct {
	In     io.Reader
	Out    io.Writer
	ErrOut io.Writer
}

// GlobalOptions are the persistent flags. Non-empty values override the
// config file.
type GlobalOptions struct {
	ConfigPath  string
	BaseURL     string
	Transport   string
	Token       string
	Verbose     bool
	MetricsAddr string
}

type AppContext struct {
	Build BuildInfo
	IO    IOStreams
	Opts  GlobalOptions
}

// Config loads the config file and applies flag overrides.
func (app *AppContext) Config() (*config.Config, error) {
	cfg, err := config.LoadOrDefault(app.Opts.ConfigPath)
	if err != nil {
		return nil, withExitCode(exitcode.InvalidConfig, err)
	}

	if app.Opts.BaseURL != "" {
		cfg.Monitor.BaseURL = app.Opts.BaseURL
	}
	if app.Opts.Transport != "" {
		cfg.Monitor.Transport = app.Opts.Transport
	}
	if app.Opts.Token != "" {
		cfg.Monitor.Token = app.Opts.Token
	}

	if err := cfg.Validate(); err != nil {
		if errors.Is(err, config.ErrInvalidConfig) {
			return nil, withExitCode(exitcode.InvalidConfig, err)
		}
		return nil, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}
