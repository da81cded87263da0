package internal

import "io"

// Option is a functional option for configuring the application.
type Option func(*application)

type application struct {
	config    *Config
	logOutput io.Writer
	workDir   string
}

// WithConfig sets the application configuration.
func WithConfig(cfg *Config) Option {
	return func(a *application) {
		a.config = cfg
	}
}

// WithLogOutput redirects the JSON log stream. Stdio transports use it to
// keep stdout free for protocol frames.
func WithLogOutput(w io.Writer) Option {
	return func(a *application) {
		a.logOutput = w
	}
}

// WithWorkDir sets the directory whose enclosing git repository is synced
// alongside the configured project repositories.
func WithWorkDir(dir string) Option {
	return func(a *application) {
		a.workDir = dir
	}
}
