package common

import (
	"fmt"
	"os"
	"strings"

	"paypipe/internal/buildinfo"
	"paypipe/internal/config"
	"paypipe/internal/logging"
)

// ConfigPathEnv names the environment variable holding an optional config file
const ConfigPathEnv = "PAYPIPE_CONFIG"

type Context struct {
	Environment string
	BinaryName  string
	ConfigPath  string
	Config      *config.Config
}

// NewContext loads configuration and applies the logging settings. The
// environment comes from the config, falling back to the build environment.
func NewContext(binaryName, configPath string) (*Context, error) {
	if err := buildinfo.ValidateConstants(); err != nil {
		return nil, fmt.Errorf("invalid build constants: %w", err)
	}

	// logs go to stderr so command output stays pipeable
	logging.SetOutput(os.Stderr)

	cfg, err := config.NewConfigLoader().Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	logging.SetLevel(level)
	if cfg.Log.Format != "" {
		logging.SetFormat(logging.Format(cfg.Log.Format))
	}

	env := cfg.Environment
	if env == "" {
		env = buildinfo.BuildEnvironment
	}

	return &Context{
		Environment: env,
		BinaryName:  binaryName,
		ConfigPath:  configPath,
		Config:      cfg,
	}, nil
}

func (c *Context) GetPrefix() string {
	return "[" + strings.ToUpper(c.Environment) + "] "
}

func (c *Context) IsProduction() bool {
	return c.Environment == "production"
}
