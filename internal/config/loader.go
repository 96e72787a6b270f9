package config

import (
	"bytes"
	"embed"
	"strings"

	"paypipe/internal/errors"
	"paypipe/internal/logging"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"
)

//go:embed defaults.yaml
var configFS embed.FS

// EnvPrefix is the prefix of environment overrides, e.g. PAYPIPE_FX_BASE_CURRENCY
const EnvPrefix = "PAYPIPE"

// ConfigLoader handles loading configuration from the embedded defaults, an
// optional file and the environment
type ConfigLoader struct {
	logger *logging.Logger
}

// NewConfigLoader creates a new configuration loader
func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{
		logger: logging.NewDefaultLogger("config"),
	}
}

func defaultsYAML() ([]byte, error) {
	data, err := configFS.ReadFile("defaults.yaml")
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfiguration,
			"failed to read embedded defaults")
	}
	return data, nil
}

// Defaults parses the embedded defaults without any overlay
func Defaults() (*Config, error) {
	data, err := defaultsYAML()
	if err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var cfg Config
	if err := dec.Decode(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfiguration,
			"failed to parse embedded defaults YAML")
	}
	return &cfg, nil
}

// Load builds the configuration. Later sources override earlier ones:
// embedded defaults, the file at path (if not empty), PAYPIPE_* environment.
func (cl *ConfigLoader) Load(path string) (*Config, error) {
	data, err := defaultsYAML()
	if err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(bytes.NewReader(data)); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfiguration,
			"failed to parse embedded defaults YAML")
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.MergeInConfig(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeConfiguration,
				"failed to read config file "+path)
		}
		cl.logger.Info("Loaded configuration overrides from %s", path)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfiguration,
			"failed to decode configuration")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cl.logger.Debug("Configuration ready: stages=%v backend=%s audit=%s",
		cfg.Pipeline.EnabledStages, cfg.Storage.Backend, cfg.Audit.Sink)
	return &cfg, nil
}
