// Package settings loads host runtime settings: where printer.cfg lives,
// logging, and the API and metrics listeners. Values come from defaults,
// an optional YAML/TOML/JSON file, and TOOLX_* environment variables, in
// increasing priority.
package settings

import (
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"

	"klipper-toolx/pkg/log"
)

const EnvPrefix = "TOOLX"

type Settings struct {
	PrinterConfig string          `mapstructure:"printer_config"`
	Script        string          `mapstructure:"script"`
	Log           LogSettings     `mapstructure:"log"`
	API           APISettings     `mapstructure:"api"`
	Metrics       MetricsSettings `mapstructure:"metrics"`
}

type LogSettings struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Caller     bool   `mapstructure:"caller"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
}

// APISettings configures the websocket API. An empty Address disables it.
type APISettings struct {
	Address        string        `mapstructure:"address"`
	StatusInterval time.Duration `mapstructure:"status_interval"`
}

// MetricsSettings configures the Prometheus endpoint. An empty Address
// disables it.
type MetricsSettings struct {
	Address  string `mapstructure:"address"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("printer_config", "printer.cfg")
	v.SetDefault("script", "")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.caller", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 10)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("api.address", "127.0.0.1:7125")
	v.SetDefault("api.status_interval", "250ms")
	v.SetDefault("metrics.address", "")
	v.SetDefault("metrics.username", "")
	v.SetDefault("metrics.password", "")
}

// Load reads settings. path may be empty to use defaults and the
// environment only.
func Load(path string) (Settings, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read settings: %w", err)
		}
	}

	var s Settings
	hook := viper.DecodeHook(mapstructure.StringToTimeDurationHookFunc())
	if err := v.Unmarshal(&s, hook); err != nil {
		return Settings{}, fmt.Errorf("decode settings: %w", err)
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

// Validate checks values that would otherwise fail late.
func (s Settings) Validate() error {
	if s.PrinterConfig == "" {
		return fmt.Errorf("settings: printer_config must be set")
	}
	switch strings.ToLower(s.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("settings: unknown log.level %q", s.Log.Level)
	}
	switch strings.ToLower(s.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("settings: unknown log.format %q", s.Log.Format)
	}
	if s.API.StatusInterval <= 0 {
		return fmt.Errorf("settings: api.status_interval must be positive, got %s", s.API.StatusInterval)
	}
	return nil
}

// Rotation returns the log file rotation settings.
func (l LogSettings) Rotation() log.RotationConfig {
	return log.RotationConfig{
		Filename:   l.File,
		MaxSize:    l.MaxSizeMB,
		MaxBackups: l.MaxBackups,
	}
}

// Apply configures logger from the log settings.
func (l LogSettings) Apply(logger *log.Logger) {
	logger.SetLevel(log.ParseLevel(l.Level))
	logger.SetFormat(log.ParseFormat(l.Format))
	logger.SetCaller(l.Caller)
}
