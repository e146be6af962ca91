// Package config loads Pebble's flat INI configuration file into a
// read-only snapshot, constructed once at startup and passed down to
// collaborators the way NewClient/NewServer take fully-built
// dependencies rather than reaching for a global.
package config

import (
	"fmt"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config is the read-only snapshot of a parsed INI file. Every field
// maps to a "[section]\nkey = value" pair; section names are lower
// case and match the viper keys below.
type Config struct {
	Server  ServerSection  `mapstructure:"server"`
	Naming  NamingSection  `mapstructure:"naming"`
	Logging LoggingSection `mapstructure:"logging"`
}

// ServerSection configures the listening transport and scheduler.
type ServerSection struct {
	// ListenURL is a "scheme://host:port" address, e.g. "tcp://127.0.0.1:9000".
	ListenURL string `mapstructure:"listen_url"`

	// IdleSleep is how long the server loop sleeps when a tick does no
	// work. Default 1ms.
	IdleSleep time.Duration `mapstructure:"idle_sleep"`

	// ThreadPoolSize is the worker count for the ancillary thread pool
	// (redis adapter, blocking helpers). Default 4.
	ThreadPoolSize int `mapstructure:"thread_pool_size"`
}

// NamingSection configures the naming-service registry.
type NamingSection struct {
	// Endpoints lists the naming backend's addresses (e.g. etcd).
	Endpoints []string `mapstructure:"endpoints"`

	// RegisterTTL is the lease TTL a Register call requests.
	RegisterTTL time.Duration `mapstructure:"register_ttl"`
}

// LoggingSection controls pebblelog's sink.
type LoggingSection struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `mapstructure:"level"`
}

// Load parses the INI file at path into a Config. Missing optional
// keys keep their Go zero value; callers that need defaults should
// call ApplyDefaults afterward.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("ini")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	var cfg Config
	hook := mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToSliceHookFunc(","),
		durationDecodeHook(),
	)
	if err := v.Unmarshal(&cfg, viper.DecodeHook(hook)); err != nil {
		return nil, fmt.Errorf("config: unmarshal %s: %w", path, err)
	}

	return &cfg, nil
}

// ApplyDefaults fills zero-valued fields with Pebble's defaults. Call
// it after Load (or use a bare zero Config) to get a fully-populated
// snapshot without requiring every key to be present in the file.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenURL == "" {
		cfg.Server.ListenURL = "tcp://127.0.0.1:9000"
	}
	if cfg.Server.IdleSleep <= 0 {
		cfg.Server.IdleSleep = time.Millisecond
	}
	if cfg.Server.ThreadPoolSize <= 0 {
		cfg.Server.ThreadPoolSize = 4
	}
	if cfg.Naming.RegisterTTL <= 0 {
		cfg.Naming.RegisterTTL = 10 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// durationDecodeHook lets INI values like "30s" or "5m" decode into
// time.Duration fields, the same trick viper's mapstructure hook does
// for YAML durations.
func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data any) (any, error) {
		if to != reflect.TypeOf(time.Duration(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return time.ParseDuration(v)
		case int:
			return time.Duration(v), nil
		case int64:
			return time.Duration(v), nil
		default:
			return data, nil
		}
	}
}
