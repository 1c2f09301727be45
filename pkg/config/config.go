// Package config loads the server's configuration from a YAML file,
// environment variables, and built-in defaults.
//
// Uses the same viper-plus-mapstructure loading pattern as the rest of
// this server's tooling, narrowed to the much smaller shape this
// server needs.
package config

import (
	"fmt"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/pigrew/vxi11d/internal/bytesize"
)

// envPrefix is the prefix for environment variable overrides, e.g.
// VXI11D_SERVER_CORE_ADDR.
const envPrefix = "VXI11D"

// Config is the top-level server configuration.
//
// Precedence, highest to lowest:
//  1. Environment variables (VXI11D_*)
//  2. Configuration file
//  3. Defaults applied by ApplyDefaults
type Config struct {
	Logging  LoggingConfig   `mapstructure:"logging" yaml:"logging"`
	Server   ServerConfig    `mapstructure:"server" yaml:"server"`
	Portmap  PortmapConfig   `mapstructure:"portmap" yaml:"portmap"`
	Metrics  MetricsConfig   `mapstructure:"metrics" yaml:"metrics"`
	Adapters []AdapterConfig `mapstructure:"adapters" yaml:"adapters"`
}

// LoggingConfig controls logger.Init.
type LoggingConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// ServerConfig configures the core and async channel listeners.
type ServerConfig struct {
	CoreAddr  string `mapstructure:"core_addr" yaml:"core_addr"`
	AsyncAddr string `mapstructure:"async_addr" yaml:"async_addr"`

	// MaxRecordSize is the maxRecvSize advertised in every create_link
	// reply, accepting human-readable sizes like "1MiB" as well as plain
	// byte counts. It does not change the RPC framer's own record limit,
	// which is the fixed rpc.MaxRecordSize.
	MaxRecordSize bytesize.ByteSize `mapstructure:"max_record_size" yaml:"max_record_size"`
}

// PortmapMode selects how the server's port gets published to clients.
type PortmapMode string

const (
	// PortmapAuto tries the system rpcbind/portmapper first and falls
	// back to the built-in registry if neither the unix socket nor the
	// loopback TCP endpoint accepts the registration.
	PortmapAuto PortmapMode = "auto"
	// PortmapRPCBind requires a working system rpcbind/portmapper;
	// startup fails if registration does not succeed.
	PortmapRPCBind PortmapMode = "rpcbind"
	// PortmapBuiltin always uses this process's own portmap responder,
	// never touching the system rpcbind.
	PortmapBuiltin PortmapMode = "builtin"
	// PortmapDisabled starts no portmap responder at all; clients must
	// be configured with the core/async ports directly.
	PortmapDisabled PortmapMode = "disabled"
)

// PortmapConfig configures the PMAP_PROG responder (C9).
type PortmapConfig struct {
	Mode        PortmapMode `mapstructure:"mode" yaml:"mode"`
	BuiltinAddr string      `mapstructure:"builtin_addr" yaml:"builtin_addr"`
}

// MetricsConfig configures the Prometheus HTTP endpoint (A4).
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Addr    string `mapstructure:"addr" yaml:"addr"`
}

// AdapterConfig names one instrument adapter to construct and register
// in the device router under Device.
type AdapterConfig struct {
	Name   string                 `mapstructure:"name" yaml:"name"`
	Type   string                 `mapstructure:"type" yaml:"type"`
	Device string                 `mapstructure:"device" yaml:"device"`
	Params map[string]interface{} `mapstructure:"params" yaml:"params"`
}

// Load reads configuration from configPath (if non-empty), overlays
// environment variables, fills in defaults for anything left unset,
// and validates the result.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setupViper(v, configPath)

	if configPath != "" {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", configPath, err)
		}
	} else {
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("config: read config: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(configDecodeHooks())); err != nil {
		return nil, fmt.Errorf("config: unmarshal: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	return &cfg, nil
}

// SaveConfig writes cfg to path in YAML, honoring the struct's yaml
// tags.
func SaveConfig(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	return os.WriteFile(path, data, 0644)
}

func setupViper(v *viper.Viper, configPath string) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/vxi11d")
	}
}

// configDecodeHooks composes the custom type conversions Unmarshal
// needs beyond mapstructure's built-ins: human-readable byte sizes and
// durations.
func configDecodeHooks() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		byteSizeDecodeHook(),
		durationDecodeHook(),
	)
}

func byteSizeDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
		if to != reflect.TypeOf(bytesize.ByteSize(0)) {
			return data, nil
		}
		switch v := data.(type) {
		case string:
			return bytesize.ParseByteSize(v)
		case int:
			return bytesize.ByteSize(v), nil
		case int64:
			return bytesize.ByteSize(v), nil
		case uint64:
			return bytesize.ByteSize(v), nil
		case float64:
			return bytesize.ByteSize(v), nil
		default:
			return data, nil
		}
	}
}

func durationDecodeHook() mapstructure.DecodeHookFunc {
	return func(from reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
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
