package config

import "strings"

// Default listen addresses and sizes, chosen to match the reference
// source's defaults for a single-instance deployment.
const (
	defaultCoreAddr      = ":0"
	defaultAsyncAddr     = ":0"
	defaultMaxRecordSize = 1 << 20 // 1MiB
	defaultMetricsAddr   = ":9090"
	defaultBuiltinAddr   = ":111"
)

// ApplyDefaults fills in zero-valued fields left unset after Unmarshal.
func ApplyDefaults(cfg *Config) {
	applyLoggingDefaults(&cfg.Logging)
	applyServerDefaults(&cfg.Server)
	applyPortmapDefaults(&cfg.Portmap)
	applyMetricsDefaults(&cfg.Metrics)
}

func applyLoggingDefaults(cfg *LoggingConfig) {
	if cfg.Level == "" {
		cfg.Level = "INFO"
	}
	cfg.Level = strings.ToUpper(cfg.Level)
	if cfg.Format == "" {
		cfg.Format = "text"
	}
}

func applyServerDefaults(cfg *ServerConfig) {
	if cfg.CoreAddr == "" {
		cfg.CoreAddr = defaultCoreAddr
	}
	if cfg.AsyncAddr == "" {
		cfg.AsyncAddr = defaultAsyncAddr
	}
	if cfg.MaxRecordSize == 0 {
		cfg.MaxRecordSize = defaultMaxRecordSize
	}
}

func applyPortmapDefaults(cfg *PortmapConfig) {
	if cfg.Mode == "" {
		cfg.Mode = PortmapAuto
	}
	if cfg.BuiltinAddr == "" {
		cfg.BuiltinAddr = defaultBuiltinAddr
	}
}

func applyMetricsDefaults(cfg *MetricsConfig) {
	if cfg.Addr == "" {
		cfg.Addr = defaultMetricsAddr
	}
}
