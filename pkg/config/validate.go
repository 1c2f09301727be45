package config

import "fmt"

// validLogLevels mirrors the set LoggingConfig.Level accepts.
var validLogLevels = map[string]bool{"DEBUG": true, "INFO": true, "WARN": true, "ERROR": true}

var validPortmapModes = map[PortmapMode]bool{
	PortmapAuto:     true,
	PortmapRPCBind:  true,
	PortmapBuiltin:  true,
	PortmapDisabled: true,
}

// Validate checks a Config already populated by ApplyDefaults for
// internally inconsistent or out-of-range values.
func Validate(cfg *Config) error {
	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level: invalid value %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "text" && cfg.Logging.Format != "json" {
		return fmt.Errorf("logging.format: invalid value %q", cfg.Logging.Format)
	}
	if cfg.Server.CoreAddr == "" {
		return fmt.Errorf("server.core_addr: must not be empty")
	}
	if cfg.Server.AsyncAddr == "" {
		return fmt.Errorf("server.async_addr: must not be empty")
	}
	if !validPortmapModes[cfg.Portmap.Mode] {
		return fmt.Errorf("portmap.mode: invalid value %q", cfg.Portmap.Mode)
	}
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		return fmt.Errorf("metrics.addr: must not be empty when metrics.enabled is true")
	}
	seen := make(map[string]bool, len(cfg.Adapters))
	for _, a := range cfg.Adapters {
		if a.Name == "" {
			return fmt.Errorf("adapters: entry missing name")
		}
		if seen[a.Name] {
			return fmt.Errorf("adapters: duplicate name %q", a.Name)
		}
		seen[a.Name] = true
		if a.Type == "" {
			return fmt.Errorf("adapters.%s: missing type", a.Name)
		}
		if a.Device == "" {
			return fmt.Errorf("adapters.%s: missing device", a.Name)
		}
	}
	return nil
}
