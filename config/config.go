// Package config loads the aggregated service configuration from a JSON or
// YAML file with optional environment overrides.
package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/dispatch"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/metrics"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/outbound"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/core/tracker"
	infrageocode "github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/infra/geocode"
	infralogger "github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/infra/logger"
	"github.com/AkitaEngineering/Akita-Meshtastic-Delivery-Navigator/infra/mesh"
)

// StoreConfig selects the durable store backing file.
type StoreConfig struct {
	// Path is the SQLite database file. ":memory:" keeps everything in RAM.
	Path string `json:"path"`
}

// SetDefaults applies sane defaults.
func (c *StoreConfig) SetDefaults() {
	if c.Path == "" {
		c.Path = "dispatch.db"
	}
}

// APIConfig configures the HTTP command and snapshot surface.
type APIConfig struct {
	// Addr is the listen address, empty disables the API.
	Addr string `json:"addr"`
}

// Config aggregates every subsystem configuration.
type Config struct {
	Log      infralogger.Config  `json:"log"`
	Mesh     mesh.Config         `json:"mesh"`
	Store    StoreConfig         `json:"store"`
	Dispatch dispatch.Config     `json:"dispatch"`
	Outbound outbound.Config     `json:"outbound"`
	Tracker  tracker.Config      `json:"tracker"`
	Geocoder infrageocode.Config `json:"geocoder"`
	Metrics  metrics.Config      `json:"metrics"`
	API      APIConfig           `json:"api"`
}

// Load reads the file at path and applies K_ environment overrides
// (K_MESH__BROKER overrides mesh.broker).
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("K_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "k_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.Log.SetDefaults()
	cfg.Mesh.SetDefaults()
	cfg.Store.SetDefaults()
	cfg.Dispatch.SetDefaults()
	cfg.Outbound.SetDefaults()
	cfg.Tracker.SetDefaults()
	cfg.Geocoder.SetDefaults()
	cfg.Metrics.SetDefaults()
	if err := cfg.Mesh.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Dispatch.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Outbound.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Tracker.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
