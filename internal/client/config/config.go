package config

import "time"

// Config holds runtime settings for the PassVault client.
//
// Fields:
//   - ServerEndpointAddr: base address of the backend API.
//   - DatabasePath: location of the local SQLite cache.
//   - SyncInterval: how often the background sync loop runs.
//   - LogLevel: minimum level emitted by the logger.
type Config struct {
	ServerEndpointAddr string
	DatabasePath       string
	SyncInterval       time.Duration
	LogLevel           string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerEndpointAddr = "https://api.passvault.dev"
	c.DatabasePath = "passvault.db"
	c.SyncInterval = 3 * time.Minute
	c.LogLevel = "info"
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
