// Package config loads runtime configuration for the PassVault client.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   address of the backend API endpoint
//	-d string   path of the local SQLite database
//	-i int      background sync interval (seconds)
//	-l string   log level (debug, info, warn, error)
//
// # JSON schema
//
// Intervals can be given either as strings like "3m" or as integer
// nanoseconds:
//
//	{
//	  "server_endpoint_addr": "https://api.passvault.dev",
//	  "database_path": "passvault.db",
//	  "sync_interval": "3m",
//	  "log_level": "info"
//	}
//
// Note: This package does not read environment variables directly; use the
// JSON file or flags to configure values.
package config
