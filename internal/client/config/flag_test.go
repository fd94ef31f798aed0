package config

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFlags(t *testing.T) {
	origArgs := os.Args
	t.Cleanup(func() { os.Args = origArgs })

	// Test cases
	tests := []struct {
		expected    *Config
		name        string
		args        []string
		expectPanic bool
	}{
		{name: "Test1 OK", args: []string{"cmd", "-a", "https://pass.example:9090", "-i", "10"}, expectPanic: false,
			expected: &Config{ServerEndpointAddr: "https://pass.example:9090", SyncInterval: 10 * time.Second}},
		{name: "Test2 database path and log level", args: []string{"cmd", "-d", "/tmp/vault.db", "-l", "debug"}, expectPanic: false,
			expected: &Config{DatabasePath: "/tmp/vault.db", LogLevel: "debug"}},
		{name: "Test3 incorrect sync interval", args: []string{"cmd", "-a", "https://pass.example:9090", "-i", "abc"}, expectPanic: true, expected: &Config{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			os.Args = tt.args

			config := &Config{}

			if !tt.expectPanic {
				require.NotPanics(t, func() { parseFlags(config) })
				assert.Equal(t, tt.expected, config)
			} else {
				require.Panics(t, func() { parseFlags(config) })
			}
		})
	}
}
