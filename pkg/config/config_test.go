package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

const baseYAML = `
environment: test
server:
  port: 8080
store:
  dir: ./data
scrape:
  sources: [CryptoMoonShots, solana]
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_ParsesAndValidates(t *testing.T) {
	cfg, err := Load(writeConfig(t, baseYAML))
	require.NoError(t, err)
	require.Equal(t, "test", cfg.Environment)
	require.Equal(t, 8080, cfg.Server.Port)
	require.Equal(t, []string{"CryptoMoonShots", "solana"}, cfg.Scrape.Sources)
}

func TestLoad_RejectsMissingRequiredFields(t *testing.T) {
	cases := []struct {
		name string
		yaml string
	}{
		{"no environment", "server: {port: 8080}\nstore: {dir: ./d}\nscrape: {sources: [a]}"},
		{"no port", "environment: test\nstore: {dir: ./d}\nscrape: {sources: [a]}"},
		{"no store dir", "environment: test\nserver: {port: 8080}\nscrape: {sources: [a]}"},
		{"no sources", "environment: test\nserver: {port: 8080}\nstore: {dir: ./d}"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tc.yaml))
			require.Error(t, err)
		})
	}
}

func TestLoadWithEnv_OverridesCredentials(t *testing.T) {
	t.Setenv("TOKEN_ORACLE_API_KEY", "oracle-key")
	t.Setenv("MORALIS_API_KEY", "moralis-key")
	t.Setenv("REDIS_ADDR", "redis:6379")

	cfg, err := LoadWithEnv(writeConfig(t, baseYAML))
	require.NoError(t, err)
	require.Equal(t, "oracle-key", cfg.Resolver.APIKey)
	require.Equal(t, "moralis-key", cfg.Market.Moralis.APIKey)
	require.Equal(t, "redis:6379", cfg.Redis.Addr)
	require.True(t, cfg.Redis.Enabled)
}

func TestLoadWithEnv_AbsentCredentialLeavesFeatureDisabled(t *testing.T) {
	cfg, err := LoadWithEnv(writeConfig(t, baseYAML))
	require.NoError(t, err)
	require.Empty(t, cfg.Market.Moralis.APIKey)
	require.False(t, cfg.Redis.Enabled)
	require.False(t, cfg.ClickHouse.Enabled)
}
