package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8420", cfg.Gateway.Addr)
	assert.Equal(t, "bedrock", cfg.Sampling.Provider)
	assert.Equal(t, 3, cfg.Branch.MaxDepth)
	assert.Equal(t, "@every 10m", cfg.Sessions.ReapSchedule)
}

func TestLoadOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "cadence.yaml", `
gateway:
  addr: "127.0.0.1:9000"
sampling:
  model: test-model
sessions:
  max_age: 30m
logger:
  level: debug
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:9000", cfg.Gateway.Addr)
	assert.Equal(t, "test-model", cfg.Sampling.Model)
	assert.Equal(t, 30*time.Minute, cfg.Sessions.MaxAge)
	assert.Equal(t, "debug", cfg.Logger.Level)
	// Untouched sections keep defaults.
	assert.Equal(t, "us-east-1", cfg.Sampling.Region)
}

func TestLoadRejectsInsecurePermissions(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cadence.yaml")
	require.NoError(t, os.WriteFile(path, []byte("logger:\n  level: info\n"), 0o666))
	require.NoError(t, os.Chmod(path, 0o666))

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insecure permissions")
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "cadence.yaml", `
gateway:
  addr: "not-an-addr"
`)
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway")
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CADENCE_GATEWAY_ADDR", "127.0.0.1:7777")
	t.Setenv("CADENCE_LOG_LEVEL", "warn")
	t.Setenv("CADENCE_BRANCH_MAX_DEPTH", "5")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7777", cfg.Gateway.Addr)
	assert.Equal(t, "warn", cfg.Logger.Level)
	assert.Equal(t, 5, cfg.Branch.MaxDepth)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	enc, err := EncryptValue("s3cret", "passphrase")
	require.NoError(t, err)
	assert.NotContains(t, enc, "s3cret")

	dec, err := DecryptValue(enc, "passphrase")
	require.NoError(t, err)
	assert.Equal(t, "s3cret", dec)

	_, err = DecryptValue(enc, "wrong")
	assert.Error(t, err)
}

func TestLoadDecryptsGatewayTokens(t *testing.T) {
	enc, err := EncryptValue("tok-123", "hunter2")
	require.NoError(t, err)

	path := writeConfig(t, t.TempDir(), "cadence.yaml", `
gateway:
  tokens:
    - token: "enc:`+enc+`"
      name: cli
`)
	t.Setenv("CADENCE_CONFIG_KEY", "hunter2")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Len(t, cfg.Gateway.Tokens, 1)
	assert.Equal(t, "tok-123", cfg.Gateway.Tokens[0].Token)
}

func TestLoadEncryptedTokenWithoutKeyStaysOpaque(t *testing.T) {
	enc, err := EncryptValue("tok-123", "hunter2")
	require.NoError(t, err)
	path := writeConfig(t, t.TempDir(), "cadence.yaml", `
gateway:
  tokens:
    - token: "enc:`+enc+`"
      name: cli
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Contains(t, cfg.Gateway.Tokens[0].Token, "enc:")
}

func TestIncludesMerge(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "sampling.yaml", `
sampling:
  model: included-model
  region: eu-west-1
`)
	main := writeConfig(t, dir, "cadence.yaml", `
includes:
  - sampling.yaml
sampling:
  model: main-model
`)
	cfg, err := Load(main)
	require.NoError(t, err)
	// Main file wins on conflict; include fills the rest.
	assert.Equal(t, "main-model", cfg.Sampling.Model)
	assert.Equal(t, "eu-west-1", cfg.Sampling.Region)
}

func TestIncludesRejectCircular(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, "a.yaml", "includes:\n  - b.yaml\n")
	writeConfig(t, dir, "b.yaml", "includes:\n  - a.yaml\n")
	main := writeConfig(t, dir, "cadence.yaml", "includes:\n  - a.yaml\n")

	_, err := Load(main)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular")
}

func TestIncludesRejectEscape(t *testing.T) {
	dir := t.TempDir()
	main := writeConfig(t, dir, "cadence.yaml", "includes:\n  - ../outside.yaml\n")
	_, err := Load(main)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "escapes")
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"bad provider", func(c *Config) { c.Sampling.Provider = "carrier-pigeon" }},
		{"negative depth", func(c *Config) { c.Branch.MaxDepth = -1 }},
		{"bad schedule", func(c *Config) { c.Sessions.ReapSchedule = "whenever" }},
		{"bad level", func(c *Config) { c.Logger.Level = "loud" }},
		{"bad exporter", func(c *Config) { c.Tracer.Exporter = "jaeger" }},
		{"empty token", func(c *Config) { c.Gateway.Tokens = []TokenConfig{{Name: "x"}} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Defaults()
			tc.mutate(cfg)
			assert.Error(t, Validate(cfg))
		})
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	assert.NoError(t, Validate(Defaults()))
}
