// Package config loads and validates the daemon's YAML configuration,
// including file includes, environment overrides and encrypted secret values.
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for the cadence daemon.
type Config struct {
	// Includes lists additional YAML files merged into this one. Values in
	// the main file take precedence over included ones.
	Includes []string `yaml:"includes,omitempty"`

	Engine   EngineConfig   `yaml:"engine"`
	Sampling SamplingConfig `yaml:"sampling"`
	Branch   BranchConfig   `yaml:"branch"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Sessions SessionsConfig `yaml:"sessions"`
	MCP      MCPConfig      `yaml:"mcp"`
	Logger   LoggerConfig   `yaml:"logger"`
	Tracer   TracerConfig   `yaml:"tracer"`
}

// EngineConfig tunes the streaming render pipeline.
type EngineConfig struct {
	// BufferSize is the capacity of the pipeline's update channel.
	BufferSize int `yaml:"buffer_size"`
	// WordWrap is the render width for the markdown processor.
	WordWrap int `yaml:"word_wrap"`
	// HighlightStyle selects the chroma style for code fences.
	HighlightStyle string `yaml:"highlight_style"`
}

// SamplingConfig configures the LLM sampling host for branch tools.
type SamplingConfig struct {
	// Provider names the backing implementation; "bedrock" is the only one.
	Provider  string `yaml:"provider"`
	Region    string `yaml:"region"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`

	Breaker BreakerConfig `yaml:"breaker"`
	Rate    RateConfig    `yaml:"rate"`
}

// BreakerConfig tunes the circuit breaker around sampling calls.
type BreakerConfig struct {
	MaxFailures uint32        `yaml:"max_failures"`
	Timeout     time.Duration `yaml:"timeout"`
	Interval    time.Duration `yaml:"interval"`
}

// RateConfig tunes the sampling rate limit.
type RateConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

// BranchConfig bounds nested branch tools.
type BranchConfig struct {
	MaxDepth int `yaml:"max_depth"`
	// TokenBudget caps inherited conversation size; zero disables trimming.
	TokenBudget int `yaml:"token_budget"`
}

// GatewayConfig configures the patch stream server.
type GatewayConfig struct {
	Addr   string        `yaml:"addr"`
	Tokens []TokenConfig `yaml:"tokens"`
}

// TokenConfig is one static gateway bearer token. The value may be an
// "enc:" encrypted string.
type TokenConfig struct {
	Token string `yaml:"token"`
	Name  string `yaml:"name"`
}

// SessionsConfig configures the session store.
type SessionsConfig struct {
	Persona string `yaml:"persona"`
	// MaxAge is the idle duration before a session is reaped.
	MaxAge time.Duration `yaml:"max_age"`
	// ReapSchedule is a cron expression; empty disables the reaper.
	ReapSchedule string `yaml:"reap_schedule"`
}

// MCPConfig names the exposed MCP server.
type MCPConfig struct {
	Name    string `yaml:"name"`
	Version string `yaml:"version"`
}

// LoggerConfig holds logging settings.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// TracerConfig holds tracing settings.
type TracerConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Exporter string `yaml:"exporter"`
}

// Defaults returns a Config with sensible defaults.
func Defaults() *Config {
	return &Config{
		Engine: EngineConfig{
			BufferSize:     64,
			WordWrap:       100,
			HighlightStyle: "monokai",
		},
		Sampling: SamplingConfig{
			Provider:  "bedrock",
			Region:    "us-east-1",
			Model:     "anthropic.claude-3-5-sonnet-20241022-v2:0",
			MaxTokens: 1024,
		},
		Branch: BranchConfig{
			MaxDepth:    3,
			TokenBudget: 8192,
		},
		Gateway: GatewayConfig{
			Addr: "127.0.0.1:8420",
		},
		Sessions: SessionsConfig{
			Persona:      "cadence",
			MaxAge:       2 * time.Hour,
			ReapSchedule: "@every 10m",
		},
		MCP: MCPConfig{
			Name:    "cadence",
			Version: "dev",
		},
		Logger: LoggerConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
		Tracer: TracerConfig{
			Enabled:  false,
			Exporter: "noop",
		},
	}
}

// Load reads, merges and validates the config at path. A missing file yields
// defaults with env overrides applied.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			ApplyEnvOverrides(cfg)
			if err := Validate(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	if err := validatePermissions(absPath); err != nil {
		return nil, err
	}

	// First pass: unmarshal to get the includes list.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// Process includes (merges included files into cfg).
	if len(cfg.Includes) > 0 {
		visited := map[string]bool{absPath: true}
		if err := processIncludes(cfg, filepath.Dir(absPath), visited, 0); err != nil {
			return nil, err
		}

		// Second pass: re-unmarshal main config so it takes precedence
		// over includes.
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config (second pass): %w", err)
		}
		cfg.Includes = nil
	}

	ApplyEnvOverrides(cfg)

	if passphrase := os.Getenv("CADENCE_CONFIG_KEY"); passphrase != "" {
		if err := decryptSecrets(cfg, passphrase); err != nil {
			return nil, fmt.Errorf("decrypt secrets: %w", err)
		}
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyEnvOverrides maps CADENCE_* env vars to config fields.
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CADENCE_GATEWAY_ADDR"); v != "" {
		cfg.Gateway.Addr = v
	}
	if v := os.Getenv("CADENCE_SAMPLING_MODEL"); v != "" {
		cfg.Sampling.Model = v
	}
	if v := os.Getenv("CADENCE_SAMPLING_REGION"); v != "" {
		cfg.Sampling.Region = v
	}
	if v := os.Getenv("CADENCE_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("CADENCE_LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
	if v := os.Getenv("CADENCE_BRANCH_MAX_DEPTH"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Branch.MaxDepth = n
		}
	}
	if v := os.Getenv("CADENCE_SESSIONS_PERSONA"); v != "" {
		cfg.Sessions.Persona = v
	}
}

// decryptSecrets finds "enc:..." values and decrypts them in place.
func decryptSecrets(cfg *Config, passphrase string) error {
	for i, tok := range cfg.Gateway.Tokens {
		if strings.HasPrefix(tok.Token, "enc:") {
			decrypted, err := DecryptValue(strings.TrimPrefix(tok.Token, "enc:"), passphrase)
			if err != nil {
				return fmt.Errorf("gateway token %q: %w", tok.Name, err)
			}
			cfg.Gateway.Tokens[i].Token = decrypted
		}
	}
	return nil
}

// EncryptValue encrypts a plaintext value with AES-256-GCM using a passphrase.
func EncryptValue(plaintext, passphrase string) (string, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	// Format: hex(salt) + ":" + hex(nonce+ciphertext)
	return hex.EncodeToString(salt) + ":" + hex.EncodeToString(ciphertext), nil
}

// DecryptValue decrypts an AES-256-GCM encrypted value.
func DecryptValue(encrypted, passphrase string) (string, error) {
	parts := strings.SplitN(encrypted, ":", 2)
	if len(parts) != 2 {
		return "", fmt.Errorf("invalid encrypted format")
	}

	salt, err := hex.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("decode salt: %w", err)
	}

	data, err := hex.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}

	key := deriveKey(passphrase, salt)
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("create gcm: %w", err)
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", fmt.Errorf("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decrypt: %w", err)
	}

	return string(plaintext), nil
}

// deriveKey uses Argon2id to derive a 32-byte key from passphrase + salt.
func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, 1, 64*1024, 4, 32)
}

// validatePermissions checks the config file has restrictive permissions.
func validatePermissions(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat config: %w", err)
	}
	mode := info.Mode().Perm()
	// Allow 0600 and 0644 (readable by others but not writable)
	if mode&0o077 > 0o044 {
		return fmt.Errorf("config file %s has insecure permissions %o (want 0600 or 0644)", path, mode)
	}
	return nil
}
