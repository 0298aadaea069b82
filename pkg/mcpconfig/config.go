// Package mcpconfig loads the runtime's build-time Configuration object
// (spec §6): server identity, advertised capabilities, pagination limit,
// session TTL, and the ambient logging/telemetry sub-configs, layered
// env-over-file-over-defaults the way the teacher's internal/config does.
package mcpconfig

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"

	"github.com/coldironlabs/mcprt/internal/logging"
	"github.com/coldironlabs/mcprt/internal/telemetry"
)

const maxConfigFileSize = 1024 * 1024 // 1MB

// ServerInfo identifies this server implementation to a connecting client.
type ServerInfo struct {
	Name    string `koanf:"name"`
	Version string `koanf:"version"`
}

// Capabilities mirrors the capability flags spec §6 and §4.6 gate methods
// on. Resources.Enabled and Resources.Subscribe are orthogonal gates,
// per spec §9's open-question resolution: both must be true to allow
// resources/subscribe.
type Capabilities struct {
	Tools       bool              `koanf:"tools"`
	Resources   ResourceCapabilities `koanf:"resources"`
	Prompts     bool              `koanf:"prompts"`
	Logging     bool              `koanf:"logging"`
	Completions bool              `koanf:"completions"`
}

// ResourceCapabilities is the resources family's sub-flags.
type ResourceCapabilities struct {
	Enabled     bool `koanf:"enabled"`
	Subscribe   bool `koanf:"subscribe"`
	ListChanged bool `koanf:"list_changed"`
}

// Config is the full Configuration object spec §6 describes.
type Config struct {
	ServerInfo        ServerInfo         `koanf:"server_info"`
	Capabilities      Capabilities       `koanf:"capabilities"`
	PaginationLimit   int                `koanf:"pagination_limit"`
	Instructions      string             `koanf:"instructions"`
	SessionTTLSeconds int                `koanf:"session_ttl_seconds"`

	Logging   logging.Config     `koanf:"logging"`
	Telemetry telemetry.Config   `koanf:"telemetry"`
	HTTP      HTTPConfig         `koanf:"http"`
}

// HTTPConfig controls the HTTP+SSE transport's listening address and
// endpoint prefix.
type HTTPConfig struct {
	Addr               string `koanf:"addr"`
	Prefix             string `koanf:"prefix"`
	RequireAcceptBoth  bool   `koanf:"require_accept_both"`
	RateLimitPerSecond float64 `koanf:"rate_limit_per_second"`
	RateLimitBurst     int    `koanf:"rate_limit_burst"`
}

// Default returns the runtime's hardcoded defaults, the lowest-precedence
// layer beneath a config file and environment overrides.
func Default() *Config {
	return &Config{
		ServerInfo: ServerInfo{Name: "mcpd", Version: "0.1.0"},
		Capabilities: Capabilities{
			Tools:   true,
			Prompts: true,
			Logging: true,
			Resources: ResourceCapabilities{
				Enabled:     true,
				Subscribe:   true,
				ListChanged: true,
			},
			Completions: true,
		},
		PaginationLimit:   50,
		SessionTTLSeconds: 300,
		Logging:           *logging.NewDefaultConfig(),
		Telemetry:         *telemetry.NewDefaultConfig(),
		HTTP: HTTPConfig{
			Addr:               ":8765",
			Prefix:             "/mcp",
			RequireAcceptBoth:  true,
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
		},
	}
}

// Validate rejects a Config that would make the runtime misbehave.
func (c *Config) Validate() error {
	if c.PaginationLimit <= 0 {
		return fmt.Errorf("pagination_limit must be > 0, got %d", c.PaginationLimit)
	}
	if c.SessionTTLSeconds <= 0 {
		return fmt.Errorf("session_ttl_seconds must be > 0, got %d", c.SessionTTLSeconds)
	}
	if c.ServerInfo.Name == "" {
		return fmt.Errorf("server_info.name is required")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	return nil
}

// Load reads configPath (default ~/.config/mcpd/config.yaml), overlays
// environment variables, and unmarshals onto Default(). Precedence,
// highest to lowest: environment > file > defaults.
func Load(configPath string) (*Config, error) {
	k := koanf.New(".")

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home directory: %w", err)
		}
		configPath = filepath.Join(home, ".config", "mcpd", "config.yaml")
	}

	if err := validateConfigPath(configPath); err != nil {
		return nil, fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		f, err := os.Open(configPath)
		if err != nil {
			return nil, fmt.Errorf("open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return nil, fmt.Errorf("stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return nil, fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformer), nil); err != nil {
		return nil, fmt.Errorf("load environment variables: %w", err)
	}

	cfg := *Default()
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// envTransformer maps SERVER_INFO_NAME -> server_info.name: a name that
// starts with a known section prefix is split after that prefix into
// section and field; any other name is only lower-cased.
func envTransformer(s string) string {
	lower := strings.ToLower(s)
	for _, section := range []string{"server_info", "capabilities", "logging", "telemetry", "http"} {
		if strings.HasPrefix(lower, section+"_") {
			return section + "." + strings.TrimPrefix(lower, section+"_")
		}
	}
	return lower
}

// EnsureConfigDir creates ~/.config/mcpd with owner-only permissions.
func EnsureConfigDir() error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}
	dir := filepath.Join(home, ".config", "mcpd")
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create config directory %s: %w", dir, err)
	}
	return nil
}

// validateConfigPath restricts config files to ~/.config/mcpd or
// /etc/mcpd, resolving symlinks first to block path-traversal escapes.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}

	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolve home directory: %w", err)
	}

	allowedDirs := []string{
		filepath.Join(home, ".config", "mcpd"),
		"/etc/mcpd",
	}
	for _, dir := range allowedDirs {
		if strings.HasPrefix(resolvedPath, dir) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/mcpd/ or /etc/mcpd/")
}

// validateConfigFileProperties rejects world/group-readable or oversized
// config files before their contents are trusted.
func validateConfigFileProperties(info os.FileInfo) error {
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}
	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
