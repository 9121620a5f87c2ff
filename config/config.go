// Package config provides configuration management for the RDP MITM,
// loaded from JSON or YAML files with environment-variable overrides and
// sane defaults, in the style of gordp's configuration layer.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the complete set of "MITM configuration inputs" from spec.md §6.
type Config struct {
	Listen    ListenConfig    `json:"listen" yaml:"listen"`
	Target    TargetConfig    `json:"target" yaml:"target"`
	TLS       TLSConfig       `json:"tls" yaml:"tls"`
	Credentials CredentialConfig `json:"credentials" yaml:"credentials"`
	Player    PlayerConfig    `json:"player" yaml:"player"`
	Recording RecordingConfig `json:"recording" yaml:"recording"`
	SavedFiles SavedFilesConfig `json:"saved_files" yaml:"saved_files"`
	Logging   LoggingConfig   `json:"logging" yaml:"logging"`
}

// ListenConfig is the address the MITM listens on for victim connections.
type ListenConfig struct {
	Address string `json:"address" yaml:"address"`
	Port    int    `json:"port" yaml:"port"`
}

func (l ListenConfig) Addr() string { return fmt.Sprintf("%s:%d", l.Address, l.Port) }

// TargetConfig is the real RDP server the MITM dials on the victim's behalf.
type TargetConfig struct {
	Address        string        `json:"address" yaml:"address"`
	Port           int           `json:"port" yaml:"port"`
	ConnectTimeout time.Duration `json:"connect_timeout" yaml:"connect_timeout"`
}

func (t TargetConfig) Addr() string { return fmt.Sprintf("%s:%d", t.Address, t.Port) }

// TLSConfig points at the certificate/key used to terminate the victim's
// TLS handshake when TLS security is negotiated.
type TLSConfig struct {
	CertificatePath string `json:"certificate_path" yaml:"certificate_path"`
	KeyPath         string `json:"key_path" yaml:"key_path"`
}

// CredentialConfig optionally overrides the credentials forwarded in
// ClientInfo, per spec.md §4.7 "Credential capture and replacement".
type CredentialConfig struct {
	ReplacementUsername string `json:"replacement_username" yaml:"replacement_username"`
	ReplacementPassword string `json:"replacement_password" yaml:"replacement_password"`
}

// Enabled reports whether replacement credentials are configured.
func (c CredentialConfig) Enabled() bool {
	return c.ReplacementUsername != "" || c.ReplacementPassword != ""
}

// PlayerConfig is the optional live-viewer listening socket (spec.md §6).
type PlayerConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Address string `json:"address" yaml:"address"`
	Port    int    `json:"port" yaml:"port"`
}

func (p PlayerConfig) Addr() string { return fmt.Sprintf("%s:%d", p.Address, p.Port) }

// RecordingConfig is the output recording file path.
type RecordingConfig struct {
	FilePath string `json:"file_path" yaml:"file_path"`
}

// SavedFilesConfig controls where RDPDR-stolen files land on disk.
type SavedFilesConfig struct {
	Directory           string `json:"directory" yaml:"directory"`
	PrefixWithSessionID bool   `json:"prefix_with_session_id" yaml:"prefix_with_session_id"`
}

// LoggingConfig controls verbosity.
type LoggingConfig struct {
	Level string `json:"level" yaml:"level"`
}

// DefaultConfig returns a Config with the defaults a fresh deployment needs.
func DefaultConfig() *Config {
	return &Config{
		Listen: ListenConfig{Address: "0.0.0.0", Port: 3389},
		Target: TargetConfig{ConnectTimeout: 5 * time.Second},
		Player: PlayerConfig{Enabled: false, Address: "0.0.0.0", Port: 3390},
		Recording: RecordingConfig{
			FilePath: "session.rdpy",
		},
		SavedFiles: SavedFilesConfig{
			Directory:           "./saved_files",
			PrefixWithSessionID: true,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadFromFile loads a Config from a JSON or YAML file, falling back to
// DefaultConfig for anything the file omits.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}

	cfg := DefaultConfig()
	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse yaml: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("config: parse json: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)
	return cfg, nil
}

// ApplyEnvOverrides lets deployment environments override individual
// fields without a config file, the same override precedence gordp's
// config layer documents (file, then env, then defaults already applied).
func ApplyEnvOverrides(cfg *Config) {
	if v := os.Getenv("RDPMITM_LISTEN_ADDR"); v != "" {
		cfg.Listen.Address = v
	}
	if v := os.Getenv("RDPMITM_LISTEN_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Listen.Port = p
		}
	}
	if v := os.Getenv("RDPMITM_TARGET_ADDR"); v != "" {
		cfg.Target.Address = v
	}
	if v := os.Getenv("RDPMITM_TARGET_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Target.Port = p
		}
	}
	if v := os.Getenv("RDPMITM_REPLACEMENT_USERNAME"); v != "" {
		cfg.Credentials.ReplacementUsername = v
	}
	if v := os.Getenv("RDPMITM_REPLACEMENT_PASSWORD"); v != "" {
		cfg.Credentials.ReplacementPassword = v
	}
}

// Validate checks that the configuration is usable before the MITM binds
// any socket.
func (c *Config) Validate() error {
	if c.Target.Address == "" {
		return fmt.Errorf("config: target address is required")
	}
	if c.Listen.Port <= 0 || c.Listen.Port > 65535 {
		return fmt.Errorf("config: invalid listen port %d", c.Listen.Port)
	}
	if c.TLS.CertificatePath != "" && c.TLS.KeyPath == "" {
		return fmt.Errorf("config: certificate_path set without key_path")
	}
	return nil
}
