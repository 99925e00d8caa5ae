// Package config holds the session and CLI configuration types.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Role represents which side of the connection a session plays.
type Role string

const (
	RoleHost    Role = "host"    // listens for the partner
	RolePartner Role = "partner" // connects to the host
)

// Transport kinds.
const (
	TransportTCP = "tcp"
	TransportWS  = "ws"
)

// Defaults applied to unset fields.
const (
	DefaultChunkSize         = 1024
	DefaultHandshakeTimeout  = 10 * time.Second
	DefaultAckTimeout        = 10 * time.Second
	DefaultDisconnectTimeout = 5 * time.Second
)

// Session tunes a single peer session.
type Session struct {
	ChunkSize         int           `yaml:"chunk_size"`
	HandshakeTimeout  time.Duration `yaml:"handshake_timeout"`
	AckTimeout        time.Duration `yaml:"ack_timeout"`
	DisconnectTimeout time.Duration `yaml:"disconnect_timeout"`
}

// DefaultSession returns the session tuning used when nothing is configured.
func DefaultSession() Session {
	return Session{
		ChunkSize:         DefaultChunkSize,
		HandshakeTimeout:  DefaultHandshakeTimeout,
		AckTimeout:        DefaultAckTimeout,
		DisconnectTimeout: DefaultDisconnectTimeout,
	}
}

// WithDefaults fills every zero field of s from DefaultSession.
func (s Session) WithDefaults() Session {
	d := DefaultSession()
	if s.ChunkSize <= 0 {
		s.ChunkSize = d.ChunkSize
	}
	if s.HandshakeTimeout <= 0 {
		s.HandshakeTimeout = d.HandshakeTimeout
	}
	if s.AckTimeout <= 0 {
		s.AckTimeout = d.AckTimeout
	}
	if s.DisconnectTimeout <= 0 {
		s.DisconnectTimeout = d.DisconnectTimeout
	}
	return s
}

// Config stores all parameters gathered from the config file, CLI flags and
// interactive prompts.
type Config struct {
	Role        Role    `yaml:"role"`
	Transport   string  `yaml:"transport"`    // tcp or ws
	Host        string  `yaml:"host"`         // Partner: address of the host
	Port        int     `yaml:"port"`         // Host: port to listen on (0 = any); Partner: port to connect to
	File        string  `yaml:"file"`         // Host: file to share
	Out         string  `yaml:"out"`          // Partner: where to write the mirrored document
	MetricsAddr string  `yaml:"metrics_addr"` // optional Prometheus endpoint
	Debug       bool    `yaml:"debug"`
	Session     Session `yaml:"session"`
}

// Load reads a YAML config file. A missing path yields a default Config.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Transport == "" {
		c.Transport = TransportTCP
	}
	if c.Host == "" {
		c.Host = "127.0.0.1"
	}
	c.Session = c.Session.WithDefaults()
}

// Validate reports the first invalid field of c.
func (c *Config) Validate() error {
	switch c.Role {
	case RoleHost:
		if c.Port < 0 || c.Port > 65535 {
			return fmt.Errorf("invalid port %d: must be 0~65535", c.Port)
		}
	case RolePartner:
		if c.Port < 1 || c.Port > 65535 {
			return fmt.Errorf("invalid port %d: must be 1~65535", c.Port)
		}
		if c.Host == "" {
			return fmt.Errorf("missing host for partner role")
		}
	default:
		return fmt.Errorf("invalid role %q: must be %q or %q", c.Role, RoleHost, RolePartner)
	}
	if c.Transport != TransportTCP && c.Transport != TransportWS {
		return fmt.Errorf("invalid transport %q: must be %q or %q", c.Transport, TransportTCP, TransportWS)
	}
	if c.Session.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk size %d", c.Session.ChunkSize)
	}
	return nil
}
