// Package config loads coopsim configuration from a yaml file with
// COOPSIM_* environment overrides on top.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"coopsim.io/internal/sim/guard"
	"coopsim.io/internal/sim/identity"
)

const EnvPrefix = "COOPSIM_"

type Config struct {
	Session SessionConfig `yaml:"session"`
	Relay   RelayConfig   `yaml:"relay"`
	Peer    PeerConfig    `yaml:"peer"`
	// Mods come from the file only.
	Mods []ModSpec `yaml:"mods"`
}

type SessionConfig struct {
	GuardPolicy   string        `yaml:"guard_policy" env:"GUARD_POLICY"`
	StrictAsserts bool          `yaml:"strict_asserts" env:"STRICT_ASSERTS"`
	FlushInterval time.Duration `yaml:"flush_interval" env:"FLUSH_INTERVAL"`
	InboxSize     int           `yaml:"inbox_size" env:"INBOX_SIZE"`
}

type RelayConfig struct {
	Addr            string `yaml:"addr" env:"ADDR"`
	MaxParticipants int    `yaml:"max_participants" env:"MAX_PARTICIPANTS"`
	MaxMessageBytes int64  `yaml:"max_message_bytes" env:"MAX_MESSAGE_BYTES"`
	SendQueue       int    `yaml:"send_queue" env:"SEND_QUEUE"`
	DataDir         string `yaml:"data_dir" env:"DATA_DIR"`
	// IndexDB is the sqlite message index path. Relative paths are under
	// DataDir; "off" disables the index.
	IndexDB string `yaml:"index_db" env:"INDEX_DB"`
	Journal bool   `yaml:"journal" env:"JOURNAL"`
	// OpenSessions are created at startup and never expire.
	OpenSessions []string `yaml:"open_sessions" env:"OPEN_SESSIONS" envSeparator:","`
	EnablePprof  bool     `yaml:"enable_pprof" env:"ENABLE_PPROF"`

	Mirror MirrorConfig `yaml:"mirror" envPrefix:"MIRROR_"`
}

// MirrorConfig uploads closed journal files to S3-compatible object storage.
// An empty Endpoint disables the mirror. Credentials come from the
// environment only.
type MirrorConfig struct {
	Endpoint        string `yaml:"endpoint" env:"ENDPOINT"`
	Region          string `yaml:"region" env:"REGION"`
	Bucket          string `yaml:"bucket" env:"BUCKET"`
	Prefix          string `yaml:"prefix" env:"PREFIX"`
	AccessKeyID     string `yaml:"-" env:"ACCESS_KEY_ID"`
	SecretAccessKey string `yaml:"-" env:"SECRET_ACCESS_KEY"`
	Workers         int    `yaml:"workers" env:"WORKERS"`
	Queue           int    `yaml:"queue" env:"QUEUE"`
}

func (m MirrorConfig) Enabled() bool { return m.Endpoint != "" }

// IndexPath resolves IndexDB against DataDir. It is empty when the index is
// disabled.
func (c RelayConfig) IndexPath() string {
	p := strings.TrimSpace(c.IndexDB)
	switch strings.ToLower(p) {
	case "", "off", "none", "disabled":
		return ""
	}
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.DataDir, p)
}

type PeerConfig struct {
	Name        string `yaml:"name" env:"NAME"`
	RelayURL    string `yaml:"relay_url" env:"RELAY_URL"`
	SessionID   string `yaml:"session_id" env:"SESSION_ID"`
	SendQueue   int    `yaml:"send_queue" env:"SEND_QUEUE"`
	MetricsAddr string `yaml:"metrics_addr" env:"METRICS_ADDR"`
}

// ModSpec binds a relay-assigned mod id to a local load-order slot.
type ModSpec struct {
	ServerID uint32 `yaml:"server_id"`
	Name     string `yaml:"name"`
	Light    bool   `yaml:"light"`
	Index    uint16 `yaml:"index"`
}

// Load reads path (empty means defaults only), then applies environment
// overrides, normalizes and validates.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("%s: %w", path, err)
		}
	}
	if err := ParseEnv(&cfg); err != nil {
		return cfg, err
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	return cfg, nil
}

// ParseEnv overlays COOPSIM_SESSION_*, COOPSIM_RELAY_* and COOPSIM_PEER_*
// environment variables onto target.
func ParseEnv(target *Config) error {
	sections := []struct {
		prefix string
		v      any
	}{
		{"SESSION_", &target.Session},
		{"RELAY_", &target.Relay},
		{"PEER_", &target.Peer},
	}
	for _, s := range sections {
		if err := env.ParseWithOptions(s.v, env.Options{Prefix: EnvPrefix + s.prefix}); err != nil {
			return fmt.Errorf("parse env: %w", err)
		}
	}
	return nil
}

func Defaults() Config {
	return Config{
		Session: SessionConfig{
			GuardPolicy:   "warn",
			FlushInterval: 200 * time.Millisecond,
			InboxSize:     1024,
		},
		Relay: RelayConfig{
			Addr:            ":8090",
			MaxParticipants: 8,
			MaxMessageBytes: 64 << 10,
			SendQueue:       256,
			DataDir:         "./data",
			IndexDB:         "index/coopsim.sqlite",
			Journal:         true,
			Mirror: MirrorConfig{
				Region:  "auto",
				Workers: 1,
				Queue:   64,
			},
		},
		Peer: PeerConfig{
			Name:        "peer",
			RelayURL:    "ws://127.0.0.1:8090/v1/session",
			SendQueue:   256,
			MetricsAddr: "",
		},
		Mods: []ModSpec{
			{ServerID: 1, Name: "Base.esm", Index: 0},
		},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.Session.GuardPolicy = strings.ToLower(strings.TrimSpace(c.Session.GuardPolicy))
	if c.Session.GuardPolicy == "" {
		c.Session.GuardPolicy = "warn"
	}
	if c.Session.InboxSize <= 0 {
		c.Session.InboxSize = 1024
	}
	if c.Relay.SendQueue <= 0 {
		c.Relay.SendQueue = 256
	}
	if c.Peer.SendQueue <= 0 {
		c.Peer.SendQueue = 256
	}
	c.Relay.DataDir = strings.TrimSpace(c.Relay.DataDir)
	c.Relay.Mirror.Endpoint = strings.TrimSpace(c.Relay.Mirror.Endpoint)
	if c.Relay.Mirror.Region == "" {
		c.Relay.Mirror.Region = "auto"
	}
	c.Peer.Name = strings.TrimSpace(c.Peer.Name)
}

func (c Config) Validate() error {
	if _, ok := guard.ParsePolicy(c.Session.GuardPolicy); !ok {
		return fmt.Errorf("session.guard_policy must be warn or reject, got %q", c.Session.GuardPolicy)
	}
	if c.Session.FlushInterval <= 0 {
		return fmt.Errorf("session.flush_interval must be > 0")
	}
	if c.Relay.MaxParticipants < 2 {
		return fmt.Errorf("relay.max_participants must be >= 2")
	}
	if c.Relay.MaxMessageBytes <= 0 {
		return fmt.Errorf("relay.max_message_bytes must be > 0")
	}
	if m := c.Relay.Mirror; m.Enabled() {
		if !c.Relay.Journal {
			return fmt.Errorf("relay.mirror needs relay.journal")
		}
		if strings.TrimSpace(m.Bucket) == "" {
			return fmt.Errorf("relay.mirror.bucket must not be empty")
		}
	}
	if c.Peer.Name == "" {
		return fmt.Errorf("peer.name must not be empty")
	}
	servers := map[uint32]bool{}
	for i, m := range c.Mods {
		if servers[m.ServerID] {
			return fmt.Errorf("mods[%d]: duplicate server_id %d", i, m.ServerID)
		}
		servers[m.ServerID] = true
	}
	return nil
}

// GuardPolicy returns the parsed session guard policy.
func (c Config) GuardPolicy() guard.Policy {
	p, _ := guard.ParsePolicy(c.Session.GuardPolicy)
	return p
}

// RegisterMods loads the mod table into defs.
func (c Config) RegisterMods(defs *identity.Definitions) error {
	for _, m := range c.Mods {
		if err := defs.RegisterMod(identity.Mod{ServerID: m.ServerID, Name: m.Name, Light: m.Light, Index: m.Index}); err != nil {
			return err
		}
	}
	return nil
}
