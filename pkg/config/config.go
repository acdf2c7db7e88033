// Package config defines streamcore's JSON-tagged configuration
// structure and defaults, matching the teacher's internal/server.Config
// shape: one struct, one DefaultConfig constructor, JSON tags throughout.
package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/streamcore/streamcore/pkg/wire"
)

// Environment selects the deployment posture, used by cmd/streamserver
// and cmd/streamclient's --environment flag.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

func (e Environment) Valid() bool {
	switch e {
	case EnvDevelopment, EnvStaging, EnvProduction:
		return true
	default:
		return false
	}
}

// Config is streamcore's top-level configuration.
type Config struct {
	// ListenAddr is the UDP/TCP address to listen on (e.g. ":32100").
	ListenAddr string `json:"listen_addr"`

	// Identifier is the opaque session/pairing identifier exchanged
	// during the signaling handshake.
	Identifier string `json:"identifier"`

	// Environment names the deployment (development, staging or
	// production); it is validated and logged at startup.
	Environment Environment `json:"environment"`

	// Webserver is the signaling/discovery server URL this instance
	// advertises; cmd/streamserver logs it at startup.
	Webserver string `json:"webserver,omitempty"`

	// RingSize is the number of reassembly slots per stream.
	RingSize int `json:"ring_size"`

	// MaxPlayers is the number of player slots in a session, the host's
	// slot included; spectators are not counted.
	MaxPlayers int `json:"max_players"`

	// ICEServers is a list of STUN/TURN server URLs for the WebRTC
	// DataChannel fallback transport.
	ICEServers []string `json:"ice_servers"`

	// Stream holds default video/audio streaming parameters.
	Stream StreamConfig `json:"stream"`

	// MetricsAddr, if non-empty, serves Prometheus metrics at this
	// address (e.g. ":9090").
	MetricsAddr string `json:"metrics_addr,omitempty"`
}

// StreamConfig holds the initial video/audio streaming parameters the
// congestion controller is seeded with.
type StreamConfig struct {
	Width         int        `json:"width"`
	Height        int        `json:"height"`
	FPS           int        `json:"fps"`
	BitrateBps    int64      `json:"bitrate_bps"`
	Codec         wire.Codec `json:"codec"`
	AudioChannels int        `json:"audio_channels"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr:  ":32100",
		Environment: EnvDevelopment,
		RingSize:    8,
		MaxPlayers:  4,
		ICEServers: []string{
			"stun:stun.l.google.com:19302",
		},
		Stream: StreamConfig{
			Width:         1920,
			Height:        1080,
			FPS:           60,
			BitrateBps:    8_000_000,
			Codec:         wire.CodecH264,
			AudioChannels: 2,
		},
	}
}

// Load reads a JSON configuration file, applying it on top of
// DefaultConfig so a partial file only overrides what it specifies.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks invariants that JSON decoding alone cannot enforce.
func (c *Config) Validate() error {
	if !c.Environment.Valid() {
		return fmt.Errorf("config: invalid environment %q", c.Environment)
	}
	if c.RingSize <= 0 {
		return fmt.Errorf("config: ring_size must be positive, got %d", c.RingSize)
	}
	if c.Stream.FPS < wire.MinFPS || c.Stream.FPS > wire.MaxFPS {
		return fmt.Errorf("config: fps %d out of range [%d, %d]", c.Stream.FPS, wire.MinFPS, wire.MaxFPS)
	}
	return nil
}
