// Package config provides configuration and CLI argument parsing for
// the voice client.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

// Config holds all configuration for the client. Populated from CLI
// flags, environment variables, or defaults, in that precedence.
type Config struct {
	// Server is the RPC server address (host:port). The voice datagram
	// endpoint is derived from its host and the server-reported port.
	Server string

	// DataDir is where the local profile database lives.
	DataDir string

	// Login / Password are used for a first login when no stored
	// session key is usable. Optional once a key is persisted.
	Login    string
	Password string

	// JoinChannel, when non-zero, joins that voice channel right after
	// login.
	JoinChannel int32

	// CaptureVolume / PlaybackVolume are master multipliers (1.0 =
	// unity).
	CaptureVolume  float64
	PlaybackVolume float64

	// SpeakerIdleTimeout is how long a silent speaker's queue is kept
	// before reclamation.
	SpeakerIdleTimeout time.Duration

	// Verbose enables debug logging.
	Verbose bool
}

// ParseFlags builds a Config from the environment and command line.
func ParseFlags() (*Config, error) {
	// A local .env is a convenience for development setups; a missing
	// file is fine.
	_ = godotenv.Load()

	cfg := &Config{}
	joinChannel := 0

	pflag.StringVar(&cfg.Server, "server", envOr("HAZEL_SERVER", ""), "RPC server address (host:port)")
	pflag.StringVar(&cfg.DataDir, "data-dir", envOr("HAZEL_DATA_DIR", defaultDataDir()), "Profile data directory")
	pflag.StringVar(&cfg.Login, "login", envOr("HAZEL_LOGIN", ""), "Login for first-time authentication")
	pflag.StringVar(&cfg.Password, "password", envOr("HAZEL_PASSWORD", ""), "Password for first-time authentication")
	pflag.IntVar(&joinChannel, "join", envOrInt("HAZEL_JOIN_CHANNEL", 0), "Voice channel id to join after login")
	pflag.Float64Var(&cfg.CaptureVolume, "capture-volume", 1.0, "Capture volume multiplier")
	pflag.Float64Var(&cfg.PlaybackVolume, "playback-volume", 1.0, "Playback volume multiplier")
	pflag.DurationVar(&cfg.SpeakerIdleTimeout, "speaker-idle-timeout", 30*time.Second, "Reclaim a silent speaker's buffers after this long")
	pflag.BoolVarP(&cfg.Verbose, "verbose", "v", false, "Enable debug logging")
	pflag.Parse()

	cfg.JoinChannel = int32(joinChannel)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server == "" {
		return fmt.Errorf("config: --server (or HAZEL_SERVER) is required")
	}
	if c.CaptureVolume < 0 || c.PlaybackVolume < 0 {
		return fmt.Errorf("config: volume multipliers must be non-negative")
	}
	if c.SpeakerIdleTimeout <= 0 {
		return fmt.Errorf("config: speaker idle timeout must be positive")
	}
	return nil
}

func envOr(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func defaultDataDir() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".hazel"
	}
	return filepath.Join(dir, "hazel")
}
