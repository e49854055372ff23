package sandbox

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kingrea/campus/internal/config"
)

const (
	DefaultHost = "127.0.0.1"
	DefaultPort = 5050
	// DefaultTokenTTL matches the portal's one-day access tokens.
	DefaultTokenTTL = 24 * time.Hour
	// MinTokenTTL and MaxTokenTTL bound the configurable token lifetime.
	MinTokenTTL = time.Minute
	MaxTokenTTL = 7 * 24 * time.Hour
	// DefaultMaxBodyBytes limits request payloads to 1 MB.
	DefaultMaxBodyBytes int64 = 1 << 20

	minSecretBytes   = 16
	defaultIOTimeout = 15 * time.Second
)

// ErrInvalidSettings wraps every settings rejection.
var ErrInvalidSettings = errors.New("sandbox: invalid settings")

// Settings is the resolved runtime configuration of a sandbox server.
type Settings struct {
	Host string
	Port int
	// Secret signs issued tokens. Empty means a random secret per process,
	// so tokens do not survive a restart.
	Secret       []byte
	TokenTTL     time.Duration
	MaxBodyBytes int64
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// SettingsFromConfig resolves the sandbox section of config.yaml and the
// CAMPUS_SANDBOX_* variables. Malformed overrides are errors.
func SettingsFromConfig(cfg *config.Config) (Settings, error) {
	var s Settings
	if cfg != nil {
		raw := cfg.File.Sandbox
		s.Host = raw.Host
		s.Port = raw.Port
		s.TokenTTL = raw.TokenTTL
		if raw.Secret != "" {
			s.Secret = []byte(raw.Secret)
		}
	}
	for _, o := range envOverrides {
		value := strings.TrimSpace(os.Getenv(o.name))
		if value == "" {
			continue
		}
		if err := o.apply(&s, value); err != nil {
			return Settings{}, fmt.Errorf("%w: %s=%q: %v", ErrInvalidSettings, o.name, value, err)
		}
	}
	if err := s.normalize(); err != nil {
		return Settings{}, err
	}
	return s, nil
}

type envOverride struct {
	name  string
	apply func(*Settings, string) error
}

var envOverrides = []envOverride{
	{"CAMPUS_SANDBOX_HOST", func(s *Settings, v string) error {
		s.Host = v
		return nil
	}},
	{"CAMPUS_SANDBOX_PORT", func(s *Settings, v string) error {
		port, err := strconv.Atoi(v)
		if err != nil {
			return errors.New("not a number")
		}
		s.Port = port
		return nil
	}},
	{"CAMPUS_SANDBOX_TOKEN_TTL", func(s *Settings, v string) error {
		ttl, err := time.ParseDuration(v)
		if err != nil {
			return errors.New("not a duration")
		}
		s.TokenTTL = ttl
		return nil
	}},
	{"CAMPUS_SANDBOX_SECRET", func(s *Settings, v string) error {
		s.Secret = []byte(v)
		return nil
	}},
}

// normalize fills zero values and rejects what the server cannot run with.
func (s *Settings) normalize() error {
	s.Host = strings.TrimSpace(s.Host)
	if s.Host == "" {
		s.Host = DefaultHost
	}
	switch {
	case s.Port == 0:
		s.Port = DefaultPort
	case s.Port < 0 || s.Port > 65535:
		return fmt.Errorf("%w: port %d out of range", ErrInvalidSettings, s.Port)
	}
	switch {
	case s.TokenTTL == 0:
		s.TokenTTL = DefaultTokenTTL
	case s.TokenTTL < MinTokenTTL || s.TokenTTL > MaxTokenTTL:
		return fmt.Errorf("%w: token TTL %s must be between %s and %s", ErrInvalidSettings, s.TokenTTL, MinTokenTTL, MaxTokenTTL)
	}
	if n := len(s.Secret); n > 0 && n < minSecretBytes {
		return fmt.Errorf("%w: secret must be at least %d bytes", ErrInvalidSettings, minSecretBytes)
	}
	if s.MaxBodyBytes <= 0 {
		s.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if s.ReadTimeout <= 0 {
		s.ReadTimeout = defaultIOTimeout
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = defaultIOTimeout
	}
	return nil
}

// Address returns the TCP bind address in host:port form.
func (s Settings) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// URL returns the API base URL the client should be pointed at.
func (s Settings) URL() string {
	return "http://" + s.Address() + "/api"
}
