// internal/config/config.go
//
// This package handles configuration and the ~/.campus directory structure.
// Every user of campus gets a home directory holding config, logs and the
// persisted session.

package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const (
	// HomeDirName is the directory created under the user's home directory.
	HomeDirName = ".campus"

	defaultBaseURL     = "http://localhost:5000/api"
	defaultTimeout     = 10 * time.Second
	defaultType        = "公欠"
	defaultWarningRate = 80.0
	defaultSandboxHost = "127.0.0.1"
	defaultSandboxPort = 5050
)

// DefaultExcusedReasons lists the fixed reason categories for excused absences.
// The last entry is the free-text category.
var DefaultExcusedReasons = []string{"入社試験", "会社訪問", "面接", "健康診断", "忌引", "その他"}

const defaultConfigYAML = `# campus configuration
version: 1

api:
  # Base URL of the portal API. Every endpoint path is appended to it.
  base_url: http://localhost:5000/api
  timeout: 10s

attendance:
  default_type: 公欠
  # Fixed categories offered for 公欠. その他 asks for a free-text reason.
  excused_reasons: [入社試験, 会社訪問, 面接, 健康診断, 忌引, その他]
  warning_rate: 80

sandbox:
  host: 127.0.0.1
  port: 5050
  token_ttl: 24h
  # secret: at-least-16-bytes-long
`

// APIConfig points the client at the portal backend.
type APIConfig struct {
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// AttendanceConfig tunes the application form.
type AttendanceConfig struct {
	DefaultType    string   `yaml:"default_type"`
	ExcusedReasons []string `yaml:"excused_reasons"`
	WarningRate    float64  `yaml:"warning_rate"`
}

// SandboxConfig controls the local sandbox server.
type SandboxConfig struct {
	Host     string        `yaml:"host"`
	Port     int           `yaml:"port"`
	TokenTTL time.Duration `yaml:"token_ttl"`
	// Secret signs sandbox tokens; empty picks a random one per run.
	Secret string `yaml:"secret"`
}

// FileConfig models ~/.campus/config.yaml.
type FileConfig struct {
	Version    int              `yaml:"version"`
	API        APIConfig        `yaml:"api"`
	Attendance AttendanceConfig `yaml:"attendance"`
	Sandbox    SandboxConfig    `yaml:"sandbox"`
}

// Config holds the runtime configuration for campus.
type Config struct {
	// HomeDir is ~/.campus or the CAMPUS_HOME override
	HomeDir string

	File FileConfig
}

// ResolveHome returns the campus home directory. An explicit value wins,
// then CAMPUS_HOME, then ~/.campus.
func ResolveHome(explicit string) (string, error) {
	if dir := strings.TrimSpace(explicit); dir != "" {
		return filepath.Abs(dir)
	}
	if dir := strings.TrimSpace(os.Getenv("CAMPUS_HOME")); dir != "" {
		return filepath.Abs(dir)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home: %w", err)
	}
	return filepath.Join(home, HomeDirName), nil
}

// InitHomeDir creates the campus directory structure.
//
// Structure created:
// ~/.campus/
// ├── config.yaml
// ├── logs/    <- campus.log
// └── state/   <- session.json
func InitHomeDir(homeDir string) error {
	dirs := []string{
		filepath.Join(homeDir, "logs"),
		filepath.Join(homeDir, "state"),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return ensureConfigFile(filepath.Join(homeDir, "config.yaml"))
}

// Load reads .env from the working directory (if present), the config file
// and the environment overrides.
func Load(homeDir string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	cfg := &Config{
		HomeDir: homeDir,
		File:    defaultFileConfig(),
	}
	if err := cfg.loadFile(); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LogsDir returns the path to the logs directory
func (c *Config) LogsDir() string {
	return filepath.Join(c.HomeDir, "logs")
}

// LogPath returns the campus log file.
func (c *Config) LogPath() string {
	return filepath.Join(c.LogsDir(), "campus.log")
}

// StateDir returns the path to the state directory
func (c *Config) StateDir() string {
	return filepath.Join(c.HomeDir, "state")
}

// SessionPath returns where the bearer token is persisted.
func (c *Config) SessionPath() string {
	return filepath.Join(c.StateDir(), "session.json")
}

// ConfigPath returns the on-disk location for the config file.
func (c *Config) ConfigPath() string {
	return filepath.Join(c.HomeDir, "config.yaml")
}

// BaseURL returns the API base URL.
func (c *Config) BaseURL() string {
	return c.File.API.BaseURL
}

// Timeout returns the per-request timeout.
func (c *Config) Timeout() time.Duration {
	return c.File.API.Timeout
}

// ExcusedReasons returns the configured 公欠 categories.
func (c *Config) ExcusedReasons() []string {
	return append([]string(nil), c.File.Attendance.ExcusedReasons...)
}

// WarningRate returns the attendance rate below which a warning is shown.
func (c *Config) WarningRate() float64 {
	return c.File.Attendance.WarningRate
}

// DefaultApplicationType returns the type preselected in the form.
func (c *Config) DefaultApplicationType() string {
	return c.File.Attendance.DefaultType
}

func (c *Config) loadFile() error {
	path := c.ConfigPath()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var parsed FileConfig
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	parsed.applyDefaults()
	parsed.normalize()
	if err := parsed.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	c.File = parsed
	return nil
}

func (c *Config) applyEnvOverrides() error {
	if value := strings.TrimSpace(os.Getenv("CAMPUS_API_URL")); value != "" {
		c.File.API.BaseURL = strings.TrimRight(value, "/")
	}
	if value := strings.TrimSpace(os.Getenv("CAMPUS_API_TIMEOUT")); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil && parsed > 0 {
			c.File.API.Timeout = parsed
		}
	}
	if value := strings.TrimSpace(os.Getenv("CAMPUS_SANDBOX_PORT")); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil && isValidPort(parsed) {
			c.File.Sandbox.Port = parsed
		}
	}
	if err := c.File.validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	return nil
}

func defaultFileConfig() FileConfig {
	return FileConfig{
		Version: 1,
		API: APIConfig{
			BaseURL: defaultBaseURL,
			Timeout: defaultTimeout,
		},
		Attendance: AttendanceConfig{
			DefaultType:    defaultType,
			ExcusedReasons: append([]string(nil), DefaultExcusedReasons...),
			WarningRate:    defaultWarningRate,
		},
		Sandbox: SandboxConfig{
			Host: defaultSandboxHost,
			Port: defaultSandboxPort,
		},
	}
}

func (fc *FileConfig) applyDefaults() {
	if fc.Version == 0 {
		fc.Version = 1
	}
	if strings.TrimSpace(fc.API.BaseURL) == "" {
		fc.API.BaseURL = defaultBaseURL
	}
	if fc.API.Timeout <= 0 {
		fc.API.Timeout = defaultTimeout
	}
	if strings.TrimSpace(fc.Attendance.DefaultType) == "" {
		fc.Attendance.DefaultType = defaultType
	}
	if len(fc.Attendance.ExcusedReasons) == 0 {
		fc.Attendance.ExcusedReasons = append([]string(nil), DefaultExcusedReasons...)
	}
	if fc.Attendance.WarningRate == 0 {
		fc.Attendance.WarningRate = defaultWarningRate
	}
	if strings.TrimSpace(fc.Sandbox.Host) == "" {
		fc.Sandbox.Host = defaultSandboxHost
	}
	if fc.Sandbox.Port == 0 {
		fc.Sandbox.Port = defaultSandboxPort
	}
}

func (fc *FileConfig) normalize() {
	fc.API.BaseURL = strings.TrimRight(strings.TrimSpace(fc.API.BaseURL), "/")
	fc.Attendance.DefaultType = strings.TrimSpace(fc.Attendance.DefaultType)
	reasons := make([]string, 0, len(fc.Attendance.ExcusedReasons))
	for _, reason := range fc.Attendance.ExcusedReasons {
		if trimmed := strings.TrimSpace(reason); trimmed != "" && !contains(reasons, trimmed) {
			reasons = append(reasons, trimmed)
		}
	}
	// その他 must stay available and last so free text is always possible.
	other := DefaultExcusedReasons[len(DefaultExcusedReasons)-1]
	filtered := reasons[:0]
	for _, reason := range reasons {
		if reason != other {
			filtered = append(filtered, reason)
		}
	}
	fc.Attendance.ExcusedReasons = append(filtered, other)
	fc.Sandbox.Host = strings.TrimSpace(fc.Sandbox.Host)
}

func (fc *FileConfig) validate() error {
	if fc.Version < 1 {
		return fmt.Errorf("config version must be >= 1")
	}
	parsed, err := url.Parse(fc.API.BaseURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return fmt.Errorf("api.base_url must be an absolute URL, got %q", fc.API.BaseURL)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("api.base_url scheme must be http or https")
	}
	switch fc.Attendance.DefaultType {
	case "公欠", "欠席", "遅刻", "早退":
	default:
		return fmt.Errorf("attendance.default_type must be one of 公欠, 欠席, 遅刻, 早退")
	}
	if fc.Attendance.WarningRate < 0 || fc.Attendance.WarningRate > 100 {
		return fmt.Errorf("attendance.warning_rate must be between 0 and 100")
	}
	if !isValidPort(fc.Sandbox.Port) {
		return fmt.Errorf("sandbox.port must be between 1 and 65535")
	}
	return nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: stat %s: %w", path, err)
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("config: load %s: %w", path, err)
	}
	return nil
}

func contains(values []string, target string) bool {
	for _, v := range values {
		if v == target {
			return true
		}
	}
	return false
}

func isValidPort(port int) bool {
	return port > 0 && port <= 65535
}

func ensureConfigFile(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return os.WriteFile(path, []byte(defaultConfigYAML), 0o644)
}
