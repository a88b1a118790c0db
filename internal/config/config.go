package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

const (
	defaultListenAddr    = ":8080"
	defaultDBPath        = "beamlab.db"
	defaultAPIBaseURL    = "http://localhost:8081"
	defaultNodeThreshold = 2000
	defaultPollInterval  = 500 * time.Millisecond
	defaultMaxPollTime   = 300 * time.Second
	defaultSubmitRate    = 2
	defaultSubmitBurst   = 5

	envConfigFile    = "BEAMLAB_CONFIG"
	envListenAddr    = "BEAMLAB_LISTEN_ADDR"
	envDBPath        = "BEAMLAB_DB_PATH"
	envLogLevel      = "BEAMLAB_LOG_LEVEL"
	envAPIBaseURL    = "BEAMLAB_API_BASE_URL"
	envNodeThreshold = "BEAMLAB_NODE_THRESHOLD"
	envPollInterval  = "BEAMLAB_POLL_INTERVAL"
	envMaxPollTime   = "BEAMLAB_MAX_POLL_TIME"
	envSolverCmd     = "BEAMLAB_SOLVER_CMD"
	envSubmitRate    = "BEAMLAB_SUBMIT_RATE"
	envSubmitBurst   = "BEAMLAB_SUBMIT_BURST"
)

// Config holds application configuration.
type Config struct {
	ListenAddr string
	DBPath     string
	LogLevel   slog.Level

	// APIBaseURL is the remote solver service, e.g. http://host:8081.
	APIBaseURL    string
	NodeThreshold int
	PollInterval  time.Duration
	MaxPollTime   time.Duration

	// SolverCommand runs the local numeric kernel. Empty selects the null kernel.
	SolverCommand string

	// SubmitRate limits analysis submissions per second; SubmitBurst is the
	// bucket size.
	SubmitRate  float64
	SubmitBurst int
}

// fileConfig is the TOML layout of the optional config file.
type fileConfig struct {
	ListenAddr string `toml:"listen_addr"`
	DBPath     string `toml:"db_path"`
	LogLevel   string `toml:"log_level"`

	Remote struct {
		APIBaseURL    string        `toml:"api_base_url"`
		NodeThreshold int           `toml:"node_threshold"`
		PollInterval  time.Duration `toml:"poll_interval"`
		MaxPollTime   time.Duration `toml:"max_poll_time"`
	} `toml:"remote"`

	Solver struct {
		Command string `toml:"command"`
	} `toml:"solver"`

	API struct {
		SubmitRate  float64 `toml:"submit_rate"`
		SubmitBurst int     `toml:"submit_burst"`
	} `toml:"api"`
}

// Load builds the configuration from defaults, then the TOML file named by
// BEAMLAB_CONFIG (if set), then environment variables.
func Load() (Config, error) {
	return LoadFile(os.Getenv(envConfigFile))
}

// LoadFile is Load with an explicit config file path. An empty path skips
// the file.
func LoadFile(path string) (Config, error) {
	cfg := Config{
		ListenAddr:    defaultListenAddr,
		DBPath:        defaultDBPath,
		LogLevel:      slog.LevelInfo,
		APIBaseURL:    defaultAPIBaseURL,
		NodeThreshold: defaultNodeThreshold,
		PollInterval:  defaultPollInterval,
		MaxPollTime:   defaultMaxPollTime,
		SubmitRate:    defaultSubmitRate,
		SubmitBurst:   defaultSubmitBurst,
	}

	if path != "" {
		if err := loadFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func loadFile(cfg *Config, path string) error {
	var fc fileConfig
	if _, err := toml.DecodeFile(path, &fc); err != nil {
		return fmt.Errorf("decode config file %s: %w", path, err)
	}

	setString(&cfg.ListenAddr, fc.ListenAddr)
	setString(&cfg.DBPath, fc.DBPath)
	if fc.LogLevel != "" {
		cfg.LogLevel = parseLogLevel(fc.LogLevel)
	}
	setString(&cfg.APIBaseURL, fc.Remote.APIBaseURL)
	if fc.Remote.NodeThreshold != 0 {
		cfg.NodeThreshold = fc.Remote.NodeThreshold
	}
	if fc.Remote.PollInterval != 0 {
		cfg.PollInterval = fc.Remote.PollInterval
	}
	if fc.Remote.MaxPollTime != 0 {
		cfg.MaxPollTime = fc.Remote.MaxPollTime
	}
	setString(&cfg.SolverCommand, fc.Solver.Command)
	if fc.API.SubmitRate != 0 {
		cfg.SubmitRate = fc.API.SubmitRate
	}
	if fc.API.SubmitBurst != 0 {
		cfg.SubmitBurst = fc.API.SubmitBurst
	}
	return nil
}

func applyEnv(cfg *Config) error {
	setString(&cfg.ListenAddr, os.Getenv(envListenAddr))
	setString(&cfg.DBPath, os.Getenv(envDBPath))
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	setString(&cfg.APIBaseURL, os.Getenv(envAPIBaseURL))
	setString(&cfg.SolverCommand, os.Getenv(envSolverCmd))

	if v := os.Getenv(envNodeThreshold); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envNodeThreshold, err)
		}
		cfg.NodeThreshold = n
	}
	if v := os.Getenv(envPollInterval); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envPollInterval, err)
		}
		cfg.PollInterval = d
	}
	if v := os.Getenv(envMaxPollTime); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envMaxPollTime, err)
		}
		cfg.MaxPollTime = d
	}
	if v := os.Getenv(envSubmitRate); v != "" {
		r, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envSubmitRate, err)
		}
		cfg.SubmitRate = r
	}
	if v := os.Getenv(envSubmitBurst); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse %s: %w", envSubmitBurst, err)
		}
		cfg.SubmitBurst = n
	}
	return nil
}

// Validate checks that numeric settings are usable.
func (c Config) Validate() error {
	switch {
	case c.NodeThreshold <= 0:
		return fmt.Errorf("node threshold must be positive, got %d", c.NodeThreshold)
	case c.PollInterval <= 0:
		return fmt.Errorf("poll interval must be positive, got %s", c.PollInterval)
	case c.MaxPollTime < c.PollInterval:
		return fmt.Errorf("max poll time %s is shorter than poll interval %s", c.MaxPollTime, c.PollInterval)
	case c.SubmitRate <= 0 || c.SubmitBurst <= 0:
		return fmt.Errorf("submit rate and burst must be positive")
	}
	return nil
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}
