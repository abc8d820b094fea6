// Package config loads server settings.
//
// Sources are layered, later ones winning:
//
//  1. built-in defaults
//  2. a TOML file (REPLYQUEUE_CONFIG, else ./replyqueue.toml if present)
//  3. a .env file, for variables not already in the environment
//  4. the process environment
//
// Environment names match the ones the Avito bridge has always used, so an
// existing deployment keeps working without a config file.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	qerrors "github.com/vinayprograms/replyqueue/errors"
)

const (
	// FileEnv names the variable holding an explicit config file path.
	FileEnv = "REPLYQUEUE_CONFIG"

	// DefaultFile is read from the working directory when present.
	DefaultFile = "replyqueue.toml"

	// DefaultDotEnv is read from the working directory when present.
	DefaultDotEnv = ".env"
)

// Backends accepted by TaskBackend.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// Config holds every server setting.
type Config struct {
	Port    int    `toml:"port" env:"PORT"`
	TaskKey string `toml:"task_key" env:"TASK_KEY"`
	LogDir  string `toml:"log_dir" env:"LOG_DIR"`
	TaskDir string `toml:"task_dir" env:"TASK_DIR"`

	DefaultReply    string `toml:"default_reply" env:"DEFAULT_REPLY"`
	OnlyFirstSystem bool   `toml:"only_first_system" env:"ONLY_FIRST_SYSTEM"`
	WebhookSecret   string `toml:"webhook_secret" env:"WEBHOOK_SECRET"`
	DefaultAccount  string `toml:"default_account" env:"DEFAULT_ACCOUNT"`

	ClaimWindow     int   `toml:"claim_window" env:"CLAIM_WINDOW"`
	LogTailBytes    int64 `toml:"log_tail_bytes" env:"LOG_TAIL_BYTES"`
	LogSegments     int   `toml:"log_segments" env:"LOG_SEGMENTS"`
	ProximityRadius int   `toml:"proximity_radius" env:"PROXIMITY_RADIUS"`

	TaskBackend   string `toml:"task_backend" env:"TASK_BACKEND"`
	RedisAddr     string `toml:"redis_addr" env:"REDIS_ADDR"`
	RedisPassword string `toml:"redis_password" env:"REDIS_PASSWORD"`
	RedisPrefix   string `toml:"redis_prefix" env:"REDIS_PREFIX"`

	// NATSURL selects the NATS bus; empty keeps notifications in process.
	NATSURL string `toml:"nats_url" env:"NATS_URL"`

	// ClaimRate caps claims per account per ClaimRateWindow. Zero disables it.
	ClaimRate       int           `toml:"claim_rate" env:"CLAIM_RATE"`
	ClaimRateWindow time.Duration `toml:"claim_rate_window" env:"CLAIM_RATE_WINDOW"`

	LogLevel        string        `toml:"log_level" env:"LOG_LEVEL"`
	ShutdownTimeout time.Duration `toml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
}

// Default returns the built-in settings.
func Default() *Config {
	return &Config{
		Port:            3000,
		LogDir:          "/mnt/data/logs",
		TaskDir:         "/mnt/data/tasks",
		DefaultReply:    "Здравствуйте!",
		OnlyFirstSystem: true,
		DefaultAccount:  "hr-main",
		ClaimWindow:     3,
		LogTailBytes:    512000,
		LogSegments:     2,
		ProximityRadius: 2048,
		TaskBackend:     BackendFile,
		RedisAddr:       "localhost:6379",
		RedisPrefix:     "replyqueue:",
		ClaimRateWindow: time.Minute,
		LogLevel:        "info",
		ShutdownTimeout: 10 * time.Second,
	}
}

// Sources selects where Load reads from. Zero fields use the defaults.
type Sources struct {
	// File is the TOML path. Required to exist only when set explicitly.
	File string

	// DotEnv is the .env path.
	DotEnv string

	// Environ replaces the process environment, mainly for tests.
	Environ map[string]string
}

// Load reads configuration from the standard sources.
func Load() (*Config, error) {
	return LoadFrom(Sources{})
}

// LoadFrom reads configuration from the given sources.
func LoadFrom(src Sources) (*Config, error) {
	environ := src.Environ
	if environ == nil {
		environ = processEnv()
	}

	cfg := Default()

	path, required := src.File, src.File != ""
	if !required {
		if p := environ[FileEnv]; p != "" {
			path, required = p, true
		} else {
			path = DefaultFile
		}
	}
	if err := cfg.loadFile(path, required); err != nil {
		return nil, err
	}

	dotenv := src.DotEnv
	if dotenv == "" {
		dotenv = DefaultDotEnv
	}
	merged, err := withDotEnv(environ, dotenv)
	if err != nil {
		return nil, err
	}

	if err := env.ParseWithOptions(cfg, env.Options{Environment: merged}); err != nil {
		return nil, qerrors.InvalidInput("parse environment", qerrors.WithCause(err))
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string, required bool) error {
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) && !required {
			return nil
		}
		return qerrors.InvalidInput("config file "+path, qerrors.WithCause(err))
	}
	md, err := toml.DecodeFile(path, c)
	if err != nil {
		return qerrors.InvalidInput("decode "+path, qerrors.WithCause(err))
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return qerrors.InvalidInput(fmt.Sprintf("%s: unknown keys %s", path, strings.Join(keys, ", ")))
	}
	return nil
}

// withDotEnv returns environ plus any .env variables it does not already set.
func withDotEnv(environ map[string]string, path string) (map[string]string, error) {
	merged := make(map[string]string, len(environ))
	for k, v := range environ {
		merged[k] = v
	}
	vars, err := godotenv.Read(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return merged, nil
		}
		return nil, qerrors.InvalidInput("read "+path, qerrors.WithCause(err))
	}
	for k, v := range vars {
		if _, set := merged[k]; !set {
			merged[k] = v
		}
	}
	return merged, nil
}

func processEnv() map[string]string {
	m := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			m[k] = v
		}
	}
	return m
}

func (c *Config) normalize() {
	c.TaskKey = strings.TrimSpace(c.TaskKey)
	c.TaskBackend = strings.ToLower(strings.TrimSpace(c.TaskBackend))
	c.LogLevel = strings.ToLower(strings.TrimSpace(c.LogLevel))
	if c.DefaultAccount == "" {
		c.DefaultAccount = "hr-main"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch {
	case c.Port <= 0 || c.Port > 65535:
		return qerrors.InvalidInput(fmt.Sprintf("PORT %d out of range", c.Port))
	case c.LogDir == "":
		return qerrors.InvalidInput("LOG_DIR required")
	case c.TaskBackend != BackendFile && c.TaskBackend != BackendRedis:
		return qerrors.InvalidInput(fmt.Sprintf("TASK_BACKEND %q must be %s or %s", c.TaskBackend, BackendFile, BackendRedis))
	case c.TaskBackend == BackendFile && c.TaskDir == "":
		return qerrors.InvalidInput("TASK_DIR required for the file backend")
	case c.TaskBackend == BackendRedis && c.RedisAddr == "":
		return qerrors.InvalidInput("REDIS_ADDR required for the redis backend")
	case c.ClaimWindow <= 0:
		return qerrors.InvalidInput("CLAIM_WINDOW must be positive")
	case c.LogTailBytes <= 0 || c.LogSegments <= 0 || c.ProximityRadius <= 0:
		return qerrors.InvalidInput("LOG_TAIL_BYTES, LOG_SEGMENTS and PROXIMITY_RADIUS must be positive")
	case c.ClaimRate < 0:
		return qerrors.InvalidInput("CLAIM_RATE must not be negative")
	case c.ClaimRate > 0 && c.ClaimRateWindow <= 0:
		return qerrors.InvalidInput("CLAIM_RATE_WINDOW must be positive when CLAIM_RATE is set")
	}
	return nil
}

// Warnings lists settings that are legal but probably unintended.
func (c *Config) Warnings() []string {
	var w []string
	if c.TaskKey == "" {
		w = append(w, "TASK_KEY is empty: every consumer call will be rejected")
	}
	if c.WebhookSecret == "" {
		w = append(w, "WEBHOOK_SECRET is empty: webhook deliveries are not authenticated")
	}
	sort.Strings(w)
	return w
}

// Addr returns the listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}
