package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	qerrors "github.com/vinayprograms/replyqueue/errors"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

// sources points every file at an empty temp directory so the test never
// picks up a stray replyqueue.toml or .env from the working directory.
func sources(t *testing.T, environ map[string]string) Sources {
	dir := t.TempDir()
	if environ == nil {
		environ = map[string]string{}
	}
	return Sources{
		DotEnv:  filepath.Join(dir, ".env"),
		Environ: environ,
	}
}

func TestLoad_Defaults(t *testing.T) {
	src := sources(t, nil)
	src.Environ[FileEnv] = ""
	cfg, err := LoadFrom(src)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	want := Default()
	if *cfg != *want {
		t.Errorf("defaults differ:\n got %+v\nwant %+v", cfg, want)
	}
	if cfg.Addr() != ":3000" {
		t.Errorf("Addr = %s", cfg.Addr())
	}
	if !cfg.OnlyFirstSystem {
		t.Error("ONLY_FIRST_SYSTEM defaults to true")
	}
}

func TestLoad_Layers(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "replyqueue.toml", `
port = 8080
task_key = "from-file"
log_dir = "/var/log/rq"
claim_window = 5
claim_rate = 10
claim_rate_window = "30s"
`)
	dotenv := writeFile(t, dir, ".env", "TASK_KEY=from-dotenv\nLOG_DIR=/dotenv/logs\nDEFAULT_REPLY=Привет\n")

	cfg, err := LoadFrom(Sources{
		File:   file,
		DotEnv: dotenv,
		Environ: map[string]string{
			"LOG_DIR":           "/env/logs",
			"ONLY_FIRST_SYSTEM": "false",
			"SHUTDOWN_TIMEOUT":  "3s",
		},
	})
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}

	tests := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"port from file", cfg.Port, 8080},
		{"window from file", cfg.ClaimWindow, 5},
		{"rate window from file", cfg.ClaimRateWindow, 30 * time.Second},
		{"dotenv beats file", cfg.TaskKey, "from-dotenv"},
		{"env beats dotenv", cfg.LogDir, "/env/logs"},
		{"dotenv fills gaps", cfg.DefaultReply, "Привет"},
		{"env bool", cfg.OnlyFirstSystem, false},
		{"env duration", cfg.ShutdownTimeout, 3 * time.Second},
		{"untouched default", cfg.LogTailBytes, int64(512000)},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s: got %v, want %v", tt.name, tt.got, tt.want)
		}
	}
}

func TestLoad_ConfigFileFromEnv(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "custom.toml", `task_backend = "redis"`+"\n"+`redis_addr = "cache:6379"`)

	src := sources(t, map[string]string{FileEnv: file})
	cfg, err := LoadFrom(src)
	if err != nil {
		t.Fatalf("LoadFrom failed: %v", err)
	}
	if cfg.TaskBackend != BackendRedis || cfg.RedisAddr != "cache:6379" {
		t.Errorf("file named by %s not applied: %+v", FileEnv, cfg)
	}

	src = sources(t, map[string]string{FileEnv: filepath.Join(dir, "missing.toml")})
	if _, err := LoadFrom(src); !qerrors.Is(err, qerrors.ErrCodeInvalidInput) {
		t.Errorf("explicit missing file should fail, got %v", err)
	}
}

func TestLoad_UnknownKey(t *testing.T) {
	file := writeFile(t, t.TempDir(), "replyqueue.toml", "prot = 80\n")
	src := sources(t, nil)
	src.File = file

	_, err := LoadFrom(src)
	if err == nil || !strings.Contains(err.Error(), "prot") {
		t.Errorf("expected unknown key error naming prot, got %v", err)
	}
}

func TestLoad_BadEnv(t *testing.T) {
	src := sources(t, map[string]string{"PORT": "abc"})
	if _, err := LoadFrom(src); !qerrors.Is(err, qerrors.ErrCodeInvalidInput) {
		t.Errorf("expected INVALID_INPUT, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"port zero", func(c *Config) { c.Port = 0 }, false},
		{"port too high", func(c *Config) { c.Port = 70000 }, false},
		{"unknown backend", func(c *Config) { c.TaskBackend = "s3" }, false},
		{"file without dir", func(c *Config) { c.TaskDir = "" }, false},
		{"redis without dir", func(c *Config) { c.TaskBackend = BackendRedis; c.TaskDir = "" }, true},
		{"redis without addr", func(c *Config) { c.TaskBackend = BackendRedis; c.RedisAddr = "" }, false},
		{"zero window", func(c *Config) { c.ClaimWindow = 0 }, false},
		{"zero tail", func(c *Config) { c.LogTailBytes = 0 }, false},
		{"negative rate", func(c *Config) { c.ClaimRate = -1 }, false},
		{"rate without window", func(c *Config) { c.ClaimRate = 5; c.ClaimRateWindow = 0 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.ok && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestWarnings(t *testing.T) {
	cfg := Default()
	w := cfg.Warnings()
	if len(w) != 2 || !strings.HasPrefix(w[0], "TASK_KEY") {
		t.Errorf("unexpected warnings %v", w)
	}

	cfg.TaskKey = "k"
	cfg.WebhookSecret = "s"
	if w := cfg.Warnings(); len(w) != 0 {
		t.Errorf("expected no warnings, got %v", w)
	}
}
