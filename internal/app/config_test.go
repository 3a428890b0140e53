package app_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"

	"github.com/raysh454/cropscan/internal/app"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := app.LoadConfig(viper.New(), "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.BaseURL != "http://localhost:8000/api/v1" {
		t.Errorf("unexpected base url %q", cfg.API.BaseURL)
	}
	if cfg.API.UploadTimeout != 60*time.Second {
		t.Errorf("expected 60s upload timeout, got %v", cfg.API.UploadTimeout)
	}
	if strings.HasPrefix(cfg.DataDir, "~") {
		t.Errorf("expected data dir to be expanded, got %q", cfg.DataDir)
	}
	if filepath.Base(cfg.DBPath()) != "crop_diagnosis.db" {
		t.Errorf("unexpected db path %q", cfg.DBPath())
	}
}

func TestLoadConfig_File(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cropscan.yaml")
	yaml := `
data_dir: ` + dir + `
listen_addr: 127.0.0.1:9999
api:
  base_url: HTTP://Diag.Example.com:80/api/v1/
  upload_timeout: 90s
  location_cell_level: 0
connectivity:
  mode: push
log:
  level: debug
  format: text
`
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := app.LoadConfig(viper.New(), path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.BaseURL != "http://diag.example.com/api/v1" {
		t.Errorf("expected canonical base url, got %q", cfg.API.BaseURL)
	}
	if cfg.API.UploadTimeout != 90*time.Second {
		t.Errorf("expected 90s, got %v", cfg.API.UploadTimeout)
	}
	if cfg.API.RequestTimeout != 15*time.Second {
		t.Errorf("expected default request timeout, got %v", cfg.API.RequestTimeout)
	}
	if cfg.Connectivity.Mode != app.ConnectivityPush || cfg.ListenAddr != "127.0.0.1:9999" {
		t.Errorf("unexpected config %+v", cfg)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "text" {
		t.Errorf("unexpected log config %+v", cfg.Log)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	t.Setenv("CROPSCAN_API_BASE_URL", "192.168.1.20:8000/api/v1")
	t.Setenv("CROPSCAN_CONNECTIVITY_MODE", "push")
	t.Setenv("CROPSCAN_API_UPLOAD_TIMEOUT", "2m")

	cfg, err := app.LoadConfig(viper.New(), "")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.API.BaseURL != "http://192.168.1.20:8000/api/v1" {
		t.Errorf("unexpected base url %q", cfg.API.BaseURL)
	}
	if cfg.Connectivity.Mode != app.ConnectivityPush {
		t.Errorf("expected push mode, got %q", cfg.Connectivity.Mode)
	}
	if cfg.API.UploadTimeout != 2*time.Minute {
		t.Errorf("expected 2m, got %v", cfg.API.UploadTimeout)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	if _, err := app.LoadConfig(viper.New(), filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestConfig_ValidateRejects(t *testing.T) {
	t.Parallel()
	cases := map[string]func(*app.Config){
		"bad mode":       func(c *app.Config) { c.Connectivity.Mode = "netinfo" },
		"empty base url": func(c *app.Config) { c.API.BaseURL = "" },
		"ftp base url":   func(c *app.Config) { c.API.BaseURL = "ftp://x/api" },
		"zero timeout":   func(c *app.Config) { c.API.UploadTimeout = 0 },
		"cell level":     func(c *app.Config) { c.API.LocationCellLevel = 31 },
		"empty data dir": func(c *app.Config) { c.DataDir = " " },
		"probe interval": func(c *app.Config) { c.Connectivity.ProbeInterval = 0 },
		"listen addr":    func(c *app.Config) { c.ListenAddr = "" },
	}
	for name, mutate := range cases {
		cfg := app.DefaultConfig()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestConfig_ProbeTarget(t *testing.T) {
	t.Parallel()
	cfg := app.DefaultConfig()
	cfg.API.BaseURL = "https://diag.example.com/api/v1"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	got, err := cfg.ProbeTarget()
	if err != nil {
		t.Fatalf("ProbeTarget: %v", err)
	}
	if got != "https://diag.example.com/health" {
		t.Errorf("unexpected probe target %q", got)
	}

	cfg.Connectivity.ProbeURL = "https://status.example.com/ping"
	if got, _ := cfg.ProbeTarget(); got != "https://status.example.com/ping" {
		t.Errorf("explicit probe url should win, got %q", got)
	}
}
