package app

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/raysh454/cropscan/internal/diagnosis"
	"github.com/raysh454/cropscan/internal/scanstore"
	"github.com/raysh454/cropscan/internal/utils"
)

// EnvPrefix namespaces environment overrides, e.g. CROPSCAN_API_BASE_URL.
const EnvPrefix = "CROPSCAN"

const (
	ConnectivityProbe = "probe"
	ConnectivityPush  = "push"
)

// Config is the runtime configuration for the agent.
type Config struct {
	// DataDir holds the scan database. "~" is expanded.
	DataDir string `mapstructure:"data_dir"`
	DBFile  string `mapstructure:"db_file"`

	// ListenAddr is the local HTTP API address.
	ListenAddr string `mapstructure:"listen_addr"`

	API          APIConfig          `mapstructure:"api"`
	Connectivity ConnectivityConfig `mapstructure:"connectivity"`
	Log          LogConfig          `mapstructure:"log"`
}

type APIConfig struct {
	BaseURL           string        `mapstructure:"base_url"`
	UserAgent         string        `mapstructure:"user_agent"`
	RequestTimeout    time.Duration `mapstructure:"request_timeout"`
	UploadTimeout     time.Duration `mapstructure:"upload_timeout"`
	LocationCellLevel int           `mapstructure:"location_cell_level"`
}

type ConnectivityConfig struct {
	// Mode is "probe" (poll ProbeURL) or "push" (events arrive over the
	// local HTTP API only).
	Mode          string        `mapstructure:"mode"`
	ProbeURL      string        `mapstructure:"probe_url"`
	ProbeInterval time.Duration `mapstructure:"probe_interval"`
	ProbeTimeout  time.Duration `mapstructure:"probe_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// DefaultConfig returns a Config populated with sensible development defaults.
func DefaultConfig() *Config {
	return &Config{
		DataDir:    "~/.config/cropscan",
		DBFile:     scanstore.DefaultFileName,
		ListenAddr: "127.0.0.1:8787",
		API: APIConfig{
			BaseURL:           "http://localhost:8000/api/v1",
			UserAgent:         "cropscan/0.1",
			RequestTimeout:    diagnosis.DefaultRequestTimeout,
			UploadTimeout:     diagnosis.DefaultUploadTimeout,
			LocationCellLevel: 13,
		},
		Connectivity: ConnectivityConfig{
			Mode:          ConnectivityProbe,
			ProbeInterval: 15 * time.Second,
			ProbeTimeout:  5 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// SetDefaults registers every key of DefaultConfig with v so env vars and
// flags can override keys the config file leaves out.
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()
	v.SetDefault("data_dir", d.DataDir)
	v.SetDefault("db_file", d.DBFile)
	v.SetDefault("listen_addr", d.ListenAddr)
	v.SetDefault("api.base_url", d.API.BaseURL)
	v.SetDefault("api.user_agent", d.API.UserAgent)
	v.SetDefault("api.request_timeout", d.API.RequestTimeout)
	v.SetDefault("api.upload_timeout", d.API.UploadTimeout)
	v.SetDefault("api.location_cell_level", d.API.LocationCellLevel)
	v.SetDefault("connectivity.mode", d.Connectivity.Mode)
	v.SetDefault("connectivity.probe_url", d.Connectivity.ProbeURL)
	v.SetDefault("connectivity.probe_interval", d.Connectivity.ProbeInterval)
	v.SetDefault("connectivity.probe_timeout", d.Connectivity.ProbeTimeout)
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.format", d.Log.Format)
}

// LoadConfig reads configuration from (in increasing priority) defaults,
// the YAML file at configFile if non-empty, CROPSCAN_* environment
// variables and any flags already bound to v. The result is validated.
func LoadConfig(v *viper.Viper, configFile string) (*Config, error) {
	if v == nil {
		v = viper.New()
	}
	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", configFile, err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decoding config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate normalizes paths and URLs in place and rejects unusable values.
func (c *Config) Validate() error {
	var errs []error

	dir, err := utils.ExpandPath(strings.TrimSpace(c.DataDir))
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("data_dir: %w", err))
	case dir == "":
		errs = append(errs, errors.New("data_dir: must not be empty"))
	default:
		c.DataDir = dir
	}
	if c.DBFile == "" {
		c.DBFile = scanstore.DefaultFileName
	}

	base, err := utils.Canonicalize(c.API.BaseURL, utils.CanonicalizeOptions{
		DefaultScheme:      "http",
		StripTrailingSlash: true,
		DropQuery:          true,
	})
	if err != nil {
		errs = append(errs, fmt.Errorf("api.base_url: %w", err))
	} else {
		c.API.BaseURL = strings.TrimRight(base, "/")
	}
	if c.API.RequestTimeout <= 0 {
		errs = append(errs, errors.New("api.request_timeout: must be positive"))
	}
	if c.API.UploadTimeout <= 0 {
		errs = append(errs, errors.New("api.upload_timeout: must be positive"))
	}
	if c.API.LocationCellLevel < 0 || c.API.LocationCellLevel > 30 {
		errs = append(errs, fmt.Errorf("api.location_cell_level: %d not in [0,30]", c.API.LocationCellLevel))
	}

	switch c.Connectivity.Mode {
	case ConnectivityProbe:
		if c.Connectivity.ProbeInterval <= 0 {
			errs = append(errs, errors.New("connectivity.probe_interval: must be positive"))
		}
		if c.Connectivity.ProbeURL != "" {
			probe, err := utils.Canonicalize(c.Connectivity.ProbeURL, utils.CanonicalizeOptions{DefaultScheme: "http"})
			if err != nil {
				errs = append(errs, fmt.Errorf("connectivity.probe_url: %w", err))
			} else {
				c.Connectivity.ProbeURL = probe
			}
		}
	case ConnectivityPush:
	default:
		errs = append(errs, fmt.Errorf("connectivity.mode: %q is not %q or %q", c.Connectivity.Mode, ConnectivityProbe, ConnectivityPush))
	}

	if c.ListenAddr == "" {
		errs = append(errs, errors.New("listen_addr: must not be empty"))
	}
	return errors.Join(errs...)
}

// DBPath is the scan database location.
func (c *Config) DBPath() string {
	return filepath.Join(c.DataDir, c.DBFile)
}

// ProbeTarget is the URL the connectivity prober polls. The diagnosis
// service serves /health at its origin, outside the versioned API root.
func (c *Config) ProbeTarget() (string, error) {
	if c.Connectivity.ProbeURL != "" {
		return c.Connectivity.ProbeURL, nil
	}
	origin, err := utils.Origin(c.API.BaseURL)
	if err != nil {
		return "", err
	}
	return origin + "/health", nil
}
