package config

import (
	"errors"
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"snoograb/internal/service"
)

const (
	envVarPrefix = "SNOOGRAB"
	appName      = "snoograb"
	appVersion   = "v0.1.0"

	// ConfigFileEnv names the environment variable holding the config file path.
	ConfigFileEnv = envVarPrefix + "_CONFIG"
)

// Config is the complete runtime configuration. Values are layered: Default, then
// the YAML file, then SNOOGRAB_* environment variables, then command-line flags.
type Config struct {
	// Credentials for the metadata API.
	ClientID     string `envconfig:"SNOOGRAB_CLIENT_ID"     yaml:"client_id"`
	ClientSecret string `envconfig:"SNOOGRAB_CLIENT_SECRET" yaml:"client_secret"`
	Username     string `envconfig:"SNOOGRAB_USERNAME"      yaml:"username"`
	Password     string `envconfig:"SNOOGRAB_PASSWORD"      yaml:"password"`
	UserAgent    string `envconfig:"SNOOGRAB_USER_AGENT"    yaml:"user_agent"`

	OutputDir       string        `envconfig:"SNOOGRAB_OUTPUT_DIR"       yaml:"output_dir"`
	RequestTimeout  time.Duration `envconfig:"SNOOGRAB_REQUEST_TIMEOUT"  yaml:"request_timeout"`
	ChunkSize       int           `envconfig:"SNOOGRAB_CHUNK_SIZE"       yaml:"chunk_size"`
	ConcurrentFetch bool          `envconfig:"SNOOGRAB_CONCURRENT_FETCH" yaml:"concurrent_fetch"`
	Workers         int           `envconfig:"SNOOGRAB_WORKERS"          yaml:"workers"`

	// FFmpegPath is the muxer binary. Empty picks a local ffmpeg.exe or ffmpeg on PATH.
	FFmpegPath string `envconfig:"SNOOGRAB_FFMPEG_PATH" yaml:"ffmpeg_path"`

	Overwrite string `envconfig:"SNOOGRAB_OVERWRITE" yaml:"overwrite"`
	LogLevel  string `envconfig:"SNOOGRAB_LOG_LEVEL" yaml:"log_level"`
}

// Default returns the configuration used when nothing else is set.
func Default() Config {
	return Config{
		OutputDir:      ".",
		RequestTimeout: 30 * time.Minute,
		ChunkSize:      1024,
		Workers:        1,
		Overwrite:      string(service.OverwriteAsk),
		LogLevel:       "info",
	}
}

// Load builds a Config from the defaults, the YAML file at path and the
// environment. An empty path falls back to SNOOGRAB_CONFIG; a missing file is only
// an error when the path was given explicitly.
func Load(path string) (*Config, error) {
	c := Default()

	explicit := path != ""
	if !explicit {
		path = os.Getenv(ConfigFileEnv)
		explicit = path != ""
	}
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, &c); err != nil {
				return nil, fmt.Errorf("unmarshaling config file %s: %w", path, err)
			}
		case errors.Is(err, os.ErrNotExist) && !explicit:
		default:
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	if err := envconfig.Process(envVarPrefix, &c); err != nil {
		return nil, fmt.Errorf("parsing environment variables: %w", err)
	}
	return &c, nil
}

// Validate reports the first missing or out-of-range setting.
func (c *Config) Validate() error {
	if y, e := func() (string, string) {
		if c.ClientID == "" {
			return "client_id", "CLIENT_ID"
		}
		if c.OutputDir == "" {
			return "output_dir", "OUTPUT_DIR"
		}
		return "", ""
	}(); y != "" {
		return fmt.Errorf("missing required configuration: %s / %s_%s", y, envVarPrefix, e)
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("request_timeout must be positive, got %s", c.RequestTimeout)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk_size must be positive, got %d", c.ChunkSize)
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", c.Workers)
	}
	if _, err := service.ParseOverwriteMode(c.Overwrite); err != nil {
		return err
	}
	if hclog.LevelFromString(c.LogLevel) == hclog.NoLevel {
		return fmt.Errorf("invalid log_level `%s`", c.LogLevel)
	}
	return nil
}

// EffectiveUserAgent returns the configured user agent, or one built from the
// platform and username.
func (c *Config) EffectiveUserAgent() string {
	if c.UserAgent != "" {
		return c.UserAgent
	}
	user := c.Username
	if user == "" {
		user = "unknown"
	}
	return fmt.Sprintf("%s:%s:%s (by /u/%s)", runtime.GOOS, appName, appVersion, user)
}
