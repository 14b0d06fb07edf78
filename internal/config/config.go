package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"draftclinic/internal/domain"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in a workspace.
const FileName = "draftclinic.yml"

// Config models draftclinic.yml.
type Config struct {
	Server struct {
		Addr               string   `yaml:"addr"`
		BasePath           string   `yaml:"base_path"`
		CORSOrigins        []string `yaml:"cors_origins"`
		ReadTimeoutSeconds int      `yaml:"read_timeout_seconds"`
	} `yaml:"server"`
	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`
	Auth struct {
		AccessTTLMinutes int `yaml:"access_ttl_minutes"`
		RefreshTTLHours  int `yaml:"refresh_ttl_hours"`
	} `yaml:"auth"`
	Storage Storage `yaml:"storage"`
	Redis   struct {
		URL string `yaml:"url"`
	} `yaml:"redis"`
	Log struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"log"`
	Webhooks Webhooks `yaml:"webhooks"`
}

type Storage struct {
	Driver string `yaml:"driver"`
	Dir    string `yaml:"dir"`
	S3     struct {
		Endpoint  string `yaml:"endpoint"`
		Bucket    string `yaml:"bucket"`
		Region    string `yaml:"region"`
		AccessKey string `yaml:"access_key"`
		SecretKey string `yaml:"secret_key"`
		UseSSL    bool   `yaml:"use_ssl"`
	} `yaml:"s3"`
}

type Webhooks struct {
	Enabled        bool     `yaml:"enabled"`
	URLs           []string `yaml:"urls"`
	Secret         string   `yaml:"secret"`
	Actions        []string `yaml:"actions"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
	PollSeconds    int      `yaml:"poll_seconds"`
}

// AccessTTL is the lifetime of issued access tokens.
func (c *Config) AccessTTL() time.Duration {
	return time.Duration(c.Auth.AccessTTLMinutes) * time.Minute
}

func (c *Config) RefreshTTL() time.Duration {
	return time.Duration(c.Auth.RefreshTTLHours) * time.Hour
}

func (c *Config) ReadTimeout() time.Duration {
	return time.Duration(c.Server.ReadTimeoutSeconds) * time.Second
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("config.server.addr is required")
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		return fmt.Errorf("config.server.base_path must start with /")
	}
	if c.Server.ReadTimeoutSeconds < 0 {
		return fmt.Errorf("config.server.read_timeout_seconds must not be negative")
	}
	if c.Auth.AccessTTLMinutes <= 0 {
		return fmt.Errorf("config.auth.access_ttl_minutes must be positive")
	}
	if c.Auth.RefreshTTLHours <= 0 {
		return fmt.Errorf("config.auth.refresh_ttl_hours must be positive")
	}
	switch c.Storage.Driver {
	case "local":
		if c.Storage.Dir == "" {
			return fmt.Errorf("config.storage.dir is required for the local driver")
		}
	case "s3":
		if c.Storage.S3.Endpoint == "" || c.Storage.S3.Bucket == "" {
			return fmt.Errorf("config.storage.s3.endpoint and bucket are required for the s3 driver")
		}
	default:
		return fmt.Errorf("config.storage.driver must be local or s3, got %q", c.Storage.Driver)
	}
	if c.Redis.URL != "" {
		if _, err := url.Parse(c.Redis.URL); err != nil {
			return fmt.Errorf("config.redis.url: %w", err)
		}
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config.log.level must be debug, info, warn or error")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config.log.format must be text or json")
	}
	if c.Webhooks.Enabled {
		if len(c.Webhooks.URLs) == 0 {
			return fmt.Errorf("config.webhooks.urls is required when webhooks are enabled")
		}
		for _, raw := range c.Webhooks.URLs {
			u, err := url.Parse(raw)
			if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
				return fmt.Errorf("config.webhooks.urls has invalid url %q", raw)
			}
		}
		if c.Webhooks.TimeoutSeconds <= 0 || c.Webhooks.PollSeconds <= 0 {
			return fmt.Errorf("config.webhooks timeout_seconds and poll_seconds must be positive")
		}
	}
	for _, a := range c.Webhooks.Actions {
		if !domain.ActionType(a).Valid() {
			return fmt.Errorf("config.webhooks.actions has unknown action %s", a)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, FileName)
}

// Load reads and validates config from path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create one with dc config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Default returns the built-in configuration.
func Default() *Config {
	var cfg Config
	if err := yaml.Unmarshal([]byte(defaultTemplate), &cfg); err != nil {
		panic(fmt.Sprintf("default config: %v", err))
	}
	return &cfg
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// FromYAML parses config from raw YAML bytes on top of the defaults and validates it.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Marshal renders the effective config, secrets masked.
func (c *Config) Marshal() ([]byte, error) {
	out := *c
	if out.Storage.S3.SecretKey != "" {
		out.Storage.S3.SecretKey = "****"
	}
	if out.Webhooks.Secret != "" {
		out.Webhooks.Secret = "****"
	}
	return yaml.Marshal(&out)
}

const defaultTemplate = `server:
  addr: ":8080"
  base_path: "/v1"
  cors_origins: ["http://localhost:3000"]
  read_timeout_seconds: 30

database:
  path: ""

auth:
  access_ttl_minutes: 15
  refresh_ttl_hours: 720

storage:
  driver: local
  dir: ".draftclinic/files"
  s3:
    endpoint: ""
    bucket: ""
    region: ""
    access_key: ""
    secret_key: ""
    use_ssl: true

redis:
  url: "redis://localhost:6379/0"

log:
  level: info
  format: text

webhooks:
  enabled: false
  urls: []
  secret: ""
  actions: []
  timeout_seconds: 10
  poll_seconds: 5
`
