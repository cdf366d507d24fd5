package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// FileName is the config file looked up in the working directory.
const FileName = "tapeoutops.yml"

// Config models tapeoutops.yml.
type Config struct {
	DataDir string  `yaml:"data_dir"`
	HTTP    HTTP    `yaml:"http"`
	Auth    Auth    `yaml:"auth"`
	Storage Storage `yaml:"storage"`
	Uploads Uploads `yaml:"uploads"`
	SMTP    SMTP    `yaml:"smtp"`
	Log     Log     `yaml:"log"`
}

type HTTP struct {
	Addr        string   `yaml:"addr"`
	BasePath    string   `yaml:"base_path"`
	PublicURL   string   `yaml:"public_url"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type Auth struct {
	JWTSecret string        `yaml:"jwt_secret"`
	TokenTTL  time.Duration `yaml:"token_ttl"`
}

type Storage struct {
	Backend            string        `yaml:"backend"`
	LocalDir           string        `yaml:"local_dir"`
	GCSBucket          string        `yaml:"gcs_bucket"`
	GCSCredentialsFile string        `yaml:"gcs_credentials_file"`
	SignedURLTTL       time.Duration `yaml:"signed_url_ttl"`
	EvidenceDir        string        `yaml:"evidence_dir"`
}

type Uploads struct {
	MaxEvidenceBytes   int64    `yaml:"max_evidence_bytes"`
	EvidenceExtensions []string `yaml:"evidence_extensions"`
}

type SMTP struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// Enabled reports whether outgoing mail should go through SMTP.
func (s SMTP) Enabled() bool { return s.Host != "" }

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Validate ensures the config is usable by the server.
func (c *Config) Validate() error {
	if c.DataDir == "" {
		return fmt.Errorf("config.data_dir is required")
	}
	if c.HTTP.Addr == "" {
		return fmt.Errorf("config.http.addr is required")
	}
	if !strings.HasPrefix(c.HTTP.BasePath, "/") {
		return fmt.Errorf("config.http.base_path must start with /")
	}
	if strings.TrimSpace(c.Auth.JWTSecret) == "" {
		return fmt.Errorf("config.auth.jwt_secret is required")
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("config.auth.token_ttl must be positive")
	}
	switch c.Storage.Backend {
	case "local":
		if c.Storage.LocalDir == "" {
			return fmt.Errorf("config.storage.local_dir is required for the local backend")
		}
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("config.storage.gcs_bucket is required for the gcs backend")
		}
	default:
		return fmt.Errorf("config.storage.backend must be 'local' or 'gcs'")
	}
	if c.Storage.EvidenceDir == "" {
		return fmt.Errorf("config.storage.evidence_dir is required")
	}
	if c.Storage.SignedURLTTL <= 0 {
		return fmt.Errorf("config.storage.signed_url_ttl must be positive")
	}
	if c.Uploads.MaxEvidenceBytes <= 0 {
		return fmt.Errorf("config.uploads.max_evidence_bytes must be positive")
	}
	if len(c.Uploads.EvidenceExtensions) == 0 {
		return fmt.Errorf("config.uploads.evidence_extensions is required")
	}
	for _, ext := range c.Uploads.EvidenceExtensions {
		if !strings.HasPrefix(ext, ".") || len(ext) < 2 {
			return fmt.Errorf("evidence extension %q must look like .pdf", ext)
		}
	}
	if c.SMTP.Enabled() {
		if c.SMTP.Port <= 0 || c.SMTP.Port > 65535 {
			return fmt.Errorf("config.smtp.port is out of range")
		}
		if c.SMTP.From == "" {
			return fmt.Errorf("config.smtp.from is required when smtp.host is set")
		}
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return fmt.Errorf("config.log.format must be 'json' or 'text'")
	}
	return nil
}

// Path returns the config file path in a directory.
func Path(dir string) string {
	if dir == "" {
		dir = "."
	}
	return filepath.Join(dir, FileName)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML overlays raw YAML onto the defaults and validates the result.
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

// Load reads the config at path. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `data_dir: .tapeoutops

http:
  addr: 127.0.0.1:8080
  base_path: /api/v1
  public_url: http://127.0.0.1:8080
  cors_origins: ["http://localhost:3000"]

auth:
  jwt_secret: change-me-in-production
  token_ttl: 24h

storage:
  backend: local
  local_dir: .tapeoutops/documents
  gcs_bucket: ""
  gcs_credentials_file: ""
  signed_url_ttl: 3h
  evidence_dir: .tapeoutops/evidence

uploads:
  max_evidence_bytes: 10485760
  evidence_extensions: [.pdf, .png, .jpg, .jpeg, .gif, .doc, .docx]

smtp:
  host: ""
  port: 587
  username: ""
  password: ""
  from: noreply@tapeoutops.local

log:
  level: info
  format: json
`
