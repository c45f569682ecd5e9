// Package common provides shared utilities for SnapMagic: configuration,
// structured logging, versioning, and the session context threaded through
// the HTTP layer.
package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	env "github.com/caarlos0/env/v10"
	toml "github.com/pelletier/go-toml/v2"
)

// Config holds all configuration for the generation pipeline service.
type Config struct {
	Environment string        `toml:"environment"`
	Server      ServerConfig  `toml:"server"`
	Storage     StorageConfig `toml:"storage"`
	Clients     ClientsConfig `toml:"clients"`
	Logging     LoggingConfig `toml:"logging"`
	Auth        AuthConfig    `toml:"auth"`
	Pipeline    PipelineConfig `toml:"pipeline"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host string `toml:"host"`
	Port int    `toml:"port"`
}

// StorageConfig holds the SurrealDB connection used for C1/C4, plus the
// blob store backend selection for C2.
type StorageConfig struct {
	Address   string `toml:"address"`
	Namespace string `toml:"namespace"`
	Database  string `toml:"database"`
	Username  string `toml:"username"`
	Password  string `toml:"password"`
	DataPath  string `toml:"data_path"` // used by the file blob store in dev/test

	Blob BlobConfig `toml:"blob"`
}

// BlobConfig selects and configures C2's backend.
type BlobConfig struct {
	Backend string   `toml:"backend"` // "file" (dev/test) or "s3"
	File    FileBlobConfig `toml:"file"`
	S3      S3BlobConfig   `toml:"s3"`
}

// FileBlobConfig configures the local-disk blob store.
type FileBlobConfig struct {
	BasePath string `toml:"base_path"`
}

// S3BlobConfig configures the S3 / S3-compatible blob store.
type S3BlobConfig struct {
	Bucket    string `toml:"bucket"`
	Prefix    string `toml:"prefix"`
	Region    string `toml:"region"`
	Endpoint  string `toml:"endpoint"` // non-empty for MinIO/R2-style S3-compatible endpoints
	AccessKey string `toml:"access_key"`
	SecretKey string `toml:"secret_key"`
}

// ClientsConfig holds generation-backend client configuration.
type ClientsConfig struct {
	Gemini GeminiConfig `toml:"gemini"`
}

// GeminiConfig holds Gemini API configuration.
type GeminiConfig struct {
	APIKey         string  `toml:"api_key"`
	ImageModel     string  `toml:"image_model"`
	VideoModel     string  `toml:"video_model"`
	MaxConcurrency int     `toml:"max_concurrency"`
	// RateLimitPerSecond paces outbound calls independently of
	// MaxConcurrency, a client-side token bucket guarding against hitting
	// Gemini's own rate limits even when C7's dispatch concurrency is high.
	RateLimitPerSecond float64 `toml:"rate_limit_per_second"`
}

// AuthConfig holds the bearer-token session auth configuration.
type AuthConfig struct {
	JWTSecret   string            `toml:"jwt_secret"`
	TokenExpiry string            `toml:"token_expiry"` // duration string, default "24h"
	Credentials map[string]string `toml:"credentials"`  // username -> password, per spec.md §6 auth.credentials
	AdminUsers  []string          `toml:"admin_users"`   // usernames granted the admin JWT claim at login
}

// IsAdmin reports whether username is configured as an admin.
func (c *AuthConfig) IsAdmin(username string) bool {
	for _, u := range c.AdminUsers {
		if u == username {
			return true
		}
	}
	return false
}

// GetTokenExpiry parses and returns the token expiry duration.
func (c *AuthConfig) GetTokenExpiry() time.Duration {
	d, err := time.ParseDuration(c.TokenExpiry)
	if err != nil {
		return 24 * time.Hour
	}
	return d
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level   string   `toml:"level"`
	Format  string   `toml:"format"`
	Outputs []string `toml:"outputs"`
}

// PipelineConfig holds the queue/quota/backend/artifact tuning knobs
// named in spec.md §6. It layers github.com/caarlos0/env/v10 struct-tag
// env binding on top of the teacher's TOML+applyEnvOverrides approach,
// so container deployments can override without a mounted config file.
type PipelineConfig struct {
	Queue QueueConfig `toml:"queue" envPrefix:"SNAPMAGIC_QUEUE_"`
	Quota QuotaConfig `toml:"quota" envPrefix:"SNAPMAGIC_QUOTA_"`
	Backend BackendConfig `toml:"backend" envPrefix:"SNAPMAGIC_BACKEND_"`
	Artifact ArtifactConfig `toml:"artifact" envPrefix:"SNAPMAGIC_ARTIFACT_"`
	Prompt PromptConfig `toml:"prompt"`
}

// QueueConfig configures C3.
type QueueConfig struct {
	VisibilitySeconds int `toml:"visibility_seconds" env:"VISIBILITY_SECONDS"`
	MaxRedeliveries   int `toml:"max_redeliveries" env:"MAX_REDELIVERIES"`
}

func (q QueueConfig) Visibility() time.Duration {
	return time.Duration(q.VisibilitySeconds) * time.Second
}

// QuotaConfig configures C4's base budgets per kind.
type QuotaConfig struct {
	BaseCard  int `toml:"base_card" env:"BASE_CARD"`
	BaseVideo int `toml:"base_video" env:"BASE_VIDEO"`
	BasePrint int `toml:"base_print" env:"BASE_PRINT"`
}

// BackendConfig configures C5/C7.
type BackendConfig struct {
	MaxConcurrency int `toml:"max_concurrency" env:"MAX_CONCURRENCY"`
}

// ArtifactConfig configures signed URL lifetimes for C2/C8.
type ArtifactConfig struct {
	SignedURLTTLShortSeconds   int `toml:"signed_url_ttl_short_seconds" env:"SIGNED_URL_TTL_SHORT_SECONDS"`
	SignedURLTTLGallerySeconds int `toml:"signed_url_ttl_gallery_seconds" env:"SIGNED_URL_TTL_GALLERY_SECONDS"`
}

func (a ArtifactConfig) ShortTTL() time.Duration {
	return time.Duration(a.SignedURLTTLShortSeconds) * time.Second
}

func (a ArtifactConfig) GalleryTTL() time.Duration {
	return time.Duration(a.SignedURLTTLGallerySeconds) * time.Second
}

// PromptConfig configures length bounds per kind.
type PromptConfig struct {
	Card  PromptBounds `toml:"card"`
	Video PromptBounds `toml:"video"`
}

// PromptBounds bounds prompt length in runes.
type PromptBounds struct {
	MinLen int `toml:"min_len"`
	MaxLen int `toml:"max_len"`
}

// NewDefaultConfig returns a Config with sensible defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8080,
		},
		Storage: StorageConfig{
			Address:   "ws://127.0.0.1:8000/rpc",
			Namespace: "snapmagic",
			Database:  "snapmagic",
			DataPath:  "data",
			Blob: BlobConfig{
				Backend: "file",
				File:    FileBlobConfig{BasePath: "data/blobs"},
			},
		},
		Clients: ClientsConfig{
			Gemini: GeminiConfig{
				ImageModel:         "gemini-2.5-flash-image",
				VideoModel:         "veo-3.0-generate-001",
				MaxConcurrency:     2,
				RateLimitPerSecond: 2,
			},
		},
		Auth: AuthConfig{
			JWTSecret:   "dev-jwt-secret-change-in-production",
			TokenExpiry: "24h",
		},
		Logging: LoggingConfig{
			Level:   "info",
			Format:  "json",
			Outputs: []string{"console"},
		},
		Pipeline: PipelineConfig{
			Queue: QueueConfig{VisibilitySeconds: 90, MaxRedeliveries: 3},
			Quota: QuotaConfig{BaseCard: 5, BaseVideo: 3, BasePrint: 1},
			Backend: BackendConfig{MaxConcurrency: 2},
			Artifact: ArtifactConfig{SignedURLTTLShortSeconds: 300, SignedURLTTLGallerySeconds: 3600},
			Prompt: PromptConfig{
				Card:  PromptBounds{MinLen: 10, MaxLen: 1024},
				Video: PromptBounds{MinLen: 5, MaxLen: 512},
			},
		},
	}
}

// LoadConfig loads configuration from TOML files (later files override
// earlier ones), then layers environment variable overrides on top —
// applyEnvOverrides for the carried-over sections, then env.Parse for
// the Pipeline section's struct-tag bindings.
func LoadConfig(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for _, path := range paths {
		if path == "" {
			continue
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	applyEnvOverrides(config)

	if err := env.Parse(&config.Pipeline); err != nil {
		return nil, fmt.Errorf("failed to parse pipeline env overrides: %w", err)
	}

	return config, nil
}

// applyEnvOverrides applies SNAPMAGIC_* environment variable overrides to
// the ambient config sections, mirroring the teacher's VIRE_* scheme.
func applyEnvOverrides(config *Config) {
	if v := os.Getenv("SNAPMAGIC_ENV"); v != "" {
		config.Environment = v
	}
	if v := os.Getenv("SNAPMAGIC_HOST"); v != "" {
		config.Server.Host = v
	}
	if v := os.Getenv("SNAPMAGIC_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			config.Server.Port = p
		}
	}
	if v := os.Getenv("SNAPMAGIC_LOG_LEVEL"); v != "" {
		config.Logging.Level = v
	}
	if v := os.Getenv("SNAPMAGIC_STORAGE_ADDRESS"); v != "" {
		config.Storage.Address = v
	}
	if v := os.Getenv("SNAPMAGIC_STORAGE_NAMESPACE"); v != "" {
		config.Storage.Namespace = v
	}
	if v := os.Getenv("SNAPMAGIC_STORAGE_DATABASE"); v != "" {
		config.Storage.Database = v
	}
	if v := os.Getenv("SNAPMAGIC_STORAGE_USERNAME"); v != "" {
		config.Storage.Username = v
	}
	if v := os.Getenv("SNAPMAGIC_STORAGE_PASSWORD"); v != "" {
		config.Storage.Password = v
	}
	if v := os.Getenv("SNAPMAGIC_AUTH_JWT_SECRET"); v != "" {
		config.Auth.JWTSecret = v
	}
	if v := os.Getenv("SNAPMAGIC_AUTH_TOKEN_EXPIRY"); v != "" {
		config.Auth.TokenExpiry = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		config.Clients.Gemini.APIKey = v
	}
	if v := os.Getenv("SNAPMAGIC_GEMINI_API_KEY"); v != "" {
		config.Clients.Gemini.APIKey = v
	}
	if v := os.Getenv("GOOGLE_API_KEY"); v != "" && config.Clients.Gemini.APIKey == "" {
		config.Clients.Gemini.APIKey = v
	}
	if v := os.Getenv("SNAPMAGIC_BLOB_BACKEND"); v != "" {
		config.Storage.Blob.Backend = v
	}
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	e := strings.ToLower(strings.TrimSpace(c.Environment))
	return e == "production" || e == "prod"
}

// ValidateRequired returns the names of required config fields that are
// missing or left at an insecure default, for startup validation.
func (c *Config) ValidateRequired() []string {
	var missing []string
	if c.Clients.Gemini.APIKey == "" {
		missing = append(missing, "clients.gemini.api_key")
	}
	if c.Auth.JWTSecret == "" || c.Auth.JWTSecret == "dev-jwt-secret-change-in-production" {
		missing = append(missing, "auth.jwt_secret")
	}
	if len(c.Auth.Credentials) == 0 {
		missing = append(missing, "auth.credentials")
	}
	if c.Storage.Blob.Backend == "s3" && c.Storage.Blob.S3.Bucket == "" {
		missing = append(missing, "storage.blob.s3.bucket")
	}
	return missing
}
