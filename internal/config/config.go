package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates every service's configuration.
type Config struct {
	Server     ServerConfig
	Log        LogConfig
	OpenAI     OpenAIConfig
	Vector     VectorConfig
	Cloud      CloudConfig
	LocalStore LocalStoreConfig
	Auth       AuthConfig
	Sync       SyncConfig
	Upload     UploadConfig
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	syncCfg, err := loadSyncConfig()
	if err != nil {
		return nil, err
	}

	upload, err := loadUploadConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:     server,
		Log:        loadLogConfig(),
		OpenAI:     loadOpenAIConfig(),
		Vector:     loadVectorConfig(),
		Cloud:      loadCloudConfig(),
		LocalStore: loadLocalStoreConfig(),
		Auth:       loadAuthConfig(),
		Sync:       syncCfg,
		Upload:     upload,
	}, nil
}

// ServerConfig describes the HTTP listener.
type ServerConfig struct {
	Addr string
}

func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8000"
	}

	if strings.Contains(port, ":") {
		// Allow ":8000" or "127.0.0.1:8000" verbatim.
		return ServerConfig{Addr: port}, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	return ServerConfig{Addr: ":" + port}, nil
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string
	Pretty bool
}

func loadLogConfig() LogConfig {
	pretty, _ := parseBoolEnv("LOG_PRETTY", false)
	return LogConfig{
		Level:  getEnvOrDefault("LOG_LEVEL", "info"),
		Pretty: pretty,
	}
}

// OpenAIConfig describes the completion/embedding provider.
type OpenAIConfig struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	BaseURL        string
}

// Enabled reports whether the required credential is present.
func (c OpenAIConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		APIKey:         strings.TrimSpace(os.Getenv("OPENAI_API_KEY")),
		Model:          getEnvOrDefault("OPENAI_MODEL", "gpt-4o"),
		EmbeddingModel: getEnvOrDefault("OPENAI_EMBEDDING_MODEL", "text-embedding-3-small"),
		BaseURL:        strings.TrimSpace(os.Getenv("OPENAI_BASE_URL")),
	}
}

// VectorConfig describes the Qdrant memory store.
type VectorConfig struct {
	URL        string
	APIKey     string
	Collection string
}

// Enabled reports whether an endpoint is configured.
func (c VectorConfig) Enabled() bool {
	return c.URL != ""
}

func loadVectorConfig() VectorConfig {
	return VectorConfig{
		URL:        strings.TrimSpace(os.Getenv("QDRANT_URL")),
		APIKey:     strings.TrimSpace(os.Getenv("QDRANT_API_KEY")),
		Collection: getEnvOrDefault("QDRANT_COLLECTION", "yuzuriha_memories"),
	}
}

// CloudConfig describes the Cloudflare D1 relational store.
type CloudConfig struct {
	AccountID    string
	DatabaseID   string
	APIToken     string
	DatabaseName string
}

// Enabled reports whether every required credential is present.
func (c CloudConfig) Enabled() bool {
	return c.AccountID != "" && c.DatabaseID != "" && c.APIToken != ""
}

func loadCloudConfig() CloudConfig {
	return CloudConfig{
		AccountID:    strings.TrimSpace(os.Getenv("CLOUDFLARE_ACCOUNT_ID")),
		DatabaseID:   strings.TrimSpace(os.Getenv("CLOUDFLARE_D1_DATABASE_ID")),
		APIToken:     strings.TrimSpace(os.Getenv("CLOUDFLARE_API_TOKEN")),
		DatabaseName: getEnvOrDefault("CLOUDFLARE_D1_DATABASE_NAME", "yuzuriha_chat_db"),
	}
}

// LocalStoreConfig selects the local cache driver.
type LocalStoreConfig struct {
	Driver    string // file, memory, redis
	Path      string // file driver
	RedisAddr string // redis driver
}

func loadLocalStoreConfig() LocalStoreConfig {
	return LocalStoreConfig{
		Driver:    getEnvOrDefault("LOCAL_STORE_DRIVER", "file"),
		Path:      getEnvOrDefault("LOCAL_STORE_PATH", "data/chat_sessions.json"),
		RedisAddr: getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
	}
}

// AuthConfig holds the shared-secret bearer token guarding the API.
type AuthConfig struct {
	APISecret string
}

func loadAuthConfig() AuthConfig {
	return AuthConfig{APISecret: strings.TrimSpace(os.Getenv("API_SECRET_KEY"))}
}

// SyncConfig controls background resynchronization.
type SyncConfig struct {
	Interval time.Duration
}

func loadSyncConfig() (SyncConfig, error) {
	minutes, err := parseOptionalIntEnv("SYNC_INTERVAL_MINUTES")
	if err != nil {
		return SyncConfig{}, err
	}

	interval := 5 * time.Minute
	if minutes != nil {
		if *minutes < 1 {
			return SyncConfig{}, fmt.Errorf("SYNC_INTERVAL_MINUTES must be at least 1, got %d", *minutes)
		}
		interval = time.Duration(*minutes) * time.Minute
	}

	return SyncConfig{Interval: interval}, nil
}

// UploadConfig controls the file upload endpoint.
type UploadConfig struct {
	Dir          string
	MaxSizeBytes int64
}

func loadUploadConfig() (UploadConfig, error) {
	maxMB, err := parseOptionalIntEnv("UPLOAD_MAX_MB")
	if err != nil {
		return UploadConfig{}, err
	}

	size := int64(10)
	if maxMB != nil {
		if *maxMB < 1 {
			return UploadConfig{}, fmt.Errorf("UPLOAD_MAX_MB must be at least 1, got %d", *maxMB)
		}
		size = int64(*maxMB)
	}

	return UploadConfig{
		Dir:          getEnvOrDefault("UPLOAD_DIR", "uploads"),
		MaxSizeBytes: size * 1024 * 1024,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
