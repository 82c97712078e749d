package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// DefaultUploadRule accepts Excel workbooks only
const DefaultUploadRule = `name.lowerAscii().endsWith(".xlsx")`

// Config holds all service configuration
type Config struct {
	Service    ServiceConfig
	Storage    StorageConfig
	Upload     UploadConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Lock       LockConfig
	Auth       AuthConfig
	Roster     RosterConfig
	FileServer FileServerConfig
	Telemetry  TelemetryConfig

	// Categories is loaded once from Storage.CategoriesFile or the built-in table
	Categories *CategoryTable
}

// ServiceConfig holds service-specific settings
type ServiceConfig struct {
	Name        string
	Port        int
	Environment string
	LogLevel    string
	LogFormat   string
}

// StorageConfig describes the folder tree artifacts live in
type StorageConfig struct {
	Root            string
	StagingDir      string // sub-folder of Root holding the Spotfire staging mirror
	ArchiveDir      string // sub-folder of Root holding archived artifacts
	LocalMirrorRoot string
	OwnerSubfolders bool // primary/archive/local paths get a per-actor folder
	RemoveCascade   bool // remove also deletes staging and local mirror copies
	CategoriesFile  string
}

// UploadConfig holds upload acceptance and upload log settings
type UploadConfig struct {
	Rule       string // CEL expression over name, size, category
	MaxBytes   int64
	LogBackend string // "csv", "postgres" or "none"
	LogPath    string
}

// DatabaseConfig holds Postgres connection settings
type DatabaseConfig struct {
	Host        string
	Port        int
	Database    string
	User        string
	Password    string
	MaxConns    int
	MinConns    int
	MaxIdleTime time.Duration
	MaxLifetime time.Duration
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// LockConfig selects the per-artifact lock implementation
type LockConfig struct {
	Backend string // "memory" or "redis"
	TTL     time.Duration
	Wait    time.Duration
}

// AuthConfig holds login and session settings
type AuthConfig struct {
	Mode           string // "password" or "roster"
	Password       string
	SessionBackend string // "memory" or "redis"
	SessionTTL     time.Duration

	// LoginRateLimit bounds login attempts per client IP and window; 0 disables
	LoginRateLimit  int
	LoginRateWindow time.Duration
}

// RosterConfig locates the employee roster spreadsheet
type RosterConfig struct {
	Path           string
	FallbackPath   string
	ReloadInterval time.Duration
}

// FileServerConfig holds the read-only static file server settings
type FileServerConfig struct {
	Enabled   bool
	Port      int
	PublicURL string
}

// TelemetryConfig holds observability settings
type TelemetryConfig struct {
	EnablePprof   bool
	PprofPort     int
	EnableMetrics bool
	MetricsPort   int
}

// Load loads configuration from environment variables
func Load(serviceName string) (*Config, error) {
	root := getEnv("STORAGE_ROOT", "PN-RE-LAB")

	cfg := &Config{
		Service: ServiceConfig{
			Name:        serviceName,
			Port:        getEnvInt("PORT", 8501),
			Environment: getEnv("ENVIRONMENT", "development"),
			LogLevel:    getEnv("LOG_LEVEL", "info"),
			LogFormat:   getEnv("LOG_FORMAT", "text"),
		},
		Storage: StorageConfig{
			Root:            root,
			StagingDir:      getEnv("STAGING_DIR", "Spotfire"),
			ArchiveDir:      getEnv("ARCHIVE_DIR", "archive"),
			LocalMirrorRoot: getEnv("LOCAL_MIRROR_ROOT", filepath.Join(root, "DOWNLOADS")),
			OwnerSubfolders: getEnvBool("OWNER_SUBFOLDERS", false),
			RemoveCascade:   getEnvBool("REMOVE_CASCADE", false),
			CategoriesFile:  getEnv("CATEGORIES_FILE", ""),
		},
		Upload: UploadConfig{
			Rule:       getEnv("UPLOAD_RULE", DefaultUploadRule),
			MaxBytes:   int64(getEnvInt("UPLOAD_MAX_BYTES", 200<<20)),
			LogBackend: getEnv("UPLOAD_LOG_BACKEND", "csv"),
			LogPath:    getEnv("UPLOAD_LOG_PATH", filepath.Join(root, "upload_log.csv")),
		},
		Database: DatabaseConfig{
			Host:        getEnv("POSTGRES_HOST", "localhost"),
			Port:        getEnvInt("POSTGRES_PORT", 5432),
			Database:    getEnv("POSTGRES_DB", "labstore"),
			User:        getEnv("POSTGRES_USER", "labstore"),
			Password:    getEnv("POSTGRES_PASSWORD", "labstore"),
			MaxConns:    getEnvInt("POSTGRES_MAX_CONNS", 10),
			MinConns:    getEnvInt("POSTGRES_MIN_CONNS", 1),
			MaxIdleTime: getEnvDuration("POSTGRES_MAX_IDLE_TIME", 30*time.Minute),
			MaxLifetime: getEnvDuration("POSTGRES_MAX_LIFETIME", 1*time.Hour),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Lock: LockConfig{
			Backend: getEnv("LOCK_BACKEND", "memory"),
			TTL:     getEnvDuration("LOCK_TTL", 2*time.Minute),
			Wait:    getEnvDuration("LOCK_WAIT", 10*time.Second),
		},
		Auth: AuthConfig{
			Mode:           getEnv("AUTH_MODE", "password"),
			Password:       getEnv("AUTH_PASSWORD", ""),
			SessionBackend: getEnv("SESSION_BACKEND", "memory"),
			SessionTTL:     getEnvDuration("SESSION_TTL", 12*time.Hour),

			LoginRateLimit:  getEnvInt("LOGIN_RATE_LIMIT", 10),
			LoginRateWindow: getEnvDuration("LOGIN_RATE_WINDOW", time.Minute),
		},
		Roster: RosterConfig{
			Path:           getEnv("ROSTER_PATH", filepath.Join(root, "EMPLOYEE_LIST.xlsx")),
			FallbackPath:   getEnv("ROSTER_FALLBACK_PATH", "EMPLOYEE_LIST.xlsx"),
			ReloadInterval: getEnvDuration("ROSTER_RELOAD_INTERVAL", 60*time.Second),
		},
		FileServer: FileServerConfig{
			Enabled:   getEnvBool("FILE_SERVER_ENABLED", false),
			Port:      getEnvInt("FILE_SERVER_PORT", 8502),
			PublicURL: getEnv("FILE_SERVER_PUBLIC_URL", ""),
		},
		Telemetry: TelemetryConfig{
			EnablePprof:   getEnvBool("ENABLE_PPROF", false),
			PprofPort:     getEnvInt("PPROF_PORT", 6060),
			EnableMetrics: getEnvBool("ENABLE_METRICS", true),
			MetricsPort:   getEnvInt("METRICS_PORT", 9090),
		},
	}

	if cfg.FileServer.PublicURL == "" {
		cfg.FileServer.PublicURL = fmt.Sprintf("http://localhost:%d", cfg.FileServer.Port)
	}

	categories, err := LoadCategories(cfg.Storage.CategoriesFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load categories: %w", err)
	}
	cfg.Categories = categories

	return cfg, cfg.Validate()
}

// Validate checks if configuration is valid
func (c *Config) Validate() error {
	if c.Service.Port < 1 || c.Service.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Service.Port)
	}

	if strings.TrimSpace(c.Storage.Root) == "" {
		return fmt.Errorf("storage root is required")
	}

	if c.Storage.StagingDir == "" || c.Storage.ArchiveDir == "" {
		return fmt.Errorf("staging and archive directory names are required")
	}

	if c.Storage.StagingDir == c.Storage.ArchiveDir {
		return fmt.Errorf("staging and archive directories must differ: %s", c.Storage.StagingDir)
	}

	if c.Categories == nil || c.Categories.Len() == 0 {
		return fmt.Errorf("at least one category is required")
	}

	reserved := map[string]bool{c.Storage.StagingDir: true, c.Storage.ArchiveDir: true}
	if mirror := filepath.Clean(c.Storage.LocalMirrorRoot); filepath.Dir(mirror) == filepath.Clean(c.Storage.Root) {
		reserved[filepath.Base(mirror)] = true
	}
	for _, name := range c.Categories.Names() {
		if reserved[name] {
			return fmt.Errorf("category %q collides with a reserved folder", name)
		}
	}

	switch c.Upload.LogBackend {
	case "csv", "postgres", "none":
	default:
		return fmt.Errorf("unknown upload log backend: %s", c.Upload.LogBackend)
	}

	if c.Upload.MaxBytes <= 0 {
		return fmt.Errorf("upload max bytes must be positive")
	}

	switch c.Lock.Backend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown lock backend: %s", c.Lock.Backend)
	}

	switch c.Auth.Mode {
	case "password":
		if c.Auth.Password == "" {
			return fmt.Errorf("AUTH_PASSWORD is required when AUTH_MODE=password")
		}
	case "roster":
	default:
		return fmt.Errorf("unknown auth mode: %s", c.Auth.Mode)
	}

	switch c.Auth.SessionBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("unknown session backend: %s", c.Auth.SessionBackend)
	}

	if c.Auth.LoginRateLimit < 0 {
		return fmt.Errorf("login rate limit must not be negative")
	}
	if c.Auth.LoginRateLimit > 0 && c.Auth.LoginRateWindow <= 0 {
		return fmt.Errorf("login rate window must be positive")
	}

	if c.Upload.LogBackend == "postgres" && c.Database.MaxConns < c.Database.MinConns {
		return fmt.Errorf("max_conns must be >= min_conns")
	}

	return nil
}

// NeedsDatabase reports whether any component is backed by Postgres
func (c *Config) NeedsDatabase() bool {
	return c.Upload.LogBackend == "postgres"
}

// NeedsRedis reports whether any component is backed by Redis
func (c *Config) NeedsRedis() bool {
	return c.Lock.Backend == "redis" || c.Auth.SessionBackend == "redis"
}

// DatabaseURL returns the PostgreSQL connection string
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Database,
	)
}

// Helper functions

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
