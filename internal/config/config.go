package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Addr          string
	DataDir       string
	AuditDir      string
	MigrationsDir string
	CORSOrigin    string
	LogMode       string
	MaxUploadMB   int64
	// Admin auth
	TokenSecret       string
	AdminPassword     string
	AdminPasswordHash string
	AccessTTL         time.Duration
	// Optional backends, disabled when empty
	DatabaseURL    string
	RedisURL       string
	MeiliURL       string
	MeiliMasterKey string
	MinIO          MinIOConfig
}

type MinIOConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func (c MinIOConfig) Enabled() bool {
	return strings.TrimSpace(c.Endpoint) != "" && strings.TrimSpace(c.Bucket) != ""
}

func Load() Config {
	return Config{
		Addr:              getenv("PORTAL_ADDR", ":8787"),
		DataDir:           getenv("PORTAL_DATA_DIR", "./data"),
		AuditDir:          getenv("PORTAL_AUDIT_DIR", "./logs/audit"),
		MigrationsDir:     getenv("PORTAL_MIGRATIONS_DIR", "./db/migrations"),
		CORSOrigin:        getenv("PORTAL_CORS_ORIGIN", "*"),
		LogMode:           getenv("LOG_MODE", "dev"),
		MaxUploadMB:       int64(getenvInt("PORTAL_MAX_UPLOAD_MB", 200)),
		TokenSecret:       getenv("PORTAL_TOKEN_SECRET", "portal-dev-secret"),
		AdminPassword:     getenv("PORTAL_ADMIN_PASSWORD", "portal-dev-password"),
		AdminPasswordHash: getenv("PORTAL_ADMIN_PASSWORD_HASH", ""),
		AccessTTL:         time.Duration(getenvInt("PORTAL_ACCESS_TTL_SECONDS", 28800)) * time.Second,
		// Postgres is only used for the audit sink
		DatabaseURL:    getenv("DATABASE_URL", ""),
		RedisURL:       getenv("REDIS_URL", ""),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
		MinIO: MinIOConfig{
			Endpoint:  getenv("MINIO_ENDPOINT", ""),
			AccessKey: getenv("MINIO_ACCESS_KEY", ""),
			SecretKey: getenv("MINIO_SECRET_KEY", ""),
			Bucket:    getenv("MINIO_BUCKET", ""),
			UseSSL:    getenvBool("MINIO_USE_SSL", false),
		},
	}
}

func getenv(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvInt(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvBool(key string, fallback bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}
