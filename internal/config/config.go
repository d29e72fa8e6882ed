package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Addr        string
	DataDir     string
	JWTSecret   string
	AccessTTL   time.Duration
	RefreshTTL  time.Duration
	CORSOrigin  string
	// Redis Configuration - refresh token storage
	RedisURL string
	// Postgres - optional audit event sink
	DatabaseURL string
	// Meilisearch - optional item search index
	MeiliURL       string
	MeiliMasterKey string
}

func Load() Config {
	return Config{
		Addr:           getenv("API_ADDR", ":8990"),
		DataDir:        getenv("INKWELL_DATA_DIR", "./data"),
		JWTSecret:      getenv("INKWELL_JWT_SECRET", "inkwell-dev-secret"),
		AccessTTL:      time.Duration(getenvInt("INKWELL_ACCESS_TTL_SECONDS", 900)) * time.Second,
		RefreshTTL:     time.Duration(getenvInt("INKWELL_REFRESH_TTL_SECONDS", 2592000)) * time.Second,
		CORSOrigin:     getenv("INKWELL_CORS_ORIGIN", "*"),
		RedisURL:       getenv("REDIS_URL", ""),
		DatabaseURL:    getenv("DATABASE_URL", ""),
		MeiliURL:       getenv("MEILI_URL", ""),
		MeiliMasterKey: getenv("MEILI_MASTER_KEY", ""),
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
