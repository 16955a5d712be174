package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	AppName string
	Env     string
	Host    string
	Port    int

	// DBBackend selects the store implementation: "sqlite" or "postgres".
	DBBackend   string
	SQLitePath  string
	DatabaseURL string

	CORSOrigins  []string
	UploadDir    string
	MaxUploadMB  int64
	HistoryLimit int
	Debug        bool
}

func Load() (*Config, error) {
	// best-effort; env vars win over .env
	_ = godotenv.Load()

	dbHost := getEnv("POSTGRES_HOST", "localhost")
	dbPort := getEnv("POSTGRES_PORT", "5432")
	dbUser := getEnv("POSTGRES_USER", "postgres")
	dbPass := getEnv("POSTGRES_PASSWORD", "postgres")
	dbName := getEnv("POSTGRES_DB", "chatrelay")

	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(dbUser, dbPass),
		Host:     fmt.Sprintf("%s:%s", dbHost, dbPort),
		Path:     dbName,
		RawQuery: "sslmode=disable",
	}

	cfg := &Config{
		AppName: getEnv("APP_NAME", "chatrelay"),
		Env:     getEnv("APP_ENV", "development"),
		Host:    getEnv("HTTP_HOST", "0.0.0.0"),
		Port:    getEnvAsInt("HTTP_PORT", 8000),

		DBBackend:   strings.ToLower(getEnv("DB_BACKEND", "sqlite")),
		SQLitePath:  getEnv("SQLITE_PATH", "chatrelay.db"),
		DatabaseURL: u.String(),

		UploadDir:    getEnv("UPLOAD_DIR", "uploads"),
		MaxUploadMB:  int64(getEnvAsInt("MAX_UPLOAD_MB", 50)),
		HistoryLimit: getEnvAsInt("HISTORY_LIMIT", 1000),
		Debug:        getEnvAsBool("DEBUG", true),
	}

	switch cfg.DBBackend {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("DB_BACKEND must be 'sqlite' or 'postgres', got %q", cfg.DBBackend)
	}

	cors := getEnv("CORS_ORIGINS", "")
	if cors != "" {
		parts := strings.Split(cors, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
		}
		cfg.CORSOrigins = parts
	} else {
		cfg.CORSOrigins = []string{"http://localhost:3000", "http://localhost:5173"}
	}

	if err := os.MkdirAll(cfg.UploadDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating upload dir: %w", err)
	}

	return cfg, nil
}

func (c *Config) HTTPAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvAsInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getEnvAsBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}
