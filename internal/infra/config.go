package infra

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv            string
	Port              string
	APIBaseURL        string
	AccessToken       string
	SecondaryVendor   string
	ImageVendor       string
	MaxParallel       int
	GateInterval      time.Duration
	PollInterval      time.Duration
	DuplicateWindow   time.Duration
	PersistDebounce   time.Duration
	PollMaxDuration   time.Duration
	CachePath         string
	DatabaseURL       string
	StorageDriver     string
	StoragePath       string
	StorageBaseURL    string
	SupabaseURL       string
	SupabaseKey       string
	SupabaseBucket    string
	HTTPReadTimeout   time.Duration
	HTTPWriteTimeout  time.Duration
	HTTPIdleTimeout   time.Duration
	RemoteTimeout     time.Duration
	RateLimitPerMin   int
	CORSAllowedOrigin []string
	OTelEnabled       bool
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	port := getEnv("PORT", "8080")
	cfg := &Config{
		AppEnv:            getEnv("APP_ENV", "development"),
		Port:              port,
		APIBaseURL:        strings.TrimRight(os.Getenv("API_BASE_URL"), "/"),
		AccessToken:       os.Getenv("ACCESS_TOKEN"),
		SecondaryVendor:   getEnv("SECONDARY_VENDOR", "sora"),
		ImageVendor:       getEnv("IMAGE_VENDOR", "nano"),
		MaxParallel:       getEnvInt("MAX_PARALLEL", 3),
		GateInterval:      getEnvDuration("GATE_INTERVAL_MS", time.Millisecond, 1000),
		PollInterval:      getEnvDuration("POLL_INTERVAL_MS", time.Millisecond, 3000),
		DuplicateWindow:   getEnvDuration("DUPLICATE_WINDOW_MS", time.Millisecond, 5000),
		PersistDebounce:   getEnvDuration("PERSIST_DEBOUNCE_MS", time.Millisecond, 250),
		PollMaxDuration:   getEnvDuration("POLL_MAX_DURATION_SECONDS", time.Second, 0),
		CachePath:         getEnv("CACHE_PATH", "data/cache.db"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		StorageDriver:     strings.ToLower(getEnv("STORAGE_DRIVER", "local")),
		StoragePath:       getEnv("STORAGE_PATH", "data/uploads"),
		StorageBaseURL:    getEnv("STORAGE_BASE_URL", "http://localhost:"+port+"/static"),
		SupabaseURL:       strings.TrimRight(os.Getenv("SUPABASE_URL"), "/"),
		SupabaseKey:       os.Getenv("SUPABASE_KEY"),
		SupabaseBucket:    getEnv("SUPABASE_BUCKET", "uploads"),
		HTTPReadTimeout:   getEnvDuration("HTTP_READ_TIMEOUT_SECONDS", time.Second, 15),
		HTTPWriteTimeout:  getEnvDuration("HTTP_WRITE_TIMEOUT_SECONDS", time.Second, 0),
		HTTPIdleTimeout:   getEnvDuration("HTTP_IDLE_TIMEOUT_SECONDS", time.Second, 60),
		RemoteTimeout:     getEnvDuration("REMOTE_TIMEOUT_SECONDS", time.Second, 120),
		RateLimitPerMin:   getEnvInt("RATE_LIMIT_PER_MINUTE", 120),
		CORSAllowedOrigin: getEnvCSV("CORS_ALLOWED_ORIGINS", []string{"*"}),
		OTelEnabled:       getEnvBool("OTEL_ENABLED", false),
	}

	if cfg.APIBaseURL == "" {
		return nil, fmt.Errorf("API_BASE_URL is required")
	}
	if _, err := url.ParseRequestURI(cfg.APIBaseURL); err != nil {
		return nil, fmt.Errorf("API_BASE_URL is invalid: %w", err)
	}
	if cfg.MaxParallel < 1 {
		return nil, fmt.Errorf("MAX_PARALLEL must be at least 1")
	}

	switch cfg.StorageDriver {
	case "local":
	case "supabase":
		if cfg.SupabaseURL == "" || cfg.SupabaseKey == "" {
			return nil, fmt.Errorf("SUPABASE_URL and SUPABASE_KEY are required for the supabase storage driver")
		}
	default:
		return nil, fmt.Errorf("unknown STORAGE_DRIVER %q", cfg.StorageDriver)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, unit time.Duration, fallback int) time.Duration {
	return unit * time.Duration(getEnvInt(key, fallback))
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvCSV(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
