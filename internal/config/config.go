package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort                 = "8080"
	defaultChunkSizeBytes int64 = 25 * 1024 * 1024        // 25MB
	defaultMaxChunkSizeBytes    = 50 * 1024 * 1024        // 50MB
	defaultMaxUploadBytes       = 10 * 1024 * 1024 * 1024 // 10GB
	defaultTempDir              = "tmp/uploads"
	defaultFinalDir             = "data/files"
)

// Config captures server runtime configuration.
type Config struct {
	Port                  string
	DatabaseURL           string
	APIKey                string
	TempDir               string
	FinalDir              string
	DefaultChunkSizeBytes int64
	MaxChunkSizeBytes     int64
	MaxUploadBytes        int64
	SweepInterval         time.Duration
	TerminalRetention     time.Duration
}

// Load reads environment variables into a Config structure.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                  getEnv("UPLOAD_SERVER_PORT", defaultPort),
		DatabaseURL:           os.Getenv("DATABASE_URL"),
		APIKey:                os.Getenv("UPLOAD_SERVICE_API_KEY"),
		TempDir:               getEnv("UPLOAD_TEMP_DIR", defaultTempDir),
		FinalDir:              getEnv("UPLOAD_FINAL_DIR", defaultFinalDir),
		DefaultChunkSizeBytes: parseInt64("UPLOAD_CHUNK_SIZE", defaultChunkSizeBytes),
		MaxChunkSizeBytes:     parseInt64("UPLOAD_MAX_CHUNK_SIZE", defaultMaxChunkSizeBytes),
		MaxUploadBytes:        parseInt64("UPLOAD_MAX_SIZE", defaultMaxUploadBytes),
		SweepInterval:         parseDuration("UPLOAD_SWEEP_INTERVAL", time.Hour),
		TerminalRetention:     parseDuration("UPLOAD_TERMINAL_RETENTION", 24*time.Hour),
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.APIKey == "" {
		return nil, errors.New("UPLOAD_SERVICE_API_KEY is required")
	}

	if cfg.DefaultChunkSizeBytes <= 0 {
		cfg.DefaultChunkSizeBytes = defaultChunkSizeBytes
	}
	if cfg.MaxChunkSizeBytes < cfg.DefaultChunkSizeBytes {
		cfg.MaxChunkSizeBytes = cfg.DefaultChunkSizeBytes
	}
	if !filepath.IsAbs(cfg.TempDir) {
		cfg.TempDir = filepath.Join(os.TempDir(), cfg.TempDir)
	}
	if !filepath.IsAbs(cfg.FinalDir) {
		cfg.FinalDir = filepath.Join(os.TempDir(), cfg.FinalDir)
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return fallback
}

func parseInt64(key string, fallback int64) int64 {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func parseDuration(key string, fallback time.Duration) time.Duration {
	val := strings.TrimSpace(os.Getenv(key))
	if val == "" {
		return fallback
	}
	dur, err := time.ParseDuration(val)
	if err != nil {
		return fallback
	}
	return dur
}
