package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

type Config struct {
	Host               string        `validate:"required"`
	Port               string        `validate:"required,numeric"`
	RequestTimeout     time.Duration `validate:"gt=0"`
	ShutdownTimeout    time.Duration `validate:"gt=0"`
	MaxRequestBodySize int64         `validate:"gt=0"`

	// Capture
	OutputDir         string        `validate:"required"`
	CameraWidth       int           `validate:"gte=0"`
	CameraHeight      int           `validate:"gte=0"`
	MaxImageDimension int           `validate:"gte=64"`
	JPEGQuality       int           `validate:"gte=1,lte=100"`
	DedupTTL          time.Duration `validate:"gt=0"`
	CaptureCooldown   time.Duration `validate:"gte=0"`
	ChangingTimeout   time.Duration `validate:"gt=0"`
	AutoEnable        bool
	FrameWatchDir     string

	// Optional camera still-image endpoint polled for frames
	SnapshotURL      string        `validate:"omitempty,url"`
	SnapshotInterval time.Duration `validate:"gt=0"`
	SnapshotInsecure bool

	// Logging
	LogLevel string `validate:"omitempty,oneof=debug info warn error"`
	LogFile  string

	// Upload sink, enabled when all three are set
	AzureAccount   string
	AzureKey       string
	AzureContainer string
	UploadTimeout  time.Duration `validate:"gt=0"`
}

func (c *Config) ServerAddress() string {
	// Trim any whitespace from host and port
	host := strings.TrimSpace(c.Host)
	port := strings.TrimSpace(c.Port)
	return net.JoinHostPort(host, port)
}

// UploadEnabled reports whether blob upload credentials are complete
func (c *Config) UploadEnabled() bool {
	return c.AzureAccount != "" && c.AzureKey != "" && c.AzureContainer != ""
}

// LoadFromEnv reads an optional .env file and then the process environment.
// Variables already set in the environment win over the file.
func LoadFromEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	// Set defaults
	cfg := &Config{
		Host:               getEnvOrDefault("HOST", "0.0.0.0"),
		Port:               getEnvOrDefault("PORT", "8080"),
		RequestTimeout:     parseDurationOrDefault("REQUEST_TIMEOUT", 30*time.Second),
		ShutdownTimeout:    parseDurationOrDefault("SHUTDOWN_TIMEOUT", 10*time.Second),
		MaxRequestBodySize: parseIntOrDefault("MAX_REQUEST_BODY_SIZE", 20*1024*1024), // 20MB, one raw frame
		OutputDir:          getEnvOrDefault("OUTPUT_DIR", "captures"),
		CameraWidth:        int(parseIntOrDefault("CAMERA_WIDTH", 0)),
		CameraHeight:       int(parseIntOrDefault("CAMERA_HEIGHT", 0)),
		MaxImageDimension:  int(parseIntOrDefault("MAX_IMAGE_DIMENSION", 1200)),
		JPEGQuality:        int(parseIntOrDefault("JPEG_QUALITY", 80)),
		DedupTTL:           parseDurationOrDefault("DEDUP_TTL", 5*time.Minute),
		CaptureCooldown:    parseDurationOrDefault("CAPTURE_COOLDOWN", 1200*time.Millisecond),
		ChangingTimeout:    parseDurationOrDefault("CHANGING_TIMEOUT", 3*time.Second),
		AutoEnable:         parseBoolOrDefault("AUTO_ENABLE", false),
		FrameWatchDir:      strings.TrimSpace(os.Getenv("FRAME_WATCH_DIR")),
		SnapshotURL:        strings.TrimSpace(os.Getenv("CAMERA_SNAPSHOT_URL")),
		SnapshotInterval:   parseDurationOrDefault("SNAPSHOT_INTERVAL", 200*time.Millisecond),
		SnapshotInsecure:   parseBoolOrDefault("SNAPSHOT_INSECURE_TLS", false),
		LogLevel:           strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		LogFile:            os.Getenv("LOG_FILE"),
		AzureAccount:       os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureKey:           os.Getenv("AZURE_STORAGE_KEY"),
		AzureContainer:     os.Getenv("AZURE_STORAGE_CONTAINER"),
		UploadTimeout:      parseDurationOrDefault("UPLOAD_TIMEOUT", 30*time.Second),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and cross-field rules
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Validate port is numeric and in range
	p, err := strconv.Atoi(strings.TrimSpace(c.Port))
	if err != nil || p < 1 || p > 65535 {
		return fmt.Errorf("invalid PORT: %q", c.Port)
	}
	if (c.CameraWidth == 0) != (c.CameraHeight == 0) {
		return fmt.Errorf("CAMERA_WIDTH and CAMERA_HEIGHT must be set together (got %dx%d)", c.CameraWidth, c.CameraHeight)
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(strings.TrimSpace(value)); err == nil && duration >= 0 {
			return duration
		}
	}
	return defaultValue
}

func parseIntOrDefault(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func parseBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(value)); err == nil {
			return b
		}
	}
	return defaultValue
}
