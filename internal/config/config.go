// Package config loads runtime settings from the environment. A .env file in
// the working directory is honoured when present so deployments can keep
// camera and model settings next to the binary.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Camera settings. The requested resolution is a hint; the negotiated
	// resolution is read back from the device after open.
	CameraID        int
	FrameWidth      int
	FrameHeight     int
	CaptureInterval time.Duration
	FrameDir        string

	// Detection model settings (SSD-style frozen graph + config).
	ModelPath        string
	ModelConfigPath  string
	DefaultThreshold float64

	// Persistence. Empty DatabasePath disables the audit store entirely;
	// detections are still served, just not recorded.
	DatabasePath  string
	MigrationsDir string

	// AuditQueueSize bounds the in-flight persistence queue; overflow is
	// dropped rather than blocking the detection response path.
	AuditQueueSize int
}

// Load reads configuration from the environment, applying defaults for
// anything unset. Missing .env is not an error.
func Load() *Config {
	_ = godotenv.Load()

	return &Config{
		CameraID:         getEnvAsInt("CAMERA_ID", 0),
		FrameWidth:       getEnvAsInt("FRAME_WIDTH", 640),
		FrameHeight:      getEnvAsInt("FRAME_HEIGHT", 480),
		CaptureInterval:  getEnvAsDuration("CAPTURE_INTERVAL", time.Second),
		FrameDir:         getEnv("FRAME_DIR", filepath.Join(".", "images")),
		ModelPath:        getEnv("MODEL_PATH", filepath.Join(".", "models", "frozen_inference_graph.pb")),
		ModelConfigPath:  getEnv("MODEL_CONFIG_PATH", filepath.Join(".", "models", "ssd_mobilenet_v1_coco_2017_11_17.pbtxt")),
		DefaultThreshold: getEnvAsFloat("DEFAULT_THRESHOLD", 0.5),
		DatabasePath:     getEnv("DATABASE_PATH", "vision_data.db"),
		MigrationsDir:    getEnv("MIGRATIONS_DIR", filepath.Join(".", "internal", "db", "migrations")),
		AuditQueueSize:   getEnvAsInt("AUDIT_QUEUE_SIZE", 256),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
