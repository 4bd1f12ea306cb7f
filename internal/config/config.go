// Package config loads the sensor's YAML configuration file and applies
// SENSOR_-prefixed environment overrides, mirroring the teacher's
// internal/config/config.go load/setDefaults/applyEnvOverrides layering.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/dynamicworkspace/presence-sensor/internal/posture"
)

// Config is the top-level YAML document.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Camera   CameraConfig   `yaml:"camera"`
	Posture  PostureConfig  `yaml:"posture"`
	Database DatabaseConfig `yaml:"database"`
	MinIO    MinIOConfig    `yaml:"minio"`
	NATS     NATSConfig     `yaml:"nats"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig governs the HTTP/websocket listener.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// CameraConfig seeds the capture adapter and QoS target frame rate.
type CameraConfig struct {
	Index     int     `yaml:"index"`
	TargetFPS float64 `yaml:"target_fps"`
}

// PostureConfig exposes spec.md's posture.Tunables constants as overridable
// defaults (SPEC_FULL AMBIENT STACK: "spec.md's constants become defaults").
// The millisecond fields are the YAML/env surface; the resolved
// time.Duration accessors below are what callers use.
type PostureConfig struct {
	Low           float64 `yaml:"low"`
	High          float64 `yaml:"high"`
	DwellReviewMs int64   `yaml:"dwell_review_ms"`
	DwellFocusMs  int64   `yaml:"dwell_focus_ms"`
	MinFlipGapMs  int64   `yaml:"min_flip_gap_ms"`
	ConfMin       float64 `yaml:"conf_min"`
}

func (p PostureConfig) DwellReview() time.Duration {
	return time.Duration(p.DwellReviewMs) * time.Millisecond
}
func (p PostureConfig) DwellFocus() time.Duration {
	return time.Duration(p.DwellFocusMs) * time.Millisecond
}
func (p PostureConfig) MinFlipGap() time.Duration {
	return time.Duration(p.MinFlipGapMs) * time.Millisecond
}

// Tunables converts the YAML/env-overridden values into posture.Tunables.
func (p PostureConfig) Tunables() posture.Tunables {
	return posture.Tunables{
		Low:         p.Low,
		High:        p.High,
		DwellReview: p.DwellReview(),
		DwellFocus:  p.DwellFocus(),
		MinFlipGap:  p.MinFlipGap(),
		ConfMin:     p.ConfMin,
	}
}

// DatabaseConfig configures the optional Postgres archive sink.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
	Enabled  bool   `yaml:"enabled"`
}

// DSN builds a postgres connection string, same shape as the teacher's
// DatabaseConfig.DSN.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// MinIOConfig configures the optional calibration-snapshot archive sink.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`
	Enabled   bool   `yaml:"enabled"`
}

// NATSConfig configures the optional posture event bus.
type NATSConfig struct {
	URL     string `yaml:"url"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig selects slog's level and handler.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads path as YAML and applies defaults then environment overrides. A
// missing file is not an error: it returns the all-defaults Config, since
// the sensor must be runnable from CLI flags alone with no config file
// present.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("read config file: %w", err)
			}
		} else if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	setDefaults(cfg)
	applyEnvOverrides(cfg)

	return cfg, nil
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8765
	}
	if cfg.Camera.TargetFPS == 0 {
		cfg.Camera.TargetFPS = 20
	}
	if cfg.Posture.Low == 0 {
		cfg.Posture.Low = 0.40
	}
	if cfg.Posture.High == 0 {
		cfg.Posture.High = 0.60
	}
	if cfg.Posture.DwellReviewMs == 0 {
		cfg.Posture.DwellReviewMs = 750
	}
	if cfg.Posture.DwellFocusMs == 0 {
		cfg.Posture.DwellFocusMs = 750
	}
	if cfg.Posture.MinFlipGapMs == 0 {
		cfg.Posture.MinFlipGapMs = 1500
	}
	if cfg.Posture.ConfMin == 0 {
		cfg.Posture.ConfMin = 0.65
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SENSOR_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("SENSOR_CAMERA_INDEX"); v != "" {
		if idx, err := strconv.Atoi(v); err == nil {
			cfg.Camera.Index = idx
		}
	}
	if v := os.Getenv("SENSOR_CAMERA_TARGET_FPS"); v != "" {
		if fps, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Camera.TargetFPS = fps
		}
	}
	if v := os.Getenv("SENSOR_POSTURE_CONF_MIN"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Posture.ConfMin = f
		}
	}
	if v := os.Getenv("SENSOR_DB_HOST"); v != "" {
		cfg.Database.Host = v
		cfg.Database.Enabled = true
	}
	if v := os.Getenv("SENSOR_DB_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Database.Port = port
		}
	}
	if v := os.Getenv("SENSOR_DB_NAME"); v != "" {
		cfg.Database.Name = v
	}
	if v := os.Getenv("SENSOR_DB_USER"); v != "" {
		cfg.Database.User = v
	}
	if v := os.Getenv("SENSOR_DB_PASSWORD"); v != "" {
		cfg.Database.Password = v
	}
	if v := os.Getenv("SENSOR_NATS_URL"); v != "" {
		cfg.NATS.URL = v
		cfg.NATS.Enabled = true
	}
	if v := os.Getenv("SENSOR_MINIO_ENDPOINT"); v != "" {
		cfg.MinIO.Endpoint = v
		cfg.MinIO.Enabled = true
	}
	if v := os.Getenv("SENSOR_MINIO_ACCESS_KEY"); v != "" {
		cfg.MinIO.AccessKey = v
	}
	if v := os.Getenv("SENSOR_MINIO_SECRET_KEY"); v != "" {
		cfg.MinIO.SecretKey = v
	}
	if v := os.Getenv("SENSOR_MINIO_BUCKET"); v != "" {
		cfg.MinIO.Bucket = v
	}
	if v := os.Getenv("SENSOR_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("SENSOR_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}
