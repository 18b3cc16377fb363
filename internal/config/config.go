// Package config loads service settings from the environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/example/body-measure/internal/calibration"
	"github.com/example/body-measure/internal/measurement"
	"github.com/example/body-measure/internal/pose"
)

type Config struct {
	HTTPAddr          string
	DatabaseDSN       string
	RedisAddr         string
	// PoseEstimatorAddr is empty for deployments that only accept keypoints.
	PoseEstimatorAddr string
	LogLevel          string
	SessionTTL        time.Duration
	CORSOrigins       []string
	JWT               JWTConfig
	MQTT              MQTTConfig
	Measurement       MeasurementConfig
}

type JWTConfig struct {
	Secret   string
	Audience string
}

type MQTTConfig struct {
	Broker   string
	ClientID string
	Username string
	Password string
	Topic    string
	QoS      int
}

// Enabled reports whether a broker was configured.
func (c MQTTConfig) Enabled() bool {
	return c.Broker != ""
}

type MeasurementConfig struct {
	ConfidenceFloor float64
	SmoothingWindow int
	BodyHeightRatio float64
	CatalogPath     string
}

// CalibrationOptions returns the calibrator settings.
func (c MeasurementConfig) CalibrationOptions() calibration.Options {
	return calibration.Options{
		ConfidenceFloor: c.ConfidenceFloor,
		BodyHeightRatio: c.BodyHeightRatio,
	}
}

// EngineOptions returns the measurement engine settings.
func (c MeasurementConfig) EngineOptions() measurement.Options {
	return measurement.Options{
		ConfidenceFloor: c.ConfidenceFloor,
		WindowSize:      c.SmoothingWindow,
	}
}

// Catalog returns the measurement catalog, merged with the override file
// when one is configured.
func (c MeasurementConfig) Catalog() (measurement.Catalog, error) {
	if c.CatalogPath == "" {
		return measurement.DefaultCatalog(), nil
	}
	return measurement.LoadCatalog(c.CatalogPath)
}

// Load reads the configuration from the environment and validates it.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPAddr:          getEnv("HTTP_ADDR", ":8080"),
		DatabaseDSN:       getEnv("DATABASE_DSN", "host=postgres user=postgres password=postgres dbname=bodymeasure port=5432 sslmode=disable"),
		RedisAddr:         getEnv("REDIS_ADDR", "redis:6379"),
		PoseEstimatorAddr: os.Getenv("POSE_ESTIMATOR_ADDR"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		SessionTTL:        getEnvAsDuration("SESSION_TTL", 30*time.Minute),
		CORSOrigins:       getEnvAsList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		JWT: JWTConfig{
			Secret:   getEnv("JWT_SECRET", "dev-secret"),
			Audience: os.Getenv("JWT_AUDIENCE"),
		},
		MQTT: MQTTConfig{
			Broker:   os.Getenv("MQTT_BROKER"),
			ClientID: getEnv("MQTT_CLIENT_ID", "body-measure"),
			Username: os.Getenv("MQTT_USERNAME"),
			Password: os.Getenv("MQTT_PASSWORD"),
			Topic:    getEnv("MQTT_TOPIC", "body-measure/records"),
			QoS:      getEnvAsInt("MQTT_QOS", 1),
		},
		Measurement: MeasurementConfig{
			ConfidenceFloor: getEnvAsFloat("MEASURE_CONFIDENCE_FLOOR", pose.DefaultConfidenceFloor),
			SmoothingWindow: getEnvAsInt("MEASURE_SMOOTHING_WINDOW", measurement.DefaultWindowSize),
			BodyHeightRatio: getEnvAsFloat("MEASURE_BODY_HEIGHT_RATIO", calibration.DefaultBodyHeightRatio),
			CatalogPath:     os.Getenv("MEASURE_CATALOG_PATH"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	m := c.Measurement
	if !(m.ConfidenceFloor >= 0 && m.ConfidenceFloor <= 1) {
		return fmt.Errorf("MEASURE_CONFIDENCE_FLOOR must be within [0,1], got %.3f", m.ConfidenceFloor)
	}
	if m.SmoothingWindow < 1 {
		return fmt.Errorf("MEASURE_SMOOTHING_WINDOW must be at least 1, got %d", m.SmoothingWindow)
	}
	if !(m.BodyHeightRatio > 0 && m.BodyHeightRatio <= 1) {
		return fmt.Errorf("MEASURE_BODY_HEIGHT_RATIO must be within (0,1], got %.3f", m.BodyHeightRatio)
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %d", c.MQTT.QoS)
	}
	if c.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive, got %s", c.SessionTTL)
	}
	return nil
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

func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
