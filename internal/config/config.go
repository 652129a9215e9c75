package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	EmitInterval    time.Duration
	NoFaceThreshold int
	FPS             int

	SinkURL       string
	JournalPath   string
	WorkerCmd     string
	WorkerScript  string
	WorkerTimeout time.Duration
	HTTPAddr      string

	LogLevel  string
	LogFormat string

	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string
}

// DSN builds the PostgreSQL connection string. Without POSTGRES_HOST it points at a local default.
func (c *Config) DSN() string {
	if c.DBHost == "" {
		return "postgres://localhost:5432/attention"
	}
	u := url.URL{
		Scheme: "postgres",
		Host:   c.DBHost + ":" + c.DBPort,
		Path:   "/" + c.DBName,
	}
	if c.DBUser != "" {
		u.User = url.UserPassword(c.DBUser, c.DBPassword)
	}
	return u.String()
}

// DSNForLog is DSN with the password masked.
func (c *Config) DSNForLog() string {
	if c.DBPassword == "" {
		return c.DSN()
	}
	masked := *c
	masked.DBPassword = "xxxxx"
	return masked.DSN()
}

// Load reads an optional .env file from the working directory, then the environment.
func Load() (*Config, error) {
	return LoadFrom()
}

// LoadFrom is Load with explicit .env files. Variables already set in the environment win.
func LoadFrom(envFiles ...string) (*Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	cfg := &Config{
		EmitInterval:    getEnvDuration("ATTENTION_EMIT_INTERVAL", 200*time.Millisecond),
		NoFaceThreshold: getEnvInt("ATTENTION_NO_FACE_THRESHOLD", 8),
		FPS:             getEnvInt("ATTENTION_FPS", 30),
		SinkURL:         getEnv("ATTENTION_SINK_URL", ""),
		JournalPath:     getEnv("ATTENTION_JOURNAL", ""),
		WorkerCmd:       getEnv("ATTENTION_WORKER_CMD", "python3"),
		WorkerScript:    getEnv("ATTENTION_WORKER_SCRIPT", "python/landmark_worker.py"),
		WorkerTimeout:   getEnvDuration("ATTENTION_WORKER_TIMEOUT", 10*time.Second),
		HTTPAddr:        getEnv("ATTENTION_HTTP_ADDR", ":8080"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", "text"),
		DBHost:          getEnv("POSTGRES_HOST", ""),
		DBPort:          getEnv("POSTGRES_PORT", "5432"),
		DBUser:          getEnv("POSTGRES_USER", ""),
		DBPassword:      getEnv("POSTGRES_PASSWORD", ""),
		DBName:          getEnv("POSTGRES_DB", "attention"),
	}

	if cfg.EmitInterval <= 0 {
		return nil, fmt.Errorf("ATTENTION_EMIT_INTERVAL must be positive, got %s", cfg.EmitInterval)
	}
	if cfg.NoFaceThreshold < 1 {
		return nil, fmt.Errorf("ATTENTION_NO_FACE_THRESHOLD must be >= 1, got %d", cfg.NoFaceThreshold)
	}
	if cfg.FPS < 1 {
		return nil, fmt.Errorf("ATTENTION_FPS must be >= 1, got %d", cfg.FPS)
	}
	return cfg, nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if intVal, err := strconv.Atoi(v); err == nil {
			return intVal
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go durations ("250ms") or plain milliseconds ("250").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(v); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultVal
}
