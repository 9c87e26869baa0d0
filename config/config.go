package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BackendMemory    = "memory"
	BackendRTDB      = "rtdb"
	BackendFirestore = "firestore"
)

type Config struct {
	Server   ServerConfig
	Firebase FirebaseConfig
	Gateway  GatewayConfig
	Redis    RedisConfig
	Upload   UploadConfig
	Session  SessionConfig
	Log      LogConfig
}

type ServerConfig struct {
	Port string
}

type FirebaseConfig struct {
	ProjectID       string
	CredentialsPath string
	DatabaseURL     string
}

type GatewayConfig struct {
	Backend string
	// PollInterval is how often a realtime database listener re-checks its path.
	PollInterval time.Duration
	// PollRPS caps the conditional reads all listeners issue together.
	PollRPS float64
}

type RedisConfig struct {
	URL     string
	UserTTL time.Duration
}

type UploadConfig struct {
	Bucket string
}

type SessionConfig struct {
	LoadTimeout time.Duration
}

type LogConfig struct {
	Level string
	Cloud bool
}

func Load() (*Config, error) {
	// .env is optional, production relies on the environment
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("failed to load .env: %v", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnv("PORT", "8082"),
		},
		Firebase: FirebaseConfig{
			ProjectID:       getEnv("FIREBASE_PROJECT_ID", ""),
			CredentialsPath: getEnv("FIREBASE_CREDENTIALS_PATH", ""),
			DatabaseURL:     getEnv("FIREBASE_DATABASE_URL", ""),
		},
		Gateway: GatewayConfig{
			Backend:      strings.ToLower(getEnv("GATEWAY_BACKEND", BackendRTDB)),
			PollInterval: getEnvAsDuration("GATEWAY_POLL_INTERVAL", time.Second),
			PollRPS:      getEnvAsFloat("GATEWAY_POLL_RPS", 20),
		},
		Redis: RedisConfig{
			URL:     getEnv("REDIS_URL", ""),
			UserTTL: getEnvAsDuration("USER_CACHE_TTL", 10*time.Minute),
		},
		Upload: UploadConfig{
			Bucket: getEnv("UPLOAD_BUCKET", ""),
		},
		Session: SessionConfig{
			LoadTimeout: getEnvAsDuration("SESSION_LOAD_TIMEOUT", 5*time.Second),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
			Cloud: getEnvAsBool("LOG_CLOUD", false),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) Validate() error {
	switch c.Gateway.Backend {
	case BackendMemory, BackendFirestore:
	case BackendRTDB:
		if c.Firebase.DatabaseURL == "" {
			return fmt.Errorf("FIREBASE_DATABASE_URL is required for the %s backend", BackendRTDB)
		}
	default:
		return fmt.Errorf("unknown GATEWAY_BACKEND %q", c.Gateway.Backend)
	}
	if c.Gateway.PollInterval <= 0 {
		return fmt.Errorf("GATEWAY_POLL_INTERVAL must be positive")
	}
	if c.Gateway.PollRPS <= 0 {
		return fmt.Errorf("GATEWAY_POLL_RPS must be positive")
	}
	if c.Session.LoadTimeout <= 0 {
		return fmt.Errorf("SESSION_LOAD_TIMEOUT must be positive")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		log.Printf("invalid number for %s, using default: %v", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		log.Printf("invalid bool for %s, using default: %v", key, defaultValue)
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		log.Printf("invalid duration for %s, using default: %s", key, defaultValue)
		return defaultValue
	}
	return value
}
