package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Admin    AdminConfig
	Proctor  ProctorConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all (e.g. http://localhost:3000,http://localhost:3001)
}

// DatabaseConfig holds PostgreSQL connection settings.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/escape?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// RedisConfig holds Redis connection settings (presence heartbeats).
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AdminConfig holds admin dashboard login and token settings.
type AdminConfig struct {
	Username     string
	PasswordHash string // bcrypt hash; empty disables admin login
	JWTSecret    string
	ExpireHours  int
}

// ProctorConfig holds every proctoring constant the core depends on.
// These are the single canonical values; nothing re-derives thresholds.
type ProctorConfig struct {
	MaxLevel            int
	LevelDurations      map[int]int // level -> seconds
	DefaultLevelSec     int
	PenaltyPoints       int
	DebounceWindow      time.Duration // min gap between two counted violations
	MinHiddenMs         int64         // below this a reported hide is focus flicker
	MaxHiddenMs         int64         // above this a reported hide is device sleep
	InactivityThreshold time.Duration // heartbeat gap that counts as leaving the app
	TransitionGrace     time.Duration // post-submit window with gap penalties suppressed
	HeartbeatTTL        time.Duration
	FinalLevelSentinel  string // answer token produced by the final-level sandbox checks
	FinalLevelBonus     int
}

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// LevelDuration returns the canonical duration for a level in seconds.
// Unknown levels fall back to the default duration.
func (c ProctorConfig) LevelDuration(level int) int {
	if d, ok := c.LevelDurations[level]; ok {
		return d
	}
	return c.DefaultLevelSec
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load() // .env

	readTimeout, _ := strconv.Atoi(getEnv("READ_TIMEOUT_SEC", "30"))
	writeTimeout, _ := strconv.Atoi(getEnv("WRITE_TIMEOUT_SEC", "30"))
	redisDB, _ := strconv.Atoi(getEnv("REDIS_DB", "0"))

	durations, err := parseLevelDurations(getEnv("PROCTOR_LEVEL_DURATIONS", "180,240,360,300,180"))
	if err != nil {
		return nil, fmt.Errorf("parse PROCTOR_LEVEL_DURATIONS: %w", err)
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8080"),
			ReadTimeout:        readTimeout,
			WriteTimeout:       writeTimeout,
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:3001"),
		},
		Database: DatabaseConfig{
			URL:      getEnv("DATABASE_URL", "postgres://localhost:5432/escape?sslmode=disable"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", "postgres"),
			DBName:   getEnv("DB_NAME", "escape"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       redisDB,
		},
		Admin: AdminConfig{
			Username:     getEnv("ADMIN_USERNAME", "admin"),
			PasswordHash: getEnv("ADMIN_PASSWORD_HASH", ""),
			JWTSecret:    getEnv("ADMIN_JWT_SECRET", "change-me-in-production"),
			ExpireHours:  getEnvInt("ADMIN_JWT_EXPIRE_HOURS", 12),
		},
		Proctor: ProctorConfig{
			MaxLevel:            getEnvInt("PROCTOR_MAX_LEVEL", 5),
			LevelDurations:      durations,
			DefaultLevelSec:     getEnvInt("PROCTOR_DEFAULT_LEVEL_SEC", 300),
			PenaltyPoints:       getEnvInt("PROCTOR_PENALTY_POINTS", 10),
			DebounceWindow:      time.Duration(getEnvInt("PROCTOR_DEBOUNCE_MS", 1500)) * time.Millisecond,
			MinHiddenMs:         int64(getEnvInt("PROCTOR_MIN_HIDDEN_MS", 300)),
			MaxHiddenMs:         int64(getEnvInt("PROCTOR_MAX_HIDDEN_MS", 600000)),
			InactivityThreshold: time.Duration(getEnvInt("PROCTOR_INACTIVITY_MS", 12000)) * time.Millisecond,
			TransitionGrace:     time.Duration(getEnvInt("PROCTOR_TRANSITION_GRACE_MS", 90000)) * time.Millisecond,
			HeartbeatTTL:        time.Duration(getEnvInt("PROCTOR_HEARTBEAT_TTL_HOURS", 24)) * time.Hour,
			FinalLevelSentinel:  getEnv("PROCTOR_FINAL_SENTINEL", "PASSED"),
			FinalLevelBonus:     getEnvInt("PROCTOR_FINAL_BONUS", 50),
		},
	}
	return cfg, nil
}

// parseLevelDurations turns "180,240,360" into {1:180, 2:240, 3:360}.
func parseLevelDurations(s string) (map[int]int, error) {
	out := make(map[int]int)
	for i, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		sec, err := strconv.Atoi(part)
		if err != nil || sec <= 0 {
			return nil, fmt.Errorf("level %d duration %q", i+1, part)
		}
		out[i+1] = sec
	}
	return out, nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
