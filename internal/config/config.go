package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Database DatabaseConfig
	Server   ServerConfig
	Auth     AuthConfig
	Email    EmailConfig
}

type DatabaseConfig struct {
	Host              string
	Port              int
	User              string
	Password          string
	Name              string
	SSLMode           string
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	ConnectRetries    uint64
	ConnectBackoff    time.Duration
}

type ServerConfig struct {
	Port           string
	Env            string
	LogLevel       string
	AllowedOrigins []string
	TrustedProxies []string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
}

// AuthConfig holds the session, lockout and reset policy knobs
type AuthConfig struct {
	SessionTTL            time.Duration
	BcryptCost            int
	LockoutThreshold      int
	LockoutDuration       time.Duration
	ResetTokenTTL         time.Duration
	PasswordHistorySize   int
	LoginAttemptRetention time.Duration
	CleanupInterval       time.Duration
	LoginRateLimit        int // requests per minute per IP
	ResetRateLimit        int
	TimingFloor           time.Duration // minimum latency of failed logins and reset requests
	TimingJitter          time.Duration
}

type EmailConfig struct {
	Provider     string // "log" or "ses"
	FromAddress  string
	AWSRegion    string
	ResetURLBase string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	env := getEnv("ENV", "development")

	cfg := &Config{
		Database: DatabaseConfig{
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              getEnvAsInt("DB_PORT", 5432),
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", ""),
			Name:              getEnv("DB_NAME", "sessionguard"),
			SSLMode:           getEnv("DB_SSLMODE", "disable"),
			MaxConns:          int32(getEnvAsInt("DB_MAX_CONNS", 25)),
			MinConns:          int32(getEnvAsInt("DB_MIN_CONNS", 5)),
			MaxConnLifetime:   getEnvAsDuration("DB_MAX_CONN_LIFETIME", 5*time.Minute),
			MaxConnIdleTime:   getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", 1*time.Minute),
			HealthCheckPeriod: getEnvAsDuration("DB_HEALTH_CHECK_PERIOD", 1*time.Minute),
			ConnectRetries:    uint64(getEnvAsInt("DB_CONNECT_RETRIES", 5)),
			ConnectBackoff:    getEnvAsDuration("DB_CONNECT_BACKOFF", 500*time.Millisecond),
		},
		Server: ServerConfig{
			Port:           getEnv("PORT", "8080"),
			Env:            env,
			LogLevel:       getEnv("LOG_LEVEL", "info"),
			AllowedOrigins: parseAllowedOrigins(env),
			TrustedProxies: splitList(getEnv("TRUSTED_PROXIES", "")),
			ReadTimeout:    getEnvAsDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:   getEnvAsDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:    getEnvAsDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Auth: AuthConfig{
			SessionTTL:            getEnvAsDuration("SESSION_TTL", 24*time.Hour),
			BcryptCost:            getEnvAsInt("BCRYPT_COST", 12),
			LockoutThreshold:      getEnvAsInt("LOCKOUT_THRESHOLD", 5),
			LockoutDuration:       getEnvAsDuration("LOCKOUT_DURATION", 30*time.Minute),
			ResetTokenTTL:         getEnvAsDuration("RESET_TOKEN_TTL", 1*time.Hour),
			PasswordHistorySize:   getEnvAsInt("PASSWORD_HISTORY_SIZE", 5),
			LoginAttemptRetention: getEnvAsDuration("LOGIN_ATTEMPT_RETENTION", 90*24*time.Hour),
			CleanupInterval:       getEnvAsDuration("CLEANUP_INTERVAL", 24*time.Hour),
			LoginRateLimit:        getEnvAsInt("LOGIN_RATE_LIMIT", 10),
			ResetRateLimit:        getEnvAsInt("RESET_RATE_LIMIT", 5),
			TimingFloor:           getEnvAsDuration("AUTH_TIMING_FLOOR", 300*time.Millisecond),
			TimingJitter:          getEnvAsDuration("AUTH_TIMING_JITTER", 50*time.Millisecond),
		},
		Email: EmailConfig{
			Provider:     strings.ToLower(getEnv("EMAIL_PROVIDER", "log")),
			FromAddress:  getEnv("EMAIL_FROM", ""),
			AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
			ResetURLBase: getEnv("RESET_URL_BASE", "http://localhost:3000/reset-password"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD is required")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// IsProduction reports whether cookies must be marked Secure
func (c *ServerConfig) IsProduction() bool {
	return c.Env == "production"
}

func (c *Config) validate() error {
	a := c.Auth
	if a.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be positive")
	}
	if a.LockoutThreshold < 1 {
		return fmt.Errorf("LOCKOUT_THRESHOLD must be at least 1 (got %d)", a.LockoutThreshold)
	}
	if a.LockoutDuration <= 0 {
		return fmt.Errorf("LOCKOUT_DURATION must be positive")
	}
	if a.ResetTokenTTL <= 0 {
		return fmt.Errorf("RESET_TOKEN_TTL must be positive")
	}
	if a.PasswordHistorySize < 1 {
		return fmt.Errorf("PASSWORD_HISTORY_SIZE must be at least 1 (got %d)", a.PasswordHistorySize)
	}
	if a.TimingFloor < 0 || a.TimingJitter < 0 {
		return fmt.Errorf("AUTH_TIMING_FLOOR and AUTH_TIMING_JITTER must not be negative")
	}
	if a.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive")
	}

	switch c.Email.Provider {
	case "log":
	case "ses":
		if c.Email.FromAddress == "" {
			return fmt.Errorf("EMAIL_FROM is required when EMAIL_PROVIDER=ses")
		}
	default:
		return fmt.Errorf("EMAIL_PROVIDER must be one of log, ses (got %q)", c.Email.Provider)
	}

	if c.Server.IsProduction() && !strings.HasPrefix(c.Email.ResetURLBase, "https://") {
		return fmt.Errorf("RESET_URL_BASE must use https in production")
	}

	return nil
}

func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Name, c.SSLMode,
	)
}

func getEnv(key, defaultVal string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvAsDuration(key string, defaultVal time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultVal
}

func splitList(s string) []string {
	if s == "" {
		return []string{}
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseAllowedOrigins(env string) []string {
	if env == "production" {
		return splitList(getEnv("ALLOWED_ORIGINS", ""))
	}

	// Development: allow localhost variants
	return []string{
		"http://localhost:3000",
		"http://localhost:8080",
		"http://localhost:5173", // Vite default
		"http://127.0.0.1:3000",
		"http://127.0.0.1:8080",
		"http://127.0.0.1:5173",
	}
}
