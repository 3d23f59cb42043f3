package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const defaultCORSOrigin = "http://localhost:5173"

type DBConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// Config is read once from the environment. Durations are already converted from their env units.
type Config struct {
	Env  string
	Port string

	DatabaseURL   string
	DB            DBConfig
	RunMigrations bool

	JWTSecret       string
	JWTKeyID        string
	JWTPreviousKeys string
	AccessTokenTTL  time.Duration
	RefreshTokenTTL time.Duration

	LoginMaxAttempts     int
	LoginLockDuration    time.Duration
	ResetTokenTTL        time.Duration
	ResetTokenInResponse bool
	PasswordHashCost     int
	StorageTimeout       time.Duration

	LoginRateLimitMax    int
	LoginRateLimitWindow time.Duration
	APIRateLimitMax      int
	APIRateLimitWindow   time.Duration

	RefreshCookiePath     string
	RefreshCookieSameSite string
	CORSAllowedOrigins    []string

	RedisURL               string
	ViewThrottle           time.Duration
	ViewThrottleMaxEntries int

	CloudinaryURL    string
	CloudinaryFolder string

	SentryDSN     string
	SentryRelease string

	CronSecret       string
	SessionRetention time.Duration
	IPLimitRetention time.Duration
	CleanupBatchSize int
	PublishInterval  time.Duration

	AdminEmail    string
	AdminPassword string
}

func (c Config) Production() bool {
	return strings.EqualFold(c.Env, "production")
}

func LoadConfig() (Config, error) {
	databaseURL, err := mustEnv("DATABASE_URL")
	if err != nil {
		return Config{}, err
	}
	jwtSecret, err := mustEnv("JWT_SECRET")
	if err != nil {
		return Config{}, err
	}

	cfg := Config{
		Env:  envOrDefault("APP_ENV", "development"),
		Port: envOrDefault("PORT", "8080"),

		DatabaseURL: databaseURL,
		DB: DBConfig{
			MaxOpenConns:    envIntOrDefault("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    envIntOrDefault("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envMinutesOrDefault("DB_CONN_MAX_LIFETIME_MINUTES", 30),
			ConnMaxIdleTime: envMinutesOrDefault("DB_CONN_MAX_IDLE_TIME_MINUTES", 10),
		},
		RunMigrations: EnvBoolOrDefault("RUN_MIGRATIONS_ON_STARTUP", true),

		JWTSecret:       jwtSecret,
		JWTKeyID:        envOrDefault("JWT_KEY_ID", "v1"),
		JWTPreviousKeys: strings.TrimSpace(os.Getenv("JWT_PREVIOUS_KEYS")),
		AccessTokenTTL:  envMinutesOrDefault("ACCESS_TOKEN_TTL_MINUTES", 15),
		RefreshTokenTTL: envHoursOrDefault("REFRESH_TOKEN_TTL_HOURS", 168),

		LoginMaxAttempts:  envIntOrDefault("LOGIN_MAX_ATTEMPTS", 5),
		LoginLockDuration: envMinutesOrDefault("LOGIN_LOCK_MINUTES", 10),
		ResetTokenTTL:     envMinutesOrDefault("RESET_TOKEN_TTL_MINUTES", 60),
		PasswordHashCost:  envIntOrDefault("PASSWORD_HASH_COST", 12),
		StorageTimeout:    envSecondsOrDefault("STORAGE_TIMEOUT_SECONDS", 5),

		LoginRateLimitMax:    envIntOrDefault("LOGIN_RATE_LIMIT_MAX", 30),
		LoginRateLimitWindow: envSecondsOrDefault("LOGIN_RATE_LIMIT_WINDOW_SECONDS", 600),
		APIRateLimitMax:      envIntOrDefault("API_RATE_LIMIT_MAX", 300),
		APIRateLimitWindow:   envSecondsOrDefault("API_RATE_LIMIT_WINDOW_SECONDS", 900),

		RefreshCookiePath:     envOrDefault("REFRESH_COOKIE_PATH", "/auth"),
		RefreshCookieSameSite: strings.TrimSpace(os.Getenv("REFRESH_COOKIE_SAMESITE")),
		CORSAllowedOrigins:    envListOrDefault("CORS_ALLOWED_ORIGINS", []string{defaultCORSOrigin}),

		RedisURL:               strings.TrimSpace(os.Getenv("REDIS_URL")),
		ViewThrottle:           envSecondsOrDefault("VIEW_THROTTLE_SECONDS", 3),
		ViewThrottleMaxEntries: envIntOrDefault("VIEW_THROTTLE_MAX_ENTRIES", 10000),

		CloudinaryURL:    strings.TrimSpace(os.Getenv("CLOUDINARY_URL")),
		CloudinaryFolder: envOrDefault("CLOUDINARY_FOLDER", "newsdesk"),

		SentryDSN:     strings.TrimSpace(os.Getenv("SENTRY_DSN")),
		SentryRelease: strings.TrimSpace(os.Getenv("SENTRY_RELEASE")),

		CronSecret:       strings.TrimSpace(os.Getenv("CRON_SECRET")),
		SessionRetention: envDaysOrDefault("AUTH_SESSION_RETENTION_DAYS", 14),
		IPLimitRetention: envDaysOrDefault("AUTH_IP_LIMIT_RETENTION_DAYS", 1),
		CleanupBatchSize: envIntOrDefault("AUTH_CLEANUP_BATCH_SIZE", 500),
		PublishInterval:  envSecondsOrDefault("PUBLISH_INTERVAL_SECONDS", 60),

		AdminEmail:    strings.TrimSpace(os.Getenv("ADMIN_EMAIL")),
		AdminPassword: os.Getenv("ADMIN_PASSWORD"),
	}

	// Raw reset tokens in responses are a local debugging aid only.
	cfg.ResetTokenInResponse = !cfg.Production() && EnvBoolOrDefault("RESET_TOKEN_IN_RESPONSE", false)

	return cfg, nil
}

func mustEnv(name string) (string, error) {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return "", fmt.Errorf("missing required env: %s", name)
	}
	return value, nil
}

func envOrDefault(name, fallback string) string {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	return value
}

func envListOrDefault(name string, fallback []string) []string {
	values := make([]string, 0)
	for _, item := range strings.Split(os.Getenv(name), ",") {
		if item = strings.TrimSpace(item); item != "" {
			values = append(values, item)
		}
	}
	if len(values) == 0 {
		return fallback
	}
	return values
}

func envIntOrDefault(name string, fallback int) int {
	value := strings.TrimSpace(os.Getenv(name))
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}

func envMinutesOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Minute
}

func envHoursOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Hour
}

func envDaysOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * 24 * time.Hour
}

func envSecondsOrDefault(name string, fallback int) time.Duration {
	return time.Duration(envIntOrDefault(name, fallback)) * time.Second
}

func EnvBoolOrDefault(name string, fallback bool) bool {
	value := strings.TrimSpace(strings.ToLower(os.Getenv(name)))
	if value == "" {
		return fallback
	}

	switch value {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}
