package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds every runtime setting of the backend.
type Config struct {
	Env        string
	Port       string
	GinMode    string
	CORSOrigin string
	JWTSecret  string

	LogLevel string
	LogFile  string

	DBDriver   string // postgres or sqlite
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBPort     string
	DBSSLMode  string
	DBPath     string // sqlite file

	UploadDir   string
	MaxUploadMB int64
	SegmentSize int

	OpenAIBaseURL  string
	OpenAIKey      string
	OpenAIModel    string
	MaxTokens      int
	RequestTimeout time.Duration
	RetryAttempts  int
	RetryPause     time.Duration

	WordPressCollections []string
	WordPressTimeout     time.Duration

	RedisURL   string
	RunLockTTL time.Duration
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", "local")
	v.SetDefault("PORT", "8080")
	v.SetDefault("GIN_MODE", "debug")
	v.SetDefault("CORS_ORIGIN", "http://localhost:5173")
	v.SetDefault("LOG_LEVEL", "INFO")
	v.SetDefault("DB_DRIVER", "postgres")
	v.SetDefault("DB_PORT", "5432")
	v.SetDefault("DB_SSLMODE", "disable")
	v.SetDefault("DB_PATH", "data/titlesync.db")
	v.SetDefault("UPLOAD_DIR", "uploads/jobs")
	v.SetDefault("MAX_UPLOAD_MB", 20)
	v.SetDefault("SEGMENT_SIZE", 1000)
	v.SetDefault("OPENAI_BASE_URL", "https://api.openai.com")
	v.SetDefault("OPENAI_MODEL", "gpt-4")
	v.SetDefault("OPENAI_MAX_TOKENS", 500)
	v.SetDefault("OPENAI_TIMEOUT", "90s")
	v.SetDefault("RETRY_ATTEMPTS", 3)
	v.SetDefault("RETRY_PAUSE", "60s")
	v.SetDefault("WP_COLLECTIONS", "film,posts,pages")
	v.SetDefault("WP_TIMEOUT", "30s")
	v.SetDefault("RUN_LOCK_TTL", "30s")
}

// Load reads .env (if present) and the process environment.
func Load(envFiles ...string) (*Config, error) {
	// a missing .env is fine, plain environment variables still apply
	_ = godotenv.Load(envFiles...)

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	cfg := &Config{
		Env:        v.GetString("ENV"),
		Port:       v.GetString("PORT"),
		GinMode:    v.GetString("GIN_MODE"),
		CORSOrigin: v.GetString("CORS_ORIGIN"),
		JWTSecret:  v.GetString("JWT_SECRET"),

		LogLevel: v.GetString("LOG_LEVEL"),
		LogFile:  v.GetString("LOG_FILE"),

		DBDriver:   strings.ToLower(v.GetString("DB_DRIVER")),
		DBHost:     v.GetString("DB_HOST"),
		DBUser:     v.GetString("DB_USER"),
		DBPassword: v.GetString("DB_PASSWORD"),
		DBName:     v.GetString("DB_NAME"),
		DBPort:     v.GetString("DB_PORT"),
		DBSSLMode:  v.GetString("DB_SSLMODE"),
		DBPath:     v.GetString("DB_PATH"),

		UploadDir:   v.GetString("UPLOAD_DIR"),
		MaxUploadMB: v.GetInt64("MAX_UPLOAD_MB"),
		SegmentSize: v.GetInt("SEGMENT_SIZE"),

		OpenAIBaseURL:  v.GetString("OPENAI_BASE_URL"),
		OpenAIKey:      v.GetString("OPENAI_API_KEY"),
		OpenAIModel:    v.GetString("OPENAI_MODEL"),
		MaxTokens:      v.GetInt("OPENAI_MAX_TOKENS"),
		RequestTimeout: v.GetDuration("OPENAI_TIMEOUT"),
		RetryAttempts:  v.GetInt("RETRY_ATTEMPTS"),
		RetryPause:     v.GetDuration("RETRY_PAUSE"),

		WordPressCollections: splitList(v.GetString("WP_COLLECTIONS")),
		WordPressTimeout:     v.GetDuration("WP_TIMEOUT"),

		RedisURL:   v.GetString("REDIS_URL"),
		RunLockTTL: v.GetDuration("RUN_LOCK_TTL"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the settings that have no safe fallback.
func (c *Config) Validate() error {
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("config: unsupported DB_DRIVER %q", c.DBDriver)
	}
	if c.SegmentSize < 1 {
		return fmt.Errorf("config: SEGMENT_SIZE must be positive, got %d", c.SegmentSize)
	}
	if c.RetryAttempts < 1 {
		return fmt.Errorf("config: RETRY_ATTEMPTS must be positive, got %d", c.RetryAttempts)
	}
	if c.RetryPause <= 0 {
		return fmt.Errorf("config: RETRY_PAUSE must be positive, got %s", c.RetryPause)
	}
	if c.RunLockTTL < time.Second {
		return fmt.Errorf("config: RUN_LOCK_TTL must be at least 1s, got %s", c.RunLockTTL)
	}
	if c.MaxUploadMB < 1 {
		return fmt.Errorf("config: MAX_UPLOAD_MB must be positive, got %d", c.MaxUploadMB)
	}
	return nil
}

// PostgresDSN builds the connection string the way the deployment env vars describe it.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s user=%s password=%s dbname=%s port=%s sslmode=%s",
		c.DBHost, c.DBUser, c.DBPassword, c.DBName, c.DBPort, c.DBSSLMode)
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
