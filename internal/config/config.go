package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/winnersop/winnersop-api/internal/token"
)

// EnvProduction は本番環境を表すAPP_ENVの値。
const EnvProduction = "production"

// OTP_LENGTHの許容範囲。otps.codeカラムはVARCHAR(12)。
const (
	minOTPLength = 4
	maxOTPLength = 12
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// App
	AppEnv    string
	APIPrefix string

	// Database
	DatabaseURL       string
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxLifetime time.Duration

	// Token
	JWTSecret            string
	JWTAccessExpiration  time.Duration
	JWTRefreshExpiration time.Duration

	// OTP
	OTPLength         int
	OTPExpiry         time.Duration
	OTPMaxAttempts    int
	OTPResendCooldown time.Duration
	OTPSweepInterval  time.Duration
	OTPUsedRetention  time.Duration
	OTPSweepInServer  bool

	// Mail
	NotifyTimeout time.Duration
	SMTPHost      string
	SMTPPort      int
	SMTPUsername  string
	SMTPPassword  string
	MailSender    string
	MailFromName  string

	// OAuth（任意。3項目すべて設定されている場合のみGoogleログインを有効にする）
	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string

	// Rate Limit
	RateLimitOTP int

	// Logging
	LogLevel string

	// Server
	ServerPort string

	// Cookie
	CookieSecure bool

	// CORS
	CORSAllowedOrigin string
}

// IsProduction は本番環境かどうかを返す。
func (c *Config) IsProduction() bool {
	return c.AppEnv == EnvProduction
}

// GoogleEnabled はGoogle OAuthの設定が揃っているかを返す。
func (c *Config) GoogleEnabled() bool {
	return c.GoogleClientID != "" && c.GoogleClientSecret != "" && c.GoogleRedirectURL != ""
}

// Load は.envファイル（存在する場合）と環境変数からConfigを読み込む。
// 既に設定済みの環境変数は.envの値で上書きしない。
// 必須環境変数が未設定の場合や、本番環境で安全でない設定の場合はエラーを返す。
func Load() (*Config, error) {
	if err := loadDotEnv(getEnvString("ENV_FILE", ".env")); err != nil {
		return nil, err
	}

	cfg := &Config{}

	// Required fields
	var missing []string

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		missing = append(missing, "DATABASE_URL")
	}

	if len(missing) > 0 {
		return nil, fmt.Errorf("required environment variables are not set: %v", missing)
	}

	// Optional fields with defaults
	cfg.AppEnv = strings.ToLower(getEnvString("APP_ENV", "development"))
	cfg.APIPrefix = normalizePrefix(getEnvString("API_PREFIX", "/api/v1"))
	cfg.DBMaxOpenConns = getEnvInt("DB_MAX_OPEN_CONNS", 25)
	cfg.DBMaxIdleConns = getEnvInt("DB_MAX_IDLE_CONNS", 5)
	cfg.DBConnMaxLifetime = getEnvDuration("DB_CONN_MAX_LIFETIME", 30*time.Minute)
	cfg.JWTSecret = getEnvString("JWT_SECRET", token.DevelopmentSecret)
	cfg.JWTAccessExpiration = getEnvDuration("JWT_ACCESS_EXPIRATION", time.Hour)
	cfg.JWTRefreshExpiration = getEnvDuration("JWT_REFRESH_EXPIRATION", 30*24*time.Hour)
	cfg.OTPLength = getEnvIntInRange("OTP_LENGTH", 6, minOTPLength, maxOTPLength)
	cfg.OTPExpiry = getEnvDuration("OTP_EXPIRY", 10*time.Minute)
	cfg.OTPMaxAttempts = getEnvInt("OTP_MAX_ATTEMPTS", 5)
	cfg.OTPResendCooldown = getEnvDuration("OTP_RESEND_COOLDOWN", 60*time.Second)
	cfg.OTPSweepInterval = getEnvDuration("OTP_SWEEP_INTERVAL", time.Hour)
	cfg.OTPUsedRetention = getEnvDuration("OTP_USED_RETENTION", 24*time.Hour)
	cfg.OTPSweepInServer = getEnvBool("OTP_SWEEP_IN_SERVER", true)
	cfg.NotifyTimeout = getEnvDuration("NOTIFY_TIMEOUT", 10*time.Second)
	cfg.SMTPHost = getEnvString("SMTP_HOST", "")
	cfg.SMTPPort = getEnvInt("SMTP_PORT", 465)
	cfg.SMTPUsername = getEnvString("SMTP_USERNAME", "")
	cfg.SMTPPassword = getEnvString("SMTP_PASSWORD", "")
	cfg.MailSender = getEnvString("DEFAULT_MAIL_SENDER", cfg.SMTPUsername)
	cfg.MailFromName = getEnvString("MAIL_FROM_NAME", "WinnerSOP")
	cfg.GoogleClientID = getEnvString("GOOGLE_CLIENT_ID", "")
	cfg.GoogleClientSecret = getEnvString("GOOGLE_CLIENT_SECRET", "")
	cfg.GoogleRedirectURL = getEnvString("GOOGLE_REDIRECT_URL", "")
	cfg.RateLimitOTP = getEnvInt("RATE_LIMIT_OTP", 10)
	cfg.LogLevel = strings.ToLower(getEnvString("LOG_LEVEL", "info"))
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")
	cfg.CookieSecure = strings.HasPrefix(cfg.GoogleRedirectURL, "https://")
	cfg.CORSAllowedOrigin = getEnvString("CORS_ALLOWED_ORIGIN", "http://localhost:3000")

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate は本番環境で許容しない設定を検出する。
func (c *Config) validate() error {
	if !c.IsProduction() {
		return nil
	}
	if c.JWTSecret == "" || c.JWTSecret == token.DevelopmentSecret {
		return fmt.Errorf("JWT_SECRET must be set to a non-default value when APP_ENV=%s", EnvProduction)
	}
	if c.SMTPHost == "" {
		return fmt.Errorf("SMTP_HOST must be set when APP_ENV=%s", EnvProduction)
	}
	return nil
}

// loadDotEnv は.envファイルを読み込む。ファイルが存在しない場合は何もしない。
func loadDotEnv(path string) error {
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// normalizePrefix はAPIプレフィックスを"/"始まり・末尾"/"なしに揃える。"/"のみの場合は空文字を返す。
func normalizePrefix(prefix string) string {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return ""
	}
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	return prefix
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("invalid integer in environment, using default",
			slog.String("key", key),
			slog.Int("default", defaultVal),
		)
		return defaultVal
	}
	return i
}

// getEnvIntInRange は範囲外の値をデフォルトに戻すgetEnvInt。
func getEnvIntInRange(key string, defaultVal, min, max int) int {
	v := getEnvInt(key, defaultVal)
	if v < min || v > max {
		slog.Warn("integer in environment out of range, using default",
			slog.String("key", key),
			slog.Int("min", min),
			slog.Int("max", max),
			slog.Int("default", defaultVal),
		)
		return defaultVal
	}
	return v
}

func getEnvBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("invalid boolean in environment, using default",
			slog.String("key", key),
			slog.Bool("default", defaultVal),
		)
		return defaultVal
	}
	return b
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := ParseDuration(v)
	if err != nil {
		slog.Warn("invalid duration in environment, using default",
			slog.String("key", key),
			slog.Duration("default", defaultVal),
		)
		return defaultVal
	}
	return d
}

// ParseDuration はtime.ParseDurationの書式に加えて日数指定（例: "30d"）を受け付ける。
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(s)
}
