package config

import (
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

const envProduction = "production"

// devEncryptionKey is substituted for TOTP_ENCRYPTION_KEY outside production
// when ALLOW_INSECURE_DEV_KEY=true. Never valid in production.
const devEncryptionKey = "dev-only-insecure-totp-key-32byt"

// Config holds all runtime configuration loaded from environment variables.
type Config struct {
	AppPort string
	AppEnv  string

	AWSRegion      string
	AWSEndpointURL string // empty in prod, set to LocalStack URL in dev
	AWSAccessKeyID string
	AWSSecretKey   string
	DynamoTables   DynamoTables

	JWTPrivateKeyPath string
	JWTPublicKeyPath  string
	AccessTokenTTL    time.Duration
	Pre2FATokenTTL    time.Duration
	RefreshTokenTTL   time.Duration

	OTPLength          int
	OTPTTL             time.Duration
	BcryptCost         int
	RecoveryCodeCount  int
	RecoveryCodeLength int
	TOTPIssuer         string

	// EncryptionKey is the raw 32-byte AES-256 key for TOTP secrets at rest.
	// Populated by Validate from TOTP_ENCRYPTION_KEY.
	EncryptionKey       []byte
	rawEncryptionKey    string
	AllowInsecureDevKey bool

	SMTPHost      string
	SMTPPort      string
	SMTPFrom      string
	SMTPUsername  string
	SMTPPassword  string
	SNSRegion     string
	NotifyTimeout time.Duration

	RedisAddr            string
	RedisPassword        string
	TwoFactorMaxAttempts int
	TwoFactorLockout     time.Duration

	AllowedOrigins []string // CORS allowed origins

	// TrustProxyHeaders makes the router take the client address from
	// X-Forwarded-For / X-Real-Ip. Enable only behind a proxy that sets them.
	TrustProxyHeaders bool

	loadErrs []error
}

// DynamoTables holds the DynamoDB table name for each entity.
type DynamoTables struct {
	Users         string
	RefreshTokens string
}

// Load reads all configuration from environment variables.
// Call Validate before using the result.
func Load() *Config {
	var env envLoader
	cfg := &Config{
		AppPort:        getEnv("APP_PORT", "3000"),
		AppEnv:         getEnv("APP_ENV", "development"),
		AWSRegion:      getEnv("AWS_REGION", "us-east-1"),
		AWSEndpointURL: getEnv("AWS_ENDPOINT_URL", ""),
		AWSAccessKeyID: getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretKey:   getEnv("AWS_SECRET_ACCESS_KEY", ""),
		DynamoTables: DynamoTables{
			Users:         getEnv("DYNAMO_TABLE_USERS", "users"),
			RefreshTokens: getEnv("DYNAMO_TABLE_REFRESH_TOKENS", "refresh_tokens"),
		},
		JWTPrivateKeyPath:    getEnv("JWT_PRIVATE_KEY_PATH", "./private_key.pem"),
		JWTPublicKeyPath:     getEnv("JWT_PUBLIC_KEY_PATH", "./public_key.pem"),
		AccessTokenTTL:       env.getDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		Pre2FATokenTTL:       env.getDuration("PRE2FA_TOKEN_TTL", 10*time.Minute),
		RefreshTokenTTL:      env.getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		OTPLength:            env.getInt("OTP_LENGTH", 6),
		OTPTTL:               env.getDuration("OTP_TTL", 10*time.Minute),
		BcryptCost:           env.getInt("BCRYPT_COST", 10),
		RecoveryCodeCount:    env.getInt("RECOVERY_CODE_COUNT", 10),
		RecoveryCodeLength:   env.getInt("RECOVERY_CODE_LENGTH", 10),
		TOTPIssuer:           getEnv("TOTP_ISSUER", "Establishments"),
		rawEncryptionKey:     os.Getenv("TOTP_ENCRYPTION_KEY"),
		AllowInsecureDevKey:  env.getBool("ALLOW_INSECURE_DEV_KEY", false),
		SMTPHost:             getEnv("SMTP_HOST", "localhost"),
		SMTPPort:             getEnv("SMTP_PORT", "1025"),
		SMTPFrom:             getEnv("SMTP_FROM", "noreply@example.com"),
		SMTPUsername:         getEnv("SMTP_USERNAME", ""),
		SMTPPassword:         getEnv("SMTP_PASSWORD", ""),
		SNSRegion:            getEnv("SNS_REGION", "us-east-1"),
		NotifyTimeout:        env.getDuration("NOTIFY_TIMEOUT", 5*time.Second),
		RedisAddr:            getEnv("REDIS_ADDR", ""),
		RedisPassword:        getEnv("REDIS_PASSWORD", ""),
		TwoFactorMaxAttempts: env.getInt("TWO_FACTOR_MAX_ATTEMPTS", 5),
		TwoFactorLockout:     env.getDuration("TWO_FACTOR_LOCKOUT", 15*time.Minute),
		AllowedOrigins:       strings.Split(getEnv("ALLOWED_ORIGINS", "*"), ","),
		TrustProxyHeaders:    env.getBool("TRUST_PROXY_HEADERS", false),
	}
	cfg.loadErrs = env.errs
	return cfg
}

// IsProduction reports whether APP_ENV is "production".
func (c *Config) IsProduction() bool {
	return c.AppEnv == envProduction
}

// SetEncryptionKey overrides the raw TOTP_ENCRYPTION_KEY value. Validate must be
// called afterwards.
func (c *Config) SetEncryptionKey(raw string) {
	c.rawEncryptionKey = raw
}

// Validate checks every value that must be well-formed before the process serves
// traffic and resolves the encryption key.
func (c *Config) Validate() error {
	key, err := parseEncryptionKey(c.rawEncryptionKey)
	if err != nil {
		if c.IsProduction() || !c.AllowInsecureDevKey {
			return fmt.Errorf("TOTP_ENCRYPTION_KEY: %w", err)
		}
		slog.Warn("TOTP_ENCRYPTION_KEY missing or invalid; using the INSECURE development key. Never run like this in production.",
			"app_env", c.AppEnv, "err", err)
		key = []byte(devEncryptionKey)
	}
	c.EncryptionKey = key

	errs := append([]error(nil), c.loadErrs...)
	if c.AccessTokenTTL <= 0 || c.Pre2FATokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.OTPLength < 4 || c.OTPLength > 10 {
		errs = append(errs, fmt.Errorf("OTP_LENGTH must be between 4 and 10, got %d", c.OTPLength))
	}
	if c.OTPTTL <= 0 {
		errs = append(errs, errors.New("OTP_TTL must be positive"))
	}
	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		errs = append(errs, fmt.Errorf("BCRYPT_COST must be between 4 and 31, got %d", c.BcryptCost))
	}
	if c.RecoveryCodeCount <= 0 || c.RecoveryCodeLength < 8 {
		errs = append(errs, errors.New("RECOVERY_CODE_COUNT must be positive and RECOVERY_CODE_LENGTH at least 8"))
	}
	if c.NotifyTimeout <= 0 {
		errs = append(errs, errors.New("NOTIFY_TIMEOUT must be positive"))
	}
	if c.TwoFactorMaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("TWO_FACTOR_MAX_ATTEMPTS must be positive, got %d", c.TwoFactorMaxAttempts))
	}
	if c.TwoFactorLockout <= 0 {
		errs = append(errs, errors.New("TWO_FACTOR_LOCKOUT must be positive"))
	}
	return errors.Join(errs...)
}

// parseEncryptionKey accepts either exactly 32 raw bytes or a base64 string that
// decodes to 32 bytes.
func parseEncryptionKey(raw string) ([]byte, error) {
	if raw == "" {
		return nil, errors.New("not set")
	}
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	if decoded, err := base64.StdEncoding.DecodeString(raw); err == nil && len(decoded) == 32 {
		return decoded, nil
	}
	return nil, fmt.Errorf("must be 32 bytes (raw or base64), got %d characters", len(raw))
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envLoader reads typed variables and remembers every malformed value so
// Validate can reject them instead of silently using the default.
type envLoader struct {
	errs []error
}

func (l *envLoader) getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %q is not an integer", key, v))
		return fallback
	}
	return n
}

func (l *envLoader) getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %q is not a boolean", key, v))
		return fallback
	}
	return b
}

// getDuration accepts Go duration strings ("15m", "168h").
func (l *envLoader) getDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		l.errs = append(l.errs, fmt.Errorf("%s: %q is not a duration", key, v))
		return fallback
	}
	return d
}
