package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"

	ImageStoreLocal = "local"
	ImageStoreS3    = "s3"

	FingerprintAHash  = "ahash"
	FingerprintSHA256 = "sha256"

	VerifierAuto       = "auto"
	VerifierClassifier = "classifier"
	VerifierHeuristic  = "heuristic"
	VerifierRandom     = "random"
)

type Config struct {
	APIPort     string
	LogLevel    string
	CORSOrigins []string

	JWTKey []byte
	JWTExp time.Duration

	StoreBackend string
	DBHost       string
	DBPort       string
	DBUser       string
	DBPassword   string
	DBName       string
	DBSslMode    string
	DBConnStr    string

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	ImageStore        string
	UploadDir         string
	MaxUploadBytes    int64
	AllowedExtensions []string

	S3Bucket          string
	S3Region          string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3BaseEndpoint    string
	S3PublicBaseURL   string

	FingerprintStrategy  string
	FingerprintThreshold int

	VerifierStrategy  string
	ClassifierURL     string
	ClassifierTopN    int
	ClassifierTimeout time.Duration
	ClassifierRetries int
	RewardCoins       int
	RandomAcceptRate  float64

	VerificationQueueName string
	VerificationLockTTL   time.Duration
	SweepInterval         time.Duration
	SweepStaleAfter       time.Duration
}

// Load reads an optional .env file and then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found, relying on environment variables")
	}

	cfg := &Config{
		APIPort:     getEnv("API_PORT", "5000"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		CORSOrigins: getEnvAsList("CORS_ORIGINS", []string{"*"}),

		JWTKey: []byte(getEnv("JWT_SECRET", "defaultsecret")),
		JWTExp: time.Duration(getEnvAsInt("JWT_EXPIRATION_HOURS", 24)) * time.Hour,

		StoreBackend: strings.ToLower(getEnv("STORE_BACKEND", StoreMemory)),
		DBHost:       getEnv("DB_HOST", "localhost"),
		DBPort:       getEnv("DB_PORT", "5432"),
		DBUser:       getEnv("DB_USER", "user"),
		DBPassword:   getEnv("DB_PASSWORD", "password"),
		DBName:       getEnv("DB_NAME", "mosquito_hunter"),
		DBSslMode:    getEnv("DB_SSLMODE", "disable"),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		ImageStore:        strings.ToLower(getEnv("IMAGE_STORE", ImageStoreLocal)),
		UploadDir:         getEnv("UPLOAD_DIR", "uploads"),
		MaxUploadBytes:    int64(getEnvAsInt("MAX_UPLOAD_BYTES", 5*1024*1024)),
		AllowedExtensions: getEnvAsList("ALLOWED_EXTENSIONS", []string{"png", "jpg", "jpeg", "gif"}),

		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
		S3BaseEndpoint:    getEnv("S3_BASE_ENDPOINT", ""),
		S3PublicBaseURL:   getEnv("S3_PUBLIC_BASE_URL", ""),

		FingerprintStrategy:  strings.ToLower(getEnv("FINGERPRINT_STRATEGY", FingerprintAHash)),
		FingerprintThreshold: getEnvAsInt("FINGERPRINT_THRESHOLD", 5),

		VerifierStrategy:  strings.ToLower(getEnv("VERIFIER_STRATEGY", VerifierAuto)),
		ClassifierURL:     getEnv("CLASSIFIER_URL", ""),
		ClassifierTopN:    getEnvAsInt("CLASSIFIER_TOP_N", 10),
		ClassifierTimeout: time.Duration(getEnvAsInt("CLASSIFIER_TIMEOUT_SECONDS", 30)) * time.Second,
		ClassifierRetries: getEnvAsInt("CLASSIFIER_RETRIES", 0),
		RewardCoins:       getEnvAsInt("REWARD_COINS", 10),
		RandomAcceptRate:  getEnvAsFloat("RANDOM_ACCEPT_RATE", 0.3),

		VerificationQueueName: getEnv("VERIFICATION_QUEUE_NAME", "verification_queue"),
		VerificationLockTTL:   time.Duration(getEnvAsInt("VERIFICATION_LOCK_TTL_SECONDS", 120)) * time.Second,
		SweepInterval:         time.Duration(getEnvAsInt("SWEEP_INTERVAL_SECONDS", 300)) * time.Second,
		SweepStaleAfter:       time.Duration(getEnvAsInt("SWEEP_STALE_AFTER_SECONDS", 600)) * time.Second,
	}

	cfg.DBConnStr = getEnv("DATABASE_URL", "")
	if cfg.DBConnStr == "" {
		cfg.DBConnStr = "host=" + cfg.DBHost +
			" port=" + cfg.DBPort +
			" user=" + cfg.DBUser +
			" password=" + cfg.DBPassword +
			" dbname=" + cfg.DBName +
			" sslmode=" + cfg.DBSslMode
	}

	for i, ext := range cfg.AllowedExtensions {
		cfg.AllowedExtensions[i] = strings.TrimPrefix(strings.ToLower(ext), ".")
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.StoreBackend {
	case StoreMemory, StorePostgres:
	default:
		return fmt.Errorf("config: unknown STORE_BACKEND %q", c.StoreBackend)
	}
	switch c.ImageStore {
	case ImageStoreLocal:
	case ImageStoreS3:
		if c.S3Bucket == "" {
			return fmt.Errorf("config: S3_BUCKET is required when IMAGE_STORE=s3")
		}
	default:
		return fmt.Errorf("config: unknown IMAGE_STORE %q", c.ImageStore)
	}
	switch c.FingerprintStrategy {
	case FingerprintAHash, FingerprintSHA256:
	default:
		return fmt.Errorf("config: unknown FINGERPRINT_STRATEGY %q", c.FingerprintStrategy)
	}
	switch c.VerifierStrategy {
	case VerifierAuto, VerifierHeuristic, VerifierRandom:
	case VerifierClassifier:
		if c.ClassifierURL == "" {
			return fmt.Errorf("config: CLASSIFIER_URL is required when VERIFIER_STRATEGY=classifier")
		}
	default:
		return fmt.Errorf("config: unknown VERIFIER_STRATEGY %q", c.VerifierStrategy)
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("config: MAX_UPLOAD_BYTES must be positive")
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("config: SWEEP_INTERVAL_SECONDS must be positive")
	}
	if c.SweepStaleAfter < 0 {
		return fmt.Errorf("config: SWEEP_STALE_AFTER_SECONDS must not be negative")
	}
	if c.VerificationLockTTL <= 0 {
		return fmt.Errorf("config: VERIFICATION_LOCK_TTL_SECONDS must be positive")
	}
	if c.RandomAcceptRate < 0 || c.RandomAcceptRate > 1 {
		return fmt.Errorf("config: RANDOM_ACCEPT_RATE must be within [0,1]")
	}
	return nil
}

// SlogLevel maps LOG_LEVEL to a slog level, defaulting to info.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return fallback
}

func getEnvAsFloat(key string, fallback float64) float64 {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseFloat(valueStr, 64); err == nil {
		return value
	}
	return fallback
}

func getEnvAsList(key string, fallback []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
