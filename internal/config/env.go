package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"github.com/phuslu/log"
)

// StorageConfig carries the remote object-storage credentials. All fields
// default to empty; an incomplete config selects the local filesystem backend.
type StorageConfig struct {
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
}

// Complete reports whether every credential needed for remote storage is set.
func (s StorageConfig) Complete() bool {
	return s.AccessKey != "" && s.SecretKey != "" && s.Bucket != ""
}

type Config struct {
	DatabaseURL    string
	SslCertPath    string
	Storage        StorageConfig
	UploadDir      string
	AIAPIKey       string
	EmbedModel     string
	ChunkSize      int
	ProcessTimeout time.Duration
	RecoveryDelay  time.Duration
	Workers        int
	Port           string
}

// LoadConfig loads the environment variables and returns the config.
func LoadConfig() *Config {

	_ = godotenv.Load()

	cfg := &Config{
		DatabaseURL: getEnv("DATABASE_URL", ""),
		SslCertPath: getEnv("SSL_CERT_PATH", ""),
		Storage: StorageConfig{
			AccessKey: getEnv("AWS_ACCESS_KEY", ""),
			SecretKey: getEnv("AWS_SECRET_KEY", ""),
			Bucket:    getEnv("BUCKET_NAME", ""),
			Region:    getEnv("AWS_REGION", "us-east-2"),
		},
		UploadDir:      getEnv("UPLOAD_DIR", "./uploads"),
		AIAPIKey:       getEnv("GEMINI_API_KEY", ""),
		EmbedModel:     getEnv("EMBED_MODEL", "text-embedding-004"),
		ChunkSize:      getEnvInt("CHUNK_SIZE", 1000),
		ProcessTimeout: time.Duration(getEnvInt("PROCESS_TIMEOUT_SECONDS", 30)) * time.Second,
		RecoveryDelay:  time.Duration(getEnvInt("RECOVERY_DELAY_MS", 2000)) * time.Millisecond,
		Workers:        getEnvInt("INGEST_WORKERS", 4),
		Port:           getEnv("PORT", "8080"),
	}

	if cfg.DatabaseURL == "" {
		log.Fatal().Msg("DATABASE_URL not set")
	}

	return cfg
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("key", key).Str("value", v).Int("default", def).Msg("env var not an int, using default")
		return def
	}
	return n
}
