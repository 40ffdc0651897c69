package config

import (
	"fmt"
	"os"

	"github.com/edvin/backupd/internal/model"
)

type Config struct {
	SourcesFile       string
	S3Endpoint        string
	S3Bucket          string
	S3AccessKey       string
	S3SecretKey       string
	S3Region          string
	EncryptionMethod  string
	Passphrase        string
	GPGPublicKey      string
	GPGKeyID          string
	HTTPListenAddr    string
	MetricsListenAddr string
	LogLevel          string
	// WorkDir is where per-job scoped temp directories are created.
	WorkDir string
}

func Load() (*Config, error) {
	cfg := &Config{
		SourcesFile:       getEnv("BACKUPD_SOURCES_FILE", "/etc/backupd/sources.yaml"),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3AccessKey:       getEnv("S3_ACCESS_KEY", ""),
		S3SecretKey:       getEnv("S3_SECRET_KEY", ""),
		S3Region:          getEnv("S3_REGION", "us-east-1"),
		EncryptionMethod:  getEnv("ENCRYPTION_METHOD", model.EncryptionAES256),
		Passphrase:        getEnv("BACKUP_PASSPHRASE", ""),
		GPGPublicKey:      getEnv("GPG_PUBLIC_KEY", ""),
		GPGKeyID:          getEnv("GPG_KEY_ID", ""),
		HTTPListenAddr:    getEnv("HTTP_LISTEN_ADDR", ":8080"),
		MetricsListenAddr: getEnv("METRICS_LISTEN_ADDR", ":9090"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		WorkDir:           getEnv("WORK_DIR", os.TempDir()),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.S3Bucket == "" {
		return fmt.Errorf("S3_BUCKET is required")
	}
	switch c.EncryptionMethod {
	case model.EncryptionAES256:
		if c.Passphrase == "" {
			return fmt.Errorf("BACKUP_PASSPHRASE is required for aes256 encryption")
		}
	case model.EncryptionGPG:
		if c.GPGPublicKey == "" {
			return fmt.Errorf("GPG_PUBLIC_KEY is required for gpg encryption")
		}
	default:
		return fmt.Errorf("unknown ENCRYPTION_METHOD %q", c.EncryptionMethod)
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
