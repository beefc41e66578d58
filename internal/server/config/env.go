package config

import "os"

// Environment variables consulted for secrets.
const (
	EnvDigestKey   = "RECORDGUARD_DIGEST_KEY"
	EnvCipherKey   = "RECORDGUARD_CIPHER_KEY"
	EnvCipherIV    = "RECORDGUARD_CIPHER_IV"
	EnvJWTSecret   = "RECORDGUARD_JWT_SECRET"
	EnvDatabaseDSN = "RECORDGUARD_DATABASE_DSN"
	EnvS3Password  = "RECORDGUARD_S3_PASSWORD"
)

func parseEnv(config *Config) {
	setFromEnv(&config.DigestKey, EnvDigestKey)
	setFromEnv(&config.CipherKey, EnvCipherKey)
	setFromEnv(&config.CipherIV, EnvCipherIV)
	setFromEnv(&config.SecretKey, EnvJWTSecret)
	setFromEnv(&config.DatabaseDSN, EnvDatabaseDSN)
	setFromEnv(&config.S3RootPassword, EnvS3Password)
}

func setFromEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}
