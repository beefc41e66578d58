package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/recordguard/internal/flagx"
	"github.com/dmitrijs2005/recordguard/internal/timex"
)

// JsonConfig is the on-disk shape of the configuration file. Absent keys
// leave the corresponding Config field untouched.
type JsonConfig struct {
	EndpointAddrGRPC            string         `json:"endpoint_addr_grpc"`
	EndpointAddrMetrics         string         `json:"endpoint_addr_metrics"`
	DatabaseDSN                 string         `json:"database_dsn"`
	SecretKey                   string         `json:"secret_key"`
	AccessTokenValidityDuration timex.Duration `json:"access_token_validity_duration"`
	LogLevel                    string         `json:"log_level"`

	DigestKey string `json:"digest_key"`
	CipherKey string `json:"cipher_key"`
	CipherIV  string `json:"cipher_iv"`

	MaxLoginAttempts  int            `json:"max_login_attempts"`
	LockDuration      timex.Duration `json:"lock_duration"`
	SessionTimeout    timex.Duration `json:"session_timeout"`
	PasswordExpiry    timex.Duration `json:"password_expiry"`
	PasswordMinLength int            `json:"password_min_length"`

	PublicOperations         []string `json:"public_operations"`
	PasswordChangeOperations []string `json:"password_change_operations"`

	IntegrityCheckAt string         `json:"integrity_check_at"`
	IntegrityWindow  timex.Duration `json:"integrity_window"`

	ReportSinkEnabled *bool  `json:"report_sink_enabled"`
	S3RootUser        string `json:"s3_root_user"`
	S3RootPassword    string `json:"s3_root_password"`
	S3Bucket          string `json:"s3_bucket"`
	S3Region          string `json:"s3_region"`
	S3BaseEndpoint    string `json:"s3_base_endpoint"`
}

// parseJson overlays values from the file named by -c/-config. Without the
// flag nothing is loaded. An unreadable or invalid file panics.
func parseJson(config *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	if err := json.Unmarshal(file, c); err != nil {
		panic(err)
	}

	setString(&config.EndpointAddrGRPC, c.EndpointAddrGRPC)
	setString(&config.EndpointAddrMetrics, c.EndpointAddrMetrics)
	setString(&config.DatabaseDSN, c.DatabaseDSN)
	setString(&config.SecretKey, c.SecretKey)
	setDuration(&config.AccessTokenValidityDuration, c.AccessTokenValidityDuration)
	setString(&config.LogLevel, c.LogLevel)

	setString(&config.DigestKey, c.DigestKey)
	setString(&config.CipherKey, c.CipherKey)
	setString(&config.CipherIV, c.CipherIV)

	if c.MaxLoginAttempts > 0 {
		config.MaxLoginAttempts = c.MaxLoginAttempts
	}
	setDuration(&config.LockDuration, c.LockDuration)
	setDuration(&config.SessionTimeout, c.SessionTimeout)
	setDuration(&config.PasswordExpiry, c.PasswordExpiry)
	if c.PasswordMinLength > 0 {
		config.PasswordMinLength = c.PasswordMinLength
	}

	if c.PublicOperations != nil {
		config.PublicOperations = c.PublicOperations
	}
	if c.PasswordChangeOperations != nil {
		config.PasswordChangeOperations = c.PasswordChangeOperations
	}

	setString(&config.IntegrityCheckAt, c.IntegrityCheckAt)
	setDuration(&config.IntegrityWindow, c.IntegrityWindow)

	if c.ReportSinkEnabled != nil {
		config.ReportSinkEnabled = *c.ReportSinkEnabled
	}
	setString(&config.S3RootUser, c.S3RootUser)
	setString(&config.S3RootPassword, c.S3RootPassword)
	setString(&config.S3Bucket, c.S3Bucket)
	setString(&config.S3Region, c.S3Region)
	setString(&config.S3BaseEndpoint, c.S3BaseEndpoint)
}

func setString(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func setDuration(dst *time.Duration, v timex.Duration) {
	if v.Duration > 0 {
		*dst = v.Duration
	}
}
