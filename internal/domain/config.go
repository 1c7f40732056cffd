// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"strings"
	"time"
)

// Config represents the application configuration
type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host" validate:"required"`
	Port          int    `toml:"port" mapstructure:"port" validate:"min=1,max=65535"`
	BaseURL       string `toml:"baseUrl" mapstructure:"baseUrl"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel" validate:"oneof=TRACE DEBUG INFO WARN ERROR trace debug info warn error"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize" validate:"min=0"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups" validate:"min=0"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`

	DatabaseEngine         string `toml:"databaseEngine" mapstructure:"databaseEngine" validate:"omitempty,oneof=sqlite postgres postgresql"`
	DatabasePath           string `toml:"databasePath" mapstructure:"databasePath"`
	DatabaseDSN            string `toml:"databaseDsn" mapstructure:"databaseDsn"`
	DatabaseHost           string `toml:"databaseHost" mapstructure:"databaseHost"`
	DatabasePort           int    `toml:"databasePort" mapstructure:"databasePort" validate:"min=0,max=65535"`
	DatabaseUser           string `toml:"databaseUser" mapstructure:"databaseUser"`
	DatabasePassword       string `toml:"databasePassword" mapstructure:"databasePassword"`
	DatabaseName           string `toml:"databaseName" mapstructure:"databaseName"`
	DatabaseSSLMode        string `toml:"databaseSslMode" mapstructure:"databaseSslMode"`
	DatabaseConnectTimeout int    `toml:"databaseConnectTimeout" mapstructure:"databaseConnectTimeout" validate:"min=0"`
	DatabaseMaxOpenConns   int    `toml:"databaseMaxOpenConns" mapstructure:"databaseMaxOpenConns" validate:"min=0"`
	DatabaseMaxIdleConns   int    `toml:"databaseMaxIdleConns" mapstructure:"databaseMaxIdleConns" validate:"min=0"`

	MetricsEnabled        bool   `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	MetricsHost           string `toml:"metricsHost" mapstructure:"metricsHost"`
	MetricsPort           int    `toml:"metricsPort" mapstructure:"metricsPort" validate:"min=0,max=65535"`
	MetricsBasicAuthUsers string `toml:"metricsBasicAuthUsers" mapstructure:"metricsBasicAuthUsers"`

	// Download grants
	AssetBaseURL        string        `toml:"assetBaseUrl" mapstructure:"assetBaseUrl" validate:"required,url"`
	DownloadPageBaseURL string        `toml:"downloadPageBaseUrl" mapstructure:"downloadPageBaseUrl" validate:"required,url"`
	DownloadTTL         time.Duration `toml:"downloadTtl" mapstructure:"downloadTtl" validate:"gt=0"`
	DownloadMaxCount    int           `toml:"downloadMaxCount" mapstructure:"downloadMaxCount" validate:"gt=0"`
	// StrictPersistence makes grant issuance fail when the grant cannot be
	// stored instead of handing back an unsaved grant.
	StrictPersistence bool `toml:"strictPersistence" mapstructure:"strictPersistence"`

	// Rate limiting
	RateLimitBackend        string        `toml:"rateLimitBackend" mapstructure:"rateLimitBackend" validate:"oneof=memory redis"`
	RateLimitAPIMax         int           `toml:"rateLimitApiMax" mapstructure:"rateLimitApiMax" validate:"gt=0"`
	RateLimitAPIWindow      time.Duration `toml:"rateLimitApiWindow" mapstructure:"rateLimitApiWindow" validate:"gt=0"`
	RateLimitAuthMax        int           `toml:"rateLimitAuthMax" mapstructure:"rateLimitAuthMax" validate:"gt=0"`
	RateLimitAuthWindow     time.Duration `toml:"rateLimitAuthWindow" mapstructure:"rateLimitAuthWindow" validate:"gt=0"`
	RateLimitDownloadMax    int           `toml:"rateLimitDownloadMax" mapstructure:"rateLimitDownloadMax" validate:"gt=0"`
	RateLimitDownloadWindow time.Duration `toml:"rateLimitDownloadWindow" mapstructure:"rateLimitDownloadWindow" validate:"gt=0"`
	RedisAddr               string        `toml:"redisAddr" mapstructure:"redisAddr" validate:"required_if=RateLimitBackend redis"`
	RedisPassword           string        `toml:"redisPassword" mapstructure:"redisPassword"`
	RedisDB                 int           `toml:"redisDb" mapstructure:"redisDb" validate:"min=0"`

	// Notifications
	NotifierURL  string  `toml:"notifierUrl" mapstructure:"notifierUrl"`
	NotifierRate float64 `toml:"notifierRate" mapstructure:"notifierRate" validate:"gte=0"`

	CORSAllowedOrigins []string `toml:"corsAllowedOrigins" mapstructure:"corsAllowedOrigins"`
}

// UsesPostgres reports whether the configured engine is PostgreSQL.
func (c *Config) UsesPostgres() bool {
	engine := strings.ToLower(strings.TrimSpace(c.DatabaseEngine))
	return engine == "postgres" || engine == "postgresql"
}

// Redacted returns a copy safe to print, with every secret masked.
func (c *Config) Redacted() Config {
	out := *c
	out.DatabasePassword = RedactString(c.DatabasePassword)
	out.DatabaseDSN = RedactString(c.DatabaseDSN)
	out.RedisPassword = RedactString(c.RedisPassword)
	out.NotifierURL = RedactString(c.NotifierURL)
	out.MetricsBasicAuthUsers = RedactString(c.MetricsBasicAuthUsers)
	return out
}
