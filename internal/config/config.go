package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix                  = "JEWELSKETCH"
	defaultHTTPAddress         = "0.0.0.0:4000"
	defaultAllowedOrigin       = "http://localhost:5173"
	defaultDatabaseDriver      = DatabaseDriverSQLite
	defaultDatabasePath        = "jewelsketch.db"
	defaultMongoDatabase       = "jewelsketch"
	defaultLogLevel            = "info"
	defaultTokenTTLMinutes     = 60
	defaultBcryptCost          = 10
	defaultGoogleJWKSURL       = "https://www.googleapis.com/oauth2/v3/certs"
	defaultGoogleVerifyTimeout = 5 * time.Second
	defaultUploadMaxBytes      = 10 << 20
)

const (
	// DatabaseDriverSQLite stores users and history in a local SQLite file through gorm.
	DatabaseDriverSQLite = "sqlite"
	// DatabaseDriverMongo stores users and history in MongoDB collections.
	DatabaseDriverMongo = "mongo"
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress               string
	AllowedOrigins            []string
	DatabaseDriver            string
	DatabasePath              string
	MongoURI                  string
	MongoDatabase             string
	SigningSecret             string
	TokenTTL                  time.Duration
	BcryptCost                int
	GoogleClientID            string
	GoogleJWKSURL             string
	GoogleVerifyTimeout       time.Duration
	LinkRequiresVerifiedEmail bool
	UploadMaxBytes            int64
	LogLevel                  string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("http.allowed_origins", []string{defaultAllowedOrigin})
	configViper.SetDefault("database.driver", defaultDatabaseDriver)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("mongo.database", defaultMongoDatabase)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("auth.bcrypt_cost", defaultBcryptCost)
	configViper.SetDefault("google.jwks_url", defaultGoogleJWKSURL)
	configViper.SetDefault("google.verify_timeout", defaultGoogleVerifyTimeout)
	configViper.SetDefault("google.link_requires_verified_email", true)
	configViper.SetDefault("uploads.max_bytes", defaultUploadMaxBytes)
	configViper.SetDefault("log.level", defaultLogLevel)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:               configViper.GetString("http.address"),
		AllowedOrigins:            configViper.GetStringSlice("http.allowed_origins"),
		DatabaseDriver:            strings.ToLower(strings.TrimSpace(configViper.GetString("database.driver"))),
		DatabasePath:              configViper.GetString("database.path"),
		MongoURI:                  configViper.GetString("mongo.uri"),
		MongoDatabase:             configViper.GetString("mongo.database"),
		SigningSecret:             configViper.GetString("auth.signing_secret"),
		TokenTTL:                  time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		BcryptCost:                configViper.GetInt("auth.bcrypt_cost"),
		GoogleClientID:            configViper.GetString("google.client_id"),
		GoogleJWKSURL:             configViper.GetString("google.jwks_url"),
		GoogleVerifyTimeout:       configViper.GetDuration("google.verify_timeout"),
		LinkRequiresVerifiedEmail: configViper.GetBool("google.link_requires_verified_email"),
		UploadMaxBytes:            configViper.GetInt64("uploads.max_bytes"),
		LogLevel:                  configViper.GetString("log.level"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.GoogleClientID) == "" {
		return fmt.Errorf("google.client_id is required")
	}
	if c.TokenTTL <= 0 {
		return fmt.Errorf("token.ttl_minutes must be positive")
	}
	if c.GoogleVerifyTimeout <= 0 {
		return fmt.Errorf("google.verify_timeout must be positive")
	}
	if c.UploadMaxBytes <= 0 {
		return fmt.Errorf("uploads.max_bytes must be positive")
	}
	switch c.DatabaseDriver {
	case DatabaseDriverSQLite:
		if strings.TrimSpace(c.DatabasePath) == "" {
			return fmt.Errorf("database.path is required")
		}
	case DatabaseDriverMongo:
		if strings.TrimSpace(c.MongoURI) == "" {
			return fmt.Errorf("mongo.uri is required when database.driver is %s", DatabaseDriverMongo)
		}
		if strings.TrimSpace(c.MongoDatabase) == "" {
			return fmt.Errorf("mongo.database is required")
		}
	default:
		return fmt.Errorf("database.driver %q is not supported", c.DatabaseDriver)
	}
	return nil
}
