package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix           = "LEGIS"
	defaultHTTPAddress  = "0.0.0.0:8080"
	defaultDatabasePath = "legis.db"
	defaultStorageRoot  = "storage"
	defaultPublicBase   = "http://localhost:8080"
	defaultLogLevel     = "info"
	defaultTokenTTL     = 60
	defaultSignedURLTTL = 24 * 60
	defaultSMTPPort     = 587
)

// AppConfig captures runtime configuration for the API server.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	StorageRoot   string
	PublicBaseURL string
	SigningSecret string
	TokenTTL      time.Duration
	SignedURLTTL  time.Duration
	LogLevel      string

	SMTPHost    string
	SMTPPort    int
	SMTPUser    string
	SMTPPass    string
	MailFrom    string
	MailEnabled bool
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
	configViper.SetDefault("http.public_base_url", defaultPublicBase)
	configViper.SetDefault("database.path", defaultDatabasePath)
	configViper.SetDefault("storage.root", defaultStorageRoot)
	configViper.SetDefault("storage.signed_url_ttl_minutes", defaultSignedURLTTL)
	configViper.SetDefault("token.ttl_minutes", defaultTokenTTL)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("smtp.port", defaultSMTPPort)
	configViper.SetDefault("smtp.enabled", false)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:   configViper.GetString("http.address"),
		PublicBaseURL: strings.TrimRight(configViper.GetString("http.public_base_url"), "/"),
		DatabasePath:  configViper.GetString("database.path"),
		StorageRoot:   configViper.GetString("storage.root"),
		SigningSecret: configViper.GetString("auth.signing_secret"),
		TokenTTL:      time.Duration(configViper.GetInt("token.ttl_minutes")) * time.Minute,
		SignedURLTTL:  time.Duration(configViper.GetInt("storage.signed_url_ttl_minutes")) * time.Minute,
		LogLevel:      configViper.GetString("log.level"),
		SMTPHost:      configViper.GetString("smtp.host"),
		SMTPPort:      configViper.GetInt("smtp.port"),
		SMTPUser:      configViper.GetString("smtp.user"),
		SMTPPass:      configViper.GetString("smtp.password"),
		MailFrom:      configViper.GetString("smtp.from"),
		MailEnabled:   configViper.GetBool("smtp.enabled"),
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
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if strings.TrimSpace(c.StorageRoot) == "" {
		return fmt.Errorf("storage.root is required")
	}
	if c.MailEnabled {
		if strings.TrimSpace(c.SMTPHost) == "" {
			return fmt.Errorf("smtp.host is required when smtp.enabled is set")
		}
		if strings.TrimSpace(c.MailFrom) == "" {
			return fmt.Errorf("smtp.from is required when smtp.enabled is set")
		}
	}
	return nil
}
