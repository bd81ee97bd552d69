// Package config loads the process-wide environment configuration of
// spec.md §6: provider API version, legacy single-tenant fallback
// credentials, JWT secret, DB URL, public backend URL, CORS origins,
// frontend URLs, development-mode flag, and port.
package config

import (
	"log"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config is the fully resolved process configuration.
type Config struct {
	Environment string `mapstructure:"environment"`
	LogLevel    string `mapstructure:"logLevel"`
	Port        string `mapstructure:"port"`
	Development bool   `mapstructure:"development"`

	PublicBackendURL string   `mapstructure:"publicBackendURL"`
	FrontendURLs     []string `mapstructure:"frontendURLs"`
	AllowedOrigins   []string `mapstructure:"allowedOrigins"`

	JWTSecret string `mapstructure:"jwtSecret"`

	Database struct {
		URL         string `mapstructure:"url"`
		SQLitePath  string `mapstructure:"sqlitePath"`
		AutoMigrate bool   `mapstructure:"autoMigrate"`
	} `mapstructure:"database"`

	Provider struct {
		APIVersion string `mapstructure:"apiVersion"`
		// Legacy single-tenant fallback, per spec.md §6.
		DefaultVerifyToken string `mapstructure:"defaultVerifyToken"`
		DefaultAccessToken string `mapstructure:"defaultAccessToken"`
	} `mapstructure:"provider"`

	Broadcast struct {
		BatchSize     int           `mapstructure:"batchSize"`
		BatchInterval time.Duration `mapstructure:"batchInterval"`
	} `mapstructure:"broadcast"`

	Scheduler struct {
		Interval          time.Duration `mapstructure:"interval"`
		Grace             time.Duration `mapstructure:"grace"`
		NotificationBatch int           `mapstructure:"notificationBatch"`
	} `mapstructure:"scheduler"`

	Timeouts struct {
		ExternalWebhook time.Duration `mapstructure:"externalWebhook"`
		Provider        time.Duration `mapstructure:"provider"`
		Upload          time.Duration `mapstructure:"upload"`
	} `mapstructure:"timeouts"`

	Flow struct {
		StepCap        int           `mapstructure:"stepCap"`
		DefaultTimeout time.Duration `mapstructure:"defaultTimeout"`
	} `mapstructure:"flow"`
}

// Load reads configuration from an optional YAML file at configPath
// layered under defaults, then environment variables (highest
// precedence), mirroring the event-processor teacher's viper setup.
// It also loads a .env file into the process environment first, for
// parity with the gateway teacher's local dev workflow.
func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("no .env file loaded (continuing with process environment)")
	}

	v := viper.New()

	v.SetDefault("environment", "development")
	v.SetDefault("logLevel", "info")
	v.SetDefault("port", "8080")
	v.SetDefault("development", false)
	v.SetDefault("database.autoMigrate", true)
	v.SetDefault("database.sqlitePath", "./whatsapp.db")
	v.SetDefault("provider.apiVersion", "v19.0")
	v.SetDefault("broadcast.batchSize", 50)
	v.SetDefault("broadcast.batchInterval", 5*time.Second)
	v.SetDefault("scheduler.interval", time.Minute)
	v.SetDefault("scheduler.grace", 30*time.Second)
	v.SetDefault("scheduler.notificationBatch", 50)
	v.SetDefault("timeouts.externalWebhook", 5*time.Second)
	v.SetDefault("timeouts.provider", 10*time.Second)
	v.SetDefault("timeouts.upload", 60*time.Second)
	v.SetDefault("flow.stepCap", 30)
	v.SetDefault("flow.defaultTimeout", 15*time.Minute)

	v.SetConfigName("default")
	v.SetConfigType("yaml")
	if configPath != "" {
		v.AddConfigPath(configPath)
	}
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
	}

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Explicit env bindings for the flat names spec.md §6 names literally.
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("development", "DEVELOPMENT_MODE")
	_ = v.BindEnv("jwtSecret", "JWT_SECRET")
	_ = v.BindEnv("publicBackendURL", "PUBLIC_BACKEND_URL")
	_ = v.BindEnv("database.url", "DB_URL")
	_ = v.BindEnv("provider.apiVersion", "WA_API_VERSION")
	_ = v.BindEnv("provider.defaultVerifyToken", "VERIFY_TOKEN")
	_ = v.BindEnv("provider.defaultAccessToken", "WHATSAPP_TOKEN")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if originsStr := v.GetString("CORS_ORIGINS"); originsStr != "" {
		cfg.AllowedOrigins = strings.Split(originsStr, ",")
	}
	if frontendStr := v.GetString("FRONTEND_URLS"); frontendStr != "" {
		cfg.FrontendURLs = strings.Split(frontendStr, ",")
	}

	return &cfg, nil
}
