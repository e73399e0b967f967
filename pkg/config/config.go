package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	System     SystemConfig    `mapstructure:"system"`
	Database   DatabaseConfig  `mapstructure:"database"`
	Server     ServerConfig    `mapstructure:"server"`
	Extensions ExtensionConfig `mapstructure:"extensions"`
	Logging    LoggingConfig   `mapstructure:"logging"`
	SeedData   bool            `mapstructure:"seed_data"`
}

// SystemConfig holds the distinguished principal IDs and hierarchy bounds
type SystemConfig struct {
	RootID       string `mapstructure:"root_id"`
	SystemID     string `mapstructure:"system_id"`
	TemplateID   string `mapstructure:"template_id"`
	MaxTeamDepth int    `mapstructure:"max_team_depth"`
}

// ParseIDs validates and parses the three system principal IDs
func (s *SystemConfig) ParseIDs() (root, system, template uuid.UUID, err error) {
	root, err = uuid.Parse(s.RootID)
	if err != nil {
		return root, system, template, fmt.Errorf("invalid ROOT_ID %q: %w", s.RootID, err)
	}
	system, err = uuid.Parse(s.SystemID)
	if err != nil {
		return root, system, template, fmt.Errorf("invalid SYSTEM_ID %q: %w", s.SystemID, err)
	}
	template, err = uuid.Parse(s.TemplateID)
	if err != nil {
		return root, system, template, fmt.Errorf("invalid TEMPLATE_ID %q: %w", s.TemplateID, err)
	}
	if root == system || root == template || system == template {
		return root, system, template, fmt.Errorf("system principal IDs must be distinct")
	}
	return root, system, template, nil
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL      string `mapstructure:"url"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Name     string `mapstructure:"name"`
	SSLMode  string `mapstructure:"ssl_mode"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port         int           `mapstructure:"port"`
	Host         string        `mapstructure:"host"`
	GinMode      string        `mapstructure:"gin_mode"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// ExtensionConfig holds extension loader configuration
type ExtensionConfig struct {
	Dir     string `mapstructure:"dir"`
	Enabled string `mapstructure:"enabled"` // CSV of extension names
}

// EnabledNames returns the enabled extension names parsed from the CSV value
func (e *ExtensionConfig) EnabledNames() []string {
	if strings.TrimSpace(e.Enabled) == "" {
		return nil
	}
	parts := strings.Split(e.Enabled, ",")
	names := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from the environment (and a .env file when present)
func Load() (*Config, error) {
	// .env is optional; real deployments set the environment directly
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	bindEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if _, _, _, err := cfg.System.ParseIDs(); err != nil {
		return nil, err
	}
	if cfg.System.MaxTeamDepth < 1 {
		return nil, fmt.Errorf("MAX_TEAM_DEPTH must be at least 1")
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("system.max_team_depth", 5)
	v.SetDefault("seed_data", true)

	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.name", "gridframe")
	v.SetDefault("database.ssl_mode", "disable")

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.gin_mode", "release")
	v.SetDefault("server.read_timeout", 15*time.Second)
	v.SetDefault("server.write_timeout", 15*time.Second)
	v.SetDefault("server.idle_timeout", 60*time.Second)

	v.SetDefault("extensions.dir", "extensions")

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
}

func bindEnv(v *viper.Viper) {
	_ = v.BindEnv("system.root_id", "ROOT_ID")
	_ = v.BindEnv("system.system_id", "SYSTEM_ID")
	_ = v.BindEnv("system.template_id", "TEMPLATE_ID")
	_ = v.BindEnv("system.max_team_depth", "MAX_TEAM_DEPTH")
	_ = v.BindEnv("seed_data", "SEED_DATA")

	_ = v.BindEnv("database.url", "DATABASE_URL")
	_ = v.BindEnv("database.host", "DATABASE_HOST")
	_ = v.BindEnv("database.port", "DATABASE_PORT")
	_ = v.BindEnv("database.user", "DATABASE_USER")
	_ = v.BindEnv("database.password", "DATABASE_PASSWORD")
	_ = v.BindEnv("database.name", "DATABASE_NAME")
	_ = v.BindEnv("database.ssl_mode", "DATABASE_SSL_MODE")

	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.host", "SERVER_HOST")
	_ = v.BindEnv("server.gin_mode", "GIN_MODE")

	_ = v.BindEnv("extensions.dir", "APP_EXTENSIONS_DIR")
	_ = v.BindEnv("extensions.enabled", "APP_EXTENSIONS")

	_ = v.BindEnv("logging.level", "LOG_LEVEL")
	_ = v.BindEnv("logging.format", "LOG_FORMAT")
}
