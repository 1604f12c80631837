package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/gxplab/reportengine/internal/db"
)

// Config holds the full server configuration.
type Config struct {
	Database db.Config
	Server   ServerConfig
	Engine   EngineConfig
	Export   ExportConfig
}

type ServerConfig struct {
	Addr           string
	AllowedOrigins []string
}

type EngineConfig struct {
	RowCap     int
	SampleRows int
}

type ExportConfig struct {
	Dir         string
	MaxRows     int
	MinInterval time.Duration
	TokenTTL    time.Duration
}

// DefaultConfig returns sensible development defaults.
func DefaultConfig() Config {
	return Config{
		Database: db.DefaultConfig(),
		Server: ServerConfig{
			Addr:           ":8080",
			AllowedOrigins: []string{"http://localhost:5173"},
		},
		Engine: EngineConfig{
			RowCap:     500,
			SampleRows: 20,
		},
		Export: ExportConfig{
			Dir:         "exports",
			MaxRows:     50000,
			MinInterval: 10 * time.Second,
			TokenTTL:    15 * time.Minute,
		},
	}
}

// Load reads config.yaml from configPath and applies env overrides
// (prefix GXP, e.g. GXP_DATABASE_HOST).
func Load(configPath string) (Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(configPath)
	v.AutomaticEnv()
	v.SetEnvPrefix("GXP")

	v.BindEnv("database.host")
	v.BindEnv("database.port")
	v.BindEnv("database.user")
	v.BindEnv("database.password")
	v.BindEnv("database.dbname")
	v.BindEnv("database.sslmode")
	v.BindEnv("server.addr")
	v.BindEnv("engine.row_cap")
	v.BindEnv("export.dir")

	if err := v.ReadInConfig(); err != nil {
		// Config file not found? Just log it, use defaults + env
		fmt.Println("No config.yaml found, using defaults and env vars")
	} else {
		fmt.Println("Loaded config.yaml")
	}

	if v.IsSet("database.host") {
		cfg.Database.Host = v.GetString("database.host")
	}
	if v.IsSet("database.port") {
		cfg.Database.Port = v.GetInt("database.port")
	}
	if v.IsSet("database.user") {
		cfg.Database.User = v.GetString("database.user")
	}
	if v.IsSet("database.password") {
		cfg.Database.Password = v.GetString("database.password")
	}
	if v.IsSet("database.dbname") {
		cfg.Database.DBName = v.GetString("database.dbname")
	}
	if v.IsSet("database.sslmode") {
		cfg.Database.SSLMode = v.GetString("database.sslmode")
	}

	if v.IsSet("server.addr") {
		cfg.Server.Addr = v.GetString("server.addr")
	}
	if v.IsSet("server.allowed_origins") {
		cfg.Server.AllowedOrigins = v.GetStringSlice("server.allowed_origins")
	}

	if v.IsSet("engine.row_cap") {
		cfg.Engine.RowCap = v.GetInt("engine.row_cap")
	}
	if v.IsSet("engine.sample_rows") {
		cfg.Engine.SampleRows = v.GetInt("engine.sample_rows")
	}

	if v.IsSet("export.dir") {
		cfg.Export.Dir = v.GetString("export.dir")
	}
	if v.IsSet("export.max_rows") {
		cfg.Export.MaxRows = v.GetInt("export.max_rows")
	}
	if v.IsSet("export.min_interval") {
		cfg.Export.MinInterval = v.GetDuration("export.min_interval")
	}
	if v.IsSet("export.token_ttl") {
		cfg.Export.TokenTTL = v.GetDuration("export.token_ttl")
	}

	return cfg, nil
}
