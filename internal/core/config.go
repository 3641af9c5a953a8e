// Package core provides configuration management for FleetSight
package core

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Config holds all FleetSight configuration with validation
type Config struct {
	App struct {
		Name     string `yaml:"name"`
		Version  string `yaml:"version"`
		LogLevel string `yaml:"log_level"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Data struct {
		// Source selects where the fleet snapshot is loaded from at
		// startup: "csv" or "postgres".
		Source    string `yaml:"source"`
		CSVPath   string `yaml:"csv_path"`
		ModelPath string `yaml:"model_path"`
	} `yaml:"data"`

	Database struct {
		Host           string `yaml:"host"`
		Port           int    `yaml:"port"`
		User           string `yaml:"user"`
		Password       string `yaml:"password"`
		DBName         string `yaml:"dbname"`
		MaxConnections int    `yaml:"max_connections"`
	} `yaml:"database"`

	Auth struct {
		Enabled   bool   `yaml:"enabled"`
		Username  string `yaml:"username"`
		Password  string `yaml:"password"`
		JWTSecret string `yaml:"jwt_secret"`
	} `yaml:"auth"`

	Analyzer struct {
		// Expected outlier fraction per call site. The alerts and
		// single-bot views use the looser value, the dashboard the
		// stricter one.
		ContaminationAlerts    float64 `yaml:"contamination_alerts"`
		ContaminationDashboard float64 `yaml:"contamination_dashboard"`
		RiskThreshold          float64 `yaml:"risk_threshold"`
		Seed                   int64   `yaml:"seed"`
	} `yaml:"analyzer"`
}

// LoadConfig reads and validates configuration from YAML file
func LoadConfig(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file does not exist: %s", path)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	config.applyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	config.ApplyEnvOverrides()
	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8081"
	}
	if c.Data.Source == "" {
		c.Data.Source = "csv"
	}
	if c.Analyzer.ContaminationAlerts == 0 {
		c.Analyzer.ContaminationAlerts = 0.10
	}
	if c.Analyzer.ContaminationDashboard == 0 {
		c.Analyzer.ContaminationDashboard = 0.05
	}
	if c.Analyzer.RiskThreshold == 0 {
		c.Analyzer.RiskThreshold = 0.5
	}
	if c.Analyzer.Seed == 0 {
		c.Analyzer.Seed = 42
	}
}

// Validate checks if configuration values are valid
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app.name cannot be empty")
	}
	if c.App.Version == "" {
		return fmt.Errorf("app.version cannot be empty")
	}
	validLogLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLogLevels[c.App.LogLevel] {
		return fmt.Errorf("app.log_level must be one of: debug, info, warn, error")
	}

	switch c.Data.Source {
	case "csv":
		if c.Data.CSVPath == "" {
			return fmt.Errorf("data.csv_path cannot be empty when data.source is csv")
		}
	case "postgres":
		if c.Database.Host == "" {
			return fmt.Errorf("database.host cannot be empty when data.source is postgres")
		}
		if c.Database.Port <= 0 || c.Database.Port > 65535 {
			return fmt.Errorf("database.port must be between 1 and 65535")
		}
		if c.Database.User == "" {
			return fmt.Errorf("database.user cannot be empty")
		}
		if c.Database.DBName == "" {
			return fmt.Errorf("database.dbname cannot be empty")
		}
		if c.Database.MaxConnections <= 0 {
			return fmt.Errorf("database.max_connections must be positive")
		}
	default:
		return fmt.Errorf("data.source must be csv or postgres")
	}

	if c.Auth.Enabled {
		if c.Auth.Username == "" || c.Auth.Password == "" {
			return fmt.Errorf("auth.username and auth.password cannot be empty when auth is enabled")
		}
		if c.Auth.JWTSecret == "" {
			return fmt.Errorf("auth.jwt_secret cannot be empty when auth is enabled")
		}
	}

	if c.Analyzer.ContaminationAlerts <= 0 || c.Analyzer.ContaminationAlerts >= 0.5 {
		return fmt.Errorf("analyzer.contamination_alerts must be in (0, 0.5)")
	}
	if c.Analyzer.ContaminationDashboard <= 0 || c.Analyzer.ContaminationDashboard >= 0.5 {
		return fmt.Errorf("analyzer.contamination_dashboard must be in (0, 0.5)")
	}
	if c.Analyzer.RiskThreshold <= 0 || c.Analyzer.RiskThreshold > 1 {
		return fmt.Errorf("analyzer.risk_threshold must be in (0, 1]")
	}

	return nil
}

// ApplyEnvOverrides applies environment variable overrides
func (c *Config) ApplyEnvOverrides() {
	if host := os.Getenv("FLEETSIGHT_DB_HOST"); host != "" {
		c.Database.Host = host
	}
	if user := os.Getenv("FLEETSIGHT_DB_USER"); user != "" {
		c.Database.User = user
	}
	if password := os.Getenv("FLEETSIGHT_DB_PASSWORD"); password != "" {
		c.Database.Password = password
	}
	if dbname := os.Getenv("FLEETSIGHT_DB_NAME"); dbname != "" {
		c.Database.DBName = dbname
	}
	if csvPath := os.Getenv("FLEETSIGHT_CSV_PATH"); csvPath != "" {
		c.Data.CSVPath = csvPath
	}
	if modelPath := os.Getenv("FLEETSIGHT_MODEL_PATH"); modelPath != "" {
		c.Data.ModelPath = modelPath
	}
	if secret := os.Getenv("FLEETSIGHT_JWT_SECRET"); secret != "" {
		c.Auth.JWTSecret = secret
	}
	if logLevel := os.Getenv("FLEETSIGHT_LOG_LEVEL"); logLevel != "" {
		c.App.LogLevel = logLevel
	}
}

// GetDatabaseURL returns PostgreSQL connection string
func (c *Config) GetDatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=disable&pool_max_conns=%d",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.DBName,
		c.Database.MaxConnections,
	)
}
