package config

import "time"

// Config is the root configuration for dcsql.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Auth     AuthConfig     `yaml:"auth"`
	Query    QueryConfig    `yaml:"query"`
	Database DatabaseConfig `yaml:"database"`
}

type ServerConfig struct {
	Transport string `yaml:"transport"` // stdio or http
	Host      string `yaml:"host"`
	Port      int    `yaml:"port"`
	APIToken  string `yaml:"api_token"`
	LogLevel  string `yaml:"log_level"`
	LogFile   string `yaml:"log_file"`
}

type AuthConfig struct {
	ClientID             string        `yaml:"client_id"`
	ClientSecret         string        `yaml:"client_secret"`
	LoginURL             string        `yaml:"login_url"`
	RedirectURI          string        `yaml:"redirect_uri"`
	Scopes               []string      `yaml:"scopes"`
	TokenLifetime        time.Duration `yaml:"token_lifetime"`
	AuthorizationTimeout time.Duration `yaml:"authorization_timeout"`
}

type QueryConfig struct {
	APIVersion             string        `yaml:"api_version"`
	Dataspace              string        `yaml:"dataspace"`
	WorkloadName           string        `yaml:"workload_name"`
	PageSize               int           `yaml:"page_size"`
	WaitTime               time.Duration `yaml:"wait_time"`
	MaxWait                time.Duration `yaml:"max_wait"`
	SubmitTimeout          time.Duration `yaml:"submit_timeout"`
	PollTimeout            time.Duration `yaml:"poll_timeout"`
	RowsTimeout            time.Duration `yaml:"rows_timeout"`
	DefaultListTableFilter string        `yaml:"default_list_table_filter"`
}

type DatabaseConfig struct {
	Path          string `yaml:"path"`
	RetentionDays int    `yaml:"retention_days"`
}

const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Transport: TransportStdio,
			Host:      "127.0.0.1",
			Port:      8421,
			LogLevel:  "info",
		},
		Auth: AuthConfig{
			LoginURL:             "login.salesforce.com",
			RedirectURI:          "http://localhost:55556/Callback",
			Scopes:               []string{"api", "cdp_query_api", "cdp_profile_api"},
			TokenLifetime:        110 * time.Minute, // provider tokens live 120m
			AuthorizationTimeout: 5 * time.Minute,
		},
		Query: QueryConfig{
			APIVersion:             "v63.0",
			Dataspace:              "default",
			PageSize:               100000,
			WaitTime:               10 * time.Second,
			MaxWait:                30 * time.Minute,
			SubmitTimeout:          100 * time.Second,
			PollTimeout:            30 * time.Second,
			RowsTimeout:            60 * time.Second,
			DefaultListTableFilter: "%",
		},
		Database: DatabaseConfig{
			Path:          "~/.config/dcsql/history.db",
			RetentionDays: 30,
		},
	}
}
