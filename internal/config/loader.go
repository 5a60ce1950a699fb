package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// searchPaths returns the ordered list of config file locations to try.
func searchPaths() []string {
	paths := []string{
		"/etc/dcsql/dcsql.yaml",
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "dcsql", "dcsql.yaml"))
	}

	paths = append(paths, "dcsql.yaml")

	if envPath := os.Getenv("DCSQL_CONFIG"); envPath != "" {
		paths = append(paths, envPath)
	}

	return paths
}

// Load reads configuration from YAML files and environment variables.
// Files are loaded in order (each overrides the previous):
// /etc/dcsql/dcsql.yaml < ~/.config/dcsql/dcsql.yaml < ./dcsql.yaml < $DCSQL_CONFIG
func Load() (*Config, error) {
	cfg := Defaults()

	for _, path := range searchPaths() {
		if err := loadFile(cfg, path); err != nil {
			return nil, fmt.Errorf("loading config %s: %w", path, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// LoadFromFile reads configuration from a specific file path.
func LoadFromFile(path string) (*Config, error) {
	cfg := Defaults()

	if err := loadFile(cfg, path); err != nil {
		return nil, fmt.Errorf("loading config %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables have higher priority than YAML config values.
func applyEnvOverrides(cfg *Config) {
	overrides := []struct {
		env    string
		target *string
	}{
		{"SF_CLIENT_ID", &cfg.Auth.ClientID},
		{"SF_CLIENT_SECRET", &cfg.Auth.ClientSecret},
		{"SF_LOGIN_URL", &cfg.Auth.LoginURL},
		{"CALLBACK_URL", &cfg.Auth.RedirectURI},
		{"DATASPACE", &cfg.Query.Dataspace},
		{"DEFAULT_LIST_TABLE_FILTER", &cfg.Query.DefaultListTableFilter},
		{"DCSQL_API_TOKEN", &cfg.Server.APIToken},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.env); v != "" {
			*o.target = v
		}
	}
}

func loadFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // path comes from trusted config search paths
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("reading file: %w", err)
	}

	slog.Debug("loading config file", "path", path)

	expanded := os.ExpandEnv(string(data))

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return fmt.Errorf("parsing YAML: %w", err)
	}

	return nil
}

// ExpandHome replaces a leading "~" or "~/" with the user's home directory.
// Other users' homes ("~name/...") are left as is.
func ExpandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}

// Validate re-checks cfg after it was changed in code, e.g. by flag overrides.
func (c *Config) Validate() error {
	return validate(c)
}

func validate(cfg *Config) error {
	if err := validateRedirectURI(cfg.Auth.RedirectURI); err != nil {
		return err
	}

	switch cfg.Server.Transport {
	case TransportStdio:
	case TransportHTTP:
		if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
			return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
		}
		if cfg.Server.Host == "0.0.0.0" {
			return fmt.Errorf("server.host must not be 0.0.0.0, dcsql listens on localhost only")
		}
		if cfg.Server.APIToken == "" {
			return fmt.Errorf("server.api_token is required for the http transport")
		}
	default:
		return fmt.Errorf("server.transport must be %q or %q, got %q", TransportStdio, TransportHTTP, cfg.Server.Transport)
	}

	if cfg.Query.PageSize < 1 {
		return fmt.Errorf("query.page_size must be at least 1")
	}
	if cfg.Query.Dataspace == "" {
		return fmt.Errorf("query.dataspace must not be empty")
	}

	cfg.Database.Path = ExpandHome(cfg.Database.Path)

	return nil
}

// validateRedirectURI only allows plain http for loopback hosts.
func validateRedirectURI(raw string) error {
	if raw == "" {
		return fmt.Errorf("auth.redirect_uri is required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid auth.redirect_uri: %w", err)
	}
	if u.Scheme != "http" {
		return fmt.Errorf("auth.redirect_uri must use http on a loopback host, got scheme %q", u.Scheme)
	}
	switch u.Hostname() {
	case "localhost", "127.0.0.1", "::1":
	default:
		return fmt.Errorf("auth.redirect_uri host must be localhost, 127.0.0.1 or [::1], got %q", u.Hostname())
	}
	if u.Port() == "" {
		return fmt.Errorf("auth.redirect_uri must include a port")
	}
	return nil
}
