package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/xo/dburl"
)

// Supported database drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Config holds the configuration for the application.
type Config struct {
	Environment   string `mapstructure:"environment"`
	DevModeBypass bool   `mapstructure:"dev_mode_bypass"`
	HTTP          struct {
		Addr string `mapstructure:"addr"`
	} `mapstructure:"http"`
	DB struct {
		URL        string `mapstructure:"url"`
		Driver     string `mapstructure:"driver"`
		Host       string `mapstructure:"host"`
		Port       int    `mapstructure:"port"`
		User       string `mapstructure:"user"`
		Password   string `mapstructure:"password"`
		Name       string `mapstructure:"name"`
		SSLMode    string `mapstructure:"sslmode"`
		SQLitePath string `mapstructure:"sqlite_path"`
	} `mapstructure:"db"`
	Auth struct {
		OktaDomain      string `mapstructure:"okta_domain"`
		ClientID        string `mapstructure:"client_id"`
		ClientSecret    string `mapstructure:"client_secret"`
		RedirectURL     string `mapstructure:"redirect_url"`
		SwaggerClientID string `mapstructure:"swagger_client_id"`
	} `mapstructure:"auth"`
	TLS struct {
		Enable    bool     `mapstructure:"enable"`
		CertFile  string   `mapstructure:"cert_file"`
		KeyFile   string   `mapstructure:"key_file"`
		Hostnames []string `mapstructure:"hostnames"`
	} `mapstructure:"tls"`
	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
	Notifications struct {
		WebhookURL string        `mapstructure:"webhook_url"`
		Timeout    time.Duration `mapstructure:"timeout"`
		Workers    int           `mapstructure:"workers"`
		QueueSize  int           `mapstructure:"queue_size"`
	} `mapstructure:"notifications"`
	Workflow struct {
		MaxRetries     int           `mapstructure:"max_retries"`
		InitialBackoff time.Duration `mapstructure:"initial_backoff"`
		MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	} `mapstructure:"workflow"`
}

// LoadConfig loads the configuration from a file and the environment. An empty
// path searches ./config.yaml and ./config/config.yaml; a missing file is not
// an error so the service can run from environment variables alone.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}
	v.SetEnvPrefix("APPROVALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	// normalize OKTA issuer url (strip trailing slash if any)
	config.Auth.OktaDomain = normalizeOktaIssuer(config.Auth.OktaDomain)

	if err := config.resolveDatabaseURL(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "PROD")
	v.SetDefault("http.addr", ":8080")
	v.SetDefault("db.driver", DriverPostgres)
	v.SetDefault("db.host", "localhost")
	v.SetDefault("db.port", 5432)
	v.SetDefault("db.sslmode", "disable")
	v.SetDefault("db.sqlite_path", "approvals.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "auto")
	v.SetDefault("notifications.timeout", 10*time.Second)
	v.SetDefault("notifications.workers", 2)
	v.SetDefault("notifications.queue_size", 256)
	v.SetDefault("workflow.max_retries", 5)
	v.SetDefault("workflow.initial_backoff", 10*time.Millisecond)
	v.SetDefault("workflow.max_backoff", 250*time.Millisecond)
}

// resolveDatabaseURL lets db.url override the discrete connection settings.
func (c *Config) resolveDatabaseURL() error {
	raw := strings.TrimSpace(c.DB.URL)
	if raw == "" {
		return nil
	}
	u, err := dburl.Parse(raw)
	if err != nil {
		return fmt.Errorf("parse db.url: %w", err)
	}
	switch u.Driver {
	case "postgres":
		c.DB.Driver = DriverPostgres
	case "sqlite3", "sqlite", "moderncsqlite":
		c.DB.Driver = DriverSQLite
		path := u.Opaque
		if path == "" {
			path = u.Path
		}
		if path == "" {
			return errors.New("db.url: sqlite url has no path")
		}
		c.DB.SQLitePath = path
	default:
		return fmt.Errorf("db.url: unsupported driver %q", u.Driver)
	}
	return nil
}

// Validate reports configuration combinations the service cannot run with.
func (c *Config) Validate() error {
	switch c.DB.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("db.driver: unsupported value %q", c.DB.Driver)
	}
	if c.Notifications.Workers <= 0 {
		return errors.New("notifications.workers must be positive")
	}
	if c.Notifications.QueueSize <= 0 {
		return errors.New("notifications.queue_size must be positive")
	}
	if c.Workflow.MaxRetries < 0 {
		return errors.New("workflow.max_retries must not be negative")
	}
	if c.TLS.Enable && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		return errors.New("tls enabled but cert_file/key_file not provided")
	}
	return nil
}

// IsDev reports whether the service runs in the DEV environment.
func (c *Config) IsDev() bool {
	return strings.EqualFold(c.Environment, "DEV")
}

// PostgresDSN builds a connection string for pgx. A postgres db.url is passed
// through unchanged.
func (c *Config) PostgresDSN() string {
	if raw := strings.TrimSpace(c.DB.URL); raw != "" {
		return raw
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode,
	)
}

// normalizeOktaIssuer ensures the provided Okta issuer string is in a
// predictable form. It removes any trailing slash and leaves the scheme and
// path intact. This allows users to paste the full URL from the Okta admin
// console without worrying about double prefixes.
func normalizeOktaIssuer(input string) string {
	iss := strings.TrimSpace(input)
	if iss == "" {
		return ""
	}
	if u, err := url.Parse(iss); err == nil && u.Scheme == "" {
		iss = "https://" + iss
	}
	return strings.TrimRight(iss, "/")
}
