package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Environment selects which eSewa endpoints the service talks to.
const (
	EnvTest       = "test"
	EnvProduction = "production"
)

// Config holds all application configuration. It is built once at startup
// and treated as immutable afterwards.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Esewa      EsewaConfig      `mapstructure:"esewa"`
	Verify     VerifyConfig     `mapstructure:"verify"`
	HTTPClient HTTPClientConfig `mapstructure:"http_client"`
	Log        LogConfig        `mapstructure:"log"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Address      string        `mapstructure:"address"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig holds database configuration. An empty Host means the
// service runs with the in-memory transaction store instead of Postgres.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
}

// DSN returns the database connection string.
func (c *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// EsewaConfig holds merchant credentials and gateway endpoint selection.
type EsewaConfig struct {
	ProductCode string `mapstructure:"product_code"`
	SecretKey   string `mapstructure:"secret_key"`
	Environment string `mapstructure:"environment"` // test or production
	SuccessURL  string `mapstructure:"success_url"`
	FailureURL  string `mapstructure:"failure_url"`
	MinAmount   string `mapstructure:"min_amount"`
}

// FormURL returns the ePay form submission endpoint for the configured
// environment. The payer's browser posts the signed form here.
func (c *EsewaConfig) FormURL() string {
	if c.Environment == EnvProduction {
		return "https://epay.esewa.com.np/api/epay/main/v2/form"
	}
	return "https://rc-epay.esewa.com.np/api/epay/main/v2/form"
}

// StatusURL returns the transaction status-check endpoint for the
// configured environment.
func (c *EsewaConfig) StatusURL() string {
	if c.Environment == EnvProduction {
		return "https://epay.esewa.com.np/api/epay/transaction/status/"
	}
	return "https://rc.esewa.com.np/api/epay/transaction/status/"
}

// VerifyConfig bounds the remote verification retry loop.
type VerifyConfig struct {
	MaxAttempts    int           `mapstructure:"max_attempts"`
	InitialBackoff time.Duration `mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `mapstructure:"max_backoff"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
}

// HTTPClientConfig holds outbound HTTP client configuration.
type HTTPClientConfig struct {
	DialTimeout         time.Duration `mapstructure:"dial_timeout"`
	KeepAlive           time.Duration `mapstructure:"keep_alive"`
	MaxIdleConns        int           `mapstructure:"max_idle_conns"`
	MaxIdleConnsPerHost int           `mapstructure:"max_idle_conns_per_host"`
	MaxConnsPerHost     int           `mapstructure:"max_conns_per_host"`
	IdleConnTimeout     time.Duration `mapstructure:"idle_conn_timeout"`
	TLSHandshakeTimeout time.Duration `mapstructure:"tls_handshake_timeout"`
	ResponseTimeout     time.Duration `mapstructure:"response_timeout"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load loads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/paygate")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("read config: %w", err)
		}
		// Config file not found, use defaults and env
	}

	v.SetEnvPrefix("PAYGATE")
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	// Override with environment variables for sensitive values
	if secret := os.Getenv("PAYGATE_ESEWA_SECRET_KEY"); secret != "" {
		cfg.Esewa.SecretKey = secret
	}
	if password := os.Getenv("PAYGATE_DB_PASSWORD"); password != "" {
		cfg.Database.Password = password
	}

	if cfg.Esewa.SecretKey == "" {
		return nil, fmt.Errorf("esewa.secret_key is required")
	}
	if cfg.Esewa.Environment != EnvTest && cfg.Esewa.Environment != EnvProduction {
		return nil, fmt.Errorf("esewa.environment must be %q or %q, got %q",
			EnvTest, EnvProduction, cfg.Esewa.Environment)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values. The eSewa defaults are
// the publicly documented UAT merchant credentials and only work against
// the test environment.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.address", ":8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.idle_timeout", 120*time.Second)

	// Database defaults
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.database", "paygate")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 10)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", 30*time.Minute)

	// eSewa defaults (UAT credentials)
	v.SetDefault("esewa.product_code", "EPAYTEST")
	v.SetDefault("esewa.secret_key", "8gBm/:&EnhH.1/q")
	v.SetDefault("esewa.environment", EnvTest)
	v.SetDefault("esewa.success_url", "http://localhost:8080/payments/callback/success")
	v.SetDefault("esewa.failure_url", "http://localhost:8080/payments/callback/failure")
	v.SetDefault("esewa.min_amount", "10")

	// Verification defaults
	v.SetDefault("verify.max_attempts", 3)
	v.SetDefault("verify.initial_backoff", 500*time.Millisecond)
	v.SetDefault("verify.max_backoff", 5*time.Second)
	v.SetDefault("verify.request_timeout", 10*time.Second)

	// HTTP client defaults
	v.SetDefault("http_client.dial_timeout", 5*time.Second)
	v.SetDefault("http_client.keep_alive", 30*time.Second)
	v.SetDefault("http_client.max_idle_conns", 100)
	v.SetDefault("http_client.max_idle_conns_per_host", 10)
	v.SetDefault("http_client.max_conns_per_host", 50)
	v.SetDefault("http_client.idle_conn_timeout", 90*time.Second)
	v.SetDefault("http_client.tls_handshake_timeout", 10*time.Second)
	v.SetDefault("http_client.response_timeout", 15*time.Second)

	// Log defaults
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
