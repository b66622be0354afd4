package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/varfish-case-importer/internal/domain"
	"github.com/varfish-case-importer/internal/storage"
)

// EnvPrefix is prepended to every environment variable override.
const EnvPrefix = "VARFISH"

// Manager loads the service configuration using Viper
type Manager struct {
	v          *viper.Viper
	config     *domain.Config
	configFile string
}

// Option customizes a Manager before the configuration is loaded
type Option func(*Manager)

// WithConfigFile reads the given file instead of searching the default paths.
func WithConfigFile(path string) Option {
	return func(m *Manager) {
		m.configFile = path
	}
}

// NewManager creates a new configuration manager
func NewManager(opts ...Option) (*Manager, error) {
	m := &Manager{}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.loadConfig(); err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return m, nil
}

// loadConfig loads configuration from various sources
func (m *Manager) loadConfig() error {
	// A missing .env file is fine, the process environment is used as is.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("loading .env file: %w", err)
	}

	v := viper.New()
	if m.configFile != "" {
		v.SetConfigFile(m.configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/varfish-case-importer/")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Read configuration file (optional - will use defaults and env vars if not found)
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}

	config := &domain.Config{}
	if err := v.Unmarshal(config); err != nil {
		return fmt.Errorf("error unmarshaling config: %w", err)
	}

	m.v = v
	m.config = config
	return nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.idle_timeout", "120s")

	// Database defaults
	v.SetDefault("database.driver", "pgx")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.database", "varfish")
	v.SetDefault("database.username", "varfish")
	v.SetDefault("database.password", "")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.sqlite_path", "varfish.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", "5m")
	v.SetDefault("database.connect_timeout", "30s")

	// Task queue defaults
	v.SetDefault("redis.url", "redis://localhost:6379/0")
	v.SetDefault("redis.pool_size", 10)
	v.SetDefault("redis.pool_timeout", "4s")
	v.SetDefault("redis.max_retries", 3)

	v.SetDefault("queue.name", "varfish:tasks")
	v.SetDefault("queue.consumers", 2)
	v.SetDefault("queue.poll_timeout", "5s")
	v.SetDefault("queue.visibility_timeout", "6h")
	v.SetDefault("queue.reclaim_interval", "1m")
	v.SetDefault("queue.stale_job_timeout", "12h")

	// Storage defaults
	v.SetDefault("internal_storage.host", "localhost")
	v.SetDefault("internal_storage.port", 9000)
	v.SetDefault("internal_storage.access_key", "")
	v.SetDefault("internal_storage.secret_key", "")
	v.SetDefault("internal_storage.bucket", "varfish-server")
	v.SetDefault("internal_storage.region", "us-east-1")
	v.SetDefault("internal_storage.use_https", false)
	v.SetDefault("internal_storage.part_size", storage.DefaultPartSize)

	v.SetDefault("external_storage.allow_local", false)
	v.SetDefault("external_storage.protocol", "s3")
	v.SetDefault("external_storage.host", "")
	v.SetDefault("external_storage.port", 0)
	v.SetDefault("external_storage.username", "")
	v.SetDefault("external_storage.password", "")
	v.SetDefault("external_storage.use_https", true)
	v.SetDefault("external_storage.prefix", "")
	v.SetDefault("external_storage.part_size", storage.DefaultPartSize)
	v.SetDefault("external_storage.http_rate_limit", 20.0)
	v.SetDefault("external_storage.http_timeout", "10m")
	v.SetDefault("external_storage.breaker_failures", 5)

	// Worker defaults
	v.SetDefault("worker.executable", "varfish-server-worker")
	v.SetDefault("worker.mehari_db_path", "/data/mehari")
	v.SetDefault("worker.timeout", "6h")
	v.SetDefault("worker.cancel_poll_interval", "10s")
	v.SetDefault("worker.temp_dir", "")
	v.SetDefault("worker.kit_cache_size", 256)
	v.SetDefault("worker.enrichment_kits_file", "")
	v.SetDefault("worker.prefilter_configs", []map[string]any{
		{"max_freq": 0.05, "max_exon_dist": 100},
	})

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// GetConfig returns the complete configuration
func (m *Manager) GetConfig() *domain.Config {
	return m.config
}

// GetDatabaseConfig returns database configuration
func (m *Manager) GetDatabaseConfig() *domain.DatabaseConfig {
	return &m.config.Database
}

// GetServerConfig returns server configuration
func (m *Manager) GetServerConfig() *domain.ServerConfig {
	return &m.config.Server
}

// GetWorkerConfig returns the external worker configuration
func (m *Manager) GetWorkerConfig() *domain.WorkerConfig {
	return &m.config.Worker
}

// Reload reloads the configuration
func (m *Manager) Reload() error {
	return m.loadConfig()
}

// Validate validates the configuration
func (m *Manager) Validate() error {
	config := m.config

	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Database.Driver {
	case "pgx", "postgres":
		if config.Database.Host == "" {
			return fmt.Errorf("database host is required")
		}
		if config.Database.Database == "" {
			return fmt.Errorf("database name is required")
		}
	case "sqlite":
		if config.Database.SQLitePath == "" {
			return fmt.Errorf("sqlite path is required")
		}
	default:
		return fmt.Errorf("unknown database driver: %q", config.Database.Driver)
	}

	if config.Redis.URL == "" {
		return fmt.Errorf("redis URL is required")
	}
	if config.Queue.Consumers <= 0 {
		return fmt.Errorf("queue consumers must be positive: %d", config.Queue.Consumers)
	}

	if config.InternalStorage.Bucket == "" {
		return fmt.Errorf("internal storage bucket is required")
	}
	if !storage.Protocol(config.ExternalStorage.Protocol).IsKnown() {
		return fmt.Errorf("unknown external storage protocol: %q", config.ExternalStorage.Protocol)
	}

	if config.Worker.Executable == "" {
		return fmt.Errorf("worker executable is required")
	}
	for i, pf := range config.Worker.PrefilterConfigs {
		if pf.MaxFreq < 0 || pf.MaxFreq > 1 {
			return fmt.Errorf("prefilter config %d: max_freq out of range: %v", i, pf.MaxFreq)
		}
	}

	validLogLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "warning": true, "error": true, "fatal": true, "panic": true,
	}
	if !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("invalid log level: %s", config.Logging.Level)
	}

	return nil
}

// GetDatabaseConnectionString returns a formatted database connection string
func (m *Manager) GetDatabaseConnectionString() string {
	db := m.config.Database
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		db.Host, db.Port, db.Username, db.Password, db.Database, db.SSLMode)
}

// GetDatabaseURL returns the database location in URL form as used by migrations.
func (m *Manager) GetDatabaseURL() string {
	db := m.config.Database
	if db.Driver == "sqlite" {
		return "sqlite://" + db.SQLitePath
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		db.Username, db.Password, db.Host, db.Port, db.Database, db.SSLMode)
}

// GetRedisConnectionString returns the Redis connection string
func (m *Manager) GetRedisConnectionString() string {
	return m.config.Redis.URL
}

// IsProduction returns true if running in production mode
func (m *Manager) IsProduction() bool {
	return strings.ToLower(m.v.GetString("environment")) == "production"
}
