package domain

import (
	"time"
)

// Config represents the main application configuration
type Config struct {
	Server          ServerConfig          `mapstructure:"server"`
	Database        DatabaseConfig        `mapstructure:"database"`
	Redis           RedisConfig           `mapstructure:"redis"`
	Queue           QueueConfig           `mapstructure:"queue"`
	InternalStorage InternalStorageConfig `mapstructure:"internal_storage"`
	ExternalStorage ExternalStorageConfig `mapstructure:"external_storage"`
	Worker          WorkerConfig          `mapstructure:"worker"`
	Logging         LoggingConfig         `mapstructure:"logging"`
}

// ServerConfig represents HTTP server configuration
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// DatabaseConfig represents database connection configuration
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // "pgx", "postgres" or "sqlite"
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Database        string        `mapstructure:"database"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	SQLitePath      string        `mapstructure:"sqlite_path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnectTimeout  time.Duration `mapstructure:"connect_timeout"`
}

// RedisConfig represents the task queue broker connection
type RedisConfig struct {
	URL         string        `mapstructure:"url"`
	PoolSize    int           `mapstructure:"pool_size"`
	PoolTimeout time.Duration `mapstructure:"pool_timeout"`
	MaxRetries  int           `mapstructure:"max_retries"`
}

// QueueConfig controls task consumption
type QueueConfig struct {
	Name              string        `mapstructure:"name"`
	Consumers         int           `mapstructure:"consumers"`
	PollTimeout       time.Duration `mapstructure:"poll_timeout"`
	VisibilityTimeout time.Duration `mapstructure:"visibility_timeout"`
	ReclaimInterval   time.Duration `mapstructure:"reclaim_interval"`
	StaleJobTimeout   time.Duration `mapstructure:"stale_job_timeout"`
}

// InternalStorageConfig is the S3 store for pipeline-owned artifacts
type InternalStorageConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	UseHTTPS  bool   `mapstructure:"use_https"`
	PartSize  uint64 `mapstructure:"part_size"`
}

// ExternalStorageConfig holds the defaults for caller-supplied inputs
type ExternalStorageConfig struct {
	AllowLocal bool   `mapstructure:"allow_local"`
	Protocol   string `mapstructure:"protocol"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Username   string `mapstructure:"username"`
	Password   string `mapstructure:"password"`
	UseHTTPS   bool   `mapstructure:"use_https"`
	Prefix     string `mapstructure:"prefix"`
	PartSize   uint64 `mapstructure:"part_size"`

	HTTPRateLimit   float64       `mapstructure:"http_rate_limit"`
	HTTPTimeout     time.Duration `mapstructure:"http_timeout"`
	BreakerFailures uint32        `mapstructure:"breaker_failures"`
}

// PrefilterConfig is one parameter set of the seqvars prefilter pass
type PrefilterConfig struct {
	MaxFreq     float64 `mapstructure:"max_freq" json:"max_freq" yaml:"max_freq"`
	MaxExonDist int     `mapstructure:"max_exon_dist" json:"max_exon_dist" yaml:"max_exon_dist"`
}

// WorkerConfig describes the external annotation worker binary
type WorkerConfig struct {
	Executable         string            `mapstructure:"executable"`
	MehariDBPath       string            `mapstructure:"mehari_db_path"`
	Timeout            time.Duration     `mapstructure:"timeout"`
	CancelPollInterval time.Duration     `mapstructure:"cancel_poll_interval"`
	TempDir            string            `mapstructure:"temp_dir"`
	PrefilterConfigs   []PrefilterConfig `mapstructure:"prefilter_configs"`
	KitCacheSize       int               `mapstructure:"kit_cache_size"`
	EnrichmentKitsFile string            `mapstructure:"enrichment_kits_file"`
}

// LoggingConfig represents logging configuration
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}
