package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/varfish-case-importer/internal/domain"
)

// Supported database drivers
const (
	DriverPgx      = "pgx"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// ErrUnknownDriver is returned for a driver other than pgx, postgres or sqlite.
var ErrUnknownDriver = errors.New("unknown database driver")

// Config holds database configuration
type Config struct {
	Driver      string
	Host        string
	Port        int
	Database    string
	Username    string
	Password    string
	SSLMode     string
	SQLitePath  string
	MaxConns    int32
	MinConns    int32
	MaxConnLife time.Duration
	MaxConnIdle time.Duration
	// ConnectTimeout bounds ConnectWithRetry.
	ConnectTimeout time.Duration
}

// ConfigFromDomain converts the loaded service configuration.
func ConfigFromDomain(c domain.DatabaseConfig) Config {
	return Config{
		Driver:         c.Driver,
		Host:           c.Host,
		Port:           c.Port,
		Database:       c.Database,
		Username:       c.Username,
		Password:       c.Password,
		SSLMode:        c.SSLMode,
		SQLitePath:     c.SQLitePath,
		MaxConns:       int32(c.MaxOpenConns),
		MinConns:       int32(c.MaxIdleConns),
		MaxConnLife:    c.ConnMaxLifetime,
		MaxConnIdle:    c.ConnMaxLifetime,
		ConnectTimeout: c.ConnectTimeout,
	}
}

// DSN returns the driver specific data source name.
func (c Config) DSN() string {
	if c.Driver == DriverSQLite {
		return SQLiteDSN(c.SQLitePath)
	}
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.Host, c.Port, c.Database, c.Username, c.Password, c.SSLMode,
	)
}

// SQLiteDSN enables foreign keys and WAL mode and makes transactions take the
// write lock up front.
func SQLiteDSN(path string) string {
	return path + "?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate&_time_format=sqlite"
}

// DB wraps the sqlx handle with additional functionality
type DB struct {
	X      *sqlx.DB
	Pool   *pgxpool.Pool
	Driver string
	log    *logrus.Logger
}

// NewConnection opens the database selected by config.Driver
func NewConnection(ctx context.Context, config Config, logger *logrus.Logger) (*DB, error) {
	var (
		db  *DB
		err error
	)
	switch config.Driver {
	case DriverPgx, "":
		db, err = newPgxConnection(ctx, config, logger)
	case DriverPostgres, DriverSQLite:
		db, err = newSQLConnection(ctx, config, logger)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, config.Driver)
	}
	if err != nil {
		return nil, err
	}

	logger.WithFields(logrus.Fields{
		"driver":    db.Driver,
		"host":      config.Host,
		"port":      config.Port,
		"database":  config.Database,
		"max_conns": config.MaxConns,
	}).Info("Database connection established")

	return db, nil
}

func newPgxConnection(ctx context.Context, config Config, logger *logrus.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(config.DSN())
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}

	// Configure connection pool settings
	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	poolConfig.MinConns = config.MinConns
	poolConfig.MaxConnLifetime = config.MaxConnLife
	poolConfig.MaxConnIdleTime = config.MaxConnIdle

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	return &DB{
		X:      sqlx.NewDb(stdlib.OpenDBFromPool(pool), DriverPgx),
		Pool:   pool,
		Driver: DriverPgx,
		log:    logger,
	}, nil
}

func newSQLConnection(ctx context.Context, config Config, logger *logrus.Logger) (*DB, error) {
	x, err := sqlx.Open(config.Driver, config.DSN())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if config.MaxConns > 0 {
		x.SetMaxOpenConns(int(config.MaxConns))
	}
	x.SetMaxIdleConns(int(config.MinConns))
	x.SetConnMaxLifetime(config.MaxConnLife)

	if err := x.PingContext(ctx); err != nil {
		x.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &DB{X: x, Driver: config.Driver, log: logger}, nil
}

// ConnectWithRetry retries NewConnection with exponential backoff until it
// succeeds, config.ConnectTimeout elapses or ctx is done.
func ConnectWithRetry(ctx context.Context, config Config, logger *logrus.Logger) (*DB, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 500 * time.Millisecond
	policy.MaxElapsedTime = config.ConnectTimeout

	var db *DB
	operation := func() error {
		var err error
		db, err = NewConnection(ctx, config, logger)
		if errors.Is(err, ErrUnknownDriver) {
			return backoff.Permanent(err)
		}
		return err
	}
	notify := func(err error, next time.Duration) {
		logger.WithError(err).WithField("retry_in", next).Warn("Database not reachable, retrying")
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(policy, ctx), notify); err != nil {
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return db, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.X != nil {
		db.X.Close()
	}
	if db.Pool != nil {
		db.Pool.Close()
	}
	db.log.Info("Database connection closed")
}

// Health checks the database connection health
func (db *DB) Health(ctx context.Context) error {
	return db.X.PingContext(ctx)
}

// Stats returns connection pool statistics
func (db *DB) Stats() sql.DBStats {
	return db.X.Stats()
}

// IsUniqueViolation reports whether err was caused by a unique constraint.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
