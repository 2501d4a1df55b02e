// Package db wraps database/sql with pool configuration, driver
// registration and the placeholder differences between dialects.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"time"
)

var (
	// ErrInvalidConfig is returned by NewPool for unusable configuration
	ErrInvalidConfig = errors.New("invalid pool config")

	// ErrPoolClosed is returned by every operation after Close
	ErrPoolClosed = errors.New("pool is closed")
)

// PoolConfig configures the connection pool
type PoolConfig struct {
	// DriverName is one of Drivers()
	DriverName string `yaml:"driver"`

	// DSN is the database connection string
	DSN string `yaml:"dsn"`

	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
}

// DefaultPoolConfig returns 25 open and 5 idle connections.
func DefaultPoolConfig(driverName, dsn string) PoolConfig {
	return PoolConfig{
		DriverName:      driverName,
		DSN:             dsn,
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
		ConnMaxIdleTime: 10 * time.Minute,
	}
}

// Validate checks the configuration without opening anything.
func (c PoolConfig) Validate() error {
	switch {
	case c.DSN == "":
		return fmt.Errorf("%w: dsn cannot be empty", ErrInvalidConfig)
	case c.DriverName == "":
		return fmt.Errorf("%w: driver cannot be empty", ErrInvalidConfig)
	case !knownDriver(c.DriverName):
		return fmt.Errorf("%w: unknown driver %q", ErrInvalidConfig, c.DriverName)
	case c.MaxOpenConns <= 0:
		return fmt.Errorf("%w: max_open_conns must be positive", ErrInvalidConfig)
	case c.MaxIdleConns < 0:
		return fmt.Errorf("%w: max_idle_conns cannot be negative", ErrInvalidConfig)
	case c.MaxIdleConns > c.MaxOpenConns:
		return fmt.Errorf("%w: max_idle_conns cannot exceed max_open_conns", ErrInvalidConfig)
	case c.ConnMaxLifetime < 0 || c.ConnMaxIdleTime < 0:
		return fmt.Errorf("%w: connection lifetimes cannot be negative", ErrInvalidConfig)
	}
	return nil
}

// Pool is a configured *sql.DB
type Pool struct {
	db      *sql.DB
	config  PoolConfig
	dialect Dialect
}

// NewPool opens the pool and pings the database.
func NewPool(ctx context.Context, config PoolConfig) (*Pool, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	db, err := sql.Open(config.DriverName, config.DSN)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", config.DriverName, err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", config.DriverName, err)
	}

	return &Pool{db: db, config: config, dialect: dialectFor(config.DriverName)}, nil
}

// DB returns the underlying *sql.DB.
func (p *Pool) DB() *sql.DB {
	return p.db
}

// Dialect returns the SQL dialect of the driver.
func (p *Pool) Dialect() Dialect {
	return p.dialect
}

// Close closes the pool.
func (p *Pool) Close() error {
	if p.db == nil {
		return ErrPoolClosed
	}
	err := p.db.Close()
	p.db = nil
	return err
}

// Stats returns pool statistics
func (p *Pool) Stats() sql.DBStats {
	if p.db == nil {
		return sql.DBStats{}
	}
	return p.db.Stats()
}

func (p *Pool) Query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	if p.db == nil {
		return nil, ErrPoolClosed
	}
	return p.db.QueryContext(ctx, query, args...)
}

func (p *Pool) Exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	if p.db == nil {
		return nil, ErrPoolClosed
	}
	return p.db.ExecContext(ctx, query, args...)
}

func (p *Pool) BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error) {
	if p.db == nil {
		return nil, ErrPoolClosed
	}
	return p.db.BeginTx(ctx, opts)
}

// Dialect captures the syntax differences the stores care about.
type Dialect struct {
	Name        string
	numberedArg bool
}

// Placeholder returns the n-th (1-based) bind parameter.
func (d Dialect) Placeholder(n int) string {
	if d.numberedArg {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// Placeholders returns n comma-separated bind parameters starting at 1.
func (d Dialect) Placeholders(n int) string {
	out := make([]byte, 0, n*3)
	for i := 1; i <= n; i++ {
		if i > 1 {
			out = append(out, ", "...)
		}
		out = append(out, d.Placeholder(i)...)
	}
	return string(out)
}
