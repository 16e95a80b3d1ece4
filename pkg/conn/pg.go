package conn

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	pgDefaultHost     = "localhost"
	pgDefaultPort     = 5432
	pgDefaultSSLMode  = "disable"
	pgDefaultPool     = 8
	pgDefaultLifetime = 30 * time.Minute
	pgPingTimeout     = 5 * time.Second
)

// PostgresOption locates the document database. URL wins over the
// individual fields when set.
type PostgresOption struct {
	URL             string
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	ApplicationName string

	// PoolSize caps open connections. Each followed collection polls on its
	// own goroutine, so it should not be smaller than the collection count.
	PoolSize    int
	MaxLifetime time.Duration
	Gorm        *gorm.Config
}

// Postgres is an open, verified gorm pool.
type Postgres struct {
	db *gorm.DB
}

// OpenPostgres connects and pings once before returning.
func OpenPostgres(ctx context.Context, opt PostgresOption) (*Postgres, error) {
	dsn, err := opt.DSN()
	if err != nil {
		return nil, err
	}

	gcfg := opt.Gorm
	if gcfg == nil {
		gcfg = &gorm.Config{Logger: logger.Default.LogMode(logger.Warn)}
	}
	db, err := gorm.Open(postgres.Open(dsn), gcfg)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	pool, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("postgres pool: %w", err)
	}

	size := opt.PoolSize
	if size <= 0 {
		size = pgDefaultPool
	}
	lifetime := opt.MaxLifetime
	if lifetime <= 0 {
		lifetime = pgDefaultLifetime
	}
	pool.SetMaxOpenConns(size)
	pool.SetMaxIdleConns(size)
	pool.SetConnMaxLifetime(lifetime)

	pctx, cancel := context.WithTimeout(ctx, pgPingTimeout)
	defer cancel()
	if err := pool.PingContext(pctx); err != nil {
		_ = pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Postgres{db: db}, nil
}

// DB returns the gorm handle.
func (p *Postgres) DB() *gorm.DB {
	if p == nil {
		return nil
	}
	return p.db
}

func (p *Postgres) Close() error {
	if p == nil || p.db == nil {
		return nil
	}
	pool, err := p.db.DB()
	if err != nil {
		return err
	}
	return pool.Close()
}

// DSN renders the option as a postgres:// URL.
func (opt PostgresOption) DSN() (string, error) {
	if opt.URL != "" {
		return opt.URL, nil
	}

	host, port, mode := opt.Host, opt.Port, opt.SSLMode
	if host == "" {
		host = pgDefaultHost
	}
	switch {
	case port == 0:
		port = pgDefaultPort
	case port < 0 || port > 65535:
		return "", fmt.Errorf("invalid postgres port: %d", port)
	}
	if mode == "" {
		mode = pgDefaultSSLMode
	}

	u := url.URL{Scheme: "postgres", Host: host + ":" + strconv.Itoa(port)}
	switch {
	case opt.User != "" && opt.Password != "":
		u.User = url.UserPassword(opt.User, opt.Password)
	case opt.User != "":
		u.User = url.User(opt.User)
	}
	if opt.Database != "" {
		u.Path = "/" + opt.Database
	}

	q := url.Values{"sslmode": {mode}}
	if opt.ApplicationName != "" {
		q.Set("application_name", opt.ApplicationName)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
