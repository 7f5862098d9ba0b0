package db

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	_ "github.com/lib/pq"
)

const pingTimeout = 5 * time.Second

// Pool sizes the connection pool. Zero fields take the DefaultPool value.
type Pool struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPool suits a single API instance.
var DefaultPool = Pool{
	MaxOpenConns:    25,
	MaxIdleConns:    5,
	ConnMaxLifetime: 5 * time.Minute,
	ConnMaxIdleTime: 10 * time.Minute,
}

func (p Pool) withDefaults() Pool {
	if p.MaxOpenConns <= 0 {
		p.MaxOpenConns = DefaultPool.MaxOpenConns
	}
	if p.MaxIdleConns <= 0 {
		p.MaxIdleConns = DefaultPool.MaxIdleConns
	}
	if p.MaxIdleConns > p.MaxOpenConns {
		p.MaxIdleConns = p.MaxOpenConns
	}
	if p.ConnMaxLifetime <= 0 {
		p.ConnMaxLifetime = DefaultPool.ConnMaxLifetime
	}
	if p.ConnMaxIdleTime <= 0 {
		p.ConnMaxIdleTime = DefaultPool.ConnMaxIdleTime
	}
	return p
}

// target describes where a DSN points, password left out.
type target struct {
	host, port, name, user string
}

func parseTarget(u *url.URL) target {
	t := target{
		host: u.Hostname(),
		port: u.Port(),
		name: strings.TrimPrefix(u.Path, "/"),
		user: u.User.Username(),
	}
	if t.host == "" {
		t.host = "localhost"
	}
	if t.port == "" {
		t.port = "5432"
	}
	return t
}

func (t target) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("host", t.host),
		slog.String("port", t.port),
		slog.String("name", t.name),
		slog.String("user", t.user),
	)
}

// Open connects to PostgreSQL, sizes the pool and pings within pingTimeout.
func Open(ctx context.Context, databaseURL string, pool Pool) (*sql.DB, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is empty")
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	t := parseTarget(u)
	pool = pool.withDefaults()
	slog.InfoContext(ctx, "connecting to database", "database", t, "max_open_conns", pool.MaxOpenConns)

	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}
	db.SetMaxOpenConns(pool.MaxOpenConns)
	db.SetMaxIdleConns(pool.MaxIdleConns)
	db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(pool.ConnMaxIdleTime)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database %q on %s:%s: %w", t.name, t.host, t.port, err)
	}
	return db, nil
}
