package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	log "github.com/sirupsen/logrus"
)

const (
	defaultConnTimeout     = 5 * time.Second
	defaultMaxOpenConns    = 20
	defaultMaxIdleConns    = 10
	defaultConnMaxLifetime = 30 * time.Minute
	defaultConnMaxIdleTime = 5 * time.Minute
)

var errStoreNotInitialized = errors.New("postgres store is not initialized")

// PoolConfig задаёт параметры пула соединений.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// DefaultPoolConfig — параметры пула по умолчанию.
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		MaxOpenConns:    defaultMaxOpenConns,
		MaxIdleConns:    defaultMaxIdleConns,
		ConnMaxLifetime: defaultConnMaxLifetime,
		ConnMaxIdleTime: defaultConnMaxIdleTime,
	}
}

// StoreOption настраивает Store.
type StoreOption func(*Store)

// WithPoolConfig переопределяет параметры пула; нулевые поля остаются по умолчанию.
func WithPoolConfig(cfg PoolConfig) StoreOption {
	return func(s *Store) {
		if cfg.MaxOpenConns > 0 {
			s.pool.MaxOpenConns = cfg.MaxOpenConns
		}
		if cfg.MaxIdleConns > 0 {
			s.pool.MaxIdleConns = cfg.MaxIdleConns
		}
		if cfg.ConnMaxLifetime > 0 {
			s.pool.ConnMaxLifetime = cfg.ConnMaxLifetime
		}
		if cfg.ConnMaxIdleTime > 0 {
			s.pool.ConnMaxIdleTime = cfg.ConnMaxIdleTime
		}
	}
}

// WithStoreLogger задаёт логгер для миграций и диагностики.
func WithStoreLogger(logger *log.Entry) StoreOption {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Store — пул соединений PostgreSQL, общий для snapshot-бэкендов и репозиториев.
type Store struct {
	db     *sql.DB
	pool   PoolConfig
	logger *log.Entry
}

// Open подключается к PostgreSQL и пингует базу.
func Open(ctx context.Context, dsn string, opts ...StoreOption) (*Store, error) {
	s := &Store{
		pool:   DefaultPoolConfig(),
		logger: log.WithField("component", "postgres"),
	}
	for _, opt := range opts {
		opt(s)
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres connection: %w", err)
	}
	db.SetMaxOpenConns(s.pool.MaxOpenConns)
	db.SetMaxIdleConns(s.pool.MaxIdleConns)
	db.SetConnMaxLifetime(s.pool.ConnMaxLifetime)
	db.SetConnMaxIdleTime(s.pool.ConnMaxIdleTime)
	s.db = db

	if err := s.Ping(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return s, nil
}

// DB отдаёт *sql.DB для репозиториев пакета и тестов.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping проверяет доступность базы; используется health-чекером.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errStoreNotInitialized
	}
	pingCtx, cancel := context.WithTimeout(ctx, defaultConnTimeout)
	defer cancel()
	return s.db.PingContext(pingCtx)
}

// EnsureSchema применяет все up-миграции.
func (s *Store) EnsureSchema(ctx context.Context) error {
	return s.MigrateUp(ctx, 0)
}

// Close закрывает пул.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
