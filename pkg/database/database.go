package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	_ "modernc.org/sqlite"
)

const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"

	defaultMaxRows = 10000
)

var (
	ErrUnknownDriver = errors.New("unknown database driver")
	ErrTooManyRows   = errors.New("query returned too many rows")
)

type Config struct {
	Driver  string `envconfig:"DRIVER" default:"sqlite"`
	DSN     string `envconfig:"DSN" default:"file:fleet.db"`
	MaxRows int    `envconfig:"MAX_ROWS" split_words:"true" default:"10000"`
}

// Store is the fleet telemetry database: training_data, test_data and rul_data.
type Store struct {
	db      *bun.DB
	driver  string
	maxRows int
}

func Open(cfg Config) (*Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" {
		driver = DriverSQLite
	}

	var db *bun.DB
	switch driver {
	case DriverSQLite:
		sqldb, err := sql.Open("sqlite", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sqlite %q: %w", cfg.DSN, err)
		}
		if strings.Contains(cfg.DSN, ":memory:") {
			// every pooled connection would see its own empty database
			sqldb.SetMaxOpenConns(1)
		}
		db = bun.NewDB(sqldb, sqlitedialect.New())
	case DriverPostgres:
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownDriver, cfg.Driver)
	}

	maxRows := cfg.MaxRows
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}
	return &Store{db: db, driver: driver, maxRows: maxRows}, nil
}

func (s *Store) DB() *bun.DB {
	return s.db
}

func (s *Store) Driver() string {
	return s.driver
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate creates the telemetry tables when missing.
func (s *Store) Migrate(ctx context.Context) error {
	models := []any{
		(*TrainingRecord)(nil),
		(*TestRecord)(nil),
		(*RULRecord)(nil),
	}
	for _, model := range models {
		if _, err := s.db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", model, err)
		}
	}
	return nil
}
