package postgres

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"

	interfaces "github.com/sheikh-saqib/referral-commission-ledger/internal/interfaces"
	"github.com/sheikh-saqib/referral-commission-ledger/internal/logger"
)

//go:embed migrations/*.sql
var EmbedMigrations embed.FS

const defaultLockTimeout = 5 * time.Second

// PostgresStore implements interfaces.Store on top of database/sql and lib/pq.
type PostgresStore struct {
	db          *sql.DB
	log         *slog.Logger
	lockTimeout time.Duration
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)
	db.SetConnMaxIdleTime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

// Migrate applies the embedded goose migrations.
func Migrate(db *sql.DB) error {
	goose.SetBaseFS(EmbedMigrations)
	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("failed to set goose dialect: %w", err)
	}
	if err := goose.Up(db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func NewPostgresStore(db *sql.DB, log *slog.Logger, lockTimeout time.Duration) *PostgresStore {
	if log == nil {
		log = logger.Discard()
	}
	if lockTimeout <= 0 {
		lockTimeout = defaultLockTimeout
	}
	return &PostgresStore{
		db:          db,
		log:         log,
		lockTimeout: lockTimeout,
	}
}

// WithTx runs fn inside one database transaction. Row locks taken by fn give
// up after the configured lock timeout, which surfaces as a storage conflict.
func (p *PostgresStore) WithTx(ctx context.Context, fn func(ctx context.Context, tx interfaces.Tx) error) error {
	dbTx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(err)
	}

	committed := false
	defer func() {
		if !committed {
			if rbErr := dbTx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
				p.log.Warn("postgres: rollback failed", "error", rbErr)
			}
		}
	}()

	// SET does not accept bind parameters.
	timeout := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", p.lockTimeout.Milliseconds())
	if _, err := dbTx.ExecContext(ctx, timeout); err != nil {
		return classify(err)
	}

	if err := fn(ctx, &pgTx{tx: dbTx}); err != nil {
		return err
	}

	if err := dbTx.Commit(); err != nil {
		return classify(err)
	}
	committed = true
	return nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}

type pgTx struct {
	tx *sql.Tx
}

var _ interfaces.Store = (*PostgresStore)(nil)
var _ interfaces.Tx = (*pgTx)(nil)
