package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/devrev/sharedcounter/internal/model"
)

const pgUniqueViolation = "23505"

const postgresSchema = `
	CREATE TABLE IF NOT EXISTS counter_registry (
		countername VARCHAR(255) PRIMARY KEY,
		created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
	);

	CREATE TABLE IF NOT EXISTS counters (
		countername VARCHAR(255) PRIMARY KEY,
		cnt_sec     BIGINT NOT NULL DEFAULT 0,
		cnt_min     BIGINT NOT NULL DEFAULT 0,
		cnt_hr      BIGINT NOT NULL DEFAULT 0,
		cnt_day     BIGINT NOT NULL DEFAULT 0,
		cnt_mnt     BIGINT NOT NULL DEFAULT 0,
		last_update BIGINT NOT NULL DEFAULT 0
	);
`

// PostgresCounterStore implements CounterStore for PostgreSQL
type PostgresCounterStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgresCounterStore creates a new PostgreSQL counter store
func NewPostgresCounterStore(
	host string,
	port int,
	database, user, password string,
	maxConns, minConns int,
	logger *zap.Logger,
) (*PostgresCounterStore, error) {
	connString := fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s pool_max_conns=%d pool_min_conns=%d",
		host, port, database, user, password, maxConns, minConns,
	)

	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &PostgresCounterStore{
		pool:   pool,
		logger: logger,
	}, nil
}

// EnsureSchema creates the counter tables if they are missing
func (s *PostgresCounterStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Load retrieves a counter record
func (s *PostgresCounterStore) Load(ctx context.Context, name string) (*model.CounterRecord, error) {
	query := `
		SELECT cnt_sec, cnt_min, cnt_hr, cnt_day, cnt_mnt, last_update
		FROM counters
		WHERE countername = $1
	`

	rec, err := scanCounter(s.pool.QueryRow(ctx, query, name), name)
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Exists checks whether the counter row is present
func (s *PostgresCounterStore) Exists(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM counters WHERE countername = $1)`, name,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check counter existence: %w", err)
	}
	return exists, nil
}

// Create registers a new counter with zeroed buckets
func (s *PostgresCounterStore) Create(ctx context.Context, name string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx,
		`INSERT INTO counter_registry (countername) VALUES ($1)`, name,
	); err != nil {
		return wrapInsertError(err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO counters (countername, cnt_sec, cnt_min, cnt_hr, cnt_day, cnt_mnt, last_update)
		VALUES ($1, 0, 0, 0, 0, 0, 0)
	`, name); err != nil {
		return wrapInsertError(err)
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapInsertError(err)
	}

	s.logger.Debug("Counter created", zap.String("counter", name))
	return nil
}

// UpdateLocked loads the counter with SELECT ... FOR UPDATE and lets fn mutate it
func (s *PostgresCounterStore) UpdateLocked(ctx context.Context, name string, fn UpdateFunc) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `
		SELECT cnt_sec, cnt_min, cnt_hr, cnt_day, cnt_mnt, last_update
		FROM counters
		WHERE countername = $1
		FOR UPDATE
	`

	rec, err := scanCounter(tx.QueryRow(ctx, query, name), name)
	if err != nil {
		return err
	}

	persist, err := fn(rec)
	if err != nil {
		return err
	}

	if persist {
		result, err := tx.Exec(ctx, `
			UPDATE counters
			SET cnt_sec = $2, cnt_min = $3, cnt_hr = $4, cnt_day = $5, cnt_mnt = $6, last_update = $7
			WHERE countername = $1
		`,
			name,
			rec.SecondCount,
			rec.MinuteCount,
			rec.HourCount,
			rec.DayCount,
			rec.MonthCount,
			rec.LastUpdate,
		)
		if err != nil {
			return fmt.Errorf("failed to update counter: %w", err)
		}
		if result.RowsAffected() == 0 {
			return ErrNotFound
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit counter update: %w", err)
	}
	return nil
}

// Ping checks the database connection
func (s *PostgresCounterStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the database connection pool
func (s *PostgresCounterStore) Close() {
	s.pool.Close()
}

func scanCounter(row pgx.Row, name string) (*model.CounterRecord, error) {
	rec := &model.CounterRecord{Name: name}
	err := row.Scan(
		&rec.SecondCount,
		&rec.MinuteCount,
		&rec.HourCount,
		&rec.DayCount,
		&rec.MonthCount,
		&rec.LastUpdate,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get counter: %w", err)
	}
	return rec, nil
}

func wrapInsertError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return ErrAlreadyExists
	}
	return fmt.Errorf("failed to create counter: %w", err)
}
