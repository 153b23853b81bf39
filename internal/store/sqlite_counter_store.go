package store

import (
	"context"
	"fmt"
	"time"

	"crawshaw.io/sqlite"
	"crawshaw.io/sqlite/sqlitex"
	"go.uber.org/zap"

	"github.com/devrev/sharedcounter/internal/model"
)

const sqliteBusyTimeout = 10 * time.Second

// SQLiteCounterStore implements CounterStore on an embedded SQLite database.
// Writers serialize on BEGIN IMMEDIATE, which stands in for row locks.
type SQLiteCounterStore struct {
	pool   *sqlitex.Pool
	logger *zap.Logger
}

// NewSQLiteCounterStore opens (or creates) the database at path and
// initializes the schema
func NewSQLiteCounterStore(path string, poolSize int, logger *zap.Logger) (*SQLiteCounterStore, error) {
	if poolSize <= 0 {
		poolSize = 10
	}

	uri := fmt.Sprintf("file:%s", path)
	pool, err := sqlitex.Open(uri, 0, poolSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite pool: %w", err)
	}

	s := &SQLiteCounterStore{pool: pool, logger: logger}
	if err := s.initSchema(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite counter store opened", zap.String("path", path))
	return s, nil
}

func (s *SQLiteCounterStore) initSchema() error {
	conn := s.pool.Get(nil)
	if conn == nil {
		return fmt.Errorf("failed to get connection from pool")
	}
	defer s.pool.Put(conn)

	err := sqlitex.ExecScript(conn, `
		CREATE TABLE IF NOT EXISTS counter_registry (
			countername TEXT PRIMARY KEY,
			created_at  INTEGER NOT NULL
		);

		CREATE TABLE IF NOT EXISTS counters (
			countername TEXT PRIMARY KEY,
			cnt_sec     INTEGER NOT NULL DEFAULT 0,
			cnt_min     INTEGER NOT NULL DEFAULT 0,
			cnt_hr      INTEGER NOT NULL DEFAULT 0,
			cnt_day     INTEGER NOT NULL DEFAULT 0,
			cnt_mnt     INTEGER NOT NULL DEFAULT 0,
			last_update INTEGER NOT NULL DEFAULT 0
		);
	`)
	if err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

func (s *SQLiteCounterStore) conn(ctx context.Context) (*sqlite.Conn, error) {
	conn := s.pool.Get(ctx)
	if conn == nil {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("failed to get connection from pool")
	}
	conn.SetBusyTimeout(sqliteBusyTimeout)
	return conn, nil
}

// Load retrieves a counter record
func (s *SQLiteCounterStore) Load(ctx context.Context, name string) (*model.CounterRecord, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	return loadSQLiteCounter(conn, name)
}

// Exists checks whether the counter row is present
func (s *SQLiteCounterStore) Exists(ctx context.Context, name string) (bool, error) {
	conn, err := s.conn(ctx)
	if err != nil {
		return false, err
	}
	defer s.pool.Put(conn)

	stmt := conn.Prep("SELECT 1 FROM counters WHERE countername = ?")
	defer stmt.Reset()
	stmt.BindText(1, name)

	hasRow, err := stmt.Step()
	if err != nil {
		return false, fmt.Errorf("failed to check counter existence: %w", err)
	}
	return hasRow, nil
}

// Create registers a new counter with zeroed buckets
func (s *SQLiteCounterStore) Create(ctx context.Context, name string) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = withImmediateTx(conn, func() error {
		stmt := conn.Prep("INSERT INTO counter_registry (countername, created_at) VALUES (?, ?)")
		stmt.BindText(1, name)
		stmt.BindInt64(2, time.Now().UnixMilli())
		_, err := stmt.Step()
		stmt.Reset()
		if err != nil {
			return err
		}

		stmt = conn.Prep(`INSERT INTO counters (countername, cnt_sec, cnt_min, cnt_hr, cnt_day, cnt_mnt, last_update)
			VALUES (?, 0, 0, 0, 0, 0, 0)`)
		stmt.BindText(1, name)
		_, err = stmt.Step()
		stmt.Reset()
		return err
	})
	if err != nil {
		if isSQLiteConstraint(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("failed to create counter: %w", err)
	}

	s.logger.Debug("Counter created", zap.String("counter", name))
	return nil
}

// UpdateLocked runs fn inside a write transaction holding the database lock
func (s *SQLiteCounterStore) UpdateLocked(ctx context.Context, name string, fn UpdateFunc) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return withImmediateTx(conn, func() error {
		rec, err := loadSQLiteCounter(conn, name)
		if err != nil {
			return err
		}

		persist, err := fn(rec)
		if err != nil || !persist {
			return err
		}

		stmt := conn.Prep(`UPDATE counters
			SET cnt_sec = ?, cnt_min = ?, cnt_hr = ?, cnt_day = ?, cnt_mnt = ?, last_update = ?
			WHERE countername = ?`)
		stmt.BindInt64(1, rec.SecondCount)
		stmt.BindInt64(2, rec.MinuteCount)
		stmt.BindInt64(3, rec.HourCount)
		stmt.BindInt64(4, rec.DayCount)
		stmt.BindInt64(5, rec.MonthCount)
		stmt.BindInt64(6, rec.LastUpdate)
		stmt.BindText(7, name)
		_, err = stmt.Step()
		stmt.Reset()
		if err != nil {
			return fmt.Errorf("failed to update counter: %w", err)
		}
		return nil
	})
}

// Ping checks that a connection can run a trivial query
func (s *SQLiteCounterStore) Ping(ctx context.Context) error {
	conn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	return sqlitex.ExecTransient(conn, "SELECT 1;", nil)
}

// Close safely closes the SQLite connection pool
func (s *SQLiteCounterStore) Close() {
	if err := s.pool.Close(); err != nil {
		s.logger.Warn("Failed to close sqlite pool", zap.Error(err))
	}
}

func loadSQLiteCounter(conn *sqlite.Conn, name string) (*model.CounterRecord, error) {
	stmt := conn.Prep(`SELECT cnt_sec, cnt_min, cnt_hr, cnt_day, cnt_mnt, last_update
		FROM counters WHERE countername = ?`)
	defer stmt.Reset()
	stmt.BindText(1, name)

	hasRow, err := stmt.Step()
	if err != nil {
		return nil, fmt.Errorf("failed to get counter: %w", err)
	}
	if !hasRow {
		return nil, ErrNotFound
	}

	return &model.CounterRecord{
		Name:        name,
		SecondCount: stmt.ColumnInt64(0),
		MinuteCount: stmt.ColumnInt64(1),
		HourCount:   stmt.ColumnInt64(2),
		DayCount:    stmt.ColumnInt64(3),
		MonthCount:  stmt.ColumnInt64(4),
		LastUpdate:  stmt.ColumnInt64(5),
	}, nil
}

// withImmediateTx runs fn between BEGIN IMMEDIATE and COMMIT, rolling back on error
func withImmediateTx(conn *sqlite.Conn, fn func() error) (err error) {
	if err := sqlitex.ExecTransient(conn, "BEGIN IMMEDIATE;", nil); err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = sqlitex.ExecTransient(conn, "ROLLBACK;", nil)
			return
		}
		if cerr := sqlitex.ExecTransient(conn, "COMMIT;", nil); cerr != nil {
			_ = sqlitex.ExecTransient(conn, "ROLLBACK;", nil)
			err = fmt.Errorf("failed to commit transaction: %w", cerr)
		}
	}()
	return fn()
}

func isSQLiteConstraint(err error) bool {
	switch sqlite.ErrCode(err) {
	case sqlite.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite.SQLITE_CONSTRAINT_UNIQUE:
		return true
	}
	return false
}
