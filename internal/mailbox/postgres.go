package mailbox

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresMailboxTable     = "nyxfan_mailbox"
	postgresMailboxKey       = "default"
	postgresOperationTimeout = 5 * time.Second
)

type sqlOpenFunc func(driverName, dsn string) (*sql.DB, error)

// postgresStore keeps the whole mailbox snapshot in a single row, preserving
// the read-then-full-replace discipline of the file store.
type postgresStore struct {
	dsn    string
	openDB sqlOpenFunc

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresStore(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &postgresStore{dsn: dsn, openDB: sql.Open}, nil
}

func (s *postgresStore) Read(ctx context.Context) ([]Job, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	var payload string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT snapshot FROM %s WHERE state_key = $1", postgresMailboxTable),
		postgresMailboxKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return []Job{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSnapshot([]byte(payload))
}

func (s *postgresStore) Write(ctx context.Context, jobs []Job) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	data, err := encodeSnapshot(jobs)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (state_key, snapshot, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (state_key)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`, postgresMailboxTable)
	_, err = s.db.ExecContext(ctx, query, postgresMailboxKey, string(data))
	return err
}

func (s *postgresStore) Append(ctx context.Context, jobs ...Job) error {
	if len(jobs) == 0 {
		return nil
	}
	current, err := s.Read(ctx)
	if err != nil {
		return err
	}
	return s.Write(ctx, append(current, jobs...))
}

func (s *postgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *postgresStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := s.openDB("postgres", s.dsn)
		if err != nil {
			s.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		_, err = db.ExecContext(ctx, fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				state_key TEXT PRIMARY KEY,
				snapshot TEXT NOT NULL,
				updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
			)`, postgresMailboxTable))
		if err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}
