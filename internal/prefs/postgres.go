package prefs

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresPrefsTable       = "nyxfan_prefs"
	postgresPrefsKey         = "default"
	postgresOperationTimeout = 5 * time.Second
)

// postgresStore keeps the whole preference mapping in one snapshot row, same
// discipline as the file store.
type postgresStore struct {
	dsn string

	initOnce sync.Once
	initErr  error
	db       *sql.DB
	mu       sync.Mutex
}

func NewPostgresStore(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	return &postgresStore{dsn: dsn}, nil
}

func (s *postgresStore) Get(ctx context.Context, subject, creator string) (Preference, error) {
	if err := validateKeys(subject, creator); err != nil {
		return Default(), err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.loadLocked(ctx)
	if err != nil {
		return Default(), err
	}
	pref, _ := snap.get(subject, creator)
	return pref, nil
}

func (s *postgresStore) Set(ctx context.Context, subject, creator string, upd Update) (Preference, error) {
	if err := validateKeys(subject, creator); err != nil {
		return Default(), err
	}
	if upd.Mode != nil && !ValidMode(*upd.Mode) {
		return Default(), ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap, err := s.loadLocked(ctx)
	if err != nil {
		return Default(), err
	}
	pref := snap.merge(subject, creator, upd)
	if err := s.saveLocked(ctx, snap); err != nil {
		return Default(), err
	}
	return pref, nil
}

func (s *postgresStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *postgresStore) loadLocked(ctx context.Context) (snapshot, error) {
	if err := s.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	var payload string
	err := s.db.QueryRowContext(ctx,
		fmt.Sprintf("SELECT snapshot FROM %s WHERE state_key = $1", postgresPrefsTable),
		postgresPrefsKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}
	var snap snapshot
	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return nil, err
	}
	return snap, nil
}

func (s *postgresStore) saveLocked(ctx context.Context, snap snapshot) error {
	if err := s.ensureReady(); err != nil {
		return err
	}
	payload, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, postgresOperationTimeout)
	defer cancel()

	query := fmt.Sprintf(`
		INSERT INTO %s (state_key, snapshot, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (state_key)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`, postgresPrefsTable)
	_, err = s.db.ExecContext(ctx, query, postgresPrefsKey, string(payload))
	return err
}

func (s *postgresStore) ensureReady() error {
	s.initOnce.Do(func() {
		db, err := sql.Open("postgres", s.dsn)
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
			)`, postgresPrefsTable))
		if err != nil {
			_ = db.Close()
			s.initErr = err
			return
		}
		s.db = db
	})
	return s.initErr
}

// BuildStoreFromDSN picks a preference backend by DSN scheme, mirroring the
// mailbox factory.
func BuildStoreFromDSN(dsn string) (Store, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, ErrInvalidInput
	}
	scheme := ""
	if i := strings.Index(dsn, "://"); i >= 0 {
		scheme = strings.ToLower(dsn[:i])
	}
	switch scheme {
	case "":
		return NewFileStore(dsn)
	case "file":
		return NewFileStore(strings.TrimPrefix(dsn, "file://"))
	case "memory", "mem", "inmem":
		return NewMemoryStore(), nil
	case "postgres", "postgresql":
		return NewPostgresStore(dsn)
	default:
		return nil, fmt.Errorf("%w: prefs backend scheme %s", ErrNotSupported, scheme)
	}
}
