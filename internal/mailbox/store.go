package mailbox

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// Store is the shared mailbox. Read returns a snapshot of the ordered job
// list; Write replaces the whole backing store atomically. There is no
// locking between a Read and the Write that follows it: if the peer process
// writes in that window its write wins at file granularity and this one is
// lost. Single-threaded dispatch per process keeps intra-process access
// serialized; the mutexes below only guard concurrent use of one handle.
type Store interface {
	Read(ctx context.Context) ([]Job, error)
	Write(ctx context.Context, jobs []Job) error
	Append(ctx context.Context, jobs ...Job) error
	Close() error
}

type fileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore opens a mailbox backed by a JSON array file. A missing file
// reads as an empty mailbox.
func NewFileStore(path string) (Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, ErrInvalidInput
	}
	return &fileStore{path: path}, nil
}

func (s *fileStore) Read(ctx context.Context) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readLocked()
}

func (s *fileStore) readLocked() ([]Job, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []Job{}, nil
		}
		return nil, err
	}
	if len(data) == 0 {
		return []Job{}, nil
	}
	return decodeSnapshot(data)
}

func (s *fileStore) Write(ctx context.Context, jobs []Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeLocked(jobs)
}

func (s *fileStore) writeLocked(jobs []Job) error {
	data, err := encodeSnapshot(jobs)
	if err != nil {
		return err
	}
	dir := filepath.Dir(s.path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

func (s *fileStore) Append(ctx context.Context, jobs ...Job) error {
	if len(jobs) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	current, err := s.readLocked()
	if err != nil {
		return err
	}
	return s.writeLocked(append(current, jobs...))
}

func (s *fileStore) Close() error {
	return nil
}

type memoryStore struct {
	mu   sync.Mutex
	jobs []Job
}

func NewMemoryStore() Store {
	return &memoryStore{jobs: []Job{}}
}

func (s *memoryStore) Read(ctx context.Context) ([]Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Job(nil), s.jobs...), nil
}

func (s *memoryStore) Write(ctx context.Context, jobs []Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append([]Job(nil), jobs...)
	return nil
}

func (s *memoryStore) Append(ctx context.Context, jobs ...Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = append(s.jobs, jobs...)
	return nil
}

func (s *memoryStore) Close() error {
	return nil
}
