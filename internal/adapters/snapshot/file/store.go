package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports"
)

const (
	FileName     = "ledger.jsonl"
	fileMode     = 0o600
	dirMode      = 0o700
	maxLineBytes = 4 << 20
)

var ErrNoSnapshot = errors.New("no ledger snapshot")

// Store appends one JSON document per line. Lines are never rewritten.
type Store struct {
	path string

	mu     sync.Mutex
	file   *os.File
	closed bool
}

var _ ports.SnapshotStore = (*Store)(nil)

func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, fileMode)
	if err != nil {
		return nil, fmt.Errorf("open snapshot file: %w", err)
	}

	return &Store{path: path, file: f}, nil
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) Append(ctx context.Context, snapshot domain.LedgerSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	line, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("encode ledger snapshot: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return errors.New("append ledger snapshot: store closed")
	}

	// one write per line keeps concurrent readers from seeing partial documents
	if _, err := s.file.Write(line); err != nil {
		return fmt.Errorf("append ledger snapshot: %w", err)
	}

	return nil
}

// Latest returns the last complete snapshot in the file. A trailing partial
// line left by a crash is ignored.
func (s *Store) Latest(ctx context.Context) (domain.LedgerSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.LedgerSnapshot{}, err
	}

	return ReadLatest(s.path)
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	if err := s.file.Sync(); err != nil {
		_ = s.file.Close()
		return fmt.Errorf("sync snapshot file: %w", err)
	}
	return s.file.Close()
}

func ReadLatest(path string) (domain.LedgerSnapshot, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return domain.LedgerSnapshot{}, ErrNoSnapshot
		}
		return domain.LedgerSnapshot{}, fmt.Errorf("open snapshot file: %w", err)
	}
	defer f.Close()

	var (
		latest domain.LedgerSnapshot
		found  bool
	)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var snapshot domain.LedgerSnapshot
		if err := json.Unmarshal(line, &snapshot); err != nil {
			continue
		}
		latest, found = snapshot, true
	}
	if err := scanner.Err(); err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("read snapshot file: %w", err)
	}
	if !found {
		return domain.LedgerSnapshot{}, ErrNoSnapshot
	}

	return latest, nil
}
