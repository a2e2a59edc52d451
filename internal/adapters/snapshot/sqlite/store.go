package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports"
)

const (
	FileName = "ledger.db"
	dirMode  = 0o700
)

var ErrNoSnapshot = errors.New("no ledger snapshot")

const schema = `
CREATE TABLE IF NOT EXISTS ledger_snapshots (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	taken_at        TEXT    NOT NULL,
	appended        INTEGER NOT NULL,
	size            INTEGER NOT NULL,
	suspicion_level INTEGER NOT NULL,
	counts          TEXT    NOT NULL,
	recent          TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ledger_snapshots_taken_at ON ledger_snapshots (taken_at);
`

type snapshotRow struct {
	ID             int64  `db:"id"`
	TakenAt        string `db:"taken_at"`
	Appended       int64  `db:"appended"`
	Size           int    `db:"size"`
	SuspicionLevel int    `db:"suspicion_level"`
	Counts         string `db:"counts"`
	Recent         string `db:"recent"`
}

// Store keeps ledger snapshots as rows of a single append-only table.
type Store struct {
	db *sqlx.DB
}

var _ ports.SnapshotStore = (*Store)(nil)

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return nil, fmt.Errorf("create snapshot directory: %w", err)
	}

	db, err := sqlx.ConnectContext(ctx, "sqlite3", "file:"+path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("open snapshot database: %w", err)
	}
	// sqlite serializes writers; one connection avoids SQLITE_BUSY churn
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize snapshot schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Append(ctx context.Context, snapshot domain.LedgerSnapshot) error {
	row, err := toRow(snapshot)
	if err != nil {
		return err
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO ledger_snapshots (taken_at, appended, size, suspicion_level, counts, recent)
		VALUES (:taken_at, :appended, :size, :suspicion_level, :counts, :recent)`, row)
	if err != nil {
		return fmt.Errorf("insert ledger snapshot: %w", err)
	}

	return nil
}

func (s *Store) Latest(ctx context.Context) (domain.LedgerSnapshot, error) {
	var row snapshotRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM ledger_snapshots ORDER BY id DESC LIMIT 1`)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.LedgerSnapshot{}, ErrNoSnapshot
		}
		return domain.LedgerSnapshot{}, fmt.Errorf("select latest ledger snapshot: %w", err)
	}

	return fromRow(row)
}

// Count returns how many snapshots are stored.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM ledger_snapshots`); err != nil {
		return 0, fmt.Errorf("count ledger snapshots: %w", err)
	}
	return n, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func toRow(snapshot domain.LedgerSnapshot) (snapshotRow, error) {
	counts, err := json.Marshal(snapshot.Counts)
	if err != nil {
		return snapshotRow{}, fmt.Errorf("encode snapshot counts: %w", err)
	}
	recent, err := json.Marshal(snapshot.Recent)
	if err != nil {
		return snapshotRow{}, fmt.Errorf("encode snapshot events: %w", err)
	}

	return snapshotRow{
		TakenAt:        snapshot.TakenAt.UTC().Format(time.RFC3339Nano),
		Appended:       int64(snapshot.Appended),
		Size:           snapshot.Size,
		SuspicionLevel: snapshot.SuspicionLevel,
		Counts:         string(counts),
		Recent:         string(recent),
	}, nil
}

func fromRow(row snapshotRow) (domain.LedgerSnapshot, error) {
	takenAt, err := time.Parse(time.RFC3339Nano, row.TakenAt)
	if err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("decode snapshot %d time: %w", row.ID, err)
	}

	snapshot := domain.LedgerSnapshot{
		TakenAt:        takenAt,
		Appended:       uint64(row.Appended),
		Size:           row.Size,
		SuspicionLevel: row.SuspicionLevel,
	}
	if err := json.Unmarshal([]byte(row.Counts), &snapshot.Counts); err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("decode snapshot %d counts: %w", row.ID, err)
	}
	if err := json.Unmarshal([]byte(row.Recent), &snapshot.Recent); err != nil {
		return domain.LedgerSnapshot{}, fmt.Errorf("decode snapshot %d events: %w", row.ID, err)
	}

	return snapshot, nil
}
