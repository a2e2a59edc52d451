package toml

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports"
)

const (
	PoolsFileName   = "pools.toml"
	poolsFileMode   = 0o600
	poolsDirMode    = 0o700
	tempFilePattern = ".pools-*.toml.tmp"
)

var (
	lockRegistryMu sync.Mutex
	pathLockMap    = map[string]*sync.RWMutex{}
)

// section reads and replaces one pool kind inside the shared file.
type section[T any] struct {
	kind   domain.ResourceKind
	decode func(poolsFileSchema) []domain.Resource[T]
	encode func(*poolsFileSchema, []domain.Resource[T])
}

// Repository persists one pool kind in pools.toml. Repositories of different
// kinds pointing at the same file share a lock, so concurrent saves never
// clobber each other's section.
type Repository[T any] struct {
	path    string
	mu      *sync.RWMutex
	section section[T]
}

var _ ports.ResourceRepository[domain.AccountAttributes] = (*Repository[domain.AccountAttributes])(nil)

func newRepository[T any](path string, s section[T]) (*Repository[T], error) {
	if path == "" {
		return nil, errors.New("pools path is empty")
	}

	path, err := normalizePath(path)
	if err != nil {
		return nil, err
	}

	return &Repository[T]{path: path, mu: lockForPath(path), section: s}, nil
}

func (r *Repository[T]) Path() string {
	return r.path
}

// List returns the persisted pool in file order. A missing file is an empty pool.
func (r *Repository[T]) List(ctx context.Context) ([]domain.Resource[T], error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	file, err := readSchema(r.path)
	if err != nil {
		return nil, err
	}

	return r.section.decode(file), nil
}

// SaveAll replaces this repository's section and leaves the others untouched.
func (r *Repository[T]) SaveAll(ctx context.Context, resources []domain.Resource[T]) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	seen := make(map[domain.ResourceID]struct{}, len(resources))
	for _, resource := range resources {
		if resource.ID == "" {
			return fmt.Errorf("save %s pool: resource id is empty", r.section.kind)
		}
		if _, dup := seen[resource.ID]; dup {
			return fmt.Errorf("save %s pool: %w: %s", r.section.kind, domain.ErrDuplicateResource, resource.ID)
		}
		seen[resource.ID] = struct{}{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	file, err := readSchema(r.path)
	if err != nil {
		return err
	}
	file.applyDefaults()

	r.section.encode(&file, resources)

	if err := ctx.Err(); err != nil {
		return err
	}

	return writeTOMLFile(r.path, file)
}

func readSchema(path string) (poolsFileSchema, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return poolsFileSchema{}, nil
		}
		return poolsFileSchema{}, fmt.Errorf("read pools file: %w", err)
	}

	var file poolsFileSchema
	if err := toml.Unmarshal(data, &file); err != nil {
		return poolsFileSchema{}, fmt.Errorf("decode pools file: %w", err)
	}
	if err := file.validateVersion(); err != nil {
		return poolsFileSchema{}, err
	}
	file.applyDefaults()

	return file, nil
}

func normalizePath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve pools path: %w", err)
	}

	return filepath.Clean(absPath), nil
}

func lockForPath(path string) *sync.RWMutex {
	lockRegistryMu.Lock()
	defer lockRegistryMu.Unlock()

	if mu, ok := pathLockMap[path]; ok {
		return mu
	}

	mu := &sync.RWMutex{}
	pathLockMap[path] = mu
	return mu
}

func writeTOMLFile(path string, file poolsFileSchema) error {
	if err := os.MkdirAll(filepath.Dir(path), poolsDirMode); err != nil {
		return fmt.Errorf("create pools directory: %w", err)
	}

	data, err := toml.Marshal(file)
	if err != nil {
		return fmt.Errorf("encode pools file: %w", err)
	}

	tempFile, err := os.CreateTemp(filepath.Dir(path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp pools file: %w", err)
	}

	tempName := tempFile.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tempName)
		}
	}()

	if _, err := tempFile.Write(data); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("write temp pools file: %w", err)
	}

	if err := tempFile.Chmod(poolsFileMode); err != nil {
		_ = tempFile.Close()
		return fmt.Errorf("chmod temp pools file: %w", err)
	}

	if err := tempFile.Close(); err != nil {
		return fmt.Errorf("close temp pools file: %w", err)
	}

	if err := os.Rename(tempName, path); err != nil {
		return fmt.Errorf("replace pools file: %w", err)
	}

	cleanup = false

	if err := os.Chmod(path, poolsFileMode); err != nil {
		return fmt.Errorf("chmod pools file: %w", err)
	}

	return nil
}

func parseTime(raw string) time.Time {
	if raw == "" {
		return time.Time{}
	}

	parsed, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}
	}

	return parsed
}

func formatTime(value time.Time) string {
	if value.IsZero() {
		return ""
	}

	return value.UTC().Format(time.RFC3339Nano)
}
