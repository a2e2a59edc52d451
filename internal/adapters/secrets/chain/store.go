package chain

import (
	"context"
	"errors"
	"fmt"

	filestore "github.com/bnema/rotor/internal/adapters/secrets/file"
	passstore "github.com/bnema/rotor/internal/adapters/secrets/pass"
	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports"
)

// Store writes to the primary backend and falls back to the secondary when the
// primary cannot serve. Reads consult both, so credentials written while the
// primary was unavailable stay reachable after it comes back.
type Store struct {
	primary  ports.SecretStore
	fallback ports.SecretStore
}

var _ ports.SecretStore = (*Store)(nil)

var (
	errNilPrimaryStore  = errors.New("primary secret store is nil")
	errNilFallbackStore = errors.New("fallback secret store is nil")
)

func NewStore(primary ports.SecretStore, fallback ports.SecretStore) (*Store, error) {
	if primary == nil {
		return nil, errNilPrimaryStore
	}
	if fallback == nil {
		return nil, errNilFallbackStore
	}

	return &Store{primary: primary, fallback: fallback}, nil
}

func NewPassFirstWithFileFallback(fileRoot string) (*Store, error) {
	return NewStore(passstore.NewStore(), filestore.NewStore(fileRoot))
}

func (s *Store) Put(ctx context.Context, key string, value string) error {
	err := s.primary.Put(ctx, key, value)
	if err == nil {
		return nil
	}
	if isContextError(err) {
		return err
	}

	if fallbackErr := s.fallback.Put(ctx, key, value); fallbackErr != nil {
		return fmt.Errorf("put secret: primary: %w; fallback: %w", err, fallbackErr)
	}

	return nil
}

func (s *Store) Get(ctx context.Context, key string) (string, error) {
	value, err := s.primary.Get(ctx, key)
	if err == nil {
		return value, nil
	}
	if isContextError(err) {
		return "", err
	}

	value, fallbackErr := s.fallback.Get(ctx, key)
	if fallbackErr == nil {
		return value, nil
	}
	if errors.Is(err, domain.ErrSecretNotFound) && errors.Is(fallbackErr, domain.ErrSecretNotFound) {
		return "", fmt.Errorf("%w: %q", domain.ErrSecretNotFound, key)
	}

	return "", fmt.Errorf("get secret: primary: %w; fallback: %w", err, fallbackErr)
}

// Delete removes the key from both backends; a copy left in either would be
// served again by Get.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.primary.Delete(ctx, key)
	if isContextError(err) {
		return err
	}

	fallbackErr := s.fallback.Delete(ctx, key)
	switch {
	case err != nil && fallbackErr != nil:
		return fmt.Errorf("delete secret: primary: %w; fallback: %w", err, fallbackErr)
	case fallbackErr != nil:
		return fmt.Errorf("delete secret: fallback: %w", fallbackErr)
	case err != nil && !errors.Is(err, passstore.ErrUnavailable):
		return fmt.Errorf("delete secret: primary: %w", err)
	}

	return nil
}

func isContextError(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
