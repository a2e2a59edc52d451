package ports

import "context"

// SecretStore holds account credentials. Accounts only carry a reference key.
type SecretStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key string, value string) error
	Delete(ctx context.Context, key string) error
}
