package application

import (
	"context"
	"errors"
	"fmt"

	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports"
)

// CredentialKey is the default secret-store key of an account's credential.
func CredentialKey(id domain.ResourceID) string {
	return "rotor://accounts/" + string(id)
}

// CredentialService points persisted accounts at secrets in the secret store.
// It edits the persisted account pool, so it is meant for a stopped fleet.
type CredentialService struct {
	accounts ports.ResourceRepository[domain.AccountAttributes]
	store    ports.SecretStore
}

func NewCredentialService(accounts ports.ResourceRepository[domain.AccountAttributes], store ports.SecretStore) *CredentialService {
	return &CredentialService{accounts: accounts, store: store}
}

// SetCredential stores secretValue under secretKey, points the account at it
// and deletes the previous secret. Every failing step is rolled back.
func (s *CredentialService) SetCredential(ctx context.Context, id domain.ResourceID, secretKey, secretValue string) error {
	if secretKey == "" {
		return fmt.Errorf("set credential: secret key is empty")
	}

	accounts, index, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	previous := accounts[index].Attributes.SecretRef

	if err := s.store.Put(ctx, secretKey, secretValue); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}

	accounts[index].Attributes.SecretRef = secretKey
	if err := s.accounts.SaveAll(ctx, accounts); err != nil {
		if rollbackErr := s.store.Delete(ctx, secretKey); rollbackErr != nil {
			return fmt.Errorf("save account credential and rollback stored secret: %w", errors.Join(err, rollbackErr))
		}
		return fmt.Errorf("save account credential: %w", err)
	}

	if previous == "" || previous == secretKey {
		return nil
	}

	if err := s.store.Delete(ctx, previous); err != nil {
		accounts[index].Attributes.SecretRef = previous

		var rollbackErr error
		if restoreErr := s.accounts.SaveAll(ctx, accounts); restoreErr != nil {
			rollbackErr = errors.Join(rollbackErr, restoreErr)
		}
		if newSecretDeleteErr := s.store.Delete(ctx, secretKey); newSecretDeleteErr != nil {
			rollbackErr = errors.Join(rollbackErr, newSecretDeleteErr)
		}
		if rollbackErr != nil {
			return fmt.Errorf("delete previous credential and rollback credential update: %w", errors.Join(err, rollbackErr))
		}
		return fmt.Errorf("delete previous credential: %w", err)
	}

	return nil
}

// RemoveCredential clears the account's reference and deletes the secret.
func (s *CredentialService) RemoveCredential(ctx context.Context, id domain.ResourceID) error {
	accounts, index, err := s.load(ctx, id)
	if err != nil {
		return err
	}

	secretRef := accounts[index].Attributes.SecretRef
	if secretRef == "" {
		return nil
	}

	accounts[index].Attributes.SecretRef = ""
	if err := s.accounts.SaveAll(ctx, accounts); err != nil {
		return fmt.Errorf("save account credential: %w", err)
	}

	if err := s.store.Delete(ctx, secretRef); err != nil {
		accounts[index].Attributes.SecretRef = secretRef
		if restoreErr := s.accounts.SaveAll(ctx, accounts); restoreErr != nil {
			return fmt.Errorf("delete credential and restore ref: %w", errors.Join(err, restoreErr))
		}
		return fmt.Errorf("delete credential: %w", err)
	}

	return nil
}

func (s *CredentialService) load(ctx context.Context, id domain.ResourceID) ([]domain.Resource[domain.AccountAttributes], int, error) {
	accounts, err := s.accounts.List(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("list accounts: %w", err)
	}
	for i, account := range accounts {
		if account.ID == id {
			return accounts, i, nil
		}
	}
	return nil, 0, fmt.Errorf("%w: account %s", domain.ErrResourceNotFound, id)
}
