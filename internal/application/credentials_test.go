package application

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnema/rotor/internal/domain"
	"github.com/bnema/rotor/internal/ports/mocks"
)

func accountRepoWith(secretRef string) *inMemoryResourceRepo[domain.AccountAttributes] {
	return &inMemoryResourceRepo[domain.AccountAttributes]{resources: []domain.Resource[domain.AccountAttributes]{
		{ID: "account-001", SuccessRate: 0.9, Attributes: domain.AccountAttributes{Handle: "alex", SecretRef: secretRef}},
		{ID: "account-002", SuccessRate: 0.7, Attributes: domain.AccountAttributes{Handle: "sam"}},
	}}
}

func secretRefOf(t *testing.T, repo *inMemoryResourceRepo[domain.AccountAttributes], id domain.ResourceID) string {
	t.Helper()
	accounts, err := repo.List(context.Background())
	require.NoError(t, err)
	for _, account := range accounts {
		if account.ID == id {
			return account.Attributes.SecretRef
		}
	}
	t.Fatalf("account %s missing", id)
	return ""
}

func TestCredentialServiceSetCredential(t *testing.T) {
	repo := accountRepoWith("")
	store := mocks.NewMockSecretStore(t)
	service := NewCredentialService(repo, store)

	store.EXPECT().Put(mockAnyContext(), "rotor://accounts/account-001", "hunter2").Return(nil)

	err := service.SetCredential(context.Background(), "account-001", "rotor://accounts/account-001", "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "rotor://accounts/account-001", secretRefOf(t, repo, "account-001"))
	assert.Empty(t, secretRefOf(t, repo, "account-002"))
}

func TestCredentialServiceRotationDeletesPreviousSecret(t *testing.T) {
	repo := accountRepoWith("rotor://accounts/account-001/old")
	store := mocks.NewMockSecretStore(t)
	service := NewCredentialService(repo, store)

	store.EXPECT().Put(mockAnyContext(), "rotor://accounts/account-001/new", "hunter3").Return(nil)
	store.EXPECT().Delete(mockAnyContext(), "rotor://accounts/account-001/old").Return(nil)

	err := service.SetCredential(context.Background(), "account-001", "rotor://accounts/account-001/new", "hunter3")
	require.NoError(t, err)
	assert.Equal(t, "rotor://accounts/account-001/new", secretRefOf(t, repo, "account-001"))
}

func TestCredentialServiceRotationRollsBackWhenPreviousDeleteFails(t *testing.T) {
	repo := accountRepoWith("rotor://accounts/account-001/old")
	store := mocks.NewMockSecretStore(t)
	service := NewCredentialService(repo, store)

	deleteErr := errors.New("keyring locked")
	store.EXPECT().Put(mockAnyContext(), "rotor://accounts/account-001/new", "hunter3").Return(nil)
	store.EXPECT().Delete(mockAnyContext(), "rotor://accounts/account-001/old").Return(deleteErr)
	store.EXPECT().Delete(mockAnyContext(), "rotor://accounts/account-001/new").Return(nil)

	err := service.SetCredential(context.Background(), "account-001", "rotor://accounts/account-001/new", "hunter3")
	require.ErrorIs(t, err, deleteErr)
	assert.Equal(t, "rotor://accounts/account-001/old", secretRefOf(t, repo, "account-001"))
	assert.Equal(t, 2, repo.saves)
}

func TestCredentialServiceSaveFailureDeletesStoredSecret(t *testing.T) {
	repo := accountRepoWith("")
	repo.saveErr = errors.New("read-only file system")
	store := mocks.NewMockSecretStore(t)
	service := NewCredentialService(repo, store)

	store.EXPECT().Put(mockAnyContext(), "rotor://accounts/account-001", "hunter2").Return(nil)
	store.EXPECT().Delete(mockAnyContext(), "rotor://accounts/account-001").Return(nil)

	err := service.SetCredential(context.Background(), "account-001", "rotor://accounts/account-001", "hunter2")
	require.ErrorIs(t, err, repo.saveErr)
}

func TestCredentialServicePutFailureLeavesAccountUntouched(t *testing.T) {
	repo := accountRepoWith("")
	store := mocks.NewMockSecretStore(t)
	service := NewCredentialService(repo, store)

	putErr := errors.New("disk full")
	store.EXPECT().Put(mockAnyContext(), "rotor://accounts/account-001", "hunter2").Return(putErr)

	err := service.SetCredential(context.Background(), "account-001", "rotor://accounts/account-001", "hunter2")
	require.ErrorIs(t, err, putErr)
	assert.Zero(t, repo.saves)
}

func TestCredentialServiceUnknownAccount(t *testing.T) {
	service := NewCredentialService(accountRepoWith(""), mocks.NewMockSecretStore(t))

	err := service.SetCredential(context.Background(), "account-404", "rotor://accounts/account-404", "x")
	require.ErrorIs(t, err, domain.ErrResourceNotFound)

	err = service.RemoveCredential(context.Background(), "account-404")
	require.ErrorIs(t, err, domain.ErrResourceNotFound)

	err = service.SetCredential(context.Background(), "account-001", "", "x")
	require.Error(t, err)
}

func TestCredentialServiceRemoveCredential(t *testing.T) {
	repo := accountRepoWith("rotor://accounts/account-001")
	store := mocks.NewMockSecretStore(t)
	service := NewCredentialService(repo, store)

	store.EXPECT().Delete(mockAnyContext(), "rotor://accounts/account-001").Return(nil)

	require.NoError(t, service.RemoveCredential(context.Background(), "account-001"))
	assert.Empty(t, secretRefOf(t, repo, "account-001"))

	require.NoError(t, service.RemoveCredential(context.Background(), "account-002"), "no credential is a no-op")
}

func TestCredentialServiceRemoveRestoresRefWhenDeleteFails(t *testing.T) {
	repo := accountRepoWith("rotor://accounts/account-001")
	store := mocks.NewMockSecretStore(t)
	service := NewCredentialService(repo, store)

	deleteErr := errors.New("keyring locked")
	store.EXPECT().Delete(mockAnyContext(), "rotor://accounts/account-001").Return(deleteErr)

	err := service.RemoveCredential(context.Background(), "account-001")
	require.ErrorIs(t, err, deleteErr)
	assert.Equal(t, "rotor://accounts/account-001", secretRefOf(t, repo, "account-001"))
}
