package credentials

import (
	"context"
	"fmt"

	"github.com/dukex/aef/pkg/persistence"
)

// Store persists credentials through the vault; plaintext never reaches the repository.
type Store struct {
	repo  persistence.CredentialRepository
	vault *Vault
}

func NewStore(repo persistence.CredentialRepository, vault *Vault) *Store {
	return &Store{repo: repo, vault: vault}
}

func (s *Store) Put(ctx context.Context, service string, fields map[string]string) error {
	encrypted, err := s.vault.Seal(service, fields)
	if err != nil {
		return err
	}

	if err := s.repo.Save(ctx, encrypted); err != nil {
		return fmt.Errorf("failed to store credential %s: %w", service, err)
	}

	return nil
}

// Get decrypts the credential of service. Callers must Wipe the result.
func (s *Store) Get(ctx context.Context, service string) (*Secret, error) {
	encrypted, err := s.repo.Get(ctx, service)
	if err != nil {
		return nil, err
	}

	return s.vault.Open(encrypted)
}

func (s *Store) Delete(ctx context.Context, service string) error {
	return s.repo.Delete(ctx, service)
}

func (s *Store) Services(ctx context.Context) ([]string, error) {
	return s.repo.Services(ctx)
}
