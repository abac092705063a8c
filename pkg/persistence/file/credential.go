package file

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence"
)

// CredentialRepository stores encrypted credentials under <root>/credentials.
type CredentialRepository struct {
	p *Persistence
}

func (cr *CredentialRepository) path(service string) string {
	return filepath.Join(cr.p.dir("credentials"), service+".json")
}

func (cr *CredentialRepository) Save(_ context.Context, credential *models.EncryptedCredential) error {
	if err := validateID("service", credential.Service); err != nil {
		return err
	}

	cr.p.mu.Lock()
	defer cr.p.mu.Unlock()

	now := time.Now().UTC()
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = now
	}

	credential.UpdatedAt = now

	if err := writeJSON(cr.path(credential.Service), credential); err != nil {
		return fmt.Errorf("failed to save credential %s: %w", credential.Service, err)
	}

	return nil
}

func (cr *CredentialRepository) Get(_ context.Context, service string) (*models.EncryptedCredential, error) {
	if err := validateID("service", service); err != nil {
		return nil, err
	}

	cr.p.mu.RLock()
	defer cr.p.mu.RUnlock()

	var credential models.EncryptedCredential
	if err := readJSON(cr.path(service), &credential); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("credential %s: %w", service, persistence.ErrCredentialNotFound)
		}

		return nil, fmt.Errorf("failed to read credential %s: %w", service, err)
	}

	return &credential, nil
}

func (cr *CredentialRepository) Delete(_ context.Context, service string) error {
	if err := validateID("service", service); err != nil {
		return err
	}

	cr.p.mu.Lock()
	defer cr.p.mu.Unlock()

	if err := os.Remove(cr.path(service)); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("credential %s: %w", service, persistence.ErrCredentialNotFound)
		}

		return fmt.Errorf("failed to delete credential %s: %w", service, err)
	}

	return nil
}

func (cr *CredentialRepository) Services(_ context.Context) ([]string, error) {
	cr.p.mu.RLock()
	defer cr.p.mu.RUnlock()

	services, err := listJSON(cr.p.dir("credentials"))
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}

	sort.Strings(services)

	if services == nil {
		services = []string{}
	}

	return services, nil
}
