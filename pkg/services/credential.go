package services

import (
	"context"
	"log/slog"

	"github.com/dukex/aef/pkg/credentials"
)

// Credential manages stored secrets. Values are write-only: only service
// names are ever returned.
type Credential struct {
	store  *credentials.Store
	logger *slog.Logger
}

// NewCredential creates the service; a nil store disables credential storage.
func NewCredential(store *credentials.Store, logger *slog.Logger) *Credential {
	return &Credential{store: store, logger: logger}
}

func (c *Credential) Services(ctx context.Context) ([]string, error) {
	if c.store == nil {
		return nil, ErrCredentialsDisabled
	}

	return c.store.Services(ctx)
}

func (c *Credential) Put(ctx context.Context, service string, fields map[string]string) error {
	if c.store == nil {
		return ErrCredentialsDisabled
	}

	empty := true

	for _, v := range fields {
		if v != "" {
			empty = false
			break
		}
	}

	if empty {
		return NewValidationError("put_credential", "fields_required", "", ErrCredentialFields)
	}

	if err := c.store.Put(ctx, service, fields); err != nil {
		return err
	}

	c.logger.InfoContext(ctx, "Credential stored", "service", service, "fields", len(fields))

	return nil
}

func (c *Credential) Delete(ctx context.Context, service string) error {
	if c.store == nil {
		return ErrCredentialsDisabled
	}

	return c.store.Delete(ctx, service)
}
