package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence"
)

type CredentialRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewCredentialRepository(db *sql.DB, logger *slog.Logger) *CredentialRepository {
	return &CredentialRepository{db: db, logger: logger}
}

func (r *CredentialRepository) Save(ctx context.Context, credential *models.EncryptedCredential) error {
	now := time.Now().UTC()
	if credential.CreatedAt.IsZero() {
		credential.CreatedAt = now
	}

	credential.UpdatedAt = now

	_, err := r.db.ExecContext(ctx, `
		INSERT INTO credentials (service, nonce, ciphertext, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (service) DO UPDATE SET
			nonce = EXCLUDED.nonce,
			ciphertext = EXCLUDED.ciphertext,
			updated_at = EXCLUDED.updated_at`,
		credential.Service, credential.Nonce, credential.Ciphertext, credential.CreatedAt, credential.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save credential %s: %w", credential.Service, err)
	}

	return nil
}

func (r *CredentialRepository) Get(ctx context.Context, service string) (*models.EncryptedCredential, error) {
	var credential models.EncryptedCredential

	err := r.db.QueryRowContext(ctx, `
		SELECT service, nonce, ciphertext, created_at, updated_at FROM credentials WHERE service = $1`, service,
	).Scan(&credential.Service, &credential.Nonce, &credential.Ciphertext, &credential.CreatedAt, &credential.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("credential %s: %w", service, persistence.ErrCredentialNotFound)
		}

		return nil, fmt.Errorf("failed to get credential %s: %w", service, err)
	}

	return &credential, nil
}

func (r *CredentialRepository) Delete(ctx context.Context, service string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM credentials WHERE service = $1`, service)
	if err != nil {
		return fmt.Errorf("failed to delete credential %s: %w", service, err)
	}

	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("credential %s: %w", service, persistence.ErrCredentialNotFound)
	}

	return nil
}

func (r *CredentialRepository) Services(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT service FROM credentials ORDER BY service`)
	if err != nil {
		return nil, fmt.Errorf("failed to list credentials: %w", err)
	}
	defer closeRows(ctx, r.logger, rows)

	services := []string{}

	for rows.Next() {
		var service string
		if err := rows.Scan(&service); err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}

		services = append(services, service)
	}

	return services, rows.Err()
}
