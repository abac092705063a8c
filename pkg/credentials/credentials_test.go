package credentials

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dukex/aef/pkg/log"
	"github.com/dukex/aef/pkg/models"
	"github.com/dukex/aef/pkg/persistence"
	"github.com/dukex/aef/pkg/persistence/file"
)

func TestVault_SealOpen(t *testing.T) {
	vault, err := NewVault("master-secret")
	require.NoError(t, err)

	sealed, err := vault.Seal("gmail", map[string]string{"email": "ops@example.com", "password": "hunter2"})
	require.NoError(t, err)
	assert.NotContains(t, string(sealed.Ciphertext), "hunter2")
	assert.Len(t, sealed.Nonce, 24)

	secret, err := vault.Open(sealed)
	require.NoError(t, err)

	password, ok := secret.Field("password")
	assert.True(t, ok)
	assert.Equal(t, "hunter2", password)
	assert.Equal(t, []string{"email", "password"}, secret.FieldNames())

	secret.Wipe()
	_, ok = secret.Field("password")
	assert.False(t, ok)
}

func TestVault_RejectsTampering(t *testing.T) {
	vault, err := NewVault("master-secret")
	require.NoError(t, err)

	sealed, err := vault.Seal("gmail", map[string]string{"password": "x"})
	require.NoError(t, err)

	sealed.Service = "airtable"
	_, err = vault.Open(sealed)
	require.Error(t, err, "ciphertext is bound to its service")

	other, err := NewVault("other-secret")
	require.NoError(t, err)

	sealed.Service = "gmail"
	_, err = other.Open(sealed)
	require.Error(t, err)

	_, err = NewVault("")
	assert.ErrorIs(t, err, ErrNoMasterKey)
}

func TestStore(t *testing.T) {
	ctx := t.Context()
	vault, err := NewVault("master-secret")
	require.NoError(t, err)

	store := NewStore(file.NewPersistence(t.TempDir()).CredentialRepository(), vault)

	require.NoError(t, store.Put(ctx, "gmail", map[string]string{"password": "hunter2"}))

	secret, err := store.Get(ctx, "gmail")
	require.NoError(t, err)
	defer secret.Wipe()

	v, _ := secret.Field("password")
	assert.Equal(t, "hunter2", v)

	services, err := store.Services(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"gmail"}, services)

	require.NoError(t, store.Delete(ctx, "gmail"))
	_, err = store.Get(ctx, "gmail")
	assert.True(t, persistence.IsCredentialNotFound(err))
}

type staticSource struct {
	secrets map[string]*Secret
	err     error
}

func (s *staticSource) Get(_ context.Context, service string) (*Secret, error) {
	if s.err != nil {
		return nil, s.err
	}

	secret, ok := s.secrets[service]
	if !ok {
		return nil, persistence.ErrCredentialNotFound
	}

	return secret, nil
}

func TestInjector_Inject(t *testing.T) {
	gmail := NewSecret("gmail", map[string]string{"email": "ops@example.com", "password": "hunter2"})
	injector := NewInjector(&staticSource{secrets: map[string]*Secret{"gmail": gmail}}, log.Discard())

	action := models.Action{
		Type:        models.ActionTypeText,
		Instruction: "Log in as {{credentials.gmail.email}}",
		Target:      &models.Target{Selector: "#password"},
		Data: map[string]any{
			"nested": []any{"{{credentials.gmail.email}}", 3},
		},
		CredentialField: "gmail.password",
	}

	injection, err := injector.Inject(t.Context(), action, map[string][]string{"gmail": {"email", "password"}})
	require.NoError(t, err)

	assert.Equal(t, "Log in as ops@example.com", injection.Action.Instruction)
	assert.Equal(t, "hunter2", injection.Action.Data["text"])
	assert.Equal(t, []any{"ops@example.com", 3}, injection.Action.Data["nested"])

	assert.Equal(t, "Log in as {{credentials.gmail.email}}", action.Instruction, "original action is untouched")
	assert.NotContains(t, action.Data, "text")

	assert.Equal(t, "typing *** failed for ***", injection.Redact("typing hunter2 failed for ops@example.com"))

	injection.Release()
	_, ok := gmail.Field("password")
	assert.False(t, ok, "release wipes decrypted secrets")
	assert.Equal(t, models.Action{}, injection.Action, "release forgets the injected action")
	assert.Equal(t, "typing hunter2", injection.Redact("typing hunter2"), "release forgets injected values")
}

func TestInjector_NoReferences(t *testing.T) {
	injector := NewInjector(nil, log.Discard())
	action := models.Action{Type: models.ActionClick, Target: &models.Target{Selector: "#send"}}

	injection, err := injector.Inject(t.Context(), action, nil)
	require.NoError(t, err)
	assert.Equal(t, action, injection.Action)
	injection.Release()
}

func TestInjector_Errors(t *testing.T) {
	tests := []struct {
		name   string
		source Source
		action models.Action
		expect error
	}{
		{
			name:   "missing service",
			source: &staticSource{secrets: map[string]*Secret{}},
			action: models.Action{Type: models.ActionTypeText, CredentialField: "airtable.token"},
			expect: ErrCredentialMissing,
		},
		{
			name:   "missing field",
			source: &staticSource{secrets: map[string]*Secret{"gmail": NewSecret("gmail", map[string]string{"email": "x"})}},
			action: models.Action{Type: models.ActionTypeText, CredentialField: "gmail.password"},
			expect: ErrFieldMissing,
		},
		{
			name:   "no store configured",
			source: nil,
			action: models.Action{Type: models.ActionTypeText, Instruction: "{{credentials.gmail.email}}"},
			expect: ErrCredentialMissing,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			injector := NewInjector(tt.source, log.Discard())

			_, err := injector.Inject(t.Context(), tt.action, nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.expect)
		})
	}

	boom := errors.New("connection refused")
	injector := NewInjector(&staticSource{err: boom}, log.Discard())
	_, err := injector.Inject(t.Context(), models.Action{CredentialField: "gmail.password"}, nil)
	assert.ErrorIs(t, err, boom)
}
