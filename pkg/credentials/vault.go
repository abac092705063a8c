// Package credentials encrypts service credentials at rest and injects them
// into browser actions immediately before they run.
package credentials

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"

	"github.com/dukex/aef/pkg/models"
)

var ErrNoMasterKey = errors.New("credentials master key is not configured")

const (
	keySalt = "aef-credentials"
	keyInfo = "credential-encryption-key-v1"
)

// Vault seals credential fields with XChaCha20-Poly1305. The service name is
// bound as additional data so ciphertexts cannot be swapped between services.
type Vault struct {
	aead cipher.AEAD
}

func NewVault(masterSecret string) (*Vault, error) {
	if masterSecret == "" {
		return nil, ErrNoMasterKey
	}

	key, err := deriveKey([]byte(masterSecret))
	if err != nil {
		return nil, err
	}
	defer clear(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create XChaCha20-Poly1305 cipher: %w", err)
	}

	return &Vault{aead: aead}, nil
}

func deriveKey(secret []byte) ([]byte, error) {
	reader := hkdf.New(sha256.New, secret, []byte(keySalt), []byte(keyInfo))
	key := make([]byte, chacha20poly1305.KeySize)

	if _, err := io.ReadFull(reader, key); err != nil {
		return nil, fmt.Errorf("failed to derive encryption key: %w", err)
	}

	return key, nil
}

func (v *Vault) Seal(service string, fields map[string]string) (*models.EncryptedCredential, error) {
	plaintext, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("failed to encode credential: %w", err)
	}
	defer clear(plaintext)

	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	return &models.EncryptedCredential{
		Service:    service,
		Nonce:      nonce,
		Ciphertext: v.aead.Seal(nil, nonce, plaintext, []byte(service)),
	}, nil
}

func (v *Vault) Open(credential *models.EncryptedCredential) (*Secret, error) {
	plaintext, err := v.aead.Open(nil, credential.Nonce, credential.Ciphertext, []byte(credential.Service))
	if err != nil {
		return nil, fmt.Errorf("failed to decrypt credential %s: %w", credential.Service, err)
	}
	defer clear(plaintext)

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(plaintext, &raw); err != nil {
		return nil, fmt.Errorf("failed to decode credential %s: %w", credential.Service, err)
	}

	secret := &Secret{service: credential.Service, fields: make(map[string][]byte, len(raw))}

	for name, value := range raw {
		var s string
		if err := json.Unmarshal(value, &s); err != nil {
			secret.Wipe()
			return nil, fmt.Errorf("credential %s field %s is not a string: %w", credential.Service, name, err)
		}

		secret.fields[name] = []byte(s)
		clear(value)
	}

	return secret, nil
}
