package models

import "time"

// EncryptedCredential is the only form in which service secrets are stored.
type EncryptedCredential struct {
	Service    string    `json:"service"`
	Nonce      []byte    `json:"nonce"`
	Ciphertext []byte    `json:"ciphertext"`
	CreatedAt  time.Time `json:"createdAt"`
	UpdatedAt  time.Time `json:"updatedAt"`
}
