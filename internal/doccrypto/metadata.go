package doccrypto

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	"github.com/techcorp/docbroker/internal/apperr"
)

// metadataHandle derives the per-company metadata key salt. Each company's
// metadata slice is sealed under its own key so one company can never open
// another's.
func metadataHandle(companyDID string) string {
	return "doc-metadata:" + companyDID
}

// EncryptMetadata seals a JSON-encodable metadata payload for one company.
// The result is base64(nonce || ciphertext || tag) under the company-specific
// key, with the company DID as associated data.
func EncryptMetadata(companySecret []byte, companyDID string, payload any) (string, error) {
	if len(companySecret) == 0 {
		return "", apperr.New(apperr.InputInvalid, "company section secret is empty")
	}

	plain, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal metadata: %w", err)
	}

	key, err := deriveKey(companySecret, metadataHandle(companyDID))
	if err != nil {
		return "", err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, plain, []byte(companyDID))
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptMetadata opens a company's metadata slice into out. Failure to
// authenticate is an IntegrityViolation: either the ciphertext was altered
// or it was sealed for a different company.
func DecryptMetadata(companySecret []byte, companyDID, encoded string, out any) error {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return apperr.Wrap(apperr.IntegrityViolation, "metadata ciphertext is not valid base64", err)
	}

	key, err := deriveKey(companySecret, metadataHandle(companyDID))
	if err != nil {
		return err
	}
	gcm, err := newGCM(key)
	if err != nil {
		return err
	}
	if len(sealed) < gcm.NonceSize() {
		return apperr.New(apperr.IntegrityViolation, "metadata ciphertext too short")
	}

	plain, err := gcm.Open(nil, sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():], []byte(companyDID))
	if err != nil {
		return apperr.Wrap(apperr.IntegrityViolation, "metadata failed authentication", err)
	}
	if err := json.Unmarshal(plain, out); err != nil {
		return fmt.Errorf("decode metadata: %w", err)
	}
	return nil
}
