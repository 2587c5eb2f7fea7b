package delivery

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/nacl/box"

	"github.com/techcorp/docbroker/internal/apperr"
)

// Envelope is a sealed document addressed to one wallet key. The server
// keypair behind ServerPublicKey is generated for this delivery alone and its
// private half is discarded after sealing.
type Envelope struct {
	EncryptedContent string `json:"encryptedContent"` // base64
	Nonce            string `json:"nonce"`            // base64, 24 bytes
	ServerPublicKey  string `json:"serverPublicKey"`  // X25519, base64
	ContentHash      string `json:"contentHash"`      // SHA-256 hex of the plaintext
}

// Seal encrypts plaintext to the wallet's X25519 public key with a fresh
// server keypair and a random 24-byte nonce.
func Seal(plaintext []byte, walletPublicKey string) (*Envelope, error) {
	recipient, err := decodeBoxKey(walletPublicKey)
	if err != nil {
		return nil, err
	}

	serverPub, serverPriv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate delivery keypair: %w", err)
	}
	var nonce [24]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}

	sealed := box.Seal(nil, plaintext, &nonce, recipient, serverPriv)
	hash := sha256.Sum256(plaintext)

	return &Envelope{
		EncryptedContent: base64.StdEncoding.EncodeToString(sealed),
		Nonce:            base64.StdEncoding.EncodeToString(nonce[:]),
		ServerPublicKey:  base64.StdEncoding.EncodeToString(serverPub[:]),
		ContentHash:      hex.EncodeToString(hash[:]),
	}, nil
}

// decodeBoxKey parses a base64 X25519 public key.
func decodeBoxKey(encoded string) (*[32]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, apperr.Wrap(apperr.InputInvalid, "public key is not valid base64", err)
	}
	if len(raw) != 32 {
		return nil, apperr.Newf(apperr.InputInvalid, "public key is %d bytes, want 32", len(raw))
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}
