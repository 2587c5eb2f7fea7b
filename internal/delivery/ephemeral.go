// Package delivery implements secure document hand-off to employee wallets:
// ephemeral delivery identifiers, per-delivery NaCl box envelopes, staged
// pickups, and the prepare/complete download pipeline on top of them.
package delivery

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/nacl/box"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/classify"
	"github.com/techcorp/docbroker/internal/redact"
)

// TTL bounds for ephemeral delivery identifiers.
const (
	MinEphemeralTTL     = time.Minute
	MaxEphemeralTTL     = 24 * time.Hour
	DefaultEphemeralTTL = time.Hour
)

// EphemeralRequest describes one delivery identifier to mint.
type EphemeralRequest struct {
	OriginalDocumentID string
	RecipientDID       string
	Clearance          classify.Level
	RedactedSections   []redact.RedactedSection
	TTL                time.Duration // clamped to [1 min, 24 h], 0 = 1 h
	ViewsAllowed       int           // -1 = unlimited within the TTL
	IssuerDID          string
}

// Ephemeral is a minted delivery identifier plus its keypair. The private key
// never leaves this process.
type Ephemeral struct {
	DID                string                   `json:"ephemeralDid"`
	OriginalDocumentID string                   `json:"originalDocumentId"`
	RecipientDID       string                   `json:"recipientDid"`
	Clearance          classify.Level           `json:"clearanceLevel"`
	RedactedSections   []redact.RedactedSection `json:"redactedSections,omitempty"`
	TTL                time.Duration            `json:"ttlMs"`
	ViewsAllowed       int                      `json:"viewsAllowed"`
	IssuerDID          string                   `json:"issuerDid"`
	PublicKey          string                   `json:"publicKey"` // X25519, base64
	IssuedAt           time.Time                `json:"issuedAt"`
	ExpiresAt          time.Time                `json:"expiresAt"`

	privateKey *[32]byte
}

// Document returns the DID document for the ephemeral identifier: enough for
// a wallet to address an encrypted delivery to its key.
func (e *Ephemeral) Document(serviceEndpoint string) map[string]any {
	doc := map[string]any{
		"id": e.DID,
		"verificationMethod": []map[string]any{{
			"id":              e.DID + "#key-1",
			"type":            "X25519KeyAgreementKey2020",
			"controller":      e.DID,
			"publicKeyBase64": e.PublicKey,
		}},
		"expires": e.ExpiresAt.Format(time.RFC3339),
	}
	if serviceEndpoint != "" {
		doc["service"] = []map[string]any{{
			"id":              e.DID + "#delivery",
			"type":            "EncryptedDocumentDelivery",
			"serviceEndpoint": serviceEndpoint,
		}}
	}
	return doc
}

// Ephemerals is the in-memory table of live delivery identifiers.
type Ephemerals struct {
	mu    sync.Mutex
	byDID map[string]*Ephemeral
}

// NewEphemerals returns an empty table.
func NewEphemerals() *Ephemerals {
	return &Ephemerals{byDID: make(map[string]*Ephemeral)}
}

// Create mints a did:ephemeral identifier with a fresh X25519 keypair and
// stores its metadata.
func (t *Ephemerals) Create(req EphemeralRequest) (*Ephemeral, error) {
	pub, priv, err := box.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ephemeral keypair: %w", err)
	}

	ttl := req.TTL
	switch {
	case ttl == 0:
		ttl = DefaultEphemeralTTL
	case ttl < MinEphemeralTTL:
		ttl = MinEphemeralTTL
	case ttl > MaxEphemeralTTL:
		ttl = MaxEphemeralTTL
	}
	views := req.ViewsAllowed
	if views == 0 {
		views = -1
	}

	now := time.Now().UTC()
	eph := &Ephemeral{
		DID:                "did:ephemeral:" + uuid.NewString(),
		OriginalDocumentID: req.OriginalDocumentID,
		RecipientDID:       req.RecipientDID,
		Clearance:          req.Clearance,
		RedactedSections:   req.RedactedSections,
		TTL:                ttl,
		ViewsAllowed:       views,
		IssuerDID:          req.IssuerDID,
		PublicKey:          base64.StdEncoding.EncodeToString(pub[:]),
		IssuedAt:           now,
		ExpiresAt:          now.Add(ttl),
		privateKey:         priv,
	}

	t.mu.Lock()
	t.byDID[eph.DID] = eph
	t.mu.Unlock()
	return eph, nil
}

// Get returns the metadata for a live ephemeral DID.
func (t *Ephemerals) Get(did string) (*Ephemeral, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	eph, ok := t.byDID[did]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "ephemeral identifier %s is unknown", did)
	}
	if time.Now().After(eph.ExpiresAt) {
		delete(t.byDID, did)
		return nil, apperr.Newf(apperr.Gone, "ephemeral identifier %s has expired", did)
	}
	return eph, nil
}

// Len returns the number of stored identifiers, expired ones included.
func (t *Ephemerals) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byDID)
}

// SweepExpired drops identifiers past expiry and returns how many went.
func (t *Ephemerals) SweepExpired(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for did, eph := range t.byDID {
		if now.After(eph.ExpiresAt) {
			delete(t.byDID, did)
			n++
		}
	}
	return n
}
