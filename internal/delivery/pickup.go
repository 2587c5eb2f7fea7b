package delivery

import (
	"sync"
	"time"

	"github.com/techcorp/docbroker/internal/apperr"
)

// Pickup is one staged encrypted delivery awaiting wallet retrieval.
type Pickup struct {
	PickupID         string    `json:"pickupId"`
	EncryptedContent string    `json:"encryptedContent"`
	Nonce            string    `json:"nonce"`
	ServerPublicKey  string    `json:"serverPublicKey"`
	WalletDID        string    `json:"walletDid"`
	DocumentID       string    `json:"documentId"`
	EphemeralDID     string    `json:"ephemeralDid"`
	ContentType      string    `json:"contentType"`
	ExpiresAt        time.Time `json:"expiresAt"`
	ViewsRemaining   int       `json:"viewsRemaining"` // -1 = unlimited within the TTL
}

// Pickups is the in-memory staged-pickup table.
type Pickups struct {
	mu   sync.Mutex
	byID map[string]*Pickup
}

// NewPickups returns an empty table.
func NewPickups() *Pickups {
	return &Pickups{byID: make(map[string]*Pickup)}
}

// Stage stores a pickup under its ID.
func (p *Pickups) Stage(pk *Pickup) {
	p.mu.Lock()
	p.byID[pk.PickupID] = pk
	p.mu.Unlock()
}

// Fetch returns a staged pickup. Unknown IDs are NotFound; an expired pickup
// is deleted and reported as Gone, so the holder sees 410 exactly once.
func (p *Pickups) Fetch(pickupID string) (*Pickup, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pk, ok := p.byID[pickupID]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "no staged delivery %s", pickupID)
	}
	if time.Now().After(pk.ExpiresAt) {
		delete(p.byID, pickupID)
		return nil, apperr.Newf(apperr.Gone, "delivery %s has expired", pickupID)
	}
	if pk.ViewsRemaining > 0 {
		pk.ViewsRemaining--
		if pk.ViewsRemaining == 0 {
			delete(p.byID, pickupID)
		}
	}
	copied := *pk
	return &copied, nil
}

// Len returns the number of staged pickups, expired ones included.
func (p *Pickups) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}

// SweepExpired evicts unread expired pickups and returns how many went.
func (p *Pickups) SweepExpired(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for id, pk := range p.byID {
		if now.After(pk.ExpiresAt) {
			delete(p.byID, id)
			n++
		}
	}
	return n
}
