package auth

import (
	"sync"
	"time"

	"github.com/techcorp/docbroker/internal/apperr"
)

// Login statuses reported to the polling client.
const (
	StatusPending  = "pending"
	StatusReceived = "received"
	StatusVerified = "verified"
	StatusFailed   = "failed"
)

// PendingTTL is how long a login attempt may stay unresolved.
const PendingTTL = 5 * time.Minute

// PendingAuth is one in-flight login attempt, keyed by the presentation ID
// of its proof request.
type PendingAuth struct {
	PresentationID string
	ConnectionID   string
	Challenge      string
	Domain         string
	Identifier     string
	Status         string
	CreatedAt      time.Time
	ExpiresAt      time.Time
}

// PendingAuths is the in-memory pending-login table.
type PendingAuths struct {
	mu   sync.Mutex
	byID map[string]*PendingAuth
}

// NewPendingAuths returns an empty table.
func NewPendingAuths() *PendingAuths {
	return &PendingAuths{byID: make(map[string]*PendingAuth)}
}

// Put stores a new pending attempt with the standard TTL.
func (p *PendingAuths) Put(pa *PendingAuth) {
	now := time.Now().UTC()
	pa.CreatedAt = now
	pa.ExpiresAt = now.Add(PendingTTL)
	if pa.Status == "" {
		pa.Status = StatusPending
	}

	p.mu.Lock()
	p.byID[pa.PresentationID] = pa
	p.mu.Unlock()
}

// Get returns the attempt, or NotFound if unknown or already swept. An
// expired attempt still present is deleted and reported as NotFound too;
// the client starts over with a fresh initiate.
func (p *PendingAuths) Get(presentationID string) (*PendingAuth, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pa, ok := p.byID[presentationID]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "no pending login for presentation %s", presentationID)
	}
	if time.Now().After(pa.ExpiresAt) {
		delete(p.byID, presentationID)
		return nil, apperr.Newf(apperr.NotFound, "login attempt %s has expired", presentationID)
	}
	copied := *pa
	return &copied, nil
}

// SetStatus records a status transition.
func (p *PendingAuths) SetStatus(presentationID, status string) {
	p.mu.Lock()
	if pa, ok := p.byID[presentationID]; ok {
		pa.Status = status
	}
	p.mu.Unlock()
}

// Delete removes a resolved attempt.
func (p *PendingAuths) Delete(presentationID string) {
	p.mu.Lock()
	delete(p.byID, presentationID)
	p.mu.Unlock()
}

// Len returns the number of live attempts.
func (p *PendingAuths) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}

// SweepExpired drops attempts past their expiry and returns how many went.
func (p *PendingAuths) SweepExpired(now time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := 0
	for id, pa := range p.byID {
		if now.After(pa.ExpiresAt) {
			delete(p.byID, id)
			n++
		}
	}
	return n
}
