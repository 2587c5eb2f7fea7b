package delivery

import (
	"sync"
	"time"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/classify"
	"github.com/techcorp/docbroker/internal/redact"
)

// PreparedTTL bounds the window between prepare-download and
// complete-download.
const PreparedTTL = 10 * time.Minute

// Prepared holds a rendered document between the prepare and complete steps.
// The bytes are plaintext; they are sealed only once the wallet supplies its
// public key.
type Prepared struct {
	StorageID        string // doubles as the pickup ID after completion
	DocumentID       string
	EphemeralDID     string
	Title            string
	Classification   classify.Level
	ClearanceGranted classify.Level
	Content          []byte
	ContentType      string
	SourceFormat     string
	Visible          int
	Redacted         []redact.RedactedSection
	RecipientDID     string
	ConnectionID     string
	ContentHash      string

	// Delivery terms fixed at prepare time, from the ephemeral identifier.
	DeliveryExpiresAt time.Time
	ViewsAllowed      int

	ExpiresAt time.Time
}

// PreparedDownloads is the in-memory table of documents staged between
// prepare and complete.
type PreparedDownloads struct {
	mu   sync.Mutex
	byID map[string]*Prepared
}

// NewPreparedDownloads returns an empty table.
func NewPreparedDownloads() *PreparedDownloads {
	return &PreparedDownloads{byID: make(map[string]*Prepared)}
}

// Put stages an entry with the standard TTL.
func (t *PreparedDownloads) Put(p *Prepared) {
	p.ExpiresAt = time.Now().UTC().Add(PreparedTTL)
	t.mu.Lock()
	t.byID[p.StorageID] = p
	t.mu.Unlock()
}

// Take consumes an entry. A missing or expired entry is NotFound; the client
// re-runs prepare.
func (t *PreparedDownloads) Take(storageID string) (*Prepared, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.byID[storageID]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "no prepared download %s, run prepare-download again", storageID)
	}
	delete(t.byID, storageID)
	if time.Now().After(p.ExpiresAt) {
		return nil, apperr.Newf(apperr.NotFound, "prepared download %s has expired, run prepare-download again", storageID)
	}
	return p, nil
}

// Len returns the number of staged entries, expired ones included.
func (t *PreparedDownloads) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

// SweepExpired drops entries past the TTL and returns how many went.
func (t *PreparedDownloads) SweepExpired(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for id, p := range t.byID {
		if now.After(p.ExpiresAt) {
			delete(t.byID, id)
			n++
		}
	}
	return n
}
