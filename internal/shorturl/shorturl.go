// Package shorturl shortens long invitation and pickup URLs for QR display.
// Entries live for a day and then resolve to a terminal expired page.
package shorturl

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/techcorp/docbroker/internal/apperr"
)

// TTL is how long a short link resolves.
const TTL = 24 * time.Hour

// Entry is one shortened URL.
type Entry struct {
	ShortID   string    `json:"shortId"`
	URL       string    `json:"url"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Store is the in-memory short-URL table.
type Store struct {
	mu   sync.Mutex
	byID map[string]*Entry
}

func NewStore() *Store {
	return &Store{byID: make(map[string]*Entry)}
}

// Shorten validates target and returns a fresh short entry for it.
func (s *Store) Shorten(target string) (*Entry, error) {
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, apperr.Newf(apperr.InputInvalid, "target %q is not an absolute http(s) URL", target)
	}

	id, err := newShortID()
	if err != nil {
		return nil, err
	}
	now := time.Now()
	e := &Entry{
		ShortID:   id,
		URL:       target,
		CreatedAt: now,
		ExpiresAt: now.Add(TTL),
	}

	s.mu.Lock()
	s.byID[id] = e
	s.mu.Unlock()

	clone := *e
	return &clone, nil
}

// Resolve returns the target URL for a short ID. Expired entries answer Gone
// and are evicted.
func (s *Store) Resolve(shortID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[shortID]
	if !ok {
		return "", apperr.Newf(apperr.NotFound, "no short link %s", shortID)
	}
	if time.Now().After(e.ExpiresAt) {
		delete(s.byID, shortID)
		return "", apperr.Newf(apperr.Gone, "short link %s has expired", shortID)
	}
	return e.URL, nil
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}

// SweepExpired removes entries past their TTL and reports how many were
// dropped.
func (s *Store) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.byID {
		if now.After(e.ExpiresAt) {
			delete(s.byID, id)
			n++
		}
	}
	return n
}

// newShortID returns an 8-character hex identifier.
func newShortID() (string, error) {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate short id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
