package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/classify"
)

// DefaultSessionTTL bounds a session's life from authentication, not from
// last activity.
const DefaultSessionTTL = 4 * time.Hour

// Session is one authenticated employee session.
type Session struct {
	Token           string         `json:"-"`
	ConnectionID    string         `json:"connectionId"`
	EmployeeDID     string         `json:"employeeDid"`
	EmployeeID      string         `json:"employeeId"`
	Role            string         `json:"role"`
	Department      string         `json:"department"`
	FullName        string         `json:"fullName"`
	Email           string         `json:"email"`
	IssuerDID       string         `json:"issuerDid"`
	HasTraining     bool           `json:"hasTraining"`
	TrainingExpiry  string         `json:"trainingExpiryDate,omitempty"`
	Clearance       classify.Level `json:"-"`
	AuthenticatedAt time.Time      `json:"authenticatedAt"`
	LastActivity    time.Time      `json:"lastActivity"`
}

// ClearanceLabel returns the session's clearance label, or "" when the
// employee presented no clearance credential.
func (s *Session) ClearanceLabel() string {
	if s.Clearance == 0 {
		return ""
	}
	return s.Clearance.String()
}

// Sessions is the in-memory session table.
type Sessions struct {
	ttl time.Duration

	mu      sync.Mutex
	byToken map[string]*Session
}

// NewSessions returns an empty session table. ttl <= 0 selects the default
// four hours.
func NewSessions(ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{ttl: ttl, byToken: make(map[string]*Session)}
}

// Create mints a session token, fills the timestamps, and stores the session.
func (s *Sessions) Create(sess *Session) (string, error) {
	token, err := newSessionToken()
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	sess.Token = token
	sess.AuthenticatedAt = now
	sess.LastActivity = now

	s.mu.Lock()
	s.byToken[token] = sess
	s.mu.Unlock()
	return token, nil
}

// Get resolves a token. Expired sessions are deleted on read and reported as
// SessionExpired; unknown tokens are Unauthorized.
func (s *Sessions) Get(token string) (*Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.byToken[token]
	if !ok {
		return nil, apperr.New(apperr.Unauthorized, "no session for this token")
	}
	if time.Since(sess.AuthenticatedAt) > s.ttl {
		delete(s.byToken, token)
		return nil, apperr.New(apperr.SessionExpired, "session has expired, log in again")
	}
	sess.LastActivity = time.Now().UTC()
	copied := *sess
	return &copied, nil
}

// Delete drops a session (logout).
func (s *Sessions) Delete(token string) {
	s.mu.Lock()
	delete(s.byToken, token)
	s.mu.Unlock()
}

// Len returns the number of stored sessions, expired ones included.
func (s *Sessions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byToken)
}

// SweepExpired drops sessions past the TTL and returns how many went.
func (s *Sessions) SweepExpired(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for token, sess := range s.byToken {
		if now.Sub(sess.AuthenticatedAt) > s.ttl {
			delete(s.byToken, token)
			n++
		}
	}
	return n
}

// newSessionToken returns a 256-bit random token, hex encoded.
func newSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// NewChallenge returns a 128-bit random challenge, hex encoded, for proof
// requests.
func NewChallenge() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate challenge: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
