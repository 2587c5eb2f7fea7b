package resourceauth

import (
	"sync"
	"time"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/classify"
)

// Authorization session statuses.
const (
	StatusAwaitingEnterpriseVP = "awaiting_enterprise_vp"
	StatusEnterpriseVPVerified = "enterprise_vp_verified"
	StatusAwaitingPersonalVP   = "awaiting_personal_vp"
	StatusAuthorized           = "authorized"
	StatusDenied               = "denied"
	StatusEnterpriseVPFailed   = "enterprise_vp_failed"
)

// SessionTTL is the window in which both presentations must verify.
const SessionTTL = 5 * time.Minute

// EnterpriseClaims are extracted from the verified EmployeeRole presentation.
type EnterpriseClaims struct {
	Role        string `json:"role"`
	Department  string `json:"department"`
	EmployeeDID string `json:"employeeDid"`
}

// PersonalClaims are extracted from the verified SecurityClearance
// presentation.
type PersonalClaims struct {
	Clearance classify.Level `json:"clearanceLevel"`
}

// Decision is the outcome of evaluating a completed session against the
// policy table.
type Decision struct {
	Authorized     bool   `json:"authorized"`
	Reason         string `json:"reason,omitempty"`
	EmployeeRole   string `json:"employeeRole,omitempty"`
	Department     string `json:"department,omitempty"`
	ClearanceLevel string `json:"clearanceLevel,omitempty"`
}

// Authorization is one dual-presentation session.
type Authorization struct {
	SessionID  string   `json:"sessionId"`
	ResourceID string   `json:"resourceId"`
	Resource   Resource `json:"resource"`

	Identifier string `json:"employeeIdentifier"`
	Challenge  string `json:"challenge"`
	Domain     string `json:"domain"`

	EnterprisePresentationID string            `json:"enterprisePresentationId"`
	EnterpriseVPVerified     bool              `json:"enterpriseVpVerified"`
	Enterprise               *EnterpriseClaims `json:"enterpriseVpClaims,omitempty"`

	PersonalConnectionID   string          `json:"personalWalletConnectionId,omitempty"`
	PersonalPresentationID string          `json:"personalPresentationId,omitempty"`
	PersonalVPReceived     bool            `json:"personalVpReceived"`
	PersonalVPVerified     bool            `json:"personalVpVerified"`
	PersonalVPFailed       bool            `json:"personalVpFailed,omitempty"`
	Personal               *PersonalClaims `json:"personalVpClaims,omitempty"`

	Status    string    `json:"status"`
	Result    *Decision `json:"authorizationResult,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Authorizations is the in-memory session table, keyed by session ID.
type Authorizations struct {
	mu   sync.Mutex
	byID map[string]*Authorization
}

func NewAuthorizations() *Authorizations {
	return &Authorizations{byID: make(map[string]*Authorization)}
}

// Put stores a session, stamping the expiry window on first insert.
func (t *Authorizations) Put(a *Authorization) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now()
	}
	if a.ExpiresAt.IsZero() {
		a.ExpiresAt = a.CreatedAt.Add(SessionTTL)
	}
	clone := *a
	t.byID[a.SessionID] = &clone
}

// Get returns a copy of the session. Expired sessions are evicted on read.
func (t *Authorizations) Get(sessionID string) (*Authorization, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	a, ok := t.byID[sessionID]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "no authorization session %s", sessionID)
	}
	if time.Now().After(a.ExpiresAt) {
		delete(t.byID, sessionID)
		return nil, apperr.Newf(apperr.NotFound, "authorization session %s has expired", sessionID)
	}
	clone := *a
	return &clone, nil
}

func (t *Authorizations) Delete(sessionID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.byID, sessionID)
}

func (t *Authorizations) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byID)
}

// SweepExpired removes sessions whose window has closed and reports how many
// were dropped.
func (t *Authorizations) SweepExpired(now time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := 0
	for id, a := range t.byID {
		if now.After(a.ExpiresAt) {
			delete(t.byID, id)
			n++
		}
	}
	return n
}
