package auth

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/techcorp/docbroker/internal/agent"
	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/audit"
)

// LoginDomain binds every login presentation to this portal.
const LoginDomain = "employee-portal.techcorp.com"

// proofClient is the Cloud Agent surface the login flow needs.
// *agent.Client satisfies this interface.
type proofClient interface {
	CreateProofRequest(ctx context.Context, connectionID string, opts agent.ProofOptions, goal string) (*agent.Presentation, error)
	GetProofRequest(ctx context.Context, presentationID string) (*agent.Presentation, error)
}

// LoginService drives the employee login state machine: initiate a proof
// request, poll its state, verify the presentation, mint a session.
type LoginService struct {
	tenant    proofClient
	directory *Directory
	pending   *PendingAuths
	sessions  *Sessions
	issuers   IssuerSet
	ledger    audit.Ledger // nil = no audit writes
	logger    *zap.Logger
}

// NewLoginService wires the login flow together.
func NewLoginService(tenant proofClient, directory *Directory, pending *PendingAuths, sessions *Sessions, issuers IssuerSet, ledger audit.Ledger, logger *zap.Logger) *LoginService {
	return &LoginService{
		tenant:    tenant,
		directory: directory,
		pending:   pending,
		sessions:  sessions,
		issuers:   issuers,
		ledger:    ledger,
		logger:    logger,
	}
}

// Initiate starts a login for an identifier (email or DID). It resolves the
// employee's wallet connection, sends a schema-less proof request bound to a
// fresh challenge, and parks the attempt in the pending table.
func (s *LoginService) Initiate(ctx context.Context, identifier string) (*PendingAuth, error) {
	if identifier == "" {
		return nil, apperr.New(apperr.InputInvalid, "identifier is required")
	}
	emp, err := s.directory.Resolve(identifier)
	if err != nil {
		return nil, err
	}

	challenge, err := NewChallenge()
	if err != nil {
		return nil, err
	}
	pres, err := s.tenant.CreateProofRequest(ctx, emp.ConnectionID, agent.ProofOptions{
		Challenge: challenge,
		Domain:    LoginDomain,
	}, "employee-login")
	if err != nil {
		return nil, err
	}

	pa := &PendingAuth{
		PresentationID: pres.PresentationID,
		ConnectionID:   emp.ConnectionID,
		Challenge:      challenge,
		Domain:         LoginDomain,
		Identifier:     identifier,
	}
	s.pending.Put(pa)

	s.logger.Info("login initiated",
		zap.String("identifier", identifier),
		zap.String("presentation", pres.PresentationID),
	)
	return pa, nil
}

// Status polls the Cloud Agent and reports the login attempt's state.
func (s *LoginService) Status(ctx context.Context, presentationID string) (string, error) {
	if _, err := s.pending.Get(presentationID); err != nil {
		return "", err
	}
	pres, err := s.tenant.GetProofRequest(ctx, presentationID)
	if err != nil {
		return "", err
	}
	status := MapPresentationState(pres.Status)
	s.pending.SetStatus(presentationID, status)
	return status, nil
}

// Verify finalizes a login: it requires a verified presentation, checks the
// challenge/domain binding and the issuer allow list, extracts the employee
// claims, and mints a session. The pending attempt is consumed on success.
func (s *LoginService) Verify(ctx context.Context, presentationID string) (string, *Session, error) {
	pa, err := s.pending.Get(presentationID)
	if err != nil {
		return "", nil, err
	}

	pres, err := s.tenant.GetProofRequest(ctx, presentationID)
	if err != nil {
		return "", nil, err
	}
	switch MapPresentationState(pres.Status) {
	case StatusVerified:
	case StatusFailed:
		s.pending.Delete(presentationID)
		return "", nil, apperr.New(apperr.Forbidden, "the wallet rejected the proof request")
	default:
		return "", nil, apperr.Newf(apperr.InputInvalid, "presentation is %s, not verified yet", pres.Status)
	}
	if len(pres.Data) == 0 {
		return "", nil, apperr.New(apperr.UpstreamError, "verified presentation carries no data")
	}

	vp, err := DecodeVP(pres.Data[0])
	if err != nil {
		return "", nil, err
	}
	if err := vp.CheckBinding(pa.Challenge, pa.Domain); err != nil {
		return "", nil, err
	}
	if err := s.issuers.Check(vp.Credentials); err != nil {
		return "", nil, err
	}

	role := vp.Credential(KindEmployeeRole)
	if role == nil {
		return "", nil, apperr.New(apperr.Forbidden, "presentation carries no EmployeeRole credential")
	}
	employeeDID := role.PrismDID()

	sess := &Session{
		ConnectionID: pa.ConnectionID,
		EmployeeDID:  employeeDID,
		EmployeeID:   role.String("employeeId"),
		Role:         role.String("role"),
		Department:   role.String("department"),
		FullName:     role.String("fullName"),
		Email:        role.String("email"),
		IssuerDID:    role.Issuer,
	}
	if training := vp.Credential(KindCISTraining); training != nil {
		sess.HasTraining = TrainingValid(training, employeeDID, time.Now())
		sess.TrainingExpiry = training.String("expiryDate")
	}
	sess.Clearance = ClearanceFrom(vp.Credential(KindSecurityClearance), employeeDID)

	token, err := s.sessions.Create(sess)
	if err != nil {
		return "", nil, err
	}
	s.pending.Delete(presentationID)

	s.logger.Info("employee authenticated",
		zap.String("employee", employeeDID),
		zap.String("role", sess.Role),
		zap.String("clearance", sess.ClearanceLabel()),
	)
	if s.ledger != nil {
		if _, err := s.ledger.Append(ctx, employeeDID, audit.ActionSessionCreated, employeeDID, map[string]any{
			"role":      sess.Role,
			"clearance": sess.ClearanceLabel(),
		}); err != nil {
			s.logger.Error("audit append failed (non-fatal)", zap.Error(err))
		}
	}
	return token, sess, nil
}

// MapPresentationState translates Cloud Agent present-proof states into the
// portal's login statuses.
func MapPresentationState(state string) string {
	switch state {
	case agent.PresentationStateRequestSent, agent.PresentationStateRequestPending:
		return StatusPending
	case agent.PresentationStateReceived:
		return StatusReceived
	case agent.PresentationStateVerified:
		return StatusVerified
	case agent.PresentationStateRequestRejected, agent.PresentationStateProblemReportReceived:
		return StatusFailed
	default:
		return StatusPending
	}
}
