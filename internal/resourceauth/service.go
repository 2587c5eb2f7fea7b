package resourceauth

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/techcorp/docbroker/internal/agent"
	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/audit"
	"github.com/techcorp/docbroker/internal/auth"
	"github.com/techcorp/docbroker/internal/classify"
)

// ProofDomain binds both presentations of a session to this portal's
// resource gateway.
const ProofDomain = "resource-access.techcorp.com"

// proofClient is the Cloud Agent surface the flow needs. *agent.Client
// satisfies this interface.
type proofClient interface {
	CreateProofRequest(ctx context.Context, connectionID string, opts agent.ProofOptions, goal string) (*agent.Presentation, error)
	GetProofRequest(ctx context.Context, presentationID string) (*agent.Presentation, error)
}

// employeeDirectory resolves login identifiers to wallet connections.
// *auth.Directory satisfies this interface.
type employeeDirectory interface {
	Resolve(identifier string) (*auth.Employee, error)
}

// Service drives the dual-presentation state machine: the enterprise wallet
// proves the role, the personal wallet proves the clearance, both bound to
// the session challenge, and the policy table decides.
type Service struct {
	policy    *Policy
	directory employeeDirectory
	tenant    proofClient
	sessions  *Authorizations
	issuers   auth.IssuerSet
	ledger    audit.Ledger // nil = no audit writes
	logger    *zap.Logger
}

func NewService(policy *Policy, directory employeeDirectory, tenant proofClient, sessions *Authorizations, issuers auth.IssuerSet, ledger audit.Ledger, logger *zap.Logger) *Service {
	return &Service{
		policy:    policy,
		directory: directory,
		tenant:    tenant,
		sessions:  sessions,
		issuers:   issuers,
		ledger:    ledger,
		logger:    logger,
	}
}

// Initiate opens a session for a resource: it resolves the employee, sends
// the enterprise proof request bound to a fresh challenge, and parks the
// session awaiting the first presentation.
func (s *Service) Initiate(ctx context.Context, resourceID, employeeIdentifier string) (*Authorization, error) {
	if employeeIdentifier == "" {
		return nil, apperr.New(apperr.InputInvalid, "employee identifier is required")
	}
	res, err := s.policy.Lookup(resourceID)
	if err != nil {
		return nil, err
	}
	emp, err := s.directory.Resolve(employeeIdentifier)
	if err != nil {
		return nil, err
	}

	challenge, err := auth.NewChallenge()
	if err != nil {
		return nil, err
	}
	pres, err := s.tenant.CreateProofRequest(ctx, emp.ConnectionID, agent.ProofOptions{
		Challenge: challenge,
		Domain:    ProofDomain,
	}, "resource-authorization")
	if err != nil {
		return nil, err
	}

	a := &Authorization{
		SessionID:                uuid.NewString(),
		ResourceID:               res.ID,
		Resource:                 *res,
		Identifier:               employeeIdentifier,
		Challenge:                challenge,
		Domain:                   ProofDomain,
		EnterprisePresentationID: pres.PresentationID,
		PersonalConnectionID:     emp.PersonalWalletConnectionID,
		Status:                   StatusAwaitingEnterpriseVP,
	}
	s.sessions.Put(a)

	s.logger.Info("resource authorization started",
		zap.String("session", a.SessionID),
		zap.String("resource", res.ID),
		zap.String("employee", employeeIdentifier),
	)
	return a, nil
}

// Status refreshes the session against the Cloud Agent and returns it.
func (s *Service) Status(ctx context.Context, sessionID string) (*Authorization, error) {
	a, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.refreshEnterprise(ctx, a); err != nil {
		s.sessions.Put(a)
		return nil, err
	}
	if err := s.refreshPersonal(ctx, a); err != nil {
		s.sessions.Put(a)
		return nil, err
	}
	s.sessions.Put(a)
	return a, nil
}

// RequestClearance sends the second proof request over the personal-wallet
// connection, reusing the session challenge so the two presentations are
// bound together.
func (s *Service) RequestClearance(ctx context.Context, sessionID, personalConnectionID string) (*Authorization, error) {
	a, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if err := s.refreshEnterprise(ctx, a); err != nil {
		s.sessions.Put(a)
		return nil, err
	}
	if a.Status == StatusEnterpriseVPFailed {
		s.sessions.Put(a)
		return nil, apperr.New(apperr.Forbidden, "the enterprise proof request was rejected")
	}
	if !a.EnterpriseVPVerified {
		s.sessions.Put(a)
		return nil, apperr.New(apperr.InputInvalid, "the enterprise presentation is not verified yet")
	}

	conn := personalConnectionID
	if conn == "" {
		conn = a.PersonalConnectionID
	}
	if conn == "" {
		s.sessions.Put(a)
		return nil, apperr.New(apperr.InputInvalid, "a personal wallet connection is required")
	}

	pres, err := s.tenant.CreateProofRequest(ctx, conn, agent.ProofOptions{
		Challenge: a.Challenge,
		Domain:    a.Domain,
	}, "clearance-verification")
	if err != nil {
		s.sessions.Put(a)
		return nil, err
	}

	a.PersonalConnectionID = conn
	a.PersonalPresentationID = pres.PresentationID
	a.Status = StatusAwaitingPersonalVP
	s.sessions.Put(a)

	s.logger.Info("clearance proof requested",
		zap.String("session", a.SessionID),
		zap.String("connection", conn),
	)
	return a, nil
}

// Verify refreshes both presentations and, once both are verified, decides
// the session against the policy table. The decision is recorded on the
// session; repeated calls return it unchanged.
func (s *Service) Verify(ctx context.Context, sessionID string) (*Authorization, error) {
	a, err := s.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if a.Result != nil {
		return a, nil
	}
	if err := s.refreshEnterprise(ctx, a); err != nil {
		s.sessions.Put(a)
		return nil, err
	}
	if err := s.refreshPersonal(ctx, a); err != nil {
		s.sessions.Put(a)
		return nil, err
	}

	switch {
	case a.Status == StatusEnterpriseVPFailed:
		a.Result = &Decision{Reason: "The enterprise proof request was rejected by the wallet"}
	case a.PersonalVPFailed:
		a.Status = StatusDenied
		a.Result = &Decision{
			Reason:       "The clearance proof request was rejected by the wallet",
			EmployeeRole: a.Enterprise.Role,
			Department:   a.Enterprise.Department,
		}
	case !a.EnterpriseVPVerified:
		s.sessions.Put(a)
		return nil, apperr.New(apperr.InputInvalid, "the enterprise presentation is not verified yet")
	case a.PersonalPresentationID == "":
		s.sessions.Put(a)
		return nil, apperr.New(apperr.InputInvalid, "no clearance proof has been requested for this session")
	case !a.PersonalVPVerified:
		s.sessions.Put(a)
		return nil, apperr.New(apperr.InputInvalid, "the clearance presentation is not verified yet")
	default:
		a.Result = s.evaluate(a)
		if a.Result.Authorized {
			a.Status = StatusAuthorized
		} else {
			a.Status = StatusDenied
		}
	}
	s.sessions.Put(a)

	actor := a.Identifier
	if a.Enterprise != nil && a.Enterprise.EmployeeDID != "" {
		actor = a.Enterprise.EmployeeDID
	}
	s.appendAudit(ctx, a.ResourceID, actor, map[string]any{
		"sessionId":  a.SessionID,
		"authorized": a.Result.Authorized,
		"reason":     a.Result.Reason,
	})
	s.logger.Info("resource authorization decided",
		zap.String("session", a.SessionID),
		zap.String("resource", a.ResourceID),
		zap.Bool("authorized", a.Result.Authorized),
		zap.String("reason", a.Result.Reason),
	)
	return a, nil
}

// evaluate applies the policy row to the verified claims. Clearance is
// checked before role so a denial names the stricter requirement.
func (s *Service) evaluate(a *Authorization) *Decision {
	d := &Decision{
		EmployeeRole:   a.Enterprise.Role,
		Department:     a.Enterprise.Department,
		ClearanceLevel: a.Personal.Clearance.String(),
	}
	if !a.Personal.Clearance.Covers(a.Resource.RequiredClearance) {
		d.Reason = fmt.Sprintf("Insufficient clearance: %s < %s", a.Personal.Clearance, a.Resource.RequiredClearance)
		return d
	}
	if a.Resource.RequiredRole != AnyRole && a.Enterprise.Role != a.Resource.RequiredRole {
		d.Reason = fmt.Sprintf("Role %s is not permitted, required: %s", a.Enterprise.Role, a.Resource.RequiredRole)
		return d
	}
	d.Authorized = true
	return d
}

// refreshEnterprise polls the enterprise presentation and, once verified,
// checks the challenge binding and extracts the EmployeeRole claims.
func (s *Service) refreshEnterprise(ctx context.Context, a *Authorization) error {
	if a.EnterpriseVPVerified || a.Status == StatusEnterpriseVPFailed {
		return nil
	}
	pres, err := s.tenant.GetProofRequest(ctx, a.EnterprisePresentationID)
	if err != nil {
		return err
	}
	switch auth.MapPresentationState(pres.Status) {
	case auth.StatusFailed:
		a.Status = StatusEnterpriseVPFailed
		return nil
	case auth.StatusVerified:
		if len(pres.Data) == 0 {
			return apperr.Newf(apperr.UpstreamError, "verified presentation %s carries no data", pres.PresentationID)
		}
		vp, err := auth.DecodeVP(pres.Data[0])
		if err != nil {
			a.Status = StatusEnterpriseVPFailed
			return err
		}
		if err := vp.CheckBinding(a.Challenge, a.Domain); err != nil {
			a.Status = StatusEnterpriseVPFailed
			return err
		}
		if err := s.issuers.Check(vp.Credentials); err != nil {
			a.Status = StatusEnterpriseVPFailed
			return err
		}
		role := vp.Credential(auth.KindEmployeeRole)
		if role == nil {
			a.Status = StatusEnterpriseVPFailed
			return apperr.New(apperr.Forbidden, "presentation carries no EmployeeRole credential")
		}
		a.Enterprise = &EnterpriseClaims{
			Role:        role.String("role"),
			Department:  role.String("department"),
			EmployeeDID: role.PrismDID(),
		}
		a.EnterpriseVPVerified = true
		if a.Status == StatusAwaitingEnterpriseVP {
			a.Status = StatusEnterpriseVPVerified
		}
	}
	return nil
}

// refreshPersonal polls the clearance presentation. The same challenge and
// domain are enforced, and the clearance credential must belong to the
// employee the enterprise presentation identified.
func (s *Service) refreshPersonal(ctx context.Context, a *Authorization) error {
	if a.PersonalPresentationID == "" || a.PersonalVPVerified || a.PersonalVPFailed {
		return nil
	}
	pres, err := s.tenant.GetProofRequest(ctx, a.PersonalPresentationID)
	if err != nil {
		return err
	}
	switch auth.MapPresentationState(pres.Status) {
	case auth.StatusFailed:
		a.PersonalVPFailed = true
	case auth.StatusReceived:
		a.PersonalVPReceived = true
	case auth.StatusVerified:
		a.PersonalVPReceived = true
		if len(pres.Data) == 0 {
			return apperr.Newf(apperr.UpstreamError, "verified presentation %s carries no data", pres.PresentationID)
		}
		vp, err := auth.DecodeVP(pres.Data[0])
		if err != nil {
			return err
		}
		if err := vp.CheckBinding(a.Challenge, a.Domain); err != nil {
			return err
		}
		if err := s.issuers.Check(vp.Credentials); err != nil {
			return err
		}
		cred := vp.Credential(auth.KindSecurityClearance)
		if cred == nil {
			return apperr.New(apperr.Forbidden, "presentation carries no SecurityClearance credential")
		}
		if a.Enterprise != nil && cred.PrismDID() != a.Enterprise.EmployeeDID {
			return apperr.New(apperr.Forbidden, "clearance credential does not belong to the authenticated employee")
		}
		level, err := classify.Parse(cred.String("clearanceLevel"))
		if err != nil {
			return apperr.Newf(apperr.InputInvalid, "clearance credential carries an invalid level %q", cred.String("clearanceLevel"))
		}
		a.Personal = &PersonalClaims{Clearance: level}
		a.PersonalVPVerified = true
	}
	return nil
}

func (s *Service) appendAudit(ctx context.Context, subject, actor string, payload any) {
	if s.ledger == nil {
		return
	}
	if _, err := s.ledger.Append(ctx, subject, audit.ActionResourceDecided, actor, payload); err != nil {
		s.logger.Error("audit append failed (non-fatal)", zap.Error(err))
	}
}
