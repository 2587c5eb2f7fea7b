// Package onboard provisions employees end to end: a hosted wallet on the
// multi-tenant agent, a published PRISM DID, a DIDComm connection to the
// company, and the EmployeeRole credential that makes portal login possible.
package onboard

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/techcorp/docbroker/internal/agent"
	"github.com/techcorp/docbroker/internal/audit"
	"github.com/techcorp/docbroker/internal/auth"
	"github.com/techcorp/docbroker/internal/email"
)

// Step names, in execution order. A failed run reports the step it died in.
const (
	StepCreateWallet      = "create-wallet"
	StepCreateEntity      = "create-entity"
	StepRegisterAPIKey    = "register-api-key"
	StepCreateDID         = "create-did"
	StepPublishDID        = "publish-did"
	StepAwaitPublication  = "await-publication"
	StepCompanyInvitation = "company-invitation"
	StepAcceptInvitation  = "accept-invitation"
	StepAwaitConnection   = "await-connection"
	StepOfferRole         = "offer-employee-role"
	StepAwaitIssuance     = "await-issuance"
	StepRecordMapping     = "record-employee-mapping"
)

// Default polling budgets. Publication dominates the wall clock.
const (
	DefaultPublishBudget = 60 * time.Second
	DefaultConnectBudget = 60 * time.Second
	DefaultIssueBudget   = 60 * time.Second
)

// StepError wraps a failure with the step it occurred in.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("onboarding step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Request describes the employee to provision.
type Request struct {
	EmployeeID string `json:"employeeId" binding:"required"`
	FullName   string `json:"fullName" binding:"required"`
	Email      string `json:"email" binding:"required"`
	Role       string `json:"role" binding:"required"`
	Department string `json:"department" binding:"required"`
}

// StepReport is the trace of one executed step.
type StepReport struct {
	Name     string        `json:"name"`
	OK       bool          `json:"ok"`
	Duration time.Duration `json:"durationMs"`
}

// Result carries every artifact of a completed onboarding run.
type Result struct {
	EmployeeID           string       `json:"employeeId"`
	WalletID             string       `json:"walletId"`
	EntityID             string       `json:"entityId"`
	APIKey               string       `json:"apiKey"`
	DID                  string       `json:"did"`
	CompanyConnectionID  string       `json:"companyConnectionId"`
	EmployeeConnectionID string       `json:"employeeConnectionId"`
	CredentialRecordID   string       `json:"credentialRecordId"`
	Steps                []StepReport `json:"steps"`
}

// Provisioner drives the twelve-step onboarding sequence against the two
// Cloud Agents.
type Provisioner struct {
	tenant     *agent.Client // multi-tenant agent, admin-capable
	enterprise *agent.Client // company issuer agent
	issuingDID string
	agentName  string
	directory  *auth.Directory
	ledger     audit.Ledger // nil = no audit writes
	notifier   email.Sender // nil = no notifications
	logger     *zap.Logger

	publishBudget time.Duration
	connectBudget time.Duration
	issueBudget   time.Duration
}

func NewProvisioner(tenant, enterprise *agent.Client, issuingDID, agentName string, directory *auth.Directory, ledger audit.Ledger, logger *zap.Logger) *Provisioner {
	return &Provisioner{
		tenant:        tenant,
		enterprise:    enterprise,
		issuingDID:    issuingDID,
		agentName:     agentName,
		directory:     directory,
		ledger:        ledger,
		logger:        logger,
		publishBudget: DefaultPublishBudget,
		connectBudget: DefaultConnectBudget,
		issueBudget:   DefaultIssueBudget,
	}
}

// SetNotifier enables a welcome notification to the employee after a
// successful run.
func (p *Provisioner) SetNotifier(n email.Sender) {
	p.notifier = n
}

// SetBudgets overrides the polling budgets. Zero keeps the current value.
func (p *Provisioner) SetBudgets(publish, connect, issue time.Duration) {
	if publish > 0 {
		p.publishBudget = publish
	}
	if connect > 0 {
		p.connectBudget = connect
	}
	if issue > 0 {
		p.issueBudget = issue
	}
}

// Onboard runs the full sequence. It aborts on the first failing step and
// returns the partial result alongside a StepError naming the step.
func (p *Provisioner) Onboard(ctx context.Context, req Request) (*Result, error) {
	res := &Result{EmployeeID: req.EmployeeID}
	start := time.Now()

	run := func(name string, fn func() error) error {
		stepStart := time.Now()
		err := fn()
		res.Steps = append(res.Steps, StepReport{
			Name:     name,
			OK:       err == nil,
			Duration: time.Since(stepStart),
		})
		if err != nil {
			p.logger.Error("onboarding step failed",
				zap.String("employee", req.EmployeeID),
				zap.String("step", name),
				zap.Error(err),
			)
			return &StepError{Step: name, Err: err}
		}
		return nil
	}

	var (
		scoped      *agent.Client
		longFormDID string
		invitation  *agent.Connection
	)

	if err := run(StepCreateWallet, func() error {
		w, err := p.tenant.CreateWallet(ctx, req.FullName+" Wallet")
		if err != nil {
			return err
		}
		res.WalletID = w.ID
		return nil
	}); err != nil {
		return res, err
	}

	if err := run(StepCreateEntity, func() error {
		e, err := p.tenant.CreateEntity(ctx, req.FullName, res.WalletID)
		if err != nil {
			return err
		}
		res.EntityID = e.ID
		return nil
	}); err != nil {
		return res, err
	}

	if err := run(StepRegisterAPIKey, func() error {
		secret, err := newAPISecret()
		if err != nil {
			return err
		}
		if err := p.tenant.RegisterAPIKey(ctx, res.EntityID, secret); err != nil {
			return err
		}
		res.APIKey = secret
		scoped = p.tenant.Scoped(secret)
		return nil
	}); err != nil {
		return res, err
	}

	if err := run(StepCreateDID, func() error {
		var err error
		longFormDID, err = scoped.CreateDID(ctx)
		return err
	}); err != nil {
		return res, err
	}

	if err := run(StepPublishDID, func() error {
		_, err := scoped.PublishDID(ctx, longFormDID)
		return err
	}); err != nil {
		return res, err
	}

	if err := run(StepAwaitPublication, func() error {
		d, err := scoped.WaitForPublication(ctx, longFormDID, p.publishBudget)
		if err != nil {
			return err
		}
		res.DID = d.DID
		return nil
	}); err != nil {
		return res, err
	}

	if err := run(StepCompanyInvitation, func() error {
		var err error
		invitation, err = p.enterprise.CreateConnection(ctx, req.FullName, "employee-onboarding")
		if err != nil {
			return err
		}
		res.CompanyConnectionID = invitation.ConnectionID
		return nil
	}); err != nil {
		return res, err
	}

	if err := run(StepAcceptInvitation, func() error {
		conn, err := scoped.AcceptInvitation(ctx, invitation.Invitation.OOB())
		if err != nil {
			return err
		}
		res.EmployeeConnectionID = conn.ConnectionID
		return nil
	}); err != nil {
		return res, err
	}

	if err := run(StepAwaitConnection, func() error {
		if _, err := p.enterprise.WaitForConnection(ctx, res.CompanyConnectionID, p.connectBudget); err != nil {
			return err
		}
		_, err := scoped.WaitForConnection(ctx, res.EmployeeConnectionID, p.connectBudget)
		return err
	}); err != nil {
		return res, err
	}

	if err := run(StepOfferRole, func() error {
		rec, err := p.enterprise.CreateCredentialOffer(ctx, agent.CredentialOffer{
			ConnectionID:      res.CompanyConnectionID,
			IssuingDID:        p.issuingDID,
			Claims:            p.roleClaims(req, res.DID),
			AutomaticIssuance: true,
		})
		if err != nil {
			return err
		}
		res.CredentialRecordID = rec.RecordID
		return nil
	}); err != nil {
		return res, err
	}

	if err := run(StepAwaitIssuance, func() error {
		_, err := p.enterprise.WaitForCredentialState(ctx, res.CredentialRecordID, agent.CredentialStateCredentialSent, p.issueBudget)
		return err
	}); err != nil {
		return res, err
	}

	if err := run(StepRecordMapping, func() error {
		return p.directory.Put(req.Email, auth.Employee{
			ConnectionID: res.CompanyConnectionID,
			Email:        req.Email,
			Name:         req.FullName,
			Department:   req.Department,
		})
	}); err != nil {
		return res, err
	}

	if p.ledger != nil {
		_, err := p.ledger.Append(ctx, res.DID, audit.ActionEmployeeOnboarded, audit.SystemActor, map[string]any{
			"employeeId":   req.EmployeeID,
			"walletId":     res.WalletID,
			"connectionId": res.CompanyConnectionID,
		})
		if err != nil {
			p.logger.Error("audit append failed (non-fatal)", zap.Error(err))
		}
	}

	p.logger.Info("employee onboarded",
		zap.String("employee", req.EmployeeID),
		zap.String("did", res.DID),
		zap.Duration("took", time.Since(start)),
	)
	p.notifyOnboarded(ctx, req, res)
	return res, nil
}

// notifyOnboarded emails the employee their wallet coordinates. Best-effort:
// the employee is onboarded whether or not the mail goes out.
func (p *Provisioner) notifyOnboarded(ctx context.Context, req Request, res *Result) {
	if p.notifier == nil {
		return
	}
	body := fmt.Sprintf(
		"Hello %s,\n\nYour enterprise wallet is ready.\n\n  Wallet ID: %s\n  DID:       %s\n\nAccept the EmployeeRole credential offer in your wallet to log in to the document portal.\n",
		req.FullName, res.WalletID, res.DID,
	)
	if err := p.notifier.Send(ctx, req.Email, "Your enterprise wallet is ready", body); err != nil {
		p.logger.Warn("onboarding notification failed (non-fatal)",
			zap.String("email", req.Email),
			zap.Error(err),
		)
	}
}

// OfferServiceConfiguration issues the ServiceConfiguration credential that
// carries the wallet's own agent coordinates, so a holder app can act on the
// employee's behalf.
func (p *Provisioner) OfferServiceConfiguration(ctx context.Context, res *Result) (*agent.CredentialRecord, error) {
	rec, err := p.enterprise.CreateCredentialOffer(ctx, agent.CredentialOffer{
		ConnectionID:      res.CompanyConnectionID,
		IssuingDID:        p.issuingDID,
		AutomaticIssuance: true,
		Claims: map[string]any{
			"enterpriseAgentUrl":      p.tenant.BaseURL(),
			"enterpriseAgentName":     p.agentName,
			"enterpriseAgentApiKey":   res.APIKey,
			"enterpriseAgentWalletId": res.WalletID,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("offer service configuration: %w", err)
	}
	return rec, nil
}

func (p *Provisioner) roleClaims(req Request, did string) map[string]any {
	return map[string]any{
		"prismDid":   did,
		"employeeId": req.EmployeeID,
		"role":       req.Role,
		"department": req.Department,
		"fullName":   req.FullName,
		"email":      req.Email,
	}
}

// newAPISecret returns a 64-character hex wallet secret.
func newAPISecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate api secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
