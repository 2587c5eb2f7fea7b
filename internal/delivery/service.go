package delivery

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/techcorp/docbroker/internal/agent"
	"github.com/techcorp/docbroker/internal/audit"
	"github.com/techcorp/docbroker/internal/classify"
	"github.com/techcorp/docbroker/internal/registry/model"
	"github.com/techcorp/docbroker/internal/registry/service"
)

// documentSource is the registry surface the pipeline needs.
// *service.DocumentService satisfies this interface.
type documentSource interface {
	Authorize(documentDID, issuerDID string, clearance classify.Level) (*model.Record, error)
	Render(ctx context.Context, rec *model.Record, clearance classify.Level) (*service.Rendered, error)
}

// offerClient issues DocumentCopy credentials. *agent.Client satisfies this
// interface.
type offerClient interface {
	CreateCredentialOffer(ctx context.Context, offer agent.CredentialOffer) (*agent.CredentialRecord, error)
}

// Recipient identifies who a delivery is for. Built from the caller's
// session.
type Recipient struct {
	EmployeeDID  string
	IssuerDID    string
	Clearance    classify.Level
	ConnectionID string
}

// Service runs the staged download pipeline: authorize, project, prepare,
// complete, pickup.
type Service struct {
	docs       documentSource
	ephemerals *Ephemerals
	pickups    *Pickups
	prepared   *PreparedDownloads
	baseURL    string
	ledger     audit.Ledger // nil = no audit writes
	logger     *zap.Logger

	offers     offerClient // nil = no credential offers
	issuingDID string
}

// NewService wires the delivery pipeline together.
func NewService(docs documentSource, ephemerals *Ephemerals, pickups *Pickups, prepared *PreparedDownloads, baseURL string, ledger audit.Ledger, logger *zap.Logger) *Service {
	return &Service{
		docs:       docs,
		ephemerals: ephemerals,
		pickups:    pickups,
		prepared:   prepared,
		baseURL:    baseURL,
		ledger:     ledger,
		logger:     logger,
	}
}

// SetCredentialIssuer configures DocumentCopy credential offers on
// completion. Without it, deliveries work but no offer is sent.
func (s *Service) SetCredentialIssuer(offers offerClient, issuingDID string) {
	s.offers = offers
	s.issuingDID = issuingDID
}

func (s *Service) appendAudit(ctx context.Context, subject, action, actor string, payload any) {
	if s.ledger == nil {
		return
	}
	if _, err := s.ledger.Append(ctx, subject, action, actor, payload); err != nil {
		s.logger.Error("audit append failed (non-fatal)",
			zap.String("action", action),
			zap.Error(err),
		)
	}
}

// PrepareResult is the response of the prepare step.
type PrepareResult struct {
	StorageID          string         `json:"storageId"`
	ServiceEndpointURL string         `json:"serviceEndpointUrl"`
	EphemeralDID       string         `json:"ephemeralDid"`
	DIDDocument        map[string]any `json:"didDocument"`
	ExpiresAt          time.Time      `json:"expiresAt"`
}

// Prepare authorizes the recipient against the registry, projects the
// document to their clearance, mints an ephemeral delivery identifier, and
// parks the rendered bytes for the complete step.
func (s *Service) Prepare(ctx context.Context, documentDID string, recipient Recipient) (*PrepareResult, error) {
	rec, err := s.docs.Authorize(documentDID, recipient.IssuerDID, recipient.Clearance)
	if err != nil {
		return nil, err
	}
	rendered, err := s.docs.Render(ctx, rec, recipient.Clearance)
	if err != nil {
		return nil, err
	}

	eph, err := s.ephemerals.Create(EphemeralRequest{
		OriginalDocumentID: rec.DocumentID,
		RecipientDID:       recipient.EmployeeDID,
		Clearance:          recipient.Clearance,
		RedactedSections:   rendered.Redacted,
		IssuerDID:          recipient.IssuerDID,
	})
	if err != nil {
		return nil, err
	}

	storageID := uuid.NewString()
	endpoint := s.baseURL + "/ephemeral-documents/content/" + storageID
	hash := sha256.Sum256(rendered.Content)

	s.prepared.Put(&Prepared{
		StorageID:         storageID,
		DocumentID:        rec.DocumentID,
		EphemeralDID:      eph.DID,
		Title:             rendered.Title,
		Classification:    rendered.Overall,
		ClearanceGranted:  recipient.Clearance,
		Content:           rendered.Content,
		ContentType:       rendered.ContentType,
		SourceFormat:      rendered.SourceFormat,
		Visible:           rendered.Visible,
		Redacted:          rendered.Redacted,
		RecipientDID:      recipient.EmployeeDID,
		ConnectionID:      recipient.ConnectionID,
		ContentHash:       hex.EncodeToString(hash[:]),
		DeliveryExpiresAt: eph.ExpiresAt,
		ViewsAllowed:      eph.ViewsAllowed,
	})

	s.logger.Info("download prepared",
		zap.String("document", rec.DocumentID),
		zap.String("recipient", recipient.EmployeeDID),
		zap.String("ephemeral", eph.DID),
		zap.Int("visible", rendered.Visible),
		zap.Int("redacted", len(rendered.Redacted)),
	)
	s.appendAudit(ctx, rec.DocumentID, audit.ActionDownloadPrepared, recipient.EmployeeDID, map[string]any{
		"ephemeralDid": eph.DID,
		"clearance":    recipient.Clearance.String(),
	})

	return &PrepareResult{
		StorageID:          storageID,
		ServiceEndpointURL: endpoint,
		EphemeralDID:       eph.DID,
		DIDDocument:        eph.Document(endpoint),
		ExpiresAt:          eph.ExpiresAt,
	}, nil
}

// CompleteResult is the response of the complete step.
type CompleteResult struct {
	PickupID           string                  `json:"pickupId"`
	ServiceEndpointURL string                  `json:"serviceEndpointUrl"`
	EphemeralDID       string                  `json:"ephemeralDid"`
	ContentHash        string                  `json:"contentHash"`
	ExpiresAt          time.Time               `json:"expiresAt"`
	CredentialOffer    *agent.CredentialRecord `json:"credentialOffer,omitempty"`
}

// Complete seals a prepared download to the wallet's key, stages the pickup,
// and offers a DocumentCopy credential over the recipient's connection. A
// failed offer is a warning, not an error: the pickup stays retrievable.
func (s *Service) Complete(ctx context.Context, storageID, walletPublicKey, connectionID string) (*CompleteResult, error) {
	// Reject malformed keys before consuming the prepared entry, so the
	// wallet can retry with a good key.
	if _, err := decodeBoxKey(walletPublicKey); err != nil {
		return nil, err
	}
	p, err := s.prepared.Take(storageID)
	if err != nil {
		return nil, err
	}

	env, err := Seal(p.Content, walletPublicKey)
	if err != nil {
		return nil, err
	}

	s.pickups.Stage(&Pickup{
		PickupID:         p.StorageID,
		EncryptedContent: env.EncryptedContent,
		Nonce:            env.Nonce,
		ServerPublicKey:  env.ServerPublicKey,
		WalletDID:        p.RecipientDID,
		DocumentID:       p.DocumentID,
		EphemeralDID:     p.EphemeralDID,
		ContentType:      p.ContentType,
		ExpiresAt:        p.DeliveryExpiresAt,
		ViewsRemaining:   p.ViewsAllowed,
	})

	endpoint := s.baseURL + "/ephemeral-documents/content/" + p.StorageID
	result := &CompleteResult{
		PickupID:           p.StorageID,
		ServiceEndpointURL: endpoint,
		EphemeralDID:       p.EphemeralDID,
		ContentHash:        env.ContentHash,
		ExpiresAt:          p.DeliveryExpiresAt,
	}

	if connectionID == "" {
		connectionID = p.ConnectionID
	}
	if s.offers != nil && connectionID != "" {
		offer, err := s.offers.CreateCredentialOffer(ctx, agent.CredentialOffer{
			ConnectionID:      connectionID,
			IssuingDID:        s.issuingDID,
			Claims:            s.documentCopyClaims(p, endpoint, env.ContentHash),
			AutomaticIssuance: true,
		})
		if err != nil {
			// The wallet can still pick the document up from the service
			// endpoint; only the credential trail is missing.
			s.logger.Warn("DocumentCopy offer failed",
				zap.String("document", p.DocumentID),
				zap.String("connection", connectionID),
				zap.Error(err),
			)
		} else {
			result.CredentialOffer = offer
		}
	}

	s.logger.Info("download completed",
		zap.String("document", p.DocumentID),
		zap.String("pickup", p.StorageID),
		zap.String("wallet", p.RecipientDID),
	)
	s.appendAudit(ctx, p.DocumentID, audit.ActionDownloadCompleted, p.RecipientDID, map[string]any{
		"pickupId":    p.StorageID,
		"contentHash": env.ContentHash,
	})
	return result, nil
}

// documentCopyClaims builds the DocumentCopy credential subject.
func (s *Service) documentCopyClaims(p *Prepared, endpoint, contentHash string) map[string]any {
	redacted := make([]map[string]any, 0, len(p.Redacted))
	for _, r := range p.Redacted {
		redacted = append(redacted, map[string]any{
			"sectionId": r.SectionID,
			"clearance": r.Clearance.String(),
		})
	}
	return map[string]any{
		"ephemeralDID":             p.EphemeralDID,
		"ephemeralServiceEndpoint": endpoint,
		"title":                    p.Title,
		"classification":           p.Classification.String(),
		"clearanceLevelGranted":    p.ClearanceGranted.String(),
		"sectionSummary": map[string]any{
			"visibleSections":  p.Visible,
			"redactedSections": redacted,
		},
		"accessRights": map[string]any{
			"expiresAt":    p.DeliveryExpiresAt.Format(time.RFC3339),
			"viewsAllowed": p.ViewsAllowed,
		},
		"contentHash": contentHash,
	}
}

// DirectResult is the response of the legacy single-call download.
type DirectResult struct {
	EphemeralDID   string         `json:"ephemeralDid"`
	DIDDocument    map[string]any `json:"didDocument"`
	Envelope       *Envelope      `json:"encryptedDocument"`
	ContentType    string         `json:"contentType"`
	Title          string         `json:"title"`
	Classification string         `json:"classification"`
	Visible        int            `json:"visibleSections"`
	RedactedCount  int            `json:"redactedSections"`
	ExpiresAt      time.Time      `json:"expiresAt"`
}

// Direct runs authorize, project, and seal in one call, skipping the staged
// pickup. Kept for wallets that cannot drive the two-step flow.
func (s *Service) Direct(ctx context.Context, documentDID, walletPublicKey string, recipient Recipient) (*DirectResult, error) {
	if _, err := decodeBoxKey(walletPublicKey); err != nil {
		return nil, err
	}
	rec, err := s.docs.Authorize(documentDID, recipient.IssuerDID, recipient.Clearance)
	if err != nil {
		return nil, err
	}
	rendered, err := s.docs.Render(ctx, rec, recipient.Clearance)
	if err != nil {
		return nil, err
	}

	eph, err := s.ephemerals.Create(EphemeralRequest{
		OriginalDocumentID: rec.DocumentID,
		RecipientDID:       recipient.EmployeeDID,
		Clearance:          recipient.Clearance,
		RedactedSections:   rendered.Redacted,
		IssuerDID:          recipient.IssuerDID,
	})
	if err != nil {
		return nil, err
	}
	env, err := Seal(rendered.Content, walletPublicKey)
	if err != nil {
		return nil, err
	}

	s.appendAudit(ctx, rec.DocumentID, audit.ActionDownloadCompleted, recipient.EmployeeDID, map[string]any{
		"ephemeralDid": eph.DID,
		"direct":       true,
	})
	return &DirectResult{
		EphemeralDID:   eph.DID,
		DIDDocument:    eph.Document(""),
		Envelope:       env,
		ContentType:    rendered.ContentType,
		Title:          rendered.Title,
		Classification: rendered.Overall.String(),
		Visible:        rendered.Visible,
		RedactedCount:  len(rendered.Redacted),
		ExpiresAt:      eph.ExpiresAt,
	}, nil
}

// Fetch serves a staged pickup to the wallet.
func (s *Service) Fetch(ctx context.Context, pickupID string) (*Pickup, error) {
	pk, err := s.pickups.Fetch(pickupID)
	if err != nil {
		return nil, err
	}
	s.appendAudit(ctx, pk.DocumentID, audit.ActionPickupServed, pk.WalletDID, map[string]any{
		"pickupId": pickupID,
	})
	return pk, nil
}
