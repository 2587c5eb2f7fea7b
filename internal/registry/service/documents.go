// Package service contains the document registry business logic: registration
// with per-company metadata encryption, Bloom-gated discovery, clearance
// authorization, and the upload/projection paths built on top of them.
package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/audit"
	"github.com/techcorp/docbroker/internal/classify"
	"github.com/techcorp/docbroker/internal/doccrypto"
	"github.com/techcorp/docbroker/internal/registry/model"
)

// stateStore persists the full document map. *repository.SignedStore
// satisfies this interface.
type stateStore interface {
	Save(documents map[string]*model.Record) error
	Load() (map[string]*model.Record, error)
}

// hiddenStore tracks soft-deleted connections per company.
// *repository.HiddenConnections satisfies this interface.
type hiddenStore interface {
	Hide(companyID, connectionID string) error
	IsHidden(companyID, connectionID string) bool
	HiddenFor(companyID string) []string
}

// metadataSlice is the per-company payload sealed into EncryptedMetadata.
type metadataSlice struct {
	Title          string            `json:"title"`
	Classification string            `json:"classification"`
	Custom         map[string]string `json:"custom,omitempty"`
}

// DocumentService owns the in-memory document registry and its durable,
// signed on-disk form.
type DocumentService struct {
	store         stateStore
	hidden        hiddenStore
	sectionSecret []byte
	ledger        audit.Ledger // nil = no audit writes
	blobs         blobClient   // nil = upload/download disabled
	logger        *zap.Logger

	mu        sync.RWMutex
	documents map[string]*model.Record

	// saveMu orders persisted snapshots: a snapshot taken first is written
	// first, so the file history stays linear.
	saveMu sync.Mutex
}

// NewDocumentService loads the registry from the store and returns the
// service. A signature mismatch in the stored file propagates as an
// IntegrityViolation; callers must treat that as fatal rather than start
// with an empty registry.
func NewDocumentService(store stateStore, hidden hiddenStore, sectionSecret []byte, ledger audit.Ledger, logger *zap.Logger) (*DocumentService, error) {
	docs, err := store.Load()
	if err != nil {
		return nil, err
	}
	if docs == nil {
		docs = make(map[string]*model.Record)
	}
	logger.Info("document registry loaded", zap.Int("documents", len(docs)))

	return &DocumentService{
		store:         store,
		hidden:        hidden,
		sectionSecret: sectionSecret,
		ledger:        ledger,
		logger:        logger,
		documents:     docs,
	}, nil
}

// appendAudit writes an audit entry in a non-fatal manner.
func (s *DocumentService) appendAudit(ctx context.Context, subject, action, actor string, payload any) {
	if s.ledger == nil {
		return
	}
	if _, err := s.ledger.Append(ctx, subject, action, actor, payload); err != nil {
		s.logger.Error("audit append failed (non-fatal)",
			zap.String("action", action),
			zap.String("subject", subject),
			zap.Error(err),
		)
	}
}

// Register validates the request, builds the releasability filter, seals one
// metadata slice per company, inserts the record, and persists the registry.
func (s *DocumentService) Register(ctx context.Context, req *model.RegisterRequest) (*model.Record, error) {
	level, err := req.Validate()
	if err != nil {
		return nil, err
	}

	custom := req.CustomMetadata
	if custom == nil {
		custom = req.Metadata.Custom
	}
	encMeta := make(map[string]string, len(req.ReleasableTo))
	for _, company := range req.ReleasableTo {
		ct, err := doccrypto.EncryptMetadata(s.sectionSecret, company, metadataSlice{
			Title:          req.Title,
			Classification: level.String(),
			Custom:         custom,
		})
		if err != nil {
			return nil, err
		}
		encMeta[company] = ct
	}

	now := time.Now().UTC()
	rec := &model.Record{
		DocumentID:            req.DocumentDID,
		Title:                 req.Title,
		OverallClassification: level,
		ReleasableTo:          append([]string(nil), req.ReleasableTo...),
		Filter:                model.NewReleasabilityFilter(req.ReleasableTo),
		EncryptedMetadata:     encMeta,
		ContentEncryptionKey:  req.ContentEncryptionKey,
		Storage:               req.Storage,
		Metadata:              req.Metadata,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	s.mu.Lock()
	if _, exists := s.documents[rec.DocumentID]; exists {
		s.mu.Unlock()
		return nil, apperr.Newf(apperr.Conflict, "document %s is already registered", rec.DocumentID)
	}
	s.documents[rec.DocumentID] = rec
	s.mu.Unlock()

	if err := s.persist(); err != nil {
		s.logger.Error("registry save failed", zap.String("document", rec.DocumentID), zap.Error(err))
		return nil, err
	}

	s.logger.Info("document registered",
		zap.String("document", rec.DocumentID),
		zap.String("classification", level.String()),
		zap.Int("releasable_to", len(rec.ReleasableTo)),
	)
	s.appendAudit(ctx, rec.DocumentID, audit.ActionDocumentRegistered, audit.SystemActor, map[string]any{
		"title":          rec.Title,
		"classification": level.String(),
		"releasableTo":   rec.ReleasableTo,
	})
	return rec, nil
}

// Get returns the record for documentDID.
func (s *DocumentService) Get(documentDID string) (*model.Record, error) {
	s.mu.RLock()
	rec, ok := s.documents[documentDID]
	s.mu.RUnlock()
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "document %s is not registered", documentDID)
	}
	return rec, nil
}

// Count returns the number of registered documents.
func (s *DocumentService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.documents)
}

// LevelCounts returns the number of registered documents per overall
// classification label. Feeds the documents gauge.
func (s *DocumentService) LevelCounts() map[string]int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	counts := make(map[string]int, len(classify.Levels()))
	for _, l := range classify.Levels() {
		counts[l.String()] = 0
	}
	for _, rec := range s.documents {
		counts[rec.OverallClassification.String()]++
	}
	return counts
}

// Discover lists the documents visible to issuerDID at the given clearance.
// A zero clearance means the caller presented no clearance credential and is
// treated as INTERNAL. Each result carries the caller's decrypted metadata
// slice.
func (s *DocumentService) Discover(ctx context.Context, issuerDID string, clearance classify.Level) ([]model.Summary, error) {
	if clearance == 0 {
		clearance = classify.Internal
	}

	s.mu.RLock()
	candidates := make([]*model.Record, 0, len(s.documents))
	for _, rec := range s.documents {
		candidates = append(candidates, rec)
	}
	s.mu.RUnlock()

	summaries := make([]model.Summary, 0, len(candidates))
	for _, rec := range candidates {
		// The Bloom filter rejects most non-members without touching the
		// explicit set; a probable hit is confirmed exactly.
		if !rec.ReleasableToCompany(issuerDID) {
			continue
		}
		if !clearance.Covers(rec.OverallClassification) {
			continue
		}

		summary := model.Summary{
			DocumentID:           rec.DocumentID,
			Title:                rec.Title,
			ClassificationLevel:  rec.OverallClassification,
			ContentEncryptionKey: rec.ContentEncryptionKey,
			CreatedAt:            rec.CreatedAt,
		}
		if ct, ok := rec.EncryptedMetadata[issuerDID]; ok {
			var meta map[string]any
			if err := doccrypto.DecryptMetadata(s.sectionSecret, issuerDID, ct, &meta); err != nil {
				return nil, err
			}
			summary.Metadata = meta
		}
		summaries = append(summaries, summary)
	}

	// Newest first, document ID breaking timestamp ties.
	sort.Slice(summaries, func(i, j int) bool {
		if !summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
		}
		return summaries[i].DocumentID < summaries[j].DocumentID
	})

	s.appendAudit(ctx, issuerDID, audit.ActionDocumentDiscovered, issuerDID, map[string]any{
		"clearance": clearance.String(),
		"visible":   len(summaries),
	})
	return summaries, nil
}

// Authorize resolves documentDID and applies the discovery policy to a single
// document: the caller's company must be in releasableTo and the caller's
// clearance must cover the document's classification.
func (s *DocumentService) Authorize(documentDID, issuerDID string, clearance classify.Level) (*model.Record, error) {
	if clearance == 0 {
		clearance = classify.Internal
	}
	rec, err := s.Get(documentDID)
	if err != nil {
		return nil, err
	}
	if !rec.ReleasableToCompany(issuerDID) {
		return nil, apperr.New(apperr.AccessDenied, "document is not releasable to your company")
	}
	if !clearance.Covers(rec.OverallClassification) {
		return nil, apperr.Newf(apperr.AccessDenied, "insufficient clearance: document requires %s, you hold %s",
			rec.OverallClassification, clearance)
	}
	return rec, nil
}

// TouchSectionMetadata updates the mutable section summary on a record.
// Everything else on a registered record is append-only.
func (s *DocumentService) TouchSectionMetadata(documentDID string, sections *model.SectionSummary) error {
	s.mu.Lock()
	rec, ok := s.documents[documentDID]
	if !ok {
		s.mu.Unlock()
		return apperr.Newf(apperr.NotFound, "document %s is not registered", documentDID)
	}
	rec.Metadata.SectionMetadata = sections
	rec.UpdatedAt = time.Now().UTC()
	s.mu.Unlock()

	return s.persist()
}

// HideConnection soft-deletes a connection for a company. Used when the Cloud
// Agent refuses deletion with InvalidStateForOperation.
func (s *DocumentService) HideConnection(ctx context.Context, companyID, connectionID string) error {
	if err := s.hidden.Hide(companyID, connectionID); err != nil {
		return err
	}
	s.appendAudit(ctx, connectionID, audit.ActionConnectionHidden, companyID, nil)
	return nil
}

// ConnectionHidden reports whether a connection is soft-deleted for a company.
func (s *DocumentService) ConnectionHidden(companyID, connectionID string) bool {
	return s.hidden.IsHidden(companyID, connectionID)
}

// HiddenConnections returns the soft-deleted connection IDs for a company.
func (s *DocumentService) HiddenConnections(companyID string) []string {
	return s.hidden.HiddenFor(companyID)
}

// persist snapshots the document map and writes it through the signed store.
// The snapshot and the write happen under saveMu so concurrent registrations
// cannot persist out of order.
func (s *DocumentService) persist() error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.RLock()
	snapshot := make(map[string]*model.Record, len(s.documents))
	for id, rec := range s.documents {
		snapshot[id] = rec
	}
	s.mu.RUnlock()

	return s.store.Save(snapshot)
}
