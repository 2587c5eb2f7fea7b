package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/classify"
	"github.com/techcorp/docbroker/internal/doccrypto"
	"github.com/techcorp/docbroker/internal/docparse"
	"github.com/techcorp/docbroker/internal/redact"
	"github.com/techcorp/docbroker/internal/registry/model"
)

// Rendered is a clearance-projected document ready for delivery.
type Rendered struct {
	Content      []byte
	ContentType  string
	SourceFormat string
	Title        string
	Overall      classify.Level
	Visible      int
	Redacted     []redact.RedactedSection
}

// LoadPackage fetches and decodes the encrypted section package for rec.
func (s *DocumentService) LoadPackage(ctx context.Context, rec *model.Record) (*doccrypto.Package, error) {
	if s.blobs == nil {
		return nil, apperr.New(apperr.UpstreamError, "blob store is not configured")
	}
	raw, err := s.blobs.Get(ctx, rec.Storage.FileID, rec.Storage.Encryption)
	if err != nil {
		return nil, err
	}
	var pkg doccrypto.Package
	if err := json.Unmarshal(raw, &pkg); err != nil {
		return nil, fmt.Errorf("decode section package %s: %w", rec.Storage.FileID, err)
	}
	return &pkg, nil
}

// Render produces the caller-visible form of rec at the given clearance.
// DOCX documents with a stored original come back as styled DOCX with the
// over-clearance controls replaced; everything else is rendered to HTML from
// the projected sections.
func (s *DocumentService) Render(ctx context.Context, rec *model.Record, clearance classify.Level) (*Rendered, error) {
	if clearance == 0 {
		clearance = classify.Internal
	}

	if rec.Metadata.SourceFormat == docparse.FormatDOCX && rec.Storage.OriginalFileID != "" {
		if s.blobs == nil {
			return nil, apperr.New(apperr.UpstreamError, "blob store is not configured")
		}
		original, err := s.blobs.Get(ctx, rec.Storage.OriginalFileID, rec.Storage.OriginalEncryption)
		if err != nil {
			return nil, err
		}
		out, res, err := redact.RedactDOCX(original, clearance)
		if err != nil {
			return nil, err
		}
		return &Rendered{
			Content:      out,
			ContentType:  docparse.MIMEDOCX,
			SourceFormat: docparse.FormatDOCX,
			Title:        rec.Title,
			Overall:      rec.OverallClassification,
			Visible:      res.Visible,
			Redacted:     res.Redacted,
		}, nil
	}

	pkg, err := s.LoadPackage(ctx, rec)
	if err != nil {
		return nil, err
	}
	proj, err := doccrypto.DecryptForUser(pkg, clearance, s.sectionSecret)
	if err != nil {
		return nil, err
	}

	var redacted []redact.RedactedSection
	for _, sec := range proj.Sections {
		if sec.Redacted {
			redacted = append(redacted, redact.RedactedSection{
				SectionID: sec.SectionID,
				Clearance: sec.Clearance,
			})
		}
	}

	return &Rendered{
		Content:      redact.RenderHTML(proj),
		ContentType:  docparse.MIMEHTML,
		SourceFormat: proj.SourceFormat,
		Title:        proj.Title,
		Overall:      proj.Overall,
		Visible:      proj.VisibleCount(),
		Redacted:     redacted,
	}, nil
}
