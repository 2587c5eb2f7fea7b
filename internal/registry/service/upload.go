package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/audit"
	"github.com/techcorp/docbroker/internal/blobstore"
	"github.com/techcorp/docbroker/internal/classify"
	"github.com/techcorp/docbroker/internal/doccrypto"
	"github.com/techcorp/docbroker/internal/docparse"
	"github.com/techcorp/docbroker/internal/registry/model"
	"go.uber.org/zap"
)

// MaxUploadBytes caps classified-document uploads at 40 MB.
const MaxUploadBytes = 40 << 20

// blobClient is the blob store surface the service needs.
// *blobstore.Client satisfies this interface.
type blobClient interface {
	Put(ctx context.Context, data []byte, filename string, level classify.Level) (*blobstore.BlobRef, error)
	Get(ctx context.Context, fileID string, enc *blobstore.EncryptionInfo) ([]byte, error)
}

// SetBlobStore configures the blob store used by the upload and download
// paths. Without it, Upload and Render fail.
func (s *DocumentService) SetBlobStore(bc blobClient) {
	s.blobs = bc
}

// UploadRequest carries one classified document into the broker.
type UploadRequest struct {
	Filename     string
	File         []byte
	ReleasableTo []string
	Author       string
	Department   string
}

// Upload runs the full admin ingest path: parse the tagged document, encrypt
// each section under its level key, store the package (and, for DOCX, the
// original for styled redaction), and register the result.
func (s *DocumentService) Upload(ctx context.Context, req *UploadRequest) (*model.UploadResult, error) {
	if s.blobs == nil {
		return nil, apperr.New(apperr.UpstreamError, "blob store is not configured")
	}
	if len(req.File) == 0 {
		return nil, apperr.New(apperr.InputInvalid, "file is empty")
	}
	if len(req.File) > MaxUploadBytes {
		return nil, apperr.Newf(apperr.InputInvalid, "file exceeds the %d MB upload limit", MaxUploadBytes>>20)
	}

	doc, err := docparse.Parse(req.File, req.Filename)
	if err != nil {
		return nil, err
	}

	documentDID, err := deriveDocumentDID(req.File, doc.Title)
	if err != nil {
		return nil, err
	}

	pkg, err := doccrypto.Encrypt(doc, documentDID, s.sectionSecret)
	if err != nil {
		return nil, err
	}
	pkgJSON, err := json.Marshal(pkg)
	if err != nil {
		return nil, fmt.Errorf("marshal section package: %w", err)
	}

	overall := doc.OverallClassification()
	pkgRef, err := s.blobs.Put(ctx, pkgJSON, req.Filename+".package.json", overall)
	if err != nil {
		return nil, err
	}

	storage := model.StorageRef{
		FileID:      pkgRef.FileID,
		ContentHash: pkgRef.ContentHash,
		Encryption:  pkgRef.Encryption,
	}
	mimeType := docparse.MIMEHTML
	if doc.SourceFormat == docparse.FormatDOCX {
		mimeType = docparse.MIMEDOCX
		// The original survives alongside the package so downloads can be
		// served as styled DOCX with only the over-clearance runs replaced.
		origRef, err := s.blobs.Put(ctx, req.File, req.Filename, overall)
		if err != nil {
			return nil, err
		}
		storage.OriginalFileID = origRef.FileID
		storage.OriginalEncryption = origRef.Encryption
	}

	rec, err := s.Register(ctx, &model.RegisterRequest{
		DocumentDID:          documentDID,
		Title:                doc.Title,
		ClassificationLevel:  overall.String(),
		ReleasableTo:         req.ReleasableTo,
		ContentEncryptionKey: "envelope:" + pkgRef.FileID,
		Storage:              storage,
		Metadata: model.RecordMetadata{
			Author:           req.Author,
			Department:       req.Department,
			MimeType:         mimeType,
			OriginalFilename: req.Filename,
			SourceFormat:     doc.SourceFormat,
			SectionMetadata: &model.SectionSummary{
				SectionCount: len(doc.Sections),
				LevelCounts:  doc.LevelCounts(),
			},
		},
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("classified document uploaded",
		zap.String("document", rec.DocumentID),
		zap.String("format", doc.SourceFormat),
		zap.Int("sections", len(doc.Sections)),
		zap.String("classification", overall.String()),
	)
	s.appendAudit(ctx, rec.DocumentID, audit.ActionDocumentUploaded, audit.SystemActor, map[string]any{
		"filename": req.Filename,
		"sections": len(doc.Sections),
	})

	return &model.UploadResult{
		DocumentDID:           rec.DocumentID,
		Title:                 rec.Title,
		OverallClassification: overall,
		SectionCount:          len(doc.Sections),
		ClearanceLevelStats:   doc.LevelCounts(),
		SourceFormat:          doc.SourceFormat,
		FileID:                pkgRef.FileID,
	}, nil
}

// deriveDocumentDID builds a content-derived document identifier so ingest
// never waits on the Cloud Agent's registrar. The random salt keeps repeat
// uploads of the same file distinct.
func deriveDocumentDID(file []byte, title string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate document salt: %w", err)
	}
	h := sha256.New()
	h.Write(file)
	h.Write([]byte(title))
	h.Write(salt)
	return "did:prism:" + hex.EncodeToString(h.Sum(nil)), nil
}
