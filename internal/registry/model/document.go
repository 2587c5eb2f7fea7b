// Package model defines the document registry's domain types: the registry
// record, its releasability filter, and the request/response shapes shared by
// the service and handler layers.
package model

import (
	"strings"
	"time"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/blobstore"
	"github.com/techcorp/docbroker/internal/classify"
)

// SourceFormat values for Metadata.SourceFormat.
const (
	SourceHTML = "html"
	SourceDOCX = "docx"
)

// Record is a registered classified document. Keyed by DocumentID, a DID
// string. Once registered a record is append-only except for UpdatedAt and
// Metadata.SectionMetadata.
type Record struct {
	DocumentID            string               `json:"documentDID"`
	Title                 string               `json:"title"`
	OverallClassification classify.Level       `json:"overallClassification"`
	ReleasableTo          []string             `json:"releasableTo"`
	Filter                *ReleasabilityFilter `json:"bloomFilter,omitempty"`
	// EncryptedMetadata maps a company DID to the AEAD ciphertext of that
	// company's metadata slice.
	EncryptedMetadata    map[string]string `json:"encryptedMetadata,omitempty"`
	ContentEncryptionKey string            `json:"contentEncryptionKey,omitempty"`
	Storage              StorageRef        `json:"storage"`
	Metadata             RecordMetadata    `json:"metadata"`
	CreatedAt            time.Time         `json:"createdAt"`
	UpdatedAt            time.Time         `json:"updatedAt"`
}

// StorageRef points into the blob store. FileID holds the encrypted section
// package; OriginalFileID, when set, holds the untouched source DOCX used for
// styled redaction.
type StorageRef struct {
	FileID             string                    `json:"fileId"`
	ContentHash        string                    `json:"contentHash,omitempty"`
	Encryption         *blobstore.EncryptionInfo `json:"encryption,omitempty"`
	OriginalFileID     string                    `json:"originalFileId,omitempty"`
	OriginalEncryption *blobstore.EncryptionInfo `json:"originalEncryption,omitempty"`
}

// RecordMetadata is the registry-visible description of a document.
type RecordMetadata struct {
	Author           string            `json:"author,omitempty"`
	Department       string            `json:"department,omitempty"`
	MimeType         string            `json:"mimeType,omitempty"`
	OriginalFilename string            `json:"originalFilename,omitempty"`
	SourceFormat     string            `json:"sourceFormat,omitempty"`
	SectionMetadata  *SectionSummary   `json:"sectionMetadata,omitempty"`
	Custom           map[string]string `json:"custom,omitempty"`
}

// SectionSummary aggregates per-level section counts for a parsed document.
type SectionSummary struct {
	SectionCount int            `json:"sectionCount"`
	LevelCounts  map[string]int `json:"levelCounts"`
}

// ReleasableToCompany reports whether the record may be listed for the given
// company. The Bloom filter short-circuits the common miss; a hit is always
// confirmed against the explicit set, so filter false positives never leak a
// record.
func (r *Record) ReleasableToCompany(companyDID string) bool {
	if !r.Filter.Test(companyDID) {
		return false
	}
	for _, c := range r.ReleasableTo {
		if c == companyDID {
			return true
		}
	}
	return false
}

// Summary is one discovery result: the per-company view of a record with the
// caller's decrypted metadata slice.
type Summary struct {
	DocumentID           string         `json:"documentID"`
	Title                string         `json:"title"`
	ClassificationLevel  classify.Level `json:"classificationLevel"`
	ContentEncryptionKey string         `json:"contentEncryptionKey,omitempty"`
	CreatedAt            time.Time      `json:"createdAt"`
	Metadata             map[string]any `json:"metadata,omitempty"`
}

// RegisterRequest is the payload for registering a pre-encrypted document.
type RegisterRequest struct {
	DocumentDID          string            `json:"documentDID"`
	Title                string            `json:"title"`
	ClassificationLevel  string            `json:"classificationLevel"`
	ReleasableTo         []string          `json:"releasableTo"`
	ContentEncryptionKey string            `json:"contentEncryptionKey"`
	Storage              StorageRef        `json:"storage,omitempty"`
	Metadata             RecordMetadata    `json:"metadata,omitempty"`
	CustomMetadata       map[string]string `json:"customMetadata,omitempty"`
}

// Validate checks the request and returns the parsed classification level.
func (req *RegisterRequest) Validate() (classify.Level, error) {
	if strings.TrimSpace(req.DocumentDID) == "" {
		return 0, apperr.New(apperr.InputInvalid, "documentDID is required")
	}
	if !strings.HasPrefix(req.DocumentDID, "did:") {
		return 0, apperr.Newf(apperr.InputInvalid, "documentDID %q is not a DID", req.DocumentDID)
	}
	if strings.TrimSpace(req.Title) == "" {
		return 0, apperr.New(apperr.InputInvalid, "title is required")
	}
	level, err := classify.Parse(req.ClassificationLevel)
	if err != nil {
		return 0, apperr.Newf(apperr.InputInvalid, "classificationLevel: %v", err)
	}
	if len(req.ReleasableTo) == 0 {
		return 0, apperr.New(apperr.InputInvalid, "releasableTo must name at least one company")
	}
	for _, c := range req.ReleasableTo {
		if !strings.HasPrefix(c, "did:") {
			return 0, apperr.Newf(apperr.InputInvalid, "releasableTo entry %q is not a DID", c)
		}
	}
	return level, nil
}

// UploadResult summarizes a classified-document upload for the caller.
type UploadResult struct {
	DocumentDID           string         `json:"documentDID"`
	Title                 string         `json:"title"`
	OverallClassification classify.Level `json:"overallClassification"`
	SectionCount          int            `json:"sectionCount"`
	ClearanceLevelStats   map[string]int `json:"clearanceLevelStats"`
	SourceFormat          string         `json:"sourceFormat"`
	FileID                string         `json:"fileId"`
}
