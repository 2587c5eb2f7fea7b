// Package repository persists the document registry and its side tables as
// JSON files on disk. The registry file itself is HMAC-signed so offline
// tampering is detected at load time.
package repository

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/gowebpki/jcs"
	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/registry/model"
)

// registryVersion is written into every saved registryState.
const registryVersion = 1

// SignedStore persists the full document map as a single JSON file
// {registryState, signature, signedAt}. The signature is HMAC-SHA256 over
// the RFC 8785 canonical form of registryState, so any byte of the stored
// state is covered regardless of how the file was formatted.
//
// Saves are serialized by an internal mutex; callers fire them without
// waiting on each other.
type SignedStore struct {
	path string
	key  []byte
	mu   sync.Mutex
}

// NewSignedStore creates a store writing to path, signing with signatureKey.
func NewSignedStore(path string, signatureKey []byte) *SignedStore {
	return &SignedStore{path: path, key: signatureKey}
}

type registryState struct {
	Version       int             `json:"version"`
	SavedAt       time.Time       `json:"savedAt"`
	DocumentCount int             `json:"documentCount"`
	Documents     []*model.Record `json:"documents"`
}

// signedFile keeps registryState raw so verification runs over the exact
// bytes that were signed, not a Go round-trip of them.
type signedFile struct {
	RegistryState json.RawMessage `json:"registryState"`
	Signature     string          `json:"signature"`
	SignedAt      time.Time       `json:"signedAt"`
}

// Save serializes the documents deterministically, signs the state, and
// writes the file atomically via a temp file in the same directory.
func (s *SignedStore) Save(documents map[string]*model.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs := make([]*model.Record, 0, len(documents))
	for _, r := range documents {
		docs = append(docs, r)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].DocumentID < docs[j].DocumentID })

	now := time.Now().UTC()
	state, err := json.Marshal(registryState{
		Version:       registryVersion,
		SavedAt:       now,
		DocumentCount: len(docs),
		Documents:     docs,
	})
	if err != nil {
		return fmt.Errorf("marshal registry state: %w", err)
	}

	sig, err := s.sign(state)
	if err != nil {
		return err
	}

	out, err := json.Marshal(signedFile{
		RegistryState: state,
		Signature:     sig,
		SignedAt:      now,
	})
	if err != nil {
		return fmt.Errorf("marshal registry file: %w", err)
	}

	return atomicWrite(s.path, out)
}

// Load reads and verifies the registry file. Returns (nil, nil) when no file
// exists yet. Any parse or signature failure is an IntegrityViolation; the
// caller must refuse to start on it rather than rebuild an empty registry.
func (s *SignedStore) Load() (map[string]*model.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry file: %w", err)
	}

	var file signedFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, apperr.Wrap(apperr.IntegrityViolation, "registry file is not valid JSON", err)
	}

	want, err := s.sign(file.RegistryState)
	if err != nil {
		return nil, apperr.Wrap(apperr.IntegrityViolation, "registry state cannot be canonicalized", err)
	}
	if !hmac.Equal([]byte(want), []byte(file.Signature)) {
		return nil, apperr.New(apperr.IntegrityViolation, "registry signature mismatch: file was modified outside the broker")
	}

	var state registryState
	if err := json.Unmarshal(file.RegistryState, &state); err != nil {
		return nil, apperr.Wrap(apperr.IntegrityViolation, "registry state is malformed", err)
	}

	docs := make(map[string]*model.Record, len(state.Documents))
	for _, r := range state.Documents {
		docs[r.DocumentID] = r
	}
	return docs, nil
}

// sign returns the hex HMAC-SHA256 of the canonical (RFC 8785) form of state.
func (s *SignedStore) sign(state []byte) (string, error) {
	canonical, err := jcs.Transform(state)
	if err != nil {
		return "", fmt.Errorf("canonicalize registry state: %w", err)
	}
	mac := hmac.New(sha256.New, s.key)
	mac.Write(canonical)
	return hex.EncodeToString(mac.Sum(nil)), nil
}

// atomicWrite writes data to path through a temp file and rename so readers
// never observe a partial file.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
