// Package doccrypto encrypts parsed documents into per-section packages and
// projects them back for a given clearance.
//
// Each clearance level gets its own AES-256 key derived from the company
// section secret with HKDF-SHA256. The package keyring carries one opaque
// handle per level; the handle doubles as the HKDF salt, so any holder of the
// company secret can re-derive exactly the level keys the package uses.
// Sections the caller may not read come back as placeholders, never as
// ciphertext.
package doccrypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/classify"
	"github.com/techcorp/docbroker/internal/docparse"
)

// EncryptedSection is one sealed region of a package. AuthTag is carried
// separately from the ciphertext.
type EncryptedSection struct {
	SectionID  string         `json:"sectionId"`
	Clearance  classify.Level `json:"clearanceLevel"`
	Ciphertext string         `json:"ciphertext"` // base64
	Nonce      string         `json:"nonce"`      // base64, 96-bit
	AuthTag    string         `json:"authTag"`    // base64, 128-bit
}

// PackageMetadata describes the package without exposing section content.
type PackageMetadata struct {
	Title                 string         `json:"title"`
	OverallClassification string         `json:"overallClassification"`
	LevelCounts           map[string]int `json:"levelCounts"`
	SourceFormat          string         `json:"sourceFormat"`
	OriginalFilename      string         `json:"originalFilename,omitempty"`
}

// Package is the encrypted form of a sectioned document.
type Package struct {
	DocumentPackageID string             `json:"documentPackageId"`
	CreatedAt         time.Time          `json:"createdAt"`
	Metadata          PackageMetadata    `json:"metadata"`
	EncryptedSections []EncryptedSection `json:"encryptedSections"`
	Keyring           map[string]string  `json:"keyring"` // level label -> key handle
}

// ProjectedSection is one section after projection, in document order.
// Content is empty iff Redacted.
type ProjectedSection struct {
	SectionID string
	Clearance classify.Level
	Content   string
	Redacted  bool
}

// Projection is the result of decrypting a package for one clearance.
type Projection struct {
	Title         string
	SourceFormat  string
	UserClearance classify.Level
	Sections      []ProjectedSection
	Overall       classify.Level
}

// VisibleCount returns the number of sections the user may read.
func (p *Projection) VisibleCount() int {
	n := 0
	for _, s := range p.Sections {
		if !s.Redacted {
			n++
		}
	}
	return n
}

// RedactedCount returns the number of placeholder sections.
func (p *Projection) RedactedCount() int {
	return len(p.Sections) - p.VisibleCount()
}

// keyHandle builds the opaque keyring handle for a level. The handle is the
// HKDF salt string; changing it changes every derived key.
func keyHandle(level classify.Level) string {
	return fmt.Sprintf("doc-section-level-%d:%s", int(level), level.String())
}

// deriveKey turns the company secret and a keyring handle into a 32-byte
// section key.
func deriveKey(companySecret []byte, handle string) ([]byte, error) {
	r := hkdf.New(sha256.New, companySecret, []byte(handle), nil)
	key := make([]byte, 32)
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive level key: %w", err)
	}
	return key, nil
}

// sectionAAD binds a ciphertext to its package, section and level.
func sectionAAD(packageID, sectionID string, level classify.Level) []byte {
	return []byte(fmt.Sprintf("%s|%s|%d", packageID, sectionID, int(level)))
}

// Encrypt seals every section of doc under its level key and returns the
// package. packageID must be stable for the document's lifetime; it is bound
// into every section's associated data.
func Encrypt(doc *docparse.Document, packageID string, companySecret []byte) (*Package, error) {
	if len(companySecret) == 0 {
		return nil, apperr.New(apperr.InputInvalid, "company section secret is empty")
	}
	if len(doc.Sections) == 0 {
		return nil, apperr.New(apperr.InputInvalid, "document has no sections")
	}

	pkg := &Package{
		DocumentPackageID: packageID,
		CreatedAt:         time.Now().UTC(),
		Metadata: PackageMetadata{
			Title:                 doc.Title,
			OverallClassification: doc.OverallClassification().String(),
			LevelCounts:           doc.LevelCounts(),
			SourceFormat:          doc.SourceFormat,
			OriginalFilename:      doc.OriginalFilename,
		},
		Keyring: make(map[string]string),
	}

	keys := make(map[classify.Level][]byte)
	for _, s := range doc.Sections {
		if !s.Clearance.Valid() {
			return nil, apperr.Newf(apperr.InputInvalid, "section %s has invalid clearance %d", s.ID, s.Clearance)
		}
		key, ok := keys[s.Clearance]
		if !ok {
			handle := keyHandle(s.Clearance)
			var err error
			key, err = deriveKey(companySecret, handle)
			if err != nil {
				return nil, err
			}
			keys[s.Clearance] = key
			pkg.Keyring[s.Clearance.String()] = handle
		}

		sealed, err := sealSection(key, packageID, s)
		if err != nil {
			return nil, fmt.Errorf("encrypt section %s: %w", s.ID, err)
		}
		pkg.EncryptedSections = append(pkg.EncryptedSections, *sealed)
	}

	return pkg, nil
}

func sealSection(key []byte, packageID string, s docparse.Section) (*EncryptedSection, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	sealed := gcm.Seal(nil, nonce, []byte(s.Content), sectionAAD(packageID, s.ID, s.Clearance))
	tagStart := len(sealed) - gcm.Overhead()

	return &EncryptedSection{
		SectionID:  s.ID,
		Clearance:  s.Clearance,
		Ciphertext: base64.StdEncoding.EncodeToString(sealed[:tagStart]),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		AuthTag:    base64.StdEncoding.EncodeToString(sealed[tagStart:]),
	}, nil
}

// DecryptForUser projects pkg for a caller holding userClearance. Sections at
// or below the clearance decrypt; the rest become placeholders. Any AEAD
// failure aborts the whole projection.
func DecryptForUser(pkg *Package, userClearance classify.Level, companySecret []byte) (*Projection, error) {
	if !userClearance.Valid() {
		userClearance = classify.Internal
	}

	overall, err := classify.Parse(pkg.Metadata.OverallClassification)
	if err != nil {
		return nil, apperr.Wrap(apperr.InputInvalid, "package has invalid overall classification", err)
	}

	proj := &Projection{
		Title:         pkg.Metadata.Title,
		SourceFormat:  pkg.Metadata.SourceFormat,
		UserClearance: userClearance,
		Overall:       overall,
	}

	keys := make(map[classify.Level][]byte)
	for _, es := range pkg.EncryptedSections {
		if !es.Clearance.Valid() {
			return nil, apperr.Newf(apperr.InputInvalid, "section %s has invalid clearance %d", es.SectionID, es.Clearance)
		}
		if !userClearance.Covers(es.Clearance) {
			proj.Sections = append(proj.Sections, ProjectedSection{
				SectionID: es.SectionID,
				Clearance: es.Clearance,
				Redacted:  true,
			})
			continue
		}

		key, ok := keys[es.Clearance]
		if !ok {
			handle, present := pkg.Keyring[es.Clearance.String()]
			if !present {
				return nil, apperr.Newf(apperr.IntegrityViolation, "package keyring is missing level %s", es.Clearance)
			}
			key, err = deriveKey(companySecret, handle)
			if err != nil {
				return nil, err
			}
			keys[es.Clearance] = key
		}

		content, err := openSection(key, pkg.DocumentPackageID, es)
		if err != nil {
			return nil, apperr.Wrap(apperr.IntegrityViolation,
				fmt.Sprintf("section %s failed authentication", es.SectionID), err)
		}
		proj.Sections = append(proj.Sections, ProjectedSection{
			SectionID: es.SectionID,
			Clearance: es.Clearance,
			Content:   content,
		})
	}

	return proj, nil
}

func openSection(key []byte, packageID string, es EncryptedSection) (string, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return "", err
	}
	nonce, err := base64.StdEncoding.DecodeString(es.Nonce)
	if err != nil {
		return "", fmt.Errorf("decode nonce: %w", err)
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("nonce length %d", len(nonce))
	}
	ct, err := base64.StdEncoding.DecodeString(es.Ciphertext)
	if err != nil {
		return "", fmt.Errorf("decode ciphertext: %w", err)
	}
	tag, err := base64.StdEncoding.DecodeString(es.AuthTag)
	if err != nil {
		return "", fmt.Errorf("decode auth tag: %w", err)
	}

	plain, err := gcm.Open(nil, nonce, append(ct, tag...), sectionAAD(packageID, es.SectionID, es.Clearance))
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
