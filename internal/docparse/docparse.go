// Package docparse turns uploaded HTML and DOCX files into the common
// sectioned form the crypto and redaction layers work on.
//
// A section is a contiguous region of the document carrying one clearance
// level. HTML marks sections with a data-clearance attribute; DOCX marks them
// with Content Controls tagged clearance:LEVEL. Section order always follows
// document order.
package docparse

import (
	"path/filepath"
	"strings"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/classify"
)

// Source formats.
const (
	FormatHTML = "html"
	FormatDOCX = "docx"
)

// MIME types for the two source formats.
const (
	MIMEHTML = "text/html"
	MIMEDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// Section is one clearance-tagged region of a parsed document.
type Section struct {
	ID        string         `json:"sectionId"`
	Clearance classify.Level `json:"clearance"`
	Content   string         `json:"content"`
}

// Document is the parser output shared by both source formats.
type Document struct {
	Title            string    `json:"title"`
	SourceFormat     string    `json:"sourceFormat"`
	OriginalFilename string    `json:"originalFilename,omitempty"`
	Sections         []Section `json:"sections"`
}

// OverallClassification is the highest clearance of any section.
func (d *Document) OverallClassification() classify.Level {
	max := classify.Internal
	for _, s := range d.Sections {
		if s.Clearance > max {
			max = s.Clearance
		}
	}
	return max
}

// LevelCounts maps each clearance label to the number of sections at that
// level. Levels with no sections are omitted.
func (d *Document) LevelCounts() map[string]int {
	counts := make(map[string]int)
	for _, s := range d.Sections {
		counts[s.Clearance.String()]++
	}
	return counts
}

// Parse dispatches to the right parser based on the uploaded filename.
func Parse(data []byte, filename string) (*Document, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".html", ".htm":
		return ParseHTML(data, filename)
	case ".docx":
		return ParseDOCX(data, filename)
	default:
		return nil, apperr.Newf(apperr.InputInvalid, "unsupported file type %q: want .html or .docx", filepath.Ext(filename))
	}
}

// titleFromFilename derives a fallback title by stripping the extension.
func titleFromFilename(filename string) string {
	base := filepath.Base(filename)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// canonicalContent fixes the byte form of section content so encryption and
// later comparison are deterministic: line endings become LF and surrounding
// whitespace is dropped.
func canonicalContent(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	return strings.TrimSpace(s)
}
