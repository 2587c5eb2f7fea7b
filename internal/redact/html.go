// Package redact turns clearance projections into deliverable documents:
// an HTML rendering with placeholders for withheld sections, and an in-place
// DOCX rewrite that strips Content Control bodies above the reader's level.
package redact

import (
	"fmt"
	"html"
	"strings"

	"github.com/techcorp/docbroker/internal/doccrypto"
	"github.com/techcorp/docbroker/internal/docparse"
)

const htmlStyle = `    body { font-family: "Segoe UI", Arial, sans-serif; margin: 2rem auto; max-width: 50rem; color: #1a1a1a; }
    .doc-banner { border: 2px solid #444; padding: 0.6rem 1rem; margin-bottom: 1.5rem; background: #f5f5f5; font-size: 0.9rem; }
    .doc-section { margin: 1rem 0; padding: 0.8rem 1rem; border-left: 4px solid #8a8a8a; }
    .doc-section.redacted { border-left-color: #c00000; background: #fdf2f2; }
    .section-label { font-size: 0.75rem; letter-spacing: 0.08em; color: #555; margin-bottom: 0.4rem; }
    .redaction-notice { color: #c00000; font-weight: 600; }
    .docx-text { white-space: pre-wrap; font-family: inherit; margin: 0; }`

// RenderHTML emits a complete HTML document for a projection. Visible
// sections keep their content in document order; withheld sections become
// placeholders naming both the section's level and the reader's own.
func RenderHTML(proj *doccrypto.Projection) []byte {
	var b strings.Builder

	title := html.EscapeString(proj.Title)
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	fmt.Fprintf(&b, "<title>%s</title>\n", title)
	b.WriteString("<style>\n" + htmlStyle + "\n</style>\n</head>\n<body>\n")

	fmt.Fprintf(&b, "<h1>%s</h1>\n", title)
	fmt.Fprintf(&b, "<div class=\"doc-banner\">Overall classification: <strong>%s</strong> &middot; Your clearance: <strong>%s</strong></div>\n",
		proj.Overall, proj.UserClearance)

	for _, s := range proj.Sections {
		if s.Redacted {
			fmt.Fprintf(&b, "<section class=\"doc-section redacted\" data-clearance=%q>\n", s.Clearance.String())
			fmt.Fprintf(&b, "<div class=\"section-label\">%s</div>\n", s.Clearance)
			fmt.Fprintf(&b, "<div class=\"redaction-notice\">[REDACTED] This section requires %s clearance. Your clearance: %s.</div>\n",
				s.Clearance, proj.UserClearance)
			b.WriteString("</section>\n")
			continue
		}

		fmt.Fprintf(&b, "<section class=\"doc-section\" data-clearance=%q id=%q>\n", s.Clearance.String(), s.SectionID)
		fmt.Fprintf(&b, "<div class=\"section-label\">%s</div>\n", s.Clearance)
		if proj.SourceFormat == docparse.FormatDOCX {
			// DOCX projections carry plain text, not markup.
			fmt.Fprintf(&b, "<pre class=\"docx-text\">%s</pre>\n", html.EscapeString(s.Content))
		} else {
			b.WriteString(s.Content)
			b.WriteString("\n")
		}
		b.WriteString("</section>\n")
	}

	b.WriteString("</body>\n</html>\n")
	return []byte(b.String())
}
