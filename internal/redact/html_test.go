package redact_test

import (
	"strings"
	"testing"

	"github.com/techcorp/docbroker/internal/classify"
	"github.com/techcorp/docbroker/internal/doccrypto"
	"github.com/techcorp/docbroker/internal/docparse"
	"github.com/techcorp/docbroker/internal/redact"
)

func TestRenderHTML_visibleAndRedacted(t *testing.T) {
	proj := &doccrypto.Projection{
		Title:         "Phoenix <Briefing>",
		SourceFormat:  docparse.FormatHTML,
		UserClearance: classify.Confidential,
		Overall:       classify.TopSecret,
		Sections: []doccrypto.ProjectedSection{
			{SectionID: "overview", Clearance: classify.Internal, Content: "<p>General overview.</p>"},
			{SectionID: "budget", Clearance: classify.Confidential, Content: "<p>Budget: $4M.</p>"},
			{SectionID: "codes", Clearance: classify.TopSecret, Redacted: true},
		},
	}

	out := string(redact.RenderHTML(proj))

	if !strings.Contains(out, "<p>General overview.</p>") {
		t.Error("INTERNAL content missing")
	}
	if !strings.Contains(out, "<p>Budget: $4M.</p>") {
		t.Error("CONFIDENTIAL content missing")
	}
	if strings.Contains(out, "Launch codes") {
		t.Error("redacted content leaked")
	}
	if !strings.Contains(out, "requires TOP-SECRET clearance") {
		t.Error("placeholder does not name the section level")
	}
	if !strings.Contains(out, "Your clearance: CONFIDENTIAL") {
		t.Error("placeholder does not name the reader's level")
	}
	if !strings.Contains(out, "Phoenix &lt;Briefing&gt;") {
		t.Error("title not escaped")
	}

	// Section order must match the projection.
	i1 := strings.Index(out, "General overview")
	i2 := strings.Index(out, "Budget: $4M")
	i3 := strings.Index(out, "requires TOP-SECRET clearance")
	if !(i1 < i2 && i2 < i3) {
		t.Errorf("section order broken: %d %d %d", i1, i2, i3)
	}
}

func TestRenderHTML_docxContentEscaped(t *testing.T) {
	proj := &doccrypto.Projection{
		Title:         "Ops Plan",
		SourceFormat:  docparse.FormatDOCX,
		UserClearance: classify.TopSecret,
		Overall:       classify.TopSecret,
		Sections: []doccrypto.ProjectedSection{
			{SectionID: "1001:clearance:INTERNAL", Clearance: classify.Internal, Content: "a < b & c"},
		},
	}

	out := string(redact.RenderHTML(proj))
	if !strings.Contains(out, "a &lt; b &amp; c") {
		t.Errorf("DOCX text not escaped:\n%s", out)
	}
}
