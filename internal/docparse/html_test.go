package docparse_test

import (
	"strings"
	"testing"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/classify"
	"github.com/techcorp/docbroker/internal/docparse"
)

const threeLevelHTML = `<!DOCTYPE html>
<html>
<head><title>Project Phoenix Briefing</title></head>
<body>
  <div data-clearance="INTERNAL" id="overview"><p>General overview.</p></div>
  <div data-clearance="CONFIDENTIAL" id="budget"><p>Budget: $4M.</p></div>
  <div data-clearance="TOP-SECRET" id="codes"><p>Launch codes.</p></div>
</body>
</html>`

func TestParseHTML_threeSections(t *testing.T) {
	doc, err := docparse.ParseHTML([]byte(threeLevelHTML), "briefing.html")
	if err != nil {
		t.Fatalf("ParseHTML: %v", err)
	}

	if doc.Title != "Project Phoenix Briefing" {
		t.Errorf("Title = %q", doc.Title)
	}
	if doc.SourceFormat != docparse.FormatHTML {
		t.Errorf("SourceFormat = %q", doc.SourceFormat)
	}
	if len(doc.Sections) != 3 {
		t.Fatalf("got %d sections, want 3", len(doc.Sections))
	}

	wantIDs := []string{"overview", "budget", "codes"}
	wantLevels := []classify.Level{classify.Internal, classify.Confidential, classify.TopSecret}
	for i, s := range doc.Sections {
		if s.ID != wantIDs[i] {
			t.Errorf("section %d id = %q, want %q", i, s.ID, wantIDs[i])
		}
		if s.Clearance != wantLevels[i] {
			t.Errorf("section %d clearance = %v, want %v", i, s.Clearance, wantLevels[i])
		}
	}
	if !strings.Contains(doc.Sections[1].Content, "Budget: $4M.") {
		t.Errorf("budget content = %q", doc.Sections[1].Content)
	}

	if got := doc.OverallClassification(); got != classify.TopSecret {
		t.Errorf("OverallClassification = %v", got)
	}
	counts := doc.LevelCounts()
	if counts["INTERNAL"] != 1 || counts["CONFIDENTIAL"] != 1 || counts["TOP-SECRET"] != 1 {
		t.Errorf("LevelCounts = %v", counts)
	}
}

func TestParseHTML_nestedOverrideBecomesOwnSection(t *testing.T) {
	input := `<html><body>
<div data-clearance="CONFIDENTIAL" id="plan">
  <p>Overview</p>
  <div data-clearance="TOP-SECRET" id="inner"><p>Codes</p></div>
  <p>Tail</p>
</div>
</body></html>`

	doc, err := docparse.ParseHTML([]byte(input), "plan.html")
	if err != nil {
		t.Fatalf("ParseHTML: %v", err)
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(doc.Sections))
	}

	outer, inner := doc.Sections[0], doc.Sections[1]
	if outer.ID != "plan" || outer.Clearance != classify.Confidential {
		t.Errorf("outer = %+v", outer)
	}
	if inner.ID != "inner" || inner.Clearance != classify.TopSecret {
		t.Errorf("inner = %+v", inner)
	}
	if strings.Contains(outer.Content, "Codes") {
		t.Error("nested TOP-SECRET content leaked into the CONFIDENTIAL section")
	}
	if !strings.Contains(outer.Content, "Overview") || !strings.Contains(outer.Content, "Tail") {
		t.Errorf("outer content lost untagged children: %q", outer.Content)
	}
	if !strings.Contains(inner.Content, "Codes") {
		t.Errorf("inner content = %q", inner.Content)
	}
}

func TestParseHTML_untaggedTopLevelIsInternal(t *testing.T) {
	input := `<html><body>
<h1>Staff Notice</h1>
<div data-clearance="RESTRICTED"><p>Server room codes.</p></div>
</body></html>`

	doc, err := docparse.ParseHTML([]byte(input), "notice.html")
	if err != nil {
		t.Fatalf("ParseHTML: %v", err)
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("got %d sections, want 2", len(doc.Sections))
	}
	if doc.Sections[0].Clearance != classify.Internal {
		t.Errorf("untagged heading clearance = %v", doc.Sections[0].Clearance)
	}
	if !strings.Contains(doc.Sections[0].Content, "<h1>Staff Notice</h1>") {
		t.Errorf("heading content = %q", doc.Sections[0].Content)
	}
	if doc.Sections[0].ID != "section-1" {
		t.Errorf("computed id = %q", doc.Sections[0].ID)
	}
}

func TestParseHTML_noTaggedContent(t *testing.T) {
	_, err := docparse.ParseHTML([]byte(`<html><body><p>hello</p></body></html>`), "x.html")
	if err == nil {
		t.Fatal("expected error for untagged document")
	}
	if apperr.KindOf(err) != apperr.InputInvalid {
		t.Errorf("kind = %v, want InputInvalid", apperr.KindOf(err))
	}
}

func TestParseHTML_unknownLevel(t *testing.T) {
	_, err := docparse.ParseHTML([]byte(`<html><body><div data-clearance="ULTRA">x</div></body></html>`), "x.html")
	if err == nil {
		t.Fatal("expected error for unknown level")
	}
	if apperr.KindOf(err) != apperr.InputInvalid {
		t.Errorf("kind = %v, want InputInvalid", apperr.KindOf(err))
	}
}

func TestParseHTML_titleFallsBackToFilename(t *testing.T) {
	doc, err := docparse.ParseHTML([]byte(`<html><body><div data-clearance="INTERNAL">x</div></body></html>`), "q3-report.html")
	if err != nil {
		t.Fatalf("ParseHTML: %v", err)
	}
	if doc.Title != "q3-report" {
		t.Errorf("Title = %q", doc.Title)
	}
}

func TestParse_rejectsUnknownExtension(t *testing.T) {
	_, err := docparse.Parse([]byte("plain text"), "notes.txt")
	if err == nil {
		t.Fatal("expected error for .txt upload")
	}
	if apperr.KindOf(err) != apperr.InputInvalid {
		t.Errorf("kind = %v", apperr.KindOf(err))
	}
}
