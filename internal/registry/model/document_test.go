package model_test

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/classify"
	"github.com/techcorp/docbroker/internal/registry/model"
)

func TestRegisterRequest_Validate(t *testing.T) {
	valid := model.RegisterRequest{
		DocumentDID:         "did:prism:doc123",
		Title:               "Q3 Financials",
		ClassificationLevel: "RESTRICTED",
		ReleasableTo:        []string{"did:prism:ACME"},
	}

	level, err := valid.Validate()
	if err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if level != classify.Restricted {
		t.Errorf("level = %v, want RESTRICTED", level)
	}

	cases := []struct {
		name   string
		mutate func(*model.RegisterRequest)
	}{
		{"missing DID", func(r *model.RegisterRequest) { r.DocumentDID = "" }},
		{"not a DID", func(r *model.RegisterRequest) { r.DocumentDID = "doc123" }},
		{"missing title", func(r *model.RegisterRequest) { r.Title = "  " }},
		{"bad level", func(r *model.RegisterRequest) { r.ClassificationLevel = "SECRET" }},
		{"empty releasableTo", func(r *model.RegisterRequest) { r.ReleasableTo = nil }},
		{"non-DID company", func(r *model.RegisterRequest) { r.ReleasableTo = []string{"ACME"} }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := valid
			tc.mutate(&req)
			_, err := req.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if apperr.KindOf(err) != apperr.InputInvalid {
				t.Errorf("kind = %v, want InputInvalid", apperr.KindOf(err))
			}
		})
	}
}

func TestReleasableToCompany(t *testing.T) {
	companies := []string{"did:prism:ACME", "did:prism:TECHCORP"}
	rec := &model.Record{
		DocumentID:   "did:prism:doc1",
		ReleasableTo: companies,
		Filter:       model.NewReleasabilityFilter(companies),
	}

	for _, c := range companies {
		if !rec.ReleasableToCompany(c) {
			t.Errorf("%s should be releasable", c)
		}
	}
	if rec.ReleasableToCompany("did:prism:OUTSIDER") {
		t.Error("outsider passed the releasability check")
	}

	// A record decoded without a filter falls back to the explicit set.
	bare := &model.Record{ReleasableTo: companies}
	if !bare.ReleasableToCompany("did:prism:ACME") {
		t.Error("filterless record should use the explicit set")
	}
}

// ── Bloom filter behavior ────────────────────────────────────────────────────

func TestReleasabilityFilter_membership(t *testing.T) {
	companies := []string{"did:prism:ACME", "did:prism:TECHCORP", "did:prism:GLOBEX"}
	f := model.NewReleasabilityFilter(companies)

	for _, c := range companies {
		if !f.Test(c) {
			t.Errorf("Test(%s) = false for a seeded company", c)
		}
	}
}

func TestReleasabilityFilter_falsePositiveRate(t *testing.T) {
	f := model.NewReleasabilityFilter([]string{
		"did:prism:ACME", "did:prism:TECHCORP", "did:prism:GLOBEX",
		"did:prism:INITECH", "did:prism:UMBRELLA",
	})

	const probes = 10000
	hits := 0
	for i := 0; i < probes; i++ {
		if f.Test(fmt.Sprintf("did:prism:absent-%d", i)) {
			hits++
		}
	}
	if rate := float64(hits) / probes; rate >= 0.01 {
		t.Errorf("false-positive rate = %.4f, want < 1%%", rate)
	}
}

func TestReleasabilityFilter_jsonRoundTrip(t *testing.T) {
	companies := []string{"did:prism:ACME", "did:prism:TECHCORP"}
	rec := &model.Record{
		DocumentID:   "did:prism:doc1",
		ReleasableTo: companies,
		Filter:       model.NewReleasabilityFilter(companies),
	}

	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}

	var back model.Record
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if back.Filter == nil {
		t.Fatal("filter lost in round trip")
	}
	if !back.Filter.Test("did:prism:ACME") {
		t.Error("restored filter lost membership")
	}
	if !back.ReleasableToCompany("did:prism:TECHCORP") {
		t.Error("restored record rejects a releasable company")
	}
	if back.ReleasableToCompany("did:prism:OUTSIDER") {
		t.Error("restored record accepts an outsider")
	}
}
