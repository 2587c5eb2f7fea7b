// Package resourceauth implements dual-presentation resource authorization:
// an enterprise wallet proves the employee's role, a personal wallet proves
// their clearance, and both presentations are bound to one challenge before
// the policy table decides.
package resourceauth

import (
	"sort"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/classify"
)

// AnyRole in a policy row accepts every employee role.
const AnyRole = "*"

// Resource is one row of the policy table.
type Resource struct {
	ID                string         `json:"resourceId"`
	Name              string         `json:"name,omitempty"`
	RequiredClearance classify.Level `json:"requiredClearance"`
	RequiredRole      string         `json:"requiredRole"`
}

// Policy maps resource identifiers to their access requirements.
type Policy struct {
	rows map[string]Resource
}

// DefaultPolicy returns the built-in resource table.
func DefaultPolicy() *Policy {
	p := &Policy{rows: make(map[string]Resource)}
	p.Add(Resource{ID: "project-alpha", Name: "Project Alpha Workspace", RequiredClearance: classify.Confidential, RequiredRole: "Engineer"})
	p.Add(Resource{ID: "financial-reports", Name: "Financial Reports", RequiredClearance: classify.Restricted, RequiredRole: AnyRole})
	p.Add(Resource{ID: "employee-records", Name: "Employee Records", RequiredClearance: classify.Confidential, RequiredRole: "HR"})
	p.Add(Resource{ID: "infrastructure-plans", Name: "Infrastructure Plans", RequiredClearance: classify.TopSecret, RequiredRole: "IT"})
	return p
}

// NewPolicy builds a table from explicit rows, for configuration-driven
// deployments.
func NewPolicy(rows []Resource) *Policy {
	p := &Policy{rows: make(map[string]Resource, len(rows))}
	for _, r := range rows {
		p.Add(r)
	}
	return p
}

// Add inserts or replaces a row. Rows without a role requirement accept any
// role.
func (p *Policy) Add(r Resource) {
	if r.RequiredRole == "" {
		r.RequiredRole = AnyRole
	}
	p.rows[r.ID] = r
}

// Lookup resolves a resource identifier to its policy row.
func (p *Policy) Lookup(resourceID string) (*Resource, error) {
	r, ok := p.rows[resourceID]
	if !ok {
		return nil, apperr.Newf(apperr.NotFound, "no policy for resource %q", resourceID)
	}
	return &r, nil
}

// Resources lists the table rows sorted by identifier.
func (p *Policy) Resources() []Resource {
	out := make([]Resource, 0, len(p.rows))
	for _, r := range p.rows {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
