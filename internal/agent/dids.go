package agent

import (
	"context"
	"fmt"
	"time"
)

// Managed DID lifecycle states reported by the agent.
const (
	DIDStatusCreated            = "CREATED"
	DIDStatusPublicationPending = "PUBLICATION_PENDING"
	DIDStatusPublished          = "PUBLISHED"
)

// ManagedDID is a DID record held by the agent's registrar.
type ManagedDID struct {
	DID         string `json:"did"`
	LongFormDID string `json:"longFormDid"`
	Status      string `json:"status"`
}

type didKeyTemplate struct {
	ID      string `json:"id"`
	Purpose string `json:"purpose"`
}

// CreateDID registers an unpublished PRISM DID in the wallet with an
// authentication key and an assertion key.
func (c *Client) CreateDID(ctx context.Context) (string, error) {
	body := map[string]any{
		"documentTemplate": map[string]any{
			"publicKeys": []didKeyTemplate{
				{ID: "auth-1", Purpose: "authentication"},
				{ID: "issue-1", Purpose: "assertionMethod"},
			},
			"services": []any{},
		},
	}
	var out struct {
		LongFormDID string `json:"longFormDid"`
	}
	if err := c.postJSON(ctx, "/did-registrar/dids", body, &out); err != nil {
		return "", fmt.Errorf("create DID: %w", err)
	}
	return out.LongFormDID, nil
}

// PublishDID schedules the anchoring of didRef to the ledger. Anchoring is
// asynchronous; poll GetDID until the status is PUBLISHED.
func (c *Client) PublishDID(ctx context.Context, didRef string) (string, error) {
	var out struct {
		ScheduledOperation struct {
			ID     string `json:"id"`
			DIDRef string `json:"didRef"`
		} `json:"scheduledOperation"`
	}
	if err := c.postJSON(ctx, "/did-registrar/dids/"+didRef+"/publications", nil, &out); err != nil {
		return "", fmt.Errorf("publish DID: %w", err)
	}
	return out.ScheduledOperation.ID, nil
}

// GetDID fetches the registrar record for didRef.
func (c *Client) GetDID(ctx context.Context, didRef string) (*ManagedDID, error) {
	var out ManagedDID
	if err := c.getJSON(ctx, "/did-registrar/dids/"+didRef, &out); err != nil {
		return nil, fmt.Errorf("get DID: %w", err)
	}
	return &out, nil
}

// WaitForPublication polls the registrar until didRef reaches PUBLISHED or
// the budget elapses. Publication normally lands within 15-30 s.
func (c *Client) WaitForPublication(ctx context.Context, didRef string, budget time.Duration) (*ManagedDID, error) {
	deadline := time.Now().Add(budget)
	interval := 2 * time.Second

	for {
		d, err := c.GetDID(ctx, didRef)
		if err != nil {
			return nil, err
		}
		if d.Status == DIDStatusPublished {
			return d, nil
		}
		if time.Now().After(deadline) {
			return d, fmt.Errorf("DID %s not published within %s (status %s)", didRef, budget, d.Status)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(interval):
		}
	}
}
