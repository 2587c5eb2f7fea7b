package agent

import (
	"context"
	"fmt"
)

// Present-proof states relevant to the broker's polling loops.
const (
	PresentationStateRequestPending        = "RequestPending"
	PresentationStateRequestSent           = "RequestSent"
	PresentationStateReceived              = "PresentationReceived"
	PresentationStateVerified              = "PresentationVerified"
	PresentationStateRequestRejected       = "RequestRejected"
	PresentationStateProblemReportReceived = "ProblemReportReceived"
)

// Presentation is a present-proof exchange record. Data carries the signed
// VP JWTs once the holder has presented.
type Presentation struct {
	PresentationID string   `json:"presentationId"`
	ThreadID       string   `json:"thid,omitempty"`
	ConnectionID   string   `json:"connectionId,omitempty"`
	Status         string   `json:"status"`
	Role           string   `json:"role,omitempty"`
	Data           []string `json:"data,omitempty"`
}

// ProofOptions binds a presentation to one authentication attempt.
type ProofOptions struct {
	Challenge string `json:"challenge"`
	Domain    string `json:"domain"`
}

// CreateProofRequest sends a schema-less proof request over connectionID.
// The challenge/domain pair is echoed back inside the holder's VP proof and
// later checked by the verifier.
func (c *Client) CreateProofRequest(ctx context.Context, connectionID string, opts ProofOptions, goal string) (*Presentation, error) {
	body := map[string]any{
		"connectionId":     connectionID,
		"options":          opts,
		"proofs":           []any{},
		"credentialFormat": "JWT",
	}
	if goal != "" {
		body["goalCode"] = goal
	}
	var out Presentation
	if err := c.postJSON(ctx, "/present-proof/presentations", body, &out); err != nil {
		return nil, fmt.Errorf("create proof request: %w", err)
	}
	return &out, nil
}

// GetProofRequest fetches the current state of a present-proof exchange.
func (c *Client) GetProofRequest(ctx context.Context, presentationID string) (*Presentation, error) {
	var out Presentation
	if err := c.getJSON(ctx, "/present-proof/presentations/"+presentationID, &out); err != nil {
		return nil, fmt.Errorf("get proof request: %w", err)
	}
	return &out, nil
}
