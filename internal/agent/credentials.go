package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"
)

// Issue-credential protocol states the broker gates on.
const (
	CredentialStateOfferPending        = "OfferPending"
	CredentialStateOfferSent           = "OfferSent"
	CredentialStateOfferReceived       = "OfferReceived"
	CredentialStateRequestReceived     = "RequestReceived"
	CredentialStateCredentialPending   = "CredentialPending"
	CredentialStateCredentialGenerated = "CredentialGenerated"
	CredentialStateCredentialSent      = "CredentialSent"
	CredentialStateCredentialReceived  = "CredentialReceived"
)

// CredentialOffer is the issuer-side request to start credential issuance.
type CredentialOffer struct {
	ConnectionID       string         `json:"connectionId"`
	IssuingDID         string         `json:"issuingDID"`
	SchemaID           string         `json:"schemaId,omitempty"`
	Claims             map[string]any `json:"claims"`
	CredentialFormat   string         `json:"credentialFormat"`
	AutomaticIssuance  bool           `json:"automaticIssuance"`
	ValidityPeriodDays int            `json:"-"`
}

// CredentialRecord is one side's view of an issue-credential exchange.
type CredentialRecord struct {
	RecordID      string          `json:"recordId"`
	ThreadID      string          `json:"thid,omitempty"`
	ProtocolState string          `json:"protocolState"`
	Role          string          `json:"role,omitempty"`
	Claims        json.RawMessage `json:"claims,omitempty"`
	JWT           string          `json:"jwtCredential,omitempty"`
}

// CreateCredentialOffer sends a credential offer over the offer's connection.
func (c *Client) CreateCredentialOffer(ctx context.Context, offer CredentialOffer) (*CredentialRecord, error) {
	if offer.CredentialFormat == "" {
		offer.CredentialFormat = "JWT"
	}
	body := map[string]any{
		"connectionId":      offer.ConnectionID,
		"issuingDID":        offer.IssuingDID,
		"claims":            offer.Claims,
		"credentialFormat":  offer.CredentialFormat,
		"automaticIssuance": offer.AutomaticIssuance,
	}
	if offer.SchemaID != "" {
		body["schemaId"] = offer.SchemaID
	}
	if offer.ValidityPeriodDays > 0 {
		body["validityPeriod"] = offer.ValidityPeriodDays * 86400
	}
	var out CredentialRecord
	if err := c.postJSON(ctx, "/issue-credentials/credential-offers", body, &out); err != nil {
		return nil, fmt.Errorf("create credential offer: %w", err)
	}
	return &out, nil
}

// GetCredentialRecord fetches one issue-credential record.
func (c *Client) GetCredentialRecord(ctx context.Context, recordID string) (*CredentialRecord, error) {
	var out CredentialRecord
	if err := c.getJSON(ctx, "/issue-credentials/records/"+recordID, &out); err != nil {
		return nil, fmt.Errorf("get credential record: %w", err)
	}
	return &out, nil
}

// ListCredentialRecords returns issue-credential records, optionally filtered
// by DIDComm thread id. The holder side uses this to locate an incoming offer.
func (c *Client) ListCredentialRecords(ctx context.Context, threadID string) ([]CredentialRecord, error) {
	path := "/issue-credentials/records"
	if threadID != "" {
		path += "?thid=" + url.QueryEscape(threadID)
	}
	var out struct {
		Contents []CredentialRecord `json:"contents"`
	}
	if err := c.getJSON(ctx, path, &out); err != nil {
		return nil, fmt.Errorf("list credential records: %w", err)
	}
	return out.Contents, nil
}

// AcceptCredentialOffer accepts an offer on the holder side, binding the
// credential to subjectDID.
func (c *Client) AcceptCredentialOffer(ctx context.Context, recordID, subjectDID string) (*CredentialRecord, error) {
	var out CredentialRecord
	err := c.postJSON(ctx, "/issue-credentials/records/"+recordID+"/accept-offer",
		map[string]string{"subjectId": subjectDID}, &out)
	if err != nil {
		return nil, fmt.Errorf("accept credential offer: %w", err)
	}
	return &out, nil
}

// WaitForCredentialState polls recordID until it reaches want or the budget
// elapses.
func (c *Client) WaitForCredentialState(ctx context.Context, recordID, want string, budget time.Duration) (*CredentialRecord, error) {
	deadline := time.Now().Add(budget)
	for {
		rec, err := c.GetCredentialRecord(ctx, recordID)
		if err != nil {
			return nil, err
		}
		if rec.ProtocolState == want {
			return rec, nil
		}
		if time.Now().After(deadline) {
			return rec, fmt.Errorf("credential record %s stuck in %s, want %s", recordID, rec.ProtocolState, want)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}
