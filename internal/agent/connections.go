package agent

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

// DIDComm connection states the broker inspects. The agent reports more; the
// broker only ever gates on these.
const (
	ConnectionStateInvitationGenerated = "InvitationGenerated"
	ConnectionStateResponseSent        = "ConnectionResponseSent"
	ConnectionStateResponseReceived    = "ConnectionResponseReceived"
)

// Invitation is the out-of-band invitation embedded in a new connection.
type Invitation struct {
	ID            string `json:"id"`
	Type          string `json:"type,omitempty"`
	From          string `json:"from,omitempty"`
	InvitationURL string `json:"invitationUrl"`
}

// Connection is a DIDComm connection record.
type Connection struct {
	ConnectionID string     `json:"connectionId"`
	Label        string     `json:"label,omitempty"`
	State        string     `json:"state"`
	Role         string     `json:"role,omitempty"`
	MyDID        string     `json:"myDid,omitempty"`
	TheirDID     string     `json:"theirDid,omitempty"`
	Invitation   Invitation `json:"invitation"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// OOB extracts the bare out-of-band token from the invitation URL, the form
// a holder agent accepts.
func (i Invitation) OOB() string {
	if idx := strings.Index(i.InvitationURL, "_oob="); idx >= 0 {
		return i.InvitationURL[idx+len("_oob="):]
	}
	return i.InvitationURL
}

// CreateConnection creates a connection invitation labelled label.
func (c *Client) CreateConnection(ctx context.Context, label, goal string) (*Connection, error) {
	body := map[string]string{"label": label}
	if goal != "" {
		body["goal"] = goal
	}
	var out Connection
	if err := c.postJSON(ctx, "/connections", body, &out); err != nil {
		return nil, fmt.Errorf("create connection: %w", err)
	}
	return &out, nil
}

// GetConnection fetches one connection record.
func (c *Client) GetConnection(ctx context.Context, connectionID string) (*Connection, error) {
	var out Connection
	if err := c.getJSON(ctx, "/connections/"+connectionID, &out); err != nil {
		return nil, fmt.Errorf("get connection: %w", err)
	}
	return &out, nil
}

// ListConnections returns every connection in the wallet.
func (c *Client) ListConnections(ctx context.Context) ([]Connection, error) {
	var out struct {
		Contents []Connection `json:"contents"`
	}
	if err := c.getJSON(ctx, "/connections", &out); err != nil {
		return nil, fmt.Errorf("list connections: %w", err)
	}
	return out.Contents, nil
}

// DeleteConnection removes a connection. When the agent refuses because of
// the connection's protocol state it returns ErrInvalidStateForOperation;
// callers fall back to hiding the connection locally.
func (c *Client) DeleteConnection(ctx context.Context, connectionID string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, c.baseURL+"/connections/"+connectionID, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	status, body, err := c.doStatusBody(req)
	if err != nil {
		return err
	}
	switch {
	case status < 300:
		return nil
	case status == http.StatusForbidden && strings.Contains(string(body), "InvalidStateForOperation"):
		return fmt.Errorf("delete connection %s: %w", connectionID, ErrInvalidStateForOperation)
	default:
		return &APIError{Status: status, Body: string(body)}
	}
}

// AcceptInvitation accepts an out-of-band invitation on the holder side.
// oob is the bare token, as returned by Invitation.OOB.
func (c *Client) AcceptInvitation(ctx context.Context, oob string) (*Connection, error) {
	var out Connection
	if err := c.postJSON(ctx, "/connection-invitations", map[string]string{"invitation": oob}, &out); err != nil {
		return nil, fmt.Errorf("accept invitation: %w", err)
	}
	return &out, nil
}

// WaitForConnection polls connectionID until it reaches a responded state on
// this side or the budget elapses.
func (c *Client) WaitForConnection(ctx context.Context, connectionID string, budget time.Duration) (*Connection, error) {
	deadline := time.Now().Add(budget)
	for {
		conn, err := c.GetConnection(ctx, connectionID)
		if err != nil {
			return nil, err
		}
		if conn.State == ConnectionStateResponseSent || conn.State == ConnectionStateResponseReceived {
			return conn, nil
		}
		if time.Now().After(deadline) {
			return conn, errors.New("connection not established within budget: " + conn.State)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(2 * time.Second):
		}
	}
}
