package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
)

const schemaType = "https://w3c-ccg.github.io/vc-json-schemas/schema/2.0/schema.json"

// Schema is a registered credential schema.
type Schema struct {
	GUID    string `json:"guid"`
	ID      string `json:"id,omitempty"`
	Name    string `json:"name"`
	Version string `json:"version"`
	Author  string `json:"author"`
}

// EnsureSchema registers a credential schema and returns its GUID. Duplicate
// registration answers 409; that is resolved by looking the schema up, so the
// call is idempotent.
func (c *Client) EnsureSchema(ctx context.Context, name, version string, properties map[string]any, authorDID string) (string, error) {
	body := map[string]any{
		"name":    name,
		"version": version,
		"type":    schemaType,
		"author":  authorDID,
		"tags":    []string{name},
		"schema": map[string]any{
			"$id":                  fmt.Sprintf("https://techcorp.com/schemas/%s/%s", name, version),
			"$schema":              "https://json-schema.org/draft/2020-12/schema",
			"description":          name + " credential",
			"type":                 "object",
			"properties":           properties,
			"additionalProperties": true,
		},
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal schema: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/schema-registry/schemas", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	status, respBody, err := c.doStatusBody(req)
	if err != nil {
		return "", err
	}
	switch {
	case status < 300:
		var s Schema
		if err := json.Unmarshal(respBody, &s); err != nil {
			return "", fmt.Errorf("decode schema response: %w", err)
		}
		return s.GUID, nil
	case status == http.StatusConflict:
		return c.lookupSchema(ctx, name, version, authorDID)
	default:
		return "", &APIError{Status: status, Body: string(respBody)}
	}
}

// lookupSchema finds an already-registered schema by author, name and version.
func (c *Client) lookupSchema(ctx context.Context, name, version, authorDID string) (string, error) {
	q := url.Values{}
	q.Set("author", authorDID)
	q.Set("name", name)
	q.Set("version", version)

	var out struct {
		Contents []Schema `json:"contents"`
	}
	if err := c.getJSON(ctx, "/schema-registry/schemas?"+q.Encode(), &out); err != nil {
		return "", fmt.Errorf("lookup schema %s/%s: %w", name, version, err)
	}
	if len(out.Contents) == 0 {
		return "", fmt.Errorf("schema %s/%s reported duplicate but not found", name, version)
	}
	return out.Contents[0].GUID, nil
}
