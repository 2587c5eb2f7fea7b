// Package did provides parsing and validation for the did: identifiers the
// broker exchanges with wallets and Cloud Agents.
//
// Identifier format: did:[method]:[method-specific-id]
//
// Examples:
//
//	did:prism:4a5c9f…e2            (long-lived employee or document identity)
//	did:ephemeral:550e8400-e29b…   (single-delivery recipient identifier)
//
// The prism method identifies anchored identities managed by a Cloud Agent.
// The ephemeral method is broker-local: the method-specific id is a UUID
// minted for exactly one staged delivery and never published anywhere.
package did

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

const scheme = "did"

// Method names the broker understands. Parse accepts any syntactically valid
// method; these constants exist for the common checks.
const (
	MethodPrism     = "prism"
	MethodPeer      = "peer"
	MethodEphemeral = "ephemeral"
)

// DID represents a parsed did: identifier.
type DID struct {
	Method string // e.g. "prism"
	ID     string // method-specific identifier, may itself contain colons
}

// Parse parses a did: identifier string.
//
// The expected structure is:
//
//	did:{method}:{method-specific-id}
func Parse(raw string) (*DID, error) {
	parts := strings.SplitN(raw, ":", 3)
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed DID %q: want did:method:id", raw)
	}
	if parts[0] != scheme {
		return nil, fmt.Errorf("unsupported scheme %q: expected %q", parts[0], scheme)
	}
	if err := validateMethod(parts[1]); err != nil {
		return nil, err
	}
	if parts[2] == "" {
		return nil, fmt.Errorf("missing method-specific id in DID %q", raw)
	}
	return &DID{Method: parts[1], ID: parts[2]}, nil
}

// String returns the canonical did: identifier string.
func (d *DID) String() string {
	return fmt.Sprintf("%s:%s:%s", scheme, d.Method, d.ID)
}

// MustParse parses a DID and panics on error. Useful in tests and init blocks.
func MustParse(raw string) *DID {
	d, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return d
}

// NewEphemeral mints a fresh single-use recipient identifier.
func NewEphemeral() string {
	return fmt.Sprintf("%s:%s:%s", scheme, MethodEphemeral, uuid.NewString())
}

// IsEphemeral reports whether raw is a well-formed did:ephemeral identifier.
func IsEphemeral(raw string) bool {
	d, err := Parse(raw)
	return err == nil && d.Method == MethodEphemeral
}

// IsPrism reports whether raw is a well-formed did:prism identifier.
func IsPrism(raw string) bool {
	d, err := Parse(raw)
	return err == nil && d.Method == MethodPrism
}

// validateMethod checks that the method name is lowercase alphanumeric, as
// required by the DID syntax.
func validateMethod(method string) error {
	if method == "" {
		return fmt.Errorf("method must not be empty")
	}
	for _, r := range method {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return fmt.Errorf("method %q contains invalid character %q", method, r)
		}
	}
	return nil
}
