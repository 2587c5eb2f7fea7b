// Package auth implements employee authentication: verifiable-presentation
// decoding, the employee directory, pending login attempts, and the session
// table. Signature verification of credentials is the Cloud Agent's job; this
// package only decodes and checks bindings.
package auth

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/techcorp/docbroker/internal/apperr"
	"github.com/techcorp/docbroker/internal/classify"
)

// Credential kinds recognized by shape.
const (
	KindEmployeeRole      = "EmployeeRole"
	KindCISTraining       = "CISTraining"
	KindSecurityClearance = "SecurityClearance"
	KindUnknown           = "Unknown"
)

// VC is one decoded verifiable credential from a presentation.
type VC struct {
	Issuer  string
	Subject string
	Kind    string
	Fields  map[string]any
}

// PrismDID returns the credential subject's DID: the credentialSubject
// prismDid field when present, else the JWT sub claim.
func (c *VC) PrismDID() string {
	if did, ok := c.Fields["prismDid"].(string); ok && did != "" {
		return did
	}
	return c.Subject
}

// String returns the named string field, or "".
func (c *VC) String(field string) string {
	s, _ := c.Fields[field].(string)
	return s
}

// VP is a decoded verifiable presentation.
type VP struct {
	Holder      string
	Challenge   string
	Domain      string
	Credentials []VC
}

// DecodeVP unpacks a VP JWT and the VC JWTs nested inside it. Neither layer's
// signature is checked here; the Cloud Agent verified them before handing the
// presentation over.
func DecodeVP(vpJWT string) (*VP, error) {
	payload, err := decodeJWT(vpJWT)
	if err != nil {
		return nil, apperr.Wrap(apperr.InputInvalid, "presentation is not a valid JWT", err)
	}

	vp := &VP{}
	vp.Holder, _ = payload["iss"].(string)

	body, ok := payload["vp"].(map[string]any)
	if !ok {
		return nil, apperr.New(apperr.InputInvalid, "presentation has no vp claim")
	}
	if proof, ok := body["proof"].(map[string]any); ok {
		vp.Challenge, _ = proof["challenge"].(string)
		vp.Domain, _ = proof["domain"].(string)
	}

	rawVCs, _ := body["verifiableCredential"].([]any)
	for i, raw := range rawVCs {
		vcJWT, ok := raw.(string)
		if !ok {
			return nil, apperr.Newf(apperr.InputInvalid, "credential %d is not a JWT string", i)
		}
		vc, err := decodeVC(vcJWT)
		if err != nil {
			return nil, fmt.Errorf("credential %d: %w", i, err)
		}
		vp.Credentials = append(vp.Credentials, *vc)
	}
	return vp, nil
}

// CheckBinding compares the presentation's proof against the expected
// challenge and domain in constant time.
func (p *VP) CheckBinding(challenge, domain string) error {
	if subtle.ConstantTimeCompare([]byte(p.Challenge), []byte(challenge)) != 1 {
		return apperr.New(apperr.ChallengeMismatch, "presentation challenge does not match this login attempt")
	}
	if subtle.ConstantTimeCompare([]byte(p.Domain), []byte(domain)) != 1 {
		return apperr.New(apperr.DomainMismatch, "presentation domain does not match this portal")
	}
	return nil
}

// Credential returns the first credential of the given kind, or nil.
func (p *VP) Credential(kind string) *VC {
	for i := range p.Credentials {
		if p.Credentials[i].Kind == kind {
			return &p.Credentials[i]
		}
	}
	return nil
}

func decodeVC(vcJWT string) (*VC, error) {
	payload, err := decodeJWT(vcJWT)
	if err != nil {
		return nil, apperr.Wrap(apperr.InputInvalid, "credential is not a valid JWT", err)
	}

	vc := &VC{Fields: map[string]any{}}
	vc.Issuer, _ = payload["iss"].(string)
	vc.Subject, _ = payload["sub"].(string)

	if body, ok := payload["vc"].(map[string]any); ok {
		if subject, ok := body["credentialSubject"].(map[string]any); ok {
			vc.Fields = subject
		}
	}
	vc.Kind = classifyCredential(vc.Fields)
	return vc, nil
}

// classifyCredential infers the credential kind from the fields it carries.
// Credentials do not declare a type we can trust, so shape is the contract.
func classifyCredential(fields map[string]any) string {
	has := func(k string) bool {
		_, ok := fields[k]
		return ok
	}
	switch {
	case has("role") && has("department"):
		return KindEmployeeRole
	case has("trainingYear") && has("certificateNumber"):
		return KindCISTraining
	case has("clearanceLevel"):
		return KindSecurityClearance
	default:
		return KindUnknown
	}
}

// decodeJWT returns the payload claims of a JWT without verifying its
// signature.
func decodeJWT(raw string) (jwt.MapClaims, error) {
	parser := jwt.NewParser()
	token, _, err := parser.ParseUnverified(raw, jwt.MapClaims{})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", token.Claims)
	}
	return claims, nil
}

// IssuerSet is the process-wide accepted-issuer allow list.
type IssuerSet map[string]bool

// NewIssuerSet builds an IssuerSet from DID strings.
func NewIssuerSet(issuers []string) IssuerSet {
	set := make(IssuerSet, len(issuers))
	for _, iss := range issuers {
		set[iss] = true
	}
	return set
}

// Check rejects any credential whose issuer is outside the accepted set.
func (s IssuerSet) Check(credentials []VC) error {
	for _, vc := range credentials {
		if !s[vc.Issuer] {
			return apperr.Newf(apperr.InvalidIssuer, "credential issuer %s is not accepted", vc.Issuer)
		}
	}
	return nil
}

// TrainingValid reports whether a CISTraining credential is bound to
// employeeDID and unexpired at now. A missing expiry date counts as expired.
func TrainingValid(vc *VC, employeeDID string, now time.Time) bool {
	if vc == nil || vc.PrismDID() != employeeDID {
		return false
	}
	raw := vc.String("expiryDate")
	if raw == "" {
		return false
	}
	expiry, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		if expiry, err = time.Parse("2006-01-02", raw); err != nil {
			return false
		}
	}
	return expiry.After(now)
}

// ClearanceFrom extracts the clearance level from a SecurityClearance
// credential bound to employeeDID. Zero means no usable clearance.
func ClearanceFrom(vc *VC, employeeDID string) classify.Level {
	if vc == nil || vc.PrismDID() != employeeDID {
		return 0
	}
	level, err := classify.Parse(vc.String("clearanceLevel"))
	if err != nil {
		return 0
	}
	return level
}
