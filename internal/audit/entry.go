package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"
)

// GenesisHash is the canonical well-known hash of the genesis entry.
// It serves as the trust anchor of the chain; all subsequent entry hashes
// chain from this constant rather than from a computed value.
const GenesisHash = "0000000000000000000000000000000000000000000000000000000000000000"

// SystemActor marks entries written by the broker itself rather than on
// behalf of an authenticated caller.
const SystemActor = "broker-system"

// Actions recorded in the chain.
const (
	ActionGenesis            = "genesis"
	ActionDocumentRegistered = "document.registered"
	ActionDocumentUploaded   = "document.uploaded"
	ActionDocumentDiscovered = "document.discovered"
	ActionDownloadPrepared   = "download.prepared"
	ActionDownloadCompleted  = "download.completed"
	ActionPickupServed       = "pickup.served"
	ActionEmployeeOnboarded  = "employee.onboarded"
	ActionSessionCreated     = "session.created"
	ActionConnectionHidden   = "connection.soft-deleted"
	ActionResourceDecided    = "resource.decided"
)

// Entry is a single audit record.
type Entry struct {
	Index     int       `json:"index"`
	Timestamp time.Time `json:"timestamp"`
	Subject   string    `json:"subject"`  // document DID, session ID, or connection ID
	Action    string    `json:"action"`   // one of the Action constants
	Actor     string    `json:"actor"`    // caller DID or SystemActor
	DataHash  string    `json:"dataHash"` // SHA-256 of the associated payload
	PrevHash  string    `json:"prevHash"`
	Hash      string    `json:"hash"`
}

// hashEntry computes a deterministic SHA-256 hash over an entry's fields.
// This function must never be called on the genesis entry (index 0).
func hashEntry(e *Entry) string {
	h := sha256.New()
	fmt.Fprintf(h, "%d|%s|%s|%s|%s|%s|%s",
		e.Index, e.Timestamp.Format(time.RFC3339Nano),
		e.Subject, e.Action, e.Actor, e.DataHash, e.PrevHash,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// sha256Sum returns the hex-encoded SHA-256 digest of data.
func sha256Sum(data []byte) string {
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}

// genesisEntry builds the index-0 entry that anchors a new chain.
func genesisEntry() *Entry {
	return &Entry{
		Index:     0,
		Timestamp: time.Now().UTC(),
		Action:    ActionGenesis,
		Actor:     SystemActor,
		DataHash:  GenesisHash,
		PrevHash:  GenesisHash,
		Hash:      GenesisHash, // genesis hash is the well-known constant, not computed
	}
}
