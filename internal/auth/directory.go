package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/techcorp/docbroker/internal/apperr"
)

// Employee is one row of the employee directory: how to reach a known
// employee's wallets.
type Employee struct {
	ConnectionID               string `json:"connectionId"`
	Email                      string `json:"email"`
	Name                       string `json:"name"`
	Department                 string `json:"department"`
	PersonalWalletConnectionID string `json:"personalWalletConnectionId,omitempty"`
}

// Directory maps login identifiers (email or DID) to employee records,
// persisted as one JSON file.
type Directory struct {
	path string

	mu           sync.Mutex
	byIdentifier map[string]Employee
}

// NewDirectory loads the mapping file, or starts empty if it does not exist.
func NewDirectory(path string) (*Directory, error) {
	d := &Directory{path: path, byIdentifier: make(map[string]Employee)}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return d, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read employee directory: %w", err)
	}
	if err := json.Unmarshal(data, &d.byIdentifier); err != nil {
		return nil, fmt.Errorf("parse employee directory %s: %w", path, err)
	}
	return d, nil
}

// Resolve finds the employee for a login identifier. Lookup is
// case-insensitive on emails.
func (d *Directory) Resolve(identifier string) (*Employee, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if emp, ok := d.byIdentifier[identifier]; ok {
		return &emp, nil
	}
	lowered := strings.ToLower(identifier)
	for key, emp := range d.byIdentifier {
		if strings.ToLower(key) == lowered {
			return &emp, nil
		}
	}
	return nil, apperr.Newf(apperr.NotFound, "no employee mapping for %q", identifier)
}

// Put inserts or replaces a mapping and persists the directory.
func (d *Directory) Put(identifier string, emp Employee) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.byIdentifier[identifier] = emp
	return d.persistLocked()
}

// Identifiers returns all known login identifiers, sorted.
func (d *Directory) Identifiers() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, 0, len(d.byIdentifier))
	for id := range d.byIdentifier {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d *Directory) persistLocked() error {
	data, err := json.MarshalIndent(d.byIdentifier, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal employee directory: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(d.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(d.path), "."+filepath.Base(d.path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write employee directory: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close employee directory: %w", err)
	}
	if err := os.Rename(tmp.Name(), d.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace employee directory: %w", err)
	}
	return nil
}
