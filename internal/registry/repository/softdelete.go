package repository

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"
)

// HiddenConnections tracks connection IDs soft-deleted per company. The Cloud
// Agent refuses to delete connections in some protocol states; those are
// hidden from listings here instead, and the set survives restarts in its own
// JSON file.
type HiddenConnections struct {
	path string

	mu        sync.Mutex
	byCompany map[string]map[string]bool
}

// NewHiddenConnections opens the store at path, loading any existing file.
func NewHiddenConnections(path string) (*HiddenConnections, error) {
	h := &HiddenConnections{
		path:      path,
		byCompany: make(map[string]map[string]bool),
	}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return h, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read soft-deleted connections: %w", err)
	}

	var stored map[string][]string
	if err := json.Unmarshal(raw, &stored); err != nil {
		return nil, fmt.Errorf("parse soft-deleted connections: %w", err)
	}
	for company, ids := range stored {
		set := make(map[string]bool, len(ids))
		for _, id := range ids {
			set[id] = true
		}
		h.byCompany[company] = set
	}
	return h, nil
}

// Hide marks connectionID as soft-deleted for the company and persists the
// updated set.
func (h *HiddenConnections) Hide(companyID, connectionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	set, ok := h.byCompany[companyID]
	if !ok {
		set = make(map[string]bool)
		h.byCompany[companyID] = set
	}
	if set[connectionID] {
		return nil
	}
	set[connectionID] = true
	return h.persistLocked()
}

// IsHidden reports whether connectionID is soft-deleted for the company.
func (h *HiddenConnections) IsHidden(companyID, connectionID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.byCompany[companyID][connectionID]
}

// HiddenFor returns the sorted connection IDs hidden for the company.
func (h *HiddenConnections) HiddenFor(companyID string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	set := h.byCompany[companyID]
	if len(set) == 0 {
		return nil
	}
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (h *HiddenConnections) persistLocked() error {
	stored := make(map[string][]string, len(h.byCompany))
	for company, set := range h.byCompany {
		ids := make([]string, 0, len(set))
		for id := range set {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		stored[company] = ids
	}

	data, err := json.Marshal(stored)
	if err != nil {
		return fmt.Errorf("marshal soft-deleted connections: %w", err)
	}
	return atomicWrite(h.path, data)
}
