package audit

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
)

// FileLedger persists the hash chain as a JSONL append log, one entry per
// line. The full chain is also held in memory; the file is only read back at
// open time. It implements the Ledger interface.
type FileLedger struct {
	path   string
	logger *zap.Logger

	mu      sync.Mutex
	entries []*Entry
}

// NewFileLedger opens (or creates) the ledger file at path. A new file is
// seeded with the genesis entry; an existing file is read back in full and
// verified so a truncated or edited log fails loudly at startup.
func NewFileLedger(path string, logger *zap.Logger) (*FileLedger, error) {
	l := &FileLedger{path: path, logger: logger}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		genesis := genesisEntry()
		if err := l.writeLine(genesis); err != nil {
			return nil, err
		}
		l.entries = []*Entry{genesis}
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read audit log: %w", err)
	}

	sc := bufio.NewScanner(bytes.NewReader(raw))
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var e Entry
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, fmt.Errorf("parse audit log line %d: %w", len(l.entries)+1, err)
		}
		l.entries = append(l.entries, &e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("scan audit log: %w", err)
	}

	if len(l.entries) == 0 {
		genesis := genesisEntry()
		if err := l.writeLine(genesis); err != nil {
			return nil, err
		}
		l.entries = []*Entry{genesis}
		return l, nil
	}

	if err := verifyChain(l.entries); err != nil {
		return nil, fmt.Errorf("audit log failed verification: %w", err)
	}
	return l, nil
}

// Append implements Ledger.
func (l *FileLedger) Append(_ context.Context, subject, action, actor string, payload any) (*Entry, error) {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.entries[len(l.entries)-1]
	entry := &Entry{
		Index:     len(l.entries),
		Timestamp: time.Now().UTC(),
		Subject:   subject,
		Action:    action,
		Actor:     actor,
		DataHash:  sha256Sum(payloadJSON),
		PrevHash:  prev.Hash,
	}
	entry.Hash = hashEntry(entry)

	if err := l.writeLine(entry); err != nil {
		return nil, err
	}
	l.entries = append(l.entries, entry)

	l.logger.Debug("audit entry appended",
		zap.Int("idx", entry.Index),
		zap.String("action", entry.Action),
		zap.String("subject", entry.Subject),
	)
	return entry, nil
}

// Get implements Ledger.
func (l *FileLedger) Get(_ context.Context, index int) (*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 0 || index >= len(l.entries) {
		return nil, fmt.Errorf("index %d out of range", index)
	}
	return l.entries[index], nil
}

// Entries implements Ledger.
func (l *FileLedger) Entries(_ context.Context, offset, limit int) ([]*Entry, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return sliceEntries(l.entries, offset, limit), nil
}

// Len implements Ledger.
func (l *FileLedger) Len(_ context.Context) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries), nil
}

// Verify implements Ledger.
func (l *FileLedger) Verify(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return verifyChain(l.entries)
}

// Root implements Ledger.
func (l *FileLedger) Root(_ context.Context) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.entries) == 0 {
		return "", nil
	}
	return l.entries[len(l.entries)-1].Hash, nil
}

// writeLine appends one JSONL record to the log file.
func (l *FileLedger) writeLine(e *Entry) error {
	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o600)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}

	line, err := json.Marshal(e)
	if err != nil {
		f.Close()
		return fmt.Errorf("marshal audit entry: %w", err)
	}
	if _, err := f.Write(append(line, '\n')); err != nil {
		f.Close()
		return fmt.Errorf("append audit entry: %w", err)
	}
	return f.Close()
}
