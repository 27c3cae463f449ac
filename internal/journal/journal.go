// Package journal records reconciliation outcomes per instance name.
// The journal is a pure output artifact: the provider's observed state
// stays the single source of truth and the journal is never consulted
// when computing actions.
package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"
)

// Entry is the recorded outcome of one reconciliation for one name.
type Entry struct {
	Name          string    `json:"name"`
	RunID         string    `json:"run_id"`
	ProviderID    string    `json:"provider_id,omitempty"`
	Action        string    `json:"action"`
	FinalStatus   string    `json:"final_status,omitempty"`
	PublicAddress string    `json:"public_address,omitempty"`
	InventoryLine string    `json:"inventory_line,omitempty"`
	Error         string    `json:"error,omitempty"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// ErrNotFound is returned when no entry exists for a name.
var ErrNotFound = errors.New("journal: entry not found")

// Journal defines the interface for result persistence.
type Journal interface {
	SaveEntry(ctx context.Context, entry Entry) error
	GetEntry(ctx context.Context, name string) (Entry, error)
	ListEntries(ctx context.Context) (map[string]Entry, error)
	Close() error
}

type fileState struct {
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
	Entries   map[string]Entry `json:"entries"`
}

// FileJournal persists entries as a single JSON file.
type FileJournal struct {
	mu    sync.RWMutex
	path  string
	state fileState
}

// NewFileJournal opens (or initializes) a file-backed journal.
func NewFileJournal(path string) (*FileJournal, error) {
	j := &FileJournal{
		path: path,
		state: fileState{
			CreatedAt: time.Now(),
			Entries:   make(map[string]Entry),
		},
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return j, nil
		}
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}
	if err := json.Unmarshal(data, &j.state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal journal: %w", err)
	}
	if j.state.Entries == nil {
		j.state.Entries = make(map[string]Entry)
	}
	return j, nil
}

// SaveEntry stores the entry under its name and flushes to disk.
func (j *FileJournal) SaveEntry(_ context.Context, entry Entry) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.state.Entries[entry.Name] = entry
	j.state.UpdatedAt = time.Now()

	data, err := json.MarshalIndent(j.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal journal: %w", err)
	}
	return os.WriteFile(j.path, data, 0644)
}

// GetEntry returns the entry for a name.
func (j *FileJournal) GetEntry(_ context.Context, name string) (Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	entry, ok := j.state.Entries[name]
	if !ok {
		return Entry{}, ErrNotFound
	}
	return entry, nil
}

// ListEntries returns a copy of all entries keyed by name.
func (j *FileJournal) ListEntries(_ context.Context) (map[string]Entry, error) {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make(map[string]Entry, len(j.state.Entries))
	for k, v := range j.state.Entries {
		out[k] = v
	}
	return out, nil
}

// Close is a no-op for the file backend.
func (j *FileJournal) Close() error { return nil }
