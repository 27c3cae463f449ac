package journal

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	clientv3 "go.etcd.io/etcd/client/v3"
)

const etcdPrefix = "/cloudherd/results/"

// EtcdJournal persists entries in etcd, one key per instance name.
// Useful when several operators share a fleet.
type EtcdJournal struct {
	client *clientv3.Client
}

// NewEtcdJournal connects to etcd and returns a journal over it.
func NewEtcdJournal(endpoints []string) (*EtcdJournal, error) {
	cli, err := clientv3.New(clientv3.Config{
		Endpoints:   endpoints,
		DialTimeout: 5 * time.Second,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to etcd: %w", err)
	}
	return &EtcdJournal{client: cli}, nil
}

// SaveEntry stores the entry under its name.
func (j *EtcdJournal) SaveEntry(ctx context.Context, entry Entry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal journal entry: %w", err)
	}
	_, err = j.client.Put(ctx, etcdPrefix+entry.Name, string(data))
	if err != nil {
		return fmt.Errorf("failed to save journal entry to etcd: %w", err)
	}
	return nil
}

// GetEntry returns the entry for a name.
func (j *EtcdJournal) GetEntry(ctx context.Context, name string) (Entry, error) {
	resp, err := j.client.Get(ctx, etcdPrefix+name)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to get journal entry from etcd: %w", err)
	}
	if len(resp.Kvs) == 0 {
		return Entry{}, ErrNotFound
	}
	var entry Entry
	if err := json.Unmarshal(resp.Kvs[0].Value, &entry); err != nil {
		return Entry{}, fmt.Errorf("failed to unmarshal journal entry: %w", err)
	}
	return entry, nil
}

// ListEntries returns all entries keyed by name.
func (j *EtcdJournal) ListEntries(ctx context.Context) (map[string]Entry, error) {
	resp, err := j.client.Get(ctx, etcdPrefix, clientv3.WithPrefix())
	if err != nil {
		return nil, fmt.Errorf("failed to list journal entries from etcd: %w", err)
	}
	entries := make(map[string]Entry, len(resp.Kvs))
	for _, kv := range resp.Kvs {
		var entry Entry
		if err := json.Unmarshal(kv.Value, &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal journal entry %s: %w", kv.Key, err)
		}
		entries[strings.TrimPrefix(string(kv.Key), etcdPrefix)] = entry
	}
	return entries, nil
}

// Close closes the etcd client connection.
func (j *EtcdJournal) Close() error {
	return j.client.Close()
}
