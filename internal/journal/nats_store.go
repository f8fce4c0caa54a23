package journal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSettings selects the server and KV bucket used by NATSStore.
type NATSSettings struct {
	URL    []string
	Bucket string
	// MaxAge bounds bucket history server-side in addition to explicit pruning.
	MaxAge time.Duration
}

// NATSStore persists journal entries in one JetStream KV bucket.
// Params: NATS connection and bucket handle.
// Returns: KV-backed journal implementation.
type NATSStore struct {
	nc *nats.Conn
	kv nats.KeyValue
}

// NewNATSStore opens or creates the journal bucket.
// Params: connection URLs and bucket settings.
// Returns: initialized NATS store or setup error.
func NewNATSStore(settings NATSSettings) (*NATSStore, error) {
	nc, err := nats.Connect(strings.Join(settings.URL, ","), nats.Name("alerthub-journal"))
	if err != nil {
		return nil, fmt.Errorf("connect nats journal: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init for journal: %w", err)
	}
	kv, err := js.KeyValue(settings.Bucket)
	if err != nil {
		if !errors.Is(err, nats.ErrBucketNotFound) {
			nc.Close()
			return nil, fmt.Errorf("open journal bucket %q: %w", settings.Bucket, err)
		}
		kv, err = js.CreateKeyValue(&nats.KeyValueConfig{
			Bucket:      settings.Bucket,
			Description: "alerthub critical alert journal",
			History:     1,
			TTL:         settings.MaxAge,
		})
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("create journal bucket %q: %w", settings.Bucket, err)
		}
	}
	return &NATSStore{nc: nc, kv: kv}, nil
}

// Append writes entry under alert id key.
// Params: journal entry.
// Returns: encode or put error.
func (s *NATSStore) Append(_ context.Context, entry Entry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode journal entry: %w", err)
	}
	if _, err := s.kv.Put(entry.Key(), body); err != nil {
		return fmt.Errorf("put journal entry: %w", err)
	}
	return nil
}

// Get reads one entry by alert id.
// Params: alert id key.
// Returns: decoded entry or ErrNotFound.
func (s *NATSStore) Get(_ context.Context, id string) (Entry, error) {
	kvEntry, err := s.kv.Get(id)
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, fmt.Errorf("get journal entry: %w", err)
	}
	return decodeEntry(kvEntry.Value())
}

// Prune deletes entries recorded before cutoff.
// Params: cutoff instant.
// Returns: number of purged keys and first hard error.
func (s *NATSStore) Prune(ctx context.Context, before time.Time) (int, error) {
	entries, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, entry := range entries {
		if !entry.RecordedAt.Before(before) {
			continue
		}
		if err := s.kv.Purge(entry.Key()); err != nil && !errors.Is(err, nats.ErrKeyNotFound) {
			return removed, fmt.Errorf("purge journal entry %q: %w", entry.Key(), err)
		}
		removed++
	}
	return removed, nil
}

// List returns every live entry ordered by record time.
// Params: none.
// Returns: decoded entries; undecodable values are skipped.
func (s *NATSStore) List(_ context.Context) ([]Entry, error) {
	keys, err := s.kv.Keys()
	if err != nil {
		if errors.Is(err, nats.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("list journal keys: %w", err)
	}
	out := make([]Entry, 0, len(keys))
	for _, key := range keys {
		kvEntry, err := s.kv.Get(key)
		if err != nil {
			if errors.Is(err, nats.ErrKeyNotFound) {
				continue
			}
			return nil, fmt.Errorf("get journal entry %q: %w", key, err)
		}
		entry, err := decodeEntry(kvEntry.Value())
		if err != nil {
			continue
		}
		out = append(out, entry)
	}
	sortEntries(out)
	return out, nil
}

// Close closes underlying NATS connection.
func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}

func decodeEntry(body []byte) (Entry, error) {
	var entry Entry
	if err := json.Unmarshal(body, &entry); err != nil {
		return Entry{}, fmt.Errorf("decode journal entry: %w", err)
	}
	return entry, nil
}
