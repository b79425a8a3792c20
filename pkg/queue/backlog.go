package queue

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/uhyunpark/hyperflash/pkg/storage"
)

// Backlog persists job records so a restarted queue can redeliver them.
type Backlog interface {
	Save(rec Record) error
	Delete(id string) error
	// Load returns every record in enqueue order.
	Load() ([]Record, error)
}

type MemoryBacklog struct {
	mu      sync.Mutex
	records map[string]Record
}

func NewMemoryBacklog() *MemoryBacklog {
	return &MemoryBacklog{records: make(map[string]Record)}
}

func (b *MemoryBacklog) Save(rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.records[rec.ID] = rec
	return nil
}

func (b *MemoryBacklog) Delete(id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.records, id)
	return nil
}

func (b *MemoryBacklog) Load() ([]Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Record, 0, len(b.records))
	for _, rec := range b.records {
		out = append(out, rec)
	}
	sortBySeq(out)
	return out, nil
}

const prefixJob = "job:"

func jobKey(id string) []byte {
	return append([]byte(prefixJob), id...)
}

// PebbleBacklog stores records under "job:" keys, normally in the same
// database as the orders.
type PebbleBacklog struct {
	db *pebble.DB
}

func NewPebbleBacklog(db *pebble.DB) *PebbleBacklog {
	return &PebbleBacklog{db: db}
}

func (b *PebbleBacklog) Save(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", rec.ID, err)
	}
	if err := b.db.Set(jobKey(rec.ID), data, pebble.Sync); err != nil {
		return fmt.Errorf("failed to save job %s: %w", rec.ID, err)
	}
	return nil
}

func (b *PebbleBacklog) Delete(id string) error {
	if err := b.db.Delete(jobKey(id), pebble.Sync); err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}

func (b *PebbleBacklog) Load() ([]Record, error) {
	prefix := []byte(prefixJob)
	iter, err := b.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: storage.KeyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open job iterator: %w", err)
	}
	defer iter.Close()

	var out []Record
	for iter.First(); iter.Valid(); iter.Next() {
		var rec Record
		if err := json.Unmarshal(iter.Value(), &rec); err != nil {
			return nil, fmt.Errorf("failed to unmarshal job %s: %w", iter.Key(), err)
		}
		out = append(out, rec)
	}
	if err := iter.Error(); err != nil {
		return nil, err
	}
	sortBySeq(out)
	return out, nil
}

func sortBySeq(recs []Record) {
	sort.Slice(recs, func(i, j int) bool { return recs[i].Seq < recs[j].Seq })
}

var (
	_ Backlog = (*MemoryBacklog)(nil)
	_ Backlog = (*PebbleBacklog)(nil)
)
