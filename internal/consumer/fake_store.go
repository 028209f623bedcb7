package consumer

import (
	"context"
	"sync"
)

// FakeStore is an in-memory Store used by consumer package tests.
type FakeStore struct {
	mu sync.Mutex

	Written map[string][]Row // queue -> inserted rows, in write order
	Ledger  map[string]bool  // fingerprint -> seen

	FailNextWith error
}

// NewFakeStore returns an empty FakeStore.
func NewFakeStore() *FakeStore {
	return &FakeStore{
		Written: make(map[string][]Row),
		Ledger:  make(map[string]bool),
	}
}

func (f *FakeStore) WriteBatch(ctx context.Context, queue string, rows []Row) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.FailNextWith != nil {
		err := f.FailNextWith
		f.FailNextWith = nil
		return err
	}

	f.Written[queue] = append(f.Written[queue], rows...)
	for _, row := range rows {
		f.Ledger[row.Fingerprint] = true
	}
	return nil
}

func (f *FakeStore) SeenFingerprints(ctx context.Context, keys []string) (map[string]bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	seen := make(map[string]bool, len(keys))
	for _, k := range keys {
		if f.Ledger[k] {
			seen[k] = true
		}
	}
	return seen, nil
}
