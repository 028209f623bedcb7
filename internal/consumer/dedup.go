package consumer

import (
	"container/list"
	"context"
	"sync"
)

// DurableLookup is the L2 dedup check: a durable store of fingerprints
// already written, consulted only for keys the L1 cache doesn't resolve
// (spec §4.6).
type DurableLookup interface {
	SeenFingerprints(ctx context.Context, keys []string) (map[string]bool, error)
}

// Dedup implements the two-level dedup check of spec §4.6: a bounded
// in-process LRU (L1) backed by a durable lookup (L2) for keys evicted
// from or never seen by L1.
type Dedup struct {
	l2 DurableLookup

	mu       sync.Mutex
	capacity int
	order    *list.List
	index    map[string]*list.Element
}

// NewDedup builds a Dedup with an L1 cache capacity of capacity entries.
func NewDedup(l2 DurableLookup, capacity int) *Dedup {
	return &Dedup{
		l2:       l2,
		capacity: capacity,
		order:    list.New(),
		index:    make(map[string]*list.Element),
	}
}

// Filter partitions keys into those seen before (duplicates, to be
// dropped) and those genuinely new. New keys are recorded in L1 before
// returning so a duplicate arriving moments later is caught without a
// round trip to L2.
func (d *Dedup) Filter(ctx context.Context, keys []string) (duplicates map[string]bool, err error) {
	duplicates = make(map[string]bool, len(keys))

	var misses []string
	d.mu.Lock()
	for _, k := range keys {
		if elem, ok := d.index[k]; ok {
			d.order.MoveToFront(elem)
			duplicates[k] = true
		} else {
			misses = append(misses, k)
		}
	}
	d.mu.Unlock()

	if len(misses) > 0 && d.l2 != nil {
		seenInL2, err := d.l2.SeenFingerprints(ctx, misses)
		if err != nil {
			return nil, err
		}
		for _, k := range misses {
			if seenInL2[k] {
				duplicates[k] = true
			}
		}
	}

	d.mu.Lock()
	for _, k := range keys {
		if duplicates[k] {
			continue
		}
		d.insertLocked(k)
	}
	d.mu.Unlock()

	return duplicates, nil
}

func (d *Dedup) insertLocked(key string) {
	if _, ok := d.index[key]; ok {
		return
	}
	elem := d.order.PushFront(key)
	d.index[key] = elem

	for d.order.Len() > d.capacity {
		oldest := d.order.Back()
		if oldest == nil {
			break
		}
		d.order.Remove(oldest)
		delete(d.index, oldest.Value.(string))
	}
}
