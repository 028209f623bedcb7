package consumer

import "context"

// Row is one record reduced to its target-table column values. Target
// tables are opaque to the core (spec §6): the Worker never inspects
// column semantics, it only carries through what a queue's row mapper
// produced.
type Row struct {
	Fingerprint string
	Columns     []any
}

// Store persists validated batches and answers the durable half of the
// two-level dedup check (spec §4.6, §6). One Store is shared by every
// queue's workers in a Consumer process; WriteBatch dispatches by queue
// name to the matching target table.
type Store interface {
	DurableLookup
	WriteBatch(ctx context.Context, queue string, rows []Row) error
}
