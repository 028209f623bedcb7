// Package table is the Gateway's connection table: the single source of
// truth mapping a device identity to its live write handle (spec §4.2).
// Grounded on the device/StreamWriter registry this pipeline replaces —
// one map keyed by identity, one by remote address, a single lock guarding
// both, register-or-replace on re-announce, and an idle sweep.
package table

import (
	"net"
	"sync"
	"time"
)

// Conn is the write side of a device connection. Close is idempotent.
type Conn interface {
	Write(b []byte) (int, error)
	Close() error
	RemoteAddr() net.Addr
}

// Record is one live device connection tracked by the table.
type Record struct {
	Conn          Conn
	Identity      string // empty until the device's first identity frame
	RemoteAddr    string
	ConnectedAt   time.Time
	lastActivity  time.Time
}

// LastActivity returns the last time the record was touched.
func (r *Record) LastActivity() time.Time { return r.lastActivity }

// Table is the connection table. One mutex guards both indexes; no
// suspension point (I/O, channel send, timer) may be reached while it is
// held (spec §4.8 "no suspension while holding the connection-table
// mutex").
type Table struct {
	mu         sync.Mutex
	byIdentity map[string]*Record
	byAddr     map[string]*Record
}

// New returns an empty connection table.
func New() *Table {
	return &Table{
		byIdentity: make(map[string]*Record),
		byAddr:     make(map[string]*Record),
	}
}

// RegisterAnonymous adds a connection before its identity frame has
// arrived, keyed only by remote address.
func (t *Table) RegisterAnonymous(conn Conn) *Record {
	now := time.Now()
	rec := &Record{
		Conn:         conn,
		RemoteAddr:   conn.RemoteAddr().String(),
		ConnectedAt:  now,
		lastActivity: now,
	}
	t.mu.Lock()
	t.byAddr[rec.RemoteAddr] = rec
	t.mu.Unlock()
	return rec
}

// Bind assigns identity to rec. If another live connection already holds
// that identity, it is evicted first: at most one connection per identity
// holds the table at a time (spec §4.2 invariant). Bind returns the
// evicted record's Conn, or nil if there was none, so the caller can close
// it outside the lock.
func (t *Table) Bind(rec *Record, identity string) (evicted Conn) {
	t.mu.Lock()
	if existing, ok := t.byIdentity[identity]; ok && existing != rec {
		evicted = existing.Conn
		delete(t.byAddr, existing.RemoteAddr)
	}
	rec.Identity = identity
	rec.lastActivity = time.Now()
	t.byIdentity[identity] = rec
	t.mu.Unlock()
	return evicted
}

// Touch refreshes a record's last-activity timestamp.
func (t *Table) Touch(rec *Record) {
	t.mu.Lock()
	rec.lastActivity = time.Now()
	t.mu.Unlock()
}

// Lookup returns the live record for identity, if any.
func (t *Table) Lookup(identity string) (*Record, bool) {
	t.mu.Lock()
	rec, ok := t.byIdentity[identity]
	t.mu.Unlock()
	return rec, ok
}

// Remove deletes rec from both indexes. It is a no-op if rec was already
// removed or superseded by a later Bind for the same identity.
func (t *Table) Remove(rec *Record) {
	t.mu.Lock()
	if rec.Identity != "" {
		if current, ok := t.byIdentity[rec.Identity]; ok && current == rec {
			delete(t.byIdentity, rec.Identity)
		}
	}
	if current, ok := t.byAddr[rec.RemoteAddr]; ok && current == rec {
		delete(t.byAddr, rec.RemoteAddr)
	}
	t.mu.Unlock()
}

// Identities returns a snapshot of every identity currently bound to a
// live connection. Used by the downlink command poller to scope outbox
// claims to devices it can actually reach right now (spec §4.4).
func (t *Table) Identities() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.byIdentity))
	for id := range t.byIdentity {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of tracked connections (identified or not).
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byAddr)
}

// Sweep collects connections idle longer than maxIdle. The caller closes
// the returned Conns outside the lock — Sweep itself never blocks on I/O.
func (t *Table) Sweep(maxIdle time.Duration) []Conn {
	cutoff := time.Now().Add(-maxIdle)
	var idle []Conn

	t.mu.Lock()
	for _, rec := range t.byAddr {
		if rec.lastActivity.Before(cutoff) {
			idle = append(idle, rec.Conn)
		}
	}
	t.mu.Unlock()

	for _, conn := range idle {
		t.removeByAddr(conn.RemoteAddr().String())
	}
	return idle
}

func (t *Table) removeByAddr(addr string) {
	t.mu.Lock()
	if rec, ok := t.byAddr[addr]; ok {
		if rec.Identity != "" {
			if current, ok := t.byIdentity[rec.Identity]; ok && current == rec {
				delete(t.byIdentity, rec.Identity)
			}
		}
		delete(t.byAddr, addr)
	}
	t.mu.Unlock()
}

// CloseAll snapshots every tracked connection and returns them for the
// caller to close outside the lock, then clears the table.
func (t *Table) CloseAll() []Conn {
	t.mu.Lock()
	conns := make([]Conn, 0, len(t.byAddr))
	for _, rec := range t.byAddr {
		conns = append(conns, rec.Conn)
	}
	t.byAddr = make(map[string]*Record)
	t.byIdentity = make(map[string]*Record)
	t.mu.Unlock()
	return conns
}
