// Package flow implements the relay's flow table: the mapping from a
// client's address to the dedicated upstream socket the relay uses to
// talk to the fixed destination on that client's behalf.
package flow

import (
	"net"
	"sync"
	"time"

	"github.com/postalsys/udprelay/internal/netaddr"
)

// Entry owns one client<->upstream mapping and its upstream socket.
// Its fields are set before Insert; afterwards only the last-seen
// timestamp changes, through Touch.
type Entry struct {
	ClientAddr     netaddr.Addr
	Upstream       *net.UDPConn
	LocalBoundAddr netaddr.Addr

	mu       sync.Mutex
	lastSeen time.Time
}

// Touch refreshes the entry's last-seen timestamp to now.
func (e *Entry) Touch(now time.Time) {
	e.mu.Lock()
	e.lastSeen = now
	e.mu.Unlock()
}

// LastSeen returns the entry's last-seen timestamp.
func (e *Entry) LastSeen() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSeen
}

// Idle reports whether the entry has been silent for at least maxAge,
// measured from now.
func (e *Entry) Idle(now time.Time, maxAge time.Duration) bool {
	return now.Sub(e.LastSeen()) >= maxAge
}

// Table is the single owner of every flow's upstream socket: a map keyed
// by client address, plus a secondary index keyed by the upstream
// connection's pointer identity for O(1) reverse lookup on read events.
// Safe for concurrent use by the engine's listener and per-flow
// goroutines (modeled on socks5.connTracker's mutex-guarded map, with a
// second index the way udp.Handler keeps both "by stream id" and "by
// request id" maps over the same set of associations).
type Table struct {
	mu         sync.Mutex
	byClient   map[netaddr.Addr]*Entry
	byUpstream map[*net.UDPConn]*Entry
}

// NewTable creates an empty flow table.
func NewTable() *Table {
	return &Table{
		byClient:   make(map[netaddr.Addr]*Entry),
		byUpstream: make(map[*net.UDPConn]*Entry),
	}
}

// FindByClient returns the flow for a client address, if any.
func (t *Table) FindByClient(addr netaddr.Addr) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byClient[addr]
	return e, ok
}

// FindByUpstream returns the flow owning the given upstream socket, if any.
func (t *Table) FindByUpstream(conn *net.UDPConn) (*Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byUpstream[conn]
	return e, ok
}

// Insert adds a new flow to both indices. It is a programming error to
// insert a client address or upstream socket already present in the
// table; callers must look up first.
func (t *Table) Insert(e *Entry) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.byClient[e.ClientAddr]; exists {
		panic("flow: duplicate client address on insert: " + e.ClientAddr.String())
	}
	if _, exists := t.byUpstream[e.Upstream]; exists {
		panic("flow: duplicate upstream socket on insert")
	}

	t.byClient[e.ClientAddr] = e
	t.byUpstream[e.Upstream] = e
}

// Remove deletes the flow from both indices and closes its upstream
// socket. Safe to call while iterating (see IterateExpire) and safe to
// call more than once for the same entry.
func (t *Table) Remove(e *Entry) {
	t.mu.Lock()
	cur, present := t.byClient[e.ClientAddr]
	present = present && cur == e
	if present {
		delete(t.byClient, e.ClientAddr)
		delete(t.byUpstream, e.Upstream)
	}
	t.mu.Unlock()

	if present {
		e.Upstream.Close()
	}
}

// Len returns the number of live flows.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.byClient)
}

// IterateExpire removes and closes every flow for which forceAll is true
// or now-LastSeen >= maxAge. It snapshots the table's entries before
// removing any of them, so it tolerates removing the flow a caller is
// currently examining and never observes a half-mutated map.
func (t *Table) IterateExpire(now time.Time, maxAge time.Duration, forceAll bool) []*Entry {
	t.mu.Lock()
	snapshot := make([]*Entry, 0, len(t.byClient))
	for _, e := range t.byClient {
		snapshot = append(snapshot, e)
	}
	t.mu.Unlock()

	var expired []*Entry
	for _, e := range snapshot {
		if forceAll || e.Idle(now, maxAge) {
			t.Remove(e)
			expired = append(expired, e)
		}
	}
	return expired
}
