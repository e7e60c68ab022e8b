// Package endpoint provides a minimal, in-memory discovery.Endpoint
// implementation used by tests and small examples that need a concrete
// transport stand-in: an address book, per-peer liveness telemetry, and an
// endpoint-wide shutdown signal, without any real networking.
package endpoint

import (
	"sync"

	"github.com/kevinjdinicola/ironet/discovery"
	"github.com/kevinjdinicola/ironet/ironet"
)

// MemBook is an in-memory address book: idempotent point-inserts keyed by
// NodeId, safe under concurrent AddNodeAddr calls.
type MemBook struct {
	mu   sync.Mutex
	addr map[ironet.NodeId]ironet.AddrInfo
}

// NewMemBook returns an empty MemBook.
func NewMemBook() *MemBook {
	return &MemBook{addr: make(map[ironet.NodeId]ironet.AddrInfo)}
}

// AddNodeAddr merges addr's direct addresses and relay URL into whatever is
// already on file for addr.NodeId.
func (b *MemBook) AddNodeAddr(addr ironet.NodeAddr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := b.addr[addr.NodeId]
	if !addr.AddrInfo.RelayURL.IsZero() {
		merged.RelayURL = addr.AddrInfo.RelayURL
	}
	for _, ap := range addr.AddrInfo.Direct {
		merged = merged.WithDirect(ap)
	}
	b.addr[addr.NodeId] = merged
	return nil
}

// Get returns the current AddrInfo for node, if any.
func (b *MemBook) Get(node ironet.NodeId) (ironet.AddrInfo, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	info, ok := b.addr[node]
	return info, ok
}

// Static is a minimal discovery.Endpoint: a fixed local identity, a
// configured provider, a MemBook, and per-peer telemetry that tests can
// seed directly. It has no real network; Cancelled is closed by Shutdown.
type Static struct {
	book *MemBook
	self ironet.NodeId
	prov discovery.Provider

	mu      sync.Mutex
	conn    map[ironet.NodeId]discovery.ConnInfo
	done    chan struct{}
	doneSet bool
}

// NewStatic builds a Static endpoint identified by self, using book as its
// address book and prov (which may be nil) as its discovery provider.
func NewStatic(self ironet.NodeId, book *MemBook, prov discovery.Provider) *Static {
	return &Static{
		book: book,
		self: self,
		prov: prov,
		conn: make(map[ironet.NodeId]discovery.ConnInfo),
		done: make(chan struct{}),
	}
}

// Discovery implements discovery.Endpoint.
func (s *Static) Discovery() (discovery.Provider, bool) {
	if s.prov == nil {
		return nil, false
	}
	return s.prov, true
}

// NodeID implements discovery.Endpoint.
func (s *Static) NodeID() ironet.NodeId { return s.self }

// SetConnectionInfo seeds the liveness telemetry NeedsDiscovery will see
// for node.
func (s *Static) SetConnectionInfo(node ironet.NodeId, info discovery.ConnInfo) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn[node] = info
}

// ConnectionInfo implements discovery.Endpoint.
func (s *Static) ConnectionInfo(node ironet.NodeId) (*discovery.ConnInfo, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	info, ok := s.conn[node]
	if !ok {
		return nil, false
	}
	return &info, true
}

// AddNodeAddr implements discovery.Endpoint by delegating to the address
// book.
func (s *Static) AddNodeAddr(addr ironet.NodeAddr) error {
	return s.book.AddNodeAddr(addr)
}

// Cancelled implements discovery.Endpoint.
func (s *Static) Cancelled() <-chan struct{} { return s.done }

// Shutdown closes the cancellation channel, simulating endpoint teardown.
// Safe to call more than once; later calls do nothing.
func (s *Static) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doneSet {
		return
	}
	s.doneSet = true
	close(s.done)
}

// Book returns the underlying address book so tests can assert on it.
func (s *Static) Book() *MemBook { return s.book }
