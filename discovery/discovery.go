// Package discovery implements the pluggable, concurrent, cancellable node
// discovery pipeline for the overlay: the provider capability, a
// fan-out/fan-in aggregator over several backends, the needs-discovery
// predicate, and the supervised background task that drives a single
// lookup into the endpoint's address book.
package discovery

import (
	"context"
	"time"

	"github.com/kevinjdinicola/ironet/ironet"
)

// MaxAge is the freshness threshold used by NeedsDiscovery: a path that has
// seen traffic more recently than this is considered reachable.
const MaxAge = 10 * time.Second

// Result carries either a successfully resolved item or a terminal error:
// exactly one of Item or Err is meaningful. A non-nil Err is terminal for
// the channel it arrived on.
type Result struct {
	Item ironet.DiscoveryItem
	Err  error
}

// ConnInfo is the per-peer liveness telemetry the needs-discovery predicate
// consults. A nil field means "unknown".
type ConnInfo struct {
	LastReceived   *time.Duration
	LastAliveRelay *time.Duration
}

// Provider is the discovery capability a concrete backend, or a composite
// such as Aggregator, implements.
type Provider interface {
	// Publish notifies this backend that the local endpoint's address info
	// changed. Fire-and-forget: implementations must not block on network
	// work here.
	Publish(info ironet.AddrInfo)

	// Resolve begins resolving node. Returning ok=false means this backend
	// declines to resolve node entirely. Returning ok=true with a channel
	// means the backend is trying; the channel may still deliver zero
	// items before closing. Callers must cancel ctx to abandon in-flight
	// work; well-behaved backends stop sending once ctx is done.
	Resolve(ctx context.Context, ep Endpoint, node ironet.NodeId) (<-chan Result, bool)
}

// Endpoint is the capability the discovery core requires from the
// surrounding transport.
type Endpoint interface {
	// Discovery returns the configured top-level provider, if any.
	Discovery() (Provider, bool)
	// NodeID returns the local identity, used only for logging.
	NodeID() ironet.NodeId
	// ConnectionInfo returns liveness telemetry for node, if known.
	ConnectionInfo(node ironet.NodeId) (*ConnInfo, bool)
	// AddNodeAddr is a best-effort address book insert.
	AddNodeAddr(addr ironet.NodeAddr) error
	// Cancelled is closed when the endpoint is shutting down.
	Cancelled() <-chan struct{}
}
