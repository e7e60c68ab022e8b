// Package discotest provides the in-memory discovery backends used by the
// core's seed test suite: a shared publish/resolve backend, a backend that
// accepts every resolve but returns an empty stream, and a backend that always lies
// about an unreachable address.
package discotest

import (
	"context"
	"fmt"
	"math/rand"
	"net/netip"
	"sync"
	"time"

	"github.com/kevinjdinicola/ironet/discovery"
	"github.com/kevinjdinicola/ironet/ironet"
)

// SharedProvenance is the provenance string used by every backend vended
// from a SharedBackend, matching the seed suite's expectation of
// "test-disco".
const SharedProvenance = "test-disco"

// SharedBackend is an in-memory publish/resolve backend shared by multiple
// endpoints in a test, the way a real DHT or DNS registrar would be shared
// across peers.
type SharedBackend struct {
	mu    sync.Mutex
	nodes map[ironet.NodeId]storedInfo

	// ResolveDelay, if non-zero, is how long Resolve waits before emitting
	// its item, giving tests a way to race discovery against a cached
	// address.
	ResolveDelay time.Duration
}

type storedInfo struct {
	info ironet.AddrInfo
	ts   int64
}

// NewSharedBackend returns an empty SharedBackend.
func NewSharedBackend() *SharedBackend {
	return &SharedBackend{nodes: make(map[ironet.NodeId]storedInfo)}
}

// For returns a discovery.Provider bound to node: its Publish stores the
// given address info under node, and its Resolve (for any target) looks up
// the target's stored info.
func (b *SharedBackend) For(node ironet.NodeId) discovery.Provider {
	return &sharedFront{backend: b, self: node}
}

type sharedFront struct {
	backend *SharedBackend
	self    ironet.NodeId
}

func (f *sharedFront) Publish(info ironet.AddrInfo) {
	f.backend.mu.Lock()
	defer f.backend.mu.Unlock()
	f.backend.nodes[f.self] = storedInfo{info: info, ts: time.Now().UnixMicro()}
}

func (f *sharedFront) Resolve(ctx context.Context, _ discovery.Endpoint, node ironet.NodeId) (<-chan discovery.Result, bool) {
	f.backend.mu.Lock()
	stored, ok := f.backend.nodes[node]
	delay := f.backend.ResolveDelay
	f.backend.mu.Unlock()
	if !ok {
		ch := make(chan discovery.Result)
		close(ch)
		return ch, true
	}

	ch := make(chan discovery.Result, 1)
	go func() {
		defer close(ch)
		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
		ts := stored.ts
		item := ironet.DiscoveryItem{
			Provenance:  SharedProvenance,
			LastUpdated: &ts,
			AddrInfo:    stored.info,
		}
		select {
		case ch <- discovery.Result{Item: item}:
		case <-ctx.Done():
		}
	}()
	return ch, true
}

// EmptyProvider always accepts a resolve and immediately closes an empty
// stream: it contributes no items, but is distinguishable from "declines".
type EmptyProvider struct{}

func (EmptyProvider) Publish(ironet.AddrInfo) {}

func (EmptyProvider) Resolve(context.Context, discovery.Endpoint, ironet.NodeId) (<-chan discovery.Result, bool) {
	ch := make(chan discovery.Result)
	close(ch)
	return ch, true
}

// LyingProvider always resolves to a bogus, unreachable address drawn from
// the 240.0.0.0/4 reserved range: useful for exercising "delivery of
// addresses is promised, reachability is not".
type LyingProvider struct {
	// Delay, if non-zero, is how long Resolve waits before emitting.
	Delay time.Duration
}

const lyingProvenance = "lying-disco"

func (p LyingProvider) Publish(ironet.AddrInfo) {}

func (p LyingProvider) Resolve(ctx context.Context, _ discovery.Endpoint, _ ironet.NodeId) (<-chan discovery.Result, bool) {
	ch := make(chan discovery.Result, 1)
	go func() {
		defer close(ch)
		if p.Delay > 0 {
			select {
			case <-time.After(p.Delay):
			case <-ctx.Done():
				return
			}
		}
		port := uint16(10000 + rand.Intn(10000))
		addr := netip.MustParseAddrPort(fmt.Sprintf("240.0.0.1:%d", port))
		ts := time.Now().Add(-100 * time.Millisecond).UnixMicro()
		item := ironet.DiscoveryItem{
			Provenance:  lyingProvenance,
			LastUpdated: &ts,
			AddrInfo:    ironet.AddrInfo{Direct: []netip.AddrPort{addr}},
		}
		select {
		case ch <- discovery.Result{Item: item}:
		case <-ctx.Done():
		}
	}()
	return ch, true
}
