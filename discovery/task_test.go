package discovery_test

import (
	"context"
	"crypto/ed25519"
	"net/netip"
	"testing"
	"time"

	"github.com/kevinjdinicola/ironet/discotest"
	"github.com/kevinjdinicola/ironet/discovery"
	"github.com/kevinjdinicola/ironet/endpoint"
	"github.com/kevinjdinicola/ironet/ironet"
)

func newNodeID(t *testing.T) ironet.NodeId {
	t.Helper()
	pub, _, err := ed25519.GenerateKey(nil)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	id, err := ironet.NodeIdFromPublicKey(pub)
	if err != nil {
		t.Fatalf("node id: %v", err)
	}
	return id
}

func waitFirst(t *testing.T, task *discovery.Task) error {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	return task.FirstArrived(ctx)
}

// Scenario 1: happy path, single backend.
func TestTaskHappyPathSingleBackend(t *testing.T) {
	shared := discotest.NewSharedBackend()
	e1 := newNodeID(t)
	e2 := newNodeID(t)

	e1Prov := shared.For(e1)
	e1Prov.Publish(ironet.AddrInfo{RelayURL: mustRelay(t, "https://relay.example/r1")})

	book := endpoint.NewMemBook()
	e2ep := endpoint.NewStatic(e2, book, shared.For(e2))

	task, err := discovery.StartTask(context.Background(), e2ep, e1)
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	defer task.Cancel()

	if err := waitFirst(t, task); err != nil {
		t.Fatalf("FirstArrived: %v", err)
	}

	got, ok := book.Get(e1)
	if !ok {
		t.Fatalf("expected address book entry for e1")
	}
	if got.RelayURL.String() != "https://relay.example/r1" {
		t.Fatalf("unexpected relay url %q", got.RelayURL.String())
	}
}

// Scenario 2: one empty provider, one real.
func TestTaskEmptyProviderPlusReal(t *testing.T) {
	shared := discotest.NewSharedBackend()
	e1 := newNodeID(t)
	e2 := newNodeID(t)
	shared.For(e1).Publish(ironet.AddrInfo{RelayURL: mustRelay(t, "https://relay.example/r1")})

	agg := discovery.NewAggregator(discotest.EmptyProvider{}, shared.For(e2))
	book := endpoint.NewMemBook()
	e2ep := endpoint.NewStatic(e2, book, agg)

	task, err := discovery.StartTask(context.Background(), e2ep, e1)
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	defer task.Cancel()
	if err := waitFirst(t, task); err != nil {
		t.Fatalf("FirstArrived: %v", err)
	}
}

// Scenario 3: liar + empty + real -- dial still succeeds because the real
// backend's item reaches the address book alongside the bogus one.
func TestTaskLiarEmptyAndReal(t *testing.T) {
	shared := discotest.NewSharedBackend()
	e1 := newNodeID(t)
	e2 := newNodeID(t)
	shared.For(e1).Publish(ironet.AddrInfo{RelayURL: mustRelay(t, "https://relay.example/r1")})

	agg := discovery.NewAggregator(discotest.EmptyProvider{}, discotest.LyingProvider{}, shared.For(e2))
	book := endpoint.NewMemBook()
	e2ep := endpoint.NewStatic(e2, book, agg)

	task, err := discovery.StartTask(context.Background(), e2ep, e1)
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	defer task.Cancel()
	if err := waitFirst(t, task); err != nil {
		t.Fatalf("FirstArrived: %v", err)
	}

	got, ok := book.Get(e1)
	if !ok {
		t.Fatalf("expected address book entry for e1")
	}
	if got.RelayURL.IsZero() {
		t.Fatalf("expected the real relay url to have landed in the address book")
	}
}

// Scenario 4: liar only -- first_arrived succeeds (an item was produced),
// but it is the unreachable bogus address; reachability is not this core's
// promise.
func TestTaskLiarOnly(t *testing.T) {
	e1 := newNodeID(t)
	e2 := newNodeID(t)

	agg := discovery.NewAggregator(discotest.LyingProvider{})
	book := endpoint.NewMemBook()
	e2ep := endpoint.NewStatic(e2, book, agg)

	task, err := discovery.StartTask(context.Background(), e2ep, e1)
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	defer task.Cancel()
	if err := waitFirst(t, task); err != nil {
		t.Fatalf("FirstArrived: %v", err)
	}

	got, ok := book.Get(e1)
	if !ok {
		t.Fatalf("expected address book entry for e1")
	}
	if len(got.Direct) != 1 {
		t.Fatalf("expected exactly one bogus direct address, got %v", got.Direct)
	}
	if !got.Direct[0].Addr().Is4() {
		t.Fatalf("expected an IPv4 bogus address")
	}
}

// Scenario 5: stale cached address -- maybe_start_after_delay determines
// discovery is needed, still needs it once the delay elapses, and the shared
// backend then contributes the real address.
func TestTaskMaybeStartAfterDelayStaleCache(t *testing.T) {
	shared := discotest.NewSharedBackend()
	shared.ResolveDelay = 20 * time.Millisecond
	e1 := newNodeID(t)
	e2 := newNodeID(t)
	shared.For(e1).Publish(ironet.AddrInfo{Direct: []netip.AddrPort{netip.MustParseAddrPort("203.0.113.9:4242")}})

	book := endpoint.NewMemBook()
	// Pre-seed a stale cached address, as if from a previous session.
	_ = book.AddNodeAddr(ironet.NodeAddr{NodeId: e1, AddrInfo: ironet.AddrInfo{
		Direct: []netip.AddrPort{netip.MustParseAddrPort("240.0.0.1:1000")},
	}})

	e2ep := endpoint.NewStatic(e2, book, shared.For(e2))
	// No telemetry recorded for e1 -> NeedsDiscovery returns true (unknown peer).

	delay := 200 * time.Millisecond
	task, err := discovery.MaybeStartTaskAfterDelay(context.Background(), e2ep, e1, &delay)
	if err != nil {
		t.Fatalf("MaybeStartTaskAfterDelay: %v", err)
	}
	if task == nil {
		t.Fatalf("expected a task to be started")
	}
	defer task.Cancel()
	if err := waitFirst(t, task); err != nil {
		t.Fatalf("FirstArrived: %v", err)
	}

	got, _ := book.Get(e1)
	found := false
	for _, ap := range got.Direct {
		if ap.String() == "203.0.113.9:4242" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected the real address to have been merged in, got %v", got.Direct)
	}
}

// maybe_start_after_delay exits with success and never calls Resolve if
// fresh telemetry arrives within the delay window.
func TestTaskMaybeStartAfterDelayAbortsWhenNoLongerNeeded(t *testing.T) {
	e1 := newNodeID(t)
	e2 := newNodeID(t)

	prov := &neverResolve{t: t}
	book := endpoint.NewMemBook()
	e2ep := endpoint.NewStatic(e2, book, prov)

	delay := 50 * time.Millisecond
	task, err := discovery.MaybeStartTaskAfterDelay(context.Background(), e2ep, e1, &delay)
	if err != nil {
		t.Fatalf("MaybeStartTaskAfterDelay: %v", err)
	}
	if task == nil {
		t.Fatalf("expected a task (telemetry unknown -> needs discovery)")
	}
	defer task.Cancel()

	// Fresh traffic arrives before the delay elapses.
	fresh := time.Duration(0)
	e2ep.SetConnectionInfo(e1, discovery.ConnInfo{LastReceived: &fresh})

	if err := waitFirst(t, task); err != nil {
		t.Fatalf("expected FirstArrived to succeed without ever resolving, got %v", err)
	}
	if prov.resolved {
		t.Fatalf("expected Resolve to never be called")
	}
}

type neverResolve struct {
	t        *testing.T
	resolved bool
}

func (p *neverResolve) Publish(ironet.AddrInfo) {}

func (p *neverResolve) Resolve(context.Context, discovery.Endpoint, ironet.NodeId) (<-chan discovery.Result, bool) {
	p.t.Helper()
	p.resolved = true
	p.t.Fatal("Resolve should not have been called")
	return nil, false
}

// Scenario 6: no provider configured.
func TestTaskNoProviderConfigured(t *testing.T) {
	e1 := newNodeID(t)
	e2 := newNodeID(t)
	book := endpoint.NewMemBook()
	e2ep := endpoint.NewStatic(e2, book, nil)

	if _, err := discovery.StartTask(context.Background(), e2ep, e1); err != discovery.ErrNoProvider {
		t.Fatalf("StartTask: got %v, want ErrNoProvider", err)
	}

	// maybe_start_after_delay returns "no task" if the predicate says
	// not-needed, otherwise a configuration error.
	fresh := time.Duration(0)
	e2ep.SetConnectionInfo(e1, discovery.ConnInfo{LastReceived: &fresh})
	task, err := discovery.MaybeStartTaskAfterDelay(context.Background(), e2ep, e1, nil)
	if err != nil {
		t.Fatalf("expected no error when discovery is not needed, got %v", err)
	}
	if task != nil {
		t.Fatalf("expected no task when discovery is not needed")
	}

	// Now force "needs discovery" with no provider configured.
	e2epNoInfo := endpoint.NewStatic(e2, book, nil)
	task, err = discovery.MaybeStartTaskAfterDelay(context.Background(), e2epNoInfo, e1, nil)
	if err != discovery.ErrNoProvider {
		t.Fatalf("got %v, want ErrNoProvider", err)
	}
	if task != nil {
		t.Fatalf("expected no task alongside the error")
	}
}

// First-result exactness & cancellation promptness: cancelling a task means
// no further address-book writes occur for it, and FirstArrived never
// blocks forever.
func TestTaskCancelPromptness(t *testing.T) {
	e1 := newNodeID(t)
	e2 := newNodeID(t)

	slow := &streamAfterCancel{release: make(chan struct{})}
	book := endpoint.NewMemBook()
	e2ep := endpoint.NewStatic(e2, book, slow)

	task, err := discovery.StartTask(context.Background(), e2ep, e1)
	if err != nil {
		t.Fatalf("StartTask: %v", err)
	}
	if task.Node() != e1 {
		t.Fatalf("Node() = %v, want %v", task.Node(), e1)
	}

	task.Cancel()
	if err := waitFirst(t, task); err == nil {
		t.Fatalf("expected FirstArrived to fail after cancellation")
	}
	select {
	case <-task.Done():
	case <-time.After(2 * time.Second):
		t.Fatalf("task did not shut down after Cancel")
	}

	// Now let the backend try to deliver an item; it must not reach the
	// address book because the task already tore down.
	close(slow.release)
	time.Sleep(50 * time.Millisecond)
	if _, ok := book.Get(e1); ok {
		t.Fatalf("address book was written to after cancellation")
	}
}

type streamAfterCancel struct {
	release chan struct{}
}

func (s *streamAfterCancel) Publish(ironet.AddrInfo) {}

func (s *streamAfterCancel) Resolve(ctx context.Context, _ discovery.Endpoint, _ ironet.NodeId) (<-chan discovery.Result, bool) {
	ch := make(chan discovery.Result, 1)
	go func() {
		defer close(ch)
		select {
		case <-s.release:
		case <-ctx.Done():
			return
		}
		select {
		case ch <- discovery.Result{Item: ironet.DiscoveryItem{
			Provenance: "late",
			AddrInfo:   ironet.AddrInfo{RelayURL: mustRelayPkg("https://relay.example/late")},
		}}:
		case <-ctx.Done():
		}
	}()
	return ch, true
}

func mustRelay(t *testing.T, s string) ironet.RelayURL {
	t.Helper()
	r, err := ironet.ParseRelayURL(s)
	if err != nil {
		t.Fatalf("parse relay url: %v", err)
	}
	return r
}

func mustRelayPkg(s string) ironet.RelayURL {
	r, err := ironet.ParseRelayURL(s)
	if err != nil {
		panic(err)
	}
	return r
}
