package discovery

import (
	"context"
	"sync"

	"github.com/kevinjdinicola/ironet/ironet"
	logging "github.com/sirupsen/logrus"
)

// Aggregator is a Provider composed of an ordered list of child providers.
// Publish fans out to every child in order; Resolve fans out to every child
// and merges the accepting children's streams with fair interleaving.
//
// Aggregator is read-only with respect to its child list after
// construction except for Add, which callers may use to register
// additional backends incrementally (e.g. as relay configuration loads).
type Aggregator struct {
	mu       sync.RWMutex
	children []Provider
	log      *logging.Entry
}

// NewAggregator builds an Aggregator over the given providers, in order.
func NewAggregator(providers ...Provider) *Aggregator {
	return &Aggregator{
		children: append([]Provider(nil), providers...),
		log:      logging.WithField("component", "discovery.Aggregator"),
	}
}

// Add registers an additional child provider.
func (a *Aggregator) Add(p Provider) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.children = append(a.children, p)
}

func (a *Aggregator) snapshot() []Provider {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return append([]Provider(nil), a.children...)
}

// Publish forwards info to every child in registration order. Child
// failures are not observable here: Publish itself cannot fail.
func (a *Aggregator) Publish(info ironet.AddrInfo) {
	children := a.snapshot()
	a.log.WithField("children", len(children)).Debug("discovery: publishing to all children")
	for _, child := range children {
		child.Publish(info)
	}
}

// Resolve invokes Resolve on every child and merges the channels of those
// that accept. Children that decline (ok=false) are dropped silently.
// Resolve returns ok=false only when every child declined; otherwise it
// returns a channel even if it turns out to deliver nothing, so callers can
// distinguish "no backend" from "no results yet".
func (a *Aggregator) Resolve(ctx context.Context, ep Endpoint, node ironet.NodeId) (<-chan Result, bool) {
	children := a.snapshot()
	streams := make([]<-chan Result, 0, len(children))
	for _, child := range children {
		ch, ok := child.Resolve(ctx, ep, node)
		if !ok {
			continue
		}
		streams = append(streams, ch)
	}
	log := a.log.WithField("node", node)
	if len(streams) == 0 {
		log.Debug("discovery: every child declined to resolve")
		return nil, false
	}
	log.WithField("accepted", len(streams)).Debug("discovery: merging accepting children")
	return mergeResults(ctx, streams), true
}

// mergeResults fans the given channels into one, preserving each source
// channel's own ordering while interleaving across sources in arrival
// order without priority. It stops early and stops forwarding if ctx is
// cancelled.
//
// A child error is logged here and terminates only that child's pump; it is
// never forwarded downstream. This is what makes merge resilient: a
// consumer reading the merged channel never sees a sibling's failure, only
// its successes.
func mergeResults(ctx context.Context, streams []<-chan Result) <-chan Result {
	out := make(chan Result)
	var wg sync.WaitGroup
	wg.Add(len(streams))
	log := logging.WithField("component", "discovery.Aggregator")
	for _, s := range streams {
		go func(s <-chan Result) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case r, ok := <-s:
					if !ok {
						return
					}
					if r.Err != nil {
						// A failure item is terminal for this substream
						// only; siblings keep running.
						log.WithError(r.Err).WithField("provenance", r.Item.Provenance).
							Warn("discovery: backend produced error")
						return
					}
					select {
					case out <- r:
					case <-ctx.Done():
						return
					}
				}
			}
		}(s)
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}
