package discovery

import (
	"context"
	"sync"
	"time"

	"github.com/kevinjdinicola/ironet/ironet"
	logging "github.com/sirupsen/logrus"
)

// Task supervises one lookup against one target node. It is exclusively
// owned by the caller that started it: Cancel (or simply letting it run
// until the endpoint's own context is cancelled) is the only way to stop
// its background goroutine. A Task that is neither cancelled nor allowed to
// run to completion leaks its goroutine until the endpoint shuts down --
// callers MUST call Cancel when a dial attempt is abandoned.
type Task struct {
	node ironet.NodeId

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	firstOnce sync.Once
	first     chan error
}

// StartTask starts a discovery task for node immediately. It fails with
// ErrNoProvider if ep has no discovery provider configured.
func StartTask(ctx context.Context, ep Endpoint, node ironet.NodeId) (*Task, error) {
	if _, ok := ep.Discovery(); !ok {
		return nil, ErrNoProvider
	}
	t := newTask(ctx, ep, node)
	tasksStarted.Inc()
	go t.run(ep, node, nil)
	return t, nil
}

// MaybeStartTaskAfterDelay consults NeedsDiscovery first; if discovery is
// not warranted it returns (nil, nil) without spawning anything. If
// warranted and delay is non-nil, the task sleeps for *delay and
// re-evaluates the predicate before actually resolving: if no longer
// needed, it resolves FirstArrived with success and exits having never
// called Resolve. This lets a cached/opportunistic address race discovery.
func MaybeStartTaskAfterDelay(ctx context.Context, ep Endpoint, node ironet.NodeId, delay *time.Duration) (*Task, error) {
	info, _ := ep.ConnectionInfo(node)
	if !NeedsDiscovery(info) {
		tasksSkipped.Inc()
		return nil, nil
	}
	if _, ok := ep.Discovery(); !ok {
		return nil, ErrNoProvider
	}
	t := newTask(ctx, ep, node)
	tasksStarted.Inc()
	go t.run(ep, node, delay)
	return t, nil
}

func newTask(ctx context.Context, ep Endpoint, node ironet.NodeId) *Task {
	taskCtx, cancel := context.WithCancel(ctx)
	t := &Task{
		node:   node,
		ctx:    taskCtx,
		cancel: cancel,
		done:   make(chan struct{}),
		first:  make(chan error, 1),
	}
	go func() {
		select {
		case <-ep.Cancelled():
			cancel()
		case <-taskCtx.Done():
		}
	}()
	return t
}

// FirstArrived blocks until the task delivers its first non-empty item
// (success) or reaches a terminal condition without one (error). It
// resolves exactly once per task.
func (t *Task) FirstArrived(ctx context.Context) error {
	select {
	case err, ok := <-t.first:
		if !ok {
			return context.Canceled
		}
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Cancel aborts the task immediately. Safe to call more than once and
// after the task has already finished on its own.
func (t *Task) Cancel() {
	t.cancel()
}

// Node reports the node this task is resolving.
func (t *Task) Node() ironet.NodeId {
	return t.node
}

// Done closes once the task's background goroutine has returned, whether
// by success, error, or cancellation. Callers that track a set of
// in-flight tasks can use it to reap finished ones without polling
// FirstArrived again.
func (t *Task) Done() <-chan struct{} {
	return t.done
}

// resolveFirst sends err on the first-result channel exactly once, then
// closes it so a second send is never attempted.
func (t *Task) resolveFirst(err error) {
	t.firstOnce.Do(func() {
		observeFirstResult(err == nil)
		t.first <- err
		close(t.first)
	})
}

func (t *Task) run(ep Endpoint, node ironet.NodeId, delay *time.Duration) {
	defer close(t.done)
	defer t.cancel()
	ctx := t.ctx

	log := logging.WithFields(logging.Fields{
		"component": "discovery.Task",
		"me":        ep.NodeID(),
		"node":      node,
	})

	if delay != nil {
		select {
		case <-ctx.Done():
			t.resolveFirst(context.Canceled)
			return
		case <-time.After(*delay):
		}
		info, _ := ep.ConnectionInfo(node)
		if !NeedsDiscovery(info) {
			log.Debug("discovery no longer needed after delay, aborting")
			t.resolveFirst(nil)
			return
		}
	}

	prov, ok := ep.Discovery()
	if !ok {
		t.resolveFirst(ErrNoProvider)
		return
	}

	stream, ok := prov.Resolve(ctx, ep, node)
	if !ok {
		t.resolveFirst(errNoResolver(node))
		return
	}

	log.Debug("discovery: start")
	gotFirst := false
	for {
		select {
		case <-ctx.Done():
			log.Debug("discovery: cancelled")
			t.resolveFirst(context.Canceled)
			return
		case r, ok := <-stream:
			if !ok {
				log.Debug("discovery: stream ended")
				if !gotFirst {
					t.resolveFirst(errNoResults(node))
				}
				return
			}
			if r.Err != nil {
				log.WithError(r.Err).Warn("discovery: backend produced error")
				if !gotFirst {
					t.resolveFirst(errNoResults(node))
				}
				return
			}
			if r.Item.AddrInfo.IsEmpty() {
				itemsEmpty.WithLabelValues(r.Item.Provenance).Inc()
				log.WithField("provenance", r.Item.Provenance).Debug("discovery: empty address, skipping")
				continue
			}
			itemsReceived.WithLabelValues(r.Item.Provenance).Inc()
			itemLog := log.WithField("provenance", r.Item.Provenance)
			if updated, ok := r.Item.LastUpdatedTime(); ok {
				itemLog = itemLog.WithField("age", time.Since(updated))
			}
			itemLog.Debug("discovery: new address found")
			if err := ep.AddNodeAddr(ironet.NodeAddr{NodeId: node, AddrInfo: r.Item.AddrInfo}); err != nil {
				log.WithError(err).Debug("discovery: address book insert failed, ignoring")
			}
			if !gotFirst {
				gotFirst = true
				t.resolveFirst(nil)
			}
		}
	}
}
