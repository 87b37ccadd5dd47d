// Package dispatcher is the transport-agnostic core every adapter (HTTP
// today, anything else tomorrow) calls into. It owns no wire format opinions
// of its own — it only turns requests into store/replicator calls and
// records what happened.
//
// Grounded on the teacher's internal/api.Handler: same one-struct,
// one-method-per-route shape, but lifted out from under gin.Context so the
// HTTP layer becomes a thin adapter instead of where the logic lives.
package dispatcher

import (
	"context"
	"time"

	"causal-kv/internal/cluster"
	"causal-kv/internal/metrics"
	"causal-kv/internal/store"
	"causal-kv/internal/vclock"
)

// Dispatcher wires a local Store to a Replicator and an optional metrics
// Recorder. Every exported method corresponds 1:1 to one of spec §6's
// external operations.
type Dispatcher struct {
	store      *store.Store
	replicator *cluster.Replicator
	metrics    *metrics.Recorder
	nodeID     int
	startedAt  time.Time
}

// New builds a Dispatcher. metrics may be nil, in which case observations
// are silently skipped — useful for tests that don't care about counters.
func New(s *store.Store, r *cluster.Replicator, m *metrics.Recorder, nodeID int) *Dispatcher {
	return &Dispatcher{store: s, replicator: r, metrics: m, nodeID: nodeID, startedAt: time.Now()}
}

// Write performs a local write and fans the resulting stamped message out to
// every peer. The context is honored only as a cancellation signal for the
// caller's own bookkeeping; the store write itself (a map update plus a WAL
// append when a data dir is configured) doesn't consult it — matching spec §4.2's "LocalWrite never blocks on the
// network."
func (d *Dispatcher) Write(ctx context.Context, key, value string) (vclock.Stamp, error) {
	stamp, err := d.store.LocalWrite(key, value)
	if err != nil {
		return nil, err
	}
	if d.metrics != nil {
		d.metrics.ObserveLocalWrite()
	}
	if d.replicator != nil {
		d.replicator.Publish(cluster.Message{Key: key, Value: value, Stamp: stamp, Sender: d.nodeID})
	}
	d.reportPending()
	return stamp, nil
}

// Replicate applies an inbound replication message from a peer. If ctx is
// already done, it returns ctx's error without touching the store.
func (d *Dispatcher) Replicate(ctx context.Context, key, value string, stamp vclock.Stamp, sender int) (store.Outcome, error) {
	if err := ctx.Err(); err != nil {
		return store.Rejected, err
	}
	outcome, err := d.store.ApplyReplication(key, value, stamp, sender)
	if err != nil {
		return outcome, err
	}
	if d.metrics != nil {
		d.metrics.ObserveReplicate(outcome.String())
	}
	d.reportPending()
	return outcome, nil
}

// Read returns the current value for key, if any.
func (d *Dispatcher) Read(ctx context.Context, key string) (store.Entry, bool) {
	e, ok := d.store.Read(key)
	if d.metrics != nil {
		d.metrics.ObserveRead(ok)
	}
	return e, ok
}

// StatusView is the shape returned by Status: spec §6's debug/status
// contract ({kv, clock, pending}), with node identity and uptime layered on
// for operator inspection. KV is the literal map, not a count — an external
// verifier (in the spirit of the original source's verify_causal_consistency,
// which reads status['kv_store'] directly) needs the real entries to check
// spec invariant 1 against a running node from outside the process.
type StatusView struct {
	NodeID     int                    `json:"node_id"`
	KV         map[string]store.Entry `json:"kv"`
	Clock      vclock.Stamp           `json:"clock"`
	Pending    int                    `json:"pending"`
	UptimeSecs float64                `json:"uptime_seconds"`
}

// Status reports a snapshot of this node's store state.
func (d *Dispatcher) Status(ctx context.Context) StatusView {
	snap := d.store.Snapshot()
	return StatusView{
		NodeID:     d.nodeID,
		KV:         snap.KV,
		Clock:      snap.Clock,
		Pending:    snap.Pending,
		UptimeSecs: time.Since(d.startedAt).Seconds(),
	}
}

func (d *Dispatcher) reportPending() {
	if d.metrics == nil {
		return
	}
	d.metrics.SetPendingDepth(d.store.Snapshot().Pending)
}
