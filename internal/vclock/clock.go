// Package vclock implements the vector-clock algebra that the rest of the
// store builds on: fixed-length counter vectors, componentwise merge, and
// the causal-readiness predicate used to decide whether an inbound
// replication may be applied now or must wait.
//
// Interview explanation — why a fixed-length slice and not a map:
//
//	A map keyed by node id silently defaults a missing entry to zero, which
//	hides the difference between "this node has done nothing yet" and
//	"we forgot to carry this node's count along". A fixed-length slice
//	indexed by node id can't have that failure mode: every node's slot
//	always exists, so the length check below is the only validation we
//	ever need to do on an inbound stamp.
package vclock

import (
	"errors"
	"sync"
)

// ErrInvalidStamp is returned when an inbound stamp's length does not match
// the clock's configured node count.
var ErrInvalidStamp = errors.New("vclock: stamp length mismatch")

// Stamp is a snapshot of a vector clock: one non-negative counter per node,
// indexed by NodeID. Once handed to a caller it must not be mutated in
// place — treat it as immutable and Clone before editing.
type Stamp []uint64

// New returns an all-zero stamp of length n.
func New(n int) Stamp {
	return make(Stamp, n)
}

// Clone returns an independent copy.
func (s Stamp) Clone() Stamp {
	c := make(Stamp, len(s))
	copy(c, s)
	return c
}

// Len returns the number of components.
func (s Stamp) Len() int {
	return len(s)
}

// Equal reports whether two stamps have the same length and components.
func (s Stamp) Equal(o Stamp) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] != o[i] {
			return false
		}
	}
	return true
}

// LessEq reports whether s[i] <= o[i] for every i — the "has o observed
// everything s has" partial order. The readiness predicate does not use it.
func (s Stamp) LessEq(o Stamp) bool {
	if len(s) != len(o) {
		return false
	}
	for i := range s {
		if s[i] > o[i] {
			return false
		}
	}
	return true
}

// Readiness is the outcome of checking an inbound stamp against the local
// clock.
type Readiness int

const (
	// Ready means every causal prerequisite has been observed; the write
	// may be applied now.
	Ready Readiness = iota
	// Buffer means at least one prerequisite is missing; the write must
	// wait in the pending buffer.
	Buffer
	// Duplicate means the sender's component has already been delivered;
	// this exact event (or an older one from that sender) was seen before.
	Duplicate
)

// Clock is a mutex-guarded vector clock owned by a single node.
type Clock struct {
	mu   sync.Mutex
	self int
	vec  Stamp
}

// NewClock creates a clock for node self among n total nodes, starting at
// all zeros.
func NewClock(self, n int) *Clock {
	return &Clock{self: self, vec: New(n)}
}

// Increment atomically bumps this node's own component and returns a
// snapshot of the full vector after the bump. This is the only operation
// that advances a component without an inbound stamp; every other change
// goes through Merge, which can also raise component `self` (as WAL replay
// and snapshot load do on restart).
func (c *Clock) Increment() Stamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vec[c.self]++
	return c.vec.Clone()
}

// Merge folds other into the local clock componentwise-max. Fails with
// ErrInvalidStamp if other's length does not match.
func (c *Clock) Merge(other Stamp) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mergeLocked(other)
}

func (c *Clock) mergeLocked(other Stamp) error {
	if len(other) != len(c.vec) {
		return ErrInvalidStamp
	}
	for i, v := range other {
		if v > c.vec[i] {
			c.vec[i] = v
		}
	}
	return nil
}

// ReadyFor evaluates the causal-readiness predicate for an inbound stamp
// from sender against the current local clock, atomically with any
// concurrent Increment/Merge.
//
// The predicate (the crux of the whole design):
//
//	other[sender] == local[sender] + 1   — exactly the next event from
//	                                        that sender: no gaps, no dupes
//	for all j != sender: other[j] <= local[j] — every other dependency has
//	                                             already been observed
//
// other[sender] <= local[sender] is treated as Duplicate rather than an
// error: an idempotent retry of an already-applied (or stale) event.
func (c *Clock) ReadyFor(other Stamp, sender int) (Readiness, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(other) != len(c.vec) {
		return Buffer, ErrInvalidStamp
	}
	if sender < 0 || sender >= len(c.vec) {
		return Buffer, ErrInvalidStamp
	}

	if other[sender] <= c.vec[sender] {
		return Duplicate, nil
	}
	if other[sender] != c.vec[sender]+1 {
		return Buffer, nil
	}
	for j := range c.vec {
		if j == sender {
			continue
		}
		if other[j] > c.vec[j] {
			return Buffer, nil
		}
	}
	return Ready, nil
}

// Snapshot returns a copy of the current vector, for reads/introspection.
func (c *Clock) Snapshot() Stamp {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.vec.Clone()
}

// ApplyAndMerge is a convenience used by the store at apply time: it
// re-checks readiness and merges atomically under the same lock, so the
// check-then-merge pair can never race against a concurrent Increment or
// another ApplyAndMerge. It returns the readiness observed; callers should
// only treat Ready as authorization to write the entry.
func (c *Clock) ApplyAndMerge(other Stamp, sender int) (Readiness, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(other) != len(c.vec) {
		return Buffer, ErrInvalidStamp
	}
	if sender < 0 || sender >= len(c.vec) {
		return Buffer, ErrInvalidStamp
	}

	if other[sender] <= c.vec[sender] {
		return Duplicate, nil
	}
	if other[sender] != c.vec[sender]+1 {
		return Buffer, nil
	}
	for j := range c.vec {
		if j == sender {
			continue
		}
		if other[j] > c.vec[j] {
			return Buffer, nil
		}
	}
	if err := c.mergeLocked(other); err != nil {
		return Buffer, err
	}
	return Ready, nil
}

// Self returns the node id this clock belongs to.
func (c *Clock) Self() int {
	return c.self
}
