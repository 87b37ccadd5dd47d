// Package cluster fans a locally-applied write out to every peer.
//
// Interview explanation — why per-peer FIFO matters here:
//
//	The causal-readiness predicate requires a strict successor on the
//	sender's axis (spec §4.1): a peer can only accept message k+1 from us
//	once it has accepted message k. If two of our writes to the same peer
//	ever raced and arrived out of order, the peer would buffer the second
//	one forever waiting for a "first" one that already happened. So each
//	peer gets exactly one outbound queue, drained by exactly one goroutine,
//	in send order. Reordering *across* peers is harmless — each peer's
//	causal stream is independent.
package cluster

import (
	"context"
	"log"
	"time"

	"causal-kv/internal/vclock"

	"golang.org/x/sync/errgroup"
)

// Message is the immutable (key, value, stamp, sender) triple handed from a
// completed local write to the replicator. It is safe to share across the
// goroutines fanning it out to every peer.
type Message struct {
	Key    string
	Value  string
	Stamp  vclock.Stamp
	Sender int
}

// PeerClient is the outbound transport a peerQueue uses to deliver one
// message. Implemented by HTTPClient (wireclient.go); kept as an interface here
// so tests can substitute an in-process fake.
type PeerClient interface {
	Replicate(ctx context.Context, addr string, msg Message) error
}

// Replicator owns one peerQueue per remote node and fans every published
// write out to all of them.
type Replicator struct {
	selfID int
	queues []*peerQueue
	client PeerClient
}

// NewReplicator builds a Replicator for selfID given the ordered list of
// peer addresses (index == NodeID; the self entry is present but never
// dialed, per spec §6 configuration rules).
func NewReplicator(selfID int, addrs []string, client PeerClient, timeout time.Duration) *Replicator {
	r := &Replicator{selfID: selfID, client: client}
	for id, addr := range addrs {
		if id == selfID {
			r.queues = append(r.queues, nil)
			continue
		}
		r.queues = append(r.queues, newPeerQueue(id, addr, client, timeout))
	}
	return r
}

// Publish enqueues msg to every peer's queue. Enqueue itself never blocks on
// network I/O — only on the (small, bounded) per-peer channel filling up,
// which is the backpressure point called out in spec §9.
func (r *Replicator) Publish(msg Message) {
	for id, q := range r.queues {
		if id == r.selfID || q == nil {
			continue
		}
		q.enqueue(msg)
	}
}

// Start launches every peer's drain goroutine. Must be called once before
// Publish is used.
func (r *Replicator) Start(ctx context.Context) {
	for _, q := range r.queues {
		if q != nil {
			q.start(ctx)
		}
	}
}

// Close stops every peer queue and waits (bounded by an errgroup) for their
// drain loops to exit. Parallel across peers; each peer's own queue still
// drains its remaining backlog in order before exiting.
func (r *Replicator) Close() error {
	g := new(errgroup.Group)
	for _, q := range r.queues {
		if q == nil {
			continue
		}
		q := q
		g.Go(func() error {
			q.stop()
			return nil
		})
	}
	return g.Wait()
}

// peerQueue is a single serialized outbound queue to one peer: exactly the
// "simplest correct design" spec §4.3 calls for.
type peerQueue struct {
	peerID int
	addr   string
	client PeerClient
	ch     chan Message
	done   chan struct{}
	stopCh chan struct{}
}

func newPeerQueue(peerID int, addr string, client PeerClient, timeout time.Duration) *peerQueue {
	return &peerQueue{
		peerID: peerID,
		addr:   addr,
		client: client,
		ch:     make(chan Message, 256),
		done:   make(chan struct{}),
		stopCh: make(chan struct{}),
	}
}

func (q *peerQueue) enqueue(msg Message) {
	select {
	case q.ch <- msg:
	case <-q.stopCh:
	}
}

func (q *peerQueue) start(ctx context.Context) {
	go q.run(ctx)
}

func (q *peerQueue) run(ctx context.Context) {
	defer close(q.done)
	for {
		select {
		case msg := <-q.ch:
			q.deliver(ctx, msg)
		case <-q.stopCh:
			// Drain whatever is already queued before exiting, preserving
			// FIFO order for the backlog.
			for {
				select {
				case msg := <-q.ch:
					q.deliver(ctx, msg)
				default:
					return
				}
			}
		case <-ctx.Done():
			return
		}
	}
}

// deliver sends msg with bounded retries. A peer that stays unreachable
// after retries is a TransientPeerFailure (spec §7): logged, never
// surfaced to the client whose local write already succeeded, and not
// reconciled by this core — anti-entropy is explicitly out of scope.
func (q *peerQueue) deliver(ctx context.Context, msg Message) {
	const maxAttempts = 3
	backoff := 100 * time.Millisecond

	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-q.stopCh:
				return
			case <-ctx.Done():
				return
			}
			backoff *= 2
		}

		err := q.client.Replicate(ctx, q.addr, msg)
		if err == nil {
			return
		}
		if attempt == maxAttempts-1 {
			log.Printf("replicate to node %d (%s) key=%q: giving up after %d attempts: %v",
				q.peerID, q.addr, msg.Key, maxAttempts, err)
		}
	}
}

func (q *peerQueue) stop() {
	close(q.stopCh)
	<-q.done
}
