// Package store owns the three pieces of state the rest of the node reasons
// about — the key/value map, the local vector clock, and the buffer of
// replications still waiting on a causal prerequisite — behind a single
// mutex. That mutex is the "dispatcher exclusion" the design calls for:
// every local write and every replication apply (including the drain
// cascade it triggers) runs under it, so the map, the clock, and the buffer
// never observe each other mid-update.
//
// Durability (WAL + snapshot) is carried as an ambient concern the same way
// the teacher repo this was grown from carries it, but it sits outside the
// causal contract: every invariant below holds whether or not a WAL is
// attached.
package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"causal-kv/internal/vclock"
)

// Entry is one stored record: the value and the stamp under which it was
// applied. Invariant: Stamp always equals the stamp under which Value was
// actually written (spec invariant 4).
type Entry struct {
	Value string       `json:"value"`
	Stamp vclock.Stamp `json:"stamp"`
}

// Pending is a replication that arrived before its causal prerequisites
// were satisfied.
type Pending struct {
	Key    string       `json:"key"`
	Value  string       `json:"value"`
	Stamp  vclock.Stamp `json:"stamp"`
	Sender int          `json:"sender"`
}

// Outcome is the result of applying an inbound replication. These map
// directly onto the transport-level statuses in spec.md §6: Applied ->
// "processed", Buffered -> "buffered", Duplicate -> "duplicate". Rejected
// is a MalformedMessage and is surfaced as an error, never as a status.
type Outcome int

const (
	Applied Outcome = iota
	Buffered
	Duplicate
	Rejected
)

func (o Outcome) String() string {
	switch o {
	case Applied:
		return "processed"
	case Buffered:
		return "buffered"
	case Duplicate:
		return "duplicate"
	case Rejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Store is the KV map + clock + pending buffer, guarded by a single mutex.
// Safe for concurrent use.
type Store struct {
	mu      sync.Mutex
	kv      map[string]Entry
	clock   *vclock.Clock
	pending []Pending
	wal     *WAL
	dataDir string
	nodeID  int
	n       int
}

// StoreSnapshot is the introspection view returned by Snapshot: a copy of
// the KV map, a copy of the clock, and the current pending-buffer depth.
type StoreSnapshot struct {
	KV      map[string]Entry
	Clock   vclock.Stamp
	Pending int
}

// New opens (or creates) a Store for nodeID among n total nodes. If dataDir
// is empty, the store runs in-memory only with no WAL — used by tests that
// want no filesystem dependence; production boot always supplies a dataDir.
func New(dataDir string, nodeID, n int) (*Store, error) {
	s := &Store{
		kv:     make(map[string]Entry),
		clock:  vclock.NewClock(nodeID, n),
		nodeID: nodeID,
		n:      n,
	}

	if dataDir == "" {
		return s, nil
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	if err := s.loadSnapshot(dataDir); err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}

	wal, err := newWAL(filepath.Join(dataDir, "wal.log"), n)
	if err != nil {
		return nil, fmt.Errorf("open wal: %w", err)
	}
	s.wal = wal
	s.dataDir = dataDir

	if err := s.replayWAL(); err != nil {
		return nil, fmt.Errorf("replay wal: %w", err)
	}

	return s, nil
}

// ─── Public API ─────────────────────────────────────────────────────────────

// LocalWrite increments the local clock and stores (value, stamp) under
// key. Local writes never fail for causal reasons — they only fail if the
// WAL append itself fails (a durability fault, not a causal one).
func (s *Store) LocalWrite(key, value string) (vclock.Stamp, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	stamp := s.clock.Increment()
	if err := s.appendWAL(key, value, stamp); err != nil {
		return nil, fmt.Errorf("wal append: %w", err)
	}
	s.kv[key] = Entry{Value: value, Stamp: stamp}
	return stamp, nil
}

// ApplyReplication is the heart of the causal-consistency contract. See
// spec §4.2:
//
//   - length(stamp) != n, or sender outside [0,n), or sender == self:
//     Rejected.
//   - stamp[sender] <= local clock[sender]: Duplicate, already delivered.
//   - readiness holds now: apply immediately, merge, drain, Applied.
//   - otherwise: buffer it, Buffered.
func (s *Store) ApplyReplication(key, value string, stamp vclock.Stamp, sender int) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if stamp.Len() != s.n || sender < 0 || sender >= s.n || sender == s.nodeID {
		return Rejected, nil
	}

	readiness, err := s.clock.ApplyAndMerge(stamp, sender)
	if err != nil {
		return Rejected, err
	}

	switch readiness {
	case vclock.Duplicate:
		return Duplicate, nil
	case vclock.Buffer:
		s.pending = append(s.pending, Pending{Key: key, Value: value, Stamp: stamp, Sender: sender})
		return Buffered, nil
	}

	if err := s.appendWAL(key, value, stamp); err != nil {
		return Rejected, fmt.Errorf("wal append: %w", err)
	}
	s.kv[key] = Entry{Value: value, Stamp: stamp}
	s.drainLocked()
	return Applied, nil
}

// drainLocked releases every pending entry whose prerequisites are now met,
// running to fixpoint: each pass applies at least one entry or stops. One
// pass walks the buffer once in insertion order; applying an entry can
// unblock another later in the same pass or the next one (the causal-chain
// scenario), so passes repeat until a full pass applies nothing. Must be
// called with s.mu held.
func (s *Store) drainLocked() {
	for {
		appliedAny := false
		survivors := s.pending[:0:0]

		for _, p := range s.pending {
			readiness, err := s.clock.ApplyAndMerge(p.Stamp, p.Sender)
			if err != nil || readiness != vclock.Ready {
				survivors = append(survivors, p)
				continue
			}

			_ = s.appendWAL(p.Key, p.Value, p.Stamp)
			s.kv[p.Key] = Entry{Value: p.Value, Stamp: p.Stamp}
			appliedAny = true
		}

		s.pending = survivors
		if !appliedAny {
			return
		}
	}
}

// Read returns the value and stamp stored under key, served directly from
// the map — never blocked by the pending buffer.
func (s *Store) Read(key string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.kv[key]
	return e, ok
}

// Snapshot returns a point-in-time view for introspection (debug/status).
func (s *Store) Snapshot() StoreSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	kv := make(map[string]Entry, len(s.kv))
	for k, v := range s.kv {
		kv[k] = v
	}
	return StoreSnapshot{
		KV:      kv,
		Clock:   s.clock.Snapshot(),
		Pending: len(s.pending),
	}
}

// ─── Durability plumbing ────────────────────────────────────────────────────

func (s *Store) appendWAL(key, value string, stamp vclock.Stamp) error {
	if s.wal == nil {
		return nil
	}
	return s.wal.append(walEntry{Key: key, Value: value, Stamp: stamp})
}

// replayWAL reads every WAL entry and applies it directly to the map,
// without re-appending it (we are rebuilding memory, not creating history).
// The clock is merged forward to the highest stamp seen per component so a
// restarted node resumes with the causal state it had before the crash.
func (s *Store) replayWAL() error {
	entries, err := s.wal.readAll()
	if err != nil {
		return err
	}
	for _, e := range entries {
		s.kv[e.Key] = Entry{Value: e.Value, Stamp: e.Stamp}
		_ = s.clock.Merge(e.Stamp)
	}
	return nil
}

// snapshotFile is the on-disk shape written by SaveSnapshot / read by
// loadSnapshot: the KV map plus the clock vector at the moment of the
// snapshot (the WAL alone can't reconstruct clock state past the last
// entry it holds once truncated).
type snapshotFile struct {
	KV    map[string]Entry `json:"kv"`
	Clock vclock.Stamp     `json:"clock"`
}

// SaveSnapshot persists the current state to disk and truncates the WAL:
// write to a temp file, atomically rename over the old snapshot, then
// truncate since the snapshot now captures everything the WAL held. The
// store lock is held throughout, so no write can reach the WAL between the
// copy and the truncation.
func (s *Store) SaveSnapshot() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kv := make(map[string]Entry, len(s.kv))
	for k, v := range s.kv {
		kv[k] = v
	}
	clock := s.clock.Snapshot()
	dataDir := s.dataDir

	if dataDir == "" {
		return nil
	}

	path := filepath.Join(dataDir, "snapshot.json")
	tmp := path + ".tmp"

	f, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if err := json.NewEncoder(f).Encode(snapshotFile{KV: kv, Clock: clock}); err != nil {
		f.Close()
		return err
	}
	f.Close()

	if err := os.Rename(tmp, path); err != nil {
		return err
	}

	if s.wal != nil {
		return s.wal.truncate()
	}
	return nil
}

func (s *Store) loadSnapshot(dataDir string) error {
	path := filepath.Join(dataDir, "snapshot.json")
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	var snap snapshotFile
	if err := json.NewDecoder(f).Decode(&snap); err != nil {
		return err
	}
	if snap.KV != nil {
		s.kv = snap.KV
	}
	if snap.Clock != nil {
		_ = s.clock.Merge(snap.Clock)
	}
	return nil
}

// Close releases the WAL file handle. Call during shutdown.
func (s *Store) Close() error {
	if s.wal == nil {
		return nil
	}
	return s.wal.close()
}
