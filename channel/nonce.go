package channel

import (
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/musig2"

	"github.com/nervosnetwork/fiber-channeld/musig2x"
)

// NonceRing tracks the at-most-two remote musig2 public nonces retained at
// any time (spec.md §3 invariant, §4.4): the current nonce (matching
// commitment_numbers.remote) and, from the moment we send CommitmentSigned
// until the remote's RevokeAndAck arrives, the "last used" nonce. Losing
// the latter across a restart bricks the channel (spec.md §9 design note),
// so ChannelActorState persists it verbatim.
type NonceRing struct {
	Current      *[musig2.PubNonceSize]byte
	LastUsed     *[musig2.PubNonceSize]byte
}

// Remember records a newly received remote public nonce as current,
// evicting whatever was previously current (invariant: at most two remote
// nonces retained — Current and LastUsed).
func (n *NonceRing) Remember(nonce [musig2.PubNonceSize]byte) {
	n.Current = &nonce
}

// MarkLastUsed snapshots the current nonce as "last used in
// CommitmentSigned" right before we send a CommitmentSigned, per spec.md
// §4.3 step 3: "remember the previously active remote nonce under
// last_used_nonce_in_commitment_signed for the ensuing revoke."
func (n *NonceRing) MarkLastUsed() {
	if n.Current == nil {
		return
	}
	cp := *n.Current
	n.LastUsed = &cp
}

// ClearLastUsed drops the last-used nonce once the corresponding
// RevokeAndAck has been received and processed.
func (n *NonceRing) ClearLastUsed() {
	n.LastUsed = nil
}

// CommitmentPointWindow retains remote per-commitment points indexed by
// commitment number, bounded by max_tlc_number_in_flight+1 and pruned to
// the oldest created_at.remote of any live TLC (spec.md §3, §4.4).
type CommitmentPointWindow struct {
	points map[uint64]*btcec.PublicKey
	bound  int
}

// NewCommitmentPointWindow returns a window bounded to hold at most
// maxTlcNumberInFlight+1 points.
func NewCommitmentPointWindow(maxTlcNumberInFlight uint64) *CommitmentPointWindow {
	return &CommitmentPointWindow{
		points: make(map[uint64]*btcec.PublicKey),
		bound:  int(maxTlcNumberInFlight) + 1,
	}
}

// Insert records the remote per-commitment point for commitment number n,
// supplied by RevokeAndAck.next_per_commitment_point (spec.md §4.3 step 5).
func (w *CommitmentPointWindow) Insert(commitmentNumber uint64, point *btcec.PublicKey) {
	w.points[commitmentNumber] = point
}

// Get returns the remote per-commitment point recorded for commitment
// number n, if retained.
func (w *CommitmentPointWindow) Get(commitmentNumber uint64) (*btcec.PublicKey, bool) {
	p, ok := w.points[commitmentNumber]
	return p, ok
}

// PruneBelow evicts every retained point older than floor, the oldest
// created_at.remote of any currently live TLC (spec.md §4.4), and as a
// backstop also enforces the size bound.
func (w *CommitmentPointWindow) PruneBelow(floor uint64) {
	for n := range w.points {
		if n < floor {
			delete(w.points, n)
		}
	}
	if len(w.points) <= w.bound {
		return
	}
	// Backstop: if more entries than the bound remain even after
	// pruning below floor (e.g. floor wasn't supplied), drop the
	// oldest first.
	for len(w.points) > w.bound {
		var oldest uint64 = ^uint64(0)
		for n := range w.points {
			if n < oldest {
				oldest = n
			}
		}
		delete(w.points, oldest)
	}
}

// Len reports how many points are currently retained.
func (w *CommitmentPointWindow) Len() int { return len(w.points) }

// Points returns the full retained commitment-point map, for persistence.
func (w *CommitmentPointWindow) Points() map[uint64]*btcec.PublicKey { return w.points }

// Bound returns the window's configured capacity, for persistence.
func (w *CommitmentPointWindow) Bound() int { return w.bound }

// RestoreCommitmentPointWindow reconstructs a window from persisted parts.
func RestoreCommitmentPointWindow(points map[uint64]*btcec.PublicKey, bound int) *CommitmentPointWindow {
	if points == nil {
		points = make(map[uint64]*btcec.PublicKey)
	}
	return &CommitmentPointWindow{points: points, bound: bound}
}

// oldestLiveCreatedAtRemote computes the prune floor for PruneBelow: the
// minimum created_at.Remote across every currently unresolved TLC
// (spec.md §4.4, testable property S6).
func oldestLiveCreatedAtRemote(tlcs []*AddTlcInfo) (uint64, bool) {
	var min uint64 = ^uint64(0)
	found := false
	for _, t := range tlcs {
		if t.RemovedAt != nil {
			continue
		}
		if t.CreatedAt.Remote < min {
			min = t.CreatedAt.Remote
			found = true
		}
	}
	return min, found
}

// partyOrderedKeys is a small local alias kept for readability at call
// sites in commitment.go.
func partyOrderedKeys(localPub, remotePub *btcec.PublicKey) []*btcec.PublicKey {
	return musig2x.OrderedKeys(localPub, remotePub)
}
