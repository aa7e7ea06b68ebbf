package channel

import "fmt"

// HashAlgorithm selects the hash function a TLC's payment_hash is checked
// against (spec.md §3).
type HashAlgorithm uint8

const (
	HashAlgorithmCkbHash HashAlgorithm = iota
	HashAlgorithmSha256
)

// TLCId identifies a TLC within one direction of a single channel. Offered
// TLCs were proposed by the local party; Received TLCs were proposed by the
// remote party. IDs are monotonically increasing per direction starting at
// zero (spec.md §3, §5 ordering guarantees).
type TLCId struct {
	Offered  bool
	Received bool
	Index    uint64
}

// OfferedTLCId builds the id of a TLC this side proposed.
func OfferedTLCId(i uint64) TLCId { return TLCId{Offered: true, Index: i} }

// ReceivedTLCId builds the id of a TLC the remote side proposed.
func ReceivedTLCId(i uint64) TLCId { return TLCId{Received: true, Index: i} }

func (id TLCId) String() string {
	if id.Offered {
		return fmt.Sprintf("Offered(%d)", id.Index)
	}
	return fmt.Sprintf("Received(%d)", id.Index)
}

// Flip returns the id as seen from the other party's perspective: what we
// offered, they received, and vice versa.
func (id TLCId) Flip() TLCId {
	return TLCId{Offered: id.Received, Received: id.Offered, Index: id.Index}
}

// CommitmentNumbers tracks the next commitment number each side will
// produce. `Local` is the number of the next commitment *we* will produce
// for the remote's signature; `Remote` mirrors it for the commitment the
// remote produces for us (spec.md §3).
type CommitmentNumbers struct {
	Local  uint64
	Remote uint64
}

// Flip swaps local/remote, used when reasoning about the mirrored view a
// peer has of the same round (spec.md §4.7).
func (c CommitmentNumbers) Flip() CommitmentNumbers {
	return CommitmentNumbers{Local: c.Remote, Remote: c.Local}
}

// RemoveTlcReason is the terminal disposition of a TLC: either the
// preimage that fulfills it, or an onion-encrypted failure packet
// (spec.md §3).
type RemoveTlcReason struct {
	Fulfill *RemoveTlcFulfill
	Fail    *RemoveTlcFail
}

// RemoveTlcFulfill carries the preimage that settles a TLC.
type RemoveTlcFulfill struct {
	PaymentPreimage [32]byte
}

// RemoveTlcFail carries an onion-layered encrypted error packet, built by
// encrypting under the offered side's shared secret so each upstream hop
// can peel one layer (spec.md §3).
type RemoveTlcFail struct {
	ErrorPacket []byte
}

// removedAt records, for a TLC that has been resolved, the commitment
// numbers in effect when it was removed plus the reason.
type removedAt struct {
	Numbers CommitmentNumbers
	Reason  RemoveTlcReason
}

// NewRemovedAt constructs a removal record for AddTlcInfo.RemovedAt. Only a
// persistence layer rehydrating a fully resolved TLC from a stored snapshot
// should call this; every other caller removes a TLC through MarkRemoved.
func NewRemovedAt(numbers CommitmentNumbers, reason RemoveTlcReason) *removedAt {
	return &removedAt{Numbers: numbers, Reason: reason}
}

// PreviousTlc back-references the upstream hop's channel/TLC for a
// forwarded payment. This is a directed edge across channel actors, never
// followed by pointer — only resolved by RPC through the retry queue
// (spec.md §9 design note).
type PreviousTlc struct {
	ChannelId [32]byte
	TlcId     TLCId
}

// AddTlcInfo is a single directional in-flight TLC (spec.md §3).
type AddTlcInfo struct {
	TlcId           TLCId
	Amount          uint64
	PaymentHash     [32]byte
	Expiry          uint64 // absolute ms
	HashAlgorithm   HashAlgorithm
	OnionPacket     []byte
	SharedSecret    [32]byte // zero on inbound TLCs
	CreatedAt       CommitmentNumbers
	RemovedAt       *removedAt
	PaymentPreimage *[32]byte
	PreviousTlc     *PreviousTlc
}

// IsOffered reports whether this TLC was proposed by the local side.
func (a *AddTlcInfo) IsOffered() bool { return a.TlcId.Offered }

// IsReceived reports whether this TLC was proposed by the remote side.
func (a *AddTlcInfo) IsReceived() bool { return a.TlcId.Received }

// GetHtlcType packs the direction and hash algorithm into the single byte
// used by the sorted-HTLC commitment-lock-args encoding (spec.md §6): low
// bit 0 if remote-offered else 1, high 7 bits the hash algorithm.
func (a *AddTlcInfo) GetHtlcType() uint8 {
	var lowBit uint8
	if a.IsOffered() {
		lowBit = 1
	}
	return lowBit | uint8(a.HashAlgorithm)<<1
}

// TlcKind is a single entry in a PendingTlcs list: either an Add or a
// Remove operation (spec.md §3).
type TlcKind struct {
	Add    *AddTlcInfo
	Remove *RemoveTlcOp
}

// RemoveTlcOp references the TLC being resolved and how.
type RemoveTlcOp struct {
	TlcId  TLCId
	Reason RemoveTlcReason
}

// key returns the (kind, tlc_id) identity used to enforce PendingTlcs
// invariant (a): no two entries share the same (kind, tlc_id).
func (k TlcKind) key() (isAdd bool, id TLCId) {
	if k.Add != nil {
		return true, k.Add.TlcId
	}
	return false, k.Remove.TlcId
}

func (k TlcKind) log() string {
	if k.Add != nil {
		return fmt.Sprintf("Add(%s, amount=%d)", k.Add.TlcId, k.Add.Amount)
	}
	return fmt.Sprintf("Remove(%s)", k.Remove.TlcId)
}

// PendingTlcs is an ordered, append-only list of TlcKind operations with a
// committed_index splitting the committed prefix from the staging suffix
// (spec.md §3, design note §9: "a simple vector plus committed_index
// matches the protocol's invariants and maps cleanly to persistence").
type PendingTlcs struct {
	tlcs          []TlcKind
	committedIdx  int
	nextTlcId     uint64
}

func newPendingTlcs() *PendingTlcs {
	return &PendingTlcs{}
}

// CommittedIndex returns the split point between the committed prefix and
// staging suffix, for persistence alongside Tlcs() and NextTlcId().
func (p *PendingTlcs) CommittedIndex() int { return p.committedIdx }

// RestorePendingTlcs reconstructs a PendingTlcs from its persisted parts.
// Only a storage layer rehydrating a snapshot should call this: it bypasses
// the invariant checks Push enforces, since a loaded snapshot is already
// known-valid.
func RestorePendingTlcs(tlcs []TlcKind, committedIdx int, nextTlcId uint64) *PendingTlcs {
	return &PendingTlcs{tlcs: tlcs, committedIdx: committedIdx, nextTlcId: nextTlcId}
}

// NextTlcId returns the next id this direction will assign to a new Add.
func (p *PendingTlcs) NextTlcId() uint64 { return p.nextTlcId }

// IncrementNextTlcId advances the per-direction Add counter.
func (p *PendingTlcs) IncrementNextTlcId() { p.nextTlcId++ }

// Tlcs returns the full list, committed prefix followed by staging suffix.
func (p *PendingTlcs) Tlcs() []TlcKind { return p.tlcs }

// CommittedTlcs returns the committed prefix.
func (p *PendingTlcs) CommittedTlcs() []TlcKind { return p.tlcs[:p.committedIdx] }

// StagingTlcs returns the not-yet-committed suffix.
func (p *PendingTlcs) StagingTlcs() []TlcKind { return p.tlcs[p.committedIdx:] }

// Push appends a new operation to the staging suffix, enforcing invariant
// (a) that no two entries share the same (kind, tlc_id).
func (p *PendingTlcs) Push(op TlcKind) error {
	isAdd, id := op.key()
	for _, existing := range p.tlcs {
		existingIsAdd, existingID := existing.key()
		if existingIsAdd == isAdd && existingID == id {
			return fmt.Errorf("repeated processing: %s already present", op.log())
		}
	}
	p.tlcs = append(p.tlcs, op)
	return nil
}

// CommitStaging moves the entire staging suffix into the committed prefix,
// returning the TlcKind entries that were just committed. This is the
// "flush" step of spec.md §4.2/§4.3.
func (p *PendingTlcs) CommitStaging() []TlcKind {
	committed := p.tlcs[p.committedIdx:]
	p.committedIdx = len(p.tlcs)
	return committed
}

// Get looks up a committed or staged Add by id.
func (p *PendingTlcs) Get(id TLCId) *AddTlcInfo {
	for i := range p.tlcs {
		if p.tlcs[i].Add != nil && p.tlcs[i].Add.TlcId == id {
			return p.tlcs[i].Add
		}
	}
	return nil
}

// HasRemove reports whether a Remove op for this id has already been
// pushed (committed or staged), letting a retry path treat re-pushing the
// same op as a no-op rather than an invariant violation.
func (p *PendingTlcs) HasRemove(id TLCId) bool {
	for _, k := range p.tlcs {
		if k.Remove != nil && k.Remove.TlcId == id {
			return true
		}
	}
	return false
}

// MarkRemoved applies a RemoveTlc operation's effect to the matching Add
// entry in place: sets RemovedAt (and, on fulfill, PaymentPreimage).
func (p *PendingTlcs) MarkRemoved(id TLCId, numbers CommitmentNumbers, reason RemoveTlcReason) error {
	add := p.Get(id)
	if add == nil {
		return fmt.Errorf("no such tlc %s", id)
	}
	if add.RemovedAt != nil {
		return fmt.Errorf("repeated processing: %s already removed", id)
	}
	add.RemovedAt = &removedAt{Numbers: numbers, Reason: reason}
	if reason.Fulfill != nil {
		preimage := reason.Fulfill.PaymentPreimage
		add.PaymentPreimage = &preimage
	}
	return nil
}

// ShrinkRemoved compacts out Add entries from the committed prefix that
// have been removed, per PendingTlcs invariant (b): "after a commit
// sweep, removed-marked Adds are compacted out." Only Adds whose removal
// has itself been committed (i.e. a matching Remove op is present in the
// committed prefix) are dropped.
func (p *PendingTlcs) ShrinkRemoved() {
	removedIds := make(map[TLCId]bool)
	for _, op := range p.CommittedTlcs() {
		if op.Remove != nil {
			removedIds[op.Remove.TlcId] = true
		}
	}
	kept := p.tlcs[:0]
	newCommittedIdx := 0
	for i, op := range p.tlcs {
		drop := op.Add != nil && removedIds[op.Add.TlcId]
		if !drop {
			kept = append(kept, op)
			if i < p.committedIdx {
				newCommittedIdx++
			}
		}
	}
	p.tlcs = kept
	p.committedIdx = newCommittedIdx
}

// RetryableRemoveTlc is a remove-TLC attempt that could not be dispatched
// because the local (or, for relays, the upstream) channel was
// waiting_ack, queued for later retry (spec.md §4.5).
type RetryableRemoveTlc struct {
	// Exactly one of the following is set.
	RemoveTlc     *RemoveTlcOp
	RelayRemoveTlc *RelayRemoveTlc
}

// RelayRemoveTlc resolves a removal on the upstream channel of a forwarded
// payment, addressed by (channel id, tlc id) per spec.md §9 design note
// ("model it as a (ChannelId, TLCId) back-reference").
type RelayRemoveTlc struct {
	UpstreamChannelId [32]byte
	UpstreamTlcId     TLCId
	Reason            RemoveTlcReason
}

// TlcState holds the two PendingTlcs structures (local- and
// remote-originated) plus the waiting_ack gate and retry queue
// (spec.md §3).
type TlcState struct {
	LocalPendingTlcs  *PendingTlcs
	RemotePendingTlcs *PendingTlcs
	WaitingAck        bool
	RetryableRemoves  []RetryableRemoveTlc
}

// NewTlcState returns a zeroed TlcState ready for a freshly opened channel.
func NewTlcState() *TlcState {
	return &TlcState{
		LocalPendingTlcs:  newPendingTlcs(),
		RemotePendingTlcs: newPendingTlcs(),
	}
}

// SetWaitingAck gates (or ungates) new local TLC commands.
func (t *TlcState) SetWaitingAck(v bool) { t.WaitingAck = v }

// EnqueueRetryableRemove appends a retry entry to the FIFO.
func (t *TlcState) EnqueueRetryableRemove(r RetryableRemoveTlc) {
	t.RetryableRemoves = append(t.RetryableRemoves, r)
}

// DequeueRetryableRemove pops the first entry, or ok=false if empty.
func (t *TlcState) DequeueRetryableRemove() (r RetryableRemoveTlc, ok bool) {
	if len(t.RetryableRemoves) == 0 {
		return RetryableRemoveTlc{}, false
	}
	r = t.RetryableRemoves[0]
	t.RetryableRemoves = t.RetryableRemoves[1:]
	return r, true
}

// RequeueRetryableRemove pushes an entry back to the front of the FIFO,
// used when a WaitingTlcAck error leaves it for the next scan
// (spec.md §4.5).
func (t *TlcState) RequeueRetryableRemove(r RetryableRemoveTlc) {
	t.RetryableRemoves = append([]RetryableRemoveTlc{r}, t.RetryableRemoves...)
}

// get looks up a TLC by id in whichever PendingTlcs list owns it: Offered
// TLCs live in the proposer's local list, Received ones in the remote
// list, mirrored on each side.
func (t *TlcState) get(id TLCId) *AddTlcInfo {
	if add := t.LocalPendingTlcs.Get(id); add != nil {
		return add
	}
	return t.RemotePendingTlcs.Get(id)
}

// Get is the exported form of get, used by commitment construction and
// tests.
func (t *TlcState) Get(id TLCId) *AddTlcInfo { return t.get(id) }

// AllCommittedTlcs returns every committed Add from both directions that
// has not yet been removed — i.e. currently unresolved in-flight TLCs.
func (t *TlcState) AllCommittedTlcs() []*AddTlcInfo {
	var out []*AddTlcInfo
	for _, list := range []*PendingTlcs{t.LocalPendingTlcs, t.RemotePendingTlcs} {
		for _, op := range list.CommittedTlcs() {
			if op.Add != nil && op.Add.RemovedAt == nil {
				out = append(out, op.Add)
			}
		}
	}
	return out
}

// AllLiveTlcs returns every Add (committed or still staged) from both
// directions that has not yet been removed. A commitment tx being built
// right now must reflect this full set rather than just AllCommittedTlcs:
// sending or receiving CommitmentSigned is itself the act of proposing a
// new state covering everything offered so far, including whatever was
// just staged by the command that triggered this round (spec.md §4.3).
func (t *TlcState) AllLiveTlcs() []*AddTlcInfo {
	var out []*AddTlcInfo
	for _, list := range []*PendingTlcs{t.LocalPendingTlcs, t.RemotePendingTlcs} {
		for _, op := range list.Tlcs() {
			if op.Add != nil && op.Add.RemovedAt == nil {
				out = append(out, op.Add)
			}
		}
	}
	return out
}
