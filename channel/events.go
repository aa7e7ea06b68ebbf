package channel

// Event is implemented by every domain event the actor emits outward to
// the node-wide actor / watcher, mirroring the notification structs
// consumed in lnwallet/channel.go's closeObserver (spec.md §2 "emits
// domain events to the node-wide actor").
type Event interface {
	eventMarker()
}

// RevocationProduced is emitted once ReceiveRevokeAndAck
// aggregates a full revocation signature, so the watcher can react to a
// later cheating broadcast of the revoked commitment (spec.md §4.3 step,
// testable property 6).
type RevocationProduced struct {
	ChannelId           [32]byte
	CommitmentNumber    uint64
	RevocationSignature [64]byte
	CommitmentLockArgs  []byte
}

func (RevocationProduced) eventMarker() {}

// SettlementSignatureProduced is emitted alongside RevocationProduced: the
// aggregated co-signature over the new local-view commitment's settlement
// data.
type SettlementSignatureProduced struct {
	ChannelId          [32]byte
	CommitmentNumber   uint64
	SettlementSignature [64]byte
}

func (SettlementSignatureProduced) eventMarker() {}

// CommitmentTransactionPending is emitted on a forced shutdown, carrying
// the latest stored commitment transaction for the watcher to broadcast
// (spec.md §4.6).
type CommitmentTransactionPending struct {
	ChannelId [32]byte
	RawTx     []byte
}

func (CommitmentTransactionPending) eventMarker() {}

// ClosingTransactionPending is emitted once a cooperative shutdown's two
// partials aggregate into a full signature (spec.md §4.6).
type ClosingTransactionPending struct {
	ChannelId [32]byte
	RawTx     []byte
}

func (ClosingTransactionPending) eventMarker() {}

// FundingTransactionPending is emitted once both sides' TxSignatures have
// been exchanged and aggregated, the funding-tx analogue of
// CommitmentTransactionPending/ClosingTransactionPending: the watcher
// broadcasts RawTx and waits for it to confirm before the channel can leave
// AwaitingTxSignatures (spec.md §4.1, §6 TxSignatures).
type FundingTransactionPending struct {
	ChannelId [32]byte
	RawTx     []byte
}

func (FundingTransactionPending) eventMarker() {}

// AnnouncementSignaturesReady is emitted once this side has assembled and
// signed its half of a public channel's AnnouncementSignatures payload,
// for the (out-of-scope) gossip layer to broadcast once both sides'
// signatures are aggregated (SPEC_FULL.md §8).
type AnnouncementSignaturesReady struct {
	ChannelId        [32]byte
	NodeSignature    [64]byte
	PartialSignature [64]byte
}

func (AnnouncementSignaturesReady) eventMarker() {}

// TlcResolved is emitted once a forwarded TLC's downstream leg is fully
// resolved (its Add marked removed with a terminal reason), carrying what
// forward/ needs to relay the same resolution onto the upstream leg
// (spec.md §4.5, §9 design note "model it as a (ChannelId, TLCId)
// back-reference"). Never emitted for a TLC this channel originated
// itself (PreviousTlc nil on those).
type TlcResolved struct {
	ChannelId   [32]byte
	TlcId       TLCId
	PreviousTlc PreviousTlc
	Reason      RemoveTlcReason
}

func (TlcResolved) eventMarker() {}

// EventSink receives outward events emitted by the actor. Implementations
// typically fan them out to the network adapter and/or the watcher.
type EventSink interface {
	Emit(Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(Event)

func (f EventSinkFunc) Emit(e Event) { f(e) }
