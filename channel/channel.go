// Package channel implements the per-channel payment-channel actor:
// opening handshake, commitment-transaction exchange, TLC lifecycle,
// revocation/ack protocol, shutdown/settlement, and musig2-based signing
// of funding-cell-spending transactions (spec.md §1-§5).
//
// Grounded on lnwallet/channel.go's LightningChannel, generalized from a
// single-funding-key 2-of-2 OP_CHECKMULTISIG Bitcoin channel to a musig2
// aggregated-signature CKB-style channel per spec.md.
package channel

import (
	"crypto/sha256"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/musig2"

	"github.com/nervosnetwork/fiber-channeld/signer"
)

// maxTlcNumberInFlightSysCap is SYS_MAX_TLC_NUMBER_IN_FLIGHT (spec.md §6).
const maxTlcNumberInFlightSysCap = 253

// UserMaxTlcNumberInFlight is MAX_TLC_NUMBER_IN_FLIGHT (spec.md §6).
const UserMaxTlcNumberInFlight = 125

// Default protocol constants (spec.md §6).
const (
	InitialCommitmentNumber        = 0
	DefaultFeeRate                 = 1000
	DefaultCommitmentFeeRate       = 1000
	DefaultCommitmentDelayEpochs   = 6
	MinCommitmentDelayEpochs       = 1
	MaxCommitmentDelayEpochs       = 84
	DefaultMaxTlcNumberInFlight    = 30
	ChannelDisabledFlag            = 1
	MessageOfNode1Flag             = 0
	MessageOfNode2Flag             = 1
)

// MinTlcExpiryDelta and MaxPaymentTlcExpiryLimit bound the acceptable
// window for a new outbound TLC's expiry (spec.md §4.2). Expressed in
// milliseconds, matching AddTlcInfo.Expiry.
const (
	MinTlcExpiryDeltaMs        = 15 * 1000
	MaxPaymentTlcExpiryLimitMs = 2 * 60 * 60 * 1000
)

// AutoSetdownTlcInterval is the retry-queue scan period (spec.md §6).
const AutoSetdownTlcInterval = 2 // seconds

// FundingInfo describes the on-chain funding cell once known (spec.md §3).
type FundingInfo struct {
	OutPoint          [36]byte // opaque outpoint bytes of the funding cell
	Amount            uint64
	UdtTypeScript     []byte // optional UDT type script, nil for native token
	ConfirmedBlock    uint64
	ConfirmedTxIndex  uint32
	Confirmed         bool
}

// ShutdownInfo records one side's recorded cooperative-close request
// (spec.md §3, §4.6).
type ShutdownInfo struct {
	CloseScript []byte
	FeeRate     uint64
	Signature   *[64]byte // set once this side's partial sig has been produced
}

// ChannelConstraints are the negotiated per-channel limits (spec.md §3,
// §4.2).
type ChannelConstraints struct {
	MaxTlcValueInFlight  uint64
	MaxTlcNumberInFlight uint64
}

// DefaultChannelConstraints matches the teacher's "sane defaults"
// convention for negotiated channel parameters.
func DefaultChannelConstraints() ChannelConstraints {
	return ChannelConstraints{
		MaxTlcValueInFlight:  ^uint64(0),
		MaxTlcNumberInFlight: DefaultMaxTlcNumberInFlight,
	}
}

// ChannelActorState is the full persistent state of one channel
// (spec.md §3). It is exclusively owned by its actor; the store only ever
// receives cloned snapshots (spec.md §3 "Ownership & lifecycles").
type ChannelActorState struct {
	// Identity.
	ChannelId     [32]byte
	TemporaryId   *[32]byte
	IsOpener      bool

	// Keys.
	LocalPubkey        *btcec.PublicKey
	RemotePubkey       *btcec.PublicKey
	LocalTlcBasePubkey *btcec.PublicKey
	RemoteTlcBasePubkey *btcec.PublicKey
	Signer             *signer.Signer

	// Funding.
	Funding                  FundingInfo
	ToLocalAmount            uint64
	ToRemoteAmount           uint64
	LocalReservedCkbAmount   uint64
	RemoteReservedCkbAmount  uint64

	state ChannelState

	CommitmentNumbers CommitmentNumbers
	Tlc               *TlcState

	NonceRing              NonceRing
	RemoteCommitmentPoints *CommitmentPointWindow

	LocalShutdownInfo  *ShutdownInfo
	RemoteShutdownInfo *ShutdownInfo

	// Negotiation holds the in-flight funding-tx collaboration and
	// initial-commitment partial signatures while the channel moves
	// through NegotiatingFunding..AwaitingTxSignatures (spec.md §4.1);
	// nil once the channel reaches AwaitingChannelReady.
	Negotiation *FundingNegotiation

	Reestablishing bool

	Constraints ChannelConstraints
	IsPublic    bool

	// AnnouncementSignaturesExchanged is set once both sides'
	// AnnouncementSignatures have been received and aggregated,
	// required alongside both ChannelReady flags before a public
	// channel may transition to StateChannelReady (spec.md §4.1,
	// SPEC_FULL.md §8).
	AnnouncementSignaturesExchanged bool

	// LastCommitmentTx is the most recently received, fully signed
	// commitment transaction for the local view — used for a forced
	// close (spec.md §4.3 step 2 "Save the received signed commitment").
	LastCommitmentTx []byte

	sink EventSink
}

// ChannelId derives a channel's stable id from the pair of TLC base
// pubkeys, sorted lexicographically then hashed (spec.md §3).
func ChannelId(localTlcBase, remoteTlcBase *btcec.PublicKey) [32]byte {
	a := localTlcBase.SerializeCompressed()
	b := remoteTlcBase.SerializeCompressed()
	if bytesGreater(a, b) {
		a, b = b, a
	}
	buf := append(append([]byte{}, a...), b...)
	return sha256.Sum256(buf)
}

// TemporaryChannelId derives the temporary id used before both parties
// know each other's base key: one key plus zero padding, hashed
// (spec.md §3).
func TemporaryChannelId(localTlcBase *btcec.PublicKey) [32]byte {
	a := localTlcBase.SerializeCompressed()
	var zero [33]byte
	buf := append(append([]byte{}, a...), zero[:]...)
	return sha256.Sum256(buf)
}

func bytesGreater(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] > b[i]
		}
	}
	return false
}

// NewOutboundChannel constructs a fresh ChannelActorState for the opening
// party (spec.md §4.1 "opener enters NegotiatingFunding(OUR_INIT_SENT)").
// Grounded on LightningChannel's construction flow generalized into a pure
// state builder rather than a wallet-backed reservation (see
// lnwallet/reservation.go, which this repo's funding negotiation does not
// need: CKB funding-cell construction is an out-of-scope collaborator per
// spec.md §1).
func NewOutboundChannel(
	s *signer.Signer,
	localTlcBase, remoteTlcBase *btcec.PublicKey,
	toLocalAmount, localReservedCkb uint64,
	isPublic bool,
	sink EventSink,
) *ChannelActorState {

	tempId := TemporaryChannelId(localTlcBase)

	return &ChannelActorState{
		ChannelId:              ChannelId(localTlcBase, remoteTlcBase),
		TemporaryId:            &tempId,
		IsOpener:               true,
		LocalPubkey:            s.FundingKey.PubKey(),
		LocalTlcBasePubkey:     localTlcBase,
		RemoteTlcBasePubkey:    remoteTlcBase,
		Signer:                 s,
		ToLocalAmount:          toLocalAmount,
		LocalReservedCkbAmount: localReservedCkb,
		state:                  InitialState(true),
		Tlc:                    NewTlcState(),
		Constraints:            DefaultChannelConstraints(),
		IsPublic:               isPublic,
		RemoteCommitmentPoints: NewCommitmentPointWindow(DefaultMaxTlcNumberInFlight),
		sink:                   sink,
	}
}

// NewInboundChannel constructs a fresh ChannelActorState for the
// accepting party, called once the OpenChannel message has been processed
// (spec.md §4.1 "acceptor enters NegotiatingFunding(THEIR_INIT_SENT) after
// processing the open message").
func NewInboundChannel(
	s *signer.Signer,
	localTlcBase, remoteTlcBase *btcec.PublicKey,
	toRemoteAmount, remoteReservedCkb uint64,
	isPublic bool,
	sink EventSink,
) *ChannelActorState {

	return &ChannelActorState{
		IsOpener:                false,
		LocalPubkey:             s.FundingKey.PubKey(),
		LocalTlcBasePubkey:      localTlcBase,
		RemoteTlcBasePubkey:     remoteTlcBase,
		Signer:                  s,
		ToRemoteAmount:          toRemoteAmount,
		RemoteReservedCkbAmount: remoteReservedCkb,
		state:                   InitialState(false),
		Tlc:                     NewTlcState(),
		Constraints:             DefaultChannelConstraints(),
		IsPublic:                isPublic,
		RemoteCommitmentPoints:  NewCommitmentPointWindow(DefaultMaxTlcNumberInFlight),
		ChannelId:               ChannelId(localTlcBase, remoteTlcBase),
		sink:                    sink,
	}
}

// State returns the current top-level state and substate flags.
func (s *ChannelActorState) State() ChannelState { return s.state }

// Restore sets the top-level state and substate flags directly, bypassing
// the transition table. Only a persistence layer rehydrating a stored
// snapshot should call this; every other caller must go through the
// normal command/message handlers so transitions stay auditable.
func (s *ChannelActorState) Restore(state ChannelState) { s.state = state }

// SetSink attaches (or replaces) the event sink, used when a persistence
// layer loads a channel back into memory and needs to wire it to the
// running node's event dispatch before resuming its actor.
func (s *ChannelActorState) SetSink(sink EventSink) { s.sink = sink }

// emit fans an event out to the configured sink, a no-op if none is set
// (useful in tests that only assert on returned values).
func (s *ChannelActorState) emit(e Event) {
	if s.sink != nil {
		s.sink.Emit(e)
	}
}

// GetLocalBalance returns to_local_amount (spec.md §11 supplemented
// accessor, grounded on ChannelActorState::get_local_balance in
// original_source/fiber/src/fiber/channel.rs).
func (s *ChannelActorState) GetLocalBalance() uint64 { return s.ToLocalAmount }

// GetRemoteBalance returns to_remote_amount.
func (s *ChannelActorState) GetRemoteBalance() uint64 { return s.ToRemoteAmount }

// GetOfferedTlcBalance sums the amounts of all currently unresolved
// locally offered TLCs.
func (s *ChannelActorState) GetOfferedTlcBalance() uint64 {
	var sum uint64
	for _, t := range s.Tlc.AllCommittedTlcs() {
		if t.IsOffered() {
			sum += t.Amount
		}
	}
	return sum
}

// GetReceivedTlcBalance sums the amounts of all currently unresolved
// remotely offered (locally received) TLCs.
func (s *ChannelActorState) GetReceivedTlcBalance() uint64 {
	var sum uint64
	for _, t := range s.Tlc.AllCommittedTlcs() {
		if t.IsReceived() {
			sum += t.Amount
		}
	}
	return sum
}

// IsClosed reports whether the channel has reached Closed(*).
func (s *ChannelActorState) IsClosed() bool { return s.state.IsTerminal() }

// IsPublicChannel reports whether this channel requires the
// AnnouncementSignatures exchange before reaching ChannelReady
// (spec.md §4.1, SPEC_FULL.md §8).
func (s *ChannelActorState) IsPublicChannel() bool { return s.IsPublic }

// partyOrder returns this side's funding pubkeys in deterministic musig2
// party order (spec.md §4.4).
func (s *ChannelActorState) partyOrder() []*btcec.PublicKey {
	return partyOrderedKeys(s.LocalPubkey, s.RemotePubkey)
}

// localIsParty0 reports whether the local funding pubkey sorts first.
func (s *ChannelActorState) localIsParty0() bool {
	_, _, localIsParty0 := partyOrderFromKeys(s.LocalPubkey, s.RemotePubkey)
	return localIsParty0
}

func partyOrderFromKeys(localPub, remotePub *btcec.PublicKey) (p0, p1 *btcec.PublicKey, localIsParty0 bool) {
	keys := partyOrderedKeys(localPub, remotePub)
	return keys[0], keys[1], keys[0].IsEqual(localPub)
}

// remoteNonceFor returns the remote public nonce to use for verifying or
// combining a signature: LastUsed when waitingForRevoke is set (we're
// between sending CommitmentSigned and receiving RevokeAndAck) and a
// LastUsed nonce is held, else Current (spec.md §4.4).
func (s *ChannelActorState) remoteNonceFor(waitingForRevoke bool) ([musig2.PubNonceSize]byte, error) {
	var nonce *[musig2.PubNonceSize]byte
	if waitingForRevoke && s.NonceRing.LastUsed != nil {
		nonce = s.NonceRing.LastUsed
	} else {
		nonce = s.NonceRing.Current
	}
	if nonce == nil {
		return [musig2.PubNonceSize]byte{}, fmt.Errorf("%w: no remote nonce available", ErrNoWindow)
	}
	return *nonce, nil
}
