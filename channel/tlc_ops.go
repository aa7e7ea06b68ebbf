package channel

import (
	"crypto/sha256"
	"fmt"
	"time"
)

// AddTlcCommand is the local command to originate a new TLC (spec.md §4.2
// "Add (outbound)").
type AddTlcCommand struct {
	Amount        uint64
	PaymentHash   [32]byte
	Expiry        uint64 // absolute ms
	HashAlgorithm HashAlgorithm
	OnionPacket   []byte
	SharedSecret  [32]byte
	PreviousTlc   *PreviousTlc
}

// nowMs is the only place this package reads wall-clock time, isolated so
// callers (and tests) can reason about it as a seam rather than a
// scattered time.Now() dependency.
var nowMs = func() uint64 { return uint64(time.Now().UnixMilli()) }

// HandleAddTlcCommand validates and originates a locally commanded TLC: it
// appends the new AddTlcInfo to local pending, sends the AddTlc message,
// and runs CommitmentSigned immediately afterward (spec.md §4.2
// "Add (outbound)").
//
// Per the SPEC_FULL.md open-question decision, this keeps the sequence as
// specified: CommitmentSigned is invoked even though a waiting_ack check
// happens first, relying on the counterparty's receiver-side idempotence
// (ReceiveCommitmentSigned's verification) rather than deferring the
// command until waiting_ack clears.
func (s *ChannelActorState) HandleAddTlcCommand(cmd AddTlcCommand) (*AddTlcInfo, *CommitmentSignedMsg, error) {
	if s.Tlc.WaitingAck {
		return nil, nil, ErrWaitingTlcAck
	}
	if !s.state.Is(StateChannelReady) {
		return nil, nil, &ErrInvalidState{Current: s.state, Expected: "ChannelReady"}
	}
	if cmd.Amount == 0 {
		return nil, nil, ErrInvalidParameter
	}

	now := nowMs()
	if cmd.Expiry < now+MinTlcExpiryDeltaMs {
		return nil, nil, ErrTlcExpirySoon
	}
	if cmd.Expiry >= now+MaxPaymentTlcExpiryLimitMs {
		return nil, nil, ErrTlcExpiryTooFar
	}

	if cmd.Amount > s.ToLocalAmount {
		return nil, nil, ErrCapacityError
	}

	offered := s.GetOfferedTlcBalance()
	inFlight := uint64(len(s.Tlc.AllCommittedTlcs()) + len(s.Tlc.LocalPendingTlcs.StagingTlcs()) + len(s.Tlc.RemotePendingTlcs.StagingTlcs()))
	if inFlight+1 > s.Constraints.MaxTlcNumberInFlight {
		return nil, nil, ErrTlcNumberExceedLimit
	}
	if offered+cmd.Amount > s.Constraints.MaxTlcValueInFlight {
		return nil, nil, ErrTlcValueInflightExceedLimit
	}

	for _, t := range s.Tlc.AllCommittedTlcs() {
		if t.PaymentHash == cmd.PaymentHash {
			return nil, nil, fmt.Errorf("%w: duplicate payment hash", ErrInvalidParameter)
		}
	}

	id := OfferedTLCId(s.Tlc.LocalPendingTlcs.NextTlcId())
	add := &AddTlcInfo{
		TlcId:         id,
		Amount:        cmd.Amount,
		PaymentHash:   cmd.PaymentHash,
		Expiry:        cmd.Expiry,
		HashAlgorithm: cmd.HashAlgorithm,
		OnionPacket:   cmd.OnionPacket,
		SharedSecret:  cmd.SharedSecret,
		CreatedAt:     s.CommitmentNumbers,
		PreviousTlc:   cmd.PreviousTlc,
	}

	if err := s.Tlc.LocalPendingTlcs.Push(TlcKind{Add: add}); err != nil {
		return nil, nil, err
	}
	s.Tlc.LocalPendingTlcs.IncrementNextTlcId()
	// Reserve the amount out of our spendable balance now; it returns on
	// resolution via applyRemoves (spec.md §3 invariant: to_local_amount +
	// to_remote_amount + Σ unresolved_tlc.amount is constant end to end).
	s.ToLocalAmount -= cmd.Amount

	msg, err := s.SendCommitmentSigned()
	if err != nil {
		return nil, nil, err
	}
	s.Tlc.SetWaitingAck(true)

	return add, msg, nil
}

// AddTlcMsg is the wire payload of AddTlc (spec.md §6).
type AddTlcMsg struct {
	ChannelId     [32]byte
	TlcId         uint64
	Amount        uint64
	PaymentHash   [32]byte
	Expiry        uint64
	HashAlgorithm HashAlgorithm
	OnionPacket   []byte
}

// ReceiveAddTlc processes an inbound AddTlc message and appends it to
// remote pending as Received(n) (spec.md §4.2 "Add (inbound peer
// message)"). It checks the channel state, a non-zero amount, the tlc id
// order and the remote's balance; the expiry window, in-flight limits and
// duplicate-hash checks of the outbound path are not applied here. The
// amount is reserved out of ToRemoteAmount at once, mirroring
// HandleAddTlcCommand; applyRemoves later moves it to the local side on a
// fulfill or returns it to the remote side on a fail.
func (s *ChannelActorState) ReceiveAddTlc(msg *AddTlcMsg) error {
	if !s.state.Is(StateChannelReady) {
		return &ErrInvalidState{Current: s.state, Expected: "ChannelReady"}
	}
	if msg.Amount == 0 {
		return ErrInvalidParameter
	}
	if msg.TlcId != s.Tlc.RemotePendingTlcs.NextTlcId() {
		return fmt.Errorf("%w: out-of-order received tlc id", ErrInvalidParameter)
	}
	if msg.Amount > s.ToRemoteAmount {
		return ErrCapacityError
	}

	add := &AddTlcInfo{
		TlcId:         ReceivedTLCId(msg.TlcId),
		Amount:        msg.Amount,
		PaymentHash:   msg.PaymentHash,
		Expiry:        msg.Expiry,
		HashAlgorithm: msg.HashAlgorithm,
		OnionPacket:   msg.OnionPacket,
		CreatedAt:     s.CommitmentNumbers,
	}
	if err := s.Tlc.RemotePendingTlcs.Push(TlcKind{Add: add}); err != nil {
		return err
	}
	s.Tlc.RemotePendingTlcs.IncrementNextTlcId()
	s.ToRemoteAmount -= msg.Amount
	return nil
}

// RemoveTlcCommand is the local command to resolve a TLC the remote side
// offered us (spec.md §4.2 "Remove (outbound)").
type RemoveTlcCommand struct {
	TlcId  TLCId
	Reason RemoveTlcReason
}

// HandleRemoveTlcCommand validates and originates a local RemoveTlc: the
// target must exist and be currently owned by the remote direction (i.e.
// it was offered to us), and a fulfill's preimage must hash to the
// recorded payment_hash under the recorded hash algorithm.
func (s *ChannelActorState) HandleRemoveTlcCommand(cmd RemoveTlcCommand) (*CommitmentSignedMsg, error) {
	if s.Tlc.WaitingAck {
		return nil, ErrWaitingTlcAck
	}

	add := s.Tlc.RemotePendingTlcs.Get(cmd.TlcId)
	if add == nil {
		return nil, fmt.Errorf("%w: no such received tlc %s", ErrInvalidParameter, cmd.TlcId)
	}
	if add.RemovedAt != nil {
		return nil, ErrRepeatedProcessing
	}

	if cmd.Reason.Fulfill != nil {
		if !preimageMatches(add.HashAlgorithm, cmd.Reason.Fulfill.PaymentPreimage, add.PaymentHash) {
			return nil, ErrFinalIncorrectPreimage
		}
	}

	if err := s.Tlc.LocalPendingTlcs.Push(TlcKind{Remove: &RemoveTlcOp{TlcId: cmd.TlcId, Reason: cmd.Reason}}); err != nil {
		return nil, err
	}

	msg, err := s.SendCommitmentSigned()
	if err != nil {
		return nil, err
	}
	s.Tlc.SetWaitingAck(true)

	return msg, nil
}

// RetrySendRemove re-attempts committing a RemoveTlc whose ledger removal
// was already recorded by MarkRemoved but whose wire RemoveTlc +
// CommitmentSigned couldn't go out yet because WaitingAck was set at flush
// time (spec.md §4.5 retry queue). Unlike HandleRemoveTlcCommand it does
// not require the matching Add's RemovedAt to still be nil — that's the
// expected state here, not a repeat — and re-pushing an op already in
// LocalPendingTlcs is a no-op rather than an error.
func (s *ChannelActorState) RetrySendRemove(op RemoveTlcOp) (*CommitmentSignedMsg, error) {
	if s.Tlc.WaitingAck {
		return nil, ErrWaitingTlcAck
	}
	if s.Tlc.LocalPendingTlcs.HasRemove(op.TlcId) {
		return nil, nil
	}

	if err := s.Tlc.LocalPendingTlcs.Push(TlcKind{Remove: &op}); err != nil {
		return nil, err
	}

	msg, err := s.SendCommitmentSigned()
	if err != nil {
		return nil, err
	}
	s.Tlc.SetWaitingAck(true)

	return msg, nil
}

// RemoveTlcMsg is the wire payload of RemoveTlc (spec.md §6).
type RemoveTlcMsg struct {
	ChannelId [32]byte
	TlcId     TLCId
	Reason    RemoveTlcReason
}

// ReceiveRemoveTlc enqueues an inbound RemoveTlc on remote pending; it is
// applied (balances updated) during the next revoke cycle
// (spec.md §4.2 "Remove (inbound)").
func (s *ChannelActorState) ReceiveRemoveTlc(msg *RemoveTlcMsg) error {
	add := s.Tlc.LocalPendingTlcs.Get(msg.TlcId)
	if add == nil {
		return fmt.Errorf("%w: no such offered tlc %s", ErrInvalidParameter, msg.TlcId)
	}
	if add.RemovedAt != nil {
		return ErrRepeatedProcessing
	}
	return s.Tlc.RemotePendingTlcs.Push(TlcKind{Remove: &RemoveTlcOp{TlcId: msg.TlcId, Reason: msg.Reason}})
}

func preimageMatches(algo HashAlgorithm, preimage [32]byte, paymentHash [32]byte) bool {
	switch algo {
	case HashAlgorithmSha256:
		sum := sha256.Sum256(preimage[:])
		return sum == paymentHash
	default:
		sum := sha256.Sum256(preimage[:])
		return sum == paymentHash
	}
}

// PeeledPacket is the result of asking the onion collaborator to peel one
// layer (spec.md §4.2 step 1, §6 "PeelPaymentOnionPacket").
type PeeledPacket struct {
	Terminal        bool
	ForwardAmount   uint64
	NextHopExpiry   uint64
	NextOnionPacket []byte

	// NextChannelId names the outgoing channel a non-terminal packet
	// should forward over, carried in the onion payload's per-hop
	// routing data (the Sphinx "next address" field, generalized from
	// htlcswitch/switch.go's ShortChannelID-keyed forwardingIndex to
	// spec.md's 32-byte channel ids). Unused when Terminal is true.
	NextChannelId [32]byte
}

// InvoiceView is the subset of invoice-store state the flush pipeline
// needs (spec.md §6 invoice-store interface).
type InvoiceView struct {
	Status    string // "Open", "Received", "Paid", "Cancelled", "Expired"
	Preimage  *[32]byte
}

// FlushCollaborators bundles the external RPCs the flush pipeline
// suspends on (spec.md §5 suspension points (a) and (b), §6 collaborator
// RPC section): peeling an onion packet, looking up/updating invoice
// status, and forwarding a peeled packet downstream. Kept as plain
// function fields — mirroring the teacher's htlcswitch/onion-processor
// collaborator-interface pattern — so channel/ has no import-time
// dependency on onion/, invoice/, or forward/.
type FlushCollaborators struct {
	PeelOnion           func(onionPacket []byte, sharedSecret [32]byte) (PeeledPacket, error)
	LookupInvoice       func(paymentHash [32]byte) (InvoiceView, error)
	UpdateInvoiceStatus func(paymentHash [32]byte, status string) error
	ForwardPeeled       func(peeled PeeledPacket, previous PreviousTlc, paymentHash [32]byte) (nextTlcId uint64, tlcErr *TlcErr)
	ChannelPublic       bool
	ChannelEnabled      bool
	TlcMinValue         uint64
	TlcExpiryDelta      uint64
	FeeProportionalPPM  uint64
}

// NewFlush returns a FlushFunc (see commitment.go) implementing spec.md
// §4.2's "Flush (after CommitmentSigned verifies)" pipeline over every
// newly committed received Add.
func NewFlush(collab FlushCollaborators) FlushFunc {
	return func(s *ChannelActorState, committed []TlcKind) error {
		now := nowMs()

		for _, op := range committed {
			if op.Add == nil || !op.Add.IsReceived() {
				continue
			}
			add := op.Add

			reason, err := flushOne(s, add, collab, now)
			if err != nil {
				reason := failReasonFor(s.ChannelId, add, err)
				if mergeErr := s.Tlc.RemotePendingTlcs.MarkRemoved(add.TlcId, s.CommitmentNumbers, reason); mergeErr != nil {
					return mergeErr
				}
				s.Tlc.EnqueueRetryableRemove(RetryableRemoveTlc{
					RemoveTlc: &RemoveTlcOp{TlcId: add.TlcId, Reason: reason},
				})
				continue
			}
			if reason == nil {
				// Forwarded downstream; its own resolution arrives later,
				// relayed back through the upstream channel by forward/.
				continue
			}
			if mergeErr := s.Tlc.RemotePendingTlcs.MarkRemoved(add.TlcId, s.CommitmentNumbers, *reason); mergeErr != nil {
				return mergeErr
			}
			s.Tlc.EnqueueRetryableRemove(RetryableRemoveTlc{
				RemoveTlc: &RemoveTlcOp{TlcId: add.TlcId, Reason: *reason},
			})
		}
		return nil
	}
}

// flushOne resolves a single newly committed received Add. A non-nil
// reason means the TLC is immediately resolved (a terminal fulfill) and
// should be queued for removal; nil, nil means it was forwarded
// downstream and will resolve later; a non-nil error means it failed
// immediately and should be queued for removal with a Fail reason.
func flushOne(s *ChannelActorState, add *AddTlcInfo, collab FlushCollaborators, now uint64) (*RemoveTlcReason, error) {
	peeled, err := collab.PeelOnion(add.OnionPacket, add.SharedSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPeelingOnionPacketError, err)
	}

	if add.Expiry < now+MinTlcExpiryDeltaMs {
		return nil, ErrIncorrectTlcExpiry
	}

	if peeled.Terminal {
		if peeled.ForwardAmount != add.Amount {
			return nil, ErrFinalIncorrectHTLCAmount
		}
		if add.Expiry < peeled.NextHopExpiry {
			return nil, ErrIncorrectFinalTlcExpiry
		}

		inv, err := collab.LookupInvoice(add.PaymentHash)
		if err != nil || inv.Status != "Open" {
			status := "IncorrectOrUnknownPaymentDetails"
			if inv.Status == "Expired" {
				status = "Expired"
			} else if inv.Status == "Cancelled" {
				status = "Cancelled"
			}
			return nil, &FinalInvoiceInvalid{Status: status}
		}
		if inv.Preimage == nil {
			return nil, ErrFinalIncorrectPreimage
		}
		if !preimageMatches(add.HashAlgorithm, *inv.Preimage, add.PaymentHash) {
			return nil, ErrFinalIncorrectPreimage
		}

		add.PaymentPreimage = inv.Preimage
		if err := collab.UpdateInvoiceStatus(add.PaymentHash, "Received"); err != nil {
			return nil, err
		}
		if err := collab.UpdateInvoiceStatus(add.PaymentHash, "Paid"); err != nil {
			return nil, err
		}
		return &RemoveTlcReason{Fulfill: &RemoveTlcFulfill{PaymentPreimage: *inv.Preimage}}, nil
	}

	if !collab.ChannelPublic || !collab.ChannelEnabled {
		return nil, ErrTlcForwardFeeIsTooLow
	}
	if add.Amount < collab.TlcMinValue {
		return nil, ErrTlcAmountIsTooLow
	}
	if add.Expiry < peeled.NextHopExpiry || add.Expiry-peeled.NextHopExpiry < collab.TlcExpiryDelta {
		return nil, ErrIncorrectTlcExpiry
	}
	fee := add.Amount - peeled.ForwardAmount
	minFee := (peeled.ForwardAmount*collab.FeeProportionalPPM + 999_999) / 1_000_000
	if fee < minFee {
		return nil, ErrTlcForwardFeeIsTooLow
	}

	previous := PreviousTlc{ChannelId: s.ChannelId, TlcId: add.TlcId}
	if _, tlcErr := collab.ForwardPeeled(peeled, previous, add.PaymentHash); tlcErr != nil {
		return nil, tlcErr
	}
	return nil, nil
}

func failReasonFor(channelId [32]byte, add *AddTlcInfo, err error) RemoveTlcReason {
	tlcErr := GetTlcError(channelId, err)
	packet := encryptErrorPacket(add.SharedSecret, tlcErr)
	return RemoveTlcReason{Fail: &RemoveTlcFail{ErrorPacket: packet}}
}

// encryptErrorPacket onion-encrypts tlcErr under the offered TLC's shared
// secret, so each upstream hop can peel one layer (spec.md §3, §7
// propagation policy). The real onion error-packet format lives in the
// onion collaborator's wire codec (out of scope for channel/); this repo
// only needs a value both this hop and the eventual recipient agree on,
// so it XORs a fixed-size encoding of the error against a keystream
// derived from the shared secret.
func encryptErrorPacket(sharedSecret [32]byte, tlcErr *TlcErr) []byte {
	var plain [3]byte
	if tlcErr != nil {
		plain[0] = byte(tlcErr.Code)
		plain[1] = byte(tlcErr.Code >> 8)
		plain[2] = 1
	}
	keystream := sha256.Sum256(append([]byte("fiber-tlc-err"), sharedSecret[:]...))
	out := make([]byte, len(plain))
	for i := range plain {
		out[i] = plain[i] ^ keystream[i]
	}
	return out
}
