package channel

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/musig2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/wire"

	"github.com/nervosnetwork/fiber-channeld/musig2x"
)

// ShutdownMsg is the wire payload of Shutdown (spec.md §4.6, §6).
type ShutdownMsg struct {
	ChannelId   [32]byte
	CloseScript []byte
	FeeRate     uint64
}

// ClosingSignedMsg is the wire payload of ClosingSigned (spec.md §4.6, §6).
type ClosingSignedMsg struct {
	ChannelId        [32]byte
	PartialSignature musig2.PartialSignature
}

// StartShutdown records our own close_script/fee_rate and returns the
// Shutdown message to send, entering StateShuttingDown if this is the
// first shutdown either side has sent (spec.md §4.6).
func (s *ChannelActorState) StartShutdown(closeScript []byte, feeRate uint64) (*ShutdownMsg, error) {
	if s.state.Is(StateClosed) {
		return nil, ErrChanClosing
	}
	if s.LocalShutdownInfo != nil {
		return nil, fmt.Errorf("shutdown already sent")
	}

	s.LocalShutdownInfo = &ShutdownInfo{CloseScript: closeScript, FeeRate: feeRate}

	if s.state.Is(StateChannelReady) {
		s.transitionTo(StateShuttingDown, uint32(FlagOurShutdownSent))
	} else {
		s.setFlags(uint32(FlagOurShutdownSent))
	}

	return &ShutdownMsg{ChannelId: s.ChannelId, CloseScript: closeScript, FeeRate: feeRate}, nil
}

// ReceiveShutdown processes an inbound Shutdown: records the remote's
// close_script/fee_rate, rejects it if the occupied capacity it demands
// exceeds the local reserve the remote is entitled to encumber, and, if we
// are still in ChannelReady and haven't sent our own Shutdown yet,
// auto-accepts with a zero-fee Shutdown of our own (spec.md §4.6).
func (s *ChannelActorState) ReceiveShutdown(msg *ShutdownMsg) (*ShutdownMsg, error) {
	if s.state.Is(StateClosed) {
		return nil, ErrChanClosing
	}
	if s.RemoteShutdownInfo != nil {
		return nil, fmt.Errorf("repeated processing: remote shutdown already recorded")
	}

	if occupiedCapacity(msg.CloseScript) > s.RemoteReservedCkbAmount {
		return nil, fmt.Errorf("%w: close script occupies more than the remote's reserve", ErrInvalidParameter)
	}

	s.RemoteShutdownInfo = &ShutdownInfo{CloseScript: msg.CloseScript, FeeRate: msg.FeeRate}

	wasChannelReady := s.state.Is(StateChannelReady)
	if s.state.Is(StateChannelReady) {
		s.transitionTo(StateShuttingDown, uint32(FlagTheirShutdownSent))
	} else {
		s.setFlags(uint32(FlagTheirShutdownSent))
	}

	if !wasChannelReady || s.LocalShutdownInfo != nil {
		return nil, nil
	}

	// Auto-accept: the peer's fee, if any, must be payable from their own
	// side before we silently agree to it.
	if msg.FeeRate > 0 && s.ToRemoteAmount == 0 {
		return nil, fmt.Errorf("%w: peer's shutdown fee is not payable from their balance", ErrInvalidParameter)
	}

	reply, err := s.StartShutdown(s.LocalShutdownScript(), 0)
	if err != nil {
		return nil, err
	}
	return reply, nil
}

// occupiedCapacity is a stand-in for the real close-script-derived cell
// capacity computation, which depends on opaque lock/type-script bytes
// (spec.md §1). Both peers only need to agree on *a* monotone function of
// script length for the reserve check to be meaningful, so this repo uses
// script length directly.
func occupiedCapacity(closeScript []byte) uint64 {
	return uint64(len(closeScript))
}

// ReadyForClosingTx reports whether both shutdowns have been recorded and
// no TLCs remain pending, the precondition for building the shutdown
// transaction (spec.md §4.6).
func (s *ChannelActorState) ReadyForClosingTx() bool {
	if s.LocalShutdownInfo == nil || s.RemoteShutdownInfo == nil {
		return false
	}
	return len(s.Tlc.AllCommittedTlcs()) == 0 &&
		len(s.Tlc.LocalPendingTlcs.StagingTlcs()) == 0 &&
		len(s.Tlc.RemotePendingTlcs.StagingTlcs()) == 0
}

// buildShutdownTx constructs the two-output shutdown transaction: capacities
// are each side's committed amount minus their share of the shutdown fee,
// computed from their own declared fee rate and the final tx size
// (spec.md §4.6).
func (s *ChannelActorState) buildShutdownTx() (*wire.MsgTx, [32]byte, error) {
	if !s.ReadyForClosingTx() {
		return nil, [32]byte{}, fmt.Errorf("not ready to close: shutdowns pending or tlcs outstanding")
	}

	tx := wire.NewMsgTx(1)
	localOut := &wire.TxOut{PkScript: s.LocalShutdownInfo.CloseScript}
	remoteOut := &wire.TxOut{PkScript: s.RemoteShutdownInfo.CloseScript}
	tx.AddTxOut(localOut)
	tx.AddTxOut(remoteOut)

	txWeight := uint64(tx.SerializeSize())
	localFee := s.LocalShutdownInfo.FeeRate * txWeight / 1000
	remoteFee := s.RemoteShutdownInfo.FeeRate * txWeight / 1000

	localOut.Value = int64(s.ToLocalAmount - minUint64(localFee, s.ToLocalAmount))
	remoteOut.Value = int64(s.ToRemoteAmount - minUint64(remoteFee, s.ToRemoteAmount))

	digest := sha256Sum32(serializeTx(tx))
	return tx, digest, nil
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}

// SendClosingSigned builds the shutdown transaction (if not already built)
// and returns our partial signature over it (spec.md §4.6).
func (s *ChannelActorState) SendClosingSigned() (*ClosingSignedMsg, error) {
	_, digest, err := s.buildShutdownTx()
	if err != nil {
		return nil, err
	}

	keySet := s.partyOrder()
	combinedNonce, err := s.combinedNonceForSigning(false)
	if err != nil {
		return nil, err
	}
	secEntropy := s.Signer.NonceSecretEntropy(s.CommitmentNumbers.Remote)
	session, err := musig2x.NewNonceSession(secEntropy, s.LocalPubkey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMusig2SigningError, err)
	}
	sig, err := musig2x.SignPartial(session.Nonces.SecNonce, s.Signer.FundingKey, combinedNonce, keySet, digest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMusig2SigningError, err)
	}

	local := *sig
	s.LocalShutdownInfo.Signature = partialSigToFixed(&local)

	return &ClosingSignedMsg{ChannelId: s.ChannelId, PartialSignature: local}, nil
}

// ReceiveClosingSigned validates the counterparty's partial signature
// eagerly against the locally-rebuilt shutdown tx, and — if our own
// partial has also already been produced — aggregates both into a full
// signature and emits ClosingTransactionPending. Re-verifying at
// aggregation time (not just here) guards against the two views of the
// shutdown tx having silently diverged between the two calls
// (SPEC_FULL.md open-question decision).
func (s *ChannelActorState) ReceiveClosingSigned(msg *ClosingSignedMsg) error {
	tx, digest, err := s.buildShutdownTx()
	if err != nil {
		return err
	}

	keySet := s.partyOrder()
	combinedNonce, err := s.combinedNonceForSigning(false)
	if err != nil {
		return err
	}
	remoteNonce, err := s.remoteNonceFor(false)
	if err != nil {
		return err
	}

	if err := musig2x.VerifyPartial(&msg.PartialSignature, remoteNonce, s.RemotePubkey, combinedNonce, keySet, digest); err != nil {
		return fmt.Errorf("%w: closing signed partial signature: %v", ErrMusig2VerifyError, err)
	}

	s.RemoteShutdownInfo.Signature = partialSigToFixed(&msg.PartialSignature)

	if s.LocalShutdownInfo.Signature == nil {
		return nil
	}

	// Defense-in-depth: re-verify against a freshly rebuilt tx/digest
	// before aggregating, in case state mutated between receipt and now.
	tx2, digest2, err := s.buildShutdownTx()
	if err != nil {
		return err
	}
	if digest2 != digest {
		return fmt.Errorf("shutdown tx view diverged between verification and aggregation")
	}
	tx = tx2

	var ourSig *musig2.PartialSignature
	{
		secEntropy := s.Signer.NonceSecretEntropy(s.CommitmentNumbers.Remote)
		session, serr := musig2x.NewNonceSession(secEntropy, s.LocalPubkey)
		if serr != nil {
			return fmt.Errorf("%w: %v", ErrMusig2SigningError, serr)
		}
		ourSig, err = musig2x.SignPartial(session.Nonces.SecNonce, s.Signer.FundingKey, combinedNonce, keySet, digest)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrMusig2SigningError, err)
		}
	}

	fullSig, err := musig2x.AggregateSignatures(combinedNonce, []*musig2.PartialSignature{ourSig, &msg.PartialSignature})
	if err != nil {
		return fmt.Errorf("%w: aggregating closing signature: %v", ErrMusig2SigningError, err)
	}

	aggKey, err := musig2x.AggregateFundingKey(s.LocalPubkey, s.RemotePubkey)
	if err != nil {
		return err
	}
	var xOnlyAgg [32]byte
	copy(xOnlyAgg[:], schnorr.SerializePubKey(aggKey.FinalKey))
	var sigBytes [64]byte
	copy(sigBytes[:], fullSig.Serialize())
	tx.TxIn = append(tx.TxIn, &wire.TxIn{Witness: wire.TxWitness{FundingWitness(xOnlyAgg, sigBytes)}})

	s.emit(ClosingTransactionPending{ChannelId: s.ChannelId, RawTx: serializeTx(tx)})
	s.transitionTo(StateClosed, uint32(FlagCooperative))

	return nil
}

// partialSigToFixed records a partial signature's scalar as a fixed-size
// marker so ShutdownInfo can track "has this side signed yet" without
// re-deriving it; the aggregated full signature (not this value) is what
// actually gets broadcast.
func partialSigToFixed(sig *musig2.PartialSignature) *[64]byte {
	var out [64]byte
	sBytes := sig.S.Bytes()
	copy(out[32:], sBytes[:])
	return &out
}

// ForceShutdown broadcasts the latest stored commitment transaction rather
// than negotiating a cooperative close (spec.md §4.6 "Forced shutdown").
func (s *ChannelActorState) ForceShutdown() error {
	if s.state.Is(StateClosed) {
		return ErrChanClosing
	}
	if len(s.LastCommitmentTx) == 0 {
		return fmt.Errorf("no stored commitment transaction to broadcast")
	}

	s.transitionTo(StateShuttingDown, uint32(FlagWaitingCommitmentConfirmation))
	s.emit(CommitmentTransactionPending{ChannelId: s.ChannelId, RawTx: s.LastCommitmentTx})
	return nil
}

// ConfirmForceShutdown transitions the channel to Closed(UNCOOPERATIVE)
// once the watcher reports the broadcast commitment transaction confirmed
// (spec.md §4.6).
func (s *ChannelActorState) ConfirmForceShutdown() {
	s.transitionTo(StateClosed, uint32(FlagUncooperative))
}
