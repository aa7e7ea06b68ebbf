package fiberdb

import (
	"bytes"
	"fmt"
	"io"

	"github.com/boltdb/bolt"
	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/musig2"
	"github.com/davecgh/go-spew/spew"

	"github.com/nervosnetwork/fiber-channeld/channel"
	"github.com/nervosnetwork/fiber-channeld/signer"
)

// PutChannel persists a snapshot of state under its ChannelId, overwriting
// whatever was previously stored. ChannelActorState is exclusively owned by
// its actor (spec.md §3 "Ownership & lifecycles"); callers must only ever
// hand this a cloned snapshot taken while the actor is quiesced, never a
// state still being mutated concurrently.
func (d *DB) PutChannel(state *channel.ChannelActorState) error {
	var buf bytes.Buffer
	if err := serializeChannel(&buf, state); err != nil {
		return err
	}

	log.Debugf("channel %x: persisting state: %v", state.ChannelId, newLogClosure(func() string {
		return spew.Sdump(state)
	}))

	return d.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(channelBucket)
		if bucket == nil {
			return ErrChannelNotFound
		}
		return bucket.Put(state.ChannelId[:], buf.Bytes())
	})
}

// FetchChannel loads and reconstructs the channel previously stored under
// channelId. The returned state has no event sink attached; the caller
// must call SetSink before resuming the channel's actor.
func (d *DB) FetchChannel(channelId [32]byte) (*channel.ChannelActorState, error) {
	var state *channel.ChannelActorState

	err := d.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(channelBucket)
		if bucket == nil {
			return ErrChannelNotFound
		}
		raw := bucket.Get(channelId[:])
		if raw == nil {
			return ErrChannelNotFound
		}
		s, err := deserializeChannel(bytes.NewReader(raw))
		if err != nil {
			return err
		}
		state = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return state, nil
}

// FetchAllChannels returns every channel snapshot currently stored,
// in no particular order.
func (d *DB) FetchAllChannels() ([]*channel.ChannelActorState, error) {
	var out []*channel.ChannelActorState

	err := d.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(channelBucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			s, err := deserializeChannel(bytes.NewReader(v))
			if err != nil {
				return err
			}
			out = append(out, s)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// DeleteChannel removes a closed channel's stored snapshot.
func (d *DB) DeleteChannel(channelId [32]byte) error {
	return d.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(channelBucket)
		if bucket == nil {
			return ErrChannelNotFound
		}
		return bucket.Delete(channelId[:])
	})
}

// serializeChannel writes every persisted field of a ChannelActorState in
// struct-declaration order. Grounded on channeldb's (pruned, see DESIGN.md)
// per-field OpenChannel serializer convention, generalized from a single
// ECDSA funding key plus elkrem revocation tree to a musig2 Signer plus TLC
// ledger.
func serializeChannel(w io.Writer, s *channel.ChannelActorState) error {
	if err := writeElements(w, s.ChannelId, s.IsOpener); err != nil {
		return err
	}
	if err := writeOptional32(w, s.TemporaryId); err != nil {
		return err
	}

	if err := writeElements(w,
		s.LocalPubkey, s.RemotePubkey,
		s.LocalTlcBasePubkey, s.RemoteTlcBasePubkey,
	); err != nil {
		return err
	}
	if err := writeSigner(w, s.Signer); err != nil {
		return err
	}

	if err := writeFundingInfo(w, s.Funding); err != nil {
		return err
	}
	if err := writeElements(w,
		s.ToLocalAmount, s.ToRemoteAmount,
		s.LocalReservedCkbAmount, s.RemoteReservedCkbAmount,
	); err != nil {
		return err
	}

	st := s.State()
	if err := writeElements(w, st.State, st.Flags); err != nil {
		return err
	}

	if err := writeElements(w, s.CommitmentNumbers.Local, s.CommitmentNumbers.Remote); err != nil {
		return err
	}
	if err := writeTlcState(w, s.Tlc); err != nil {
		return err
	}

	if err := writeOptionalNonce(w, s.NonceRing.Current); err != nil {
		return err
	}
	if err := writeOptionalNonce(w, s.NonceRing.LastUsed); err != nil {
		return err
	}
	if err := writeCommitmentPointWindow(w, s.RemoteCommitmentPoints); err != nil {
		return err
	}

	if err := writeOptionalShutdownInfo(w, s.LocalShutdownInfo); err != nil {
		return err
	}
	if err := writeOptionalShutdownInfo(w, s.RemoteShutdownInfo); err != nil {
		return err
	}

	if err := writeElements(w, s.Reestablishing); err != nil {
		return err
	}
	if err := writeElements(w,
		s.Constraints.MaxTlcValueInFlight, s.Constraints.MaxTlcNumberInFlight,
		s.IsPublic, s.AnnouncementSignaturesExchanged,
	); err != nil {
		return err
	}

	return writeElements(w, s.LastCommitmentTx)
}

// deserializeChannel is serializeChannel's exact mirror. The returned state
// has its unexported state/sink left to the caller: Restore and SetSink
// rehydrate them afterward.
func deserializeChannel(r io.Reader) (*channel.ChannelActorState, error) {
	s := &channel.ChannelActorState{}

	if err := readElements(r, &s.ChannelId, &s.IsOpener); err != nil {
		return nil, err
	}
	tempId, err := readOptional32(r)
	if err != nil {
		return nil, err
	}
	s.TemporaryId = tempId

	if err := readElements(r,
		&s.LocalPubkey, &s.RemotePubkey,
		&s.LocalTlcBasePubkey, &s.RemoteTlcBasePubkey,
	); err != nil {
		return nil, err
	}
	signerVal, err := readSigner(r)
	if err != nil {
		return nil, err
	}
	s.Signer = signerVal

	funding, err := readFundingInfo(r)
	if err != nil {
		return nil, err
	}
	s.Funding = funding

	if err := readElements(r,
		&s.ToLocalAmount, &s.ToRemoteAmount,
		&s.LocalReservedCkbAmount, &s.RemoteReservedCkbAmount,
	); err != nil {
		return nil, err
	}

	var stateType channel.StateType
	var flags uint32
	if err := readElements(r, &stateType, &flags); err != nil {
		return nil, err
	}
	s.Restore(channel.ChannelState{State: stateType, Flags: flags})

	if err := readElements(r, &s.CommitmentNumbers.Local, &s.CommitmentNumbers.Remote); err != nil {
		return nil, err
	}
	tlc, err := readTlcState(r)
	if err != nil {
		return nil, err
	}
	s.Tlc = tlc

	current, err := readOptionalNonce(r)
	if err != nil {
		return nil, err
	}
	lastUsed, err := readOptionalNonce(r)
	if err != nil {
		return nil, err
	}
	s.NonceRing = channel.NonceRing{Current: current, LastUsed: lastUsed}

	points, err := readCommitmentPointWindow(r)
	if err != nil {
		return nil, err
	}
	s.RemoteCommitmentPoints = points

	local, err := readOptionalShutdownInfo(r)
	if err != nil {
		return nil, err
	}
	s.LocalShutdownInfo = local
	remote, err := readOptionalShutdownInfo(r)
	if err != nil {
		return nil, err
	}
	s.RemoteShutdownInfo = remote

	if err := readElements(r, &s.Reestablishing); err != nil {
		return nil, err
	}
	if err := readElements(r,
		&s.Constraints.MaxTlcValueInFlight, &s.Constraints.MaxTlcNumberInFlight,
		&s.IsPublic, &s.AnnouncementSignaturesExchanged,
	); err != nil {
		return nil, err
	}

	if err := readElements(r, &s.LastCommitmentTx); err != nil {
		return nil, err
	}

	return s, nil
}

func writeOptional32(w io.Writer, v *[32]byte) error {
	present := v != nil
	if err := writePresence(w, present); err != nil {
		return err
	}
	if !present {
		return nil
	}
	return writeElement(w, *v)
}

func readOptional32(r io.Reader) (*[32]byte, error) {
	present, err := readPresence(r)
	if err != nil || !present {
		return nil, err
	}
	var v [32]byte
	if err := readElement(r, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func writeOptional64(w io.Writer, v *[64]byte) error {
	present := v != nil
	if err := writePresence(w, present); err != nil {
		return err
	}
	if !present {
		return nil
	}
	return writeElement(w, *v)
}

func readOptional64(r io.Reader) (*[64]byte, error) {
	present, err := readPresence(r)
	if err != nil || !present {
		return nil, err
	}
	var v [64]byte
	if err := readElement(r, &v); err != nil {
		return nil, err
	}
	return &v, nil
}

func writeOptionalNonce(w io.Writer, v *[musig2.PubNonceSize]byte) error {
	present := v != nil
	if err := writePresence(w, present); err != nil {
		return err
	}
	if !present {
		return nil
	}
	_, err := w.Write(v[:])
	return err
}

func readOptionalNonce(r io.Reader) (*[musig2.PubNonceSize]byte, error) {
	present, err := readPresence(r)
	if err != nil || !present {
		return nil, err
	}
	var v [musig2.PubNonceSize]byte
	if _, err := io.ReadFull(r, v[:]); err != nil {
		return nil, err
	}
	return &v, nil
}

// writeSigner persists the raw private key material the Signer holds
// directly: this daemon has no external keychain/HSM abstraction
// (signer.Signer docstring), so the snapshot itself is the only place that
// material can live between restarts.
func writeSigner(w io.Writer, s *signer.Signer) error {
	return writeElements(w,
		s.FundingKey.Serialize(),
		s.TlcBaseKey.Serialize(),
		s.CommitmentSeed,
	)
}

func readSigner(r io.Reader) (*signer.Signer, error) {
	var fundingKeyBytes, tlcBaseKeyBytes []byte
	var seed [32]byte
	if err := readElements(r, &fundingKeyBytes, &tlcBaseKeyBytes, &seed); err != nil {
		return nil, err
	}
	fundingKey, _ := btcec.PrivKeyFromBytes(fundingKeyBytes)
	tlcBaseKey, _ := btcec.PrivKeyFromBytes(tlcBaseKeyBytes)
	return signer.New(fundingKey, tlcBaseKey, seed), nil
}

func writeFundingInfo(w io.Writer, f channel.FundingInfo) error {
	return writeElements(w,
		f.OutPoint, f.Amount, f.UdtTypeScript,
		f.ConfirmedBlock, f.ConfirmedTxIndex, f.Confirmed,
	)
}

func readFundingInfo(r io.Reader) (channel.FundingInfo, error) {
	var f channel.FundingInfo
	err := readElements(r,
		&f.OutPoint, &f.Amount, &f.UdtTypeScript,
		&f.ConfirmedBlock, &f.ConfirmedTxIndex, &f.Confirmed,
	)
	return f, err
}

func writeOptionalShutdownInfo(w io.Writer, s *channel.ShutdownInfo) error {
	present := s != nil
	if err := writePresence(w, present); err != nil {
		return err
	}
	if !present {
		return nil
	}
	if err := writeElements(w, s.CloseScript, s.FeeRate); err != nil {
		return err
	}
	return writeOptional64(w, s.Signature)
}

func readOptionalShutdownInfo(r io.Reader) (*channel.ShutdownInfo, error) {
	present, err := readPresence(r)
	if err != nil || !present {
		return nil, err
	}
	s := &channel.ShutdownInfo{}
	if err := readElements(r, &s.CloseScript, &s.FeeRate); err != nil {
		return nil, err
	}
	sig, err := readOptional64(r)
	if err != nil {
		return nil, err
	}
	s.Signature = sig
	return s, nil
}

func writeCommitmentNumbers(w io.Writer, c channel.CommitmentNumbers) error {
	return writeElements(w, c.Local, c.Remote)
}

func readCommitmentNumbers(r io.Reader) (channel.CommitmentNumbers, error) {
	var c channel.CommitmentNumbers
	err := readElements(r, &c.Local, &c.Remote)
	return c, err
}

func writeAddTlcInfo(w io.Writer, a *channel.AddTlcInfo) error {
	if err := writeElements(w,
		a.TlcId, a.Amount, a.PaymentHash, a.Expiry, a.HashAlgorithm,
		a.OnionPacket, a.SharedSecret,
	); err != nil {
		return err
	}
	if err := writeCommitmentNumbers(w, a.CreatedAt); err != nil {
		return err
	}

	removed := a.RemovedAt != nil
	if err := writePresence(w, removed); err != nil {
		return err
	}
	if removed {
		if err := writeCommitmentNumbers(w, a.RemovedAt.Numbers); err != nil {
			return err
		}
		if err := writeElement(w, a.RemovedAt.Reason); err != nil {
			return err
		}
	}

	if err := writeOptional32(w, a.PaymentPreimage); err != nil {
		return err
	}

	hasPrev := a.PreviousTlc != nil
	if err := writePresence(w, hasPrev); err != nil {
		return err
	}
	if hasPrev {
		if err := writeElements(w, a.PreviousTlc.ChannelId, a.PreviousTlc.TlcId); err != nil {
			return err
		}
	}
	return nil
}

func readAddTlcInfo(r io.Reader) (*channel.AddTlcInfo, error) {
	a := &channel.AddTlcInfo{}
	if err := readElements(r,
		&a.TlcId, &a.Amount, &a.PaymentHash, &a.Expiry, &a.HashAlgorithm,
		&a.OnionPacket, &a.SharedSecret,
	); err != nil {
		return nil, err
	}
	createdAt, err := readCommitmentNumbers(r)
	if err != nil {
		return nil, err
	}
	a.CreatedAt = createdAt

	removed, err := readPresence(r)
	if err != nil {
		return nil, err
	}
	if removed {
		numbers, err := readCommitmentNumbers(r)
		if err != nil {
			return nil, err
		}
		var reason channel.RemoveTlcReason
		if err := readElement(r, &reason); err != nil {
			return nil, err
		}
		a.RemovedAt = channel.NewRemovedAt(numbers, reason)
	}

	preimage, err := readOptional32(r)
	if err != nil {
		return nil, err
	}
	a.PaymentPreimage = preimage

	hasPrev, err := readPresence(r)
	if err != nil {
		return nil, err
	}
	if hasPrev {
		prev := &channel.PreviousTlc{}
		if err := readElements(r, &prev.ChannelId, &prev.TlcId); err != nil {
			return nil, err
		}
		a.PreviousTlc = prev
	}
	return a, nil
}

const (
	tlcKindAdd    uint8 = 0
	tlcKindRemove uint8 = 1
)

func writeTlcKind(w io.Writer, k channel.TlcKind) error {
	if k.Add != nil {
		if err := writeElement(w, tlcKindAdd); err != nil {
			return err
		}
		return writeAddTlcInfo(w, k.Add)
	}
	if err := writeElement(w, tlcKindRemove); err != nil {
		return err
	}
	return writeElements(w, k.Remove.TlcId, k.Remove.Reason)
}

func readTlcKind(r io.Reader) (channel.TlcKind, error) {
	var tag uint8
	if err := readElement(r, &tag); err != nil {
		return channel.TlcKind{}, err
	}
	switch tag {
	case tlcKindAdd:
		add, err := readAddTlcInfo(r)
		if err != nil {
			return channel.TlcKind{}, err
		}
		return channel.TlcKind{Add: add}, nil
	case tlcKindRemove:
		op := &channel.RemoveTlcOp{}
		if err := readElements(r, &op.TlcId, &op.Reason); err != nil {
			return channel.TlcKind{}, err
		}
		return channel.TlcKind{Remove: op}, nil
	default:
		return channel.TlcKind{}, fmt.Errorf("fiberdb: unknown TlcKind tag %d", tag)
	}
}

func writePendingTlcs(w io.Writer, p *channel.PendingTlcs) error {
	tlcs := p.Tlcs()
	if err := writeElement(w, uint32(len(tlcs))); err != nil {
		return err
	}
	for i := range tlcs {
		if err := writeTlcKind(w, tlcs[i]); err != nil {
			return err
		}
	}
	return writeElements(w, uint32(p.CommittedIndex()), p.NextTlcId())
}

func readPendingTlcs(r io.Reader) (*channel.PendingTlcs, error) {
	var count uint32
	if err := readElement(r, &count); err != nil {
		return nil, err
	}
	tlcs := make([]channel.TlcKind, count)
	for i := range tlcs {
		k, err := readTlcKind(r)
		if err != nil {
			return nil, err
		}
		tlcs[i] = k
	}

	var committedIdx uint32
	var nextTlcId uint64
	if err := readElements(r, &committedIdx, &nextTlcId); err != nil {
		return nil, err
	}
	return channel.RestorePendingTlcs(tlcs, int(committedIdx), nextTlcId), nil
}

const (
	retryableRemove uint8 = 0
	retryableRelay  uint8 = 1
)

func writeRetryableRemoveTlc(w io.Writer, r channel.RetryableRemoveTlc) error {
	if r.RemoveTlc != nil {
		if err := writeElement(w, retryableRemove); err != nil {
			return err
		}
		return writeElements(w, r.RemoveTlc.TlcId, r.RemoveTlc.Reason)
	}
	if err := writeElement(w, retryableRelay); err != nil {
		return err
	}
	rel := r.RelayRemoveTlc
	return writeElements(w, rel.UpstreamChannelId, rel.UpstreamTlcId, rel.Reason)
}

func readRetryableRemoveTlc(r io.Reader) (channel.RetryableRemoveTlc, error) {
	var tag uint8
	if err := readElement(r, &tag); err != nil {
		return channel.RetryableRemoveTlc{}, err
	}
	switch tag {
	case retryableRemove:
		op := &channel.RemoveTlcOp{}
		if err := readElements(r, &op.TlcId, &op.Reason); err != nil {
			return channel.RetryableRemoveTlc{}, err
		}
		return channel.RetryableRemoveTlc{RemoveTlc: op}, nil
	case retryableRelay:
		rel := &channel.RelayRemoveTlc{}
		if err := readElements(r, &rel.UpstreamChannelId, &rel.UpstreamTlcId, &rel.Reason); err != nil {
			return channel.RetryableRemoveTlc{}, err
		}
		return channel.RetryableRemoveTlc{RelayRemoveTlc: rel}, nil
	default:
		return channel.RetryableRemoveTlc{}, fmt.Errorf("fiberdb: unknown RetryableRemoveTlc tag %d", tag)
	}
}

func writeTlcState(w io.Writer, t *channel.TlcState) error {
	if err := writePendingTlcs(w, t.LocalPendingTlcs); err != nil {
		return err
	}
	if err := writePendingTlcs(w, t.RemotePendingTlcs); err != nil {
		return err
	}
	if err := writeElement(w, t.WaitingAck); err != nil {
		return err
	}
	if err := writeElement(w, uint32(len(t.RetryableRemoves))); err != nil {
		return err
	}
	for _, rr := range t.RetryableRemoves {
		if err := writeRetryableRemoveTlc(w, rr); err != nil {
			return err
		}
	}
	return nil
}

func readTlcState(r io.Reader) (*channel.TlcState, error) {
	local, err := readPendingTlcs(r)
	if err != nil {
		return nil, err
	}
	remote, err := readPendingTlcs(r)
	if err != nil {
		return nil, err
	}
	var waitingAck bool
	if err := readElement(r, &waitingAck); err != nil {
		return nil, err
	}
	var count uint32
	if err := readElement(r, &count); err != nil {
		return nil, err
	}
	retries := make([]channel.RetryableRemoveTlc, count)
	for i := range retries {
		rr, err := readRetryableRemoveTlc(r)
		if err != nil {
			return nil, err
		}
		retries[i] = rr
	}
	return &channel.TlcState{
		LocalPendingTlcs:  local,
		RemotePendingTlcs: remote,
		WaitingAck:        waitingAck,
		RetryableRemoves:  retries,
	}, nil
}

func writeCommitmentPointWindow(w io.Writer, win *channel.CommitmentPointWindow) error {
	points := win.Points()
	if err := writeElement(w, uint32(win.Bound())); err != nil {
		return err
	}
	if err := writeElement(w, uint32(len(points))); err != nil {
		return err
	}
	for n, p := range points {
		if err := writeElements(w, n, p); err != nil {
			return err
		}
	}
	return nil
}

func readCommitmentPointWindow(r io.Reader) (*channel.CommitmentPointWindow, error) {
	var bound, count uint32
	if err := readElements(r, &bound, &count); err != nil {
		return nil, err
	}
	points := make(map[uint64]*btcec.PublicKey, count)
	for i := uint32(0); i < count; i++ {
		var n uint64
		var p *btcec.PublicKey
		if err := readElements(r, &n, &p); err != nil {
			return nil, err
		}
		points[n] = p
	}
	return channel.RestoreCommitmentPointWindow(points, int(bound)), nil
}
