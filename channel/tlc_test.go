package channel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPendingTlcsPushRejectsDuplicateKey(t *testing.T) {
	p := newPendingTlcs()

	add := &AddTlcInfo{TlcId: OfferedTLCId(0), Amount: 1000}
	require.NoError(t, p.Push(TlcKind{Add: add}))
	require.Error(t, p.Push(TlcKind{Add: add}))
}

func TestPendingTlcsCommitStagingSplitsPrefix(t *testing.T) {
	p := newPendingTlcs()

	add0 := &AddTlcInfo{TlcId: OfferedTLCId(0), Amount: 1}
	add1 := &AddTlcInfo{TlcId: OfferedTLCId(1), Amount: 2}

	require.NoError(t, p.Push(TlcKind{Add: add0}))
	committed := p.CommitStaging()
	require.Len(t, committed, 1)
	require.Len(t, p.CommittedTlcs(), 1)
	require.Empty(t, p.StagingTlcs())

	require.NoError(t, p.Push(TlcKind{Add: add1}))
	require.Len(t, p.CommittedTlcs(), 1)
	require.Len(t, p.StagingTlcs(), 1)
}

func TestPendingTlcsShrinkRemovedCompactsResolvedAdds(t *testing.T) {
	p := newPendingTlcs()

	add := &AddTlcInfo{TlcId: OfferedTLCId(0), Amount: 1}
	require.NoError(t, p.Push(TlcKind{Add: add}))
	p.CommitStaging()

	require.NoError(t, p.MarkRemoved(add.TlcId, CommitmentNumbers{Local: 1}, RemoveTlcReason{
		Fulfill: &RemoveTlcFulfill{PaymentPreimage: [32]byte{1}},
	}))
	require.NoError(t, p.Push(TlcKind{Remove: &RemoveTlcOp{TlcId: add.TlcId}}))
	p.CommitStaging()

	p.ShrinkRemoved()

	require.Nil(t, p.Get(add.TlcId))
}

func TestPendingTlcsMarkRemovedRejectsRepeat(t *testing.T) {
	p := newPendingTlcs()
	add := &AddTlcInfo{TlcId: OfferedTLCId(0), Amount: 1}
	require.NoError(t, p.Push(TlcKind{Add: add}))

	reason := RemoveTlcReason{Fulfill: &RemoveTlcFulfill{PaymentPreimage: [32]byte{2}}}
	require.NoError(t, p.MarkRemoved(add.TlcId, CommitmentNumbers{}, reason))
	require.Error(t, p.MarkRemoved(add.TlcId, CommitmentNumbers{}, reason))
}

func TestRetryQueueRequeuePreservesFIFOOrder(t *testing.T) {
	s := &ChannelActorState{Tlc: NewTlcState()}

	s.Tlc.EnqueueRetryableRemove(RetryableRemoveTlc{RemoveTlc: &RemoveTlcOp{TlcId: OfferedTLCId(0)}})
	s.Tlc.EnqueueRetryableRemove(RetryableRemoveTlc{RemoveTlc: &RemoveTlcOp{TlcId: OfferedTLCId(1)}})
	s.Tlc.EnqueueRetryableRemove(RetryableRemoveTlc{RemoveTlc: &RemoveTlcOp{TlcId: OfferedTLCId(2)}})

	var dispatched []uint64
	dispatch := func(r RetryableRemoveTlc) error {
		dispatched = append(dispatched, r.RemoveTlc.TlcId.Index)
		if r.RemoveTlc.TlcId.Index == 1 {
			return ErrWaitingTlcAck
		}
		return nil
	}

	s.ScanRetryableRemoves(dispatch)
	require.Equal(t, []uint64{0, 1, 2}, dispatched)
	require.Len(t, s.Tlc.RetryableRemoves, 1)
	require.Equal(t, uint64(1), s.Tlc.RetryableRemoves[0].RemoveTlc.TlcId.Index)

	// Next scan retries the requeued entry first.
	dispatched = nil
	s.ScanRetryableRemoves(func(r RetryableRemoveTlc) error {
		dispatched = append(dispatched, r.RemoveTlc.TlcId.Index)
		return nil
	})
	require.Equal(t, []uint64{1}, dispatched)
	require.Empty(t, s.Tlc.RetryableRemoves)
}

func TestHandleAddTlcCommandRejectsWhileWaitingAck(t *testing.T) {
	local, _, _, _ := newTestChannelPair(t, 500_000, 500_000)
	local.Tlc.SetWaitingAck(true)

	_, _, err := local.HandleAddTlcCommand(AddTlcCommand{
		Amount:      1000,
		PaymentHash: mustHash([32]byte{7}),
		Expiry:      nowMs() + MinTlcExpiryDeltaMs + 1000,
	})
	require.ErrorIs(t, err, ErrWaitingTlcAck)
}

func TestHandleAddTlcCommandRejectsOverCapacity(t *testing.T) {
	local, _, _, _ := newTestChannelPair(t, 1000, 500_000)

	_, _, err := local.HandleAddTlcCommand(AddTlcCommand{
		Amount:      2000,
		PaymentHash: mustHash([32]byte{7}),
		Expiry:      nowMs() + MinTlcExpiryDeltaMs + 1000,
	})
	require.ErrorIs(t, err, ErrCapacityError)
}

func TestHandleAddTlcCommandRejectsBadExpiry(t *testing.T) {
	local, _, _, _ := newTestChannelPair(t, 500_000, 500_000)

	_, _, err := local.HandleAddTlcCommand(AddTlcCommand{
		Amount:      1000,
		PaymentHash: mustHash([32]byte{7}),
		Expiry:      nowMs() + 1, // well under MinTlcExpiryDeltaMs
	})
	require.ErrorIs(t, err, ErrTlcExpirySoon)
}

func TestHandleRemoveTlcCommandRejectsBadPreimage(t *testing.T) {
	local, _, _, _ := newTestChannelPair(t, 500_000, 500_000)

	paymentHash := mustHash([32]byte{9})
	add := &AddTlcInfo{TlcId: ReceivedTLCId(0), Amount: 1000, PaymentHash: paymentHash, HashAlgorithm: HashAlgorithmSha256}
	require.NoError(t, local.Tlc.RemotePendingTlcs.Push(TlcKind{Add: add}))
	local.Tlc.RemotePendingTlcs.CommitStaging()

	_, err := local.HandleRemoveTlcCommand(RemoveTlcCommand{
		TlcId: add.TlcId,
		Reason: RemoveTlcReason{
			Fulfill: &RemoveTlcFulfill{PaymentPreimage: [32]byte{0xff}},
		},
	})
	require.ErrorIs(t, err, ErrFinalIncorrectPreimage)
}
