package channel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProcessReestablishBothAxesEqualResendsCommitmentSigned(t *testing.T) {
	local, _, _, _ := newTestChannelPair(t, 500_000, 500_000)
	local.BeginReestablish()

	outcome, err := local.ProcessReestablish(ReestablishChannelMsg{
		ChannelId:              local.ChannelId,
		LocalCommitmentNumber:  local.CommitmentNumbers.Remote,
		RemoteCommitmentNumber: local.CommitmentNumbers.Local,
	})
	require.NoError(t, err)
	require.True(t, outcome.ResendCommitmentSigned)
	require.Equal(t, local.CommitmentNumbers.Local, outcome.ResendFromCommitmentNumber)
	require.False(t, outcome.ResendRevokeAndAck)
	require.False(t, local.Reestablishing)
}

func TestProcessReestablishPeerBehindOnLocalAxisResendsNothing(t *testing.T) {
	local, _, _, _ := newTestChannelPair(t, 500_000, 500_000)
	local.CommitmentNumbers.Local = 5

	outcome, err := local.ProcessReestablish(ReestablishChannelMsg{
		LocalCommitmentNumber:  local.CommitmentNumbers.Remote,
		RemoteCommitmentNumber: 4, // peer believes our local is still 4
	})
	require.NoError(t, err)
	require.False(t, outcome.ResendCommitmentSigned)
	require.False(t, outcome.ResendRevokeAndAck)
}

func TestProcessReestablishWeAreOneAheadOnRemoteAxisResendsRevokeAndAck(t *testing.T) {
	local, _, _, _ := newTestChannelPair(t, 500_000, 500_000)
	local.CommitmentNumbers.Remote = 5

	outcome, err := local.ProcessReestablish(ReestablishChannelMsg{
		LocalCommitmentNumber:  4, // peer's local is one behind our remote
		RemoteCommitmentNumber: local.CommitmentNumbers.Local,
	})
	require.NoError(t, err)
	require.False(t, outcome.ResendCommitmentSigned)
	require.True(t, outcome.ResendRevokeAndAck)
}

func TestProcessReestablishInvalidLocalAxisLeavesStateUntouched(t *testing.T) {
	local, _, _, _ := newTestChannelPair(t, 500_000, 500_000)
	local.CommitmentNumbers.Local = 5
	local.BeginReestablish()

	_, err := local.ProcessReestablish(ReestablishChannelMsg{
		LocalCommitmentNumber:  local.CommitmentNumbers.Remote,
		RemoteCommitmentNumber: 2, // more than one behind: invalid
	})
	require.Error(t, err)
	require.True(t, local.Reestablishing, "an invalid reestablish must not clear the drop-gate")
}

func TestProcessReestablishInvalidRemoteAxisLeavesStateUntouched(t *testing.T) {
	local, _, _, _ := newTestChannelPair(t, 500_000, 500_000)
	local.CommitmentNumbers.Remote = 5
	local.BeginReestablish()

	_, err := local.ProcessReestablish(ReestablishChannelMsg{
		LocalCommitmentNumber:  2, // more than one behind: invalid
		RemoteCommitmentNumber: local.CommitmentNumbers.Local,
	})
	require.Error(t, err)
	require.True(t, local.Reestablishing)
}

func TestOutboundOpsSinceFiltersByCreationCommitmentNumber(t *testing.T) {
	local, _, _, _ := newTestChannelPair(t, 500_000, 500_000)

	oldAdd := &AddTlcInfo{TlcId: OfferedTLCId(0), Amount: 1, CreatedAt: CommitmentNumbers{Local: 1}}
	newAdd := &AddTlcInfo{TlcId: OfferedTLCId(1), Amount: 2, CreatedAt: CommitmentNumbers{Local: 3}}
	require.NoError(t, local.Tlc.LocalPendingTlcs.Push(TlcKind{Add: oldAdd}))
	require.NoError(t, local.Tlc.LocalPendingTlcs.Push(TlcKind{Add: newAdd}))

	ops := local.OutboundOpsSince(2)
	require.Len(t, ops, 1)
	require.Equal(t, newAdd.TlcId, ops[0].Add.TlcId)
}

func TestOutboundOpsSinceResolvesRemoveByReferencedAddCreationTime(t *testing.T) {
	local, _, _, _ := newTestChannelPair(t, 500_000, 500_000)

	receivedAdd := &AddTlcInfo{TlcId: ReceivedTLCId(0), Amount: 1, CreatedAt: CommitmentNumbers{Local: 1}}
	require.NoError(t, local.Tlc.RemotePendingTlcs.Push(TlcKind{Add: receivedAdd}))
	remove := &RemoveTlcOp{TlcId: receivedAdd.TlcId, Reason: RemoveTlcReason{Fulfill: &RemoveTlcFulfill{PaymentPreimage: [32]byte{9}}}}
	require.NoError(t, local.Tlc.LocalPendingTlcs.Push(TlcKind{Remove: remove}))

	ops := local.OutboundOpsSince(1)
	require.Len(t, ops, 1)
	require.Equal(t, receivedAdd.TlcId, ops[0].Remove.TlcId)

	require.Empty(t, local.OutboundOpsSince(2))
}
