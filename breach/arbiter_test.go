package breach

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nervosnetwork/fiber-channeld/channel"
)

func TestHandleEventPersistsRevocationData(t *testing.T) {
	arb := NewArbiter(openTestStore(t))

	arb.HandleEvent(channel.RevocationProduced{
		ChannelId:          chanId(1),
		CommitmentNumber:   3,
		CommitmentLockArgs: []byte("args"),
	})

	ret, err := arb.NotifyBreach(chanId(1), 3)
	require.NoError(t, err)
	require.Equal(t, []byte("args"), ret.CommitmentLockArgs)
}

func TestHandleEventIgnoresOtherEventTypes(t *testing.T) {
	arb := NewArbiter(openTestStore(t))

	arb.HandleEvent(channel.TlcResolved{ChannelId: chanId(1)})

	_, err := arb.NotifyBreach(chanId(1), 0)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestNotifyBreachMissingCommitmentNumberErrors(t *testing.T) {
	arb := NewArbiter(openTestStore(t))

	arb.HandleEvent(channel.RevocationProduced{ChannelId: chanId(1), CommitmentNumber: 1})

	_, err := arb.NotifyBreach(chanId(1), 2)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSettleChannelDropsStoredRetributions(t *testing.T) {
	arb := NewArbiter(openTestStore(t))
	arb.WatchChannel(chanId(1))

	arb.HandleEvent(channel.RevocationProduced{ChannelId: chanId(1), CommitmentNumber: 1})

	require.NoError(t, arb.SettleChannel(chanId(1)))

	_, err := arb.NotifyBreach(chanId(1), 1)
	require.ErrorIs(t, err, ErrNotFound)
}
