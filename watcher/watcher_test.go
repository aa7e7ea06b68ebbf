package watcher

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nervosnetwork/fiber-channeld/channel"
)

type fakeLink struct {
	id [32]byte

	fundingMsg   *channel.FundingConfirmedMsg
	commitmentOK bool
}

func (f *fakeLink) ChannelId() [32]byte { return f.id }

func (f *fakeLink) DeliverFundingConfirmed(msg channel.FundingConfirmedMsg) {
	f.fundingMsg = &msg
}

func (f *fakeLink) DeliverCommitmentConfirmed() {
	f.commitmentOK = true
}

func chanId(b byte) [32]byte {
	var id [32]byte
	id[0] = b
	return id
}

func TestNotifyFundingConfirmedDeliversToRegisteredLink(t *testing.T) {
	w := New()
	link := &fakeLink{id: chanId(1)}
	w.RegisterLink(link)

	w.NotifyFundingConfirmed(chanId(1), 42, 3)

	require.NotNil(t, link.fundingMsg)
	require.Equal(t, uint64(42), link.fundingMsg.BlockNumber)
	require.Equal(t, uint32(3), link.fundingMsg.TxIndex)
}

func TestNotifyFundingConfirmedIgnoresUnregisteredChannel(t *testing.T) {
	w := New()
	w.NotifyFundingConfirmed(chanId(9), 1, 0) // must not panic
}

func TestNotifyCommitmentConfirmedDeliversAndClearsPending(t *testing.T) {
	w := New()
	link := &fakeLink{id: chanId(2)}
	w.RegisterLink(link)

	w.HandleEvent(channel.CommitmentTransactionPending{ChannelId: chanId(2), RawTx: []byte("tx")})
	require.Equal(t, []byte("tx"), w.pendingCommitment[chanId(2)])

	w.NotifyCommitmentConfirmed(chanId(2))

	require.True(t, link.commitmentOK)
	require.NotContains(t, w.pendingCommitment, chanId(2))
}

func TestHandleEventRecordsClosingTxAndNotifyClears(t *testing.T) {
	w := New()
	w.HandleEvent(channel.ClosingTransactionPending{ChannelId: chanId(3), RawTx: []byte("closetx")})
	require.Equal(t, []byte("closetx"), w.pendingClosing[chanId(3)])

	w.NotifyClosingConfirmed(chanId(3))
	require.NotContains(t, w.pendingClosing, chanId(3))
}

func TestHandleEventIgnoresUnrelatedEvents(t *testing.T) {
	w := New()
	w.HandleEvent(channel.RevocationProduced{ChannelId: chanId(4)})
	require.Empty(t, w.pendingCommitment)
	require.Empty(t, w.pendingClosing)
}

func TestUnregisterLinkDropsPendingState(t *testing.T) {
	w := New()
	link := &fakeLink{id: chanId(5)}
	w.RegisterLink(link)
	w.HandleEvent(channel.CommitmentTransactionPending{ChannelId: chanId(5), RawTx: []byte("x")})

	w.UnregisterLink(chanId(5))

	require.NotContains(t, w.pendingCommitment, chanId(5))
	w.NotifyCommitmentConfirmed(chanId(5)) // now unregistered, must not panic
	require.False(t, link.commitmentOK)
}
