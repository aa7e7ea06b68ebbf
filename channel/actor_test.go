package channel

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// recordingOutbound is an OutboundSink that records every sent payload,
// safe for concurrent use since it is read from the test goroutine while
// the actor's own goroutine writes to it.
type recordingOutbound struct {
	mu   sync.Mutex
	sent []interface{}
}

func (r *recordingOutbound) Send(channelId [32]byte, payload interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, payload)
}

func (r *recordingOutbound) snapshot() []interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]interface{}, len(r.sent))
	copy(out, r.sent)
	return out
}

// newTestActor wires a ChannelActorState into a running ChannelActor, the
// way cmd/fiberd's peer handler would after a successful open; flush and
// dispatch are left nil here since no test in this file exercises a TLC
// resolution path (that belongs to commitment_test.go/tlc_test.go).
func newTestActor(t *testing.T, state *ChannelActorState) (*ChannelActor, *recordingOutbound) {
	t.Helper()

	out := &recordingOutbound{}
	a := NewChannelActor(state, nil, nil, out)
	go a.Run()
	t.Cleanup(a.Stop)
	return a, out
}

func TestChannelActorAddTlcDispatchesAddAndCommitmentSigned(t *testing.T) {
	local, _, _, _ := newTestChannelPair(t, 500_000, 500_000)
	actor, out := newTestActor(t, local)

	add, err := actor.AddTlc(AddTlcCommand{
		Amount:        10_000,
		PaymentHash:   mustHash([32]byte{0x7}),
		Expiry:        nowMs() + MinTlcExpiryDeltaMs + 60_000,
		HashAlgorithm: HashAlgorithmSha256,
	})
	require.NoError(t, err)
	require.NotNil(t, add)

	sent := out.snapshot()
	require.Len(t, sent, 2, "expected an AddTlcMsg followed by a CommitmentSignedMsg")
	_, isAdd := sent[0].(AddTlcMsg)
	require.True(t, isAdd)
	_, isSig := sent[1].(CommitmentSignedMsg)
	require.True(t, isSig)
}

func TestChannelActorAddTlcRejectsOverCapacity(t *testing.T) {
	local, _, _, _ := newTestChannelPair(t, 500_000, 500_000)
	actor, out := newTestActor(t, local)

	_, err := actor.AddTlc(AddTlcCommand{
		Amount:        600_000,
		PaymentHash:   mustHash([32]byte{0x7}),
		Expiry:        nowMs() + MinTlcExpiryDeltaMs + 60_000,
		HashAlgorithm: HashAlgorithmSha256,
	})
	require.ErrorIs(t, err, ErrCapacityError)
	require.Empty(t, out.snapshot(), "a rejected command must not reach the outbound sink")
}

func TestChannelActorRemoveTlcDispatchesRemoveAndCommitmentSigned(t *testing.T) {
	local, remote, _, _ := newTestChannelPair(t, 500_000, 500_000)

	var preimage [32]byte = [32]byte{0x9}
	paymentHash := mustHash(preimage)

	add, sigMsg, err := local.HandleAddTlcCommand(AddTlcCommand{
		Amount:        5_000,
		PaymentHash:   paymentHash,
		Expiry:        nowMs() + MinTlcExpiryDeltaMs + 60_000,
		HashAlgorithm: HashAlgorithmSha256,
	})
	require.NoError(t, err)

	require.NoError(t, remote.ReceiveAddTlc(&AddTlcMsg{
		ChannelId:     local.ChannelId,
		TlcId:         add.TlcId.Index,
		Amount:        add.Amount,
		PaymentHash:   add.PaymentHash,
		Expiry:        add.Expiry,
		HashAlgorithm: add.HashAlgorithm,
	}))
	revoke, err := remote.ReceiveCommitmentSigned(sigMsg, nil)
	require.NoError(t, err)
	require.NoError(t, local.ReceiveRevokeAndAck(revoke))

	actor, out := newTestActor(t, remote)

	err = actor.RemoveTlc(RemoveTlcCommand{
		TlcId:  add.TlcId,
		Reason: RemoveTlcReason{Fulfill: &RemoveTlcFulfill{PaymentPreimage: preimage}},
	})
	require.NoError(t, err)

	sent := out.snapshot()
	require.Len(t, sent, 2)
	_, isRemove := sent[0].(RemoveTlcMsg)
	require.True(t, isRemove)
	_, isSig := sent[1].(CommitmentSignedMsg)
	require.True(t, isSig)
}

func TestChannelActorShutdownSendsMessage(t *testing.T) {
	local, _, _, _ := newTestChannelPair(t, 500_000, 500_000)
	actor, out := newTestActor(t, local)

	err := actor.Shutdown([]byte("close-script"), 0)
	require.NoError(t, err)

	sent := out.snapshot()
	require.Len(t, sent, 1)
	_, ok := sent[0].(ShutdownMsg)
	require.True(t, ok)
}

func TestChannelActorForceCloseClosesState(t *testing.T) {
	local, _, _, _ := newTestChannelPair(t, 500_000, 500_000)
	actor, _ := newTestActor(t, local)

	require.NoError(t, actor.ForceClose())
	require.True(t, local.IsClosed())
}

func TestChannelActorReestablishSendsReestablishMessage(t *testing.T) {
	local, _, _, _ := newTestChannelPair(t, 500_000, 500_000)
	actor, out := newTestActor(t, local)

	require.NoError(t, actor.Reestablish())
	require.True(t, local.Reestablishing)

	sent := out.snapshot()
	require.Len(t, sent, 1)
	_, ok := sent[0].(ReestablishChannelMsg)
	require.True(t, ok)
}

func TestChannelActorDeliverAddTlcAppliesToState(t *testing.T) {
	local, remote, _, _ := newTestChannelPair(t, 500_000, 500_000)

	add, _, err := local.HandleAddTlcCommand(AddTlcCommand{
		Amount:        1_000,
		PaymentHash:   mustHash([32]byte{0x1}),
		Expiry:        nowMs() + MinTlcExpiryDeltaMs + 60_000,
		HashAlgorithm: HashAlgorithmSha256,
	})
	require.NoError(t, err)

	actor, _ := newTestActor(t, remote)
	actor.DeliverAddTlc(&AddTlcMsg{
		ChannelId:     local.ChannelId,
		TlcId:         add.TlcId.Index,
		Amount:        add.Amount,
		PaymentHash:   add.PaymentHash,
		Expiry:        add.Expiry,
		HashAlgorithm: add.HashAlgorithm,
	})

	require.Eventually(t, func() bool {
		return remote.Tlc.RemotePendingTlcs.Get(add.TlcId.Flip()) != nil
	}, time.Second, time.Millisecond, "delivered AddTlc should be visible on remote's state once the mailbox drains it")
}

func TestChannelActorDropsNonReestablishMessagesWhileReestablishing(t *testing.T) {
	local, _, _, _ := newTestChannelPair(t, 500_000, 500_000)
	local.BeginReestablish()

	actor, _ := newTestActor(t, local)

	// Deliver an AddTlc while gated; it must be silently dropped rather
	// than applied (spec.md §4.7).
	actor.DeliverAddTlc(&AddTlcMsg{
		ChannelId:     local.ChannelId,
		TlcId:         0,
		Amount:        1_000,
		PaymentHash:   mustHash([32]byte{0x2}),
		Expiry:        nowMs() + MinTlcExpiryDeltaMs + 60_000,
		HashAlgorithm: HashAlgorithmSha256,
	})

	// Deliver a harmless reestablish from the peer to flush the mailbox
	// and observe that the gate eventually clears, proving the earlier
	// AddTlc was processed (dropped) before this one rather than queued
	// behind it.
	actor.DeliverReestablish(&ReestablishChannelMsg{
		ChannelId:              local.ChannelId,
		LocalCommitmentNumber:  local.CommitmentNumbers.Remote,
		RemoteCommitmentNumber: local.CommitmentNumbers.Local,
	})

	require.Eventually(t, func() bool {
		return !local.Reestablishing
	}, time.Second, time.Millisecond)

	require.Nil(t, local.Tlc.RemotePendingTlcs.Get(ReceivedTLCId(0)),
		"AddTlc delivered during reestablish must never reach the ledger")
}

func TestChannelActorRejectsRequestsAfterStop(t *testing.T) {
	local, _, _, _ := newTestChannelPair(t, 500_000, 500_000)

	out := &recordingOutbound{}
	actor := NewChannelActor(local, nil, nil, out)
	go actor.Run()
	actor.Stop()

	_, err := actor.AddTlc(AddTlcCommand{
		Amount:        1_000,
		PaymentHash:   mustHash([32]byte{0x3}),
		Expiry:        nowMs() + MinTlcExpiryDeltaMs + 60_000,
		HashAlgorithm: HashAlgorithmSha256,
	})
	require.ErrorIs(t, err, ErrChanClosing)
}
