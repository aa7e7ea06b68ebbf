package channel

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// relayFlush is a FlushFunc that fulfills every newly committed received
// Add immediately with a fixed preimage, standing in for the real
// onion/invoice collaborators in round-trip tests. It stages the
// resulting Remove the same way HandleRemoveTlcCommand would (minus the
// SendCommitmentSigned/waiting_ack side effects, since this runs mid
// flush), leaving the formal MarkRemoved and balance shift to the next
// commitment round's applyRemoves.
func relayFlush(preimages map[[32]byte][32]byte) FlushFunc {
	return func(s *ChannelActorState, committed []TlcKind) error {
		for _, op := range committed {
			if op.Add == nil || !op.Add.IsReceived() {
				continue
			}
			preimage, ok := preimages[op.Add.PaymentHash]
			if !ok {
				continue
			}
			reason := RemoveTlcReason{Fulfill: &RemoveTlcFulfill{PaymentPreimage: preimage}}
			if err := s.Tlc.LocalPendingTlcs.Push(TlcKind{Remove: &RemoveTlcOp{TlcId: op.Add.TlcId, Reason: reason}}); err != nil {
				return err
			}
		}
		return nil
	}
}

// applyCommitmentRound feeds an already-built CommitmentSigned message
// through remote's verification and flush, then feeds the resulting
// RevokeAndAck back through local.
func applyCommitmentRound(t *testing.T, local, remote *ChannelActorState, sigMsg *CommitmentSignedMsg, flush FlushFunc) {
	t.Helper()

	revoke, err := remote.ReceiveCommitmentSigned(sigMsg, flush)
	require.NoError(t, err)

	require.NoError(t, local.ReceiveRevokeAndAck(revoke))
}

func TestAddTlcCommitmentRevokeRoundTrip(t *testing.T) {
	local, remote, localSink, _ := newTestChannelPair(t, 500_000, 500_000)

	var preimage [32]byte = [32]byte{0x42}
	paymentHash := mustHash(preimage)

	add, sigMsg, err := local.HandleAddTlcCommand(AddTlcCommand{
		Amount:        10_000,
		PaymentHash:   paymentHash,
		Expiry:        nowMs() + MinTlcExpiryDeltaMs + 60_000,
		HashAlgorithm: HashAlgorithmSha256,
	})
	require.NoError(t, err)
	require.True(t, local.Tlc.WaitingAck)
	require.Equal(t, uint64(500_000-10_000), local.ToLocalAmount, "amount reserved out of local's balance at add time")

	// Mirror the AddTlc message onto remote's view.
	require.NoError(t, remote.ReceiveAddTlc(&AddTlcMsg{
		ChannelId:     local.ChannelId,
		TlcId:         add.TlcId.Index,
		Amount:        add.Amount,
		PaymentHash:   add.PaymentHash,
		Expiry:        add.Expiry,
		HashAlgorithm: add.HashAlgorithm,
	}))

	flush := relayFlush(map[[32]byte][32]byte{paymentHash: preimage})
	applyCommitmentRound(t, local, remote, sigMsg, flush)

	require.False(t, local.Tlc.WaitingAck)
	require.NotEmpty(t, localSink.events, "local should emit revocation/settlement events on ReceiveRevokeAndAck")

	found := false
	for _, e := range localSink.events {
		if _, ok := e.(RevocationProduced); ok {
			found = true
		}
	}
	require.True(t, found, "expected local to emit RevocationProduced")

	// Mirror the RemoveTlc message remote would send once it resolved the
	// TLC during flush.
	require.NoError(t, local.ReceiveRemoveTlc(&RemoveTlcMsg{
		ChannelId: local.ChannelId,
		TlcId:     add.TlcId,
		Reason:    RemoveTlcReason{Fulfill: &RemoveTlcFulfill{PaymentPreimage: preimage}},
	}))

	// The received TLC was fulfilled during flush, committed on the next
	// round, and should be reflected once the remote's own
	// CommitmentSigned/RevokeAndAck cycle runs.
	sigMsg2, err := remote.SendCommitmentSigned()
	require.NoError(t, err)
	revoke2, err := local.ReceiveCommitmentSigned(sigMsg2, nil)
	require.NoError(t, err)
	require.NoError(t, remote.ReceiveRevokeAndAck(revoke2))

	require.Equal(t, uint64(500_000-10_000), local.ToLocalAmount)
	require.Equal(t, uint64(500_000+10_000), local.ToRemoteAmount)
}

func TestReceiveCommitmentSignedRejectsBadSignature(t *testing.T) {
	local, remote, _, _ := newTestChannelPair(t, 500_000, 500_000)

	sigMsg, err := local.SendCommitmentSigned()
	require.NoError(t, err)

	// Corrupt the funding-tx partial signature.
	sigMsg.FundingTxPartialSignature.S.SetInt(1)

	_, err = remote.ReceiveCommitmentSigned(sigMsg, nil)
	require.ErrorIs(t, err, ErrMusig2VerifyError)
}

func TestShutdownRoundTripProducesClosingTransaction(t *testing.T) {
	local, remote, localSink, _ := newTestChannelPair(t, 500_000, 500_000)

	localMsg, err := local.StartShutdown([]byte("local-close-script"), 0)
	require.NoError(t, err)

	remoteReply, err := remote.ReceiveShutdown(localMsg)
	require.NoError(t, err)
	require.NotNil(t, remoteReply, "remote should auto-accept with its own shutdown")

	_, err = local.ReceiveShutdown(remoteReply)
	require.NoError(t, err)

	require.True(t, local.ReadyForClosingTx())
	require.True(t, remote.ReadyForClosingTx())

	remoteSigned, err := remote.SendClosingSigned()
	require.NoError(t, err)
	require.NoError(t, local.ReceiveClosingSigned(remoteSigned))

	localSigned, err := local.SendClosingSigned()
	require.NoError(t, err)
	require.NoError(t, remote.ReceiveClosingSigned(localSigned))

	var sawClosing bool
	for _, e := range localSink.events {
		if _, ok := e.(ClosingTransactionPending); ok {
			sawClosing = true
		}
	}
	require.True(t, sawClosing)
	require.True(t, local.IsClosed())
}

