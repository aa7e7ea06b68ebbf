package fiberdb

import (
	"crypto/sha256"
	"testing"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/musig2"
	"github.com/stretchr/testify/require"

	"github.com/nervosnetwork/fiber-channeld/channel"
	"github.com/nervosnetwork/fiber-channeld/signer"
)

func keyFromSeed(t *testing.T, seed string) *btcec.PrivateKey {
	t.Helper()
	h := sha256.Sum256([]byte(seed))
	priv, _ := btcec.PrivKeyFromBytes(h[:])
	return priv
}

// newTestChannelState builds a ChannelActorState populated across every
// field serializeChannel persists: a committed-then-removed TLC (to
// exercise RemovedAt/PaymentPreimage), a nonce ring holding both a current
// and a last-used nonce, a populated commitment-point window, and a recorded
// local shutdown.
func newTestChannelState(t *testing.T) *channel.ChannelActorState {
	t.Helper()

	localFunding := keyFromSeed(t, "local-funding")
	localTlcBase := keyFromSeed(t, "local-tlc-base")
	remoteTlcBase := keyFromSeed(t, "remote-tlc-base")

	var seed [32]byte
	copy(seed[:], sha256.Sum256([]byte("commitment-seed"))[:])
	s := signer.New(localFunding, localTlcBase, seed)

	state := channel.NewOutboundChannel(
		s, localTlcBase.PubKey(), remoteTlcBase.PubKey(),
		500_000, 10_000, false, nil,
	)
	state.ChannelId = channel.ChannelId(localTlcBase.PubKey(), remoteTlcBase.PubKey())
	state.LocalPubkey = localFunding.PubKey()
	state.RemotePubkey = keyFromSeed(t, "remote-funding").PubKey()
	state.Restore(channel.ChannelState{State: channel.StateChannelReady})

	state.NonceRing.Remember([musig2.PubNonceSize]byte{0xAA})
	state.NonceRing.MarkLastUsed()
	state.NonceRing.Remember([musig2.PubNonceSize]byte{0xBB})
	state.RemoteCommitmentPoints.Insert(0, keyFromSeed(t, "commitment-point-0").PubKey())
	state.RemoteCommitmentPoints.Insert(1, keyFromSeed(t, "commitment-point-1").PubKey())

	now := uint64(time.Now().UnixMilli())
	add, _, err := state.HandleAddTlcCommand(channel.AddTlcCommand{
		Amount:        10_000,
		PaymentHash:   sha256.Sum256([]byte("preimage-1")),
		Expiry:        now + channel.MinTlcExpiryDeltaMs + 60_000,
		HashAlgorithm: channel.HashAlgorithmSha256,
		OnionPacket:   []byte("onion"),
	})
	require.NoError(t, err)
	require.NoError(t, state.Tlc.LocalPendingTlcs.MarkRemoved(add.TlcId,
		channel.CommitmentNumbers{Local: 1, Remote: 1},
		channel.RemoveTlcReason{Fulfill: &channel.RemoveTlcFulfill{PaymentPreimage: [32]byte{0x42}}},
	))
	state.Tlc.LocalPendingTlcs.CommitStaging()

	state.LocalShutdownInfo = &channel.ShutdownInfo{
		CloseScript: []byte("close-script"),
		FeeRate:     1_000,
	}

	state.Funding = channel.FundingInfo{
		OutPoint:         [36]byte{1, 2, 3},
		Amount:           510_000,
		ConfirmedBlock:   42,
		ConfirmedTxIndex: 0,
		Confirmed:        true,
	}
	state.IsPublic = true
	state.AnnouncementSignaturesExchanged = true
	state.LastCommitmentTx = []byte("commitment-tx-bytes")

	return state
}

func TestPutFetchChannelRoundTrip(t *testing.T) {
	db := openTestDB(t)
	original := newTestChannelState(t)

	require.NoError(t, db.PutChannel(original))

	got, err := db.FetchChannel(original.ChannelId)
	require.NoError(t, err)

	require.Equal(t, original.ChannelId, got.ChannelId)
	require.Equal(t, original.IsOpener, got.IsOpener)
	require.True(t, original.LocalPubkey.IsEqual(got.LocalPubkey))
	require.True(t, original.RemotePubkey.IsEqual(got.RemotePubkey))
	require.True(t, original.LocalTlcBasePubkey.IsEqual(got.LocalTlcBasePubkey))
	require.True(t, original.RemoteTlcBasePubkey.IsEqual(got.RemoteTlcBasePubkey))

	require.Equal(t, original.Signer.FundingKey.Serialize(), got.Signer.FundingKey.Serialize())
	require.Equal(t, original.Signer.TlcBaseKey.Serialize(), got.Signer.TlcBaseKey.Serialize())
	require.Equal(t, original.Signer.CommitmentSeed, got.Signer.CommitmentSeed)
	require.Equal(t, original.Signer.CommitmentPoint(0).SerializeCompressed(),
		got.Signer.CommitmentPoint(0).SerializeCompressed(),
		"nonceSeed must be re-derived identically from the restored Signer")

	require.Equal(t, original.Funding, got.Funding)
	require.Equal(t, original.ToLocalAmount, got.ToLocalAmount)
	require.Equal(t, original.State(), got.State())
	require.Equal(t, original.CommitmentNumbers, got.CommitmentNumbers)

	require.Equal(t, original.Tlc.LocalPendingTlcs.CommittedIndex(), got.Tlc.LocalPendingTlcs.CommittedIndex())
	require.Equal(t, original.Tlc.LocalPendingTlcs.NextTlcId(), got.Tlc.LocalPendingTlcs.NextTlcId())
	require.Len(t, got.Tlc.LocalPendingTlcs.Tlcs(), len(original.Tlc.LocalPendingTlcs.Tlcs()))
	for i, op := range original.Tlc.LocalPendingTlcs.Tlcs() {
		gotOp := got.Tlc.LocalPendingTlcs.Tlcs()[i]
		if op.Add != nil {
			require.NotNil(t, gotOp.Add)
			require.Equal(t, op.Add.TlcId, gotOp.Add.TlcId)
			require.Equal(t, op.Add.Amount, gotOp.Add.Amount)
			require.Equal(t, *op.Add.PaymentPreimage, *gotOp.Add.PaymentPreimage)
			require.Equal(t, op.Add.RemovedAt.Numbers, gotOp.Add.RemovedAt.Numbers)
		} else {
			require.NotNil(t, gotOp.Remove)
			require.Equal(t, op.Remove.TlcId, gotOp.Remove.TlcId)
		}
	}

	require.Equal(t, *original.NonceRing.Current, *got.NonceRing.Current)
	require.Equal(t, *original.NonceRing.LastUsed, *got.NonceRing.LastUsed)

	require.Equal(t, original.RemoteCommitmentPoints.Bound(), got.RemoteCommitmentPoints.Bound())
	require.Equal(t, original.RemoteCommitmentPoints.Len(), got.RemoteCommitmentPoints.Len())
	for n := range original.RemoteCommitmentPoints.Points() {
		origP, _ := original.RemoteCommitmentPoints.Get(n)
		gotP, ok := got.RemoteCommitmentPoints.Get(n)
		require.True(t, ok)
		require.True(t, origP.IsEqual(gotP))
	}

	require.Equal(t, original.LocalShutdownInfo.CloseScript, got.LocalShutdownInfo.CloseScript)
	require.Equal(t, original.LocalShutdownInfo.FeeRate, got.LocalShutdownInfo.FeeRate)
	require.Nil(t, got.RemoteShutdownInfo)

	require.Equal(t, original.IsPublic, got.IsPublic)
	require.Equal(t, original.AnnouncementSignaturesExchanged, got.AnnouncementSignaturesExchanged)
	require.Equal(t, original.LastCommitmentTx, got.LastCommitmentTx)
}

func TestFetchAllChannelsReturnsEveryStoredSnapshot(t *testing.T) {
	db := openTestDB(t)

	a := newTestChannelState(t)
	b := newTestChannelState(t)
	b.ChannelId = [32]byte{0x99}

	require.NoError(t, db.PutChannel(a))
	require.NoError(t, db.PutChannel(b))

	all, err := db.FetchAllChannels()
	require.NoError(t, err)
	require.Len(t, all, 2)

	ids := map[[32]byte]bool{}
	for _, s := range all {
		ids[s.ChannelId] = true
	}
	require.True(t, ids[a.ChannelId])
	require.True(t, ids[b.ChannelId])
}

func TestDeleteChannelRemovesSnapshot(t *testing.T) {
	db := openTestDB(t)
	s := newTestChannelState(t)
	require.NoError(t, db.PutChannel(s))

	require.NoError(t, db.DeleteChannel(s.ChannelId))

	_, err := db.FetchChannel(s.ChannelId)
	require.ErrorIs(t, err, ErrChannelNotFound)
}

func TestFetchChannelUnknownIdReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	_, err := db.FetchChannel([32]byte{0xFF})
	require.ErrorIs(t, err, ErrChannelNotFound)
}
