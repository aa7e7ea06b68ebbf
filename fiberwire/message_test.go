package fiberwire

import (
	"bytes"
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/musig2"
	"github.com/stretchr/testify/require"

	"github.com/nervosnetwork/fiber-channeld/channel"
)

func testPartialSig(seed byte) musig2.PartialSignature {
	var s btcec.ModNScalar
	var buf [32]byte
	buf[31] = seed
	s.SetBytes(&buf)
	return musig2.PartialSignature{S: &s}
}

func testPubKey(t *testing.T, seed string) *btcec.PublicKey {
	t.Helper()
	h := sha256.Sum256([]byte(seed))
	priv, _ := btcec.PrivKeyFromBytes(h[:])
	return priv.PubKey()
}

// roundTrip writes msg with WriteMessage, reads it back with ReadMessage,
// and returns the decoded Message for the caller's own field assertions.
func roundTrip(t *testing.T, msg Message) Message {
	t.Helper()

	var buf bytes.Buffer
	_, err := WriteMessage(&buf, msg, 0)
	require.NoError(t, err)

	got, err := ReadMessage(&buf, 0)
	require.NoError(t, err)
	require.Equal(t, msg.MsgType(), got.MsgType())
	return got
}

func TestOpenChannelRoundTrip(t *testing.T) {
	msg := &OpenChannel{channel.OpenChannelMsg{
		ChannelId:                [32]byte{20},
		FundingPubkey:            testPubKey(t, "open-funding-pubkey"),
		FundingAmount:            5_000_000,
		ReservedCkbAmount:        100_000,
		FirstPerCommitmentPoint:  testPubKey(t, "open-first-point"),
		SecondPerCommitmentPoint: testPubKey(t, "open-second-point"),
		NextLocalNonce:           [musig2.PubNonceSize]byte{1},
		IsPublic:                 true,
	}}

	got := roundTrip(t, msg).(*OpenChannel)
	require.Equal(t, msg.ChannelId, got.ChannelId)
	require.True(t, msg.FundingPubkey.IsEqual(got.FundingPubkey))
	require.Equal(t, msg.FundingAmount, got.FundingAmount)
	require.Equal(t, msg.ReservedCkbAmount, got.ReservedCkbAmount)
	require.True(t, msg.FirstPerCommitmentPoint.IsEqual(got.FirstPerCommitmentPoint))
	require.True(t, msg.SecondPerCommitmentPoint.IsEqual(got.SecondPerCommitmentPoint))
	require.Equal(t, msg.NextLocalNonce, got.NextLocalNonce)
	require.Equal(t, msg.IsPublic, got.IsPublic)
}

func TestOpenChannelRoundTripNotPublic(t *testing.T) {
	msg := &OpenChannel{channel.OpenChannelMsg{
		ChannelId:                [32]byte{21},
		FundingPubkey:            testPubKey(t, "open-funding-pubkey-2"),
		FundingAmount:            1,
		ReservedCkbAmount:        1,
		FirstPerCommitmentPoint:  testPubKey(t, "open-first-point-2"),
		SecondPerCommitmentPoint: testPubKey(t, "open-second-point-2"),
		NextLocalNonce:           [musig2.PubNonceSize]byte{2},
		IsPublic:                 false,
	}}

	got := roundTrip(t, msg).(*OpenChannel)
	require.False(t, got.IsPublic)
}

func TestAcceptChannelRoundTrip(t *testing.T) {
	msg := &AcceptChannel{channel.AcceptChannelMsg{
		ChannelId:                [32]byte{22},
		FundingPubkey:            testPubKey(t, "accept-funding-pubkey"),
		FirstPerCommitmentPoint:  testPubKey(t, "accept-first-point"),
		SecondPerCommitmentPoint: testPubKey(t, "accept-second-point"),
		NextLocalNonce:           [musig2.PubNonceSize]byte{3},
	}}

	got := roundTrip(t, msg).(*AcceptChannel)
	require.Equal(t, msg.ChannelId, got.ChannelId)
	require.True(t, msg.FundingPubkey.IsEqual(got.FundingPubkey))
	require.True(t, msg.FirstPerCommitmentPoint.IsEqual(got.FirstPerCommitmentPoint))
	require.True(t, msg.SecondPerCommitmentPoint.IsEqual(got.SecondPerCommitmentPoint))
	require.Equal(t, msg.NextLocalNonce, got.NextLocalNonce)
}

func TestTxUpdateRoundTrip(t *testing.T) {
	msg := &TxUpdate{channel.TxUpdateMsg{
		ChannelId: [32]byte{23},
		Tx:        []byte("draft funding tx bytes"),
	}}

	got := roundTrip(t, msg).(*TxUpdate)
	require.Equal(t, msg.TxUpdateMsg, got.TxUpdateMsg)
}

func TestTxCompleteRoundTrip(t *testing.T) {
	msg := &TxComplete{channel.TxCompleteMsg{
		ChannelId:                    [32]byte{24},
		CommitmentTxPartialSignature: testPartialSig(6),
	}}

	got := roundTrip(t, msg).(*TxComplete)
	require.Equal(t, msg.ChannelId, got.ChannelId)
	require.Equal(t, msg.CommitmentTxPartialSignature.S.Bytes(), got.CommitmentTxPartialSignature.S.Bytes())
}

func TestTxSignaturesRoundTrip(t *testing.T) {
	msg := &TxSignatures{channel.TxSignaturesMsg{
		ChannelId: [32]byte{25},
		Witnesses: [][]byte{[]byte("witness-one"), []byte("witness-two"), {}},
	}}

	got := roundTrip(t, msg).(*TxSignatures)
	require.Equal(t, msg.ChannelId, got.ChannelId)
	require.Equal(t, [][]byte{[]byte("witness-one"), []byte("witness-two"), nil}, got.Witnesses,
		"a zero-length witness decodes as nil")
}

func TestTxSignaturesRoundTripEmpty(t *testing.T) {
	msg := &TxSignatures{channel.TxSignaturesMsg{
		ChannelId: [32]byte{26},
		Witnesses: [][]byte{},
	}}

	got := roundTrip(t, msg).(*TxSignatures)
	require.Equal(t, msg.ChannelId, got.ChannelId)
	require.Len(t, got.Witnesses, 0)
}

func TestChannelReadyRoundTrip(t *testing.T) {
	msg := &ChannelReady{channel.ChannelReadyMsg{
		ChannelId: [32]byte{27},
	}}

	got := roundTrip(t, msg).(*ChannelReady)
	require.Equal(t, msg.ChannelReadyMsg, got.ChannelReadyMsg)
}

func TestUpdateAddTlcRoundTrip(t *testing.T) {
	msg := &UpdateAddTlc{channel.AddTlcMsg{
		ChannelId:     [32]byte{1},
		TlcId:         7,
		Amount:        12_345,
		PaymentHash:   [32]byte{2},
		Expiry:        99_999,
		HashAlgorithm: channel.HashAlgorithmSha256,
		OnionPacket:   []byte("onion-payload"),
	}}

	got := roundTrip(t, msg).(*UpdateAddTlc)
	require.Equal(t, msg.AddTlcMsg, got.AddTlcMsg)
}

func TestUpdateAddTlcRoundTripEmptyOnion(t *testing.T) {
	msg := &UpdateAddTlc{channel.AddTlcMsg{
		ChannelId:     [32]byte{9},
		TlcId:         0,
		Amount:        1,
		PaymentHash:   [32]byte{3},
		Expiry:        1,
		HashAlgorithm: channel.HashAlgorithmCkbHash,
	}}

	got := roundTrip(t, msg).(*UpdateAddTlc)
	require.Equal(t, msg.AddTlcMsg, got.AddTlcMsg)
}

func TestUpdateRemoveTlcRoundTripFulfill(t *testing.T) {
	msg := &UpdateRemoveTlc{channel.RemoveTlcMsg{
		ChannelId: [32]byte{4},
		TlcId:     channel.OfferedTLCId(3),
		Reason:    channel.RemoveTlcReason{Fulfill: &channel.RemoveTlcFulfill{PaymentPreimage: [32]byte{5}}},
	}}

	got := roundTrip(t, msg).(*UpdateRemoveTlc)
	require.Equal(t, msg.ChannelId, got.ChannelId)
	require.Equal(t, msg.TlcId, got.TlcId)
	require.Equal(t, *msg.Reason.Fulfill, *got.Reason.Fulfill)
	require.Nil(t, got.Reason.Fail)
}

func TestUpdateRemoveTlcRoundTripFail(t *testing.T) {
	msg := &UpdateRemoveTlc{channel.RemoveTlcMsg{
		ChannelId: [32]byte{4},
		TlcId:     channel.ReceivedTLCId(9),
		Reason:    channel.RemoveTlcReason{Fail: &channel.RemoveTlcFail{ErrorPacket: []byte("encrypted-error")}},
	}}

	got := roundTrip(t, msg).(*UpdateRemoveTlc)
	require.Equal(t, msg.TlcId, got.TlcId)
	require.Equal(t, msg.Reason.Fail.ErrorPacket, got.Reason.Fail.ErrorPacket)
	require.Nil(t, got.Reason.Fulfill)
}

func TestCommitmentSignedRoundTrip(t *testing.T) {
	msg := &CommitmentSigned{channel.CommitmentSignedMsg{
		ChannelId:                    [32]byte{6},
		FundingTxPartialSignature:    testPartialSig(1),
		CommitmentTxPartialSignature: testPartialSig(2),
		NextLocalNonce:               [musig2.PubNonceSize]byte{7},
	}}

	got := roundTrip(t, msg).(*CommitmentSigned)
	require.Equal(t, msg.ChannelId, got.ChannelId)
	require.Equal(t, msg.FundingTxPartialSignature.S.Bytes(), got.FundingTxPartialSignature.S.Bytes())
	require.Equal(t, msg.CommitmentTxPartialSignature.S.Bytes(), got.CommitmentTxPartialSignature.S.Bytes())
	require.Equal(t, msg.NextLocalNonce, got.NextLocalNonce)
}

func TestRevokeAndAckRoundTrip(t *testing.T) {
	pub := testPubKey(t, "next-per-commitment-point")
	msg := &RevokeAndAck{channel.RevokeAndAckMsg{
		ChannelId:                    [32]byte{8},
		RevocationPartialSignature:   testPartialSig(3),
		CommitmentTxPartialSignature: testPartialSig(4),
		NextPerCommitmentPoint:       pub,
	}}

	got := roundTrip(t, msg).(*RevokeAndAck)
	require.Equal(t, msg.ChannelId, got.ChannelId)
	require.True(t, msg.NextPerCommitmentPoint.IsEqual(got.NextPerCommitmentPoint))
}

func TestShutdownRoundTrip(t *testing.T) {
	msg := &Shutdown{channel.ShutdownMsg{
		ChannelId:   [32]byte{10},
		CloseScript: []byte("close-script"),
		FeeRate:     1_000,
	}}

	got := roundTrip(t, msg).(*Shutdown)
	require.Equal(t, msg.ShutdownMsg, got.ShutdownMsg)
}

func TestClosingSignedRoundTrip(t *testing.T) {
	msg := &ClosingSigned{channel.ClosingSignedMsg{
		ChannelId:        [32]byte{11},
		PartialSignature: testPartialSig(5),
	}}

	got := roundTrip(t, msg).(*ClosingSigned)
	require.Equal(t, msg.ChannelId, got.ChannelId)
	require.Equal(t, msg.PartialSignature.S.Bytes(), got.PartialSignature.S.Bytes())
}

func TestReestablishChannelRoundTrip(t *testing.T) {
	msg := &ReestablishChannel{channel.ReestablishChannelMsg{
		ChannelId:              [32]byte{12},
		LocalCommitmentNumber:  4,
		RemoteCommitmentNumber: 5,
	}}

	got := roundTrip(t, msg).(*ReestablishChannel)
	require.Equal(t, msg.ReestablishChannelMsg, got.ReestablishChannelMsg)
}

func TestAnnouncementSignaturesRoundTrip(t *testing.T) {
	msg := &AnnouncementSignatures{channel.AnnouncementSignaturesMsg{
		ChannelId:        [32]byte{13},
		NodeSignature:    [64]byte{1},
		PartialSignature: [64]byte{2},
	}}

	got := roundTrip(t, msg).(*AnnouncementSignatures)
	require.Equal(t, msg.AnnouncementSignaturesMsg, got.AnnouncementSignaturesMsg)
}

func TestReadMessageRejectsUnknownType(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0xFF, 0xFF})

	_, err := ReadMessage(&buf, 0)
	require.Error(t, err)
	var unknown *UnknownMessage
	require.ErrorAs(t, err, &unknown)
}
