package channel

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nervosnetwork/fiber-channeld/signer"
)

// newHandshakeChannelPair builds an opener/acceptor pair still sitting in
// their freshly-constructed NegotiatingFunding state, the entry point
// newTestChannelPair skips past for tests that only care about the
// steady-state protocol.
func newHandshakeChannelPair(t *testing.T, fundingAmount uint64) (opener, acceptor *ChannelActorState, openerSink, acceptorSink *collectingSink) {
	t.Helper()

	openerFunding := keyFromSeed("handshake-opener-funding")
	acceptorFunding := keyFromSeed("handshake-acceptor-funding")
	openerTlcBase := keyFromSeed("handshake-opener-tlcbase")
	acceptorTlcBase := keyFromSeed("handshake-acceptor-tlcbase")

	openerSigner := signer.New(openerFunding, openerTlcBase, seed32("handshake-opener-commit-seed"))
	acceptorSigner := signer.New(acceptorFunding, acceptorTlcBase, seed32("handshake-acceptor-commit-seed"))

	openerSink = &collectingSink{}
	acceptorSink = &collectingSink{}

	opener = NewOutboundChannel(openerSigner, openerTlcBase.PubKey(), acceptorTlcBase.PubKey(), fundingAmount, 100_000, false, openerSink)
	acceptor = NewInboundChannel(acceptorSigner, acceptorTlcBase.PubKey(), openerTlcBase.PubKey(), fundingAmount, 100_000, false, acceptorSink)

	return opener, acceptor, openerSink, acceptorSink
}

// driveHandshake runs a full OpenChannel..ChannelReady exchange between an
// already-constructed opener/acceptor pair and asserts both land in
// StateChannelReady with a FundingTransactionPending event recorded on
// each side.
func driveHandshake(t *testing.T, opener, acceptor *ChannelActorState, openerSink, acceptorSink *collectingSink) {
	t.Helper()

	openMsg, err := opener.SendOpenChannel()
	require.NoError(t, err)

	require.NoError(t, acceptor.ReceiveOpenChannel(openMsg))

	acceptMsg, err := acceptor.SendAcceptChannel()
	require.NoError(t, err)
	require.NoError(t, opener.ReceiveAcceptChannel(acceptMsg))

	txUpdateMsg, err := opener.StartFundingCollaboration([]byte("draft funding tx"))
	require.NoError(t, err)
	require.True(t, opener.state.Is(StateCollaboratingFundingTx))

	acceptorTxComplete, err := acceptor.ReceiveTxUpdate(txUpdateMsg)
	require.NoError(t, err)
	require.NotNil(t, acceptorTxComplete, "acceptor auto-replies with its own tx_complete")

	openerTxComplete, err := opener.ReceiveTxComplete(acceptorTxComplete)
	require.NoError(t, err)
	require.NotNil(t, openerTxComplete, "opener hadn't sent tx_complete yet, so this reply carries it")
	require.True(t, opener.state.Is(StateSigningCommitment))

	noReply, err := acceptor.ReceiveTxComplete(openerTxComplete)
	require.NoError(t, err)
	require.Nil(t, noReply, "acceptor already sent its own tx_complete, nothing left to reply with")
	require.True(t, acceptor.state.Is(StateSigningCommitment))

	openerCommitSig, err := opener.SendFundingCommitmentSigned()
	require.NoError(t, err)

	acceptorCommitSig, err := acceptor.ReceiveFundingCommitmentSigned(openerCommitSig)
	require.NoError(t, err)
	require.NotNil(t, acceptorCommitSig)
	require.True(t, acceptor.state.Is(StateAwaitingTxSignatures))

	noReply2, err := opener.ReceiveFundingCommitmentSigned(acceptorCommitSig)
	require.NoError(t, err)
	require.Nil(t, noReply2)
	require.True(t, opener.state.Is(StateAwaitingTxSignatures))

	openerTxSigs, err := opener.SendTxSignatures([][]byte{[]byte("opener witness")})
	require.NoError(t, err)

	require.NoError(t, acceptor.ReceiveTxSignatures(openerTxSigs))

	acceptorTxSigs, err := acceptor.SendTxSignatures([][]byte{[]byte("acceptor witness")})
	require.NoError(t, err)

	require.NoError(t, opener.ReceiveTxSignatures(acceptorTxSigs))

	require.Nil(t, opener.Negotiation, "negotiation bookkeeping is dropped once both witness sets are in")
	require.Nil(t, acceptor.Negotiation)

	openerReady, err := opener.ConfirmFunding(10, 0)
	require.NoError(t, err)
	require.True(t, opener.state.Is(StateAwaitingChannelReady))

	acceptorReady, err := acceptor.ConfirmFunding(10, 0)
	require.NoError(t, err)
	require.True(t, acceptor.state.Is(StateAwaitingChannelReady))

	require.NoError(t, opener.ReceiveChannelReady(acceptorReady))
	require.NoError(t, acceptor.ReceiveChannelReady(openerReady))

	require.True(t, opener.state.Is(StateChannelReady))
	require.True(t, acceptor.state.Is(StateChannelReady))

	var openerSawFunding, acceptorSawFunding bool
	for _, e := range openerSink.events {
		if _, ok := e.(FundingTransactionPending); ok {
			openerSawFunding = true
		}
	}
	for _, e := range acceptorSink.events {
		if _, ok := e.(FundingTransactionPending); ok {
			acceptorSawFunding = true
		}
	}
	require.True(t, openerSawFunding)
	require.True(t, acceptorSawFunding)
}

func TestFundingHandshakeEndToEnd(t *testing.T) {
	opener, acceptor, openerSink, acceptorSink := newHandshakeChannelPair(t, 5_000_000)
	driveHandshake(t, opener, acceptor, openerSink, acceptorSink)
}

func TestReceiveOpenChannelRejectsWhenOpener(t *testing.T) {
	opener, _, _, _ := newHandshakeChannelPair(t, 5_000_000)

	openMsg, err := opener.SendOpenChannel()
	require.NoError(t, err)

	err = opener.ReceiveOpenChannel(openMsg)
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestReceiveTxUpdateRejectsFromOpener(t *testing.T) {
	opener, acceptor, _, _ := newHandshakeChannelPair(t, 5_000_000)

	openMsg, err := opener.SendOpenChannel()
	require.NoError(t, err)
	require.NoError(t, acceptor.ReceiveOpenChannel(openMsg))

	acceptMsg, err := acceptor.SendAcceptChannel()
	require.NoError(t, err)
	require.NoError(t, opener.ReceiveAcceptChannel(acceptMsg))

	// The acceptor sending TxUpdate first is a protocol error (spec.md
	// §4.1): only the opener may initiate the funding-tx collaboration.
	_, err = opener.ReceiveTxUpdate(&TxUpdateMsg{ChannelId: opener.ChannelId, Tx: []byte("bogus")})
	require.ErrorIs(t, err, ErrInvalidParameter)
}

func TestReceiveTxCompleteRejectsBadSignature(t *testing.T) {
	opener, acceptor, _, _ := newHandshakeChannelPair(t, 5_000_000)

	openMsg, err := opener.SendOpenChannel()
	require.NoError(t, err)
	require.NoError(t, acceptor.ReceiveOpenChannel(openMsg))

	acceptMsg, err := acceptor.SendAcceptChannel()
	require.NoError(t, err)
	require.NoError(t, opener.ReceiveAcceptChannel(acceptMsg))

	txUpdateMsg, err := opener.StartFundingCollaboration([]byte("draft funding tx"))
	require.NoError(t, err)

	acceptorTxComplete, err := acceptor.ReceiveTxUpdate(txUpdateMsg)
	require.NoError(t, err)

	acceptorTxComplete.CommitmentTxPartialSignature.S.SetInt(1)

	_, err = opener.ReceiveTxComplete(acceptorTxComplete)
	require.ErrorIs(t, err, ErrMusig2VerifyError)
}

func TestShouldSendTxSignaturesFirstBreaksTieOnPubkeyOrder(t *testing.T) {
	opener, acceptor, _, _ := newHandshakeChannelPair(t, 5_000_000)

	// Force equal balances on both sides (the opener starts with the whole
	// funding amount as to_local_amount): the tie-break must
	// fall back to funding-pubkey order, and the two sides must disagree
	// about who goes first.
	opener.ToRemoteAmount = opener.ToLocalAmount
	acceptor.ToLocalAmount = acceptor.ToRemoteAmount

	require.NotEqual(t, opener.ShouldSendTxSignaturesFirst(), acceptor.ShouldSendTxSignaturesFirst())
}
