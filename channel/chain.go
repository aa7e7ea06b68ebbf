package channel

// ConfirmFunding records the funding cell's confirmed chain coordinates and
// advances the channel past AwaitingTxSignatures once its own TxSignatures
// has gone out (spec.md §4.1 "AwaitingTxSignatures -> AwaitingChannelReady
// when own TxSignatures is sent and the funding transaction has been
// observed pending on chain", §6 FundingTransactionConfirmed). Delivered by
// the (out-of-scope) on-chain watcher, never computed locally. Our own
// ChannelReady needs no external input once the funding cell is confirmed,
// so it is considered sent the instant this transition fires; the caller
// puts the returned message on the wire.
func (s *ChannelActorState) ConfirmFunding(blockNumber uint64, txIndex uint32) (*ChannelReadyMsg, error) {
	if !s.state.Is(StateAwaitingTxSignatures) || !s.state.HasFlags(uint32(FlagOurTxSigsSent)) {
		return nil, &ErrInvalidState{Current: s.state, Expected: "AwaitingTxSignatures with own TxSignatures sent"}
	}

	s.Funding.Confirmed = true
	s.Funding.ConfirmedBlock = blockNumber
	s.Funding.ConfirmedTxIndex = txIndex

	s.transitionTo(StateAwaitingChannelReady, uint32(FlagOurChannelReady))
	return &ChannelReadyMsg{ChannelId: s.ChannelId}, nil
}
