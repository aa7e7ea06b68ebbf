package channel

import (
	"time"

	"github.com/lightningnetwork/lnd/ticker"
)

// OutboundSink receives wire messages the actor wants sent to its peer.
// Payload is always one of the *Msg types declared elsewhere in this
// package (AddTlcMsg, CommitmentSignedMsg, ...). Kept as a thin interface,
// mirroring peer.go's queueMsg/writeMessage split, so channel/ has no
// import-time dependency on the transport layer.
type OutboundSink interface {
	Send(channelId [32]byte, payload interface{})
}

// OutboundSinkFunc adapts a function to OutboundSink.
type OutboundSinkFunc func(channelId [32]byte, payload interface{})

func (f OutboundSinkFunc) Send(channelId [32]byte, payload interface{}) { f(channelId, payload) }

// addTlcReq/removeTlcReq/... package a command with a buffered reply
// channel, mirroring peer.go's outgoinMsg{msg, sentChan} idiom: the
// channel MUST be buffered so the actor's send never blocks on the
// caller receiving.
type addTlcReq struct {
	cmd   AddTlcCommand
	reply chan addTlcResp
}

type addTlcResp struct {
	add *AddTlcInfo
	err error
}

type removeTlcReq struct {
	cmd   RemoveTlcCommand
	reply chan error
}

type shutdownReq struct {
	closeScript []byte
	feeRate     uint64
	reply       chan error
}

type forceCloseReq struct {
	reply chan error
}

type reestablishReq struct {
	reply chan error
}

type openChannelReq struct {
	reply chan error
}

type startFundingReq struct {
	tx    []byte
	reply chan error
}

type sendTxSignaturesReq struct {
	witnesses [][]byte
	reply     chan error
}

// chainEvent bundles the two inbound chain-confirmation notifications the
// (out-of-scope) on-chain watcher delivers (spec.md §6 "Chain-side
// interfaces (inbound events)"); exactly one field is set.
type chainEvent struct {
	fundingConfirmed    *FundingConfirmedMsg
	commitmentConfirmed bool
}

// FundingConfirmedMsg carries the confirmed chain coordinates of the
// funding cell (spec.md §6 FundingTransactionConfirmed(block_number,
// tx_index)).
type FundingConfirmedMsg struct {
	BlockNumber uint64
	TxIndex     uint32
}

// inboundWireMsg bundles every possible inbound peer message kind; exactly
// one field is set. A plain tagged struct (rather than an interface) keeps
// the mailbox's select loop a simple type switch, matching peer.go's
// per-message-type channel idiom generalized to a single inbox.
type inboundWireMsg struct {
	openChannel            *OpenChannelMsg
	acceptChannel          *AcceptChannelMsg
	txUpdate               *TxUpdateMsg
	txComplete             *TxCompleteMsg
	txSignatures           *TxSignaturesMsg
	channelReady           *ChannelReadyMsg
	addTlc                 *AddTlcMsg
	removeTlc              *RemoveTlcMsg
	commitmentSigned       *CommitmentSignedMsg
	revokeAndAck           *RevokeAndAckMsg
	shutdown               *ShutdownMsg
	closingSigned          *ClosingSignedMsg
	reestablish            *ReestablishChannelMsg
	announcementSignatures *AnnouncementSignaturesMsg
}

// ChannelActor is the single-goroutine owner of one ChannelActorState
// (spec.md §5 "Each channel is a single cooperative actor"). Grounded on
// htlcswitch.Switch's htlcForwarder select loop (switch.go:697-833) and
// peer.go's reply-channel idiom for synchronous RPC-style commands.
type ChannelActor struct {
	State *ChannelActorState

	addTlcCmds           chan addTlcReq
	removeTlcCmds        chan removeTlcReq
	shutdownCmds         chan shutdownReq
	forceCloseCmds       chan forceCloseReq
	reestablishCmds      chan reestablishReq
	openChannelCmds      chan openChannelReq
	startFundingCmds     chan startFundingReq
	sendTxSignaturesCmds chan sendTxSignaturesReq
	relayRemoveCmds      chan RetryableRemoveTlc
	chainEvents          chan chainEvent

	inbound chan inboundWireMsg

	flush         FlushFunc
	retryDispatch RetryDispatcher
	outbound      OutboundSink

	quit chan struct{}
	done chan struct{}
}

// NewChannelActor constructs an actor around an already-built
// ChannelActorState. Run must be started as a goroutine before any of the
// request methods are called.
func NewChannelActor(state *ChannelActorState, flush FlushFunc, dispatch RetryDispatcher, outbound OutboundSink) *ChannelActor {
	return &ChannelActor{
		State:                state,
		addTlcCmds:           make(chan addTlcReq),
		removeTlcCmds:        make(chan removeTlcReq),
		shutdownCmds:         make(chan shutdownReq),
		forceCloseCmds:       make(chan forceCloseReq),
		reestablishCmds:      make(chan reestablishReq),
		openChannelCmds:      make(chan openChannelReq),
		startFundingCmds:     make(chan startFundingReq),
		sendTxSignaturesCmds: make(chan sendTxSignaturesReq),
		relayRemoveCmds:      make(chan RetryableRemoveTlc, 20),
		chainEvents:          make(chan chainEvent, 4),
		inbound:              make(chan inboundWireMsg, 20),
		flush:                flush,
		retryDispatch:        dispatch,
		outbound:             outbound,
		quit:                 make(chan struct{}),
		done:                 make(chan struct{}),
	}
}

// AddTlc submits an AddTlcCommand and blocks for the result, the local
// command path of spec.md §4.2 "Add (outbound)".
func (a *ChannelActor) AddTlc(cmd AddTlcCommand) (*AddTlcInfo, error) {
	reply := make(chan addTlcResp, 1)
	select {
	case a.addTlcCmds <- addTlcReq{cmd: cmd, reply: reply}:
	case <-a.quit:
		return nil, ErrChanClosing
	}
	resp := <-reply
	return resp.add, resp.err
}

// RemoveTlc submits a RemoveTlcCommand and blocks for the result
// (spec.md §4.2 "Remove (outbound)").
func (a *ChannelActor) RemoveTlc(cmd RemoveTlcCommand) error {
	reply := make(chan error, 1)
	select {
	case a.removeTlcCmds <- removeTlcReq{cmd: cmd, reply: reply}:
	case <-a.quit:
		return ErrChanClosing
	}
	return <-reply
}

// Shutdown submits a cooperative-close request (spec.md §4.6).
func (a *ChannelActor) Shutdown(closeScript []byte, feeRate uint64) error {
	reply := make(chan error, 1)
	select {
	case a.shutdownCmds <- shutdownReq{closeScript: closeScript, feeRate: feeRate, reply: reply}:
	case <-a.quit:
		return ErrChanClosing
	}
	return <-reply
}

// ForceClose submits a forced-shutdown request (spec.md §4.6).
func (a *ChannelActor) ForceClose() error {
	reply := make(chan error, 1)
	select {
	case a.forceCloseCmds <- forceCloseReq{reply: reply}:
	case <-a.quit:
		return ErrChanClosing
	}
	return <-reply
}

// ChannelId returns the id of the channel this actor owns, letting
// forward/'s Switch index actors by channel id without reaching into
// State directly from another goroutine.
func (a *ChannelActor) ChannelId() [32]byte { return a.State.ChannelId }

// EnqueueRelayRemove hands a forwarded TLC's upstream-leg resolution to
// this actor's own retry queue, delivered through the mailbox like
// DeliverAddTlc et al: RetryableRemoves is only ever touched from within
// Run, so a caller on another goroutine (forward/'s relay dispatcher)
// must never append to it directly.
func (a *ChannelActor) EnqueueRelayRemove(r RetryableRemoveTlc) {
	select {
	case a.relayRemoveCmds <- r:
	case <-a.quit:
	}
}

// Reestablish begins reestablishment on reconnect and returns once our own
// ReestablishChannel message has been sent (spec.md §4.7). The caller
// re-spawns the actor and calls this after a PeerDisconnected/reconnect
// cycle.
func (a *ChannelActor) Reestablish() error {
	reply := make(chan error, 1)
	select {
	case a.reestablishCmds <- reestablishReq{reply: reply}:
	case <-a.quit:
		return ErrChanClosing
	}
	return <-reply
}

// OpenChannel sends the opener's OpenChannel message, kicking off the
// funding handshake (spec.md §4.1).
func (a *ChannelActor) OpenChannel() error {
	reply := make(chan error, 1)
	select {
	case a.openChannelCmds <- openChannelReq{reply: reply}:
	case <-a.quit:
		return ErrChanClosing
	}
	return <-reply
}

// StartFundingCollaboration submits the opener's funding-tx draft, the first
// TX-collaboration message (spec.md §4.1).
func (a *ChannelActor) StartFundingCollaboration(tx []byte) error {
	reply := make(chan error, 1)
	select {
	case a.startFundingCmds <- startFundingReq{tx: tx, reply: reply}:
	case <-a.quit:
		return ErrChanClosing
	}
	return <-reply
}

// SendTxSignatures submits this side's witnesses for the funding tx's
// inputs (spec.md §4.1, §6).
func (a *ChannelActor) SendTxSignatures(witnesses [][]byte) error {
	reply := make(chan error, 1)
	select {
	case a.sendTxSignaturesCmds <- sendTxSignaturesReq{witnesses: witnesses, reply: reply}:
	case <-a.quit:
		return ErrChanClosing
	}
	return <-reply
}

// DeliverAddTlc, DeliverRemoveTlc, ... hand an inbound wire message to the
// mailbox. These never block past the inbox's buffer: a slow actor
// back-pressures its peer connection's reader, not the caller.
func (a *ChannelActor) DeliverAddTlc(msg *AddTlcMsg) { a.deliver(inboundWireMsg{addTlc: msg}) }

func (a *ChannelActor) DeliverRemoveTlc(msg *RemoveTlcMsg) { a.deliver(inboundWireMsg{removeTlc: msg}) }

func (a *ChannelActor) DeliverCommitmentSigned(msg *CommitmentSignedMsg) {
	a.deliver(inboundWireMsg{commitmentSigned: msg})
}

func (a *ChannelActor) DeliverRevokeAndAck(msg *RevokeAndAckMsg) {
	a.deliver(inboundWireMsg{revokeAndAck: msg})
}

func (a *ChannelActor) DeliverShutdown(msg *ShutdownMsg) { a.deliver(inboundWireMsg{shutdown: msg}) }

func (a *ChannelActor) DeliverClosingSigned(msg *ClosingSignedMsg) {
	a.deliver(inboundWireMsg{closingSigned: msg})
}

func (a *ChannelActor) DeliverReestablish(msg *ReestablishChannelMsg) {
	a.deliver(inboundWireMsg{reestablish: msg})
}

func (a *ChannelActor) DeliverAnnouncementSignatures(msg *AnnouncementSignaturesMsg) {
	a.deliver(inboundWireMsg{announcementSignatures: msg})
}

func (a *ChannelActor) DeliverOpenChannel(msg *OpenChannelMsg) {
	a.deliver(inboundWireMsg{openChannel: msg})
}

func (a *ChannelActor) DeliverAcceptChannel(msg *AcceptChannelMsg) {
	a.deliver(inboundWireMsg{acceptChannel: msg})
}

func (a *ChannelActor) DeliverTxUpdate(msg *TxUpdateMsg) { a.deliver(inboundWireMsg{txUpdate: msg}) }

func (a *ChannelActor) DeliverTxComplete(msg *TxCompleteMsg) {
	a.deliver(inboundWireMsg{txComplete: msg})
}

func (a *ChannelActor) DeliverTxSignatures(msg *TxSignaturesMsg) {
	a.deliver(inboundWireMsg{txSignatures: msg})
}

func (a *ChannelActor) DeliverChannelReady(msg *ChannelReadyMsg) {
	a.deliver(inboundWireMsg{channelReady: msg})
}

// DeliverFundingConfirmed and DeliverCommitmentConfirmed hand the on-chain
// watcher's two channel-actor-relevant confirmation events to the mailbox
// (spec.md §6; ClosingTransactionConfirmed needs no channel-actor handler,
// since a cooperative close already reaches StateClosed the moment both
// ClosingSigned partials aggregate — the watcher only uses that
// confirmation to know the close is final, not to drive a transition).
func (a *ChannelActor) DeliverFundingConfirmed(msg FundingConfirmedMsg) {
	select {
	case a.chainEvents <- chainEvent{fundingConfirmed: &msg}:
	case <-a.quit:
	}
}

func (a *ChannelActor) DeliverCommitmentConfirmed() {
	select {
	case a.chainEvents <- chainEvent{commitmentConfirmed: true}:
	case <-a.quit:
	}
}

func (a *ChannelActor) deliver(m inboundWireMsg) {
	select {
	case a.inbound <- m:
	case <-a.quit:
	}
}

// Stop terminates the actor, the local counterpart of spec.md §5's
// "A PeerDisconnected event terminates the actor."
func (a *ChannelActor) Stop() {
	close(a.quit)
	<-a.done
}

// Run is the actor's mailbox loop. MUST be run as a goroutine.
func (a *ChannelActor) Run() {
	defer close(a.done)

	retryTicker := ticker.New(AutoSetdownTlcInterval * time.Second)
	retryTicker.Resume()
	defer retryTicker.Stop()

	for {
		select {
		case req := <-a.addTlcCmds:
			a.handleAddTlc(req)

		case req := <-a.removeTlcCmds:
			a.handleRemoveTlc(req)

		case req := <-a.shutdownCmds:
			a.handleShutdown(req)

		case req := <-a.forceCloseCmds:
			req.reply <- a.State.ForceShutdown()

		case req := <-a.reestablishCmds:
			a.handleReestablish(req)

		case req := <-a.openChannelCmds:
			a.handleOpenChannel(req)

		case req := <-a.startFundingCmds:
			a.handleStartFunding(req)

		case req := <-a.sendTxSignaturesCmds:
			a.handleSendTxSignatures(req)

		case r := <-a.relayRemoveCmds:
			a.State.Tlc.EnqueueRetryableRemove(r)

		case e := <-a.chainEvents:
			a.handleChainEvent(e)

		case m := <-a.inbound:
			a.handleInbound(m)

		case <-retryTicker.Ticks():
			a.State.ScanRetryableRemoves(a.dispatchRetry)

		case <-a.quit:
			return
		}
	}
}

func (a *ChannelActor) handleAddTlc(req addTlcReq) {
	add, sigMsg, err := a.State.HandleAddTlcCommand(req.cmd)
	if err != nil {
		req.reply <- addTlcResp{err: err}
		return
	}
	if a.outbound != nil {
		a.outbound.Send(a.State.ChannelId, AddTlcMsg{
			ChannelId:     a.State.ChannelId,
			TlcId:         add.TlcId.Index,
			Amount:        add.Amount,
			PaymentHash:   add.PaymentHash,
			Expiry:        add.Expiry,
			HashAlgorithm: add.HashAlgorithm,
			OnionPacket:   add.OnionPacket,
		})
		a.outbound.Send(a.State.ChannelId, *sigMsg)
	}
	req.reply <- addTlcResp{add: add}
}

func (a *ChannelActor) handleRemoveTlc(req removeTlcReq) {
	sigMsg, err := a.State.HandleRemoveTlcCommand(req.cmd)
	if err != nil {
		req.reply <- err
		return
	}
	if a.outbound != nil {
		a.outbound.Send(a.State.ChannelId, RemoveTlcMsg{
			ChannelId: a.State.ChannelId,
			TlcId:     req.cmd.TlcId,
			Reason:    req.cmd.Reason,
		})
		a.outbound.Send(a.State.ChannelId, *sigMsg)
	}
	req.reply <- nil
}

// dispatchRetry is the RetryDispatcher ScanRetryableRemoves is driven with.
// A plain RemoveTlc entry targets this very channel, so it is resolved
// in-line against a.State (calling the public RemoveTlc RPC here would
// deadlock Run against itself); a RelayRemoveTlc entry crosses into another
// channel actor, so it is handed to the externally supplied dispatch
// (forward's Switch) which alone knows how to reach that actor.
func (a *ChannelActor) dispatchRetry(r RetryableRemoveTlc) error {
	if r.RemoveTlc != nil {
		sigMsg, err := a.State.RetrySendRemove(*r.RemoveTlc)
		if err != nil {
			return err
		}
		if sigMsg != nil && a.outbound != nil {
			a.outbound.Send(a.State.ChannelId, RemoveTlcMsg{
				ChannelId: a.State.ChannelId,
				TlcId:     r.RemoveTlc.TlcId,
				Reason:    r.RemoveTlc.Reason,
			})
			a.outbound.Send(a.State.ChannelId, *sigMsg)
		}
		return nil
	}

	if a.retryDispatch == nil {
		return nil
	}
	return a.retryDispatch(r)
}

func (a *ChannelActor) handleChainEvent(e chainEvent) {
	switch {
	case e.fundingConfirmed != nil:
		msg, err := a.State.ConfirmFunding(e.fundingConfirmed.BlockNumber, e.fundingConfirmed.TxIndex)
		if err != nil {
			log.Errorf("channel %x: confirming funding tx: %v", a.State.ChannelId, err)
			return
		}
		if a.outbound != nil {
			a.outbound.Send(a.State.ChannelId, *msg)
		}
	case e.commitmentConfirmed:
		a.State.ConfirmForceShutdown()
	}
}

func (a *ChannelActor) handleShutdown(req shutdownReq) {
	msg, err := a.State.StartShutdown(req.closeScript, req.feeRate)
	if err != nil {
		req.reply <- err
		return
	}
	if a.outbound != nil {
		a.outbound.Send(a.State.ChannelId, *msg)
	}
	req.reply <- nil
}

func (a *ChannelActor) handleReestablish(req reestablishReq) {
	a.State.BeginReestablish()
	msg := a.State.LocalReestablishMessage()
	if a.outbound != nil {
		a.outbound.Send(a.State.ChannelId, msg)
	}
	req.reply <- nil
}

func (a *ChannelActor) handleOpenChannel(req openChannelReq) {
	msg, err := a.State.SendOpenChannel()
	if err != nil {
		req.reply <- err
		return
	}
	if a.outbound != nil {
		a.outbound.Send(a.State.ChannelId, *msg)
	}
	req.reply <- nil
}

func (a *ChannelActor) handleStartFunding(req startFundingReq) {
	msg, err := a.State.StartFundingCollaboration(req.tx)
	if err != nil {
		req.reply <- err
		return
	}
	if a.outbound != nil {
		a.outbound.Send(a.State.ChannelId, *msg)
	}
	req.reply <- nil
}

func (a *ChannelActor) handleSendTxSignatures(req sendTxSignaturesReq) {
	msg, err := a.State.SendTxSignatures(req.witnesses)
	if err != nil {
		req.reply <- err
		return
	}
	if a.outbound != nil {
		a.outbound.Send(a.State.ChannelId, *msg)
	}
	req.reply <- nil
}

func (a *ChannelActor) handleInbound(m inboundWireMsg) {
	// While reestablishing, every non-reestablish message is dropped
	// (spec.md §4.7).
	if a.State.Reestablishing && m.reestablish == nil {
		return
	}

	switch {
	case m.openChannel != nil:
		if err := a.State.ReceiveOpenChannel(m.openChannel); err != nil {
			a.logPeerError(err)
			return
		}
		reply, err := a.State.SendAcceptChannel()
		if err != nil {
			a.logPeerError(err)
			return
		}
		if a.outbound != nil {
			a.outbound.Send(a.State.ChannelId, *reply)
		}

	case m.acceptChannel != nil:
		if err := a.State.ReceiveAcceptChannel(m.acceptChannel); err != nil {
			a.logPeerError(err)
		}

	case m.txUpdate != nil:
		reply, err := a.State.ReceiveTxUpdate(m.txUpdate)
		if err != nil {
			a.logPeerError(err)
			return
		}
		if reply != nil && a.outbound != nil {
			a.outbound.Send(a.State.ChannelId, *reply)
		}

	case m.txComplete != nil:
		reply, err := a.State.ReceiveTxComplete(m.txComplete)
		if err != nil {
			a.logPeerError(err)
			return
		}
		if reply != nil && a.outbound != nil {
			a.outbound.Send(a.State.ChannelId, *reply)
		}
		if a.State.IsOpener && a.State.state.Is(StateSigningCommitment) &&
			!a.State.state.HasFlags(uint32(FlagOurCommitmentSignedSent)) {
			sigMsg, err := a.State.SendFundingCommitmentSigned()
			if err != nil {
				a.logPeerError(err)
				return
			}
			if a.outbound != nil {
				a.outbound.Send(a.State.ChannelId, *sigMsg)
			}
		}

	case m.txSignatures != nil:
		if err := a.State.ReceiveTxSignatures(m.txSignatures); err != nil {
			a.logPeerError(err)
		}

	case m.channelReady != nil:
		if err := a.State.ReceiveChannelReady(m.channelReady); err != nil {
			a.logPeerError(err)
		}

	case m.addTlc != nil:
		if err := a.State.ReceiveAddTlc(m.addTlc); err != nil {
			a.logPeerError(err)
		}

	case m.removeTlc != nil:
		if err := a.State.ReceiveRemoveTlc(m.removeTlc); err != nil {
			a.logPeerError(err)
		}

	case m.commitmentSigned != nil:
		reply, err := a.State.ReceiveCommitmentSigned(m.commitmentSigned, a.flush)
		if err != nil {
			// Fatal to the round: no state advance, no
			// RevokeAndAck sent (spec.md §7).
			a.logPeerError(err)
			return
		}
		if a.outbound != nil {
			a.outbound.Send(a.State.ChannelId, *reply)
		}
		a.State.ScanRetryableRemoves(a.dispatchRetry)

	case m.revokeAndAck != nil:
		if err := a.State.ReceiveRevokeAndAck(m.revokeAndAck); err != nil {
			a.logPeerError(err)
			return
		}
		a.State.ScanRetryableRemoves(a.dispatchRetry)

	case m.shutdown != nil:
		reply, err := a.State.ReceiveShutdown(m.shutdown)
		if err != nil {
			a.logPeerError(err)
			return
		}
		if reply != nil && a.outbound != nil {
			a.outbound.Send(a.State.ChannelId, *reply)
		}

	case m.closingSigned != nil:
		if err := a.State.ReceiveClosingSigned(m.closingSigned); err != nil {
			a.logPeerError(err)
		}

	case m.reestablish != nil:
		outcome, err := a.State.ProcessReestablish(*m.reestablish)
		if err != nil {
			a.logPeerError(err)
			return
		}
		a.resendAfterReestablish(outcome)

	case m.announcementSignatures != nil:
		// Aggregating both sides' partials into the broadcastable
		// announcement is a node-wide concern that correlates across
		// peers; left to whatever collects AnnouncementSignaturesReady
		// events (SPEC_FULL.md §8).
	}
}

func (a *ChannelActor) resendAfterReestablish(outcome ReestablishOutcome) {
	if outcome.ResendCommitmentSigned && a.outbound != nil {
		for _, op := range a.State.OutboundOpsSince(outcome.ResendFromCommitmentNumber) {
			switch {
			case op.Add != nil:
				a.outbound.Send(a.State.ChannelId, AddTlcMsg{
					ChannelId:     a.State.ChannelId,
					TlcId:         op.Add.TlcId.Index,
					Amount:        op.Add.Amount,
					PaymentHash:   op.Add.PaymentHash,
					Expiry:        op.Add.Expiry,
					HashAlgorithm: op.Add.HashAlgorithm,
					OnionPacket:   op.Add.OnionPacket,
				})
			case op.Remove != nil:
				a.outbound.Send(a.State.ChannelId, RemoveTlcMsg{
					ChannelId: a.State.ChannelId,
					TlcId:     op.Remove.TlcId,
					Reason:    op.Remove.Reason,
				})
			}
		}
		if msg, err := a.State.SendCommitmentSigned(); err == nil {
			a.outbound.Send(a.State.ChannelId, *msg)
		} else {
			a.logPeerError(err)
		}
	}
	if outcome.ResendRevokeAndAck {
		// Replaying the actual last-sent RevokeAndAck verbatim
		// requires the caller's store-backed outbound-message replay
		// cache (spec.md §9 design note: persisted state is kept
		// minimal); ChannelActorState itself retains no history of
		// past outbound messages beyond what nonce.go/tlc.go need.
		log.Debugf("channel %x: peer expects a replayed RevokeAndAck", a.State.ChannelId)
	}
}

func (a *ChannelActor) logPeerError(err error) {
	// Peer-message errors never close the channel immediately; they are
	// logged as debug events and the actor continues (spec.md §7).
	log.Debugf("channel %x: peer message error: %v", a.State.ChannelId, err)
}
