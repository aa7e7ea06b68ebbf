// Package watcher is the channel actor's on-chain confirmation surface
// (spec.md §6 "Chain-side interfaces (inbound events)"). The chain backend
// and confirmation-depth tracking themselves are an out-of-scope
// collaborator (spec.md §1 "the on-chain watcher emitting
// FundingTransactionConfirmed and ClosingTransactionConfirmed events"); this
// package only registers, per channel, which pending transaction to expect
// a confirmation for, relays the funding and commitment confirmations to
// the right channel actor once told about them, and for the closing
// confirmation only clears its record and logs. Generalized from
// contractcourt's per-output ContractResolver registry
// (contractcourt/htlc_timeout_resolver.go, chain_watcher.go) down to
// whole-tx, channel-scoped confirmation waits rather than per-HTLC
// second-level outputs.
package watcher

import (
	"sync"

	"github.com/nervosnetwork/fiber-channeld/channel"
)

// Link is the watcher's view of one registered channel actor.
// *channel.ChannelActor satisfies this directly.
type Link interface {
	ChannelId() [32]byte
	DeliverFundingConfirmed(msg channel.FundingConfirmedMsg)
	DeliverCommitmentConfirmed()
}

// Watcher tracks every channel actor that has on-chain transactions worth
// watching and relays confirmation notifications to them.
type Watcher struct {
	mu    sync.Mutex
	links map[[32]byte]Link

	// pendingCommitment/pendingClosing/pendingFunding record the raw tx
	// bytes a forced close, cooperative close, or just-finalized funding
	// negotiation just produced, purely so a caller querying this
	// watcher (e.g. a daemon-level status command) can see what's
	// outstanding; NotifyCommitmentConfirmed/NotifyClosingConfirmed/
	// NotifyFundingConfirmed don't need to look the bytes back up to act.
	pendingCommitment map[[32]byte][]byte
	pendingClosing    map[[32]byte][]byte
	pendingFunding    map[[32]byte][]byte
}

// New returns an empty Watcher.
func New() *Watcher {
	return &Watcher{
		links:             make(map[[32]byte]Link),
		pendingCommitment: make(map[[32]byte][]byte),
		pendingClosing:    make(map[[32]byte][]byte),
		pendingFunding:    make(map[[32]byte][]byte),
	}
}

// RegisterLink adds a channel actor, called once it's constructed (or
// resumed from fiberdb on startup).
func (w *Watcher) RegisterLink(link Link) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.links[link.ChannelId()] = link
}

// UnregisterLink removes a channel actor and any transactions it had
// pending, called once the channel reaches Closed.
func (w *Watcher) UnregisterLink(channelId [32]byte) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.links, channelId)
	delete(w.pendingCommitment, channelId)
	delete(w.pendingClosing, channelId)
	delete(w.pendingFunding, channelId)
}

// HandleEvent implements channel.EventSink (or is fanned out to as part of
// one): recording a broadcastable raw tx the moment the channel actor
// produces it is what contractcourt's ChannelArbitrator does before
// spinning up a resolver for the closing transaction — generalized here to
// three simple pending-tx maps since no second-level HTLC outputs exist in
// this protocol's single sorted-HTLC commitment-lock-arg design.
func (w *Watcher) HandleEvent(e channel.Event) {
	switch ev := e.(type) {
	case channel.CommitmentTransactionPending:
		w.mu.Lock()
		w.pendingCommitment[ev.ChannelId] = ev.RawTx
		w.mu.Unlock()
		log.Debugf("channel %x: watching broadcast commitment tx for confirmation", ev.ChannelId)

	case channel.ClosingTransactionPending:
		w.mu.Lock()
		w.pendingClosing[ev.ChannelId] = ev.RawTx
		w.mu.Unlock()
		log.Debugf("channel %x: watching cooperative closing tx for confirmation", ev.ChannelId)

	case channel.FundingTransactionPending:
		w.mu.Lock()
		w.pendingFunding[ev.ChannelId] = ev.RawTx
		w.mu.Unlock()
		log.Debugf("channel %x: watching funding tx for confirmation", ev.ChannelId)
	}
}

// NotifyFundingConfirmed delivers FundingTransactionConfirmed to the named
// channel (spec.md §6), advancing it out of AwaitingTxSignatures.
func (w *Watcher) NotifyFundingConfirmed(channelId [32]byte, blockNumber uint64, txIndex uint32) {
	link, ok := w.link(channelId)
	if !ok {
		log.Warnf("watcher: funding confirmed for unregistered channel %x", channelId)
		return
	}

	w.mu.Lock()
	delete(w.pendingFunding, channelId)
	w.mu.Unlock()

	link.DeliverFundingConfirmed(channel.FundingConfirmedMsg{
		BlockNumber: blockNumber,
		TxIndex:     txIndex,
	})
}

// NotifyCommitmentConfirmed delivers CommitmentTransactionConfirmed to the
// named channel, the final step of a forced close (spec.md §4.6, §6).
func (w *Watcher) NotifyCommitmentConfirmed(channelId [32]byte) {
	link, ok := w.link(channelId)
	if !ok {
		log.Warnf("watcher: commitment confirmed for unregistered channel %x", channelId)
		return
	}

	w.mu.Lock()
	delete(w.pendingCommitment, channelId)
	w.mu.Unlock()

	link.DeliverCommitmentConfirmed()
}

// NotifyClosingConfirmed records ClosingTransactionConfirmed (spec.md §6).
// The channel actor needs no further transition for this one: it already
// reached Closed(COOPERATIVE) the moment both ClosingSigned partials
// aggregated (spec.md §4.6), so this only clears bookkeeping and logs —
// the watcher's own signal that the channel's close is now final on chain.
func (w *Watcher) NotifyClosingConfirmed(channelId [32]byte) {
	w.mu.Lock()
	delete(w.pendingClosing, channelId)
	w.mu.Unlock()

	log.Infof("channel %x: cooperative closing transaction confirmed", channelId)
}

func (w *Watcher) link(channelId [32]byte) (Link, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	l, ok := w.links[channelId]
	return l, ok
}
