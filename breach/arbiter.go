package breach

import (
	"sync"

	"github.com/nervosnetwork/fiber-channeld/channel"
)

// Arbiter is the node-wide observer that remembers every revocation a
// channel actor has produced and answers "is this on-chain commitment
// cheating us" once a watcher reports an unexpected broadcast, the
// generalized Go equivalent of breacharbiter.go's contractObserver without
// its own notifier/wallet dependencies: this package computes and persists
// the retribution record, leaving the confirmation wait and justice-tx
// broadcast to the (out-of-scope) chain layer driving NotifyBreach.
type Arbiter struct {
	store *Store

	mu       sync.Mutex
	watching map[[32]byte]struct{}
}

// NewArbiter wraps a retribution Store.
func NewArbiter(store *Store) *Arbiter {
	return &Arbiter{
		store:    store,
		watching: make(map[[32]byte]struct{}),
	}
}

// WatchChannel marks a channel as actively watched, called once it's
// constructed (or resumed from fiberdb on startup) — mirrors
// contractObserver's per-channel breachObserver registration, minus the
// dedicated goroutine: there's nothing to poll here since HandleEvent and
// NotifyBreach are both reactive.
func (a *Arbiter) WatchChannel(channelId [32]byte) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.watching[channelId] = struct{}{}
}

// SettleChannel stops watching a channel and discards any retribution
// records it accumulated: once a channel leaves the chain entirely there is
// no longer a revoked commitment left that could be rebroadcast against us
// (spec.md §4.6, the settledContracts path of contractObserver).
func (a *Arbiter) SettleChannel(channelId [32]byte) error {
	a.mu.Lock()
	delete(a.watching, channelId)
	a.mu.Unlock()

	return a.store.DeleteChannel(channelId)
}

// HandleEvent implements (part of) a channel actor's channel.EventSink:
// every RevocationProduced event is persisted immediately, the same
// "critical that such state is persisted on disk" rationale
// breacharbiter.go gives before it ever tries to act on it.
func (a *Arbiter) HandleEvent(e channel.Event) {
	ev, ok := e.(channel.RevocationProduced)
	if !ok {
		return
	}

	ret := Retribution{
		ChannelId:           ev.ChannelId,
		CommitmentNumber:    ev.CommitmentNumber,
		RevocationSignature: ev.RevocationSignature,
		CommitmentLockArgs:  ev.CommitmentLockArgs,
	}
	if err := a.store.Put(ret); err != nil {
		log.Errorf("channel %x: persisting retribution data for commitment %d: %v",
			ev.ChannelId, ev.CommitmentNumber, err)
	}
}

// NotifyBreach is called by the (out-of-scope) on-chain watcher once it
// observes a commitment transaction for channelId at commitmentNumber
// confirm on chain that is NOT the channel's current commitment — i.e. a
// revoked state has just been broadcast. It returns the stored revocation
// data needed to sweep that commitment's single output entirely to us, the
// Go equivalent of exactRetribution's createJusticeTx input, generalized to
// this protocol's single commitment-lock-arg output so there's exactly one
// signature to return rather than one per HTLC.
func (a *Arbiter) NotifyBreach(channelId [32]byte, commitmentNumber uint64) (*Retribution, error) {
	ret, err := a.store.Get(channelId, commitmentNumber)
	if err != nil {
		return nil, err
	}

	log.Warnf("channel %x: revoked commitment %d broadcast on chain, "+
		"sweeping with retribution data", channelId, commitmentNumber)

	return ret, nil
}
