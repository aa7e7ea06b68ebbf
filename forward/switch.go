// Package forward is the routing table connecting every channel actor on
// this node, generalized from htlcswitch/switch.go's ShortChannelID-keyed
// forwardingIndex and handlePacketForward (spec.md §4.5, §9 design note
// "model a forwarded TLC as a (ChannelId, TLCId) back-reference"). Unlike
// the teacher's Switch there is no central forwarder goroutine: every
// channel.ChannelActor already runs its own mailbox loop and schedules its
// own retry scan (channel/actor.go), so Switch is a lookup table plus the
// two collaborator functions that cross channel-actor boundaries.
package forward

import (
	"fmt"
	"sync"

	"github.com/nervosnetwork/fiber-channeld/channel"
)

// ErrLinkNotFound is returned when a channel id named by a forward or a
// relay target has no registered Link, generalized from
// htlcswitch/switch.go's ErrNoLinksFound to forward's per-actor dispatch
// (no in-process ChannelLink goroutine to look up, just a registered
// channel.ChannelActor behind this interface).
var ErrLinkNotFound = fmt.Errorf("forward: channel link not found")

// Link is the switch's view of one registered channel actor: the minimal
// surface needed to forward a peeled TLC onward and relay its eventual
// resolution back upstream. *channel.ChannelActor satisfies this directly
// (AddTlc/RemoveTlc are its existing RPCs; ChannelId/EnqueueRelayRemove
// were added to actor.go for this package).
type Link interface {
	ChannelId() [32]byte
	AddTlc(cmd channel.AddTlcCommand) (*channel.AddTlcInfo, error)
	RemoveTlc(cmd channel.RemoveTlcCommand) error
	EnqueueRelayRemove(r channel.RetryableRemoveTlc)
}

// Switch is the routing table; safe for concurrent use since every channel
// actor calls into it from its own goroutine.
type Switch struct {
	mu    sync.RWMutex
	links map[[32]byte]Link
}

// New returns an empty Switch.
func New() *Switch {
	return &Switch{links: make(map[[32]byte]Link)}
}

// RegisterLink adds a channel actor to the routing table, called once a
// channel reaches ChannelReady (or is resumed from fiberdb on startup).
func (s *Switch) RegisterLink(link Link) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.links[link.ChannelId()] = link
}

// UnregisterLink removes a channel actor, called once it stops.
func (s *Switch) UnregisterLink(channelId [32]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.links, channelId)
}

func (s *Switch) link(channelId [32]byte) (Link, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.links[channelId]
	return l, ok
}

// ForwardPeeled implements channel.FlushCollaborators.ForwardPeeled:
// locate the outgoing link named by the peeled packet's routing data and
// submit an Add downstream, carrying the upstream back-reference in the
// new AddTlcInfo.PreviousTlc so the eventual settle/fail finds its way
// home via a channel.TlcResolved event. Grounded on Switch's
// handlePacketForward "forward to next link, await ack/err" shape
// (switch.go), generalized from in-process dispatch to the per-actor
// AddTlc RPC.
func (s *Switch) ForwardPeeled(peeled channel.PeeledPacket, previous channel.PreviousTlc, paymentHash [32]byte) (uint64, *channel.TlcErr) {
	link, ok := s.link(peeled.NextChannelId)
	if !ok {
		return 0, &channel.TlcErr{Code: channel.ErrCodeTemporaryChannelFailure, Origin: previous.ChannelId}
	}

	add, err := link.AddTlc(channel.AddTlcCommand{
		Amount:        peeled.ForwardAmount,
		PaymentHash:   paymentHash,
		Expiry:        peeled.NextHopExpiry,
		HashAlgorithm: channel.HashAlgorithmSha256,
		OnionPacket:   peeled.NextOnionPacket,
		PreviousTlc:   &previous,
	})
	if err != nil {
		if tlcErr := channel.GetTlcError(link.ChannelId(), err); tlcErr != nil {
			return 0, tlcErr
		}
		return 0, &channel.TlcErr{Code: channel.ErrCodeTemporaryChannelFailure, Origin: link.ChannelId()}
	}

	return add.TlcId.Index, nil
}

// NewRetryDispatcher returns the channel.RetryDispatcher a channel actor
// for selfChannelId should be constructed with. A plain RemoveTlc entry
// never reaches here — actor.go resolves those against its own state
// in-line to avoid an actor deadlocking against itself — so only
// RelayRemoveTlc entries are handled: look up the named upstream channel
// and re-attempt settling the original TLC there.
func (s *Switch) NewRetryDispatcher(selfChannelId [32]byte) channel.RetryDispatcher {
	return func(r channel.RetryableRemoveTlc) error {
		if r.RelayRemoveTlc == nil {
			return nil
		}

		link, ok := s.link(r.RelayRemoveTlc.UpstreamChannelId)
		if !ok {
			log.Warnf("channel %x: no upstream link %x for retryable relay tlc %s",
				selfChannelId, r.RelayRemoveTlc.UpstreamChannelId, r.RelayRemoveTlc.UpstreamTlcId)
			return ErrLinkNotFound
		}

		return link.RemoveTlc(channel.RemoveTlcCommand{
			TlcId:  r.RelayRemoveTlc.UpstreamTlcId,
			Reason: r.RelayRemoveTlc.Reason,
		})
	}
}

// HandleEvent relays a TlcResolved event onto the upstream leg of a
// forwarded TLC: the Go equivalent of handlePacketForward's "use the
// circuit map to find the link to forward settle/fail to" step, simplified
// here since the back-reference already travels inside the downstream
// AddTlcInfo rather than a separate circuit table. The upstream channel's
// own retry queue (not a direct RemoveTlc call) owns the actual dispatch
// attempt, so HandleEvent only ever enqueues and never blocks. Wire this
// as (part of) every channel actor's EventSink.
func (s *Switch) HandleEvent(e channel.Event) {
	resolved, ok := e.(channel.TlcResolved)
	if !ok {
		return
	}

	link, ok := s.link(resolved.PreviousTlc.ChannelId)
	if !ok {
		log.Warnf("forward: no upstream link %x for resolved relay tlc %s",
			resolved.PreviousTlc.ChannelId, resolved.TlcId)
		return
	}

	link.EnqueueRelayRemove(channel.RetryableRemoveTlc{
		RelayRemoveTlc: &channel.RelayRemoveTlc{
			UpstreamChannelId: resolved.PreviousTlc.ChannelId,
			UpstreamTlcId:     resolved.PreviousTlc.TlcId,
			Reason:            resolved.Reason,
		},
	})
}
