// Package onion is the per-hop routing-payload peeling service
// FlushCollaborators.PeelOnion (channel/tlc_ops.go) is driven with
// (spec.md §4.2 step 1, §6 "PeelPaymentOnionPacket"). Grounded on
// peer.go's handleUpstreamMsg Sphinx-processing block: decode the wire
// onion blob into a sphinx.OnionPacket, hand it to a sphinx.Router with the
// raw onion bytes themselves as associated data (the TLC's payment hash is
// not passed in and is not bound to the packet), then branch on the returned Action the
// same way peer.go switches on sphinx.ExitNode/sphinx.MoreHops.
//
// The real lightning-onion dependency (already in go.mod via the teacher)
// supplies the mix-header cryptography; this package's own addition is the
// per-hop routing payload shape, generalized from the pre-TLV HopData the
// teacher's mock hop iterator mirrors (htlcswitch/mock.go's ForwardingInfo:
// NextHop, AmountToForward, OutgoingCTLV) from an 8-byte short channel id
// to this protocol's 32-byte channel id (spec.md §3): the low 8 bytes ride
// in HopData.NextAddress, the remaining 24 in its ExtraBytes padding,
// exactly the "reserved for future use" slack that field exists for.
package onion

import (
	"bytes"
	"fmt"

	"github.com/lightningnetwork/lightning-onion"

	"github.com/nervosnetwork/fiber-channeld/channel"
)

// Processor peels one onion layer per call, implementing the
// channel.FlushCollaborators.PeelOnion signature directly.
type Processor struct {
	router *sphinx.Router
}

// NewProcessor wraps a sphinx.Router constructed the same way server.go
// builds its node-wide one (sphinx.NewRouter(identityKey, chainParams)).
func NewProcessor(router *sphinx.Router) *Processor {
	return &Processor{router: router}
}

// PeelOnion implements channel.FlushCollaborators.PeelOnion: decode the
// wire-format onion blob, process it against this node's identity key, and
// translate the result into a channel.PeeledPacket. sharedSecret is unused
// here — it belongs to the TLC's own commitment-lock derivation
// (signer.Signer), not the Sphinx mix-header's own per-hop ECDH, which the
// Router recomputes internally from the packet's ephemeral key.
func (p *Processor) PeelOnion(onionPacket []byte, _ [32]byte) (channel.PeeledPacket, error) {
	pkt := &sphinx.OnionPacket{}
	if err := pkt.Decode(bytes.NewReader(onionPacket)); err != nil {
		return channel.PeeledPacket{}, fmt.Errorf("onion: decode packet: %w", err)
	}

	processed, err := p.router.ProcessOnionPacket(pkt, onionPacket)
	if err != nil {
		return channel.PeeledPacket{}, fmt.Errorf("onion: process packet: %w", err)
	}

	switch processed.Action {
	case sphinx.ExitNode:
		return channel.PeeledPacket{Terminal: true}, nil

	case sphinx.MoreHops:
		var buf bytes.Buffer
		if err := processed.Packet.Encode(&buf); err != nil {
			return channel.PeeledPacket{}, fmt.Errorf("onion: encode next packet: %w", err)
		}

		hop := processed.ForwardingInstructions
		return channel.PeeledPacket{
			Terminal:        false,
			ForwardAmount:   hop.ForwardAmount,
			NextHopExpiry:   uint64(hop.OutgoingCltv),
			NextOnionPacket: buf.Bytes(),
			NextChannelId:   decodeChannelId(hop),
		}, nil

	default:
		return channel.PeeledPacket{}, fmt.Errorf("onion: malformed packet, unknown action")
	}
}

// decodeChannelId reassembles the 32-byte channel id this package's hop
// payload convention splits across HopData.NextAddress (low 8 bytes) and
// HopData.ExtraBytes (remaining 24, zero-padded if the sender encoded a
// shorter value).
func decodeChannelId(hop sphinx.HopData) [32]byte {
	var id [32]byte
	copy(id[24:], hop.NextAddress[:])
	copy(id[:24], hop.ExtraBytes[:])
	return id
}

// encodeChannelId is decodeChannelId's mirror, used by whichever component
// constructs outgoing onion packets for a route (the out-of-scope
// wallet/funding-tx and route-building layer, spec.md §1 — kept here since
// it's the single place that understands this package's hop-payload
// convention).
func encodeChannelId(id [32]byte) (nextAddress [8]byte, extra [24]byte) {
	copy(nextAddress[:], id[24:])
	copy(extra[:], id[:24])
	return nextAddress, extra
}
