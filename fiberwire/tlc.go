package fiberwire

import (
	"io"

	"github.com/nervosnetwork/fiber-channeld/channel"
)

// UpdateAddTlc is the wire framing of channel.AddTlcMsg (spec.md §6),
// generalizing the teacher's UpdateAddHTLC to TLC ids/hash-algorithm
// selection instead of a fixed SHA-256 HTLC.
type UpdateAddTlc struct {
	channel.AddTlcMsg
}

var _ Message = (*UpdateAddTlc)(nil)

func (m *UpdateAddTlc) Decode(r io.Reader, pver uint32) error {
	return readElements(r,
		&m.ChannelId,
		&m.TlcId,
		&m.Amount,
		&m.PaymentHash,
		&m.Expiry,
		&m.HashAlgorithm,
		&m.OnionPacket,
	)
}

func (m *UpdateAddTlc) Encode(w io.Writer, pver uint32) error {
	return writeElements(w,
		m.ChannelId,
		m.TlcId,
		m.Amount,
		m.PaymentHash,
		m.Expiry,
		m.HashAlgorithm,
		m.OnionPacket,
	)
}

func (m *UpdateAddTlc) MsgType() MessageType { return MsgUpdateAddTlc }

func (m *UpdateAddTlc) MaxPayloadLength(uint32) uint32 {
	// ChannelId(32) + TlcId(8) + Amount(8) + PaymentHash(32) + Expiry(8) +
	// HashAlgorithm(1) + OnionPacket length prefix(4) + onion payload.
	return 32 + 8 + 8 + 32 + 8 + 1 + 4 + 1366
}

// UpdateRemoveTlc is the wire framing of channel.RemoveTlcMsg, unifying
// the teacher's separate UpdateFulfillHTLC/UpdateFailHTLC messages behind
// the single RemoveTlcReason tagged union (spec.md §3, §6).
type UpdateRemoveTlc struct {
	channel.RemoveTlcMsg
}

var _ Message = (*UpdateRemoveTlc)(nil)

func (m *UpdateRemoveTlc) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &m.ChannelId, &m.TlcId, &m.Reason)
}

func (m *UpdateRemoveTlc) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, m.ChannelId, m.TlcId, m.Reason)
}

func (m *UpdateRemoveTlc) MsgType() MessageType { return MsgUpdateRemoveTlc }

func (m *UpdateRemoveTlc) MaxPayloadLength(uint32) uint32 {
	return 32 + 9 + 1 + 4 + MaxMessagePayload/2
}
