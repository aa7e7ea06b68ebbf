package fiberwire

import (
	"io"

	"github.com/nervosnetwork/fiber-channeld/channel"
)

// Shutdown is the wire framing of channel.ShutdownMsg (spec.md §4.6, §6).
type Shutdown struct {
	channel.ShutdownMsg
}

var _ Message = (*Shutdown)(nil)

func (m *Shutdown) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &m.ChannelId, &m.CloseScript, &m.FeeRate)
}

func (m *Shutdown) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, m.ChannelId, m.CloseScript, m.FeeRate)
}

func (m *Shutdown) MsgType() MessageType { return MsgShutdown }

func (m *Shutdown) MaxPayloadLength(uint32) uint32 {
	return 32 + 4 + 10_000 + 8
}

// ClosingSigned is the wire framing of channel.ClosingSignedMsg (spec.md
// §4.6, §6): a single musig2 partial signature over the closing
// transaction, replacing the teacher's (fee, ECDSA-signature) pair since
// the fee rate is already fixed per side by its own prior Shutdown
// message rather than negotiated in this round.
type ClosingSigned struct {
	channel.ClosingSignedMsg
}

var _ Message = (*ClosingSigned)(nil)

func (m *ClosingSigned) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &m.ChannelId, &m.PartialSignature)
}

func (m *ClosingSigned) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, m.ChannelId, m.PartialSignature)
}

func (m *ClosingSigned) MsgType() MessageType { return MsgClosingSigned }

func (m *ClosingSigned) MaxPayloadLength(uint32) uint32 {
	return 32 + 32
}
