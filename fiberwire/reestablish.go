package fiberwire

import (
	"io"

	"github.com/nervosnetwork/fiber-channeld/channel"
)

// ReestablishChannel is the wire framing of channel.ReestablishChannelMsg
// (spec.md §4.7, §6).
type ReestablishChannel struct {
	channel.ReestablishChannelMsg
}

var _ Message = (*ReestablishChannel)(nil)

func (m *ReestablishChannel) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &m.ChannelId, &m.LocalCommitmentNumber, &m.RemoteCommitmentNumber)
}

func (m *ReestablishChannel) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, m.ChannelId, m.LocalCommitmentNumber, m.RemoteCommitmentNumber)
}

func (m *ReestablishChannel) MsgType() MessageType { return MsgReestablishChannel }

func (m *ReestablishChannel) MaxPayloadLength(uint32) uint32 {
	return 32 + 8 + 8
}
