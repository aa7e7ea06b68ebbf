package fiberwire

import (
	"io"

	"github.com/nervosnetwork/fiber-channeld/channel"
)

// AnnouncementSignatures is the wire framing of
// channel.AnnouncementSignaturesMsg (SPEC_FULL.md §8), the counterpart of
// the teacher's AnnounceSignatures for public-channel announcement.
type AnnouncementSignatures struct {
	channel.AnnouncementSignaturesMsg
}

var _ Message = (*AnnouncementSignatures)(nil)

func (m *AnnouncementSignatures) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &m.ChannelId, &m.NodeSignature, &m.PartialSignature)
}

func (m *AnnouncementSignatures) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, m.ChannelId, m.NodeSignature, m.PartialSignature)
}

func (m *AnnouncementSignatures) MsgType() MessageType { return MsgAnnouncementSignatures }

func (m *AnnouncementSignatures) MaxPayloadLength(uint32) uint32 {
	return 32 + 64 + 64
}
