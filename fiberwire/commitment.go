package fiberwire

import (
	"io"

	"github.com/nervosnetwork/fiber-channeld/channel"
)

// CommitmentSigned is the wire framing of channel.CommitmentSignedMsg
// (spec.md §4.3, §6): a pair of musig2 partial signatures (funding-tx and
// commitment-tx) plus the sender's next nonce, replacing the teacher's
// single ECDSA CommitSig signature.
type CommitmentSigned struct {
	channel.CommitmentSignedMsg
}

var _ Message = (*CommitmentSigned)(nil)

func (m *CommitmentSigned) Decode(r io.Reader, pver uint32) error {
	return readElements(r,
		&m.ChannelId,
		&m.FundingTxPartialSignature,
		&m.CommitmentTxPartialSignature,
		&m.NextLocalNonce,
	)
}

func (m *CommitmentSigned) Encode(w io.Writer, pver uint32) error {
	return writeElements(w,
		m.ChannelId,
		m.FundingTxPartialSignature,
		m.CommitmentTxPartialSignature,
		m.NextLocalNonce,
	)
}

func (m *CommitmentSigned) MsgType() MessageType { return MsgCommitmentSigned }

func (m *CommitmentSigned) MaxPayloadLength(uint32) uint32 {
	return 32 + 32 + 32 + 66
}

// RevokeAndAck is the wire framing of channel.RevokeAndAckMsg (spec.md
// §4.3, §6): revocation partial signature, the co-signature for the new
// local-view commitment, and the next per-commitment point, replacing the
// teacher's (revocation-preimage, next-commitment-point) pair since this
// protocol reveals no preimage — revocation works by publishing a single
// already-signed spend of the superseded commitment's revocation path.
type RevokeAndAck struct {
	channel.RevokeAndAckMsg
}

var _ Message = (*RevokeAndAck)(nil)

func (m *RevokeAndAck) Decode(r io.Reader, pver uint32) error {
	return readElements(r,
		&m.ChannelId,
		&m.RevocationPartialSignature,
		&m.CommitmentTxPartialSignature,
		&m.NextPerCommitmentPoint,
	)
}

func (m *RevokeAndAck) Encode(w io.Writer, pver uint32) error {
	return writeElements(w,
		m.ChannelId,
		m.RevocationPartialSignature,
		m.CommitmentTxPartialSignature,
		m.NextPerCommitmentPoint,
	)
}

func (m *RevokeAndAck) MsgType() MessageType { return MsgRevokeAndAck }

func (m *RevokeAndAck) MaxPayloadLength(uint32) uint32 {
	return 32 + 32 + 32 + 33
}
