package fiberwire

import (
	"io"

	"github.com/nervosnetwork/fiber-channeld/channel"
)

// OpenChannel is the wire framing of channel.OpenChannelMsg (spec.md §4.1,
// §6): the opener's proposed parameters, first two per-commitment points,
// and a nonce sent one round ahead of when it is used.
type OpenChannel struct {
	channel.OpenChannelMsg
}

var _ Message = (*OpenChannel)(nil)

func (m *OpenChannel) Decode(r io.Reader, pver uint32) error {
	return readElements(r,
		&m.ChannelId,
		&m.FundingPubkey,
		&m.FundingAmount,
		&m.ReservedCkbAmount,
		&m.FirstPerCommitmentPoint,
		&m.SecondPerCommitmentPoint,
		&m.NextLocalNonce,
		&m.IsPublic,
	)
}

func (m *OpenChannel) Encode(w io.Writer, pver uint32) error {
	return writeElements(w,
		m.ChannelId,
		m.FundingPubkey,
		m.FundingAmount,
		m.ReservedCkbAmount,
		m.FirstPerCommitmentPoint,
		m.SecondPerCommitmentPoint,
		m.NextLocalNonce,
		m.IsPublic,
	)
}

func (m *OpenChannel) MsgType() MessageType { return MsgOpenChannel }

func (m *OpenChannel) MaxPayloadLength(uint32) uint32 {
	return 32 + 33 + 8 + 8 + 33 + 33 + 66 + 1
}

// AcceptChannel is the wire framing of channel.AcceptChannelMsg (spec.md
// §4.1, §6): mirrors OpenChannel's key material without a funding amount,
// since only the opener contributes a cell.
type AcceptChannel struct {
	channel.AcceptChannelMsg
}

var _ Message = (*AcceptChannel)(nil)

func (m *AcceptChannel) Decode(r io.Reader, pver uint32) error {
	return readElements(r,
		&m.ChannelId,
		&m.FundingPubkey,
		&m.FirstPerCommitmentPoint,
		&m.SecondPerCommitmentPoint,
		&m.NextLocalNonce,
	)
}

func (m *AcceptChannel) Encode(w io.Writer, pver uint32) error {
	return writeElements(w,
		m.ChannelId,
		m.FundingPubkey,
		m.FirstPerCommitmentPoint,
		m.SecondPerCommitmentPoint,
		m.NextLocalNonce,
	)
}

func (m *AcceptChannel) MsgType() MessageType { return MsgAcceptChannel }

func (m *AcceptChannel) MaxPayloadLength(uint32) uint32 {
	return 32 + 33 + 33 + 33 + 66
}

// TxUpdate is the wire framing of channel.TxUpdateMsg (spec.md §4.1, §6): a
// draft of the funding transaction, opaque beyond its length prefix.
type TxUpdate struct {
	channel.TxUpdateMsg
}

var _ Message = (*TxUpdate)(nil)

func (m *TxUpdate) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &m.ChannelId, &m.Tx)
}

func (m *TxUpdate) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, m.ChannelId, m.Tx)
}

func (m *TxUpdate) MsgType() MessageType { return MsgTxUpdate }

func (m *TxUpdate) MaxPayloadLength(uint32) uint32 {
	return 32 + 4 + MaxMessagePayload
}

// TxComplete is the wire framing of channel.TxCompleteMsg (spec.md §4.1,
// §6): declares the funding input set final, carrying a partial signature
// over the not-yet-broadcast initial commitment tx.
type TxComplete struct {
	channel.TxCompleteMsg
}

var _ Message = (*TxComplete)(nil)

func (m *TxComplete) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &m.ChannelId, &m.CommitmentTxPartialSignature)
}

func (m *TxComplete) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, m.ChannelId, m.CommitmentTxPartialSignature)
}

func (m *TxComplete) MsgType() MessageType { return MsgTxComplete }

func (m *TxComplete) MaxPayloadLength(uint32) uint32 {
	return 32 + 32
}

// TxSignatures is the wire framing of channel.TxSignaturesMsg (spec.md
// §4.1, §6): this side's witnesses for the funding tx's inputs.
type TxSignatures struct {
	channel.TxSignaturesMsg
}

var _ Message = (*TxSignatures)(nil)

func (m *TxSignatures) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &m.ChannelId, &m.Witnesses)
}

func (m *TxSignatures) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, m.ChannelId, m.Witnesses)
}

func (m *TxSignatures) MsgType() MessageType { return MsgTxSignatures }

func (m *TxSignatures) MaxPayloadLength(uint32) uint32 {
	return MaxMessagePayload
}

// ChannelReady is the wire framing of channel.ChannelReadyMsg (spec.md
// §4.1, §6), confirming the funding transaction and readiness to route.
type ChannelReady struct {
	channel.ChannelReadyMsg
}

var _ Message = (*ChannelReady)(nil)

func (m *ChannelReady) Decode(r io.Reader, pver uint32) error {
	return readElements(r, &m.ChannelId)
}

func (m *ChannelReady) Encode(w io.Writer, pver uint32) error {
	return writeElements(w, m.ChannelId)
}

func (m *ChannelReady) MsgType() MessageType { return MsgChannelReady }

func (m *ChannelReady) MaxPayloadLength(uint32) uint32 {
	return 32
}
