// Package fiberwire implements the peer-to-peer wire encoding for channel/'s
// messages, the counterpart of the teacher's lnwire package generalized from
// HTLC/commit-sig framing to TLC/musig2 framing.
package fiberwire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// MaxMessagePayload is the maximum bytes a message can be regardless of
// other individual limits imposed by messages themselves.
const MaxMessagePayload = 65535

// MessageType is the 2-byte big-endian type tag that precedes every
// message's payload. No length field or checksum: the peer transport
// (out of scope here) is assumed to run over an authenticated,
// length-delimited transport already.
type MessageType uint16

const (
	MsgOpenChannel         MessageType = 32
	MsgAcceptChannel       MessageType = 33
	MsgTxUpdate            MessageType = 34
	MsgTxComplete          MessageType = 35
	MsgTxSignatures        MessageType = 36
	MsgChannelReady        MessageType = 37
	MsgUpdateAddTlc        MessageType = 128
	MsgUpdateRemoveTlc     MessageType = 131
	MsgCommitmentSigned    MessageType = 132
	MsgRevokeAndAck        MessageType = 133
	MsgShutdown            MessageType = 39
	MsgClosingSigned       MessageType = 40
	MsgReestablishChannel  MessageType = 136
	MsgAnnouncementSignatures MessageType = 259
)

// UnknownMessage is returned when decoding an unrecognized message type.
type UnknownMessage struct {
	messageType MessageType
}

func (u *UnknownMessage) Error() string {
	return fmt.Sprintf("unable to parse message of unknown type: %v", u.messageType)
}

// Message is a wire-encodable peer message, the fiberwire counterpart of
// one of channel/'s plain *Msg structs.
type Message interface {
	Decode(io.Reader, uint32) error
	Encode(io.Writer, uint32) error
	MsgType() MessageType
	MaxPayloadLength(uint32) uint32
}

func makeEmptyMessage(msgType MessageType) (Message, error) {
	switch msgType {
	case MsgOpenChannel:
		return &OpenChannel{}, nil
	case MsgAcceptChannel:
		return &AcceptChannel{}, nil
	case MsgTxUpdate:
		return &TxUpdate{}, nil
	case MsgTxComplete:
		return &TxComplete{}, nil
	case MsgTxSignatures:
		return &TxSignatures{}, nil
	case MsgChannelReady:
		return &ChannelReady{}, nil
	case MsgUpdateAddTlc:
		return &UpdateAddTlc{}, nil
	case MsgUpdateRemoveTlc:
		return &UpdateRemoveTlc{}, nil
	case MsgCommitmentSigned:
		return &CommitmentSigned{}, nil
	case MsgRevokeAndAck:
		return &RevokeAndAck{}, nil
	case MsgShutdown:
		return &Shutdown{}, nil
	case MsgClosingSigned:
		return &ClosingSigned{}, nil
	case MsgReestablishChannel:
		return &ReestablishChannel{}, nil
	case MsgAnnouncementSignatures:
		return &AnnouncementSignatures{}, nil
	default:
		return nil, &UnknownMessage{messageType: msgType}
	}
}

// WriteMessage writes a fiberwire Message to w, including its 2-byte type
// header, and returns the number of bytes written.
func WriteMessage(w io.Writer, msg Message, pver uint32) (int, error) {
	var bw bytes.Buffer
	if err := msg.Encode(&bw, pver); err != nil {
		return 0, err
	}
	payload := bw.Bytes()

	if len(payload) > MaxMessagePayload {
		return 0, fmt.Errorf("message payload too large: %d bytes, max %d",
			len(payload), MaxMessagePayload)
	}
	if mpl := msg.MaxPayloadLength(pver); uint32(len(payload)) > mpl {
		return 0, fmt.Errorf("message payload too large for type %x: %d bytes, max %d",
			msg.MsgType(), len(payload), mpl)
	}

	var mType [2]byte
	binary.BigEndian.PutUint16(mType[:], uint16(msg.MsgType()))

	total := 0
	n, err := w.Write(mType[:])
	total += n
	if err != nil {
		return total, err
	}
	n, err = w.Write(payload)
	total += n
	return total, err
}

// ReadMessage reads, type-dispatches, and decodes the next fiberwire
// message from r.
func ReadMessage(r io.Reader, pver uint32) (Message, error) {
	var mType [2]byte
	if _, err := io.ReadFull(r, mType[:]); err != nil {
		return nil, err
	}
	msgType := MessageType(binary.BigEndian.Uint16(mType[:]))

	msg, err := makeEmptyMessage(msgType)
	if err != nil {
		return nil, err
	}
	if err := msg.Decode(r, pver); err != nil {
		return nil, err
	}
	return msg, nil
}
