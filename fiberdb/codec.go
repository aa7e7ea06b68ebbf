package fiberdb

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/nervosnetwork/fiber-channeld/channel"
)

// readElement/writeElement give fiberdb its own small binary codec for the
// handful of foreign and domain types ChannelActorState is built from,
// independent of fiberwire's identically-shaped codec.go: persistence and
// wire framing are separate concerns with separate evolution paths even
// though, today, they happen to cover overlapping element kinds (the same
// duplication the teacher accepts between lnwire and channeldb).

func writeElements(w io.Writer, elements ...interface{}) error {
	for _, el := range elements {
		if err := writeElement(w, el); err != nil {
			return err
		}
	}
	return nil
}

func readElements(r io.Reader, elements ...interface{}) error {
	for _, el := range elements {
		if err := readElement(r, el); err != nil {
			return err
		}
	}
	return nil
}

func writeElement(w io.Writer, element interface{}) error {
	switch e := element.(type) {
	case bool:
		var b uint8
		if e {
			b = 1
		}
		return writeElement(w, b)
	case uint8:
		return binary.Write(w, binary.BigEndian, e)
	case uint32:
		return binary.Write(w, binary.BigEndian, e)
	case uint64:
		return binary.Write(w, binary.BigEndian, e)
	case [32]byte:
		_, err := w.Write(e[:])
		return err
	case [36]byte:
		_, err := w.Write(e[:])
		return err
	case [64]byte:
		_, err := w.Write(e[:])
		return err
	case []byte:
		if err := writeElement(w, uint32(len(e))); err != nil {
			return err
		}
		_, err := w.Write(e)
		return err
	case *btcec.PublicKey:
		if e == nil {
			var zero [33]byte
			_, err := w.Write(zero[:])
			return err
		}
		_, err := w.Write(e.SerializeCompressed())
		return err
	case channel.HashAlgorithm:
		return writeElement(w, uint8(e))
	case channel.StateType:
		return writeElement(w, uint8(e))
	case channel.TLCId:
		var flag uint8
		if e.Offered {
			flag = 1
		}
		if err := writeElement(w, flag); err != nil {
			return err
		}
		return writeElement(w, e.Index)
	case channel.RemoveTlcReason:
		return writeRemoveTlcReason(w, e)
	default:
		return fmt.Errorf("fiberdb: unknown type %T to encode", element)
	}
}

func readElement(r io.Reader, element interface{}) error {
	switch e := element.(type) {
	case *bool:
		var b uint8
		if err := readElement(r, &b); err != nil {
			return err
		}
		*e = b != 0
		return nil
	case *uint8:
		return binary.Read(r, binary.BigEndian, e)
	case *uint32:
		return binary.Read(r, binary.BigEndian, e)
	case *uint64:
		return binary.Read(r, binary.BigEndian, e)
	case *[32]byte:
		_, err := io.ReadFull(r, e[:])
		return err
	case *[36]byte:
		_, err := io.ReadFull(r, e[:])
		return err
	case *[64]byte:
		_, err := io.ReadFull(r, e[:])
		return err
	case *[]byte:
		var length uint32
		if err := readElement(r, &length); err != nil {
			return err
		}
		const maxElementBytes = 1 << 24
		if length > maxElementBytes {
			return fmt.Errorf("fiberdb: byte slice too large: %d", length)
		}
		if length == 0 {
			*e = nil
			return nil
		}
		buf := make([]byte, length)
		if _, err := io.ReadFull(r, buf); err != nil {
			return err
		}
		*e = buf
		return nil
	case **btcec.PublicKey:
		var raw [33]byte
		if _, err := io.ReadFull(r, raw[:]); err != nil {
			return err
		}
		var zero [33]byte
		if raw == zero {
			*e = nil
			return nil
		}
		pub, err := btcec.ParsePubKey(raw[:])
		if err != nil {
			return err
		}
		*e = pub
		return nil
	case *channel.HashAlgorithm:
		var raw uint8
		if err := readElement(r, &raw); err != nil {
			return err
		}
		*e = channel.HashAlgorithm(raw)
		return nil
	case *channel.StateType:
		var raw uint8
		if err := readElement(r, &raw); err != nil {
			return err
		}
		*e = channel.StateType(raw)
		return nil
	case *channel.TLCId:
		var flag uint8
		var index uint64
		if err := readElements(r, &flag, &index); err != nil {
			return err
		}
		if flag == 1 {
			*e = channel.OfferedTLCId(index)
		} else {
			*e = channel.ReceivedTLCId(index)
		}
		return nil
	case *channel.RemoveTlcReason:
		reason, err := readRemoveTlcReason(r)
		if err != nil {
			return err
		}
		*e = reason
		return nil
	default:
		return fmt.Errorf("fiberdb: unknown type %T to decode", element)
	}
}

const (
	removeTlcReasonFulfill uint8 = 0
	removeTlcReasonFail    uint8 = 1
)

func writeRemoveTlcReason(w io.Writer, reason channel.RemoveTlcReason) error {
	switch {
	case reason.Fulfill != nil:
		if err := writeElement(w, removeTlcReasonFulfill); err != nil {
			return err
		}
		return writeElement(w, reason.Fulfill.PaymentPreimage)
	case reason.Fail != nil:
		if err := writeElement(w, removeTlcReasonFail); err != nil {
			return err
		}
		return writeElement(w, reason.Fail.ErrorPacket)
	default:
		return fmt.Errorf("fiberdb: empty RemoveTlcReason")
	}
}

func readRemoveTlcReason(r io.Reader) (channel.RemoveTlcReason, error) {
	var tag uint8
	if err := readElement(r, &tag); err != nil {
		return channel.RemoveTlcReason{}, err
	}
	switch tag {
	case removeTlcReasonFulfill:
		var preimage [32]byte
		if err := readElement(r, &preimage); err != nil {
			return channel.RemoveTlcReason{}, err
		}
		return channel.RemoveTlcReason{Fulfill: &channel.RemoveTlcFulfill{PaymentPreimage: preimage}}, nil
	case removeTlcReasonFail:
		var packet []byte
		if err := readElement(r, &packet); err != nil {
			return channel.RemoveTlcReason{}, err
		}
		return channel.RemoveTlcReason{Fail: &channel.RemoveTlcFail{ErrorPacket: packet}}, nil
	default:
		return channel.RemoveTlcReason{}, fmt.Errorf("fiberdb: unknown RemoveTlcReason tag %d", tag)
	}
}

// writePresence/readPresence frame an optional value (pointer, or a
// zero-length marker) ahead of its payload, the convention channel.go uses
// for the optional fields of ChannelActorState and its nested structures;
// a *btcec.PublicKey field instead uses writeElement's all-zero 33-byte
// sentinel for nil.
func writePresence(w io.Writer, present bool) error {
	return writeElement(w, present)
}

func readPresence(r io.Reader) (bool, error) {
	var present bool
	err := readElement(r, &present)
	return present, err
}
