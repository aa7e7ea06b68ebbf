package fiberwire

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/musig2"

	"github.com/nervosnetwork/fiber-channeld/channel"
)

// readElements/writeElements generalize the teacher's lnwire element
// codec (funding_locked.go's readElements/writeElements calls) to this
// package's element set: fixed-size integers, byte arrays, length-prefixed
// byte slices, pubkeys, TLC ids and the RemoveTlcReason tagged union.

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
	case uint8:
		return binary.Write(w, binary.BigEndian, e)
	case uint16:
		return binary.Write(w, binary.BigEndian, e)
	case uint32:
		return binary.Write(w, binary.BigEndian, e)
	case uint64:
		return binary.Write(w, binary.BigEndian, e)
	case [32]byte:
		_, err := w.Write(e[:])
		return err
	case [64]byte:
		_, err := w.Write(e[:])
		return err
	case [musig2.PubNonceSize]byte:
		_, err := w.Write(e[:])
		return err
	case []byte:
		if err := writeElement(w, uint32(len(e))); err != nil {
			return err
		}
		_, err := w.Write(e)
		return err
	case [][]byte:
		if err := writeElement(w, uint32(len(e))); err != nil {
			return err
		}
		for _, item := range e {
			if err := writeElement(w, item); err != nil {
				return err
			}
		}
		return nil
	case bool:
		var raw uint8
		if e {
			raw = 1
		}
		return writeElement(w, raw)
	case *btcec.PublicKey:
		if e == nil {
			var zero [33]byte
			_, err := w.Write(zero[:])
			return err
		}
		_, err := w.Write(e.SerializeCompressed())
		return err
	case musig2.PartialSignature:
		sBytes := e.S.Bytes()
		_, err := w.Write(sBytes[:])
		return err
	case channel.HashAlgorithm:
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
		return fmt.Errorf("fiberwire: unknown type %T to encode", element)
	}
}

func readElement(r io.Reader, element interface{}) error {
	switch e := element.(type) {
	case *uint8:
		return binary.Read(r, binary.BigEndian, e)
	case *uint16:
		return binary.Read(r, binary.BigEndian, e)
	case *uint32:
		return binary.Read(r, binary.BigEndian, e)
	case *uint64:
		return binary.Read(r, binary.BigEndian, e)
	case *[32]byte:
		_, err := io.ReadFull(r, e[:])
		return err
	case *[64]byte:
		_, err := io.ReadFull(r, e[:])
		return err
	case *[musig2.PubNonceSize]byte:
		_, err := io.ReadFull(r, e[:])
		return err
	case *[]byte:
		var length uint32
		if err := readElement(r, &length); err != nil {
			return err
		}
		if length > MaxMessagePayload {
			return fmt.Errorf("fiberwire: byte slice too large: %d", length)
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
	case *[][]byte:
		var count uint32
		if err := readElement(r, &count); err != nil {
			return err
		}
		if count > MaxMessagePayload {
			return fmt.Errorf("fiberwire: witness list too large: %d", count)
		}
		items := make([][]byte, count)
		for i := range items {
			if err := readElement(r, &items[i]); err != nil {
				return err
			}
		}
		*e = items
		return nil
	case *bool:
		var raw uint8
		if err := readElement(r, &raw); err != nil {
			return err
		}
		*e = raw == 1
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
	case *musig2.PartialSignature:
		var sBytes [32]byte
		if _, err := io.ReadFull(r, sBytes[:]); err != nil {
			return err
		}
		e.S = new(btcec.ModNScalar)
		e.S.SetBytes(&sBytes)
		return nil
	case *channel.HashAlgorithm:
		var raw uint8
		if err := readElement(r, &raw); err != nil {
			return err
		}
		*e = channel.HashAlgorithm(raw)
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
		return fmt.Errorf("fiberwire: unknown type %T to decode", element)
	}
}

// removeTlcReasonFulfill/Fail tag the RemoveTlcReason union on the wire,
// mirroring the teacher's convention of a leading discriminant byte for
// its own sum-typed fields (e.g. node_announcement.go's address-type
// prefix bytes).
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
		return fmt.Errorf("fiberwire: empty RemoveTlcReason")
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
		return channel.RemoveTlcReason{}, fmt.Errorf("fiberwire: unknown RemoveTlcReason tag %d", tag)
	}
}
