package channel

import (
	"fmt"

	goerrors "github.com/go-errors/errors"
)

// ErrChanClosing is returned when a caller attempts to mutate a channel
// that has already reached Closed(*).
var ErrChanClosing = fmt.Errorf("channel is closed, operation disallowed")

// ErrNoWindow is returned when the remote per-commitment-point window is
// exhausted (spec.md §4.4).
var ErrNoWindow = fmt.Errorf("no remote per-commitment point available")

// ErrRepeatedProcessing is returned when the same RemoveTlc for the same
// id+reason is applied twice (testable property 9).
var ErrRepeatedProcessing = fmt.Errorf("repeated processing")

// ErrWaitingTlcAck is returned when a new local TLC command arrives while
// waiting_ack is set (spec.md §4.2).
var ErrWaitingTlcAck = fmt.Errorf("waiting for commitment ack")

// TlcErrCode is the wire-level error code attached to a TlcErr, mirroring
// the BOLT-style "final"/"node"/"channel" error taxonomy spec.md §7
// references.
type TlcErrCode uint16

const (
	ErrCodeInvalidOnionPayload TlcErrCode = iota
	ErrCodeFeeInsufficient
	ErrCodeIncorrectTlcExpiry
	ErrCodeExpiryTooSoon
	ErrCodeExpiryTooFar
	ErrCodeFinalIncorrectHTLCAmount
	ErrCodeFinalIncorrectPaymentHash
	ErrCodeFinalIncorrectPreimage
	ErrCodeInvoiceExpired
	ErrCodeInvoiceCancelled
	ErrCodeIncorrectOrUnknownPaymentDetails
	ErrCodeTemporaryChannelFailure
	ErrCodeTemporaryNodeFailure
	ErrCodePermanentChannelFailure
)

func (c TlcErrCode) String() string {
	switch c {
	case ErrCodeInvalidOnionPayload:
		return "InvalidOnionPayload"
	case ErrCodeFeeInsufficient:
		return "FeeInsufficient"
	case ErrCodeIncorrectTlcExpiry:
		return "IncorrectTlcExpiry"
	case ErrCodeExpiryTooSoon:
		return "ExpiryTooSoon"
	case ErrCodeExpiryTooFar:
		return "ExpiryTooFar"
	case ErrCodeFinalIncorrectHTLCAmount:
		return "FinalIncorrectHTLCAmount"
	case ErrCodeFinalIncorrectPaymentHash:
		return "FinalIncorrectPaymentHash"
	case ErrCodeFinalIncorrectPreimage:
		return "FinalIncorrectPreimage"
	case ErrCodeInvoiceExpired:
		return "InvoiceExpired"
	case ErrCodeInvoiceCancelled:
		return "InvoiceCancelled"
	case ErrCodeIncorrectOrUnknownPaymentDetails:
		return "IncorrectOrUnknownPaymentDetails"
	case ErrCodeTemporaryChannelFailure:
		return "TemporaryChannelFailure"
	case ErrCodeTemporaryNodeFailure:
		return "TemporaryNodeFailure"
	case ErrCodePermanentChannelFailure:
		return "PermanentChannelFailure"
	default:
		return "<unknown tlc error code>"
	}
}

// ChannelUpdateInfo is attached to a TlcErr iff its code advertises an
// updated channel policy (spec.md §7).
type ChannelUpdateInfo struct {
	TlcFeeProportionalMillionths uint64
	TlcExpiryDelta               uint64
	TlcMinValue                  uint64
}

// TlcErr is the wire-level error attached to a failed TLC (spec.md §6,
// §7).
type TlcErr struct {
	Code          TlcErrCode
	ChannelUpdate *ChannelUpdateInfo
	Origin        [32]byte // channel id of the node that raised the error
}

func (e *TlcErr) Error() string {
	return fmt.Sprintf("tlc error %s from channel %x", e.Code, e.Origin)
}

// ProcessingChannelError is the fatal class of error: local panics on
// corruption invariants (unwrap of expected state). These crash the actor
// and surface on shutdown rather than being silently logged (spec.md §7).
// Wrapping with go-errors/errors keeps the stack trace for post-mortem
// logging, mirroring peer.go's use of the same library for its own fatal
// paths.
type ProcessingChannelError struct {
	inner *goerrors.Error
}

// NewProcessingChannelError wraps msg with a stack trace.
func NewProcessingChannelError(format string, args ...interface{}) *ProcessingChannelError {
	return &ProcessingChannelError{
		inner: goerrors.Errorf(format, args...),
	}
}

func (e *ProcessingChannelError) Error() string {
	return e.inner.Error()
}

// ErrorStack returns the full stack trace captured at construction time.
func (e *ProcessingChannelError) ErrorStack() string {
	return e.inner.ErrorStack()
}

// Processing-level sentinel errors returned on command reply ports
// (spec.md §7 taxonomy). These are distinct from TlcErr: they are the
// command-originated errors, some of which get mapped via GetTlcError into
// a wire-level TlcErr.
var (
	ErrInvalidParameter          = fmt.Errorf("invalid parameter")
	ErrCapacityError             = fmt.Errorf("capacity error")
	ErrMusig2SigningError        = fmt.Errorf("musig2 signing error")
	ErrMusig2VerifyError         = fmt.Errorf("musig2 verify error")
	ErrPeelingOnionPacketError   = fmt.Errorf("peeling onion packet error")
	ErrIncorrectTlcExpiry        = fmt.Errorf("incorrect tlc expiry")
	ErrIncorrectFinalTlcExpiry   = fmt.Errorf("incorrect final tlc expiry")
	ErrFinalIncorrectHTLCAmount  = fmt.Errorf("final incorrect htlc amount")
	ErrFinalIncorrectPaymentHash = fmt.Errorf("final incorrect payment hash")
	ErrFinalIncorrectPreimage    = fmt.Errorf("final incorrect preimage")
	ErrTlcForwardFeeIsTooLow     = fmt.Errorf("tlc forward fee is too low")
	ErrTlcAmountIsTooLow         = fmt.Errorf("tlc amount is too low")
	ErrTlcAmountExceedLimit      = fmt.Errorf("tlc amount exceeds limit")
	ErrTlcNumberExceedLimit      = fmt.Errorf("tlc number exceeds limit")
	ErrTlcValueInflightExceedLimit = fmt.Errorf("tlc value in flight exceeds limit")
	ErrTlcExpirySoon             = fmt.Errorf("tlc expiry too soon")
	ErrTlcExpiryTooFar           = fmt.Errorf("tlc expiry too far")
)

// FinalInvoiceInvalid wraps an invoice status that makes the final hop
// reject a TLC (spec.md §4.2 step 3, §7).
type FinalInvoiceInvalid struct {
	Status string
}

func (e *FinalInvoiceInvalid) Error() string {
	return fmt.Sprintf("final invoice invalid: status=%s", e.Status)
}

// GetTlcError maps a command/processing error to its wire-level TlcErr, or
// nil if the error does not relate to a specific TLC (spec.md §7
// propagation policy + selected code mapping table).
func GetTlcError(channelId [32]byte, err error) *TlcErr {
	code, ok := mapErrToCode(err)
	if !ok {
		return nil
	}
	return &TlcErr{Code: code, Origin: channelId}
}

func mapErrToCode(err error) (TlcErrCode, bool) {
	switch e := err.(type) {
	case *FinalInvoiceInvalid:
		switch e.Status {
		case "Expired":
			return ErrCodeInvoiceExpired, true
		case "Cancelled":
			return ErrCodeInvoiceCancelled, true
		default:
			return ErrCodeIncorrectOrUnknownPaymentDetails, true
		}
	case *TlcErr:
		return e.Code, true
	}

	switch err {
	case ErrPeelingOnionPacketError:
		return ErrCodeInvalidOnionPayload, true
	case ErrTlcForwardFeeIsTooLow:
		return ErrCodeFeeInsufficient, true
	case ErrIncorrectTlcExpiry, ErrIncorrectFinalTlcExpiry:
		return ErrCodeIncorrectTlcExpiry, true
	case ErrTlcExpirySoon:
		return ErrCodeExpiryTooSoon, true
	case ErrTlcExpiryTooFar:
		return ErrCodeExpiryTooFar, true
	case ErrFinalIncorrectHTLCAmount:
		return ErrCodeFinalIncorrectHTLCAmount, true
	case ErrFinalIncorrectPaymentHash:
		return ErrCodeFinalIncorrectPaymentHash, true
	case ErrFinalIncorrectPreimage:
		return ErrCodeFinalIncorrectPreimage, true
	case ErrWaitingTlcAck, ErrTlcNumberExceedLimit, ErrTlcValueInflightExceedLimit:
		return ErrCodeTemporaryChannelFailure, true
	case ErrMusig2SigningError, ErrMusig2VerifyError, ErrCapacityError:
		return ErrCodeTemporaryNodeFailure, true
	case ErrChanClosing:
		return ErrCodePermanentChannelFailure, true
	}

	return 0, false
}
