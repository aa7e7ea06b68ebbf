package channel

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"

	"golang.org/x/crypto/blake2b"
)

// fundingWitnessPrefix is the fixed 16-byte empty witness-args prefix kept
// for on-chain-format compatibility (spec.md §6): an empty WitnessArgs
// whose four u32 length-prefix fields are all 0x10 (16), i.e. "empty, empty,
// empty, empty" framed the way the cell's witness-args bytes layout
// expects. Grounded on lnwallet/script_utils.go's hand-assembled witness
// byte idiom (genHtlcScript, commitScriptToSelf), generalized to the
// spec's fixed-prefix cell witness format rather than a P2WSH stack.
var fundingWitnessPrefix = [16]byte{
	0x10, 0x00, 0x00, 0x00,
	0x10, 0x00, 0x00, 0x00,
	0x10, 0x00, 0x00, 0x00,
	0x10, 0x00, 0x00, 0x00,
}

// commitmentUnlockType is the single byte marking a commitment-cell
// witness as a musig2-unlocked spend (spec.md §6).
const commitmentUnlockType byte = 0xFE

// FundingWitness assembles the bit-exact 112-byte funding-cell witness:
// 16-byte prefix ‖ 32-byte x-only aggregated pubkey ‖ 64-byte aggregated
// signature (spec.md §6).
func FundingWitness(xOnlyAggPubkey [32]byte, aggregatedSig [64]byte) []byte {
	buf := make([]byte, 0, 112)
	buf = append(buf, fundingWitnessPrefix[:]...)
	buf = append(buf, xOnlyAggPubkey[:]...)
	buf = append(buf, aggregatedSig[:]...)
	return buf
}

// CommitmentWitness assembles the bit-exact 113-byte commitment-cell
// witness: 16-byte prefix ‖ unlock type 0xFE ‖ 32-byte x-only pubkey ‖
// 64-byte signature (spec.md §6).
func CommitmentWitness(xOnlyPubkey [32]byte, sig [64]byte) []byte {
	buf := make([]byte, 0, 113)
	buf = append(buf, fundingWitnessPrefix[:]...)
	buf = append(buf, commitmentUnlockType)
	buf = append(buf, xOnlyPubkey[:]...)
	buf = append(buf, sig[:]...)
	return buf
}

// EpochSince packs an EpochNumberWithFraction-style relative since value
// (number, index, length packed the way CKB since-field epochs are
// encoded) into its little-endian 8-byte wire form. The caller supplies
// the already-packed 64-bit value; this helper exists so every call site
// that writes it into commitment-lock args agrees on byte order
// (spec.md §6: "as 8-byte LE").
func EpochSince(packed uint64) [8]byte {
	var out [8]byte
	binary.LittleEndian.PutUint64(out[:], packed)
	return out
}

// sortedHtlcEntry is one row of the sorted-HTLC encoding (spec.md §6).
type sortedHtlcEntry struct {
	HtlcType    uint8
	Amount      [16]byte // u128 LE
	PaymentHash [20]byte // payment_hash[0..20]
	LocalPubkey [33]byte
	RemotePubkey [33]byte
	SinceValue  [8]byte // since(Timestamp, expiry, absolute).value(), LE
}

func (e sortedHtlcEntry) encode() []byte {
	buf := make([]byte, 0, 1+16+20+33+33+8)
	buf = append(buf, e.HtlcType)
	buf = append(buf, e.Amount[:]...)
	buf = append(buf, e.PaymentHash[:]...)
	buf = append(buf, e.LocalPubkey[:]...)
	buf = append(buf, e.RemotePubkey[:]...)
	buf = append(buf, e.SinceValue[:]...)
	return buf
}

// absoluteTimestampSince packs an absolute millisecond expiry into the
// since-value form used by sortedHtlcEntry.SinceValue. The exact bit
// layout of CKB's Timestamp-flavoured since value is opaque per spec.md §1
// ("treated as opaque lock/type-script bytes"); this repo only needs the
// value to round-trip identically on both peers, which a direct
// little-endian encoding of the millisecond expiry satisfies.
func absoluteTimestampSince(expiryMs uint64) [8]byte {
	var out [8]byte
	binary.LittleEndian.PutUint64(out[:], expiryMs)
	return out
}

func amountToLE128(amount uint64) [16]byte {
	var out [16]byte
	binary.LittleEndian.PutUint64(out[:8], amount)
	return out
}

// EncodeSortedHtlcs builds the sorted-HTLC byte blob embedded in
// commitment-lock script args (spec.md §6): a single length byte, then per
// entry htlc_type ‖ amount(u128 LE) ‖ payment_hash[0..20] ‖ local pubkey(33B)
// ‖ remote pubkey(33B) ‖ since value (8 LE bytes). Ordered: receivers first
// then offerers (from the viewer's perspective), each sub-list sorted
// ascending by tlc_id (testable properties 7, 8).
//
// localPub/remotePub are the *viewer's* own and counterparty funding
// pubkeys respectively — every call site must pass them from the
// perspective of whoever's commitment transaction this script belongs to.
func EncodeSortedHtlcs(tlcs []*AddTlcInfo, viewerIsOffererOf func(*AddTlcInfo) bool, localPub, remotePub [33]byte) ([]byte, error) {
	if len(tlcs) > 255 {
		return nil, fmt.Errorf("too many htlcs to encode: %d", len(tlcs))
	}

	var receivers, offerers []*AddTlcInfo
	for _, t := range tlcs {
		if viewerIsOffererOf(t) {
			offerers = append(offerers, t)
		} else {
			receivers = append(receivers, t)
		}
	}
	sortByTlcID(receivers)
	sortByTlcID(offerers)

	var buf bytes.Buffer
	buf.WriteByte(uint8(len(tlcs)))
	for _, list := range [][]*AddTlcInfo{receivers, offerers} {
		for _, t := range list {
			entry := sortedHtlcEntry{
				HtlcType:     t.GetHtlcType(),
				Amount:       amountToLE128(t.Amount),
				LocalPubkey:  localPub,
				RemotePubkey: remotePub,
				SinceValue:   absoluteTimestampSince(t.Expiry),
			}
			copy(entry.PaymentHash[:], t.PaymentHash[:20])
			buf.Write(entry.encode())
		}
	}
	return buf.Bytes(), nil
}

func sortByTlcID(tlcs []*AddTlcInfo) {
	sort.Slice(tlcs, func(i, j int) bool {
		return tlcs[i].TlcId.Index < tlcs[j].TlcId.Index
	})
}

// HtlcsTag returns the 20-byte blake2b-256 tag of the sorted-HTLC
// encoding, used inside commitment-lock args (spec.md §6, testable
// property 8: encoding + rehashing yields the same tag on both peers).
func HtlcsTag(encoded []byte) [20]byte {
	sum := blake2b.Sum256(encoded)
	var tag [20]byte
	copy(tag[:], sum[:20])
	return tag
}

// CommitmentLockArgs assembles the commitment-lock script args (spec.md
// §6): blake2b_256(x_only_agg_pubkey)[0..20] ‖ since(epoch, relative)
// 8-byte LE ‖ commitment_number (8 bytes BE) ‖ blake2b_256(sorted_htlcs)
// [0..20], the last component omitted entirely if there are no HTLCs.
func CommitmentLockArgs(xOnlyAggPubkey [32]byte, sinceEpochLE [8]byte, commitmentNumber uint64, htlcsEncoded []byte) []byte {
	pubkeyHash := blake2b.Sum256(xOnlyAggPubkey[:])

	var buf bytes.Buffer
	buf.Write(pubkeyHash[:20])
	buf.Write(sinceEpochLE[:])

	var numBuf [8]byte
	binary.BigEndian.PutUint64(numBuf[:], commitmentNumber)
	buf.Write(numBuf[:])

	if len(htlcsEncoded) > 0 {
		tag := HtlcsTag(htlcsEncoded)
		buf.Write(tag[:])
	}
	return buf.Bytes()
}

// SettlementDigest hashes the five parts the settlement-tx partial
// signature covers: blake2b_256(to_local_output ‖ to_local_data ‖
// to_remote_output ‖ to_remote_data ‖ commitment_lock_args) (spec.md
// §4.3 step 2).
func SettlementDigest(toLocalOutput, toLocalData, toRemoteOutput, toRemoteData, commitmentLockArgs []byte) [32]byte {
	var buf bytes.Buffer
	buf.Write(toLocalOutput)
	buf.Write(toLocalData)
	buf.Write(toRemoteOutput)
	buf.Write(toRemoteData)
	buf.Write(commitmentLockArgs)
	return blake2b.Sum256(buf.Bytes())
}
