// Package musig2x wraps github.com/btcsuite/btcd/btcec/v2/musig2 with the
// deterministic party ordering and nonce bookkeeping spec.md §4.4 requires
// for two-party commitment/settlement co-signing. No in-pack teacher file
// uses musig2 directly — the teacher predates it, using plain 2-of-2
// OP_CHECKMULTISIG (lnwallet/script_utils.go genMultiSigScript) — so this
// package generalizes that "two keys, one spending script" idiom onto the
// library the teacher's own go.mod already ships (btcec/v2 v2.3.2).
package musig2x

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/musig2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
)

// PartyOrder returns (party0, party1, localIsParty0). Party 0 is always
// the side with the lexicographically smaller compressed pubkey — required
// for both sides to derive an identical key/nonce aggregation
// (spec.md §4.4, design note §9: "do not introduce implementation-defined
// orderings").
func PartyOrder(localPub, remotePub *btcec.PublicKey) (party0, party1 *btcec.PublicKey, localIsParty0 bool) {
	lb := localPub.SerializeCompressed()
	rb := remotePub.SerializeCompressed()
	if bytes.Compare(lb, rb) <= 0 {
		return localPub, remotePub, true
	}
	return remotePub, localPub, false
}

// OrderedKeys returns the two funding pubkeys in deterministic party order,
// ready to pass to musig2.AggregateKeys.
func OrderedKeys(localPub, remotePub *btcec.PublicKey) []*btcec.PublicKey {
	p0, p1, _ := PartyOrder(localPub, remotePub)
	return []*btcec.PublicKey{p0, p1}
}

// AggregateFundingKey computes the musig2 aggregated x-only public key for
// the funding cell's 2-of-2 lock, using party-order-sorted keys so both
// sides compute the same aggregate (spec.md §3 funding cell, §6 witness
// format).
func AggregateFundingKey(localPub, remotePub *btcec.PublicKey) (*musig2.AggregateKey, error) {
	keys := OrderedKeys(localPub, remotePub)
	return musig2.AggregateKeys(keys, false)
}

// NonceSession holds one side's per-round nonce material: a secret nonce
// produced deterministically (see signer.Signer.NonceSecretEntropy) and the matching
// public nonce advertised to the peer.
type NonceSession struct {
	Nonces *musig2.Nonces
}

// NewNonceSession generates a nonce pair seeded by secretEntropy, the
// deterministic per-commitment-number secret derived by
// signer.Signer.NonceSecretEntropy.
// Using WithCustomRand over fresh crypto/rand keeps the nonce derivation a
// pure function of the channel's own key material, matching spec.md
// §4.4's determinism requirement and §5's "implementations MUST NOT reuse
// a secret nonce across two distinct signings" constraint.
func NewNonceSession(secretEntropy [32]byte, signerPub *btcec.PublicKey) (*NonceSession, error) {
	nonces, err := musig2.GenNonces(
		musig2.WithPublicKey(signerPub),
		musig2.WithCustomRand(bytes.NewReader(deterministicStream(secretEntropy))),
	)
	if err != nil {
		return nil, fmt.Errorf("generating musig2 nonce: %w", err)
	}
	return &NonceSession{Nonces: nonces}, nil
}

// deterministicStream expands a 32-byte seed into enough pseudorandom bytes
// to satisfy musig2.GenNonces' entropy reader via repeated hashing. This is
// intentionally simple: the unpredictability of a commitment round's nonce
// comes from the channel's signer-held seed, not from this expansion.
func deterministicStream(seed [32]byte) []byte {
	out := make([]byte, 0, 64)
	block := seed
	for len(out) < 64 {
		block = sha256Sum(block)
		out = append(out, block[:]...)
	}
	return out[:64]
}

// SignPartial produces this side's partial signature over msg for the
// funding-key aggregate, given the combined public nonce (ours + remote's)
// and the full key set in party order (spec.md §4.3 step 2).
func SignPartial(
	secNonce [musig2.SecNonceSize]byte,
	privKey *btcec.PrivateKey,
	combinedNonce [musig2.PubNonceSize]byte,
	keySet []*btcec.PublicKey,
	msg [32]byte,
) (*musig2.PartialSignature, error) {

	return musig2.Sign(secNonce, privKey, combinedNonce, keySet, msg)
}

// VerifyPartial checks a counterparty's partial signature (spec.md §4.3
// step 1, §4.3 "Receiving RevokeAndAck" verification).
func VerifyPartial(
	partialSig *musig2.PartialSignature,
	pubNonce [musig2.PubNonceSize]byte,
	pubKey *btcec.PublicKey,
	combinedNonce [musig2.PubNonceSize]byte,
	keySet []*btcec.PublicKey,
	msg [32]byte,
) error {
	return musig2.Verify(*partialSig, pubNonce, pubKey, combinedNonce, keySet, msg)
}

// AggregateSignatures combines both sides' partial signatures into a full
// schnorr signature spendable against the aggregated x-only key.
func AggregateSignatures(
	combinedNonce [musig2.PubNonceSize]byte,
	partials []*musig2.PartialSignature,
) (*schnorr.Signature, error) {
	return musig2.AggregateSig(combinedNonce, partials)
}

// CombineNonces aggregates the two sides' public nonces into the combined
// nonce used for signing and verification.
func CombineNonces(pubNonces ...[musig2.PubNonceSize]byte) ([musig2.PubNonceSize]byte, error) {
	return musig2.AggregateNonces(pubNonces)
}
