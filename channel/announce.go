package channel

import (
	"crypto/sha256"
	"fmt"

	"github.com/nervosnetwork/fiber-channeld/musig2x"
)

// ChannelUpdateFields is the channel-policy payload broadcast alongside an
// AnnouncementSignatures exchange (spec.md §6 MESSAGE_OF_NODE1_FLAG /
// MESSAGE_OF_NODE2_FLAG constants, SPEC_FULL.md §8). Grounded on
// lnwire.NodeAnnouncement's DataToSign idiom: a fixed payload whose bytes
// both sides must sign identically.
type ChannelUpdateFields struct {
	ChannelId          [32]byte
	MessageFlags       uint8 // MessageOfNode1Flag or MessageOfNode2Flag
	Disabled           bool
	TlcExpiryDelta     uint64
	TlcMinValue        uint64
	TlcFeeProportional uint64
}

// dataToSign mirrors NodeAnnouncement.DataToSign: the exact byte layout
// both sides must agree on before signing.
func (u ChannelUpdateFields) dataToSign() []byte {
	buf := make([]byte, 0, 32+1+1+8+8+8)
	buf = append(buf, u.ChannelId[:]...)
	buf = append(buf, u.MessageFlags)
	disabled := byte(0)
	if u.Disabled {
		disabled = ChannelDisabledFlag
	}
	buf = append(buf, disabled)
	buf = appendUint64(buf, u.TlcExpiryDelta)
	buf = appendUint64(buf, u.TlcMinValue)
	buf = appendUint64(buf, u.TlcFeeProportional)
	return buf
}

func appendUint64(buf []byte, v uint64) []byte {
	for i := 0; i < 8; i++ {
		buf = append(buf, byte(v>>(56-8*i)))
	}
	return buf
}

// AnnouncementSignaturesMsg is the wire payload of AnnouncementSignatures
// (spec.md §6).
type AnnouncementSignaturesMsg struct {
	ChannelId        [32]byte
	NodeSignature    [64]byte
	PartialSignature [64]byte
}

// messageFlagFor returns MESSAGE_OF_NODE1_FLAG or MESSAGE_OF_NODE2_FLAG
// for this side, determined the same way musig2 party order is
// (lexicographically smaller funding pubkey is "node 1") so both sides
// agree without a side channel (spec.md §6, design note §9).
func (s *ChannelActorState) messageFlagFor() uint8 {
	if s.localIsParty0() {
		return MessageOfNode1Flag
	}
	return MessageOfNode2Flag
}

// BuildAnnouncementSignatures assembles this side's half of the public
// -channel announcement handshake (SPEC_FULL.md §8): a node-level
// signature over the channel update fields (using the node's long-term
// identity key, out of scope here and supplied by the caller) plus a
// musig2 partial signature over the same digest from the funding key,
// proving control of the funding output. Requires IsPublicChannel().
func (s *ChannelActorState) BuildAnnouncementSignatures(
	fields ChannelUpdateFields,
	signWithNodeKey func(digest [32]byte) ([64]byte, error),
) (*AnnouncementSignaturesMsg, error) {

	if !s.IsPublic {
		return nil, fmt.Errorf("%w: announcement signatures require a public channel", ErrInvalidParameter)
	}

	digest := sha256.Sum256(fields.dataToSign())

	nodeSig, err := signWithNodeKey(digest)
	if err != nil {
		return nil, fmt.Errorf("signing announcement with node key: %w", err)
	}

	keySet := s.partyOrder()
	combinedNonce, err := s.combinedNonceForSigning(false)
	if err != nil {
		return nil, err
	}
	secEntropy := s.Signer.NonceSecretEntropy(s.CommitmentNumbers.Remote)
	session, err := musig2x.NewNonceSession(secEntropy, s.LocalPubkey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMusig2SigningError, err)
	}
	partial, err := musig2x.SignPartial(session.Nonces.SecNonce, s.Signer.FundingKey, combinedNonce, keySet, digest)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMusig2SigningError, err)
	}

	var partialBytes [64]byte
	sBytes := partial.S.Bytes()
	copy(partialBytes[32:], sBytes[:])

	msg := &AnnouncementSignaturesMsg{
		ChannelId:        s.ChannelId,
		NodeSignature:    nodeSig,
		PartialSignature: partialBytes,
	}

	s.emit(AnnouncementSignaturesReady{
		ChannelId:        s.ChannelId,
		NodeSignature:    nodeSig,
		PartialSignature: partialBytes,
	})

	return msg, nil
}
