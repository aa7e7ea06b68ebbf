package channel

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"

	"github.com/nervosnetwork/fiber-channeld/musig2x"
	"github.com/nervosnetwork/fiber-channeld/signer"
)

// keyFromSeed derives a deterministic private key for a test fixture. Real
// randomness would make failures unreproducible; tests only need distinct,
// stable keys per side.
func keyFromSeed(seed string) *btcec.PrivateKey {
	h := sha256.Sum256([]byte(seed))
	priv, _ := btcec.PrivKeyFromBytes(h[:])
	return priv
}

func seed32(s string) [32]byte {
	return sha256.Sum256([]byte(s))
}

// collectingSink records every event emitted by a ChannelActorState, for
// assertions.
type collectingSink struct {
	events []Event
}

func (c *collectingSink) Emit(e Event) { c.events = append(c.events, e) }

// newTestChannelPair builds two ChannelActorStates already in
// StateChannelReady, skipping past the funding handshake (covered by its
// own tests in funding_test.go) the way lnwallet's script_utils_test.go
// fixtures build a commitment scenario directly from raw keys rather than
// driving a full wallet reservation. Both sides start with equal balances
// and a bootstrapped round-0 nonce exchange, standing in for the nonce
// advertisement OpenChannel/AcceptChannel would otherwise have produced.
func newTestChannelPair(t *testing.T, localAmt, remoteAmt uint64) (local, remote *ChannelActorState, localSink, remoteSink *collectingSink) {
	t.Helper()

	localFunding := keyFromSeed("local-funding")
	remoteFunding := keyFromSeed("remote-funding")
	localTlcBase := keyFromSeed("local-tlcbase")
	remoteTlcBase := keyFromSeed("remote-tlcbase")

	localSigner := signer.New(localFunding, localTlcBase, seed32("local-commit-seed"))
	remoteSigner := signer.New(remoteFunding, remoteTlcBase, seed32("remote-commit-seed"))

	channelId := ChannelId(localTlcBase.PubKey(), remoteTlcBase.PubKey())

	localSink = &collectingSink{}
	remoteSink = &collectingSink{}

	local = &ChannelActorState{
		ChannelId:              channelId,
		IsOpener:               true,
		LocalPubkey:            localFunding.PubKey(),
		RemotePubkey:           remoteFunding.PubKey(),
		LocalTlcBasePubkey:     localTlcBase.PubKey(),
		RemoteTlcBasePubkey:    remoteTlcBase.PubKey(),
		Signer:                 localSigner,
		ToLocalAmount:          localAmt,
		ToRemoteAmount:         remoteAmt,
		LocalReservedCkbAmount: 100_000,
		RemoteReservedCkbAmount: 100_000,
		state:                  ChannelState{State: StateChannelReady},
		Tlc:                    NewTlcState(),
		Constraints:            DefaultChannelConstraints(),
		RemoteCommitmentPoints: NewCommitmentPointWindow(DefaultMaxTlcNumberInFlight),
		sink:                   localSink,
	}

	remote = &ChannelActorState{
		ChannelId:              channelId,
		IsOpener:               false,
		LocalPubkey:            remoteFunding.PubKey(),
		RemotePubkey:           localFunding.PubKey(),
		LocalTlcBasePubkey:     remoteTlcBase.PubKey(),
		RemoteTlcBasePubkey:    localTlcBase.PubKey(),
		Signer:                 remoteSigner,
		ToLocalAmount:          remoteAmt,
		ToRemoteAmount:         localAmt,
		LocalReservedCkbAmount: 100_000,
		RemoteReservedCkbAmount: 100_000,
		state:                  ChannelState{State: StateChannelReady},
		Tlc:                    NewTlcState(),
		Constraints:            DefaultChannelConstraints(),
		RemoteCommitmentPoints: NewCommitmentPointWindow(DefaultMaxTlcNumberInFlight),
		sink:                   remoteSink,
	}

	bootstrapNonces(t, local, remote)

	return local, remote, localSink, remoteSink
}

// bootstrapNonces seeds each side's NonceRing.Current with the other side's
// round-0 public nonce, standing in for the OpenChannel/AcceptChannel nonce
// advertisement this fixture skips past.
func bootstrapNonces(t *testing.T, local, remote *ChannelActorState) {
	t.Helper()

	remoteSession, err := musig2x.NewNonceSession(remote.Signer.NonceSecretEntropy(0), remote.LocalPubkey)
	if err != nil {
		t.Fatalf("remote nonce session: %v", err)
	}
	local.NonceRing.Remember(remoteSession.Nonces.PubNonce)

	localSession, err := musig2x.NewNonceSession(local.Signer.NonceSecretEntropy(0), local.LocalPubkey)
	if err != nil {
		t.Fatalf("local nonce session: %v", err)
	}
	remote.NonceRing.Remember(localSession.Nonces.PubNonce)
}

func mustHash(preimage [32]byte) [32]byte {
	return sha256.Sum256(preimage[:])
}
