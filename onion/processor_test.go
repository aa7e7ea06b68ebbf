package onion

import (
	"testing"

	"github.com/lightningnetwork/lightning-onion"
	"github.com/stretchr/testify/require"
)

func TestChannelIdRoundTripsThroughHopPayload(t *testing.T) {
	var id [32]byte
	for i := range id {
		id[i] = byte(i + 1)
	}

	nextAddress, extra := encodeChannelId(id)

	hop := sphinx.HopData{
		NextAddress: nextAddress,
		ExtraBytes:  extra,
	}

	require.Equal(t, id, decodeChannelId(hop))
}

func TestChannelIdRoundTripsWhenZero(t *testing.T) {
	var id [32]byte

	nextAddress, extra := encodeChannelId(id)
	hop := sphinx.HopData{NextAddress: nextAddress, ExtraBytes: extra}

	require.Equal(t, id, decodeChannelId(hop))
}
