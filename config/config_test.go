package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nervosnetwork/fiber-channeld/channel"
)

func TestDefaultConfigUsesChannelPackageDefaults(t *testing.T) {
	cfg := DefaultConfig()

	require.Equal(t, uint64(channel.DefaultMaxTlcNumberInFlight), cfg.Channel.MaxTlcNumberInFlight)
	require.Equal(t, uint64(channel.MinTlcExpiryDeltaMs), cfg.Channel.TlcExpiryDelta)
	require.False(t, cfg.Channel.Public)
}

func TestLogFileJoinsLogDirAndFilename(t *testing.T) {
	cfg := DefaultConfig()
	cfg.LogDir = "/tmp/fiberd-logs"

	require.Equal(t, "/tmp/fiberd-logs/fiberd.log", cfg.LogFile())
}
