package breach

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func chanId(b byte) [32]byte {
	var id [32]byte
	id[0] = b
	return id
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := OpenStore(dir)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPutAndGetRoundTrips(t *testing.T) {
	store := openTestStore(t)

	ret := Retribution{
		ChannelId:          chanId(1),
		CommitmentNumber:   7,
		CommitmentLockArgs: []byte("lock-args"),
	}
	ret.RevocationSignature[0] = 0xAB

	require.NoError(t, store.Put(ret))

	got, err := store.Get(chanId(1), 7)
	require.NoError(t, err)
	require.Equal(t, ret.ChannelId, got.ChannelId)
	require.Equal(t, ret.CommitmentNumber, got.CommitmentNumber)
	require.Equal(t, ret.RevocationSignature, got.RevocationSignature)
	require.Equal(t, ret.CommitmentLockArgs, got.CommitmentLockArgs)
}

func TestGetMissingReturnsErrNotFound(t *testing.T) {
	store := openTestStore(t)

	_, err := store.Get(chanId(2), 1)
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteChannelRemovesOnlyThatChannelsEntries(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Put(Retribution{ChannelId: chanId(3), CommitmentNumber: 1}))
	require.NoError(t, store.Put(Retribution{ChannelId: chanId(3), CommitmentNumber: 2}))
	require.NoError(t, store.Put(Retribution{ChannelId: chanId(4), CommitmentNumber: 1}))

	require.NoError(t, store.DeleteChannel(chanId(3)))

	_, err := store.Get(chanId(3), 1)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = store.Get(chanId(3), 2)
	require.ErrorIs(t, err, ErrNotFound)

	got, err := store.Get(chanId(4), 1)
	require.NoError(t, err)
	require.Equal(t, chanId(4), got.ChannelId)
}

func TestPutOverwritesSameCommitmentNumber(t *testing.T) {
	store := openTestStore(t)

	require.NoError(t, store.Put(Retribution{
		ChannelId: chanId(5), CommitmentNumber: 1, CommitmentLockArgs: []byte("old"),
	}))
	require.NoError(t, store.Put(Retribution{
		ChannelId: chanId(5), CommitmentNumber: 1, CommitmentLockArgs: []byte("new"),
	}))

	got, err := store.Get(chanId(5), 1)
	require.NoError(t, err)
	require.Equal(t, []byte("new"), got.CommitmentLockArgs)
}
