// Package breach watches for a counterparty broadcasting a revoked
// commitment transaction and assembles the retribution data needed to
// sweep it (spec.md §4.3 "a revoked commitment broadcast by the
// counterparty allows the revocation data... to spend its single output
// entirely to us", testable property 6). Grounded on breacharbiter.go's
// retributionStore/contractObserver, generalized from the teacher's
// per-HTLC, multi-output justice transaction (every second-level HTLC
// output swept alongside the to-local output) to this protocol's single
// sorted-HTLC commitment-lock-arg output: one past commitment number has
// exactly one revocation signature, not a witness stack per HTLC.
//
// Constructing and broadcasting the justice transaction itself is left to
// the (out-of-scope, spec.md §1) wallet/funding-tx builder and on-chain
// watcher; this package's job ends at producing the signed Retribution
// record they need.
package breach

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/boltdb/bolt"
)

const (
	dbName           = "breach.db"
	dbFilePermission = 0600
)

var byteOrder = binary.BigEndian

// retributionBucket holds one entry per (channel id, commitment number)
// pair, the same "critical that such state is persisted on disk" rationale
// breacharbiter.go gives for its own retributionBucket: if the daemon
// restarts mid-retribution we must not lose the one chance to punish a
// cheating counterparty.
var retributionBucket = []byte("retribution")

// Retribution is everything needed to claim a revoked commitment's single
// output once it confirms on chain (spec.md §4.3 revocation data).
type Retribution struct {
	ChannelId           [32]byte
	CommitmentNumber    uint64
	RevocationSignature [64]byte
	CommitmentLockArgs  []byte
}

// ErrNotFound is returned when no retribution data is stored for a given
// channel/commitment-number pair.
var ErrNotFound = fmt.Errorf("breach: no retribution data stored for that channel/commitment")

// Store is the bolt-backed persistence for retribution records, deliberately
// kept separate from fiberdb the way breacharbiter.go's retributionStore is
// kept separate from channeldb: retribution bookkeeping has its own narrow
// lifecycle (write once on revocation, read once on a detected breach,
// delete once the channel settles) unrelated to channel-snapshot churn.
type Store struct {
	db *bolt.DB
}

// OpenStore opens (creating if necessary) the retribution store at dbPath.
func OpenStore(dbPath string) (*Store, error) {
	if err := os.MkdirAll(dbPath, 0700); err != nil {
		return nil, err
	}

	path := filepath.Join(dbPath, dbName)
	db, err := bolt.Open(path, dbFilePermission, nil)
	if err != nil {
		return nil, err
	}

	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(retributionBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db}, nil
}

// Close closes the underlying database file.
func (s *Store) Close() error {
	return s.db.Close()
}

func retributionKey(channelId [32]byte, commitmentNumber uint64) []byte {
	key := make([]byte, 32+8)
	copy(key, channelId[:])
	byteOrder.PutUint64(key[32:], commitmentNumber)
	return key
}

// Put persists a retribution record, overwriting any prior entry for the
// same channel/commitment-number pair.
func (s *Store) Put(ret Retribution) error {
	var buf []byte
	buf = append(buf, ret.RevocationSignature[:]...)
	buf = append(buf, uint32ToBytes(uint32(len(ret.CommitmentLockArgs)))...)
	buf = append(buf, ret.CommitmentLockArgs...)

	key := retributionKey(ret.ChannelId, ret.CommitmentNumber)
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(retributionBucket).Put(key, buf)
	})
}

// Get looks up the retribution record for a specific commitment number.
func (s *Store) Get(channelId [32]byte, commitmentNumber uint64) (*Retribution, error) {
	key := retributionKey(channelId, commitmentNumber)

	var ret *Retribution
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(retributionBucket).Get(key)
		if raw == nil {
			return ErrNotFound
		}
		r, err := decodeRetribution(channelId, commitmentNumber, raw)
		if err != nil {
			return err
		}
		ret = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ret, nil
}

// DeleteChannel removes every retribution record belonging to a channel,
// called once the channel has settled without incident (spec.md §4.6): no
// punishment is ever needed for a commitment number that can no longer be
// broadcast.
func (s *Store) DeleteChannel(channelId [32]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(retributionBucket)
		c := bucket.Cursor()
		var stale [][]byte
		for k, _ := c.Seek(channelId[:]); k != nil && len(k) >= 32; k, _ = c.Next() {
			if string(k[:32]) != string(channelId[:]) {
				break
			}
			stale = append(stale, append([]byte(nil), k...))
		}
		for _, k := range stale {
			if err := bucket.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func decodeRetribution(channelId [32]byte, commitmentNumber uint64, raw []byte) (*Retribution, error) {
	if len(raw) < 64+4 {
		return nil, fmt.Errorf("breach: malformed retribution record")
	}
	ret := &Retribution{ChannelId: channelId, CommitmentNumber: commitmentNumber}
	copy(ret.RevocationSignature[:], raw[:64])

	argsLen := bytesToUint32(raw[64:68])
	if len(raw) < 68+int(argsLen) {
		return nil, fmt.Errorf("breach: malformed retribution record")
	}
	ret.CommitmentLockArgs = append([]byte(nil), raw[68:68+argsLen]...)

	return ret, nil
}

func uint32ToBytes(v uint32) []byte {
	b := make([]byte, 4)
	byteOrder.PutUint32(b, v)
	return b
}

func bytesToUint32(b []byte) uint32 {
	return byteOrder.Uint32(b)
}
