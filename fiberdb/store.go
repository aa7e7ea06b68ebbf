// Package fiberdb is the bolt-backed persistence layer for channel actor
// snapshots and invoices, the counterpart of the teacher's channeldb
// generalized from lnwallet's OpenChannel/ChannelCloseSummary schema to
// ChannelActorState and from zpay32's invoice decoding to a stored invoice
// status machine (SPEC_FULL.md §0 "fiberdb/").
package fiberdb

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/boltdb/bolt"
)

const (
	dbName           = "fiber.db"
	dbFilePermission = 0600
)

// Big endian is the preferred byte order, matching channeldb's convention
// so bucket keys sort the way cursor scans expect.
var byteOrder = binary.BigEndian

var (
	// channelBucket holds one entry per channel, keyed by its 32-byte
	// channel id, value the serialized ChannelActorState.
	channelBucket = []byte("open-channel")

	// invoiceBucket holds one entry per invoice, keyed by its 32-byte
	// payment hash.
	invoiceBucket = []byte("invoice")

	// metaBucket stores the single Meta record tracking schema version.
	metaBucket = []byte("meta")
)

// migration mutates the bucket layout from one schema version to the next.
type migration func(tx *bolt.Tx) error

type version struct {
	number    uint32
	migration migration
}

// dbVersions lists every schema version in order; syncVersions applies
// whichever migrations sit between the on-disk version and the last entry
// here, the same incremental pattern channeldb/db.go uses.
var dbVersions = []version{
	{number: 0, migration: nil},
}

// Meta holds database-wide metadata, persisted in metaBucket.
type Meta struct {
	DbVersionNumber uint32
}

// ErrMetaNotFound is returned by FetchMeta when no Meta record has been
// written yet.
var ErrMetaNotFound = fmt.Errorf("fiberdb: unable to locate meta information")

// ErrChannelNotFound is returned when a channel id has no stored snapshot.
var ErrChannelNotFound = fmt.Errorf("fiberdb: no channel found with that id")

// ErrInvoiceNotFound is returned when a payment hash has no stored invoice.
var ErrInvoiceNotFound = fmt.Errorf("fiberdb: no invoice found with that payment hash")

// ErrDuplicateInvoice is returned by AddInvoice when the payment hash
// already has a stored entry.
var ErrDuplicateInvoice = fmt.Errorf("fiberdb: invoice with that payment hash already exists")

// DB is the primary datastore for fiberd: channel snapshots and invoices.
type DB struct {
	*bolt.DB
	dbPath string
}

// Open opens an existing fiberdb, creating and migrating it first if it
// does not yet exist.
func Open(dbPath string) (*DB, error) {
	path := filepath.Join(dbPath, dbName)

	if !fileExists(path) {
		if err := createFiberDB(dbPath); err != nil {
			return nil, err
		}
	}

	bdb, err := bolt.Open(path, dbFilePermission, nil)
	if err != nil {
		return nil, err
	}

	db := &DB{DB: bdb, dbPath: dbPath}

	if err := db.syncVersions(dbVersions); err != nil {
		bdb.Close()
		return nil, err
	}

	return db, nil
}

// Wipe deletes the channel and invoice buckets' contents in a single
// atomic transaction, leaving the buckets themselves (and the meta
// bucket's schema version) in place.
func (d *DB) Wipe() error {
	return d.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{channelBucket, invoiceBucket} {
			if err := tx.DeleteBucket(name); err != nil && err != bolt.ErrBucketNotFound {
				return err
			}
			if _, err := tx.CreateBucket(name); err != nil {
				return err
			}
		}
		return nil
	})
}

func createFiberDB(dbPath string) error {
	if !fileExists(dbPath) {
		if err := os.MkdirAll(dbPath, 0700); err != nil {
			return err
		}
	}

	path := filepath.Join(dbPath, dbName)
	bdb, err := bolt.Open(path, dbFilePermission, nil)
	if err != nil {
		return err
	}

	err = bdb.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucket(channelBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(invoiceBucket); err != nil {
			return err
		}
		if _, err := tx.CreateBucket(metaBucket); err != nil {
			return err
		}

		meta := &Meta{DbVersionNumber: getLatestDBVersion(dbVersions)}
		return putMeta(meta, tx)
	})
	if err != nil {
		return fmt.Errorf("fiberdb: unable to create new database: %w", err)
	}

	return bdb.Close()
}

func fileExists(path string) bool {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false
		}
	}
	return true
}

// FetchMeta returns the database's Meta record.
func (d *DB) FetchMeta(tx *bolt.Tx) (*Meta, error) {
	var meta *Meta

	fetch := func(tx *bolt.Tx) error {
		bucket := tx.Bucket(metaBucket)
		if bucket == nil {
			return ErrMetaNotFound
		}
		data := bucket.Get([]byte("meta"))
		if data == nil {
			return ErrMetaNotFound
		}
		var number uint32
		number = byteOrder.Uint32(data)
		meta = &Meta{DbVersionNumber: number}
		return nil
	}

	if tx != nil {
		if err := fetch(tx); err != nil {
			return nil, err
		}
		return meta, nil
	}
	if err := d.View(fetch); err != nil {
		return nil, err
	}
	return meta, nil
}

func putMeta(meta *Meta, tx *bolt.Tx) error {
	bucket, err := tx.CreateBucketIfNotExists(metaBucket)
	if err != nil {
		return err
	}
	var raw [4]byte
	byteOrder.PutUint32(raw[:], meta.DbVersionNumber)
	return bucket.Put([]byte("meta"), raw[:])
}

func (d *DB) syncVersions(versions []version) error {
	meta, err := d.FetchMeta(nil)
	if err != nil {
		if err == ErrMetaNotFound {
			meta = &Meta{}
		} else {
			return err
		}
	}

	latest := getLatestDBVersion(versions)
	if meta.DbVersionNumber == latest {
		return nil
	}

	log.Infof("performing fiberdb schema migration from version %d to %d",
		meta.DbVersionNumber, latest)

	migrations, migrationVersions := getMigrationsToApply(versions, meta.DbVersionNumber)
	return d.Update(func(tx *bolt.Tx) error {
		for i, m := range migrations {
			if m == nil {
				continue
			}
			log.Infof("applying fiberdb migration #%v", migrationVersions[i])
			if err := m(tx); err != nil {
				return err
			}
		}
		meta.DbVersionNumber = latest
		return putMeta(meta, tx)
	})
}

func getLatestDBVersion(versions []version) uint32 {
	return versions[len(versions)-1].number
}

func getMigrationsToApply(versions []version, current uint32) ([]migration, []uint32) {
	migrations := make([]migration, 0, len(versions))
	migrationVersions := make([]uint32, 0, len(versions))
	for _, v := range versions {
		if v.number > current {
			migrations = append(migrations, v.migration)
			migrationVersions = append(migrationVersions, v.number)
		}
	}
	return migrations, migrationVersions
}
