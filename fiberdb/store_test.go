package fiberdb

import "testing"

func openTestDB(t *testing.T) *DB {
	t.Helper()

	db, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestOpenCreatesBuckets(t *testing.T) {
	db := openTestDB(t)

	meta, err := db.FetchMeta(nil)
	if err != nil {
		t.Fatalf("FetchMeta: %v", err)
	}
	if meta.DbVersionNumber != getLatestDBVersion(dbVersions) {
		t.Fatalf("got version %d, want %d", meta.DbVersionNumber, getLatestDBVersion(dbVersions))
	}
}

func TestWipeClearsStoredChannelsAndInvoices(t *testing.T) {
	db := openTestDB(t)

	s := newTestChannelState(t)
	if err := db.PutChannel(s); err != nil {
		t.Fatalf("PutChannel: %v", err)
	}
	inv := &Invoice{PaymentHash: [32]byte{1}, AmountMsat: 1000}
	if err := db.AddInvoice(inv); err != nil {
		t.Fatalf("AddInvoice: %v", err)
	}

	if err := db.Wipe(); err != nil {
		t.Fatalf("Wipe: %v", err)
	}

	if _, err := db.FetchChannel(s.ChannelId); err != ErrChannelNotFound {
		t.Fatalf("expected ErrChannelNotFound after wipe, got %v", err)
	}
	if _, err := db.FetchInvoice(inv.PaymentHash); err != ErrInvoiceNotFound {
		t.Fatalf("expected ErrInvoiceNotFound after wipe, got %v", err)
	}
}

func TestReopenPreservesStoredChannel(t *testing.T) {
	dir := t.TempDir()

	db, err := Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	s := newTestChannelState(t)
	if err := db.PutChannel(s); err != nil {
		t.Fatalf("PutChannel: %v", err)
	}
	db.Close()

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("re-Open: %v", err)
	}
	t.Cleanup(func() { reopened.Close() })

	got, err := reopened.FetchChannel(s.ChannelId)
	if err != nil {
		t.Fatalf("FetchChannel after reopen: %v", err)
	}
	if got.ChannelId != s.ChannelId {
		t.Fatalf("channel id mismatch after reopen")
	}
}
