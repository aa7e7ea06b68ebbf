package fiberdb

import (
	"bytes"
	"fmt"
	"io"

	"github.com/boltdb/bolt"
)

// InvoiceStatus is the terminal disposition an invoice moves through once
// created, matching the Open/Received/Paid/Cancelled/Expired machine
// channel/'s TLC-flush collaborators consult before settling a TLC
// (spec.md §4.2).
type InvoiceStatus uint8

const (
	InvoiceStatusOpen InvoiceStatus = iota
	InvoiceStatusReceived
	InvoiceStatusPaid
	InvoiceStatusCancelled
	InvoiceStatusExpired
)

func (s InvoiceStatus) String() string {
	switch s {
	case InvoiceStatusOpen:
		return "Open"
	case InvoiceStatusReceived:
		return "Received"
	case InvoiceStatusPaid:
		return "Paid"
	case InvoiceStatusCancelled:
		return "Cancelled"
	case InvoiceStatusExpired:
		return "Expired"
	default:
		return "Unknown"
	}
}

// Invoice is a stored payment request. The struct-field style (pointer
// optionals for fields only present once settled) is grounded on
// zpay32.Invoice; unlike zpay32.Invoice it is never bech32-encoded here —
// BOLT11-style wire encoding stays out of scope (DESIGN.md "invoice/").
type Invoice struct {
	PaymentHash     [32]byte
	PaymentPreimage *[32]byte
	AmountMsat      uint64
	Description     string
	CreatedAt       uint64 // absolute ms
	ExpiresAt       uint64 // absolute ms
	Status          InvoiceStatus
}

// AddInvoice stores a freshly created invoice, failing if the payment hash
// is already in use.
func (d *DB) AddInvoice(inv *Invoice) error {
	var buf bytes.Buffer
	if err := serializeInvoice(&buf, inv); err != nil {
		return err
	}

	return d.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(invoiceBucket)
		if bucket == nil {
			return ErrInvoiceNotFound
		}
		if bucket.Get(inv.PaymentHash[:]) != nil {
			return ErrDuplicateInvoice
		}
		return bucket.Put(inv.PaymentHash[:], buf.Bytes())
	})
}

// FetchInvoice looks up an invoice by payment hash.
func (d *DB) FetchInvoice(paymentHash [32]byte) (*Invoice, error) {
	var inv *Invoice

	err := d.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(invoiceBucket)
		if bucket == nil {
			return ErrInvoiceNotFound
		}
		raw := bucket.Get(paymentHash[:])
		if raw == nil {
			return ErrInvoiceNotFound
		}
		i, err := deserializeInvoice(bytes.NewReader(raw))
		if err != nil {
			return err
		}
		inv = i
		return nil
	})
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// UpdateInvoiceStatus transitions a stored invoice to a new status,
// recording the preimage alongside an InvoiceStatusReceived/Paid update
// (nil otherwise). Callers are the ones responsible for only calling this
// along a legal transition of the Open/Received/Paid/Cancelled/Expired
// machine; this method applies whatever it is told.
func (d *DB) UpdateInvoiceStatus(paymentHash [32]byte, status InvoiceStatus, preimage *[32]byte) error {
	return d.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(invoiceBucket)
		if bucket == nil {
			return ErrInvoiceNotFound
		}
		raw := bucket.Get(paymentHash[:])
		if raw == nil {
			return ErrInvoiceNotFound
		}
		inv, err := deserializeInvoice(bytes.NewReader(raw))
		if err != nil {
			return err
		}
		inv.Status = status
		if preimage != nil {
			inv.PaymentPreimage = preimage
		}

		var buf bytes.Buffer
		if err := serializeInvoice(&buf, inv); err != nil {
			return err
		}
		return bucket.Put(paymentHash[:], buf.Bytes())
	})
}

// FetchAllInvoices returns every stored invoice, in no particular order.
func (d *DB) FetchAllInvoices() ([]*Invoice, error) {
	var out []*Invoice

	err := d.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(invoiceBucket)
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			inv, err := deserializeInvoice(bytes.NewReader(v))
			if err != nil {
				return err
			}
			out = append(out, inv)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func serializeInvoice(w io.Writer, inv *Invoice) error {
	if err := writeElements(w,
		inv.PaymentHash, inv.AmountMsat,
		[]byte(inv.Description),
		inv.CreatedAt, inv.ExpiresAt,
		uint8(inv.Status),
	); err != nil {
		return err
	}
	return writeOptional32(w, inv.PaymentPreimage)
}

func deserializeInvoice(r io.Reader) (*Invoice, error) {
	inv := &Invoice{}
	var description []byte
	var status uint8
	if err := readElements(r,
		&inv.PaymentHash, &inv.AmountMsat,
		&description,
		&inv.CreatedAt, &inv.ExpiresAt,
		&status,
	); err != nil {
		return nil, err
	}
	inv.Description = string(description)
	inv.Status = InvoiceStatus(status)

	preimage, err := readOptional32(r)
	if err != nil {
		return nil, err
	}
	inv.PaymentPreimage = preimage

	if inv.Status > InvoiceStatusExpired {
		return nil, fmt.Errorf("fiberdb: unknown invoice status %d", status)
	}
	return inv, nil
}
