// Package invoice is the invoice store's status-machine layer atop
// fiberdb's raw Invoice persistence. Grounded on
// invoices/invoiceregistry.go's InvoiceRegistry, generalized from its
// channel-notification/hodl-invoice machinery down to the
// Open/Received/Paid/Cancelled/Expired transitions channel/'s TLC-flush
// collaborators need (spec.md §6 invoice-store interface).
package invoice

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/nervosnetwork/fiber-channeld/channel"
	"github.com/nervosnetwork/fiber-channeld/fiberdb"
)

var (
	// ErrInvalidAmount is returned by CreateInvoice for a zero amount.
	ErrInvalidAmount = errors.New("invoice: amount must be positive")

	// ErrInvalidTransition is returned when a status update does not
	// follow a legal edge of the Open/Received/Paid/Cancelled/Expired
	// machine.
	ErrInvalidTransition = errors.New("invoice: illegal status transition")

	// ErrUnknownStatus is returned for a status string outside the
	// machine's vocabulary.
	ErrUnknownStatus = errors.New("invoice: unknown status")
)

// legalTransitions enumerates the edges UpdateInvoiceStatus accepts. Open
// can move to Received (a peeled TLC arriving), Cancelled or Expired;
// Received can move to Paid or Cancelled; Paid, Cancelled and Expired are
// terminal. Open->Received->Paid matches the flush pipeline's
// Received-then-Paid double update in channel/tlc_ops.go's flushOne.
var legalTransitions = map[fiberdb.InvoiceStatus]map[fiberdb.InvoiceStatus]bool{
	fiberdb.InvoiceStatusOpen: {
		fiberdb.InvoiceStatusReceived:  true,
		fiberdb.InvoiceStatusCancelled: true,
		fiberdb.InvoiceStatusExpired:   true,
	},
	fiberdb.InvoiceStatusReceived: {
		fiberdb.InvoiceStatusPaid:      true,
		fiberdb.InvoiceStatusCancelled: true,
	},
}

// Registry wraps a fiberdb store with the invoice status machine.
type Registry struct {
	db *fiberdb.DB
}

// NewRegistry returns a Registry backed by db.
func NewRegistry(db *fiberdb.DB) *Registry {
	return &Registry{db: db}
}

// CreateInvoice mints a fresh payment preimage, derives its payment hash
// via sha256 (no ckb-hash variant is offered: the preimage is generated
// here, so a caller cannot hash it another way first), and stores a new Open invoice carrying that
// preimage. Unlike a hodl invoice, the preimage is known and stored up
// front: flushOne's final-hop check needs it present the moment the
// matching TLC is peeled, not supplied later out of band.
func (r *Registry) CreateInvoice(amountMsat uint64, description string, expiry time.Duration) (*fiberdb.Invoice, [32]byte, error) {
	if amountMsat == 0 {
		return nil, [32]byte{}, ErrInvalidAmount
	}

	var preimage [32]byte
	if _, err := rand.Read(preimage[:]); err != nil {
		return nil, [32]byte{}, fmt.Errorf("invoice: generating preimage: %w", err)
	}
	paymentHash := sha256.Sum256(preimage[:])

	created := time.Now()
	inv := &fiberdb.Invoice{
		PaymentHash:     paymentHash,
		PaymentPreimage: &preimage,
		AmountMsat:      amountMsat,
		Description:     description,
		CreatedAt:       uint64(created.UnixMilli()),
		ExpiresAt:       uint64(created.Add(expiry).UnixMilli()),
		Status:          fiberdb.InvoiceStatusOpen,
	}
	if err := r.db.AddInvoice(inv); err != nil {
		return nil, [32]byte{}, err
	}
	log.Debugf("created invoice payment_hash=%x amount_msat=%d", paymentHash, amountMsat)
	return inv, preimage, nil
}

// LookupInvoice satisfies channel.FlushCollaborators.LookupInvoice: it
// returns the subset of stored invoice state the flush pipeline needs to
// decide whether a final-hop TLC may settle. An Open invoice whose
// ExpiresAt has passed is lazily flipped to Expired here rather than
// waiting for a sweep, since a stale invoice must never look payable.
func (r *Registry) LookupInvoice(paymentHash [32]byte) (channel.InvoiceView, error) {
	inv, err := r.db.FetchInvoice(paymentHash)
	if err != nil {
		return channel.InvoiceView{}, err
	}

	status := inv.Status
	if status == fiberdb.InvoiceStatusOpen && r.isExpired(inv) {
		if err := r.db.UpdateInvoiceStatus(paymentHash, fiberdb.InvoiceStatusExpired, nil); err != nil {
			return channel.InvoiceView{}, err
		}
		status = fiberdb.InvoiceStatusExpired
	}

	return channel.InvoiceView{
		Status:   status.String(),
		Preimage: inv.PaymentPreimage,
	}, nil
}

func (r *Registry) isExpired(inv *fiberdb.Invoice) bool {
	return inv.ExpiresAt != 0 && uint64(time.Now().UnixMilli()) >= inv.ExpiresAt
}

// UpdateInvoiceStatus satisfies channel.FlushCollaborators.UpdateInvoiceStatus.
// It parses status against the machine's vocabulary and rejects any edge
// legalTransitions doesn't list, so a bug in the flush pipeline can never
// walk an invoice backwards (e.g. Paid back to Open).
func (r *Registry) UpdateInvoiceStatus(paymentHash [32]byte, status string) error {
	next, err := parseStatus(status)
	if err != nil {
		return err
	}

	inv, err := r.db.FetchInvoice(paymentHash)
	if err != nil {
		return err
	}
	if inv.Status == next {
		return nil
	}
	if !legalTransitions[inv.Status][next] {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, inv.Status, next)
	}

	return r.db.UpdateInvoiceStatus(paymentHash, next, nil)
}

// CancelInvoice marks an Open invoice Cancelled, refusing an invoice that
// has already moved past Open (a cancellation racing a settlement must
// lose, not overwrite the settlement).
func (r *Registry) CancelInvoice(paymentHash [32]byte) error {
	inv, err := r.db.FetchInvoice(paymentHash)
	if err != nil {
		return err
	}
	if inv.Status != fiberdb.InvoiceStatusOpen {
		return fmt.Errorf("%w: %s -> Cancelled", ErrInvalidTransition, inv.Status)
	}
	return r.db.UpdateInvoiceStatus(paymentHash, fiberdb.InvoiceStatusCancelled, nil)
}

// SweepExpiredInvoices flips every Open invoice past its ExpiresAt to
// Expired and returns how many it touched. It runs only when a
// caller invokes it (cmd/fiberd does not schedule it);
// LookupInvoice's lazy check means a sweep is never
// required for correctness, only for invoices nobody ever looks up again.
func (r *Registry) SweepExpiredInvoices() (int, error) {
	all, err := r.db.FetchAllInvoices()
	if err != nil {
		return 0, err
	}

	swept := 0
	for _, inv := range all {
		if inv.Status != fiberdb.InvoiceStatusOpen || !r.isExpired(inv) {
			continue
		}
		if err := r.db.UpdateInvoiceStatus(inv.PaymentHash, fiberdb.InvoiceStatusExpired, nil); err != nil {
			return swept, err
		}
		swept++
	}
	if swept > 0 {
		log.Debugf("swept %d expired invoice(s)", swept)
	}
	return swept, nil
}

func parseStatus(status string) (fiberdb.InvoiceStatus, error) {
	switch status {
	case "Open":
		return fiberdb.InvoiceStatusOpen, nil
	case "Received":
		return fiberdb.InvoiceStatusReceived, nil
	case "Paid":
		return fiberdb.InvoiceStatusPaid, nil
	case "Cancelled":
		return fiberdb.InvoiceStatusCancelled, nil
	case "Expired":
		return fiberdb.InvoiceStatusExpired, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
}
