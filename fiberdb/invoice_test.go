package fiberdb

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAddFetchInvoiceRoundTrip(t *testing.T) {
	db := openTestDB(t)

	inv := &Invoice{
		PaymentHash: [32]byte{1, 2, 3},
		AmountMsat:  50_000,
		Description: "coffee",
		CreatedAt:   1_000,
		ExpiresAt:   4_600_000,
		Status:      InvoiceStatusOpen,
	}
	require.NoError(t, db.AddInvoice(inv))

	got, err := db.FetchInvoice(inv.PaymentHash)
	require.NoError(t, err)
	require.Equal(t, inv.PaymentHash, got.PaymentHash)
	require.Equal(t, inv.AmountMsat, got.AmountMsat)
	require.Equal(t, inv.Description, got.Description)
	require.Equal(t, inv.CreatedAt, got.CreatedAt)
	require.Equal(t, inv.ExpiresAt, got.ExpiresAt)
	require.Equal(t, inv.Status, got.Status)
	require.Nil(t, got.PaymentPreimage)
}

func TestAddInvoiceRejectsDuplicatePaymentHash(t *testing.T) {
	db := openTestDB(t)

	inv := &Invoice{PaymentHash: [32]byte{9}, AmountMsat: 1}
	require.NoError(t, db.AddInvoice(inv))
	require.ErrorIs(t, db.AddInvoice(inv), ErrDuplicateInvoice)
}

func TestUpdateInvoiceStatusRecordsPreimage(t *testing.T) {
	db := openTestDB(t)

	inv := &Invoice{PaymentHash: [32]byte{4}, AmountMsat: 2_000, Status: InvoiceStatusOpen}
	require.NoError(t, db.AddInvoice(inv))

	preimage := [32]byte{0x77}
	require.NoError(t, db.UpdateInvoiceStatus(inv.PaymentHash, InvoiceStatusPaid, &preimage))

	got, err := db.FetchInvoice(inv.PaymentHash)
	require.NoError(t, err)
	require.Equal(t, InvoiceStatusPaid, got.Status)
	require.Equal(t, preimage, *got.PaymentPreimage)
}

func TestUpdateInvoiceStatusUnknownHashReturnsNotFound(t *testing.T) {
	db := openTestDB(t)
	err := db.UpdateInvoiceStatus([32]byte{0xEE}, InvoiceStatusCancelled, nil)
	require.ErrorIs(t, err, ErrInvoiceNotFound)
}

func TestFetchAllInvoicesReturnsEveryStoredInvoice(t *testing.T) {
	db := openTestDB(t)

	a := &Invoice{PaymentHash: [32]byte{1}, AmountMsat: 1}
	b := &Invoice{PaymentHash: [32]byte{2}, AmountMsat: 2}
	require.NoError(t, db.AddInvoice(a))
	require.NoError(t, db.AddInvoice(b))

	all, err := db.FetchAllInvoices()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestInvoiceStatusString(t *testing.T) {
	require.Equal(t, "Open", InvoiceStatusOpen.String())
	require.Equal(t, "Paid", InvoiceStatusPaid.String())
	require.Equal(t, "Unknown", InvoiceStatus(99).String())
}
