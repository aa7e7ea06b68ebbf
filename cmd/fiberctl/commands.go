package main

import (
	"fmt"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli"

	"github.com/nervosnetwork/fiber-channeld/fiberdb"
	"github.com/nervosnetwork/fiber-channeld/invoice"
)

func openDB(ctx *cli.Context) (*fiberdb.DB, func(), error) {
	db, err := fiberdb.Open(ctx.GlobalString("datadir"))
	if err != nil {
		return nil, nil, err
	}
	return db, func() { db.Close() }, nil
}

var ListChannelsCommand = cli.Command{
	Name:   "listchannels",
	Usage:  "list every channel persisted in the data directory",
	Action: listChannels,
}

func listChannels(ctx *cli.Context) error {
	db, cleanUp, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	states, err := db.FetchAllChannels()
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Channel ID", "State", "Local Balance", "Remote Balance", "Public"})
	for _, s := range states {
		t.AppendRow(table.Row{
			fmt.Sprintf("%x", s.ChannelId),
			s.State().State,
			s.GetLocalBalance(),
			s.GetRemoteBalance(),
			s.IsPublicChannel(),
		})
	}
	t.Render()
	return nil
}

var ListInvoicesCommand = cli.Command{
	Name:   "listinvoices",
	Usage:  "list every invoice persisted in the data directory",
	Action: listInvoices,
}

func listInvoices(ctx *cli.Context) error {
	db, cleanUp, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	invoices, err := db.FetchAllInvoices()
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Payment Hash", "Amount (msat)", "Status", "Description"})
	for _, inv := range invoices {
		t.AppendRow(table.Row{
			fmt.Sprintf("%x", inv.PaymentHash),
			inv.AmountMsat,
			inv.Status,
			inv.Description,
		})
	}
	t.Render()
	return nil
}

var AddInvoiceCommand = cli.Command{
	Name:      "addinvoice",
	Usage:     "create an invoice directly in the data directory",
	ArgsUsage: "amount-msat description",
	Flags: []cli.Flag{
		cli.DurationFlag{
			Name:  "expiry",
			Value: time.Hour,
			Usage: "how long the invoice stays payable",
		},
	},
	Action: addInvoice,
}

func addInvoice(ctx *cli.Context) error {
	if ctx.NArg() < 1 {
		return fmt.Errorf("addinvoice requires an amount-msat argument")
	}

	var amountMsat uint64
	if _, err := fmt.Sscanf(ctx.Args().Get(0), "%d", &amountMsat); err != nil {
		return fmt.Errorf("invalid amount-msat: %w", err)
	}
	description := ctx.Args().Get(1)

	db, cleanUp, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer cleanUp()

	registry := invoice.NewRegistry(db)
	inv, paymentHash, err := registry.CreateInvoice(amountMsat, description, ctx.Duration("expiry"))
	if err != nil {
		return err
	}

	fmt.Printf("payment hash: %x\n", paymentHash)
	fmt.Printf("expires at:   %d\n", inv.ExpiresAt)
	return nil
}
