// fiberctl is a local inspection tool for fiberd's on-disk state: list
// and create invoices, and list channels, rendered as tables. Grounded on
// cmd/lncli/main.go's cli.App/cli.Command shape, but unlike lncli it
// never dials an RPC server -- spec.md §1 places the RPC facade entirely
// out of scope, so fiberctl opens fiberdb directly the way an offline
// admin tool would, the same data every channel-list/invoice-list RPC
// handler would otherwise project.
package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/urfave/cli"
)

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[fiberctl] %v\n", err)
	os.Exit(1)
}

func main() {
	app := cli.NewApp()
	app.Name = "fiberctl"
	app.Version = "0.1.0"
	app.Usage = "inspect a fiberd data directory"
	app.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "datadir",
			Value: filepath.Join(os.Getenv("HOME"), ".fiberd", "data"),
			Usage: "path to fiberd's data directory",
		},
	}
	app.Commands = []cli.Command{
		ListChannelsCommand,
		ListInvoicesCommand,
		AddInvoiceCommand,
	}

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}
