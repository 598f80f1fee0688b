package main

import (
	"fmt"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/escrow-network/escrow-daemon/config"
)

func main() {
	app := cli.NewApp()

	app.Version = "0.1.0"
	app.Name = "escrow operator CLI"
	app.Usage = "Command line interface for inspecting the escrowd trade store"
	app.Flags = []cli.Flag{
		&cli.StringFlag{
			Name:  "datadir",
			Usage: "escrowd data directory",
			Value: config.GetDatadir(),
		},
	}
	app.Commands = append(
		app.Commands,
		&listtrades,
		&showtrade,
	)

	if err := app.Run(os.Args); err != nil {
		fatal(err)
	}
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "[escrow-cli] %v\n", err)
	os.Exit(1)
}
