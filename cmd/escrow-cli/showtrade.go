package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
)

var showtrade = cli.Command{
	Name:      "trade",
	Usage:     "show one trade in full, looked up by offer id or deposit txid",
	ArgsUsage: "<id>",
	Action:    showTradeAction,
}

func showTradeAction(ctx *cli.Context) error {
	if ctx.NArg() != 1 {
		return errors.New("missing trade id")
	}
	id := ctx.Args().First()

	repository, cleanup, err := openTradeRepository(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	trade, err := repository.GetTrade(context.Background(), id)
	if errors.Is(err, domain.ErrTradeNotFound) {
		trade, err = repository.GetTradeByDepositTxId(context.Background(), id)
	}
	if err != nil {
		return err
	}

	out, err := json.MarshalIndent(trade, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
