package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/urfave/cli/v2"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
)

var listtrades = cli.Command{
	Name:  "trades",
	Usage: "list the trades in the store",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "open",
			Usage: "list only trades not yet archived",
		},
	},
	Action: listTradesAction,
}

// tradeSummary is the listing view of a trade.
type tradeSummary struct {
	Id           string `json:"id"`
	Role         string `json:"role"`
	State        string `json:"state"`
	Amount       int64  `json:"amount"`
	Price        string `json:"price"`
	DepositTxId  string `json:"deposit_txid,omitempty"`
	PayoutTxId   string `json:"payout_txid,omitempty"`
	Failed       bool   `json:"failed,omitempty"`
	ErrorMessage string `json:"error_message,omitempty"`
	Disputed     bool   `json:"disputed,omitempty"`
	Archived     bool   `json:"archived,omitempty"`
}

func listTradesAction(ctx *cli.Context) error {
	repository, cleanup, err := openTradeRepository(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	var trades []*domain.Trade
	if ctx.Bool("open") {
		trades, err = repository.GetOpenTrades(context.Background())
	} else {
		trades, err = repository.GetAllTrades(context.Background())
	}
	if err != nil {
		return err
	}

	summaries := make([]tradeSummary, 0, len(trades))
	for _, trade := range trades {
		summaries = append(summaries, tradeSummary{
			Id:           trade.Id,
			Role:         trade.Role.String(),
			State:        trade.State.String(),
			Amount:       trade.Amount,
			Price:        trade.Price,
			DepositTxId:  trade.DepositTxId,
			PayoutTxId:   trade.PayoutTxId,
			Failed:       trade.Failed,
			ErrorMessage: trade.ErrorMessage,
			Disputed:     !trade.DisputeState.IsNotDisputed(),
			Archived:     trade.Archived,
		})
	}

	out, err := json.MarshalIndent(summaries, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
