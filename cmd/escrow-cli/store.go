package main

import (
	"path/filepath"

	"github.com/urfave/cli/v2"

	"github.com/escrow-network/escrow-daemon/config"
	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	dbbadger "github.com/escrow-network/escrow-daemon/internal/infrastructure/storage/db/badger"
)

// openTradeRepository opens the badger store under the datadir. The store
// is locked by a running daemon; stop it before inspecting.
func openTradeRepository(ctx *cli.Context) (domain.TradeRepository, func(), error) {
	dbDir := filepath.Join(ctx.String("datadir"), config.DbLocation)
	dbManager, err := dbbadger.NewDbManager(dbDir, nil)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		// nolint
		dbManager.Close()
	}
	return dbbadger.NewTradeRepositoryImpl(dbManager), cleanup, nil
}
