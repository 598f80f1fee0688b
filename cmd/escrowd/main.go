package main

import (
	"context"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrow-daemon/config"
	"github.com/escrow-network/escrow-daemon/internal/core/application"
	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/infrastructure/oracle/esplora"
	dbbadger "github.com/escrow-network/escrow-daemon/internal/infrastructure/storage/db/badger"
	"github.com/escrow-network/escrow-daemon/internal/protocol"
	"github.com/escrow-network/escrow-daemon/internal/watcher"
)

func main() {
	log.SetLevel(log.Level(config.GetInt(config.LogLevelKey)))

	params, err := config.GetNetwork()
	if err != nil {
		log.WithError(err).Panic("invalid network")
	}

	dbDir := filepath.Join(config.GetDatadir(), config.DbLocation)
	dbManager, err := dbbadger.NewDbManager(dbDir, nil)
	if err != nil {
		log.WithError(err).Panic("error while opening db")
	}
	defer dbManager.Close()
	tradeRepository := dbbadger.NewTradeRepositoryImpl(dbManager)

	oracle, err := esplora.NewChainOracle(config.GetString(config.ExplorerEndpointKey))
	if err != nil {
		log.WithError(err).Panic("error while connecting to explorer")
	}

	watcherSvc := watcher.NewService(watcher.Opts{
		Oracle:                 oracle,
		IntervalInMilliseconds: config.GetInt(config.WatchIntervalKey),
		RequestsPerSecond:      config.GetFloat(config.WatchLimitKey),
		TokenBurst:             config.GetInt(config.WatchTokenBurstKey),
		ErrorHandler: func(err error) {
			log.WithError(err).Warn("watcher error")
		},
	})

	// The wallet and messenger collaborators are provided by the node
	// embedding the trade manager; this standalone daemon runs the chain
	// following and archival duties for the persisted trades.
	newProcessModel := func(trade *domain.Trade) *protocol.ProcessModel {
		return &protocol.ProcessModel{
			Oracle:                  oracle,
			Params:                  params,
			DonationAddress:         config.GetString(config.DonationAddressKey),
			DonationAllowList:       config.GetDonationAddresses(),
			PriceTolerance:          config.GetFloat(config.PriceToleranceKey),
			LockTimeDelayBlockchain: config.GetLockTimeDelay(true),
			LockTimeDelayFiat:       config.GetLockTimeDelay(false),
		}
	}

	tradeManager, err := application.NewTradeManager(application.TradeManagerOpts{
		Repository:      tradeRepository,
		Watcher:         watcherSvc,
		NewProcessModel: newProcessModel,
	})
	if err != nil {
		log.WithError(err).Panic("error while creating trade manager")
	}

	log.Debug("starting daemon")
	if err := tradeManager.Start(context.Background()); err != nil {
		log.WithError(err).Panic("error while starting trade manager")
	}
	defer tradeManager.Stop()

	log.Infof("daemon started on network %s", config.GetString(config.NetworkKey))

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	<-sigChan

	log.Debug("exiting")
}
