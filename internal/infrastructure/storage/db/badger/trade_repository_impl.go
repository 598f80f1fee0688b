package dbbadger

import (
	"context"

	"github.com/dgraph-io/badger/v3"
	"github.com/timshannon/badgerhold/v4"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
)

type tradeRepositoryImpl struct {
	db *DbManager
}

// NewTradeRepositoryImpl returns a badger backed domain.TradeRepository.
func NewTradeRepositoryImpl(db *DbManager) domain.TradeRepository {
	return tradeRepositoryImpl{db: db}
}

func (t tradeRepositoryImpl) AddTrade(ctx context.Context, trade *domain.Trade) error {
	return t.insertTrade(ctx, *trade)
}

func (t tradeRepositoryImpl) GetTrade(
	ctx context.Context, tradeId string,
) (*domain.Trade, error) {
	return t.getTrade(ctx, tradeId)
}

func (t tradeRepositoryImpl) GetAllTrades(ctx context.Context) ([]*domain.Trade, error) {
	return t.findTrades(ctx, &badgerhold.Query{})
}

func (t tradeRepositoryImpl) GetOpenTrades(ctx context.Context) ([]*domain.Trade, error) {
	query := badgerhold.Where("Archived").Eq(false)
	return t.findTrades(ctx, query)
}

func (t tradeRepositoryImpl) GetTradeByDepositTxId(
	ctx context.Context, txId string,
) (*domain.Trade, error) {
	query := badgerhold.Where("DepositTxId").Eq(txId)
	return t.findTrade(ctx, query)
}

func (t tradeRepositoryImpl) GetTradeByDelayedPayoutTxId(
	ctx context.Context, txId string,
) (*domain.Trade, error) {
	query := badgerhold.Where("DelayedPayoutTxId").Eq(txId)
	return t.findTrade(ctx, query)
}

func (t tradeRepositoryImpl) UpdateTrade(
	ctx context.Context,
	tradeId string,
	updateFn func(t *domain.Trade) (*domain.Trade, error),
) error {
	currentTrade, err := t.getTrade(ctx, tradeId)
	if err != nil {
		return err
	}

	updatedTrade, err := updateFn(currentTrade)
	if err != nil {
		return err
	}

	return t.updateTrade(ctx, updatedTrade.Id, *updatedTrade)
}

func (t tradeRepositoryImpl) findTrade(
	ctx context.Context, query *badgerhold.Query,
) (*domain.Trade, error) {
	trades, err := t.findTrades(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(trades) <= 0 {
		return nil, domain.ErrTradeNotFound
	}
	return trades[0], nil
}

func (t tradeRepositoryImpl) findTrades(
	ctx context.Context, query *badgerhold.Query,
) ([]*domain.Trade, error) {
	var found []domain.Trade
	var err error
	if tx, ok := ctx.Value("tx").(*badger.Txn); ok {
		err = t.db.Store.TxFind(tx, &found, query)
	} else {
		err = t.db.Store.Find(&found, query)
	}
	if err != nil {
		return nil, err
	}

	trades := make([]*domain.Trade, 0, len(found))
	for i := range found {
		trades = append(trades, &found[i])
	}
	return trades, nil
}

func (t tradeRepositoryImpl) getTrade(
	ctx context.Context, tradeId string,
) (*domain.Trade, error) {
	var trade domain.Trade
	var err error
	if tx, ok := ctx.Value("tx").(*badger.Txn); ok {
		err = t.db.Store.TxGet(tx, tradeId, &trade)
	} else {
		err = t.db.Store.Get(tradeId, &trade)
	}
	if err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, domain.ErrTradeNotFound
		}
		return nil, err
	}

	return &trade, nil
}

func (t tradeRepositoryImpl) updateTrade(
	ctx context.Context, tradeId string, trade domain.Trade,
) error {
	if tx, ok := ctx.Value("tx").(*badger.Txn); ok {
		return t.db.Store.TxUpdate(tx, tradeId, trade)
	}
	return t.db.Store.Update(tradeId, trade)
}

func (t tradeRepositoryImpl) insertTrade(ctx context.Context, trade domain.Trade) error {
	var err error
	if tx, ok := ctx.Value("tx").(*badger.Txn); ok {
		err = t.db.Store.TxInsert(tx, trade.Id, &trade)
	} else {
		err = t.db.Store.Insert(trade.Id, &trade)
	}
	if err != nil && err != badgerhold.ErrKeyExists {
		return err
	}
	return nil
}
