package domain

import "context"

// TradeRepository is the abstraction for any kind of database intended to
// persist Trades.
type TradeRepository interface {
	// AddTrade persists a freshly created trade.
	AddTrade(ctx context.Context, trade *Trade) error
	// GetTrade returns the trade with the given id (the offer id).
	GetTrade(ctx context.Context, tradeId string) (*Trade, error)
	// GetAllTrades returns all the trades stored in the repository, archived
	// ones included.
	GetAllTrades(ctx context.Context) ([]*Trade, error)
	// GetOpenTrades returns all trades not yet archived.
	GetOpenTrades(ctx context.Context) ([]*Trade, error)
	// GetTradeByDepositTxId returns the trade whose deposit transaction
	// matches the given transaction id.
	GetTradeByDepositTxId(ctx context.Context, txId string) (*Trade, error)
	// GetTradeByDelayedPayoutTxId returns the trade whose delayed payout
	// transaction matches the given transaction id.
	GetTradeByDelayedPayoutTxId(ctx context.Context, txId string) (*Trade, error)
	// UpdateTrade allows to commit multiple changes to the same trade in a
	// transactional way.
	UpdateTrade(
		ctx context.Context,
		tradeId string,
		updateFn func(t *Trade) (*Trade, error),
	) error
}
