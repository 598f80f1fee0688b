package dbbadger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
)

func newTestRepository(t *testing.T) domain.TradeRepository {
	t.Helper()
	dbManager, err := NewDbManager("", nil)
	require.NoError(t, err)
	t.Cleanup(func() { dbManager.Close() })
	return NewTradeRepositoryImpl(dbManager)
}

func newStoredTrade(id string) *domain.Trade {
	offer := domain.Offer{
		Id:                    id,
		Price:                 "25000",
		BuyerSecurityDeposit:  1_000_000,
		SellerSecurityDeposit: 1_000_000,
		PaymentMethod:         domain.PaymentMethod{Id: "SEPA"},
	}
	return domain.NewTrade(offer, domain.RoleMakerSeller, 100_000_000, offer.Price, 1700000000)
}

func TestTradeRoundTrip(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	trade := newStoredTrade("offer-1")
	trade.LockTime = 102_880
	require.NoError(t, repo.AddTrade(ctx, trade))

	stored, err := repo.GetTrade(ctx, "offer-1")
	require.NoError(t, err)
	require.Equal(t, trade.Id, stored.Id)
	require.Equal(t, trade.Role, stored.Role)
	require.Equal(t, trade.Amount, stored.Amount)
	require.Equal(t, trade.LockTime, stored.LockTime)
	require.Equal(t, domain.StatePreparation, stored.State)
}

func TestGetTradeNotFound(t *testing.T) {
	repo := newTestRepository(t)

	_, err := repo.GetTrade(context.Background(), "missing")
	require.ErrorIs(t, err, domain.ErrTradeNotFound)
}

func TestUpdateTradeClosure(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.AddTrade(ctx, newStoredTrade("offer-1")))

	err := repo.UpdateTrade(ctx, "offer-1", func(trade *domain.Trade) (*domain.Trade, error) {
		trade.TryAdvance(domain.StateDepositConfirmedInBlockchain)
		return trade, nil
	})
	require.NoError(t, err)

	stored, err := repo.GetTrade(ctx, "offer-1")
	require.NoError(t, err)
	require.Equal(t, domain.StateDepositConfirmedInBlockchain, stored.State)
}

func TestUpdateTradeClosureErrorDoesNotWrite(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	require.NoError(t, repo.AddTrade(ctx, newStoredTrade("offer-1")))

	err := repo.UpdateTrade(ctx, "offer-1", func(trade *domain.Trade) (*domain.Trade, error) {
		trade.TryAdvance(domain.StateWithdrawCompleted)
		return nil, domain.ErrPrecondition
	})
	require.ErrorIs(t, err, domain.ErrPrecondition)

	stored, err := repo.GetTrade(ctx, "offer-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatePreparation, stored.State)
}

func TestGetTradeByTxIds(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	trade := newStoredTrade("offer-1")
	trade.DepositTxId = "deposit-tx-id"
	trade.DelayedPayoutTxId = "delayed-payout-tx-id"
	require.NoError(t, repo.AddTrade(ctx, trade))
	require.NoError(t, repo.AddTrade(ctx, newStoredTrade("offer-2")))

	byDeposit, err := repo.GetTradeByDepositTxId(ctx, "deposit-tx-id")
	require.NoError(t, err)
	require.Equal(t, "offer-1", byDeposit.Id)

	byDelayed, err := repo.GetTradeByDelayedPayoutTxId(ctx, "delayed-payout-tx-id")
	require.NoError(t, err)
	require.Equal(t, "offer-1", byDelayed.Id)

	_, err = repo.GetTradeByDepositTxId(ctx, "unknown")
	require.ErrorIs(t, err, domain.ErrTradeNotFound)
}

func TestGetOpenTradesExcludesArchived(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	open := newStoredTrade("offer-open")
	require.NoError(t, repo.AddTrade(ctx, open))

	closed := newStoredTrade("offer-closed")
	closed.State = domain.StateWithdrawCompleted
	closed.Archive()
	require.NoError(t, repo.AddTrade(ctx, closed))

	openTrades, err := repo.GetOpenTrades(ctx)
	require.NoError(t, err)
	require.Len(t, openTrades, 1)
	require.Equal(t, "offer-open", openTrades[0].Id)

	all, err := repo.GetAllTrades(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
}
