package protocol_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/protocol"
)

func validAtomicRequest(offerId string) *protocol.AtomicCreateRequest {
	return &protocol.AtomicCreateRequest{
		Envelope:    protocol.Envelope{TradeId: offerId, Uid: "uid-atomic"},
		TradeAmount: 1_000_000,
		TradePrice:  "25000",
		AssetAmount: 25_000_000_000,
		TakerFee:    2_000,
		NetworkFee:  500,
		BaseLeg: protocol.AtomicLeg{
			AssetId: "BTC",
			Inputs:  []int64{1_003_500},
			Outputs: []int64{1_001_000},
			Fee:     2_000,
		},
		CounterLeg: protocol.AtomicLeg{
			AssetId: "ASSET",
			Inputs:  []int64{25_000_005_000},
			Outputs: []int64{25_000_000_000},
			Fee:     5_000,
		},
	}
}

func newAtomicTrade() (*domain.Trade, *protocol.ProcessModel) {
	offer := testOffer()
	offer.MinAmount = 100_000
	offer.MaxAmount = 2_000_000
	trade := domain.NewTrade(offer, domain.RoleMakerSeller, 1_000_000, offer.Price, 0)
	pm := &protocol.ProcessModel{
		OwnOfferIds: map[string]bool{offer.Id: true},
		FeeSchedule: func(tradeAmount int64) int64 { return tradeAmount / 500 },
	}
	return trade, pm
}

func TestAtomicChecksPass(t *testing.T) {
	trade, pm := newAtomicTrade()
	task := &protocol.AtomicChecks{
		Msg:         validAtomicRequest(trade.Id),
		OwnOfferIds: pm.OwnOfferIds,
		Fees:        pm.FeeSchedule,
	}
	require.NoError(t, task.Run(context.Background(), pm, trade))
}

func TestAtomicChecksRejectForeignOffer(t *testing.T) {
	trade, pm := newAtomicTrade()
	task := &protocol.AtomicChecks{
		Msg:         validAtomicRequest(trade.Id),
		OwnOfferIds: map[string]bool{"someone-elses-offer": true},
		Fees:        pm.FeeSchedule,
	}
	err := task.Run(context.Background(), pm, trade)
	require.ErrorIs(t, err, protocol.ErrAtomicNotMyOffer)
}

func TestAtomicChecksRejectAmountOutOfBounds(t *testing.T) {
	trade, pm := newAtomicTrade()
	msg := validAtomicRequest(trade.Id)
	msg.TradeAmount = 5_000_000 // above MaxAmount
	task := &protocol.AtomicChecks{Msg: msg, OwnOfferIds: pm.OwnOfferIds, Fees: pm.FeeSchedule}

	err := task.Run(context.Background(), pm, trade)
	require.ErrorIs(t, err, protocol.ErrAtomicAmountOutOfRange)
}

func TestAtomicChecksRejectFeeMismatch(t *testing.T) {
	trade, pm := newAtomicTrade()
	msg := validAtomicRequest(trade.Id)
	msg.TakerFee = 1 // schedule says 2000
	task := &protocol.AtomicChecks{Msg: msg, OwnOfferIds: pm.OwnOfferIds, Fees: pm.FeeSchedule}

	err := task.Run(context.Background(), pm, trade)
	require.ErrorIs(t, err, protocol.ErrAtomicFeeMismatch)
}

func TestAtomicChecksRejectVolumeMismatch(t *testing.T) {
	trade, pm := newAtomicTrade()
	msg := validAtomicRequest(trade.Id)
	msg.AssetAmount = 24_000_000_000 // != tradeAmount * price
	task := &protocol.AtomicChecks{Msg: msg, OwnOfferIds: pm.OwnOfferIds, Fees: pm.FeeSchedule}

	err := task.Run(context.Background(), pm, trade)
	require.ErrorIs(t, err, protocol.ErrAtomicVolumeMismatch)
}

func TestAtomicChecksConservationBothLegs(t *testing.T) {
	t.Run("base_leg_violated", func(t *testing.T) {
		trade, pm := newAtomicTrade()
		msg := validAtomicRequest(trade.Id)
		msg.BaseLeg.Outputs = []int64{1_002_000} // inputs no longer cover outputs+fees
		task := &protocol.AtomicChecks{Msg: msg, OwnOfferIds: pm.OwnOfferIds, Fees: pm.FeeSchedule}

		err := task.Run(context.Background(), pm, trade)
		require.ErrorIs(t, err, protocol.ErrAtomicNotConserved)
	})

	t.Run("counter_leg_violated", func(t *testing.T) {
		trade, pm := newAtomicTrade()
		msg := validAtomicRequest(trade.Id)
		msg.CounterLeg.Fee = 1 // breaks the counter equation while base still holds
		task := &protocol.AtomicChecks{Msg: msg, OwnOfferIds: pm.OwnOfferIds, Fees: pm.FeeSchedule}

		err := task.Run(context.Background(), pm, trade)
		require.ErrorIs(t, err, protocol.ErrAtomicNotConserved)
	})

	// both equations must hold at the same time: fixing one leg while the
	// other is broken still rejects
	t.Run("simultaneity", func(t *testing.T) {
		trade, pm := newAtomicTrade()
		msg := validAtomicRequest(trade.Id)
		msg.BaseLeg.Outputs = []int64{1_001_000}
		msg.CounterLeg.Outputs = []int64{25_000_000_001}
		task := &protocol.AtomicChecks{Msg: msg, OwnOfferIds: pm.OwnOfferIds, Fees: pm.FeeSchedule}

		err := task.Run(context.Background(), pm, trade)
		require.ErrorIs(t, err, protocol.ErrAtomicNotConserved)
	})
}
