package protocol_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/core/ports"
	"github.com/escrow-network/escrow-daemon/internal/protocol"
)

// TestFullTradeFlow drives a maker-seller and a taker-buyer against each
// other through the complete happy path: deposit round, delayed payout
// signing, deposit publication, fiat leg and cooperative payout.
func TestFullTradeFlow(t *testing.T) {
	ctx := context.Background()

	const (
		makerInputTxId = "aa1111111111111111111111111111111111111111111111111111111111aaaa"
		takerInputTxId = "bb2222222222222222222222222222222222222222222222222222222222bbbb"
		tradeAmount    = 100_000_000
	)

	donationAddr := newTestAddress(t)

	offer := testOffer()
	offer.MakerFeeTxId = makerInputTxId

	// maker-seller side
	makerWallet := newFakeWallet()
	makerWallet.inputs = []ports.TxInput{{
		TxId:  makerInputTxId,
		Value: offer.SellerSecurityDeposit + tradeAmount,
	}}
	makerMessenger := newFakeMessenger()
	makerOracle := &fakeOracle{height: 100_000}

	makerTrade := domain.NewTrade(offer, domain.RoleMakerSeller, 0, offer.Price, 0)
	makerPm := newTestProcessModel(makerWallet, makerMessenger, makerOracle)
	makerPm.MyNodeAddress = "maker.onion"
	makerPm.DonationAddress = donationAddr
	makerPm.DonationAllowList = []string{donationAddr}
	maker := protocol.New(makerPm, makerTrade)
	defer maker.Teardown()

	// taker-buyer side
	takerWallet := newFakeWallet()
	takerWallet.inputs = []ports.TxInput{{
		TxId:  takerInputTxId,
		Value: offer.BuyerSecurityDeposit,
	}}
	takerMessenger := newFakeMessenger()
	takerOracle := &fakeOracle{height: 100_000}

	takerTrade := domain.NewTrade(offer, domain.RoleTakerBuyer, tradeAmount, offer.Price, 0)
	takerPm := newTestProcessModel(takerWallet, takerMessenger, takerOracle)
	takerPm.MyNodeAddress = "taker.onion"
	takerPm.MyFeeTxId = takerInputTxId
	takerPm.DonationAddress = donationAddr
	takerPm.DonationAllowList = []string{donationAddr}
	takerPm.TradePeer.NodeAddress = "maker.onion"
	taker := protocol.New(takerPm, takerTrade)
	defer taker.Teardown()

	// pump routes every queued message to the counterparty until both
	// queues drain
	var makerSeen, takerSeen int
	pump := func() {
		for {
			progressed := false
			for _, msg := range takerMessenger.sentMessages()[takerSeen:] {
				takerSeen++
				progressed = true
				require.NoError(t, maker.OnMessage(ctx, msg))
			}
			for _, msg := range makerMessenger.sentMessages()[makerSeen:] {
				makerSeen++
				progressed = true
				require.NoError(t, taker.OnMessage(ctx, msg))
			}
			if !progressed {
				return
			}
		}
	}

	// taker opens the trade
	require.NoError(t, taker.TakeOffer(ctx, offer.AcceptedArbitrators, offer.AcceptedMediators))
	pump()

	// both parties hold the identical contract and deposit transaction
	require.NotEmpty(t, makerTrade.ContractHash)
	require.Equal(t, makerTrade.ContractHash, takerTrade.ContractHash)
	require.Equal(t, makerTrade.DepositTxId, takerTrade.DepositTxId)
	require.Equal(t, uint32(102_880), makerTrade.LockTime)
	require.Equal(t, makerTrade.LockTime, takerTrade.LockTime)

	// seller finalized and recorded the delayed payout, published deposit
	require.NotEmpty(t, makerTrade.DelayedPayoutTx)
	require.Len(t, makerWallet.broadcast, 1)
	require.True(t, makerTrade.IsDepositPublished())

	// buyer received the publication notice, committed the deposit and
	// released its reservation
	require.NotEmpty(t, takerTrade.DelayedPayoutTx)
	require.Equal(t, makerTrade.DelayedPayoutTxId, takerTrade.DelayedPayoutTxId)
	require.Len(t, takerWallet.committed, 1)
	require.Equal(t, 1, takerWallet.released)
	require.Equal(t, domain.StateBuyerReceivedDepositTxPublishedMsg, takerTrade.State)

	// buyer starts the fiat leg
	require.NoError(t, taker.OnFiatPaymentInitiated(ctx, "wire-ref-123"))
	pump()
	require.Equal(t, domain.StateSellerReceivedFiatPaymentInitiatedMsg, makerTrade.State)

	// seller confirms receipt, signs and publishes the payout
	require.NoError(t, maker.OnFiatPaymentReceived(ctx))
	pump()

	require.True(t, makerTrade.IsPayoutPublished())
	require.Len(t, makerWallet.broadcast, 2)
	require.NotEmpty(t, takerTrade.PayoutTx)
	require.Equal(t, makerTrade.PayoutTxId, takerTrade.PayoutTxId)
	require.Equal(t, domain.StateBuyerReceivedPayoutTxPublishedMsg, takerTrade.State)

	// payout splits the escrow into buyer and seller shares
	payoutTx, err := makerTrade.PayoutTransaction()
	require.NoError(t, err)
	require.Len(t, payoutTx.TxOut, 2)
	require.Equal(t, int64(tradeAmount)+offer.BuyerSecurityDeposit, payoutTx.TxOut[0].Value)
	require.Equal(t, offer.SellerSecurityDeposit, payoutTx.TxOut[1].Value)

	// the payout witness carries both signatures around the script
	require.Len(t, payoutTx.TxIn[0].Witness, 4)

	// network visibility closes the buyer side
	taker.OnPayoutTxSeen(nil)
	require.Equal(t, domain.StateBuyerSawPayoutTxInNetwork, takerTrade.State)
	require.True(t, takerTrade.IsTerminal())
}
