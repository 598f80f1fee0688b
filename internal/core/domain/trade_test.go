package domain_test

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
)

func TestTryAdvance(t *testing.T) {
	tests := []struct {
		name      string
		from      domain.State
		to        domain.State
		wantMoved bool
	}{
		{
			name:      "forward",
			from:      domain.StatePreparation,
			to:        domain.StateBuyerReceivedDepositTxPublishedMsg,
			wantMoved: true,
		},
		{
			name:      "watcher_outran_message",
			from:      domain.StateBuyerReceivedDepositTxPublishedMsg,
			to:        domain.StateBuyerSawDepositTxInNetwork,
			wantMoved: true,
		},
		{
			name:      "stale_message_after_watcher",
			from:      domain.StateBuyerSawDepositTxInNetwork,
			to:        domain.StateBuyerReceivedDepositTxPublishedMsg,
			wantMoved: false,
		},
		{
			name:      "same_state",
			from:      domain.StateSellerReceivedFiatPaymentInitiatedMsg,
			to:        domain.StateSellerReceivedFiatPaymentInitiatedMsg,
			wantMoved: false,
		},
		{
			// a fiat receipt confirmation arriving after the payout was
			// already seen in the network must not regress the state
			name:      "fiat_receipt_after_payout_seen",
			from:      domain.StateBuyerSawPayoutTxInNetwork,
			to:        domain.StateBuyerReceivedFiatPaymentReceiptMsg,
			wantMoved: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			trade := newTestTrade()
			trade.State = tt.from

			moved := trade.TryAdvance(tt.to)
			require.Equal(t, tt.wantMoved, moved)
			if tt.wantMoved {
				require.Equal(t, tt.to, trade.State)
			} else {
				require.Equal(t, tt.from, trade.State)
			}
			// the ordinal never decreases
			require.GreaterOrEqual(t, trade.State.Ordinal(), tt.from.Ordinal())
		})
	}
}

func TestStateOrdering(t *testing.T) {
	// the buyer's observation points are strictly ordered
	sequence := []domain.State{
		domain.StateBuyerReceivedDepositTxPublishedMsg,
		domain.StateBuyerSawDepositTxInNetwork,
		domain.StateBuyerSentFiatPaymentInitiatedMsg,
		domain.StateBuyerSawArrivedFiatPaymentInitiatedMsg,
		domain.StateBuyerReceivedFiatPaymentReceiptMsg,
		domain.StateBuyerReceivedPayoutTxPublishedMsg,
		domain.StateBuyerSawPayoutTxInNetwork,
	}
	for i := 1; i < len(sequence); i++ {
		require.Greater(t, sequence[i].Ordinal(), sequence[i-1].Ordinal())
	}
}

func TestApplyDepositTx(t *testing.T) {
	trade := newTestTrade()
	depositTx := newTestDepositTx(t, trade.MultiSigOutputAmount())
	rawTx := serializeTx(t, depositTx)

	require.NoError(t, trade.ApplyDepositTx(rawTx))
	require.Equal(t, depositTx.TxHash().String(), trade.DepositTxId)

	t.Run("reapplying_same_tx_is_noop", func(t *testing.T) {
		require.NoError(t, trade.ApplyDepositTx(rawTx))
	})

	t.Run("conflicting_tx_rejected", func(t *testing.T) {
		other := newTestDepositTx(t, trade.MultiSigOutputAmount()+1)
		err := trade.ApplyDepositTx(serializeTx(t, other))
		require.ErrorIs(t, err, domain.ErrDepositTxAlreadySet)
	})

	t.Run("garbage_rejected", func(t *testing.T) {
		fresh := newTestTrade()
		require.Error(t, fresh.ApplyDepositTx([]byte{0xde, 0xad}))
		require.Empty(t, fresh.DepositTxId)
	})
}

func TestPayoutAmounts(t *testing.T) {
	trade := newTestTrade()

	require.Equal(t, int64(102000000), trade.MultiSigOutputAmount())
	require.Equal(t, int64(101000000), trade.BuyerPayoutAmount())
	require.Equal(t, int64(1000000), trade.SellerPayoutAmount())
	require.Equal(
		t,
		trade.MultiSigOutputAmount(),
		trade.BuyerPayoutAmount()+trade.SellerPayoutAmount(),
	)
}

func TestTerminalStates(t *testing.T) {
	trade := newTestTrade()
	require.False(t, trade.IsTerminal())

	trade.State = domain.StateBuyerSawPayoutTxInNetwork
	require.True(t, trade.IsTerminal())

	t.Run("failed", func(t *testing.T) {
		failed := newTestTrade()
		failed.Fail("delayed payout validation failed")
		require.True(t, failed.IsTerminal())
		require.Equal(t, "delayed payout validation failed", failed.ErrorMessage)

		// only the first reason sticks
		failed.Fail("other")
		require.Equal(t, "delayed payout validation failed", failed.ErrorMessage)
	})

	t.Run("disputed", func(t *testing.T) {
		disputed := newTestTrade()
		disputed.EscalateDispute(domain.MediationRequested)
		require.True(t, disputed.IsTerminal())
		require.True(t, disputed.DisputeState.IsMediated())

		disputed.EscalateDispute(domain.ArbitrationRequested)
		require.Equal(t, domain.MediationRequested, disputed.DisputeState)
	})

	t.Run("archive_only_terminal", func(t *testing.T) {
		open := newTestTrade()
		open.Archive()
		require.False(t, open.Archived)

		open.State = domain.StateWithdrawCompleted
		open.Archive()
		require.True(t, open.Archived)
	})
}

func TestMarkFiatReceived(t *testing.T) {
	trade := newTestTrade()
	trade.MarkFiatReceived(1000)
	trade.MarkFiatReceived(2000)
	require.Equal(t, int64(1000), trade.FiatReceivedDate)
}

func serializeTx(t *testing.T, tx *wire.MsgTx) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))
	return buf.Bytes()
}
