package domain

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

// TryAdvance moves the trade to the target state only if the target's ordinal
// exceeds the current one. Both message-driven tasks and blockchain watchers
// race to advance the same trade, so every state write must go through this
// guard; a stale event then degrades to a no-op instead of regressing
// progress. It returns whether the state was changed.
func (t *Trade) TryAdvance(target State) bool {
	if target.Ordinal() <= t.State.Ordinal() {
		return false
	}
	t.State = target
	return true
}

// ApplyDepositTx records the multisig deposit transaction. A trade holds at
// most one deposit tx; applying the same bytes again is a no-op while a
// conflicting tx is rejected.
func (t *Trade) ApplyDepositTx(rawTx []byte) error {
	if len(t.DepositTx) > 0 {
		if bytes.Equal(t.DepositTx, rawTx) {
			return nil
		}
		return ErrDepositTxAlreadySet
	}
	tx, err := parseTx(rawTx)
	if err != nil {
		return fmt.Errorf("parsing deposit tx: %w", err)
	}
	t.DepositTx = rawTx
	t.DepositTxId = tx.TxHash().String()
	return nil
}

// ApplyDelayedPayoutTx records the time-locked fallback payout transaction.
func (t *Trade) ApplyDelayedPayoutTx(rawTx []byte) error {
	if len(t.DelayedPayoutTx) > 0 {
		if bytes.Equal(t.DelayedPayoutTx, rawTx) {
			return nil
		}
		return ErrDelayedPayoutTxAlreadySet
	}
	tx, err := parseTx(rawTx)
	if err != nil {
		return fmt.Errorf("parsing delayed payout tx: %w", err)
	}
	t.DelayedPayoutTx = rawTx
	t.DelayedPayoutTxId = tx.TxHash().String()
	return nil
}

// ApplyPayoutTx records the final cooperative payout transaction.
func (t *Trade) ApplyPayoutTx(rawTx []byte) error {
	if len(t.PayoutTx) > 0 {
		if bytes.Equal(t.PayoutTx, rawTx) {
			return nil
		}
		return ErrPayoutTxAlreadySet
	}
	tx, err := parseTx(rawTx)
	if err != nil {
		return fmt.Errorf("parsing payout tx: %w", err)
	}
	t.PayoutTx = rawTx
	t.PayoutTxId = tx.TxHash().String()
	return nil
}

// DepositTransaction returns the parsed view of the deposit tx, if set.
func (t *Trade) DepositTransaction() (*wire.MsgTx, error) {
	if len(t.DepositTx) == 0 {
		return nil, nil
	}
	return parseTx(t.DepositTx)
}

// DelayedPayoutTransaction returns the parsed view of the delayed payout tx,
// if set.
func (t *Trade) DelayedPayoutTransaction() (*wire.MsgTx, error) {
	if len(t.DelayedPayoutTx) == 0 {
		return nil, nil
	}
	return parseTx(t.DelayedPayoutTx)
}

// PayoutTransaction returns the parsed view of the payout tx, if set.
func (t *Trade) PayoutTransaction() (*wire.MsgTx, error) {
	if len(t.PayoutTx) == 0 {
		return nil, nil
	}
	return parseTx(t.PayoutTx)
}

// MultiSigOutputAmount is the value the escrow output must carry:
// both security deposits plus the trade amount.
func (t *Trade) MultiSigOutputAmount() int64 {
	return t.Offer.BuyerSecurityDeposit + t.Offer.SellerSecurityDeposit + t.Amount
}

// BuyerPayoutAmount is the buyer's share of the cooperative payout.
func (t *Trade) BuyerPayoutAmount() int64 {
	return t.Amount + t.Offer.BuyerSecurityDeposit
}

// SellerPayoutAmount is the seller's share of the cooperative payout.
func (t *Trade) SellerPayoutAmount() int64 {
	return t.Offer.SellerSecurityDeposit
}

// MarkFiatReceived records the date the seller confirmed the fiat leg.
func (t *Trade) MarkFiatReceived(date int64) {
	if t.FiatReceivedDate == 0 {
		t.FiatReceivedDate = date
	}
}

// Fail marks the trade as failed with a user-displayable reason. The state
// itself is left at its last committed value.
func (t *Trade) Fail(reason string) {
	if t.Failed {
		return
	}
	t.Failed = true
	t.ErrorMessage = reason
}

// EscalateDispute moves the trade onto the dispute path. Only the first
// escalation sticks.
func (t *Trade) EscalateDispute(state DisputeState) {
	if !t.DisputeState.IsNotDisputed() {
		return
	}
	t.DisputeState = state
}

// Archive flags a terminal trade for the archive listing. Trades are never
// deleted.
func (t *Trade) Archive() {
	if t.IsTerminal() {
		t.Archived = true
	}
}

// IsTerminal reports whether the trade reached a state with no automatic
// transition out of it.
func (t *Trade) IsTerminal() bool {
	if t.Failed || !t.DisputeState.IsNotDisputed() {
		return true
	}
	switch t.State {
	case StateBuyerSawPayoutTxInNetwork, StateWithdrawCompleted:
		return true
	default:
		return false
	}
}

// IsPayoutPublished reports whether the payout reached the network from this
// party's point of view.
func (t *Trade) IsPayoutPublished() bool {
	return t.State.TradePhase() >= PhasePayoutPublished
}

// IsFiatSent reports whether the buyer initiated the fiat leg.
func (t *Trade) IsFiatSent() bool {
	return t.State.TradePhase() >= PhaseFiatSent
}

// IsDepositPublished reports whether the deposit tx reached the network.
func (t *Trade) IsDepositPublished() bool {
	return t.State.TradePhase() >= PhaseDepositPublished
}

func parseTx(rawTx []byte) (*wire.MsgTx, error) {
	tx := wire.NewMsgTx(wire.TxVersion)
	if err := tx.Deserialize(bytes.NewReader(rawTx)); err != nil {
		return nil, err
	}
	return tx, nil
}

// SerializeTx returns the wire encoding of a transaction.
func SerializeTx(tx *wire.MsgTx) ([]byte, error) {
	var buf bytes.Buffer
	if err := tx.Serialize(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
