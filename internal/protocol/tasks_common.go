package protocol

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/core/ports"
)

// CheckOfferId aborts the pipeline when a message references an offer other
// than the trade's. Every inbound pipeline starts with this task so a
// misrouted message can never touch cross-trade state.
type CheckOfferId struct {
	Msg ports.TradeMessage
}

func (t *CheckOfferId) Name() string { return "CheckOfferId" }

func (t *CheckOfferId) Run(_ context.Context, _ *ProcessModel, trade *domain.Trade) error {
	if t.Msg.GetTradeId() != trade.Id {
		return fmt.Errorf("%w: got %s, want %s",
			domain.ErrOfferIdMismatch, t.Msg.GetTradeId(), trade.Id)
	}
	return nil
}

// CreateMultiSigKey makes sure the trade-dedicated multisig key exists and
// its public key is cached on the process model. Short-circuits when the key
// was already created in a previous run.
type CreateMultiSigKey struct{}

func (t *CreateMultiSigKey) Name() string { return "CreateMultiSigKey" }

func (t *CreateMultiSigKey) Run(ctx context.Context, pm *ProcessModel, trade *domain.Trade) error {
	if len(pm.MyMultiSigPubKey) > 0 {
		return nil
	}
	key, err := pm.Wallet.MultiSigKey(ctx, trade.Id)
	if err != nil {
		return fmt.Errorf("creating multisig key: %w", err)
	}
	pm.MyMultiSigPubKey = key.PubKey().SerializeCompressed()
	return nil
}

// CreatePayoutAddress reserves a payout address for the trade. The
// reservation is held on the process model and released once the trade can
// no longer be abandoned.
type CreatePayoutAddress struct{}

func (t *CreatePayoutAddress) Name() string { return "CreatePayoutAddress" }

func (t *CreatePayoutAddress) Run(ctx context.Context, pm *ProcessModel, trade *domain.Trade) error {
	if len(pm.MyPayoutAddress) > 0 {
		return nil
	}
	reservation, err := pm.Wallet.Reserve(ctx, trade.Id, "payout")
	if err != nil {
		return fmt.Errorf("reserving payout address: %w", err)
	}
	pm.HoldReservation(reservation)

	addr, err := pm.Wallet.GetOrCreateAddress(ctx, trade.Id, "payout")
	if err != nil {
		return fmt.Errorf("creating payout address: %w", err)
	}
	pm.MyPayoutAddress = addr
	return nil
}

// VerifyTradePrice checks the counterparty's trade price against the offer
// price under the configured tolerance.
type VerifyTradePrice struct {
	Price string
}

func (t *VerifyTradePrice) Name() string { return "VerifyTradePrice" }

func (t *VerifyTradePrice) Run(_ context.Context, pm *ProcessModel, trade *domain.Trade) error {
	offerPrice, err := decimal.NewFromString(trade.Offer.Price)
	if err != nil {
		return fmt.Errorf("%w: offer price %q not parseable", domain.ErrPrecondition, trade.Offer.Price)
	}
	tradePrice, err := decimal.NewFromString(t.Price)
	if err != nil {
		return fmt.Errorf("parsing trade price %q: %w", t.Price, err)
	}
	if offerPrice.IsZero() {
		return fmt.Errorf("%w: offer price is zero", domain.ErrPrecondition)
	}

	tolerance := trade.Offer.PriceTolerancePercent
	if tolerance == 0 {
		tolerance = pm.PriceTolerance
	}
	deviation := tradePrice.Sub(offerPrice).Abs().
		Div(offerPrice).Mul(decimal.NewFromInt(100))
	if deviation.GreaterThan(decimal.NewFromFloat(tolerance)) {
		return fmt.Errorf("%w: offer %s, trade %s, deviation %s%%, tolerance %v%%",
			domain.ErrPriceOutOfTolerance,
			offerPrice, tradePrice, deviation.StringFixed(4), tolerance)
	}
	trade.Price = t.Price
	return nil
}

// VerifyRefereeSelection re-derives the arbitrator and mediator from the
// counterparty's accepted sets and checks them against the recorded
// selection. A mismatch aborts the protocol and is never retried.
type VerifyRefereeSelection struct {
	SelectedArbitrator string
	SelectedMediator   string
	PeerArbitrators    []string
	PeerMediators      []string
}

func (t *VerifyRefereeSelection) Name() string { return "VerifyRefereeSelection" }

func (t *VerifyRefereeSelection) Run(_ context.Context, _ *ProcessModel, trade *domain.Trade) error {
	if err := domain.VerifyArbitratorSelection(
		t.SelectedArbitrator, t.PeerArbitrators, trade.Offer,
	); err != nil {
		return err
	}
	if err := domain.VerifyMediatorSelection(
		t.SelectedMediator, t.PeerMediators, trade.Offer,
	); err != nil {
		return err
	}
	trade.ArbitratorAddress = t.SelectedArbitrator
	trade.MediatorAddress = t.SelectedMediator
	return nil
}

// SetLockTime fixes the delayed payout lock time to the current best chain
// height plus the payment-method dependent delay. Short-circuits once set so
// a pipeline retry cannot move the lock time.
type SetLockTime struct{}

func (t *SetLockTime) Name() string { return "SetLockTime" }

func (t *SetLockTime) Run(ctx context.Context, pm *ProcessModel, trade *domain.Trade) error {
	if trade.LockTime != 0 {
		return nil
	}
	height, err := pm.Oracle.BestChainHeight(ctx)
	if err != nil {
		return fmt.Errorf("fetching best chain height: %w", err)
	}
	trade.LockTime = height + pm.LockTimeDelay(trade.Offer.PaymentMethod)
	return nil
}

// tradeContract rebuilds the contract from the trade's recorded json.
func tradeContract(trade *domain.Trade) (*domain.Contract, error) {
	if len(trade.ContractJson) == 0 {
		return nil, fmt.Errorf("%w: trade has no contract", domain.ErrPrecondition)
	}
	contract := &domain.Contract{}
	if err := json.Unmarshal(trade.ContractJson, contract); err != nil {
		return nil, fmt.Errorf("parsing recorded contract: %w", err)
	}
	return contract, nil
}

// buyerSellerPubKeys returns the multisig public keys in buyer, seller
// order, mapping the local role onto the contract ordering.
func buyerSellerPubKeys(pm *ProcessModel, trade *domain.Trade) (buyer, seller []byte) {
	if trade.Role.IsBuyer() {
		return pm.MyMultiSigPubKey, pm.TradePeer.MultiSigPubKey
	}
	return pm.TradePeer.MultiSigPubKey, pm.MyMultiSigPubKey
}

// buyerSellerPayoutAddresses returns the payout addresses in buyer, seller
// order.
func buyerSellerPayoutAddresses(pm *ProcessModel, trade *domain.Trade) (buyer, seller string) {
	if trade.Role.IsBuyer() {
		return pm.MyPayoutAddress, pm.TradePeer.PayoutAddress
	}
	return pm.TradePeer.PayoutAddress, pm.MyPayoutAddress
}
