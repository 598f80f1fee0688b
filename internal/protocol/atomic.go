package protocol

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
)

// Errors of the atomic cross-asset path. Each check failure is reported
// separately so the taker gets an actionable rejection.
var (
	ErrAtomicNotMyOffer       = errors.New("atomic request does not reference an own offer")
	ErrAtomicAmountOutOfRange = errors.New("atomic trade amount outside offer bounds")
	ErrAtomicFeeMismatch      = errors.New("atomic taker fee does not match the fee schedule")
	ErrAtomicVolumeMismatch   = errors.New("atomic asset amount inconsistent with price and volume")
	ErrAtomicNotConserved     = errors.New("atomic leg does not conserve value")
)

// FeeSchedule computes the expected taker fee for a trade amount. Injected
// so the policy can evolve without touching the verification path.
type FeeSchedule func(tradeAmount int64) int64

// AtomicChecks verifies a taker's atomic settlement request before the
// maker contributes anything: own offer, amount bounds on both assets, fee
// schedule, price times volume consistency and per-leg value conservation.
// Only after every check passes may the maker add inputs and co-sign.
type AtomicChecks struct {
	Msg         *AtomicCreateRequest
	OwnOfferIds map[string]bool
	Fees        FeeSchedule
}

func (t *AtomicChecks) Name() string { return "AtomicChecks" }

func (t *AtomicChecks) Run(_ context.Context, _ *ProcessModel, trade *domain.Trade) error {
	msg := t.Msg

	if !t.OwnOfferIds[msg.TradeId] || msg.TradeId != trade.Id {
		return ErrAtomicNotMyOffer
	}

	if msg.TradeAmount < trade.Offer.MinAmount || msg.TradeAmount > trade.Offer.MaxAmount {
		return fmt.Errorf("%w: amount %d, bounds [%d, %d]",
			ErrAtomicAmountOutOfRange,
			msg.TradeAmount, trade.Offer.MinAmount, trade.Offer.MaxAmount)
	}
	if msg.AssetAmount <= 0 {
		return fmt.Errorf("%w: non positive asset amount %d",
			ErrAtomicAmountOutOfRange, msg.AssetAmount)
	}

	if t.Fees != nil {
		if expected := t.Fees(msg.TradeAmount); msg.TakerFee != expected {
			return fmt.Errorf("%w: expected %d, got %d",
				ErrAtomicFeeMismatch, expected, msg.TakerFee)
		}
	}

	if err := verifyAtomicVolume(msg, trade.Offer.Price); err != nil {
		return err
	}

	// Base leg pays the network fee on top of the protocol fee; the counter
	// leg only the protocol fee. Both equations must hold simultaneously.
	if err := verifyLegConservation(msg.BaseLeg, msg.NetworkFee); err != nil {
		return err
	}
	return verifyLegConservation(msg.CounterLeg, 0)
}

// verifyAtomicVolume checks assetAmount == tradeAmount * price, computed
// with decimal arithmetic and compared exactly after rounding to integer
// units.
func verifyAtomicVolume(msg *AtomicCreateRequest, offerPrice string) error {
	price, err := decimal.NewFromString(msg.TradePrice)
	if err != nil {
		return fmt.Errorf("parsing trade price %q: %w", msg.TradePrice, err)
	}
	if price.IsZero() {
		return fmt.Errorf("%w: zero price", ErrAtomicVolumeMismatch)
	}
	if offerPrice != "" && msg.TradePrice != offerPrice {
		return fmt.Errorf("%w: trade price %s differs from offer price %s",
			ErrAtomicVolumeMismatch, msg.TradePrice, offerPrice)
	}

	expected := decimal.NewFromInt(msg.TradeAmount).Mul(price).Round(0)
	if !expected.Equal(decimal.NewFromInt(msg.AssetAmount)) {
		return fmt.Errorf("%w: expected %s, got %d",
			ErrAtomicVolumeMismatch, expected, msg.AssetAmount)
	}
	return nil
}

// verifyLegConservation checks sum(inputs) == sum(outputs) + protocol fee
// (+ network fee on the leg that carries it).
func verifyLegConservation(leg AtomicLeg, networkFee int64) error {
	var in, out int64
	for _, v := range leg.Inputs {
		if v <= 0 {
			return fmt.Errorf("%w: asset %s has non positive input %d",
				ErrAtomicNotConserved, leg.AssetId, v)
		}
		in += v
	}
	for _, v := range leg.Outputs {
		if v < 0 {
			return fmt.Errorf("%w: asset %s has negative output %d",
				ErrAtomicNotConserved, leg.AssetId, v)
		}
		out += v
	}
	if in != out+leg.Fee+networkFee {
		return fmt.Errorf("%w: asset %s: inputs %d, outputs %d, fee %d, network fee %d",
			ErrAtomicNotConserved, leg.AssetId, in, out, leg.Fee, networkFee)
	}
	return nil
}

// MakerCompleteAtomicTx contributes the maker's inputs and change to the
// verified atomic transaction and returns the completed response. The
// actual input contribution and signing go through the wallet; the checks
// above have already gated this step.
type MakerCompleteAtomicTx struct {
	Msg *AtomicCreateRequest
}

func (t *MakerCompleteAtomicTx) Name() string { return "MakerCompleteAtomicTx" }

func (t *MakerCompleteAtomicTx) Run(
	ctx context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	if len(pm.MyInputs) == 0 {
		inputs, change, err := pm.Wallet.SelectInputs(ctx, trade.Id, t.Msg.AssetAmount)
		if err != nil {
			return fmt.Errorf("selecting atomic inputs: %w", err)
		}
		pm.MyInputs = toRawInputs(inputs)
		pm.MyChangeValue = change
		if change > 0 && len(pm.MyChangeAddress) == 0 {
			addr, err := pm.Wallet.GetOrCreateAddress(ctx, trade.Id, "change")
			if err != nil {
				return fmt.Errorf("creating change address: %w", err)
			}
			pm.MyChangeAddress = addr
		}
	}

	msg := &AtomicCreateResponse{
		Envelope: Envelope{
			TradeId: trade.Id,
			Uid:     MessageUid(trade.Id, pm.MyNodeAddress+"/atomic"),
		},
		MakerInputs: pm.MyInputs,
	}
	if _, err := pm.Messenger.SendEncrypted(
		ctx, pm.TradePeer.NodeAddress, pm.TradePeer.PubKey, msg,
	); err != nil {
		return fmt.Errorf("sending atomic create response: %w", err)
	}
	return nil
}

// TakerProcessAtomicCreateResponse records the maker's contribution to the
// atomic transaction on the taker side.
type TakerProcessAtomicCreateResponse struct {
	Msg *AtomicCreateResponse
}

func (t *TakerProcessAtomicCreateResponse) Name() string {
	return "TakerProcessAtomicCreateResponse"
}

func (t *TakerProcessAtomicCreateResponse) Run(
	_ context.Context, pm *ProcessModel, _ *domain.Trade,
) error {
	if len(t.Msg.MakerInputs) == 0 {
		return fmt.Errorf("%w: maker atomic inputs missing", domain.ErrPrecondition)
	}
	pm.TradePeer.RawInputs = t.Msg.MakerInputs
	pm.AtomicTx = t.Msg.AtomicTx
	return nil
}
