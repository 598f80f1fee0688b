package protocol

import (
	"bytes"
	"context"
	"fmt"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/pkg/txbuilder"
)

// lockTimeDriftBlocks is the accepted difference between the maker's
// recorded lock time and the one recomputed locally, covering chain tip
// disagreement between the two nodes.
const lockTimeDriftBlocks = 10

// TakerSelectInputs reserves the taker's funding inputs before the opening
// request is sent.
type TakerSelectInputs struct{}

func (t *TakerSelectInputs) Name() string { return "TakerSelectInputs" }

func (t *TakerSelectInputs) Run(ctx context.Context, pm *ProcessModel, trade *domain.Trade) error {
	if len(pm.MyInputs) > 0 {
		return nil
	}

	amount := localFundingAmount(trade)
	inputs, change, err := pm.Wallet.SelectInputs(ctx, trade.Id, amount)
	if err != nil {
		return fmt.Errorf("selecting deposit inputs: %w", err)
	}
	if len(inputs) == 0 {
		return fmt.Errorf("%w: wallet returned no inputs for %d",
			domain.ErrPrecondition, amount)
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
	return nil
}

// TakerSelectReferees derives the arbitrator and mediator the taker commits
// to in the opening request.
type TakerSelectReferees struct {
	AcceptedArbitrators []string
	AcceptedMediators   []string
}

func (t *TakerSelectReferees) Name() string { return "TakerSelectReferees" }

func (t *TakerSelectReferees) Run(_ context.Context, _ *ProcessModel, trade *domain.Trade) error {
	if len(trade.ArbitratorAddress) > 0 && len(trade.MediatorAddress) > 0 {
		return nil
	}
	arbitrator, err := domain.SelectArbitrator(t.AcceptedArbitrators, trade.Offer)
	if err != nil {
		return err
	}
	mediator, err := domain.SelectMediator(t.AcceptedMediators, trade.Offer)
	if err != nil {
		return err
	}
	trade.ArbitratorAddress = arbitrator
	trade.MediatorAddress = mediator
	return nil
}

// TakerSendDepositInputsRequest opens the deposit round with the maker.
type TakerSendDepositInputsRequest struct {
	AcceptedArbitrators []string
	AcceptedMediators   []string
}

func (t *TakerSendDepositInputsRequest) Name() string { return "TakerSendDepositInputsRequest" }

func (t *TakerSendDepositInputsRequest) Run(
	ctx context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	msg := &DepositInputsRequest{
		Envelope: Envelope{
			TradeId: trade.Id,
			Uid:     MessageUid(trade.Id, pm.MyNodeAddress),
		},
		TradeAmount:              trade.Amount,
		TradePrice:               trade.Price,
		TakerMultiSigPubKey:      pm.MyMultiSigPubKey,
		TakerPayoutAddress:       pm.MyPayoutAddress,
		TakerChangeAddress:       pm.MyChangeAddress,
		TakerInputs:              pm.MyInputs,
		TakerFeeTxId:             pm.MyFeeTxId,
		TakerNodeAddress:         pm.MyNodeAddress,
		TakerAccountAgeWitness:   pm.AccountAgeWitness,
		TakerAcceptedArbitrators: t.AcceptedArbitrators,
		TakerAcceptedMediators:   t.AcceptedMediators,
		SelectedArbitrator:       trade.ArbitratorAddress,
		SelectedMediator:         trade.MediatorAddress,
	}

	if _, err := pm.Messenger.SendEncrypted(
		ctx, pm.TradePeer.NodeAddress, pm.TradePeer.PubKey, msg,
	); err != nil {
		return fmt.Errorf("sending deposit inputs request: %w", err)
	}
	return nil
}

// TakerProcessDepositInputsResponse verifies the maker's response end to
// end: binding signature over the prepared deposit bytes, lock time within
// the locally recomputed window, contract hash and maker contract
// signature. Only then is the deposit transaction applied to the trade.
type TakerProcessDepositInputsResponse struct {
	Msg *DepositInputsResponse
}

func (t *TakerProcessDepositInputsResponse) Name() string {
	return "TakerProcessDepositInputsResponse"
}

func (t *TakerProcessDepositInputsResponse) Run(
	ctx context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	msg := t.Msg
	switch {
	case len(msg.MakerMultiSigPubKey) == 0:
		return fmt.Errorf("%w: maker multisig pubkey missing", domain.ErrPrecondition)
	case len(msg.MakerPayoutAddress) == 0:
		return fmt.Errorf("%w: maker payout address missing", domain.ErrPrecondition)
	case len(msg.PreparedDepositTx) == 0:
		return fmt.Errorf("%w: prepared deposit tx missing", domain.ErrPrecondition)
	case len(msg.MakerBindingSig) == 0:
		return fmt.Errorf("%w: maker binding signature missing", domain.ErrPrecondition)
	case msg.LockTime == 0:
		return fmt.Errorf("%w: lock time missing", domain.ErrPrecondition)
	}

	if err := txbuilder.VerifyTxBytesSig(
		msg.PreparedDepositTx, msg.MakerBindingSig, msg.MakerMultiSigPubKey,
	); err != nil {
		return fmt.Errorf("verifying maker binding signature: %w", err)
	}

	height, err := pm.Oracle.BestChainHeight(ctx)
	if err != nil {
		return fmt.Errorf("fetching best chain height: %w", err)
	}
	expected := height + pm.LockTimeDelay(trade.Offer.PaymentMethod)
	if diff := int64(msg.LockTime) - int64(expected); diff < -lockTimeDriftBlocks ||
		diff > lockTimeDriftBlocks {
		return &domain.InvalidLockTimeError{
			Expected: expected, Actual: msg.LockTime,
		}
	}

	pm.TradePeer.MultiSigPubKey = msg.MakerMultiSigPubKey
	pm.TradePeer.PayoutAddress = msg.MakerPayoutAddress
	pm.TradePeer.RawInputs = msg.MakerInputs
	pm.TradePeer.AccountAgeWitness = msg.MakerAccountAgeWitness
	pm.TradePeer.ContractSig = msg.MakerContractSig
	trade.LockTime = msg.LockTime

	contract := buildContract(pm, trade)
	raw, err := contract.Json()
	if err != nil {
		return fmt.Errorf("serializing contract: %w", err)
	}
	hash, err := contract.Hash()
	if err != nil {
		return fmt.Errorf("hashing contract: %w", err)
	}
	if !bytes.Equal(hash, msg.ContractHash) {
		return domain.ErrContractHashMismatch
	}
	if err := domain.VerifyContractSig(
		hash, msg.MakerContractSig, msg.MakerMultiSigPubKey,
	); err != nil {
		return fmt.Errorf("verifying maker contract signature: %w", err)
	}

	trade.ContractJson = raw
	trade.ContractHash = hash
	trade.MakerContractSig = msg.MakerContractSig

	if err := trade.ApplyDepositTx(msg.PreparedDepositTx); err != nil {
		return err
	}
	pm.PreparedDepositTx = msg.PreparedDepositTx

	return domain.ValidateDepositInputs(trade, contract)
}

// TakerSignContract attaches the taker's signature over the agreed contract
// hash.
type TakerSignContract struct{}

func (t *TakerSignContract) Name() string { return "TakerSignContract" }

func (t *TakerSignContract) Run(ctx context.Context, pm *ProcessModel, trade *domain.Trade) error {
	if len(trade.TakerContractSig) > 0 {
		return nil
	}
	key, err := pm.Wallet.MultiSigKey(ctx, trade.Id)
	if err != nil {
		return fmt.Errorf("loading multisig key: %w", err)
	}
	trade.TakerContractSig = domain.SignContractHash(trade.ContractHash, key)
	return nil
}
