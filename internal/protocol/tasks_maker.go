package protocol

import (
	"context"
	"fmt"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/core/ports"
	"github.com/escrow-network/escrow-daemon/pkg/txbuilder"
)

// MakerProcessDepositInputsRequest ingests the taker's opening message into
// the process model. Fields the protocol guarantees to be present are
// treated as preconditions and fail loudly when absent.
type MakerProcessDepositInputsRequest struct {
	Msg *DepositInputsRequest
}

func (t *MakerProcessDepositInputsRequest) Name() string {
	return "MakerProcessDepositInputsRequest"
}

func (t *MakerProcessDepositInputsRequest) Run(
	_ context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	msg := t.Msg
	switch {
	case len(msg.TakerMultiSigPubKey) == 0:
		return fmt.Errorf("%w: taker multisig pubkey missing", domain.ErrPrecondition)
	case len(msg.TakerPayoutAddress) == 0:
		return fmt.Errorf("%w: taker payout address missing", domain.ErrPrecondition)
	case len(msg.TakerInputs) == 0:
		return fmt.Errorf("%w: taker inputs missing", domain.ErrPrecondition)
	case len(msg.TakerNodeAddress) == 0:
		return fmt.Errorf("%w: taker node address missing", domain.ErrPrecondition)
	case msg.TradeAmount <= 0:
		return fmt.Errorf("%w: non positive trade amount %d",
			domain.ErrPrecondition, msg.TradeAmount)
	}
	if msg.TradeAmount < trade.Offer.MinAmount || msg.TradeAmount > trade.Offer.MaxAmount {
		return fmt.Errorf("trade amount %d outside offer bounds [%d, %d]",
			msg.TradeAmount, trade.Offer.MinAmount, trade.Offer.MaxAmount)
	}

	pm.TradePeer.NodeAddress = msg.TakerNodeAddress
	pm.TradePeer.MultiSigPubKey = msg.TakerMultiSigPubKey
	pm.TradePeer.PayoutAddress = msg.TakerPayoutAddress
	pm.TradePeer.ChangeAddress = msg.TakerChangeAddress
	pm.TradePeer.RawInputs = msg.TakerInputs
	pm.TradePeer.FeeTxId = msg.TakerFeeTxId
	pm.TradePeer.AccountAgeWitness = msg.TakerAccountAgeWitness

	trade.CounterpartyAddress = msg.TakerNodeAddress
	trade.Amount = msg.TradeAmount
	return nil
}

// MakerSelectInputs reserves wallet inputs covering the maker's funding
// share: the security deposit, plus the trade amount when the maker sells.
type MakerSelectInputs struct{}

func (t *MakerSelectInputs) Name() string { return "MakerSelectInputs" }

func (t *MakerSelectInputs) Run(ctx context.Context, pm *ProcessModel, trade *domain.Trade) error {
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

// MakerCreateAndSignDepositTx builds the unsigned deposit transaction and
// signs its prepared bytes. The signature is taken over the serialized
// transaction itself, binding the maker to this exact content without a
// separate challenge round-trip.
type MakerCreateAndSignDepositTx struct{}

func (t *MakerCreateAndSignDepositTx) Name() string { return "MakerCreateAndSignDepositTx" }

func (t *MakerCreateAndSignDepositTx) Run(
	ctx context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	if len(pm.PreparedDepositTx) > 0 {
		return nil
	}

	buyerKey, sellerKey := buyerSellerPubKeys(pm, trade)
	witnessScript, err := txbuilder.MultiSigScript(buyerKey, sellerKey)
	if err != nil {
		return fmt.Errorf("building multisig script: %w", err)
	}

	changeOutputs := depositChangeOutputs(pm, trade)
	tx, err := txbuilder.BuildDepositTx(
		pm.MyInputs, pm.TradePeer.RawInputs,
		trade.MultiSigOutputAmount(), witnessScript,
		changeOutputs, pm.Params,
	)
	if err != nil {
		return fmt.Errorf("building deposit tx: %w", err)
	}

	raw, err := domain.SerializeTx(tx)
	if err != nil {
		return fmt.Errorf("serializing prepared deposit tx: %w", err)
	}
	key, err := pm.Wallet.MultiSigKey(ctx, trade.Id)
	if err != nil {
		return fmt.Errorf("loading multisig key: %w", err)
	}

	pm.PreparedDepositTx = raw
	pm.MyBindingSig = txbuilder.SignTxBytes(raw, key)
	return trade.ApplyDepositTx(raw)
}

// MakerCreateAndSignContract assembles the contract from both parties' key
// material and terms, records its canonical json and hash on the trade, and
// attaches the maker's signature over the hash.
type MakerCreateAndSignContract struct{}

func (t *MakerCreateAndSignContract) Name() string { return "MakerCreateAndSignContract" }

func (t *MakerCreateAndSignContract) Run(
	ctx context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	if len(trade.ContractJson) > 0 {
		return nil
	}

	contract := buildContract(pm, trade)
	raw, err := contract.Json()
	if err != nil {
		return fmt.Errorf("serializing contract: %w", err)
	}
	hash, err := contract.Hash()
	if err != nil {
		return fmt.Errorf("hashing contract: %w", err)
	}
	key, err := pm.Wallet.MultiSigKey(ctx, trade.Id)
	if err != nil {
		return fmt.Errorf("loading multisig key: %w", err)
	}

	trade.ContractJson = raw
	trade.ContractHash = hash
	trade.MakerContractSig = domain.SignContractHash(hash, key)
	return nil
}

// MakerSendDepositInputsResponse sends the signed response and records the
// delivery outcome as trade state.
type MakerSendDepositInputsResponse struct{}

func (t *MakerSendDepositInputsResponse) Name() string { return "MakerSendDepositInputsResponse" }

func (t *MakerSendDepositInputsResponse) Run(
	ctx context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	msg := &DepositInputsResponse{
		Envelope: Envelope{
			TradeId: trade.Id,
			Uid:     MessageUid(trade.Id, pm.MyNodeAddress),
		},
		MakerMultiSigPubKey:    pm.MyMultiSigPubKey,
		MakerPayoutAddress:     pm.MyPayoutAddress,
		MakerInputs:            pm.MyInputs,
		MakerAccountAgeWitness: pm.AccountAgeWitness,
		PreparedDepositTx:      pm.PreparedDepositTx,
		MakerBindingSig:        pm.MyBindingSig,
		MakerContractSig:       trade.MakerContractSig,
		ContractHash:           trade.ContractHash,
		LockTime:               trade.LockTime,
	}

	trade.TryAdvance(domain.StateMakerSentDepositInputsResponse)

	outcome, err := pm.Messenger.SendEncrypted(
		ctx, pm.TradePeer.NodeAddress, pm.TradePeer.PubKey, msg,
	)
	if err != nil {
		trade.TryAdvance(domain.StateMakerSendFailedDepositInputsResponse)
		return fmt.Errorf("sending deposit inputs response: %w", err)
	}
	switch outcome {
	case ports.OutcomeArrived:
		trade.TryAdvance(domain.StateMakerSawArrivedDepositInputsResponse)
	case ports.OutcomeStoredInMailbox:
		trade.TryAdvance(domain.StateMakerStoredInMailboxDepositInputsResponse)
	default:
		trade.TryAdvance(domain.StateMakerSendFailedDepositInputsResponse)
	}
	return nil
}

// localFundingAmount is the value this party must bring into the deposit
// tx: its security deposit, plus the trade amount when it sells.
func localFundingAmount(trade *domain.Trade) int64 {
	if trade.Role.IsBuyer() {
		return trade.Offer.BuyerSecurityDeposit
	}
	return trade.Offer.SellerSecurityDeposit + trade.Amount
}

// peerFundingAmount mirrors localFundingAmount for the counterparty.
func peerFundingAmount(trade *domain.Trade) int64 {
	if trade.Role.IsBuyer() {
		return trade.Offer.SellerSecurityDeposit + trade.Amount
	}
	return trade.Offer.BuyerSecurityDeposit
}

// depositChangeOutputs computes maker and taker change deterministically:
// maker change first, taker change second, zero-value changes dropped.
func depositChangeOutputs(pm *ProcessModel, trade *domain.Trade) []txbuilder.Output {
	outputs := make([]txbuilder.Output, 0, 2)
	if pm.MyChangeValue > 0 && len(pm.MyChangeAddress) > 0 {
		outputs = append(outputs, txbuilder.Output{
			Value: pm.MyChangeValue, Address: pm.MyChangeAddress,
		})
	}

	peerTotal := int64(0)
	for _, in := range pm.TradePeer.RawInputs {
		peerTotal += in.Value
	}
	if change := peerTotal - peerFundingAmount(trade); change > 0 &&
		len(pm.TradePeer.ChangeAddress) > 0 {
		outputs = append(outputs, txbuilder.Output{
			Value: change, Address: pm.TradePeer.ChangeAddress,
		})
	}
	return outputs
}

func buildContract(pm *ProcessModel, trade *domain.Trade) *domain.Contract {
	buyerKey, sellerKey := buyerSellerPubKeys(pm, trade)
	buyerAddr, sellerAddr := buyerSellerPayoutAddresses(pm, trade)

	makerNode, takerNode := pm.MyNodeAddress, pm.TradePeer.NodeAddress
	takerFeeTxId := pm.TradePeer.FeeTxId
	if !trade.Role.IsMaker() {
		makerNode, takerNode = pm.TradePeer.NodeAddress, pm.MyNodeAddress
		takerFeeTxId = pm.MyFeeTxId
	}

	return &domain.Contract{
		OfferId:               trade.Id,
		Amount:                trade.Amount,
		Price:                 trade.Price,
		PaymentMethodId:       trade.Offer.PaymentMethod.Id,
		MakerAddress:          makerNode,
		TakerAddress:          takerNode,
		BuyerPayoutAddress:    buyerAddr,
		SellerPayoutAddress:   sellerAddr,
		BuyerMultiSigPubKey:   buyerKey,
		SellerMultiSigPubKey:  sellerKey,
		ArbitratorAddress:     trade.ArbitratorAddress,
		MediatorAddress:       trade.MediatorAddress,
		DonationAddress:       pm.DonationAddress,
		BuyerSecurityDeposit:  trade.Offer.BuyerSecurityDeposit,
		SellerSecurityDeposit: trade.Offer.SellerSecurityDeposit,
		LockTime:              trade.LockTime,
		MakerFeeTxId:          trade.Offer.MakerFeeTxId,
		TakerFeeTxId:          takerFeeTxId,
	}
}

func toRawInputs(inputs []ports.TxInput) []txbuilder.RawInput {
	raw := make([]txbuilder.RawInput, 0, len(inputs))
	for _, in := range inputs {
		raw = append(raw, txbuilder.RawInput{
			TxId: in.TxId, VOut: in.VOut, Value: in.Value,
		})
	}
	return raw
}
