package protocol

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/wire"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/pkg/txbuilder"
)

// SellerCreateAndSignDelayedPayoutTx builds the time-locked fallback
// transaction spending the escrow output to the donation address, validates
// it and attaches the seller's multisig signature. The unsigned bytes stay
// on the process model until both signatures are present.
type SellerCreateAndSignDelayedPayoutTx struct{}

func (t *SellerCreateAndSignDelayedPayoutTx) Name() string {
	return "SellerCreateAndSignDelayedPayoutTx"
}

func (t *SellerCreateAndSignDelayedPayoutTx) Run(
	ctx context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	if len(pm.MyDelayedPayoutSig) > 0 {
		return nil
	}

	depositTx, err := trade.DepositTransaction()
	if err != nil {
		return err
	}
	tx, err := txbuilder.BuildDelayedPayoutTx(
		depositTx, pm.DonationAddress, trade.LockTime, pm.Params,
	)
	if err != nil {
		return fmt.Errorf("building delayed payout tx: %w", err)
	}
	if err := domain.ValidateDelayedPayoutTx(
		tx, trade, pm.Params, pm.DonationAllowList,
	); err != nil {
		return err
	}
	if err := domain.ValidatePayoutTxInput(depositTx, tx); err != nil {
		return err
	}

	raw, err := domain.SerializeTx(tx)
	if err != nil {
		return fmt.Errorf("serializing delayed payout tx: %w", err)
	}

	key, err := pm.Wallet.MultiSigKey(ctx, trade.Id)
	if err != nil {
		return fmt.Errorf("loading multisig key: %w", err)
	}
	buyerKey, sellerKey := buyerSellerPubKeys(pm, trade)
	witnessScript, err := txbuilder.MultiSigScript(buyerKey, sellerKey)
	if err != nil {
		return fmt.Errorf("building multisig script: %w", err)
	}
	sig, err := txbuilder.SignMultiSigInput(
		tx, 0, trade.MultiSigOutputAmount(), witnessScript, key,
	)
	if err != nil {
		return fmt.Errorf("signing delayed payout tx: %w", err)
	}

	pm.DelayedPayoutTx = raw
	pm.MyDelayedPayoutSig = sig
	return nil
}

// SellerSendDelayedPayoutSignatureRequest asks the buyer to co-sign the
// delayed payout transaction.
type SellerSendDelayedPayoutSignatureRequest struct{}

func (t *SellerSendDelayedPayoutSignatureRequest) Name() string {
	return "SellerSendDelayedPayoutSignatureRequest"
}

func (t *SellerSendDelayedPayoutSignatureRequest) Run(
	ctx context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	msg := &DelayedPayoutSignatureRequest{
		Envelope: Envelope{
			TradeId: trade.Id,
			Uid:     MessageUid(trade.Id, pm.MyNodeAddress+"/delayed-payout"),
		},
		DelayedPayoutTx: pm.DelayedPayoutTx,
		SellerSignature: pm.MyDelayedPayoutSig,
	}
	if _, err := pm.Messenger.SendEncrypted(
		ctx, pm.TradePeer.NodeAddress, pm.TradePeer.PubKey, msg,
	); err != nil {
		return fmt.Errorf("sending delayed payout signature request: %w", err)
	}
	return nil
}

// SellerProcessDelayedPayoutSignatureResponse verifies and records the
// buyer's delayed payout signature and contract signature.
type SellerProcessDelayedPayoutSignatureResponse struct {
	Msg *DelayedPayoutSignatureResponse
}

func (t *SellerProcessDelayedPayoutSignatureResponse) Name() string {
	return "SellerProcessDelayedPayoutSignatureResponse"
}

func (t *SellerProcessDelayedPayoutSignatureResponse) Run(
	_ context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	msg := t.Msg
	if len(msg.BuyerSignature) == 0 {
		return fmt.Errorf("%w: buyer delayed payout signature missing", domain.ErrPrecondition)
	}

	tx, err := parseRawTx(pm.DelayedPayoutTx)
	if err != nil {
		return err
	}
	buyerKey, sellerKey := buyerSellerPubKeys(pm, trade)
	witnessScript, err := txbuilder.MultiSigScript(buyerKey, sellerKey)
	if err != nil {
		return fmt.Errorf("building multisig script: %w", err)
	}
	if err := txbuilder.VerifyMultiSigSignature(
		tx, 0, trade.MultiSigOutputAmount(), witnessScript,
		msg.BuyerSignature, buyerKey,
	); err != nil {
		return fmt.Errorf("verifying buyer delayed payout signature: %w", err)
	}

	if len(msg.BuyerContractSig) > 0 {
		if err := domain.VerifyContractSig(
			trade.ContractHash, msg.BuyerContractSig, buyerKey,
		); err != nil {
			return fmt.Errorf("verifying buyer contract signature: %w", err)
		}
		pm.TradePeer.ContractSig = msg.BuyerContractSig
	}
	pm.TradePeer.DelayedPayoutTxSig = msg.BuyerSignature
	return nil
}

// SellerFinalizeDelayedPayoutTx re-validates the delayed payout transaction
// and assembles its 2-of-2 witness. Validation runs again right before the
// final signature is committed, not only at construction time.
type SellerFinalizeDelayedPayoutTx struct{}

func (t *SellerFinalizeDelayedPayoutTx) Name() string { return "SellerFinalizeDelayedPayoutTx" }

func (t *SellerFinalizeDelayedPayoutTx) Run(
	_ context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	if len(trade.DelayedPayoutTx) > 0 {
		return nil
	}

	tx, err := parseRawTx(pm.DelayedPayoutTx)
	if err != nil {
		return err
	}
	if err := domain.ValidateDelayedPayoutTx(
		tx, trade, pm.Params, pm.DonationAllowList,
	); err != nil {
		return err
	}
	depositTx, err := trade.DepositTransaction()
	if err != nil {
		return err
	}
	if err := domain.ValidatePayoutTxInput(depositTx, tx); err != nil {
		return err
	}

	buyerKey, sellerKey := buyerSellerPubKeys(pm, trade)
	witnessScript, err := txbuilder.MultiSigScript(buyerKey, sellerKey)
	if err != nil {
		return fmt.Errorf("building multisig script: %w", err)
	}
	if err := txbuilder.FinalizeMultiSigInput(
		tx, 0, pm.TradePeer.DelayedPayoutTxSig, pm.MyDelayedPayoutSig, witnessScript,
	); err != nil {
		return err
	}

	raw, err := domain.SerializeTx(tx)
	if err != nil {
		return fmt.Errorf("serializing finalized delayed payout tx: %w", err)
	}
	return trade.ApplyDelayedPayoutTx(raw)
}

// SellerPublishDepositTx commits and broadcasts the deposit transaction.
// The escrow only becomes spendable after this point, so it runs strictly
// after the delayed payout transaction is fully signed.
type SellerPublishDepositTx struct{}

func (t *SellerPublishDepositTx) Name() string { return "SellerPublishDepositTx" }

func (t *SellerPublishDepositTx) Run(
	ctx context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	if trade.IsDepositPublished() {
		return nil
	}
	if len(trade.DelayedPayoutTx) == 0 {
		return fmt.Errorf("%w: delayed payout tx not finalized before deposit publication",
			domain.ErrPrecondition)
	}

	depositTx, err := trade.DepositTransaction()
	if err != nil {
		return err
	}
	if err := pm.Wallet.CommitTransaction(ctx, depositTx); err != nil {
		return fmt.Errorf("committing deposit tx: %w", err)
	}
	if _, err := pm.Wallet.Broadcast(ctx, depositTx); err != nil {
		return fmt.Errorf("broadcasting deposit tx: %w", err)
	}
	trade.TryAdvance(domain.StateSellerPublishedDepositTx)
	return nil
}

// SellerSendDepositAndDelayedPayoutMessage notifies the buyer that the
// deposit was published. The message carries both transactions and the
// contract hash, and is critical enough to go through the resend policy.
type SellerSendDepositAndDelayedPayoutMessage struct {
	Sender func(*reliableSender)
}

func (t *SellerSendDepositAndDelayedPayoutMessage) Name() string {
	return "SellerSendDepositAndDelayedPayoutMessage"
}

func (t *SellerSendDepositAndDelayedPayoutMessage) Run(
	ctx context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	msg := &DepositAndDelayedPayoutMessage{
		Envelope: Envelope{
			TradeId: trade.Id,
			Uid:     MessageUid(trade.Id, pm.MyNodeAddress+"/deposit-published"),
		},
		DepositTx:       trade.DepositTx,
		DelayedPayoutTx: trade.DelayedPayoutTx,
		ContractHash:    trade.ContractHash,
	}

	sender := newReliableSender(
		pm.Messenger, pm.TradePeer.NodeAddress, pm.TradePeer.PubKey,
		msg, pm.ResendInterval,
	)
	trade.TryAdvance(domain.StateSellerSentDepositTxPublishedMsg)
	outcome, err := sender.Start(ctx)
	if t.Sender != nil {
		t.Sender(sender)
	}

	advanceBySendOutcome(trade, outcome, err,
		domain.StateSellerSawArrivedDepositTxPublishedMsg,
		domain.StateSellerStoredInMailboxDepositTxPublishedMsg,
		domain.StateSellerSendFailedDepositTxPublishedMsg,
	)
	return nil
}

// SellerProcessFiatTransferStartedMessage records the buyer's payout
// signature announced together with the fiat transfer start.
type SellerProcessFiatTransferStartedMessage struct {
	Msg *FiatTransferStartedMessage
}

func (t *SellerProcessFiatTransferStartedMessage) Name() string {
	return "SellerProcessFiatTransferStartedMessage"
}

func (t *SellerProcessFiatTransferStartedMessage) Run(
	_ context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	if len(t.Msg.BuyerPayoutTxSignature) == 0 {
		return fmt.Errorf("%w: buyer payout signature missing", domain.ErrPrecondition)
	}
	pm.TradePeer.PayoutTxSig = t.Msg.BuyerPayoutTxSignature
	trade.TryAdvance(domain.StateSellerReceivedFiatPaymentInitiatedMsg)
	return nil
}

// SellerConfirmFiatReceived records the seller's confirmation that the fiat
// leg arrived.
type SellerConfirmFiatReceived struct{}

func (t *SellerConfirmFiatReceived) Name() string { return "SellerConfirmFiatReceived" }

func (t *SellerConfirmFiatReceived) Run(
	_ context.Context, _ *ProcessModel, trade *domain.Trade,
) error {
	trade.MarkFiatReceived(time.Now().Unix())
	trade.TryAdvance(domain.StateSellerConfirmedFiatPaymentReceipt)
	return nil
}

// SellerSendFiatReceivedMessage notifies the buyer of the receipt
// confirmation.
type SellerSendFiatReceivedMessage struct{}

func (t *SellerSendFiatReceivedMessage) Name() string { return "SellerSendFiatReceivedMessage" }

func (t *SellerSendFiatReceivedMessage) Run(
	ctx context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	msg := &FiatReceivedMessage{
		Envelope: Envelope{
			TradeId: trade.Id,
			Uid:     MessageUid(trade.Id, pm.MyNodeAddress+"/fiat-received"),
		},
	}
	if _, err := pm.Messenger.SendEncrypted(
		ctx, pm.TradePeer.NodeAddress, pm.TradePeer.PubKey, msg,
	); err != nil {
		return fmt.Errorf("sending fiat received message: %w", err)
	}
	return nil
}

// SellerSignAndPublishPayoutTx verifies the buyer's payout signature,
// co-signs, assembles the witness and broadcasts the cooperative payout. A
// validation failure at this final gate flags the trade for dispute
// escalation instead of leaving it silently stuck.
type SellerSignAndPublishPayoutTx struct{}

func (t *SellerSignAndPublishPayoutTx) Name() string { return "SellerSignAndPublishPayoutTx" }

func (t *SellerSignAndPublishPayoutTx) Run(
	ctx context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	if trade.IsPayoutPublished() {
		return nil
	}
	if len(pm.TradePeer.PayoutTxSig) == 0 {
		return fmt.Errorf("%w: buyer payout signature not yet received", domain.ErrPrecondition)
	}

	depositTx, err := trade.DepositTransaction()
	if err != nil {
		return err
	}
	buyerAddr, sellerAddr := buyerSellerPayoutAddresses(pm, trade)
	tx, err := txbuilder.BuildPayoutTx(
		depositTx,
		trade.BuyerPayoutAmount(), trade.SellerPayoutAmount(),
		buyerAddr, sellerAddr, pm.Params,
	)
	if err != nil {
		return fmt.Errorf("building payout tx: %w", err)
	}

	buyerKey, sellerKey := buyerSellerPubKeys(pm, trade)
	witnessScript, err := txbuilder.MultiSigScript(buyerKey, sellerKey)
	if err != nil {
		return fmt.Errorf("building multisig script: %w", err)
	}
	if err := txbuilder.VerifyMultiSigSignature(
		tx, 0, trade.MultiSigOutputAmount(), witnessScript,
		pm.TradePeer.PayoutTxSig, buyerKey,
	); err != nil {
		trade.EscalateDispute(domain.MediationRequested)
		return fmt.Errorf("verifying buyer payout signature: %w", err)
	}

	key, err := pm.Wallet.MultiSigKey(ctx, trade.Id)
	if err != nil {
		return fmt.Errorf("loading multisig key: %w", err)
	}
	mySig, err := txbuilder.SignMultiSigInput(
		tx, 0, trade.MultiSigOutputAmount(), witnessScript, key,
	)
	if err != nil {
		return fmt.Errorf("signing payout tx: %w", err)
	}
	if err := txbuilder.FinalizeMultiSigInput(
		tx, 0, pm.TradePeer.PayoutTxSig, mySig, witnessScript,
	); err != nil {
		return err
	}

	raw, err := domain.SerializeTx(tx)
	if err != nil {
		return fmt.Errorf("serializing payout tx: %w", err)
	}
	if err := trade.ApplyPayoutTx(raw); err != nil {
		return err
	}
	if _, err := pm.Wallet.Broadcast(ctx, tx); err != nil {
		return fmt.Errorf("broadcasting payout tx: %w", err)
	}
	trade.TryAdvance(domain.StateSellerPublishedPayoutTx)
	return nil
}

// SellerSendPayoutPublishedMessage notifies the buyer under the resend
// policy; loss of this message would leave the buyer watching forever.
type SellerSendPayoutPublishedMessage struct {
	Sender func(*reliableSender)
}

func (t *SellerSendPayoutPublishedMessage) Name() string {
	return "SellerSendPayoutPublishedMessage"
}

func (t *SellerSendPayoutPublishedMessage) Run(
	ctx context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	msg := &PayoutPublishedMessage{
		Envelope: Envelope{
			TradeId: trade.Id,
			Uid:     MessageUid(trade.Id, pm.MyNodeAddress+"/payout-published"),
		},
		PayoutTx: trade.PayoutTx,
	}

	sender := newReliableSender(
		pm.Messenger, pm.TradePeer.NodeAddress, pm.TradePeer.PubKey,
		msg, pm.ResendInterval,
	)
	trade.TryAdvance(domain.StateSellerSentPayoutTxPublishedMsg)
	outcome, err := sender.Start(ctx)
	if t.Sender != nil {
		t.Sender(sender)
	}

	advanceBySendOutcome(trade, outcome, err,
		domain.StateSellerSawArrivedPayoutTxPublishedMsg,
		domain.StateSellerStoredInMailboxPayoutTxPublishedMsg,
		domain.StateSellerSendFailedPayoutTxPublishedMsg,
	)
	return nil
}

func parseRawTx(raw []byte) (*wire.MsgTx, error) {
	if len(raw) == 0 {
		return nil, &domain.MissingTxError{Desc: "transaction bytes"}
	}
	tx := &wire.MsgTx{}
	if err := tx.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("parsing transaction: %w", err)
	}
	return tx, nil
}
