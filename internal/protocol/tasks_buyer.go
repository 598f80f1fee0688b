package protocol

import (
	"bytes"
	"context"
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/pkg/txbuilder"
)

// BuyerProcessDelayedPayoutSignatureRequest validates the seller's delayed
// payout transaction against the trade terms, the donation allow-list and
// the prepared deposit outpoint, then checks the seller's signature.
// Validation happens strictly before any signing of our own.
type BuyerProcessDelayedPayoutSignatureRequest struct {
	Msg *DelayedPayoutSignatureRequest
}

func (t *BuyerProcessDelayedPayoutSignatureRequest) Name() string {
	return "BuyerProcessDelayedPayoutSignatureRequest"
}

func (t *BuyerProcessDelayedPayoutSignatureRequest) Run(
	_ context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	msg := t.Msg
	if len(msg.DelayedPayoutTx) == 0 {
		return &domain.MissingTxError{Desc: "delayed payout tx"}
	}
	if len(msg.SellerSignature) == 0 {
		return fmt.Errorf("%w: seller delayed payout signature missing", domain.ErrPrecondition)
	}

	tx, err := parseRawTx(msg.DelayedPayoutTx)
	if err != nil {
		return err
	}
	if err := domain.ValidateDelayedPayoutTx(
		tx, trade, pm.Params, pm.DonationAllowList,
	); err != nil {
		return err
	}
	depositTx, err := parseRawTx(pm.PreparedDepositTx)
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
	if err := txbuilder.VerifyMultiSigSignature(
		tx, 0, trade.MultiSigOutputAmount(), witnessScript,
		msg.SellerSignature, sellerKey,
	); err != nil {
		return fmt.Errorf("verifying seller delayed payout signature: %w", err)
	}

	pm.DelayedPayoutTx = msg.DelayedPayoutTx
	pm.TradePeer.DelayedPayoutTxSig = msg.SellerSignature
	return nil
}

// BuyerSignDelayedPayoutTx attaches the buyer's multisig signature to the
// already validated delayed payout transaction.
type BuyerSignDelayedPayoutTx struct{}

func (t *BuyerSignDelayedPayoutTx) Name() string { return "BuyerSignDelayedPayoutTx" }

func (t *BuyerSignDelayedPayoutTx) Run(
	ctx context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	if len(pm.MyDelayedPayoutSig) > 0 {
		return nil
	}

	tx, err := parseRawTx(pm.DelayedPayoutTx)
	if err != nil {
		return err
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
	pm.MyDelayedPayoutSig = sig
	return nil
}

// BuyerSendDelayedPayoutSignatureResponse returns the buyer's delayed
// payout and contract signatures to the seller.
type BuyerSendDelayedPayoutSignatureResponse struct{}

func (t *BuyerSendDelayedPayoutSignatureResponse) Name() string {
	return "BuyerSendDelayedPayoutSignatureResponse"
}

func (t *BuyerSendDelayedPayoutSignatureResponse) Run(
	ctx context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	contractSig := trade.TakerContractSig
	if trade.Role.IsMaker() {
		contractSig = trade.MakerContractSig
	}
	msg := &DelayedPayoutSignatureResponse{
		Envelope: Envelope{
			TradeId: trade.Id,
			Uid:     MessageUid(trade.Id, pm.MyNodeAddress+"/delayed-payout"),
		},
		BuyerSignature:   pm.MyDelayedPayoutSig,
		BuyerContractSig: contractSig,
	}
	if _, err := pm.Messenger.SendEncrypted(
		ctx, pm.TradePeer.NodeAddress, pm.TradePeer.PubKey, msg,
	); err != nil {
		return fmt.Errorf("sending delayed payout signature response: %w", err)
	}
	return nil
}

// BuyerProcessDepositAndDelayedPayoutMessage handles the seller's
// publication notice: cross-checks the contract hash, applies both
// transactions, commits the deposit into the local wallet view and releases
// the address reservation back to the pool.
type BuyerProcessDepositAndDelayedPayoutMessage struct {
	Msg *DepositAndDelayedPayoutMessage
}

func (t *BuyerProcessDepositAndDelayedPayoutMessage) Name() string {
	return "BuyerProcessDepositAndDelayedPayoutMessage"
}

func (t *BuyerProcessDepositAndDelayedPayoutMessage) Run(
	ctx context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	msg := t.Msg
	if len(msg.DepositTx) == 0 {
		return &domain.MissingTxError{Desc: "deposit tx"}
	}
	if len(msg.DelayedPayoutTx) == 0 {
		return &domain.MissingTxError{Desc: "delayed payout tx"}
	}
	if !bytes.Equal(msg.ContractHash, trade.ContractHash) {
		return domain.ErrContractHashMismatch
	}

	if err := trade.ApplyDepositTx(msg.DepositTx); err != nil {
		return err
	}
	if err := trade.ApplyDelayedPayoutTx(msg.DelayedPayoutTx); err != nil {
		return err
	}

	delayedTx, err := trade.DelayedPayoutTransaction()
	if err != nil {
		return err
	}
	if err := domain.ValidateDelayedPayoutTx(
		delayedTx, trade, pm.Params, pm.DonationAllowList,
	); err != nil {
		return err
	}
	depositTx, err := trade.DepositTransaction()
	if err != nil {
		return err
	}
	if err := domain.ValidatePayoutTxInput(depositTx, delayedTx); err != nil {
		return err
	}

	if err := pm.Wallet.CommitTransaction(ctx, depositTx); err != nil {
		return fmt.Errorf("committing deposit tx: %w", err)
	}
	pm.ReleaseReservation()

	trade.TryAdvance(domain.StateBuyerReceivedDepositTxPublishedMsg)
	return nil
}

// BuyerConfirmFiatInitiated records the buyer's confirmation that the fiat
// leg was started.
type BuyerConfirmFiatInitiated struct{}

func (t *BuyerConfirmFiatInitiated) Name() string { return "BuyerConfirmFiatInitiated" }

func (t *BuyerConfirmFiatInitiated) Run(
	_ context.Context, _ *ProcessModel, trade *domain.Trade,
) error {
	trade.TryAdvance(domain.StateBuyerConfirmedFiatPaymentInitiated)
	return nil
}

// BuyerSignPayoutTx builds the cooperative payout transaction and produces
// the buyer's multisig signature over it. Only the signature travels to the
// seller; the transaction itself is re-derived there.
type BuyerSignPayoutTx struct{}

func (t *BuyerSignPayoutTx) Name() string { return "BuyerSignPayoutTx" }

func (t *BuyerSignPayoutTx) Run(
	ctx context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	if len(pm.MyPayoutSig) > 0 {
		return nil
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
		return fmt.Errorf("signing payout tx: %w", err)
	}
	pm.MyPayoutSig = sig
	return nil
}

// BuyerSendFiatTransferStartedMessage announces the fiat transfer together
// with the buyer's payout signature. Receipt is economically critical, so
// the message goes through the resend policy until acked.
type BuyerSendFiatTransferStartedMessage struct {
	CounterCurrencyTxId string
	Sender              func(*reliableSender)
}

func (t *BuyerSendFiatTransferStartedMessage) Name() string {
	return "BuyerSendFiatTransferStartedMessage"
}

func (t *BuyerSendFiatTransferStartedMessage) Run(
	ctx context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	msg := &FiatTransferStartedMessage{
		Envelope: Envelope{
			TradeId: trade.Id,
			Uid:     MessageUid(trade.Id, pm.MyNodeAddress+"/fiat-started"),
		},
		BuyerPayoutTxSignature: pm.MyPayoutSig,
		CounterCurrencyTxId:    t.CounterCurrencyTxId,
	}

	sender := newReliableSender(
		pm.Messenger, pm.TradePeer.NodeAddress, pm.TradePeer.PubKey,
		msg, pm.ResendInterval,
	)
	trade.TryAdvance(domain.StateBuyerSentFiatPaymentInitiatedMsg)
	outcome, err := sender.Start(ctx)
	if t.Sender != nil {
		t.Sender(sender)
	}

	advanceBySendOutcome(trade, outcome, err,
		domain.StateBuyerSawArrivedFiatPaymentInitiatedMsg,
		domain.StateBuyerStoredInMailboxFiatPaymentInitiatedMsg,
		domain.StateBuyerSendFailedFiatPaymentInitiatedMsg,
	)
	return nil
}

// BuyerProcessFiatReceivedMessage applies the seller's receipt
// confirmation. Arriving after the payout was already seen, it only runs
// its side effects and does not regress the state.
type BuyerProcessFiatReceivedMessage struct {
	Msg *FiatReceivedMessage
}

func (t *BuyerProcessFiatReceivedMessage) Name() string {
	return "BuyerProcessFiatReceivedMessage"
}

func (t *BuyerProcessFiatReceivedMessage) Run(
	_ context.Context, _ *ProcessModel, trade *domain.Trade,
) error {
	trade.TryAdvance(domain.StateBuyerReceivedFiatPaymentReceiptMsg)
	return nil
}

// BuyerProcessPayoutPublishedMessage records the broadcast payout
// transaction on the trade.
type BuyerProcessPayoutPublishedMessage struct {
	Msg *PayoutPublishedMessage
}

func (t *BuyerProcessPayoutPublishedMessage) Name() string {
	return "BuyerProcessPayoutPublishedMessage"
}

func (t *BuyerProcessPayoutPublishedMessage) Run(
	ctx context.Context, pm *ProcessModel, trade *domain.Trade,
) error {
	if len(t.Msg.PayoutTx) == 0 {
		return &domain.MissingTxError{Desc: "payout tx"}
	}
	if err := trade.ApplyPayoutTx(t.Msg.PayoutTx); err != nil {
		return err
	}

	// The fiat-started message is now obsolete; drop any mailbox copy.
	uid := MessageUid(trade.Id, pm.MyNodeAddress+"/fiat-started")
	if err := pm.Messenger.RemoveMailboxEntry(ctx, uid); err != nil {
		log.WithError(err).Warnf(
			"trade %s: could not remove obsolete mailbox entry", trade.Id,
		)
	}

	trade.TryAdvance(domain.StateBuyerReceivedPayoutTxPublishedMsg)
	return nil
}
