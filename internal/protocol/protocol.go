package protocol

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/core/ports"
)

// TradeProtocol binds inbound messages, chain events and user actions to
// the task pipelines of one trade. There is one protocol instance per open
// trade, driven from the trade's serialized executor.
type TradeProtocol struct {
	pm    *ProcessModel
	trade *domain.Trade

	mtx     sync.Mutex
	senders map[string]*reliableSender
}

func New(pm *ProcessModel, trade *domain.Trade) *TradeProtocol {
	return &TradeProtocol{
		pm:      pm,
		trade:   trade,
		senders: make(map[string]*reliableSender),
	}
}

func (p *TradeProtocol) Trade() *domain.Trade { return p.trade }

// OnMessage routes one inbound message to the pipeline its type and the
// local role prescribe. Unknown combinations are rejected.
func (p *TradeProtocol) OnMessage(ctx context.Context, msg ports.TradeMessage) error {
	isBuyer := p.trade.Role.IsBuyer()
	isMaker := p.trade.Role.IsMaker()

	switch m := msg.(type) {
	case *DepositInputsRequest:
		if !isMaker {
			return fmt.Errorf("deposit inputs request received by non maker")
		}
		tasks := []Task{
			&CheckOfferId{Msg: m},
			&MakerProcessDepositInputsRequest{Msg: m},
			&VerifyRefereeSelection{
				SelectedArbitrator: m.SelectedArbitrator,
				SelectedMediator:   m.SelectedMediator,
				PeerArbitrators:    m.TakerAcceptedArbitrators,
				PeerMediators:      m.TakerAcceptedMediators,
			},
			&VerifyTradePrice{Price: m.TradePrice},
			&SetLockTime{},
			&CreateMultiSigKey{},
			&CreatePayoutAddress{},
			&MakerSelectInputs{},
			&MakerCreateAndSignDepositTx{},
			&MakerCreateAndSignContract{},
			&MakerSendDepositInputsResponse{},
		}
		if !isBuyer {
			// the maker-seller opens the delayed payout round right away
			tasks = append(tasks,
				&SellerCreateAndSignDelayedPayoutTx{},
				&SellerSendDelayedPayoutSignatureRequest{},
			)
		}
		return p.run(ctx, tasks...)

	case *DepositInputsResponse:
		if isMaker {
			return fmt.Errorf("deposit inputs response received by maker")
		}
		tasks := []Task{
			&CheckOfferId{Msg: m},
			&TakerProcessDepositInputsResponse{Msg: m},
			&TakerSignContract{},
		}
		if !isBuyer {
			// the taker-seller drives the delayed payout round
			tasks = append(tasks,
				&SellerCreateAndSignDelayedPayoutTx{},
				&SellerSendDelayedPayoutSignatureRequest{},
			)
		}
		return p.run(ctx, tasks...)

	case *DelayedPayoutSignatureRequest:
		if !isBuyer {
			return fmt.Errorf("delayed payout signature request received by seller")
		}
		return p.run(ctx,
			&CheckOfferId{Msg: m},
			&BuyerProcessDelayedPayoutSignatureRequest{Msg: m},
			&BuyerSignDelayedPayoutTx{},
			&BuyerSendDelayedPayoutSignatureResponse{},
		)

	case *DelayedPayoutSignatureResponse:
		if isBuyer {
			return fmt.Errorf("delayed payout signature response received by buyer")
		}
		return p.run(ctx,
			&CheckOfferId{Msg: m},
			&SellerProcessDelayedPayoutSignatureResponse{Msg: m},
			&SellerFinalizeDelayedPayoutTx{},
			&SellerPublishDepositTx{},
			&SellerSendDepositAndDelayedPayoutMessage{Sender: p.trackSender},
		)

	case *DepositAndDelayedPayoutMessage:
		if !isBuyer {
			return fmt.Errorf("deposit published message received by seller")
		}
		return p.run(ctx,
			&CheckOfferId{Msg: m},
			&BuyerProcessDepositAndDelayedPayoutMessage{Msg: m},
		)

	case *FiatTransferStartedMessage:
		if isBuyer {
			return fmt.Errorf("fiat transfer started message received by buyer")
		}
		return p.run(ctx,
			&CheckOfferId{Msg: m},
			&SellerProcessFiatTransferStartedMessage{Msg: m},
		)

	case *FiatReceivedMessage:
		if !isBuyer {
			return fmt.Errorf("fiat received message received by seller")
		}
		return p.run(ctx,
			&CheckOfferId{Msg: m},
			&BuyerProcessFiatReceivedMessage{Msg: m},
		)

	case *PayoutPublishedMessage:
		if !isBuyer {
			return fmt.Errorf("payout published message received by seller")
		}
		return p.run(ctx,
			&CheckOfferId{Msg: m},
			&BuyerProcessPayoutPublishedMessage{Msg: m},
		)

	case *AtomicCreateRequest:
		if !isMaker {
			return fmt.Errorf("atomic create request received by non maker")
		}
		return p.run(ctx,
			&CheckOfferId{Msg: m},
			&AtomicChecks{Msg: m, OwnOfferIds: p.pm.OwnOfferIds, Fees: p.pm.FeeSchedule},
			&MakerCompleteAtomicTx{Msg: m},
		)

	case *AtomicCreateResponse:
		if isMaker {
			return fmt.Errorf("atomic create response received by maker")
		}
		return p.run(ctx,
			&CheckOfferId{Msg: m},
			&TakerProcessAtomicCreateResponse{Msg: m},
		)

	default:
		return fmt.Errorf("unhandled message type %T for trade %s", msg, p.trade.Id)
	}
}

// TakeOffer starts the taker side: key and address setup, referee
// selection, input reservation and the opening request.
func (p *TradeProtocol) TakeOffer(
	ctx context.Context, acceptedArbitrators, acceptedMediators []string,
) error {
	if p.trade.Role.IsMaker() {
		return fmt.Errorf("take offer invoked on maker trade %s", p.trade.Id)
	}
	return p.run(ctx,
		&CreateMultiSigKey{},
		&CreatePayoutAddress{},
		&TakerSelectReferees{
			AcceptedArbitrators: acceptedArbitrators,
			AcceptedMediators:   acceptedMediators,
		},
		&TakerSelectInputs{},
		&TakerSendDepositInputsRequest{
			AcceptedArbitrators: acceptedArbitrators,
			AcceptedMediators:   acceptedMediators,
		},
	)
}

// OnFiatPaymentInitiated is the buyer's user action confirming the fiat leg
// was started.
func (p *TradeProtocol) OnFiatPaymentInitiated(ctx context.Context, counterCurrencyTxId string) error {
	if !p.trade.Role.IsBuyer() {
		return fmt.Errorf("fiat payment initiated on seller trade %s", p.trade.Id)
	}
	return p.run(ctx,
		&BuyerConfirmFiatInitiated{},
		&BuyerSignPayoutTx{},
		&BuyerSendFiatTransferStartedMessage{
			CounterCurrencyTxId: counterCurrencyTxId,
			Sender:              p.trackSender,
		},
	)
}

// OnFiatPaymentReceived is the seller's user action confirming receipt of
// the fiat leg. It triggers the payout round.
func (p *TradeProtocol) OnFiatPaymentReceived(ctx context.Context) error {
	if p.trade.Role.IsBuyer() {
		return fmt.Errorf("fiat payment received on buyer trade %s", p.trade.Id)
	}
	return p.run(ctx,
		&SellerConfirmFiatReceived{},
		&SellerSendFiatReceivedMessage{},
		&SellerSignAndPublishPayoutTx{},
		&SellerSendPayoutPublishedMessage{Sender: p.trackSender},
	)
}

// OnDepositTxSeen applies network visibility of the deposit transaction.
func (p *TradeProtocol) OnDepositTxSeen(confirmed bool) {
	if p.trade.Role.IsBuyer() {
		p.trade.TryAdvance(domain.StateBuyerSawDepositTxInNetwork)
	}
	if confirmed {
		p.trade.TryAdvance(domain.StateDepositConfirmedInBlockchain)
	}
}

// OnPayoutTxSeen applies network visibility of the payout transaction.
func (p *TradeProtocol) OnPayoutTxSeen(rawTx []byte) {
	if len(rawTx) > 0 {
		if err := p.trade.ApplyPayoutTx(rawTx); err != nil {
			log.WithError(err).Warnf(
				"trade %s: payout tx from network conflicts with recorded one",
				p.trade.Id,
			)
		}
	}
	if p.trade.Role.IsBuyer() {
		p.trade.TryAdvance(domain.StateBuyerSawPayoutTxInNetwork)
	}
}

// OnWithdrawCompleted is the user action moving the payout to an external
// address; it marks the trade closed.
func (p *TradeProtocol) OnWithdrawCompleted() {
	p.trade.TryAdvance(domain.StateWithdrawCompleted)
}

// Teardown stops all resend loops. Idempotent; called on terminal state or
// abandonment.
func (p *TradeProtocol) Teardown() {
	p.mtx.Lock()
	senders := make([]*reliableSender, 0, len(p.senders))
	for _, s := range p.senders {
		senders = append(senders, s)
	}
	p.senders = make(map[string]*reliableSender)
	p.mtx.Unlock()

	for _, s := range senders {
		s.Stop()
	}
	p.pm.ReleaseReservation()
}

func (p *TradeProtocol) trackSender(s *reliableSender) {
	p.mtx.Lock()
	defer p.mtx.Unlock()
	if old, ok := p.senders[s.msg.GetUid()]; ok && old != s {
		go old.Stop()
	}
	p.senders[s.msg.GetUid()] = s
}

func (p *TradeProtocol) run(ctx context.Context, tasks ...Task) error {
	runner := NewTaskRunner(p.pm, p.trade, func(taskName string, err error) {
		log.WithError(err).Errorf(
			"trade %s: pipeline aborted at %s", p.trade.Id, taskName,
		)
	})
	return runner.Run(ctx, tasks...)
}
