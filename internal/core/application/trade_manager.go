// Package application coordinates the trade protocol with the persistence
// layer and the blockchain watcher. It owns one protocol instance and one
// serialized executor per open trade and is the only entry point through
// which messages, user actions and chain events reach a trade.
package application

import (
	"context"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/core/ports"
	"github.com/escrow-network/escrow-daemon/internal/protocol"
	"github.com/escrow-network/escrow-daemon/internal/watcher"
)

// ProcessModelFactory builds the per-trade working state. The node wiring
// (wallet, messenger, oracle, network parameters, donation policy) is
// captured by the factory so the manager stays agnostic of it.
type ProcessModelFactory func(trade *domain.Trade) *protocol.ProcessModel

// TradeManager is the application facade over all open trades.
type TradeManager interface {
	// Start restores the open trades from the repository and begins
	// consuming blockchain events.
	Start(ctx context.Context) error
	// Stop tears down all protocol instances and the watcher.
	Stop()
	// RegisterTrade registers a freshly created trade, typically the maker
	// side at offer publication time, and persists it.
	RegisterTrade(ctx context.Context, trade *domain.Trade) error
	// TakeOffer creates the taker side of a trade and runs the opening round.
	TakeOffer(
		ctx context.Context,
		offer domain.Offer, role domain.Role, amount int64, price string,
		acceptedArbitrators, acceptedMediators []string,
	) (*domain.Trade, error)
	// OnTradeMessage routes one inbound message to its trade.
	OnTradeMessage(ctx context.Context, msg ports.TradeMessage) error
	// ConfirmFiatPaymentInitiated is the buyer's confirmation that the fiat
	// leg was started.
	ConfirmFiatPaymentInitiated(ctx context.Context, tradeId, counterCurrencyTxId string) error
	// ConfirmFiatPaymentReceived is the seller's confirmation of receipt.
	ConfirmFiatPaymentReceived(ctx context.Context, tradeId string) error
	// CompleteWithdraw marks the payout as withdrawn and closes the trade.
	CompleteWithdraw(ctx context.Context, tradeId string) error
	// GetTrade returns one trade by id.
	GetTrade(ctx context.Context, tradeId string) (*domain.Trade, error)
	// ListTrades returns all trades, archived ones included.
	ListTrades(ctx context.Context) ([]*domain.Trade, error)
}

// TradeManagerOpts defines the dependencies of NewTradeManager.
type TradeManagerOpts struct {
	Repository      domain.TradeRepository
	Watcher         watcher.Service
	NewProcessModel ProcessModelFactory
}

type managedTrade struct {
	protocol *protocol.TradeProtocol
	executor *tradeExecutor
	terminal int32
	teardown sync.Once
}

func (mt *managedTrade) setTerminal(terminal bool) {
	var v int32
	if terminal {
		v = 1
	}
	atomic.StoreInt32(&mt.terminal, v)
}

func (mt *managedTrade) isTerminal() bool {
	return atomic.LoadInt32(&mt.terminal) == 1
}

type tradeManager struct {
	repository      domain.TradeRepository
	watcher         watcher.Service
	newProcessModel ProcessModelFactory

	mtx    sync.RWMutex
	trades map[string]*managedTrade

	stopOnce sync.Once
}

// NewTradeManager returns a manager with no trades attached yet. Call Start
// to restore persisted trades and begin watching the chain.
func NewTradeManager(opts TradeManagerOpts) (TradeManager, error) {
	if opts.Repository == nil {
		return nil, fmt.Errorf("trade manager: missing repository")
	}
	if opts.Watcher == nil {
		return nil, fmt.Errorf("trade manager: missing watcher")
	}
	if opts.NewProcessModel == nil {
		return nil, fmt.Errorf("trade manager: missing process model factory")
	}
	return &tradeManager{
		repository:      opts.Repository,
		watcher:         opts.Watcher,
		newProcessModel: opts.NewProcessModel,
		trades:          make(map[string]*managedTrade),
	}, nil
}

func (m *tradeManager) Start(ctx context.Context) error {
	trades, err := m.repository.GetOpenTrades(ctx)
	if err != nil {
		return fmt.Errorf("restoring open trades: %w", err)
	}
	for _, trade := range trades {
		m.attach(trade)
		log.Debugf(
			"restored trade %s in state %s", trade.Id, trade.State,
		)
	}

	go m.watcher.Start()
	go m.listenToChainEvents()
	return nil
}

func (m *tradeManager) Stop() {
	m.stopOnce.Do(func() {
		m.mtx.Lock()
		trades := make([]*managedTrade, 0, len(m.trades))
		for _, mt := range m.trades {
			trades = append(trades, mt)
		}
		m.trades = make(map[string]*managedTrade)
		m.mtx.Unlock()

		for _, mt := range trades {
			mt.executor.stop()
			mt.teardown.Do(mt.protocol.Teardown)
		}
		m.watcher.Stop()
	})
}

func (m *tradeManager) RegisterTrade(ctx context.Context, trade *domain.Trade) error {
	if err := m.repository.AddTrade(ctx, trade); err != nil {
		return err
	}
	m.attach(trade)
	return nil
}

func (m *tradeManager) TakeOffer(
	ctx context.Context,
	offer domain.Offer, role domain.Role, amount int64, price string,
	acceptedArbitrators, acceptedMediators []string,
) (*domain.Trade, error) {
	if role.IsMaker() {
		return nil, fmt.Errorf("take offer requires a taker role, got %s", role)
	}
	trade := domain.NewTrade(offer, role, amount, price, time.Now().Unix())
	if err := m.RegisterTrade(ctx, trade); err != nil {
		return nil, err
	}
	if err := m.dispatch(ctx, trade.Id, func(p *protocol.TradeProtocol) error {
		return p.TakeOffer(ctx, acceptedArbitrators, acceptedMediators)
	}); err != nil {
		return nil, err
	}
	return trade, nil
}

func (m *tradeManager) OnTradeMessage(ctx context.Context, msg ports.TradeMessage) error {
	return m.dispatch(ctx, msg.GetTradeId(), func(p *protocol.TradeProtocol) error {
		return p.OnMessage(ctx, msg)
	})
}

func (m *tradeManager) ConfirmFiatPaymentInitiated(
	ctx context.Context, tradeId, counterCurrencyTxId string,
) error {
	return m.dispatch(ctx, tradeId, func(p *protocol.TradeProtocol) error {
		return p.OnFiatPaymentInitiated(ctx, counterCurrencyTxId)
	})
}

func (m *tradeManager) ConfirmFiatPaymentReceived(ctx context.Context, tradeId string) error {
	return m.dispatch(ctx, tradeId, func(p *protocol.TradeProtocol) error {
		return p.OnFiatPaymentReceived(ctx)
	})
}

func (m *tradeManager) CompleteWithdraw(ctx context.Context, tradeId string) error {
	return m.dispatch(ctx, tradeId, func(p *protocol.TradeProtocol) error {
		p.OnWithdrawCompleted()
		return nil
	})
}

func (m *tradeManager) GetTrade(ctx context.Context, tradeId string) (*domain.Trade, error) {
	return m.repository.GetTrade(ctx, tradeId)
}

func (m *tradeManager) ListTrades(ctx context.Context) ([]*domain.Trade, error) {
	return m.repository.GetAllTrades(ctx)
}

// attach builds the protocol instance and executor of a trade and indexes
// them. Observables for already known transactions are re-registered so a
// restarted daemon keeps watching where it left off.
func (m *tradeManager) attach(trade *domain.Trade) *managedTrade {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	if mt, ok := m.trades[trade.Id]; ok {
		return mt
	}
	mt := &managedTrade{
		protocol: protocol.New(m.newProcessModel(trade), trade),
		executor: newTradeExecutor(),
	}
	m.trades[trade.Id] = mt
	m.syncObservables(trade)
	return mt
}

// dispatch runs fn on the trade's executor, persists the trade afterwards
// whatever the pipeline outcome, and closes the trade once it reached a
// terminal state.
func (m *tradeManager) dispatch(
	ctx context.Context, tradeId string, fn func(p *protocol.TradeProtocol) error,
) error {
	m.mtx.RLock()
	mt, ok := m.trades[tradeId]
	m.mtx.RUnlock()
	if !ok {
		return domain.ErrTradeNotFound
	}

	err := mt.executor.do(ctx, func() error {
		runErr := fn(mt.protocol)
		trade := mt.protocol.Trade()
		if persistErr := m.persist(trade); persistErr != nil {
			log.WithError(persistErr).Errorf("trade %s: persisting failed", trade.Id)
			if runErr == nil {
				runErr = persistErr
			}
		}
		m.syncObservables(trade)
		mt.setTerminal(trade.IsTerminal())
		return runErr
	})

	if mt.isTerminal() {
		m.close(tradeId, mt)
	}
	return err
}

// persist replaces the stored trade with the in-memory aggregate. The
// repository closure reloads the stored row only to keep the write inside
// one badger transaction.
func (m *tradeManager) persist(trade *domain.Trade) error {
	return m.repository.UpdateTrade(
		context.Background(), trade.Id,
		func(_ *domain.Trade) (*domain.Trade, error) {
			return trade, nil
		},
	)
}

// syncObservables subscribes the watcher to the transactions the trade
// still needs visibility on. AddObservable is idempotent per key, so
// calling it after each pipeline run is safe; transactions that already
// served their purpose are skipped so a removed observable is not
// resurrected.
func (m *tradeManager) syncObservables(trade *domain.Trade) {
	if trade.IsTerminal() {
		return
	}
	if len(trade.DepositTxId) > 0 &&
		trade.State.Ordinal() < domain.StateDepositConfirmedInBlockchain.Ordinal() {
		m.watcher.AddObservable(&watcher.TransactionObservable{
			TradeId: trade.Id, TxId: trade.DepositTxId,
		})
	}
	if len(trade.DelayedPayoutTxId) > 0 {
		m.watcher.AddObservable(&watcher.TransactionObservable{
			TradeId: trade.Id, TxId: trade.DelayedPayoutTxId,
		})
	}
	if len(trade.PayoutTxId) > 0 &&
		trade.State.Ordinal() < domain.StateBuyerSawPayoutTxInNetwork.Ordinal() {
		m.watcher.AddObservable(&watcher.TransactionObservable{
			TradeId: trade.Id, TxId: trade.PayoutTxId,
		})
	}
}

// close archives a terminal trade and releases everything attached to it.
func (m *tradeManager) close(tradeId string, mt *managedTrade) {
	m.mtx.Lock()
	if _, ok := m.trades[tradeId]; !ok {
		m.mtx.Unlock()
		return
	}
	delete(m.trades, tradeId)
	m.mtx.Unlock()

	mt.executor.stop()
	mt.teardown.Do(mt.protocol.Teardown)
	m.watcher.RemoveObservablesForTrade(tradeId)

	trade := mt.protocol.Trade()
	trade.Archive()
	if err := m.persist(trade); err != nil {
		log.WithError(err).Errorf("trade %s: archiving failed", trade.Id)
	}
	log.Infof("trade %s closed in state %s", trade.Id, trade.State)
}

func (m *tradeManager) listenToChainEvents() {
	for event := range m.watcher.GetEventChannel() {
		switch ev := event.(type) {
		case watcher.TransactionEvent:
			m.onTransactionEvent(ev)
		case watcher.AddressEvent:
			log.Debugf(
				"trade %s: address %s touched by tx %s",
				ev.TradeId, ev.Address, ev.TxId,
			)
		case watcher.QuitEvent:
			return
		}
	}
}

func (m *tradeManager) onTransactionEvent(ev watcher.TransactionEvent) {
	confirmed := ev.EventType == watcher.TransactionConfirmed
	if confirmed {
		m.watcher.RemoveObservable(&watcher.TransactionObservable{
			TradeId: ev.TradeId, TxId: ev.TxId,
		})
	}

	err := m.dispatch(context.Background(), ev.TradeId, func(p *protocol.TradeProtocol) error {
		trade := p.Trade()
		switch ev.TxId {
		case trade.DepositTxId:
			p.OnDepositTxSeen(confirmed)
		case trade.DelayedPayoutTxId:
			// the time-locked fallback hit the chain, the cooperative path
			// is over
			trade.EscalateDispute(domain.RefundStartedByPeer)
		case trade.PayoutTxId:
			var rawTx []byte
			if len(ev.TxHex) > 0 {
				decoded, err := hex.DecodeString(ev.TxHex)
				if err != nil {
					return fmt.Errorf("decoding payout tx from network: %w", err)
				}
				rawTx = decoded
			}
			p.OnPayoutTxSeen(rawTx)
		}
		return nil
	})
	if err != nil && err != domain.ErrTradeNotFound {
		log.WithError(err).Errorf("trade %s: applying chain event failed", ev.TradeId)
	}
}
