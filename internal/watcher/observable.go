package watcher

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/escrow-network/escrow-daemon/internal/core/ports"
)

const (
	statusNew       observationStatus = "NEW"
	statusWaiting   observationStatus = "WAITING"
	statusProcessed observationStatus = "PROCESSED"
)

type observationStatus string

type observableState struct {
	sync.RWMutex
	status observationStatus
}

func newObservableState() *observableState {
	return &observableState{status: statusNew}
}

func (o *observableState) Get() observationStatus {
	o.RLock()
	defer o.RUnlock()
	return o.status
}

func (o *observableState) Set(status observationStatus) {
	o.Lock()
	defer o.Unlock()
	o.status = status
}

// Observable represents an object that can be observed on the blockchain.
type Observable interface {
	observe(
		oracle ports.ChainOracle,
		errChan chan error,
		eventChan chan Event,
		state *observableState,
		rateLimiter *rate.Limiter,
		breaker *gobreaker.CircuitBreaker,
	)
	Key() string
}

// TransactionObservable watches a single transaction id until it is seen,
// then confirmed, on the network.
type TransactionObservable struct {
	TradeId string
	TxId    string

	seenReported bool
}

func (t *TransactionObservable) observe(
	oracle ports.ChainOracle,
	errChan chan error,
	eventChan chan Event,
	state *observableState,
	rateLimiter *rate.Limiter,
	breaker *gobreaker.CircuitBreaker,
) {
	if t == nil {
		return
	}

	state.Set(statusWaiting)
	if err := rateLimiter.Wait(context.Background()); err != nil {
		errChan <- err
		return
	}

	res, err := breaker.Execute(func() (interface{}, error) {
		return oracle.GetTransactionStatus(context.Background(), t.TxId)
	})
	if err != nil {
		errChan <- err
		return
	}
	status := res.(ports.TxStatus)
	state.Set(statusProcessed)

	if !status.Found {
		return
	}

	if status.Confirmed {
		eventChan <- TransactionEvent{
			EventType: TransactionConfirmed,
			TradeId:   t.TradeId,
			TxId:      t.TxId,
			TxHex:     status.TxHex,
		}
		return
	}

	if !t.seenReported {
		t.seenReported = true
		eventChan <- TransactionEvent{
			EventType: TransactionSeen,
			TradeId:   t.TradeId,
			TxId:      t.TxId,
			TxHex:     status.TxHex,
		}
	}
}

func (t *TransactionObservable) Key() string {
	return t.TxId
}

// AddressObservable watches an address for transactions touching it.
type AddressObservable struct {
	TradeId string
	Address string
}

func (a *AddressObservable) observe(
	oracle ports.ChainOracle,
	errChan chan error,
	eventChan chan Event,
	state *observableState,
	rateLimiter *rate.Limiter,
	breaker *gobreaker.CircuitBreaker,
) {
	if a == nil {
		return
	}

	state.Set(statusWaiting)
	if err := rateLimiter.Wait(context.Background()); err != nil {
		errChan <- err
		return
	}

	res, err := breaker.Execute(func() (interface{}, error) {
		return oracle.GetTransactionsForAddress(context.Background(), a.Address)
	})
	if err != nil {
		errChan <- err
		return
	}
	txs := res.([]ports.AddressTx)
	state.Set(statusProcessed)

	for _, tx := range txs {
		eventChan <- AddressEvent{
			EventType: AddressFundedTx,
			TradeId:   a.TradeId,
			Address:   a.Address,
			TxId:      tx.TxId,
			Confirmed: tx.Confirmed,
		}
	}
}

func (a *AddressObservable) Key() string {
	return a.Address
}

type observableHandler struct {
	observable  Observable
	oracle      ports.ChainOracle
	wg          *sync.WaitGroup
	ticker      *time.Ticker
	eventChan   chan Event
	errChan     chan error
	stopChan    chan int
	state       *observableState
	rateLimiter *rate.Limiter
	breaker     *gobreaker.CircuitBreaker
}

func newObservableHandler(
	observable Observable,
	oracle ports.ChainOracle,
	wg *sync.WaitGroup,
	interval int,
	eventChan chan Event,
	errChan chan error,
	rateLimiter *rate.Limiter,
	breaker *gobreaker.CircuitBreaker,
) *observableHandler {
	ticker := time.NewTicker(time.Duration(interval) * time.Millisecond)
	stopChan := make(chan int, 1)

	return &observableHandler{
		observable,
		oracle,
		wg,
		ticker,
		eventChan,
		errChan,
		stopChan,
		newObservableState(),
		rateLimiter,
		breaker,
	}
}

// start runs the polling loop. The caller must have incremented the
// wait group before spawning it, so a stop racing the spawn cannot
// underflow the counter.
func (oh *observableHandler) start() {
	log.Debugf("start observing: %v", oh.observable.Key())
	for {
		select {
		case <-oh.ticker.C:
			if oh.state.Get() != statusWaiting {
				oh.observable.observe(
					oh.oracle,
					oh.errChan,
					oh.eventChan,
					oh.state,
					oh.rateLimiter,
					oh.breaker,
				)
			}
		case <-oh.stopChan:
			oh.ticker.Stop()
			close(oh.stopChan)
			return
		}
	}
}

func (oh *observableHandler) stop() {
	log.Debugf("stop observing: %v", oh.observable.Key())
	oh.stopChan <- 1
	oh.wg.Done()
}
