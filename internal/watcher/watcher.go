// Package watcher provides the async completion path of the trade protocol:
// it polls the chain oracle for address and transaction visibility so a
// trade advances even if the counterparty never sends the corresponding
// message.
package watcher

import (
	"sync"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/escrow-network/escrow-daemon/internal/core/ports"
	"github.com/escrow-network/escrow-daemon/pkg/circuitbreaker"
)

const (
	eventQueueMaxSize = 100
	errorQueueMaxSize = 10
)

// Service is the interface of the blockchain watcher.
type Service interface {
	Start()
	Stop()
	AddObservable(observable Observable)
	RemoveObservable(observable Observable)
	RemoveObservablesForTrade(tradeId string)
	GetEventChannel() chan Event
}

type watcherService struct {
	interval     int
	oracle       ports.ChainOracle
	errChan      chan error
	eventChan    chan Event
	observables  map[string]*observableHandler
	errorHandler func(err error)
	rateLimiter  *rate.Limiter
	breaker      *gobreaker.CircuitBreaker
	mutex        *sync.RWMutex
	wg           *sync.WaitGroup
}

// Opts defines the parameters needed for creating a watcher service with
// NewService.
type Opts struct {
	Oracle                 ports.ChainOracle
	IntervalInMilliseconds int
	RequestsPerSecond      float64
	TokenBurst             int
	ErrorHandler           func(err error)
}

// NewService returns a watcher ready to observe blockchain activity. Use
// Start and Stop to manage it.
func NewService(opts Opts) Service {
	return &watcherService{
		interval:     opts.IntervalInMilliseconds,
		oracle:       opts.Oracle,
		errChan:      make(chan error, errorQueueMaxSize),
		eventChan:    make(chan Event, eventQueueMaxSize),
		observables:  map[string]*observableHandler{},
		errorHandler: opts.ErrorHandler,
		rateLimiter:  rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.TokenBurst),
		breaker:      circuitbreaker.NewCircuitBreaker("watcher"),
		mutex:        &sync.RWMutex{},
		wg:           &sync.WaitGroup{},
	}
}

// Start consumes the error channel until the service stops.
func (w *watcherService) Start() {
	for err := range w.errChan {
		go w.errorHandler(err)
	}
}

// Stop tears down all observable handlers and signals consumers via a
// QuitEvent.
func (w *watcherService) Stop() {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	for _, handler := range w.observables {
		go handler.stop()
	}
	w.observables = map[string]*observableHandler{}
	w.wg.Wait()
	w.eventChan <- QuitEvent{}
	close(w.errChan)
}

// GetEventChannel returns the channel used to listen to blockchain events.
func (w *watcherService) GetEventChannel() chan Event {
	w.mutex.RLock()
	defer w.mutex.RUnlock()
	return w.eventChan
}

// AddObservable starts watching the observable if it is not watched already.
func (w *watcherService) AddObservable(observable Observable) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if _, ok := w.observables[observable.Key()]; !ok {
		handler := newObservableHandler(
			observable,
			w.oracle,
			w.wg,
			w.interval,
			w.eventChan,
			w.errChan,
			w.rateLimiter,
			w.breaker,
		)
		w.observables[observable.Key()] = handler
		w.wg.Add(1)
		go handler.start()
	}
}

// RemoveObservable stops watching the given observable. Removing an unknown
// observable is a no-op, so unsubscribe is idempotent.
func (w *watcherService) RemoveObservable(observable Observable) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if handler, ok := w.observables[observable.Key()]; ok {
		handler.stop()
		delete(w.observables, observable.Key())
	}
}

// RemoveObservablesForTrade tears down every subscription belonging to a
// trade, e.g. when the trade is abandoned or escalated to dispute.
func (w *watcherService) RemoveObservablesForTrade(tradeId string) {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	for key, handler := range w.observables {
		var id string
		switch obs := handler.observable.(type) {
		case *TransactionObservable:
			id = obs.TradeId
		case *AddressObservable:
			id = obs.TradeId
		}
		if id == tradeId {
			handler.stop()
			delete(w.observables, key)
		}
	}
}
