package watcher

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrow-daemon/internal/core/ports"
)

type fakeOracle struct {
	mu           sync.Mutex
	polls        int
	confirmAfter int
}

func (f *fakeOracle) BestChainHeight(ctx context.Context) (uint32, error) {
	return 100000, nil
}

func (f *fakeOracle) GetTransactionStatus(ctx context.Context, txId string) (ports.TxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.polls++
	return ports.TxStatus{
		Found:     true,
		Confirmed: f.polls > f.confirmAfter,
		TxHex:     "020000",
	}, nil
}

func (f *fakeOracle) GetTransactionsForAddress(ctx context.Context, address string) ([]ports.AddressTx, error) {
	return []ports.AddressTx{{TxId: "txid-1", Confirmed: false}}, nil
}

func newTestService(oracle ports.ChainOracle) Service {
	return NewService(Opts{
		Oracle:                 oracle,
		IntervalInMilliseconds: 10,
		RequestsPerSecond:      1000,
		TokenBurst:             10,
		ErrorHandler:           func(err error) {},
	})
}

func TestTransactionObservable(t *testing.T) {
	oracle := &fakeOracle{confirmAfter: 2}
	svc := newTestService(oracle)
	go svc.Start()

	svc.AddObservable(&TransactionObservable{TradeId: "offer-1", TxId: "deadbeef"})

	var events []Event
	timeout := time.After(2 * time.Second)
	for len(events) < 2 {
		select {
		case ev := <-svc.GetEventChannel():
			events = append(events, ev)
		case <-timeout:
			t.Fatal("timed out waiting for watcher events")
		}
	}

	first, ok := events[0].(TransactionEvent)
	require.True(t, ok)
	require.Equal(t, TransactionSeen, first.Type())
	require.Equal(t, "offer-1", first.TradeId)

	second, ok := events[1].(TransactionEvent)
	require.True(t, ok)
	require.Equal(t, TransactionConfirmed, second.Type())

	svc.RemoveObservable(&TransactionObservable{TradeId: "offer-1", TxId: "deadbeef"})
	// idempotent unsubscribe
	svc.RemoveObservable(&TransactionObservable{TradeId: "offer-1", TxId: "deadbeef"})
}

func TestAddressObservable(t *testing.T) {
	oracle := &fakeOracle{}
	svc := newTestService(oracle)
	go svc.Start()

	svc.AddObservable(&AddressObservable{TradeId: "offer-2", Address: "bcrt1qtest"})

	select {
	case ev := <-svc.GetEventChannel():
		addrEv, ok := ev.(AddressEvent)
		require.True(t, ok)
		require.Equal(t, AddressFundedTx, addrEv.Type())
		require.Equal(t, "offer-2", addrEv.TradeId)
		require.Equal(t, "txid-1", addrEv.TxId)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for address event")
	}

	svc.RemoveObservablesForTrade("offer-2")
}

func TestImmediateUnsubscribeAfterSubscribe(t *testing.T) {
	oracle := &fakeOracle{}
	svc := newTestService(oracle)
	go svc.Start()

	// unsubscribing right after subscribing must not trip the
	// handler accounting, regardless of goroutine scheduling
	for i := 0; i < 50; i++ {
		obs := &TransactionObservable{
			TradeId: "offer-3",
			TxId:    fmt.Sprintf("%064x", i),
		}
		svc.AddObservable(obs)
		svc.RemoveObservable(obs)
	}
}
