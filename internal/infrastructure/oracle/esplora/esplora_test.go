package esplora

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestExplorer(t *testing.T, txConfirmed bool) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/blocks/tip/height", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "100000")
	})
	mux.HandleFunc("/tx/aa11/status", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"confirmed":%t,"block_height":99990}`, txConfirmed)
	})
	mux.HandleFunc("/tx/aa11/hex", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "02000000000100")
	})
	mux.HandleFunc("/address/bcrt1qtest/txs", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[{"txid":"aa11","status":{"confirmed":true}},{"txid":"bb22","status":{"confirmed":false}}]`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestBestChainHeight(t *testing.T) {
	server := newTestExplorer(t, false)
	oracle, err := NewChainOracle(server.URL)
	require.NoError(t, err)

	height, err := oracle.BestChainHeight(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint32(100000), height)
}

func TestGetTransactionStatus(t *testing.T) {
	server := newTestExplorer(t, true)
	oracle, err := NewChainOracle(server.URL)
	require.NoError(t, err)

	status, err := oracle.GetTransactionStatus(context.Background(), "aa11")
	require.NoError(t, err)
	require.True(t, status.Found)
	require.True(t, status.Confirmed)
	require.Equal(t, "02000000000100", status.TxHex)

	// unknown transactions are reported as not found, not as errors
	status, err = oracle.GetTransactionStatus(context.Background(), "unknown")
	require.NoError(t, err)
	require.False(t, status.Found)
}

func TestGetTransactionsForAddress(t *testing.T) {
	server := newTestExplorer(t, false)
	oracle, err := NewChainOracle(server.URL)
	require.NoError(t, err)

	txs, err := oracle.GetTransactionsForAddress(context.Background(), "bcrt1qtest")
	require.NoError(t, err)
	require.Len(t, txs, 2)
	require.Equal(t, "aa11", txs[0].TxId)
	require.True(t, txs[0].Confirmed)
	require.False(t, txs[1].Confirmed)
}

func TestHealthCheckFailure(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	t.Cleanup(server.Close)

	_, err := NewChainOracle(server.URL)
	require.Error(t, err)
}
