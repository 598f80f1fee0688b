package esplora

import (
	"encoding/json"
	"fmt"

	"github.com/escrow-network/escrow-daemon/internal/core/ports"
)

// txStatus is the /tx/:txid/status payload. Unknown fields are ignored.
type txStatus struct {
	Confirmed   bool   `json:"confirmed"`
	BlockHash   string `json:"block_hash"`
	BlockHeight int    `json:"block_height"`
}

func parseConfirmed(body string) bool {
	status := txStatus{}
	if err := json.Unmarshal([]byte(body), &status); err != nil {
		return false
	}
	return status.Confirmed
}

// addressTx is one entry of the /address/:addr/txs payload.
type addressTx struct {
	TxId   string   `json:"txid"`
	Status txStatus `json:"status"`
}

func parseAddressTxs(body string) ([]ports.AddressTx, error) {
	list := []addressTx{}
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		return nil, fmt.Errorf("parsing address transactions: %w", err)
	}
	txs := make([]ports.AddressTx, 0, len(list))
	for _, entry := range list {
		txs = append(txs, ports.AddressTx{
			TxId:      entry.TxId,
			Confirmed: entry.Status.Confirmed,
		})
	}
	return txs, nil
}
