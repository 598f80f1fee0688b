package ports

import (
	"context"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/wire"
)

// Wallet is the signing and address management collaborator. Key and UTXO
// custody live behind this port and are not re-specified here.
type Wallet interface {
	// MultiSigKey returns (creating it on first use) the local multisig key
	// pair dedicated to the given trade.
	MultiSigKey(ctx context.Context, tradeId string) (*btcec.PrivateKey, error)
	// GetOrCreateAddress returns a wallet address reserved for the trade and
	// purpose ("payout", "trade-fee", ...).
	GetOrCreateAddress(ctx context.Context, tradeId, purpose string) (string, error)
	// CommitTransaction makes the wallet track a transaction so confidence
	// updates for it are received.
	CommitTransaction(ctx context.Context, tx *wire.MsgTx) error
	// Broadcast publishes a final transaction to the network and returns its
	// transaction id.
	Broadcast(ctx context.Context, tx *wire.MsgTx) (string, error)
	// Reserve takes an address reservation out of the shared available pool
	// for the given trade.
	Reserve(ctx context.Context, tradeId, purpose string) (Reservation, error)
	// SelectInputs reserves and returns spendable inputs covering the given
	// amount for the trade.
	SelectInputs(ctx context.Context, tradeId string, amount int64) ([]TxInput, int64, error)
}

// Reservation is a handle on an address reservation. Release must be
// idempotent: a task that consumed a reservation returns it back to the
// shared pool exactly once.
type Reservation interface {
	Release()
}

// TxInput is a spendable output selected by the wallet.
type TxInput struct {
	TxId  string
	VOut  uint32
	Value int64
}
