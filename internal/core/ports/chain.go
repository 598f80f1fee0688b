package ports

import "context"

// TxStatus is the observed visibility of a transaction on the network.
type TxStatus struct {
	Found     bool
	Confirmed bool
	TxHex     string
}

// AddressTx is a transaction touching a watched address.
type AddressTx struct {
	TxId      string
	Confirmed bool
}

// ChainOracle is the blockchain observation collaborator. Chain sync and
// parsing are external; the protocol only consumes height and visibility.
type ChainOracle interface {
	// BestChainHeight returns the current best block height.
	BestChainHeight(ctx context.Context) (uint32, error)
	// GetTransactionStatus reports whether a transaction is visible and/or
	// confirmed on the network.
	GetTransactionStatus(ctx context.Context, txId string) (TxStatus, error)
	// GetTransactionsForAddress lists the transactions touching an address.
	GetTransactionsForAddress(ctx context.Context, address string) ([]AddressTx, error)
}
