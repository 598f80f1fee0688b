package watcher

// EventType distinguishes the events emitted during observation.
type EventType int

const (
	// TransactionSeen fires when a watched transaction first appears in the
	// network, still unconfirmed.
	TransactionSeen EventType = iota
	// TransactionConfirmed fires when a watched transaction is included in
	// the best chain.
	TransactionConfirmed
	// AddressFundedTx fires when a transaction touching a watched address is
	// detected.
	AddressFundedTx
	// WatcherQuit signals that the service stopped.
	WatcherQuit
)

// Event is emitted through the event channel during observation.
type Event interface {
	Type() EventType
}

// TransactionEvent reports visibility of a watched transaction.
type TransactionEvent struct {
	EventType EventType
	TradeId   string
	TxId      string
	TxHex     string
}

func (t TransactionEvent) Type() EventType {
	return t.EventType
}

// AddressEvent reports a transaction touching a watched address.
type AddressEvent struct {
	EventType EventType
	TradeId   string
	Address   string
	TxId      string
	Confirmed bool
}

func (a AddressEvent) Type() EventType {
	return a.EventType
}

// QuitEvent is sent on the event channel when the service stops.
type QuitEvent struct{}

func (q QuitEvent) Type() EventType {
	return WatcherQuit
}
