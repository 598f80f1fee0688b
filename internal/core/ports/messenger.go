package ports

import "context"

// SendOutcome is the terminal result of one encrypted send attempt.
type SendOutcome int

const (
	// OutcomeArrived means the peer received the message directly.
	OutcomeArrived SendOutcome = iota
	// OutcomeStoredInMailbox means the peer was offline and the message was
	// stored for later delivery.
	OutcomeStoredInMailbox
	// OutcomeFault means the send failed; recoverable via the resend policy.
	OutcomeFault
)

// TradeMessage is the envelope contract every protocol message satisfies.
type TradeMessage interface {
	GetTradeId() string
	GetUid() string
}

// Messenger is the encrypted peer-to-peer messaging collaborator. Transport
// level encryption and peer discovery live behind this port.
type Messenger interface {
	// SendEncrypted hands a message to the messaging layer and reports the
	// outcome of this attempt.
	SendEncrypted(
		ctx context.Context,
		peerAddress string, peerPubKey []byte,
		msg TradeMessage,
	) (SendOutcome, error)
	// SubscribeAck returns a channel that fires once when an acknowledgment
	// for the message uid is observed, plus an idempotent unsubscribe.
	SubscribeAck(uid string) (<-chan struct{}, func())
	// RemoveMailboxEntry deletes a stored mailbox message by its uid, e.g.
	// once the logical message became obsolete.
	RemoveMailboxEntry(ctx context.Context, uid string) error
}
