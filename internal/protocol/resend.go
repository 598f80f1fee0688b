package protocol

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/escrow-network/escrow-daemon/config"
	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/core/ports"
)

// MessageUid derives a stable message id from the trade id and the sender's
// node address, so every resend of the same logical message carries the
// same uid and the receiver can deduplicate.
func MessageUid(tradeId, senderAddress string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(tradeId+"|"+senderAddress)).String()
}

// reliableSender keeps resending one message with exponential backoff until
// an ack for its uid arrives or it is stopped. Resends run under the
// sender's own context, so they outlive the pipeline invocation that
// triggered the first send. Stop is idempotent.
type reliableSender struct {
	messenger  ports.Messenger
	peer       string
	peerPubKey []byte
	msg        ports.TradeMessage
	interval   time.Duration

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

func newReliableSender(
	messenger ports.Messenger, peer string, peerPubKey []byte,
	msg ports.TradeMessage, interval time.Duration,
) *reliableSender {
	if interval < config.MinResendInterval*time.Second {
		interval = config.MinResendInterval * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &reliableSender{
		messenger:  messenger,
		peer:       peer,
		peerPubKey: peerPubKey,
		msg:        msg,
		interval:   interval,
		ctx:        ctx,
		cancel:     cancel,
		stopCh:     make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Start sends the message once, reporting that first attempt's outcome so
// the caller can record it on the trade, and spawns the resend loop.
func (s *reliableSender) Start(ctx context.Context) (ports.SendOutcome, error) {
	ackCh, unsubscribe := s.messenger.SubscribeAck(s.msg.GetUid())

	outcome, err := s.send(ctx)

	go func() {
		defer close(s.done)
		defer unsubscribe()

		interval := s.interval
		timer := time.NewTimer(interval)
		defer timer.Stop()

		for {
			select {
			case <-ackCh:
				log.Debugf(
					"trade %s: message %s acked",
					s.msg.GetTradeId(), s.msg.GetUid(),
				)
				return
			case <-s.stopCh:
				return
			case <-timer.C:
				s.send(s.ctx)
				interval *= 2
				if max := config.MaxResendInterval * time.Second; interval > max {
					interval = max
				}
				timer.Reset(interval)
			}
		}
	}()

	return outcome, err
}

// Stop cancels the resend loop without waiting for an ack.
func (s *reliableSender) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		close(s.stopCh)
	})
	<-s.done
}

// advanceBySendOutcome maps a send attempt to the trade state observing it.
// A transport error counts as a fault; the resend loop covers recovery.
func advanceBySendOutcome(
	trade *domain.Trade, outcome ports.SendOutcome, err error,
	arrived, mailbox, failed domain.State,
) {
	if err != nil {
		trade.TryAdvance(failed)
		return
	}
	switch outcome {
	case ports.OutcomeArrived:
		trade.TryAdvance(arrived)
	case ports.OutcomeStoredInMailbox:
		trade.TryAdvance(mailbox)
	default:
		trade.TryAdvance(failed)
	}
}

func (s *reliableSender) send(ctx context.Context) (ports.SendOutcome, error) {
	outcome, err := s.messenger.SendEncrypted(ctx, s.peer, s.peerPubKey, s.msg)
	if err != nil {
		log.WithError(err).Warnf(
			"trade %s: sending message %s failed, will retry",
			s.msg.GetTradeId(), s.msg.GetUid(),
		)
		return ports.OutcomeFault, err
	}
	log.Debugf(
		"trade %s: message %s sent, outcome %d",
		s.msg.GetTradeId(), s.msg.GetUid(), outcome,
	)
	return outcome, nil
}
