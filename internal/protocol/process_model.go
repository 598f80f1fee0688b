package protocol

import (
	"sync"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
	"github.com/escrow-network/escrow-daemon/internal/core/ports"
	"github.com/escrow-network/escrow-daemon/pkg/txbuilder"
)

// TradingPeer collects everything learned about the counterparty during the
// message exchange. Fields are filled in incrementally as messages arrive.
type TradingPeer struct {
	NodeAddress        string
	PubKey             []byte
	MultiSigPubKey     []byte
	PayoutAddress      string
	ChangeAddress      string
	RawInputs          []txbuilder.RawInput
	FeeTxId            string
	AccountAgeWitness  []byte
	ContractSig        []byte
	DelayedPayoutTxSig []byte
	PayoutTxSig        []byte
}

// ProcessModel is the per-trade working state shared by all tasks of a
// pipeline. It references the ports a task may need and accumulates
// intermediate artifacts such as the prepared deposit transaction. It is
// only ever touched from the trade's executor goroutine, so no locking is
// needed beyond the reservation release guard.
type ProcessModel struct {
	Wallet    ports.Wallet
	Messenger ports.Messenger
	Oracle    ports.ChainOracle

	Params            *chaincfg.Params
	DonationAddress   string
	DonationAllowList []string
	PriceTolerance    float64
	ResendInterval    time.Duration

	// Lock time delays in blocks, picked per payment method.
	LockTimeDelayBlockchain uint32
	LockTimeDelayFiat       uint32

	MyNodeAddress     string
	MyFeeTxId         string
	MyMultiSigPubKey  []byte
	MyPayoutAddress   string
	MyChangeAddress   string
	MyInputs          []txbuilder.RawInput
	AccountAgeWitness []byte

	TradePeer TradingPeer

	MyChangeValue int64

	PreparedDepositTx  []byte
	MyBindingSig       []byte
	DelayedPayoutTx    []byte
	MyDelayedPayoutSig []byte
	MyPayoutSig        []byte
	AtomicTx           []byte

	// Atomic settlement policy, only set on maker nodes.
	OwnOfferIds map[string]bool
	FeeSchedule FeeSchedule

	reservation ports.Reservation
	releaseOnce sync.Once
}

// LockTimeDelay returns the delay in blocks for the given payment method.
func (pm *ProcessModel) LockTimeDelay(method domain.PaymentMethod) uint32 {
	if method.Blockchain {
		return pm.LockTimeDelayBlockchain
	}
	return pm.LockTimeDelayFiat
}

// HoldReservation records the wallet reservation backing the inputs
// committed to this trade.
func (pm *ProcessModel) HoldReservation(r ports.Reservation) {
	pm.reservation = r
}

// ReleaseReservation releases the held wallet reservation exactly once.
// Safe to call when nothing is reserved.
func (pm *ProcessModel) ReleaseReservation() {
	pm.releaseOnce.Do(func() {
		if pm.reservation != nil {
			pm.reservation.Release()
		}
	})
}
