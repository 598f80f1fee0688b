package domain

// Role identifies the local party's position in a trade. The maker published
// the offer, the taker took it; exactly one of them is the BTC buyer.
type Role int

const (
	RoleMakerBuyer Role = iota
	RoleMakerSeller
	RoleTakerBuyer
	RoleTakerSeller
)

func (r Role) IsMaker() bool {
	return r == RoleMakerBuyer || r == RoleMakerSeller
}

func (r Role) IsBuyer() bool {
	return r == RoleMakerBuyer || r == RoleTakerBuyer
}

func (r Role) String() string {
	switch r {
	case RoleMakerBuyer:
		return "maker/buyer"
	case RoleMakerSeller:
		return "maker/seller"
	case RoleTakerBuyer:
		return "taker/buyer"
	case RoleTakerSeller:
		return "taker/seller"
	default:
		return "unknown"
	}
}

// Phase is the coarse projection of the trade state used to reason about
// forward-only progress.
type Phase int

const (
	PhaseInit Phase = iota
	PhaseDepositRequested
	PhaseDepositPublished
	PhaseDepositConfirmed
	PhaseFiatSent
	PhaseFiatReceived
	PhasePayoutPublished
	PhaseWithdrawn
)

// State is the fine grained trade state. The declaration order defines the
// ordinal ordering that the monotonic-advance guard relies on: a state
// further down the list can never be replaced by one further up.
type State int

const (
	StatePreparation State = iota

	// deposit request round (maker perspective)
	StateMakerSentDepositInputsResponse
	StateMakerSawArrivedDepositInputsResponse
	StateMakerStoredInMailboxDepositInputsResponse
	StateMakerSendFailedDepositInputsResponse

	// deposit published
	StateSellerPublishedDepositTx
	StateSellerSentDepositTxPublishedMsg
	StateSellerSawArrivedDepositTxPublishedMsg
	StateSellerStoredInMailboxDepositTxPublishedMsg
	StateSellerSendFailedDepositTxPublishedMsg
	StateBuyerReceivedDepositTxPublishedMsg
	// The buyer may see the deposit tx in the network before the message
	// arrives; both paths land in the same phase.
	StateBuyerSawDepositTxInNetwork

	StateDepositConfirmedInBlockchain

	// fiat leg, buyer side first
	StateBuyerConfirmedFiatPaymentInitiated
	StateBuyerSentFiatPaymentInitiatedMsg
	StateBuyerSawArrivedFiatPaymentInitiatedMsg
	StateBuyerStoredInMailboxFiatPaymentInitiatedMsg
	StateBuyerSendFailedFiatPaymentInitiatedMsg
	StateSellerReceivedFiatPaymentInitiatedMsg

	StateSellerConfirmedFiatPaymentReceipt
	StateBuyerReceivedFiatPaymentReceiptMsg

	// payout round
	StateSellerPublishedPayoutTx
	StateSellerSentPayoutTxPublishedMsg
	StateSellerSawArrivedPayoutTxPublishedMsg
	StateSellerStoredInMailboxPayoutTxPublishedMsg
	StateSellerSendFailedPayoutTxPublishedMsg
	StateBuyerReceivedPayoutTxPublishedMsg
	StateBuyerSawPayoutTxInNetwork

	StateWithdrawCompleted
)

// Ordinal returns the position of the state in the role ordering.
func (s State) Ordinal() int {
	return int(s)
}

// TradePhase returns the phase the state belongs to.
func (s State) TradePhase() Phase {
	switch {
	case s == StatePreparation:
		return PhaseInit
	case s <= StateMakerSendFailedDepositInputsResponse:
		return PhaseDepositRequested
	case s <= StateBuyerSawDepositTxInNetwork:
		return PhaseDepositPublished
	case s == StateDepositConfirmedInBlockchain:
		return PhaseDepositConfirmed
	case s <= StateSellerReceivedFiatPaymentInitiatedMsg:
		return PhaseFiatSent
	case s <= StateBuyerReceivedFiatPaymentReceiptMsg:
		return PhaseFiatReceived
	case s <= StateBuyerSawPayoutTxInNetwork:
		return PhasePayoutPublished
	default:
		return PhaseWithdrawn
	}
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

var stateNames = map[State]string{
	StatePreparation:                                 "PREPARATION",
	StateMakerSentDepositInputsResponse:              "MAKER_SENT_DEPOSIT_INPUTS_RESPONSE",
	StateMakerSawArrivedDepositInputsResponse:        "MAKER_SAW_ARRIVED_DEPOSIT_INPUTS_RESPONSE",
	StateMakerStoredInMailboxDepositInputsResponse:   "MAKER_STORED_IN_MAILBOX_DEPOSIT_INPUTS_RESPONSE",
	StateMakerSendFailedDepositInputsResponse:        "MAKER_SEND_FAILED_DEPOSIT_INPUTS_RESPONSE",
	StateSellerPublishedDepositTx:                    "SELLER_PUBLISHED_DEPOSIT_TX",
	StateSellerSentDepositTxPublishedMsg:             "SELLER_SENT_DEPOSIT_TX_PUBLISHED_MSG",
	StateSellerSawArrivedDepositTxPublishedMsg:       "SELLER_SAW_ARRIVED_DEPOSIT_TX_PUBLISHED_MSG",
	StateSellerStoredInMailboxDepositTxPublishedMsg:  "SELLER_STORED_IN_MAILBOX_DEPOSIT_TX_PUBLISHED_MSG",
	StateSellerSendFailedDepositTxPublishedMsg:       "SELLER_SEND_FAILED_DEPOSIT_TX_PUBLISHED_MSG",
	StateBuyerReceivedDepositTxPublishedMsg:          "BUYER_RECEIVED_DEPOSIT_TX_PUBLISHED_MSG",
	StateBuyerSawDepositTxInNetwork:                  "BUYER_SAW_DEPOSIT_TX_IN_NETWORK",
	StateDepositConfirmedInBlockchain:                "DEPOSIT_CONFIRMED_IN_BLOCKCHAIN",
	StateBuyerConfirmedFiatPaymentInitiated:          "BUYER_CONFIRMED_FIAT_PAYMENT_INITIATED",
	StateBuyerSentFiatPaymentInitiatedMsg:            "BUYER_SENT_FIAT_PAYMENT_INITIATED_MSG",
	StateBuyerSawArrivedFiatPaymentInitiatedMsg:      "BUYER_SAW_ARRIVED_FIAT_PAYMENT_INITIATED_MSG",
	StateBuyerStoredInMailboxFiatPaymentInitiatedMsg: "BUYER_STORED_IN_MAILBOX_FIAT_PAYMENT_INITIATED_MSG",
	StateBuyerSendFailedFiatPaymentInitiatedMsg:      "BUYER_SEND_FAILED_FIAT_PAYMENT_INITIATED_MSG",
	StateSellerReceivedFiatPaymentInitiatedMsg:       "SELLER_RECEIVED_FIAT_PAYMENT_INITIATED_MSG",
	StateSellerConfirmedFiatPaymentReceipt:           "SELLER_CONFIRMED_FIAT_PAYMENT_RECEIPT",
	StateBuyerReceivedFiatPaymentReceiptMsg:          "BUYER_RECEIVED_FIAT_PAYMENT_RECEIPT_MSG",
	StateSellerPublishedPayoutTx:                     "SELLER_PUBLISHED_PAYOUT_TX",
	StateSellerSentPayoutTxPublishedMsg:              "SELLER_SENT_PAYOUT_TX_PUBLISHED_MSG",
	StateSellerSawArrivedPayoutTxPublishedMsg:        "SELLER_SAW_ARRIVED_PAYOUT_TX_PUBLISHED_MSG",
	StateSellerStoredInMailboxPayoutTxPublishedMsg:   "SELLER_STORED_IN_MAILBOX_PAYOUT_TX_PUBLISHED_MSG",
	StateSellerSendFailedPayoutTxPublishedMsg:        "SELLER_SEND_FAILED_PAYOUT_TX_PUBLISHED_MSG",
	StateBuyerReceivedPayoutTxPublishedMsg:           "BUYER_RECEIVED_PAYOUT_TX_PUBLISHED_MSG",
	StateBuyerSawPayoutTxInNetwork:                   "BUYER_SAW_PAYOUT_TX_IN_NETWORK",
	StateWithdrawCompleted:                           "WITHDRAW_COMPLETED",
}

// DisputeState tracks the escalation path of a trade, orthogonal to State.
type DisputeState int

const (
	NoDispute DisputeState = iota
	MediationRequested
	MediationStartedByPeer
	MediationClosed
	ArbitrationRequested
	ArbitrationStartedByPeer
	ArbitrationClosed
	RefundRequested
	RefundStartedByPeer
	RefundClosed
)

func (d DisputeState) IsNotDisputed() bool {
	return d == NoDispute
}

func (d DisputeState) IsMediated() bool {
	return d == MediationRequested || d == MediationStartedByPeer ||
		d == MediationClosed
}

func (d DisputeState) IsArbitrated() bool {
	return d == ArbitrationRequested || d == ArbitrationStartedByPeer ||
		d == ArbitrationClosed || d == RefundRequested ||
		d == RefundStartedByPeer || d == RefundClosed
}

// PaymentMethod describes how the fiat (or altcoin) leg of the trade settles.
// Blockchain payment methods get the shorter lock time delay.
type PaymentMethod struct {
	Id         string
	Blockchain bool
}

// Offer is the subset of the published offer the trade protocol needs.
type Offer struct {
	Id                    string
	Price                 string
	PriceTolerancePercent float64
	MinAmount             int64
	MaxAmount             int64
	BuyerSecurityDeposit  int64
	SellerSecurityDeposit int64
	PaymentMethod         PaymentMethod
	AcceptedArbitrators   []string
	AcceptedMediators     []string
	MakerFeeTxId          string
}

// Trade is the aggregate root of one settlement, identified by its offer id.
// It is owned exclusively by the local process for the trade's lifetime and
// mutated only by tasks running under the task runner.
type Trade struct {
	Id    string
	Role  Role
	Offer Offer

	Amount int64
	Price  string

	State        State
	DisputeState DisputeState
	Failed       bool
	ErrorMessage string

	LockTime uint32

	DepositTx         []byte
	DepositTxId       string
	DelayedPayoutTx   []byte
	DelayedPayoutTxId string
	PayoutTx          []byte
	PayoutTxId        string

	ContractJson      []byte
	ContractHash      []byte
	MakerContractSig  []byte
	TakerContractSig  []byte
	CounterpartySig   []byte
	DelayedPayoutSigs [][]byte

	CounterpartyAddress string
	ArbitratorAddress   string
	ArbitratorPubKey    []byte
	MediatorAddress     string
	MediatorPubKey      []byte

	FiatReceivedDate int64
	TakeOfferDate    int64
	Archived         bool
}

// NewTrade returns a trade in PREPARATION state for the given offer.
func NewTrade(offer Offer, role Role, amount int64, price string, takeOfferDate int64) *Trade {
	return &Trade{
		Id:            offer.Id,
		Role:          role,
		Offer:         offer,
		Amount:        amount,
		Price:         price,
		State:         StatePreparation,
		DisputeState:  NoDispute,
		TakeOfferDate: takeOfferDate,
	}
}
