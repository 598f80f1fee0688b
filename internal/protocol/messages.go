package protocol

import "github.com/escrow-network/escrow-daemon/pkg/txbuilder"

// Envelope carries the fields common to every trade message: the offer id of
// the trade it belongs to and a unique message id.
type Envelope struct {
	TradeId string
	Uid     string
}

func (e Envelope) GetTradeId() string { return e.TradeId }
func (e Envelope) GetUid() string     { return e.Uid }

// DepositInputsRequest is sent by the taker to open the deposit round: it
// carries the taker's raw inputs, multisig key material and referee
// selection for the maker to verify.
type DepositInputsRequest struct {
	Envelope
	TradeAmount              int64
	TradePrice               string
	TakerMultiSigPubKey      []byte
	TakerPayoutAddress       string
	TakerChangeAddress       string
	TakerInputs              []txbuilder.RawInput
	TakerFeeTxId             string
	TakerNodeAddress         string
	TakerAccountAgeWitness   []byte
	TakerAcceptedArbitrators []string
	TakerAcceptedMediators   []string
	SelectedArbitrator       string
	SelectedMediator         string
}

// DepositInputsResponse is the maker's answer: its own inputs and key
// material, the prepared deposit transaction and a signature binding the
// maker to those exact prepared bytes.
type DepositInputsResponse struct {
	Envelope
	MakerMultiSigPubKey    []byte
	MakerPayoutAddress     string
	MakerInputs            []txbuilder.RawInput
	MakerAccountAgeWitness []byte
	PreparedDepositTx      []byte
	MakerBindingSig        []byte
	MakerContractSig       []byte
	ContractHash           []byte
	LockTime               uint32
}

// DelayedPayoutSignatureRequest carries the seller's delayed payout
// transaction and signature for the buyer to validate and co-sign.
type DelayedPayoutSignatureRequest struct {
	Envelope
	DelayedPayoutTx []byte
	SellerSignature []byte
}

// DelayedPayoutSignatureResponse returns the buyer's delayed payout
// signature together with its contract signature.
type DelayedPayoutSignatureResponse struct {
	Envelope
	BuyerSignature   []byte
	BuyerContractSig []byte
}

// DepositAndDelayedPayoutMessage notifies the buyer that the deposit tx was
// published, carrying both transactions and the contract hash for
// cross-checking.
type DepositAndDelayedPayoutMessage struct {
	Envelope
	DepositTx       []byte
	DelayedPayoutTx []byte
	ContractHash    []byte
}

// FiatTransferStartedMessage notifies the seller that the buyer initiated
// the fiat leg; it carries the buyer's payout signature. Loss of this
// message stalls the trade, so it is sent under the resend policy.
type FiatTransferStartedMessage struct {
	Envelope
	BuyerPayoutTxSignature []byte
	CounterCurrencyTxId    string
}

// FiatReceivedMessage confirms the seller received the fiat leg.
type FiatReceivedMessage struct {
	Envelope
}

// PayoutPublishedMessage notifies the buyer that the final payout tx was
// broadcast.
type PayoutPublishedMessage struct {
	Envelope
	PayoutTx []byte
}

// AtomicLeg describes one asset side of an atomic cross-asset settlement:
// the party's inputs and outputs denominated in that asset, plus the
// protocol fee it owes on that leg.
type AtomicLeg struct {
	AssetId string
	Inputs  []int64
	Outputs []int64
	Fee     int64
}

// AtomicCreateRequest asks the maker to co-sign a single transaction
// settling both asset legs atomically.
type AtomicCreateRequest struct {
	Envelope
	TradeAmount  int64
	TradePrice   string
	AssetAmount  int64
	TakerFee     int64
	NetworkFee   int64
	BaseLeg      AtomicLeg
	CounterLeg   AtomicLeg
	TakerInputs  []txbuilder.RawInput
	TakerAddress string
}

// AtomicCreateResponse carries the maker-completed atomic transaction.
type AtomicCreateResponse struct {
	Envelope
	AtomicTx    []byte
	MakerInputs []txbuilder.RawInput
}
