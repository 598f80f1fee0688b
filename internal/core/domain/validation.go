package domain

import (
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// NonFinalSequence is the sequence number required on the delayed payout
// input: it enables the absolute lock time while keeping the input one step
// below finality.
const NonFinalSequence = wire.MaxTxInSequenceNum - 1

// DonationAddressError reports a delayed payout or dispute transaction whose
// donation output pays an address outside the allow-list. It carries the
// offending address and the reference set for diagnostics.
type DonationAddressError struct {
	Address   string
	AllowList []string
}

func (e *DonationAddressError) Error() string {
	return fmt.Sprintf(
		"donation address is not a valid donation address. Address used in the transaction: %s. All param donation addresses: %s",
		e.Address, strings.Join(e.AllowList, ", "),
	)
}

// MissingTxError reports a transaction the protocol guarantees to be present
// but that was nil or empty.
type MissingTxError struct {
	Desc string
}

func (e *MissingTxError) Error() string {
	return e.Desc + " must not be nil"
}

// InvalidTxError reports a malformed transaction structure.
type InvalidTxError struct {
	Reason string
}

func (e *InvalidTxError) Error() string {
	return e.Reason
}

// InvalidAmountError reports a delayed payout output value that does not
// equal the expected escrowed sum.
type InvalidAmountError struct {
	Expected int64
	Actual   int64
}

func (e *InvalidAmountError) Error() string {
	return fmt.Sprintf(
		"output value of deposit tx and delayed payout tx is not matching. Expected: %s / actual: %s",
		btcutil.Amount(e.Expected), btcutil.Amount(e.Actual),
	)
}

// InvalidLockTimeError reports a delayed payout lock time that does not match
// the trade's recorded lock time.
type InvalidLockTimeError struct {
	Expected uint32
	Actual   uint32
}

func (e *InvalidLockTimeError) Error() string {
	return fmt.Sprintf(
		"delayed payout lock time must match trade lock time. Expected: %d / actual: %d",
		e.Expected, e.Actual,
	)
}

// InvalidSequenceError reports a delayed payout input sequence number other
// than the required non-final value.
type InvalidSequenceError struct {
	Actual uint32
}

func (e *InvalidSequenceError) Error() string {
	return fmt.Sprintf("sequence number must be 0x%08X, got 0x%08X", NonFinalSequence, e.Actual)
}

// InvalidInputError reports a delayed payout input that does not spend the
// deposit transaction's escrow output.
type InvalidInputError struct {
	Reason string
}

func (e *InvalidInputError) Error() string {
	return e.Reason
}

// ValidateDonationAddress checks that the given address belongs to the set of
// donation addresses known locally: the current one, the recently valid ones
// and the hardcoded default.
func ValidateDonationAddress(address string, allowList []string) error {
	for _, allowed := range allowList {
		if address == allowed {
			return nil
		}
	}
	return &DonationAddressError{Address: address, AllowList: allowList}
}

// ValidateDelayedPayoutTx gates the time-locked fallback transaction before
// it is signed or trusted. Both parties run it on construction and again just
// before final signing.
func ValidateDelayedPayoutTx(
	delayedPayoutTx *wire.MsgTx, trade *Trade,
	params *chaincfg.Params, donationAllowList []string,
) error {
	if delayedPayoutTx == nil {
		return &MissingTxError{Desc: "delayed payout tx"}
	}

	if numIns := len(delayedPayoutTx.TxIn); numIns != 1 {
		return &InvalidTxError{
			Reason: fmt.Sprintf("number of delayed payout tx inputs must be 1, got %d", numIns),
		}
	}
	if numOuts := len(delayedPayoutTx.TxOut); numOuts != 1 {
		return &InvalidTxError{
			Reason: fmt.Sprintf("number of delayed payout tx outputs must be 1, got %d", numOuts),
		}
	}

	if delayedPayoutTx.LockTime != trade.LockTime {
		return &InvalidLockTimeError{
			Expected: trade.LockTime,
			Actual:   delayedPayoutTx.LockTime,
		}
	}

	if seq := delayedPayoutTx.TxIn[0].Sequence; seq != NonFinalSequence {
		return &InvalidSequenceError{Actual: seq}
	}

	output := delayedPayoutTx.TxOut[0]
	if expected := trade.MultiSigOutputAmount(); output.Value != expected {
		return &InvalidAmountError{Expected: expected, Actual: output.Value}
	}

	_, addresses, _, err := txscript.ExtractPkScriptAddrs(output.PkScript, params)
	if err != nil || len(addresses) != 1 {
		return &InvalidTxError{Reason: "donation address cannot be resolved from the delayed payout output"}
	}

	return ValidateDonationAddress(addresses[0].EncodeAddress(), donationAllowList)
}

// ValidatePayoutTxInput checks that the delayed payout transaction spends the
// first output of the deposit transaction.
func ValidatePayoutTxInput(depositTx, delayedPayoutTx *wire.MsgTx) error {
	if delayedPayoutTx == nil || len(delayedPayoutTx.TxIn) == 0 {
		return &MissingTxError{Desc: "delayed payout tx input"}
	}
	outpoint := delayedPayoutTx.TxIn[0].PreviousOutPoint
	if outpoint.Hash != depositTx.TxHash() || outpoint.Index != 0 {
		return &InvalidInputError{
			Reason: "input of delayed payout transaction does not point to output of deposit tx",
		}
	}
	return nil
}

// ValidateDepositInputs checks that every input of the deposit transaction
// spends one of the two fee transactions recorded in the contract and that
// both parties' fee transactions are represented. A party may fund its share
// from several outputs of its fee transaction.
func ValidateDepositInputs(trade *Trade, contract *Contract) error {
	depositTx, err := trade.DepositTransaction()
	if err != nil {
		return &InvalidTxError{Reason: "deposit transaction cannot be parsed"}
	}
	if depositTx == nil || len(depositTx.TxIn) < 2 {
		return &InvalidTxError{Reason: "deposit transaction is nil or funded by one party only"}
	}
	makerTxId := strings.ToLower(contract.MakerFeeTxId)
	takerTxId := strings.ToLower(contract.TakerFeeTxId)

	var makerSeen, takerSeen bool
	for _, in := range depositTx.TxIn {
		switch in.PreviousOutPoint.Hash.String() {
		case makerTxId:
			makerSeen = true
		case takerTxId:
			takerSeen = true
		default:
			return &InvalidTxError{Reason: "deposit tx input does not spend a contract fee transaction"}
		}
	}
	if !makerSeen || !takerSeen {
		return &InvalidTxError{Reason: "deposit tx does not spend both maker and taker fee transactions"}
	}
	return nil
}
