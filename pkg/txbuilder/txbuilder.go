// Package txbuilder constructs the transactions of the escrow trade
// protocol: the 2-of-2 multisig deposit transaction, the time-locked delayed
// payout transaction and the final cooperative payout transaction. All
// builders are pure and deterministic given their inputs.
package txbuilder

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

var (
	// ErrMissingInputs ...
	ErrMissingInputs = errors.New("deposit transaction needs at least one input per party")
	// ErrMissingEscrowOutput ...
	ErrMissingEscrowOutput = errors.New("deposit transaction has no escrow output")
)

// NonFinalSequence enables the absolute lock time on the delayed payout
// input while keeping it non-final.
const NonFinalSequence = wire.MaxTxInSequenceNum - 1

// RawInput references an unspent output contributed by one of the parties.
type RawInput struct {
	TxId  string
	VOut  uint32
	Value int64
}

// Output is a non-escrow output of the deposit transaction, typically a
// change output of one of the parties.
type Output struct {
	Value   int64
	Address string
}

// MultiSigScript returns the 2-of-2 CHECKMULTISIG witness script over the
// buyer and seller multisig public keys, in that order. The ordering is part
// of the contract: signature slots must be filled in the same order.
func MultiSigScript(buyerPubKey, sellerPubKey []byte) ([]byte, error) {
	return txscript.NewScriptBuilder().
		AddOp(txscript.OP_2).
		AddData(buyerPubKey).
		AddData(sellerPubKey).
		AddOp(txscript.OP_2).
		AddOp(txscript.OP_CHECKMULTISIG).
		Script()
}

// MultiSigAddress derives the P2WSH address of the escrow script.
func MultiSigAddress(witnessScript []byte, params *chaincfg.Params) (string, error) {
	scriptHash := sha256.Sum256(witnessScript)
	addr, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], params)
	if err != nil {
		return "", err
	}
	return addr.EncodeAddress(), nil
}

// BuildDepositTx constructs the unsigned multisig deposit transaction. The
// escrow output is always output 0; any change outputs follow. Maker inputs
// come before taker inputs so both parties produce identical transactions.
func BuildDepositTx(
	makerInputs, takerInputs []RawInput,
	escrowValue int64, witnessScript []byte,
	changeOutputs []Output, params *chaincfg.Params,
) (*wire.MsgTx, error) {
	if len(makerInputs) == 0 || len(takerInputs) == 0 {
		return nil, ErrMissingInputs
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	for _, in := range append(append([]RawInput{}, makerInputs...), takerInputs...) {
		txIn, err := rawInputToTxIn(in)
		if err != nil {
			return nil, err
		}
		tx.AddTxIn(txIn)
	}

	escrowScript, err := payToWitnessScript(witnessScript, params)
	if err != nil {
		return nil, fmt.Errorf("deriving escrow output script: %w", err)
	}
	tx.AddTxOut(wire.NewTxOut(escrowValue, escrowScript))

	for _, out := range changeOutputs {
		pkScript, err := payToAddrScript(out.Address, params)
		if err != nil {
			return nil, fmt.Errorf("deriving change output script: %w", err)
		}
		tx.AddTxOut(wire.NewTxOut(out.Value, pkScript))
	}
	return tx, nil
}

// BuildDelayedPayoutTx constructs the unsigned time-locked fallback
// transaction: a single input spending the escrow output with a non-final
// sequence number, a single output paying the full escrowed value to the
// donation address, and the trade lock time as absolute lock time. Fees for
// this path are attached at broadcast time via child-pays-for-parent, so the
// output carries the escrow value unchanged.
func BuildDelayedPayoutTx(
	depositTx *wire.MsgTx, donationAddress string,
	lockTime uint32, params *chaincfg.Params,
) (*wire.MsgTx, error) {
	if depositTx == nil || len(depositTx.TxOut) == 0 {
		return nil, ErrMissingEscrowOutput
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	outpoint := wire.NewOutPoint(depositTxHash(depositTx), 0)
	txIn := wire.NewTxIn(outpoint, nil, nil)
	txIn.Sequence = NonFinalSequence
	tx.AddTxIn(txIn)

	donationScript, err := payToAddrScript(donationAddress, params)
	if err != nil {
		return nil, fmt.Errorf("deriving donation output script: %w", err)
	}
	tx.AddTxOut(wire.NewTxOut(depositTx.TxOut[0].Value, donationScript))
	tx.LockTime = lockTime
	return tx, nil
}

// BuildPayoutTx constructs the unsigned cooperative payout transaction
// splitting the escrow into the buyer share (trade amount plus buyer
// deposit) and the seller share (seller deposit).
func BuildPayoutTx(
	depositTx *wire.MsgTx,
	buyerAmount, sellerAmount int64,
	buyerAddress, sellerAddress string,
	params *chaincfg.Params,
) (*wire.MsgTx, error) {
	if depositTx == nil || len(depositTx.TxOut) == 0 {
		return nil, ErrMissingEscrowOutput
	}

	tx := wire.NewMsgTx(wire.TxVersion)
	outpoint := wire.NewOutPoint(depositTxHash(depositTx), 0)
	tx.AddTxIn(wire.NewTxIn(outpoint, nil, nil))

	buyerScript, err := payToAddrScript(buyerAddress, params)
	if err != nil {
		return nil, fmt.Errorf("deriving buyer output script: %w", err)
	}
	sellerScript, err := payToAddrScript(sellerAddress, params)
	if err != nil {
		return nil, fmt.Errorf("deriving seller output script: %w", err)
	}
	tx.AddTxOut(wire.NewTxOut(buyerAmount, buyerScript))
	tx.AddTxOut(wire.NewTxOut(sellerAmount, sellerScript))
	return tx, nil
}

func rawInputToTxIn(in RawInput) (*wire.TxIn, error) {
	hash, err := chainhash.NewHashFromStr(in.TxId)
	if err != nil {
		return nil, fmt.Errorf("parsing input tx id: %w", err)
	}
	return wire.NewTxIn(wire.NewOutPoint(hash, in.VOut), nil, nil), nil
}

func payToWitnessScript(witnessScript []byte, params *chaincfg.Params) ([]byte, error) {
	scriptHash := sha256.Sum256(witnessScript)
	addr, err := btcutil.NewAddressWitnessScriptHash(scriptHash[:], params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

func payToAddrScript(address string, params *chaincfg.Params) ([]byte, error) {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return nil, err
	}
	return txscript.PayToAddrScript(addr)
}

func depositTxHash(depositTx *wire.MsgTx) *chainhash.Hash {
	hash := depositTx.TxHash()
	return &hash
}
