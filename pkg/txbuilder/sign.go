package txbuilder

import (
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// ErrBadSignature ...
var ErrBadSignature = errors.New("multisig signature verification failed")

// SignMultiSigInput produces this party's signature over the escrow input.
// The returned bytes are a DER signature with the sighash type appended, the
// form expected by the witness stack.
func SignMultiSigInput(
	tx *wire.MsgTx, inputIndex int, inputValue int64,
	witnessScript []byte, key *btcec.PrivateKey,
) ([]byte, error) {
	fetcher := txscript.NewCannedPrevOutputFetcher(nil, inputValue)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	return txscript.RawTxInWitnessSignature(
		tx, sigHashes, inputIndex, inputValue, witnessScript,
		txscript.SigHashAll, key,
	)
}

// VerifyMultiSigSignature checks one party's escrow signature against its
// serialized public key.
func VerifyMultiSigSignature(
	tx *wire.MsgTx, inputIndex int, inputValue int64,
	witnessScript, sig, pubKey []byte,
) error {
	if len(sig) < 2 {
		return ErrBadSignature
	}
	// strip the appended sighash type byte
	parsedSig, err := ecdsa.ParseDERSignature(sig[:len(sig)-1])
	if err != nil {
		return fmt.Errorf("parsing multisig signature: %w", err)
	}
	parsedKey, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return fmt.Errorf("parsing multisig pubkey: %w", err)
	}

	fetcher := txscript.NewCannedPrevOutputFetcher(nil, inputValue)
	sigHashes := txscript.NewTxSigHashes(tx, fetcher)
	sigHash, err := txscript.CalcWitnessSigHash(
		witnessScript, sigHashes, txscript.SigHashAll, tx, inputIndex, inputValue,
	)
	if err != nil {
		return fmt.Errorf("computing witness sighash: %w", err)
	}
	if !parsedSig.Verify(sigHash, parsedKey) {
		return ErrBadSignature
	}
	return nil
}

// FinalizeMultiSigInput assembles the witness of the escrow input from both
// signatures. CHECKMULTISIG consumes signatures in the order of the public
// keys in the witness script, so the buyer signature precedes the seller
// signature, matching the ordering established in the contract. The leading
// empty element is the CHECKMULTISIG dummy.
func FinalizeMultiSigInput(
	tx *wire.MsgTx, inputIndex int,
	buyerSig, sellerSig, witnessScript []byte,
) error {
	if inputIndex < 0 || inputIndex >= len(tx.TxIn) {
		return fmt.Errorf("input index %d out of range", inputIndex)
	}
	tx.TxIn[inputIndex].Witness = wire.TxWitness{
		nil, buyerSig, sellerSig, witnessScript,
	}
	return nil
}

// SignTxBytes signs the digest of the serialized prepared transaction with
// the party's key. Using the prepared bytes themselves binds the signature
// to the exact transaction content without a separate challenge round-trip.
func SignTxBytes(rawTx []byte, key *btcec.PrivateKey) []byte {
	digest := sha256.Sum256(rawTx)
	return ecdsa.Sign(key, digest[:]).Serialize()
}

// VerifyTxBytesSig verifies a signature produced by SignTxBytes.
func VerifyTxBytesSig(rawTx, sig, pubKey []byte) error {
	parsedKey, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return fmt.Errorf("parsing pubkey: %w", err)
	}
	parsedSig, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("parsing signature: %w", err)
	}
	digest := sha256.Sum256(rawTx)
	if !parsedSig.Verify(digest[:], parsedKey) {
		return ErrBadSignature
	}
	return nil
}
