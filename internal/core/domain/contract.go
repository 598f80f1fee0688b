package domain

import (
	"bytes"
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
)

// Contract is the snapshot of the agreed trade terms. Once both signatures
// over its hash are attached it is immutable; both parties cross-check the
// hash before trusting any fund-moving transaction.
type Contract struct {
	OfferId               string `json:"offerId"`
	Amount                int64  `json:"amount"`
	Price                 string `json:"price"`
	PaymentMethodId       string `json:"paymentMethodId"`
	MakerAddress          string `json:"makerAddress"`
	TakerAddress          string `json:"takerAddress"`
	BuyerPayoutAddress    string `json:"buyerPayoutAddress"`
	SellerPayoutAddress   string `json:"sellerPayoutAddress"`
	BuyerMultiSigPubKey   []byte `json:"buyerMultiSigPubKey"`
	SellerMultiSigPubKey  []byte `json:"sellerMultiSigPubKey"`
	ArbitratorAddress     string `json:"arbitratorAddress"`
	MediatorAddress       string `json:"mediatorAddress"`
	DonationAddress       string `json:"donationAddress"`
	BuyerSecurityDeposit  int64  `json:"buyerSecurityDeposit"`
	SellerSecurityDeposit int64  `json:"sellerSecurityDeposit"`
	LockTime              uint32 `json:"lockTime"`
	MakerFeeTxId          string `json:"makerFeeTxId"`
	TakerFeeTxId          string `json:"takerFeeTxId"`
}

// Json returns the canonical serialization of the contract. Field order is
// fixed by the struct declaration, so both parties produce identical bytes
// for identical terms.
func (c *Contract) Json() ([]byte, error) {
	return json.Marshal(c)
}

// Hash returns the sha256 digest of the canonical contract serialization.
func (c *Contract) Hash() ([]byte, error) {
	raw, err := c.Json()
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(raw)
	return hash[:], nil
}

// SignContractHash signs a contract hash with the party's multisig key and
// returns the DER encoded signature.
func SignContractHash(hash []byte, key *btcec.PrivateKey) []byte {
	return ecdsa.Sign(key, hash).Serialize()
}

// VerifyContractSig verifies a DER encoded contract signature against the
// given serialized public key.
func VerifyContractSig(hash, sig, pubKey []byte) error {
	parsedKey, err := btcec.ParsePubKey(pubKey)
	if err != nil {
		return fmt.Errorf("parsing contract pubkey: %w", err)
	}
	parsedSig, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return fmt.Errorf("parsing contract signature: %w", err)
	}
	if !parsedSig.Verify(hash, parsedKey) {
		return fmt.Errorf("contract signature verification failed")
	}
	return nil
}

// CheckContractHash compares a peer-provided contract hash with the locally
// computed one.
func (c *Contract) CheckContractHash(peerHash []byte) error {
	hash, err := c.Hash()
	if err != nil {
		return err
	}
	if !bytes.Equal(hash, peerHash) {
		return ErrContractHashMismatch
	}
	return nil
}
