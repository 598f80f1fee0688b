package domain

import "errors"

var (
	// ErrTradeNotFound ...
	ErrTradeNotFound = errors.New("trade not found")
	// ErrOfferIdMismatch is thrown when a message references an offer id other than the trade's
	ErrOfferIdMismatch = errors.New("message offer id does not match trade offer id")
	// ErrDepositTxAlreadySet ...
	ErrDepositTxAlreadySet = errors.New("trade already has a deposit transaction")
	// ErrDelayedPayoutTxAlreadySet ...
	ErrDelayedPayoutTxAlreadySet = errors.New("trade already has a delayed payout transaction")
	// ErrPayoutTxAlreadySet ...
	ErrPayoutTxAlreadySet = errors.New("trade already has a payout transaction")
	// ErrRefereeSelectionMismatch is thrown when the re-derived arbitrator or
	// mediator differs from the one recorded by the counterparty. Treated as a
	// protocol-level failure, never retried.
	ErrRefereeSelectionMismatch = errors.New("recomputed referee selection does not match recorded one")
	// ErrNoMatchingReferee is thrown when the accepted sets of the two parties
	// do not intersect.
	ErrNoMatchingReferee = errors.New("no referee accepted by both parties")
	// ErrContractHashMismatch ...
	ErrContractHashMismatch = errors.New("contract hash does not match peer's contract hash")
	// ErrPriceOutOfTolerance is thrown when the taker's trade price deviates
	// from the offer price beyond the configured tolerance.
	ErrPriceOutOfTolerance = errors.New("trade price is outside the offer's price tolerance")

	// ErrPrecondition marks programming-contract violations: a field the
	// protocol guarantees to be present was absent. These fail loudly and are
	// distinct from business-rule validation failures.
	ErrPrecondition = errors.New("protocol precondition violated")
)
