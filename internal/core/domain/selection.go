package domain

import (
	"crypto/sha256"
	"encoding/binary"
	"sort"
)

// SelectArbitrator deterministically picks the arbitrator for a trade from
// the counterparty's accepted set and the offer configuration.
func SelectArbitrator(acceptedByPeer []string, offer Offer) (string, error) {
	return selectReferee(acceptedByPeer, offer.AcceptedArbitrators, offer.Id)
}

// SelectMediator deterministically picks the mediator for a trade from the
// counterparty's accepted set and the offer configuration.
func SelectMediator(acceptedByPeer []string, offer Offer) (string, error) {
	return selectReferee(acceptedByPeer, offer.AcceptedMediators, offer.Id)
}

// VerifyArbitratorSelection re-derives the arbitrator and compares it with
// the one recorded by the counterparty. A mismatch is a protocol-level
// failure, not a retryable condition.
func VerifyArbitratorSelection(recorded string, acceptedByPeer []string, offer Offer) error {
	selected, err := SelectArbitrator(acceptedByPeer, offer)
	if err != nil {
		return err
	}
	if selected != recorded {
		return ErrRefereeSelectionMismatch
	}
	return nil
}

// VerifyMediatorSelection re-derives the mediator and compares it with the
// one recorded by the counterparty.
func VerifyMediatorSelection(recorded string, acceptedByPeer []string, offer Offer) error {
	selected, err := SelectMediator(acceptedByPeer, offer)
	if err != nil {
		return err
	}
	if selected != recorded {
		return ErrRefereeSelectionMismatch
	}
	return nil
}

// selectReferee intersects the two accepted sets, sorts the candidates and
// indexes them by the offer id digest. No randomness and no external state:
// maker and taker compute the identical address independently.
func selectReferee(acceptedByPeer, acceptedByOffer []string, offerId string) (string, error) {
	candidates := intersect(acceptedByPeer, acceptedByOffer)
	if len(candidates) == 0 {
		return "", ErrNoMatchingReferee
	}
	sort.Strings(candidates)

	digest := sha256.Sum256([]byte(offerId))
	index := binary.BigEndian.Uint64(digest[:8]) % uint64(len(candidates))
	return candidates[index], nil
}

func intersect(a, b []string) []string {
	set := make(map[string]struct{}, len(a))
	for _, v := range a {
		set[v] = struct{}{}
	}
	out := make([]string, 0, len(b))
	for _, v := range b {
		if _, ok := set[v]; ok {
			out = append(out, v)
		}
	}
	return out
}
