package domain_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/escrow-network/escrow-daemon/internal/core/domain"
)

func TestSelectArbitrator(t *testing.T) {
	offer := domain.Offer{
		Id:                  "offer-1",
		AcceptedArbitrators: []string{"arb1.onion", "arb2.onion", "arb3.onion"},
		AcceptedMediators:   []string{"med1.onion", "med2.onion"},
	}
	acceptedByPeer := []string{"arb3.onion", "arb1.onion", "arb4.onion"}

	selected, err := domain.SelectArbitrator(acceptedByPeer, offer)
	require.NoError(t, err)
	require.Contains(t, []string{"arb1.onion", "arb3.onion"}, selected)

	t.Run("deterministic", func(t *testing.T) {
		for i := 0; i < 10; i++ {
			again, err := domain.SelectArbitrator(acceptedByPeer, offer)
			require.NoError(t, err)
			require.Equal(t, selected, again)
		}
	})

	t.Run("order_independent", func(t *testing.T) {
		shuffled := []string{"arb4.onion", "arb1.onion", "arb3.onion"}
		again, err := domain.SelectArbitrator(shuffled, offer)
		require.NoError(t, err)
		require.Equal(t, selected, again)
	})

	t.Run("no_intersection", func(t *testing.T) {
		_, err := domain.SelectArbitrator([]string{"arb9.onion"}, offer)
		require.ErrorIs(t, err, domain.ErrNoMatchingReferee)
	})

	t.Run("different_offer_may_differ", func(t *testing.T) {
		// not asserting inequality, only that it stays within candidates
		other := offer
		other.Id = "offer-2"
		got, err := domain.SelectArbitrator(acceptedByPeer, other)
		require.NoError(t, err)
		require.Contains(t, []string{"arb1.onion", "arb3.onion"}, got)
	})
}

func TestVerifyArbitratorSelection(t *testing.T) {
	offer := domain.Offer{
		Id:                  "offer-1",
		AcceptedArbitrators: []string{"arb1.onion", "arb2.onion"},
	}
	acceptedByPeer := []string{"arb1.onion", "arb2.onion"}

	selected, err := domain.SelectArbitrator(acceptedByPeer, offer)
	require.NoError(t, err)

	// the maker's re-derivation equals the taker's original selection
	require.NoError(t, domain.VerifyArbitratorSelection(selected, acceptedByPeer, offer))

	wrong := "arb1.onion"
	if selected == wrong {
		wrong = "arb2.onion"
	}
	require.ErrorIs(
		t,
		domain.VerifyArbitratorSelection(wrong, acceptedByPeer, offer),
		domain.ErrRefereeSelectionMismatch,
	)
}

func TestSelectMediator(t *testing.T) {
	offer := domain.Offer{
		Id:                "offer-1",
		AcceptedMediators: []string{"med1.onion", "med2.onion"},
	}

	selected, err := domain.SelectMediator([]string{"med2.onion"}, offer)
	require.NoError(t, err)
	require.Equal(t, "med2.onion", selected)

	require.NoError(t, domain.VerifyMediatorSelection("med2.onion", []string{"med2.onion"}, offer))
}
