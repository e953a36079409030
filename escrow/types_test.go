package escrow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	// forward edges
	assert.True(t, CanTransition(StatusCreated, StatusSellerLocked))
	assert.True(t, CanTransition(StatusCreated, StatusBuyerLocked))
	assert.True(t, CanTransition(StatusSellerLocked, StatusBothLocked))
	assert.True(t, CanTransition(StatusBuyerLocked, StatusBothLocked))
	assert.True(t, CanTransition(StatusBothLocked, StatusCompleted))
	assert.True(t, CanTransition(StatusSellerLocked, StatusRefunded))
	assert.True(t, CanTransition(StatusDisputed, StatusRefunded))

	// no skipping and no going back
	assert.False(t, CanTransition(StatusCreated, StatusBothLocked))
	assert.False(t, CanTransition(StatusCreated, StatusCompleted))
	assert.False(t, CanTransition(StatusSellerLocked, StatusCreated))
	assert.False(t, CanTransition(StatusCompleted, StatusDisputed))
	assert.False(t, CanTransition(StatusRefunded, StatusCompleted))
	assert.False(t, CanTransition(StatusCancelled, StatusSellerLocked))
}

func TestTerminalStatuses(t *testing.T) {
	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusCancelled.IsTerminal())
	assert.True(t, StatusRefunded.IsTerminal())
	assert.False(t, StatusCreated.IsTerminal())
	assert.False(t, StatusBothLocked.IsTerminal())
	assert.False(t, StatusDisputed.IsTerminal())
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, SideBuyer, SideSeller.Opposite())
	assert.Equal(t, SideSeller, SideBuyer.Opposite())
}

func TestOfferExpired(t *testing.T) {
	now := time.Now()
	offer := &Offer{ExpiresAt: now.Add(time.Hour)}
	assert.False(t, offer.Expired(now))
	assert.True(t, offer.Expired(now.Add(time.Hour)))
	assert.True(t, offer.Expired(now.Add(2*time.Hour)))
}

func TestChainValid(t *testing.T) {
	for _, c := range SupportedChains {
		assert.True(t, c.Valid())
	}
	assert.False(t, Chain("dogecoin").Valid())
}
