package escrowstore

import (
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainweave/escrow-go/escrow"
)

func newTestStore(t *testing.T) *Store {
	s, err := New("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func testOffer(id string) *escrow.Offer {
	now := time.Now().UTC().Truncate(time.Second)
	return &escrow.Offer{
		ID:     id,
		Status: escrow.StatusCreated,
		Seller: &escrow.Leg{
			Chain:    escrow.ChainBitcoin,
			Address:  "bcrt1qseller",
			Amount:   big.NewInt(100000000),
			Currency: "BTC",
			UserID:   "user-seller",
		},
		CreatedAt:          now,
		ExpiresAt:          now.Add(24 * time.Hour),
		AdminFeePercentage: 2,
		AdminFeeAmount:     big.NewInt(2000000),
		IsPublic:           true,
	}
}

func TestCreateAndGet(t *testing.T) {
	s := newTestStore(t)

	offer := testOffer("offer-1")
	require.NoError(t, s.Create(offer))

	got, err := s.Get("offer-1")
	require.NoError(t, err)
	assert.Equal(t, offer.ID, got.ID)
	assert.Equal(t, escrow.StatusCreated, got.Status)
	assert.Equal(t, offer.Seller.Amount, got.Seller.Amount)
	assert.Equal(t, offer.AdminFeeAmount, got.AdminFeeAmount)
	assert.Nil(t, got.Buyer)
	assert.Nil(t, got.SellerLockedAt)
	assert.True(t, got.IsPublic)
	assert.Equal(t, offer.ExpiresAt, got.ExpiresAt)
}

func TestCreateDuplicateOfferID(t *testing.T) {
	s := newTestStore(t)

	require.NoError(t, s.Create(testOffer("offer-1")))
	err := s.Create(testOffer("offer-1"))
	assert.ErrorIs(t, err, escrow.ErrDuplicateOfferID)
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)

	_, err := s.Get("nope")
	assert.ErrorIs(t, err, escrow.ErrOfferNotFound)
}

func TestTransition(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create(testOffer("offer-1")))

	lockedAt := time.Now().UTC().Truncate(time.Second)
	txRef := "btc-lock-tx"
	err := s.Transition("offer-1", escrow.StatusCreated, escrow.StatusSellerLocked, &TransitionFields{
		SellerEscrowTx: &txRef,
		SellerLockedAt: &lockedAt,
	})
	require.NoError(t, err)

	got, err := s.Get("offer-1")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusSellerLocked, got.Status)
	assert.Equal(t, txRef, got.SellerEscrowTx)
	require.NotNil(t, got.SellerLockedAt)
	assert.Equal(t, lockedAt, *got.SellerLockedAt)
}

func TestTransitionStale(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create(testOffer("offer-1")))

	require.NoError(t, s.Transition("offer-1", escrow.StatusCreated, escrow.StatusSellerLocked, nil))

	// second attempt with the old fromStatus loses the race
	err := s.Transition("offer-1", escrow.StatusCreated, escrow.StatusSellerLocked, nil)
	assert.ErrorIs(t, err, escrow.ErrStaleTransition)

	// unknown offer is reported as missing, not stale
	err = s.Transition("nope", escrow.StatusCreated, escrow.StatusSellerLocked, nil)
	assert.ErrorIs(t, err, escrow.ErrOfferNotFound)
}

func TestTransitionRejectsIllegalEdge(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create(testOffer("offer-1")))

	err := s.Transition("offer-1", escrow.StatusCreated, escrow.StatusCompleted, nil)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, escrow.ErrStaleTransition)
}

// Two concurrent attempts with the same fromStatus: exactly one wins.
func TestTransitionConcurrentCAS(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create(testOffer("offer-1")))

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			errs[i] = s.Transition("offer-1", escrow.StatusCreated, escrow.StatusSellerLocked, nil)
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, escrow.ErrStaleTransition)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestTransitionBindBuyer(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create(testOffer("offer-1")))

	buyer := &escrow.Leg{
		Chain:    escrow.ChainXRPL,
		Address:  "rBuyerAddress",
		Amount:   big.NewInt(50000000000),
		Currency: "XRP",
		UserID:   "user-buyer",
	}
	// buyer acceptance populates the leg and the seller-side payout
	// without advancing the status
	recv := "bcrt1qbuyerrecv"
	err := s.Transition("offer-1", escrow.StatusCreated, escrow.StatusCreated, &TransitionFields{
		Buyer:        buyer,
		SellerPayout: &recv,
	})
	require.NoError(t, err)

	got, err := s.Get("offer-1")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusCreated, got.Status)
	require.NotNil(t, got.Buyer)
	assert.Equal(t, buyer.Chain, got.Buyer.Chain)
	assert.Equal(t, buyer.Amount, got.Buyer.Amount)
	assert.Equal(t, recv, got.Seller.Payout)
	assert.Empty(t, got.Buyer.Payout)
}

// Binding is once-only: the status guard alone cannot arbitrate a
// created -> created write, so a second acceptance must lose on the
// stored-buyer guard instead of silently replacing the first buyer.
func TestTransitionBindBuyerExactlyOnce(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create(testOffer("offer-1")))

	first := &escrow.Leg{Chain: escrow.ChainXRPL, Address: "rFirst", Amount: big.NewInt(1000), Currency: "XRP"}
	second := &escrow.Leg{Chain: escrow.ChainStellar, Address: "GSECOND", Amount: big.NewInt(2000), Currency: "XLM"}

	require.NoError(t, s.Transition("offer-1", escrow.StatusCreated, escrow.StatusCreated, &TransitionFields{Buyer: first}))

	err := s.Transition("offer-1", escrow.StatusCreated, escrow.StatusCreated, &TransitionFields{Buyer: second})
	assert.ErrorIs(t, err, escrow.ErrStaleTransition)

	got, err := s.Get("offer-1")
	require.NoError(t, err)
	require.NotNil(t, got.Buyer)
	assert.Equal(t, "rFirst", got.Buyer.Address)

	// same under contention: of n racing acceptances exactly one wins
	require.NoError(t, s.Create(testOffer("offer-2")))
	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			buyer := &escrow.Leg{Chain: escrow.ChainXRPL, Address: "rBuyer", Amount: big.NewInt(int64(i + 1)), Currency: "XRP"}
			errs[i] = s.Transition("offer-2", escrow.StatusCreated, escrow.StatusCreated, &TransitionFields{Buyer: buyer})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
		} else {
			assert.ErrorIs(t, err, escrow.ErrStaleTransition)
		}
	}
	assert.Equal(t, 1, wins)
}

func TestFindExpiring(t *testing.T) {
	s := newTestStore(t)

	now := time.Now().UTC().Truncate(time.Second)

	expired := testOffer("expired")
	expired.ExpiresAt = now.Add(-time.Hour)
	require.NoError(t, s.Create(expired))

	fresh := testOffer("fresh")
	fresh.ExpiresAt = now.Add(time.Hour)
	require.NoError(t, s.Create(fresh))

	// terminal offers are never swept
	done := testOffer("done")
	done.ExpiresAt = now.Add(-time.Hour)
	require.NoError(t, s.Create(done))
	require.NoError(t, s.Transition("done", escrow.StatusCreated, escrow.StatusCancelled, nil))

	// disputed offers are frozen
	frozen := testOffer("frozen")
	frozen.ExpiresAt = now.Add(-time.Hour)
	require.NoError(t, s.Create(frozen))
	require.NoError(t, s.Transition("frozen", escrow.StatusCreated, escrow.StatusDisputed, nil))

	offers, err := s.FindExpiring(now)
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "expired", offers[0].ID)
}

func TestFindAwaitingLockConfirmation(t *testing.T) {
	s := newTestStore(t)

	offer := testOffer("offer-1")
	require.NoError(t, s.Create(offer))

	txRef := "btc-lock-tx"
	lockedAt := time.Now().UTC()
	require.NoError(t, s.Transition("offer-1", escrow.StatusCreated, escrow.StatusSellerLocked, &TransitionFields{
		SellerEscrowTx: &txRef,
		SellerLockedAt: &lockedAt,
	}))

	offers, err := s.FindAwaitingLockConfirmation(escrow.ChainBitcoin)
	require.NoError(t, err)
	require.Len(t, offers, 1)

	// confirming removes it from the watch set
	confirmed := true
	require.NoError(t, s.Transition("offer-1", escrow.StatusSellerLocked, escrow.StatusSellerLocked, &TransitionFields{
		SellerLockConfirmed: &confirmed,
	}))

	offers, err = s.FindAwaitingLockConfirmation(escrow.ChainBitcoin)
	require.NoError(t, err)
	assert.Empty(t, offers)

	// no watches on an unrelated chain
	offers, err = s.FindAwaitingLockConfirmation(escrow.ChainStellar)
	require.NoError(t, err)
	assert.Empty(t, offers)
}

func TestFindByAddressAndUser(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Create(testOffer("offer-1")))
	require.NoError(t, s.Create(testOffer("offer-2")))

	offers, err := s.FindByAddress("bcrt1qseller")
	require.NoError(t, err)
	assert.Len(t, offers, 2)

	offers, err = s.FindByUser("user-seller")
	require.NoError(t, err)
	assert.Len(t, offers, 2)

	offers, err = s.FindByAddress("unknown")
	require.NoError(t, err)
	assert.Empty(t, offers)
}

func TestFindPublic(t *testing.T) {
	s := newTestStore(t)

	pub := testOffer("pub")
	require.NoError(t, s.Create(pub))

	private := testOffer("private")
	private.IsPublic = false
	require.NoError(t, s.Create(private))

	offers, err := s.FindPublic()
	require.NoError(t, err)
	require.Len(t, offers, 1)
	assert.Equal(t, "pub", offers[0].ID)

	// matched offers disappear from discovery
	buyer := &escrow.Leg{Chain: escrow.ChainXRPL, Address: "rBuyer", Amount: big.NewInt(1), Currency: "XRP"}
	require.NoError(t, s.Transition("pub", escrow.StatusCreated, escrow.StatusCreated, &TransitionFields{Buyer: buyer}))

	offers, err = s.FindPublic()
	require.NoError(t, err)
	assert.Empty(t, offers)
}
