package orchestrator

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainweave/escrow-go/chainmonitor"
	"github.com/chainweave/escrow-go/escrow"
	"github.com/chainweave/escrow-go/escrowstore"
)

type recordAlerter struct {
	mu       sync.Mutex
	subjects []string
}

func (r *recordAlerter) Alert(offerID, subject, detail string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subjects = append(r.subjects, subject)
}

func (r *recordAlerter) has(subject string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.subjects {
		if s == subject {
			return true
		}
	}
	return false
}

type testEnv struct {
	orc    *Orchestrator
	store  *escrowstore.Store
	btc    *SimAdapter
	xrpl   *SimAdapter
	alerts *recordAlerter
}

func newTestEnv(t *testing.T) *testEnv {
	store, err := escrowstore.New("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	btc := NewSimAdapter(escrow.ChainBitcoin)
	xrpl := NewSimAdapter(escrow.ChainXRPL)
	alerts := &recordAlerter{}

	cfg := &Config{
		ExpirySweepInterval: time.Hour,
		ChainCallTimeout:    100 * time.Millisecond,
		RetryMax:            2,
		RetryBaseDelay:      time.Millisecond,
		RetryMaxDelay:       5 * time.Millisecond,
	}
	orc := New(cfg, store, map[escrow.Chain]escrow.Adapter{
		escrow.ChainBitcoin: btc,
		escrow.ChainXRPL:    xrpl,
	}, alerts)

	return &testEnv{orc: orc, store: store, btc: btc, xrpl: xrpl, alerts: alerts}
}

// expireOffer pushes the deadline into the past behind the orchestrator's
// back.
func expireOffer(t *testing.T, s *escrowstore.Store, offerID string) {
	require.NoError(t, s.UpdateExpiry(offerID, time.Now().Add(-time.Minute)))
}

func sellerLeg() *escrow.Leg {
	return &escrow.Leg{
		Chain:    escrow.ChainBitcoin,
		Address:  "seller-btc-pub",
		Amount:   big.NewInt(100_000),
		Currency: "BTC",
		UserID:   "user-seller",
	}
}

func buyerLeg() *escrow.Leg {
	return &escrow.Leg{
		Chain:    escrow.ChainXRPL,
		Address:  "rBuyer",
		Amount:   big.NewInt(50_000_000),
		Currency: "XRP",
		UserID:   "user-buyer",
	}
}

func (e *testEnv) openAccepted(t *testing.T) *escrow.Offer {
	offer, err := e.orc.CreateOffer(&CreateOfferParams{
		Seller:    sellerLeg(),
		ExpiresAt: time.Now().Add(time.Hour),
		IsPublic:  true,
	})
	require.NoError(t, err)

	// the buyer names where they receive on the seller chain; the seller
	// answers with their receive address on the buyer chain
	offer, err = e.orc.AcceptOffer(offer.ID, buyerLeg(), "buyer-recv-btc")
	require.NoError(t, err)
	offer, err = e.orc.RegisterPayout(offer.ID, escrow.SideBuyer, "seller-recv-xrpl")
	require.NoError(t, err)
	return offer
}

// lockBoth drives both legs through lock and confirmation using the real
// monitors over the simulated chains.
func (e *testEnv) lockBoth(t *testing.T, offerID string) *escrow.Offer {
	ctx := context.Background()

	offer, err := e.orc.LockFunds(ctx, offerID, escrow.SideSeller, nil)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusSellerLocked, offer.Status)

	offer, err = e.orc.LockFunds(ctx, offerID, escrow.SideBuyer, nil)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusBothLocked, offer.Status)

	e.btc.Confirm(offer.SellerEscrowTx, e.btc.Depth)
	e.xrpl.Confirm(offer.BuyerEscrowTx, e.xrpl.Depth)

	for _, sim := range []*SimAdapter{e.btc, e.xrpl} {
		m := chainmonitor.NewMonitor(sim, e.store, &chainmonitor.Config{Interval: time.Hour})
		require.NoError(t, m.Poll(ctx))
		for len(m.Events()) > 0 {
			require.NoError(t, e.orc.HandleLockObserved(ctx, <-m.Events()))
		}
	}

	offer, err = e.orc.GetOffer(offerID)
	require.NoError(t, err)
	return offer
}

func TestCreateOfferFeeSnapshot(t *testing.T) {
	e := newTestEnv(t)

	offer, err := e.orc.CreateOffer(&CreateOfferParams{
		Seller:    sellerLeg(),
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	// 2% of 100000, snapshotted at creation
	assert.Equal(t, 2.0, offer.AdminFeePercentage)
	assert.Equal(t, int64(2000), offer.AdminFeeAmount.Int64())
	assert.False(t, offer.AdminFeeCollected)

	// out-of-bounds requests clamp to policy limits
	pct := 50.0
	offer, err = e.orc.CreateOffer(&CreateOfferParams{
		Seller:        sellerLeg(),
		ExpiresAt:     time.Now().Add(time.Hour),
		FeePercentage: &pct,
	})
	require.NoError(t, err)
	assert.Equal(t, 10.0, offer.AdminFeePercentage)
}

func TestCreateOfferRejectsBadInput(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.orc.CreateOffer(&CreateOfferParams{
		Seller:    sellerLeg(),
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	assert.Error(t, err)

	leg := sellerLeg()
	leg.Amount = big.NewInt(0)
	_, err = e.orc.CreateOffer(&CreateOfferParams{Seller: leg, ExpiresAt: time.Now().Add(time.Hour)})
	assert.Error(t, err)
}

func TestAcceptOfferGuards(t *testing.T) {
	e := newTestEnv(t)
	offer := e.openAccepted(t)

	// a second buyer cannot claim the same offer
	_, err := e.orc.AcceptOffer(offer.ID, buyerLeg(), "second-recv-btc")
	assert.Error(t, err)
}

func TestLockRequiresRegisteredPayout(t *testing.T) {
	e := newTestEnv(t)
	offer, err := e.orc.CreateOffer(&CreateOfferParams{
		Seller:    sellerLeg(),
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)
	offer, err = e.orc.AcceptOffer(offer.ID, buyerLeg(), "buyer-recv-btc")
	require.NoError(t, err)

	// the seller never said where they receive on the buyer chain
	_, err = e.orc.LockFunds(context.Background(), offer.ID, escrow.SideBuyer, nil)
	assert.Error(t, err)
	assert.Equal(t, 0, e.xrpl.CreateCalls())

	// the seller leg payout came with the acceptance
	offer, err = e.orc.LockFunds(context.Background(), offer.ID, escrow.SideSeller, nil)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusSellerLocked, offer.Status)
}

// The full happy path: create, accept, lock both legs, monitors confirm,
// both escrows release crosswise and the fee is booked.
func TestSwapCompletes(t *testing.T) {
	e := newTestEnv(t)
	offer := e.openAccepted(t)
	offer = e.lockBoth(t, offer.ID)

	assert.Equal(t, escrow.StatusCompleted, offer.Status)
	assert.NotEmpty(t, offer.SellerReleaseTx)
	assert.NotEmpty(t, offer.BuyerReleaseTx)
	assert.NotNil(t, offer.CompletedAt)
	assert.True(t, offer.AdminFeeCollected)
	assert.Equal(t, offer.SellerReleaseTx, offer.AdminFeeTxHash)

	// seller's escrow paid the buyer's bitcoin address, buyer's escrow
	// paid the seller's xrpl address
	dest, ok := e.btc.SettledTo(offer.ID, escrow.SideSeller)
	require.True(t, ok)
	assert.Equal(t, "buyer-recv-btc", dest)
	dest, ok = e.xrpl.SettledTo(offer.ID, escrow.SideBuyer)
	require.True(t, ok)
	assert.Equal(t, "seller-recv-xrpl", dest)
}

func TestLockRequiresBuyer(t *testing.T) {
	e := newTestEnv(t)
	offer, err := e.orc.CreateOffer(&CreateOfferParams{
		Seller:    sellerLeg(),
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	_, err = e.orc.LockFunds(context.Background(), offer.ID, escrow.SideSeller, nil)
	assert.Error(t, err)
	assert.Equal(t, 0, e.btc.CreateCalls())
}

func TestLockUnconfiguredAdapter(t *testing.T) {
	e := newTestEnv(t)
	e.orc.adapters[escrow.ChainBitcoin] = &escrow.Unconfigured{ChainID: escrow.ChainBitcoin, Missing: "rpc endpoint"}
	offer := e.openAccepted(t)

	_, err := e.orc.LockFunds(context.Background(), offer.ID, escrow.SideSeller, nil)
	assert.ErrorIs(t, err, escrow.ErrAdapterUnavailable)

	offer, err = e.orc.GetOffer(offer.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusCreated, offer.Status)
	assert.Empty(t, offer.SellerEscrowTx)
}

// An ambiguous timeout where the lock actually landed must adopt the
// existing escrow instead of broadcasting a second one.
func TestLockTimeoutAdoptsExistingEscrow(t *testing.T) {
	e := newTestEnv(t)
	offer := e.openAccepted(t)

	e.btc.CreateTimeouts = 1
	e.btc.LandsOnTimeout = true

	offer, err := e.orc.LockFunds(context.Background(), offer.ID, escrow.SideSeller, nil)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusSellerLocked, offer.Status)
	assert.NotEmpty(t, offer.SellerEscrowTx)
	assert.Equal(t, 1, e.btc.CreateCalls())
}

func TestLockRejectionIsNotRetried(t *testing.T) {
	e := newTestEnv(t)
	offer := e.openAccepted(t)

	e.btc.CreateRejects = true
	_, err := e.orc.LockFunds(context.Background(), offer.ID, escrow.SideSeller, nil)
	assert.ErrorIs(t, err, escrow.ErrChainCallRejected)
	assert.Equal(t, 1, e.btc.CreateCalls())

	offer, err = e.orc.GetOffer(offer.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusCreated, offer.Status)
}

func TestObservationReplayIsIdempotent(t *testing.T) {
	e := newTestEnv(t)
	offer := e.openAccepted(t)

	ctx := context.Background()
	offer, err := e.orc.LockFunds(ctx, offer.ID, escrow.SideSeller, nil)
	require.NoError(t, err)

	ev := &chainmonitor.LockObserved{
		OfferID: offer.ID,
		Chain:   escrow.ChainBitcoin,
		Side:    escrow.SideSeller,
		TxRef:   offer.SellerEscrowTx,
	}
	require.NoError(t, e.orc.HandleLockObserved(ctx, ev))
	require.NoError(t, e.orc.HandleLockObserved(ctx, ev))

	offer, err = e.orc.GetOffer(offer.ID)
	require.NoError(t, err)
	assert.True(t, offer.SellerLockConfirmed)
	assert.Equal(t, escrow.StatusSellerLocked, offer.Status)
}

// A partial release is the alarm case: one chain paid out, the other
// refused. The offer freezes in dispute for an admin.
func TestPartialReleaseFreezesDisputed(t *testing.T) {
	e := newTestEnv(t)
	offer := e.openAccepted(t)

	e.xrpl.ReleaseRejects = true
	offer = e.lockBoth(t, offer.ID)

	assert.Equal(t, escrow.StatusDisputed, offer.Status)
	assert.True(t, e.alerts.has("partial release"))

	_, settled := e.btc.SettledTo(offer.ID, escrow.SideSeller)
	assert.True(t, settled)
	_, settled = e.xrpl.SettledTo(offer.ID, escrow.SideBuyer)
	assert.False(t, settled)
}

// A chain that only settles through its multisig ceremony holds the offer
// open; the spend is reported back manually and then completes the swap.
func TestManualSettlementCompletes(t *testing.T) {
	e := newTestEnv(t)
	e.btc.NotSupported = true
	offer := e.openAccepted(t)
	offer = e.lockBoth(t, offer.ID)

	assert.Equal(t, escrow.StatusBothLocked, offer.Status)
	assert.True(t, e.alerts.has("manual settlement required"))
	assert.Empty(t, offer.SellerReleaseTx)
	assert.NotEmpty(t, offer.BuyerReleaseTx)

	ctx := context.Background()
	_, err := e.orc.RecordManualSettlement(ctx, offer.ID, escrow.SideSeller, "manual-tx")
	assert.Error(t, err) // not on chain yet

	e.btc.Confirm("manual-tx", e.btc.Depth)
	offer, err = e.orc.RecordManualSettlement(ctx, offer.ID, escrow.SideSeller, "manual-tx")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusCompleted, offer.Status)
	assert.Equal(t, "manual-tx", offer.SellerReleaseTx)
}

func TestSweepCancelsExpiredUnlocked(t *testing.T) {
	e := newTestEnv(t)

	offer, err := e.orc.CreateOffer(&CreateOfferParams{
		Seller:    sellerLeg(),
		ExpiresAt: time.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	expireOffer(t, e.store, offer.ID)
	require.NoError(t, e.orc.SweepExpired(context.Background()))

	offer, err = e.orc.GetOffer(offer.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusCancelled, offer.Status)
}

func TestSweepRefundsExpiredLockedLeg(t *testing.T) {
	e := newTestEnv(t)

	ctx := context.Background()
	offer := e.openAccepted(t)
	offer, err := e.orc.LockFunds(ctx, offer.ID, escrow.SideSeller, nil)
	require.NoError(t, err)

	expireOffer(t, e.store, offer.ID)

	require.NoError(t, e.orc.SweepExpired(ctx))

	offer, err = e.orc.GetOffer(offer.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusRefunded, offer.Status)
	assert.NotEmpty(t, offer.SellerReleaseTx)

	dest, settled := e.btc.SettledTo(offer.ID, escrow.SideSeller)
	require.True(t, settled)
	assert.Equal(t, "seller-btc-pub", dest)
}

// An expired leg on a multisig-only chain cannot be refunded by the
// sweep; the offer freezes in dispute so the manual spend can be
// recorded and the admin closes it with a refund verdict.
func TestSweepManualRefundFreezesDisputed(t *testing.T) {
	e := newTestEnv(t)
	e.btc.NotSupported = true

	ctx := context.Background()
	offer := e.openAccepted(t)
	offer, err := e.orc.LockFunds(ctx, offer.ID, escrow.SideSeller, nil)
	require.NoError(t, err)

	expireOffer(t, e.store, offer.ID)
	require.NoError(t, e.orc.SweepExpired(ctx))

	offer, err = e.orc.GetOffer(offer.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusDisputed, offer.Status)
	assert.True(t, e.alerts.has("manual refund required"))

	// the co-signed refund lands on chain and is reported back
	e.btc.Confirm("manual-refund-tx", e.btc.Depth)
	offer, err = e.orc.RecordManualSettlement(ctx, offer.ID, escrow.SideSeller, "manual-refund-tx")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusDisputed, offer.Status)
	assert.Equal(t, "manual-refund-tx", offer.SellerReleaseTx)

	offer, err = e.orc.ResolveDispute(ctx, offer.ID, "admin-1", ResolutionRefund, "multisig refund executed")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusRefunded, offer.Status)
}

func TestDisputedOffersAreNotSwept(t *testing.T) {
	e := newTestEnv(t)

	ctx := context.Background()
	offer := e.openAccepted(t)
	offer, err := e.orc.LockFunds(ctx, offer.ID, escrow.SideSeller, nil)
	require.NoError(t, err)

	offer, err = e.orc.RaiseDispute(offer.ID, "user-buyer", "seller unreachable")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusDisputed, offer.Status)

	expireOffer(t, e.store, offer.ID)
	require.NoError(t, e.orc.SweepExpired(ctx))

	offer, err = e.orc.GetOffer(offer.ID)
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusDisputed, offer.Status)
	_, settled := e.btc.SettledTo(offer.ID, escrow.SideSeller)
	assert.False(t, settled)
}

func TestResolveDisputeRefund(t *testing.T) {
	e := newTestEnv(t)

	ctx := context.Background()
	offer := e.openAccepted(t)
	offer, err := e.orc.LockFunds(ctx, offer.ID, escrow.SideSeller, nil)
	require.NoError(t, err)
	offer, err = e.orc.RaiseDispute(offer.ID, "user-buyer", "seller unreachable")
	require.NoError(t, err)

	offer, err = e.orc.ResolveDispute(ctx, offer.ID, "admin-1", ResolutionRefund, "buyer proved non-delivery")
	require.NoError(t, err)
	assert.Equal(t, escrow.StatusRefunded, offer.Status)
	assert.Equal(t, "admin-1", offer.DisputeResolvedBy)
	assert.Equal(t, "buyer proved non-delivery", offer.DisputeResolution)

	dest, settled := e.btc.SettledTo(offer.ID, escrow.SideSeller)
	require.True(t, settled)
	assert.Equal(t, "seller-btc-pub", dest)
}

func TestResolveDisputeCancelRefusesLockedFunds(t *testing.T) {
	e := newTestEnv(t)

	ctx := context.Background()
	offer := e.openAccepted(t)
	offer, err := e.orc.LockFunds(ctx, offer.ID, escrow.SideSeller, nil)
	require.NoError(t, err)
	offer, err = e.orc.RaiseDispute(offer.ID, "user-buyer", "cold feet")
	require.NoError(t, err)

	_, err = e.orc.ResolveDispute(ctx, offer.ID, "admin-1", ResolutionCancel, "")
	assert.Error(t, err)
}
