package chainmonitor

import (
	"context"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainweave/escrow-go/escrow"
)

type fakeReader struct {
	chain escrow.Chain
	depth int64
	// txRef -> (confirmations, found)
	confs map[string]int64
	found map[string]bool
	err   error
}

func (r *fakeReader) Chain() escrow.Chain      { return r.chain }
func (r *fakeReader) ConfirmationDepth() int64 { return r.depth }
func (r *fakeReader) TxStatus(_ context.Context, txRef string) (int64, bool, error) {
	if r.err != nil {
		return 0, false, r.err
	}
	return r.confs[txRef], r.found[txRef], nil
}

type fakeSource struct {
	offers []*escrow.Offer
	err    error
}

func (s *fakeSource) FindAwaitingLockConfirmation(escrow.Chain) ([]*escrow.Offer, error) {
	return s.offers, s.err
}

func pendingOffer(id string) *escrow.Offer {
	return &escrow.Offer{
		ID:     id,
		Status: escrow.StatusSellerLocked,
		Seller: &escrow.Leg{Chain: escrow.ChainBitcoin, Address: "addr-s", Amount: big.NewInt(1000)},
		Buyer:  &escrow.Leg{Chain: escrow.ChainXRPL, Address: "addr-b", Amount: big.NewInt(50)},

		SellerEscrowTx: "tx-seller",
	}
}

func TestPollEmitsAtDepth(t *testing.T) {
	reader := &fakeReader{
		chain: escrow.ChainBitcoin,
		depth: 3,
		confs: map[string]int64{"tx-seller": 3},
		found: map[string]bool{"tx-seller": true},
	}
	source := &fakeSource{offers: []*escrow.Offer{pendingOffer("offer-1")}}
	m := NewMonitor(reader, source, &Config{Interval: time.Hour})

	require.NoError(t, m.Poll(context.Background()))

	select {
	case ev := <-m.Events():
		assert.Equal(t, "offer-1", ev.OfferID)
		assert.Equal(t, escrow.SideSeller, ev.Side)
		assert.Equal(t, "tx-seller", ev.TxRef)
		assert.Equal(t, int64(3), ev.Confirmations)
	default:
		t.Fatal("expected an observation")
	}
}

func TestPollBelowDepthStaysQuiet(t *testing.T) {
	reader := &fakeReader{
		chain: escrow.ChainBitcoin,
		depth: 3,
		confs: map[string]int64{"tx-seller": 2},
		found: map[string]bool{"tx-seller": true},
	}
	source := &fakeSource{offers: []*escrow.Offer{pendingOffer("offer-1")}}
	m := NewMonitor(reader, source, &Config{Interval: time.Hour})

	require.NoError(t, m.Poll(context.Background()))
	assert.Empty(t, m.Events())
	assert.Equal(t, 1, m.Status().ActiveWatches)
}

// A lock is reported once per sighting even if the store lags persisting
// the confirmation flag between polls.
func TestPollDeduplicates(t *testing.T) {
	reader := &fakeReader{
		chain: escrow.ChainBitcoin,
		depth: 1,
		confs: map[string]int64{"tx-seller": 5},
		found: map[string]bool{"tx-seller": true},
	}
	source := &fakeSource{offers: []*escrow.Offer{pendingOffer("offer-1")}}
	m := NewMonitor(reader, source, &Config{Interval: time.Hour})

	require.NoError(t, m.Poll(context.Background()))
	require.NoError(t, m.Poll(context.Background()))

	assert.Len(t, m.Events(), 1)
	assert.Equal(t, int64(1), m.Status().ObservedTotal)
}

// Once the store stops reporting the watch the dedup entry is dropped, so
// a later re-lock of the same offer side is observed again.
func TestPruneAllowsReobservation(t *testing.T) {
	reader := &fakeReader{
		chain: escrow.ChainBitcoin,
		depth: 1,
		confs: map[string]int64{"tx-seller": 5},
		found: map[string]bool{"tx-seller": true},
	}
	source := &fakeSource{offers: []*escrow.Offer{pendingOffer("offer-1")}}
	m := NewMonitor(reader, source, &Config{Interval: time.Hour})

	require.NoError(t, m.Poll(context.Background()))
	<-m.Events()

	// flag persisted, watch disappears
	source.offers = nil
	require.NoError(t, m.Poll(context.Background()))

	// same offer re-enters the pending set
	source.offers = []*escrow.Offer{pendingOffer("offer-1")}
	require.NoError(t, m.Poll(context.Background()))
	assert.Len(t, m.Events(), 1)
}

func TestPollSourceErrorRecorded(t *testing.T) {
	reader := &fakeReader{chain: escrow.ChainBitcoin, depth: 1}
	source := &fakeSource{err: fmt.Errorf("db locked")}
	m := NewMonitor(reader, source, &Config{Interval: time.Hour})

	require.Error(t, m.Poll(context.Background()))
	st := m.Status()
	assert.Contains(t, st.LastError, "db locked")
	assert.False(t, st.LastPollAt.IsZero())
}

func TestLoopReportsRunning(t *testing.T) {
	reader := &fakeReader{chain: escrow.ChainXRPL, depth: 1}
	source := &fakeSource{}
	m := NewMonitor(reader, source, &Config{Interval: 5 * time.Millisecond})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = m.Loop(ctx)
		close(done)
	}()

	assert.Eventually(t, func() bool { return m.Status().Running }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	assert.False(t, m.Status().Running)
}

func TestDefaultInterval(t *testing.T) {
	assert.Equal(t, 30*time.Second, DefaultInterval(escrow.ChainBitcoin))
	assert.Equal(t, 5*time.Second, DefaultInterval(escrow.ChainXRPL))
}
