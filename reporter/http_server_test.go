package reporter

import (
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainweave/escrow-go/chainmonitor"
	"github.com/chainweave/escrow-go/escrow"
	"github.com/chainweave/escrow-go/escrowstore"
	"github.com/chainweave/escrow-go/orchestrator"
)

func newTestReporter(t *testing.T) (*HttpReporter, string) {
	store, err := escrowstore.New("sqlite3", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	sim := orchestrator.NewSimAdapter(escrow.ChainBitcoin)
	orc := orchestrator.New(&orchestrator.Config{}, store,
		map[escrow.Chain]escrow.Adapter{escrow.ChainBitcoin: sim}, nil)

	offer, err := orc.CreateOffer(&orchestrator.CreateOfferParams{
		Seller: &escrow.Leg{
			Chain:    escrow.ChainBitcoin,
			Address:  "seller-btc-pub",
			Amount:   big.NewInt(100_000),
			Currency: "BTC",
		},
		ExpiresAt: time.Now().Add(time.Hour),
		IsPublic:  true,
	})
	require.NoError(t, err)

	m := chainmonitor.NewMonitor(sim, store, &chainmonitor.Config{Interval: time.Hour})
	h := NewHttpReporter("127.0.0.1", "0", orc, []*chainmonitor.Monitor{m})
	return h, offer.ID
}

func get(t *testing.T, h *HttpReporter, path string) *httptest.ResponseRecorder {
	router := h.SetupRouter()
	w := httptest.NewRecorder()
	req, err := http.NewRequest(http.MethodGet, path, nil)
	require.NoError(t, err)
	router.ServeHTTP(w, req)
	return w
}

func TestHello(t *testing.T) {
	h, _ := newTestReporter(t)
	w := get(t, h, ROUTE_HELLO)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "world")
}

func TestOfferRoute(t *testing.T) {
	h, offerID := newTestReporter(t)

	w := get(t, h, ROUTE_OFFER+"?id="+offerID)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), offerID)

	w = get(t, h, ROUTE_OFFER+"?id=nope")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = get(t, h, ROUTE_OFFER)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestPublicOffersRoute(t *testing.T) {
	h, offerID := newTestReporter(t)
	w := get(t, h, ROUTE_OFFERS_PUBLIC)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), offerID)
}

func TestMonitorsRoute(t *testing.T) {
	h, _ := newTestReporter(t)
	w := get(t, h, ROUTE_MONITORS)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), string(escrow.ChainBitcoin))
}
