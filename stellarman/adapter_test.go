package stellarman

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chainweave/escrow-go/escrow"
)

func newTestAdapter(t *testing.T) *Adapter {
	a, err := NewAdapter(&Config{
		HorizonURLs:    []string{"http://localhost:8000"},
		EscrowAccount:  "GESCROW",
		PlatformSigner: "GPLATFORM",
	})
	require.NoError(t, err)
	return a.(*Adapter)
}

func TestNewAdapterUnconfigured(t *testing.T) {
	a, err := NewAdapter(&Config{HorizonURLs: []string{"http://localhost:8000"}})
	require.NoError(t, err)

	_, err = a.CreateEscrow(context.Background(), &escrow.CreateParams{})
	assert.ErrorIs(t, err, escrow.ErrAdapterUnavailable)
}

// The escrow account only spends under a co-signed transaction, so the
// generic single-caller paths must refuse outright.
func TestReleaseRefundNotSupported(t *testing.T) {
	a := newTestAdapter(t)
	h := &escrow.Handle{Chain: escrow.ChainStellar, TxRef: "abc"}

	_, err := a.ReleaseEscrow(context.Background(), h, "GBUYER")
	assert.ErrorIs(t, err, escrow.ErrNotSupportedOnChain)

	_, err = a.RefundEscrow(context.Background(), h, "GSELLER")
	assert.ErrorIs(t, err, escrow.ErrNotSupportedOnChain)
}

func TestBuildSpendProposal(t *testing.T) {
	a := newTestAdapter(t)
	h := &escrow.Handle{
		Chain:  escrow.ChainStellar,
		Opaque: encodeOpaque("GSELLER", "GBUYER"),
	}

	p, err := a.BuildSpendProposal(h, "GBUYER", big.NewInt(150_000_000), "release")
	require.NoError(t, err)
	assert.Equal(t, "GESCROW", p.SourceAccount)
	assert.Equal(t, "15.0000000", p.Amount)
	assert.Equal(t, spendThreshold, p.Threshold)

	// only the recorded parties may receive
	_, err = a.BuildSpendProposal(h, "GSTRANGER", big.NewInt(1), "release")
	assert.ErrorIs(t, err, escrow.ErrChainCallRejected)
}

func TestLumens(t *testing.T) {
	assert.Equal(t, "0.0000001", lumens(big.NewInt(1)))
	assert.Equal(t, "1.0000000", lumens(big.NewInt(10_000_000)))
	assert.Equal(t, "12.3456789", lumens(big.NewInt(123_456_789)))
}

func TestOpaqueRoundTrip(t *testing.T) {
	locker, counter, err := decodeOpaque(encodeOpaque("GSELLER", "GBUYER"))
	require.NoError(t, err)
	assert.Equal(t, "GSELLER", locker)
	assert.Equal(t, "GBUYER", counter)

	_, _, err = decodeOpaque("garbage")
	assert.Error(t, err)
}
