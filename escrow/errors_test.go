package escrow

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRetryable(t *testing.T) {
	assert.True(t, Retryable(ErrChainCallTimeout))
	assert.False(t, Retryable(ErrAdapterUnavailable))
	assert.False(t, Retryable(ErrChainCallRejected))
	assert.False(t, Retryable(ErrNotSupportedOnChain))
	assert.False(t, Retryable(errors.New("something else")))

	// wrapped sentinels classify the same
	wrapped := ChainErrorf(ChainXRPL, "create", ErrChainCallTimeout, "no response from %d endpoints", 2)
	assert.True(t, Retryable(wrapped))
	assert.True(t, errors.Is(wrapped, ErrChainCallTimeout))
}

func TestUnconfiguredAdapter(t *testing.T) {
	u := &Unconfigured{ChainID: ChainIOTA, Missing: "rpc url"}
	assert.Equal(t, ChainIOTA, u.Chain())

	_, err := u.CreateEscrow(nil, &CreateParams{})
	assert.ErrorIs(t, err, ErrAdapterUnavailable)

	_, err = u.ReleaseEscrow(nil, &Handle{}, "dest")
	assert.ErrorIs(t, err, ErrAdapterUnavailable)

	_, err = u.RefundEscrow(nil, &Handle{}, "dest")
	assert.ErrorIs(t, err, ErrAdapterUnavailable)

	_, _, err = u.FindEscrow(nil, &CreateParams{})
	assert.ErrorIs(t, err, ErrAdapterUnavailable)
}
