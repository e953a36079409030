package escrow

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeAdminFee(t *testing.T) {
	fee, err := ComputeAdminFee(big.NewInt(1000), 2)
	assert.NoError(t, err)
	assert.Equal(t, big.NewInt(20), fee)

	// fractional percentage still exact over basis points
	fee, err = ComputeAdminFee(big.NewInt(100000), 0.25)
	assert.NoError(t, err)
	assert.Equal(t, big.NewInt(250), fee)

	// 0.29 has no exact float representation; the bps conversion must
	// round to 29, not truncate to 28
	fee, err = ComputeAdminFee(big.NewInt(100000), 0.29)
	assert.NoError(t, err)
	assert.Equal(t, big.NewInt(290), fee)

	// sub-unit fee truncates toward zero; compare numerically because a
	// zero big.Int from Div has a non-nil abs and fails deep equality
	fee, err = ComputeAdminFee(big.NewInt(10), 2)
	assert.NoError(t, err)
	assert.Equal(t, 0, fee.Cmp(big.NewInt(0)))
}

func TestComputeAdminFeeRejectsBadInput(t *testing.T) {
	_, err := ComputeAdminFee(nil, 2)
	assert.Error(t, err)

	_, err = ComputeAdminFee(big.NewInt(0), 2)
	assert.Error(t, err)

	_, err = ComputeAdminFee(big.NewInt(1000), -1)
	assert.Error(t, err)

	_, err = ComputeAdminFee(big.NewInt(1000), 101)
	assert.Error(t, err)
}

func TestFeePolicyClamp(t *testing.T) {
	p := FeePolicy{DefaultPercentage: 2, MinPercentage: 0.5, MaxPercentage: 5}
	assert.Equal(t, 0.5, p.Clamp(0))
	assert.Equal(t, 2.0, p.Clamp(2))
	assert.Equal(t, 5.0, p.Clamp(7))
}
