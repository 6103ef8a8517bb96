package rental

import (
	"math/big"
	"testing"

	"github.com/Lumerin-protocol/asset-rental/internal/lib"
	"github.com/stretchr/testify/require"
)

func TestFeeCalculatorBasisPoints(t *testing.T) {
	fc, err := NewFeeCalculator(FeeDenominatorBasisPoints)
	require.NoError(t, err)

	cost, err := fc.Compute(100, big.NewInt(10), 250)
	require.NoError(t, err)
	require.Equal(t, int64(1000), cost.Base.Int64())
	require.Equal(t, int64(25), cost.Fee.Int64())
	require.Equal(t, int64(1025), cost.Total.Int64())

	cost, err = fc.Compute(40, big.NewInt(10), 250)
	require.NoError(t, err)
	require.Equal(t, int64(400), cost.Base.Int64())
	require.Equal(t, int64(10), cost.Fee.Int64())
	require.Equal(t, int64(410), cost.Total.Int64())
}

func TestFeeCalculatorLegacyDenominator(t *testing.T) {
	fc, err := NewFeeCalculator(FeeDenominatorLegacy)
	require.NoError(t, err)

	cost, err := fc.Compute(100, big.NewInt(10), 3)
	require.NoError(t, err)
	require.Equal(t, int64(30), cost.Fee.Int64())
}

func TestFeeCalculatorTruncates(t *testing.T) {
	fc, _ := NewFeeCalculator(FeeDenominatorBasisPoints)

	// 39 * 250 / 10000 = 0.975
	cost, err := fc.Compute(39, big.NewInt(1), 250)
	require.NoError(t, err)
	require.Zero(t, cost.Fee.Sign())
	require.Equal(t, int64(39), cost.Total.Int64())
}

func TestFeeCalculatorZeroMinutes(t *testing.T) {
	fc, _ := NewFeeCalculator(FeeDenominatorBasisPoints)

	cost, err := fc.Compute(0, big.NewInt(10), 250)
	require.NoError(t, err)
	require.Zero(t, cost.Total.Sign())
}

func TestFeeCalculatorOverflow(t *testing.T) {
	fc, _ := NewFeeCalculator(FeeDenominatorBasisPoints)

	_, err := fc.Compute(2, lib.MaxUint256, 0)
	require.ErrorIs(t, err, ErrArithmeticOverflow)

	// base fits, fee multiplication does not
	_, err = fc.Compute(1, lib.MaxUint256, 2)
	require.ErrorIs(t, err, ErrArithmeticOverflow)

	// base and fee fit, total does not
	_, err = fc.Compute(1, lib.MaxUint256, 1)
	require.ErrorIs(t, err, ErrArithmeticOverflow)
}

func TestFeeCalculatorUnsupportedDenominator(t *testing.T) {
	_, err := NewFeeCalculator(1000)
	require.ErrorIs(t, err, ErrInvalidParameter)
}
