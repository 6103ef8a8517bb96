package rental

import (
	"fmt"
	"math/big"

	"github.com/Lumerin-protocol/asset-rental/internal/lib"
)

const (
	// FeeDenominatorBasisPoints treats the fee rate as basis points, 10000 = 100%
	FeeDenominatorBasisPoints uint64 = 10_000
	// FeeDenominatorLegacy divides the fee rate by 100, the contract this marketplace
	// replaces computed fees this way while naming the rate in basis points
	FeeDenominatorLegacy uint64 = 100
)

// Cost is the price of a rental split into the owner and protocol parts
type Cost struct {
	Base  *big.Int
	Fee   *big.Int
	Total *big.Int
}

// FeeCalculator converts a duration and a rate into a rental cost
type FeeCalculator struct {
	denominator *big.Int
}

func NewFeeCalculator(denominator uint64) (*FeeCalculator, error) {
	if denominator != FeeDenominatorBasisPoints && denominator != FeeDenominatorLegacy {
		return nil, lib.WrapError(ErrInvalidParameter, fmt.Errorf("unsupported fee denominator %d", denominator))
	}
	return &FeeCalculator{denominator: new(big.Int).SetUint64(denominator)}, nil
}

func (f *FeeCalculator) Denominator() uint64 {
	return f.denominator.Uint64()
}

// Compute returns base = minutes*rate, fee = base*feeRate/denominator (truncated)
// and total = base+fee
func (f *FeeCalculator) Compute(minutes uint64, ratePerMinute *big.Int, feeRate uint64) (Cost, error) {
	if !lib.IsUint256(ratePerMinute) {
		return Cost{}, lib.WrapError(ErrInvalidParameter, fmt.Errorf("rate %v", ratePerMinute))
	}

	base, ok := lib.MulUint256(new(big.Int).SetUint64(minutes), ratePerMinute)
	if !ok {
		return Cost{}, lib.WrapError(ErrArithmeticOverflow, fmt.Errorf("%d minutes * %s rate", minutes, ratePerMinute))
	}

	scaled, ok := lib.MulUint256(base, new(big.Int).SetUint64(feeRate))
	if !ok {
		return Cost{}, lib.WrapError(ErrArithmeticOverflow, fmt.Errorf("%s base * %d fee rate", base, feeRate))
	}
	fee := scaled.Quo(scaled, f.denominator)

	total, ok := lib.AddUint256(base, fee)
	if !ok {
		return Cost{}, lib.WrapError(ErrArithmeticOverflow, fmt.Errorf("%s base + %s fee", base, fee))
	}

	return Cost{Base: base, Fee: fee, Total: total}, nil
}
