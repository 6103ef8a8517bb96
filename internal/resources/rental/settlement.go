package rental

import (
	"fmt"
	"math/big"
	"time"

	"github.com/Lumerin-protocol/asset-rental/internal/lib"
)

// Settlement is how the escrowed amount of a finished rental is split
type Settlement struct {
	Early              bool
	ElapsedMinutes     uint64
	Refund             *big.Int
	PaidToOwner        *big.Int
	RetainedByProtocol *big.Int
}

// Settle splits the escrow of rental r. Before expiry the cost is recomputed for the whole
// elapsed minutes, the renter gets back the rest. Otherwise the owner gets the whole base cost
func Settle(fc *FeeCalculator, ratePerMinute *big.Int, r Rental, start, expiry, now time.Time) (Settlement, error) {
	paidTotal := r.PaidTotal()

	if !now.Before(expiry) {
		return Settlement{
			Early:              false,
			ElapsedMinutes:     r.NumRentalMinutes,
			Refund:             new(big.Int),
			PaidToOwner:        lib.CopyBig(r.PaidRentalCost),
			RetainedByProtocol: lib.CopyBig(r.PaidProtocolCost),
		}, nil
	}

	elapsed := now.Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	elapsedMinutes := uint64(elapsed / time.Minute)
	if elapsedMinutes > r.NumRentalMinutes {
		elapsedMinutes = r.NumRentalMinutes
	}

	revised, err := fc.Compute(elapsedMinutes, ratePerMinute, r.FeeRateBasisPoints)
	if err != nil {
		return Settlement{}, err
	}

	refund, ok := lib.SubUint256(paidTotal, revised.Total)
	if !ok {
		return Settlement{}, lib.WrapError(ErrArithmeticOverflow, fmt.Errorf("revised cost %s exceeds paid %s", revised.Total, paidTotal))
	}

	s := Settlement{
		Early:              true,
		ElapsedMinutes:     elapsedMinutes,
		Refund:             refund,
		PaidToOwner:        revised.Base,
		RetainedByProtocol: revised.Fee,
	}
	if s.Sum().Cmp(paidTotal) != 0 {
		return Settlement{}, lib.WrapError(ErrArithmeticOverflow, fmt.Errorf("settlement %s does not match escrow %s", s.Sum(), paidTotal))
	}
	return s, nil
}

// Sum is the total value distributed by the settlement
func (s Settlement) Sum() *big.Int {
	sum := new(big.Int).Add(lib.CopyBig(s.Refund), lib.CopyBig(s.PaidToOwner))
	return sum.Add(sum, lib.CopyBig(s.RetainedByProtocol))
}
