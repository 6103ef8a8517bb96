package rental

import (
	"fmt"
	"time"

	"github.com/Lumerin-protocol/asset-rental/internal/lib"
	"github.com/ethereum/go-ethereum/common"
)

// Authorization rules. The functions are pure, the caller collects the facts
// from the store and the asset gateway right before the check

func CheckCreateListing(caller, principalOwner common.Address, terms ListingTerms) error {
	if caller != principalOwner {
		return lib.WrapError(ErrNotAuthorized, fmt.Errorf("caller %s is not the asset owner %s", caller.Hex(), principalOwner.Hex()))
	}
	if terms.MaxRentalMinutes == 0 {
		return lib.WrapError(ErrInvalidParameter, fmt.Errorf("max rental minutes must be positive"))
	}
	if !lib.IsUint256(terms.RatePerMinute) {
		return lib.WrapError(ErrInvalidParameter, fmt.Errorf("rate per minute must be an unsigned 256-bit integer"))
	}
	return nil
}

func CheckDeleteListing(caller common.Address, listing Listing) error {
	if caller != listing.Owner {
		return lib.WrapError(ErrNotAuthorized, fmt.Errorf("caller %s is not the listing owner", caller.Hex()))
	}
	if listing.CurrentRental.Active {
		return ErrActiveRentalPresent
	}
	return nil
}

func CheckCreateRental(listing Listing, numRentalMinutes uint64, assetRented bool) error {
	if !listing.Active {
		return ErrListingNotActive
	}
	if numRentalMinutes == 0 || numRentalMinutes > listing.MaxRentalMinutes {
		return lib.WrapError(ErrInvalidParameter, fmt.Errorf("rental minutes %d out of range (0, %d]", numRentalMinutes, listing.MaxRentalMinutes))
	}
	if listing.CurrentRental.Active {
		return ErrListingAlreadyHasActiveRental
	}
	if assetRented {
		return ErrAssetAlreadyRented
	}
	return nil
}

// FinishFacts is the state of the asset as reported by its gateway at finish time
type FinishFacts struct {
	Caller           common.Address
	Marketplace      common.Address
	AssetRented      bool
	ApprovedOperator common.Address
	Holder           common.Address
	Expiry           time.Time
	Now              time.Time
}

// IsEarly reports whether the rental has not reached its expiry yet
func (f FinishFacts) IsEarly() bool {
	return f.Now.Before(f.Expiry)
}

func CheckFinishRental(listing Listing, f FinishFacts) error {
	if !listing.Active {
		return ErrListingNotActive
	}
	if !f.AssetRented {
		return ErrAssetNotRented
	}
	if f.ApprovedOperator != f.Marketplace {
		return lib.WrapError(ErrUnmanagedRental, fmt.Errorf("approved operator is %s", f.ApprovedOperator.Hex()))
	}
	if !listing.CurrentRental.Active {
		return lib.WrapError(ErrUnmanagedRental, fmt.Errorf("asset is rented but no rental is recorded"))
	}

	if listing.StrictFinish && f.Caller != listing.Owner && f.Caller != f.Holder {
		return lib.WrapError(ErrNotAuthorized, fmt.Errorf("strict finish allows only owner or renter"))
	}

	if f.IsEarly() && f.Caller != f.Holder {
		return lib.WrapError(ErrNotAuthorized, fmt.Errorf("only renter may finish before %s", f.Expiry.Format(time.RFC3339)))
	}
	return nil
}
