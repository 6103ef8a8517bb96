package rental

import "errors"

var (
	ErrNotAuthorized                 = errors.New("not authorized")
	ErrInvalidParameter              = errors.New("invalid parameter")
	ErrListingNotActive              = errors.New("listing not active")
	ErrListingAlreadyHasActiveRental = errors.New("listing already has active rental")
	ErrActiveRentalPresent           = errors.New("active rental present")
	ErrAssetAlreadyRented            = errors.New("asset already rented")
	ErrAssetNotRented                = errors.New("asset not rented")
	ErrUnmanagedRental               = errors.New("rental is not managed by this marketplace")
	ErrExternalTransferFailed        = errors.New("external transfer failed")
	ErrArithmeticOverflow            = errors.New("arithmetic overflow")
	ErrSystemPaused                  = errors.New("system paused")
	ErrReentrantCall                 = errors.New("reentrant call")
	ErrInsufficientRevenue           = errors.New("insufficient protocol revenue")
)
