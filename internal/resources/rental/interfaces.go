package rental

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ListingStore keeps one listing per key. Get of an absent key returns the zero listing
type ListingStore interface {
	// Create fails with ErrListingAlreadyHasActiveRental if the slot holds an active rental
	Create(ctx context.Context, key ListingKey, listing Listing) error
	Get(ctx context.Context, key ListingKey) (Listing, error)
	// Delete fails with ErrActiveRentalPresent if the slot holds an active rental
	Delete(ctx context.Context, key ListingKey) error
	SetRental(ctx context.Context, key ListingKey, rental Rental) error
	ClearRental(ctx context.Context, key ListingKey) error
	List(ctx context.Context) ([]KeyedListing, error)
}

// GovernanceStore persists the administrative state. Load returns false if nothing was saved yet
type GovernanceStore interface {
	LoadGovernance(ctx context.Context) (GovernanceState, bool, error)
	SaveGovernance(ctx context.Context, state GovernanceState) error
}

// TreasuryStore persists the custody accounting per payment token
type TreasuryStore interface {
	LoadTreasury(ctx context.Context) ([]TreasuryBalance, error)
	SaveTreasury(ctx context.Context, balance TreasuryBalance) error
}

// MarketStore keeps listings together with the marketplace wide state, so all of it
// survives a restart
type MarketStore interface {
	ListingStore
	GovernanceStore
	TreasuryStore
}

// AssetGateway is a rentable asset contract, it is the source of truth for
// ownership, the rented flag and the rental period
type AssetGateway interface {
	PrincipalOwner(ctx context.Context, tokenID *big.Int) (common.Address, error)
	// CurrentHolder returns the renter while the asset is rented
	CurrentHolder(ctx context.Context, tokenID *big.Int) (common.Address, error)
	IsRented(ctx context.Context, tokenID *big.Int) (bool, error)
	ApprovedOperator(ctx context.Context, tokenID *big.Int) (common.Address, error)
	RentalStart(ctx context.Context, tokenID *big.Int) (time.Time, error)
	RentalExpiry(ctx context.Context, tokenID *big.Int) (time.Time, error)

	RentOut(ctx context.Context, tokenID *big.Int, renter common.Address, expiresAt time.Time) error
	FinishRental(ctx context.Context, tokenID *big.Int) error
}

// TokenGateway moves a fungible token between accounts and the marketplace custody
type TokenGateway interface {
	// TransferInto pulls amount from the account into custody
	TransferInto(ctx context.Context, from common.Address, amount *big.Int) error
	// TransferTo pays amount from custody to the account
	TransferTo(ctx context.Context, to common.Address, amount *big.Int) error
}

type AssetGateways interface {
	Asset(contract common.Address) (AssetGateway, error)
}

type TokenGateways interface {
	Token(contract common.Address) (TokenGateway, error)
}

type Notifier interface {
	Notify(event Event)
}
