package rental

import (
	"bytes"
	"fmt"
	"math/big"

	"github.com/Lumerin-protocol/asset-rental/internal/lib"
	"github.com/ethereum/go-ethereum/common"
)

// ListingKey identifies a listing by the asset contract and the asset id.
// Asset id is stored as a 32 byte word so the key stays comparable
type ListingKey struct {
	Contract common.Address
	TokenID  common.Hash
}

func NewListingKey(contract common.Address, tokenID *big.Int) ListingKey {
	return ListingKey{
		Contract: contract,
		TokenID:  common.BigToHash(tokenID),
	}
}

// ParseListingKey parses hex contract address and decimal or 0x-prefixed hex asset id
func ParseListingKey(contract string, tokenID string) (ListingKey, error) {
	if !common.IsHexAddress(contract) {
		return ListingKey{}, lib.WrapError(ErrInvalidParameter, fmt.Errorf("invalid asset contract %s", contract))
	}
	id, ok := new(big.Int).SetString(tokenID, 0)
	if !ok || !lib.IsUint256(id) {
		return ListingKey{}, lib.WrapError(ErrInvalidParameter, fmt.Errorf("invalid asset id %s", tokenID))
	}
	return NewListingKey(common.HexToAddress(contract), id), nil
}

func (k ListingKey) ID() *big.Int {
	return k.TokenID.Big()
}

func (k ListingKey) String() string {
	return fmt.Sprintf("%s/%s", k.Contract.Hex(), k.ID().String())
}

// Less orders keys by contract address, then by asset id
func (k ListingKey) Less(other ListingKey) bool {
	if c := bytes.Compare(k.Contract.Bytes(), other.Contract.Bytes()); c != 0 {
		return c < 0
	}
	return k.TokenID.Big().Cmp(other.TokenID.Big()) < 0
}

// ListingTerms are the owner supplied parameters of a listing
type ListingTerms struct {
	PaymentToken     common.Address
	RatePerMinute    *big.Int
	MaxRentalMinutes uint64
	StrictFinish     bool
}

type Listing struct {
	Active           bool
	Owner            common.Address
	PaymentToken     common.Address
	RatePerMinute    *big.Int
	MaxRentalMinutes uint64
	StrictFinish     bool
	CurrentRental    Rental
}

func (l Listing) Copy() Listing {
	c := l
	c.RatePerMinute = lib.CopyBig(l.RatePerMinute)
	c.CurrentRental = l.CurrentRental.Copy()
	return c
}

// Rental is embedded in its listing, at most one per listing
type Rental struct {
	Active           bool
	NumRentalMinutes uint64
	PaidRentalCost   *big.Int
	PaidProtocolCost *big.Int
	// FeeRateBasisPoints is the protocol fee rate at the moment of creation,
	// early finish prorates the fee with this rate
	FeeRateBasisPoints uint64
}

func (r Rental) Copy() Rental {
	c := r
	c.PaidRentalCost = lib.CopyBig(r.PaidRentalCost)
	c.PaidProtocolCost = lib.CopyBig(r.PaidProtocolCost)
	return c
}

// PaidTotal is the amount escrowed for the rental
func (r Rental) PaidTotal() *big.Int {
	return new(big.Int).Add(lib.CopyBig(r.PaidRentalCost), lib.CopyBig(r.PaidProtocolCost))
}

// KeyedListing pairs a listing with its key, used by listing enumeration
type KeyedListing struct {
	Key     ListingKey
	Listing Listing
}
