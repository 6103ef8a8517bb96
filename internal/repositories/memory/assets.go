package memory

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/Lumerin-protocol/asset-rental/internal/lib"
	"github.com/Lumerin-protocol/asset-rental/internal/resources/rental"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrUnknownAsset = errors.New("unknown asset")
	ErrAssetRented  = errors.New("asset is rented")
	ErrNotRented    = errors.New("asset is not rented")
	ErrNotOperator  = errors.New("caller is not approved operator")
	ErrNotOwner     = errors.New("caller is not asset owner")
)

type assetKey struct {
	contract common.Address
	id       common.Hash
}

type asset struct {
	owner    common.Address
	approved common.Address
	user     common.Address
	rented   bool
	start    time.Time
	expiry   time.Time
}

// AssetRegistry is an in-process collection of rentable assets. The rented flag stays
// set after expiry until the rental is finished by the approved operator
type AssetRegistry struct {
	mu        sync.Mutex
	assets    map[assetKey]*asset
	now       func() time.Time
	onRentOut func(ctx context.Context, contract common.Address, tokenID *big.Int)
}

func NewAssetRegistry(now func() time.Time) *AssetRegistry {
	if now == nil {
		now = time.Now
	}
	return &AssetRegistry{
		assets: make(map[assetKey]*asset),
		now:    now,
	}
}

func key(contract common.Address, tokenID *big.Int) assetKey {
	return assetKey{contract: contract, id: common.BigToHash(tokenID)}
}

func (r *AssetRegistry) Mint(contract common.Address, tokenID *big.Int, owner common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := key(contract, tokenID)
	if _, ok := r.assets[k]; ok {
		return fmt.Errorf("asset %s/%s already minted", contract.Hex(), tokenID)
	}
	r.assets[k] = &asset{owner: owner}
	return nil
}

// Approve sets the operator allowed to rent the asset out, only the owner may do it
func (r *AssetRegistry) Approve(contract common.Address, tokenID *big.Int, owner common.Address, operator common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.get(contract, tokenID)
	if err != nil {
		return err
	}
	if a.owner != owner {
		return ErrNotOwner
	}
	a.approved = operator
	return nil
}

// Transfer moves the ownership, rented assets cannot be transferred
func (r *AssetRegistry) Transfer(contract common.Address, tokenID *big.Int, from common.Address, to common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.get(contract, tokenID)
	if err != nil {
		return err
	}
	if a.owner != from {
		return ErrNotOwner
	}
	if a.rented {
		return ErrAssetRented
	}
	a.owner = to
	a.approved = common.Address{}
	return nil
}

// SetRentedFlag overwrites the rented flag bypassing the operator, emulates a
// contract that got out of sync with the marketplace
func (r *AssetRegistry) SetRentedFlag(contract common.Address, tokenID *big.Int, rented bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.get(contract, tokenID)
	if err != nil {
		return err
	}
	a.rented = rented
	return nil
}

// OnRentOut registers a callback invoked after the asset is rented out
func (r *AssetRegistry) OnRentOut(fn func(ctx context.Context, contract common.Address, tokenID *big.Int)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onRentOut = fn
}

// For returns the gateways acting as operator
func (r *AssetRegistry) For(operator common.Address) *AssetGateways {
	return &AssetGateways{registry: r, operator: operator}
}

func (r *AssetRegistry) get(contract common.Address, tokenID *big.Int) (*asset, error) {
	if !lib.IsUint256(tokenID) {
		return nil, fmt.Errorf("%w: invalid id %v", ErrUnknownAsset, tokenID)
	}
	a, ok := r.assets[key(contract, tokenID)]
	if !ok {
		return nil, fmt.Errorf("%w: %s/%s", ErrUnknownAsset, contract.Hex(), tokenID)
	}
	return a, nil
}

func (r *AssetRegistry) read(contract common.Address, tokenID *big.Int) (asset, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, err := r.get(contract, tokenID)
	if err != nil {
		return asset{}, err
	}
	return *a, nil
}

type AssetGateways struct {
	registry *AssetRegistry
	operator common.Address
}

func (g *AssetGateways) Asset(contract common.Address) (rental.AssetGateway, error) {
	return &Asset{registry: g.registry, contract: contract, operator: g.operator}, nil
}

// Asset is a single collection of the registry seen by the operator
type Asset struct {
	registry *AssetRegistry
	contract common.Address
	operator common.Address
}

func (a *Asset) PrincipalOwner(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	as, err := a.registry.read(a.contract, tokenID)
	return as.owner, err
}

func (a *Asset) CurrentHolder(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	as, err := a.registry.read(a.contract, tokenID)
	if err != nil {
		return common.Address{}, err
	}
	if as.rented {
		return as.user, nil
	}
	return as.owner, nil
}

func (a *Asset) IsRented(ctx context.Context, tokenID *big.Int) (bool, error) {
	as, err := a.registry.read(a.contract, tokenID)
	return as.rented, err
}

func (a *Asset) ApprovedOperator(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	as, err := a.registry.read(a.contract, tokenID)
	return as.approved, err
}

func (a *Asset) RentalStart(ctx context.Context, tokenID *big.Int) (time.Time, error) {
	as, err := a.registry.read(a.contract, tokenID)
	return as.start, err
}

func (a *Asset) RentalExpiry(ctx context.Context, tokenID *big.Int) (time.Time, error) {
	as, err := a.registry.read(a.contract, tokenID)
	return as.expiry, err
}

func (a *Asset) RentOut(ctx context.Context, tokenID *big.Int, renter common.Address, expiresAt time.Time) error {
	r := a.registry
	r.mu.Lock()

	as, err := r.get(a.contract, tokenID)
	if err != nil {
		r.mu.Unlock()
		return err
	}
	if as.approved != a.operator {
		r.mu.Unlock()
		return ErrNotOperator
	}
	if as.rented {
		r.mu.Unlock()
		return ErrAssetRented
	}
	as.rented = true
	as.user = renter
	as.start = r.now().Truncate(time.Second)
	as.expiry = expiresAt
	hook := r.onRentOut
	r.mu.Unlock()

	if hook != nil {
		hook(ctx, a.contract, tokenID)
	}
	return nil
}

func (a *Asset) FinishRental(ctx context.Context, tokenID *big.Int) error {
	r := a.registry
	r.mu.Lock()
	defer r.mu.Unlock()

	as, err := r.get(a.contract, tokenID)
	if err != nil {
		return err
	}
	if as.approved != a.operator {
		return ErrNotOperator
	}
	if !as.rented {
		return ErrNotRented
	}
	as.rented = false
	as.user = common.Address{}
	as.start = time.Time{}
	as.expiry = time.Time{}
	return nil
}
