package contracts

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/Lumerin-protocol/asset-rental/internal/resources/rental"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
)

// AssetContract is a rentable collection deployed on chain, the marketplace is
// the approved operator of the listed assets
type AssetContract struct {
	address  common.Address
	contract *bind.BoundContract
	tx       *Transactor
}

func NewAssetContract(address common.Address, tx *Transactor) *AssetContract {
	client := tx.Client()
	return &AssetContract{
		address:  address,
		contract: bind.NewBoundContract(address, rentableAssetABI, client, client, client),
		tx:       tx,
	}
}

func (c *AssetContract) call(ctx context.Context, method string, params ...interface{}) (interface{}, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...)
	if err != nil {
		return nil, fmt.Errorf("%s.%s: %w", c.address.Hex(), method, err)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%s.%s: empty result", c.address.Hex(), method)
	}
	return out[0], nil
}

func (c *AssetContract) address0(ctx context.Context, method string, tokenID *big.Int) (common.Address, error) {
	res, err := c.call(ctx, method, tokenID)
	if err != nil {
		return common.Address{}, err
	}
	return *abi.ConvertType(res, new(common.Address)).(*common.Address), nil
}

func (c *AssetContract) timestamp(ctx context.Context, method string, tokenID *big.Int) (time.Time, error) {
	res, err := c.call(ctx, method, tokenID)
	if err != nil {
		return time.Time{}, err
	}
	ts := *abi.ConvertType(res, new(*big.Int)).(**big.Int)
	if ts.Sign() == 0 {
		return time.Time{}, nil
	}
	if !ts.IsInt64() {
		return time.Time{}, fmt.Errorf("%s.%s: timestamp %s out of range", c.address.Hex(), method, ts)
	}
	return time.Unix(ts.Int64(), 0).UTC(), nil
}

func (c *AssetContract) PrincipalOwner(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	return c.address0(ctx, "ownerOf", tokenID)
}

func (c *AssetContract) CurrentHolder(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	user, err := c.address0(ctx, "userOf", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	if user != (common.Address{}) {
		return user, nil
	}
	return c.PrincipalOwner(ctx, tokenID)
}

func (c *AssetContract) IsRented(ctx context.Context, tokenID *big.Int) (bool, error) {
	res, err := c.call(ctx, "isRented", tokenID)
	if err != nil {
		return false, err
	}
	return *abi.ConvertType(res, new(bool)).(*bool), nil
}

func (c *AssetContract) ApprovedOperator(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	return c.address0(ctx, "getApproved", tokenID)
}

func (c *AssetContract) RentalStart(ctx context.Context, tokenID *big.Int) (time.Time, error) {
	return c.timestamp(ctx, "rentalStart", tokenID)
}

func (c *AssetContract) RentalExpiry(ctx context.Context, tokenID *big.Int) (time.Time, error) {
	return c.timestamp(ctx, "userExpires", tokenID)
}

func (c *AssetContract) RentOut(ctx context.Context, tokenID *big.Int, renter common.Address, expiresAt time.Time) error {
	expires := expiresAt.Unix()
	if expires < 0 {
		return fmt.Errorf("expiry %s out of range", expiresAt)
	}
	_, err := c.tx.Transact(ctx, c.contract, "rentOut", tokenID, renter, uint64(expires))
	return err
}

func (c *AssetContract) FinishRental(ctx context.Context, tokenID *big.Int) error {
	_, err := c.tx.Transact(ctx, c.contract, "finishRental", tokenID)
	return err
}

var _ rental.AssetGateway = (*AssetContract)(nil)
