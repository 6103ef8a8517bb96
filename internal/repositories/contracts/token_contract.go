package contracts

import (
	"context"
	"fmt"
	"math/big"

	"github.com/Lumerin-protocol/asset-rental/internal/lib"
	"github.com/Lumerin-protocol/asset-rental/internal/resources/rental"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TokenContract is an ERC-20 payment token, custody is the transactor account
type TokenContract struct {
	address  common.Address
	contract *bind.BoundContract
	tx       *Transactor
}

// transferEvent is the ERC-20 Transfer log
type transferEvent struct {
	From  common.Address
	To    common.Address
	Value *big.Int
}

func NewTokenContract(address common.Address, tx *Transactor) *TokenContract {
	client := tx.Client()
	return &TokenContract{
		address:  address,
		contract: bind.NewBoundContract(address, erc20ABI, client, client, client),
		tx:       tx,
	}
}

func (c *TokenContract) BalanceOf(ctx context.Context, account common.Address) (*big.Int, error) {
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, "balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("%s.balanceOf: %w", c.address.Hex(), err)
	}
	return *abi.ConvertType(out[0], new(*big.Int)).(**big.Int), nil
}

func (c *TokenContract) TransferInto(ctx context.Context, from common.Address, amount *big.Int) error {
	return c.transfer(ctx, from, c.tx.From(), amount, "transferFrom", from, c.tx.From(), amount)
}

func (c *TokenContract) TransferTo(ctx context.Context, to common.Address, amount *big.Int) error {
	return c.transfer(ctx, c.tx.From(), to, amount, "transfer", to, amount)
}

// transfer sends the token method and accepts it only if the receipt carries the
// matching Transfer log. A token may return false or charge a fee without reverting
func (c *TokenContract) transfer(ctx context.Context, from, to common.Address, amount *big.Int, method string, params ...interface{}) error {
	balance, err := c.BalanceOf(ctx, from)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return lib.WrapError(rental.ErrExternalTransferFailed, fmt.Errorf("%s balance of %s is %s, need %s", c.address.Hex(), from.Hex(), balance, amount))
	}

	receipt, err := c.tx.Transact(ctx, c.contract, method, params...)
	if err != nil {
		return err
	}
	return c.checkTransferLog(receipt, from, to, amount)
}

func (c *TokenContract) checkTransferLog(receipt *types.Receipt, from, to common.Address, amount *big.Int) error {
	eventID := erc20ABI.Events["Transfer"].ID
	for _, l := range receipt.Logs {
		if l == nil || l.Address != c.address || len(l.Topics) != 3 || l.Topics[0] != eventID {
			continue
		}
		var ev transferEvent
		err := c.contract.UnpackLog(&ev, "Transfer", *l)
		if err != nil {
			return lib.WrapError(rental.ErrExternalTransferFailed, fmt.Errorf("decode Transfer log of tx %s: %w", receipt.TxHash.Hex(), err))
		}
		if ev.From == from && ev.To == to && ev.Value != nil && ev.Value.Cmp(amount) == 0 {
			return nil
		}
	}
	return lib.WrapError(rental.ErrExternalTransferFailed,
		fmt.Errorf("tx %s has no Transfer of %s %s from %s to %s", receipt.TxHash.Hex(), amount, c.address.Hex(), from.Hex(), to.Hex()))
}

var _ rental.TokenGateway = (*TokenContract)(nil)
