package rental

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/Lumerin-protocol/asset-rental/internal/lib"
	"github.com/ethereum/go-ethereum/common"
)

// Treasury accounts the tokens held in custody. Escrow belongs to live rentals,
// revenue is the protocol fee retained from finished rentals and is the only
// part that can be withdrawn. With a store every change is saved before it takes effect
type Treasury struct {
	mu      sync.Mutex
	escrow  map[common.Address]*big.Int
	revenue map[common.Address]*big.Int
	store   TreasuryStore
}

type TreasuryBalance struct {
	Token   common.Address
	Escrow  *big.Int
	Revenue *big.Int
}

// NewTreasury creates a treasury that is kept in memory only
func NewTreasury() *Treasury {
	return &Treasury{
		escrow:  make(map[common.Address]*big.Int),
		revenue: make(map[common.Address]*big.Int),
	}
}

// LoadTreasury restores the saved balances of every token
func LoadTreasury(ctx context.Context, store TreasuryStore) (*Treasury, error) {
	balances, err := store.LoadTreasury(ctx)
	if err != nil {
		return nil, fmt.Errorf("load treasury: %w", err)
	}

	t := NewTreasury()
	t.store = store
	for _, b := range balances {
		t.escrow[b.Token] = lib.CopyBig(b.Escrow)
		t.revenue[b.Token] = lib.CopyBig(b.Revenue)
	}
	return t, nil
}

func (t *Treasury) Balance(token common.Address) TreasuryBalance {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.balance(token)
}

// Tokens lists every token the treasury has accounted
func (t *Treasury) Tokens() []common.Address {
	t.mu.Lock()
	defer t.mu.Unlock()

	res := make([]common.Address, 0, len(t.escrow))
	for token := range t.escrow {
		res = append(res, token)
	}
	return res
}

// Escrow earmarks amount pulled from a renter
func (t *Treasury) Escrow(ctx context.Context, token common.Address, amount *big.Int) error {
	return t.update(ctx, token, func(b *TreasuryBalance) error {
		escrow, ok := lib.AddUint256(b.Escrow, amount)
		if !ok {
			return lib.WrapError(ErrArithmeticOverflow, fmt.Errorf("escrow of %s overflows", token.Hex()))
		}
		b.Escrow = escrow
		return nil
	})
}

// ReleaseEscrow removes amount from escrow without retaining anything, reverts Escrow
func (t *Treasury) ReleaseEscrow(ctx context.Context, token common.Address, amount *big.Int) error {
	return t.Settle(ctx, token, amount, new(big.Int))
}

// Settle releases escrowed amount of a finished rental and moves retained into revenue
func (t *Treasury) Settle(ctx context.Context, token common.Address, escrowed *big.Int, retained *big.Int) error {
	if retained.Cmp(escrowed) > 0 {
		return lib.WrapError(ErrArithmeticOverflow, fmt.Errorf("retained %s exceeds escrowed %s", retained, escrowed))
	}
	return t.update(ctx, token, func(b *TreasuryBalance) error {
		escrow, ok := lib.SubUint256(b.Escrow, escrowed)
		if !ok {
			return lib.WrapError(ErrArithmeticOverflow, fmt.Errorf("escrow of %s is less than %s", token.Hex(), escrowed))
		}
		revenue, ok := lib.AddUint256(b.Revenue, retained)
		if !ok {
			return lib.WrapError(ErrArithmeticOverflow, fmt.Errorf("revenue of %s overflows", token.Hex()))
		}
		b.Escrow, b.Revenue = escrow, revenue
		return nil
	})
}

// Unsettle reverts Settle
func (t *Treasury) Unsettle(ctx context.Context, token common.Address, escrowed *big.Int, retained *big.Int) error {
	return t.update(ctx, token, func(b *TreasuryBalance) error {
		revenue, ok := lib.SubUint256(b.Revenue, retained)
		if !ok {
			return lib.WrapError(ErrInsufficientRevenue, fmt.Errorf("revenue of %s is less than %s", token.Hex(), retained))
		}
		escrow, ok := lib.AddUint256(b.Escrow, escrowed)
		if !ok {
			return lib.WrapError(ErrArithmeticOverflow, fmt.Errorf("escrow of %s overflows", token.Hex()))
		}
		b.Escrow, b.Revenue = escrow, revenue
		return nil
	})
}

// DebitRevenue reserves amount of revenue for withdrawal
func (t *Treasury) DebitRevenue(ctx context.Context, token common.Address, amount *big.Int) error {
	return t.update(ctx, token, func(b *TreasuryBalance) error {
		revenue, ok := lib.SubUint256(b.Revenue, amount)
		if !ok {
			return lib.WrapError(ErrInsufficientRevenue, fmt.Errorf("revenue of %s is %s, requested %s", token.Hex(), b.Revenue, amount))
		}
		b.Revenue = revenue
		return nil
	})
}

// CreditRevenue returns amount to revenue, reverts DebitRevenue
func (t *Treasury) CreditRevenue(ctx context.Context, token common.Address, amount *big.Int) error {
	return t.update(ctx, token, func(b *TreasuryBalance) error {
		revenue, ok := lib.AddUint256(b.Revenue, amount)
		if !ok {
			return lib.WrapError(ErrArithmeticOverflow, fmt.Errorf("revenue of %s overflows", token.Hex()))
		}
		b.Revenue = revenue
		return nil
	})
}

// SetEscrow overwrites the escrow of token, used to reconcile it with the recorded rentals
func (t *Treasury) SetEscrow(ctx context.Context, token common.Address, amount *big.Int) error {
	return t.update(ctx, token, func(b *TreasuryBalance) error {
		b.Escrow = lib.CopyBig(amount)
		return nil
	})
}

func (t *Treasury) update(ctx context.Context, token common.Address, change func(b *TreasuryBalance) error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	next := t.balance(token)
	err := change(&next)
	if err != nil {
		return err
	}

	if t.store != nil {
		err = t.store.SaveTreasury(ctx, next)
		if err != nil {
			return fmt.Errorf("save treasury of %s: %w", token.Hex(), err)
		}
	}
	t.escrow[token] = next.Escrow
	t.revenue[token] = next.Revenue
	return nil
}

// balance must be called with mu held
func (t *Treasury) balance(token common.Address) TreasuryBalance {
	return TreasuryBalance{
		Token:   token,
		Escrow:  lib.CopyBig(t.escrow[token]),
		Revenue: lib.CopyBig(t.revenue[token]),
	}
}
