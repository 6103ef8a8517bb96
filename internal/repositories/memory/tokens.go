package memory

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"

	"github.com/Lumerin-protocol/asset-rental/internal/lib"
	"github.com/Lumerin-protocol/asset-rental/internal/resources/rental"
	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrInvalidAmount         = errors.New("invalid amount")
)

// TransferHook is invoked before every transfer, a returned error rejects the transfer
type TransferHook func(ctx context.Context, token, from, to common.Address, amount *big.Int) error

// TokenLedger is an in-process set of fungible tokens with balances and allowances
type TokenLedger struct {
	mu         sync.Mutex
	balances   map[common.Address]map[common.Address]*big.Int
	allowances map[common.Address]map[common.Address]map[common.Address]*big.Int
	hook       TransferHook
}

func NewTokenLedger() *TokenLedger {
	return &TokenLedger{
		balances:   make(map[common.Address]map[common.Address]*big.Int),
		allowances: make(map[common.Address]map[common.Address]map[common.Address]*big.Int),
	}
}

func (l *TokenLedger) Mint(token, to common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setBalance(token, to, new(big.Int).Add(l.balance(token, to), amount))
}

func (l *TokenLedger) Approve(token, owner, spender common.Address, amount *big.Int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	byOwner, ok := l.allowances[token]
	if !ok {
		byOwner = make(map[common.Address]map[common.Address]*big.Int)
		l.allowances[token] = byOwner
	}
	bySpender, ok := byOwner[owner]
	if !ok {
		bySpender = make(map[common.Address]*big.Int)
		byOwner[owner] = bySpender
	}
	bySpender[spender] = lib.CopyBig(amount)
}

func (l *TokenLedger) BalanceOf(token, account common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balance(token, account)
}

func (l *TokenLedger) Allowance(token, owner, spender common.Address) *big.Int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allowance(token, owner, spender)
}

func (l *TokenLedger) SetHook(hook TransferHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hook = hook
}

// For returns the gateways with custody as the marketplace account
func (l *TokenLedger) For(custody common.Address) *TokenGateways {
	return &TokenGateways{ledger: l, custody: custody}
}

func (l *TokenLedger) transfer(ctx context.Context, token, spender, from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return ErrInvalidAmount
	}

	l.mu.Lock()
	hook := l.hook
	l.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, token, from, to, amount); err != nil {
			return err
		}
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	balance := l.balance(token, from)
	if balance.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s has %s, required %s", ErrInsufficientBalance, from.Hex(), balance, amount)
	}
	if spender != from {
		allowance := l.allowance(token, from, spender)
		if allowance.Cmp(amount) < 0 {
			return fmt.Errorf("%w: %s allowed %s, required %s", ErrInsufficientAllowance, from.Hex(), allowance, amount)
		}
		l.allowances[token][from][spender] = new(big.Int).Sub(allowance, amount)
	}

	l.setBalance(token, from, new(big.Int).Sub(balance, amount))
	l.setBalance(token, to, new(big.Int).Add(l.balance(token, to), amount))
	return nil
}

func (l *TokenLedger) balance(token, account common.Address) *big.Int {
	return lib.CopyBig(l.balances[token][account])
}

func (l *TokenLedger) setBalance(token, account common.Address, amount *big.Int) {
	byAccount, ok := l.balances[token]
	if !ok {
		byAccount = make(map[common.Address]*big.Int)
		l.balances[token] = byAccount
	}
	byAccount[account] = amount
}

func (l *TokenLedger) allowance(token, owner, spender common.Address) *big.Int {
	return lib.CopyBig(l.allowances[token][owner][spender])
}

type TokenGateways struct {
	ledger  *TokenLedger
	custody common.Address
}

func (g *TokenGateways) Token(contract common.Address) (rental.TokenGateway, error) {
	return &Token{ledger: g.ledger, contract: contract, custody: g.custody}, nil
}

type Token struct {
	ledger   *TokenLedger
	contract common.Address
	custody  common.Address
}

func (t *Token) TransferInto(ctx context.Context, from common.Address, amount *big.Int) error {
	return t.ledger.transfer(ctx, t.contract, t.custody, from, t.custody, amount)
}

func (t *Token) TransferTo(ctx context.Context, to common.Address, amount *big.Int) error {
	return t.ledger.transfer(ctx, t.contract, t.custody, t.custody, to, amount)
}
