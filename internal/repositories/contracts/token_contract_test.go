package contracts

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"

	"github.com/Lumerin-protocol/asset-rental/internal/lib"
	"github.com/Lumerin-protocol/asset-rental/internal/resources/rental"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/stretchr/testify/require"
)

// fakeChain answers balanceOf calls and mines every sent transaction at once,
// receipt logs are produced by the logs func
type fakeChain struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
	sent     []*types.Transaction
	logs     func(tx *types.Transaction) []*types.Log
}

func newFakeChain() *fakeChain {
	return &fakeChain{balances: make(map[common.Address]*big.Int)}
}

func (f *fakeChain) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x1}, nil
}

func (f *fakeChain) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	method, err := erc20ABI.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	if method.Name != "balanceOf" {
		return nil, errors.New("unexpected call " + method.Name)
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	balance := lib.CopyBig(f.balances[args[0].(common.Address)])
	return method.Outputs.Pack(balance)
}

func (f *fakeChain) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1)}, nil
}

func (f *fakeChain) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return []byte{0x1}, nil
}

func (f *fakeChain) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	return 0, nil
}

func (f *fakeChain) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeChain) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1), nil
}

func (f *fakeChain) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 100_000, nil
}

func (f *fakeChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeChain) FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error) {
	return nil, nil
}

func (f *fakeChain) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	return nil, errors.New("subscriptions are not supported")
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, tx := range f.sent {
		if tx.Hash() != txHash {
			continue
		}
		var logs []*types.Log
		if f.logs != nil {
			logs = f.logs(tx)
		}
		return &types.Receipt{Status: types.ReceiptStatusSuccessful, TxHash: txHash, Logs: logs}, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeChain) ChainID(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1337), nil
}

func (f *fakeChain) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

var _ EthereumClient = (*fakeChain)(nil)

func transferLog(token, from, to common.Address, amount *big.Int) *types.Log {
	event := erc20ABI.Events["Transfer"]
	data, err := event.Inputs.NonIndexed().Pack(amount)
	if err != nil {
		panic(err)
	}
	return &types.Log{
		Address: token,
		Topics:  []common.Hash{event.ID, common.BytesToHash(from.Bytes()), common.BytesToHash(to.Bytes())},
		Data:    data,
	}
}

// honestLogs emits the Transfer log a standard ERC-20 emits for the sent call
func honestLogs(token, custody common.Address, adjust func(*big.Int) *big.Int) func(tx *types.Transaction) []*types.Log {
	return func(tx *types.Transaction) []*types.Log {
		method, err := erc20ABI.MethodById(tx.Data()[:4])
		if err != nil {
			return nil
		}
		args, err := method.Inputs.Unpack(tx.Data()[4:])
		if err != nil {
			return nil
		}

		var from, to common.Address
		var amount *big.Int
		switch method.Name {
		case "transfer":
			from, to, amount = custody, args[0].(common.Address), args[1].(*big.Int)
		case "transferFrom":
			from, to, amount = args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
		default:
			return nil
		}
		if adjust != nil {
			amount = adjust(amount)
		}
		return []*types.Log{transferLog(token, from, to, amount)}
	}
}

type tokenFixture struct {
	chain   *fakeChain
	token   *TokenContract
	address common.Address
	custody common.Address
	renter  common.Address
}

func newTokenFixture(t *testing.T) *tokenFixture {
	chain := newFakeChain()
	tx, err := NewTransactor(chain, lib.GenerateTestPrivKey(), true, lib.NewTestLogger())
	require.NoError(t, err)

	f := &tokenFixture{
		chain:   chain,
		address: lib.GetRandomAddr(),
		custody: tx.From(),
		renter:  lib.GetRandomAddr(),
	}
	f.token = NewTokenContract(f.address, tx)
	chain.balances[f.renter] = big.NewInt(1000)
	chain.balances[f.custody] = big.NewInt(1000)
	return f
}

func TestTokenTransferConfirmedByLog(t *testing.T) {
	f := newTokenFixture(t)
	f.chain.logs = honestLogs(f.address, f.custody, nil)

	require.NoError(t, f.token.TransferInto(context.Background(), f.renter, big.NewInt(500)))
	require.NoError(t, f.token.TransferTo(context.Background(), f.renter, big.NewInt(400)))
	require.Equal(t, 2, f.chain.sentCount())
}

func TestTokenTransferWithoutLogFails(t *testing.T) {
	f := newTokenFixture(t)
	// token returns false instead of reverting
	f.chain.logs = func(tx *types.Transaction) []*types.Log { return nil }

	err := f.token.TransferInto(context.Background(), f.renter, big.NewInt(100))
	require.ErrorIs(t, err, rental.ErrExternalTransferFailed)

	err = f.token.TransferTo(context.Background(), f.renter, big.NewInt(100))
	require.ErrorIs(t, err, rental.ErrExternalTransferFailed)
}

func TestTokenTransferAmountMismatchFails(t *testing.T) {
	f := newTokenFixture(t)
	// fee on transfer token delivers less than requested
	f.chain.logs = honestLogs(f.address, f.custody, func(amount *big.Int) *big.Int {
		return new(big.Int).Sub(amount, big.NewInt(1))
	})

	err := f.token.TransferInto(context.Background(), f.renter, big.NewInt(100))
	require.ErrorIs(t, err, rental.ErrExternalTransferFailed)
}

func TestTokenTransferLogOfOtherContractIgnored(t *testing.T) {
	f := newTokenFixture(t)
	other := lib.GetRandomAddr()
	f.chain.logs = honestLogs(other, f.custody, nil)

	err := f.token.TransferTo(context.Background(), f.renter, big.NewInt(100))
	require.ErrorIs(t, err, rental.ErrExternalTransferFailed)
}

func TestTokenTransferInsufficientBalanceNotSent(t *testing.T) {
	f := newTokenFixture(t)
	f.chain.logs = honestLogs(f.address, f.custody, nil)

	err := f.token.TransferInto(context.Background(), f.renter, big.NewInt(1001))
	require.ErrorIs(t, err, rental.ErrExternalTransferFailed)
	require.Equal(t, 0, f.chain.sentCount())

	balance, err := f.token.BalanceOf(context.Background(), f.renter)
	require.NoError(t, err)
	require.Equal(t, "1000", balance.String())
}
