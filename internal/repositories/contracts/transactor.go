package contracts

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/Lumerin-protocol/asset-rental/internal/interfaces"
	"github.com/Lumerin-protocol/asset-rental/internal/lib"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
)

const DefaultTxTimeout = time.Minute

var ErrTxReverted = errors.New("transaction reverted")

// Transactor signs and sends marketplace transactions from a single account.
// Transactions are sent one by one so the nonce sequence stays gapless
type Transactor struct {
	// config
	legacyTx  bool // use legacy transaction fee, for local node testing
	txTimeout time.Duration

	// state
	privateKey *ecdsa.PrivateKey
	from       common.Address
	chainID    *big.Int
	nonce      uint64
	mutex      sync.Mutex
	sendMutex  sync.Mutex

	// deps
	client EthereumClient
	log    interfaces.ILogger
}

func NewTransactor(client EthereumClient, privKey string, legacyTx bool, log interfaces.ILogger) (*Transactor, error) {
	privateKey, err := crypto.HexToECDSA(strings.TrimPrefix(privKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	from, err := lib.PrivKeyToAddr(privateKey)
	if err != nil {
		return nil, err
	}
	return &Transactor{
		legacyTx:   legacyTx,
		txTimeout:  DefaultTxTimeout,
		privateKey: privateKey,
		from:       from,
		client:     client,
		log:        log,
	}, nil
}

func (t *Transactor) From() common.Address {
	return t.from
}

func (t *Transactor) Client() EthereumClient {
	return t.client
}

// Transact sends the method call and waits until it is mined, a reverted
// transaction is an error
func (t *Transactor) Transact(ctx context.Context, contract *bind.BoundContract, method string, params ...interface{}) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, t.txTimeout)
	defer cancel()

	t.sendMutex.Lock()
	opts, err := t.getTransactOpts(ctx)
	if err != nil {
		t.sendMutex.Unlock()
		return nil, err
	}
	tx, err := contract.Transact(opts, method, params...)
	if err != nil {
		t.resetNonce()
		t.sendMutex.Unlock()
		return nil, fmt.Errorf("send %s: %w", method, err)
	}
	t.sendMutex.Unlock()

	t.log.Debugf("sent %s tx %s nonce %d", method, tx.Hash().Hex(), tx.Nonce())

	receipt, err := bind.WaitMined(ctx, t.client, tx)
	if err != nil {
		return nil, fmt.Errorf("wait %s tx %s: %w", method, tx.Hash().Hex(), err)
	}
	if receipt.Status != types.ReceiptStatusSuccessful {
		return receipt, lib.WrapError(ErrTxReverted, fmt.Errorf("%s tx %s", method, tx.Hash().Hex()))
	}
	return receipt, nil
}

func (t *Transactor) getTransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	chainID, err := t.getChainID(ctx)
	if err != nil {
		return nil, err
	}

	transactOpts, err := bind.NewKeyedTransactorWithChainID(t.privateKey, chainID)
	if err != nil {
		return nil, err
	}

	if t.legacyTx {
		gasPrice, err := t.client.SuggestGasPrice(ctx)
		if err != nil {
			return nil, err
		}
		transactOpts.GasPrice = gasPrice
	}

	nonce, err := t.getNonce(ctx)
	if err != nil {
		return nil, err
	}

	transactOpts.Value = big.NewInt(0)
	transactOpts.Nonce = nonce
	transactOpts.Context = ctx

	return transactOpts, nil
}

func (t *Transactor) getChainID(ctx context.Context) (*big.Int, error) {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	if t.chainID != nil {
		return t.chainID, nil
	}
	chainID, err := t.client.ChainID(ctx)
	if err != nil {
		return nil, err
	}
	t.chainID = chainID
	return chainID, nil
}

func (t *Transactor) getNonce(ctx context.Context) (*big.Int, error) {
	pending, err := t.client.PendingNonceAt(ctx, t.from)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetUint64(t.nextNonce(pending)), nil
}

// nextNonce picks the larger of the local and the node nonce, the node may not
// see transactions that were just sent
func (t *Transactor) nextNonce(pending uint64) uint64 {
	t.mutex.Lock()
	defer t.mutex.Unlock()

	nonce := pending
	if t.nonce > pending {
		nonce = t.nonce
	}
	t.nonce = nonce + 1
	return nonce
}

// resetNonce drops the local nonce after a failed send, the next one uses the node nonce
func (t *Transactor) resetNonce() {
	t.mutex.Lock()
	defer t.mutex.Unlock()
	t.nonce = 0
}
