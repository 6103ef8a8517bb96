package contracts

import (
	"sync"

	"github.com/Lumerin-protocol/asset-rental/internal/resources/rental"
	"github.com/ethereum/go-ethereum/common"
)

// Gateways resolves asset and token contracts by address, bound contracts are cached
type Gateways struct {
	tx *Transactor

	mu     sync.Mutex
	assets map[common.Address]*AssetContract
	tokens map[common.Address]*TokenContract
}

func NewGateways(tx *Transactor) *Gateways {
	return &Gateways{
		tx:     tx,
		assets: make(map[common.Address]*AssetContract),
		tokens: make(map[common.Address]*TokenContract),
	}
}

func (g *Gateways) Asset(contract common.Address) (rental.AssetGateway, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.assets[contract]
	if !ok {
		c = NewAssetContract(contract, g.tx)
		g.assets[contract] = c
	}
	return c, nil
}

func (g *Gateways) Token(contract common.Address) (rental.TokenGateway, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	c, ok := g.tokens[contract]
	if !ok {
		c = NewTokenContract(contract, g.tx)
		g.tokens[contract] = c
	}
	return c, nil
}

var (
	_ rental.AssetGateways = (*Gateways)(nil)
	_ rental.TokenGateways = (*Gateways)(nil)
)
