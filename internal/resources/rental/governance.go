package rental

import (
	"context"
	"fmt"
	"sync"

	"github.com/Lumerin-protocol/asset-rental/internal/lib"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/atomic"
)

// GovernanceState is the persisted administrative state
type GovernanceState struct {
	Admin   common.Address
	FeeRate uint64
	Paused  bool
}

// Governance holds the administrative parameters of the marketplace. With a store
// every change is saved before it takes effect
type Governance struct {
	mu    sync.RWMutex // guards admin, serializes changes
	admin common.Address

	feeRate atomic.Uint64 // basis points, applies to rentals created after the change
	paused  atomic.Bool

	store GovernanceStore
}

// NewGovernance creates governance that is kept in memory only
func NewGovernance(admin common.Address, feeRate uint64) *Governance {
	g := &Governance{}
	g.apply(GovernanceState{Admin: admin, FeeRate: feeRate})
	return g
}

// LoadGovernance restores the saved state, seed is saved and used on the first start
func LoadGovernance(ctx context.Context, store GovernanceStore, seed GovernanceState) (*Governance, error) {
	state, ok, err := store.LoadGovernance(ctx)
	if err != nil {
		return nil, fmt.Errorf("load governance: %w", err)
	}
	if !ok {
		state = seed
		err = store.SaveGovernance(ctx, state)
		if err != nil {
			return nil, fmt.Errorf("save governance: %w", err)
		}
	}

	g := &Governance{store: store}
	g.apply(state)
	return g, nil
}

func (g *Governance) Admin() common.Address {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.admin
}

func (g *Governance) FeeRate() uint64 {
	return g.feeRate.Load()
}

func (g *Governance) IsPaused() bool {
	return g.paused.Load()
}

func (g *Governance) State() GovernanceState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state()
}

func (g *Governance) SetFeeRate(ctx context.Context, caller common.Address, feeRate uint64) error {
	return g.update(ctx, caller, func(s *GovernanceState) {
		s.FeeRate = feeRate
	})
}

func (g *Governance) Pause(ctx context.Context, caller common.Address) error {
	return g.update(ctx, caller, func(s *GovernanceState) {
		s.Paused = true
	})
}

func (g *Governance) Unpause(ctx context.Context, caller common.Address) error {
	return g.update(ctx, caller, func(s *GovernanceState) {
		s.Paused = false
	})
}

func (g *Governance) TransferAdmin(ctx context.Context, caller common.Address, newAdmin common.Address) error {
	if newAdmin == (common.Address{}) {
		return lib.WrapError(ErrInvalidParameter, fmt.Errorf("admin cannot be zero address"))
	}
	return g.update(ctx, caller, func(s *GovernanceState) {
		s.Admin = newAdmin
	})
}

func (g *Governance) update(ctx context.Context, caller common.Address, change func(s *GovernanceState)) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if caller != g.admin {
		return lib.WrapError(ErrNotAuthorized, fmt.Errorf("caller %s is not admin", caller.Hex()))
	}

	next := g.state()
	change(&next)

	if g.store != nil {
		err := g.store.SaveGovernance(ctx, next)
		if err != nil {
			return fmt.Errorf("save governance: %w", err)
		}
	}
	g.apply(next)
	return nil
}

// state must be called with mu held
func (g *Governance) state() GovernanceState {
	return GovernanceState{
		Admin:   g.admin,
		FeeRate: g.feeRate.Load(),
		Paused:  g.paused.Load(),
	}
}

func (g *Governance) apply(s GovernanceState) {
	g.admin = s.Admin
	g.feeRate.Store(s.FeeRate)
	g.paused.Store(s.Paused)
}
