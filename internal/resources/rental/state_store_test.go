package rental

import (
	"context"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

var errSaveFailed = errors.New("save failed")

// memStateStore keeps governance and treasury state the way a durable store would,
// fail makes every save return errSaveFailed
type memStateStore struct {
	mu         sync.Mutex
	governance *GovernanceState
	treasury   map[common.Address]TreasuryBalance
	fail       bool
}

func newMemStateStore() *memStateStore {
	return &memStateStore{treasury: make(map[common.Address]TreasuryBalance)}
}

func (s *memStateStore) LoadGovernance(ctx context.Context) (GovernanceState, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.governance == nil {
		return GovernanceState{}, false, nil
	}
	return *s.governance, true, nil
}

func (s *memStateStore) SaveGovernance(ctx context.Context, state GovernanceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errSaveFailed
	}
	s.governance = &state
	return nil
}

func (s *memStateStore) LoadTreasury(ctx context.Context) ([]TreasuryBalance, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	res := make([]TreasuryBalance, 0, len(s.treasury))
	for _, b := range s.treasury {
		res = append(res, b)
	}
	return res, nil
}

func (s *memStateStore) SaveTreasury(ctx context.Context, balance TreasuryBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errSaveFailed
	}
	s.treasury[balance.Token] = balance
	return nil
}
