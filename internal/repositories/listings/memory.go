package listings

import (
	"context"
	"sync"

	"github.com/Lumerin-protocol/asset-rental/internal/lib"
	"github.com/Lumerin-protocol/asset-rental/internal/resources/rental"
	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore keeps listings and the marketplace state in maps, every read and write copies the record
type MemoryStore struct {
	mu         sync.RWMutex
	listings   map[rental.ListingKey]rental.Listing
	governance *rental.GovernanceState
	treasury   map[common.Address]rental.TreasuryBalance
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		listings: make(map[rental.ListingKey]rental.Listing),
		treasury: make(map[common.Address]rental.TreasuryBalance),
	}
}

func (s *MemoryStore) Create(ctx context.Context, key rental.ListingKey, listing rental.Listing) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listings[key].CurrentRental.Active {
		return rental.ErrListingAlreadyHasActiveRental
	}
	s.listings[key] = listing.Copy()
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, key rental.ListingKey) (rental.Listing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.listings[key].Copy(), nil
}

func (s *MemoryStore) Delete(ctx context.Context, key rental.ListingKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listings[key].CurrentRental.Active {
		return rental.ErrActiveRentalPresent
	}
	delete(s.listings, key)
	return nil
}

func (s *MemoryStore) SetRental(ctx context.Context, key rental.ListingKey, r rental.Rental) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	listing, ok := s.listings[key]
	if !ok {
		return rental.ErrListingNotActive
	}
	listing.CurrentRental = r.Copy()
	s.listings[key] = listing
	return nil
}

func (s *MemoryStore) ClearRental(ctx context.Context, key rental.ListingKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	listing, ok := s.listings[key]
	if !ok {
		return nil
	}
	listing.CurrentRental = rental.Rental{}
	s.listings[key] = listing
	return nil
}

// List returns the active listings in no particular order
func (s *MemoryStore) List(ctx context.Context) ([]rental.KeyedListing, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]rental.KeyedListing, 0, len(s.listings))
	for key, listing := range s.listings {
		if !listing.Active {
			continue
		}
		res = append(res, rental.KeyedListing{Key: key, Listing: listing.Copy()})
	}
	return res, nil
}

func (s *MemoryStore) LoadGovernance(ctx context.Context) (rental.GovernanceState, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.governance == nil {
		return rental.GovernanceState{}, false, nil
	}
	return *s.governance, true, nil
}

func (s *MemoryStore) SaveGovernance(ctx context.Context, state rental.GovernanceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.governance = &state
	return nil
}

func (s *MemoryStore) LoadTreasury(ctx context.Context) ([]rental.TreasuryBalance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := make([]rental.TreasuryBalance, 0, len(s.treasury))
	for _, b := range s.treasury {
		res = append(res, copyBalance(b))
	}
	return res, nil
}

func (s *MemoryStore) SaveTreasury(ctx context.Context, balance rental.TreasuryBalance) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.treasury[balance.Token] = copyBalance(balance)
	return nil
}

func copyBalance(b rental.TreasuryBalance) rental.TreasuryBalance {
	return rental.TreasuryBalance{Token: b.Token, Escrow: lib.CopyBig(b.Escrow), Revenue: lib.CopyBig(b.Revenue)}
}

var _ rental.MarketStore = (*MemoryStore)(nil)
