package rental_test

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/Lumerin-protocol/asset-rental/internal/lib"
	"github.com/Lumerin-protocol/asset-rental/internal/repositories/listings"
	"github.com/Lumerin-protocol/asset-rental/internal/repositories/memory"
	"github.com/Lumerin-protocol/asset-rental/internal/resources/rental"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

var initialBalance = big.NewInt(1_000_000)

type recorder struct {
	mu     sync.Mutex
	events []rental.Event
}

func (r *recorder) Notify(e rental.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []rental.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := make([]rental.EventType, len(r.events))
	for i, e := range r.events {
		res[i] = e.Type()
	}
	return res
}

type fixture struct {
	t   *testing.T
	ctx context.Context
	now time.Time

	market *rental.Market
	store  *listings.MemoryStore
	assets *memory.AssetRegistry
	ledger *memory.TokenLedger
	events *recorder

	marketplace, admin, owner, renter, stranger common.Address
	collection, token                           common.Address
	key                                         rental.ListingKey
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{
		t:           t,
		ctx:         context.Background(),
		now:         time.Unix(1_700_000_000, 0),
		store:       listings.NewMemoryStore(),
		ledger:      memory.NewTokenLedger(),
		events:      &recorder{},
		marketplace: lib.GetRandomAddr(),
		admin:       lib.GetRandomAddr(),
		owner:       lib.GetRandomAddr(),
		renter:      lib.GetRandomAddr(),
		stranger:    lib.GetRandomAddr(),
		collection:  lib.GetRandomAddr(),
		token:       lib.GetRandomAddr(),
	}
	f.assets = memory.NewAssetRegistry(f.clock)
	f.key = rental.NewListingKey(f.collection, big.NewInt(1))

	f.market = f.newMarket(f.loadTreasury())

	require.NoError(t, f.assets.Mint(f.collection, f.key.ID(), f.owner))
	require.NoError(t, f.assets.Approve(f.collection, f.key.ID(), f.owner, f.marketplace))
	f.fund(f.renter)
	f.fund(f.stranger)
	return f
}

// newMarket builds a market over the fixture store, governance is loaded from the store
// and seeded with a 2.5% fee on first use
func (f *fixture) newMarket(treasury *rental.Treasury) *rental.Market {
	fc, err := rental.NewFeeCalculator(rental.FeeDenominatorBasisPoints)
	require.NoError(f.t, err)

	gov, err := rental.LoadGovernance(f.ctx, f.store, rental.GovernanceState{Admin: f.admin, FeeRate: 250})
	require.NoError(f.t, err)

	return rental.NewMarket(
		f.marketplace,
		f.store,
		f.assets.For(f.marketplace),
		f.ledger.For(f.marketplace),
		fc,
		gov,
		treasury,
		f.events,
		lib.NewTestLogger(),
		rental.WithClock(f.clock),
		rental.WithLockTimeout(time.Second),
	)
}

func (f *fixture) loadTreasury() *rental.Treasury {
	treasury, err := rental.LoadTreasury(f.ctx, f.store)
	require.NoError(f.t, err)
	return treasury
}

func (f *fixture) clock() time.Time {
	return f.now
}

func (f *fixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func (f *fixture) fund(addr common.Address) {
	f.ledger.Mint(f.token, addr, initialBalance)
	f.ledger.Approve(f.token, addr, f.marketplace, lib.MaxUint256)
}

func (f *fixture) list(strict bool) {
	err := f.market.CreateListing(f.ctx, f.owner, f.key, rental.ListingTerms{
		PaymentToken:     f.token,
		RatePerMinute:    big.NewInt(10),
		MaxRentalMinutes: 100,
		StrictFinish:     strict,
	})
	require.NoError(f.t, err)
}

func (f *fixture) balance(addr common.Address) int64 {
	return f.ledger.BalanceOf(f.token, addr).Int64()
}

func (f *fixture) requireExclusive() {
	listing, err := f.market.GetListing(f.ctx, f.key)
	require.NoError(f.t, err)
	status, err := f.market.RentalStatus(f.ctx, f.key)
	require.NoError(f.t, err)
	if listing.Active {
		require.Equal(f.t, listing.CurrentRental.Active, status.Rented, "listing rental and asset rented flag diverged")
	}
}

func (f *fixture) requireTreasury(escrow, revenue int64) {
	b := f.market.Treasury(f.token)
	require.Equal(f.t, escrow, b.Escrow.Int64(), "escrow")
	require.Equal(f.t, revenue, b.Revenue.Int64(), "revenue")
	require.Equal(f.t, escrow+revenue, f.balance(f.marketplace), "custody must cover escrow and revenue")
}

func TestEarlyFinishExample(t *testing.T) {
	f := newFixture(t)
	f.list(false)

	receipt, err := f.market.CreateRental(f.ctx, f.renter, f.key, 100)
	require.NoError(t, err)
	require.Equal(t, int64(1000), receipt.Cost.Base.Int64())
	require.Equal(t, int64(25), receipt.Cost.Fee.Int64())
	require.Equal(t, int64(1025), receipt.Cost.Total.Int64())
	require.True(t, receipt.ExpiresAt.Equal(f.now.Add(100*time.Minute)))
	f.requireTreasury(1025, 0)
	f.requireExclusive()

	status, err := f.market.RentalStatus(f.ctx, f.key)
	require.NoError(t, err)
	require.True(t, status.Rented)
	require.Equal(t, f.renter, status.Renter)

	f.advance(40 * time.Minute)
	s, err := f.market.FinishRental(f.ctx, f.renter, f.key)
	require.NoError(t, err)

	require.True(t, s.Early)
	require.Equal(t, uint64(40), s.ElapsedMinutes)
	require.Equal(t, int64(615), s.Refund.Int64())
	require.Equal(t, int64(400), s.PaidToOwner.Int64())
	require.Equal(t, int64(10), s.RetainedByProtocol.Int64())
	require.Equal(t, int64(1025), s.Sum().Int64())

	require.Equal(t, initialBalance.Int64()-410, f.balance(f.renter))
	require.Equal(t, int64(400), f.balance(f.owner))
	f.requireTreasury(0, 10)
	f.requireExclusive()

	listing, err := f.market.GetListing(f.ctx, f.key)
	require.NoError(t, err)
	require.True(t, listing.Active)
	require.False(t, listing.CurrentRental.Active)

	require.Equal(t, []rental.EventType{
		rental.EventListingCreated,
		rental.EventRentalCreated,
		rental.EventRentalFinished,
	}, f.events.types())
}

func TestLateFinishPaysFullCost(t *testing.T) {
	f := newFixture(t)
	f.list(false)

	_, err := f.market.CreateRental(f.ctx, f.renter, f.key, 100)
	require.NoError(t, err)

	f.advance(100 * time.Minute)
	s, err := f.market.FinishRental(f.ctx, f.stranger, f.key)
	require.NoError(t, err)

	require.False(t, s.Early)
	require.Equal(t, int64(0), s.Refund.Int64())
	require.Equal(t, int64(1000), s.PaidToOwner.Int64())
	require.Equal(t, int64(25), s.RetainedByProtocol.Int64())
	require.Equal(t, initialBalance.Int64()-1025, f.balance(f.renter))
	require.Equal(t, int64(1000), f.balance(f.owner))
	f.requireTreasury(0, 25)
	f.requireExclusive()
}

func TestFinishAtZeroElapsedRefundsAll(t *testing.T) {
	f := newFixture(t)
	f.list(false)

	_, err := f.market.CreateRental(f.ctx, f.renter, f.key, 100)
	require.NoError(t, err)

	f.advance(59 * time.Second)
	s, err := f.market.FinishRental(f.ctx, f.renter, f.key)
	require.NoError(t, err)

	require.True(t, s.Early)
	require.Equal(t, uint64(0), s.ElapsedMinutes)
	require.Equal(t, int64(1025), s.Refund.Int64())
	require.Equal(t, initialBalance.Int64(), f.balance(f.renter))
	require.Equal(t, int64(0), f.balance(f.owner))
	f.requireTreasury(0, 0)
}

func TestCreateRentalBounds(t *testing.T) {
	f := newFixture(t)
	f.list(false)

	_, err := f.market.CreateRental(f.ctx, f.renter, f.key, 0)
	require.ErrorIs(t, err, rental.ErrInvalidParameter)
	_, err = f.market.CreateRental(f.ctx, f.renter, f.key, 101)
	require.ErrorIs(t, err, rental.ErrInvalidParameter)

	_, err = f.market.CreateRental(f.ctx, f.renter, f.key, 100)
	require.NoError(t, err)
}

func TestCreateRentalExclusive(t *testing.T) {
	f := newFixture(t)
	f.list(false)

	_, err := f.market.CreateRental(f.ctx, f.renter, f.key, 10)
	require.NoError(t, err)

	_, err = f.market.CreateRental(f.ctx, f.stranger, f.key, 10)
	require.ErrorIs(t, err, rental.ErrListingAlreadyHasActiveRental)
	require.Equal(t, initialBalance.Int64(), f.balance(f.stranger))
	f.requireExclusive()
}

func TestCreateRentalConcurrent(t *testing.T) {
	f := newFixture(t)
	f.list(false)

	renters := make([]common.Address, 16)
	for i := range renters {
		renters[i] = lib.GetRandomAddr()
		f.fund(renters[i])
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
	)
	for _, r := range renters {
		wg.Add(1)
		go func(r common.Address) {
			defer wg.Done()
			_, err := f.market.CreateRental(f.ctx, r, f.key, 10)
			if err == nil {
				mu.Lock()
				success++
				mu.Unlock()
				return
			}
			if !errors.Is(err, rental.ErrListingAlreadyHasActiveRental) {
				t.Errorf("unexpected error: %s", err)
			}
		}(r)
	}
	wg.Wait()

	require.Equal(t, 1, success)
	f.requireTreasury(102, 0)
	f.requireExclusive()
}

func TestCreateRentalAssetRentedElsewhere(t *testing.T) {
	f := newFixture(t)
	f.list(false)
	require.NoError(t, f.assets.SetRentedFlag(f.collection, f.key.ID(), true))

	_, err := f.market.CreateRental(f.ctx, f.renter, f.key, 10)
	require.ErrorIs(t, err, rental.ErrAssetAlreadyRented)
	require.Equal(t, initialBalance.Int64(), f.balance(f.renter))
}

func TestListingNotActive(t *testing.T) {
	f := newFixture(t)

	_, err := f.market.CreateRental(f.ctx, f.renter, f.key, 10)
	require.ErrorIs(t, err, rental.ErrListingNotActive)

	_, err = f.market.FinishRental(f.ctx, f.renter, f.key)
	require.ErrorIs(t, err, rental.ErrListingNotActive)
}

func TestCreateListingChecks(t *testing.T) {
	f := newFixture(t)

	err := f.market.CreateListing(f.ctx, f.stranger, f.key, rental.ListingTerms{
		PaymentToken: f.token, RatePerMinute: big.NewInt(1), MaxRentalMinutes: 1,
	})
	require.ErrorIs(t, err, rental.ErrNotAuthorized)

	err = f.market.CreateListing(f.ctx, f.owner, f.key, rental.ListingTerms{
		PaymentToken: f.token, RatePerMinute: big.NewInt(1), MaxRentalMinutes: 0,
	})
	require.ErrorIs(t, err, rental.ErrInvalidParameter)

	f.list(false)
	_, err = f.market.CreateRental(f.ctx, f.renter, f.key, 10)
	require.NoError(t, err)

	// relisting over a live rental is rejected by the store
	err = f.market.CreateListing(f.ctx, f.owner, f.key, rental.ListingTerms{
		PaymentToken: f.token, RatePerMinute: big.NewInt(1), MaxRentalMinutes: 5,
	})
	require.ErrorIs(t, err, rental.ErrListingAlreadyHasActiveRental)
}

func TestDeleteListingGuard(t *testing.T) {
	f := newFixture(t)
	f.list(false)

	_, err := f.market.CreateRental(f.ctx, f.renter, f.key, 10)
	require.NoError(t, err)

	require.ErrorIs(t, f.market.DeleteListing(f.ctx, f.stranger, f.key), rental.ErrNotAuthorized)
	require.ErrorIs(t, f.market.DeleteListing(f.ctx, f.owner, f.key), rental.ErrActiveRentalPresent)

	_, err = f.market.FinishRental(f.ctx, f.renter, f.key)
	require.NoError(t, err)
	require.NoError(t, f.market.DeleteListing(f.ctx, f.owner, f.key))

	listing, err := f.market.GetListing(f.ctx, f.key)
	require.NoError(t, err)
	require.False(t, listing.Active)

	all, err := f.market.ListListings(f.ctx)
	require.NoError(t, err)
	require.Empty(t, all)
}

func TestFinishAuthorizationMatrix(t *testing.T) {
	type caller int
	const (
		owner caller = iota
		renter
		stranger
	)
	names := map[caller]string{owner: "owner", renter: "renter", stranger: "stranger"}

	cases := []struct {
		strict  bool
		early   bool
		allowed map[caller]bool
	}{
		{strict: false, early: true, allowed: map[caller]bool{renter: true}},
		{strict: false, early: false, allowed: map[caller]bool{owner: true, renter: true, stranger: true}},
		{strict: true, early: true, allowed: map[caller]bool{renter: true}},
		{strict: true, early: false, allowed: map[caller]bool{owner: true, renter: true}},
	}

	for _, tc := range cases {
		for _, c := range []caller{owner, renter, stranger} {
			tc, c := tc, c
			name := names[c]
			if tc.strict {
				name += "/strict"
			}
			if tc.early {
				name += "/early"
			}
			t.Run(name, func(t *testing.T) {
				f := newFixture(t)
				f.list(tc.strict)
				_, err := f.market.CreateRental(f.ctx, f.renter, f.key, 10)
				require.NoError(t, err)

				if tc.early {
					f.advance(5 * time.Minute)
				} else {
					f.advance(11 * time.Minute)
				}

				addr := map[caller]common.Address{owner: f.owner, renter: f.renter, stranger: f.stranger}[c]
				_, err = f.market.FinishRental(f.ctx, addr, f.key)
				if tc.allowed[c] {
					require.NoError(t, err)
				} else {
					require.ErrorIs(t, err, rental.ErrNotAuthorized)
				}
				f.requireExclusive()
			})
		}
	}
}

func TestFinishUnmanagedRental(t *testing.T) {
	t.Run("no recorded rental", func(t *testing.T) {
		f := newFixture(t)
		f.list(false)
		require.NoError(t, f.assets.SetRentedFlag(f.collection, f.key.ID(), true))

		_, err := f.market.FinishRental(f.ctx, f.renter, f.key)
		require.ErrorIs(t, err, rental.ErrUnmanagedRental)
	})

	t.Run("operator replaced", func(t *testing.T) {
		f := newFixture(t)
		f.list(false)
		_, err := f.market.CreateRental(f.ctx, f.renter, f.key, 10)
		require.NoError(t, err)
		require.NoError(t, f.assets.Approve(f.collection, f.key.ID(), f.owner, f.stranger))

		_, err = f.market.FinishRental(f.ctx, f.renter, f.key)
		require.ErrorIs(t, err, rental.ErrUnmanagedRental)
	})

	t.Run("asset not rented", func(t *testing.T) {
		f := newFixture(t)
		f.list(false)

		_, err := f.market.FinishRental(f.ctx, f.renter, f.key)
		require.ErrorIs(t, err, rental.ErrAssetNotRented)
	})
}

func TestCreateRentalRollsBackOnRentOutFailure(t *testing.T) {
	f := newFixture(t)
	f.list(false)
	// marketplace is no longer the operator, rent out fails after the payment was pulled
	require.NoError(t, f.assets.Approve(f.collection, f.key.ID(), f.owner, f.stranger))

	_, err := f.market.CreateRental(f.ctx, f.renter, f.key, 10)
	require.ErrorIs(t, err, rental.ErrExternalTransferFailed)
	require.ErrorIs(t, err, memory.ErrNotOperator)

	require.Equal(t, initialBalance.Int64(), f.balance(f.renter))
	f.requireTreasury(0, 0)
	listing, err := f.market.GetListing(f.ctx, f.key)
	require.NoError(t, err)
	require.False(t, listing.CurrentRental.Active)
	require.Equal(t, []rental.EventType{rental.EventListingCreated}, f.events.types())
}

func TestCreateRentalRollsBackOnPaymentFailure(t *testing.T) {
	f := newFixture(t)
	f.list(false)
	poor := lib.GetRandomAddr()

	_, err := f.market.CreateRental(f.ctx, poor, f.key, 10)
	require.ErrorIs(t, err, rental.ErrExternalTransferFailed)
	require.ErrorIs(t, err, memory.ErrInsufficientBalance)

	f.requireTreasury(0, 0)
	f.requireExclusive()
	listing, err := f.market.GetListing(f.ctx, f.key)
	require.NoError(t, err)
	require.False(t, listing.CurrentRental.Active)
}

func TestFinishRentalRollsBackOnPayoutFailure(t *testing.T) {
	f := newFixture(t)
	f.list(false)

	_, err := f.market.CreateRental(f.ctx, f.renter, f.key, 100)
	require.NoError(t, err)
	f.advance(40 * time.Minute)

	errFrozen := errors.New("account frozen")
	f.ledger.SetHook(func(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
		if to == f.owner {
			return errFrozen
		}
		return nil
	})

	_, err = f.market.FinishRental(f.ctx, f.renter, f.key)
	require.ErrorIs(t, err, rental.ErrExternalTransferFailed)
	require.ErrorIs(t, err, errFrozen)

	// refund was clawed back, asset and listing still hold the rental
	require.Equal(t, initialBalance.Int64()-1025, f.balance(f.renter))
	f.requireTreasury(1025, 0)
	f.requireExclusive()

	listing, err := f.market.GetListing(f.ctx, f.key)
	require.NoError(t, err)
	require.True(t, listing.CurrentRental.Active)
	status, err := f.market.RentalStatus(f.ctx, f.key)
	require.NoError(t, err)
	require.Equal(t, f.renter, status.Renter)

	f.ledger.SetHook(nil)
	_, err = f.market.FinishRental(f.ctx, f.renter, f.key)
	require.NoError(t, err)
	f.requireExclusive()
}

func TestReentrantCallRejected(t *testing.T) {
	f := newFixture(t)
	f.list(false)

	other := rental.NewListingKey(f.collection, big.NewInt(2))
	require.NoError(t, f.assets.Mint(f.collection, other.ID(), f.owner))

	var reentrant []error
	f.ledger.SetHook(func(ctx context.Context, token, from, to common.Address, amount *big.Int) error {
		_, err := f.market.CreateRental(ctx, from, other, 1)
		reentrant = append(reentrant, err)
		_, err = f.market.FinishRental(ctx, from, f.key)
		reentrant = append(reentrant, err)
		reentrant = append(reentrant, f.market.DeleteListing(ctx, f.owner, f.key))
		return nil
	})

	_, err := f.market.CreateRental(f.ctx, f.renter, f.key, 10)
	require.NoError(t, err)

	require.Len(t, reentrant, 3)
	for _, err := range reentrant {
		require.ErrorIs(t, err, rental.ErrReentrantCall)
	}
	f.requireTreasury(102, 0)
}

func TestPause(t *testing.T) {
	f := newFixture(t)
	f.list(false)

	require.ErrorIs(t, f.market.Pause(f.ctx, f.stranger), rental.ErrNotAuthorized)
	require.NoError(t, f.market.Pause(f.ctx, f.admin))
	require.True(t, f.market.IsPaused())

	_, err := f.market.CreateRental(f.ctx, f.renter, f.key, 10)
	require.ErrorIs(t, err, rental.ErrSystemPaused)
	require.ErrorIs(t, f.market.DeleteListing(f.ctx, f.owner, f.key), rental.ErrSystemPaused)

	// queries stay available
	listing, err := f.market.GetListing(f.ctx, f.key)
	require.NoError(t, err)
	require.True(t, listing.Active)

	require.NoError(t, f.market.Unpause(f.ctx, f.admin))
	_, err = f.market.CreateRental(f.ctx, f.renter, f.key, 10)
	require.NoError(t, err)

	require.NoError(t, f.market.Pause(f.ctx, f.admin))
	_, err = f.market.FinishRental(f.ctx, f.renter, f.key)
	require.ErrorIs(t, err, rental.ErrSystemPaused)
}

func TestFeeChangeKeepsEscrowedRental(t *testing.T) {
	f := newFixture(t)
	f.list(false)

	_, err := f.market.CreateRental(f.ctx, f.renter, f.key, 100)
	require.NoError(t, err)

	require.ErrorIs(t, f.market.SetFeeRate(f.ctx, f.owner, 1000), rental.ErrNotAuthorized)
	require.NoError(t, f.market.SetFeeRate(f.ctx, f.admin, 1000))
	require.Equal(t, uint64(1000), f.market.FeeRate())

	f.advance(40 * time.Minute)
	s, err := f.market.FinishRental(f.ctx, f.renter, f.key)
	require.NoError(t, err)
	require.Equal(t, int64(10), s.RetainedByProtocol.Int64())
	require.Equal(t, int64(615), s.Refund.Int64())

	receipt, err := f.market.CreateRental(f.ctx, f.renter, f.key, 100)
	require.NoError(t, err)
	require.Equal(t, int64(100), receipt.Cost.Fee.Int64())
}

func TestWithdrawProtocolFees(t *testing.T) {
	f := newFixture(t)
	f.list(false)

	_, err := f.market.CreateRental(f.ctx, f.renter, f.key, 100)
	require.NoError(t, err)
	f.advance(40 * time.Minute)
	_, err = f.market.FinishRental(f.ctx, f.renter, f.key)
	require.NoError(t, err)

	// a live rental puts 1025 into escrow, none of it may be withdrawn
	_, err = f.market.CreateRental(f.ctx, f.renter, f.key, 100)
	require.NoError(t, err)
	f.requireTreasury(1025, 10)

	to := lib.GetRandomAddr()
	err = f.market.WithdrawProtocolFees(f.ctx, f.stranger, f.token, to, big.NewInt(1))
	require.ErrorIs(t, err, rental.ErrNotAuthorized)
	err = f.market.WithdrawProtocolFees(f.ctx, f.admin, f.token, to, big.NewInt(0))
	require.ErrorIs(t, err, rental.ErrInvalidParameter)
	err = f.market.WithdrawProtocolFees(f.ctx, f.admin, f.token, to, big.NewInt(11))
	require.ErrorIs(t, err, rental.ErrInsufficientRevenue)

	require.NoError(t, f.market.WithdrawProtocolFees(f.ctx, f.admin, f.token, to, big.NewInt(10)))
	require.Equal(t, int64(10), f.balance(to))
	f.requireTreasury(1025, 0)

	err = f.market.WithdrawProtocolFees(f.ctx, f.admin, f.token, to, big.NewInt(1))
	require.ErrorIs(t, err, rental.ErrInsufficientRevenue)
}

func TestWithdrawRollsBackOnTransferFailure(t *testing.T) {
	f := newFixture(t)
	f.list(false)
	_, err := f.market.CreateRental(f.ctx, f.renter, f.key, 100)
	require.NoError(t, err)
	f.advance(100 * time.Minute)
	_, err = f.market.FinishRental(f.ctx, f.renter, f.key)
	require.NoError(t, err)

	errBlocked := errors.New("blocked")
	f.ledger.SetHook(func(context.Context, common.Address, common.Address, common.Address, *big.Int) error {
		return errBlocked
	})

	err = f.market.WithdrawProtocolFees(f.ctx, f.admin, f.token, f.admin, big.NewInt(25))
	require.ErrorIs(t, err, errBlocked)
	f.requireTreasury(0, 25)
}

func TestTransferAdmin(t *testing.T) {
	f := newFixture(t)
	next := lib.GetRandomAddr()

	require.ErrorIs(t, f.market.TransferAdmin(f.ctx, f.stranger, next), rental.ErrNotAuthorized)
	require.ErrorIs(t, f.market.TransferAdmin(f.ctx, f.admin, common.Address{}), rental.ErrInvalidParameter)
	require.NoError(t, f.market.TransferAdmin(f.ctx, f.admin, next))
	require.Equal(t, next, f.market.Admin())
	require.ErrorIs(t, f.market.Pause(f.ctx, f.admin), rental.ErrNotAuthorized)
}

func TestListListingsSorted(t *testing.T) {
	f := newFixture(t)

	ids := []int64{5, 3, 9}
	for _, id := range ids {
		key := rental.NewListingKey(f.collection, big.NewInt(id))
		require.NoError(t, f.assets.Mint(f.collection, key.ID(), f.owner))
		require.NoError(t, f.market.CreateListing(f.ctx, f.owner, key, rental.ListingTerms{
			PaymentToken: f.token, RatePerMinute: big.NewInt(1), MaxRentalMinutes: 1,
		}))
	}

	all, err := f.market.ListListings(f.ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	for i, want := range []int64{3, 5, 9} {
		require.Equal(t, want, all[i].Key.ID().Int64())
	}
}

func TestRentalSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	f.list(false)

	_, err := f.market.CreateRental(f.ctx, f.renter, f.key, 100)
	require.NoError(t, err)
	f.requireTreasury(1025, 0)

	f.market = f.newMarket(f.loadTreasury())
	f.requireTreasury(1025, 0)

	f.advance(200 * time.Minute)
	s, err := f.market.FinishRental(f.ctx, f.renter, f.key)
	require.NoError(t, err)
	require.False(t, s.Early)
	require.Equal(t, int64(1000), f.balance(f.owner))
	f.requireTreasury(0, 25)
	f.requireExclusive()

	f.market = f.newMarket(f.loadTreasury())
	f.requireTreasury(0, 25)
	require.NoError(t, f.market.WithdrawProtocolFees(f.ctx, f.admin, f.token, f.admin, big.NewInt(25)))
	f.requireTreasury(0, 0)
}

func TestRestoreEscrowFromRecordedRentals(t *testing.T) {
	f := newFixture(t)
	f.list(false)

	_, err := f.market.CreateRental(f.ctx, f.renter, f.key, 100)
	require.NoError(t, err)

	// treasury state lost, escrow is rebuilt from the active rental
	f.market = f.newMarket(rental.NewTreasury())
	require.Equal(t, int64(0), f.market.Treasury(f.token).Escrow.Int64())
	require.NoError(t, f.market.RestoreEscrow(f.ctx))
	require.Equal(t, int64(1025), f.market.Treasury(f.token).Escrow.Int64())

	f.advance(200 * time.Minute)
	_, err = f.market.FinishRental(f.ctx, f.renter, f.key)
	require.NoError(t, err)
	require.Equal(t, int64(1000), f.balance(f.owner))
	require.Equal(t, int64(0), f.market.Treasury(f.token).Escrow.Int64())
	require.Equal(t, int64(25), f.market.Treasury(f.token).Revenue.Int64())
}

func TestGovernanceSurvivesRestart(t *testing.T) {
	f := newFixture(t)
	f.list(false)

	require.NoError(t, f.market.SetFeeRate(f.ctx, f.admin, 0))
	require.NoError(t, f.market.Pause(f.ctx, f.admin))

	f.market = f.newMarket(f.loadTreasury())
	require.True(t, f.market.IsPaused())
	require.Equal(t, uint64(0), f.market.FeeRate())
	require.Equal(t, f.admin, f.market.Admin())

	_, err := f.market.CreateRental(f.ctx, f.renter, f.key, 100)
	require.ErrorIs(t, err, rental.ErrSystemPaused)

	require.NoError(t, f.market.Unpause(f.ctx, f.admin))
	receipt, err := f.market.CreateRental(f.ctx, f.renter, f.key, 100)
	require.NoError(t, err)
	require.Equal(t, int64(0), receipt.Cost.Fee.Int64())
}

func TestListingWithoutApprovalFailsRentalCleanly(t *testing.T) {
	f := newFixture(t)
	other := rental.NewListingKey(f.collection, big.NewInt(2))
	require.NoError(t, f.assets.Mint(f.collection, other.ID(), f.owner))

	// only ownership is checked when listing, custody is needed once rented
	require.NoError(t, f.market.CreateListing(f.ctx, f.owner, other, rental.ListingTerms{
		PaymentToken:     f.token,
		RatePerMinute:    big.NewInt(10),
		MaxRentalMinutes: 100,
	}))

	_, err := f.market.CreateRental(f.ctx, f.renter, other, 10)
	require.ErrorIs(t, err, rental.ErrExternalTransferFailed)
	require.Equal(t, initialBalance.Int64(), f.balance(f.renter))
	f.requireTreasury(0, 0)

	listing, err := f.market.GetListing(f.ctx, other)
	require.NoError(t, err)
	require.True(t, listing.Active)
	require.False(t, listing.CurrentRental.Active)
}
