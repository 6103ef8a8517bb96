package rental

import (
	"context"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/Lumerin-protocol/asset-rental/internal/interfaces"
	"github.com/Lumerin-protocol/asset-rental/internal/lib"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/exp/slices"
)

const DefaultLockTimeout = 30 * time.Second

// Market runs the listing and rental lifecycle. Operations on the same listing are
// serialized, operations on different listings are independent
type Market struct {
	// config
	marketplace common.Address // identity of the marketplace: asset operator and token custody
	lockTimeout time.Duration

	// state
	locks *lib.KeyedMutex[ListingKey]

	// deps
	store    ListingStore
	assets   AssetGateways
	tokens   TokenGateways
	fees     *FeeCalculator
	gov      *Governance
	treasury *Treasury
	notifier Notifier
	now      func() time.Time
	log      interfaces.ILogger
}

type Option func(*Market)

func WithClock(now func() time.Time) Option {
	return func(m *Market) {
		m.now = now
	}
}

func WithLockTimeout(timeout time.Duration) Option {
	return func(m *Market) {
		m.lockTimeout = timeout
	}
}

func NewMarket(marketplace common.Address, store ListingStore, assets AssetGateways, tokens TokenGateways, fees *FeeCalculator, gov *Governance, treasury *Treasury, notifier Notifier, log interfaces.ILogger, opts ...Option) *Market {
	m := &Market{
		marketplace: marketplace,
		lockTimeout: DefaultLockTimeout,
		locks:       lib.NewKeyedMutex[ListingKey](),
		store:       store,
		assets:      assets,
		tokens:      tokens,
		fees:        fees,
		gov:         gov,
		treasury:    treasury,
		notifier:    notifier,
		now:         time.Now,
		log:         log,
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.notifier == nil {
		m.notifier = NopNotifier{}
	}
	return m
}

// RentalReceipt is returned to the renter when the rental starts
type RentalReceipt struct {
	Renter    common.Address
	ExpiresAt time.Time
	Cost      Cost
}

// RentalStatus is the listing together with the live rental state reported by the asset
type RentalStatus struct {
	Listing   Listing
	Rented    bool
	Renter    common.Address
	StartedAt time.Time
	ExpiresAt time.Time
}

func (m *Market) CreateListing(ctx context.Context, caller common.Address, key ListingKey, terms ListingTerms) error {
	return m.execute(ctx, "createListing", key, func(ctx context.Context, uow *unitOfWork) (Event, error) {
		asset, err := m.assets.Asset(key.Contract)
		if err != nil {
			return nil, err
		}
		owner, err := asset.PrincipalOwner(ctx, key.ID())
		if err != nil {
			return nil, fmt.Errorf("query asset owner: %w", err)
		}

		err = CheckCreateListing(caller, owner, terms)
		if err != nil {
			return nil, err
		}

		listing := Listing{
			Active:           true,
			Owner:            caller,
			PaymentToken:     terms.PaymentToken,
			RatePerMinute:    lib.CopyBig(terms.RatePerMinute),
			MaxRentalMinutes: terms.MaxRentalMinutes,
			StrictFinish:     terms.StrictFinish,
		}
		err = m.store.Create(ctx, key, listing)
		if err != nil {
			return nil, err
		}

		m.log.Infow("listing created", "key", key.String(), "owner", caller.Hex(), "token", terms.PaymentToken.Hex(),
			"rate", listing.RatePerMinute.String(), "maxMinutes", terms.MaxRentalMinutes, "strictFinish", terms.StrictFinish)

		return ListingCreated{
			Key:              key,
			Owner:            caller,
			PaymentToken:     terms.PaymentToken,
			RatePerMinute:    lib.CopyBig(listing.RatePerMinute),
			MaxRentalMinutes: terms.MaxRentalMinutes,
			StrictFinish:     terms.StrictFinish,
		}, nil
	})
}

func (m *Market) DeleteListing(ctx context.Context, caller common.Address, key ListingKey) error {
	return m.execute(ctx, "deleteListing", key, func(ctx context.Context, uow *unitOfWork) (Event, error) {
		listing, err := m.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}

		err = CheckDeleteListing(caller, listing)
		if err != nil {
			return nil, err
		}

		err = m.store.Delete(ctx, key)
		if err != nil {
			return nil, err
		}

		m.log.Infow("listing deleted", "key", key.String(), "owner", caller.Hex())
		return ListingDeleted{Key: key}, nil
	})
}

func (m *Market) CreateRental(ctx context.Context, caller common.Address, key ListingKey, numRentalMinutes uint64) (RentalReceipt, error) {
	var receipt RentalReceipt

	err := m.execute(ctx, "createRental", key, func(ctx context.Context, uow *unitOfWork) (Event, error) {
		listing, err := m.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !listing.Active {
			return nil, ErrListingNotActive
		}

		asset, err := m.assets.Asset(key.Contract)
		if err != nil {
			return nil, err
		}
		rented, err := asset.IsRented(ctx, key.ID())
		if err != nil {
			return nil, fmt.Errorf("query asset rented: %w", err)
		}

		err = CheckCreateRental(listing, numRentalMinutes, rented)
		if err != nil {
			return nil, err
		}

		token, err := m.tokens.Token(listing.PaymentToken)
		if err != nil {
			return nil, err
		}

		feeRate := m.gov.FeeRate()
		cost, err := m.fees.Compute(numRentalMinutes, listing.RatePerMinute, feeRate)
		if err != nil {
			return nil, err
		}

		expiresAt, err := rentalExpiry(m.now(), numRentalMinutes)
		if err != nil {
			return nil, err
		}

		// bookkeeping first, external calls after
		err = m.store.SetRental(ctx, key, Rental{
			Active:             true,
			NumRentalMinutes:   numRentalMinutes,
			PaidRentalCost:     cost.Base,
			PaidProtocolCost:   cost.Fee,
			FeeRateBasisPoints: feeRate,
		})
		if err != nil {
			return nil, err
		}
		uow.onRollback("clear rental", func(ctx context.Context) error {
			return m.store.ClearRental(ctx, key)
		})

		err = m.treasury.Escrow(ctx, listing.PaymentToken, cost.Total)
		if err != nil {
			return nil, err
		}
		uow.onRollback("release escrow", func(ctx context.Context) error {
			return m.treasury.ReleaseEscrow(ctx, listing.PaymentToken, cost.Total)
		})

		if cost.Total.Sign() > 0 {
			err = token.TransferInto(ctx, caller, cost.Total)
			if err != nil {
				return nil, lib.WrapError(ErrExternalTransferFailed, fmt.Errorf("pull %s from %s: %w", cost.Total, caller.Hex(), err))
			}
			uow.onRollback("return payment", func(ctx context.Context) error {
				return token.TransferTo(ctx, caller, cost.Total)
			})
		}

		err = asset.RentOut(ctx, key.ID(), caller, expiresAt)
		if err != nil {
			return nil, lib.WrapError(ErrExternalTransferFailed, fmt.Errorf("rent out: %w", err))
		}
		uow.onRollback("finish asset rental", func(ctx context.Context) error {
			return asset.FinishRental(ctx, key.ID())
		})

		rented, err = asset.IsRented(ctx, key.ID())
		if err != nil {
			return nil, fmt.Errorf("query asset rented: %w", err)
		}
		if !rented {
			return nil, lib.WrapError(ErrAssetNotRented, fmt.Errorf("asset is not reported rented after rent out"))
		}

		receipt = RentalReceipt{Renter: caller, ExpiresAt: expiresAt, Cost: cost}

		m.log.Infow("rental created", "key", key.String(), "renter", caller.Hex(), "minutes", numRentalMinutes,
			"base", cost.Base.String(), "fee", cost.Fee.String(), "expiresAt", expiresAt.Format(time.RFC3339))

		return RentalCreated{Key: key, Renter: caller, ExpiresAt: expiresAt}, nil
	})
	if err != nil {
		return RentalReceipt{}, err
	}
	return receipt, nil
}

func (m *Market) FinishRental(ctx context.Context, caller common.Address, key ListingKey) (Settlement, error) {
	var settlement Settlement

	err := m.execute(ctx, "finishRental", key, func(ctx context.Context, uow *unitOfWork) (Event, error) {
		listing, err := m.store.Get(ctx, key)
		if err != nil {
			return nil, err
		}
		if !listing.Active {
			return nil, ErrListingNotActive
		}

		asset, err := m.assets.Asset(key.Contract)
		if err != nil {
			return nil, err
		}
		facts, err := m.finishFacts(ctx, asset, key, caller)
		if err != nil {
			return nil, err
		}

		err = CheckFinishRental(listing, facts)
		if err != nil {
			return nil, err
		}

		start, err := asset.RentalStart(ctx, key.ID())
		if err != nil {
			return nil, fmt.Errorf("query rental start: %w", err)
		}

		rental := listing.CurrentRental
		settlement, err = Settle(m.fees, listing.RatePerMinute, rental, start, facts.Expiry, facts.Now)
		if err != nil {
			return nil, err
		}

		token, err := m.tokens.Token(listing.PaymentToken)
		if err != nil {
			return nil, err
		}

		// bookkeeping first, external calls after
		err = m.store.ClearRental(ctx, key)
		if err != nil {
			return nil, err
		}
		uow.onRollback("restore rental", func(ctx context.Context) error {
			return m.store.SetRental(ctx, key, rental)
		})

		err = m.treasury.Settle(ctx, listing.PaymentToken, rental.PaidTotal(), settlement.RetainedByProtocol)
		if err != nil {
			return nil, err
		}
		uow.onRollback("unsettle treasury", func(ctx context.Context) error {
			return m.treasury.Unsettle(ctx, listing.PaymentToken, rental.PaidTotal(), settlement.RetainedByProtocol)
		})

		err = asset.FinishRental(ctx, key.ID())
		if err != nil {
			return nil, lib.WrapError(ErrExternalTransferFailed, fmt.Errorf("finish asset rental: %w", err))
		}
		uow.onRollback("rent out again", func(ctx context.Context) error {
			return asset.RentOut(ctx, key.ID(), facts.Holder, facts.Expiry)
		})

		rented, err := asset.IsRented(ctx, key.ID())
		if err != nil {
			return nil, fmt.Errorf("query asset rented: %w", err)
		}
		if rented {
			return nil, lib.WrapError(ErrAssetAlreadyRented, fmt.Errorf("asset is still reported rented after finish"))
		}

		err = m.pay(ctx, uow, token, facts.Holder, settlement.Refund, "refund")
		if err != nil {
			return nil, err
		}
		err = m.pay(ctx, uow, token, listing.Owner, settlement.PaidToOwner, "owner payment")
		if err != nil {
			return nil, err
		}

		m.log.Infow("rental finished", "key", key.String(), "renter", facts.Holder.Hex(), "caller", caller.Hex(),
			"early", settlement.Early, "elapsedMinutes", settlement.ElapsedMinutes, "refund", settlement.Refund.String(),
			"owner", settlement.PaidToOwner.String(), "protocol", settlement.RetainedByProtocol.String())

		return RentalFinished{Key: key, Renter: facts.Holder, Settlement: settlement}, nil
	})
	if err != nil {
		return Settlement{}, err
	}
	return settlement, nil
}

func (m *Market) finishFacts(ctx context.Context, asset AssetGateway, key ListingKey, caller common.Address) (FinishFacts, error) {
	id := key.ID()

	rented, err := asset.IsRented(ctx, id)
	if err != nil {
		return FinishFacts{}, fmt.Errorf("query asset rented: %w", err)
	}
	operator, err := asset.ApprovedOperator(ctx, id)
	if err != nil {
		return FinishFacts{}, fmt.Errorf("query approved operator: %w", err)
	}
	holder, err := asset.CurrentHolder(ctx, id)
	if err != nil {
		return FinishFacts{}, fmt.Errorf("query asset holder: %w", err)
	}
	expiry, err := asset.RentalExpiry(ctx, id)
	if err != nil {
		return FinishFacts{}, fmt.Errorf("query rental expiry: %w", err)
	}

	return FinishFacts{
		Caller:           caller,
		Marketplace:      m.marketplace,
		AssetRented:      rented,
		ApprovedOperator: operator,
		Holder:           holder,
		Expiry:           expiry,
		Now:              m.now(),
	}, nil
}

// pay transfers amount from custody, a failed later step claws it back
func (m *Market) pay(ctx context.Context, uow *unitOfWork, token TokenGateway, to common.Address, amount *big.Int, reason string) error {
	if amount.Sign() == 0 {
		return nil
	}
	err := token.TransferTo(ctx, to, amount)
	if err != nil {
		return lib.WrapError(ErrExternalTransferFailed, fmt.Errorf("%s of %s to %s: %w", reason, amount, to.Hex(), err))
	}
	uow.onRollback("claw back "+reason, func(ctx context.Context) error {
		return token.TransferInto(ctx, to, amount)
	})
	return nil
}

func rentalExpiry(now time.Time, minutes uint64) (time.Time, error) {
	start := now.Unix()
	if start < 0 || minutes > uint64(math.MaxInt64-start)/60 {
		return time.Time{}, lib.WrapError(ErrArithmeticOverflow, fmt.Errorf("rental of %d minutes overflows expiry", minutes))
	}
	return time.Unix(start+int64(minutes)*60, 0).UTC(), nil
}

// Administration

func (m *Market) SetFeeRate(ctx context.Context, caller common.Address, feeRate uint64) error {
	err := m.gov.SetFeeRate(ctx, caller, feeRate)
	if err != nil {
		return err
	}
	m.log.Infow("fee rate updated", "feeRate", feeRate, "denominator", m.fees.Denominator())
	return nil
}

func (m *Market) Pause(ctx context.Context, caller common.Address) error {
	err := m.gov.Pause(ctx, caller)
	if err != nil {
		return err
	}
	m.log.Warn("marketplace paused")
	return nil
}

func (m *Market) Unpause(ctx context.Context, caller common.Address) error {
	err := m.gov.Unpause(ctx, caller)
	if err != nil {
		return err
	}
	m.log.Info("marketplace unpaused")
	return nil
}

func (m *Market) TransferAdmin(ctx context.Context, caller common.Address, newAdmin common.Address) error {
	err := m.gov.TransferAdmin(ctx, caller, newAdmin)
	if err != nil {
		return err
	}
	m.log.Infow("admin transferred", "admin", newAdmin.Hex())
	return nil
}

// WithdrawProtocolFees pays retained protocol revenue out of custody. Escrow of live rentals is never touched
func (m *Market) WithdrawProtocolFees(ctx context.Context, caller common.Address, tokenAddr common.Address, to common.Address, amount *big.Int) error {
	return m.guarded(ctx, "withdrawProtocolFees", tokenAddr.Hex(), func(ctx context.Context, uow *unitOfWork) error {
		if caller != m.gov.Admin() {
			return lib.WrapError(ErrNotAuthorized, fmt.Errorf("caller %s is not admin", caller.Hex()))
		}
		if amount == nil || amount.Sign() <= 0 {
			return lib.WrapError(ErrInvalidParameter, fmt.Errorf("amount must be positive"))
		}

		token, err := m.tokens.Token(tokenAddr)
		if err != nil {
			return err
		}

		err = m.treasury.DebitRevenue(ctx, tokenAddr, amount)
		if err != nil {
			return err
		}
		uow.onRollback("credit revenue", func(ctx context.Context) error {
			return m.treasury.CreditRevenue(ctx, tokenAddr, amount)
		})

		err = token.TransferTo(ctx, to, amount)
		if err != nil {
			return lib.WrapError(ErrExternalTransferFailed, fmt.Errorf("withdraw %s to %s: %w", amount, to.Hex(), err))
		}

		m.log.Infow("protocol fees withdrawn", "token", tokenAddr.Hex(), "to", to.Hex(), "amount", amount.String())
		return nil
	})
}

// RestoreEscrow reconciles the treasury escrow with the rentals recorded in the store.
// The recorded rentals own the escrowed funds, a drifted escrow is overwritten.
// It runs before the market serves operations
func (m *Market) RestoreEscrow(ctx context.Context) error {
	listings, err := m.store.List(ctx)
	if err != nil {
		return err
	}

	expected := make(map[common.Address]*big.Int)
	for _, kl := range listings {
		if !kl.Listing.CurrentRental.Active {
			continue
		}
		token := kl.Listing.PaymentToken
		sum, ok := lib.AddUint256(lib.CopyBig(expected[token]), kl.Listing.CurrentRental.PaidTotal())
		if !ok {
			return lib.WrapError(ErrArithmeticOverflow, fmt.Errorf("escrow of %s overflows", token.Hex()))
		}
		expected[token] = sum
	}

	tokens := make(map[common.Address]struct{}, len(expected))
	for _, token := range m.treasury.Tokens() {
		tokens[token] = struct{}{}
	}
	for token := range expected {
		tokens[token] = struct{}{}
	}

	for token := range tokens {
		want := lib.CopyBig(expected[token])
		have := m.treasury.Balance(token).Escrow
		if have.Cmp(want) == 0 {
			continue
		}
		m.log.Warnw("escrow restored from recorded rentals", "token", token.Hex(), "was", have.String(), "now", want.String())
		err = m.treasury.SetEscrow(ctx, token, want)
		if err != nil {
			return err
		}
	}
	return nil
}

// Queries

func (m *Market) GetListing(ctx context.Context, key ListingKey) (Listing, error) {
	return m.store.Get(ctx, key)
}

func (m *Market) ListListings(ctx context.Context) ([]KeyedListing, error) {
	listings, err := m.store.List(ctx)
	if err != nil {
		return nil, err
	}
	slices.SortStableFunc(listings, func(a, b KeyedListing) bool {
		return a.Key.Less(b.Key)
	})
	return listings, nil
}

// RentalStatus queries the asset for the live rental, nothing of it is cached locally
func (m *Market) RentalStatus(ctx context.Context, key ListingKey) (RentalStatus, error) {
	listing, err := m.store.Get(ctx, key)
	if err != nil {
		return RentalStatus{}, err
	}
	status := RentalStatus{Listing: listing}
	if !listing.Active {
		return status, nil
	}

	asset, err := m.assets.Asset(key.Contract)
	if err != nil {
		return RentalStatus{}, err
	}
	status.Rented, err = asset.IsRented(ctx, key.ID())
	if err != nil {
		return RentalStatus{}, err
	}
	if !status.Rented {
		return status, nil
	}

	status.Renter, err = asset.CurrentHolder(ctx, key.ID())
	if err != nil {
		return RentalStatus{}, err
	}
	status.StartedAt, err = asset.RentalStart(ctx, key.ID())
	if err != nil {
		return RentalStatus{}, err
	}
	status.ExpiresAt, err = asset.RentalExpiry(ctx, key.ID())
	if err != nil {
		return RentalStatus{}, err
	}
	return status, nil
}

func (m *Market) Treasury(token common.Address) TreasuryBalance {
	return m.treasury.Balance(token)
}

func (m *Market) FeeRate() uint64 {
	return m.gov.FeeRate()
}

func (m *Market) FeeDenominator() uint64 {
	return m.fees.Denominator()
}

func (m *Market) IsPaused() bool {
	return m.gov.IsPaused()
}

func (m *Market) Admin() common.Address {
	return m.gov.Admin()
}

func (m *Market) Marketplace() common.Address {
	return m.marketplace
}
