package listings

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"strconv"

	"github.com/Lumerin-protocol/asset-rental/internal/interfaces"
	"github.com/Lumerin-protocol/asset-rental/internal/lib"
	"github.com/Lumerin-protocol/asset-rental/internal/resources/rental"
	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	migrate "github.com/rubenv/sql-migrate"
)

const migrationTable = "listing_migrations"

var migrations = &migrate.MemoryMigrationSource{
	Migrations: []*migrate.Migration{
		{
			Id: "0001_listings",
			Up: []string{`
CREATE TABLE listings (
	contract           TEXT           NOT NULL,
	token_id           NUMERIC(78, 0) NOT NULL,
	active             BOOLEAN        NOT NULL DEFAULT FALSE,
	owner              TEXT           NOT NULL,
	payment_token      TEXT           NOT NULL,
	rate_per_minute    NUMERIC(78, 0) NOT NULL,
	max_rental_minutes NUMERIC(20, 0) NOT NULL,
	strict_finish      BOOLEAN        NOT NULL DEFAULT FALSE,
	rental_active      BOOLEAN        NOT NULL DEFAULT FALSE,
	rental_minutes     NUMERIC(20, 0) NOT NULL DEFAULT 0,
	paid_rental_cost   NUMERIC(78, 0) NOT NULL DEFAULT 0,
	paid_protocol_cost NUMERIC(78, 0) NOT NULL DEFAULT 0,
	rental_fee_rate    NUMERIC(20, 0) NOT NULL DEFAULT 0,
	PRIMARY KEY (contract, token_id)
)`,
				`CREATE INDEX listings_active_idx ON listings (active)`,
			},
			Down: []string{`DROP TABLE listings`},
		},
		{
			Id: "0002_market_state",
			Up: []string{`
CREATE TABLE governance (
	id       SMALLINT       PRIMARY KEY CHECK (id = 1),
	admin    TEXT           NOT NULL,
	fee_rate NUMERIC(20, 0) NOT NULL,
	paused   BOOLEAN        NOT NULL DEFAULT FALSE
)`, `
CREATE TABLE treasury (
	token   TEXT           PRIMARY KEY,
	escrow  NUMERIC(78, 0) NOT NULL DEFAULT 0,
	revenue NUMERIC(78, 0) NOT NULL DEFAULT 0
)`,
			},
			Down: []string{`DROP TABLE treasury`, `DROP TABLE governance`},
		},
	},
}

const listingColumns = `contract, token_id, active, owner, payment_token, rate_per_minute, max_rental_minutes,
	strict_finish, rental_active, rental_minutes, paid_rental_cost, paid_protocol_cost, rental_fee_rate`

// numeric columns travel as decimal strings to keep 256 bit values intact
type listingRow struct {
	Contract         string `db:"contract"`
	TokenID          string `db:"token_id"`
	Active           bool   `db:"active"`
	Owner            string `db:"owner"`
	PaymentToken     string `db:"payment_token"`
	RatePerMinute    string `db:"rate_per_minute"`
	MaxRentalMinutes string `db:"max_rental_minutes"`
	StrictFinish     bool   `db:"strict_finish"`
	RentalActive     bool   `db:"rental_active"`
	RentalMinutes    string `db:"rental_minutes"`
	PaidRentalCost   string `db:"paid_rental_cost"`
	PaidProtocolCost string `db:"paid_protocol_cost"`
	RentalFeeRate    string `db:"rental_fee_rate"`
}

func toRow(key rental.ListingKey, l rental.Listing) listingRow {
	l = l.Copy()
	return listingRow{
		Contract:         key.Contract.Hex(),
		TokenID:          key.ID().String(),
		Active:           l.Active,
		Owner:            l.Owner.Hex(),
		PaymentToken:     l.PaymentToken.Hex(),
		RatePerMinute:    l.RatePerMinute.String(),
		MaxRentalMinutes: strconv.FormatUint(l.MaxRentalMinutes, 10),
		StrictFinish:     l.StrictFinish,
		RentalActive:     l.CurrentRental.Active,
		RentalMinutes:    strconv.FormatUint(l.CurrentRental.NumRentalMinutes, 10),
		PaidRentalCost:   l.CurrentRental.PaidRentalCost.String(),
		PaidProtocolCost: l.CurrentRental.PaidProtocolCost.String(),
		RentalFeeRate:    strconv.FormatUint(l.CurrentRental.FeeRateBasisPoints, 10),
	}
}

func fromRow(row listingRow) (rental.KeyedListing, error) {
	key, err := rental.ParseListingKey(row.Contract, row.TokenID)
	if err != nil {
		return rental.KeyedListing{}, err
	}

	var errs []error
	num := func(name, s string) *big.Int {
		v, ok := new(big.Int).SetString(s, 10)
		if !ok {
			errs = append(errs, fmt.Errorf("invalid %s %q", name, s))
			return new(big.Int)
		}
		return v
	}
	u64 := func(name, s string) uint64 {
		v, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid %s %q: %w", name, s, err))
		}
		return v
	}

	listing := rental.Listing{
		Active:           row.Active,
		Owner:            common.HexToAddress(row.Owner),
		PaymentToken:     common.HexToAddress(row.PaymentToken),
		RatePerMinute:    num("rate_per_minute", row.RatePerMinute),
		MaxRentalMinutes: u64("max_rental_minutes", row.MaxRentalMinutes),
		StrictFinish:     row.StrictFinish,
		CurrentRental: rental.Rental{
			Active:             row.RentalActive,
			NumRentalMinutes:   u64("rental_minutes", row.RentalMinutes),
			PaidRentalCost:     num("paid_rental_cost", row.PaidRentalCost),
			PaidProtocolCost:   num("paid_protocol_cost", row.PaidProtocolCost),
			FeeRateBasisPoints: u64("rental_fee_rate", row.RentalFeeRate),
		},
	}
	if len(errs) > 0 {
		return rental.KeyedListing{}, fmt.Errorf("listing %s: %w", key, errors.Join(errs...))
	}
	return rental.KeyedListing{Key: key, Listing: listing}, nil
}

type governanceRow struct {
	Admin   string `db:"admin"`
	FeeRate string `db:"fee_rate"`
	Paused  bool   `db:"paused"`
}

type treasuryRow struct {
	Token   string `db:"token"`
	Escrow  string `db:"escrow"`
	Revenue string `db:"revenue"`
}

func fromTreasuryRow(row treasuryRow) (rental.TreasuryBalance, error) {
	escrow, ok := new(big.Int).SetString(row.Escrow, 10)
	if !ok {
		return rental.TreasuryBalance{}, fmt.Errorf("treasury %s: invalid escrow %q", row.Token, row.Escrow)
	}
	revenue, ok := new(big.Int).SetString(row.Revenue, 10)
	if !ok {
		return rental.TreasuryBalance{}, fmt.Errorf("treasury %s: invalid revenue %q", row.Token, row.Revenue)
	}
	return rental.TreasuryBalance{Token: common.HexToAddress(row.Token), Escrow: escrow, Revenue: revenue}, nil
}

// PostgresStore keeps listings, governance and treasury balances in postgres, schema is migrated on start
type PostgresStore struct {
	db  *sqlx.DB
	log interfaces.ILogger
}

func NewPostgresStore(ctx context.Context, dsn string, log interfaces.ILogger) (*PostgresStore, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	migrate.SetTable(migrationTable)
	n, err := migrate.Exec(db.DB, "postgres", migrations, migrate.Up)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}
	log.Infof("listing store ready, applied %d migrations", n)

	return &PostgresStore{db: db, log: log}, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) Create(ctx context.Context, key rental.ListingKey, listing rental.Listing) error {
	res, err := s.db.NamedExecContext(ctx, `
INSERT INTO listings (`+listingColumns+`)
VALUES (:contract, :token_id, :active, :owner, :payment_token, :rate_per_minute, :max_rental_minutes,
	:strict_finish, :rental_active, :rental_minutes, :paid_rental_cost, :paid_protocol_cost, :rental_fee_rate)
ON CONFLICT (contract, token_id) DO UPDATE SET
	active = EXCLUDED.active,
	owner = EXCLUDED.owner,
	payment_token = EXCLUDED.payment_token,
	rate_per_minute = EXCLUDED.rate_per_minute,
	max_rental_minutes = EXCLUDED.max_rental_minutes,
	strict_finish = EXCLUDED.strict_finish,
	rental_active = EXCLUDED.rental_active,
	rental_minutes = EXCLUDED.rental_minutes,
	paid_rental_cost = EXCLUDED.paid_rental_cost,
	paid_protocol_cost = EXCLUDED.paid_protocol_cost,
	rental_fee_rate = EXCLUDED.rental_fee_rate
WHERE listings.rental_active = FALSE`, toRow(key, listing))
	if err != nil {
		return fmt.Errorf("create listing %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return rental.ErrListingAlreadyHasActiveRental
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key rental.ListingKey) (rental.Listing, error) {
	var row listingRow
	err := s.db.GetContext(ctx, &row, `SELECT `+listingColumns+` FROM listings WHERE contract = $1 AND token_id = $2`,
		key.Contract.Hex(), key.ID().String())
	if errors.Is(err, sql.ErrNoRows) {
		return rental.Listing{}.Copy(), nil
	}
	if err != nil {
		return rental.Listing{}, fmt.Errorf("get listing %s: %w", key, err)
	}

	kl, err := fromRow(row)
	if err != nil {
		return rental.Listing{}, err
	}
	return kl.Listing, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key rental.ListingKey) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var rentalActive bool
	err = tx.GetContext(ctx, &rentalActive, `SELECT rental_active FROM listings WHERE contract = $1 AND token_id = $2 FOR UPDATE`,
		key.Contract.Hex(), key.ID().String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("delete listing %s: %w", key, err)
	}
	if rentalActive {
		return rental.ErrActiveRentalPresent
	}

	_, err = tx.ExecContext(ctx, `DELETE FROM listings WHERE contract = $1 AND token_id = $2`, key.Contract.Hex(), key.ID().String())
	if err != nil {
		return fmt.Errorf("delete listing %s: %w", key, err)
	}
	return tx.Commit()
}

func (s *PostgresStore) SetRental(ctx context.Context, key rental.ListingKey, r rental.Rental) error {
	row := toRow(key, rental.Listing{CurrentRental: r})
	res, err := s.db.NamedExecContext(ctx, `
UPDATE listings SET
	rental_active = :rental_active,
	rental_minutes = :rental_minutes,
	paid_rental_cost = :paid_rental_cost,
	paid_protocol_cost = :paid_protocol_cost,
	rental_fee_rate = :rental_fee_rate
WHERE contract = :contract AND token_id = :token_id`, row)
	if err != nil {
		return fmt.Errorf("set rental %s: %w", key, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return rental.ErrListingNotActive
	}
	return nil
}

func (s *PostgresStore) ClearRental(ctx context.Context, key rental.ListingKey) error {
	_, err := s.db.ExecContext(ctx, `
UPDATE listings SET rental_active = FALSE, rental_minutes = 0, paid_rental_cost = 0, paid_protocol_cost = 0, rental_fee_rate = 0
WHERE contract = $1 AND token_id = $2`, key.Contract.Hex(), key.ID().String())
	if err != nil {
		return fmt.Errorf("clear rental %s: %w", key, err)
	}
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]rental.KeyedListing, error) {
	var rows []listingRow
	err := s.db.SelectContext(ctx, &rows, `SELECT `+listingColumns+` FROM listings WHERE active ORDER BY contract, token_id`)
	if err != nil {
		return nil, fmt.Errorf("list listings: %w", err)
	}

	res := make([]rental.KeyedListing, 0, len(rows))
	for _, row := range rows {
		kl, err := fromRow(row)
		if err != nil {
			return nil, err
		}
		res = append(res, kl)
	}
	return res, nil
}

func (s *PostgresStore) LoadGovernance(ctx context.Context) (rental.GovernanceState, bool, error) {
	var row governanceRow
	err := s.db.GetContext(ctx, &row, `SELECT admin, fee_rate, paused FROM governance WHERE id = 1`)
	if errors.Is(err, sql.ErrNoRows) {
		return rental.GovernanceState{}, false, nil
	}
	if err != nil {
		return rental.GovernanceState{}, false, fmt.Errorf("load governance: %w", err)
	}

	feeRate, err := strconv.ParseUint(row.FeeRate, 10, 64)
	if err != nil {
		return rental.GovernanceState{}, false, fmt.Errorf("invalid fee rate %q: %w", row.FeeRate, err)
	}
	return rental.GovernanceState{
		Admin:   common.HexToAddress(row.Admin),
		FeeRate: feeRate,
		Paused:  row.Paused,
	}, true, nil
}

func (s *PostgresStore) SaveGovernance(ctx context.Context, state rental.GovernanceState) error {
	_, err := s.db.NamedExecContext(ctx, `
INSERT INTO governance (id, admin, fee_rate, paused) VALUES (1, :admin, :fee_rate, :paused)
ON CONFLICT (id) DO UPDATE SET admin = EXCLUDED.admin, fee_rate = EXCLUDED.fee_rate, paused = EXCLUDED.paused`,
		governanceRow{
			Admin:   state.Admin.Hex(),
			FeeRate: strconv.FormatUint(state.FeeRate, 10),
			Paused:  state.Paused,
		})
	if err != nil {
		return fmt.Errorf("save governance: %w", err)
	}
	return nil
}

func (s *PostgresStore) LoadTreasury(ctx context.Context) ([]rental.TreasuryBalance, error) {
	var rows []treasuryRow
	err := s.db.SelectContext(ctx, &rows, `SELECT token, escrow, revenue FROM treasury ORDER BY token`)
	if err != nil {
		return nil, fmt.Errorf("load treasury: %w", err)
	}

	res := make([]rental.TreasuryBalance, 0, len(rows))
	for _, row := range rows {
		b, err := fromTreasuryRow(row)
		if err != nil {
			return nil, err
		}
		res = append(res, b)
	}
	return res, nil
}

func (s *PostgresStore) SaveTreasury(ctx context.Context, balance rental.TreasuryBalance) error {
	_, err := s.db.NamedExecContext(ctx, `
INSERT INTO treasury (token, escrow, revenue) VALUES (:token, :escrow, :revenue)
ON CONFLICT (token) DO UPDATE SET escrow = EXCLUDED.escrow, revenue = EXCLUDED.revenue`,
		treasuryRow{
			Token:   balance.Token.Hex(),
			Escrow:  lib.CopyBig(balance.Escrow).String(),
			Revenue: lib.CopyBig(balance.Revenue).String(),
		})
	if err != nil {
		return fmt.Errorf("save treasury of %s: %w", balance.Token.Hex(), err)
	}
	return nil
}

var _ rental.MarketStore = (*PostgresStore)(nil)
