package rental

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type EventType string

const (
	EventListingCreated EventType = "listing-created"
	EventListingDeleted EventType = "listing-deleted"
	EventRentalCreated  EventType = "rental-created"
	EventRentalFinished EventType = "rental-finished"
)

type Event interface {
	Type() EventType
	ListingKey() ListingKey
}

type ListingCreated struct {
	Key              ListingKey
	Owner            common.Address
	PaymentToken     common.Address
	RatePerMinute    *big.Int
	MaxRentalMinutes uint64
	StrictFinish     bool
}

type ListingDeleted struct {
	Key ListingKey
}

type RentalCreated struct {
	Key       ListingKey
	Renter    common.Address
	ExpiresAt time.Time
}

type RentalFinished struct {
	Key        ListingKey
	Renter     common.Address
	Settlement Settlement
}

func (e ListingCreated) Type() EventType        { return EventListingCreated }
func (e ListingCreated) ListingKey() ListingKey { return e.Key }
func (e ListingDeleted) Type() EventType        { return EventListingDeleted }
func (e ListingDeleted) ListingKey() ListingKey { return e.Key }
func (e RentalCreated) Type() EventType         { return EventRentalCreated }
func (e RentalCreated) ListingKey() ListingKey  { return e.Key }
func (e RentalFinished) Type() EventType        { return EventRentalFinished }
func (e RentalFinished) ListingKey() ListingKey { return e.Key }

// NopNotifier drops all events
type NopNotifier struct{}

func (NopNotifier) Notify(Event) {}
