package httphandlers

import (
	"time"

	"github.com/Lumerin-protocol/asset-rental/internal/notifications"
	"github.com/Lumerin-protocol/asset-rental/internal/resources/rental"
)

type Resource struct {
	Self string
}

type Listing struct {
	Resource

	Contract         string
	TokenID          string
	Active           bool
	Owner            string
	PaymentToken     string
	RatePerMinute    string
	MaxRentalMinutes uint64
	StrictFinish     bool
	CurrentRental    *Rental `json:",omitempty"`
}

type Rental struct {
	NumRentalMinutes   uint64
	PaidRentalCost     string
	PaidProtocolCost   string
	FeeRateBasisPoints uint64
}

type RentalStatus struct {
	Listing   Listing
	Rented    bool
	Renter    string  `json:",omitempty"`
	StartedAt *string `json:",omitempty"`
	ExpiresAt *string `json:",omitempty"`
}

type RentalReceipt struct {
	Renter    string
	ExpiresAt string
	BaseCost  string
	Fee       string
	TotalCost string
}

type Settlement struct {
	Early              bool
	ElapsedMinutes     uint64
	Refund             string
	PaidToOwner        string
	RetainedByProtocol string
}

type Treasury struct {
	Token   string
	Escrow  string
	Revenue string
}

type Governance struct {
	Admin              string
	Marketplace        string
	FeeRateBasisPoints uint64
	FeeDenominator     uint64
	Paused             bool
}

type Event struct {
	ID      string
	Seq     uint64
	Time    string
	Type    string
	Listing string
	Payload interface{}
}

type ConfigResponse struct {
	Version string
	Config  interface{}
}

// requests

type CreateListingRequest struct {
	PaymentToken     string `binding:"required,eth_addr"`
	RatePerMinute    string `binding:"required,numeric"`
	MaxRentalMinutes uint64 `binding:"required,gt=0"`
	StrictFinish     bool
}

type CreateRentalRequest struct {
	Minutes uint64 `binding:"required,gt=0"`
}

type SetFeeRateRequest struct {
	FeeRateBasisPoints *uint64 `binding:"required"`
}

type TransferAdminRequest struct {
	Admin string `binding:"required,eth_addr"`
}

type WithdrawRequest struct {
	Token  string `binding:"required,eth_addr"`
	To     string `binding:"required,eth_addr"`
	Amount string `binding:"required,numeric"`
}

func (h *HTTPHandler) mapListing(key rental.ListingKey, l rental.Listing) Listing {
	res := Listing{
		Resource: Resource{
			Self: h.publicUrl.JoinPath("listings", key.Contract.Hex(), key.ID().String()).String(),
		},
		Contract:         key.Contract.Hex(),
		TokenID:          key.ID().String(),
		Active:           l.Active,
		Owner:            l.Owner.Hex(),
		PaymentToken:     l.PaymentToken.Hex(),
		RatePerMinute:    l.RatePerMinute.String(),
		MaxRentalMinutes: l.MaxRentalMinutes,
		StrictFinish:     l.StrictFinish,
	}
	if l.CurrentRental.Active {
		res.CurrentRental = &Rental{
			NumRentalMinutes:   l.CurrentRental.NumRentalMinutes,
			PaidRentalCost:     l.CurrentRental.PaidRentalCost.String(),
			PaidProtocolCost:   l.CurrentRental.PaidProtocolCost.String(),
			FeeRateBasisPoints: l.CurrentRental.FeeRateBasisPoints,
		}
	}
	return res
}

func mapSettlement(s rental.Settlement) Settlement {
	return Settlement{
		Early:              s.Early,
		ElapsedMinutes:     s.ElapsedMinutes,
		Refund:             s.Refund.String(),
		PaidToOwner:        s.PaidToOwner.String(),
		RetainedByProtocol: s.RetainedByProtocol.String(),
	}
}

func mapEvent(env notifications.Envelope) Event {
	res := Event{
		ID:      env.ID,
		Seq:     env.Seq,
		Time:    formatTime(env.Time),
		Type:    string(env.Event.Type()),
		Listing: env.Event.ListingKey().String(),
	}

	switch e := env.Event.(type) {
	case rental.ListingCreated:
		res.Payload = struct {
			Owner            string
			PaymentToken     string
			RatePerMinute    string
			MaxRentalMinutes uint64
			StrictFinish     bool
		}{e.Owner.Hex(), e.PaymentToken.Hex(), e.RatePerMinute.String(), e.MaxRentalMinutes, e.StrictFinish}
	case rental.RentalCreated:
		res.Payload = struct {
			Renter    string
			ExpiresAt string
		}{e.Renter.Hex(), formatTime(e.ExpiresAt)}
	case rental.RentalFinished:
		res.Payload = struct {
			Renter     string
			Settlement Settlement
		}{e.Renter.Hex(), mapSettlement(e.Settlement)}
	}
	return res
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func optionalTime(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := formatTime(t)
	return &s
}
