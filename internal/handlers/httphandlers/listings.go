package httphandlers

import (
	"fmt"
	"math/big"
	"net/http"

	"github.com/Lumerin-protocol/asset-rental/internal/lib"
	"github.com/Lumerin-protocol/asset-rental/internal/resources/rental"
	"github.com/gin-gonic/gin"
)

func (h *HTTPHandler) GetListings(ctx *gin.Context) {
	listings, err := h.market.ListListings(ctx.Request.Context())
	if err != nil {
		h.respondError(ctx, err)
		return
	}

	data := make([]Listing, 0, len(listings))
	for _, l := range listings {
		data = append(data, h.mapListing(l.Key, l.Listing))
	}
	ctx.JSON(200, data)
}

func (h *HTTPHandler) GetListing(ctx *gin.Context) {
	key, ok := h.listingKey(ctx)
	if !ok {
		return
	}

	listing, err := h.market.GetListing(ctx.Request.Context(), key)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	ctx.JSON(200, h.mapListing(key, listing))
}

func (h *HTTPHandler) CreateListing(ctx *gin.Context) {
	key, ok := h.listingKey(ctx)
	if !ok {
		return
	}

	var req CreateListingRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	rate, err := parseAmount(req.RatePerMinute)
	if err != nil {
		badRequest(ctx, err)
		return
	}
	token, err := parseAddress(req.PaymentToken)
	if err != nil {
		badRequest(ctx, err)
		return
	}

	err = h.market.CreateListing(ctx.Request.Context(), caller(ctx), key, rental.ListingTerms{
		PaymentToken:     token,
		RatePerMinute:    rate,
		MaxRentalMinutes: req.MaxRentalMinutes,
		StrictFinish:     req.StrictFinish,
	})
	if err != nil {
		h.respondError(ctx, err)
		return
	}

	listing, err := h.market.GetListing(ctx.Request.Context(), key)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	ctx.JSON(http.StatusCreated, h.mapListing(key, listing))
}

func (h *HTTPHandler) DeleteListing(ctx *gin.Context) {
	key, ok := h.listingKey(ctx)
	if !ok {
		return
	}

	err := h.market.DeleteListing(ctx.Request.Context(), caller(ctx), key)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	ctx.JSON(200, gin.H{"status": "ok"})
}

func (h *HTTPHandler) GetRental(ctx *gin.Context) {
	key, ok := h.listingKey(ctx)
	if !ok {
		return
	}

	status, err := h.market.RentalStatus(ctx.Request.Context(), key)
	if err != nil {
		h.respondError(ctx, err)
		return
	}

	res := RentalStatus{
		Listing:   h.mapListing(key, status.Listing),
		Rented:    status.Rented,
		StartedAt: optionalTime(status.StartedAt),
		ExpiresAt: optionalTime(status.ExpiresAt),
	}
	if status.Rented {
		res.Renter = status.Renter.Hex()
	}
	ctx.JSON(200, res)
}

func (h *HTTPHandler) CreateRental(ctx *gin.Context) {
	key, ok := h.listingKey(ctx)
	if !ok {
		return
	}

	var req CreateRentalRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}

	receipt, err := h.market.CreateRental(ctx.Request.Context(), caller(ctx), key, req.Minutes)
	if err != nil {
		h.respondError(ctx, err)
		return
	}

	ctx.JSON(http.StatusCreated, RentalReceipt{
		Renter:    receipt.Renter.Hex(),
		ExpiresAt: formatTime(receipt.ExpiresAt),
		BaseCost:  receipt.Cost.Base.String(),
		Fee:       receipt.Cost.Fee.String(),
		TotalCost: receipt.Cost.Total.String(),
	})
}

func (h *HTTPHandler) FinishRental(ctx *gin.Context) {
	key, ok := h.listingKey(ctx)
	if !ok {
		return
	}

	settlement, err := h.market.FinishRental(ctx.Request.Context(), caller(ctx), key)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	ctx.JSON(200, mapSettlement(settlement))
}

func parseAmount(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || !lib.IsUint256(v) {
		return nil, lib.WrapError(rental.ErrInvalidParameter, fmt.Errorf("invalid amount %s", s))
	}
	return v, nil
}
