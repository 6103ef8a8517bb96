package httphandlers

import (
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

func (h *HTTPHandler) GetGovernance(ctx *gin.Context) {
	ctx.JSON(200, Governance{
		Admin:              h.market.Admin().Hex(),
		Marketplace:        h.market.Marketplace().Hex(),
		FeeRateBasisPoints: h.market.FeeRate(),
		FeeDenominator:     h.market.FeeDenominator(),
		Paused:             h.market.IsPaused(),
	})
}

func (h *HTTPHandler) GetTreasury(ctx *gin.Context) {
	token, err := parseAddress(ctx.Param("token"))
	if err != nil {
		badRequest(ctx, err)
		return
	}

	h.writeTreasury(ctx, token)
}

func (h *HTTPHandler) writeTreasury(ctx *gin.Context, token common.Address) {
	b := h.market.Treasury(token)
	ctx.JSON(200, Treasury{
		Token:   b.Token.Hex(),
		Escrow:  b.Escrow.String(),
		Revenue: b.Revenue.String(),
	})
}

func (h *HTTPHandler) SetFeeRate(ctx *gin.Context) {
	var req SetFeeRateRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}

	err := h.market.SetFeeRate(ctx.Request.Context(), caller(ctx), *req.FeeRateBasisPoints)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.GetGovernance(ctx)
}

func (h *HTTPHandler) Pause(ctx *gin.Context) {
	err := h.market.Pause(ctx.Request.Context(), caller(ctx))
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.GetGovernance(ctx)
}

func (h *HTTPHandler) Unpause(ctx *gin.Context) {
	err := h.market.Unpause(ctx.Request.Context(), caller(ctx))
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.GetGovernance(ctx)
}

func (h *HTTPHandler) TransferAdmin(ctx *gin.Context) {
	var req TransferAdminRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	admin, err := parseAddress(req.Admin)
	if err != nil {
		badRequest(ctx, err)
		return
	}

	err = h.market.TransferAdmin(ctx.Request.Context(), caller(ctx), admin)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.GetGovernance(ctx)
}

func (h *HTTPHandler) WithdrawProtocolFees(ctx *gin.Context) {
	var req WithdrawRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	token, err := parseAddress(req.Token)
	if err != nil {
		badRequest(ctx, err)
		return
	}
	to, err := parseAddress(req.To)
	if err != nil {
		badRequest(ctx, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(ctx, err)
		return
	}

	err = h.market.WithdrawProtocolFees(ctx.Request.Context(), caller(ctx), token, to, amount)
	if err != nil {
		h.respondError(ctx, err)
		return
	}
	h.writeTreasury(ctx, token)
}
