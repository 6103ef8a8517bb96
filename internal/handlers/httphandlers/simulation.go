package httphandlers

import (
	"github.com/Lumerin-protocol/asset-rental/internal/repositories/memory"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// Simulation exposes the in-memory asset registry and token ledger, so the
// marketplace can be driven end to end without a chain
type Simulation struct {
	Assets      *memory.AssetRegistry
	Tokens      *memory.TokenLedger
	Marketplace common.Address
}

type MintAssetRequest struct {
	Contract string `binding:"required,eth_addr"`
	TokenID  string `binding:"required,numeric"`
	Owner    string `binding:"required,eth_addr"`
	// ApproveMarketplace makes the marketplace the approved operator right away
	ApproveMarketplace bool
}

type ApproveAssetRequest struct {
	Contract string `binding:"required,eth_addr"`
	TokenID  string `binding:"required,numeric"`
	Owner    string `binding:"required,eth_addr"`
	Operator string `binding:"required,eth_addr"`
}

type MintTokensRequest struct {
	Token  string `binding:"required,eth_addr"`
	To     string `binding:"required,eth_addr"`
	Amount string `binding:"required,numeric"`
}

type ApproveTokensRequest struct {
	Token  string `binding:"required,eth_addr"`
	Owner  string `binding:"required,eth_addr"`
	Amount string `binding:"required,numeric"`
}

type TokenBalance struct {
	Token     string
	Account   string
	Balance   string
	Allowance string
}

func (h *HTTPHandler) MintAsset(ctx *gin.Context) {
	var req MintAssetRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	id, err := parseAmount(req.TokenID)
	if err != nil {
		badRequest(ctx, err)
		return
	}
	contract, owner := common.HexToAddress(req.Contract), common.HexToAddress(req.Owner)

	err = h.sim.Assets.Mint(contract, id, owner)
	if err != nil {
		badRequest(ctx, err)
		return
	}
	if req.ApproveMarketplace {
		err = h.sim.Assets.Approve(contract, id, owner, h.sim.Marketplace)
		if err != nil {
			badRequest(ctx, err)
			return
		}
	}
	ctx.JSON(201, gin.H{"status": "ok"})
}

func (h *HTTPHandler) ApproveAsset(ctx *gin.Context) {
	var req ApproveAssetRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	id, err := parseAmount(req.TokenID)
	if err != nil {
		badRequest(ctx, err)
		return
	}

	err = h.sim.Assets.Approve(common.HexToAddress(req.Contract), id, common.HexToAddress(req.Owner), common.HexToAddress(req.Operator))
	if err != nil {
		badRequest(ctx, err)
		return
	}
	ctx.JSON(200, gin.H{"status": "ok"})
}

func (h *HTTPHandler) MintTokens(ctx *gin.Context) {
	var req MintTokensRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(ctx, err)
		return
	}

	token, to := common.HexToAddress(req.Token), common.HexToAddress(req.To)
	h.sim.Tokens.Mint(token, to, amount)
	h.writeBalance(ctx, token, to)
}

func (h *HTTPHandler) ApproveTokens(ctx *gin.Context) {
	var req ApproveTokensRequest
	if err := ctx.ShouldBindJSON(&req); err != nil {
		badRequest(ctx, err)
		return
	}
	amount, err := parseAmount(req.Amount)
	if err != nil {
		badRequest(ctx, err)
		return
	}

	token, owner := common.HexToAddress(req.Token), common.HexToAddress(req.Owner)
	h.sim.Tokens.Approve(token, owner, h.sim.Marketplace, amount)
	h.writeBalance(ctx, token, owner)
}

func (h *HTTPHandler) GetTokenBalance(ctx *gin.Context) {
	token, err := parseAddress(ctx.Param("token"))
	if err != nil {
		badRequest(ctx, err)
		return
	}
	account, err := parseAddress(ctx.Param("account"))
	if err != nil {
		badRequest(ctx, err)
		return
	}
	h.writeBalance(ctx, token, account)
}

func (h *HTTPHandler) writeBalance(ctx *gin.Context, token, account common.Address) {
	ctx.JSON(200, TokenBalance{
		Token:     token.Hex(),
		Account:   account.Hex(),
		Balance:   h.sim.Tokens.BalanceOf(token, account).String(),
		Allowance: h.sim.Tokens.Allowance(token, account, h.sim.Marketplace).String(),
	})
}

