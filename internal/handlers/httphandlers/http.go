package httphandlers

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/Lumerin-protocol/asset-rental/internal/config"
	"github.com/Lumerin-protocol/asset-rental/internal/interfaces"
	"github.com/Lumerin-protocol/asset-rental/internal/lib"
	"github.com/Lumerin-protocol/asset-rental/internal/notifications"
	"github.com/Lumerin-protocol/asset-rental/internal/resources/rental"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

const (
	CallerHeader = "X-Caller-Address"
	callerKey    = "caller"
)

var (
	ErrNoCaller           = errors.New("caller address is required")
	ErrInvalidLastEventID = errors.New("invalid Last-Event-ID")
)

type Sanitizable interface {
	GetSanitized() interface{}
}

type HTTPHandler struct {
	market    *rental.Market
	bus       *notifications.Bus
	sim       *Simulation
	config    Sanitizable
	publicUrl *url.URL
	log       interfaces.ILogger
}

// NewHTTPHandler builds the api engine, simulation routes are mounted only if sim is set
func NewHTTPHandler(market *rental.Market, bus *notifications.Bus, sim *Simulation, cfg Sanitizable, publicUrl *url.URL, log interfaces.ILogger) *gin.Engine {
	handl := &HTTPHandler{
		market:    market,
		bus:       bus,
		sim:       sim,
		config:    cfg,
		publicUrl: publicUrl,
		log:       log,
	}

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/healthcheck", handl.HealthCheck)
	r.GET("/config", handl.GetConfig)
	r.GET("/events", handl.StreamEvents)

	r.GET("/listings", handl.GetListings)
	r.GET("/listings/:contract/:tokenId", handl.GetListing)
	r.GET("/listings/:contract/:tokenId/rental", handl.GetRental)
	r.GET("/treasury/:token", handl.GetTreasury)
	r.GET("/admin", handl.GetGovernance)

	auth := r.Group("/", handl.requireCaller)
	auth.POST("/listings/:contract/:tokenId", handl.CreateListing)
	auth.DELETE("/listings/:contract/:tokenId", handl.DeleteListing)
	auth.POST("/listings/:contract/:tokenId/rental", handl.CreateRental)
	auth.DELETE("/listings/:contract/:tokenId/rental", handl.FinishRental)

	auth.PUT("/admin/fee-rate", handl.SetFeeRate)
	auth.POST("/admin/pause", handl.Pause)
	auth.POST("/admin/unpause", handl.Unpause)
	auth.PUT("/admin/admin", handl.TransferAdmin)
	auth.POST("/admin/withdraw", handl.WithdrawProtocolFees)

	if sim != nil {
		s := r.Group("/simulation")
		s.POST("/assets", handl.MintAsset)
		s.POST("/assets/approve", handl.ApproveAsset)
		s.POST("/tokens/mint", handl.MintTokens)
		s.POST("/tokens/approve", handl.ApproveTokens)
		s.GET("/tokens/:token/balances/:account", handl.GetTokenBalance)
	}

	err := r.SetTrustedProxies(nil)
	if err != nil {
		panic(err)
	}

	return r
}

func (h *HTTPHandler) HealthCheck(ctx *gin.Context) {
	ctx.JSON(200, gin.H{
		"status":  "healthy",
		"version": config.BuildVersion,
	})
}

func (h *HTTPHandler) requireCaller(ctx *gin.Context) {
	header := ctx.GetHeader(CallerHeader)
	if !common.IsHexAddress(header) {
		ctx.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": ErrNoCaller.Error()})
		return
	}
	ctx.Set(callerKey, common.HexToAddress(header))
	ctx.Next()
}

func caller(ctx *gin.Context) common.Address {
	return ctx.MustGet(callerKey).(common.Address)
}

func (h *HTTPHandler) listingKey(ctx *gin.Context) (rental.ListingKey, bool) {
	key, err := rental.ParseListingKey(ctx.Param("contract"), ctx.Param("tokenId"))
	if err != nil {
		h.respondError(ctx, err)
		return rental.ListingKey{}, false
	}
	return key, true
}

func parseAddress(s string) (common.Address, error) {
	if !common.IsHexAddress(s) {
		return common.Address{}, lib.WrapError(rental.ErrInvalidParameter, errors.New("invalid address "+s))
	}
	return common.HexToAddress(s), nil
}

func badRequest(ctx *gin.Context, err error) {
	ctx.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": err.Error()})
}

func (h *HTTPHandler) respondError(ctx *gin.Context, err error) {
	status := ErrorStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Errorf("%s %s: %s", ctx.Request.Method, ctx.Request.URL.Path, err)
	} else {
		h.log.Debugf("%s %s: %s", ctx.Request.Method, ctx.Request.URL.Path, err)
	}
	ctx.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// ErrorStatus maps marketplace error kinds to http status codes
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, rental.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, rental.ErrInvalidParameter),
		errors.Is(err, rental.ErrArithmeticOverflow),
		errors.Is(err, ErrInvalidLastEventID):
		return http.StatusBadRequest
	case errors.Is(err, rental.ErrListingNotActive):
		return http.StatusNotFound
	case errors.Is(err, rental.ErrListingAlreadyHasActiveRental),
		errors.Is(err, rental.ErrActiveRentalPresent),
		errors.Is(err, rental.ErrAssetAlreadyRented),
		errors.Is(err, rental.ErrAssetNotRented),
		errors.Is(err, rental.ErrUnmanagedRental),
		errors.Is(err, rental.ErrInsufficientRevenue),
		errors.Is(err, rental.ErrReentrantCall):
		return http.StatusConflict
	case errors.Is(err, rental.ErrExternalTransferFailed):
		return http.StatusBadGateway
	case errors.Is(err, notifications.ErrReplayUnavailable):
		return http.StatusGone
	case errors.Is(err, rental.ErrSystemPaused),
		errors.Is(err, lib.ErrTimeout),
		errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
