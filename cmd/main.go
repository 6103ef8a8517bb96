package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Lumerin-protocol/asset-rental/internal/config"
	"github.com/Lumerin-protocol/asset-rental/internal/handlers/httphandlers"
	"github.com/Lumerin-protocol/asset-rental/internal/interfaces"
	"github.com/Lumerin-protocol/asset-rental/internal/lib"
	"github.com/Lumerin-protocol/asset-rental/internal/notifications"
	"github.com/Lumerin-protocol/asset-rental/internal/repositories/contracts"
	"github.com/Lumerin-protocol/asset-rental/internal/repositories/listings"
	"github.com/Lumerin-protocol/asset-rental/internal/repositories/memory"
	"github.com/Lumerin-protocol/asset-rental/internal/resources/rental"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	err := start()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func start() error {
	var cfg config.Config
	err := config.LoadConfig(&cfg, &os.Args)
	if err != nil {
		return err
	}

	log, err := lib.NewLogger("APP", cfg.Log.LevelApp, cfg.Log.Color, cfg.Log.IsProd, cfg.Log.JSON, cfg.Log.FolderPath)
	if err != nil {
		return err
	}
	marketLog, err := lib.NewLogger("MARKET", cfg.Log.LevelMarket, cfg.Log.Color, cfg.Log.IsProd, cfg.Log.JSON, cfg.Log.FolderPath)
	if err != nil {
		return err
	}
	httpLog, err := lib.NewLogger("HTTP", cfg.Log.LevelHTTP, cfg.Log.Color, cfg.Log.IsProd, cfg.Log.JSON, cfg.Log.FolderPath)
	if err != nil {
		return err
	}
	gatewayLog, err := lib.NewLogger("GATEWAY", cfg.Log.LevelGateway, cfg.Log.Color, cfg.Log.IsProd, cfg.Log.JSON, cfg.Log.FolderPath)
	if err != nil {
		return err
	}

	defer func() {
		_ = log.Sync()
		_ = marketLog.Sync()
		_ = httpLog.Sync()
		_ = gatewayLog.Sync()
	}()

	log.Infof("asset rental marketplace %s", config.BuildVersion)
	log.Infof("config: %+v", cfg.GetSanitized())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		s := <-shutdownChan
		log.Warnf("Received signal: %s", s)
		cancel()

		s = <-shutdownChan
		log.Warnf("Received signal: %s. Forcing exit...", s)
		os.Exit(1)
	}()

	privKey, err := operatorKey(&cfg)
	if err != nil {
		return err
	}
	marketplace, err := lib.PrivKeyStringToAddr(privKey)
	if err != nil {
		return err
	}
	log.Infof("marketplace account: %s", marketplace.Hex())

	var (
		assets rental.AssetGateways
		tokens rental.TokenGateways
		sim    *httphandlers.Simulation
	)

	switch cfg.Gateway.Mode {
	case config.GatewayModeEthereum:
		client, err := contracts.DialContext(ctx, cfg.Gateway.EthNodeAddress)
		if err != nil {
			return lib.WrapError(fmt.Errorf("cannot connect to ethereum node"), err)
		}
		defer client.Close()

		tx, err := contracts.NewTransactor(client, privKey, cfg.Gateway.EthLegacyTx, gatewayLog)
		if err != nil {
			return err
		}
		gateways := contracts.NewGateways(tx)
		assets, tokens = gateways, gateways
		log.Infof("using ethereum gateways, subscriptions supported: %t", client.SupportsSubscriptions())
	default:
		registry := memory.NewAssetRegistry(nil)
		ledger := memory.NewTokenLedger()
		assets, tokens = registry.For(marketplace), ledger.For(marketplace)
		sim = &httphandlers.Simulation{Assets: registry, Tokens: ledger, Marketplace: marketplace}
		log.Warnf("using simulated gateways, state is lost on exit")
	}

	var store rental.MarketStore
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pg, err := listings.NewPostgresStore(ctx, cfg.Store.PostgresDSN, marketLog.Named("STORE"))
		if err != nil {
			return err
		}
		defer pg.Close()
		store = pg
	default:
		store = listings.NewMemoryStore()
	}

	fees, err := rental.NewFeeCalculator(cfg.Marketplace.FeeDenominator)
	if err != nil {
		return err
	}

	admin := marketplace
	if cfg.Marketplace.AdminAddress != "" {
		admin = common.HexToAddress(cfg.Marketplace.AdminAddress)
	}

	bus := notifications.NewBus(0, marketLog.Named("BUS"))
	defer bus.Close()

	// configured governance only seeds an empty store
	gov, err := rental.LoadGovernance(ctx, store, rental.GovernanceState{
		Admin:   admin,
		FeeRate: cfg.Marketplace.FeeRateBasisPoints,
	})
	if err != nil {
		return err
	}
	treasury, err := rental.LoadTreasury(ctx, store)
	if err != nil {
		return err
	}

	market := rental.NewMarket(
		marketplace,
		store,
		assets,
		tokens,
		fees,
		gov,
		treasury,
		bus,
		marketLog,
		rental.WithLockTimeout(cfg.Marketplace.LockTimeout),
	)
	if err := market.RestoreEscrow(ctx); err != nil {
		return err
	}
	log.Infof("governance loaded: admin %s, fee rate %d, paused %t", gov.Admin().Hex(), gov.FeeRate(), gov.IsPaused())

	publicUrl, err := url.Parse(cfg.Web.PublicUrl)
	if err != nil {
		return err
	}
	handl := httphandlers.NewHTTPHandler(market, bus, sim, &cfg, publicUrl, httpLog)
	server := &http.Server{
		Addr:              cfg.Web.Address,
		Handler:           handl,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Infof("http server is listening: %s", cfg.Web.Address)
		err := server.ListenAndServe()
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	})

	g.Go(func() error {
		return runEventLog(ctx, bus, marketLog.Named("EVENTS"))
	})

	g.Go(func() error {
		<-ctx.Done()
		// closing the bus ends open event streams before the server drains
		bus.Close()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	log.Infof("App exited due to %v", err)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runEventLog(ctx context.Context, bus *notifications.Bus, log interfaces.ILogger) error {
	err := notifications.NewLogRunner(bus, log).Run(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// operatorKey resolves the marketplace account key. In simulated mode a random key is
// generated if none is configured
func operatorKey(cfg *config.Config) (string, error) {
	if cfg.Marketplace.OperatorPrivateKey != "" {
		return cfg.Marketplace.OperatorPrivateKey, nil
	}
	if cfg.Marketplace.OperatorMnemonic != "" {
		return lib.PrivKeyFromMnemonic(cfg.Marketplace.OperatorMnemonic, cfg.Marketplace.AccountIndex)
	}
	if cfg.Gateway.Mode == config.GatewayModeEthereum {
		return "", fmt.Errorf("operator private key or mnemonic is required in %s mode", config.GatewayModeEthereum)
	}
	return lib.GenerateTestPrivKey(), nil
}
