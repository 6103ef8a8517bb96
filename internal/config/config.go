package config

import (
	"strings"
	"time"
)

// BuildVersion is set at build time with -ldflags "-X .../internal/config.BuildVersion=..."
var BuildVersion = "0.0.0-dev"

const (
	GatewayModeSimulated = "simulated"
	GatewayModeEthereum  = "ethereum"

	StoreDriverMemory   = "memory"
	StoreDriverPostgres = "postgres"
)

// Validation tags described here: https://pkg.go.dev/github.com/go-playground/validator/v10
type Config struct {
	Environment string `env:"ENVIRONMENT" flag:"environment"`
	Gateway     struct {
		Mode           string `env:"GATEWAY_MODE"       flag:"gateway-mode"       validate:"omitempty,oneof=simulated ethereum" desc:"simulated keeps assets and tokens in memory, ethereum talks to the contracts"`
		EthNodeAddress string `env:"ETH_NODE_ADDRESS"   flag:"eth-node-address"   validate:"required_if=Mode ethereum,omitempty,url"`
		EthLegacyTx    bool   `env:"ETH_NODE_LEGACY_TX" flag:"eth-node-legacy-tx" desc:"use it to disable EIP-1559 transactions"`
	}
	Marketplace struct {
		OperatorPrivateKey string        `env:"OPERATOR_PRIVATE_KEY"      flag:"operator-private-key"      validate:"omitempty,hexadecimal"       desc:"key of the marketplace account: approved asset operator and token custody"`
		OperatorMnemonic   string        `env:"OPERATOR_MNEMONIC"         flag:"operator-mnemonic"         desc:"used when the private key is not set"`
		AccountIndex       int           `env:"OPERATOR_ACCOUNT_INDEX"    flag:"operator-account-index"    validate:"omitempty,min=0"             desc:"mnemonic derivation index"`
		AdminAddress       string        `env:"MARKET_ADMIN_ADDRESS"      flag:"market-admin-address"      validate:"omitempty,eth_addr"          desc:"falls back to the operator address"`
		FeeRateBasisPoints uint64        `env:"MARKET_FEE_RATE"           flag:"market-fee-rate"           validate:"ltefield=FeeDenominator"     default:"250" desc:"protocol fee rate applied to new rentals, 0 disables the fee"`
		FeeDenominator     uint64        `env:"MARKET_FEE_DENOMINATOR"    flag:"market-fee-denominator"    validate:"omitempty,oneof=100 10000"   desc:"10000 treats the fee rate as basis points, 100 keeps legacy fee arithmetic"`
		LockTimeout        time.Duration `env:"MARKET_LOCK_TIMEOUT"       flag:"market-lock-timeout"       desc:"how long an operation waits for a busy listing"`
	}
	Store struct {
		Driver      string `env:"STORE_DRIVER"       flag:"store-driver"       validate:"omitempty,oneof=memory postgres"`
		PostgresDSN string `env:"STORE_POSTGRES_DSN" flag:"store-postgres-dsn" validate:"required_if=Driver postgres"`
	}
	Log struct {
		Color        bool   `env:"LOG_COLOR"         flag:"log-color"`
		FolderPath   string `env:"LOG_FOLDER_PATH"   flag:"log-folder-path"   validate:"omitempty,dirpath"    desc:"enables file logging and sets the folder path"`
		IsProd       bool   `env:"LOG_IS_PROD"       flag:"log-is-prod"       validate:""                     desc:"affects the format of the log output"`
		JSON         bool   `env:"LOG_JSON"          flag:"log-json"`
		LevelApp     string `env:"LOG_LEVEL_APP"     flag:"log-level-app"     validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
		LevelMarket  string `env:"LOG_LEVEL_MARKET"  flag:"log-level-market"  validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
		LevelHTTP    string `env:"LOG_LEVEL_HTTP"    flag:"log-level-http"    validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
		LevelGateway string `env:"LOG_LEVEL_GATEWAY" flag:"log-level-gateway" validate:"omitempty,oneof=debug info warn error dpanic panic fatal"`
	}
	Web struct {
		Address   string `env:"WEB_ADDRESS"    flag:"web-address"    validate:"required,hostname_port" desc:"http server address host:port"`
		PublicUrl string `env:"WEB_PUBLIC_URL" flag:"web-public-url" validate:"omitempty,url"          desc:"public url of the marketplace, falls back to web-address if empty"`
	}
}

func (cfg *Config) SetDefaults() {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}

	// Gateway

	if cfg.Gateway.Mode == "" {
		cfg.Gateway.Mode = GatewayModeSimulated
	}

	// Marketplace

	// normalizes private key
	cfg.Marketplace.OperatorPrivateKey = strings.TrimPrefix(cfg.Marketplace.OperatorPrivateKey, "0x")

	if cfg.Marketplace.FeeDenominator == 0 {
		cfg.Marketplace.FeeDenominator = 10_000
	}
	if cfg.Marketplace.LockTimeout == 0 {
		cfg.Marketplace.LockTimeout = 30 * time.Second
	}

	// Store

	if cfg.Store.Driver == "" {
		cfg.Store.Driver = StoreDriverMemory
	}

	// Log

	if cfg.Log.LevelApp == "" {
		cfg.Log.LevelApp = "debug"
	}
	if cfg.Log.LevelMarket == "" {
		cfg.Log.LevelMarket = "debug"
	}
	if cfg.Log.LevelHTTP == "" {
		cfg.Log.LevelHTTP = "info"
	}
	if cfg.Log.LevelGateway == "" {
		cfg.Log.LevelGateway = "info"
	}

	// Web

	if cfg.Web.Address == "" {
		cfg.Web.Address = "0.0.0.0:8080"
	}
	if cfg.Web.PublicUrl == "" {
		cfg.Web.PublicUrl = "http://localhost:8080"
	}
}

// GetSanitized returns a copy of the config with sensitive data removed
// explicitly adding each field here to avoid accidentally leaking sensitive data
func (cfg *Config) GetSanitized() interface{} {
	publicCfg := Config{}

	publicCfg.Environment = cfg.Environment

	publicCfg.Gateway.Mode = cfg.Gateway.Mode
	publicCfg.Gateway.EthLegacyTx = cfg.Gateway.EthLegacyTx

	publicCfg.Marketplace.AccountIndex = cfg.Marketplace.AccountIndex
	publicCfg.Marketplace.AdminAddress = cfg.Marketplace.AdminAddress
	publicCfg.Marketplace.FeeRateBasisPoints = cfg.Marketplace.FeeRateBasisPoints
	publicCfg.Marketplace.FeeDenominator = cfg.Marketplace.FeeDenominator
	publicCfg.Marketplace.LockTimeout = cfg.Marketplace.LockTimeout

	publicCfg.Store.Driver = cfg.Store.Driver

	publicCfg.Log.Color = cfg.Log.Color
	publicCfg.Log.FolderPath = cfg.Log.FolderPath
	publicCfg.Log.IsProd = cfg.Log.IsProd
	publicCfg.Log.JSON = cfg.Log.JSON
	publicCfg.Log.LevelApp = cfg.Log.LevelApp
	publicCfg.Log.LevelMarket = cfg.Log.LevelMarket
	publicCfg.Log.LevelHTTP = cfg.Log.LevelHTTP
	publicCfg.Log.LevelGateway = cfg.Log.LevelGateway

	publicCfg.Web.Address = cfg.Web.Address
	publicCfg.Web.PublicUrl = cfg.Web.PublicUrl

	return publicCfg
}
