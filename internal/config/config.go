package config

import (
	"fmt"
	"os"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/spf13/viper"
)

const (
	// DatadirKey is the local data directory to store the internal state of
	// the daemon, including the encrypted monitoring cache.
	DatadirKey = "DATADIR"
	// NetworkKey selects the chain the daemon watches, either "mainnet" or
	// "testnet". It drives address validation and the explorer endpoint
	// default.
	NetworkKey = "NETWORK"
	// LogLevelKey are the different logging levels. For reference on the values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// ExplorerEndpointKey is the URL of the Esplora-style REST API to fetch address stats from
	ExplorerEndpointKey = "EXPLORER_ENDPOINT"
	// ExplorerRequestTimeoutKey is the timeout in seconds applied to every explorer request
	ExplorerRequestTimeoutKey = "EXPLORER_REQUEST_TIMEOUT"
	// GapLimitKey is the number of consecutive unused derived addresses after which a scan assumes no further addresses are in use
	GapLimitKey = "GAP_LIMIT"
	// BootstrapIncrementKey is the number of addresses added per widening step while no usage has been confirmed yet
	BootstrapIncrementKey = "BOOTSTRAP_INCREMENT"
	// StandardIncrementKey is the number of addresses added per widening step once usage has been confirmed
	StandardIncrementKey = "STANDARD_INCREMENT"
	// BootstrapMaxAddressesKey is the hard ceiling of derived addresses per extended key
	BootstrapMaxAddressesKey = "BOOTSTRAP_MAX_ADDRESSES"
	// ProbeConcurrencyKey is the max number of concurrent balance lookups per batch
	ProbeConcurrencyKey = "PROBE_CONCURRENCY"
	// ProbeRequestsPerSecondKey paces sequential balance lookups to avoid overwhelming the explorer
	ProbeRequestsPerSecondKey = "PROBE_REQUESTS_PER_SECOND"
	// CacheMaxAgeDaysKey is the number of days after which a cached scan result is considered stale
	CacheMaxAgeDaysKey = "CACHE_MAX_AGE_DAYS"
	// FiatCurrencyKey is the ISO code of the fiat currency totals are converted to
	FiatCurrencyKey = "FIAT_CURRENCY"
	// PriceTTLKey is the number of seconds a fetched fiat rate stays valid
	PriceTTLKey = "PRICE_TTL"
	// RefreshIntervalKey is the number of seconds between two background refreshes of monitored addresses
	RefreshIntervalKey = "REFRESH_INTERVAL"
	// WalletFileKey is the path of the JSON file listing the wallet entries to watch
	WalletFileKey = "WALLET_FILE"
	// StorePasswordFileKey is the path of a file that contains the password
	// for unlocking the encrypted cache store; if provided the store is
	// unlocked automatically at startup.
	StorePasswordFileKey = "STORE_PASSWORD_FILE"
)

const (
	networkMainnet = "mainnet"
	networkTestnet = "testnet"

	defaultExplorerEndpoint        = "https://blockstream.info/api"
	defaultTestnetExplorerEndpoint = "https://blockstream.info/testnet/api"
)

var vip *viper.Viper
var defaultDatadir = btcutil.AppDataDir("mempaper-walletd", false)

func InitConfig() error {
	vip = viper.New()
	vip.SetEnvPrefix("WALLETD")
	vip.AutomaticEnv()

	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(NetworkKey, networkMainnet)
	vip.SetDefault(LogLevelKey, 4)
	vip.SetDefault(ExplorerEndpointKey, defaultExplorerEndpoint)
	vip.SetDefault(ExplorerRequestTimeoutKey, 30)
	vip.SetDefault(GapLimitKey, 20)
	vip.SetDefault(BootstrapIncrementKey, 20)
	vip.SetDefault(StandardIncrementKey, 20)
	vip.SetDefault(BootstrapMaxAddressesKey, 1000)
	vip.SetDefault(ProbeConcurrencyKey, 10)
	vip.SetDefault(ProbeRequestsPerSecondKey, 5)
	vip.SetDefault(CacheMaxAgeDaysKey, 50)
	vip.SetDefault(FiatCurrencyKey, "USD")
	vip.SetDefault(PriceTTLKey, 300)
	vip.SetDefault(RefreshIntervalKey, 120)
	vip.SetDefault(WalletFileKey, "")
	vip.SetDefault(StorePasswordFileKey, "")

	if err := validate(); err != nil {
		return fmt.Errorf("error while validating config: %s", err)
	}

	if err := initDatadir(); err != nil {
		return fmt.Errorf("error while creating datadir: %s", err)
	}

	return nil
}

func GetString(key string) string {
	return vip.GetString(key)
}

func GetInt(key string) int {
	return vip.GetInt(key)
}

func GetFloat(key string) float64 {
	return vip.GetFloat64(key)
}

// GetSeconds reads the key as an amount of seconds.
func GetSeconds(key string) time.Duration {
	return time.Duration(vip.GetInt(key)) * time.Second
}

// GetCacheMaxAge returns the max age of a cached scan result.
func GetCacheMaxAge() time.Duration {
	return time.Duration(vip.GetInt(CacheMaxAgeDaysKey)) * 24 * time.Hour
}

func GetDatadir() string {
	return vip.GetString(DatadirKey)
}

// GetChainParams returns the chain parameters of the configured network.
func GetChainParams() *chaincfg.Params {
	if vip.GetString(NetworkKey) == networkTestnet {
		return &chaincfg.TestNet3Params
	}
	return &chaincfg.MainNetParams
}

// GetExplorerEndpoint returns the explorer API URL, swapping the mainnet
// default for its testnet counterpart when the configured network is testnet
// and no explicit endpoint was set.
func GetExplorerEndpoint() string {
	endpoint := vip.GetString(ExplorerEndpointKey)
	if endpoint == defaultExplorerEndpoint &&
		vip.GetString(NetworkKey) == networkTestnet {
		return defaultTestnetExplorerEndpoint
	}
	return endpoint
}

func validate() error {
	switch vip.GetString(NetworkKey) {
	case networkMainnet, networkTestnet:
	default:
		return fmt.Errorf(
			"%s must be either %s or %s", NetworkKey, networkMainnet, networkTestnet,
		)
	}
	if vip.GetInt(GapLimitKey) <= 0 {
		return fmt.Errorf("%s must be a positive number", GapLimitKey)
	}
	if vip.GetInt(BootstrapIncrementKey) <= 0 {
		return fmt.Errorf("%s must be a positive number", BootstrapIncrementKey)
	}
	if vip.GetInt(StandardIncrementKey) <= 0 {
		return fmt.Errorf("%s must be a positive number", StandardIncrementKey)
	}
	if vip.GetInt(BootstrapMaxAddressesKey) < vip.GetInt(GapLimitKey) {
		return fmt.Errorf(
			"%s must not be lower than %s",
			BootstrapMaxAddressesKey, GapLimitKey,
		)
	}
	if vip.GetInt(ProbeConcurrencyKey) <= 0 {
		return fmt.Errorf("%s must be a positive number", ProbeConcurrencyKey)
	}
	if len(vip.GetString(ExplorerEndpointKey)) <= 0 {
		return fmt.Errorf("%s must not be empty", ExplorerEndpointKey)
	}
	return nil
}

func initDatadir() error {
	datadir := GetDatadir()
	if _, err := os.Stat(datadir); os.IsNotExist(err) {
		return os.MkdirAll(datadir, 0755)
	}
	return nil
}
