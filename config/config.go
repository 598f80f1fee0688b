package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

const (
	// DatadirKey is the local data directory to store the internal state of the daemon
	DatadirKey = "DATA_DIR_PATH"
	// LogLevelKey are the different logging levels. For reference on the values https://godoc.org/github.com/sirupsen/logrus#Level
	LogLevelKey = "LOG_LEVEL"
	// NetworkKey is the network to use. Either "mainnet", "testnet" or "regtest"
	NetworkKey = "NETWORK"
	// WatchIntervalKey is the interval in milliseconds between two polls of the chain oracle
	WatchIntervalKey = "WATCH_INTERVAL"
	// WatchLimitKey represents the number of requests per second the watcher makes to the chain oracle
	WatchLimitKey = "WATCH_LIMIT"
	// WatchTokenBurstKey represents the number of burst tokens permitted from watcher to chain oracle
	WatchTokenBurstKey = "WATCH_TOKEN"
	// ExplorerEndpointKey is the endpoint of the esplora-style block explorer
	// backing the chain oracle
	ExplorerEndpointKey = "EXPLORER_ENDPOINT"
	// DonationAddressKey is the current arbitration donation address
	DonationAddressKey = "DONATION_ADDRESS"
	// RecentDonationAddressesKey is the comma separated list of recently valid donation addresses
	RecentDonationAddressesKey = "RECENT_DONATION_ADDRESSES"
	// DefaultDonationAddressKey is the hardcoded fallback donation address
	DefaultDonationAddressKey = "DEFAULT_DONATION_ADDRESS"
	// PriceToleranceKey is the percentage of tolerated deviation between the
	// taker's trade price and the maker's offer price
	PriceToleranceKey = "PRICE_TOLERANCE"
	// ResendIntervalKey is the interval in seconds between two resend attempts
	// of an unacknowledged trade message
	ResendIntervalKey = "RESEND_INTERVAL"

	DbLocation = "db"

	// LockTimeDelayAltcoin is the lock time delay in blocks for trades settled
	// with a blockchain based payment method (~10 days)
	LockTimeDelayAltcoin = 1440
	// LockTimeDelayFiat is the lock time delay in blocks for all other payment
	// methods (~20 days)
	LockTimeDelayFiat = 2880
	// LockTimeDelayRegtest is the short delay used on test networks
	LockTimeDelayRegtest = 5

	// MinResendInterval is the floor of the resend cadence
	MinResendInterval = 30
	// MaxResendInterval is the upper bound of the resend cadence (4 hours)
	MaxResendInterval = 14400
)

var vip *viper.Viper
var defaultDatadir = btcutil.AppDataDir("escrow-daemon", false)

func init() {
	vip = viper.New()
	vip.SetEnvPrefix("ESCROWD")
	vip.AutomaticEnv()

	vip.SetDefault(DatadirKey, defaultDatadir)
	vip.SetDefault(LogLevelKey, 4)
	vip.SetDefault(NetworkKey, "mainnet")
	vip.SetDefault(WatchIntervalKey, 5000)
	vip.SetDefault(WatchLimitKey, 10)
	vip.SetDefault(WatchTokenBurstKey, 1)
	vip.SetDefault(ExplorerEndpointKey, "http://127.0.0.1:3001")
	vip.SetDefault(PriceToleranceKey, 1.0)
	vip.SetDefault(ResendIntervalKey, 600)

	if err := validate(); err != nil {
		log.WithError(err).Panic("invalid config")
	}

	if err := initDatadir(); err != nil {
		log.WithError(err).Panic("config: error while creating datadir")
	}
}

// GetString reads a string config value by its key.
func GetString(key string) string {
	return vip.GetString(key)
}

// GetInt reads an integer config value by its key.
func GetInt(key string) int {
	return vip.GetInt(key)
}

// GetFloat reads a float config value by its key.
func GetFloat(key string) float64 {
	return vip.GetFloat64(key)
}

// GetStringSlice reads a comma separated config value by its key.
func GetStringSlice(key string) []string {
	raw := strings.TrimSpace(vip.GetString(key))
	if len(raw) == 0 {
		return nil
	}
	elems := strings.Split(raw, ",")
	out := make([]string, 0, len(elems))
	for _, e := range elems {
		if trimmed := strings.TrimSpace(e); len(trimmed) > 0 {
			out = append(out, trimmed)
		}
	}
	return out
}

// GetDatadir returns the data directory of the daemon.
func GetDatadir() string {
	return GetString(DatadirKey)
}

// GetNetwork returns the chain parameters for the configured network.
func GetNetwork() (*chaincfg.Params, error) {
	switch net := GetString(NetworkKey); net {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	default:
		return nil, fmt.Errorf("network must be either 'mainnet', 'testnet' or 'regtest', got '%s'", net)
	}
}

// GetLockTimeDelay returns the lock time delay in blocks to be applied to
// delayed payout transactions, depending on the payment method and network.
func GetLockTimeDelay(blockchainPaymentMethod bool) uint32 {
	if GetString(NetworkKey) == "regtest" {
		return LockTimeDelayRegtest
	}
	if blockchainPaymentMethod {
		return LockTimeDelayAltcoin
	}
	return LockTimeDelayFiat
}

// GetDonationAddresses returns the set of donation addresses accepted for
// delayed payout transactions: the current one, the recently valid ones and
// the hardcoded default.
func GetDonationAddresses() []string {
	addresses := make([]string, 0)
	if addr := GetString(DonationAddressKey); len(addr) > 0 {
		addresses = append(addresses, addr)
	}
	addresses = append(addresses, GetStringSlice(RecentDonationAddressesKey)...)
	if addr := GetString(DefaultDonationAddressKey); len(addr) > 0 {
		addresses = append(addresses, addr)
	}
	return addresses
}

func validate() error {
	if _, err := GetNetwork(); err != nil {
		return err
	}
	if tolerance := GetFloat(PriceToleranceKey); tolerance < 0 || tolerance > 100 {
		return fmt.Errorf("price tolerance must be in range [0, 100], got %f", tolerance)
	}
	if interval := GetInt(ResendIntervalKey); interval < MinResendInterval || interval > MaxResendInterval {
		return fmt.Errorf(
			"resend interval must be in range [%d, %d] seconds, got %d",
			MinResendInterval, MaxResendInterval, interval,
		)
	}
	return nil
}

func initDatadir() error {
	datadir := GetDatadir()
	return makeDirectoryIfNotExists(filepath.Join(datadir, DbLocation))
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}
