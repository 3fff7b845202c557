package config_test

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"

	"github.com/satcat21/btc-mempaper-sub000/internal/config"
)

func TestNetworkDefaults(t *testing.T) {
	t.Setenv("WALLETD_DATADIR", t.TempDir())

	require.NoError(t, config.InitConfig())
	require.Equal(t, &chaincfg.MainNetParams, config.GetChainParams())
	require.Equal(t, "https://blockstream.info/api", config.GetExplorerEndpoint())
}

func TestTestnetNetwork(t *testing.T) {
	t.Setenv("WALLETD_DATADIR", t.TempDir())
	t.Setenv("WALLETD_NETWORK", "testnet")

	require.NoError(t, config.InitConfig())
	require.Equal(t, &chaincfg.TestNet3Params, config.GetChainParams())
	// the explorer endpoint default follows the configured network
	require.Equal(
		t, "https://blockstream.info/testnet/api", config.GetExplorerEndpoint(),
	)
}

func TestTestnetKeepsExplicitEndpoint(t *testing.T) {
	t.Setenv("WALLETD_DATADIR", t.TempDir())
	t.Setenv("WALLETD_NETWORK", "testnet")
	t.Setenv("WALLETD_EXPLORER_ENDPOINT", "http://localhost:3000")

	require.NoError(t, config.InitConfig())
	require.Equal(t, "http://localhost:3000", config.GetExplorerEndpoint())
}

func TestUnknownNetworkRejected(t *testing.T) {
	t.Setenv("WALLETD_DATADIR", t.TempDir())
	t.Setenv("WALLETD_NETWORK", "signet")

	require.Error(t, config.InitConfig())
}
