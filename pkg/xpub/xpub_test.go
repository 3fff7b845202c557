package xpub_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/satcat21/btc-mempaper-sub000/pkg/xpub"
)

// Keys below are the account-level public keys of the well known
// "abandon abandon ... about" test mnemonic for BIP44, BIP49 and BIP84.
const (
	testXpub = "xpub6BosfCnifzxcFwrSzQiqu2DBVTshkCXacvNsWGYJVVhhawA7d4R5WSWGFNbi8Aw6ZRc1brxMyWMzG3DSSSSoekkudhUd9yLb6qx39T9nMdj"
	testYpub = "ypub6Ww3ibxVfGzLrAH1PNcjyAWenMTbbAosGNB6VvmSEgytSER9azLDWCxoJwW7Ke7icmizBMXrzBx9979FfaHxHcrArf3zbeJJJUZPf663zsP"
	testZpub = "zpub6rFR7y4Q2AijBEqTUquhVz398htDFrtymD9xYYfG1m4wAcvPhXNfE3EfH1r1ADqtfSdVCToUG868RvUUkgDKf31mGDtKsAYz2oz2AGutZYs"
)

func TestDeriveKnownVectors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name       string
		key        string
		scriptType xpub.ScriptType
		addresses  []string
	}{
		{
			name:       "bip44_xpub",
			key:        testXpub,
			scriptType: xpub.P2PKH,
			addresses:  []string{"1LqBGSKuX5yYUonjxT5qGfpUsXKYYWeabA"},
		},
		{
			name:       "bip49_ypub",
			key:        testYpub,
			scriptType: xpub.NestedP2WPKH,
			addresses:  []string{"37VucYSaXLCAsxYyAPfbSi9eh4iEcbShgf"},
		},
		{
			name:       "bip84_zpub",
			key:        testZpub,
			scriptType: xpub.P2WPKH,
			addresses: []string{
				"bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu",
				"bc1qnjg0jd8228aq7egyzacy8cys3knf9xvrerkf9g",
			},
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			deriver, err := xpub.NewDeriver(tt.key)
			require.NoError(t, err)
			require.Equal(t, tt.scriptType, deriver.ScriptType())

			for i, expected := range tt.addresses {
				addr, err := deriver.Derive(uint32(i))
				require.NoError(t, err)
				require.Equal(t, expected, addr)
			}
		})
	}
}

func TestDeriveIsDeterministic(t *testing.T) {
	t.Parallel()

	deriver, err := xpub.NewDeriver(testZpub)
	require.NoError(t, err)

	first, err := deriver.Derive(42)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		again, err := deriver.Derive(42)
		require.NoError(t, err)
		require.Equal(t, first, again)
	}
}

func TestDeriveRange(t *testing.T) {
	t.Parallel()

	deriver, err := xpub.NewDeriver(testZpub)
	require.NoError(t, err)

	firstBatch, err := deriver.DeriveRange(0, 10)
	require.NoError(t, err)
	require.Len(t, firstBatch, 10)

	secondBatch, err := deriver.DeriveRange(10, 20)
	require.NoError(t, err)
	require.Len(t, secondBatch, 10)

	// extending the derivation never changes an existing index's address
	all, err := deriver.DeriveRange(0, 20)
	require.NoError(t, err)
	require.Len(t, all, 20)
	for i, da := range append(firstBatch, secondBatch...) {
		require.Equal(t, uint32(i), da.Index)
		require.Equal(t, all[i], da)
	}

	empty, err := deriver.DeriveRange(5, 5)
	require.NoError(t, err)
	require.Empty(t, empty)
}

func TestFailingNewDeriver(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		key  string
	}{
		{
			name: "empty_key",
			key:  "",
		},
		{
			name: "not_base58",
			key:  "not-an-extended-key",
		},
		{
			name: "bad_checksum",
			key:  testZpub[:len(testZpub)-4] + "aaaa",
		},
		{
			name: "unknown_prefix",
			// a plain address is not an extended key
			key: "bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := xpub.NewDeriver(tt.key)
			require.ErrorIs(t, err, xpub.ErrInvalidKeyFormat)
		})
	}
}

func TestIsExtendedKey(t *testing.T) {
	t.Parallel()

	require.True(t, xpub.IsExtendedKey(testXpub))
	require.True(t, xpub.IsExtendedKey(testYpub))
	require.True(t, xpub.IsExtendedKey(testZpub))
	require.False(t, xpub.IsExtendedKey("bc1qcr8te4kr609gcawutmrza0j4xv80jy8z306fyu"))
	require.False(t, xpub.IsExtendedKey("xp"))
}
