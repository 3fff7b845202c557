package boltsecurestore_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	boltsecurestore "github.com/satcat21/btc-mempaper-sub000/pkg/securestore/bolt"
)

var (
	password  = []byte("pa55w0rd")
	bucketKey = []byte("wallet.monitoring.cache")
	dataKey   = []byte("zpub6rFR7y4Q2Aij")
	dataValue = []byte(`{"total_balance":"0.001"}`)
)

func TestCreateUnlockAndRoundTrip(t *testing.T) {
	store, err := boltsecurestore.NewSecureStorage(t.TempDir(), "cache.db")
	require.NoError(t, err)
	defer store.Close()

	require.True(t, store.IsLocked())
	require.Error(t, store.AddToBucket(bucketKey, dataKey, dataValue))

	pw := append([]byte{}, password...)
	require.NoError(t, store.CreateUnlock(&pw))
	require.False(t, store.IsLocked())

	require.NoError(t, store.CreateBucket(bucketKey))
	require.NoError(t, store.AddToBucket(bucketKey, dataKey, dataValue))

	value, err := store.GetFromBucket(bucketKey, dataKey)
	require.NoError(t, err)
	require.Equal(t, dataValue, value)

	all, err := store.GetAllFromBucket(bucketKey)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, dataValue, all[string(dataKey)])

	// a missing entry is not an error
	missing, err := store.GetFromBucket(bucketKey, []byte("unknown"))
	require.NoError(t, err)
	require.Nil(t, missing)

	store.Lock()
	require.True(t, store.IsLocked())
	_, err = store.GetFromBucket(bucketKey, dataKey)
	require.Error(t, err)
}

func TestUnlockWithWrongPassword(t *testing.T) {
	datadir := t.TempDir()

	store, err := boltsecurestore.NewSecureStorage(datadir, "cache.db")
	require.NoError(t, err)

	pw := append([]byte{}, password...)
	require.NoError(t, store.CreateUnlock(&pw))
	require.NoError(t, store.Close())

	store, err = boltsecurestore.NewSecureStorage(datadir, "cache.db")
	require.NoError(t, err)
	defer store.Close()

	wrongPw := []byte("wrong")
	require.ErrorIs(t, store.CreateUnlock(&wrongPw), boltsecurestore.ErrInvalidPassword)

	goodPw := append([]byte{}, password...)
	require.NoError(t, store.CreateUnlock(&goodPw))
}

func TestChangePassword(t *testing.T) {
	datadir := t.TempDir()

	store, err := boltsecurestore.NewSecureStorage(datadir, "cache.db")
	require.NoError(t, err)

	pw := append([]byte{}, password...)
	require.NoError(t, store.CreateUnlock(&pw))
	require.NoError(t, store.CreateBucket(bucketKey))
	require.NoError(t, store.AddToBucket(bucketKey, dataKey, dataValue))

	newPassword := []byte("n3w-pa55w0rd")
	require.NoError(t, store.ChangePassword(password, newPassword))
	require.NoError(t, store.Close())

	store, err = boltsecurestore.NewSecureStorage(datadir, "cache.db")
	require.NoError(t, err)
	defer store.Close()

	newPw := append([]byte{}, newPassword...)
	require.NoError(t, store.CreateUnlock(&newPw))

	value, err := store.GetFromBucket(bucketKey, dataKey)
	require.NoError(t, err)
	require.Equal(t, dataValue, value)
}

func TestRemoveFromBucket(t *testing.T) {
	store, err := boltsecurestore.NewSecureStorage(t.TempDir(), "cache.db")
	require.NoError(t, err)
	defer store.Close()

	pw := append([]byte{}, password...)
	require.NoError(t, store.CreateUnlock(&pw))
	require.NoError(t, store.CreateBucket(bucketKey))
	require.NoError(t, store.AddToBucket(bucketKey, dataKey, dataValue))

	require.NoError(t, store.RemoveFromBucket(bucketKey, dataKey))
	value, err := store.GetFromBucket(bucketKey, dataKey)
	require.NoError(t, err)
	require.Nil(t, value)

	require.NoError(t, store.RemoveBucket(bucketKey))
	_, err = store.GetFromBucket(bucketKey, dataKey)
	require.ErrorIs(t, err, boltsecurestore.ErrBucketNotFound)
}
