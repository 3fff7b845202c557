package boltsecurestore

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/btcsuite/btcwallet/snacl"
	bolt "go.etcd.io/bbolt"

	"github.com/satcat21/btc-mempaper-sub000/pkg/securestore"
)

var (
	// rootBucketName is the name of the top level bucket holding both the
	// encryption key and every nested bucket.
	rootBucketName = []byte("root")

	// encryptionKeyID is the name of the database key that stores the
	// encryption key, encrypted with a salted + hashed password.
	encryptionKeyID = []byte("enckey")
)

type boltSecureStorage struct {
	db *bolt.DB

	encKeyMtx sync.RWMutex
	encKey    *snacl.SecretKey
}

// NewSecureStorage creates a bolt instance of the SecureStorage interface.
// The DB file is created under datadir if it does not exist yet.
func NewSecureStorage(datadir, filename string) (securestore.SecureStorage, error) {
	if _, err := os.Stat(datadir); os.IsNotExist(err) {
		if err := os.MkdirAll(datadir, 0755); err != nil {
			return nil, err
		}
	}

	db, err := bolt.Open(
		filepath.Join(datadir, filename), 0600,
		&bolt.Options{Timeout: 5 * time.Second},
	)
	if err != nil {
		return nil, err
	}

	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(rootBucketName)
		return err
	}); err != nil {
		return nil, err
	}

	return &boltSecureStorage{db: db}, nil
}

// IsLocked returns whether the store is locked by checking if the encryption
// key is kept in-memory.
func (s *boltSecureStorage) IsLocked() bool {
	s.encKeyMtx.RLock()
	defer s.encKeyMtx.RUnlock()
	return s.encKey == nil
}

// Lock locks the store by flushing the in-memory encryption key.
func (s *boltSecureStorage) Lock() {
	s.encKeyMtx.Lock()
	defer s.encKeyMtx.Unlock()
	if s.encKey != nil {
		s.encKey.Zero()
		s.encKey = nil
	}
}

// Close locks the store and closes the connection to the DB.
func (s *boltSecureStorage) Close() error {
	s.Lock()
	return s.db.Close()
}

// CreateUnlock sets an encryption key if one is not already stored, otherwise
// it checks that the password is correct for the stored encryption key.
func (s *boltSecureStorage) CreateUnlock(password *[]byte) error {
	if !s.IsLocked() {
		return nil
	}

	if password == nil {
		return ErrPasswordRequired
	}

	s.encKeyMtx.Lock()
	defer s.encKeyMtx.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rootBucketName)
		if bucket == nil {
			return ErrRootBucketNotFound
		}

		dbKey := bucket.Get(encryptionKeyID)
		if len(dbKey) > 0 {
			// A key is already stored, try to unlock with the password.
			encKey := &snacl.SecretKey{}
			if err := encKey.Unmarshal(dbKey); err != nil {
				return err
			}

			if err := encKey.DeriveKey(password); err != nil {
				return ErrInvalidPassword
			}

			s.encKey = encKey
			return nil
		}

		// The encryption key is not stored yet, create a new one.
		encKey, err := snacl.NewSecretKey(
			password, snacl.DefaultN, snacl.DefaultR, snacl.DefaultP,
		)
		if err != nil {
			return err
		}

		if err := bucket.Put(encryptionKeyID, encKey.Marshal()); err != nil {
			return err
		}

		s.encKey = encKey
		return nil
	})
}

// ChangePassword decrypts every value of the store with the old password and
// encrypts it again with the new one.
func (s *boltSecureStorage) ChangePassword(oldPw, newPw []byte) error {
	// The store must be already unlocked. This ensures that there already is
	// an encryption key in the DB.
	if s.IsLocked() {
		return ErrStoreLocked
	}

	if oldPw == nil || newPw == nil {
		return ErrPasswordRequired
	}

	encKeyNew, err := snacl.NewSecretKey(
		&newPw, snacl.DefaultN, snacl.DefaultR, snacl.DefaultP,
	)
	if err != nil {
		return err
	}

	// Check that the old password is correct.
	if err := s.db.View(func(tx *bolt.Tx) error {
		bucket := tx.Bucket(rootBucketName)
		if bucket == nil {
			return ErrRootBucketNotFound
		}
		dbKey := bucket.Get(encryptionKeyID)
		if len(dbKey) <= 0 {
			return ErrEncKeyNotFound
		}

		encKeyOld := &snacl.SecretKey{}
		if err := encKeyOld.Unmarshal(dbKey); err != nil {
			return err
		}

		return encKeyOld.DeriveKey(&oldPw)
	}); err != nil {
		return err
	}

	s.encKeyMtx.Lock()
	defer s.encKeyMtx.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(rootBucketName)
		if root == nil {
			return ErrRootBucketNotFound
		}

		if err := s.reencryptBucket(root, encKeyNew); err != nil {
			return err
		}

		if err := root.Put(encryptionKeyID, encKeyNew.Marshal()); err != nil {
			return err
		}

		s.encKey.Zero()
		s.encKey = encKeyNew
		return nil
	})
}

// CreateBucket creates a nested bucket into the root one.
func (s *boltSecureStorage) CreateBucket(key []byte) error {
	if s.IsLocked() {
		return ErrStoreLocked
	}
	if len(key) <= 0 {
		return ErrMissingBucketKey
	}
	if bytes.Equal(key, encryptionKeyID) {
		return ErrForbiddenKey
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(rootBucketName)
		if root == nil {
			return ErrRootBucketNotFound
		}
		_, err := root.CreateBucketIfNotExists(key)
		return err
	})
}

// AddToBucket stores the provided data encrypted into the given bucket. If
// the bucket key is nil, the key/value entry is added to the root one.
func (s *boltSecureStorage) AddToBucket(bucketKey, key, value []byte) error {
	if s.IsLocked() {
		return ErrStoreLocked
	}
	if len(key) <= 0 {
		return ErrMissingDataKey
	}
	if bytes.Equal(key, encryptionKeyID) {
		return ErrForbiddenKey
	}
	if len(value) <= 0 {
		return ErrMissingData
	}

	s.encKeyMtx.RLock()
	defer s.encKeyMtx.RUnlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := s.lookupBucket(tx, bucketKey)
		if err != nil {
			return err
		}

		encryptedValue, err := s.encKey.Encrypt(value)
		if err != nil {
			return err
		}

		return bucket.Put(key, encryptedValue)
	})
}

// GetFromBucket retrieves and decrypts the value stored at key from the given
// bucket. A missing entry yields a nil value, not an error.
func (s *boltSecureStorage) GetFromBucket(bucketKey, key []byte) ([]byte, error) {
	if s.IsLocked() {
		return nil, ErrStoreLocked
	}
	if len(key) <= 0 {
		return nil, ErrMissingDataKey
	}
	if bytes.Equal(key, encryptionKeyID) {
		return nil, ErrForbiddenKey
	}

	s.encKeyMtx.RLock()
	defer s.encKeyMtx.RUnlock()

	var value []byte
	if err := s.db.View(func(tx *bolt.Tx) error {
		bucket, err := s.lookupBucket(tx, bucketKey)
		if err != nil {
			return err
		}

		encryptedValue := bucket.Get(key)
		if len(encryptedValue) <= 0 {
			return nil
		}

		decryptedValue, err := s.encKey.Decrypt(encryptedValue)
		if err != nil {
			return err
		}

		value = decryptedValue
		return nil
	}); err != nil {
		return nil, err
	}

	return value, nil
}

// GetAllFromBucket retrieves and decrypts all key/value pairs of a bucket.
func (s *boltSecureStorage) GetAllFromBucket(bucketKey []byte) (map[string][]byte, error) {
	if s.IsLocked() {
		return nil, ErrStoreLocked
	}

	s.encKeyMtx.RLock()
	defer s.encKeyMtx.RUnlock()

	valuesByKey := make(map[string][]byte)
	if err := s.db.View(func(tx *bolt.Tx) error {
		bucket, err := s.lookupBucket(tx, bucketKey)
		if err != nil {
			return err
		}

		return bucket.ForEach(func(k, v []byte) error {
			if bytes.Equal(k, encryptionKeyID) || v == nil {
				return nil
			}

			decryptedValue, err := s.encKey.Decrypt(v)
			if err != nil {
				return err
			}
			valuesByKey[string(k)] = decryptedValue
			return nil
		})
	}); err != nil {
		return nil, err
	}

	return valuesByKey, nil
}

// RemoveFromBucket removes a key/value pair from a bucket.
func (s *boltSecureStorage) RemoveFromBucket(bucketKey, key []byte) error {
	if s.IsLocked() {
		return ErrStoreLocked
	}
	if len(key) <= 0 {
		return ErrMissingDataKey
	}
	if bytes.Equal(key, encryptionKeyID) {
		return ErrForbiddenKey
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		bucket, err := s.lookupBucket(tx, bucketKey)
		if err != nil {
			return err
		}
		return bucket.Delete(key)
	})
}

// RemoveBucket removes a nested bucket from the root one.
func (s *boltSecureStorage) RemoveBucket(bucketKey []byte) error {
	if s.IsLocked() {
		return ErrStoreLocked
	}
	if len(bucketKey) <= 0 {
		return ErrMissingBucketKey
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		root := tx.Bucket(rootBucketName)
		if root == nil {
			return ErrRootBucketNotFound
		}
		return root.DeleteBucket(bucketKey)
	})
}

func (s *boltSecureStorage) lookupBucket(tx *bolt.Tx, bucketKey []byte) (*bolt.Bucket, error) {
	bucket := tx.Bucket(rootBucketName)
	if bucket == nil {
		return nil, ErrRootBucketNotFound
	}

	if len(bucketKey) > 0 {
		bucket = bucket.Bucket(bucketKey)
		if bucket == nil {
			return nil, ErrBucketNotFound
		}
	}
	return bucket, nil
}

// reencryptBucket walks the bucket and all its nested ones, decrypting every
// value with the current key and encrypting it again with the new one.
func (s *boltSecureStorage) reencryptBucket(bucket *bolt.Bucket, newKey *snacl.SecretKey) error {
	type pair struct{ k, v []byte }
	pairs := make([]pair, 0)
	nested := make([][]byte, 0)

	if err := bucket.ForEach(func(k, v []byte) error {
		if v == nil {
			nested = append(nested, k)
			return nil
		}
		if bytes.Equal(k, encryptionKeyID) {
			return nil
		}

		decrypted, err := s.encKey.Decrypt(v)
		if err != nil {
			return err
		}
		reencrypted, err := newKey.Encrypt(decrypted)
		if err != nil {
			return err
		}
		pairs = append(pairs, pair{k: k, v: reencrypted})
		return nil
	}); err != nil {
		return err
	}

	for _, p := range pairs {
		if err := bucket.Put(p.k, p.v); err != nil {
			return err
		}
	}
	for _, k := range nested {
		if err := s.reencryptBucket(bucket.Bucket(k), newKey); err != nil {
			return err
		}
	}
	return nil
}
