package boltsecurestore

import "errors"

var (
	// ErrStoreLocked is returned for any operation attempted while the store
	// is locked.
	ErrStoreLocked = errors.New("store is locked")
	// ErrPasswordRequired is returned when a nil password is provided.
	ErrPasswordRequired = errors.New("a non-nil password is required")
	// ErrInvalidPassword is returned when the provided password does not
	// match the stored encryption key.
	ErrInvalidPassword = errors.New("invalid password")
	// ErrRootBucketNotFound is returned if the root bucket is missing, which
	// means the store file is corrupted.
	ErrRootBucketNotFound = errors.New("root bucket not found")
	// ErrBucketNotFound is returned when operating on a missing nested bucket.
	ErrBucketNotFound = errors.New("bucket not found")
	// ErrEncKeyNotFound is returned when attempting to change the password of
	// a store that has no encryption key yet.
	ErrEncKeyNotFound = errors.New("encryption key not found")
	// ErrMissingBucketKey ...
	ErrMissingBucketKey = errors.New("missing bucket key")
	// ErrMissingDataKey ...
	ErrMissingDataKey = errors.New("missing data key")
	// ErrMissingData ...
	ErrMissingData = errors.New("missing data value")
	// ErrForbiddenKey is returned when using the reserved encryption key id
	// as bucket or data key.
	ErrForbiddenKey = errors.New("key is reserved")
)
