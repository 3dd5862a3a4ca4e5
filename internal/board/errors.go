package board

import "errors"

var (
	ErrNotFound         = errors.New("not found")
	ErrAccessDenied     = errors.New("access denied")
	ErrStoreUnavailable = errors.New("store unavailable")
)
