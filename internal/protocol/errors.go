package protocol

const (
	// Request validation.
	ErrBadRequest = "E_BAD_REQUEST"

	// Registry outcomes.
	ErrNotFound         = "E_NOT_FOUND"
	ErrAccessDenied     = "E_ACCESS_DENIED"
	ErrStoreUnavailable = "E_STORE_UNAVAILABLE"

	// Transport.
	ErrRateLimit = "E_RATE_LIMIT"
	ErrInternal  = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrBadRequest:       {},
	ErrNotFound:         {},
	ErrAccessDenied:     {},
	ErrStoreUnavailable: {},
	ErrRateLimit:        {},
	ErrInternal:         {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}

// ErrorBody is the JSON body of every non-2xx API response.
type ErrorBody struct {
	Error string `json:"error"`
	Code  string `json:"code,omitempty"`
}
