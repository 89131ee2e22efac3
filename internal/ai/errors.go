package ai

import "errors"

var (
	ErrProviderUnavailable = errors.New("ai provider unavailable")
	ErrInferenceTimeout    = errors.New("ai inference timeout")
	ErrInvalidResponse     = errors.New("ai provider returned invalid response")
	ErrRateLimited         = errors.New("ai provider rate limited")
	ErrUnknownProvider     = errors.New("unknown ai provider")
)

// IsTransient reports whether err is worth retrying against the same provider.
func IsTransient(err error) bool {
	return errors.Is(err, ErrProviderUnavailable) ||
		errors.Is(err, ErrInferenceTimeout) ||
		errors.Is(err, ErrRateLimited)
}
