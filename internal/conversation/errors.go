package conversation

import "errors"

var (
	// ErrThrottled means the client exceeded its request rate.
	ErrThrottled = errors.New("rate limit exceeded")
	// ErrConfiguration means the model credential is missing.
	ErrConfiguration = errors.New("model is not configured")
	// ErrModel wraps a failed upstream model call.
	ErrModel = errors.New("model call failed")
	// ErrEmptyMessage rejects blank chat messages.
	ErrEmptyMessage = errors.New("message must not be empty")
)
