package broker

import "errors"

var (
	// ErrChannelNotFound is returned when an operation references a channel
	// that does not exist and creation is not permitted.
	ErrChannelNotFound = errors.New("channel not found")

	// ErrOutOfMemory is returned when admitting a message or channel would
	// push the arena past its configured capacity. The condition is
	// retryable after the next sweep frees room.
	ErrOutOfMemory = errors.New("arena capacity exceeded")

	// ErrQuotaExceeded is returned when a channel or subscriber count limit
	// would be exceeded. No state is created before the check, so the
	// failure is fully recoverable.
	ErrQuotaExceeded = errors.New("quota exceeded")
)
