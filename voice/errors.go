package voice

import "errors"

// Sentinel errors for voice-pipeline operations, classified with
// errors.Is().
var (
	// ErrCallAlreadyActive indicates the local identity already has a
	// call in progress; only one active call is permitted at a time.
	ErrCallAlreadyActive = errors.New("voice: a call is already active")

	// ErrCallNotFound indicates no call exists with the given id.
	ErrCallNotFound = errors.New("voice: call not found")

	// ErrInvalidTransition indicates the requested operation does not
	// apply to the call's current state (e.g. accepting a call that
	// already ended).
	ErrInvalidTransition = errors.New("voice: invalid call state transition")

	// ErrInvalidBitrate indicates a requested codec bitrate fell outside
	// [MinBitrateBps, MaxBitrateBps].
	ErrInvalidBitrate = errors.New("voice: invalid codec bitrate")
)
