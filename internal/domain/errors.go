package domain

import "errors"

var (
	// ErrIdentityMissing means there is no signed-in user. Not retryable.
	ErrIdentityMissing = errors.New("identity missing")
	// ErrRoomNotFound means the code does not name an existing room. Not retryable.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomExists is returned by stores on a duplicate room code.
	ErrRoomExists = errors.New("room already exists")
	// ErrDirectoryUnavailable covers transient store failures. Retryable by the caller.
	ErrDirectoryUnavailable = errors.New("directory unavailable")
	// ErrCaptureDenied means local capture failed; the session continues without outgoing tracks.
	ErrCaptureDenied = errors.New("capture denied")
	// ErrConnectionFailed is scoped to a single peer connection.
	ErrConnectionFailed = errors.New("connection failed")
)
