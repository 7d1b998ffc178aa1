package chat

import "errors"

var (
	// ErrNoSession means no authenticated session is present. Callers treat
	// this as a routing decision (send the user to login), not a failure.
	ErrNoSession = errors.New("no active session")

	// ErrNoUser means the current user's profile was never resolved.
	ErrNoUser = errors.New("no active user")

	// ErrEmptyMessage means the composer input was empty after trimming.
	ErrEmptyMessage = errors.New("empty message")

	// ErrNoChatSelected means a send was attempted with no chat open.
	ErrNoChatSelected = errors.New("no chat selected")

	// ErrUnknownChat means the chat id is not in the roster.
	ErrUnknownChat = errors.New("unknown chat")
)
