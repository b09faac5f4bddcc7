package models

import "errors"

var (
	// ErrInvalidCredentials covers both unknown email and wrong
	// password. The two must be indistinguishable to callers.
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrUserExists   = errors.New("user already exists")
	ErrUserNotFound = errors.New("user not found")

	// Token codec failures. Collapsed to a single 401 at the HTTP
	// boundary; the distinction only matters for internal logs and
	// for callers deciding whether a silent refresh makes sense.
	ErrTokenMalformed = errors.New("malformed token")
	ErrTokenSignature = errors.New("invalid token signature")
	ErrTokenExpired   = errors.New("token expired")

	ErrRefreshNotFound = errors.New("refresh token not found")

	// ErrRefreshReuse means an already-rotated refresh token was
	// presented again. That is the replay signal: the whole rotation
	// chain gets revoked when this surfaces.
	ErrRefreshReuse = errors.New("refresh token reuse detected")

	// ErrStoreUnavailable wraps collaborator timeouts and transport
	// failures. Retryable, and never conflated with an auth failure.
	ErrStoreUnavailable = errors.New("backing store unavailable")
)
