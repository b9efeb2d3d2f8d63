/*
Package errs provides custom error types and application-level error code constants.

These error codes identify specific protocol or system errors both inside the server
and in communication with clients.
*/
package errs

// 1xxx: HTTP edge errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1007

	// ErrOriginNotAllowed indicates that the WebSocket handshake came from a disallowed origin.
	ErrOriginNotAllowed = 1008
)

// 2xxx: Relay protocol errors
const (
	// ErrMalformedMessage indicates that an inbound frame could not be parsed as an envelope.
	ErrMalformedMessage = 2201

	// ErrServerShuttingDown indicates that the relay no longer accepts connections.
	ErrServerShuttingDown = 2202
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000
)
