package constants

// Error codes shared by the REST surface and the WS protocol.
const (
	ErrCodeAuthFailed        = "AUTH_FAILED"
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeRateLimited       = "RATE_LIMITED"
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeMessageTooLong    = "MESSAGE_TOO_LONG"
	ErrCodeMalformedEnvelope = "MALFORMED_ENVELOPE"
)

const (
	// IDRandomBytes is the entropy of server-generated record ids
	IDRandomBytes = 16

	// MaxMessageTextLength is the maximum text/caption length in characters
	MaxMessageTextLength = 1000

	// WSClientSendBufferSize is the per-client outbound frame buffer
	WSClientSendBufferSize = 256

	// WSBroadcastBufferSize is the hub broadcast queue size
	WSBroadcastBufferSize = 512

	// SessionEventBufferSize is the client-side transport event queue size
	SessionEventBufferSize = 256
)
