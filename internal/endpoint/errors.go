package endpoint

import "errors"

// Lifecycle and configuration errors are returned to the caller and leave
// the endpoint unchanged.
var (
	ErrEndpointExists    = errors.New("endpoint already exists for connection and direction")
	ErrStaleHandle       = errors.New("endpoint handle is stale")
	ErrNotConnected      = errors.New("endpoint is not connected")
	ErrAlreadyConnected  = errors.New("endpoint is connected to a different buffer")
	ErrRunning           = errors.New("endpoint is running")
	ErrFormatLocked      = errors.New("data format cannot change after connect")
	ErrUnsupportedFormat = errors.New("unsupported data format")
	ErrUnsupportedKey    = errors.New("configuration key not supported by endpoint")
	ErrRxBufferCount     = errors.New("receive buffer count must be 1 to 3")
)

// Fatal errors break the framing contract with an adjacent component. They
// are returned from Kick and stop the loop; they are never retried.
var (
	ErrMetadataDesync = errors.New("sco metadata desynchronised")
	ErrPacketSize     = errors.New("sco packet size must be even and non-zero")
	ErrBufferTooSmall = errors.New("buffer can never hold a complete sco frame")
)
