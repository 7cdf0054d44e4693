package spawn

import "errors"

var (
	ErrClosed          = errors.New("spawn: endpoint closed")
	ErrInvalidPayload  = errors.New("spawn: payload is not valid JSON")
	ErrFrameSize       = errors.New("spawn: invalid frame size")
	ErrJobNotPortable  = errors.New("spawn: job functions cannot leave this process")
	ErrScriptNotFound  = errors.New("spawn: script not found")
	ErrNoLoader        = errors.New("spawn: no script loader configured")
	ErrNoBootstrap     = errors.New("spawn: no bootstrap resource")
	ErrProtocolVersion = errors.New("spawn: unsupported protocol version")
)
