package realtime

import "errors"

var (
	ErrRoomLimit       = errors.New("room limit reached")
	ErrInvalidRoom     = errors.New("invalid room")
	ErrConnectionLimit = errors.New("connection limit reached")
	ErrHubClosed       = errors.New("realtime hub closed")
	ErrUnknownClient   = errors.New("client not registered")
)
