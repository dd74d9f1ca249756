package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest    = "E_PROTO_BAD_REQUEST"
	ErrChannelUnavailable = "E_CHANNEL_UNAVAILABLE"

	// Placement/mutation rejections.
	ErrBadRequest      = "E_BAD_REQUEST"
	ErrOverlap         = "E_OVERLAP"
	ErrOutOfBounds     = "E_OUT_OF_BOUNDS"
	ErrNotOwner        = "E_NOT_OWNER"
	ErrNoGround        = "E_NO_GROUND"
	ErrInvalidType     = "E_INVALID_TYPE"
	ErrUnknownInstance = "E_UNKNOWN_INSTANCE"
	ErrInternal        = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest:    {},
	ErrChannelUnavailable: {},
	ErrBadRequest:         {},
	ErrOverlap:            {},
	ErrOutOfBounds:        {},
	ErrNotOwner:           {},
	ErrNoGround:           {},
	ErrInvalidType:        {},
	ErrUnknownInstance:    {},
	ErrInternal:           {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
