package hub

import "errors"

var (
	ErrUnknownEvent = errors.New("unknown event")
	ErrNotMember    = errors.New("not a member of the room")
)
