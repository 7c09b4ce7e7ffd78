package service

import "errors"

var (
	ErrPollActive       = errors.New("a poll is already active in this room")
	ErrPollClosed       = errors.New("poll is not active")
	ErrAlreadyVoted     = errors.New("participant already voted")
	ErrAlreadySubmitted = errors.New("quiz already submitted by this student")
	ErrShareActive      = errors.New("a screen share is already active in this room")
	ErrNotSharer        = errors.New("only the original sharer may stop the share")
	ErrBadCoordinates   = errors.New("coordinates out of range")
)
