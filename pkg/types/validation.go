package types

import (
	"encoding/json"
	"regexp"
)

var (
	userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	roomIDRegex = regexp.MustCompile(`^[a-zA-Z0-9:_-]+$`)
)

// maxPayloadBytes bounds a single envelope payload (64KB).
const maxPayloadBytes = 65536

// IsValidUserID checks user identifier format. 1-64 characters,
// alphanumeric plus underscore/hyphen.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 64 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidRoomID checks room identifier format. Room ids may carry colon
// separators for scoped sub-rooms ("school:42", "user:7", "room:12:role:teacher").
func IsValidRoomID(roomID string) bool {
	if len(roomID) < 1 || len(roomID) > 128 {
		return false
	}
	return roomIDRegex.MatchString(roomID)
}

// IsValidRoomCategory checks the category against the known set.
func IsValidRoomCategory(category string) bool {
	switch category {
	case RoomCategoryChat, RoomCategoryClassroom, RoomCategoryExam,
		RoomCategoryEmergency, RoomCategoryTracking, RoomCategoryGeneral:
		return true
	default:
		return false
	}
}

// IsValidEnvelopeType checks the type against the enumerated set.
func IsValidEnvelopeType(t string) bool {
	switch t {
	case EnvelopeTypeText, EnvelopeTypeFile, EnvelopeTypeNotification,
		EnvelopeTypePoll, EnvelopeTypeQuiz, EnvelopeTypeWhiteboard,
		EnvelopeTypeScreenShare, EnvelopeTypeLocation,
		EnvelopeTypeProctoringAlert, EnvelopeTypeEmergency,
		EnvelopeTypeDashboard:
		return true
	default:
		return false
	}
}

// Validate checks envelope shape before fan-out or persistence.
func (e *Envelope) Validate() error {
	if !IsValidRoomID(e.RoomID) {
		return ErrInvalidPayload
	}
	if !IsValidEnvelopeType(e.Type) {
		return ErrInvalidPayload
	}
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return ErrInvalidPayload
	}
	if len(payload) > maxPayloadBytes {
		return ErrInvalidPayload
	}
	return nil
}
