package types

import (
	"time"
)

// Envelope type constants. Every broadcast and every persisted record is
// one of these.
const (
	EnvelopeTypeText            = "text"
	EnvelopeTypeFile            = "file"
	EnvelopeTypeNotification    = "notification"
	EnvelopeTypePoll            = "poll"
	EnvelopeTypeQuiz            = "quiz"
	EnvelopeTypeWhiteboard      = "whiteboard"
	EnvelopeTypeScreenShare     = "screen_share"
	EnvelopeTypeLocation        = "location"
	EnvelopeTypeProctoringAlert = "proctoring_alert"
	EnvelopeTypeEmergency       = "emergency"
	EnvelopeTypeDashboard       = "dashboard_update"
)

// Room categories.
const (
	RoomCategoryChat      = "chat"
	RoomCategoryClassroom = "classroom"
	RoomCategoryExam      = "exam"
	RoomCategoryEmergency = "emergency"
	RoomCategoryTracking  = "tracking"
	RoomCategoryGeneral   = "general"
)

// Wire event names sent by clients.
const (
	EventJoinRoom               = "join_room"
	EventLeaveRoom              = "leave_room"
	EventSendMessage            = "send_message"
	EventGetChatHistory         = "get_chat_history"
	EventSubscribeNotifications = "subscribe_notifications"
	EventCreatePoll             = "create_poll"
	EventVotePoll               = "vote_poll"
	EventEndPoll                = "end_poll"
	EventCreateQuiz             = "create_quiz"
	EventSubmitQuiz             = "submit_quiz"
	EventJoinWhiteboard         = "join_whiteboard"
	EventWhiteboardDraw         = "whiteboard_draw"
	EventWhiteboardClear        = "whiteboard_clear"
	EventStartScreenShare       = "start_screen_share"
	EventStopScreenShare        = "stop_screen_share"
	EventScreenShareSignal      = "screen_share_signal"
	EventUpdateBusLocation      = "update_bus_location"
	EventGetBusLocation         = "get_bus_location"
	EventCreateEmergency        = "create_emergency_broadcast"
	EventAcknowledgeEmergency   = "acknowledge_emergency"
)

// Wire event names pushed by the server.
const (
	EventRoomJoined             = "room_joined"
	EventUserJoined             = "user_joined"
	EventUserLeft               = "user_left"
	EventNewMessage             = "new_message"
	EventChatHistory            = "chat_history"
	EventNotification           = "notification"
	EventPollCreated            = "poll_created"
	EventPollUpdated            = "poll_updated"
	EventPollEnded              = "poll_ended"
	EventQuizCreated            = "quiz_created"
	EventQuizSubmitted          = "quiz_submitted"
	EventQuizSubmissionReceived = "quiz_submission_received"
	EventWhiteboardState        = "whiteboard_state"
	EventWhiteboardElementAdded = "whiteboard_element_added"
	EventWhiteboardCleared      = "whiteboard_cleared"
	EventScreenShareStarted     = "screen_share_started"
	EventScreenShareStopped     = "screen_share_stopped"
	EventBusLocationUpdate      = "bus_location_update"
	EventBusLocation            = "bus_location"
	EventEmergencyBroadcast     = "emergency_broadcast"
	EventEmergencyAcknowledged  = "emergency_acknowledged"
	EventEmergencyEscalation    = "emergency_escalation"
	EventError                  = "error"
)

// Envelope is the unit of both fan-out and persistence. It is immutable
// once built; services construct a new envelope per action.
type Envelope struct {
	ID         string            `json:"id"`
	RoomID     string            `json:"room_id"`
	SenderID   string            `json:"sender_id"`
	SenderName string            `json:"sender_name"`
	Type       string            `json:"type"`
	Event      string            `json:"event"`
	Payload    map[string]any    `json:"payload"`
	Timestamp  time.Time         `json:"timestamp"`
	Meta       map[string]string `json:"meta,omitempty"`

	// Origin identifies the instance that produced the envelope. It is
	// carried on the backplane to suppress re-emission loops and is not
	// persisted.
	Origin string `json:"origin,omitempty"`
}

// RoomSettings carries per-room limits and feature flags.
type RoomSettings struct {
	MaxMembers       int  `json:"max_members"`
	AllowWhiteboard  bool `json:"allow_whiteboard"`
	AllowScreenShare bool `json:"allow_screen_share"`
}

// RoomInfo is the externally visible snapshot of a room, used by the
// admin API and membership notifications.
type RoomInfo struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Category    string       `json:"category"`
	SchoolID    string       `json:"school_id"`
	CreatedBy   string       `json:"created_by"`
	CreatedAt   time.Time    `json:"created_at"`
	MemberCount int          `json:"member_count"`
	Settings    RoomSettings `json:"settings"`
}

// ClientEvent is one inbound frame from a client connection.
type ClientEvent struct {
	Event  string         `json:"event" validate:"required"`
	RoomID string         `json:"room_id,omitempty"`
	Data   map[string]any `json:"data,omitempty"`
}

// ServerEvent is one outbound frame to a client connection.
type ServerEvent struct {
	Event     string    `json:"event"`
	RoomID    string    `json:"room_id,omitempty"`
	Data      any       `json:"data,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorPayload is the body of an "error" event. Errors surface on the
// acting session's channel, never as a silent drop.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
