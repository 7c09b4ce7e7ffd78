// Package hub dispatches inbound client events to the domain services.
// Every frame passes the same pipeline: decode, rate limit, payload
// validation, membership and feature checks, then the service call.
// Failures surface as an "error" event on the acting connection.
package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"classhub/internal/room"
	"classhub/internal/service"
	"classhub/internal/session"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// Services bundles the domain services the hub routes to.
type Services struct {
	Chat          *service.ChatService
	Notifications *service.NotificationService
	Polls         *service.PollService
	Quizzes       *service.QuizService
	Whiteboard    *service.WhiteboardService
	ScreenShare   *service.ScreenShareService
	Locations     *service.LocationService
	Emergencies   *service.EmergencyService
}

// Hub is the event router for one instance.
type Hub struct {
	rooms    *room.Registry
	svc      Services
	limiter  *RateLimiter
	validate *validator.Validate
	logger   zerolog.Logger
}

func New(rooms *room.Registry, svc Services, limiter *RateLimiter, logger zerolog.Logger) *Hub {
	return &Hub{
		rooms:    rooms,
		svc:      svc,
		limiter:  limiter,
		validate: validator.New(),
		logger:   logger.With().Str("component", "hub").Logger(),
	}
}

// Dispatch handles one raw frame from a client connection. All errors
// are reported back on the connection; Dispatch itself never fails the
// read pump.
func (h *Hub) Dispatch(ctx context.Context, sess *session.Session, sender interfaces.Sender, raw []byte) {
	var ev types.ClientEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		h.sendError(sender, "", fmt.Errorf("%w: malformed frame", types.ErrInvalidPayload))
		return
	}
	if err := h.validate.Struct(ev); err != nil {
		h.sendError(sender, ev.RoomID, fmt.Errorf("%w: event name required", types.ErrInvalidPayload))
		return
	}

	if !h.limiter.Allow(sess.ID, time.Now()) {
		h.sendError(sender, ev.RoomID, types.ErrRateLimited)
		return
	}

	if err := h.route(ctx, sess, sender, ev); err != nil {
		h.logger.Debug().Err(err).
			Str("event", ev.Event).
			Str("session", sess.ID).
			Msg("event rejected")
		h.sendError(sender, ev.RoomID, err)
	}
}

func (h *Hub) route(ctx context.Context, sess *session.Session, sender interfaces.Sender, ev types.ClientEvent) error {
	switch ev.Event {
	case types.EventJoinRoom:
		return h.joinRoom(sess, sender, ev)
	case types.EventLeaveRoom:
		return h.leaveRoom(sess, ev)
	case types.EventSendMessage:
		return h.sendMessage(sess, ev)
	case types.EventGetChatHistory:
		return h.chatHistory(ctx, sess, sender, ev)
	case types.EventSubscribeNotifications:
		return h.subscribeNotifications(sess, sender)
	case types.EventCreatePoll:
		return h.createPoll(sess, ev)
	case types.EventVotePoll:
		return h.votePoll(sess, ev)
	case types.EventEndPoll:
		return h.endPoll(sess, ev)
	case types.EventCreateQuiz:
		return h.createQuiz(sess, ev)
	case types.EventSubmitQuiz:
		return h.submitQuiz(sess, ev)
	case types.EventJoinWhiteboard:
		return h.joinWhiteboard(sess, sender, ev)
	case types.EventWhiteboardDraw:
		return h.whiteboardDraw(sess, ev)
	case types.EventWhiteboardClear:
		return h.whiteboardClear(sess, ev)
	case types.EventStartScreenShare:
		return h.startScreenShare(sess, ev)
	case types.EventStopScreenShare:
		return h.stopScreenShare(sess, ev)
	case types.EventScreenShareSignal:
		return h.screenShareSignal(sess, ev)
	case types.EventUpdateBusLocation:
		return h.updateBusLocation(sess, ev)
	case types.EventGetBusLocation:
		return h.getBusLocation(sess, sender, ev)
	case types.EventCreateEmergency:
		return h.createEmergency(sess, ev)
	case types.EventAcknowledgeEmergency:
		return h.acknowledgeEmergency(sess, ev)
	default:
		return fmt.Errorf("%w: %s: %s", types.ErrInvalidPayload, ErrUnknownEvent, ev.Event)
	}
}

// decode round-trips a loosely typed payload into a request struct and
// runs its validation tags.
func (h *Hub) decode(data map[string]any, out any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return types.ErrInvalidPayload
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidPayload, err)
	}
	if err := h.validate.Struct(out); err != nil {
		return fmt.Errorf("%w: %v", types.ErrInvalidPayload, err)
	}
	return nil
}

func (h *Hub) requireMember(sess *session.Session, roomID string) error {
	if roomID == "" || !sess.InRoom(roomID) {
		return fmt.Errorf("%w: %s", types.ErrUnauthorizedAction, ErrNotMember)
	}
	return nil
}

func (h *Hub) requireFeature(roomID string, allowed func(types.RoomSettings) bool, feature string) error {
	r, ok := h.rooms.Get(roomID)
	if !ok {
		return fmt.Errorf("%w: room %s", types.ErrNotFound, roomID)
	}
	if !allowed(r.Settings) {
		return fmt.Errorf("%w: %s disabled in this room", types.ErrUnauthorizedAction, feature)
	}
	return nil
}

func (h *Hub) sendError(sender interfaces.Sender, roomID string, err error) {
	ev := types.ServerEvent{
		Event:  types.EventError,
		RoomID: roomID,
		Data: types.ErrorPayload{
			Code:    types.ErrorCode(err),
			Message: err.Error(),
		},
		Timestamp: time.Now().UTC(),
	}
	if sendErr := sender.SendEvent(ev); sendErr != nil {
		h.logger.Debug().Err(sendErr).Msg("error event delivery failed")
	}
}

// --- room membership ---

type joinRoomRequest struct {
	Name     string              `json:"name"`
	Category string              `json:"category"`
	Settings *types.RoomSettings `json:"settings"`
}

func (h *Hub) joinRoom(sess *session.Session, sender interfaces.Sender, ev types.ClientEvent) error {
	var req joinRoomRequest
	if err := h.decode(ev.Data, &req); err != nil {
		return err
	}

	info, err := h.rooms.Join(sess, ev.RoomID, &room.CreateMeta{
		Name:     req.Name,
		Category: req.Category,
		Settings: req.Settings,
	})
	if err != nil {
		return err
	}

	return sender.SendEvent(types.ServerEvent{
		Event:     types.EventRoomJoined,
		RoomID:    ev.RoomID,
		Data:      info,
		Timestamp: time.Now().UTC(),
	})
}

func (h *Hub) leaveRoom(sess *session.Session, ev types.ClientEvent) error {
	if ev.RoomID == "" {
		return types.ErrInvalidPayload
	}
	h.rooms.Leave(sess, ev.RoomID)
	return nil
}

// --- chat ---

func (h *Hub) sendMessage(sess *session.Session, ev types.ClientEvent) error {
	if err := h.requireMember(sess, ev.RoomID); err != nil {
		return err
	}
	if len(ev.Data) == 0 {
		return types.ErrInvalidPayload
	}

	msgType, _ := ev.Data["type"].(string)
	_, err := h.svc.Chat.Send(sess, ev.RoomID, msgType, ev.Data)
	return err
}

type chatHistoryRequest struct {
	Limit int `json:"limit" validate:"gte=0,lte=500"`
}

func (h *Hub) chatHistory(ctx context.Context, sess *session.Session, sender interfaces.Sender, ev types.ClientEvent) error {
	if err := h.requireMember(sess, ev.RoomID); err != nil {
		return err
	}

	var req chatHistoryRequest
	if err := h.decode(ev.Data, &req); err != nil {
		return err
	}
	if req.Limit == 0 {
		req.Limit = 50
	}

	messages, err := h.svc.Chat.History(ctx, ev.RoomID, req.Limit)
	if err != nil {
		return err
	}

	return sender.SendEvent(types.ServerEvent{
		Event:  types.EventChatHistory,
		RoomID: ev.RoomID,
		Data: map[string]any{
			"room_id":  ev.RoomID,
			"messages": messages,
		},
		Timestamp: time.Now().UTC(),
	})
}

// --- notifications ---

func (h *Hub) subscribeNotifications(sess *session.Session, sender interfaces.Sender) error {
	// The gateway joins the user room at connect; re-subscribing is an
	// idempotent join that also drains the offline queue.
	userRoom := service.UserRoom(sess.UserID)
	if _, err := h.rooms.Join(sess, userRoom, nil); err != nil {
		return err
	}
	h.svc.Notifications.Drain(sess, sender, time.Now().UTC())
	return nil
}

// --- polls ---

type createPollRequest struct {
	Question string   `json:"question" validate:"required"`
	Options  []string `json:"options" validate:"min=2"`
}

func (h *Hub) createPoll(sess *session.Session, ev types.ClientEvent) error {
	if err := h.requireMember(sess, ev.RoomID); err != nil {
		return err
	}
	var req createPollRequest
	if err := h.decode(ev.Data, &req); err != nil {
		return err
	}
	_, err := h.svc.Polls.Create(sess, ev.RoomID, req.Question, req.Options)
	return err
}

type votePollRequest struct {
	OptionID string `json:"option_id" validate:"required"`
}

func (h *Hub) votePoll(sess *session.Session, ev types.ClientEvent) error {
	if err := h.requireMember(sess, ev.RoomID); err != nil {
		return err
	}
	var req votePollRequest
	if err := h.decode(ev.Data, &req); err != nil {
		return err
	}
	_, err := h.svc.Polls.Vote(sess, ev.RoomID, req.OptionID)
	return err
}

func (h *Hub) endPoll(sess *session.Session, ev types.ClientEvent) error {
	if err := h.requireMember(sess, ev.RoomID); err != nil {
		return err
	}
	_, err := h.svc.Polls.End(sess, ev.RoomID)
	return err
}

// --- quizzes ---

type quizQuestionRequest struct {
	ID      string   `json:"id"`
	Text    string   `json:"text" validate:"required"`
	Options []string `json:"options"`
	Points  int      `json:"points" validate:"gt=0"`
	Correct []string `json:"correct" validate:"min=1"`
}

type createQuizRequest struct {
	Title     string                `json:"title" validate:"required"`
	Questions []quizQuestionRequest `json:"questions" validate:"min=1,dive"`
}

func (h *Hub) createQuiz(sess *session.Session, ev types.ClientEvent) error {
	if err := h.requireMember(sess, ev.RoomID); err != nil {
		return err
	}
	var req createQuizRequest
	if err := h.decode(ev.Data, &req); err != nil {
		return err
	}

	questions := make([]service.QuizQuestion, 0, len(req.Questions))
	for _, q := range req.Questions {
		questions = append(questions, service.QuizQuestion{
			ID:      q.ID,
			Text:    q.Text,
			Options: q.Options,
			Points:  q.Points,
			Correct: q.Correct,
		})
	}
	_, err := h.svc.Quizzes.Create(sess, ev.RoomID, req.Title, questions)
	return err
}

type submitQuizRequest struct {
	QuizID  string         `json:"quiz_id" validate:"required"`
	Answers map[string]any `json:"answers" validate:"required"`
}

func (h *Hub) submitQuiz(sess *session.Session, ev types.ClientEvent) error {
	var req submitQuizRequest
	if err := h.decode(ev.Data, &req); err != nil {
		return err
	}

	quiz, ok := h.svc.Quizzes.Get(req.QuizID)
	if !ok {
		return fmt.Errorf("%w: quiz %s", types.ErrNotFound, req.QuizID)
	}
	if err := h.requireMember(sess, quiz.RoomID); err != nil {
		return err
	}

	_, err := h.svc.Quizzes.Submit(sess, req.QuizID, req.Answers)
	return err
}

// --- whiteboard ---

func (h *Hub) joinWhiteboard(sess *session.Session, sender interfaces.Sender, ev types.ClientEvent) error {
	if err := h.requireMember(sess, ev.RoomID); err != nil {
		return err
	}
	if err := h.requireFeature(ev.RoomID, func(s types.RoomSettings) bool { return s.AllowWhiteboard }, "whiteboard"); err != nil {
		return err
	}

	elements, version := h.svc.Whiteboard.State(ev.RoomID)
	return sender.SendEvent(types.ServerEvent{
		Event:  types.EventWhiteboardState,
		RoomID: ev.RoomID,
		Data: map[string]any{
			"elements": elements,
			"version":  version,
		},
		Timestamp: time.Now().UTC(),
	})
}

type whiteboardDrawRequest struct {
	Element map[string]any `json:"element" validate:"required"`
}

func (h *Hub) whiteboardDraw(sess *session.Session, ev types.ClientEvent) error {
	if err := h.requireMember(sess, ev.RoomID); err != nil {
		return err
	}
	if err := h.requireFeature(ev.RoomID, func(s types.RoomSettings) bool { return s.AllowWhiteboard }, "whiteboard"); err != nil {
		return err
	}

	var req whiteboardDrawRequest
	if err := h.decode(ev.Data, &req); err != nil {
		return err
	}
	_, err := h.svc.Whiteboard.Draw(sess, ev.RoomID, req.Element)
	return err
}

func (h *Hub) whiteboardClear(sess *session.Session, ev types.ClientEvent) error {
	if err := h.requireMember(sess, ev.RoomID); err != nil {
		return err
	}
	if err := h.requireFeature(ev.RoomID, func(s types.RoomSettings) bool { return s.AllowWhiteboard }, "whiteboard"); err != nil {
		return err
	}
	_, err := h.svc.Whiteboard.Clear(sess, ev.RoomID)
	return err
}

// --- screen share ---

func (h *Hub) startScreenShare(sess *session.Session, ev types.ClientEvent) error {
	if err := h.requireMember(sess, ev.RoomID); err != nil {
		return err
	}
	if err := h.requireFeature(ev.RoomID, func(s types.RoomSettings) bool { return s.AllowScreenShare }, "screen share"); err != nil {
		return err
	}
	return h.svc.ScreenShare.Start(sess, ev.RoomID)
}

func (h *Hub) stopScreenShare(sess *session.Session, ev types.ClientEvent) error {
	if err := h.requireMember(sess, ev.RoomID); err != nil {
		return err
	}
	return h.svc.ScreenShare.Stop(sess, ev.RoomID)
}

type screenShareSignalRequest struct {
	TargetUserID string         `json:"target_user_id" validate:"required"`
	Signal       map[string]any `json:"signal" validate:"required"`
}

func (h *Hub) screenShareSignal(sess *session.Session, ev types.ClientEvent) error {
	if err := h.requireMember(sess, ev.RoomID); err != nil {
		return err
	}
	var req screenShareSignalRequest
	if err := h.decode(ev.Data, &req); err != nil {
		return err
	}
	return h.svc.ScreenShare.Signal(sess, ev.RoomID, req.TargetUserID, req.Signal)
}

// --- bus location ---

type busLocationRequest struct {
	BusID     string  `json:"bus_id" validate:"required"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Speed     float64 `json:"speed"`
	Heading   float64 `json:"heading"`
	Accuracy  float64 `json:"accuracy"`
}

func (h *Hub) updateBusLocation(sess *session.Session, ev types.ClientEvent) error {
	if err := h.requireMember(sess, ev.RoomID); err != nil {
		return err
	}
	var req busLocationRequest
	if err := h.decode(ev.Data, &req); err != nil {
		return err
	}
	_, err := h.svc.Locations.Update(sess, ev.RoomID, req.BusID, service.BusLocation{
		Latitude:  req.Latitude,
		Longitude: req.Longitude,
		Speed:     req.Speed,
		Heading:   req.Heading,
		Accuracy:  req.Accuracy,
	})
	return err
}

type getBusLocationRequest struct {
	BusID string `json:"bus_id" validate:"required"`
}

func (h *Hub) getBusLocation(sess *session.Session, sender interfaces.Sender, ev types.ClientEvent) error {
	var req getBusLocationRequest
	if err := h.decode(ev.Data, &req); err != nil {
		return err
	}

	loc, err := h.svc.Locations.Get(req.BusID)
	if err != nil {
		return err
	}
	return sender.SendEvent(types.ServerEvent{
		Event:     types.EventBusLocation,
		RoomID:    loc.RoomID,
		Data:      loc,
		Timestamp: time.Now().UTC(),
	})
}

// --- emergency ---

type createEmergencyRequest struct {
	Priority      string   `json:"priority" validate:"required,oneof=info warning critical"`
	Message       string   `json:"message" validate:"required"`
	Audience      string   `json:"audience"`
	RequiredRoles []string `json:"required_roles"`
}

func (h *Hub) createEmergency(sess *session.Session, ev types.ClientEvent) error {
	// Emergency broadcasts are a staff capability.
	if sess.Role != "admin" && sess.Role != "teacher" {
		return fmt.Errorf("%w: role %s may not broadcast emergencies", types.ErrUnauthorizedAction, sess.Role)
	}

	var req createEmergencyRequest
	if err := h.decode(ev.Data, &req); err != nil {
		return err
	}
	_, err := h.svc.Emergencies.Create(sess, req.Priority, req.Message, req.Audience, req.RequiredRoles)
	return err
}

type acknowledgeEmergencyRequest struct {
	BroadcastID string `json:"broadcast_id" validate:"required"`
}

func (h *Hub) acknowledgeEmergency(sess *session.Session, ev types.ClientEvent) error {
	var req acknowledgeEmergencyRequest
	if err := h.decode(ev.Data, &req); err != nil {
		return err
	}
	return h.svc.Emergencies.Acknowledge(sess, req.BroadcastID)
}
