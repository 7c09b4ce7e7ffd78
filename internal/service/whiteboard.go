package service

import (
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"classhub/internal/fanout"
	"classhub/internal/session"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// WhiteboardState is one room's shared board: an element history capped
// at a sliding-window limit and a version counter that increments on
// every accepted element and every clear.
type WhiteboardState struct {
	Elements []map[string]any
	Version  int
}

// WhiteboardService applies last-writer-wins element updates; there is
// no merge, concurrent draws simply interleave in arrival order.
type WhiteboardService struct {
	base
	historyLimit int

	mu     sync.Mutex
	boards map[string]*WhiteboardState // roomID -> state
}

func NewWhiteboardService(fan *fanout.Fanout, store interfaces.EnvelopeStore, historyLimit int, logger zerolog.Logger) *WhiteboardService {
	return &WhiteboardService{
		base:         newBase(fan, store, logger, "whiteboard"),
		historyLimit: historyLimit,
		boards:       make(map[string]*WhiteboardState),
	}
}

// State snapshots the board for a joining session, creating it on first
// reference.
func (s *WhiteboardService) State(roomID string) (elements []map[string]any, version int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	board := s.board(roomID)
	return append([]map[string]any(nil), board.Elements...), board.Version
}

func (s *WhiteboardService) board(roomID string) *WhiteboardState {
	board, ok := s.boards[roomID]
	if !ok {
		board = &WhiteboardState{}
		s.boards[roomID] = board
	}
	return board
}

// Draw appends one element and broadcasts whiteboard_element_added. When
// the history limit is exceeded the oldest elements are dropped; the
// version counter still reflects every accepted element.
func (s *WhiteboardService) Draw(sess *session.Session, roomID string, element map[string]any) (int, error) {
	if len(element) == 0 {
		return 0, types.ErrInvalidPayload
	}

	s.mu.Lock()
	board := s.board(roomID)
	board.Elements = append(board.Elements, element)
	if len(board.Elements) > s.historyLimit {
		board.Elements = board.Elements[len(board.Elements)-s.historyLimit:]
	}
	board.Version++
	version := board.Version
	s.mu.Unlock()

	env := s.fan.NewEnvelope(roomID, sess.UserID, sess.UserName, types.EnvelopeTypeWhiteboard, types.EventWhiteboardElementAdded, map[string]any{
		"element": element,
		"version": version,
	})
	if err := s.emit(env); err != nil {
		return 0, err
	}
	return version, nil
}

// Clear wipes the element history. A clear is itself a versioned
// mutation.
func (s *WhiteboardService) Clear(sess *session.Session, roomID string) (int, error) {
	s.mu.Lock()
	board, ok := s.boards[roomID]
	if !ok {
		s.mu.Unlock()
		return 0, fmt.Errorf("%w: no whiteboard in room %s", types.ErrNotFound, roomID)
	}
	board.Elements = nil
	board.Version++
	version := board.Version
	s.mu.Unlock()

	env := s.fan.NewEnvelope(roomID, sess.UserID, sess.UserName, types.EnvelopeTypeWhiteboard, types.EventWhiteboardCleared, map[string]any{
		"version": version,
	})
	if err := s.emit(env); err != nil {
		return 0, err
	}
	return version, nil
}

// PurgeOrphans drops boards whose room no longer exists.
func (s *WhiteboardService) PurgeOrphans(roomExists func(string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for roomID := range s.boards {
		if !roomExists(roomID) {
			delete(s.boards, roomID)
			purged++
		}
	}
	return purged
}
