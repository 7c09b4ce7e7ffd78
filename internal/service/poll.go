package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"classhub/internal/fanout"
	"classhub/internal/session"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// PollOption is one votable choice.
type PollOption struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

// Poll holds the live state of one room's poll.
type Poll struct {
	ID        string
	RoomID    string
	Question  string
	Options   []PollOption
	CreatedBy string
	CreatedAt time.Time
	Active    bool
	voters    map[string]string // userID -> optionID
}

func (p *Poll) totalVotes() int {
	return lo.SumBy(p.Options, func(o PollOption) int { return o.Votes })
}

func (p *Poll) results() map[string]any {
	return map[string]any{
		"poll_id":     p.ID,
		"question":    p.Question,
		"options":     append([]PollOption(nil), p.Options...),
		"total_votes": p.totalVotes(),
	}
}

// PollService keeps at most one active poll per room.
//
// Duplicate votes are rejected: at most one vote is counted per
// participant, enforced against the poll's voter list.
type PollService struct {
	base

	mu    sync.Mutex
	polls map[string]*Poll // roomID -> active poll
}

func NewPollService(fan *fanout.Fanout, store interfaces.EnvelopeStore, logger zerolog.Logger) *PollService {
	return &PollService{
		base:  newBase(fan, store, logger, "polls"),
		polls: make(map[string]*Poll),
	}
}

// Create starts a poll in the room and broadcasts poll_created. Creating
// while another poll is active in the room is rejected.
func (s *PollService) Create(sess *session.Session, roomID, question string, options []string) (*Poll, error) {
	if question == "" || len(options) < 2 {
		return nil, types.ErrInvalidPayload
	}

	poll := &Poll{
		ID:        uuid.New().String(),
		RoomID:    roomID,
		Question:  question,
		CreatedBy: sess.UserID,
		CreatedAt: time.Now().UTC(),
		Active:    true,
		voters:    make(map[string]string),
	}
	for i, text := range options {
		poll.Options = append(poll.Options, PollOption{ID: fmt.Sprintf("opt-%d", i+1), Text: text})
	}

	s.mu.Lock()
	if existing, ok := s.polls[roomID]; ok && existing.Active {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", types.ErrUnauthorizedAction, ErrPollActive)
	}
	s.polls[roomID] = poll
	s.mu.Unlock()

	env := s.fan.NewEnvelope(roomID, sess.UserID, sess.UserName, types.EnvelopeTypePoll, types.EventPollCreated, poll.results())
	if err := s.emit(env); err != nil {
		return nil, err
	}
	return poll, nil
}

// Vote counts one vote for the option and broadcasts poll_updated with
// the running results.
func (s *PollService) Vote(sess *session.Session, roomID, optionID string) (*Poll, error) {
	s.mu.Lock()
	poll, ok := s.polls[roomID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: no poll in room %s", types.ErrNotFound, roomID)
	}
	if !poll.Active {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", types.ErrUnauthorizedAction, ErrPollClosed)
	}
	if _, voted := poll.voters[sess.UserID]; voted {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", types.ErrUnauthorizedAction, ErrAlreadyVoted)
	}

	idx := -1
	for i := range poll.Options {
		if poll.Options[i].ID == optionID {
			idx = i
			break
		}
	}
	if idx < 0 {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: option %s", types.ErrNotFound, optionID)
	}

	poll.Options[idx].Votes++
	poll.voters[sess.UserID] = optionID
	payload := poll.results()
	s.mu.Unlock()

	env := s.fan.NewEnvelope(roomID, sess.UserID, sess.UserName, types.EnvelopeTypePoll, types.EventPollUpdated, payload)
	if err := s.emit(env); err != nil {
		return nil, err
	}
	return poll, nil
}

// End closes the poll and broadcasts the final results. Only the creator
// may end a poll.
func (s *PollService) End(sess *session.Session, roomID string) (*Poll, error) {
	s.mu.Lock()
	poll, ok := s.polls[roomID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: no poll in room %s", types.ErrNotFound, roomID)
	}
	if poll.CreatedBy != sess.UserID {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: only the poll creator may end it", types.ErrUnauthorizedAction)
	}
	poll.Active = false
	delete(s.polls, roomID)
	payload := poll.results()
	s.mu.Unlock()

	env := s.fan.NewEnvelope(roomID, sess.UserID, sess.UserName, types.EnvelopeTypePoll, types.EventPollEnded, payload)
	if err := s.emit(env); err != nil {
		return nil, err
	}
	return poll, nil
}

// Get returns the room's active poll.
func (s *PollService) Get(roomID string) (*Poll, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.polls[roomID]
	return p, ok
}

// PurgeOrphans drops poll state for rooms that no longer exist.
func (s *PollService) PurgeOrphans(roomExists func(string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for roomID := range s.polls {
		if !roomExists(roomID) {
			delete(s.polls, roomID)
			purged++
		}
	}
	return purged
}
