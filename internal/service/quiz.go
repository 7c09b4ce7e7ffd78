package service

import (
	"fmt"
	"math"
	"sort"
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

// QuizQuestion is one scored question. Correct holds either a single
// answer or a set; set-valued answers match regardless of order.
type QuizQuestion struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options,omitempty"`
	Points  int      `json:"points"`
	Correct []string `json:"-"`
}

// QuizSubmission is one student's scored attempt.
type QuizSubmission struct {
	StudentID   string         `json:"student_id"`
	StudentName string         `json:"student_name"`
	Answers     map[string]any `json:"answers"`
	Score       int            `json:"score"`
	Percentage  float64        `json:"percentage"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// Quiz holds the live state of one quiz.
type Quiz struct {
	ID          string
	RoomID      string
	Title       string
	Questions   []QuizQuestion
	CreatedBy   string
	CreatedAt   time.Time
	Active      bool
	submissions map[string]*QuizSubmission // studentID -> submission
}

func (q *Quiz) totalPoints() int {
	return lo.SumBy(q.Questions, func(qq QuizQuestion) int { return qq.Points })
}

// QuizService owns quiz lifecycle and scoring. Scoring is deterministic:
// identical answers always produce identical scores.
type QuizService struct {
	base

	mu      sync.Mutex
	quizzes map[string]*Quiz // quizID -> quiz
}

func NewQuizService(fan *fanout.Fanout, store interfaces.EnvelopeStore, logger zerolog.Logger) *QuizService {
	return &QuizService{
		base:    newBase(fan, store, logger, "quizzes"),
		quizzes: make(map[string]*Quiz),
	}
}

// Create registers a quiz and broadcasts quiz_created. Correct answers
// are kept server-side only; the broadcast payload never contains them.
func (s *QuizService) Create(sess *session.Session, roomID, title string, questions []QuizQuestion) (*Quiz, error) {
	if title == "" || len(questions) == 0 {
		return nil, types.ErrInvalidPayload
	}
	for i := range questions {
		if questions[i].ID == "" {
			questions[i].ID = fmt.Sprintf("q%d", i+1)
		}
		if questions[i].Points <= 0 || len(questions[i].Correct) == 0 {
			return nil, types.ErrInvalidPayload
		}
	}

	quiz := &Quiz{
		ID:          uuid.New().String(),
		RoomID:      roomID,
		Title:       title,
		Questions:   questions,
		CreatedBy:   sess.UserID,
		CreatedAt:   time.Now().UTC(),
		Active:      true,
		submissions: make(map[string]*QuizSubmission),
	}

	s.mu.Lock()
	s.quizzes[quiz.ID] = quiz
	s.mu.Unlock()

	env := s.fan.NewEnvelope(roomID, sess.UserID, sess.UserName, types.EnvelopeTypeQuiz, types.EventQuizCreated, map[string]any{
		"quiz_id":      quiz.ID,
		"title":        quiz.Title,
		"questions":    sanitizeQuestions(questions),
		"total_points": quiz.totalPoints(),
	})
	if err := s.emit(env); err != nil {
		return nil, err
	}
	return quiz, nil
}

func sanitizeQuestions(questions []QuizQuestion) []map[string]any {
	return lo.Map(questions, func(q QuizQuestion, _ int) map[string]any {
		return map[string]any{
			"id":      q.ID,
			"text":    q.Text,
			"options": q.Options,
			"points":  q.Points,
		}
	})
}

// Submit scores the answers and appends the submission, once per
// student. The room sees quiz_submitted; the creator additionally
// receives quiz_submission_received with the full breakdown.
func (s *QuizService) Submit(sess *session.Session, quizID string, answers map[string]any) (*QuizSubmission, error) {
	s.mu.Lock()
	quiz, ok := s.quizzes[quizID]
	if !ok {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: quiz %s", types.ErrNotFound, quizID)
	}
	if !quiz.Active {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: quiz is closed", types.ErrUnauthorizedAction)
	}
	if _, dup := quiz.submissions[sess.UserID]; dup {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", types.ErrUnauthorizedAction, ErrAlreadySubmitted)
	}

	score, percentage := scoreAnswers(quiz.Questions, answers)
	sub := &QuizSubmission{
		StudentID:   sess.UserID,
		StudentName: sess.UserName,
		Answers:     answers,
		Score:       score,
		Percentage:  percentage,
		SubmittedAt: time.Now().UTC(),
	}
	quiz.submissions[sess.UserID] = sub
	roomID := quiz.RoomID
	creator := quiz.CreatedBy
	submissionCount := len(quiz.submissions)
	s.mu.Unlock()

	env := s.fan.NewEnvelope(roomID, sess.UserID, sess.UserName, types.EnvelopeTypeQuiz, types.EventQuizSubmitted, map[string]any{
		"quiz_id":          quizID,
		"student_id":       sess.UserID,
		"score":            score,
		"percentage":       percentage,
		"submission_count": submissionCount,
	})
	if err := s.emit(env); err != nil {
		return nil, err
	}

	// Creator-only summary, addressed to the creator's user room.
	summary := s.fan.NewEnvelope(UserRoom(creator), sess.UserID, sess.UserName, types.EnvelopeTypeQuiz, types.EventQuizSubmissionReceived, map[string]any{
		"quiz_id":    quizID,
		"submission": sub,
	})
	if err := s.emit(summary); err != nil {
		s.logger.Warn().Err(err).Str("quiz", quizID).Msg("creator summary delivery failed")
	}

	return sub, nil
}

// scoreAnswers computes score and percentage. A question is worth its
// points when the given answer matches the correct answer; scalar
// answers compare directly, set-valued answers compare as sets.
func scoreAnswers(questions []QuizQuestion, answers map[string]any) (int, float64) {
	score := 0
	total := 0
	for _, q := range questions {
		total += q.Points
		given, ok := answers[q.ID]
		if !ok {
			continue
		}
		if answerMatches(q.Correct, given) {
			score += q.Points
		}
	}
	if total == 0 {
		return 0, 0
	}
	percentage := float64(score) / float64(total) * 100
	return score, math.Round(percentage*100) / 100
}

func answerMatches(correct []string, given any) bool {
	switch v := given.(type) {
	case string:
		return len(correct) == 1 && correct[0] == v
	case []any:
		if len(v) != len(correct) {
			return false
		}
		givenSet := make([]string, 0, len(v))
		for _, item := range v {
			str, ok := item.(string)
			if !ok {
				return false
			}
			givenSet = append(givenSet, str)
		}
		sort.Strings(givenSet)
		correctSet := append([]string(nil), correct...)
		sort.Strings(correctSet)
		for i := range correctSet {
			if correctSet[i] != givenSet[i] {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Get returns a quiz by id.
func (s *QuizService) Get(quizID string) (*Quiz, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	q, ok := s.quizzes[quizID]
	return q, ok
}

// PurgeOrphans drops quizzes whose room no longer exists.
func (s *QuizService) PurgeOrphans(roomExists func(string) bool) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for id, q := range s.quizzes {
		if !roomExists(q.RoomID) {
			delete(s.quizzes, id)
			purged++
		}
	}
	return purged
}
