package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"classhub/pkg/types"
)

const appendBuffer = 1000

// Store is the durable append-only envelope gateway over SQLite. All
// writes go through a single writer goroutine; SQLite performs poorly
// under concurrent writers and the hub never needs write feedback.
//
// Persistence is best-effort: Append failures are logged and swallowed,
// never surfaced to the acting client.
type Store struct {
	db      *sql.DB
	enabled bool
	logger  zerolog.Logger

	appendCh chan *types.Envelope
	shutdown chan struct{}
	wg       sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// Open initializes the store. With enabled false the store is a no-op
// sink: Append drops, Recent returns nothing, Sweep deletes nothing.
func Open(path string, enabled bool, logger zerolog.Logger) (*Store, error) {
	s := &Store{
		enabled:  enabled,
		logger:   logger.With().Str("component", "store").Logger(),
		appendCh: make(chan *types.Envelope, appendBuffer),
		shutdown: make(chan struct{}),
	}

	if !enabled {
		return s, nil
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	if err := applyPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := applySchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s.db = db
	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

func (s *Store) writeLoop() {
	defer s.wg.Done()

	for {
		select {
		case env := <-s.appendCh:
			if err := s.insert(env); err != nil {
				s.logger.Error().Err(err).Str("room", env.RoomID).Str("event", env.Event).Msg("envelope append failed")
			}
		case <-s.shutdown:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case env := <-s.appendCh:
					if err := s.insert(env); err != nil {
						s.logger.Error().Err(err).Str("room", env.RoomID).Msg("envelope append failed during shutdown")
					}
				default:
					return
				}
			}
		}
	}
}

func (s *Store) insert(env *types.Envelope) error {
	payload, err := json.Marshal(env.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	var meta []byte
	if len(env.Meta) > 0 {
		meta, err = json.Marshal(env.Meta)
		if err != nil {
			return fmt.Errorf("failed to marshal meta: %w", err)
		}
	}

	_, err = s.db.Exec(`
		INSERT INTO envelopes (id, room_id, sender_id, sender_name, type, event, payload, meta, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		env.ID, env.RoomID, env.SenderID, env.SenderName, env.Type, env.Event,
		string(payload), nullable(meta), env.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("failed to insert envelope: %w", err)
	}
	return nil
}

func nullable(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

// Append queues an envelope for durable write. Fire-and-forget: a full
// queue drops the envelope with a log line rather than blocking the
// real-time path.
func (s *Store) Append(env *types.Envelope) {
	if !s.enabled {
		return
	}

	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return
	}

	select {
	case s.appendCh <- env:
	default:
		s.logger.Warn().Str("room", env.RoomID).Str("event", env.Event).Msg("append queue full, envelope dropped")
	}
}

// Recent returns the most recent limit envelopes for a room, ordered
// oldest-first for history replay.
func (s *Store) Recent(ctx context.Context, roomID string, limit int) ([]*types.Envelope, error) {
	if !s.enabled {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, sender_id, sender_name, type, event, payload, meta, timestamp
		FROM envelopes
		WHERE room_id = ?
		ORDER BY timestamp DESC
		LIMIT ?`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer func() { _ = rows.Close() }()

	envelopes, err := scanEnvelopes(rows)
	if err != nil {
		return nil, err
	}

	// Reverse newest-first query order into replay order.
	for i, j := 0, len(envelopes)-1; i < j; i, j = i+1, j-1 {
		envelopes[i], envelopes[j] = envelopes[j], envelopes[i]
	}
	return envelopes, nil
}

// RecentByType returns a room's most recent envelopes restricted to the
// given types, oldest-first. The type filter runs in SQL so unrelated
// room traffic never eats into the limit.
func (s *Store) RecentByType(ctx context.Context, roomID string, limit int, envTypes ...string) ([]*types.Envelope, error) {
	if !s.enabled || len(envTypes) == 0 {
		return nil, nil
	}
	if limit <= 0 {
		limit = 50
	}

	placeholders := strings.TrimPrefix(strings.Repeat(",?", len(envTypes)), ",")
	args := make([]any, 0, len(envTypes)+2)
	args = append(args, roomID)
	for _, envType := range envTypes {
		args = append(args, envType)
	}
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT id, room_id, sender_id, sender_name, type, event, payload, meta, timestamp
		FROM envelopes
		WHERE room_id = ? AND type IN (%s)
		ORDER BY timestamp DESC
		LIMIT ?`, placeholders), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query history by type: %w", err)
	}
	defer func() { _ = rows.Close() }()

	envelopes, err := scanEnvelopes(rows)
	if err != nil {
		return nil, err
	}
	for i, j := 0, len(envelopes)-1; i < j; i, j = i+1, j-1 {
		envelopes[i], envelopes[j] = envelopes[j], envelopes[i]
	}
	return envelopes, nil
}

func scanEnvelopes(rows *sql.Rows) ([]*types.Envelope, error) {
	var envelopes []*types.Envelope
	for rows.Next() {
		var env types.Envelope
		var payload string
		var meta sql.NullString

		if err := rows.Scan(&env.ID, &env.RoomID, &env.SenderID, &env.SenderName,
			&env.Type, &env.Event, &payload, &meta, &env.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan envelope: %w", err)
		}

		if err := json.Unmarshal([]byte(payload), &env.Payload); err != nil {
			return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
		}
		if meta.Valid {
			if err := json.Unmarshal([]byte(meta.String), &env.Meta); err != nil {
				return nil, fmt.Errorf("failed to unmarshal meta: %w", err)
			}
		}
		envelopes = append(envelopes, &env)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating envelope rows: %w", err)
	}
	return envelopes, nil
}

// Sweep deletes envelopes older than the cutoff and reports how many
// were removed. Run by the presence monitor on the retention schedule;
// failures are the caller's to log and swallow.
func (s *Store) Sweep(ctx context.Context, olderThan time.Time) (int64, error) {
	if !s.enabled {
		return 0, nil
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM envelopes WHERE timestamp < ?`, olderThan)
	if err != nil {
		return 0, fmt.Errorf("failed to sweep envelopes: %w", err)
	}
	return res.RowsAffected()
}

// Close stops the writer goroutine and closes the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	if !s.enabled {
		return nil
	}

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close store: %w", err)
	}
	return nil
}
