package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"classhub/internal/fanout"
	"classhub/internal/session"
	"classhub/pkg/interfaces"
	"classhub/pkg/types"
)

// BusLocation is the latest known position of one bus.
type BusLocation struct {
	BusID     string    `json:"bus_id"`
	RoomID    string    `json:"room_id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Speed     float64   `json:"speed"`
	Heading   float64   `json:"heading"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// LocationService tracks live bus positions. Updates are range-validated
// before being applied; a rejected update leaves prior state unchanged.
// Each bus is throttled to one accepted report per minInterval. Stale
// entries are purged by the presence monitor sweep.
type LocationService struct {
	base
	minAccuracy float64
	minInterval time.Duration

	mu    sync.Mutex
	buses map[string]*BusLocation // busID -> latest
}

func NewLocationService(fan *fanout.Fanout, store interfaces.EnvelopeStore, minAccuracy float64, minInterval time.Duration, logger zerolog.Logger) *LocationService {
	return &LocationService{
		base:        newBase(fan, store, logger, "location"),
		minAccuracy: minAccuracy,
		minInterval: minInterval,
		buses:       make(map[string]*BusLocation),
	}
}

// Update applies a position report and broadcasts bus_location_update to
// the tracking room.
func (s *LocationService) Update(sess *session.Session, roomID, busID string, loc BusLocation) (*BusLocation, error) {
	if busID == "" {
		return nil, types.ErrInvalidPayload
	}
	if loc.Latitude < -90 || loc.Latitude > 90 || loc.Longitude < -180 || loc.Longitude > 180 {
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidPayload, ErrBadCoordinates)
	}
	if s.minAccuracy > 0 && loc.Accuracy > s.minAccuracy {
		return nil, fmt.Errorf("%w: accuracy %.0fm exceeds threshold", types.ErrInvalidPayload, loc.Accuracy)
	}

	now := time.Now().UTC()
	current := &BusLocation{
		BusID:     busID,
		RoomID:    roomID,
		Latitude:  loc.Latitude,
		Longitude: loc.Longitude,
		Speed:     loc.Speed,
		Heading:   loc.Heading,
		Accuracy:  loc.Accuracy,
		UpdatedAt: now,
	}

	s.mu.Lock()
	if prev, ok := s.buses[busID]; ok && s.minInterval > 0 && now.Sub(prev.UpdatedAt) < s.minInterval {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: bus %s reporting faster than every %s", types.ErrRateLimited, busID, s.minInterval)
	}
	s.buses[busID] = current
	s.mu.Unlock()

	env := s.fan.NewEnvelope(roomID, sess.UserID, sess.UserName, types.EnvelopeTypeLocation, types.EventBusLocationUpdate, map[string]any{
		"bus_id":    busID,
		"latitude":  current.Latitude,
		"longitude": current.Longitude,
		"speed":     current.Speed,
		"heading":   current.Heading,
	})
	if err := s.emit(env); err != nil {
		return nil, err
	}
	return current, nil
}

// Get returns a bus's latest position.
func (s *LocationService) Get(busID string) (*BusLocation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	loc, ok := s.buses[busID]
	if !ok {
		return nil, fmt.Errorf("%w: bus %s", types.ErrNotFound, busID)
	}
	return loc, nil
}

// PurgeStale drops entries older than the cutoff and reports how many
// were removed.
func (s *LocationService) PurgeStale(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	purged := 0
	for busID, loc := range s.buses {
		if loc.UpdatedAt.Before(cutoff) {
			delete(s.buses, busID)
			purged++
		}
	}
	return purged
}
