// Package dispatch pushes booking updates to users' websocket sessions.
package dispatch

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/example/mobility-matching/internal/models"
	"github.com/example/mobility-matching/internal/observability"
)

var ErrNoSession = errors.New("no ws session")

const writeWait = 5 * time.Second

// Conn is the part of *websocket.Conn the registry writes to.
type Conn interface {
	WriteJSON(v any) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// BookingUpdate is the frame sent to a user whenever one of their bookings changes.
type BookingUpdate struct {
	Type    string         `json:"type"`
	Booking models.Booking `json:"booking"`
}

// WSSession represents one connected client.
type WSSession struct {
	conn Conn
	mu   sync.Mutex
}

func (s *WSSession) Send(v any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteJSON(v)
}

// WSRegistry holds user sessions. A user may be connected from several
// devices at once.
type WSRegistry struct {
	mu       sync.RWMutex
	sessions map[string]map[*WSSession]struct{}
	log      zerolog.Logger
}

func NewWSRegistry(log zerolog.Logger) *WSRegistry {
	return &WSRegistry{sessions: make(map[string]map[*WSSession]struct{}), log: log}
}

// Add registers conn for userID and returns a function that removes it.
func (r *WSRegistry) Add(userID string, conn Conn) (remove func()) {
	s := &WSSession{conn: conn}
	r.mu.Lock()
	if r.sessions[userID] == nil {
		r.sessions[userID] = make(map[*WSSession]struct{})
	}
	r.sessions[userID][s] = struct{}{}
	r.mu.Unlock()
	observability.WSSessions.Inc()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.sessions[userID], s)
			if len(r.sessions[userID]) == 0 {
				delete(r.sessions, userID)
			}
			r.mu.Unlock()
			observability.WSSessions.Dec()
			_ = conn.Close()
		})
	}
}

// Sessions reports how many sessions userID has open.
func (r *WSRegistry) Sessions(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID])
}

// NotifyBooking sends b to every session of its owner. It returns
// ErrNoSession when the owner is not connected, and the first write error
// otherwise; a failed session does not stop delivery to the others.
func (r *WSRegistry) NotifyBooking(b models.Booking) error {
	r.mu.RLock()
	targets := make([]*WSSession, 0, len(r.sessions[b.UserID]))
	for s := range r.sessions[b.UserID] {
		targets = append(targets, s)
	}
	r.mu.RUnlock()
	if len(targets) == 0 {
		return ErrNoSession
	}

	msg := BookingUpdate{Type: "booking_update", Booking: b}
	var firstErr error
	for _, s := range targets {
		if err := s.Send(msg); err != nil {
			r.log.Warn().Err(err).Str("user_id", b.UserID).Str("booking_id", b.ID).Msg("ws send error")
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}
