// Package booking implements the booking lifecycle: create, list, get and cancel.
package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/example/mobility-matching/internal/models"
	"github.com/example/mobility-matching/internal/observability"
	"github.com/example/mobility-matching/internal/storage"
)

var (
	ErrNotFound       = errors.New("booking not found")
	ErrForbidden      = errors.New("booking belongs to another user")
	ErrNotCancellable = errors.New("booking cannot be cancelled")
	ErrInvalid        = errors.New("invalid booking")
)

// EventPublisher receives every booking state change.
type EventPublisher interface {
	PublishBookingEvent(ctx context.Context, ev models.BookingEvent) error
}

// Notifier pushes a changed booking to its owner.
type Notifier interface {
	NotifyBooking(b models.Booking) error
}

type VehicleGetter interface {
	Get(ctx context.Context, id string) (*models.Vehicle, error)
}

// CreateRequest is what a user submits to book a vehicle. Vehicle is the
// snapshot the client got from a search; it is used only when the id is not
// one of the fleet's own cars.
type CreateRequest struct {
	VehicleID string          `json:"vehicle_id"`
	Vehicle   *models.Vehicle `json:"vehicle,omitempty"`
	Start     models.Location `json:"start_location"`
	End       models.Location `json:"end_location"`
	StartTime time.Time       `json:"start_time"`
	EndTime   *time.Time      `json:"end_time,omitempty"`
	Note      string          `json:"note,omitempty"`
}

func (r CreateRequest) validate() error {
	var errs []error
	if strings.TrimSpace(r.VehicleID) == "" {
		errs = append(errs, errors.New("vehicle_id is required"))
	}
	if strings.TrimSpace(r.Start.Address) == "" {
		errs = append(errs, errors.New("start_location.address is required"))
	}
	if strings.TrimSpace(r.End.Address) == "" {
		errs = append(errs, errors.New("end_location.address is required"))
	}
	if r.StartTime.IsZero() {
		errs = append(errs, errors.New("start_time is required"))
	}
	if r.EndTime != nil && !r.EndTime.After(r.StartTime) {
		errs = append(errs, errors.New("end_time must be after start_time"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalid, err)
	}
	return nil
}

type Service struct {
	store    storage.BookingStore
	vehicles VehicleGetter
	events   EventPublisher
	notifier Notifier
	log      zerolog.Logger
	now      func() time.Time
}

// NewService wires the lifecycle. events and notifier may be nil.
func NewService(store storage.BookingStore, vehicles VehicleGetter, events EventPublisher, notifier Notifier, log zerolog.Logger) *Service {
	return &Service{
		store:    store,
		vehicles: vehicles,
		events:   events,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

func (s *Service) Create(ctx context.Context, userID string, req CreateRequest) (*models.Booking, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, fmt.Errorf("%w: user id is required", ErrInvalid)
	}
	if err := req.validate(); err != nil {
		return nil, err
	}

	vehicle := req.Vehicle
	if s.vehicles != nil {
		v, err := s.vehicles.Get(ctx, req.VehicleID)
		switch {
		case err == nil:
			vehicle = v
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("resolve vehicle: %w", err)
		}
	}
	if vehicle != nil && vehicle.ID != req.VehicleID {
		return nil, fmt.Errorf("%w: vehicle snapshot id %q does not match vehicle_id %q", ErrInvalid, vehicle.ID, req.VehicleID)
	}

	b := &models.Booking{
		ID:        uuid.NewString(),
		UserID:    userID,
		VehicleID: req.VehicleID,
		Vehicle:   vehicle,
		Start:     req.Start,
		End:       req.End,
		StartTime: req.StartTime,
		EndTime:   req.EndTime,
		Status:    models.BookingRequested,
		CreatedAt: s.now().UTC(),
		Note:      req.Note,
	}
	if vehicle != nil && req.EndTime != nil {
		total := vehicle.PricePerHour * req.EndTime.Sub(req.StartTime).Hours()
		b.TotalPrice = &total
	}
	if err := s.store.Create(ctx, b); err != nil {
		return nil, fmt.Errorf("store booking: %w", err)
	}
	s.changed(ctx, b)
	return b, nil
}

func (s *Service) List(ctx context.Context, userID string) ([]models.Booking, error) {
	return s.store.ListByUser(ctx, userID)
}

// Get returns the booking only to its owner; anyone else sees not-found.
func (s *Service) Get(ctx context.Context, userID, id string) (*models.Booking, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, ErrNotFound
	}
	return b, nil
}

func (s *Service) Cancel(ctx context.Context, userID, id, reason string) (*models.Booking, error) {
	b, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if b.UserID != userID {
		return nil, ErrForbidden
	}
	if b.Status == models.BookingCancelled || b.Status == models.BookingCompleted {
		return nil, fmt.Errorf("%w: status is %s", ErrNotCancellable, b.Status)
	}
	now := s.now().UTC()
	b.Status = models.BookingCancelled
	b.CancelledAt = &now
	b.CancellationReason = strings.TrimSpace(reason)
	if err := s.store.Update(ctx, b); err != nil {
		return nil, fmt.Errorf("update booking: %w", err)
	}
	s.changed(ctx, b)
	return b, nil
}

func (s *Service) load(ctx context.Context, id string) (*models.Booking, error) {
	b, err := s.store.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load booking: %w", err)
	}
	return b, nil
}

// changed fans a state change out to metrics, the event stream and the
// owner's sessions. Delivery failures are logged, never returned.
func (s *Service) changed(ctx context.Context, b *models.Booking) {
	observability.BookingsTotal.WithLabelValues(string(b.Status)).Inc()
	log := s.log.With().Str("booking_id", b.ID).Str("status", string(b.Status)).Logger()

	if s.events != nil {
		ev := models.BookingEvent{
			BookingID:  b.ID,
			UserID:     b.UserID,
			VehicleID:  b.VehicleID,
			Status:     b.Status,
			OccurredAt: s.now().UTC(),
		}
		if err := s.events.PublishBookingEvent(ctx, ev); err != nil {
			log.Warn().Err(err).Msg("publish booking event failed")
		}
	}
	if s.notifier != nil {
		if err := s.notifier.NotifyBooking(*b); err != nil {
			log.Debug().Err(err).Msg("booking update not delivered")
		}
	}
	log.Info().Msg("booking changed")
}
