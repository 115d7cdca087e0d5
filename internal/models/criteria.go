package models

import (
	"errors"
	"fmt"
)

// ErrInvalidCriteria is returned for trip criteria no vehicle could ever satisfy.
var ErrInvalidCriteria = errors.New("invalid criteria")

// Validate rejects absurd criteria at the boundary instead of letting them
// silently match nothing.
func (c Criteria) Validate() error {
	var errs []error
	if c.Passengers < 1 {
		errs = append(errs, fmt.Errorf("%w: passengers must be >= 1, got %d", ErrInvalidCriteria, c.Passengers))
	}
	if c.LuggageLevel < LuggageNone || c.LuggageLevel > LuggageLarge {
		errs = append(errs, fmt.Errorf("%w: luggage_level must be within 0..3, got %d", ErrInvalidCriteria, c.LuggageLevel))
	}
	if err := validateLocation("start_location", c.Start); err != nil {
		errs = append(errs, err)
	}
	if err := validateLocation("end_location", c.End); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func validateLocation(field string, l Location) error {
	c, ok := l.Coord()
	if !ok {
		return nil
	}
	if c.Lat < -90 || c.Lat > 90 || c.Lon < -180 || c.Lon > 180 {
		return fmt.Errorf("%w: %s coordinates out of range", ErrInvalidCriteria, field)
	}
	return nil
}
