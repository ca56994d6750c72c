package storage

import (
	"fmt"
	"time"
)

// ParkedReservations returns every reservation waiting for reconciliation.
func (s *Storage) ParkedReservations() ([]*ParkedReservation, error) {
	var parked []*ParkedReservation
	var decodeErr error
	if err := s.iterateArtifacts(reservationPrefix, func(_, v []byte) bool {
		pr := &ParkedReservation{}
		if decodeErr = decodeArtifact(v, pr); decodeErr != nil {
			return false
		}
		parked = append(parked, pr)
		return true
	}); err != nil {
		return nil, fmt.Errorf("iterate reservations: %w", err)
	}
	if decodeErr != nil {
		return nil, decodeErr
	}
	return parked, nil
}

// ParkedReservation returns the parked reservation with the given id, or
// ErrNotFound.
func (s *Storage) ParkedReservation(id string) (*ParkedReservation, error) {
	pr := &ParkedReservation{}
	if err := s.getArtifact(reservationPrefix, []byte(id), pr); err != nil {
		return nil, err
	}
	return pr, nil
}

// ParkReservation stores a parked reservation.
func (s *Storage) ParkReservation(pr *ParkedReservation) error {
	if pr == nil || pr.ID == "" {
		return fmt.Errorf("invalid parked reservation")
	}
	if pr.ParkedAt.IsZero() {
		pr.ParkedAt = time.Now().UTC()
	}
	return s.setArtifact(reservationPrefix, []byte(pr.ID), pr)
}

// DeleteParked adds the removal of a parked reservation to the batch.
func (b *Batch) DeleteParked(id string) error {
	return b.delete(reservationPrefix, []byte(id))
}
