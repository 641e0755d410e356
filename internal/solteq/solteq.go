// Package solteq queries the Solteq Tand appointment database.
package solteq

import (
	"context"
	"database/sql"
	"fmt"

	"udskrivning22/internal/domain"
)

type Store struct {
	DB *sql.DB
}

// BookingsForCitizen returns the citizen's bookings of the given
// booking-type description, newest first. All statuses are returned; the
// caller classifies them. Normally at most one such booking exists per
// citizen; more than one is a data anomaly the caller must surface.
func (s Store) BookingsForCitizen(ctx context.Context, cpr, description string) ([]domain.Booking, error) {
	rows, err := s.DB.QueryContext(ctx, `
		SELECT
			b.BookingID,
			b.CreatedDateTime,
			bt.Description,
			b.Status
		FROM BOOKING b
		JOIN PATIENT p ON p.patientId = b.patientId
		JOIN BOOKINGTYPE bt ON bt.BookingTypeID = b.BookingTypeID
		WHERE p.cpr = ?
		  AND bt.Description = ?
		ORDER BY b.CreatedDateTime DESC`, cpr, description)
	if err != nil {
		return nil, fmt.Errorf("query bookings for %s: %w", cpr, err)
	}
	defer rows.Close()
	var out []domain.Booking
	for rows.Next() {
		var b domain.Booking
		if err := rows.Scan(&b.ID, &b.CreatedAt, &b.Description, &b.Status); err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
