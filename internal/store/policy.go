package store

import (
	"time"

	"clinic/reception-service/internal/models"
)

// CheckVisitEdit decides whether caller may modify a visit. Doctors may only
// touch their own visits started on their current calendar day in loc; other
// roles are not restricted here.
func CheckVisitEdit(caller Caller, visitOwner string, visitStartedAt, now time.Time, loc *time.Location) error {
	if caller.Role != models.RoleDoctor {
		return nil
	}
	if caller.DoctorID == "" || caller.DoctorID != visitOwner {
		return ErrNotOwnVisit
	}
	if !SameDay(visitStartedAt, now, loc) {
		return ErrNotSameDay
	}
	return nil
}

func SameDay(a, b time.Time, loc *time.Location) bool {
	if loc == nil {
		loc = time.UTC
	}
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}

// DayBounds returns [start, end) of the calendar day containing t in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	y, m, d := t.In(loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
