package models

import (
	"sort"
	"time"
)

type Ticket struct {
	TicketID        string     `json:"ticket_id"`
	TenantID        string     `json:"tenant_id,omitempty"`
	SessionID       string     `json:"session_id"`
	PatientID       string     `json:"patient_id"`
	DoctorID        string     `json:"doctor_id"`
	DoctorServiceID *string    `json:"doctor_service_id,omitempty"`
	TicketNumber    int        `json:"ticket_number"`
	Status          string     `json:"status"`
	IsUrgent        bool       `json:"is_urgent"`
	Notes           string     `json:"notes,omitempty"`
	RequestID       string     `json:"request_id,omitempty"`
	IssuedAt        time.Time  `json:"issued_at"`
	CalledAt        *time.Time `json:"called_at,omitempty"`
	VisitStartedAt  *time.Time `json:"visit_started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CancelledAt     *time.Time `json:"cancelled_at,omitempty"`
	SkippedAt       *time.Time `json:"skipped_at,omitempty"`
	NoShowAt        *time.Time `json:"no_show_at,omitempty"`
}

const (
	TicketWaiting   = "waiting"
	TicketCalled    = "called"
	TicketInVisit   = "in_visit"
	TicketCompleted = "completed"
	TicketSkipped   = "skipped"
	TicketCancelled = "cancelled"
	TicketNoShow    = "no_show"
)

// ActiveTicketStatuses are the statuses that hold a patient's single place in line.
var ActiveTicketStatuses = []string{TicketWaiting, TicketCalled, TicketInVisit}

func IsActiveTicketStatus(status string) bool {
	for _, s := range ActiveTicketStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// TicketLess reports whether a is served before b: urgent first, then by issue
// time, then by ticket number.
func TicketLess(a, b Ticket) bool {
	if a.IsUrgent != b.IsUrgent {
		return a.IsUrgent
	}
	if !a.IssuedAt.Equal(b.IssuedAt) {
		return a.IssuedAt.Before(b.IssuedAt)
	}
	return a.TicketNumber < b.TicketNumber
}

func SortTickets(tickets []Ticket) {
	sort.SliceStable(tickets, func(i, j int) bool {
		return TicketLess(tickets[i], tickets[j])
	})
}
