package models

import "time"

type Session struct {
	SessionID        string     `json:"session_id"`
	TenantID         string     `json:"tenant_id,omitempty"`
	DoctorID         *string    `json:"doctor_id,omitempty"`
	Active           bool       `json:"active"`
	Note             string     `json:"note,omitempty"`
	OpenedOn         string     `json:"opened_on"`
	OpenedAt         time.Time  `json:"opened_at"`
	ClosedAt         *time.Time `json:"closed_at,omitempty"`
	LastTicketNumber int        `json:"last_ticket_number"`
	TotalTickets     int        `json:"total_tickets"`
	WaitingTickets   int        `json:"waiting_tickets"`
	CompletedTickets int        `json:"completed_tickets"`
}

// IsClinicWide reports whether the session is not scoped to a doctor.
func (s Session) IsClinicWide() bool {
	return s.DoctorID == nil
}

// CloseResult is the outcome of closing a session: the closed session and
// every ticket the sweep moved to no_show.
type CloseResult struct {
	Session Session  `json:"session"`
	NoShows []Ticket `json:"no_shows"`
}

type Page[T any] struct {
	Items      []T `json:"items"`
	TotalCount int `json:"total_count"`
	PageNumber int `json:"page_number"`
	PageSize   int `json:"page_size"`
}
