package store

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"clinic/reception-service/internal/models"
)

// TicketEvent is one link of a ticket's append-only history. Each hash covers
// the previous hash, so rewriting any earlier event breaks the chain.
type TicketEvent struct {
	TicketID  string          `json:"ticket_id"`
	TicketSeq int             `json:"ticket_seq"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
	PrevHash  string          `json:"prev_hash"`
	Hash      string          `json:"hash"`
}

var ErrBrokenChain = errors.New("ticket event chain is broken")

type ticketSnapshot struct {
	TicketID       string     `json:"ticket_id"`
	TenantID       string     `json:"tenant_id"`
	SessionID      string     `json:"session_id"`
	PatientID      string     `json:"patient_id"`
	DoctorID       string     `json:"doctor_id"`
	TicketNumber   int        `json:"ticket_number"`
	Status         string     `json:"status"`
	IsUrgent       *bool      `json:"is_urgent"`
	IssuedAt       *time.Time `json:"issued_at"`
	CalledAt       *time.Time `json:"called_at"`
	VisitStartedAt *time.Time `json:"visit_started_at"`
	CompletedAt    *time.Time `json:"completed_at"`
	CancelledAt    *time.Time `json:"cancelled_at"`
	SkippedAt      *time.Time `json:"skipped_at"`
	NoShowAt       *time.Time `json:"no_show_at"`
}

// TicketEventPayload is the snapshot written with every ticket event.
func TicketEventPayload(ticket models.Ticket) ([]byte, error) {
	urgent := ticket.IsUrgent
	issued := ticket.IssuedAt
	return json.Marshal(ticketSnapshot{
		TicketID:       ticket.TicketID,
		TenantID:       ticket.TenantID,
		SessionID:      ticket.SessionID,
		PatientID:      ticket.PatientID,
		DoctorID:       ticket.DoctorID,
		TicketNumber:   ticket.TicketNumber,
		Status:         ticket.Status,
		IsUrgent:       &urgent,
		IssuedAt:       &issued,
		CalledAt:       ticket.CalledAt,
		VisitStartedAt: ticket.VisitStartedAt,
		CompletedAt:    ticket.CompletedAt,
		CancelledAt:    ticket.CancelledAt,
		SkippedAt:      ticket.SkippedAt,
		NoShowAt:       ticket.NoShowAt,
	})
}

func ComputeTicketEventHash(prevHash, ticketID, eventType string, payload json.RawMessage, createdAt time.Time, seq int) string {
	raw := prevHash + "|" + ticketID + "|" + eventType + "|" + createdAt.UTC().Format(time.RFC3339Nano) + "|" + strconv.Itoa(seq) + "|" + string(payload)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// VerifyTicketChain checks sequence continuity and every hash link.
func VerifyTicketChain(events []TicketEvent) error {
	prev := ""
	for i, event := range events {
		if event.TicketSeq != i+1 {
			return fmt.Errorf("%w: seq %d at position %d", ErrBrokenChain, event.TicketSeq, i)
		}
		if event.PrevHash != prev {
			return fmt.Errorf("%w: prev hash mismatch at seq %d", ErrBrokenChain, event.TicketSeq)
		}
		want := ComputeTicketEventHash(prev, event.TicketID, event.Type, event.Payload, event.CreatedAt, event.TicketSeq)
		if event.Hash != want {
			return fmt.Errorf("%w: hash mismatch at seq %d", ErrBrokenChain, event.TicketSeq)
		}
		prev = event.Hash
	}
	return nil
}

// RehydrateTicket folds the event snapshots back into a ticket.
func RehydrateTicket(events []TicketEvent) (models.Ticket, error) {
	var ticket models.Ticket
	for _, event := range events {
		if len(event.Payload) == 0 {
			continue
		}
		var snap ticketSnapshot
		if err := json.Unmarshal(event.Payload, &snap); err != nil {
			return models.Ticket{}, err
		}
		if snap.TicketID != "" {
			ticket.TicketID = snap.TicketID
		}
		if snap.TenantID != "" {
			ticket.TenantID = snap.TenantID
		}
		if snap.SessionID != "" {
			ticket.SessionID = snap.SessionID
		}
		if snap.PatientID != "" {
			ticket.PatientID = snap.PatientID
		}
		if snap.DoctorID != "" {
			ticket.DoctorID = snap.DoctorID
		}
		if snap.TicketNumber != 0 {
			ticket.TicketNumber = snap.TicketNumber
		}
		if snap.Status != "" {
			ticket.Status = snap.Status
		}
		if snap.IsUrgent != nil {
			ticket.IsUrgent = *snap.IsUrgent
		}
		if snap.IssuedAt != nil {
			ticket.IssuedAt = *snap.IssuedAt
		}
		if snap.CalledAt != nil {
			ticket.CalledAt = snap.CalledAt
		}
		if snap.VisitStartedAt != nil {
			ticket.VisitStartedAt = snap.VisitStartedAt
		}
		if snap.CompletedAt != nil {
			ticket.CompletedAt = snap.CompletedAt
		}
		if snap.CancelledAt != nil {
			ticket.CancelledAt = snap.CancelledAt
		}
		if snap.SkippedAt != nil {
			ticket.SkippedAt = snap.SkippedAt
		}
		if snap.NoShowAt != nil {
			ticket.NoShowAt = snap.NoShowAt
		}
	}
	return ticket, nil
}
