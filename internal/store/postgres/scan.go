package postgres

import (
	"database/sql"
	"time"

	"clinic/reception-service/internal/models"

	"github.com/jackc/pgx/v5"
)

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const sessionColumns = `
	s.session_id, s.tenant_id, s.doctor_id, s.active, s.note, s.opened_on, s.opened_at, s.closed_at,
	s.last_ticket_number`

// sessionCounters joins the per-session ticket counters onto alias s.
const sessionCounters = `
	LEFT JOIN LATERAL (
		SELECT count(*) AS total,
			count(*) FILTER (WHERE c.status = 'waiting') AS waiting,
			count(*) FILTER (WHERE c.status = 'completed') AS completed
		FROM tickets c
		WHERE c.session_id = s.session_id AND c.deleted_at IS NULL
	) counters ON TRUE`

const ticketColumns = `
	t.ticket_id, t.tenant_id, t.session_id, t.patient_id, t.doctor_id, t.doctor_service_id,
	t.ticket_number, t.status, t.is_urgent, t.notes, t.request_id, t.issued_at, t.called_at,
	t.visit_started_at, t.completed_at, t.cancelled_at, t.skipped_at, t.no_show_at`

const visitColumns = `
	v.visit_id, v.tenant_id, v.ticket_id, v.doctor_id, v.patient_id, v.status, v.complaint,
	v.diagnosis, v.notes, v.bp_systolic, v.bp_diastolic, v.heart_rate, v.temperature, v.weight,
	v.height, v.bmi, v.blood_sugar, v.oxygen_saturation, v.respiratory_rate, v.follow_up_on,
	v.started_at, v.completed_at`

const invoiceColumns = `
	i.invoice_id, i.tenant_id, i.visit_id, i.patient_id, i.doctor_id, i.amount_cents, i.paid_cents,
	i.remaining_cents, i.status, i.notes, i.created_at, i.updated_at`

const paymentColumns = `
	p.payment_id, p.invoice_id, p.amount_cents, p.method, p.reference, p.notes, p.paid_at`

func scanSession(row rowScanner, withCounters bool) (models.Session, error) {
	var session models.Session
	var doctorID sql.NullString
	var closedAt sql.NullTime
	var openedOn time.Time
	dest := []interface{}{
		&session.SessionID, &session.TenantID, &doctorID, &session.Active, &session.Note, &openedOn,
		&session.OpenedAt, &closedAt, &session.LastTicketNumber,
	}
	if withCounters {
		dest = append(dest, &session.TotalTickets, &session.WaitingTickets, &session.CompletedTickets)
	}
	if err := row.Scan(dest...); err != nil {
		return models.Session{}, err
	}
	session.DoctorID = nullStringPtr(doctorID)
	session.ClosedAt = nullTimePtr(closedAt)
	session.OpenedOn = openedOn.Format(time.DateOnly)
	return session, nil
}

func scanTicket(row rowScanner) (models.Ticket, error) {
	var ticket models.Ticket
	var serviceID, requestID sql.NullString
	var calledAt, visitStartedAt, completedAt, cancelledAt, skippedAt, noShowAt sql.NullTime
	err := row.Scan(
		&ticket.TicketID, &ticket.TenantID, &ticket.SessionID, &ticket.PatientID, &ticket.DoctorID, &serviceID,
		&ticket.TicketNumber, &ticket.Status, &ticket.IsUrgent, &ticket.Notes, &requestID, &ticket.IssuedAt, &calledAt,
		&visitStartedAt, &completedAt, &cancelledAt, &skippedAt, &noShowAt,
	)
	if err != nil {
		return models.Ticket{}, err
	}
	ticket.DoctorServiceID = nullStringPtr(serviceID)
	ticket.RequestID = requestID.String
	ticket.CalledAt = nullTimePtr(calledAt)
	ticket.VisitStartedAt = nullTimePtr(visitStartedAt)
	ticket.CompletedAt = nullTimePtr(completedAt)
	ticket.CancelledAt = nullTimePtr(cancelledAt)
	ticket.SkippedAt = nullTimePtr(skippedAt)
	ticket.NoShowAt = nullTimePtr(noShowAt)
	return ticket, nil
}

func scanTickets(rows pgx.Rows) ([]models.Ticket, error) {
	defer rows.Close()
	tickets := []models.Ticket{}
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

func scanVisit(row rowScanner) (models.Visit, error) {
	var visit models.Visit
	var ticketID sql.NullString
	var followUpOn, completedAt sql.NullTime
	vitals := &visit.Vitals
	err := row.Scan(
		&visit.VisitID, &visit.TenantID, &ticketID, &visit.DoctorID, &visit.PatientID, &visit.Status, &visit.Complaint,
		&visit.Diagnosis, &visit.Notes, &vitals.BloodPressureSystolic, &vitals.BloodPressureDiastolic, &vitals.HeartRate,
		&vitals.Temperature, &vitals.Weight, &vitals.Height, &vitals.BMI, &vitals.BloodSugar, &vitals.OxygenSaturation,
		&vitals.RespiratoryRate, &followUpOn, &visit.StartedAt, &completedAt,
	)
	if err != nil {
		return models.Visit{}, err
	}
	visit.TicketID = nullStringPtr(ticketID)
	visit.FollowUpOn = nullTimePtr(followUpOn)
	visit.CompletedAt = nullTimePtr(completedAt)
	return visit, nil
}

func scanInvoice(row rowScanner) (models.Invoice, error) {
	var invoice models.Invoice
	var amount, paid, remaining int64
	err := row.Scan(
		&invoice.InvoiceID, &invoice.TenantID, &invoice.VisitID, &invoice.PatientID, &invoice.DoctorID, &amount, &paid,
		&remaining, &invoice.Status, &invoice.Notes, &invoice.CreatedAt, &invoice.UpdatedAt,
	)
	if err != nil {
		return models.Invoice{}, err
	}
	invoice.Amount = models.Money(amount)
	invoice.Paid = models.Money(paid)
	invoice.Remaining = models.Money(remaining)
	return invoice, nil
}

func scanPayment(row rowScanner) (models.Payment, error) {
	var payment models.Payment
	var amount int64
	err := row.Scan(&payment.PaymentID, &payment.InvoiceID, &amount, &payment.Method, &payment.Reference, &payment.Notes, &payment.PaidAt)
	if err != nil {
		return models.Payment{}, err
	}
	payment.Amount = models.Money(amount)
	return payment, nil
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time
	return &t
}

func nullStringPtr(value sql.NullString) *string {
	if !value.Valid {
		return nil
	}
	s := value.String
	return &s
}
