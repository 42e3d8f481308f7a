package store

import (
	"context"
	"encoding/json"
	"time"

	"clinic/reception-service/internal/models"
)

// Caller identifies who is acting. DoctorID is set when the caller is a
// doctor with a profile in the tenant.
type Caller struct {
	UserID   string
	Role     string
	DoctorID string
}

type OpenSessionInput struct {
	TenantID string
	DoctorID string
	Note     string
}

type IssueTicketInput struct {
	RequestID       string
	TenantID        string
	SessionID       string
	PatientID       string
	DoctorID        string
	DoctorServiceID string
	Notes           string
}

type TicketActionInput struct {
	TenantID string
	TicketID string
	Caller   Caller
}

type CreateVisitInput struct {
	TenantID  string
	DoctorID  string
	PatientID string
	TicketID  string
	Complaint string
	Notes     string
}

// UpdateVisitInput carries a partial update: nil fields keep the stored
// value, and a non-nil empty string clears the text.
type UpdateVisitInput struct {
	TenantID   string
	VisitID    string
	Caller     Caller
	Complaint  *string
	Diagnosis  *string
	Notes      *string
	Vitals     models.Vitals
	FollowUpOn *time.Time
}

type CompleteVisitInput struct {
	TenantID  string
	VisitID   string
	Caller    Caller
	Diagnosis string
	Notes     string
}

type CreateInvoiceInput struct {
	TenantID string
	VisitID  string
	Amount   models.Money
	Notes    string
}

type UpdateInvoiceInput struct {
	TenantID  string
	InvoiceID string
	Amount    models.Money
	Notes     string
}

type RecordPaymentInput struct {
	TenantID  string
	InvoiceID string
	Amount    models.Money
	Method    string
	Reference string
	Notes     string
}

type InvoiceFilter struct {
	From       *time.Time
	To         *time.Time
	DoctorID   string
	PageNumber int
	PageSize   int
}

type Paging struct {
	PageNumber int
	PageSize   int
}

// Normalize clamps paging to page 1 and a size between 1 and 100.
func (p Paging) Normalize() Paging {
	if p.PageNumber < 1 {
		p.PageNumber = 1
	}
	if p.PageSize < 1 {
		p.PageSize = 10
	}
	if p.PageSize > 100 {
		p.PageSize = 100
	}
	return p
}

func (p Paging) Offset() int {
	return (p.PageNumber - 1) * p.PageSize
}

type SessionManager interface {
	OpenSession(ctx context.Context, input OpenSessionInput) (models.Session, error)
	CloseSession(ctx context.Context, tenantID, sessionID string) (models.CloseResult, error)
	GetSession(ctx context.Context, tenantID, sessionID string) (models.Session, error)
	ListSessions(ctx context.Context, tenantID string, paging Paging) (models.Page[models.Session], error)
}

type TicketDispatcher interface {
	IssueTicket(ctx context.Context, input IssueTicketInput) (models.Ticket, bool, error)
	CallTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	StartVisit(ctx context.Context, input TicketActionInput) (models.Ticket, models.Visit, error)
	FinishTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	SkipTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	CancelTicket(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	MarkUrgent(ctx context.Context, input TicketActionInput) (models.Ticket, error)
	GetTicket(ctx context.Context, tenantID, ticketID string) (models.Ticket, error)
	ListSessionTickets(ctx context.Context, tenantID, sessionID string) ([]models.Ticket, error)
	ListPatientTickets(ctx context.Context, tenantID, patientID string) ([]models.Ticket, error)
	DoctorQueue(ctx context.Context, tenantID, doctorID string) (models.BoardSession, error)
	PatientActiveTicket(ctx context.Context, tenantID, patientID string) (models.Ticket, error)
	Board(ctx context.Context, tenantID string) (models.Board, error)
	ListTicketEvents(ctx context.Context, tenantID, ticketID string) ([]TicketEvent, error)
}

type VisitController interface {
	CreateVisit(ctx context.Context, input CreateVisitInput) (models.Visit, error)
	UpdateVisit(ctx context.Context, input UpdateVisitInput) (models.Visit, error)
	CompleteVisit(ctx context.Context, input CompleteVisitInput) (models.Visit, error)
	GetVisit(ctx context.Context, tenantID, visitID string) (models.Visit, error)
	ListPatientVisits(ctx context.Context, tenantID, patientID string, paging Paging) (models.Page[models.Visit], error)
	PatientSummary(ctx context.Context, tenantID, patientID string) (models.PatientSummary, error)
}

type Ledger interface {
	CreateInvoice(ctx context.Context, input CreateInvoiceInput) (models.Invoice, error)
	UpdateInvoice(ctx context.Context, input UpdateInvoiceInput) (models.Invoice, error)
	RecordPayment(ctx context.Context, input RecordPaymentInput) (models.Payment, models.Invoice, error)
	GetInvoice(ctx context.Context, tenantID, invoiceID string) (models.Invoice, error)
	ListInvoices(ctx context.Context, tenantID string, filter InvoiceFilter) (models.Page[models.Invoice], error)
	ListPayments(ctx context.Context, tenantID, invoiceID string) ([]models.Payment, error)
	DailyRevenue(ctx context.Context, tenantID string, day time.Time) (models.DailyRevenue, error)
	RevenueByDoctor(ctx context.Context, tenantID string, day time.Time, doctorID string) ([]models.DoctorRevenue, error)
}

// Directory resolves the read-only identities the core depends on.
type Directory interface {
	ResolveTenant(ctx context.Context, slug string) (models.Tenant, error)
	DoctorByUser(ctx context.Context, tenantID, userID string) (models.Doctor, error)
	PatientByUser(ctx context.Context, tenantID, userID string) (models.Patient, error)
}

type Store interface {
	SessionManager
	TicketDispatcher
	VisitController
	Ledger
	Directory
}

type OutboxEvent struct {
	TxID      int64           `json:"-"`
	Seq       int64           `json:"seq"`
	EventID   string          `json:"event_id"`
	TenantID  string          `json:"tenant_id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

func (e OutboxEvent) Cursor() OutboxCursor {
	return OutboxCursor{TxID: e.TxID, Seq: e.Seq}
}

// OutboxCursor orders outbox events by writing transaction, then sequence.
// Sequence numbers are taken before commit, so seq alone does not follow
// commit order.
type OutboxCursor struct {
	TxID int64
	Seq  int64
}

func (c OutboxCursor) After(other OutboxCursor) bool {
	if c.TxID != other.TxID {
		return c.TxID > other.TxID
	}
	return c.Seq > other.Seq
}

// OutboxReader is the relay's view of the transactional outbox.
// ListOutboxEvents returns only events of transactions older than every
// transaction still running, so nothing can later appear before the cursor.
type OutboxReader interface {
	ListOutboxEvents(ctx context.Context, after OutboxCursor, limit int) ([]OutboxEvent, error)
	GetRelayOffset(ctx context.Context, name string) (OutboxCursor, error)
	UpdateRelayOffset(ctx context.Context, name string, cursor OutboxCursor) error
}
