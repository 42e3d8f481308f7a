package postgres

import (
	"context"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"clinic/reception-service/internal/models"
	"clinic/reception-service/internal/store"
	"clinic/reception-service/migrations"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	store    *Store
	pool     *pgxpool.Pool
	clock    *testClock
	tenantID string
	doctorA  string
	doctorB  string
	patients []string
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

// Now advances a millisecond per reading so issue order is strict.
func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Millisecond)
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestQueueFlowServesUrgentFirstAndSweepsOnClose(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, false)

	session, err := f.store.OpenSession(ctx, store.OpenSessionInput{TenantID: f.tenantID, Note: "morning"})
	require.NoError(t, err)
	assert.True(t, session.Active)
	assert.Nil(t, session.DoctorID)

	a := f.issue(t, ctx, session.SessionID, f.patients[0], f.doctorA)
	b := f.issue(t, ctx, session.SessionID, f.patients[1], f.doctorA)
	assert.Equal(t, 1, a.TicketNumber)
	assert.Equal(t, 2, b.TicketNumber)

	b, err = f.store.MarkUrgent(ctx, f.action(b.TicketID))
	require.NoError(t, err)
	assert.True(t, b.IsUrgent)
	assert.Equal(t, 2, b.TicketNumber)

	listed, err := f.store.ListSessionTickets(ctx, f.tenantID, session.SessionID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	assert.Equal(t, []string{b.TicketID, a.TicketID}, []string{listed[0].TicketID, listed[1].TicketID})

	board, err := f.store.Board(ctx, f.tenantID)
	require.NoError(t, err)
	require.Len(t, board.Sessions, 1)
	require.Len(t, board.Sessions[0].WaitingTickets, 2)
	assert.Equal(t, b.TicketID, board.Sessions[0].WaitingTickets[0].TicketID)

	_, err = f.store.CallTicket(ctx, f.action(b.TicketID))
	require.NoError(t, err)
	started, visit, err := f.store.StartVisit(ctx, f.action(b.TicketID))
	require.NoError(t, err)
	assert.Equal(t, models.TicketInVisit, started.Status)
	assert.Equal(t, models.VisitOpen, visit.Status)
	require.NotNil(t, visit.TicketID)
	assert.Equal(t, b.TicketID, *visit.TicketID)

	_, err = f.store.CloseSession(ctx, f.tenantID, session.SessionID)
	assert.ErrorIs(t, err, store.ErrSessionHasInVisit)

	completed, err := f.store.CompleteVisit(ctx, store.CompleteVisitInput{TenantID: f.tenantID, VisitID: visit.VisitID, Diagnosis: "flu"})
	require.NoError(t, err)
	assert.Equal(t, models.VisitCompleted, completed.Status)
	ticket, err := f.store.GetTicket(ctx, f.tenantID, b.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketCompleted, ticket.Status)
	assert.NotNil(t, ticket.CompletedAt)

	result, err := f.store.CloseSession(ctx, f.tenantID, session.SessionID)
	require.NoError(t, err)
	assert.False(t, result.Session.Active)
	assert.NotNil(t, result.Session.ClosedAt)
	require.Len(t, result.NoShows, 1)
	assert.Equal(t, a.TicketID, result.NoShows[0].TicketID)
	assert.Equal(t, models.TicketNoShow, result.NoShows[0].Status)
	assert.Equal(t, 2, result.Session.TotalTickets)
	assert.Equal(t, 1, result.Session.CompletedTickets)

	_, err = f.store.CloseSession(ctx, f.tenantID, session.SessionID)
	assert.ErrorIs(t, err, store.ErrSessionClosed)
	_, _, err = f.store.IssueTicket(ctx, store.IssueTicketInput{TenantID: f.tenantID, SessionID: session.SessionID, PatientID: f.patients[2], DoctorID: f.doctorA})
	assert.ErrorIs(t, err, store.ErrSessionClosed)
}

func TestFinishTicketCompletesLinkedVisit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, false)
	session := f.open(t, ctx, "")

	ticket := f.issue(t, ctx, session.SessionID, f.patients[0], f.doctorA)
	_, err := f.store.CallTicket(ctx, f.action(ticket.TicketID))
	require.NoError(t, err)
	_, visit, err := f.store.StartVisit(ctx, f.action(ticket.TicketID))
	require.NoError(t, err)

	finished, err := f.store.FinishTicket(ctx, f.action(ticket.TicketID))
	require.NoError(t, err)
	assert.Equal(t, models.TicketCompleted, finished.Status)

	visit, err = f.store.GetVisit(ctx, f.tenantID, visit.VisitID)
	require.NoError(t, err)
	assert.Equal(t, models.VisitCompleted, visit.Status)
	assert.NotNil(t, visit.CompletedAt)

	_, err = f.store.CompleteVisit(ctx, store.CompleteVisitInput{TenantID: f.tenantID, VisitID: visit.VisitID})
	assert.ErrorIs(t, err, store.ErrVisitNotOpen)
	_, err = f.store.FinishTicket(ctx, f.action(ticket.TicketID))
	assert.ErrorIs(t, err, store.ErrInvalidState)
}

func TestTicketTransitionsRejectInvalidSources(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, false)
	session := f.open(t, ctx, "")
	ticket := f.issue(t, ctx, session.SessionID, f.patients[0], f.doctorA)

	_, _, err := f.store.StartVisit(ctx, f.action(ticket.TicketID))
	assert.ErrorIs(t, err, store.ErrInvalidState)
	_, err = f.store.FinishTicket(ctx, f.action(ticket.TicketID))
	assert.ErrorIs(t, err, store.ErrInvalidState)

	skipped, err := f.store.SkipTicket(ctx, f.action(ticket.TicketID))
	require.NoError(t, err)
	assert.Equal(t, models.TicketSkipped, skipped.Status)
	_, err = f.store.MarkUrgent(ctx, f.action(ticket.TicketID))
	assert.ErrorIs(t, err, store.ErrInvalidState)

	called, err := f.store.CallTicket(ctx, f.action(ticket.TicketID))
	require.NoError(t, err)
	assert.Equal(t, models.TicketCalled, called.Status)

	cancelled, err := f.store.CancelTicket(ctx, f.action(ticket.TicketID))
	require.NoError(t, err)
	assert.Equal(t, models.TicketCancelled, cancelled.Status)
	_, err = f.store.CallTicket(ctx, f.action(ticket.TicketID))
	assert.ErrorIs(t, err, store.ErrInvalidState)

	_, err = f.store.CallTicket(ctx, f.action(uuid.NewString()))
	assert.ErrorIs(t, err, store.ErrTicketNotFound)

	doctorB := f.action(ticket.TicketID)
	doctorB.Caller = store.Caller{Role: models.RoleDoctor, DoctorID: f.doctorB}
	_, err = f.store.SkipTicket(ctx, doctorB)
	assert.ErrorIs(t, err, store.ErrAccessDenied)
}

func TestTicketNumbersAreNeverReused(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, false)
	session := f.open(t, ctx, "")

	first := f.issue(t, ctx, session.SessionID, f.patients[0], f.doctorA)
	_, _, err := f.store.IssueTicket(ctx, store.IssueTicketInput{TenantID: f.tenantID, SessionID: session.SessionID, PatientID: f.patients[0], DoctorID: f.doctorA})
	assert.ErrorIs(t, err, store.ErrActiveTicketExists)

	_, err = f.store.CancelTicket(ctx, f.action(first.TicketID))
	require.NoError(t, err)
	second := f.issue(t, ctx, session.SessionID, f.patients[0], f.doctorA)
	assert.Equal(t, 2, second.TicketNumber)
}

func TestOpenSessionScopes(t *testing.T) {
	ctx := context.Background()

	t.Run("exact scope only", func(t *testing.T) {
		f := newFixture(t, ctx, false)
		f.open(t, ctx, "")
		_, err := f.store.OpenSession(ctx, store.OpenSessionInput{TenantID: f.tenantID})
		assert.ErrorIs(t, err, store.ErrSessionExists)

		scoped := f.open(t, ctx, f.doctorA)
		require.NotNil(t, scoped.DoctorID)
		assert.Equal(t, f.doctorA, *scoped.DoctorID)
		_, err = f.store.OpenSession(ctx, store.OpenSessionInput{TenantID: f.tenantID, DoctorID: f.doctorA})
		assert.ErrorIs(t, err, store.ErrSessionExists)

		_, err = f.store.OpenSession(ctx, store.OpenSessionInput{TenantID: f.tenantID, DoctorID: uuid.NewString()})
		assert.ErrorIs(t, err, store.ErrDoctorNotFound)
	})

	t.Run("clinic-wide blocks doctors", func(t *testing.T) {
		f := newFixture(t, ctx, true)
		f.open(t, ctx, "")
		_, err := f.store.OpenSession(ctx, store.OpenSessionInput{TenantID: f.tenantID, DoctorID: f.doctorA})
		assert.ErrorIs(t, err, store.ErrClinicWideSessionOpen)
	})

	t.Run("next day reopens", func(t *testing.T) {
		f := newFixture(t, ctx, false)
		f.open(t, ctx, "")
		f.clock.Advance(24 * time.Hour)
		f.open(t, ctx, "")
	})

	t.Run("disabled doctor", func(t *testing.T) {
		f := newFixture(t, ctx, false)
		_, err := f.pool.Exec(ctx, `UPDATE doctors SET is_enabled = FALSE WHERE doctor_id = $1`, f.doctorB)
		require.NoError(t, err)
		_, err = f.store.OpenSession(ctx, store.OpenSessionInput{TenantID: f.tenantID, DoctorID: f.doctorB})
		assert.ErrorIs(t, err, store.ErrDoctorDisabled)
	})
}

func TestDoctorScopedSessionRejectsOtherDoctors(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, false)
	session := f.open(t, ctx, f.doctorA)

	_, _, err := f.store.IssueTicket(ctx, store.IssueTicketInput{TenantID: f.tenantID, SessionID: session.SessionID, PatientID: f.patients[0], DoctorID: f.doctorB})
	assert.ErrorIs(t, err, store.ErrDoctorScopeMismatch)

	ticket := f.issue(t, ctx, session.SessionID, f.patients[0], "")
	assert.Equal(t, f.doctorA, ticket.DoctorID)

	queue, err := f.store.DoctorQueue(ctx, f.tenantID, f.doctorA)
	require.NoError(t, err)
	assert.Equal(t, session.SessionID, queue.SessionID)
	assert.Equal(t, 1, queue.WaitingCount)

	_, err = f.store.DoctorQueue(ctx, f.tenantID, f.doctorB)
	assert.ErrorIs(t, err, store.ErrNoActiveSession)

	active, err := f.store.PatientActiveTicket(ctx, f.tenantID, f.patients[0])
	require.NoError(t, err)
	assert.Equal(t, ticket.TicketID, active.TicketID)
	_, err = f.store.PatientActiveTicket(ctx, f.tenantID, f.patients[1])
	assert.ErrorIs(t, err, store.ErrNoActiveTicket)
}

func TestConcurrentIssueForSamePatient(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, false)
	session := f.open(t, ctx, "")

	const workers = 6
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.store.IssueTicket(ctx, store.IssueTicketInput{
				TenantID: f.tenantID, SessionID: session.SessionID, PatientID: f.patients[0], DoctorID: f.doctorA,
			})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, store.ErrActiveTicketExists)
	}
	assert.Equal(t, 1, ok)
}

func TestIssueTicketIdempotency(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, false)
	session := f.open(t, ctx, "")

	input := store.IssueTicketInput{
		RequestID: uuid.NewString(), TenantID: f.tenantID, SessionID: session.SessionID,
		PatientID: f.patients[0], DoctorID: f.doctorA,
	}
	first, created, err := f.store.IssueTicket(ctx, input)
	require.NoError(t, err)
	assert.True(t, created)
	second, created, err := f.store.IssueTicket(ctx, input)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.TicketID, second.TicketID)

	var count int
	require.NoError(t, f.pool.QueryRow(ctx, `SELECT count(*) FROM outbox_events WHERE type = 'ticket.issued'`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestTicketEventsFormVerifiableChain(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, false)
	session := f.open(t, ctx, "")
	ticket := f.issue(t, ctx, session.SessionID, f.patients[0], f.doctorA)

	_, err := f.store.CallTicket(ctx, f.action(ticket.TicketID))
	require.NoError(t, err)
	_, err = f.store.SkipTicket(ctx, f.action(ticket.TicketID))
	require.NoError(t, err)

	events, err := f.store.ListTicketEvents(ctx, f.tenantID, ticket.TicketID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, []string{"ticket.issued", "ticket.called", "ticket.skipped"}, []string{events[0].Type, events[1].Type, events[2].Type})
	require.NoError(t, store.VerifyTicketChain(events))

	rebuilt, err := store.RehydrateTicket(events)
	require.NoError(t, err)
	assert.Equal(t, models.TicketSkipped, rebuilt.Status)
}

func TestInvoicePaymentsSettleAndRejectOverpayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, false)

	visit, err := f.store.CreateVisit(ctx, store.CreateVisitInput{TenantID: f.tenantID, DoctorID: f.doctorA, PatientID: f.patients[0]})
	require.NoError(t, err)
	assert.Nil(t, visit.TicketID)

	_, err = f.store.CreateInvoice(ctx, store.CreateInvoiceInput{TenantID: f.tenantID, VisitID: visit.VisitID, Amount: 0})
	assert.ErrorIs(t, err, store.ErrInvalidAmount)

	invoice, err := f.store.CreateInvoice(ctx, store.CreateInvoiceInput{TenantID: f.tenantID, VisitID: visit.VisitID, Amount: 20000})
	require.NoError(t, err)
	assert.Equal(t, models.InvoiceUnpaid, invoice.Status)
	assert.Equal(t, models.Money(20000), invoice.Remaining)

	_, err = f.store.CreateInvoice(ctx, store.CreateInvoiceInput{TenantID: f.tenantID, VisitID: visit.VisitID, Amount: 100})
	assert.ErrorIs(t, err, store.ErrInvoiceExists)

	_, invoice, err = f.store.RecordPayment(ctx, store.RecordPaymentInput{TenantID: f.tenantID, InvoiceID: invoice.InvoiceID, Amount: 12000, Method: "cash"})
	require.NoError(t, err)
	assert.Equal(t, models.InvoicePartiallyPaid, invoice.Status)
	assert.Equal(t, models.Money(8000), invoice.Remaining)

	_, err = f.store.UpdateInvoice(ctx, store.UpdateInvoiceInput{TenantID: f.tenantID, InvoiceID: invoice.InvoiceID, Amount: 10000})
	assert.ErrorIs(t, err, store.ErrAmountBelowPaid)

	_, invoice, err = f.store.RecordPayment(ctx, store.RecordPaymentInput{TenantID: f.tenantID, InvoiceID: invoice.InvoiceID, Amount: 8000, Method: "card"})
	require.NoError(t, err)
	assert.Equal(t, models.InvoicePaid, invoice.Status)
	assert.Equal(t, models.Money(0), invoice.Remaining)

	_, _, err = f.store.RecordPayment(ctx, store.RecordPaymentInput{TenantID: f.tenantID, InvoiceID: invoice.InvoiceID, Amount: 1})
	assert.ErrorIs(t, err, store.ErrOverpayment)

	stored, err := f.store.GetInvoice(ctx, f.tenantID, invoice.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, models.Money(20000), stored.Paid)
	assert.Equal(t, models.InvoicePaid, stored.Status)
	require.Len(t, stored.Payments, 2)

	report, err := f.store.DailyRevenue(ctx, f.tenantID, f.clock.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, report.InvoiceCount)
	assert.Equal(t, models.Money(20000), report.TotalBilled)
	assert.Equal(t, models.Money(20000), report.TotalPaid)
	assert.Equal(t, 2, report.PaymentCount)

	_, err = f.store.CompleteVisit(ctx, store.CompleteVisitInput{TenantID: f.tenantID, VisitID: visit.VisitID})
	require.NoError(t, err)
	_, err = f.store.UpdateInvoice(ctx, store.UpdateInvoiceInput{TenantID: f.tenantID, InvoiceID: invoice.InvoiceID, Amount: 30000})
	assert.ErrorIs(t, err, store.ErrVisitNotOpen)
}

func TestConcurrentPaymentsNeverOverdraw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, false)

	visit, err := f.store.CreateVisit(ctx, store.CreateVisitInput{TenantID: f.tenantID, DoctorID: f.doctorA, PatientID: f.patients[0]})
	require.NoError(t, err)
	invoice, err := f.store.CreateInvoice(ctx, store.CreateInvoiceInput{TenantID: f.tenantID, VisitID: visit.VisitID, Amount: 10000})
	require.NoError(t, err)

	const workers = 5
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.store.RecordPayment(ctx, store.RecordPaymentInput{TenantID: f.tenantID, InvoiceID: invoice.InvoiceID, Amount: 3000})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var ok int
	for err := range errs {
		if err == nil {
			ok++
			continue
		}
		assert.ErrorIs(t, err, store.ErrOverpayment)
	}
	assert.Equal(t, 3, ok)

	stored, err := f.store.GetInvoice(ctx, f.tenantID, invoice.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, models.Money(9000), stored.Paid)
	assert.Equal(t, models.Money(1000), stored.Remaining)
}

func TestVisitEditPolicy(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, false)

	visit, err := f.store.CreateVisit(ctx, store.CreateVisitInput{TenantID: f.tenantID, DoctorID: f.doctorA, PatientID: f.patients[0]})
	require.NoError(t, err)

	temperature := 37.8
	fever, late, x := "fever", "late", "x"
	owner := store.Caller{Role: models.RoleDoctor, DoctorID: f.doctorA}
	updated, err := f.store.UpdateVisit(ctx, store.UpdateVisitInput{
		TenantID: f.tenantID, VisitID: visit.VisitID, Caller: owner,
		Complaint: &fever, Vitals: models.Vitals{Temperature: &temperature},
	})
	require.NoError(t, err)
	assert.Equal(t, "fever", updated.Complaint)
	require.NotNil(t, updated.Vitals.Temperature)
	assert.InDelta(t, 37.8, *updated.Vitals.Temperature, 0.001)

	_, err = f.store.UpdateVisit(ctx, store.UpdateVisitInput{
		TenantID: f.tenantID, VisitID: visit.VisitID, Caller: store.Caller{Role: models.RoleDoctor, DoctorID: f.doctorB}, Notes: &x,
	})
	assert.ErrorIs(t, err, store.ErrNotOwnVisit)

	f.clock.Advance(24 * time.Hour)
	_, err = f.store.UpdateVisit(ctx, store.UpdateVisitInput{TenantID: f.tenantID, VisitID: visit.VisitID, Caller: owner, Notes: &late})
	assert.ErrorIs(t, err, store.ErrNotSameDay)

	manager := store.Caller{Role: models.RoleClinicManager}
	updated, err = f.store.UpdateVisit(ctx, store.UpdateVisitInput{TenantID: f.tenantID, VisitID: visit.VisitID, Caller: manager, Notes: &late})
	require.NoError(t, err)
	assert.Equal(t, "late", updated.Notes)
	assert.Equal(t, "fever", updated.Complaint)
}

func TestUpdateVisitClearsTextWithEmptyValue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, false)

	visit, err := f.store.CreateVisit(ctx, store.CreateVisitInput{
		TenantID: f.tenantID, DoctorID: f.doctorA, PatientID: f.patients[0], Complaint: "cough", Notes: "allergic to penicillin",
	})
	require.NoError(t, err)

	empty, diagnosis := "", "bronchitis"
	updated, err := f.store.UpdateVisit(ctx, store.UpdateVisitInput{
		TenantID: f.tenantID, VisitID: visit.VisitID, Notes: &empty, Diagnosis: &diagnosis,
	})
	require.NoError(t, err)
	assert.Empty(t, updated.Notes)
	assert.Equal(t, "cough", updated.Complaint)
	assert.Equal(t, "bronchitis", updated.Diagnosis)

	stored, err := f.store.GetVisit(ctx, f.tenantID, visit.VisitID)
	require.NoError(t, err)
	assert.Empty(t, stored.Notes)
	assert.Equal(t, "cough", stored.Complaint)
}

func TestCreateVisitFromCalledTicket(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, false)
	session := f.open(t, ctx, "")
	ticket := f.issue(t, ctx, session.SessionID, f.patients[0], f.doctorA)

	_, err := f.store.CreateVisit(ctx, store.CreateVisitInput{TenantID: f.tenantID, PatientID: f.patients[0], TicketID: ticket.TicketID})
	assert.ErrorIs(t, err, store.ErrInvalidState)

	_, err = f.store.CallTicket(ctx, f.action(ticket.TicketID))
	require.NoError(t, err)
	_, err = f.store.CreateVisit(ctx, store.CreateVisitInput{TenantID: f.tenantID, PatientID: f.patients[1], TicketID: ticket.TicketID})
	assert.ErrorIs(t, err, store.ErrTicketPatientMismatch)

	visit, err := f.store.CreateVisit(ctx, store.CreateVisitInput{TenantID: f.tenantID, PatientID: f.patients[0], TicketID: ticket.TicketID})
	require.NoError(t, err)
	assert.Equal(t, f.doctorA, visit.DoctorID)

	ticket, err = f.store.GetTicket(ctx, f.tenantID, ticket.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketInVisit, ticket.Status)

	_, err = f.store.CreateVisit(ctx, store.CreateVisitInput{TenantID: f.tenantID, PatientID: f.patients[0], TicketID: ticket.TicketID})
	assert.ErrorIs(t, err, store.ErrVisitExists)
}

func TestRecallSkippedTicketWhilePatientHoldsAnother(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, false)
	session := f.open(t, ctx, "")

	skipped := f.issue(t, ctx, session.SessionID, f.patients[0], f.doctorA)
	_, err := f.store.SkipTicket(ctx, f.action(skipped.TicketID))
	require.NoError(t, err)

	reissued := f.issue(t, ctx, session.SessionID, f.patients[0], f.doctorA)

	_, err = f.store.CallTicket(ctx, f.action(skipped.TicketID))
	assert.ErrorIs(t, err, store.ErrActiveTicketExists)
	stored, err := f.store.GetTicket(ctx, f.tenantID, skipped.TicketID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketSkipped, stored.Status)

	_, err = f.store.CancelTicket(ctx, f.action(reissued.TicketID))
	require.NoError(t, err)
	called, err := f.store.CallTicket(ctx, f.action(skipped.TicketID))
	require.NoError(t, err)
	assert.Equal(t, models.TicketCalled, called.Status)
}

func TestTranslateActiveTicketConstraint(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, false)
	session := f.open(t, ctx, "")
	first := f.issue(t, ctx, session.SessionID, f.patients[0], f.doctorA)

	_, err := f.pool.Exec(ctx, `UPDATE tickets SET status = 'skipped' WHERE ticket_id = $1`, first.TicketID)
	require.NoError(t, err)
	second := f.issue(t, ctx, session.SessionID, f.patients[0], f.doctorA)

	_, err = f.pool.Exec(ctx, `UPDATE tickets SET status = 'waiting' WHERE ticket_id = $1`, first.TicketID)
	require.Error(t, err)
	assert.ErrorIs(t, translateConstraint(err), store.ErrActiveTicketExists)
	assert.NotEqual(t, first.TicketID, second.TicketID)
}

func TestInvoiceStatusFollowsLedgerRules(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, false)
	visit, err := f.store.CreateVisit(ctx, store.CreateVisitInput{TenantID: f.tenantID, DoctorID: f.doctorA, PatientID: f.patients[0]})
	require.NoError(t, err)
	invoice, err := f.store.CreateInvoice(ctx, store.CreateInvoiceInput{TenantID: f.tenantID, VisitID: visit.VisitID, Amount: 5000})
	require.NoError(t, err)

	for _, amount := range []models.Money{1000, 4000} {
		_, invoice, err = f.store.RecordPayment(ctx, store.RecordPaymentInput{TenantID: f.tenantID, InvoiceID: invoice.InvoiceID, Amount: amount})
		require.NoError(t, err)
		assert.Equal(t, store.InvoiceStatus(invoice.Amount, invoice.Paid), invoice.Status)
		assert.Equal(t, invoice.Amount-invoice.Paid, invoice.Remaining)
	}
	assert.Equal(t, models.InvoicePaid, invoice.Status)

	_, err = f.pool.Exec(ctx, `UPDATE invoices SET status = 'unpaid' WHERE invoice_id = $1`, invoice.InvoiceID)
	assert.Error(t, err, "status must stay consistent with paid and amount")
}

func TestRevenueByDoctor(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, false)

	bill := func(doctorID, patientID string, amount, paid models.Money) {
		t.Helper()
		visit, err := f.store.CreateVisit(ctx, store.CreateVisitInput{TenantID: f.tenantID, DoctorID: doctorID, PatientID: patientID})
		require.NoError(t, err)
		invoice, err := f.store.CreateInvoice(ctx, store.CreateInvoiceInput{TenantID: f.tenantID, VisitID: visit.VisitID, Amount: amount})
		require.NoError(t, err)
		if paid > 0 {
			_, _, err = f.store.RecordPayment(ctx, store.RecordPaymentInput{TenantID: f.tenantID, InvoiceID: invoice.InvoiceID, Amount: paid})
			require.NoError(t, err)
		}
	}
	bill(f.doctorA, f.patients[0], 20000, 20000)
	bill(f.doctorA, f.patients[1], 15000, 0)
	bill(f.doctorB, f.patients[2], 10000, 4000)

	report, err := f.store.RevenueByDoctor(ctx, f.tenantID, f.clock.Now(), "")
	require.NoError(t, err)
	require.Len(t, report, 2)
	byDoctor := map[string]models.DoctorRevenue{}
	for _, entry := range report {
		byDoctor[entry.DoctorID] = entry
	}
	assert.Equal(t, 2, byDoctor[f.doctorA].InvoiceCount)
	assert.Equal(t, models.Money(35000), byDoctor[f.doctorA].TotalBilled)
	assert.Equal(t, models.Money(20000), byDoctor[f.doctorA].TotalPaid)
	assert.Equal(t, models.Money(4000), byDoctor[f.doctorB].TotalPaid)

	report, err = f.store.RevenueByDoctor(ctx, f.tenantID, f.clock.Now(), f.doctorB)
	require.NoError(t, err)
	require.Len(t, report, 1)
	assert.Equal(t, f.doctorB, report[0].DoctorID)

	report, err = f.store.RevenueByDoctor(ctx, f.tenantID, f.clock.Now().AddDate(0, 0, 1), "")
	require.NoError(t, err)
	assert.Empty(t, report)
}

func TestPatientSummaryKeepsRecentVisits(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, false)

	var last models.Visit
	for i := 0; i < 7; i++ {
		visit, err := f.store.CreateVisit(ctx, store.CreateVisitInput{TenantID: f.tenantID, DoctorID: f.doctorA, PatientID: f.patients[0]})
		require.NoError(t, err)
		_, err = f.store.CompleteVisit(ctx, store.CompleteVisitInput{TenantID: f.tenantID, VisitID: visit.VisitID})
		require.NoError(t, err)
		last = visit
		f.clock.Advance(time.Hour)
	}

	summary, err := f.store.PatientSummary(ctx, f.tenantID, f.patients[0])
	require.NoError(t, err)
	assert.Equal(t, f.patients[0], summary.Patient.PatientID)
	assert.Equal(t, 7, summary.TotalVisits)
	require.Len(t, summary.RecentVisits, 5)
	assert.Equal(t, last.VisitID, summary.RecentVisits[0].VisitID)
	assert.Equal(t, models.VisitCompleted, summary.RecentVisits[0].Status)
	assert.NotNil(t, summary.RecentVisits[0].CompletedAt)

	empty, err := f.store.PatientSummary(ctx, f.tenantID, f.patients[1])
	require.NoError(t, err)
	assert.Zero(t, empty.TotalVisits)
	assert.Empty(t, empty.RecentVisits)

	_, err = f.store.PatientSummary(ctx, f.tenantID, uuid.NewString())
	assert.ErrorIs(t, err, store.ErrPatientNotFound)
}

func TestOutboxHidesEventsBehindOpenTransaction(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ctx, false)

	var cursor store.OutboxCursor
	seen, err := f.store.ListOutboxEvents(ctx, cursor, 1000)
	require.NoError(t, err)
	if len(seen) > 0 {
		cursor = seen[len(seen)-1].Cursor()
	}

	slow, err := f.pool.Begin(ctx)
	require.NoError(t, err)
	defer slow.Rollback(ctx)
	_, err = slow.Exec(ctx, `
		INSERT INTO outbox_events (event_id, tenant_id, type, payload_json, created_at)
		VALUES ($1, $2, 'session.note', '{}', now())
	`, uuid.NewString(), f.tenantID)
	require.NoError(t, err)

	_, err = f.store.OpenSession(ctx, store.OpenSessionInput{TenantID: f.tenantID, Note: "evening"})
	require.NoError(t, err)

	pending, err := f.store.ListOutboxEvents(ctx, cursor, 100)
	require.NoError(t, err)
	assert.Empty(t, pending, "events committed after an open transaction wait for it")

	require.NoError(t, slow.Commit(ctx))
	var released []store.OutboxEvent
	require.Eventually(t, func() bool {
		released, err = f.store.ListOutboxEvents(ctx, cursor, 100)
		return err == nil && len(released) == 2
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, "session.note", released[0].Type)
	assert.Equal(t, "session.opened", released[1].Type)
	assert.True(t, released[1].Cursor().After(released[0].Cursor()))

	require.NoError(t, f.store.UpdateRelayOffset(ctx, "board", released[1].Cursor()))
	require.NoError(t, f.store.UpdateRelayOffset(ctx, "board", released[0].Cursor()))
	stored, err := f.store.GetRelayOffset(ctx, "board")
	require.NoError(t, err)
	assert.Equal(t, released[1].Cursor(), stored)
}

func newFixture(t *testing.T, ctx context.Context, blockDoctorWhenClinicWide bool) *fixture {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	require.NoError(t, execOnce(ctx, dsn, "CREATE SCHEMA "+schema))

	cfg, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() {
		pool.Close()
		_ = execOnce(context.Background(), dsn, "DROP SCHEMA "+schema+" CASCADE")
	})
	require.NoError(t, migrations.Up(ctx, pool))

	clock := &testClock{now: time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)}
	f := &fixture{
		store: NewStore(pool, Options{
			Location:                  time.UTC,
			BlockDoctorWhenClinicWide: blockDoctorWhenClinicWide,
			Now:                       clock.Now,
		}),
		pool:     pool,
		clock:    clock,
		tenantID: uuid.NewString(),
		doctorA:  uuid.NewString(),
		doctorB:  uuid.NewString(),
	}
	f.seed(t, ctx)
	return f
}

func execOnce(ctx context.Context, dsn, statement string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, statement)
	return err
}

func (f *fixture) seed(t *testing.T, ctx context.Context) {
	t.Helper()
	_, err := f.pool.Exec(ctx, `INSERT INTO tenants (tenant_id, slug, name) VALUES ($1, $2, 'Clinic')`, f.tenantID, "clinic-"+f.tenantID[:8])
	require.NoError(t, err)
	for _, doctorID := range []string{f.doctorA, f.doctorB} {
		_, err = f.pool.Exec(ctx, `INSERT INTO doctors (doctor_id, tenant_id, user_id, name) VALUES ($1, $2, $3, 'Doctor')`, doctorID, f.tenantID, uuid.NewString())
		require.NoError(t, err)
	}
	for i := 0; i < 3; i++ {
		patientID := uuid.NewString()
		_, err = f.pool.Exec(ctx, `INSERT INTO patients (patient_id, tenant_id, user_id, name) VALUES ($1, $2, $3, 'Patient')`, patientID, f.tenantID, uuid.NewString())
		require.NoError(t, err)
		f.patients = append(f.patients, patientID)
	}
}

func (f *fixture) open(t *testing.T, ctx context.Context, doctorID string) models.Session {
	t.Helper()
	session, err := f.store.OpenSession(ctx, store.OpenSessionInput{TenantID: f.tenantID, DoctorID: doctorID})
	require.NoError(t, err)
	return session
}

func (f *fixture) issue(t *testing.T, ctx context.Context, sessionID, patientID, doctorID string) models.Ticket {
	t.Helper()
	ticket, created, err := f.store.IssueTicket(ctx, store.IssueTicketInput{
		TenantID: f.tenantID, SessionID: sessionID, PatientID: patientID, DoctorID: doctorID,
	})
	require.NoError(t, err)
	require.True(t, created)
	assert.Equal(t, models.TicketWaiting, ticket.Status)
	return ticket
}

func (f *fixture) action(ticketID string) store.TicketActionInput {
	return store.TicketActionInput{TenantID: f.tenantID, TicketID: ticketID}
}
