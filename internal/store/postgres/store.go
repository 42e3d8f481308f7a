package postgres

import (
	"context"
	"errors"
	"time"

	"clinic/reception-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("clinic/reception-service/store/postgres")

// ticketOrder is the one service order shared by every ticket listing.
const ticketOrder = "t.is_urgent DESC, t.issued_at ASC, t.ticket_number ASC"

type Store struct {
	pool                      *pgxpool.Pool
	location                  *time.Location
	blockDoctorWhenClinicWide bool
	now                       func() time.Time
}

type Options struct {
	// Location sets the clinic's calendar day boundary.
	Location *time.Location
	// BlockDoctorWhenClinicWide rejects a doctor-scoped session while a
	// clinic-wide session is active on the same day.
	BlockDoctorWhenClinicWide bool
	Now                       func() time.Time
}

var _ store.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool, options Options) *Store {
	loc := options.Location
	if loc == nil {
		loc = time.UTC
	}
	now := options.Now
	if now == nil {
		now = time.Now
	}
	return &Store{
		pool:                      pool,
		location:                  loc,
		blockDoctorWhenClinicWide: options.BlockDoctorWhenClinicWide,
		now:                       now,
	}
}

// timestamp returns the current time at the precision postgres stores.
func (s *Store) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

// day returns the clinic calendar day of t as a UTC midnight suitable for a
// DATE column.
func (s *Store) day(t time.Time) time.Time {
	y, m, d := t.In(s.location).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func (s *Store) begin(ctx context.Context) (pgx.Tx, error) {
	return s.pool.BeginTx(ctx, pgx.TxOptions{})
}

func startSpan(ctx context.Context, name, tenantID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "store."+name, trace.WithAttributes(attribute.String("tenant.id", tenantID)))
}

// live is the tombstone filter applied at every read boundary.
func live(alias string) string {
	return alias + ".deleted_at IS NULL"
}

const uniqueViolation = "23505"

var errDuplicateRequest = errors.New("duplicate request id")

// translateConstraint maps unique violations raised by concurrent writers to
// the same policy errors the pre-checks return.
func translateConstraint(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "queue_sessions_active_scope_uq":
		return store.ErrSessionExists
	case "tickets_active_patient_uq":
		return store.ErrActiveTicketExists
	case "tickets_request_uq":
		return errDuplicateRequest
	case "visits_ticket_uq":
		return store.ErrVisitExists
	case "invoices_visit_uq":
		return store.ErrInvoiceExists
	}
	return err
}

func nullIfEmpty(value string) interface{} {
	if value == "" {
		return nil
	}
	return value
}
