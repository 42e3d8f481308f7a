package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"clinic/reception-service/internal/models"
	"clinic/reception-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) CreateInvoice(ctx context.Context, input store.CreateInvoiceInput) (models.Invoice, error) {
	ctx, span := startSpan(ctx, "CreateInvoice", input.TenantID)
	defer span.End()

	if err := store.CheckInvoiceAmount(input.Amount, 0, input.Amount); err != nil {
		return models.Invoice{}, err
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return models.Invoice{}, err
	}
	defer rollback(ctx, tx)

	visit, err := getVisit(ctx, tx, input.TenantID, input.VisitID, "FOR SHARE")
	if err != nil {
		return models.Invoice{}, err
	}

	var exists bool
	if err = tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM invoices i WHERE i.visit_id = $1)
	`, visit.VisitID).Scan(&exists); err != nil {
		return models.Invoice{}, err
	}
	if exists {
		return models.Invoice{}, store.ErrInvoiceExists
	}

	now := s.timestamp()
	invoice, err := scanInvoice(tx.QueryRow(ctx, `
		INSERT INTO invoices AS i (invoice_id, tenant_id, visit_id, patient_id, doctor_id, amount_cents, status, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $9)
		RETURNING `+invoiceColumns,
		uuid.NewString(), input.TenantID, visit.VisitID, visit.PatientID, visit.DoctorID, int64(input.Amount),
		store.InvoiceStatus(input.Amount, 0), input.Notes, now))
	if err != nil {
		return models.Invoice{}, translateConstraint(err)
	}

	if err = s.insertOutboxEvent(ctx, tx, input.TenantID, eventInvoiceCreated, invoice); err != nil {
		return models.Invoice{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Invoice{}, translateConstraint(err)
	}
	invoice.Payments = []models.Payment{}
	return invoice, nil
}

func (s *Store) UpdateInvoice(ctx context.Context, input store.UpdateInvoiceInput) (models.Invoice, error) {
	ctx, span := startSpan(ctx, "UpdateInvoice", input.TenantID)
	defer span.End()

	tx, err := s.begin(ctx)
	if err != nil {
		return models.Invoice{}, err
	}
	defer rollback(ctx, tx)

	invoice, err := getInvoice(ctx, tx, input.TenantID, input.InvoiceID, "FOR UPDATE")
	if err != nil {
		return models.Invoice{}, err
	}
	visit, err := getVisit(ctx, tx, input.TenantID, invoice.VisitID, "FOR SHARE")
	if err != nil {
		return models.Invoice{}, err
	}
	if visit.Status != models.VisitOpen {
		return models.Invoice{}, store.ErrVisitNotOpen
	}
	if err = store.CheckInvoiceAmount(invoice.Amount, invoice.Paid, input.Amount); err != nil {
		return models.Invoice{}, err
	}

	notes := invoice.Notes
	if input.Notes != "" {
		notes = input.Notes
	}
	invoice, err = scanInvoice(tx.QueryRow(ctx, `
		UPDATE invoices AS i
		SET amount_cents = $1, status = $2, notes = $3, updated_at = $4
		WHERE i.invoice_id = $5
		RETURNING `+invoiceColumns,
		int64(input.Amount), store.InvoiceStatus(input.Amount, invoice.Paid), notes, s.timestamp(), invoice.InvoiceID))
	if err != nil {
		return models.Invoice{}, err
	}

	if err = s.insertOutboxEvent(ctx, tx, input.TenantID, eventInvoiceUpdated, invoice); err != nil {
		return models.Invoice{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Invoice{}, err
	}
	return invoice, nil
}

// maxPaymentAttempts bounds compare-and-swap retries against concurrent payments.
const maxPaymentAttempts = 10

// RecordPayment applies the payment with a compare-and-swap on the paid
// amount; a payment that would overdraw the invoice leaves it untouched.
func (s *Store) RecordPayment(ctx context.Context, input store.RecordPaymentInput) (models.Payment, models.Invoice, error) {
	ctx, span := startSpan(ctx, "RecordPayment", input.TenantID)
	defer span.End()

	if input.Amount <= 0 {
		return models.Payment{}, models.Invoice{}, store.ErrInvalidAmount
	}

	tx, err := s.begin(ctx)
	if err != nil {
		return models.Payment{}, models.Invoice{}, err
	}
	defer rollback(ctx, tx)

	now := s.timestamp()
	invoice, err := s.applyPayment(ctx, tx, input, now)
	if err != nil {
		return models.Payment{}, models.Invoice{}, err
	}

	payment, err := scanPayment(tx.QueryRow(ctx, `
		INSERT INTO payments AS p (payment_id, tenant_id, invoice_id, amount_cents, method, reference, notes, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING `+paymentColumns,
		uuid.NewString(), input.TenantID, invoice.InvoiceID, int64(input.Amount), input.Method, input.Reference, input.Notes, now))
	if err != nil {
		return models.Payment{}, models.Invoice{}, err
	}

	if err = s.insertOutboxEvent(ctx, tx, input.TenantID, eventPaymentRecorded, map[string]interface{}{
		"payment": payment,
		"invoice": invoice,
	}); err != nil {
		return models.Payment{}, models.Invoice{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Payment{}, models.Invoice{}, err
	}
	return payment, invoice, nil
}

// applyPayment reads the invoice, applies the ledger rules and writes the
// result only if paid and amount are still what was read. A lost race rereads
// the invoice, so a concurrent payment is validated against the new balance.
func (s *Store) applyPayment(ctx context.Context, tx pgx.Tx, input store.RecordPaymentInput, now time.Time) (models.Invoice, error) {
	for attempt := 0; attempt < maxPaymentAttempts; attempt++ {
		current, err := getInvoice(ctx, tx, input.TenantID, input.InvoiceID, "")
		if err != nil {
			return models.Invoice{}, err
		}
		next, err := store.ApplyPayment(current, input.Amount)
		if err != nil {
			return models.Invoice{}, err
		}

		updated, err := scanInvoice(tx.QueryRow(ctx, `
			UPDATE invoices AS i
			SET paid_cents = $1, status = $2, updated_at = $3
			WHERE i.invoice_id = $4 AND i.paid_cents = $5 AND i.amount_cents = $6
			RETURNING `+invoiceColumns,
			int64(next.Paid), next.Status, now, current.InvoiceID, int64(current.Paid), int64(current.Amount)))
		if errors.Is(err, pgx.ErrNoRows) {
			continue
		}
		if err != nil {
			return models.Invoice{}, err
		}
		return updated, nil
	}
	return models.Invoice{}, fmt.Errorf("record payment on invoice %s: too many concurrent updates", input.InvoiceID)
}

func getInvoice(ctx context.Context, q querier, tenantID, invoiceID, lock string) (models.Invoice, error) {
	invoice, err := scanInvoice(q.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices i
		WHERE i.invoice_id = $1 AND i.tenant_id = $2 AND `+live("i")+`
		`+lock, invoiceID, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Invoice{}, store.ErrInvoiceNotFound
	}
	return invoice, err
}

func (s *Store) GetInvoice(ctx context.Context, tenantID, invoiceID string) (models.Invoice, error) {
	ctx, span := startSpan(ctx, "GetInvoice", tenantID)
	defer span.End()

	invoice, err := getInvoice(ctx, s.pool, tenantID, invoiceID, "")
	if err != nil {
		return models.Invoice{}, err
	}
	if invoice.Payments, err = s.listPayments(ctx, tenantID, invoiceID); err != nil {
		return models.Invoice{}, err
	}
	return invoice, nil
}

func (s *Store) ListInvoices(ctx context.Context, tenantID string, filter store.InvoiceFilter) (models.Page[models.Invoice], error) {
	ctx, span := startSpan(ctx, "ListInvoices", tenantID)
	defer span.End()

	paging := store.Paging{PageNumber: filter.PageNumber, PageSize: filter.PageSize}.Normalize()
	page := models.Page[models.Invoice]{Items: []models.Invoice{}, PageNumber: paging.PageNumber, PageSize: paging.PageSize}

	conditions := []string{"i.tenant_id = $1", live("i")}
	args := []interface{}{tenantID}
	if filter.From != nil {
		args = append(args, *filter.From)
		conditions = append(conditions, fmt.Sprintf("i.created_at >= $%d", len(args)))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		conditions = append(conditions, fmt.Sprintf("i.created_at < $%d", len(args)))
	}
	if filter.DoctorID != "" {
		args = append(args, filter.DoctorID)
		conditions = append(conditions, fmt.Sprintf("i.doctor_id = $%d", len(args)))
	}
	where := strings.Join(conditions, " AND ")

	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM invoices i WHERE `+where, args...).Scan(&page.TotalCount); err != nil {
		return page, err
	}

	args = append(args, paging.PageSize, paging.Offset())
	rows, err := s.pool.Query(ctx, fmt.Sprintf(`
		SELECT %s
		FROM invoices i
		WHERE %s
		ORDER BY i.created_at DESC
		LIMIT $%d OFFSET $%d
	`, invoiceColumns, where, len(args)-1, len(args)), args...)
	if err != nil {
		return page, err
	}
	defer rows.Close()
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return page, err
		}
		page.Items = append(page.Items, invoice)
	}
	return page, rows.Err()
}

func (s *Store) ListPayments(ctx context.Context, tenantID, invoiceID string) ([]models.Payment, error) {
	ctx, span := startSpan(ctx, "ListPayments", tenantID)
	defer span.End()

	if _, err := getInvoice(ctx, s.pool, tenantID, invoiceID, ""); err != nil {
		return nil, err
	}
	return s.listPayments(ctx, tenantID, invoiceID)
}

func (s *Store) listPayments(ctx context.Context, tenantID, invoiceID string) ([]models.Payment, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+paymentColumns+`
		FROM payments p
		WHERE p.invoice_id = $1 AND p.tenant_id = $2 AND `+live("p")+`
		ORDER BY p.paid_at DESC
	`, invoiceID, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := []models.Payment{}
	for rows.Next() {
		payment, err := scanPayment(rows)
		if err != nil {
			return nil, err
		}
		payments = append(payments, payment)
	}
	return payments, rows.Err()
}

// DailyRevenue totals invoices raised and payments collected on the clinic
// calendar day containing day.
func (s *Store) DailyRevenue(ctx context.Context, tenantID string, day time.Time) (models.DailyRevenue, error) {
	ctx, span := startSpan(ctx, "DailyRevenue", tenantID)
	defer span.End()

	start, end := store.DayBounds(day, s.location)
	report := models.DailyRevenue{Date: start.Format(time.DateOnly)}

	var billed, unpaid, paid int64
	err := s.pool.QueryRow(ctx, `
		SELECT count(*), COALESCE(sum(i.amount_cents), 0)::bigint, COALESCE(sum(i.remaining_cents), 0)::bigint
		FROM invoices i
		WHERE i.tenant_id = $1 AND i.created_at >= $2 AND i.created_at < $3 AND `+live("i"),
		tenantID, start, end).Scan(&report.InvoiceCount, &billed, &unpaid)
	if err != nil {
		return report, err
	}
	err = s.pool.QueryRow(ctx, `
		SELECT count(*), COALESCE(sum(p.amount_cents), 0)::bigint
		FROM payments p
		WHERE p.tenant_id = $1 AND p.paid_at >= $2 AND p.paid_at < $3 AND `+live("p"),
		tenantID, start, end).Scan(&report.PaymentCount, &paid)
	if err != nil {
		return report, err
	}
	report.TotalBilled = models.Money(billed)
	report.TotalUnpaid = models.Money(unpaid)
	report.TotalPaid = models.Money(paid)
	return report, nil
}

// RevenueByDoctor groups the invoices raised on the clinic calendar day by
// doctor, optionally narrowed to doctorID.
func (s *Store) RevenueByDoctor(ctx context.Context, tenantID string, day time.Time, doctorID string) ([]models.DoctorRevenue, error) {
	ctx, span := startSpan(ctx, "RevenueByDoctor", tenantID)
	defer span.End()

	start, end := store.DayBounds(day, s.location)
	rows, err := s.pool.Query(ctx, `
		SELECT i.doctor_id, d.name, count(*),
			COALESCE(sum(i.amount_cents), 0)::bigint, COALESCE(sum(i.paid_cents), 0)::bigint
		FROM invoices i
		JOIN doctors d ON d.doctor_id = i.doctor_id
		WHERE i.tenant_id = $1 AND i.created_at >= $2 AND i.created_at < $3 AND `+live("i")+`
			AND ($4::uuid IS NULL OR i.doctor_id = $4)
		GROUP BY i.doctor_id, d.name
		ORDER BY d.name ASC, i.doctor_id ASC
	`, tenantID, start, end, nullIfEmpty(doctorID))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	report := []models.DoctorRevenue{}
	for rows.Next() {
		var entry models.DoctorRevenue
		var billed, paid int64
		if err := rows.Scan(&entry.DoctorID, &entry.DoctorName, &entry.InvoiceCount, &billed, &paid); err != nil {
			return nil, err
		}
		entry.TotalBilled = models.Money(billed)
		entry.TotalPaid = models.Money(paid)
		report = append(report, entry)
	}
	return report, rows.Err()
}
