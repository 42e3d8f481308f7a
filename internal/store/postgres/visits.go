package postgres

import (
	"context"
	"errors"

	"clinic/reception-service/internal/models"
	"clinic/reception-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type visitRow struct {
	TenantID  string
	TicketID  string
	DoctorID  string
	PatientID string
	Complaint string
	Notes     string
}

func (s *Store) insertVisit(ctx context.Context, tx pgx.Tx, row visitRow) (models.Visit, error) {
	visit, err := scanVisit(tx.QueryRow(ctx, `
		INSERT INTO visits AS v (visit_id, tenant_id, ticket_id, doctor_id, patient_id, status, complaint, notes, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING `+visitColumns,
		uuid.NewString(), row.TenantID, nullIfEmpty(row.TicketID), row.DoctorID, row.PatientID, models.VisitOpen,
		row.Complaint, row.Notes, s.timestamp()))
	if err != nil {
		return models.Visit{}, translateConstraint(err)
	}
	if err = s.insertOutboxEvent(ctx, tx, row.TenantID, eventVisitCreated, visit); err != nil {
		return models.Visit{}, err
	}
	return visit, nil
}

func (s *Store) CreateVisit(ctx context.Context, input store.CreateVisitInput) (models.Visit, error) {
	ctx, span := startSpan(ctx, "CreateVisit", input.TenantID)
	defer span.End()

	tx, err := s.begin(ctx)
	if err != nil {
		return models.Visit{}, err
	}
	defer rollback(ctx, tx)

	if err = ensurePatient(ctx, tx, input.TenantID, input.PatientID); err != nil {
		return models.Visit{}, err
	}

	doctorID := input.DoctorID
	if input.TicketID != "" {
		ticket, err := getTicket(ctx, tx, input.TenantID, input.TicketID)
		if err != nil {
			return models.Visit{}, err
		}
		if ticket.PatientID != input.PatientID {
			return models.Visit{}, store.ErrTicketPatientMismatch
		}
		if doctorID == "" {
			doctorID = ticket.DoctorID
		}
		if doctorID != ticket.DoctorID {
			return models.Visit{}, store.ErrTicketDoctorMismatch
		}
		if err = ensureNoVisitForTicket(ctx, tx, input.TicketID); err != nil {
			return models.Visit{}, err
		}

		switch ticket.Status {
		case models.TicketCalled:
			session, err := lockSession(ctx, tx, input.TenantID, ticket.SessionID, "FOR SHARE")
			if err != nil {
				return models.Visit{}, err
			}
			if !session.Active {
				return models.Visit{}, store.ErrSessionClosed
			}
			action := store.TicketActionInput{TenantID: input.TenantID, TicketID: input.TicketID}
			if _, err = s.transitionTicket(ctx, tx, action, store.ActionStartVisit); err != nil {
				return models.Visit{}, err
			}
		case models.TicketInVisit:
		default:
			return models.Visit{}, store.ErrInvalidState
		}
	}
	if doctorID == "" {
		return models.Visit{}, store.ErrDoctorNotFound
	}
	if _, err = getDoctor(ctx, tx, input.TenantID, doctorID); err != nil {
		return models.Visit{}, err
	}

	visit, err := s.insertVisit(ctx, tx, visitRow{
		TenantID:  input.TenantID,
		TicketID:  input.TicketID,
		DoctorID:  doctorID,
		PatientID: input.PatientID,
		Complaint: input.Complaint,
		Notes:     input.Notes,
	})
	if err != nil {
		return models.Visit{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, translateConstraint(err)
	}
	return visit, nil
}

func ensureNoVisitForTicket(ctx context.Context, tx pgx.Tx, ticketID string) error {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM visits v WHERE v.ticket_id = $1 AND `+live("v")+`)
	`, ticketID).Scan(&exists)
	if err != nil {
		return err
	}
	if exists {
		return store.ErrVisitExists
	}
	return nil
}

func (s *Store) UpdateVisit(ctx context.Context, input store.UpdateVisitInput) (models.Visit, error) {
	ctx, span := startSpan(ctx, "UpdateVisit", input.TenantID)
	defer span.End()

	tx, err := s.begin(ctx)
	if err != nil {
		return models.Visit{}, err
	}
	defer rollback(ctx, tx)

	visit, err := lockVisit(ctx, tx, input.TenantID, input.VisitID)
	if err != nil {
		return models.Visit{}, err
	}
	if visit.Status != models.VisitOpen {
		return models.Visit{}, store.ErrVisitNotOpen
	}
	if err = store.CheckVisitEdit(input.Caller, visit.DoctorID, visit.StartedAt, s.now(), s.location); err != nil {
		return models.Visit{}, err
	}

	mergeVisit(&visit, input)
	vitals := visit.Vitals
	visit, err = scanVisit(tx.QueryRow(ctx, `
		UPDATE visits AS v
		SET complaint = $1, diagnosis = $2, notes = $3, bp_systolic = $4, bp_diastolic = $5, heart_rate = $6,
			temperature = $7, weight = $8, height = $9, bmi = $10, blood_sugar = $11, oxygen_saturation = $12,
			respiratory_rate = $13, follow_up_on = $14
		WHERE v.visit_id = $15
		RETURNING `+visitColumns,
		visit.Complaint, visit.Diagnosis, visit.Notes, vitals.BloodPressureSystolic, vitals.BloodPressureDiastolic,
		vitals.HeartRate, vitals.Temperature, vitals.Weight, vitals.Height, vitals.BMI, vitals.BloodSugar,
		vitals.OxygenSaturation, vitals.RespiratoryRate, visit.FollowUpOn, visit.VisitID))
	if err != nil {
		return models.Visit{}, err
	}

	if err = s.insertOutboxEvent(ctx, tx, input.TenantID, eventVisitUpdated, visit); err != nil {
		return models.Visit{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, err
	}
	return visit, nil
}

// mergeVisit overwrites the fields the update carries.
func mergeVisit(visit *models.Visit, input store.UpdateVisitInput) {
	if input.Complaint != nil {
		visit.Complaint = *input.Complaint
	}
	if input.Diagnosis != nil {
		visit.Diagnosis = *input.Diagnosis
	}
	if input.Notes != nil {
		visit.Notes = *input.Notes
	}
	if input.FollowUpOn != nil {
		visit.FollowUpOn = input.FollowUpOn
	}

	in, out := input.Vitals, &visit.Vitals
	if in.BloodPressureSystolic != nil {
		out.BloodPressureSystolic = in.BloodPressureSystolic
	}
	if in.BloodPressureDiastolic != nil {
		out.BloodPressureDiastolic = in.BloodPressureDiastolic
	}
	if in.HeartRate != nil {
		out.HeartRate = in.HeartRate
	}
	if in.Temperature != nil {
		out.Temperature = in.Temperature
	}
	if in.Weight != nil {
		out.Weight = in.Weight
	}
	if in.Height != nil {
		out.Height = in.Height
	}
	if in.BMI != nil {
		out.BMI = in.BMI
	}
	if in.BloodSugar != nil {
		out.BloodSugar = in.BloodSugar
	}
	if in.OxygenSaturation != nil {
		out.OxygenSaturation = in.OxygenSaturation
	}
	if in.RespiratoryRate != nil {
		out.RespiratoryRate = in.RespiratoryRate
	}
}

func (s *Store) CompleteVisit(ctx context.Context, input store.CompleteVisitInput) (models.Visit, error) {
	ctx, span := startSpan(ctx, "CompleteVisit", input.TenantID)
	defer span.End()

	tx, err := s.begin(ctx)
	if err != nil {
		return models.Visit{}, err
	}
	defer rollback(ctx, tx)

	visit, err := getVisit(ctx, tx, input.TenantID, input.VisitID, "")
	if err != nil {
		return models.Visit{}, err
	}
	// Ticket before visit, the same order FinishTicket takes them in.
	if visit.TicketID != nil {
		if _, err = tx.Exec(ctx, `SELECT 1 FROM tickets WHERE ticket_id = $1 FOR UPDATE`, *visit.TicketID); err != nil {
			return models.Visit{}, err
		}
	}
	if visit, err = lockVisit(ctx, tx, input.TenantID, input.VisitID); err != nil {
		return models.Visit{}, err
	}
	if visit.Status != models.VisitOpen {
		return models.Visit{}, store.ErrVisitNotOpen
	}
	if err = store.CheckVisitEdit(input.Caller, visit.DoctorID, visit.StartedAt, s.now(), s.location); err != nil {
		return models.Visit{}, err
	}

	if input.Diagnosis != "" {
		visit.Diagnosis = input.Diagnosis
	}
	if input.Notes != "" {
		visit.Notes = input.Notes
	}
	visit, err = scanVisit(tx.QueryRow(ctx, `
		UPDATE visits AS v
		SET status = $1, completed_at = $2, diagnosis = $3, notes = $4
		WHERE v.visit_id = $5
		RETURNING `+visitColumns,
		models.VisitCompleted, s.timestamp(), visit.Diagnosis, visit.Notes, visit.VisitID))
	if err != nil {
		return models.Visit{}, err
	}
	if err = s.insertOutboxEvent(ctx, tx, input.TenantID, eventVisitCompleted, visit); err != nil {
		return models.Visit{}, err
	}

	if visit.TicketID != nil {
		status, _, err := loadTicketState(ctx, tx, input.TenantID, *visit.TicketID)
		if err != nil {
			return models.Visit{}, err
		}
		if status == models.TicketInVisit {
			action := store.TicketActionInput{TenantID: input.TenantID, TicketID: *visit.TicketID}
			if _, err = s.transitionTicket(ctx, tx, action, store.ActionFinish); err != nil {
				return models.Visit{}, err
			}
		}
	}

	if err = tx.Commit(ctx); err != nil {
		return models.Visit{}, err
	}
	return visit, nil
}

// completeLinkedVisit closes the open visit of a finished ticket, if any.
func (s *Store) completeLinkedVisit(ctx context.Context, tx pgx.Tx, ticket models.Ticket) error {
	visit, err := scanVisit(tx.QueryRow(ctx, `
		UPDATE visits AS v
		SET status = $1, completed_at = $2
		WHERE v.ticket_id = $3 AND v.tenant_id = $4 AND v.status = $5 AND `+live("v")+`
		RETURNING `+visitColumns,
		models.VisitCompleted, s.timestamp(), ticket.TicketID, ticket.TenantID, models.VisitOpen))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return err
	}
	return s.insertOutboxEvent(ctx, tx, ticket.TenantID, eventVisitCompleted, visit)
}

func lockVisit(ctx context.Context, tx pgx.Tx, tenantID, visitID string) (models.Visit, error) {
	return getVisit(ctx, tx, tenantID, visitID, "FOR UPDATE")
}

func getVisit(ctx context.Context, q querier, tenantID, visitID, lock string) (models.Visit, error) {
	visit, err := scanVisit(q.QueryRow(ctx, `
		SELECT `+visitColumns+`
		FROM visits v
		WHERE v.visit_id = $1 AND v.tenant_id = $2 AND `+live("v")+`
		`+lock, visitID, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Visit{}, store.ErrVisitNotFound
	}
	return visit, err
}

// GetVisit returns the visit with its invoice and payments when billed.
func (s *Store) GetVisit(ctx context.Context, tenantID, visitID string) (models.Visit, error) {
	ctx, span := startSpan(ctx, "GetVisit", tenantID)
	defer span.End()

	visit, err := getVisit(ctx, s.pool, tenantID, visitID, "")
	if err != nil {
		return models.Visit{}, err
	}
	invoice, err := scanInvoice(s.pool.QueryRow(ctx, `
		SELECT `+invoiceColumns+`
		FROM invoices i
		WHERE i.visit_id = $1 AND i.tenant_id = $2 AND `+live("i"), visitID, tenantID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return visit, nil
		}
		return models.Visit{}, err
	}
	if invoice.Payments, err = s.listPayments(ctx, tenantID, invoice.InvoiceID); err != nil {
		return models.Visit{}, err
	}
	visit.Invoice = &invoice
	return visit, nil
}

func (s *Store) ListPatientVisits(ctx context.Context, tenantID, patientID string, paging store.Paging) (models.Page[models.Visit], error) {
	ctx, span := startSpan(ctx, "ListPatientVisits", tenantID)
	defer span.End()

	paging = paging.Normalize()
	page := models.Page[models.Visit]{Items: []models.Visit{}, PageNumber: paging.PageNumber, PageSize: paging.PageSize}
	if err := ensurePatient(ctx, s.pool, tenantID, patientID); err != nil {
		return page, err
	}
	if err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM visits v
		WHERE v.patient_id = $1 AND v.tenant_id = $2 AND `+live("v"), patientID, tenantID).Scan(&page.TotalCount); err != nil {
		return page, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+visitColumns+`
		FROM visits v
		WHERE v.patient_id = $1 AND v.tenant_id = $2 AND `+live("v")+`
		ORDER BY v.started_at DESC
		LIMIT $3 OFFSET $4
	`, patientID, tenantID, paging.PageSize, paging.Offset())
	if err != nil {
		return page, err
	}
	defer rows.Close()
	for rows.Next() {
		visit, err := scanVisit(rows)
		if err != nil {
			return page, err
		}
		page.Items = append(page.Items, visit)
	}
	return page, rows.Err()
}

const recentVisitLimit = 5

// PatientSummary returns the patient with a visit count and the most recent
// visits, newest first.
func (s *Store) PatientSummary(ctx context.Context, tenantID, patientID string) (models.PatientSummary, error) {
	ctx, span := startSpan(ctx, "PatientSummary", tenantID)
	defer span.End()

	patient, err := getPatient(ctx, s.pool, tenantID, patientID)
	if err != nil {
		return models.PatientSummary{}, err
	}
	summary := models.PatientSummary{Patient: patient, RecentVisits: []models.VisitSummary{}}

	if err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM visits v
		WHERE v.patient_id = $1 AND v.tenant_id = $2 AND `+live("v"), patientID, tenantID).Scan(&summary.TotalVisits); err != nil {
		return summary, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT v.visit_id, v.doctor_id, d.name, v.status, v.complaint, v.diagnosis, v.started_at, v.completed_at
		FROM visits v
		JOIN doctors d ON d.doctor_id = v.doctor_id
		WHERE v.patient_id = $1 AND v.tenant_id = $2 AND `+live("v")+`
		ORDER BY v.started_at DESC
		LIMIT $3
	`, patientID, tenantID, recentVisitLimit)
	if err != nil {
		return summary, err
	}
	defer rows.Close()
	for rows.Next() {
		var visit models.VisitSummary
		if err := rows.Scan(&visit.VisitID, &visit.DoctorID, &visit.DoctorName, &visit.Status, &visit.Complaint,
			&visit.Diagnosis, &visit.StartedAt, &visit.CompletedAt); err != nil {
			return summary, err
		}
		summary.RecentVisits = append(summary.RecentVisits, visit)
	}
	return summary, rows.Err()
}
