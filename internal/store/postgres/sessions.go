package postgres

import (
	"context"
	"errors"

	"clinic/reception-service/internal/models"
	"clinic/reception-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

func (s *Store) OpenSession(ctx context.Context, input store.OpenSessionInput) (models.Session, error) {
	ctx, span := startSpan(ctx, "OpenSession", input.TenantID)
	defer span.End()

	tx, err := s.begin(ctx)
	if err != nil {
		return models.Session{}, err
	}
	defer rollback(ctx, tx)

	if input.DoctorID != "" {
		if _, err = requireEnabledDoctor(ctx, tx, input.TenantID, input.DoctorID); err != nil {
			return models.Session{}, err
		}
	}

	now := s.timestamp()
	today := s.day(now)

	// Opens for one tenant and day are serialized so the cross-scope policy
	// sees sessions opened concurrently.
	if _, err = tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, "session:"+input.TenantID+":"+today.Format("2006-01-02")); err != nil {
		return models.Session{}, err
	}

	var scopeTaken bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM queue_sessions s
			WHERE s.tenant_id = $1 AND s.opened_on = $2 AND s.active
				AND s.doctor_id IS NOT DISTINCT FROM $3 AND `+live("s")+`
		)
	`, input.TenantID, today, nullIfEmpty(input.DoctorID)).Scan(&scopeTaken)
	if err != nil {
		return models.Session{}, err
	}
	if scopeTaken {
		return models.Session{}, store.ErrSessionExists
	}

	if input.DoctorID != "" && s.blockDoctorWhenClinicWide {
		var clinicWide bool
		err = tx.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM queue_sessions s
				WHERE s.tenant_id = $1 AND s.opened_on = $2 AND s.active AND s.doctor_id IS NULL AND `+live("s")+`
			)
		`, input.TenantID, today).Scan(&clinicWide)
		if err != nil {
			return models.Session{}, err
		}
		if clinicWide {
			return models.Session{}, store.ErrClinicWideSessionOpen
		}
	}

	session, err := scanSession(tx.QueryRow(ctx, `
		INSERT INTO queue_sessions AS s (session_id, tenant_id, doctor_id, active, note, opened_on, opened_at)
		VALUES ($1, $2, $3, TRUE, $4, $5, $6)
		RETURNING `+sessionColumns,
		uuid.NewString(), input.TenantID, nullIfEmpty(input.DoctorID), input.Note, today, now), false)
	if err != nil {
		return models.Session{}, translateConstraint(err)
	}

	if err = s.insertOutboxEvent(ctx, tx, input.TenantID, eventSessionOpened, session); err != nil {
		return models.Session{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Session{}, translateConstraint(err)
	}
	return session, nil
}

func (s *Store) CloseSession(ctx context.Context, tenantID, sessionID string) (models.CloseResult, error) {
	ctx, span := startSpan(ctx, "CloseSession", tenantID)
	defer span.End()

	tx, err := s.begin(ctx)
	if err != nil {
		return models.CloseResult{}, err
	}
	defer rollback(ctx, tx)

	session, err := lockSession(ctx, tx, tenantID, sessionID, "FOR UPDATE")
	if err != nil {
		return models.CloseResult{}, err
	}
	if !session.Active {
		return models.CloseResult{}, store.ErrSessionClosed
	}

	var inVisit bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tickets t
			WHERE t.session_id = $1 AND t.status = $2 AND `+live("t")+`
		)
	`, sessionID, models.TicketInVisit).Scan(&inVisit)
	if err != nil {
		return models.CloseResult{}, err
	}
	if inVisit {
		return models.CloseResult{}, store.ErrSessionHasInVisit
	}

	now := s.timestamp()
	rows, err := tx.Query(ctx, `
		UPDATE tickets AS t
		SET status = $1, no_show_at = $2
		WHERE t.session_id = $3 AND t.status = ANY($4) AND `+live("t")+`
		RETURNING `+ticketColumns,
		models.TicketNoShow, now, sessionID, store.SourceStatuses(store.ActionNoShow))
	if err != nil {
		return models.CloseResult{}, err
	}
	noShows, err := scanTickets(rows)
	if err != nil {
		return models.CloseResult{}, err
	}
	models.SortTickets(noShows)
	for _, ticket := range noShows {
		if err = s.recordTicketEvent(ctx, tx, eventTicketNoShow, ticket); err != nil {
			return models.CloseResult{}, err
		}
	}

	session, err = scanSession(tx.QueryRow(ctx, `
		UPDATE queue_sessions AS s
		SET active = FALSE, closed_at = $1
		WHERE s.session_id = $2
		RETURNING `+sessionColumns,
		now, sessionID), false)
	if err != nil {
		return models.CloseResult{}, err
	}

	if err = s.insertOutboxEvent(ctx, tx, tenantID, eventSessionClosed, map[string]interface{}{
		"session":  session,
		"no_shows": len(noShows),
	}); err != nil {
		return models.CloseResult{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.CloseResult{}, err
	}

	if session, err = s.GetSession(ctx, tenantID, sessionID); err != nil {
		return models.CloseResult{}, err
	}
	return models.CloseResult{Session: session, NoShows: noShows}, nil
}

func (s *Store) GetSession(ctx context.Context, tenantID, sessionID string) (models.Session, error) {
	session, err := scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`, counters.total, counters.waiting, counters.completed
		FROM queue_sessions s`+sessionCounters+`
		WHERE s.session_id = $1 AND s.tenant_id = $2 AND `+live("s"),
		sessionID, tenantID), true)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Session{}, store.ErrSessionNotFound
	}
	return session, err
}

func (s *Store) ListSessions(ctx context.Context, tenantID string, paging store.Paging) (models.Page[models.Session], error) {
	ctx, span := startSpan(ctx, "ListSessions", tenantID)
	defer span.End()

	paging = paging.Normalize()
	page := models.Page[models.Session]{Items: []models.Session{}, PageNumber: paging.PageNumber, PageSize: paging.PageSize}

	if err := s.pool.QueryRow(ctx, `
		SELECT count(*) FROM queue_sessions s WHERE s.tenant_id = $1 AND `+live("s"), tenantID).Scan(&page.TotalCount); err != nil {
		return page, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`, counters.total, counters.waiting, counters.completed
		FROM queue_sessions s`+sessionCounters+`
		WHERE s.tenant_id = $1 AND `+live("s")+`
		ORDER BY s.opened_at DESC
		LIMIT $2 OFFSET $3
	`, tenantID, paging.PageSize, paging.Offset())
	if err != nil {
		return page, err
	}
	defer rows.Close()
	for rows.Next() {
		session, err := scanSession(rows, true)
		if err != nil {
			return page, err
		}
		page.Items = append(page.Items, session)
	}
	return page, rows.Err()
}

// lockSession reads a live session row under the given row lock clause.
func lockSession(ctx context.Context, tx pgx.Tx, tenantID, sessionID, lock string) (models.Session, error) {
	session, err := scanSession(tx.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM queue_sessions s
		WHERE s.session_id = $1 AND s.tenant_id = $2 AND `+live("s")+`
		`+lock, sessionID, tenantID), false)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Session{}, store.ErrSessionNotFound
	}
	return session, err
}

func rollback(ctx context.Context, tx pgx.Tx) {
	_ = tx.Rollback(ctx)
}
