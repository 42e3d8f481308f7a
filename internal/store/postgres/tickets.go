package postgres

import (
	"context"
	"errors"
	"fmt"

	"clinic/reception-service/internal/models"
	"clinic/reception-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// stampColumns names the timestamp each action sets on the ticket.
var stampColumns = map[string]string{
	store.ActionCall:       "called_at",
	store.ActionStartVisit: "visit_started_at",
	store.ActionFinish:     "completed_at",
	store.ActionSkip:       "skipped_at",
	store.ActionCancel:     "cancelled_at",
	store.ActionNoShow:     "no_show_at",
}

func (s *Store) IssueTicket(ctx context.Context, input store.IssueTicketInput) (models.Ticket, bool, error) {
	ctx, span := startSpan(ctx, "IssueTicket", input.TenantID)
	defer span.End()

	if input.RequestID != "" {
		existing, found, err := findTicketByRequestID(ctx, s.pool, input.TenantID, input.RequestID)
		if err != nil {
			return models.Ticket{}, false, err
		}
		if found {
			return existing, false, nil
		}
	}

	ticket, err := s.issueTicket(ctx, input)
	if err != nil {
		// A concurrent retry of the same request may have won the insert.
		if input.RequestID != "" && (errors.Is(err, errDuplicateRequest) || errors.Is(err, store.ErrActiveTicketExists)) {
			existing, found, lookupErr := findTicketByRequestID(ctx, s.pool, input.TenantID, input.RequestID)
			if lookupErr == nil && found {
				return existing, false, nil
			}
		}
		if errors.Is(err, errDuplicateRequest) {
			err = store.ErrActiveTicketExists
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) issueTicket(ctx context.Context, input store.IssueTicketInput) (models.Ticket, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return models.Ticket{}, err
	}
	defer rollback(ctx, tx)

	session, err := lockSession(ctx, tx, input.TenantID, input.SessionID, "FOR UPDATE")
	if err != nil {
		return models.Ticket{}, err
	}
	if !session.Active {
		return models.Ticket{}, store.ErrSessionClosed
	}

	doctorID := input.DoctorID
	if session.DoctorID != nil {
		if doctorID == "" {
			doctorID = *session.DoctorID
		}
		if doctorID != *session.DoctorID {
			return models.Ticket{}, store.ErrDoctorScopeMismatch
		}
	}
	if doctorID == "" {
		return models.Ticket{}, store.ErrDoctorNotFound
	}
	if _, err = requireEnabledDoctor(ctx, tx, input.TenantID, doctorID); err != nil {
		return models.Ticket{}, err
	}
	if err = ensurePatient(ctx, tx, input.TenantID, input.PatientID); err != nil {
		return models.Ticket{}, err
	}
	if input.DoctorServiceID != "" {
		if err = ensureDoctorService(ctx, tx, input.TenantID, doctorID, input.DoctorServiceID); err != nil {
			return models.Ticket{}, err
		}
	}

	var holding bool
	err = tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM tickets t
			WHERE t.tenant_id = $1 AND t.patient_id = $2 AND t.status = ANY($3) AND `+live("t")+`
		)
	`, input.TenantID, input.PatientID, models.ActiveTicketStatuses).Scan(&holding)
	if err != nil {
		return models.Ticket{}, err
	}
	if holding {
		return models.Ticket{}, store.ErrActiveTicketExists
	}

	number, err := nextTicketNumber(ctx, tx, input.SessionID)
	if err != nil {
		return models.Ticket{}, err
	}

	ticket, err := scanTicket(tx.QueryRow(ctx, `
		INSERT INTO tickets AS t (
			ticket_id, tenant_id, session_id, patient_id, doctor_id, doctor_service_id,
			ticket_number, status, is_urgent, notes, request_id, issued_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, FALSE, $9, $10, $11)
		RETURNING `+ticketColumns,
		uuid.NewString(), input.TenantID, input.SessionID, input.PatientID, doctorID, nullIfEmpty(input.DoctorServiceID),
		number, models.TicketWaiting, input.Notes, nullIfEmpty(input.RequestID), s.timestamp()))
	if err != nil {
		return models.Ticket{}, translateConstraint(err)
	}

	if err = s.recordTicketEvent(ctx, tx, eventTicketIssued, ticket); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, translateConstraint(err)
	}
	return ticket, nil
}

// nextTicketNumber bumps the session counter. Numbers are never reused, even
// for cancelled tickets.
func nextTicketNumber(ctx context.Context, tx pgx.Tx, sessionID string) (int, error) {
	var number int
	err := tx.QueryRow(ctx, `
		UPDATE queue_sessions
		SET last_ticket_number = last_ticket_number + 1
		WHERE session_id = $1 AND active
		RETURNING last_ticket_number
	`, sessionID).Scan(&number)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, store.ErrSessionClosed
	}
	return number, err
}

func (s *Store) CallTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	ctx, span := startSpan(ctx, "CallTicket", input.TenantID)
	defer span.End()
	return s.simpleTransition(ctx, input, store.ActionCall, true)
}

func (s *Store) SkipTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	ctx, span := startSpan(ctx, "SkipTicket", input.TenantID)
	defer span.End()
	return s.simpleTransition(ctx, input, store.ActionSkip, false)
}

func (s *Store) CancelTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	ctx, span := startSpan(ctx, "CancelTicket", input.TenantID)
	defer span.End()
	return s.simpleTransition(ctx, input, store.ActionCancel, false)
}

func (s *Store) MarkUrgent(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	ctx, span := startSpan(ctx, "MarkUrgent", input.TenantID)
	defer span.End()
	return s.simpleTransition(ctx, input, store.ActionMarkUrgent, false)
}

func (s *Store) simpleTransition(ctx context.Context, input store.TicketActionInput, action string, needsActiveSession bool) (models.Ticket, error) {
	tx, err := s.begin(ctx)
	if err != nil {
		return models.Ticket{}, err
	}
	defer rollback(ctx, tx)

	ticket, err := s.prepareTransition(ctx, tx, input, needsActiveSession)
	if err != nil {
		return models.Ticket{}, err
	}
	if ticket, err = s.transitionTicket(ctx, tx, input, action); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

func (s *Store) StartVisit(ctx context.Context, input store.TicketActionInput) (models.Ticket, models.Visit, error) {
	ctx, span := startSpan(ctx, "StartVisit", input.TenantID)
	defer span.End()

	tx, err := s.begin(ctx)
	if err != nil {
		return models.Ticket{}, models.Visit{}, err
	}
	defer rollback(ctx, tx)

	if _, err = s.prepareTransition(ctx, tx, input, true); err != nil {
		return models.Ticket{}, models.Visit{}, err
	}
	ticket, err := s.transitionTicket(ctx, tx, input, store.ActionStartVisit)
	if err != nil {
		return models.Ticket{}, models.Visit{}, err
	}
	visit, err := s.insertVisit(ctx, tx, visitRow{
		TenantID:  ticket.TenantID,
		TicketID:  ticket.TicketID,
		DoctorID:  ticket.DoctorID,
		PatientID: ticket.PatientID,
		Notes:     ticket.Notes,
	})
	if err != nil {
		return models.Ticket{}, models.Visit{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, models.Visit{}, translateConstraint(err)
	}
	return ticket, visit, nil
}

func (s *Store) FinishTicket(ctx context.Context, input store.TicketActionInput) (models.Ticket, error) {
	ctx, span := startSpan(ctx, "FinishTicket", input.TenantID)
	defer span.End()

	tx, err := s.begin(ctx)
	if err != nil {
		return models.Ticket{}, err
	}
	defer rollback(ctx, tx)

	if _, err = s.prepareTransition(ctx, tx, input, false); err != nil {
		return models.Ticket{}, err
	}
	ticket, err := s.transitionTicket(ctx, tx, input, store.ActionFinish)
	if err != nil {
		return models.Ticket{}, err
	}
	if err = s.completeLinkedVisit(ctx, tx, ticket); err != nil {
		return models.Ticket{}, err
	}
	if err = tx.Commit(ctx); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// prepareTransition loads the ticket, checks the caller may act on it and,
// when required, holds its session open for the rest of the transaction.
func (s *Store) prepareTransition(ctx context.Context, tx pgx.Tx, input store.TicketActionInput, needsActiveSession bool) (models.Ticket, error) {
	ticket, err := getTicket(ctx, tx, input.TenantID, input.TicketID)
	if err != nil {
		return models.Ticket{}, err
	}
	if err = checkTicketActor(input.Caller, ticket); err != nil {
		return models.Ticket{}, err
	}
	if needsActiveSession {
		session, err := lockSession(ctx, tx, input.TenantID, ticket.SessionID, "FOR SHARE")
		if err != nil {
			return models.Ticket{}, err
		}
		if !session.Active {
			return models.Ticket{}, store.ErrSessionClosed
		}
	}
	return ticket, nil
}

// checkTicketActor limits doctors to tickets assigned to them.
func checkTicketActor(caller store.Caller, ticket models.Ticket) error {
	if caller.Role != models.RoleDoctor {
		return nil
	}
	if caller.DoctorID == "" || caller.DoctorID != ticket.DoctorID {
		return store.ErrAccessDenied
	}
	return nil
}

// transitionTicket applies action with a conditional update so concurrent
// callers cannot both move the ticket out of the same source status.
func (s *Store) transitionTicket(ctx context.Context, tx pgx.Tx, input store.TicketActionInput, action string) (models.Ticket, error) {
	target, ok := store.TargetStatus(action)
	if !ok {
		return models.Ticket{}, store.ErrInvalidState
	}

	set := "status = $1"
	args := []interface{}{target, input.TicketID, input.TenantID, store.SourceStatuses(action)}
	if column, ok := stampColumns[action]; ok {
		set += fmt.Sprintf(", %s = $5", column)
		args = append(args, s.timestamp())
	}
	if action == store.ActionMarkUrgent {
		set += ", is_urgent = TRUE"
	}
	if models.IsActiveTicketStatus(target) {
		if err := checkNoOtherActiveTicket(ctx, tx, input.TenantID, input.TicketID, store.SourceStatuses(action)); err != nil {
			return models.Ticket{}, err
		}
	}

	ticket, err := scanTicket(tx.QueryRow(ctx, `
		UPDATE tickets AS t
		SET `+set+`
		WHERE t.ticket_id = $2 AND t.tenant_id = $3 AND t.status = ANY($4) AND `+live("t")+`
		RETURNING `+ticketColumns, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			_, exists, err := loadTicketState(ctx, tx, input.TenantID, input.TicketID)
			if err != nil {
				return models.Ticket{}, err
			}
			if !exists {
				return models.Ticket{}, store.ErrTicketNotFound
			}
			return models.Ticket{}, store.ErrInvalidState
		}
		return models.Ticket{}, translateConstraint(err)
	}

	if err = s.recordTicketEvent(ctx, tx, ticketEventTypes[action], ticket); err != nil {
		return models.Ticket{}, err
	}
	return ticket, nil
}

// checkNoOtherActiveTicket rejects returning a skipped ticket to the line
// while the same patient holds another active ticket.
func checkNoOtherActiveTicket(ctx context.Context, tx pgx.Tx, tenantID, ticketID string, sources []string) error {
	var holding bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM tickets t
			JOIN tickets other ON other.tenant_id = t.tenant_id AND other.patient_id = t.patient_id
			WHERE t.ticket_id = $1 AND t.tenant_id = $2 AND t.status = ANY($3) AND `+live("t")+`
				AND other.ticket_id <> t.ticket_id AND other.status = ANY($4) AND `+live("other")+`
		)
	`, ticketID, tenantID, sources, models.ActiveTicketStatuses).Scan(&holding)
	if err != nil {
		return err
	}
	if holding {
		return store.ErrActiveTicketExists
	}
	return nil
}

func loadTicketState(ctx context.Context, tx pgx.Tx, tenantID, ticketID string) (string, bool, error) {
	var status string
	err := tx.QueryRow(ctx, `
		SELECT t.status FROM tickets t
		WHERE t.ticket_id = $1 AND t.tenant_id = $2 AND `+live("t"), ticketID, tenantID).Scan(&status)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return status, true, nil
}

func getTicket(ctx context.Context, q querier, tenantID, ticketID string) (models.Ticket, error) {
	ticket, err := scanTicket(q.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t
		WHERE t.ticket_id = $1 AND t.tenant_id = $2 AND `+live("t"), ticketID, tenantID))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return ticket, err
}

func findTicketByRequestID(ctx context.Context, q querier, tenantID, requestID string) (models.Ticket, bool, error) {
	ticket, err := scanTicket(q.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t
		WHERE t.tenant_id = $1 AND t.request_id = $2 AND `+live("t"), tenantID, requestID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Ticket{}, false, nil
		}
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (s *Store) GetTicket(ctx context.Context, tenantID, ticketID string) (models.Ticket, error) {
	return getTicket(ctx, s.pool, tenantID, ticketID)
}

func (s *Store) ListSessionTickets(ctx context.Context, tenantID, sessionID string) ([]models.Ticket, error) {
	ctx, span := startSpan(ctx, "ListSessionTickets", tenantID)
	defer span.End()

	if _, err := s.GetSession(ctx, tenantID, sessionID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t
		WHERE t.session_id = $1 AND t.tenant_id = $2 AND `+live("t")+`
		ORDER BY `+ticketOrder, sessionID, tenantID)
	if err != nil {
		return nil, err
	}
	return scanTickets(rows)
}

func (s *Store) ListPatientTickets(ctx context.Context, tenantID, patientID string) ([]models.Ticket, error) {
	ctx, span := startSpan(ctx, "ListPatientTickets", tenantID)
	defer span.End()

	if err := ensurePatient(ctx, s.pool, tenantID, patientID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t
		WHERE t.patient_id = $1 AND t.tenant_id = $2 AND `+live("t")+`
		ORDER BY `+ticketOrder, patientID, tenantID)
	if err != nil {
		return nil, err
	}
	return scanTickets(rows)
}

func (s *Store) PatientActiveTicket(ctx context.Context, tenantID, patientID string) (models.Ticket, error) {
	ticket, err := scanTicket(s.pool.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t
		WHERE t.patient_id = $1 AND t.tenant_id = $2 AND t.status = ANY($3) AND `+live("t")+`
		ORDER BY t.issued_at DESC
		LIMIT 1
	`, patientID, tenantID, models.ActiveTicketStatuses))
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, store.ErrNoActiveTicket
	}
	return ticket, err
}

// DoctorQueue returns today's queue for a doctor: their own active session,
// or the clinic-wide one, filtered to tickets assigned to them.
func (s *Store) DoctorQueue(ctx context.Context, tenantID, doctorID string) (models.BoardSession, error) {
	ctx, span := startSpan(ctx, "DoctorQueue", tenantID)
	defer span.End()

	session, err := scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM queue_sessions s
		WHERE s.tenant_id = $1 AND s.opened_on = $2 AND s.active
			AND (s.doctor_id = $3 OR s.doctor_id IS NULL) AND `+live("s")+`
		ORDER BY s.doctor_id IS NULL, s.opened_at DESC
		LIMIT 1
	`, tenantID, s.day(s.now()), doctorID), false)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.BoardSession{}, store.ErrNoActiveSession
		}
		return models.BoardSession{}, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t
		WHERE t.session_id = $1 AND t.doctor_id = $2 AND `+live("t")+`
		ORDER BY `+ticketOrder, session.SessionID, doctorID)
	if err != nil {
		return models.BoardSession{}, err
	}
	tickets, err := scanTickets(rows)
	if err != nil {
		return models.BoardSession{}, err
	}
	return models.BuildBoardSession(session, tickets), nil
}

// Board returns every session opened today with its live queue.
func (s *Store) Board(ctx context.Context, tenantID string) (models.Board, error) {
	ctx, span := startSpan(ctx, "Board", tenantID)
	defer span.End()

	board := models.Board{Sessions: []models.BoardSession{}}
	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM queue_sessions s
		WHERE s.tenant_id = $1 AND s.opened_on = $2 AND `+live("s")+`
		ORDER BY s.active DESC, s.opened_at ASC
	`, tenantID, s.day(s.now()))
	if err != nil {
		return board, err
	}
	var sessions []models.Session
	var sessionIDs []string
	for rows.Next() {
		session, err := scanSession(rows, false)
		if err != nil {
			rows.Close()
			return board, err
		}
		sessions = append(sessions, session)
		sessionIDs = append(sessionIDs, session.SessionID)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return board, err
	}
	if len(sessions) == 0 {
		return board, nil
	}

	ticketRows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets t
		WHERE t.session_id = ANY($1) AND `+live("t")+`
		ORDER BY `+ticketOrder, sessionIDs)
	if err != nil {
		return board, err
	}
	tickets, err := scanTickets(ticketRows)
	if err != nil {
		return board, err
	}
	bySession := make(map[string][]models.Ticket, len(sessions))
	for _, ticket := range tickets {
		bySession[ticket.SessionID] = append(bySession[ticket.SessionID], ticket)
	}
	for _, session := range sessions {
		board.Sessions = append(board.Sessions, models.BuildBoardSession(session, bySession[session.SessionID]))
	}
	return board, nil
}
