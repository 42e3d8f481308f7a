package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"clinic/reception-service/internal/models"
	"clinic/reception-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	eventSessionOpened      = "session.opened"
	eventSessionClosed      = "session.closed"
	eventTicketIssued       = "ticket.issued"
	eventTicketCalled       = "ticket.called"
	eventTicketVisitStarted = "ticket.visit_started"
	eventTicketCompleted    = "ticket.completed"
	eventTicketSkipped      = "ticket.skipped"
	eventTicketCancelled    = "ticket.cancelled"
	eventTicketUrgent       = "ticket.marked_urgent"
	eventTicketNoShow       = "ticket.no_show"
	eventVisitCreated       = "visit.created"
	eventVisitUpdated       = "visit.updated"
	eventVisitCompleted     = "visit.completed"
	eventInvoiceCreated     = "invoice.created"
	eventInvoiceUpdated     = "invoice.updated"
	eventPaymentRecorded    = "payment.recorded"
)

var ticketEventTypes = map[string]string{
	store.ActionCall:       eventTicketCalled,
	store.ActionStartVisit: eventTicketVisitStarted,
	store.ActionFinish:     eventTicketCompleted,
	store.ActionSkip:       eventTicketSkipped,
	store.ActionCancel:     eventTicketCancelled,
	store.ActionMarkUrgent: eventTicketUrgent,
	store.ActionNoShow:     eventTicketNoShow,
}

func (s *Store) insertOutboxEvent(ctx context.Context, tx pgx.Tx, tenantID, eventType string, payload interface{}) error {
	payloadJSON, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO outbox_events (event_id, tenant_id, type, payload_json, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, uuid.NewString(), tenantID, eventType, payloadJSON, s.timestamp())
	return err
}

// recordTicketEvent writes the outbox row and appends the ticket's snapshot
// to its hash chain.
func (s *Store) recordTicketEvent(ctx context.Context, tx pgx.Tx, eventType string, ticket models.Ticket) error {
	payload, err := store.TicketEventPayload(ticket)
	if err != nil {
		return err
	}
	if err := s.insertOutboxEvent(ctx, tx, ticket.TenantID, eventType, json.RawMessage(payload)); err != nil {
		return err
	}
	return s.insertTicketEvent(ctx, tx, ticket.TicketID, eventType, payload)
}

func (s *Store) insertTicketEvent(ctx context.Context, tx pgx.Tx, ticketID, eventType string, payload []byte) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, ticketID); err != nil {
		return err
	}

	var lastSeq int
	var prevHash sql.NullString
	row := tx.QueryRow(ctx, `
		SELECT ticket_seq, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq DESC
		LIMIT 1
	`, ticketID)
	if err := row.Scan(&lastSeq, &prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	nextSeq := lastSeq + 1
	createdAt := s.timestamp()
	hash := store.ComputeTicketEventHash(prevHash.String, ticketID, eventType, payload, createdAt, nextSeq)

	_, err := tx.Exec(ctx, `
		INSERT INTO ticket_events (ticket_id, ticket_seq, type, payload, created_at, prev_hash, hash)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, ticketID, nextSeq, eventType, string(payload), createdAt, prevHash.String, hash)
	return err
}

func (s *Store) ListTicketEvents(ctx context.Context, tenantID, ticketID string) ([]store.TicketEvent, error) {
	ctx, span := startSpan(ctx, "ListTicketEvents", tenantID)
	defer span.End()

	if _, err := s.GetTicket(ctx, tenantID, ticketID); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT ticket_id, ticket_seq, type, payload::text, created_at, prev_hash, hash
		FROM ticket_events
		WHERE ticket_id = $1
		ORDER BY ticket_seq ASC
	`, ticketID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []store.TicketEvent{}
	for rows.Next() {
		var event store.TicketEvent
		var payload string
		if err := rows.Scan(&event.TicketID, &event.TicketSeq, &event.Type, &payload, &event.CreatedAt, &event.PrevHash, &event.Hash); err != nil {
			return nil, err
		}
		event.Payload = json.RawMessage(payload)
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *Store) ListOutboxEvents(ctx context.Context, after store.OutboxCursor, limit int) ([]store.OutboxEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT txid, seq, event_id, tenant_id, type, payload_json, created_at
		FROM outbox_events
		WHERE (txid, seq) > ($1, $2)
			AND txid < pg_snapshot_xmin(pg_current_snapshot())::text::bigint
		ORDER BY txid ASC, seq ASC
		LIMIT $3
	`, after.TxID, after.Seq, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	events := []store.OutboxEvent{}
	for rows.Next() {
		var event store.OutboxEvent
		var payload []byte
		if err := rows.Scan(&event.TxID, &event.Seq, &event.EventID, &event.TenantID, &event.Type, &payload, &event.CreatedAt); err != nil {
			return nil, err
		}
		event.Payload = json.RawMessage(payload)
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *Store) GetRelayOffset(ctx context.Context, name string) (store.OutboxCursor, error) {
	var cursor store.OutboxCursor
	err := s.pool.QueryRow(ctx, `SELECT last_txid, last_seq FROM relay_offsets WHERE name = $1`, name).
		Scan(&cursor.TxID, &cursor.Seq)
	if errors.Is(err, pgx.ErrNoRows) {
		return store.OutboxCursor{}, nil
	}
	return cursor, err
}

// UpdateRelayOffset never moves a stored cursor backwards.
func (s *Store) UpdateRelayOffset(ctx context.Context, name string, cursor store.OutboxCursor) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO relay_offsets (name, last_txid, last_seq, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (name) DO UPDATE
		SET last_txid = EXCLUDED.last_txid, last_seq = EXCLUDED.last_seq, updated_at = now()
		WHERE (relay_offsets.last_txid, relay_offsets.last_seq) < (EXCLUDED.last_txid, EXCLUDED.last_seq)
	`, name, cursor.TxID, cursor.Seq)
	return err
}

var _ store.OutboxReader = (*Store)(nil)
