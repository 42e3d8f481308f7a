package httpapi

import (
	"context"
	"net/http"
	"strings"

	"clinic/reception-service/internal/models"
	"clinic/reception-service/internal/store"

	"github.com/google/uuid"
)

type openSessionRequest struct {
	DoctorID string `json:"doctor_id" validate:"omitempty,uuid"`
	Notes    string `json:"notes" validate:"max=500"`
}

type issueTicketRequest struct {
	RequestID       string `json:"request_id" validate:"omitempty,uuid"`
	SessionID       string `json:"session_id" validate:"required,uuid"`
	PatientID       string `json:"patient_id" validate:"required,uuid"`
	DoctorID        string `json:"doctor_id" validate:"omitempty,uuid"`
	DoctorServiceID string `json:"doctor_service_id" validate:"omitempty,uuid"`
	Notes           string `json:"notes" validate:"max=500"`
}

type startVisitResponse struct {
	Ticket models.Ticket `json:"ticket"`
	Visit  models.Visit  `json:"visit"`
}

// handleOpenSession opens a session. Doctors may only open their own
// doctor-scoped session; an omitted doctor_id scopes it to them.
func (h *Handler) handleOpenSession(w http.ResponseWriter, r *http.Request) {
	var req openSessionRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	id, _ := identityFromContext(r.Context())
	caller, err := h.caller(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if caller.Role == models.RoleDoctor {
		if caller.DoctorID == "" {
			h.writeStoreError(w, r, store.ErrDoctorNotFound)
			return
		}
		if req.DoctorID == "" {
			req.DoctorID = caller.DoctorID
		}
		if req.DoctorID != caller.DoctorID {
			h.writeStoreError(w, r, store.ErrAccessDenied)
			return
		}
	}

	session, err := h.store.OpenSession(r.Context(), store.OpenSessionInput{
		TenantID: id.TenantID(),
		DoctorID: req.DoctorID,
		Note:     strings.TrimSpace(req.Notes),
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (h *Handler) handleCloseSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	id, _ := identityFromContext(r.Context())
	caller, err := h.caller(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	if caller.Role == models.RoleDoctor {
		session, err := h.store.GetSession(r.Context(), id.TenantID(), sessionID)
		if err != nil {
			h.writeStoreError(w, r, err)
			return
		}
		if session.DoctorID == nil || *session.DoctorID != caller.DoctorID {
			h.writeStoreError(w, r, store.ErrAccessDenied)
			return
		}
	}

	result, err := h.store.CloseSession(r.Context(), id.TenantID(), sessionID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) handleListSessions(w http.ResponseWriter, r *http.Request) {
	page, ok := paging(w, r)
	if !ok {
		return
	}
	id, _ := identityFromContext(r.Context())
	sessions, err := h.store.ListSessions(r.Context(), id.TenantID(), page)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (h *Handler) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	id, _ := identityFromContext(r.Context())
	session, err := h.store.GetSession(r.Context(), id.TenantID(), sessionID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *Handler) handleListSessionTickets(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	id, _ := identityFromContext(r.Context())
	tickets, err := h.store.ListSessionTickets(r.Context(), id.TenantID(), sessionID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}

// handleIssueTicket answers 201 for a new ticket and 200 when request_id
// (or the Idempotency-Key header) replays an earlier issue.
func (h *Handler) handleIssueTicket(w http.ResponseWriter, r *http.Request) {
	var req issueTicketRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	if req.RequestID == "" {
		req.RequestID = strings.TrimSpace(r.Header.Get("Idempotency-Key"))
		if _, err := uuid.Parse(req.RequestID); req.RequestID != "" && err != nil {
			writeError(w, requestIDFromRequest(r), http.StatusBadRequest, kindInvalidRequest, "invalid_request", "Idempotency-Key must be a valid UUID")
			return
		}
	}
	id, _ := identityFromContext(r.Context())

	ticket, created, err := h.store.IssueTicket(r.Context(), store.IssueTicketInput{
		RequestID:       req.RequestID,
		TenantID:        id.TenantID(),
		SessionID:       req.SessionID,
		PatientID:       req.PatientID,
		DoctorID:        req.DoctorID,
		DoctorServiceID: req.DoctorServiceID,
		Notes:           strings.TrimSpace(req.Notes),
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, ticket)
}

type ticketActionFunc func(ctx context.Context, input store.TicketActionInput) (models.Ticket, error)

// ticketAction adapts a single-ticket transition to a handler.
func (h *Handler) ticketAction(action ticketActionFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		input, ok := h.ticketActionInput(w, r)
		if !ok {
			return
		}
		ticket, err := action(r.Context(), input)
		if err != nil {
			h.writeStoreError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, ticket)
	}
}

func (h *Handler) handleStartVisit(w http.ResponseWriter, r *http.Request) {
	input, ok := h.ticketActionInput(w, r)
	if !ok {
		return
	}
	ticket, visit, err := h.store.StartVisit(r.Context(), input)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, startVisitResponse{Ticket: ticket, Visit: visit})
}

func (h *Handler) ticketActionInput(w http.ResponseWriter, r *http.Request) (store.TicketActionInput, bool) {
	ticketID, ok := pathID(w, r, "id")
	if !ok {
		return store.TicketActionInput{}, false
	}
	id, _ := identityFromContext(r.Context())
	caller, err := h.caller(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return store.TicketActionInput{}, false
	}
	return store.TicketActionInput{TenantID: id.TenantID(), TicketID: ticketID, Caller: caller}, true
}

func (h *Handler) handleGetTicket(w http.ResponseWriter, r *http.Request) {
	ticketID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	id, _ := identityFromContext(r.Context())
	ticket, err := h.store.GetTicket(r.Context(), id.TenantID(), ticketID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleListTicketEvents(w http.ResponseWriter, r *http.Request) {
	ticketID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	id, _ := identityFromContext(r.Context())
	events, err := h.store.ListTicketEvents(r.Context(), id.TenantID(), ticketID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) handleBoard(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	board, err := h.store.Board(r.Context(), id.TenantID())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, board)
}

func (h *Handler) handleMyQueue(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	doctor, err := h.store.DoctorByUser(r.Context(), id.TenantID(), id.Claims.UserID())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	queue, err := h.store.DoctorQueue(r.Context(), id.TenantID(), doctor.DoctorID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, queue)
}

func (h *Handler) handleMyTicket(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFromContext(r.Context())
	patient, err := h.store.PatientByUser(r.Context(), id.TenantID(), id.Claims.UserID())
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	ticket, err := h.store.PatientActiveTicket(r.Context(), id.TenantID(), patient.PatientID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ticket)
}

func (h *Handler) handleListPatientTickets(w http.ResponseWriter, r *http.Request) {
	patientID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	id, _ := identityFromContext(r.Context())
	tickets, err := h.store.ListPatientTickets(r.Context(), id.TenantID(), patientID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tickets)
}
