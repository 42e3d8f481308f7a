package httpapi

import (
	"net/http"
	"strings"
	"time"

	"clinic/reception-service/internal/models"
	"clinic/reception-service/internal/store"
)

type createVisitRequest struct {
	TicketID  string `json:"queue_ticket_id" validate:"omitempty,uuid"`
	DoctorID  string `json:"doctor_id" validate:"omitempty,uuid"`
	PatientID string `json:"patient_id" validate:"required,uuid"`
	Complaint string `json:"complaint" validate:"max=2000"`
	Notes     string `json:"notes" validate:"max=4000"`
}

// updateVisitRequest distinguishes an omitted field from an empty one.
type updateVisitRequest struct {
	Complaint *string `json:"complaint" validate:"omitempty,max=2000"`
	Diagnosis *string `json:"diagnosis" validate:"omitempty,max=2000"`
	Notes     *string `json:"notes" validate:"omitempty,max=4000"`
	models.Vitals
	FollowUpDate string `json:"follow_up_date"`
}

type completeVisitRequest struct {
	Diagnosis string `json:"diagnosis" validate:"max=2000"`
	Notes     string `json:"notes" validate:"max=4000"`
}

// handleCreateVisit opens a visit. A doctor caller records visits under
// their own profile.
func (h *Handler) handleCreateVisit(w http.ResponseWriter, r *http.Request) {
	var req createVisitRequest
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
		if req.DoctorID == "" {
			req.DoctorID = caller.DoctorID
		}
		if caller.DoctorID == "" || req.DoctorID != caller.DoctorID {
			h.writeStoreError(w, r, store.ErrAccessDenied)
			return
		}
	}
	if req.DoctorID == "" {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, kindInvalidRequest, "invalid_request", "doctor_id is required")
		return
	}

	visit, err := h.store.CreateVisit(r.Context(), store.CreateVisitInput{
		TenantID:  id.TenantID(),
		DoctorID:  req.DoctorID,
		PatientID: req.PatientID,
		TicketID:  req.TicketID,
		Complaint: strings.TrimSpace(req.Complaint),
		Notes:     strings.TrimSpace(req.Notes),
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, visit)
}

func (h *Handler) handleUpdateVisit(w http.ResponseWriter, r *http.Request) {
	visitID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req updateVisitRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	followUp, err := parseDate(req.FollowUpDate, h.location)
	if err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, kindInvalidRequest, "invalid_request", "follow_up_date must be a date")
		return
	}
	id, _ := identityFromContext(r.Context())
	caller, err := h.caller(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	visit, err := h.store.UpdateVisit(r.Context(), store.UpdateVisitInput{
		TenantID:   id.TenantID(),
		VisitID:    visitID,
		Caller:     caller,
		Complaint:  trimmed(req.Complaint),
		Diagnosis:  trimmed(req.Diagnosis),
		Notes:      trimmed(req.Notes),
		Vitals:     req.Vitals,
		FollowUpOn: followUp,
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

func (h *Handler) handleCompleteVisit(w http.ResponseWriter, r *http.Request) {
	visitID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req completeVisitRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	id, _ := identityFromContext(r.Context())
	caller, err := h.caller(r.Context(), id)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}

	visit, err := h.store.CompleteVisit(r.Context(), store.CompleteVisitInput{
		TenantID:  id.TenantID(),
		VisitID:   visitID,
		Caller:    caller,
		Diagnosis: strings.TrimSpace(req.Diagnosis),
		Notes:     strings.TrimSpace(req.Notes),
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

func (h *Handler) handleGetVisit(w http.ResponseWriter, r *http.Request) {
	visitID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	id, _ := identityFromContext(r.Context())
	visit, err := h.store.GetVisit(r.Context(), id.TenantID(), visitID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, visit)
}

func (h *Handler) handleListPatientVisits(w http.ResponseWriter, r *http.Request) {
	patientID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	page, ok := paging(w, r)
	if !ok {
		return
	}
	id, _ := identityFromContext(r.Context())
	visits, err := h.store.ListPatientVisits(r.Context(), id.TenantID(), patientID, page)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, visits)
}

func (h *Handler) handlePatientSummary(w http.ResponseWriter, r *http.Request) {
	patientID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	id, _ := identityFromContext(r.Context())
	summary, err := h.store.PatientSummary(r.Context(), id.TenantID(), patientID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// parseDate accepts YYYY-MM-DD in loc or an RFC 3339 timestamp.
func parseDate(raw string, loc *time.Location) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if value, err := time.ParseInLocation(time.DateOnly, raw, loc); err == nil {
		return &value, nil
	}
	value, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, err
	}
	return &value, nil
}

func trimmed(value *string) *string {
	if value == nil {
		return nil
	}
	out := strings.TrimSpace(*value)
	return &out
}
