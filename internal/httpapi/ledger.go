package httpapi

import (
	"net/http"
	"strings"
	"time"

	"clinic/reception-service/internal/models"
	"clinic/reception-service/internal/store"
)

type createInvoiceRequest struct {
	VisitID string       `json:"visit_id" validate:"required,uuid"`
	Amount  models.Money `json:"amount"`
	Notes   string       `json:"notes" validate:"max=1000"`
}

type updateInvoiceRequest struct {
	Amount models.Money `json:"amount"`
	Notes  string       `json:"notes" validate:"max=1000"`
}

type recordPaymentRequest struct {
	InvoiceID string       `json:"invoice_id" validate:"required,uuid"`
	Amount    models.Money `json:"amount"`
	Method    string       `json:"payment_method" validate:"max=50"`
	Reference string       `json:"reference_number" validate:"max=100"`
	Notes     string       `json:"notes" validate:"max=1000"`
}

type paymentResponse struct {
	Payment models.Payment `json:"payment"`
	Invoice models.Invoice `json:"invoice"`
}

func (h *Handler) handleCreateInvoice(w http.ResponseWriter, r *http.Request) {
	var req createInvoiceRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	id, _ := identityFromContext(r.Context())
	invoice, err := h.store.CreateInvoice(r.Context(), store.CreateInvoiceInput{
		TenantID: id.TenantID(),
		VisitID:  req.VisitID,
		Amount:   req.Amount,
		Notes:    strings.TrimSpace(req.Notes),
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, invoice)
}

func (h *Handler) handleUpdateInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	var req updateInvoiceRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	id, _ := identityFromContext(r.Context())
	invoice, err := h.store.UpdateInvoice(r.Context(), store.UpdateInvoiceInput{
		TenantID:  id.TenantID(),
		InvoiceID: invoiceID,
		Amount:    req.Amount,
		Notes:     strings.TrimSpace(req.Notes),
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

func (h *Handler) handleRecordPayment(w http.ResponseWriter, r *http.Request) {
	var req recordPaymentRequest
	if !h.decodeRequest(w, r, &req) {
		return
	}
	id, _ := identityFromContext(r.Context())
	payment, invoice, err := h.store.RecordPayment(r.Context(), store.RecordPaymentInput{
		TenantID:  id.TenantID(),
		InvoiceID: req.InvoiceID,
		Amount:    req.Amount,
		Method:    strings.TrimSpace(req.Method),
		Reference: strings.TrimSpace(req.Reference),
		Notes:     strings.TrimSpace(req.Notes),
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, paymentResponse{Payment: payment, Invoice: invoice})
}

func (h *Handler) handleGetInvoice(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	id, _ := identityFromContext(r.Context())
	invoice, err := h.store.GetInvoice(r.Context(), id.TenantID(), invoiceID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoice)
}

// handleListInvoices filters by from and to (inclusive clinic dates) and
// doctor_id.
func (h *Handler) handleListInvoices(w http.ResponseWriter, r *http.Request) {
	page, ok := paging(w, r)
	if !ok {
		return
	}
	from, err := queryDate(r, "from", h.location)
	if err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, kindInvalidRequest, "invalid_request", err.Error())
		return
	}
	to, err := queryDate(r, "to", h.location)
	if err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, kindInvalidRequest, "invalid_request", err.Error())
		return
	}
	if to != nil {
		end := to.AddDate(0, 0, 1)
		to = &end
	}
	doctorID, err := queryUUID(r, "doctor_id")
	if err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, kindInvalidRequest, "invalid_request", err.Error())
		return
	}

	id, _ := identityFromContext(r.Context())
	invoices, err := h.store.ListInvoices(r.Context(), id.TenantID(), store.InvoiceFilter{
		From:       from,
		To:         to,
		DoctorID:   doctorID,
		PageNumber: page.PageNumber,
		PageSize:   page.PageSize,
	})
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, invoices)
}

func (h *Handler) handleListPayments(w http.ResponseWriter, r *http.Request) {
	invoiceID, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	id, _ := identityFromContext(r.Context())
	payments, err := h.store.ListPayments(r.Context(), id.TenantID(), invoiceID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, payments)
}

// reportDay reads ?date=YYYY-MM-DD, defaulting to today in the clinic
// timezone.
func (h *Handler) reportDay(w http.ResponseWriter, r *http.Request) (time.Time, bool) {
	day, err := queryDate(r, "date", h.location)
	if err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, kindInvalidRequest, "invalid_request", err.Error())
		return time.Time{}, false
	}
	if day == nil {
		return h.now().In(h.location), true
	}
	return *day, true
}

func (h *Handler) handleDailyRevenue(w http.ResponseWriter, r *http.Request) {
	day, ok := h.reportDay(w, r)
	if !ok {
		return
	}
	id, _ := identityFromContext(r.Context())
	report, err := h.store.DailyRevenue(r.Context(), id.TenantID(), day)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// handleRevenueByDoctor breaks a day's invoices down per doctor, optionally
// for a single doctor_id.
func (h *Handler) handleRevenueByDoctor(w http.ResponseWriter, r *http.Request) {
	day, ok := h.reportDay(w, r)
	if !ok {
		return
	}
	doctorID, err := queryUUID(r, "doctor_id")
	if err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, kindInvalidRequest, "invalid_request", err.Error())
		return
	}
	id, _ := identityFromContext(r.Context())
	report, err := h.store.RevenueByDoctor(r.Context(), id.TenantID(), day, doctorID)
	if err != nil {
		h.writeStoreError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
