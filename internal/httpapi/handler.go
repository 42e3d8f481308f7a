package httpapi

import (
	"expvar"
	"log/slog"
	"net/http"
	"time"

	"clinic/reception-service/internal/auth"
	"clinic/reception-service/internal/authz"
	"clinic/reception-service/internal/store"

	"github.com/go-playground/validator/v10"
)

// TokenVerifier validates bearer tokens.
type TokenVerifier interface {
	Verify(token string) (*auth.Claims, error)
}

// Authorizer decides whether a role may act on a resource.
type Authorizer interface {
	Enforce(role, resource, action string) (bool, error)
}

type Handler struct {
	store    store.Store
	tokens   TokenVerifier
	enforcer Authorizer
	logger   *slog.Logger
	location *time.Location
	validate *validator.Validate
	now      func() time.Time
}

type Options struct {
	// Location is the clinic timezone used to interpret dates in queries.
	Location *time.Location
	Logger   *slog.Logger
	Now      func() time.Time
}

func NewHandler(st store.Store, tokens TokenVerifier, enforcer Authorizer, options Options) *Handler {
	h := &Handler{
		store:    st,
		tokens:   tokens,
		enforcer: enforcer,
		logger:   options.Logger,
		location: options.Location,
		validate: newValidator(),
		now:      options.Now,
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.location == nil {
		h.location = time.UTC
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", h.handleHealth)
	mux.Handle("GET /debug/vars", expvar.Handler())

	mux.Handle("POST /api/clinic/queue/sessions", h.protect(authz.ResourceSession, authz.ActionCreate, h.handleOpenSession))
	mux.Handle("GET /api/clinic/queue/sessions", h.protect(authz.ResourceSession, authz.ActionList, h.handleListSessions))
	mux.Handle("GET /api/clinic/queue/sessions/{id}", h.protect(authz.ResourceSession, authz.ActionRead, h.handleGetSession))
	mux.Handle("POST /api/clinic/queue/sessions/{id}/close", h.protect(authz.ResourceSession, authz.ActionClose, h.handleCloseSession))
	mux.Handle("GET /api/clinic/queue/sessions/{id}/tickets", h.protect(authz.ResourceSession, authz.ActionRead, h.handleListSessionTickets))

	mux.Handle("POST /api/clinic/queue/tickets", h.protect(authz.ResourceTicket, authz.ActionCreate, h.handleIssueTicket))
	mux.Handle("GET /api/clinic/queue/tickets/{id}", h.protect(authz.ResourceTicket, authz.ActionRead, h.handleGetTicket))
	mux.Handle("GET /api/clinic/queue/tickets/{id}/events", h.protect(authz.ResourceTicket, authz.ActionRead, h.handleListTicketEvents))
	mux.Handle("POST /api/clinic/queue/tickets/{id}/call", h.protect(authz.ResourceTicket, authz.ActionCall, h.ticketAction(h.store.CallTicket)))
	mux.Handle("POST /api/clinic/queue/tickets/{id}/start-visit", h.protect(authz.ResourceTicket, authz.ActionStart, h.handleStartVisit))
	mux.Handle("POST /api/clinic/queue/tickets/{id}/finish", h.protect(authz.ResourceTicket, authz.ActionFinish, h.ticketAction(h.store.FinishTicket)))
	mux.Handle("POST /api/clinic/queue/tickets/{id}/skip", h.protect(authz.ResourceTicket, authz.ActionSkip, h.ticketAction(h.store.SkipTicket)))
	mux.Handle("POST /api/clinic/queue/tickets/{id}/cancel", h.protect(authz.ResourceTicket, authz.ActionCancel, h.ticketAction(h.store.CancelTicket)))
	mux.Handle("POST /api/clinic/queue/tickets/{id}/urgent", h.protect(authz.ResourceTicket, authz.ActionUrgent, h.ticketAction(h.store.MarkUrgent)))

	mux.Handle("GET /api/clinic/queue/board", h.protect(authz.ResourceBoard, authz.ActionRead, h.handleBoard))
	mux.Handle("GET /api/clinic/queue/my-queue", h.protect(authz.ResourceDoctorQueue, authz.ActionRead, h.handleMyQueue))
	mux.Handle("GET /api/clinic/queue/my-ticket", h.protect(authz.ResourcePatientTicket, authz.ActionRead, h.handleMyTicket))
	mux.Handle("GET /api/clinic/patients/{id}/tickets", h.protect(authz.ResourcePatientTicket, authz.ActionList, h.handleListPatientTickets))
	mux.Handle("GET /api/clinic/patients/{id}/visits", h.protect(authz.ResourceVisit, authz.ActionList, h.handleListPatientVisits))
	mux.Handle("GET /api/clinic/patients/{id}/summary", h.protect(authz.ResourceVisit, authz.ActionRead, h.handlePatientSummary))

	mux.Handle("POST /api/clinic/visits", h.protect(authz.ResourceVisit, authz.ActionCreate, h.handleCreateVisit))
	mux.Handle("GET /api/clinic/visits/{id}", h.protect(authz.ResourceVisit, authz.ActionRead, h.handleGetVisit))
	mux.Handle("PUT /api/clinic/visits/{id}", h.protect(authz.ResourceVisit, authz.ActionUpdate, h.handleUpdateVisit))
	mux.Handle("POST /api/clinic/visits/{id}/complete", h.protect(authz.ResourceVisit, authz.ActionComplete, h.handleCompleteVisit))

	mux.Handle("POST /api/clinic/invoices", h.protect(authz.ResourceInvoice, authz.ActionCreate, h.handleCreateInvoice))
	mux.Handle("GET /api/clinic/invoices", h.protect(authz.ResourceInvoice, authz.ActionList, h.handleListInvoices))
	mux.Handle("GET /api/clinic/invoices/{id}", h.protect(authz.ResourceInvoice, authz.ActionRead, h.handleGetInvoice))
	mux.Handle("PUT /api/clinic/invoices/{id}", h.protect(authz.ResourceInvoice, authz.ActionUpdate, h.handleUpdateInvoice))
	mux.Handle("GET /api/clinic/invoices/{id}/payments", h.protect(authz.ResourcePayment, authz.ActionList, h.handleListPayments))
	mux.Handle("POST /api/clinic/payments", h.protect(authz.ResourcePayment, authz.ActionCreate, h.handleRecordPayment))
	mux.Handle("GET /api/clinic/finance/daily", h.protect(authz.ResourceFinance, authz.ActionRead, h.handleDailyRevenue))
	mux.Handle("GET /api/clinic/finance/by-doctor", h.protect(authz.ResourceFinance, authz.ActionRead, h.handleRevenueByDoctor))
	return mux
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// paging reads page_number and page_size, writing a 400 when either is not
// an integer.
func paging(w http.ResponseWriter, r *http.Request) (store.Paging, bool) {
	pageNumber, err := queryInt(r, "page_number", 1)
	if err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, kindInvalidRequest, "invalid_request", err.Error())
		return store.Paging{}, false
	}
	pageSize, err := queryInt(r, "page_size", 10)
	if err != nil {
		writeError(w, requestIDFromRequest(r), http.StatusBadRequest, kindInvalidRequest, "invalid_request", err.Error())
		return store.Paging{}, false
	}
	return store.Paging{PageNumber: pageNumber, PageSize: pageSize}.Normalize(), true
}
