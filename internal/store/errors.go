package store

import "errors"

type Kind string

const (
	KindNotFound        Kind = "not_found"
	KindInvalidState    Kind = "invalid_state"
	KindPolicyViolation Kind = "policy_violation"
	KindForbidden       Kind = "forbidden"
)

// Error is a request-scoped failure with a stable code. Sentinel values are
// compared by identity with errors.Is.
type Error struct {
	Kind    Kind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func newError(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var target *Error
	if errors.As(err, &target) {
		return target.Kind, true
	}
	return "", false
}

var (
	ErrTenantNotFound        = newError(KindNotFound, "tenant_not_found", "tenant not found")
	ErrSessionNotFound       = newError(KindNotFound, "session_not_found", "queue session not found")
	ErrTicketNotFound        = newError(KindNotFound, "ticket_not_found", "ticket not found")
	ErrPatientNotFound       = newError(KindNotFound, "patient_not_found", "patient not found")
	ErrDoctorNotFound        = newError(KindNotFound, "doctor_not_found", "doctor not found")
	ErrDoctorServiceNotFound = newError(KindNotFound, "doctor_service_not_found", "doctor service not found")
	ErrVisitNotFound         = newError(KindNotFound, "visit_not_found", "visit not found")
	ErrInvoiceNotFound       = newError(KindNotFound, "invoice_not_found", "invoice not found")
	ErrNoActiveSession       = newError(KindNotFound, "no_active_session", "no active session found for today")
	ErrNoActiveTicket        = newError(KindNotFound, "no_active_ticket", "no active ticket found")

	ErrInvalidState  = newError(KindInvalidState, "invalid_state", "ticket state does not allow this action")
	ErrSessionClosed = newError(KindInvalidState, "session_closed", "queue session is closed")
	ErrVisitNotOpen  = newError(KindInvalidState, "visit_not_open", "visit is already completed")

	ErrDoctorDisabled        = newError(KindPolicyViolation, "doctor_disabled", "doctor is not enabled")
	ErrSessionExists         = newError(KindPolicyViolation, "session_exists", "an active session already exists for today")
	ErrClinicWideSessionOpen = newError(KindPolicyViolation, "clinic_wide_session_open", "a clinic-wide session is already active today")
	ErrSessionHasInVisit     = newError(KindPolicyViolation, "session_has_in_visit", "cannot close session while tickets are in visit")
	ErrActiveTicketExists    = newError(KindPolicyViolation, "active_ticket_exists", "patient already has an active ticket")
	ErrDoctorScopeMismatch   = newError(KindPolicyViolation, "doctor_scope_mismatch", "session belongs to another doctor")
	ErrVisitExists           = newError(KindPolicyViolation, "visit_exists", "a visit already exists for this ticket")
	ErrTicketPatientMismatch = newError(KindPolicyViolation, "ticket_patient_mismatch", "ticket belongs to another patient")
	ErrTicketDoctorMismatch  = newError(KindPolicyViolation, "ticket_doctor_mismatch", "ticket is assigned to another doctor")
	ErrInvoiceExists         = newError(KindPolicyViolation, "invoice_exists", "an invoice already exists for this visit")
	ErrInvalidAmount         = newError(KindPolicyViolation, "invalid_amount", "amount must be greater than zero")
	ErrAmountBelowPaid       = newError(KindPolicyViolation, "amount_below_paid", "amount cannot be less than the amount already paid")
	ErrInvoiceSettled        = newError(KindPolicyViolation, "invoice_settled", "a paid invoice cannot be reopened")
	ErrOverpayment           = newError(KindPolicyViolation, "overpayment", "payment exceeds remaining amount")

	ErrNotOwnVisit  = newError(KindForbidden, "not_own_visit", "you can only edit your own visits")
	ErrNotSameDay   = newError(KindForbidden, "not_same_day", "you can only edit visits from today")
	ErrAccessDenied = newError(KindForbidden, "access_denied", "access denied")
)
