package models

import "time"

type Invoice struct {
	InvoiceID string    `json:"invoice_id"`
	TenantID  string    `json:"tenant_id,omitempty"`
	VisitID   string    `json:"visit_id"`
	PatientID string    `json:"patient_id"`
	DoctorID  string    `json:"doctor_id"`
	Amount    Money     `json:"amount"`
	Paid      Money     `json:"paid_amount"`
	Remaining Money     `json:"remaining_amount"`
	Status    string    `json:"status"`
	Notes     string    `json:"notes,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Payments  []Payment `json:"payments,omitempty"`
}

type Payment struct {
	PaymentID string    `json:"payment_id"`
	InvoiceID string    `json:"invoice_id"`
	Amount    Money     `json:"amount"`
	Method    string    `json:"payment_method,omitempty"`
	Reference string    `json:"reference_number,omitempty"`
	Notes     string    `json:"notes,omitempty"`
	PaidAt    time.Time `json:"paid_at"`
}

const (
	InvoiceUnpaid        = "unpaid"
	InvoicePartiallyPaid = "partially_paid"
	InvoicePaid          = "paid"
)

type DailyRevenue struct {
	Date         string `json:"date"`
	InvoiceCount int    `json:"invoice_count"`
	TotalBilled  Money  `json:"total_billed"`
	TotalUnpaid  Money  `json:"total_unpaid"`
	PaymentCount int    `json:"payment_count"`
	TotalPaid    Money  `json:"total_paid"`
}

// DoctorRevenue is one doctor's share of the invoices raised on a day.
type DoctorRevenue struct {
	DoctorID     string `json:"doctor_id"`
	DoctorName   string `json:"doctor_name"`
	InvoiceCount int    `json:"visit_count"`
	TotalBilled  Money  `json:"total_billed"`
	TotalPaid    Money  `json:"total_paid"`
}
