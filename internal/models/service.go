package models

type Doctor struct {
	DoctorID  string `json:"doctor_id"`
	TenantID  string `json:"tenant_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Name      string `json:"name"`
	IsEnabled bool   `json:"is_enabled"`
}

type Patient struct {
	PatientID string `json:"patient_id"`
	TenantID  string `json:"tenant_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Name      string `json:"name"`
	IsDefault bool   `json:"is_default"`
}

type DoctorService struct {
	ServiceID string `json:"service_id"`
	DoctorID  string `json:"doctor_id"`
	Name      string `json:"name"`
	Price     Money  `json:"price"`
}

type Tenant struct {
	TenantID string `json:"tenant_id"`
	Slug     string `json:"slug"`
	Name     string `json:"name"`
	Status   string `json:"status"`
}

const TenantActive = "active"
