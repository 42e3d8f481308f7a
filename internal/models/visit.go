package models

import "time"

type Visit struct {
	VisitID     string     `json:"visit_id"`
	TenantID    string     `json:"tenant_id,omitempty"`
	TicketID    *string    `json:"ticket_id,omitempty"`
	DoctorID    string     `json:"doctor_id"`
	PatientID   string     `json:"patient_id"`
	Status      string     `json:"status"`
	Complaint   string     `json:"complaint,omitempty"`
	Diagnosis   string     `json:"diagnosis,omitempty"`
	Notes       string     `json:"notes,omitempty"`
	Vitals      Vitals     `json:"vitals"`
	FollowUpOn  *time.Time `json:"follow_up_on,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Invoice     *Invoice   `json:"invoice,omitempty"`
}

type Vitals struct {
	BloodPressureSystolic  *int     `json:"blood_pressure_systolic,omitempty" validate:"omitempty,gte=0,lte=300"`
	BloodPressureDiastolic *int     `json:"blood_pressure_diastolic,omitempty" validate:"omitempty,gte=0,lte=200"`
	HeartRate              *int     `json:"heart_rate,omitempty" validate:"omitempty,gte=0,lte=300"`
	Temperature            *float64 `json:"temperature,omitempty" validate:"omitempty,gte=25,lte=45"`
	Weight                 *float64 `json:"weight,omitempty" validate:"omitempty,gte=0,lte=500"`
	Height                 *float64 `json:"height,omitempty" validate:"omitempty,gte=0,lte=300"`
	BMI                    *float64 `json:"bmi,omitempty" validate:"omitempty,gte=0,lte=150"`
	BloodSugar             *float64 `json:"blood_sugar,omitempty" validate:"omitempty,gte=0,lte=2000"`
	OxygenSaturation       *float64 `json:"oxygen_saturation,omitempty" validate:"omitempty,gte=0,lte=100"`
	RespiratoryRate        *int     `json:"respiratory_rate,omitempty" validate:"omitempty,gte=0,lte=100"`
}

const (
	VisitOpen      = "open"
	VisitCompleted = "completed"
)

type PatientSummary struct {
	Patient      Patient        `json:"patient"`
	TotalVisits  int            `json:"total_visits"`
	RecentVisits []VisitSummary `json:"recent_visits"`
}

type VisitSummary struct {
	VisitID     string     `json:"visit_id"`
	DoctorID    string     `json:"doctor_id"`
	DoctorName  string     `json:"doctor_name"`
	Status      string     `json:"status"`
	Complaint   string     `json:"complaint,omitempty"`
	Diagnosis   string     `json:"diagnosis,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}
