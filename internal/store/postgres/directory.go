package postgres

import (
	"context"
	"database/sql"
	"errors"

	"clinic/reception-service/internal/models"
	"clinic/reception-service/internal/store"

	"github.com/jackc/pgx/v5"
)

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
}

func (s *Store) ResolveTenant(ctx context.Context, slug string) (models.Tenant, error) {
	var tenant models.Tenant
	err := s.pool.QueryRow(ctx, `
		SELECT t.tenant_id, t.slug, t.name, t.status
		FROM tenants t
		WHERE t.slug = $1 AND `+live("t"), slug).Scan(&tenant.TenantID, &tenant.Slug, &tenant.Name, &tenant.Status)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Tenant{}, store.ErrTenantNotFound
	}
	return tenant, err
}

func (s *Store) DoctorByUser(ctx context.Context, tenantID, userID string) (models.Doctor, error) {
	return scanDoctor(s.pool.QueryRow(ctx, `
		SELECT d.doctor_id, d.tenant_id, d.user_id, d.name, d.is_enabled
		FROM doctors d
		WHERE d.tenant_id = $1 AND d.user_id = $2 AND `+live("d")+`
		ORDER BY d.created_at ASC
		LIMIT 1
	`, tenantID, userID))
}

func (s *Store) PatientByUser(ctx context.Context, tenantID, userID string) (models.Patient, error) {
	return scanPatient(s.pool.QueryRow(ctx, `
		SELECT p.patient_id, p.tenant_id, p.user_id, p.name, p.is_default
		FROM patients p
		WHERE p.tenant_id = $1 AND p.user_id = $2 AND `+live("p")+`
		ORDER BY p.is_default DESC, p.created_at ASC
		LIMIT 1
	`, tenantID, userID))
}

func getPatient(ctx context.Context, q querier, tenantID, patientID string) (models.Patient, error) {
	return scanPatient(q.QueryRow(ctx, `
		SELECT p.patient_id, p.tenant_id, p.user_id, p.name, p.is_default
		FROM patients p
		WHERE p.patient_id = $1 AND p.tenant_id = $2 AND `+live("p"), patientID, tenantID))
}

func scanPatient(row pgx.Row) (models.Patient, error) {
	var patient models.Patient
	var user sql.NullString
	if err := row.Scan(&patient.PatientID, &patient.TenantID, &user, &patient.Name, &patient.IsDefault); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Patient{}, store.ErrPatientNotFound
		}
		return models.Patient{}, err
	}
	patient.UserID = user.String
	return patient, nil
}

func getDoctor(ctx context.Context, q querier, tenantID, doctorID string) (models.Doctor, error) {
	return scanDoctor(q.QueryRow(ctx, `
		SELECT d.doctor_id, d.tenant_id, d.user_id, d.name, d.is_enabled
		FROM doctors d
		WHERE d.doctor_id = $1 AND d.tenant_id = $2 AND `+live("d"), doctorID, tenantID))
}

// requireEnabledDoctor loads a doctor that may take patients.
func requireEnabledDoctor(ctx context.Context, q querier, tenantID, doctorID string) (models.Doctor, error) {
	doctor, err := getDoctor(ctx, q, tenantID, doctorID)
	if err != nil {
		return models.Doctor{}, err
	}
	if !doctor.IsEnabled {
		return models.Doctor{}, store.ErrDoctorDisabled
	}
	return doctor, nil
}

func scanDoctor(row pgx.Row) (models.Doctor, error) {
	var doctor models.Doctor
	var user sql.NullString
	if err := row.Scan(&doctor.DoctorID, &doctor.TenantID, &user, &doctor.Name, &doctor.IsEnabled); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Doctor{}, store.ErrDoctorNotFound
		}
		return models.Doctor{}, err
	}
	doctor.UserID = user.String
	return doctor, nil
}

func ensurePatient(ctx context.Context, q querier, tenantID, patientID string) error {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (SELECT 1 FROM patients p WHERE p.patient_id = $1 AND p.tenant_id = $2 AND `+live("p")+`)
	`, patientID, tenantID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrPatientNotFound
	}
	return nil
}

// ensureDoctorService checks the service exists and is offered by doctorID.
func ensureDoctorService(ctx context.Context, q querier, tenantID, doctorID, serviceID string) error {
	var exists bool
	err := q.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM doctor_services ds
			WHERE ds.service_id = $1 AND ds.tenant_id = $2 AND ds.doctor_id = $3 AND `+live("ds")+`
		)
	`, serviceID, tenantID, doctorID).Scan(&exists)
	if err != nil {
		return err
	}
	if !exists {
		return store.ErrDoctorServiceNotFound
	}
	return nil
}
