package models

const (
	RoleSuperAdmin    = "SuperAdmin"
	RoleClinicOwner   = "ClinicOwner"
	RoleClinicManager = "ClinicManager"
	RoleDoctor        = "Doctor"
	RolePatient       = "Patient"
)
