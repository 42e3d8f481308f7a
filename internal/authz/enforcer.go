package authz

import (
	"fmt"
	"log/slog"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"

	"clinic/reception-service/internal/models"
)

const rbacModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && (p.obj == "*" || r.obj == p.obj) && (p.act == "*" || r.act == p.act)
`

const (
	ResourceSession       = "session"
	ResourceTicket        = "ticket"
	ResourceBoard         = "board"
	ResourceDoctorQueue   = "doctor_queue"
	ResourcePatientTicket = "patient_ticket"
	ResourceVisit         = "visit"
	ResourceInvoice       = "invoice"
	ResourcePayment       = "payment"
	ResourceFinance       = "finance"
)

const (
	ActionCreate   = "create"
	ActionRead     = "read"
	ActionList     = "list"
	ActionUpdate   = "update"
	ActionClose    = "close"
	ActionCall     = "call"
	ActionStart    = "start_visit"
	ActionFinish   = "finish"
	ActionSkip     = "skip"
	ActionCancel   = "cancel"
	ActionUrgent   = "urgent"
	ActionComplete = "complete"
)

var (
	owner   = models.RoleClinicOwner
	manager = models.RoleClinicManager
	doctor  = models.RoleDoctor
	patient = models.RolePatient
)

// DefaultPolicies grants each clinic role the reception operations it may
// invoke. SuperAdmin is allowed everything.
var DefaultPolicies = [][]string{
	{models.RoleSuperAdmin, "*", "*"},

	{owner, ResourceSession, ActionCreate},
	{manager, ResourceSession, ActionCreate},
	{doctor, ResourceSession, ActionCreate},
	{owner, ResourceSession, ActionClose},
	{manager, ResourceSession, ActionClose},
	{doctor, ResourceSession, ActionClose},
	{owner, ResourceSession, ActionList},
	{manager, ResourceSession, ActionList},
	{owner, ResourceSession, ActionRead},
	{manager, ResourceSession, ActionRead},
	{doctor, ResourceSession, ActionRead},

	{owner, ResourceTicket, ActionCreate},
	{manager, ResourceTicket, ActionCreate},
	{owner, ResourceTicket, ActionRead},
	{manager, ResourceTicket, ActionRead},
	{doctor, ResourceTicket, ActionRead},
	{owner, ResourceTicket, ActionCall},
	{manager, ResourceTicket, ActionCall},
	{doctor, ResourceTicket, ActionCall},
	{owner, ResourceTicket, ActionStart},
	{manager, ResourceTicket, ActionStart},
	{doctor, ResourceTicket, ActionStart},
	{owner, ResourceTicket, ActionFinish},
	{manager, ResourceTicket, ActionFinish},
	{doctor, ResourceTicket, ActionFinish},
	{owner, ResourceTicket, ActionSkip},
	{manager, ResourceTicket, ActionSkip},
	{doctor, ResourceTicket, ActionSkip},
	{owner, ResourceTicket, ActionCancel},
	{manager, ResourceTicket, ActionCancel},
	{owner, ResourceTicket, ActionUrgent},
	{manager, ResourceTicket, ActionUrgent},
	{doctor, ResourceTicket, ActionUrgent},

	{owner, ResourceBoard, ActionRead},
	{manager, ResourceBoard, ActionRead},
	{doctor, ResourceDoctorQueue, ActionRead},
	{patient, ResourcePatientTicket, ActionRead},
	{owner, ResourcePatientTicket, ActionList},
	{manager, ResourcePatientTicket, ActionList},
	{doctor, ResourcePatientTicket, ActionList},

	{owner, ResourceVisit, ActionCreate},
	{manager, ResourceVisit, ActionCreate},
	{doctor, ResourceVisit, ActionCreate},
	{owner, ResourceVisit, ActionUpdate},
	{doctor, ResourceVisit, ActionUpdate},
	{owner, ResourceVisit, ActionComplete},
	{doctor, ResourceVisit, ActionComplete},
	{owner, ResourceVisit, ActionRead},
	{doctor, ResourceVisit, ActionRead},
	{owner, ResourceVisit, ActionList},
	{doctor, ResourceVisit, ActionList},

	{owner, ResourceInvoice, "*"},
	{manager, ResourceInvoice, "*"},
	{owner, ResourcePayment, "*"},
	{manager, ResourcePayment, "*"},
	{owner, ResourceFinance, ActionRead},
	{manager, ResourceFinance, ActionRead},
}

// Enforcer answers whether a role may perform an action on a resource.
type Enforcer struct {
	enforcer *casbin.Enforcer
	logger   *slog.Logger
}

func NewEnforcer(policies [][]string, log *slog.Logger) (*Enforcer, error) {
	if log == nil {
		log = slog.Default()
	}
	m, err := model.NewModelFromString(rbacModel)
	if err != nil {
		return nil, fmt.Errorf("failed to load casbin model: %w", err)
	}
	enforcer, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, fmt.Errorf("failed to create casbin enforcer: %w", err)
	}
	if len(policies) > 0 {
		if _, err := enforcer.AddPolicies(policies); err != nil {
			return nil, fmt.Errorf("failed to add policies: %w", err)
		}
	}
	return &Enforcer{enforcer: enforcer, logger: log}, nil
}

func (e *Enforcer) Enforce(role, resource, action string) (bool, error) {
	allowed, err := e.enforcer.Enforce(role, resource, action)
	if err != nil {
		e.logger.Error("permission check failed", "error", err, "role", role, "resource", resource, "action", action)
		return false, fmt.Errorf("permission check failed: %w", err)
	}
	return allowed, nil
}
