package authz

const (
	RoleAnonymous       = "anonymous"
	RolePayrollOperator = "payroll-operator"
	RolePayrollAdmin    = "payroll-admin"
	RoleAuditor         = "auditor"
	RoleSuperadmin      = "superadmin"
	RoleSystem          = "system"
)

const (
	ActionRead     = "read"
	ActionAdmin    = "admin"
	ActionFinalize = "finalize"
)

const DomainGlobal = "global"

const (
	ObjectRateSets   = "payroll.ratesets"
	ObjectDeductions = "payroll.deductions"
	ObjectAudit      = "audit.entries"
)
