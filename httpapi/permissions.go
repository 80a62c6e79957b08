package httpapi

import "github.com/roma-frontend/fitauth/permission"

// Administrative permissions.
const (
	PermAccountsManage = "accounts:manage"
	PermFaceIDManage   = "faceid:manage"
	PermAuditRead      = "audit:read"
	PermAuditExport    = "audit:export"
	PermAuditManage    = "audit:manage"
	PermSecurityRead   = "security:read"
	PermSecurityManage = "security:manage"
)

// Permissions returns a frozen registry holding every administrative permission.
func Permissions() *permission.Registry {
	reg := permission.NewRegistry()
	reg.MustRegister(
		PermAccountsManage,
		PermFaceIDManage,
		PermAuditRead,
		PermAuditExport,
		PermAuditManage,
		PermSecurityRead,
		PermSecurityManage,
	)
	reg.Freeze()
	return reg
}

// DefaultRoles maps "admin" to every permission and "auditor" to read-only
// audit and analytics access.
func DefaultRoles() *permission.Roles {
	roles := permission.NewRoles(Permissions())
	if err := roles.DefineRoot("admin"); err != nil {
		panic(err)
	}
	if err := roles.Define("auditor", PermAuditRead, PermAuditExport, PermSecurityRead); err != nil {
		panic(err)
	}
	roles.Freeze()
	return roles
}
