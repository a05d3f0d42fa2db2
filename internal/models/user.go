package models

// UserRole represents the roles carried in access tokens.
type UserRole string

const (
	RoleSuperAdmin UserRole = "SUPERADMIN"
	RoleAdmin      UserRole = "ADMIN"
	RoleTeacher    UserRole = "TEACHER"
	RoleStaff      UserRole = "STAFF"
	RoleStudent    UserRole = "STUDENT"
	RoleGuardian   UserRole = "GUARDIAN"
)

// StaffRoles may approve passes, watch the hallway and run roll-call.
var StaffRoles = []UserRole{RoleTeacher, RoleStaff, RoleAdmin, RoleSuperAdmin}

// IsStaff reports whether the role belongs to school staff.
func (r UserRole) IsStaff() bool {
	for _, role := range StaffRoles {
		if r == role {
			return true
		}
	}
	return false
}
