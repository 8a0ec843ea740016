// Package rbac answers role and permission questions about a console user.
//
// Everything here is pure and synchronous. A denial is a false result, never an error.
package rbac

import "time"

// Wildcard matches any resource or action in a permission entry.
const Wildcard = "*"

// AdminRole is the role name that bypasses every permission check.
const AdminRole = "admin"

// Permission grants Action on Resource. Either side may be Wildcard.
type Permission struct {
	ID          string `json:"id,omitempty"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	Description string `json:"description,omitempty"`
}

type Role struct {
	ID           string       `json:"id"`
	Name         string       `json:"name"`
	Description  string       `json:"description,omitempty"`
	IsSystemRole bool         `json:"is_system_role,omitempty"`
	Permissions  []Permission `json:"permissions,omitempty"`
}

// User is the read-only snapshot of the logged-in account returned by the backend.
type User struct {
	ID          string       `json:"id"`
	Email       string       `json:"email"`
	Name        string       `json:"naam"`
	Active      bool         `json:"is_actief"`
	Roles       []Role       `json:"roles,omitempty"`
	Permissions []Permission `json:"permissions,omitempty"`
	LastLogin   *time.Time   `json:"laatste_login,omitempty"`
}

// Matches reports whether entry grants action on resource.
func (p Permission) Matches(resource, action string) bool {
	return (p.Resource == resource || p.Resource == Wildcard) &&
		(p.Action == action || p.Action == Wildcard)
}

// HasRole reports whether user holds a role with exactly roleName.
func HasRole(user *User, roleName string) bool {
	if user == nil {
		return false
	}
	for _, role := range user.Roles {
		if role.Name == roleName {
			return true
		}
	}
	return false
}

// IsAdmin reports whether user holds AdminRole.
func IsAdmin(user *User) bool {
	return HasRole(user, AdminRole)
}

// HasPermission reports whether user may perform action on resource.
func HasPermission(user *User, resource, action string) bool {
	if user == nil {
		return false
	}
	if IsAdmin(user) {
		return true
	}
	for _, p := range user.Permissions {
		if p.Matches(resource, action) {
			return true
		}
	}
	return false
}

// MenuMatrix maps role id to menu item key to visibility. It drives sidebar rendering only.
type MenuMatrix map[string]map[string]bool

// HasMenuAccess reports whether any of the user's roles shows menuItem.
func HasMenuAccess(user *User, matrix MenuMatrix, menuItem string) bool {
	if user == nil {
		return false
	}
	if IsAdmin(user) {
		return true
	}
	for _, role := range user.Roles {
		if matrix[role.ID][menuItem] {
			return true
		}
	}
	return false
}
