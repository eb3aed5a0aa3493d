package model

// Role names carried in the JWT "role" claim. Accounts themselves live in the
// identity provider; this service only sees the claims of the caller.
//
// Roles:
//  citizen    – files reports and may cancel its own.
//  department – staff of one department; the "department" claim holds the
//               category code it is responsible for.
//  admin      – may act on any report.
const (
	RoleCitizen    = "citizen"
	RoleDepartment = "department"
	RoleAdmin      = "admin"
)

// Actor is the authenticated caller of an operation.
//
// Fields:
//  UserID     – the token subject.
//  Role       – one of the Role constants.
//  Department – the category a department user is responsible for; empty
//               for other roles.
type Actor struct {
	UserID     string
	Role       string
	Department Category
}

// IsAdmin reports whether the actor has the admin role.
func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }

// Handles reports whether the actor is staff of the department that owns
// reports of the given category.
func (a Actor) Handles(c Category) bool {
	return a.Role == RoleDepartment && a.Department != "" && a.Department == c
}
