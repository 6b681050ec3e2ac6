package auth

import "time"

// Organization is a tenant unit. ParentID is informational only: grants never
// flow from a parent to its children.
type Organization struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ParentID  string    `json:"parent_id,omitempty"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// User is an account that can authenticate and receive grants.
type User struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	IsActive     bool      `json:"is_active"`
	IsStaff      bool      `json:"is_staff"`
	IsSuperuser  bool      `json:"is_superuser"`
	DateJoined   time.Time `json:"date_joined"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Role is a named bundle of permissions. Roles are global and only take effect
// through a Grant in a specific organization.
type Role struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Permission names follow the <Resource>-<METHOD> convention, e.g. "Patient-GET".
type Permission struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Grant gives a user a role inside one organization. The (RoleID, OrganizationID,
// UserID) triple is unique.
type Grant struct {
	ID             string    `json:"id"`
	RoleID         string    `json:"role_id"`
	OrganizationID string    `json:"organization_id"`
	UserID         string    `json:"user_id"`
	CreatedAt      time.Time `json:"created_at"`
}

// RolePermission attaches a permission to a role. The pair is unique.
type RolePermission struct {
	ID           string    `json:"id"`
	RoleID       string    `json:"role_id"`
	PermissionID string    `json:"permission_id"`
	CreatedAt    time.Time `json:"created_at"`
}

// RoleGrant is a grant resolved to its role and organization rows.
type RoleGrant struct {
	Role         Role
	Organization Organization
}

type OrganizationUpdate struct {
	Name *string
	// ParentID set to an empty string detaches the organization from its parent.
	ParentID *string
	IsActive *bool
}

type UserUpdate struct {
	Name         *string
	Email        *string
	Password     *string
	PasswordHash *string
	IsActive     *bool
	IsStaff      *bool
	IsSuperuser  *bool
}

type RoleUpdate struct {
	Name        *string
	Description *string
}
