package auth

import (
	"fmt"
	"strings"
	"unicode"
)

// PermissionMethods are the HTTP methods a permission name may end with.
var PermissionMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"}

// Resource is a declared protected capability group such as "Patient". A
// protected handler cannot be registered without one; the zero Resource is
// undeclared and every request against it is denied.
type Resource struct {
	name string
}

// NewResource declares a resource. Names must be non-empty and contain no
// whitespace.
func NewResource(name string) (Resource, error) {
	if name == "" {
		return Resource{}, fmt.Errorf("%w: resource name is required", ErrInvalidInput)
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return Resource{}, fmt.Errorf("%w: resource name %q contains whitespace", ErrInvalidInput, name)
	}
	return Resource{name: name}, nil
}

// MustResource is NewResource for package-level declarations.
func MustResource(name string) Resource {
	r, err := NewResource(name)
	if err != nil {
		panic(err)
	}
	return r
}

func (r Resource) Name() string { return r.name }

// Declared reports whether the resource carries a name.
func (r Resource) Declared() bool { return r.name != "" }

// Permission returns the permission name required to call method on r.
func (r Resource) Permission(method string) string {
	return PermissionName(r.name, method)
}

func (r Resource) String() string { return r.name }

// Resources guarding the administrative API.
var (
	ResourceUsers         = MustResource("Users")
	ResourceOrganizations = MustResource("Organizations")
	ResourceRoles         = MustResource("Roles")
	ResourcePermissions   = MustResource("Permissions")
	ResourceGrants        = MustResource("Grants")
)

// AdminResources lists the resources served by the administrative API.
var AdminResources = []Resource{
	ResourceUsers,
	ResourceOrganizations,
	ResourceRoles,
	ResourcePermissions,
	ResourceGrants,
}

// PermissionName joins a resource name and an HTTP method.
func PermissionName(resource, method string) string {
	return resource + "-" + method
}

// ValidatePermissionName checks that name is <Resource>-<METHOD> with a known
// upper-case method. The resource part may itself contain hyphens.
func ValidatePermissionName(name string) error {
	i := strings.LastIndexByte(name, '-')
	if i <= 0 || i == len(name)-1 {
		return fmt.Errorf("%w: permission name %q must look like <Resource>-<METHOD>", ErrInvalidInput, name)
	}
	if _, err := NewResource(name[:i]); err != nil {
		return err
	}
	method := name[i+1:]
	for _, m := range PermissionMethods {
		if m == method {
			return nil
		}
	}
	return fmt.Errorf("%w: permission name %q has unknown method %q", ErrInvalidInput, name, method)
}
