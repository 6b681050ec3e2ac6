package auth

import (
	"context"
	"sort"
)

// OrganizationRoles lists the roles a user holds in one organization together
// with each role's permissions.
type OrganizationRoles struct {
	Organization Organization      `json:"organization"`
	Roles        []RolePermissions `json:"roles"`
}

// RolePermissions is a role with its attached permissions. Permissions is never
// nil so that an empty role serializes as [].
type RolePermissions struct {
	Role        Role         `json:"role"`
	Permissions []Permission `json:"permissions"`
}

// EffectivePermissions returns the sorted, deduplicated names of every
// permission reachable from the user's grants in any organization. A user
// without grants yields an empty, non-nil slice.
func EffectivePermissions(ctx context.Context, r TenantReader, userID string) ([]string, error) {
	grants, perms, err := load(ctx, r, userID)
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{})
	for _, g := range grants {
		for _, p := range perms[g.Role.ID] {
			set[p.Name] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names, nil
}

// OrganizationBreakdown groups the user's grants by organization. Organizations
// appear in the order their first grant was created; roles within an
// organization keep grant order.
func OrganizationBreakdown(ctx context.Context, r TenantReader, userID string) ([]OrganizationRoles, error) {
	grants, perms, err := load(ctx, r, userID)
	if err != nil {
		return nil, err
	}
	out := make([]OrganizationRoles, 0)
	index := make(map[string]int)
	seen := make(map[[2]string]struct{})
	for _, g := range grants {
		key := [2]string{g.Organization.ID, g.Role.ID}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}

		i, ok := index[g.Organization.ID]
		if !ok {
			i = len(out)
			index[g.Organization.ID] = i
			out = append(out, OrganizationRoles{Organization: g.Organization, Roles: []RolePermissions{}})
		}
		rolePerms := append([]Permission{}, perms[g.Role.ID]...)
		out[i].Roles = append(out[i].Roles, RolePermissions{Role: g.Role, Permissions: rolePerms})
	}
	return out, nil
}

func load(ctx context.Context, r TenantReader, userID string) ([]RoleGrant, map[string][]Permission, error) {
	grants, err := r.ListRolesForUser(ctx, userID)
	if err != nil {
		return nil, nil, err
	}
	if len(grants) == 0 {
		return nil, map[string][]Permission{}, nil
	}
	roleIDs := make([]string, 0, len(grants))
	seen := make(map[string]struct{}, len(grants))
	for _, g := range grants {
		if _, ok := seen[g.Role.ID]; ok {
			continue
		}
		seen[g.Role.ID] = struct{}{}
		roleIDs = append(roleIDs, g.Role.ID)
	}
	perms, err := r.ListPermissionsForRoles(ctx, roleIDs)
	if err != nil {
		return nil, nil, err
	}
	return grants, perms, nil
}
