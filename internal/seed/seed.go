// Package seed loads a tenant fixture (organizations, roles, permissions,
// users and grants) from YAML and applies it idempotently.
package seed

import (
	"bytes"
	"context"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"authserver.org/internal/auth"
	"authserver.org/internal/obs"
)

//go:embed clinic.yaml
var clinic []byte

type Fixture struct {
	Organizations []OrganizationSpec `yaml:"organizations"`
	Roles         []RoleSpec         `yaml:"roles"`
	Users         []UserSpec         `yaml:"users"`
}

type OrganizationSpec struct {
	Name   string `yaml:"name"`
	Parent string `yaml:"parent"`
}

type RoleSpec struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type UserSpec struct {
	Name      string      `yaml:"name"`
	Email     string      `yaml:"email"`
	Password  string      `yaml:"password"`
	Staff     bool        `yaml:"staff"`
	Superuser bool        `yaml:"superuser"`
	Grants    []GrantSpec `yaml:"grants"`
}

type GrantSpec struct {
	Role         string `yaml:"role"`
	Organization string `yaml:"organization"`
}

// Report counts the rows created by Apply.
type Report struct {
	Organizations int
	Roles         int
	Permissions   int
	Users         int
	Grants        int
}

// Clinic returns the bundled demo fixture.
func Clinic() (Fixture, error) {
	return Decode(bytes.NewReader(clinic))
}

// Decode parses a fixture, rejecting unknown keys.
func Decode(r io.Reader) (Fixture, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f Fixture
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return Fixture{}, nil
		}
		return Fixture{}, fmt.Errorf("decode fixture: %w", err)
	}
	return f, nil
}

// Load reads a fixture file. The path "builtin" selects the bundled fixture.
func Load(path string) (Fixture, error) {
	if path == "builtin" {
		return Clinic()
	}
	fh, err := os.Open(path)
	if err != nil {
		return Fixture{}, err
	}
	defer fh.Close()
	return Decode(fh)
}

// Apply creates whatever the fixture names that does not exist yet. Entities
// are matched by name (organizations, roles, permissions) or email (users);
// existing rows are left untouched, so Apply can be run repeatedly.
func Apply(ctx context.Context, svc *auth.RBACService, f Fixture) (Report, error) {
	var rep Report

	orgs := make(map[string]auth.Organization, len(f.Organizations))
	for _, spec := range f.Organizations {
		parentID := ""
		if spec.Parent != "" {
			parent, ok := orgs[spec.Parent]
			if !ok {
				return rep, fmt.Errorf("organization %q: parent %q must be listed before it", spec.Name, spec.Parent)
			}
			parentID = parent.ID
		}
		org, err := svc.FindOrganizationByName(ctx, spec.Name)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrNotFound):
			if org, err = svc.CreateOrganization(ctx, spec.Name, parentID); err != nil {
				return rep, fmt.Errorf("create organization %q: %w", spec.Name, err)
			}
			rep.Organizations++
		default:
			return rep, err
		}
		orgs[spec.Name] = org
	}

	existingRoles, err := svc.ListRoles(ctx)
	if err != nil {
		return rep, err
	}
	roles := make(map[string]auth.Role, len(existingRoles))
	for _, r := range existingRoles {
		if _, dup := roles[r.Name]; !dup {
			roles[r.Name] = r
		}
	}
	existingPerms, err := svc.ListPermissions(ctx)
	if err != nil {
		return rep, err
	}
	perms := make(map[string]auth.Permission, len(existingPerms))
	for _, p := range existingPerms {
		perms[p.Name] = p
	}
	for _, spec := range f.Roles {
		role, ok := roles[spec.Name]
		if !ok {
			if role, err = svc.CreateRole(ctx, spec.Name, spec.Description); err != nil {
				return rep, fmt.Errorf("create role %q: %w", spec.Name, err)
			}
			roles[spec.Name] = role
			rep.Roles++
		}
		for _, name := range spec.Permissions {
			perm, ok := perms[name]
			if !ok {
				if perm, err = svc.EnsurePermission(ctx, name, ""); err != nil {
					return rep, fmt.Errorf("role %q: %w", spec.Name, err)
				}
				perms[name] = perm
				rep.Permissions++
			}
			if _, _, err := svc.AttachPermission(ctx, role.ID, perm.ID); err != nil {
				return rep, fmt.Errorf("attach %s to %q: %w", name, spec.Name, err)
			}
		}
	}

	for _, spec := range f.Users {
		user, err := svc.FindUserByEmail(ctx, spec.Email)
		switch {
		case err == nil:
		case errors.Is(err, auth.ErrNotFound):
			user, err = svc.CreateUser(ctx, auth.NewUser{
				Name:        spec.Name,
				Email:       spec.Email,
				Password:    spec.Password,
				IsStaff:     spec.Staff,
				IsSuperuser: spec.Superuser,
			})
			if err != nil {
				return rep, fmt.Errorf("create user %q: %w", spec.Email, err)
			}
			rep.Users++
		default:
			return rep, err
		}
		for _, g := range spec.Grants {
			role, ok := roles[g.Role]
			if !ok {
				return rep, fmt.Errorf("user %q: unknown role %q", spec.Email, g.Role)
			}
			org, ok := orgs[g.Organization]
			if !ok {
				return rep, fmt.Errorf("user %q: unknown organization %q", spec.Email, g.Organization)
			}
			_, created, err := svc.GrantRole(ctx, auth.Grant{RoleID: role.ID, OrganizationID: org.ID, UserID: user.ID})
			if err != nil {
				return rep, fmt.Errorf("grant %s in %q to %q: %w", g.Role, g.Organization, spec.Email, err)
			}
			if created {
				rep.Grants++
			}
		}
	}

	obs.Logger().Info().
		Int("organizations", rep.Organizations).
		Int("roles", rep.Roles).
		Int("permissions", rep.Permissions).
		Int("users", rep.Users).
		Int("grants", rep.Grants).
		Msg("seed applied")
	return rep, nil
}
