// ABOUTME: Agent persona registry mapping each role to its profile
// ABOUTME: Built once at startup from the ten built-in personas plus config overrides

package profiles

import (
	"fmt"
	"slices"

	"github.com/2389/xeno-gateway/internal/generation"
)

// Role identifies an agent persona.
type Role string

const (
	RoleResearcher      Role = "researcher"
	RoleAnalyst         Role = "analyst"
	RoleCreator         Role = "creator"
	RoleCritic          Role = "critic"
	RolePlanner         Role = "planner"
	RoleExecutor        Role = "executor"
	RoleMediator        Role = "mediator"
	RoleTeacher         Role = "teacher"
	RoleEthicalGuardian Role = "ethical_guardian"
	RoleDomainExpert    Role = "domain_expert"
)

// allRoles is the closed set of roles in display order.
var allRoles = []Role{
	RoleResearcher,
	RoleAnalyst,
	RoleCreator,
	RoleCritic,
	RolePlanner,
	RoleExecutor,
	RoleMediator,
	RoleTeacher,
	RoleEthicalGuardian,
	RoleDomainExpert,
}

// AllRoles returns every known role.
func AllRoles() []Role {
	return slices.Clone(allRoles)
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return slices.Contains(allRoles, r)
}

// Profile describes a single persona
type Profile struct {
	Role         Role
	Description  string
	Capabilities []string
	Params       generation.Params
	Instructions string
}

// clone returns a deep copy so registry internals never leak.
func (p Profile) clone() Profile {
	p.Capabilities = slices.Clone(p.Capabilities)
	return p
}

// Override replaces selected fields of a built-in profile. Zero values keep
// the built-in setting.
type Override struct {
	Role         Role
	Description  string
	Capabilities []string
	Model        string
	Temperature  *float64
	MaxTokens    int
	Instructions string
}

// Registry is an immutable role -> profile mapping.
type Registry struct {
	profiles map[Role]Profile
}

// NewRegistry builds a registry from the given profiles. Later entries
// for the same role win.
func NewRegistry(ps ...Profile) *Registry {
	r := &Registry{profiles: make(map[Role]Profile, len(ps))}
	for _, p := range ps {
		r.profiles[p.Role] = p.clone()
	}
	return r
}

// Lookup returns the profile for role.
func (r *Registry) Lookup(role Role) (Profile, bool) {
	if r == nil {
		return Profile{}, false
	}
	p, ok := r.profiles[role]
	if !ok {
		return Profile{}, false
	}
	return p.clone(), true
}

// Roles returns the registered roles in canonical order, followed by
// any non-canonical roles in lexical order.
func (r *Registry) Roles() []Role {
	out := make([]Role, 0, len(r.profiles))
	for _, role := range allRoles {
		if _, ok := r.profiles[role]; ok {
			out = append(out, role)
		}
	}
	var extra []Role
	for role := range r.profiles {
		if !role.Valid() {
			extra = append(extra, role)
		}
	}
	slices.Sort(extra)
	return append(out, extra...)
}

// Len returns the number of registered profiles.
func (r *Registry) Len() int {
	return len(r.profiles)
}

// WithOverrides returns a new registry with the overrides applied.
// Overrides for unknown roles are rejected.
func (r *Registry) WithOverrides(overrides []Override) (*Registry, error) {
	next := &Registry{profiles: make(map[Role]Profile, len(r.profiles))}
	for role, p := range r.profiles {
		next.profiles[role] = p.clone()
	}

	for _, o := range overrides {
		p, ok := next.profiles[o.Role]
		if !ok {
			return nil, fmt.Errorf("override for unknown role %q", o.Role)
		}
		if o.Description != "" {
			p.Description = o.Description
		}
		if len(o.Capabilities) > 0 {
			p.Capabilities = slices.Clone(o.Capabilities)
		}
		if o.Model != "" {
			p.Params.Model = o.Model
		}
		if o.Temperature != nil {
			if *o.Temperature < 0 || *o.Temperature > 1 {
				return nil, fmt.Errorf("role %q: temperature %v outside [0,1]", o.Role, *o.Temperature)
			}
			p.Params.Temperature = *o.Temperature
		}
		if o.MaxTokens > 0 {
			p.Params.MaxTokens = o.MaxTokens
		}
		if o.Instructions != "" {
			p.Instructions = o.Instructions
		}
		next.profiles[o.Role] = p
	}
	return next, nil
}
