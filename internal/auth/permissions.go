package auth

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// RoleSuperAdmin is the global role that bypasses service assignments.
const RoleSuperAdmin = "superadmin"

// Service keys and permissions referenced by the auth surface itself.
const (
	ServicePeople = "people"

	PermMembersApprove = "members.approve"
)

// PermissionSet is a set of permission names.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from names.
func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, n := range names {
		set.Add(n)
	}
	return set
}

// Add inserts name, ignoring blanks.
func (s PermissionSet) Add(name string) {
	name = strings.TrimSpace(name)
	if name == "" {
		return
	}
	s[name] = struct{}{}
}

// Has reports whether name is in the set.
func (s PermissionSet) Has(name string) bool {
	_, ok := s[name]
	return ok
}

// Names returns the sorted contents.
func (s PermissionSet) Names() []string {
	out := make([]string, 0, len(s))
	for n := range s {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// PermissionResolver derives effective permissions from current assignment
// rows. Nothing is cached between calls, so role changes apply on the next
// request.
type PermissionResolver struct {
	store AssignmentStore
}

// NewPermissionResolver constructs a resolver over store.
func NewPermissionResolver(store AssignmentStore) *PermissionResolver {
	return &PermissionResolver{store: store}
}

// IsSuperAdmin reports whether memberID holds the superadmin global role.
func (r *PermissionResolver) IsSuperAdmin(ctx context.Context, memberID string) (bool, error) {
	roles, err := r.store.GlobalRoles(ctx, memberID)
	if err != nil {
		return false, fmt.Errorf("load global roles: %w", err)
	}
	for _, role := range roles {
		if strings.EqualFold(role, RoleSuperAdmin) {
			return true, nil
		}
	}
	return false, nil
}

// EffectivePermissions returns the union of permissions granted to memberID
// by its enabled assignments in (churchID, serviceKey). A superadmin receives
// every known permission. A member without a church holds no assignments.
func (r *PermissionResolver) EffectivePermissions(ctx context.Context, memberID, churchID, serviceKey string) (PermissionSet, error) {
	if err := checkMemberService(memberID, serviceKey); err != nil {
		return nil, err
	}
	super, err := r.IsSuperAdmin(ctx, memberID)
	if err != nil {
		return nil, err
	}
	if super {
		all, err := r.store.AllPermissions(ctx)
		if err != nil {
			return nil, fmt.Errorf("load permission universe: %w", err)
		}
		return NewPermissionSet(all...), nil
	}
	if strings.TrimSpace(churchID) == "" {
		return PermissionSet{}, nil
	}

	assignments, err := r.enabledAssignments(ctx, memberID, churchID, serviceKey)
	if err != nil {
		return nil, err
	}
	set := PermissionSet{}
	seen := map[string]bool{}
	for _, a := range assignments {
		if seen[a.RoleID] {
			continue
		}
		seen[a.RoleID] = true
		perms, err := r.store.RolePermissions(ctx, a.RoleID)
		if err != nil {
			return nil, fmt.Errorf("load role permissions: %w", err)
		}
		for _, p := range perms {
			set.Add(p)
		}
	}
	return set, nil
}

// HasAccess reports whether memberID may enter serviceKey in churchID: true
// iff at least one enabled assignment exists, or the member is a superadmin.
func (r *PermissionResolver) HasAccess(ctx context.Context, memberID, churchID, serviceKey string) (bool, error) {
	if err := checkMemberService(memberID, serviceKey); err != nil {
		return false, err
	}
	super, err := r.IsSuperAdmin(ctx, memberID)
	if err != nil {
		return false, err
	}
	if super {
		return true, nil
	}
	if strings.TrimSpace(churchID) == "" {
		return false, nil
	}
	assignments, err := r.enabledAssignments(ctx, memberID, churchID, serviceKey)
	if err != nil {
		return false, err
	}
	return len(assignments) > 0, nil
}

// Require returns ErrForbidden unless memberID holds perm in the triple.
func (r *PermissionResolver) Require(ctx context.Context, memberID, churchID, serviceKey, perm string) error {
	set, err := r.EffectivePermissions(ctx, memberID, churchID, serviceKey)
	if err != nil {
		return err
	}
	if !set.Has(perm) {
		return ErrForbidden
	}
	return nil
}

// HighestRole returns the most privileged enabled assignment (lowest level).
// ok is false when the member holds no role in the triple.
func (r *PermissionResolver) HighestRole(ctx context.Context, memberID, churchID, serviceKey string) (ServiceRoleAssignment, bool, error) {
	if err := checkMemberService(memberID, serviceKey); err != nil {
		return ServiceRoleAssignment{}, false, err
	}
	if strings.TrimSpace(churchID) == "" {
		return ServiceRoleAssignment{}, false, nil
	}
	assignments, err := r.enabledAssignments(ctx, memberID, churchID, serviceKey)
	if err != nil {
		return ServiceRoleAssignment{}, false, err
	}
	if len(assignments) == 0 {
		return ServiceRoleAssignment{}, false, nil
	}
	best := assignments[0]
	for _, a := range assignments[1:] {
		if a.RoleLevel < best.RoleLevel {
			best = a
		}
	}
	return best, true, nil
}

func (r *PermissionResolver) enabledAssignments(ctx context.Context, memberID, churchID, serviceKey string) ([]ServiceRoleAssignment, error) {
	rows, err := r.store.ServiceAssignments(ctx, memberID, churchID, serviceKey)
	if err != nil {
		return nil, fmt.Errorf("load service assignments: %w", err)
	}
	out := rows[:0:0]
	for _, a := range rows {
		if a.Enabled {
			out = append(out, a)
		}
	}
	return out, nil
}

func checkMemberService(memberID, serviceKey string) error {
	if strings.TrimSpace(memberID) == "" {
		return fmt.Errorf("%w: member id is required", ErrInvalidInput)
	}
	if strings.TrimSpace(serviceKey) == "" {
		return fmt.Errorf("%w: service key is required", ErrInvalidInput)
	}
	return nil
}
