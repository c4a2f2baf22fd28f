package pg

import (
	"context"

	"github.com/JoelPallero/Church-Center-sub001/internal/auth"
)

func (s *Store) GlobalRoles(ctx context.Context, memberID string) ([]string, error) {
	return s.queryStrings(ctx, `
		select role_name from member_global_roles where member_id = $1 order by role_name
	`, memberID)
}

// ServiceAssignments returns every assignment of the triple, enabled or not.
func (s *Store) ServiceAssignments(ctx context.Context, memberID, churchID, serviceKey string) ([]auth.ServiceRoleAssignment, error) {
	rows, err := s.q.QueryContext(ctx, `
		select msr.member_id, msr.church_id, msr.service_key, r.id, r.name, r.level, msr.is_enabled
		from member_service_roles msr
		join roles r on r.id = msr.role_id
		where msr.member_id = $1 and msr.church_id = $2 and msr.service_key = $3
		order by r.level, r.name
	`, memberID, churchID, serviceKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.ServiceRoleAssignment
	for rows.Next() {
		var a auth.ServiceRoleAssignment
		if err := rows.Scan(&a.MemberID, &a.ChurchID, &a.ServiceKey, &a.RoleID, &a.RoleName, &a.RoleLevel, &a.Enabled); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) RolePermissions(ctx context.Context, roleID string) ([]string, error) {
	return s.queryStrings(ctx, `
		select p.name
		from role_permissions rp
		join permissions p on p.id = rp.permission_id
		where rp.role_id = $1
		order by p.name
	`, roleID)
}

func (s *Store) AllPermissions(ctx context.Context) ([]string, error) {
	return s.queryStrings(ctx, `select name from permissions order by name`)
}

func (s *Store) queryStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
