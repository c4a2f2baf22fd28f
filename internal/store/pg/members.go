package pg

import (
	"context"
	"database/sql"
	"errors"

	"github.com/JoelPallero/Church-Center-sub001/internal/auth"
)

const memberColumns = `m.id, coalesce(m.church_id, ''), m.name, m.email, m.status,
		       coalesce(m.invite_token, ''), m.invite_expires_at, m.created_at, m.updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMember(row rowScanner) (auth.Member, error) {
	var (
		m       auth.Member
		status  string
		expires sql.NullTime
	)
	if err := row.Scan(&m.ID, &m.ChurchID, &m.Name, &m.Email, &status, &m.InviteToken, &expires, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return auth.Member{}, err
	}
	m.Status = auth.MemberStatus(status)
	if expires.Valid {
		m.InviteExpiresAt = expires.Time.UTC()
	}
	return m, nil
}

func (s *Store) memberWhere(ctx context.Context, where string, arg any) (auth.Member, error) {
	m, err := scanMember(s.q.QueryRowContext(ctx, `select `+memberColumns+` from members m where `+where, arg))
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Member{}, auth.ErrNotFound
	}
	return m, err
}

func (s *Store) FindMember(ctx context.Context, memberID string) (auth.Member, error) {
	return s.memberWhere(ctx, `m.id = $1`, memberID)
}

func (s *Store) FindMemberByEmail(ctx context.Context, email string) (auth.Member, error) {
	return s.memberWhere(ctx, `lower(m.email) = lower($1) and m.status <> 'deleted' limit 1`, email)
}

func (s *Store) FindMemberByInviteToken(ctx context.Context, token string) (auth.Member, error) {
	return s.memberWhere(ctx, `m.invite_token = $1`, token)
}

func (s *Store) CreateMember(ctx context.Context, m *auth.Member) error {
	if m.Status == "" {
		m.Status = auth.MemberPending
	}
	err := s.q.QueryRowContext(ctx, `
		insert into members (id, church_id, name, email, status, invite_token, invite_expires_at)
		values ($1, $2, $3, lower($4), $5, $6, $7)
		returning created_at, updated_at
	`, m.ID, nullIfEmpty(m.ChurchID), m.Name, m.Email, string(m.Status), nullIfEmpty(m.InviteToken), nullTime(m.InviteExpiresAt)).
		Scan(&m.CreatedAt, &m.UpdatedAt)
	return mapWriteErr(err)
}

func (s *Store) SetMemberStatus(ctx context.Context, memberID string, status auth.MemberStatus) error {
	res, err := s.q.ExecContext(ctx, `
		update members set status = $2, updated_at = now() where id = $1
	`, memberID, string(status))
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *Store) ClearInvitation(ctx context.Context, memberID string) error {
	res, err := s.q.ExecContext(ctx, `
		update members set invite_token = null, invite_expires_at = null, updated_at = now() where id = $1
	`, memberID)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// ChurchAdmins lists active members allowed to approve registrations in churchID.
func (s *Store) ChurchAdmins(ctx context.Context, churchID string) ([]auth.Member, error) {
	rows, err := s.q.QueryContext(ctx, `
		select distinct `+memberColumns+`
		from members m
		join member_service_roles msr on msr.member_id = m.id
		join role_permissions rp on rp.role_id = msr.role_id
		join permissions p on p.id = rp.permission_id
		where msr.church_id = $1 and msr.service_key = $2 and msr.is_enabled = true
		  and p.name = $3 and m.status = 'active'
		order by m.email
	`, churchID, auth.ServicePeople, auth.PermMembersApprove)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []auth.Member
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
