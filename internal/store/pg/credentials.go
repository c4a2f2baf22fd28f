package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/JoelPallero/Church-Center-sub001/internal/auth"
)

func (s *Store) FindCredentialByEmail(ctx context.Context, email string) (auth.CredentialRecord, error) {
	var (
		rec    auth.CredentialRecord
		locked sql.NullTime
		status string
	)
	err := s.q.QueryRowContext(ctx, `
		select u.id, u.member_id, u.email, coalesce(u.password_hash, ''), u.failed_login_attempts,
		       u.locked_until, coalesce(m.church_id, ''), coalesce(c.slug, ''), u.is_active, m.status
		from users u
		join members m on m.id = u.member_id
		left join churches c on c.id = m.church_id
		where lower(u.email) = lower($1) and u.is_active = true and m.status <> 'deleted'
		limit 1
	`, email).Scan(&rec.UserID, &rec.MemberID, &rec.Email, &rec.PasswordHash, &rec.FailedAttempts,
		&locked, &rec.ChurchID, &rec.ChurchSlug, &rec.IsActive, &status)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.CredentialRecord{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.CredentialRecord{}, err
	}
	if locked.Valid {
		rec.LockedUntil = locked.Time.UTC()
	}
	rec.MemberStatus = auth.MemberStatus(status)
	return rec, nil
}

func (s *Store) RecordLoginFailure(ctx context.Context, userID string, attempts int, lockedUntil time.Time) error {
	res, err := s.q.ExecContext(ctx, `
		update users
		set failed_login_attempts = $2, locked_until = $3, updated_at = now()
		where id = $1
	`, userID, attempts, nullTime(lockedUntil))
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *Store) ResetLoginFailures(ctx context.Context, userID string) error {
	_, err := s.q.ExecContext(ctx, `
		update users
		set failed_login_attempts = 0, locked_until = null, updated_at = now()
		where id = $1
	`, userID)
	return err
}

func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.q.ExecContext(ctx, `
		update users
		set password_hash = $2, updated_at = now()
		where id = $1
	`, userID, passwordHash)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *Store) CreateCredential(ctx context.Context, c *auth.Credential) error {
	if c.AuthMethod == "" {
		c.AuthMethod = auth.AuthMethodPassword
	}
	err := s.q.QueryRowContext(ctx, `
		insert into users (id, member_id, email, password_hash, auth_method, failed_login_attempts, is_active)
		values ($1, $2, lower($3), $4, $5, 0, $6)
		returning created_at
	`, c.ID, c.MemberID, c.Email, nullIfEmpty(c.PasswordHash), string(c.AuthMethod), c.IsActive).Scan(&c.CreatedAt)
	return mapWriteErr(err)
}

func (s *Store) FindCredentialByMember(ctx context.Context, memberID string) (auth.Credential, error) {
	var (
		c      auth.Credential
		method string
		locked sql.NullTime
	)
	err := s.q.QueryRowContext(ctx, `
		select id, member_id, email, coalesce(password_hash, ''), auth_method, failed_login_attempts,
		       locked_until, is_active, created_at
		from users
		where member_id = $1
		order by created_at
		limit 1
	`, memberID).Scan(&c.ID, &c.MemberID, &c.Email, &c.PasswordHash, &method, &c.FailedAttempts,
		&locked, &c.IsActive, &c.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.Credential{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.Credential{}, err
	}
	c.AuthMethod = auth.AuthMethod(method)
	if locked.Valid {
		c.LockedUntil = locked.Time.UTC()
	}
	return c, nil
}

func (s *Store) ActivateCredential(ctx context.Context, userID, passwordHash string) error {
	res, err := s.q.ExecContext(ctx, `
		update users
		set password_hash = $2, auth_method = 'password', is_active = true, updated_at = now()
		where id = $1
	`, userID, passwordHash)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func (s *Store) SetCredentialsActive(ctx context.Context, memberID string, active bool) error {
	_, err := s.q.ExecContext(ctx, `
		update users
		set is_active = $2, updated_at = now()
		where member_id = $1
	`, memberID, active)
	return err
}
