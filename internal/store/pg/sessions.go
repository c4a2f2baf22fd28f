package pg

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/JoelPallero/Church-Center-sub001/internal/auth"
)

func (s *Store) CreateSession(ctx context.Context, rec auth.SessionRecord) error {
	_, err := s.q.ExecContext(ctx, `
		insert into user_sessions (id, user_id, token, refresh_token, ip_address, user_agent, issued_at, expires_at, is_revoked)
		values ($1, $2, $3, $4, $5, $6, $7, $8, false)
	`, rec.ID, rec.UserID, rec.Token, rec.RefreshToken, nullIfEmpty(rec.IPAddress), nullIfEmpty(rec.UserAgent),
		rec.IssuedAt.UTC(), rec.ExpiresAt.UTC())
	return mapWriteErr(err)
}

func (s *Store) FindActiveSession(ctx context.Context, token string) (auth.SessionRecord, error) {
	var (
		rec       auth.SessionRecord
		ip, agent sql.NullString
	)
	err := s.q.QueryRowContext(ctx, `
		select id, user_id, token, refresh_token, ip_address, user_agent, issued_at, expires_at, is_revoked
		from user_sessions
		where token = $1 and is_revoked = false
	`, token).Scan(&rec.ID, &rec.UserID, &rec.Token, &rec.RefreshToken, &ip, &agent, &rec.IssuedAt, &rec.ExpiresAt, &rec.Revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.SessionRecord{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.SessionRecord{}, err
	}
	rec.IPAddress = ip.String
	rec.UserAgent = agent.String
	return rec, nil
}

// RevokeSession sets the revoked flag. The statement never clears it.
func (s *Store) RevokeSession(ctx context.Context, token string) error {
	_, err := s.q.ExecContext(ctx, `update user_sessions set is_revoked = true where token = $1`, token)
	return err
}

func (s *Store) RevokeUserSessions(ctx context.Context, userID string) (int64, error) {
	res, err := s.q.ExecContext(ctx, `
		update user_sessions set is_revoked = true
		where user_id = $1 and is_revoked = false
	`, userID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeExpiredSessions deletes rows whose token expired before cutoff.
func (s *Store) PurgeExpiredSessions(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.q.ExecContext(ctx, `delete from user_sessions where expires_at < $1`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
