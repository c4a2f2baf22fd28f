package pg

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/JoelPallero/Church-Center-sub001/internal/auth"
	"github.com/JoelPallero/Church-Center-sub001/internal/ids"
)

// GlobalSettings returns the church-less settings rows.
func (s *Store) GlobalSettings(ctx context.Context) (map[string]string, error) {
	rows, err := s.q.QueryContext(ctx, `
		select setting_key, setting_value from settings where church_id is null
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var key string
		var value sql.NullString
		if err := rows.Scan(&key, &value); err != nil {
			return nil, err
		}
		out[key] = value.String
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) ReplaceResetTicket(ctx context.Context, ticket auth.ResetTicket) error {
	return s.WithinTx(ctx, func(tx auth.Store) error {
		q := tx.(*Store).q
		if _, err := q.ExecContext(ctx, `delete from password_resets where email = $1`, ticket.Email); err != nil {
			return err
		}
		_, err := q.ExecContext(ctx, `
			insert into password_resets (email, token, expires_at, created_at)
			values ($1, $2, $3, $4)
		`, ticket.Email, ticket.Token, ticket.ExpiresAt.UTC(), ticket.CreatedAt.UTC())
		return mapWriteErr(err)
	})
}

func (s *Store) FindResetTicket(ctx context.Context, token string) (auth.ResetTicket, error) {
	var t auth.ResetTicket
	err := s.q.QueryRowContext(ctx, `
		select email, token, expires_at, created_at from password_resets where token = $1
	`, token).Scan(&t.Email, &t.Token, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return auth.ResetTicket{}, auth.ErrNotFound
	}
	if err != nil {
		return auth.ResetTicket{}, err
	}
	return t, nil
}

func (s *Store) DeleteResetTicket(ctx context.Context, token string) error {
	_, err := s.q.ExecContext(ctx, `delete from password_resets where token = $1`, token)
	return err
}

// AppendActivity persists an audit event to activity_log.
func (s *Store) AppendActivity(ctx context.Context, memberID, event string, details map[string]any, at time.Time) error {
	payload := []byte("{}")
	if len(details) > 0 {
		b, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("marshal activity details: %w", err)
		}
		payload = b
	}
	_, err := s.q.ExecContext(ctx, `
		insert into activity_log (id, member_id, event, details, created_at)
		values ($1, $2, $3, $4, $5)
	`, ids.New(), nullIfEmpty(memberID), event, payload, at.UTC())
	return err
}
