package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JoelPallero/Church-Center-sub001/internal/ids"
)

// RegistrationRequest is a self-service sign-up.
type RegistrationRequest struct {
	ChurchID string
	Name     string
	Email    string
	Password string
}

func (r RegistrationRequest) normalize() (RegistrationRequest, error) {
	r.ChurchID = strings.TrimSpace(r.ChurchID)
	r.Name = strings.TrimSpace(r.Name)
	if r.ChurchID == "" {
		return r, fmt.Errorf("%w: church id is required", ErrInvalidInput)
	}
	if r.Name == "" {
		return r, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}
	email, err := NormalizeEmail(r.Email)
	if err != nil {
		return r, err
	}
	r.Email = email
	if err := CheckPasswordPolicy(r.Password); err != nil {
		return r, err
	}
	return r, nil
}

// RegistrationWorkflow creates pending identities and gates their activation
// behind administrative approval. Multi-row writes run in one transaction.
type RegistrationWorkflow struct {
	store     Store
	passwords *Passwords
	resolver  *PermissionResolver
	notifier  Notifier
	logger    *zap.Logger
	now       func() time.Time
}

// NewRegistrationWorkflow constructs a workflow.
func NewRegistrationWorkflow(store Store, passwords *Passwords, resolver *PermissionResolver, notifier Notifier, logger *zap.Logger, now func() time.Time) *RegistrationWorkflow {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if now == nil {
		now = time.Now
	}
	return &RegistrationWorkflow{store: store, passwords: passwords, resolver: resolver, notifier: notifier, logger: logger, now: now}
}

// Register creates a pending member with an inactive password credential and
// notifies the church administrators. Notification failures are logged and do
// not undo the registration.
func (w *RegistrationWorkflow) Register(ctx context.Context, req RegistrationRequest) (Member, error) {
	req, err := req.normalize()
	if err != nil {
		return Member{}, err
	}
	hash, err := w.passwords.Hash(req.Password)
	if err != nil {
		return Member{}, err
	}

	now := w.now().UTC()
	member := Member{
		ID:        ids.New(),
		ChurchID:  req.ChurchID,
		Name:      req.Name,
		Email:     req.Email,
		Status:    MemberPending,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err = w.store.WithinTx(ctx, func(tx Store) error {
		if _, err := tx.FindMemberByEmail(ctx, req.Email); err == nil {
			return ErrConflict
		} else if !errors.Is(err, ErrNotFound) {
			return err
		}
		if err := tx.CreateMember(ctx, &member); err != nil {
			return err
		}
		return tx.CreateCredential(ctx, &Credential{
			ID:           ids.New(),
			MemberID:     member.ID,
			Email:        req.Email,
			PasswordHash: hash,
			AuthMethod:   AuthMethodPassword,
			IsActive:     false,
			CreatedAt:    now,
		})
	})
	if err != nil {
		return Member{}, err
	}

	w.notifyAdmins(ctx, member)
	return member, nil
}

func (w *RegistrationWorkflow) notifyAdmins(ctx context.Context, member Member) {
	admins, err := w.store.ChurchAdmins(ctx, member.ChurchID)
	if err != nil {
		w.logger.Warn("load church admins failed", zap.String("church_id", member.ChurchID), zap.Error(err))
		return
	}
	to := make([]string, 0, len(admins))
	for _, a := range admins {
		if a.Email != "" {
			to = append(to, a.Email)
		}
	}
	if len(to) == 0 {
		return
	}
	if err := w.notifier.Notify(ctx, Notification{
		Kind:    NotifyRegistrationPending,
		To:      to,
		Subject: "New member awaiting approval",
		Data: map[string]string{
			"member_id":    member.ID,
			"member_name":  member.Name,
			"member_email": member.Email,
		},
	}); err != nil {
		w.logger.Warn("registration notification failed", zap.String("member_id", member.ID), zap.Error(err))
	}
}

// AcceptInvitation redeems an invite token: it creates or activates the
// member's password credential and clears the invitation. The member stays
// pending until an administrator approves it.
func (w *RegistrationWorkflow) AcceptInvitation(ctx context.Context, token, password string) (Member, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Member{}, fmt.Errorf("%w: invitation token is required", ErrInvalidInput)
	}
	hash, err := w.passwords.Hash(password)
	if err != nil {
		return Member{}, err
	}

	var member Member
	err = w.store.WithinTx(ctx, func(tx Store) error {
		m, err := tx.FindMemberByInviteToken(ctx, token)
		if errors.Is(err, ErrNotFound) {
			return ErrInvalidInvitation
		}
		if err != nil {
			return err
		}
		if m.Status == MemberDeleted || m.InviteExpiresAt.IsZero() || !w.now().Before(m.InviteExpiresAt) {
			return ErrInvalidInvitation
		}

		cred, err := tx.FindCredentialByMember(ctx, m.ID)
		switch {
		case errors.Is(err, ErrNotFound):
			err = tx.CreateCredential(ctx, &Credential{
				ID:           ids.New(),
				MemberID:     m.ID,
				Email:        m.Email,
				PasswordHash: hash,
				AuthMethod:   AuthMethodPassword,
				IsActive:     true,
				CreatedAt:    w.now().UTC(),
			})
		case err == nil:
			err = tx.ActivateCredential(ctx, cred.ID, hash)
		}
		if err != nil {
			return err
		}
		if err := tx.ClearInvitation(ctx, m.ID); err != nil {
			return err
		}
		m.InviteToken = ""
		m.InviteExpiresAt = time.Time{}
		member = m
		return nil
	})
	if err != nil {
		return Member{}, err
	}
	return member, nil
}

// Approve activates a pending member and its credentials. The approver must
// hold members.approve in the people service of the member's church; a
// member without a church can only be approved by a superadmin.
func (w *RegistrationWorkflow) Approve(ctx context.Context, approverID, memberID string) (Member, error) {
	approverID = strings.TrimSpace(approverID)
	memberID = strings.TrimSpace(memberID)
	if approverID == "" || memberID == "" {
		return Member{}, fmt.Errorf("%w: approver and member ids are required", ErrInvalidInput)
	}
	member, err := w.store.FindMember(ctx, memberID)
	if err != nil {
		return Member{}, err
	}
	if member.Status == MemberDeleted {
		return Member{}, ErrNotFound
	}

	if member.ChurchID == "" {
		super, err := w.resolver.IsSuperAdmin(ctx, approverID)
		if err != nil {
			return Member{}, err
		}
		if !super {
			return Member{}, ErrForbidden
		}
	} else if err := w.resolver.Require(ctx, approverID, member.ChurchID, ServicePeople, PermMembersApprove); err != nil {
		return Member{}, err
	}

	err = w.store.WithinTx(ctx, func(tx Store) error {
		if err := tx.SetMemberStatus(ctx, member.ID, MemberActive); err != nil {
			return err
		}
		return tx.SetCredentialsActive(ctx, member.ID, true)
	})
	if err != nil {
		return Member{}, err
	}
	member.Status = MemberActive
	return member, nil
}
