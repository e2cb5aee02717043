package store

import (
	"context"
	"strings"

	"github.com/google/uuid"
)

// UpsertInvitation は (email, team) の招待を作成する。既に存在する場合は
// トークン・役割・招待者を差し替え、状態をPENDINGに戻す。
func (s *Store) UpsertInvitation(ctx context.Context, inv *Invitation) error {
	if inv.ID == "" {
		inv.ID = uuid.NewString()
	}
	if inv.Role == "" {
		inv.Role = RoleMember
	}
	inv.Email = strings.ToLower(strings.TrimSpace(inv.Email))
	inv.Status = InvitationPending
	now := s.now()
	inv.CreatedAt, inv.UpdatedAt = now, now

	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO invitations (id, email, team_id, role, token, status, invited_by, created_at, updated_at)
		VALUES (:id, :email, :team_id, :role, :token, :status, :invited_by, :created_at, :updated_at)
		ON CONFLICT (email, team_id) DO UPDATE SET
			token = excluded.token,
			role = excluded.role,
			status = excluded.status,
			invited_by = excluded.invited_by,
			updated_at = excluded.updated_at`, inv); err != nil {
		return translate(err, "招待")
	}

	saved, err := s.GetInvitationByToken(ctx, inv.Token)
	if err != nil {
		return err
	}
	*inv = *saved
	return nil
}

// GetInvitationByToken はトークンで招待を取得する。
func (s *Store) GetInvitationByToken(ctx context.Context, token string) (*Invitation, error) {
	var inv Invitation
	if err := s.db.GetContext(ctx, &inv, "SELECT * FROM invitations WHERE token = ?", token); err != nil {
		return nil, translate(err, "招待")
	}
	return &inv, nil
}

// UpdateInvitationStatus は招待の状態を更新する。
func (s *Store) UpdateInvitationStatus(ctx context.Context, id string, status InvitationStatus) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE invitations SET status = ?, updated_at = ? WHERE id = ?", status, s.now(), id)
	if err != nil {
		return translate(err, "招待")
	}
	return requireAffected(res, "招待")
}
