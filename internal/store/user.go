package store

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CreateUser はユーザーを作成する。IDが空の場合は採番する。
// メールアドレスが重複する場合は apperror.ErrConflict を返す。
func (s *Store) CreateUser(ctx context.Context, u *User) error {
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = RoleMember
	}
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
	now := s.now()
	u.CreatedAt, u.UpdatedAt = now, now

	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO users (id, email, password_hash, name, role, avatar, created_at, updated_at)
		VALUES (:id, :email, :password_hash, :name, :role, :avatar, :created_at, :updated_at)`, u)
	return translate(err, "ユーザー")
}

// GetUser はIDでユーザーを取得する。
func (s *Store) GetUser(ctx context.Context, id string) (*User, error) {
	var u User
	if err := s.db.GetContext(ctx, &u, "SELECT * FROM users WHERE id = ?", id); err != nil {
		return nil, translate(err, "ユーザー")
	}
	return &u, nil
}

// GetUserByEmail はメールアドレス（大文字小文字を区別しない）でユーザーを取得する。
func (s *Store) GetUserByEmail(ctx context.Context, email string) (*User, error) {
	var u User
	err := s.db.GetContext(ctx, &u, "SELECT * FROM users WHERE email = ?", strings.ToLower(strings.TrimSpace(email)))
	if err != nil {
		return nil, translate(err, "ユーザー")
	}
	return &u, nil
}

// ListUsersByIDs はIDの集合に含まれるユーザーを返す。存在しないIDは無視する。
func (s *Store) ListUsersByIDs(ctx context.Context, ids []string) ([]User, error) {
	if len(ids) == 0 {
		return []User{}, nil
	}
	query, args, err := sqlx.In("SELECT * FROM users WHERE id IN (?) ORDER BY name", ids)
	if err != nil {
		return nil, fmt.Errorf("ユーザー検索クエリの組み立てに失敗: %w", err)
	}
	users := []User{}
	if err := s.db.SelectContext(ctx, &users, s.db.Rebind(query), args...); err != nil {
		return nil, translate(err, "ユーザー")
	}
	return users, nil
}

// UpdatePassword はユーザーのパスワードハッシュを更新する。
func (s *Store) UpdatePassword(ctx context.Context, userID, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET password_hash = ?, updated_at = ? WHERE id = ?",
		passwordHash, s.now(), userID)
	if err != nil {
		return translate(err, "ユーザー")
	}
	return requireAffected(res, "ユーザー")
}
