package store

import (
	"context"

	"github.com/google/uuid"
)

// CreateNotification は未読の通知を1件作成し、採番したIDと作成日時を n に設定する。
func (s *Store) CreateNotification(ctx context.Context, n *Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if len(n.Data) == 0 {
		n.Data = []byte("{}")
	}
	n.IsRead = false
	n.CreatedAt = s.now()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, data, is_read, created_at)
		VALUES (:id, :user_id, :type, :title, :message, :data, :is_read, :created_at)`, n)
	return translate(err, "通知")
}

// GetNotification はIDで通知を取得する。
func (s *Store) GetNotification(ctx context.Context, id string) (*Notification, error) {
	var n Notification
	if err := s.db.GetContext(ctx, &n, "SELECT * FROM notifications WHERE id = ?", id); err != nil {
		return nil, translate(err, "通知")
	}
	return &n, nil
}

// ListNotifications はユーザーの通知を新しい順に返す。
func (s *Store) ListNotifications(ctx context.Context, userID string) ([]Notification, error) {
	ns := []Notification{}
	err := s.db.SelectContext(ctx, &ns,
		"SELECT * FROM notifications WHERE user_id = ? ORDER BY created_at DESC, rowid DESC", userID)
	return ns, translate(err, "通知")
}

// ListUnreadNotifications はユーザーの未読通知を新しい順に返す。
func (s *Store) ListUnreadNotifications(ctx context.Context, userID string) ([]Notification, error) {
	ns := []Notification{}
	err := s.db.SelectContext(ctx, &ns,
		"SELECT * FROM notifications WHERE user_id = ? AND is_read = 0 ORDER BY created_at DESC, rowid DESC", userID)
	return ns, translate(err, "通知")
}

// CountUnreadNotifications はユーザーの未読通知数を返す。
func (s *Store) CountUnreadNotifications(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM notifications WHERE user_id = ? AND is_read = 0", userID)
	return n, translate(err, "通知")
}

// MarkNotificationRead は通知を既読にする。
func (s *Store) MarkNotificationRead(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE notifications SET is_read = 1 WHERE id = ?", id)
	if err != nil {
		return translate(err, "通知")
	}
	return requireAffected(res, "通知")
}

// MarkAllNotificationsRead はユーザーの全通知を既読にし、更新件数を返す。
func (s *Store) MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		"UPDATE notifications SET is_read = 1 WHERE user_id = ? AND is_read = 0", userID)
	if err != nil {
		return 0, translate(err, "通知")
	}
	return res.RowsAffected()
}

// DeleteNotification は通知を削除する。
func (s *Store) DeleteNotification(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM notifications WHERE id = ?", id)
	if err != nil {
		return translate(err, "通知")
	}
	return requireAffected(res, "通知")
}
