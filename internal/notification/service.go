package notification

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nao1215/teamhub/internal/apperror"
	"github.com/nao1215/teamhub/internal/store"
)

// Repository は通知の永続化に必要な操作。*store.Store が実装する。
type Repository interface {
	CreateNotification(ctx context.Context, n *store.Notification) error
	GetNotification(ctx context.Context, id string) (*store.Notification, error)
	ListNotifications(ctx context.Context, userID string) ([]store.Notification, error)
	ListUnreadNotifications(ctx context.Context, userID string) ([]store.Notification, error)
	CountUnreadNotifications(ctx context.Context, userID string) (int, error)
	MarkNotificationRead(ctx context.Context, id string) error
	MarkAllNotificationsRead(ctx context.Context, userID string) (int64, error)
	DeleteNotification(ctx context.Context, id string) error
}

// Service は通知の記録と、受信者本人による参照・既読化・削除を行う。
type Service struct {
	repo Repository
}

// NewService は新しい通知サービスを生成する。
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// Record は受信者宛ての通知を未読状態で1件記録し、永続化された通知を返す。
// 受信者ごとに独立して呼び出すことを前提とし、他の受信者の結果には影響しない。
func (s *Service) Record(ctx context.Context, recipientID, title, message string, payload Payload) (*store.Notification, error) {
	if strings.TrimSpace(recipientID) == "" {
		return nil, fmt.Errorf("受信者IDが空です: %w", apperror.ErrValidation)
	}
	if payload == nil || !payload.Kind().Valid() {
		return nil, fmt.Errorf("通知ペイロードが不正です: %w", apperror.ErrValidation)
	}
	if strings.TrimSpace(title) == "" {
		return nil, fmt.Errorf("通知タイトルが空です: %w", apperror.ErrValidation)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("通知ペイロードのシリアライズに失敗: %w", err)
	}

	n := &store.Notification{
		UserID:  recipientID,
		Type:    string(payload.Kind()),
		Title:   title,
		Message: message,
		Data:    data,
	}
	if err := s.repo.CreateNotification(ctx, n); err != nil {
		return nil, fmt.Errorf("通知の記録に失敗: %w", err)
	}
	return n, nil
}

// ListForUser はユーザーの通知を新しい順に返す。
func (s *Service) ListForUser(ctx context.Context, userID string) ([]store.Notification, error) {
	return s.repo.ListNotifications(ctx, userID)
}

// ListUnread はユーザーの未読通知を新しい順に返す。
func (s *Service) ListUnread(ctx context.Context, userID string) ([]store.Notification, error) {
	return s.repo.ListUnreadNotifications(ctx, userID)
}

// UnreadCount はユーザーの未読通知数を返す。
func (s *Service) UnreadCount(ctx context.Context, userID string) (int, error) {
	return s.repo.CountUnreadNotifications(ctx, userID)
}

// MarkRead は通知を既読にして返す。
// 通知が存在しない場合は apperror.ErrNotFound、userIDが受信者でない場合は apperror.ErrForbidden を返す。
func (s *Service) MarkRead(ctx context.Context, id, userID string) (*store.Notification, error) {
	n, err := s.owned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if n.IsRead {
		return n, nil
	}
	if err := s.repo.MarkNotificationRead(ctx, id); err != nil {
		return nil, err
	}
	n.IsRead = true
	return n, nil
}

// MarkAllRead はユーザーの全通知を既読にし、更新した件数を返す。
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.repo.MarkAllNotificationsRead(ctx, userID)
}

// Delete は通知を削除する。所有者の確認は MarkRead と同じ。
func (s *Service) Delete(ctx context.Context, id, userID string) error {
	if _, err := s.owned(ctx, id, userID); err != nil {
		return err
	}
	return s.repo.DeleteNotification(ctx, id)
}

// owned は通知を取得し、userIDが受信者であることを確認する。
func (s *Service) owned(ctx context.Context, id, userID string) (*store.Notification, error) {
	n, err := s.repo.GetNotification(ctx, id)
	if err != nil {
		return nil, err
	}
	if n.UserID != userID {
		return nil, fmt.Errorf("通知 %s の受信者ではありません: %w", id, apperror.ErrForbidden)
	}
	return n, nil
}
