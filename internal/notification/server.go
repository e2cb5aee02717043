package notification

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/teamhub/internal/apperror"
	"github.com/nao1215/teamhub/pkg/middleware"
)

// Handler は通知APIのHTTPハンドラ群。
type Handler struct {
	// service は通知サービス。
	service *Service
	// logger はハンドラのロガー。
	logger *zap.Logger
}

// NewHandler は新しい通知APIハンドラを生成する。
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes は認証済みのルーターグループに通知APIを登録する。
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	notifications := api.Group("/notifications")
	{
		// 通知一覧取得
		notifications.GET("", h.handleList())
		// 未読通知一覧取得
		notifications.GET("/unread", h.handleListUnread())
		// 未読件数取得
		notifications.GET("/unread/count", h.handleUnreadCount())
		// 全通知を既読にする
		notifications.PUT("/read-all", h.handleMarkAllAsRead())
		// 通知を既読にする
		notifications.PUT("/:id/read", h.handleMarkAsRead())
		// 通知を削除する
		notifications.DELETE("/:id", h.handleDelete())
	}
}

// handleList は認証済みユーザーの通知一覧を新しい順に返すハンドラ。
func (h *Handler) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notifications, err := h.service.ListForUser(c.Request.Context(), userID)
		if err != nil {
			h.logger.Error("通知一覧取得エラー", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "通知一覧の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, notifications)
	}
}

// handleListUnread は認証済みユーザーの未読通知一覧を返すハンドラ。
func (h *Handler) handleListUnread() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		notifications, err := h.service.ListUnread(c.Request.Context(), userID)
		if err != nil {
			h.logger.Error("未読通知一覧取得エラー", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読通知一覧の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, notifications)
	}
}

// handleUnreadCount は認証済みユーザーの未読件数を返すハンドラ。
func (h *Handler) handleUnreadCount() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		count, err := h.service.UnreadCount(c.Request.Context(), userID)
		if err != nil {
			h.logger.Error("未読件数取得エラー", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "未読件数の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"count": count})
	}
}

// handleMarkAsRead は指定された通知を既読にするハンドラ。
// 存在しない通知は404、他人の通知は403を返す。
func (h *Handler) handleMarkAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		n, err := h.service.MarkRead(c.Request.Context(), c.Param("id"), userID)
		if err != nil {
			h.writeOwnershipError(c, err, "通知の既読処理に失敗しました")
			return
		}

		c.JSON(http.StatusOK, n)
	}
}

// handleMarkAllAsRead は認証済みユーザーの全通知を既読にするハンドラ。
func (h *Handler) handleMarkAllAsRead() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		updated, err := h.service.MarkAllRead(c.Request.Context(), userID)
		if err != nil {
			h.logger.Error("全通知既読処理エラー", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "全通知の既読処理に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "全通知を既読にしました", "updated": updated})
	}
}

// handleDelete は指定された通知を削除するハンドラ。
func (h *Handler) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		if err := h.service.Delete(c.Request.Context(), c.Param("id"), userID); err != nil {
			h.writeOwnershipError(c, err, "通知の削除に失敗しました")
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "通知を削除しました"})
	}
}

// writeOwnershipError は既読化・削除のエラーをレスポンスに変換する。
func (h *Handler) writeOwnershipError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, apperror.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "通知が見つかりません"})
	case errors.Is(err, apperror.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "この通知を操作する権限がありません"})
	default:
		h.logger.Error(fallback, zap.String("notification_id", c.Param("id")), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}
