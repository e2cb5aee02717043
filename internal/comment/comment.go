// Package comment はタスクへのコメントAPIを提供する。
//
// コメントが投稿されると、タスクを開いている全セッションへ new_comment を
// ブロードキャストし、関係者へ NEW_COMMENT 通知を展開する。展開は応答の後に
// バックグラウンドで行われ、失敗しても投稿そのものは成功として扱う。
package comment

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/teamhub/internal/apperror"
	"github.com/nao1215/teamhub/internal/eventbus"
	"github.com/nao1215/teamhub/internal/fanout"
	"github.com/nao1215/teamhub/internal/notification"
	"github.com/nao1215/teamhub/internal/presence"
	"github.com/nao1215/teamhub/internal/recipient"
	"github.com/nao1215/teamhub/internal/store"
	"github.com/nao1215/teamhub/pkg/event"
	"github.com/nao1215/teamhub/pkg/middleware"
)

// Repository はコメントの永続化に必要な操作。
type Repository interface {
	GetTask(ctx context.Context, id string) (*store.Task, error)
	CreateComment(ctx context.Context, c *store.Comment) error
	GetComment(ctx context.Context, id string) (*store.Comment, error)
	ListComments(ctx context.Context, taskID string) ([]store.Comment, error)
	DeleteComment(ctx context.Context, id string) error
}

// Handler はコメントAPIのHTTPハンドラ群。
type Handler struct {
	repo       Repository
	dispatcher *fanout.Dispatcher
	bus        *eventbus.Bus
	logger     *zap.Logger
}

// NewHandler は新しいコメントAPIハンドラを生成する。
func NewHandler(repo Repository, dispatcher *fanout.Dispatcher, bus *eventbus.Bus, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, dispatcher: dispatcher, bus: bus, logger: logger}
}

// RegisterRoutes は認証済みのルーターグループにコメントAPIを登録する。
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/tasks/:id/comments", h.handleCreate())
	api.GET("/tasks/:id/comments", h.handleList())
	api.DELETE("/comments/:id", h.handleDelete())
}

type createRequest struct {
	Content     string   `json:"content" binding:"required"`
	Attachments []string `json:"attachments"`
}

// handleCreate はコメントを投稿するハンドラ。
func (h *Handler) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
			return
		}

		ctx := c.Request.Context()
		taskID := c.Param("id")
		task, err := h.repo.GetTask(ctx, taskID)
		if err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "タスクが見つかりません"})
				return
			}
			h.logger.Error("タスク取得エラー", zap.String("task_id", taskID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "コメントの投稿に失敗しました"})
			return
		}

		comment := &store.Comment{
			TaskID:      task.ID,
			AuthorID:    userID,
			Content:     req.Content,
			Attachments: req.Attachments,
		}
		if err := h.repo.CreateComment(ctx, comment); err != nil {
			h.logger.Error("コメント作成エラー", zap.String("task_id", taskID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "コメントの投稿に失敗しました"})
			return
		}

		h.dispatcher.Dispatch(ctx, fanout.Notice{
			Context: recipient.Context{ActorID: userID, TaskID: task.ID},
			Title:   "New Comment on Task",
			Message: fmt.Sprintf(`%s commented on "%s"`, comment.AuthorName, task.Name),
			Payload: notification.CommentAdded{
				TaskID:          task.ID,
				CommentID:       comment.ID,
				CommenterName:   comment.AuthorName,
				CommenterAvatar: comment.AuthorAvatar,
			},
			Broadcast: &fanout.RoomBroadcast{
				TaskID: task.ID,
				Event:  presence.EventNewComment,
				Data:   comment,
			},
		})
		h.bus.Emit(ctx, comment.ID, event.AggregateTypeComment, event.TypeCommentCreated, userID,
			event.CommentCreatedData{TaskID: task.ID, AuthorID: userID})

		c.JSON(http.StatusCreated, comment)
	}
}

// handleList はタスクのコメントを新しい順に返すハンドラ。
func (h *Handler) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		taskID := c.Param("id")
		comments, err := h.repo.ListComments(c.Request.Context(), taskID)
		if err != nil {
			h.logger.Error("コメント一覧取得エラー", zap.String("task_id", taskID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "コメント一覧の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, comments)
	}
}

// handleDelete はコメントを削除するハンドラ。投稿者本人のみ削除できる。
func (h *Handler) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		ctx := c.Request.Context()
		id := c.Param("id")
		comment, err := h.repo.GetComment(ctx, id)
		if err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "コメントが見つかりません"})
				return
			}
			h.logger.Error("コメント取得エラー", zap.String("comment_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "コメントの削除に失敗しました"})
			return
		}
		if comment.AuthorID != userID {
			c.JSON(http.StatusForbidden, gin.H{"error": "他のユーザーのコメントは削除できません"})
			return
		}

		if err := h.repo.DeleteComment(ctx, id); err != nil {
			h.logger.Error("コメント削除エラー", zap.String("comment_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "コメントの削除に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "コメントを削除しました"})
	}
}
