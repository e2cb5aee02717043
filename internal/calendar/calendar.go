// Package calendar はカレンダーイベントのAPIを提供する。
// イベントが登録されると、プロジェクトのチームメンバーと参加者にEVENT通知を送る。
package calendar

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/teamhub/internal/apperror"
	"github.com/nao1215/teamhub/internal/eventbus"
	"github.com/nao1215/teamhub/internal/fanout"
	"github.com/nao1215/teamhub/internal/notification"
	"github.com/nao1215/teamhub/internal/recipient"
	"github.com/nao1215/teamhub/internal/store"
	"github.com/nao1215/teamhub/pkg/event"
	"github.com/nao1215/teamhub/pkg/middleware"
)

// Repository はカレンダーイベントの永続化に必要な操作。
type Repository interface {
	GetProject(ctx context.Context, id string) (*store.Project, error)
	CreateEvent(ctx context.Context, e *store.CalendarEvent, attendeeIDs []string) error
	GetEvent(ctx context.Context, id string) (*store.CalendarEvent, error)
	ListEventsForUser(ctx context.Context, userID string, r store.EventRange) ([]store.CalendarEvent, error)
	DeleteEvent(ctx context.Context, id string) error
}

// Handler はカレンダーAPIのHTTPハンドラ群。
type Handler struct {
	repo       Repository
	dispatcher *fanout.Dispatcher
	bus        *eventbus.Bus
	logger     *zap.Logger
}

// NewHandler は新しいカレンダーAPIハンドラを生成する。
func NewHandler(repo Repository, dispatcher *fanout.Dispatcher, bus *eventbus.Bus, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, dispatcher: dispatcher, bus: bus, logger: logger}
}

// RegisterRoutes は認証済みのルーターグループにカレンダーAPIを登録する。
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	api.POST("/calendar", h.handleCreate())
	api.GET("/calendar", h.handleList())
	api.DELETE("/calendar/:id", h.handleDelete())
}

type createRequest struct {
	Title       string          `json:"title" binding:"required"`
	Description string          `json:"description"`
	Type        store.EventType `json:"type" binding:"required"`
	StartTime   time.Time       `json:"startTime" binding:"required"`
	EndTime     time.Time       `json:"endTime" binding:"required"`
	ProjectID   string          `json:"projectId"`
	Attendees   []string        `json:"attendees"`
}

// eventResponse は参加者を含むイベントのレスポンス。
type eventResponse struct {
	*store.CalendarEvent
	AttendeeIDs []string `json:"attendeeIds"`
}

// handleCreate はイベントを登録するハンドラ。作成者は常に参加者に含まれる。
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
		if !req.Type.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "イベントの種類が不正です"})
			return
		}
		if req.EndTime.Before(req.StartTime) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "終了時刻は開始時刻以降にしてください"})
			return
		}

		ctx := c.Request.Context()
		e := &store.CalendarEvent{
			Title:       req.Title,
			Description: req.Description,
			Type:        req.Type,
			StartTime:   req.StartTime,
			EndTime:     req.EndTime,
			CreatorID:   userID,
		}
		if req.ProjectID != "" {
			if _, err := h.repo.GetProject(ctx, req.ProjectID); err != nil {
				if errors.Is(err, apperror.ErrNotFound) {
					c.JSON(http.StatusNotFound, gin.H{"error": "プロジェクトが見つかりません"})
					return
				}
				h.logger.Error("プロジェクト取得エラー", zap.String("project_id", req.ProjectID), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの登録に失敗しました"})
				return
			}
			e.ProjectID = &req.ProjectID
		}

		attendees := recipient.NewSet(req.Attendees...)
		attendees.Add(userID)
		if err := h.repo.CreateEvent(ctx, e, attendees.Sorted()); err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "存在しないユーザーが参加者に含まれています"})
				return
			}
			h.logger.Error("イベント登録エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの登録に失敗しました"})
			return
		}

		h.dispatcher.Dispatch(ctx, fanout.Notice{
			Context: recipient.Context{ActorID: userID, ProjectID: req.ProjectID, AttendeeIDs: req.Attendees},
			Title:   "New Event Scheduled",
			Message: fmt.Sprintf(`%s scheduled "%s"`, creatorName(c), e.Title),
			Payload: notification.EventScheduled{
				EventID:     e.ID,
				Title:       e.Title,
				StartTime:   e.StartTime,
				ProjectID:   req.ProjectID,
				ScheduledBy: creatorName(c),
			},
		})
		h.bus.Emit(ctx, e.ID, event.AggregateTypeCalendarEvent, event.TypeCalendarEventCreated, userID,
			event.CalendarEventCreatedData{ProjectID: req.ProjectID, AttendeeIDs: attendees.Sorted(), StartTime: e.StartTime})

		c.JSON(http.StatusCreated, eventResponse{CalendarEvent: e, AttendeeIDs: attendees.Sorted()})
	}
}

// creatorName は通知文に使う作成者の表示名を返す。名前がなければIDを使う。
func creatorName(c *gin.Context) string {
	if p, ok := middleware.GetPrincipal(c); ok && p.Name != "" {
		return p.Name
	}
	return middleware.GetUserID(c)
}

// handleList は利用者が参加者であるか、プロジェクトのチームに所属しているイベントを開始時刻順に返す。
// start と end（RFC 3339）で期間を絞り込める。
func (h *Handler) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var (
			r   store.EventRange
			err error
		)
		if r.Start, err = queryTime(c, "start"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		if r.End, err = queryTime(c, "end"); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		events, err := h.repo.ListEventsForUser(c.Request.Context(), userID, r)
		if err != nil {
			h.logger.Error("イベント一覧取得エラー", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベント一覧の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, events)
	}
}

// queryTime はクエリパラメータをRFC 3339の日時として読む。未指定の場合はnilを返す。
func queryTime(c *gin.Context, key string) (*time.Time, error) {
	v := c.Query(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("%s の日時形式が不正です: %w", key, err)
	}
	return &t, nil
}

// handleDelete はイベントを削除するハンドラ。作成者とマネージャーのみ削除できる。
func (h *Handler) handleDelete() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := middleware.GetPrincipal(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		ctx := c.Request.Context()
		id := c.Param("id")
		e, err := h.repo.GetEvent(ctx, id)
		if err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "イベントが見つかりません"})
				return
			}
			h.logger.Error("イベント取得エラー", zap.String("event_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの削除に失敗しました"})
			return
		}
		if e.CreatorID != p.ID && p.Role != string(store.RoleManager) {
			c.JSON(http.StatusForbidden, gin.H{"error": "このイベントを削除する権限がありません"})
			return
		}

		if err := h.repo.DeleteEvent(ctx, id); err != nil {
			h.logger.Error("イベント削除エラー", zap.String("event_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "イベントの削除に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "イベントを削除しました"})
	}
}
