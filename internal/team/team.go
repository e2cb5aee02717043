// Package team はチームの作成・一覧とメールによる招待のAPIを提供する。
package team

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/teamhub/internal/apperror"
	"github.com/nao1215/teamhub/internal/eventbus"
	"github.com/nao1215/teamhub/internal/fanout"
	"github.com/nao1215/teamhub/internal/mail"
	"github.com/nao1215/teamhub/internal/notification"
	"github.com/nao1215/teamhub/internal/recipient"
	"github.com/nao1215/teamhub/internal/store"
	"github.com/nao1215/teamhub/pkg/event"
	"github.com/nao1215/teamhub/pkg/middleware"
)

// Repository はチームと招待の永続化に必要な操作。
type Repository interface {
	GetUser(ctx context.Context, id string) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	ListUsersByIDs(ctx context.Context, ids []string) ([]store.User, error)

	CreateTeam(ctx context.Context, t *store.Team, creatorID string, memberIDs []string) error
	GetTeam(ctx context.Context, id string) (*store.Team, error)
	GetTeamByName(ctx context.Context, name string) (*store.Team, error)
	ListTeams(ctx context.Context, search string) ([]store.Team, error)
	ListTeamsForUser(ctx context.Context, userID, search string) ([]store.Team, error)
	AddTeamMember(ctx context.Context, teamID, userID string, role store.Role) error
	IsTeamMember(ctx context.Context, teamID, userID string) (bool, error)
	ListTeamMembers(ctx context.Context, teamID string) ([]store.MemberProfile, error)

	UpsertInvitation(ctx context.Context, inv *store.Invitation) error
	GetInvitationByToken(ctx context.Context, token string) (*store.Invitation, error)
	UpdateInvitationStatus(ctx context.Context, id string, status store.InvitationStatus) error
}

// Handler はチームAPIのHTTPハンドラ群。
type Handler struct {
	repo       Repository
	dispatcher *fanout.Dispatcher
	bus        *eventbus.Bus
	mailer     mail.Dispatcher
	// frontendURL は招待メールやダッシュボードへのリンクの起点。
	frontendURL string
	logger      *zap.Logger
}

// NewHandler は新しいチームAPIハンドラを生成する。
func NewHandler(repo Repository, dispatcher *fanout.Dispatcher, bus *eventbus.Bus, mailer mail.Dispatcher, frontendURL string, logger *zap.Logger) *Handler {
	return &Handler{
		repo:        repo,
		dispatcher:  dispatcher,
		bus:         bus,
		mailer:      mailer,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		logger:      logger,
	}
}

// RegisterRoutes は認証済みのルーターグループにチームAPIを登録する。
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	manager := middleware.RequireRole(string(store.RoleManager))

	teams := api.Group("/teams")
	{
		// チーム作成
		teams.POST("", manager, h.handleCreate())
		// チーム一覧
		teams.GET("", h.handleList())
		// メンバー一覧
		teams.GET("/:id/members", h.handleListMembers())
		// メールアドレス宛ての招待
		teams.POST("/invitations", manager, h.handleInvite())
	}

	invitations := api.Group("/invitations")
	{
		invitations.POST("/:token/accept", h.handleAccept())
		invitations.POST("/:token/decline", h.handleDecline())
	}
}

type createRequest struct {
	Name      string   `json:"name" binding:"required"`
	MemberIDs []string `json:"memberIds"`
}

// handleCreate はチームを作成し、追加されたメンバーに通知とメールを送るハンドラ。
// 作成者自身もメンバーとして登録されるが、通知は送らない。
func (h *Handler) handleCreate() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		var req createRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
			return
		}
		name := strings.TrimSpace(req.Name)
		if name == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "チーム名を指定してください"})
			return
		}

		ctx := c.Request.Context()
		actor, err := h.repo.GetUser(ctx, userID)
		if err != nil {
			h.respondUserLookupError(c, userID, err)
			return
		}

		t := &store.Team{Name: name}
		if err := h.repo.CreateTeam(ctx, t, userID, req.MemberIDs); err != nil {
			switch {
			case errors.Is(err, apperror.ErrConflict):
				c.JSON(http.StatusConflict, gin.H{"error": "同じ名前のチームが既に存在します"})
			case errors.Is(err, apperror.ErrNotFound):
				c.JSON(http.StatusBadRequest, gin.H{"error": "存在しないユーザーが含まれています"})
			default:
				h.logger.Error("チーム作成エラー", zap.String("name", name), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "チームの作成に失敗しました"})
			}
			return
		}

		h.dispatcher.Dispatch(ctx, fanout.Notice{
			Context: recipient.Context{ActorID: userID, TargetUserIDs: req.MemberIDs},
			Title:   "New Team Access",
			Message: fmt.Sprintf("%s added you to team: %s", actor.Name, t.Name),
			Payload: notification.AddedToTeam{
				TeamID:       t.ID,
				TeamName:     t.Name,
				AddedBy:      actor.Name,
				SenderAvatar: actor.Avatar,
			},
		})
		h.dispatcher.Go(ctx, "チーム追加メールの送信", func(ctx context.Context) error {
			return h.mailAddedMembers(ctx, actor, t, req.MemberIDs)
		})
		h.bus.Emit(ctx, t.ID, event.AggregateTypeTeam, event.TypeTeamCreated, userID,
			event.TeamCreatedData{Name: t.Name, MemberIDs: append([]string{userID}, req.MemberIDs...)})

		c.JSON(http.StatusCreated, t)
	}
}

// mailAddedMembers は作成者以外の追加メンバーへチーム追加メールを送る。
// 一部の宛先で失敗しても残りへの送信は続ける。
func (h *Handler) mailAddedMembers(ctx context.Context, actor *store.User, t *store.Team, memberIDs []string) error {
	ids := recipient.NewSet(memberIDs...)
	ids.Remove(actor.ID)
	users, err := h.repo.ListUsersByIDs(ctx, ids.Sorted())
	if err != nil {
		return err
	}

	var errs []error
	for _, u := range users {
		msg, err := mail.AddedToTeamMessage(u.Email, mail.AddedToTeamData{
			AdderName:     actor.Name,
			TeamName:      t.Name,
			DashboardLink: h.frontendURL + "/dashboard",
		})
		if err == nil {
			err = h.mailer.Send(ctx, msg)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("%s へのメール送信に失敗: %w", u.Email, err))
		}
	}
	return errors.Join(errs...)
}

// handleList はチーム一覧を返すハンドラ。マネージャーは全チーム、メンバーは所属チームのみ参照できる。
func (h *Handler) handleList() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := middleware.GetPrincipal(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var (
			teams []store.Team
			err   error
		)
		search := c.Query("search")
		if p.Role == string(store.RoleManager) {
			teams, err = h.repo.ListTeams(c.Request.Context(), search)
		} else {
			teams, err = h.repo.ListTeamsForUser(c.Request.Context(), p.ID, search)
		}
		if err != nil {
			h.logger.Error("チーム一覧取得エラー", zap.String("user_id", p.ID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "チーム一覧の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, teams)
	}
}

// handleListMembers はチームメンバーの一覧を返すハンドラ。所属メンバーとマネージャーのみ参照できる。
func (h *Handler) handleListMembers() gin.HandlerFunc {
	return func(c *gin.Context) {
		p, ok := middleware.GetPrincipal(c)
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		ctx := c.Request.Context()
		teamID := c.Param("id")
		if _, err := h.repo.GetTeam(ctx, teamID); err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "チームが見つかりません"})
				return
			}
			h.logger.Error("チーム取得エラー", zap.String("team_id", teamID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "メンバー一覧の取得に失敗しました"})
			return
		}
		if p.Role != string(store.RoleManager) {
			member, err := h.repo.IsTeamMember(ctx, teamID, p.ID)
			if err != nil {
				h.logger.Error("所属確認エラー", zap.String("team_id", teamID), zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "メンバー一覧の取得に失敗しました"})
				return
			}
			if !member {
				c.JSON(http.StatusForbidden, gin.H{"error": "このチームのメンバーではありません"})
				return
			}
		}

		members, err := h.repo.ListTeamMembers(ctx, teamID)
		if err != nil {
			h.logger.Error("メンバー一覧取得エラー", zap.String("team_id", teamID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "メンバー一覧の取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, members)
	}
}

func (h *Handler) respondUserLookupError(c *gin.Context, userID string, err error) {
	if errors.Is(err, apperror.ErrNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーが見つかりません"})
		return
	}
	h.logger.Error("ユーザー取得エラー", zap.String("user_id", userID), zap.Error(err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの取得に失敗しました"})
}
