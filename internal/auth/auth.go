// Package auth はユーザー登録・ログイン・パスワード変更のAPIを提供する。
//
// パスワードはbcryptでハッシュ化して保存する。パスワード変更に成功すると、
// 本人宛てにセキュリティ通知を記録し、接続中の全端末へ配信する。
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/nao1215/teamhub/internal/apperror"
	"github.com/nao1215/teamhub/internal/eventbus"
	"github.com/nao1215/teamhub/internal/fanout"
	"github.com/nao1215/teamhub/internal/notification"
	"github.com/nao1215/teamhub/internal/recipient"
	"github.com/nao1215/teamhub/internal/store"
	"github.com/nao1215/teamhub/pkg/event"
	"github.com/nao1215/teamhub/pkg/middleware"
)

// UserStore はユーザーの永続化に必要な操作。
type UserStore interface {
	CreateUser(ctx context.Context, u *store.User) error
	GetUser(ctx context.Context, id string) (*store.User, error)
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	UpdatePassword(ctx context.Context, userID, passwordHash string) error
}

// Handler は認証APIのHTTPハンドラ群。
type Handler struct {
	users      UserStore
	jwt        *middleware.JWT
	dispatcher *fanout.Dispatcher
	bus        *eventbus.Bus
	logger     *zap.Logger
	// hashCost はbcryptのコスト。
	hashCost int
}

// Option はHandlerの設定を変更する。
type Option func(*Handler)

// WithHashCost はbcryptのコストを設定する。テストで小さくするために使う。
func WithHashCost(cost int) Option {
	return func(h *Handler) { h.hashCost = cost }
}

// NewHandler は新しい認証APIハンドラを生成する。
func NewHandler(users UserStore, jwt *middleware.JWT, dispatcher *fanout.Dispatcher, bus *eventbus.Bus, logger *zap.Logger, opts ...Option) *Handler {
	h := &Handler{
		users:      users,
		jwt:        jwt,
		dispatcher: dispatcher,
		bus:        bus,
		logger:     logger,
		hashCost:   bcrypt.DefaultCost,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes は認証不要のルートをpublicに、認証が必要なルートをauthedに登録する。
func (h *Handler) RegisterRoutes(public, authed *gin.RouterGroup) {
	public.POST("/auth/register", h.handleRegister())
	public.POST("/auth/login", h.handleLogin())

	authed.GET("/auth/me", h.handleMe())
	authed.PUT("/auth/password", h.handleChangePassword())
}

// registerRequest はユーザー登録リクエストのボディ。
type registerRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required,min=6"`
	Name     string `json:"name" binding:"required"`
	Role     string `json:"role" binding:"omitempty,oneof=MEMBER MANAGER"`
	Avatar   string `json:"avatar"`
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

// changePasswordRequest はパスワード変更リクエストのボディ。
type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword" binding:"required"`
	NewPassword     string `json:"newPassword" binding:"required,min=6"`
}

// tokenResponse はトークンとユーザー情報のレスポンス。
type tokenResponse struct {
	Token string      `json:"token"`
	User  *store.User `json:"user"`
}

// handleRegister はユーザーを登録してトークンを返すハンドラ。
func (h *Handler) handleRegister() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req registerRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), h.hashCost)
		if err != nil {
			h.logger.Error("パスワードのハッシュ化に失敗", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー登録に失敗しました"})
			return
		}

		role := store.Role(req.Role)
		if role == "" {
			role = store.RoleMember
		}
		u := &store.User{
			Email:        req.Email,
			PasswordHash: string(hash),
			Name:         strings.TrimSpace(req.Name),
			Role:         role,
			Avatar:       req.Avatar,
		}
		if err := h.users.CreateUser(c.Request.Context(), u); err != nil {
			if errors.Is(err, apperror.ErrConflict) {
				c.JSON(http.StatusConflict, gin.H{"error": "このメールアドレスは既に登録されています"})
				return
			}
			h.logger.Error("ユーザー登録エラー", zap.String("email", req.Email), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザー登録に失敗しました"})
			return
		}

		h.respondWithToken(c, http.StatusCreated, u)
	}
}

// handleLogin はメールアドレスとパスワードを検証してトークンを返すハンドラ。
func (h *Handler) handleLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req loginRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
			return
		}

		u, err := h.users.GetUserByEmail(c.Request.Context(), req.Email)
		if err != nil {
			if !errors.Is(err, apperror.ErrNotFound) {
				h.logger.Error("ログイン時のユーザー取得エラー", zap.Error(err))
				c.JSON(http.StatusInternalServerError, gin.H{"error": "ログインに失敗しました"})
				return
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": "メールアドレスまたはパスワードが正しくありません"})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "メールアドレスまたはパスワードが正しくありません"})
			return
		}

		h.respondWithToken(c, http.StatusOK, u)
	}
}

// handleMe は認証済みユーザーの情報を返すハンドラ。
func (h *Handler) handleMe() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		u, err := h.users.GetUser(c.Request.Context(), userID)
		if err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
				return
			}
			h.logger.Error("ユーザー取得エラー", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "ユーザーの取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, u)
	}
}

// handleChangePassword は現在のパスワードを確認して新しいパスワードに変更するハンドラ。
// 変更後、本人宛てにセキュリティ通知を送る。通知の成否はレスポンスに影響しない。
func (h *Handler) handleChangePassword() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := middleware.GetUserID(c)
		if userID == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "ユーザーIDが取得できません"})
			return
		}

		var req changePasswordRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
			return
		}

		ctx := c.Request.Context()
		u, err := h.users.GetUser(ctx, userID)
		if err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "ユーザーが見つかりません"})
				return
			}
			h.logger.Error("ユーザー取得エラー", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "パスワードの変更に失敗しました"})
			return
		}
		if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.CurrentPassword)); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "現在のパスワードが正しくありません"})
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.NewPassword), h.hashCost)
		if err != nil {
			h.logger.Error("パスワードのハッシュ化に失敗", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "パスワードの変更に失敗しました"})
			return
		}
		if err := h.users.UpdatePassword(ctx, userID, string(hash)); err != nil {
			h.logger.Error("パスワード更新エラー", zap.String("user_id", userID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "パスワードの変更に失敗しました"})
			return
		}

		// システムによる通知として本人にも届ける
		h.dispatcher.Dispatch(ctx, fanout.Notice{
			Context: recipient.Context{AffectedUserID: userID},
			Title:   "Password Changed",
			Message: "Your password was successfully updated.",
			Payload: notification.SecurityUpdate{Action: "password_changed"},
		})
		h.bus.Emit(ctx, userID, event.AggregateTypeUser, event.TypePasswordChanged, userID, event.PasswordChangedData{UserID: userID})

		c.JSON(http.StatusOK, gin.H{"message": "パスワードを変更しました"})
	}
}

// respondWithToken はユーザーのトークンを発行してレスポンスを返す。
func (h *Handler) respondWithToken(c *gin.Context, status int, u *store.User) {
	token, err := h.jwt.Issue(middleware.Principal{ID: u.ID, Email: u.Email, Name: u.Name, Role: string(u.Role)})
	if err != nil {
		h.logger.Error("トークン発行エラー", zap.String("user_id", u.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "トークンの発行に失敗しました"})
		return
	}
	c.JSON(status, tokenResponse{Token: token, User: u})
}
