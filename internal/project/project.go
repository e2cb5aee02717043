// Package project はプロジェクトとタスクの最小限のAPIを提供する。
package project

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/nao1215/teamhub/internal/apperror"
	"github.com/nao1215/teamhub/internal/store"
	"github.com/nao1215/teamhub/pkg/middleware"
)

// Repository はプロジェクトとタスクの永続化に必要な操作。
type Repository interface {
	CreateProject(ctx context.Context, p *store.Project) error
	GetProject(ctx context.Context, id string) (*store.Project, error)
	DeleteProject(ctx context.Context, id string) error
	CreateTask(ctx context.Context, t *store.Task) error
	GetTask(ctx context.Context, id string) (*store.Task, error)
}

// Handler はプロジェクトAPIのHTTPハンドラ群。
type Handler struct {
	repo   Repository
	logger *zap.Logger
}

// NewHandler は新しいプロジェクトAPIハンドラを生成する。
func NewHandler(repo Repository, logger *zap.Logger) *Handler {
	return &Handler{repo: repo, logger: logger}
}

// RegisterRoutes は認証済みのルーターグループにプロジェクトAPIを登録する。
func (h *Handler) RegisterRoutes(api *gin.RouterGroup) {
	manager := middleware.RequireRole(string(store.RoleManager))

	api.POST("/projects", manager, h.handleCreateProject())
	api.DELETE("/projects/:id", manager, h.handleDeleteProject())
	api.POST("/projects/:id/tasks", h.handleCreateTask())
	api.GET("/tasks/:id", h.handleGetTask())
}

type createProjectRequest struct {
	Name        string  `json:"name" binding:"required"`
	Description string  `json:"description"`
	TeamID      *string `json:"teamId"`
}

type createTaskRequest struct {
	Name string `json:"name" binding:"required"`
}

// handleCreateProject はプロジェクトを作成するハンドラ。teamIdが存在しない場合は404を返す。
func (h *Handler) handleCreateProject() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createProjectRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
			return
		}
		if req.TeamID != nil && *req.TeamID == "" {
			req.TeamID = nil
		}

		p := &store.Project{
			Name:        req.Name,
			Description: req.Description,
			ManagerID:   middleware.GetUserID(c),
			TeamID:      req.TeamID,
		}
		if err := h.repo.CreateProject(c.Request.Context(), p); err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "チームが見つかりません"})
				return
			}
			h.logger.Error("プロジェクト作成エラー", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "プロジェクトの作成に失敗しました"})
			return
		}

		c.JSON(http.StatusCreated, p)
	}
}

func (h *Handler) handleDeleteProject() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		if err := h.repo.DeleteProject(c.Request.Context(), id); err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "プロジェクトが見つかりません"})
				return
			}
			h.logger.Error("プロジェクト削除エラー", zap.String("project_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "プロジェクトの削除に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"message": "プロジェクトを削除しました"})
	}
}

// handleCreateTask はプロジェクト配下にタスクを作成するハンドラ。
func (h *Handler) handleCreateTask() gin.HandlerFunc {
	return func(c *gin.Context) {
		var req createTaskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "リクエストが不正です: " + err.Error()})
			return
		}

		ctx := c.Request.Context()
		projectID := c.Param("id")
		if _, err := h.repo.GetProject(ctx, projectID); err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "プロジェクトが見つかりません"})
				return
			}
			h.logger.Error("プロジェクト取得エラー", zap.String("project_id", projectID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "タスクの作成に失敗しました"})
			return
		}

		task := &store.Task{
			ProjectID:   &projectID,
			Name:        req.Name,
			CreatedByID: middleware.GetUserID(c),
		}
		if err := h.repo.CreateTask(ctx, task); err != nil {
			h.logger.Error("タスク作成エラー", zap.String("project_id", projectID), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "タスクの作成に失敗しました"})
			return
		}

		c.JSON(http.StatusCreated, task)
	}
}

func (h *Handler) handleGetTask() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("id")
		task, err := h.repo.GetTask(c.Request.Context(), id)
		if err != nil {
			if errors.Is(err, apperror.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "タスクが見つかりません"})
				return
			}
			h.logger.Error("タスク取得エラー", zap.String("task_id", id), zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "タスクの取得に失敗しました"})
			return
		}

		c.JSON(http.StatusOK, task)
	}
}
