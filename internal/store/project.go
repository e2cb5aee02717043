package store

import (
	"context"

	"github.com/google/uuid"
)

// CreateProject はプロジェクトを作成する。
func (s *Store) CreateProject(ctx context.Context, p *Project) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	p.CreatedAt = s.now()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO projects (id, name, description, manager_id, team_id, created_at)
		VALUES (:id, :name, :description, :manager_id, :team_id, :created_at)`, p)
	return translate(err, "プロジェクト")
}

// GetProject はIDでプロジェクトを取得する。
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	var p Project
	if err := s.db.GetContext(ctx, &p, "SELECT * FROM projects WHERE id = ?", id); err != nil {
		return nil, translate(err, "プロジェクト")
	}
	return &p, nil
}

// DeleteProject はプロジェクトを削除する。配下のタスクとイベントは残り、参照はNULLになる。
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM projects WHERE id = ?", id)
	if err != nil {
		return translate(err, "プロジェクト")
	}
	return requireAffected(res, "プロジェクト")
}

// CreateTask はタスクを作成する。
func (s *Store) CreateTask(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.CreatedAt = s.now()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO tasks (id, project_id, name, created_by_id, created_at)
		VALUES (:id, :project_id, :name, :created_by_id, :created_at)`, t)
	return translate(err, "タスク")
}

// GetTask はIDでタスクを取得する。
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	var t Task
	if err := s.db.GetContext(ctx, &t, "SELECT * FROM tasks WHERE id = ?", id); err != nil {
		return nil, translate(err, "タスク")
	}
	return &t, nil
}
