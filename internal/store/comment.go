package store

import (
	"context"

	"github.com/google/uuid"
)

// commentColumns はコメントと投稿者情報を結合して取得するSELECT句。
const commentColumns = `
	SELECT c.id, c.task_id, c.author_id, c.content, c.attachments, c.created_at,
	       u.name AS author_name, u.avatar AS author_avatar
	FROM comments c
	JOIN users u ON u.id = c.author_id`

// CreateComment はコメントを作成し、投稿者情報を含めて c を更新する。
func (s *Store) CreateComment(ctx context.Context, c *Comment) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.Attachments == nil {
		c.Attachments = StringList{}
	}
	c.CreatedAt = s.now()
	if _, err := s.db.NamedExecContext(ctx, `
		INSERT INTO comments (id, task_id, author_id, content, attachments, created_at)
		VALUES (:id, :task_id, :author_id, :content, :attachments, :created_at)`, c); err != nil {
		return translate(err, "コメント")
	}

	saved, err := s.GetComment(ctx, c.ID)
	if err != nil {
		return err
	}
	*c = *saved
	return nil
}

// GetComment はIDでコメントを取得する。
func (s *Store) GetComment(ctx context.Context, id string) (*Comment, error) {
	var c Comment
	if err := s.db.GetContext(ctx, &c, commentColumns+" WHERE c.id = ?", id); err != nil {
		return nil, translate(err, "コメント")
	}
	return &c, nil
}

// ListComments はタスクのコメントを新しい順に返す。
func (s *Store) ListComments(ctx context.Context, taskID string) ([]Comment, error) {
	comments := []Comment{}
	err := s.db.SelectContext(ctx, &comments,
		commentColumns+" WHERE c.task_id = ? ORDER BY c.created_at DESC, c.rowid DESC", taskID)
	return comments, translate(err, "コメント")
}

// DeleteComment はコメントを削除する。
func (s *Store) DeleteComment(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM comments WHERE id = ?", id)
	if err != nil {
		return translate(err, "コメント")
	}
	return requireAffected(res, "コメント")
}
