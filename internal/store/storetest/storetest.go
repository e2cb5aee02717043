// Package storetest はテスト用のインメモリストアとデータ投入ヘルパーを提供する。
package storetest

import (
	"fmt"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/nao1215/teamhub/internal/store"
)

// New はマイグレーション適用済みのインメモリストアを返す。テスト終了時に閉じる。
func New(t testing.TB) *store.Store {
	t.Helper()

	s, err := store.Open(t.Context(), ":memory:", zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("インメモリストアの作成に失敗: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// User はidと同じ名前のユーザーを作成する。メールアドレスは "<id>@example.com" になる。
func User(t testing.TB, s *store.Store, id string, role store.Role) *store.User {
	t.Helper()

	u := &store.User{
		ID:           id,
		Email:        fmt.Sprintf("%s@example.com", strings.ToLower(id)),
		PasswordHash: "not-a-real-hash",
		Name:         id,
		Role:         role,
		Avatar:       "https://example.com/" + id + ".png",
	}
	if err := s.CreateUser(t.Context(), u); err != nil {
		t.Fatalf("テスト用ユーザー %s の作成に失敗: %v", id, err)
	}
	return u
}

// Team はメンバー付きのチームを作成する。
func Team(t testing.TB, s *store.Store, name string, memberIDs ...string) *store.Team {
	t.Helper()

	team := &store.Team{Name: name}
	if err := s.CreateTeam(t.Context(), team, "", memberIDs); err != nil {
		t.Fatalf("テスト用チーム %s の作成に失敗: %v", name, err)
	}
	return team
}

// Project はプロジェクトを作成する。teamIDが空の場合はチームに属さない。
func Project(t testing.TB, s *store.Store, managerID, teamID string) *store.Project {
	t.Helper()

	p := &store.Project{Name: "project-" + managerID, ManagerID: managerID}
	if teamID != "" {
		p.TeamID = &teamID
	}
	if err := s.CreateProject(t.Context(), p); err != nil {
		t.Fatalf("テスト用プロジェクトの作成に失敗: %v", err)
	}
	return p
}

// Task はプロジェクト配下のタスクを作成する。
func Task(t testing.TB, s *store.Store, projectID, creatorID string) *store.Task {
	t.Helper()

	task := &store.Task{Name: "task", CreatedByID: creatorID}
	if projectID != "" {
		task.ProjectID = &projectID
	}
	if err := s.CreateTask(t.Context(), task); err != nil {
		t.Fatalf("テスト用タスクの作成に失敗: %v", err)
	}
	return task
}
