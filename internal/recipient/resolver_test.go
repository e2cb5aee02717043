package recipient

import (
	"errors"
	"slices"
	"testing"

	"github.com/nao1215/teamhub/internal/apperror"
	"github.com/nao1215/teamhub/internal/notification"
	"github.com/nao1215/teamhub/internal/store"
	"github.com/nao1215/teamhub/internal/store/storetest"
)

// fixture はチーム {A, B, C}、マネージャー M のプロジェクトとタスクを持つテストデータ。
type fixture struct {
	store   *store.Store
	team    *store.Team
	project *store.Project
	task    *store.Task
}

// setupFixture はテストデータを作成する。
func setupFixture(t *testing.T) fixture {
	t.Helper()

	s := storetest.New(t)
	for _, id := range []string{"A", "B", "C", "D"} {
		storetest.User(t, s, id, store.RoleMember)
	}
	storetest.User(t, s, "M", store.RoleManager)
	team := storetest.Team(t, s, "core", "A", "B", "C")
	project := storetest.Project(t, s, "M", team.ID)
	task := storetest.Task(t, s, project.ID, "M")
	return fixture{store: s, team: team, project: project, task: task}
}

// TestResolveComment はコメント通知の宛先解決を検証する。
func TestResolveComment(t *testing.T) {
	t.Parallel()

	t.Run("チームメンバーとマネージャーから投稿者を除いた集合になること", func(t *testing.T) {
		t.Parallel()

		f := setupFixture(t)
		r := NewResolver(f.store, DefaultPolicy())

		got, err := r.Resolve(t.Context(), notification.KindCommentAdded, Context{ActorID: "A", TaskID: f.task.ID})
		if err != nil {
			t.Fatalf("Resolve()でエラーが発生: %v", err)
		}
		if want := []string{"B", "C", "M"}; !slices.Equal(got.Sorted(), want) {
			t.Errorf("recipients = %v, want %v", got.Sorted(), want)
		}
	})

	t.Run("マネージャーがコメントした場合マネージャーは含まれないこと", func(t *testing.T) {
		t.Parallel()

		f := setupFixture(t)
		r := NewResolver(f.store, DefaultPolicy())

		got, err := r.Resolve(t.Context(), notification.KindCommentAdded, Context{ActorID: "M", TaskID: f.task.ID})
		if err != nil {
			t.Fatalf("Resolve()でエラーが発生: %v", err)
		}
		if got.Has("M") || got.Len() != 3 {
			t.Errorf("recipients = %v, want [A B C]", got.Sorted())
		}
	})

	t.Run("方針がチームのみの場合マネージャーは含まれないこと", func(t *testing.T) {
		t.Parallel()

		f := setupFixture(t)
		r := NewResolver(f.store, PolicyFromStrings([]string{"team"}))

		got, err := r.Resolve(t.Context(), notification.KindCommentAdded, Context{ActorID: "A", TaskID: f.task.ID})
		if err != nil {
			t.Fatalf("Resolve()でエラーが発生: %v", err)
		}
		if want := []string{"B", "C"}; !slices.Equal(got.Sorted(), want) {
			t.Errorf("recipients = %v, want %v", got.Sorted(), want)
		}
	})

	t.Run("チームのないプロジェクトではマネージャーだけになること", func(t *testing.T) {
		t.Parallel()

		f := setupFixture(t)
		lonely := storetest.Project(t, f.store, "M", "")
		task := storetest.Task(t, f.store, lonely.ID, "M")
		r := NewResolver(f.store, DefaultPolicy())

		got, err := r.Resolve(t.Context(), notification.KindCommentAdded, Context{ActorID: "M", TaskID: task.ID})
		if err != nil {
			t.Fatalf("Resolve()でエラーが発生: %v", err)
		}
		if got.Len() != 0 {
			t.Errorf("recipients = %v, want 空集合", got.Sorted())
		}
	})

	t.Run("プロジェクトが削除されたタスクはNotFoundになること", func(t *testing.T) {
		t.Parallel()

		f := setupFixture(t)
		if err := f.store.DeleteProject(t.Context(), f.project.ID); err != nil {
			t.Fatalf("DeleteProject()でエラーが発生: %v", err)
		}
		r := NewResolver(f.store, DefaultPolicy())

		_, err := r.Resolve(t.Context(), notification.KindCommentAdded, Context{ActorID: "A", TaskID: f.task.ID})
		if !errors.Is(err, apperror.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("存在しないタスクはNotFoundになること", func(t *testing.T) {
		t.Parallel()

		f := setupFixture(t)
		r := NewResolver(f.store, DefaultPolicy())

		_, err := r.Resolve(t.Context(), notification.KindCommentAdded, Context{ActorID: "A", TaskID: "ghost"})
		if !errors.Is(err, apperror.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

// TestResolveTargets は明示的な対象者を持つ通知の宛先解決を検証する。
func TestResolveTargets(t *testing.T) {
	t.Parallel()

	f := setupFixture(t)
	r := NewResolver(f.store, DefaultPolicy())

	for _, kind := range []notification.Kind{notification.KindAddedToTeam, notification.KindTeamInvitation} {
		t.Run(string(kind)+"は対象者から操作者を除き重複を除くこと", func(t *testing.T) {
			t.Parallel()

			got, err := r.Resolve(t.Context(), kind, Context{ActorID: "M", TargetUserIDs: []string{"M", "D", "D", ""}})
			if err != nil {
				t.Fatalf("Resolve()でエラーが発生: %v", err)
			}
			if want := []string{"D"}; !slices.Equal(got.Sorted(), want) {
				t.Errorf("recipients = %v, want %v", got.Sorted(), want)
			}
		})
	}
}

// TestResolveEvent はイベント通知の宛先解決を検証する。
func TestResolveEvent(t *testing.T) {
	t.Parallel()

	t.Run("チームメンバーと参加者の和集合から作成者を除くこと", func(t *testing.T) {
		t.Parallel()

		f := setupFixture(t)
		r := NewResolver(f.store, DefaultPolicy())

		got, err := r.Resolve(t.Context(), notification.KindEventScheduled, Context{
			ActorID:     "A",
			ProjectID:   f.project.ID,
			AttendeeIDs: []string{"B", "D", "A"},
		})
		if err != nil {
			t.Fatalf("Resolve()でエラーが発生: %v", err)
		}
		if want := []string{"B", "C", "D"}; !slices.Equal(got.Sorted(), want) {
			t.Errorf("recipients = %v, want %v", got.Sorted(), want)
		}
	})

	t.Run("プロジェクトなしの場合は参加者のみになること", func(t *testing.T) {
		t.Parallel()

		f := setupFixture(t)
		r := NewResolver(f.store, DefaultPolicy())

		got, err := r.Resolve(t.Context(), notification.KindEventScheduled, Context{ActorID: "A", AttendeeIDs: []string{"A", "D"}})
		if err != nil {
			t.Fatalf("Resolve()でエラーが発生: %v", err)
		}
		if want := []string{"D"}; !slices.Equal(got.Sorted(), want) {
			t.Errorf("recipients = %v, want %v", got.Sorted(), want)
		}
	})

	t.Run("存在しないプロジェクトはNotFoundになること", func(t *testing.T) {
		t.Parallel()

		f := setupFixture(t)
		r := NewResolver(f.store, DefaultPolicy())

		_, err := r.Resolve(t.Context(), notification.KindEventScheduled, Context{ActorID: "A", ProjectID: "ghost"})
		if !errors.Is(err, apperror.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

// TestResolveSecurityUpdate はセキュリティ通知の宛先解決を検証する。
func TestResolveSecurityUpdate(t *testing.T) {
	t.Parallel()

	f := setupFixture(t)
	r := NewResolver(f.store, DefaultPolicy())

	t.Run("システムによる通知は本人に届くこと", func(t *testing.T) {
		t.Parallel()

		got, err := r.Resolve(t.Context(), notification.KindSecurityUpdate, Context{AffectedUserID: "B"})
		if err != nil {
			t.Fatalf("Resolve()でエラーが発生: %v", err)
		}
		if want := []string{"B"}; !slices.Equal(got.Sorted(), want) {
			t.Errorf("recipients = %v, want %v", got.Sorted(), want)
		}
	})

	t.Run("操作者と対象者が同じ場合は空集合になること", func(t *testing.T) {
		t.Parallel()

		got, err := r.Resolve(t.Context(), notification.KindSecurityUpdate, Context{ActorID: "B", AffectedUserID: "B"})
		if err != nil {
			t.Fatalf("Resolve()でエラーが発生: %v", err)
		}
		if got.Len() != 0 {
			t.Errorf("recipients = %v, want 空集合", got.Sorted())
		}
	})

	t.Run("不明な種類はValidationになること", func(t *testing.T) {
		t.Parallel()

		if _, err := r.Resolve(t.Context(), "UNKNOWN", Context{}); !errors.Is(err, apperror.ErrValidation) {
			t.Errorf("err = %v, want ErrValidation", err)
		}
	})
}
