package store_test

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/nao1215/teamhub/internal/apperror"
	"github.com/nao1215/teamhub/internal/store"
	"github.com/nao1215/teamhub/internal/store/storetest"
)

// fixedClock は呼び出すたびに1秒ずつ進む時計を返す。
func fixedClock() func() time.Time {
	base := time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)
	var n int
	return func() time.Time {
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

// TestUsers はユーザーの作成と取得を検証する。
func TestUsers(t *testing.T) {
	t.Parallel()

	t.Run("メールアドレスが重複する場合Conflictになること", func(t *testing.T) {
		t.Parallel()

		s := storetest.New(t)
		storetest.User(t, s, "alice", store.RoleMember)

		err := s.CreateUser(t.Context(), &store.User{Email: "ALICE@example.com", PasswordHash: "x", Name: "dup"})
		if !errors.Is(err, apperror.ErrConflict) {
			t.Errorf("err = %v, want ErrConflict", err)
		}
	})

	t.Run("メールアドレスは大文字小文字を区別せず検索できること", func(t *testing.T) {
		t.Parallel()

		s := storetest.New(t)
		storetest.User(t, s, "bob", store.RoleManager)

		u, err := s.GetUserByEmail(t.Context(), "  BOB@Example.com ")
		if err != nil {
			t.Fatalf("GetUserByEmail()でエラーが発生: %v", err)
		}
		if u.ID != "bob" || u.Role != store.RoleManager {
			t.Errorf("user = %+v, want id=bob role=MANAGER", u)
		}
	})

	t.Run("存在しないユーザーはNotFoundになること", func(t *testing.T) {
		t.Parallel()

		s := storetest.New(t)
		if _, err := s.GetUser(t.Context(), "ghost"); !errors.Is(err, apperror.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("ID集合で検索すると存在するユーザーだけ返ること", func(t *testing.T) {
		t.Parallel()

		s := storetest.New(t)
		storetest.User(t, s, "a", store.RoleMember)
		storetest.User(t, s, "b", store.RoleMember)

		users, err := s.ListUsersByIDs(t.Context(), []string{"a", "b", "ghost"})
		if err != nil {
			t.Fatalf("ListUsersByIDs()でエラーが発生: %v", err)
		}
		if len(users) != 2 {
			t.Errorf("件数 = %d, want 2", len(users))
		}
	})
}

// TestTeams はチームとメンバーの操作を検証する。
func TestTeams(t *testing.T) {
	t.Parallel()

	t.Run("同名のチームはConflictになること", func(t *testing.T) {
		t.Parallel()

		s := storetest.New(t)
		storetest.Team(t, s, "core")

		err := s.CreateTeam(t.Context(), &store.Team{Name: "core"}, "", nil)
		if !errors.Is(err, apperror.ErrConflict) {
			t.Errorf("err = %v, want ErrConflict", err)
		}
	})

	t.Run("重複したメンバーIDは1件として登録されること", func(t *testing.T) {
		t.Parallel()

		s := storetest.New(t)
		storetest.User(t, s, "x", store.RoleMember)
		storetest.User(t, s, "y", store.RoleMember)
		team := storetest.Team(t, s, "dup", "x", "y", "x")

		ids, err := s.ListTeamMemberIDs(t.Context(), team.ID)
		if err != nil {
			t.Fatalf("ListTeamMemberIDs()でエラーが発生: %v", err)
		}
		if len(ids) != 2 || ids[0] != "x" || ids[1] != "y" {
			t.Errorf("ids = %v, want [x y]", ids)
		}
	})

	t.Run("存在しないユーザーを含む場合チームは作成されないこと", func(t *testing.T) {
		t.Parallel()

		s := storetest.New(t)
		err := s.CreateTeam(t.Context(), &store.Team{Name: "broken"}, "", []string{"ghost"})
		if !errors.Is(err, apperror.ErrNotFound) {
			t.Fatalf("err = %v, want ErrNotFound", err)
		}
		if _, err := s.GetTeamByName(t.Context(), "broken"); !errors.Is(err, apperror.ErrNotFound) {
			t.Errorf("ロールバックされていない: %v", err)
		}
	})

	t.Run("存在しないチームのメンバー取得はNotFoundになること", func(t *testing.T) {
		t.Parallel()

		s := storetest.New(t)
		if _, err := s.ListTeamMemberIDs(t.Context(), "ghost"); !errors.Is(err, apperror.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})

	t.Run("所属チームだけが検索語で絞り込まれて返ること", func(t *testing.T) {
		t.Parallel()

		s := storetest.New(t)
		storetest.User(t, s, "m", store.RoleMember)
		storetest.Team(t, s, "alpha", "m")
		storetest.Team(t, s, "alphabet")
		storetest.Team(t, s, "beta", "m")

		teams, err := s.ListTeamsForUser(t.Context(), "m", "alp")
		if err != nil {
			t.Fatalf("ListTeamsForUser()でエラーが発生: %v", err)
		}
		if len(teams) != 1 || teams[0].Name != "alpha" {
			t.Errorf("teams = %+v, want [alpha]", teams)
		}

		all, err := s.ListTeams(t.Context(), "")
		if err != nil {
			t.Fatalf("ListTeams()でエラーが発生: %v", err)
		}
		if len(all) != 3 {
			t.Errorf("全チーム数 = %d, want 3", len(all))
		}
	})

	t.Run("検索語のワイルドカードは文字どおりに一致すること", func(t *testing.T) {
		t.Parallel()

		s := storetest.New(t)
		storetest.Team(t, s, "dev_ops")
		storetest.Team(t, s, "devXops")
		storetest.Team(t, s, "100%")
		storetest.Team(t, s, "1000")

		tests := []struct {
			search string
			want   []string
		}{
			{search: "dev_ops", want: []string{"dev_ops"}},
			{search: "_", want: []string{"dev_ops"}},
			{search: "100%", want: []string{"100%"}},
			{search: "ops", want: []string{"devXops", "dev_ops"}},
		}
		for _, tt := range tests {
			teams, err := s.ListTeams(t.Context(), tt.search)
			if err != nil {
				t.Fatalf("ListTeams(%q)でエラーが発生: %v", tt.search, err)
			}
			var got []string
			for _, team := range teams {
				got = append(got, team.Name)
			}
			if !slices.Equal(got, tt.want) {
				t.Errorf("ListTeams(%q) = %v, want %v", tt.search, got, tt.want)
			}
		}
	})

	t.Run("作成者はユーザー自身の役割でメンバーになること", func(t *testing.T) {
		t.Parallel()

		s := storetest.New(t)
		storetest.User(t, s, "mgr", store.RoleManager)
		storetest.User(t, s, "dev", store.RoleMember)
		team := &store.Team{Name: "core"}
		if err := s.CreateTeam(t.Context(), team, "mgr", []string{"dev", "mgr"}); err != nil {
			t.Fatalf("CreateTeam()でエラーが発生: %v", err)
		}

		members, err := s.ListTeamMembers(t.Context(), team.ID)
		if err != nil {
			t.Fatalf("ListTeamMembers()でエラーが発生: %v", err)
		}
		roles := map[string]store.Role{}
		for _, m := range members {
			roles[m.UserID] = m.Role
		}
		if len(roles) != 2 || roles["mgr"] != store.RoleManager || roles["dev"] != store.RoleMember {
			t.Errorf("roles = %v, want map[dev:MEMBER mgr:MANAGER]", roles)
		}
	})

	t.Run("存在しない作成者ではチームは作成されないこと", func(t *testing.T) {
		t.Parallel()

		s := storetest.New(t)
		err := s.CreateTeam(t.Context(), &store.Team{Name: "orphan"}, "ghost", nil)
		if !errors.Is(err, apperror.ErrNotFound) {
			t.Errorf("err = %v, want ErrNotFound", err)
		}
	})
}

// TestProjectsAndTasks はプロジェクト削除時にタスクが残ることを検証する。
func TestProjectsAndTasks(t *testing.T) {
	t.Parallel()

	s := storetest.New(t)
	storetest.User(t, s, "mgr", store.RoleManager)
	project := storetest.Project(t, s, "mgr", "")
	task := storetest.Task(t, s, project.ID, "mgr")

	if err := s.DeleteProject(t.Context(), project.ID); err != nil {
		t.Fatalf("DeleteProject()でエラーが発生: %v", err)
	}

	got, err := s.GetTask(t.Context(), task.ID)
	if err != nil {
		t.Fatalf("GetTask()でエラーが発生: %v", err)
	}
	if got.ProjectID != nil {
		t.Errorf("ProjectID = %v, want nil", *got.ProjectID)
	}
	if err := s.DeleteProject(t.Context(), project.ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("2回目の削除: err = %v, want ErrNotFound", err)
	}
}

// TestComments はコメントの作成と一覧取得を検証する。
func TestComments(t *testing.T) {
	t.Parallel()

	s := storetest.New(t)
	s.SetClock(fixedClock())
	storetest.User(t, s, "author", store.RoleMember)
	task := storetest.Task(t, s, "", "author")

	first := &store.Comment{TaskID: task.ID, AuthorID: "author", Content: "first", Attachments: store.StringList{"a.png"}}
	if err := s.CreateComment(t.Context(), first); err != nil {
		t.Fatalf("CreateComment()でエラーが発生: %v", err)
	}
	if first.AuthorName != "author" {
		t.Errorf("AuthorName = %q, want %q", first.AuthorName, "author")
	}
	second := &store.Comment{TaskID: task.ID, AuthorID: "author", Content: "second"}
	if err := s.CreateComment(t.Context(), second); err != nil {
		t.Fatalf("CreateComment()でエラーが発生: %v", err)
	}

	comments, err := s.ListComments(t.Context(), task.ID)
	if err != nil {
		t.Fatalf("ListComments()でエラーが発生: %v", err)
	}
	if len(comments) != 2 || comments[0].Content != "second" {
		t.Fatalf("comments = %+v, want second を先頭に2件", comments)
	}
	if len(comments[1].Attachments) != 1 || comments[1].Attachments[0] != "a.png" {
		t.Errorf("Attachments = %v, want [a.png]", comments[1].Attachments)
	}
	if len(comments[0].Attachments) != 0 {
		t.Errorf("添付なしのコメントのAttachments = %v, want []", comments[0].Attachments)
	}

	if err := s.CreateComment(t.Context(), &store.Comment{TaskID: "ghost", AuthorID: "author", Content: "x"}); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("存在しないタスクへのコメント: err = %v, want ErrNotFound", err)
	}
}

// TestCalendarEvents はイベントの参加者と期間検索を検証する。
func TestCalendarEvents(t *testing.T) {
	t.Parallel()

	s := storetest.New(t)
	for _, id := range []string{"creator", "att", "member", "outsider"} {
		storetest.User(t, s, id, store.RoleMember)
	}
	team := storetest.Team(t, s, "ev-team", "member")
	project := storetest.Project(t, s, "creator", team.ID)

	start := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	ev := &store.CalendarEvent{
		Title:     "kickoff",
		Type:      store.EventTypeMeeting,
		StartTime: start,
		EndTime:   start.Add(time.Hour),
		ProjectID: &project.ID,
		CreatorID: "creator",
	}
	if err := s.CreateEvent(t.Context(), ev, []string{"creator", "att", "att"}); err != nil {
		t.Fatalf("CreateEvent()でエラーが発生: %v", err)
	}

	attendees, err := s.ListEventAttendeeIDs(t.Context(), ev.ID)
	if err != nil {
		t.Fatalf("ListEventAttendeeIDs()でエラーが発生: %v", err)
	}
	if len(attendees) != 2 {
		t.Errorf("参加者数 = %d, want 2", len(attendees))
	}

	for _, tt := range []struct {
		user string
		want int
	}{
		{user: "att", want: 1},
		{user: "member", want: 1},
		{user: "outsider", want: 0},
	} {
		events, err := s.ListEventsForUser(t.Context(), tt.user, store.EventRange{})
		if err != nil {
			t.Fatalf("ListEventsForUser(%s)でエラーが発生: %v", tt.user, err)
		}
		if len(events) != tt.want {
			t.Errorf("%s のイベント数 = %d, want %d", tt.user, len(events), tt.want)
		}
	}

	later := start.Add(2 * time.Hour)
	events, err := s.ListEventsForUser(t.Context(), "att", store.EventRange{Start: &later})
	if err != nil {
		t.Fatalf("期間指定のListEventsForUser()でエラーが発生: %v", err)
	}
	if len(events) != 0 {
		t.Errorf("開始時刻より後を指定したイベント数 = %d, want 0", len(events))
	}
}

// TestInvitations は招待のupsertを検証する。
func TestInvitations(t *testing.T) {
	t.Parallel()

	s := storetest.New(t)
	storetest.User(t, s, "mgr", store.RoleManager)
	team := storetest.Team(t, s, "inv-team")

	inv := &store.Invitation{Email: "New@Example.com", TeamID: team.ID, Token: "t1", InvitedBy: "mgr"}
	if err := s.UpsertInvitation(t.Context(), inv); err != nil {
		t.Fatalf("UpsertInvitation()でエラーが発生: %v", err)
	}
	if err := s.UpdateInvitationStatus(t.Context(), inv.ID, store.InvitationDeclined); err != nil {
		t.Fatalf("UpdateInvitationStatus()でエラーが発生: %v", err)
	}

	again := &store.Invitation{Email: "new@example.com", TeamID: team.ID, Token: "t2", InvitedBy: "mgr", Role: store.RoleManager}
	if err := s.UpsertInvitation(t.Context(), again); err != nil {
		t.Fatalf("2回目のUpsertInvitation()でエラーが発生: %v", err)
	}
	if again.ID != inv.ID {
		t.Errorf("ID = %q, want %q（同じ招待が更新されるべき）", again.ID, inv.ID)
	}
	if again.Status != store.InvitationPending || again.Role != store.RoleManager {
		t.Errorf("status=%s role=%s, want PENDING MANAGER", again.Status, again.Role)
	}
	if _, err := s.GetInvitationByToken(t.Context(), "t1"); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("古いトークン: err = %v, want ErrNotFound", err)
	}
}

// TestNotifications は通知の記録・一覧・既読・削除を検証する。
func TestNotifications(t *testing.T) {
	t.Parallel()

	s := storetest.New(t)
	s.SetClock(fixedClock())
	storetest.User(t, s, "u1", store.RoleMember)
	storetest.User(t, s, "u2", store.RoleMember)

	var created []*store.Notification
	for _, title := range []string{"old", "mid", "new"} {
		n := &store.Notification{UserID: "u1", Type: "NEW_COMMENT", Title: title, Message: title}
		if err := s.CreateNotification(t.Context(), n); err != nil {
			t.Fatalf("CreateNotification()でエラーが発生: %v", err)
		}
		created = append(created, n)
	}

	list, err := s.ListNotifications(t.Context(), "u1")
	if err != nil {
		t.Fatalf("ListNotifications()でエラーが発生: %v", err)
	}
	if len(list) != 3 || list[0].Title != "new" || list[2].Title != "old" {
		t.Fatalf("list = %+v, want new→old の3件", list)
	}
	if list[0].IsRead || string(list[0].Data) != "{}" {
		t.Errorf("IsRead=%v Data=%s, want false {}", list[0].IsRead, list[0].Data)
	}

	if err := s.MarkNotificationRead(t.Context(), created[0].ID); err != nil {
		t.Fatalf("MarkNotificationRead()でエラーが発生: %v", err)
	}
	unread, err := s.CountUnreadNotifications(t.Context(), "u1")
	if err != nil {
		t.Fatalf("CountUnreadNotifications()でエラーが発生: %v", err)
	}
	if unread != 2 {
		t.Errorf("未読数 = %d, want 2", unread)
	}

	n, err := s.MarkAllNotificationsRead(t.Context(), "u1")
	if err != nil {
		t.Fatalf("MarkAllNotificationsRead()でエラーが発生: %v", err)
	}
	if n != 2 {
		t.Errorf("更新件数 = %d, want 2", n)
	}

	if err := s.DeleteNotification(t.Context(), created[1].ID); err != nil {
		t.Fatalf("DeleteNotification()でエラーが発生: %v", err)
	}
	if err := s.DeleteNotification(t.Context(), created[1].ID); !errors.Is(err, apperror.ErrNotFound) {
		t.Errorf("2回目の削除: err = %v, want ErrNotFound", err)
	}

	other, err := s.ListNotifications(t.Context(), "u2")
	if err != nil {
		t.Fatalf("ListNotifications(u2)でエラーが発生: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("u2の通知数 = %d, want 0", len(other))
	}
}
