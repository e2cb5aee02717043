package store

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// CreateTeam はチームと初期メンバーを1つのトランザクションで作成する。
// creatorIDが空でなければ作成者をユーザー自身の役割でメンバーに加え、memberIDsはMEMBERとして加える。
// 同名のチームが存在する場合は apperror.ErrConflict を返す。memberIDsの重複は無視する。
func (s *Store) CreateTeam(ctx context.Context, t *Team, creatorID string, memberIDs []string) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	t.Name = strings.TrimSpace(t.Name)
	t.CreatedAt = s.now()

	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.NamedExecContext(ctx,
			"INSERT INTO teams (id, name, created_at) VALUES (:id, :name, :created_at)", t); err != nil {
			return translate(err, "チーム")
		}
		if creatorID != "" {
			var role Role
			if err := tx.GetContext(ctx, &role, "SELECT role FROM users WHERE id = ?", creatorID); err != nil {
				return translate(err, "ユーザー")
			}
			if err := addMember(ctx, tx, t.ID, creatorID, role, t.CreatedAt); err != nil {
				return err
			}
		}
		for _, userID := range memberIDs {
			if err := addMember(ctx, tx, t.ID, userID, RoleMember, t.CreatedAt); err != nil {
				return err
			}
		}
		return nil
	})
}

// addMember はメンバーを追加する。既に所属している場合は役割を変えない。
func addMember(ctx context.Context, ext sqlx.ExecerContext, teamID, userID string, role Role, at time.Time) error {
	_, err := ext.ExecContext(ctx, `
		INSERT INTO team_members (team_id, user_id, role, created_at) VALUES (?, ?, ?, ?)
		ON CONFLICT (team_id, user_id) DO NOTHING`, teamID, userID, role, at)
	return translate(err, "チームメンバー")
}

// GetTeam はIDでチームを取得する。
func (s *Store) GetTeam(ctx context.Context, id string) (*Team, error) {
	var t Team
	if err := s.db.GetContext(ctx, &t, "SELECT * FROM teams WHERE id = ?", id); err != nil {
		return nil, translate(err, "チーム")
	}
	return &t, nil
}

// GetTeamByName は名前でチームを取得する。
func (s *Store) GetTeamByName(ctx context.Context, name string) (*Team, error) {
	var t Team
	if err := s.db.GetContext(ctx, &t, "SELECT * FROM teams WHERE name = ?", strings.TrimSpace(name)); err != nil {
		return nil, translate(err, "チーム")
	}
	return &t, nil
}

// ListTeams は全チームを名前順に返す。searchが空でない場合は名前の部分一致で絞り込む。
func (s *Store) ListTeams(ctx context.Context, search string) ([]Team, error) {
	teams := []Team{}
	err := s.db.SelectContext(ctx, &teams,
		`SELECT * FROM teams WHERE name LIKE ? ESCAPE '\' ORDER BY name`, likePattern(search))
	return teams, translate(err, "チーム")
}

// ListTeamsForUser はユーザーが所属するチームを名前順に返す。
func (s *Store) ListTeamsForUser(ctx context.Context, userID, search string) ([]Team, error) {
	teams := []Team{}
	err := s.db.SelectContext(ctx, &teams, `
		SELECT t.* FROM teams t
		JOIN team_members m ON m.team_id = t.id
		WHERE m.user_id = ? AND t.name LIKE ? ESCAPE '\'
		ORDER BY t.name`, userID, likePattern(search))
	return teams, translate(err, "チーム")
}

// AddTeamMember はユーザーをチームに追加する。既に所属している場合は何もしない。
func (s *Store) AddTeamMember(ctx context.Context, teamID, userID string, role Role) error {
	if role == "" {
		role = RoleMember
	}
	return addMember(ctx, s.db, teamID, userID, role, s.now())
}

// IsTeamMember はユーザーがチームに所属しているかどうかを返す。
func (s *Store) IsTeamMember(ctx context.Context, teamID, userID string) (bool, error) {
	var n int
	err := s.db.GetContext(ctx, &n,
		"SELECT COUNT(*) FROM team_members WHERE team_id = ? AND user_id = ?", teamID, userID)
	if err != nil {
		return false, translate(err, "チームメンバー")
	}
	return n > 0, nil
}

// ListTeamMemberIDs はチームに所属するユーザーIDを返す。
// チームが存在しない場合は apperror.ErrNotFound を返す。
func (s *Store) ListTeamMemberIDs(ctx context.Context, teamID string) ([]string, error) {
	if _, err := s.GetTeam(ctx, teamID); err != nil {
		return nil, err
	}
	ids := []string{}
	err := s.db.SelectContext(ctx, &ids,
		"SELECT user_id FROM team_members WHERE team_id = ? ORDER BY user_id", teamID)
	return ids, translate(err, "チームメンバー")
}

// ListTeamMembers はチームメンバーのプロフィールを名前順に返す。
func (s *Store) ListTeamMembers(ctx context.Context, teamID string) ([]MemberProfile, error) {
	members := []MemberProfile{}
	err := s.db.SelectContext(ctx, &members, `
		SELECT u.id AS user_id, u.name, u.email, u.avatar, m.role
		FROM team_members m
		JOIN users u ON u.id = m.user_id
		WHERE m.team_id = ?
		ORDER BY u.name`, teamID)
	return members, translate(err, "チームメンバー")
}

// likeEscaper はLIKEのワイルドカードとエスケープ文字を文字どおりに扱わせる。
var likeEscaper = strings.NewReplacer(`\`, `\\`, "%", `\%`, "_", `\_`)

// likePattern は部分一致検索用のLIKEパターンを返す。ESCAPE '\' と組み合わせて使う。
func likePattern(search string) string {
	return "%" + likeEscaper.Replace(strings.TrimSpace(search)) + "%"
}
