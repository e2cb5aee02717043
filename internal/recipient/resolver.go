// Package recipient は通知の宛先となるユーザー集合を決定する。
//
// 宛先は通知の種類ごとにチームメンバー、プロジェクトマネージャー、明示的な対象者などを
// 和集合で求め、最後に操作したユーザー本人を取り除く。
package recipient

import (
	"context"
	"fmt"

	"github.com/nao1215/teamhub/internal/apperror"
	"github.com/nao1215/teamhub/internal/notification"
	"github.com/nao1215/teamhub/internal/store"
)

// Directory は宛先の解決に必要な参照操作。*store.Store が実装する。
type Directory interface {
	GetTask(ctx context.Context, id string) (*store.Task, error)
	GetProject(ctx context.Context, id string) (*store.Project, error)
	ListTeamMemberIDs(ctx context.Context, teamID string) ([]string, error)
}

// Source はコメント通知の宛先に含める集合の種類。
type Source string

const (
	// SourceTeam はプロジェクトのチームメンバー。
	SourceTeam Source = "team"
	// SourceManager はプロジェクトマネージャー。
	SourceManager Source = "manager"
)

// Policy は宛先の決め方。
type Policy struct {
	// CommentSources はコメント通知の宛先に含める集合。
	CommentSources []Source
}

// DefaultPolicy はチームメンバーとマネージャーの両方に通知する方針。
func DefaultPolicy() Policy {
	return Policy{CommentSources: []Source{SourceTeam, SourceManager}}
}

// PolicyFromStrings は設定値の文字列から方針を生成する。
func PolicyFromStrings(sources []string) Policy {
	p := Policy{CommentSources: make([]Source, 0, len(sources))}
	for _, s := range sources {
		p.CommentSources = append(p.CommentSources, Source(s))
	}
	return p
}

// includes は方針にsrcが含まれるかどうかを返す。
func (p Policy) includes(src Source) bool {
	for _, s := range p.CommentSources {
		if s == src {
			return true
		}
	}
	return false
}

// Context は宛先解決の入力。どのフィールドを参照するかは通知の種類で決まる。
type Context struct {
	// ActorID は操作したユーザー。宛先から必ず除外される。システムによる通知では空。
	ActorID string
	// TaskID はコメント通知の対象タスク。
	TaskID string
	// TargetUserIDs はチーム招待・チーム追加の対象ユーザー。
	TargetUserIDs []string
	// ProjectID はイベント通知の対象プロジェクト。空の場合はプロジェクトに紐付かない。
	ProjectID string
	// AttendeeIDs はイベント参加者。
	AttendeeIDs []string
	// AffectedUserID はセキュリティ通知の対象ユーザー。
	AffectedUserID string
}

// Resolver は通知の種類と文脈から宛先の集合を求める。
type Resolver struct {
	dir    Directory
	policy Policy
}

// NewResolver は新しいResolverを生成する。
func NewResolver(dir Directory, policy Policy) *Resolver {
	return &Resolver{dir: dir, policy: policy}
}

// Resolve は宛先の集合を返す。結果にActorIDが含まれることはない。
// 参照先のタスク・プロジェクト・チームが存在しない場合は apperror.ErrNotFound を返す。
func (r *Resolver) Resolve(ctx context.Context, kind notification.Kind, rc Context) (Set, error) {
	set := NewSet()

	switch kind {
	case notification.KindCommentAdded:
		if err := r.addCommentAudience(ctx, set, rc.TaskID); err != nil {
			return nil, err
		}
	case notification.KindTeamInvitation, notification.KindAddedToTeam:
		set.Add(rc.TargetUserIDs...)
	case notification.KindEventScheduled:
		if rc.ProjectID != "" {
			project, err := r.dir.GetProject(ctx, rc.ProjectID)
			if err != nil {
				return nil, fmt.Errorf("イベントのプロジェクト取得に失敗: %w", err)
			}
			if err := r.addTeam(ctx, set, project.TeamID); err != nil {
				return nil, err
			}
		}
		set.Add(rc.AttendeeIDs...)
	case notification.KindSecurityUpdate:
		set.Add(rc.AffectedUserID)
	default:
		return nil, fmt.Errorf("宛先を解決できない通知種別 %q: %w", kind, apperror.ErrValidation)
	}

	set.Remove(rc.ActorID)
	return set, nil
}

// addCommentAudience はタスクが属するプロジェクトのチームメンバーとマネージャーを方針に従って加える。
// タスクがプロジェクトに属していない場合（プロジェクト削除後を含む）は NotFound とする。
func (r *Resolver) addCommentAudience(ctx context.Context, set Set, taskID string) error {
	task, err := r.dir.GetTask(ctx, taskID)
	if err != nil {
		return fmt.Errorf("コメント対象タスクの取得に失敗: %w", err)
	}
	if task.ProjectID == nil {
		return fmt.Errorf("タスク %s のプロジェクトが見つかりません: %w", taskID, apperror.ErrNotFound)
	}
	project, err := r.dir.GetProject(ctx, *task.ProjectID)
	if err != nil {
		return fmt.Errorf("タスクのプロジェクト取得に失敗: %w", err)
	}

	if r.policy.includes(SourceTeam) {
		if err := r.addTeam(ctx, set, project.TeamID); err != nil {
			return err
		}
	}
	if r.policy.includes(SourceManager) {
		set.Add(project.ManagerID)
	}
	return nil
}

// addTeam はチームメンバーを加える。teamIDがnilの場合は何もしない。
func (r *Resolver) addTeam(ctx context.Context, set Set, teamID *string) error {
	if teamID == nil {
		return nil
	}
	members, err := r.dir.ListTeamMemberIDs(ctx, *teamID)
	if err != nil {
		return fmt.Errorf("チームメンバーの取得に失敗: %w", err)
	}
	set.Add(members...)
	return nil
}
