// Package event はteamhubのドメインイベントを定義する。
//
// イベントは操作が確定した後に発行され、eventbus経由で外部へ配信される。
// Dataは種類ごとのデータ構造体をJSONにしたもの。
package event

import (
	"encoding/json"
	"time"
)

// AggregateType はイベントの対象となるエンティティの種類を表す。
type AggregateType string

const (
	// AggregateTypeComment はコメントを表す。
	AggregateTypeComment AggregateType = "Comment"
	// AggregateTypeTeam はチームを表す。
	AggregateTypeTeam AggregateType = "Team"
	// AggregateTypeInvitation はチーム招待を表す。
	AggregateTypeInvitation AggregateType = "Invitation"
	// AggregateTypeCalendarEvent はカレンダーイベントを表す。
	AggregateTypeCalendarEvent AggregateType = "CalendarEvent"
	// AggregateTypeUser はユーザーを表す。
	AggregateTypeUser AggregateType = "User"
	// AggregateTypeNotification は通知を表す。
	AggregateTypeNotification AggregateType = "Notification"
)

// Type はイベントの種類を表す。
type Type string

const (
	// TypeCommentCreated はタスクにコメントが投稿されたことを表す。
	TypeCommentCreated Type = "CommentCreated"
	// TypeTeamCreated はチームが作成されたことを表す。
	TypeTeamCreated Type = "TeamCreated"
	// TypeMembersInvited はチームへの招待が送られたことを表す。
	TypeMembersInvited Type = "MembersInvited"
	// TypeInvitationAccepted は招待が承諾されたことを表す。
	TypeInvitationAccepted Type = "InvitationAccepted"
	// TypeCalendarEventCreated はカレンダーイベントが登録されたことを表す。
	TypeCalendarEventCreated Type = "CalendarEventCreated"
	// TypePasswordChanged はパスワードが変更されたことを表す。
	TypePasswordChanged Type = "PasswordChanged"
	// TypeNotificationRecorded は通知が永続化されたことを表す。
	TypeNotificationRecorded Type = "NotificationRecorded"
)

// Event は確定した操作を表す不変のレコード。
type Event struct {
	// ID はイベントの一意識別子（UUID）。
	ID string `json:"id"`
	// AggregateID は対象エンティティの識別子。Kafkaのメッセージキーに使う。
	AggregateID string `json:"aggregate_id"`
	// AggregateType は対象エンティティの種類。
	AggregateType AggregateType `json:"aggregate_type"`
	// EventType はイベントの種類。
	EventType Type `json:"event_type"`
	// ActorID は操作したユーザーのID。システムによる操作では空。
	ActorID string `json:"actor_id,omitempty"`
	// Data はイベント固有のデータ（JSON形式）。
	Data json.RawMessage `json:"data"`
	// CreatedAt はイベントが作成された日時。
	CreatedAt time.Time `json:"created_at"`
}

// CommentCreatedData はCommentCreatedイベントのデータ。
type CommentCreatedData struct {
	TaskID   string `json:"task_id"`
	AuthorID string `json:"author_id"`
}

// TeamCreatedData はTeamCreatedイベントのデータ。
type TeamCreatedData struct {
	// Name はチーム名。
	Name string `json:"name"`
	// MemberIDs は作成時に追加されたメンバー。
	MemberIDs []string `json:"member_ids"`
}

// MembersInvitedData はMembersInvitedイベントのデータ。
type MembersInvitedData struct {
	TeamID string   `json:"team_id"`
	Emails []string `json:"emails"`
}

// InvitationAcceptedData はInvitationAcceptedイベントのデータ。
type InvitationAcceptedData struct {
	TeamID string `json:"team_id"`
	UserID string `json:"user_id"`
}

// CalendarEventCreatedData はCalendarEventCreatedイベントのデータ。
type CalendarEventCreatedData struct {
	// ProjectID はイベントが属するプロジェクト。無い場合は空。
	ProjectID string `json:"project_id,omitempty"`
	// AttendeeIDs は参加者。
	AttendeeIDs []string `json:"attendee_ids"`
	// StartTime は開始日時。
	StartTime time.Time `json:"start_time"`
}

// PasswordChangedData はPasswordChangedイベントのデータ。
type PasswordChangedData struct {
	UserID string `json:"user_id"`
}

// NotificationRecordedData はNotificationRecordedイベントのデータ。
type NotificationRecordedData struct {
	// UserID は通知先のユーザーID。
	UserID string `json:"user_id"`
	// Kind は通知の種類。
	Kind string `json:"kind"`
	// Title は通知のタイトル。
	Title string `json:"title"`
}
