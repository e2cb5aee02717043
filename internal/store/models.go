package store

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx/types"
)

// Role はユーザーまたはチームメンバーの役割。
type Role string

const (
	// RoleMember は一般メンバー。
	RoleMember Role = "MEMBER"
	// RoleManager はチーム作成やプロジェクト管理ができるマネージャー。
	RoleManager Role = "MANAGER"
)

// Valid は定義済みの役割かどうかを返す。
func (r Role) Valid() bool {
	return r == RoleMember || r == RoleManager
}

// User はユーザー。
type User struct {
	ID           string    `db:"id" json:"id"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Name         string    `db:"name" json:"name"`
	Role         Role      `db:"role" json:"role"`
	Avatar       string    `db:"avatar" json:"avatar"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// Team はチーム。名前は一意。
type Team struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// TeamMember はチームの所属関係。
type TeamMember struct {
	TeamID    string    `db:"team_id" json:"teamId"`
	UserID    string    `db:"user_id" json:"userId"`
	Role      Role      `db:"role" json:"role"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
}

// MemberProfile はチームメンバーとユーザー情報を結合したもの。
type MemberProfile struct {
	UserID string `db:"user_id" json:"userId"`
	Name   string `db:"name" json:"name"`
	Email  string `db:"email" json:"email"`
	Avatar string `db:"avatar" json:"avatar"`
	Role   Role   `db:"role" json:"role"`
}

// Project はプロジェクト。TeamIDが空の場合はチームに属さない。
type Project struct {
	ID          string    `db:"id" json:"id"`
	Name        string    `db:"name" json:"name"`
	Description string    `db:"description" json:"description"`
	ManagerID   string    `db:"manager_id" json:"managerId"`
	TeamID      *string   `db:"team_id" json:"teamId"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// Task はタスク。プロジェクト削除後もタスクは残り、ProjectIDはnilになる。
type Task struct {
	ID          string    `db:"id" json:"id"`
	ProjectID   *string   `db:"project_id" json:"projectId"`
	Name        string    `db:"name" json:"name"`
	CreatedByID string    `db:"created_by_id" json:"createdById"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// Comment はタスクへのコメント。取得時は投稿者の名前とアバターを結合して返す。
type Comment struct {
	ID           string     `db:"id" json:"id"`
	TaskID       string     `db:"task_id" json:"taskId"`
	AuthorID     string     `db:"author_id" json:"authorId"`
	Content      string     `db:"content" json:"content"`
	Attachments  StringList `db:"attachments" json:"attachments"`
	CreatedAt    time.Time  `db:"created_at" json:"createdAt"`
	AuthorName   string     `db:"author_name" json:"authorName"`
	AuthorAvatar string     `db:"author_avatar" json:"authorAvatar"`
}

// EventType はカレンダーイベントの種類。
type EventType string

const (
	EventTypeMeeting  EventType = "MEETING"
	EventTypeDeadline EventType = "DEADLINE"
	EventTypeEvent    EventType = "EVENT"
)

// Valid は定義済みの種類かどうかを返す。
func (t EventType) Valid() bool {
	switch t {
	case EventTypeMeeting, EventTypeDeadline, EventTypeEvent:
		return true
	}
	return false
}

// CalendarEvent はカレンダーイベント。
type CalendarEvent struct {
	ID          string    `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	Type        EventType `db:"type" json:"type"`
	StartTime   time.Time `db:"start_time" json:"startTime"`
	EndTime     time.Time `db:"end_time" json:"endTime"`
	ProjectID   *string   `db:"project_id" json:"projectId"`
	CreatorID   string    `db:"creator_id" json:"creatorId"`
	CreatedAt   time.Time `db:"created_at" json:"createdAt"`
}

// InvitationStatus は招待の状態。
type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "PENDING"
	InvitationAccepted InvitationStatus = "ACCEPTED"
	InvitationDeclined InvitationStatus = "DECLINED"
)

// Invitation はメールアドレス宛てのチーム招待。(email, team) の組で一意。
type Invitation struct {
	ID        string           `db:"id" json:"id"`
	Email     string           `db:"email" json:"email"`
	TeamID    string           `db:"team_id" json:"teamId"`
	Role      Role             `db:"role" json:"role"`
	Token     string           `db:"token" json:"-"`
	Status    InvitationStatus `db:"status" json:"status"`
	InvitedBy string           `db:"invited_by" json:"invitedBy"`
	CreatedAt time.Time        `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time        `db:"updated_at" json:"updatedAt"`
}

// Notification は1人の受信者宛ての通知レコード。
// JSON表現はリアルタイム配信のペイロードとREST APIの両方で使う。
type Notification struct {
	ID        string         `db:"id" json:"id"`
	UserID    string         `db:"user_id" json:"userId"`
	Type      string         `db:"type" json:"type"`
	Title     string         `db:"title" json:"title"`
	Message   string         `db:"message" json:"message"`
	Data      types.JSONText `db:"data" json:"data"`
	IsRead    bool           `db:"is_read" json:"isRead"`
	CreatedAt time.Time      `db:"created_at" json:"createdAt"`
}

// StringList はJSON配列としてTEXT列に保存される文字列のスライス。
type StringList []string

// Value はdriver.Valuerの実装。
func (l StringList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(l))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan はsql.Scannerの実装。
func (l *StringList) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*l = StringList{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("StringListに変換できない型です: %T", src)
	}
	var out []string
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("StringListのデコードに失敗: %w", err)
	}
	*l = out
	return nil
}
