package notification

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nao1215/teamhub/internal/apperror"
)

// Kind は通知の種類。値はクライアントに配信されるtypeフィールドになる。
type Kind string

const (
	// KindCommentAdded はタスクへのコメント追加。
	KindCommentAdded Kind = "NEW_COMMENT"
	// KindTeamInvitation はチームへの招待。
	KindTeamInvitation Kind = "TEAM_INVITATION"
	// KindAddedToTeam はチーム作成時のメンバー追加。
	KindAddedToTeam Kind = "TEAM_CREATION"
	// KindEventScheduled はカレンダーイベントの登録。
	KindEventScheduled Kind = "EVENT"
	// KindSecurityUpdate はパスワード変更などのセキュリティ関連の変更。
	KindSecurityUpdate Kind = "SECURITY_UPDATE"
)

// Kinds は定義済みの全種類。
var Kinds = []Kind{KindCommentAdded, KindTeamInvitation, KindAddedToTeam, KindEventScheduled, KindSecurityUpdate}

// Valid は定義済みの種類かどうかを返す。
func (k Kind) Valid() bool {
	for _, known := range Kinds {
		if k == known {
			return true
		}
	}
	return false
}

// Payload は通知の種類ごとのデータ。種類とペイロードの型は1対1に対応する。
type Payload interface {
	// Kind はペイロードに対応する通知の種類を返す。
	Kind() Kind
}

// CommentAdded は KindCommentAdded のペイロード。
type CommentAdded struct {
	TaskID          string `json:"taskId"`
	CommentID       string `json:"commentId"`
	CommenterName   string `json:"commenterName"`
	CommenterAvatar string `json:"commenterAvatar"`
}

// Kind は Payload の実装。
func (CommentAdded) Kind() Kind { return KindCommentAdded }

// TeamInvitation は KindTeamInvitation のペイロード。Tokenは招待の承諾に使う。
type TeamInvitation struct {
	TeamID       string `json:"teamId"`
	TeamName     string `json:"teamName"`
	Token        string `json:"token"`
	InvitedBy    string `json:"invitedBy"`
	SenderAvatar string `json:"senderAvatar"`
}

// Kind は Payload の実装。
func (TeamInvitation) Kind() Kind { return KindTeamInvitation }

// AddedToTeam は KindAddedToTeam のペイロード。
type AddedToTeam struct {
	TeamID       string `json:"teamId"`
	TeamName     string `json:"teamName"`
	AddedBy      string `json:"addedBy"`
	SenderAvatar string `json:"senderAvatar"`
}

// Kind は Payload の実装。
func (AddedToTeam) Kind() Kind { return KindAddedToTeam }

// EventScheduled は KindEventScheduled のペイロード。
type EventScheduled struct {
	EventID     string    `json:"eventId"`
	Title       string    `json:"title"`
	StartTime   time.Time `json:"startTime"`
	ProjectID   string    `json:"projectId,omitempty"`
	ScheduledBy string    `json:"scheduledBy"`
}

// Kind は Payload の実装。
func (EventScheduled) Kind() Kind { return KindEventScheduled }

// SecurityUpdate は KindSecurityUpdate のペイロード。
type SecurityUpdate struct {
	// Action は変更の内容（例: "password_changed"）。
	Action string `json:"action"`
}

// Kind は Payload の実装。
func (SecurityUpdate) Kind() Kind { return KindSecurityUpdate }

// DecodePayload は保存されたJSONを種類に対応するペイロード型にデコードする。
func DecodePayload(kind Kind, raw []byte) (Payload, error) {
	switch kind {
	case KindCommentAdded:
		return decodeAs[CommentAdded](raw)
	case KindTeamInvitation:
		return decodeAs[TeamInvitation](raw)
	case KindAddedToTeam:
		return decodeAs[AddedToTeam](raw)
	case KindEventScheduled:
		return decodeAs[EventScheduled](raw)
	case KindSecurityUpdate:
		return decodeAs[SecurityUpdate](raw)
	default:
		return nil, fmt.Errorf("不明な通知種別 %q: %w", kind, apperror.ErrValidation)
	}
}

// decodeAs はrawをTとしてデコードする。
func decodeAs[T Payload](raw []byte) (Payload, error) {
	var p T
	if len(raw) == 0 {
		return p, nil
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("通知ペイロードのデコードに失敗: %w", err)
	}
	return p, nil
}
