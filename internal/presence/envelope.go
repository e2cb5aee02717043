package presence

import (
	"encoding/json"
	"fmt"
)

// サーバーからクライアントへ送るイベント名。
const (
	// EventNewNotification は永続化された通知のプッシュ。
	EventNewNotification = "new_notification"
	// EventNewComment はタスクルームへのコメント追加のブロードキャスト。
	EventNewComment = "new_comment"
)

// クライアントからサーバーへ送るイベント名。
const (
	// EventJoinTask はタスクルームへの参加要求。dataはタスクID。
	EventJoinTask = "join_task"
	// EventLeaveTask はタスクルームからの退出要求。dataはタスクID。
	EventLeaveTask = "leave_task"
)

// Envelope はWebSocket上でやり取りするメッセージ。
type Envelope struct {
	// Event はイベント名。
	Event string `json:"event"`
	// Data はイベントごとのペイロード。
	Data json.RawMessage `json:"data"`
}

// encodeEnvelope はイベント名とデータをJSONにエンコードする。
func encodeEnvelope(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("イベント %s のデータのエンコードに失敗: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// taskID はjoin_task/leave_taskのdataからタスクIDを取り出す。
func (e Envelope) taskID() (string, bool) {
	var id string
	if err := json.Unmarshal(e.Data, &id); err != nil || id == "" {
		return "", false
	}
	return id, true
}
