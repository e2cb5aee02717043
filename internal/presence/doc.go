// Package presence はユーザーごとのライブ接続（セッション）を管理し、通知のリアルタイム配信を行う。
//
// 各セッションは接続時に自分のユーザーIDのルームへ参加し、任意でタスクIDのルームへ参加できる。
// 配信はベストエフォートで、送信キューが満杯のセッションへのプッシュは破棄される。
// 通知本体は永続化済みのため、取りこぼしは再接続後の一覧取得で回復できる。
//
// WebSocketエンドポイントは GET /ws で、クライアントは次の形式のメッセージを送受信する。
//
//	{"event": "join_task", "data": "<taskId>"}
//	{"event": "new_notification", "data": {...}}
package presence
