package presence

import (
	"sync"

	"github.com/nao1215/teamhub/pkg/middleware"
)

// Session はユーザーの1本のライブ接続。所有ユーザーは接続時に確定し、以後変わらない。
type Session struct {
	// id はセッションID。
	id string
	// principal は接続時に検証された認証主体。
	principal middleware.Principal
	// send は送信待ちのメッセージ。閉じることはなく、終了はdoneで通知する。
	send chan []byte
	// done はセッション終了時に閉じられる。
	done chan struct{}
	// closeOnce はdoneを一度だけ閉じるためのもの。
	closeOnce sync.Once
	// rooms は参加中のルーム。Routerのロック下で操作する。
	rooms map[string]struct{}
}

// ID はセッションIDを返す。
func (s *Session) ID() string { return s.id }

// UserID はセッションを所有するユーザーIDを返す。
func (s *Session) UserID() string { return s.principal.ID }

// Principal は接続時に検証された認証主体を返す。
func (s *Session) Principal() middleware.Principal { return s.principal }

// Outbound はクライアントへ送るメッセージのチャネルを返す。
func (s *Session) Outbound() <-chan []byte { return s.send }

// Done はセッション終了時に閉じられるチャネルを返す。
func (s *Session) Done() <-chan struct{} { return s.done }

// push はメッセージを送信キューに積む。終了済みまたはキューが満杯の場合はfalseを返す。
func (s *Session) push(msg []byte) bool {
	select {
	case <-s.done:
		return false
	default:
	}

	select {
	case s.send <- msg:
		return true
	default:
		return false
	}
}

// close はセッションを終了状態にする。複数回呼んでもよい。
func (s *Session) close() {
	s.closeOnce.Do(func() { close(s.done) })
}
