package presence

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nao1215/teamhub/internal/apperror"
	"github.com/nao1215/teamhub/pkg/middleware"
)

// DefaultBufferSize はセッションごとの送信キューの既定の長さ。
const DefaultBufferSize = 256

// DeliveryResult はセッション1件へのプッシュの結果。
type DeliveryResult string

const (
	// DeliveryDelivered は送信キューに積めたことを表す。
	DeliveryDelivered DeliveryResult = "delivered"
	// DeliveryDropped は送信キューが満杯または終了済みで破棄したことを表す。
	DeliveryDropped DeliveryResult = "dropped"
	// DeliveryOffline は宛先ユーザーのセッションがこのインスタンスに存在しないことを表す。
	DeliveryOffline DeliveryResult = "offline"
)

// Observer はセッション数と配信結果を受け取る。メトリクス収集に使う。
type Observer interface {
	SessionOpened()
	SessionClosed()
	Delivered(result DeliveryResult)
}

type nopObserver struct{}

func (nopObserver) SessionOpened() {}
func (nopObserver) SessionClosed() {}
func (nopObserver) Delivered(_ DeliveryResult) {}

// Option はRouterの設定を変更する。
type Option func(*Router)

// WithBufferSize はセッションごとの送信キューの長さを設定する。
func WithBufferSize(n int) Option {
	return func(r *Router) {
		if n > 0 {
			r.bufferSize = n
		}
	}
}

// WithObserver は配信結果の通知先を設定する。
func WithObserver(o Observer) Option {
	return func(r *Router) {
		if o != nil {
			r.observer = o
		}
	}
}

// WithRelay は他インスタンスへの中継を設定する。
func WithRelay(relay Relay) Option {
	return func(r *Router) { r.relay = relay }
}

// WithLogger はロガーを設定する。
func WithLogger(logger *zap.Logger) Option {
	return func(r *Router) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// Router はユーザーIDからライブセッションへの対応とルーム参加状態を保持する。
// プロセスの生存期間中、接続・切断・参加・退出のたびに更新される。
type Router struct {
	// verifier は接続時の認証情報を検証する。
	verifier middleware.TokenVerifier
	// instanceID は中継メッセージの送信元を識別するID。
	instanceID string
	bufferSize int
	observer   Observer
	relay      Relay
	logger     *zap.Logger

	mu sync.RWMutex
	// sessions はセッションIDからセッションへの対応。
	sessions map[string]*Session
	// rooms はルーム名から参加セッションの集合への対応。
	rooms map[string]map[*Session]struct{}
}

// NewRouter は新しいRouterを生成する。
func NewRouter(verifier middleware.TokenVerifier, opts ...Option) *Router {
	r := &Router{
		verifier:   verifier,
		instanceID: uuid.NewString(),
		bufferSize: DefaultBufferSize,
		observer:   nopObserver{},
		logger:     zap.NewNop(),
		sessions:   make(map[string]*Session),
		rooms:      make(map[string]map[*Session]struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// InstanceID はこのRouterの識別子を返す。
func (r *Router) InstanceID() string { return r.instanceID }

func userRoom(userID string) string { return "user:" + userID }

func taskRoom(taskID string) string { return "task:" + taskID }

// Connect は認証情報を検証し、ユーザールームに参加済みのセッションを生成する。
// 認証情報が空または不正な場合は apperror.ErrUnauthenticated を返し、セッションは作られない。
func (r *Router) Connect(ctx context.Context, credential string) (*Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if credential == "" {
		return nil, fmt.Errorf("認証情報がありません: %w", apperror.ErrUnauthenticated)
	}
	principal, err := r.verifier.Verify(credential)
	if err != nil {
		return nil, fmt.Errorf("認証情報の検証に失敗: %w", apperror.ErrUnauthenticated)
	}
	if principal.ID == "" {
		return nil, fmt.Errorf("トークンにユーザーIDがありません: %w", apperror.ErrUnauthenticated)
	}

	s := &Session{
		id:        uuid.NewString(),
		principal: principal,
		send:      make(chan []byte, r.bufferSize),
		done:      make(chan struct{}),
		rooms:     make(map[string]struct{}),
	}

	r.mu.Lock()
	r.sessions[s.id] = s
	r.joinLocked(s, userRoom(principal.ID))
	r.mu.Unlock()

	r.observer.SessionOpened()
	r.logger.Debug("セッション接続", zap.String("session_id", s.id), zap.String("user_id", principal.ID))
	return s, nil
}

// Disconnect はセッションを全てのルームから取り除き終了させる。何度呼んでもよい。
func (r *Router) Disconnect(s *Session) {
	if s == nil {
		return
	}

	r.mu.Lock()
	if _, ok := r.sessions[s.id]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.sessions, s.id)
	for room := range s.rooms {
		r.leaveLocked(s, room)
	}
	r.mu.Unlock()

	s.close()
	r.observer.SessionClosed()
	r.logger.Debug("セッション切断", zap.String("session_id", s.id), zap.String("user_id", s.UserID()))
}

// Close は全てのセッションを切断する。シャットダウン時に使う。
func (r *Router) Close() {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		r.Disconnect(s)
	}
}

// JoinRoom はセッションをタスクのルームに参加させる。
// 終了済みのセッションや認証ユーザーを持たないセッションでは何もしない。
func (r *Router) JoinRoom(s *Session, taskID string) {
	if s == nil || s.UserID() == "" || taskID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.id]; !ok {
		return
	}
	r.joinLocked(s, taskRoom(taskID))
}

// LeaveRoom はセッションをタスクのルームから退出させる。
func (r *Router) LeaveRoom(s *Session, taskID string) {
	if s == nil || s.UserID() == "" || taskID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[s.id]; !ok {
		return
	}
	r.leaveLocked(s, taskRoom(taskID))
}

func (r *Router) joinLocked(s *Session, room string) {
	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Session]struct{})
		r.rooms[room] = members
	}
	members[s] = struct{}{}
	s.rooms[room] = struct{}{}
}

func (r *Router) leaveLocked(s *Session, room string) {
	delete(s.rooms, room)
	members, ok := r.rooms[room]
	if !ok {
		return
	}
	delete(members, s)
	if len(members) == 0 {
		delete(r.rooms, room)
	}
}

// Deliver は宛先ユーザーの全てのライブセッションへイベントをプッシュし、積めたセッション数を返す。
// セッションが無い場合は何もしない。失敗が呼び出し元へ返ることはない。
func (r *Router) Deliver(ctx context.Context, recipientID, event string, data any) int {
	msg, err := encodeEnvelope(event, data)
	if err != nil {
		r.logger.Error("配信メッセージの生成に失敗", zap.String("user_id", recipientID), zap.Error(err))
		return 0
	}

	room := userRoom(recipientID)
	n := r.pushLocal(room, msg, "")
	if n == 0 && !r.hasRoom(room) {
		r.observer.Delivered(DeliveryOffline)
	}
	r.relayOut(ctx, room, "", msg)
	return n
}

// BroadcastToRoom はタスクルームの全セッションへイベントをプッシュする。
// exceptSessionIDが空でなければそのセッションは除く。
func (r *Router) BroadcastToRoom(ctx context.Context, taskID, event string, data any, exceptSessionID string) int {
	msg, err := encodeEnvelope(event, data)
	if err != nil {
		r.logger.Error("ブロードキャストメッセージの生成に失敗", zap.String("task_id", taskID), zap.Error(err))
		return 0
	}

	room := taskRoom(taskID)
	n := r.pushLocal(room, msg, exceptSessionID)
	r.relayOut(ctx, room, exceptSessionID, msg)
	return n
}

// Apply は他インスタンスから中継されたメッセージをローカルのセッションへ配る。
// 自分が送信元のメッセージは無視する。
func (r *Router) Apply(msg Message) int {
	if msg.Origin == r.instanceID {
		return 0
	}
	return r.pushLocal(msg.Room, msg.Payload, msg.Except)
}

// pushLocal は配信時点のルーム参加状態を読み取り、ロックの外で各セッションへ積む。
func (r *Router) pushLocal(room string, msg []byte, except string) int {
	r.mu.RLock()
	targets := make([]*Session, 0, len(r.rooms[room]))
	for s := range r.rooms[room] {
		if s.id != except {
			targets = append(targets, s)
		}
	}
	r.mu.RUnlock()

	delivered := 0
	for _, s := range targets {
		if s.push(msg) {
			delivered++
			r.observer.Delivered(DeliveryDelivered)
			continue
		}
		r.observer.Delivered(DeliveryDropped)
		r.logger.Warn("送信キューが満杯のためプッシュを破棄",
			zap.String("session_id", s.id),
			zap.String("user_id", s.UserID()),
			zap.String("room", room),
		)
	}
	return delivered
}

func (r *Router) hasRoom(room string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room]
	return ok
}

func (r *Router) relayOut(ctx context.Context, room, except string, msg []byte) {
	if r.relay == nil {
		return
	}
	err := r.relay.Publish(ctx, Message{Origin: r.instanceID, Room: room, Except: except, Payload: msg})
	if err != nil {
		r.logger.Warn("中継へのメッセージ送信に失敗", zap.String("room", room), zap.Error(err))
	}
}

// SessionsFor はユーザーのライブセッション数を返す。
func (r *Router) SessionsFor(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[userRoom(userID)])
}

// Online はユーザーがこのインスタンスにライブセッションを持つかどうかを返す。
func (r *Router) Online(userID string) bool {
	return r.SessionsFor(userID) > 0
}

// InRoom はセッションがタスクルームに参加しているかどうかを返す。
func (r *Router) InRoom(s *Session, taskID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := s.rooms[taskRoom(taskID)]
	return ok
}
