// Package fanout は確定した操作を受信者ごとの通知に展開し、記録とリアルタイム配信を行う。
//
// 処理は操作の確定後に行い、受信者の解決・記録・配信のいずれの失敗も操作の結果には影響しない。
// 受信者ごとに「記録してから配信する」順序を守り、受信者間は並行に処理する。
package fanout

import (
	"context"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/teamhub/internal/metrics"
	"github.com/nao1215/teamhub/internal/notification"
	"github.com/nao1215/teamhub/internal/presence"
	"github.com/nao1215/teamhub/internal/recipient"
	"github.com/nao1215/teamhub/internal/store"
	"github.com/nao1215/teamhub/pkg/event"
)

// DefaultConcurrency は受信者を並行に処理する既定の上限。
const DefaultConcurrency = 8

// Resolver は受信者の集合を求める。
type Resolver interface {
	Resolve(ctx context.Context, kind notification.Kind, rc recipient.Context) (recipient.Set, error)
}

// Recorder は受信者宛ての通知を記録する。
type Recorder interface {
	Record(ctx context.Context, recipientID, title, message string, payload notification.Payload) (*store.Notification, error)
}

// Deliverer はライブセッションへプッシュする。
type Deliverer interface {
	Deliver(ctx context.Context, recipientID, event string, data any) int
	BroadcastToRoom(ctx context.Context, taskID, event string, data any, exceptSessionID string) int
}

// Counter は記録件数と握りつぶした失敗を数える。
type Counter interface {
	NotificationRecorded(kind string)
	NotificationFailed(stage string)
}

// Emitter はドメインイベントを配信する。
type Emitter interface {
	Emit(ctx context.Context, aggregateID string, aggregateType event.AggregateType, eventType event.Type, actorID string, data any)
}

// RoomBroadcast はタスクルームへのブロードキャスト。
type RoomBroadcast struct {
	TaskID string
	Event  string
	Data   any
	// ExceptSessionID は配信から除くセッション。投稿者自身の画面など。
	ExceptSessionID string
}

// Notice は展開する1件の操作。
type Notice struct {
	// Context は受信者解決の入力。ActorIDは必ず受信者から除かれる。
	Context recipient.Context
	// Title と Message は全受信者に共通の通知文。
	Title   string
	Message string
	// Payload は通知の種類ごとのデータ。種類もここから決まる。
	Payload notification.Payload
	// Broadcast が設定されていればタスクルームへも配信する。
	Broadcast *RoomBroadcast
}

// Result は展開の結果。
type Result struct {
	// Recorded は記録できた通知。順序は不定。
	Recorded []*store.Notification
	// Failed は記録に失敗した受信者ID。
	Failed []string
	// ResolveErr は受信者の解決に失敗した場合のエラー。このとき通知は1件も作られない。
	ResolveErr error
}

type nopCounter struct{}

func (nopCounter) NotificationRecorded(string) {}
func (nopCounter) NotificationFailed(string) {}

// Option はDispatcherの設定を変更する。
type Option func(*Dispatcher)

// WithConcurrency は受信者を並行に処理する上限を設定する。
func WithConcurrency(n int) Option {
	return func(d *Dispatcher) {
		if n > 0 {
			d.concurrency = n
		}
	}
}

// WithBroadcast はタスクルームへのブロードキャストを行うかどうかを設定する。
func WithBroadcast(enabled bool) Option {
	return func(d *Dispatcher) { d.broadcast = enabled }
}

// WithCounter は件数の記録先を設定する。
func WithCounter(c Counter) Option {
	return func(d *Dispatcher) {
		if c != nil {
			d.counter = c
		}
	}
}

// WithEmitter は記録した通知のイベント配信先を設定する。
func WithEmitter(e Emitter) Option {
	return func(d *Dispatcher) { d.emitter = e }
}

// WithLogger はロガーを設定する。
func WithLogger(logger *zap.Logger) Option {
	return func(d *Dispatcher) {
		if logger != nil {
			d.logger = logger
		}
	}
}

// Dispatcher は通知の展開を行う。
type Dispatcher struct {
	resolver    Resolver
	recorder    Recorder
	deliverer   Deliverer
	counter     Counter
	emitter     Emitter
	logger      *zap.Logger
	concurrency int
	broadcast   bool

	// inflight はバックグラウンドで実行中の処理。
	inflight sync.WaitGroup
}

// New は新しいDispatcherを生成する。
func New(resolver Resolver, recorder Recorder, deliverer Deliverer, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		resolver:    resolver,
		recorder:    recorder,
		deliverer:   deliverer,
		counter:     nopCounter{},
		logger:      zap.NewNop(),
		concurrency: DefaultConcurrency,
		broadcast:   true,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch は展開をバックグラウンドで開始してすぐに戻る。
// リクエストのキャンセルでは中断されない。
func (d *Dispatcher) Dispatch(ctx context.Context, n Notice) {
	ctx = context.WithoutCancel(ctx)
	d.inflight.Go(func() { d.run(ctx, n) })
}

// DispatchSync は展開を同期的に行い、結果を返す。
func (d *Dispatcher) DispatchSync(ctx context.Context, n Notice) Result {
	return d.run(ctx, n)
}

// Go はメール送信などベストエフォートの副作用をバックグラウンドで実行する。
// エラーはnameとともにログに記録する。
func (d *Dispatcher) Go(ctx context.Context, name string, fn func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	d.inflight.Go(func() {
		if err := fn(ctx); err != nil {
			d.logger.Warn("バックグラウンド処理に失敗", zap.String("task", name), zap.Error(err))
		}
	})
}

// Wait は実行中のバックグラウンド処理が全て終わるまで待つ。
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

func (d *Dispatcher) run(ctx context.Context, n Notice) Result {
	if n.Broadcast != nil && d.broadcast {
		b := n.Broadcast
		d.deliverer.BroadcastToRoom(ctx, b.TaskID, b.Event, b.Data, b.ExceptSessionID)
	}

	if n.Payload == nil {
		return Result{}
	}
	kind := n.Payload.Kind()

	recipients, err := d.resolver.Resolve(ctx, kind, n.Context)
	if err != nil {
		d.counter.NotificationFailed(metrics.StageResolve)
		d.logger.Warn("通知の受信者解決に失敗",
			zap.String("kind", string(kind)),
			zap.String("actor_id", n.Context.ActorID),
			zap.Error(err),
		)
		return Result{ResolveErr: err}
	}

	var (
		mu     sync.Mutex
		result Result
		g      errgroup.Group
	)
	g.SetLimit(d.concurrency)
	for _, id := range recipients.Sorted() {
		g.Go(func() error {
			rec, ok := d.notify(ctx, id, kind, n)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				result.Recorded = append(result.Recorded, rec)
			} else {
				result.Failed = append(result.Failed, id)
			}
			return nil
		})
	}
	_ = g.Wait()
	return result
}

// notify は1人の受信者について記録してから配信する。記録に失敗した場合は配信しない。
func (d *Dispatcher) notify(ctx context.Context, recipientID string, kind notification.Kind, n Notice) (*store.Notification, bool) {
	rec, err := d.recorder.Record(ctx, recipientID, n.Title, n.Message, n.Payload)
	if err != nil {
		d.counter.NotificationFailed(metrics.StageRecord)
		d.logger.Error("通知の記録に失敗",
			zap.String("user_id", recipientID),
			zap.String("kind", string(kind)),
			zap.Error(err),
		)
		return nil, false
	}
	d.counter.NotificationRecorded(string(kind))

	d.deliverer.Deliver(ctx, recipientID, presence.EventNewNotification, rec)

	if d.emitter != nil {
		d.emitter.Emit(ctx, rec.ID, event.AggregateTypeNotification, event.TypeNotificationRecorded, n.Context.ActorID,
			event.NotificationRecordedData{UserID: recipientID, Kind: string(kind), Title: rec.Title})
	}
	return rec, true
}
