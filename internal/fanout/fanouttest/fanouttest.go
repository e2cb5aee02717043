// Package fanouttest は機能ハンドラのテスト用に、インメモリストアと通知展開一式を組み立てる。
package fanouttest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/nao1215/teamhub/internal/eventbus"
	"github.com/nao1215/teamhub/internal/fanout"
	"github.com/nao1215/teamhub/internal/mail"
	"github.com/nao1215/teamhub/internal/notification"
	"github.com/nao1215/teamhub/internal/presence"
	"github.com/nao1215/teamhub/internal/recipient"
	"github.com/nao1215/teamhub/internal/store"
	"github.com/nao1215/teamhub/internal/store/storetest"
	"github.com/nao1215/teamhub/pkg/event"
	"github.com/nao1215/teamhub/pkg/middleware"
)

// Harness はテスト用に組み立てた依存一式。
type Harness struct {
	Store         *store.Store
	Notifications *notification.Service
	Router        *presence.Router
	Dispatcher    *fanout.Dispatcher
	Bus           *eventbus.Bus
	Events        *Publisher
	Mail          *Mailer
	JWT           *middleware.JWT
	Logger        *zap.Logger
}

// New はHarnessを組み立てる。テスト終了時にバックグラウンド処理の完了を待つ。
func New(t testing.TB) *Harness {
	t.Helper()

	s := storetest.New(t)
	logger := zaptest.NewLogger(t)
	jwt := middleware.NewJWT("test-secret", "teamhub", time.Hour)
	router := presence.NewRouter(jwt, presence.WithLogger(logger))
	service := notification.NewService(s)
	events := &Publisher{}
	bus := eventbus.NewBus(events, logger)
	d := fanout.New(recipient.NewResolver(s, recipient.DefaultPolicy()), service, router,
		fanout.WithEmitter(bus),
		fanout.WithLogger(logger),
	)
	t.Cleanup(bus.Wait)
	t.Cleanup(d.Wait)

	return &Harness{
		Store:         s,
		Notifications: service,
		Router:        router,
		Dispatcher:    d,
		Bus:           bus,
		Events:        events,
		Mail:          &Mailer{},
		JWT:           jwt,
		Logger:        logger,
	}
}

// Authenticate はX-User-IDヘッダーのユーザーをストアから読み込み、利用者として設定するミドルウェア。
// JWTミドルウェアの代わりに使う。
func (h *Harness) Authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader("X-User-ID"); id != "" {
			if u, err := h.Store.GetUser(c.Request.Context(), id); err == nil {
				middleware.SetPrincipal(c, middleware.Principal{ID: u.ID, Email: u.Email, Name: u.Name, Role: string(u.Role)})
			}
		}
		c.Next()
	}
}

// Connect はユーザーのライブセッションを接続する。
func (h *Harness) Connect(t testing.TB, userID string) *presence.Session {
	t.Helper()
	token, err := h.JWT.Issue(middleware.Principal{ID: userID})
	if err != nil {
		t.Fatalf("トークンの発行に失敗: %v", err)
	}
	s, err := h.Router.Connect(t.Context(), token)
	if err != nil {
		t.Fatalf("Connect()でエラーが発生: %v", err)
	}
	t.Cleanup(func() { h.Router.Disconnect(s) })
	return s
}

// Receive はセッションに届いた次のメッセージを返す。1秒以内に届かなければ失敗する。
func Receive(t testing.TB, s *presence.Session) presence.Envelope {
	t.Helper()
	select {
	case msg := <-s.Outbound():
		var env presence.Envelope
		if err := json.Unmarshal(msg, &env); err != nil {
			t.Fatalf("メッセージのパースに失敗: %v", err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatal("メッセージが届かない")
	}
	return presence.Envelope{}
}

// NotificationsFor はバックグラウンド処理の完了を待ってからユーザーの通知一覧を返す。
func (h *Harness) NotificationsFor(t testing.TB, userID string) []store.Notification {
	t.Helper()
	h.Dispatcher.Wait()
	list, err := h.Notifications.ListForUser(t.Context(), userID)
	if err != nil {
		t.Fatalf("ListForUser()でエラーが発生: %v", err)
	}
	return list
}

// EventTypes は通知展開とイベント配信の完了を待ってから、配信されたイベントの種類を記録順に返す。
func (h *Harness) EventTypes() []event.Type {
	h.Dispatcher.Wait()
	h.Bus.Wait()
	return h.Events.Types()
}

// Do はJSONボディ付きのリクエストを実行する。userIDが空でなければX-User-IDヘッダーを付ける。
func Do(t testing.TB, router http.Handler, method, path, userID string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("リクエストボディのエンコードに失敗: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set("X-User-ID", userID)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

// Decode はレスポンスボディをvにデコードする。
func Decode(t testing.TB, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("レスポンスのパースに失敗: %v (body=%s)", err, w.Body.String())
	}
}

// Publisher は配信されたイベントを記録する eventbus.Publisher。
type Publisher struct {
	mu     sync.Mutex
	events []*event.Event
}

// Publish はイベントを記録する。
func (p *Publisher) Publish(_ context.Context, e *event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

// Close は何もしない。
func (p *Publisher) Close() error { return nil }

// Types は記録したイベントの種類を記録順に返す。
func (p *Publisher) Types() []event.Type {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]event.Type, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

// Mailer は送信されたメールを記録する mail.Dispatcher。
type Mailer struct {
	mu       sync.Mutex
	messages []mail.Message
	// Err が設定されていれば送信は失敗する。
	Err error
}

// Send はメールを記録する。
func (m *Mailer) Send(_ context.Context, msg mail.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.messages = append(m.messages, msg)
	return nil
}

// Messages は記録したメールを返す。
func (m *Mailer) Messages() []mail.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]mail.Message(nil), m.messages...)
}
