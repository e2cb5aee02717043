package presence

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

func init() {
	gin.SetMode(gin.TestMode)
}

// setupWSServer はWebSocketエンドポイントを持つテストサーバーを起動する。
func setupWSServer(t *testing.T) (*Router, *httptest.Server) {
	t.Helper()

	logger := zaptest.NewLogger(t)
	router := NewRouter(testVerifier, WithLogger(logger))
	settings := DefaultSettings()
	settings.AllowedOrigins = []string{"http://localhost:5173"}

	engine := gin.New()
	handler := NewHandler(router, settings, logger)
	handler.RegisterRoutes(engine)

	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	// httptest.Server.Close は切り替え済みの接続を待たないため、ループの終了はここで待つ
	t.Cleanup(func() {
		router.Close()
		handler.Wait()
	})
	return router, srv
}

// wsURL はテストサーバーのWebSocket URLを返す。
func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws" + query
}

// dial はWebSocketで接続する。
func dial(t *testing.T, url string, header http.Header) *websocket.Conn {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(url, header)
	if err != nil {
		t.Fatalf("WebSocket接続に失敗: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	return conn
}

// readEnvelope はメッセージを1件読む。
func readEnvelope(t *testing.T, conn *websocket.Conn) Envelope {
	t.Helper()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("メッセージの受信に失敗: %v", err)
	}
	return env
}

// sendEvent はイベントを送る。
func sendEvent(t *testing.T, conn *websocket.Conn, event, data string) {
	t.Helper()
	raw, _ := json.Marshal(data)
	if err := conn.WriteJSON(Envelope{Event: event, Data: raw}); err != nil {
		t.Fatalf("メッセージの送信に失敗: %v", err)
	}
}

// TestWebSocketHandshake は接続時の認証を検証する。
func TestWebSocketHandshake(t *testing.T) {
	t.Parallel()

	t.Run("トークンが無い場合は401で拒否されること", func(t *testing.T) {
		t.Parallel()

		_, srv := setupWSServer(t)
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
		if err == nil {
			t.Fatal("接続が拒否されませんでした")
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("ステータスコード: got %d, want %d", resp.StatusCode, http.StatusUnauthorized)
		}
	})

	t.Run("Authorizationヘッダーのトークンで接続できること", func(t *testing.T) {
		t.Parallel()

		router, srv := setupWSServer(t)
		header := http.Header{"Authorization": []string{"Bearer token-bob"}}
		dial(t, wsURL(srv, ""), header)

		if !router.Online("bob") {
			t.Error("Online(bob) = false, want true")
		}
	})

	t.Run("許可されていないOriginは拒否されること", func(t *testing.T) {
		t.Parallel()

		router, srv := setupWSServer(t)
		header := http.Header{"Origin": []string{"http://evil.example.com"}}
		_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token=token-alice"), header)
		if err == nil {
			t.Fatal("接続が拒否されませんでした")
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusForbidden {
			t.Errorf("ステータスコード: got %d, want %d", resp.StatusCode, http.StatusForbidden)
		}
		if router.Online("alice") {
			t.Error("拒否された接続のセッションが残っています")
		}
	})
}

// TestWebSocketDelivery は接続中のクライアントへの配信を検証する。
func TestWebSocketDelivery(t *testing.T) {
	t.Parallel()

	t.Run("2台の端末の両方に通知が届くこと", func(t *testing.T) {
		t.Parallel()

		router, srv := setupWSServer(t)
		laptop := dial(t, wsURL(srv, "?token=token-alice"), nil)
		phone := dial(t, wsURL(srv, "?token=token-alice"), nil)

		if n := router.Deliver(t.Context(), "alice", EventNewNotification, map[string]string{"type": "SECURITY_UPDATE"}); n != 2 {
			t.Fatalf("Deliver() = %d, want 2", n)
		}
		for _, conn := range []*websocket.Conn{laptop, phone} {
			env := readEnvelope(t, conn)
			if env.Event != EventNewNotification {
				t.Errorf("event = %q, want %q", env.Event, EventNewNotification)
			}
		}
	})

	t.Run("タスクルームに参加したクライアントだけがコメントを受け取ること", func(t *testing.T) {
		t.Parallel()

		router, srv := setupWSServer(t)
		viewer := dial(t, wsURL(srv, "?token=token-alice"), nil)
		outsider := dial(t, wsURL(srv, "?token=token-bob"), nil)

		sendEvent(t, viewer, EventJoinTask, "T1")
		if env := readEnvelope(t, viewer); env.Event != EventJoinedTask {
			t.Fatalf("event = %q, want %q", env.Event, EventJoinedTask)
		}

		router.BroadcastToRoom(t.Context(), "T1", EventNewComment, map[string]string{"id": "c1"}, "")
		router.Deliver(t.Context(), "bob", EventNewNotification, map[string]string{"id": "n1"})

		if env := readEnvelope(t, viewer); env.Event != EventNewComment {
			t.Errorf("viewer event = %q, want %q", env.Event, EventNewComment)
		}
		if env := readEnvelope(t, outsider); env.Event != EventNewNotification {
			t.Errorf("outsider event = %q, want %q", env.Event, EventNewNotification)
		}
	})

	t.Run("切断するとセッションが取り除かれること", func(t *testing.T) {
		t.Parallel()

		router, srv := setupWSServer(t)
		conn := dial(t, wsURL(srv, "?token=token-alice"), nil)
		conn.Close()

		deadline := time.Now().Add(2 * time.Second)
		for router.Online("alice") && time.Now().Before(deadline) {
			time.Sleep(10 * time.Millisecond)
		}
		if router.Online("alice") {
			t.Error("切断後もセッションが残っています")
		}
	})
}

// TestHandlerWait は切断後に送受信ループの終了を待てることを検証する。
func TestHandlerWait(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.DebugLevel)
	logger := zap.New(core)
	router := NewRouter(testVerifier, WithLogger(logger))
	handler := NewHandler(router, DefaultSettings(), logger)
	engine := gin.New()
	handler.RegisterRoutes(engine)
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)

	conn := dial(t, wsURL(srv, "?token=token-alice"), nil)
	dial(t, wsURL(srv, "?token=token-bob"), nil)

	router.Close()
	done := make(chan struct{})
	go func() {
		handler.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Wait()が送受信ループの終了を待ち続けている")
	}

	if got := logs.FilterMessage("セッション切断").Len(); got != 2 {
		t.Errorf("切断ログ数 = %d, want 2", got)
	}
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("ReadMessage() err = %v, want 正常終了のクローズ", err)
	}
}
