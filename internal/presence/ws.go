package presence

import (
	"encoding/json"
	"net/http"
	"slices"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/nao1215/teamhub/internal/apperror"
	"github.com/nao1215/teamhub/pkg/middleware"
)

// ルーム参加・退出の応答イベント名。
const (
	EventJoinedTask = "joined_task"
	EventLeftTask   = "left_task"
)

// Settings はWebSocket接続の設定。
type Settings struct {
	// PingInterval はPingを送る間隔。PongWaitより短くする。
	PingInterval time.Duration
	// WriteDeadline は1回の書き込みの期限。
	WriteDeadline time.Duration
	// PongWait はPongを待つ期限。これを過ぎると切断する。
	PongWait time.Duration
	// MaxMessageSize は受信メッセージの最大サイズ（バイト）。
	MaxMessageSize int64
	// InboundRPS と InboundBurst はクライアントからの受信メッセージの流量制限。超過分は破棄する。
	InboundRPS   float64
	InboundBurst int
	// AllowedOrigins は接続を許可するOrigin。"*" は全て許可する。
	AllowedOrigins []string
}

// DefaultSettings は既定の接続設定を返す。
func DefaultSettings() Settings {
	return Settings{
		PingInterval:   25 * time.Second,
		WriteDeadline:  10 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 64 * 1024,
		InboundRPS:     10,
		InboundBurst:   20,
	}
}

// withDefaults はゼロ値の項目を既定値で埋める。
func (s Settings) withDefaults() Settings {
	d := DefaultSettings()
	if s.PingInterval <= 0 {
		s.PingInterval = d.PingInterval
	}
	if s.WriteDeadline <= 0 {
		s.WriteDeadline = d.WriteDeadline
	}
	if s.PongWait <= 0 {
		s.PongWait = d.PongWait
	}
	if s.InboundRPS <= 0 {
		s.InboundRPS = d.InboundRPS
	}
	if s.InboundBurst <= 0 {
		s.InboundBurst = d.InboundBurst
	}
	return s
}

// Handler はWebSocketエンドポイントのハンドラ。
type Handler struct {
	// router はセッションの登録先。
	router *Router
	// settings は接続設定。
	settings Settings
	// origins は接続を許可するOrigin。
	origins middleware.OriginMatcher
	// upgrader はHTTP接続をWebSocketへ切り替える。
	upgrader websocket.Upgrader
	// logger はハンドラのロガー。
	logger *zap.Logger
	// pumps は実行中の送受信ループ。
	pumps sync.WaitGroup
}

// NewHandler は新しいWebSocketハンドラを生成する。
func NewHandler(router *Router, settings Settings, logger *zap.Logger) *Handler {
	h := &Handler{
		router:   router,
		settings: settings.withDefaults(),
		origins:  middleware.NewOriginMatcher(settings.AllowedOrigins),
		logger:   logger,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// RegisterRoutes はWebSocketエンドポイントを登録する。
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET("/ws", h.handleWS())
}

// checkOrigin はOriginヘッダーが許可リストに含まれるかを判定する。ブラウザ以外（Originなし）は許可する。
func (h *Handler) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || h.origins.Allowed(origin)
}

// handleWS はOriginと認証情報を検証してからWebSocketへ切り替え、送受信ループを開始するハンドラ。
// 認証情報はクエリの token または Authorization: Bearer ヘッダーから取得する。
func (h *Handler) handleWS() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			token, _ = middleware.BearerToken(c.GetHeader("Authorization"))
		}

		if !h.checkOrigin(c.Request) {
			c.JSON(http.StatusForbidden, gin.H{"error": "許可されていないOriginです"})
			return
		}

		s, err := h.router.Connect(c.Request.Context(), token)
		if err != nil {
			c.JSON(apperror.HTTPStatus(err), gin.H{"error": "無効な認証トークンです"})
			return
		}

		// クライアントが応答を受け取る前に数える
		h.pumps.Add(1)
		defer h.pumps.Done()

		conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			h.router.Disconnect(s)
			h.logger.Warn("WebSocketへの切り替えに失敗", zap.String("user_id", s.UserID()), zap.Error(err))
			return
		}

		h.pumps.Go(func() { h.writePump(conn, s) })
		h.readPump(conn, s)
	}
}

// Wait は全ての接続の送受信ループが終わるまで待つ。
// Router.Close でセッションを切断した後に呼ぶ。
func (h *Handler) Wait() {
	h.pumps.Wait()
}

// readPump はクライアントからのメッセージを読み、ルームの参加・退出を処理する。
// 読み込みが失敗した時点でセッションを切断する。
func (h *Handler) readPump(conn *websocket.Conn, s *Session) {
	defer func() {
		h.router.Disconnect(s)
		_ = conn.Close()
	}()

	if h.settings.MaxMessageSize > 0 {
		conn.SetReadLimit(h.settings.MaxMessageSize)
	}
	_ = conn.SetReadDeadline(time.Now().Add(h.settings.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.settings.PongWait))
	})

	limiter := rate.NewLimiter(rate.Limit(h.settings.InboundRPS), h.settings.InboundBurst)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("WebSocketの読み込みエラー", zap.String("session_id", s.ID()), zap.Error(err))
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.settings.PongWait))

		if !limiter.Allow() {
			h.logger.Debug("受信メッセージの流量制限により破棄", zap.String("session_id", s.ID()))
			continue
		}

		var env Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		h.handleInbound(s, env)
	}
}

// handleInbound はクライアントからのイベントを処理する。未知のイベントは無視する。
func (h *Handler) handleInbound(s *Session, env Envelope) {
	if !slices.Contains([]string{EventJoinTask, EventLeaveTask}, env.Event) {
		return
	}
	taskID, ok := env.taskID()
	if !ok {
		return
	}

	ack := EventJoinedTask
	if env.Event == EventJoinTask {
		h.router.JoinRoom(s, taskID)
	} else {
		h.router.LeaveRoom(s, taskID)
		ack = EventLeftTask
	}

	if msg, err := encodeEnvelope(ack, taskID); err == nil {
		s.push(msg)
	}
}

// writePump は送信キューのメッセージとPingをクライアントへ書き込む。
func (h *Handler) writePump(conn *websocket.Conn, s *Session) {
	ticker := time.NewTicker(h.settings.PingInterval)
	defer func() {
		ticker.Stop()
		_ = conn.Close()
	}()

	for {
		select {
		case msg := <-s.Outbound():
			_ = conn.SetWriteDeadline(time.Now().Add(h.settings.WriteDeadline))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(h.settings.WriteDeadline))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-s.Done():
			closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = conn.WriteControl(websocket.CloseMessage, closing, time.Now().Add(h.settings.WriteDeadline))
			return
		}
	}
}
