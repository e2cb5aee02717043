// Package server はteamhubの全コンポーネントを組み立て、HTTPサーバーとして起動する。
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/nao1215/teamhub/internal/auth"
	"github.com/nao1215/teamhub/internal/calendar"
	"github.com/nao1215/teamhub/internal/comment"
	"github.com/nao1215/teamhub/internal/config"
	"github.com/nao1215/teamhub/internal/eventbus"
	"github.com/nao1215/teamhub/internal/fanout"
	"github.com/nao1215/teamhub/internal/mail"
	"github.com/nao1215/teamhub/internal/metrics"
	"github.com/nao1215/teamhub/internal/notification"
	"github.com/nao1215/teamhub/internal/presence"
	"github.com/nao1215/teamhub/internal/project"
	"github.com/nao1215/teamhub/internal/recipient"
	"github.com/nao1215/teamhub/internal/store"
	"github.com/nao1215/teamhub/internal/team"
	"github.com/nao1215/teamhub/pkg/middleware"
)

const (
	// serviceName は /health が返すサービス名。
	serviceName = "teamhub"
	// readHeaderTimeout はリクエストヘッダーの読み込み期限。
	readHeaderTimeout = 10 * time.Second
)

// Server はteamhubのHTTPサーバー。
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	store      *store.Store
	jwt        *middleware.JWT
	presence   *presence.Router
	ws         *presence.Handler
	relay      *presence.RedisRelay
	redis      *redis.Client
	dispatcher *fanout.Dispatcher
	bus        *eventbus.Bus
	metrics    *metrics.Metrics

	router *gin.Engine
	http   *http.Server
}

// Option はServerの組み立てを変更する。主にテストで外部接続を差し替えるために使う。
type Option func(*options)

type options struct {
	mailer    mail.Dispatcher
	publisher eventbus.Publisher
	registry  *prometheus.Registry
	hashCost  int
}

// WithMailer は設定から作るメール送信の代わりにmを使う。
func WithMailer(m mail.Dispatcher) Option {
	return func(o *options) { o.mailer = m }
}

// WithPublisher は設定から作るイベント発行の代わりにpを使う。
func WithPublisher(p eventbus.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithRegistry はメトリクスをregに登録する。
func WithRegistry(reg *prometheus.Registry) Option {
	return func(o *options) { o.registry = reg }
}

// WithHashCost はパスワードハッシュのbcryptコストを設定する。
func WithHashCost(cost int) Option {
	return func(o *options) { o.hashCost = cost }
}

// New は設定から全コンポーネントを組み立てる。
// Redisのアドレスが設定されていればインスタンス間の配信中継を、Kafkaのブローカーが
// 設定されていればドメインイベントの発行を有効にする。
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Server, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	st, err := store.Open(ctx, cfg.Database.Path, logger)
	if err != nil {
		return nil, fmt.Errorf("ストアの初期化に失敗: %w", err)
	}

	s := &Server{
		cfg:     cfg,
		logger:  logger,
		store:   st,
		jwt:     middleware.NewJWT(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.TokenExpiry),
		metrics: metrics.New(o.registry),
	}

	presenceOpts := []presence.Option{
		presence.WithBufferSize(cfg.WS.SendBufferSize),
		presence.WithObserver(s.metrics),
		presence.WithLogger(logger.Named("presence")),
	}
	if cfg.Redis.Addr != "" {
		s.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		s.relay = presence.NewRedisRelay(s.redis, cfg.Redis.Channel, logger.Named("relay"))
		presenceOpts = append(presenceOpts, presence.WithRelay(s.relay))
	}
	s.presence = presence.NewRouter(s.jwt, presenceOpts...)

	publisher := o.publisher
	if publisher == nil {
		publisher = eventbus.New(cfg.Kafka.Brokers, cfg.Kafka.Topic)
	}
	s.bus = eventbus.NewBus(publisher, logger.Named("eventbus"))

	mailer := o.mailer
	if mailer == nil {
		mailer = mail.New(mail.BrevoConfig{
			APIKey:             cfg.Mail.BrevoAPIKey,
			BaseURL:            cfg.Mail.BaseURL,
			SenderEmail:        cfg.Mail.SenderEmail,
			SenderName:         cfg.Mail.SenderName,
			BreakerMaxFailures: cfg.Mail.BreakerMaxFailures,
			BreakerTimeout:     cfg.BreakerTimeout,
		}, logger.Named("mail"))
	}

	notifications := notification.NewService(st)
	resolver := recipient.NewResolver(st, recipient.PolicyFromStrings(cfg.Fanout.CommentRecipients))
	s.dispatcher = fanout.New(resolver, notifications, s.presence,
		fanout.WithConcurrency(cfg.Fanout.Concurrency),
		fanout.WithBroadcast(cfg.Fanout.BroadcastComments),
		fanout.WithCounter(s.metrics),
		fanout.WithEmitter(s.bus),
		fanout.WithLogger(logger.Named("fanout")),
	)

	var authOpts []auth.Option
	if o.hashCost > 0 {
		authOpts = append(authOpts, auth.WithHashCost(o.hashCost))
	}

	s.router = gin.New()
	s.router.Use(middleware.Recovery(logger))
	s.router.Use(middleware.RequestLogger(logger.Named("http")))
	s.router.Use(middleware.CORS([]string{cfg.App.FrontendURL}))

	// ヘルスチェック
	s.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "service": serviceName})
	})
	s.router.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	ws := presence.DefaultSettings()
	ws.PingInterval = cfg.PingInterval
	ws.WriteDeadline = cfg.WriteDeadline
	ws.PongWait = cfg.PongWait
	ws.MaxMessageSize = cfg.WS.MaxMessageSizeBytes
	ws.InboundRPS = cfg.WS.InboundRPS
	ws.InboundBurst = cfg.WS.InboundBurst
	ws.AllowedOrigins = []string{cfg.App.FrontendURL}
	s.ws = presence.NewHandler(s.presence, ws, logger.Named("ws"))
	s.ws.RegisterRoutes(s.router)

	public := s.router.Group("/api/v1")
	api := s.router.Group("/api/v1")
	api.Use(middleware.JWTAuth(s.jwt))

	auth.NewHandler(st, s.jwt, s.dispatcher, s.bus, logger, authOpts...).RegisterRoutes(public, api)
	notification.NewHandler(notifications, logger).RegisterRoutes(api)
	project.NewHandler(st, logger).RegisterRoutes(api)
	comment.NewHandler(st, s.dispatcher, s.bus, logger).RegisterRoutes(api)
	team.NewHandler(st, s.dispatcher, s.bus, mailer, cfg.App.FrontendURL, logger).RegisterRoutes(api)
	calendar.NewHandler(st, s.dispatcher, s.bus, logger).RegisterRoutes(api)

	s.http = &http.Server{
		Addr:              net.JoinHostPort("", cfg.App.Port),
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s, nil
}

// Handler はルーティング済みのHTTPハンドラを返す。
func (s *Server) Handler() http.Handler {
	return s.router
}

// Run はctxが終了するまでHTTPリクエストを処理し、その後グレースフルシャットダウンする。
// シャットダウンではHTTPの停止、ライブセッションの切断、実行中の通知展開の完了待ちを行い、
// 最後にRedis・Kafka・データベースの接続を閉じる。
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		s.close()
		return fmt.Errorf("ポート %s のリッスンに失敗: %w", s.cfg.App.Port, err)
	}
	return s.Serve(ctx, ln)
}

// Serve はlnでHTTPリクエストを処理する。終了処理はRunと同じ。
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.logger.Info("teamhubを起動します", zap.String("addr", ln.Addr().String()))
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPサーバーが異常終了: %w", err)
		}
		return nil
	})

	if s.relay != nil {
		g.Go(func() error {
			// 中継が使えなくても同一インスタンス内の配信は続ける
			if err := s.relay.Run(gctx, s.presence); err != nil {
				s.logger.Warn("配信中継を停止しました", zap.Error(err))
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.logger.Info("シャットダウンを開始します")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.http.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTPサーバーの停止に失敗: %w", err)
		}
		return nil
	})

	err := g.Wait()
	s.close()
	return err
}

// close はライブセッションを切断し、通知展開の完了を待ってから外部接続を閉じる。
// http.Server.Shutdown はWebSocketに切り替えた接続を待たないため、ここで切断して送受信ループを待つ。
func (s *Server) close() {
	s.presence.Close()
	s.ws.Wait()
	s.dispatcher.Wait()

	if err := s.bus.Close(); err != nil {
		s.logger.Warn("イベント発行の終了に失敗", zap.Error(err))
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil {
			s.logger.Warn("Redis接続の終了に失敗", zap.Error(err))
		}
	}
	if err := s.store.Close(); err != nil {
		s.logger.Warn("データベース接続の終了に失敗", zap.Error(err))
	}
	s.logger.Info("teamhubを停止しました")
}
