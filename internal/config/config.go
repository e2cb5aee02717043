// Package config はteamhubの設定読み込みを提供する。
//
// 設定は既定値、任意のYAMLファイル、.envファイル、環境変数（接頭辞 TEAMHUB_）の順に
// 上書きされる。キーの区切り "." は環境変数では "_" になる（例: TEAMHUB_JWT_SECRET）。
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// AppConfig はHTTPサーバー全体の設定。
type AppConfig struct {
	// Env は実行環境名（development, production など）。
	Env string `mapstructure:"env"`
	// Port はリッスンポート。
	Port string `mapstructure:"port"`
	// FrontendURL はCORSで許可するフロントエンドのオリジン。
	FrontendURL string `mapstructure:"frontend_url"`
	// ShutdownTimeoutSeconds はグレースフルシャットダウンの待ち時間（秒）。
	ShutdownTimeoutSeconds int `mapstructure:"shutdown_timeout_seconds"`
}

// DatabaseConfig はSQLiteの設定。
type DatabaseConfig struct {
	// Path はデータベースファイルのパス。":memory:" も指定できる。
	Path string `mapstructure:"path"`
}

// JWTConfig はトークン発行と検証の設定。
type JWTConfig struct {
	Secret      string `mapstructure:"secret"`
	ExpiryHours int    `mapstructure:"expiry_hours"`
	Issuer      string `mapstructure:"issuer"`
}

// LogConfig はロガーの設定。
type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

// RedisConfig はインスタンス間のリアルタイム配信中継に使うRedisの設定。
// Addrが空の場合は中継を行わない。
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Channel  string `mapstructure:"channel"`
}

// KafkaConfig はドメインイベント発行先の設定。Brokersが空の場合は発行しない。
type KafkaConfig struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
}

// MailConfig はメール送信（Brevo）の設定。BrevoAPIKeyが空の場合はログ出力のみ行う。
type MailConfig struct {
	BrevoAPIKey           string `mapstructure:"brevo_api_key"`
	BaseURL               string `mapstructure:"base_url"`
	SenderEmail           string `mapstructure:"sender_email"`
	SenderName            string `mapstructure:"sender_name"`
	BreakerMaxFailures    uint32 `mapstructure:"breaker_max_failures"`
	BreakerTimeoutSeconds int    `mapstructure:"breaker_timeout_seconds"`
}

// WSConfig はWebSocket接続の設定。
type WSConfig struct {
	PingIntervalSeconds  int   `mapstructure:"ping_interval_seconds"`
	WriteDeadlineSeconds int   `mapstructure:"write_deadline_seconds"`
	PongWaitSeconds      int   `mapstructure:"pong_wait_seconds"`
	MaxMessageSizeBytes  int64 `mapstructure:"max_message_size_bytes"`
	// SendBufferSize はセッションごとの送信キューの長さ。満杯時のプッシュは破棄される。
	SendBufferSize int `mapstructure:"send_buffer_size"`
	// InboundRPS はクライアントから受け付けるメッセージの毎秒上限。
	InboundRPS   float64 `mapstructure:"inbound_rps"`
	InboundBurst int     `mapstructure:"inbound_burst"`
}

// FanoutConfig は通知ファンアウトの方針。
type FanoutConfig struct {
	// CommentRecipients はコメント通知の宛先に含める集合（"team", "manager"）。
	CommentRecipients []string `mapstructure:"comment_recipients"`
	// BroadcastComments はタスクルームへ new_comment を配信するかどうか。
	BroadcastComments bool `mapstructure:"broadcast_comments"`
	// Concurrency は宛先ごとの記録・配信を同時に実行する上限。
	Concurrency int `mapstructure:"concurrency"`
}

// Config はteamhubの全設定。
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	JWT      JWTConfig      `mapstructure:"jwt"`
	Log      LogConfig      `mapstructure:"log"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Kafka    KafkaConfig    `mapstructure:"kafka"`
	Mail     MailConfig     `mapstructure:"mail"`
	WS       WSConfig       `mapstructure:"ws"`
	Fanout   FanoutConfig   `mapstructure:"fanout"`

	// 以下は読み込み後に算出される値。
	ShutdownTimeout time.Duration `mapstructure:"-"`
	TokenExpiry     time.Duration `mapstructure:"-"`
	PingInterval    time.Duration `mapstructure:"-"`
	WriteDeadline   time.Duration `mapstructure:"-"`
	PongWait        time.Duration `mapstructure:"-"`
	BreakerTimeout  time.Duration `mapstructure:"-"`
}

// envPrefix は環境変数の接頭辞。
const envPrefix = "TEAMHUB"

// Load は設定を読み込む。pathが空の場合は設定ファイルを読まない。
// カレントディレクトリに.envがあれば環境変数として先に取り込む。
func Load(path string) (*Config, error) {
	// .envは任意なので存在しない場合のエラーは無視する
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("設定ファイルの読み込みに失敗: %w", err)
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("設定のデコードに失敗: %w", err)
	}
	c.derive()

	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// setDefaults は全キーの既定値を設定する。
// 既定値のないキーはAutomaticEnvでUnmarshalに反映されないため、全キーを登録する。
func setDefaults(v *viper.Viper) {
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.frontend_url", "http://localhost:5173")
	v.SetDefault("app.shutdown_timeout_seconds", 10)

	v.SetDefault("database.path", "teamhub.db")

	v.SetDefault("jwt.secret", "")
	v.SetDefault("jwt.expiry_hours", 24)
	v.SetDefault("jwt.issuer", "teamhub")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.channel", "teamhub:presence")

	v.SetDefault("kafka.brokers", []string{})
	v.SetDefault("kafka.topic", "teamhub.events")

	v.SetDefault("mail.brevo_api_key", "")
	v.SetDefault("mail.base_url", "https://api.brevo.com")
	v.SetDefault("mail.sender_email", "no-reply@teamhub.local")
	v.SetDefault("mail.sender_name", "TeamHub")
	v.SetDefault("mail.breaker_max_failures", 5)
	v.SetDefault("mail.breaker_timeout_seconds", 30)

	v.SetDefault("ws.ping_interval_seconds", 25)
	v.SetDefault("ws.write_deadline_seconds", 10)
	v.SetDefault("ws.pong_wait_seconds", 60)
	v.SetDefault("ws.max_message_size_bytes", 65536)
	v.SetDefault("ws.send_buffer_size", 256)
	v.SetDefault("ws.inbound_rps", 10)
	v.SetDefault("ws.inbound_burst", 20)

	v.SetDefault("fanout.comment_recipients", []string{"team", "manager"})
	v.SetDefault("fanout.broadcast_comments", true)
	v.SetDefault("fanout.concurrency", 8)
}

// derive は秒数などの設定値から time.Duration を算出する。
func (c *Config) derive() {
	c.ShutdownTimeout = time.Duration(c.App.ShutdownTimeoutSeconds) * time.Second
	c.TokenExpiry = time.Duration(c.JWT.ExpiryHours) * time.Hour
	c.PingInterval = time.Duration(c.WS.PingIntervalSeconds) * time.Second
	c.WriteDeadline = time.Duration(c.WS.WriteDeadlineSeconds) * time.Second
	c.PongWait = time.Duration(c.WS.PongWaitSeconds) * time.Second
	c.BreakerTimeout = time.Duration(c.Mail.BreakerTimeoutSeconds) * time.Second
}

// Validate は設定値の整合性を検証する。
func (c *Config) Validate() error {
	var errs []error
	if c.JWT.Secret == "" {
		errs = append(errs, errors.New("jwt.secret は必須です"))
	}
	if c.App.Port == "" {
		errs = append(errs, errors.New("app.port は必須です"))
	}
	if c.Fanout.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("fanout.concurrency は1以上が必要です: %d", c.Fanout.Concurrency))
	}
	if c.WS.SendBufferSize < 1 {
		errs = append(errs, fmt.Errorf("ws.send_buffer_size は1以上が必要です: %d", c.WS.SendBufferSize))
	}
	if c.WS.PingIntervalSeconds >= c.WS.PongWaitSeconds {
		errs = append(errs, errors.New("ws.ping_interval_seconds は ws.pong_wait_seconds より短くする必要があります"))
	}
	for _, src := range c.Fanout.CommentRecipients {
		if src != "team" && src != "manager" {
			errs = append(errs, fmt.Errorf("fanout.comment_recipients に不明な値があります: %q", src))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("設定が不正です: %w", errors.Join(errs...))
	}
	return nil
}

// IsProduction は本番環境かどうかを返す。
func (c *Config) IsProduction() bool {
	return c.App.Env == "production"
}
