package mail

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/nao1215/teamhub/pkg/httpclient"
)

// DefaultBrevoBaseURL はBrevo APIのベースURL。
const DefaultBrevoBaseURL = "https://api.brevo.com"

// BrevoConfig はBrevoDispatcherの設定。
type BrevoConfig struct {
	APIKey      string
	BaseURL     string
	SenderEmail string
	SenderName  string
	// BreakerMaxFailures と BreakerTimeout はサーキットブレーカーの設定。
	BreakerMaxFailures uint32
	BreakerTimeout     time.Duration
}

// brevoContact はBrevoの送信者・宛先。
type brevoContact struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email"`
}

// brevoRequest は POST /v3/smtp/email のリクエストボディ。
type brevoRequest struct {
	Sender      brevoContact   `json:"sender"`
	To          []brevoContact `json:"to"`
	Subject     string         `json:"subject"`
	HTMLContent string         `json:"htmlContent"`
}

// brevoResponse は送信成功時のレスポンス。
type brevoResponse struct {
	MessageID string `json:"messageId"`
}

// BrevoDispatcher はBrevoのトランザクションメールAPIで送信する。
type BrevoDispatcher struct {
	client *httpclient.Client
	sender brevoContact
	logger *zap.Logger
}

// NewBrevoDispatcher は新しいBrevoDispatcherを生成する。
func NewBrevoDispatcher(cfg BrevoConfig, logger *zap.Logger) *BrevoDispatcher {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBrevoBaseURL
	}
	client := httpclient.New(baseURL,
		httpclient.WithTimeout(10*time.Second),
		httpclient.WithHeader("api-key", cfg.APIKey),
		httpclient.WithBreaker(httpclient.BreakerSettings{
			Name:        "brevo",
			MaxFailures: cfg.BreakerMaxFailures,
			Timeout:     cfg.BreakerTimeout,
		}, logger),
	)
	return &BrevoDispatcher{
		client: client,
		sender: brevoContact{Name: cfg.SenderName, Email: cfg.SenderEmail},
		logger: logger,
	}
}

// Send はメールを1通送信する。
func (d *BrevoDispatcher) Send(ctx context.Context, msg Message) error {
	req := brevoRequest{
		Sender:      d.sender,
		To:          []brevoContact{{Email: msg.To}},
		Subject:     msg.Subject,
		HTMLContent: msg.HTML,
	}
	var resp brevoResponse
	if err := d.client.PostJSON(ctx, "/v3/smtp/email", req, &resp); err != nil {
		return fmt.Errorf("Brevoでのメール送信に失敗（to=%s）: %w", msg.To, err)
	}
	d.logger.Info("メール送信", zap.String("to", msg.To), zap.String("message_id", resp.MessageID))
	return nil
}

// New はAPIキーが設定されていればBrevoDispatcher、なければLogDispatcherを返す。
func New(cfg BrevoConfig, logger *zap.Logger) Dispatcher {
	if cfg.APIKey == "" {
		return NewLogDispatcher(logger)
	}
	return NewBrevoDispatcher(cfg, logger)
}
