package presence

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Message は他インスタンスへ中継する配信メッセージ。
type Message struct {
	// Origin は送信元RouterのインスタンスID。
	Origin string `json:"origin"`
	// Room は配信先のルーム名。
	Room string `json:"room"`
	// Except は配信から除くセッションID。
	Except string `json:"except,omitempty"`
	// Payload はクライアントへ送るエンベロープ。
	Payload json.RawMessage `json:"payload"`
}

// Relay は配信メッセージを他インスタンスへ転送する。
type Relay interface {
	Publish(ctx context.Context, msg Message) error
}

// RedisRelay はRedisのPub/Subで配信メッセージを中継する。
type RedisRelay struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

// NewRedisRelay は新しいRedisRelayを生成する。
func NewRedisRelay(client *redis.Client, channel string, logger *zap.Logger) *RedisRelay {
	return &RedisRelay{client: client, channel: channel, logger: logger}
}

// Publish はメッセージをチャネルへ送る。
func (r *RedisRelay) Publish(ctx context.Context, msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("中継メッセージのエンコードに失敗: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, b).Err(); err != nil {
		return fmt.Errorf("Redisへのpublishに失敗: %w", err)
	}
	return nil
}

// Run はチャネルを購読し、受け取ったメッセージをrouterへ適用する。ctxが終了するまで戻らない。
func (r *RedisRelay) Run(ctx context.Context, router *Router) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("Redisチャネル %s の購読に失敗: %w", r.channel, err)
	}
	r.logger.Info("中継チャネルを購読開始", zap.String("channel", r.channel))

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case m, ok := <-ch:
			if !ok {
				return nil
			}
			var msg Message
			if err := json.Unmarshal([]byte(m.Payload), &msg); err != nil {
				r.logger.Warn("不正な中継メッセージを無視", zap.Error(err))
				continue
			}
			router.Apply(msg)
		}
	}
}
