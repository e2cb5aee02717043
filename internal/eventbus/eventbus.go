// Package eventbus は確定したドメインイベントを外部へ配信する。
//
// Kafkaのブローカーが設定されていればkafka-goで書き込み、無ければ何もしない。
// 配信はバックグラウンドで行い、失敗はログに記録するだけで呼び出し元の操作は失敗させない。
package eventbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/nao1215/teamhub/pkg/event"
)

// Publisher はイベントを配信する。
type Publisher interface {
	Publish(ctx context.Context, e *event.Event) error
	Close() error
}

// messageWriter はkafka-goのWriterのうち使用する操作。
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// KafkaPublisher はKafkaのトピックへイベントを書き込む。
type KafkaPublisher struct {
	writer messageWriter
}

// NewKafkaPublisher はbrokersのtopicへ書き込むPublisherを生成する。
func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{writer: &kafkago.Writer{
		Addr:         kafkago.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafkago.LeastBytes{},
		RequiredAcks: kafkago.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		WriteTimeout: publishTimeout,
	}}
}

// Publish はイベントを1件書き込む。キーは集約IDで、同じ集約のイベントは同じパーティションに入る。
func (p *KafkaPublisher) Publish(ctx context.Context, e *event.Event) error {
	value, err := event.Encode(e)
	if err != nil {
		return err
	}
	msg := kafkago.Message{
		Key:   []byte(e.AggregateID),
		Value: value,
		Time:  e.CreatedAt,
		Headers: []kafkago.Header{
			{Key: "event_type", Value: []byte(e.EventType)},
		},
	}
	if err := p.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("Kafkaへのイベント書き込みに失敗: %w", err)
	}
	return nil
}

// Close はWriterを閉じる。
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// NopPublisher はイベントを捨てるPublisher。
type NopPublisher struct{}

// Publish は何もしない。
func (NopPublisher) Publish(context.Context, *event.Event) error { return nil }

// Close は何もしない。
func (NopPublisher) Close() error { return nil }

// New はブローカーが設定されていればKafkaPublisher、なければNopPublisherを返す。
func New(brokers []string, topic string) Publisher {
	if len(brokers) == 0 {
		return NopPublisher{}
	}
	return NewKafkaPublisher(brokers, topic)
}

// publishTimeout は1件の配信にかける時間の上限。
const publishTimeout = 10 * time.Second

// Bus はイベントの生成と配信をまとめ、失敗をログに記録する。
type Bus struct {
	publisher Publisher
	logger    *zap.Logger
	// timeout は1件の配信の期限。
	timeout time.Duration
	// inflight は配信中のイベント。
	inflight sync.WaitGroup
}

// NewBus は新しいBusを生成する。
func NewBus(publisher Publisher, logger *zap.Logger) *Bus {
	return &Bus{publisher: publisher, logger: logger, timeout: publishTimeout}
}

// Emit はイベントを生成し、バックグラウンドで配信してすぐに戻る。
// 配信はリクエストのキャンセルでは中断されない。失敗はログに記録して握りつぶす。
func (b *Bus) Emit(ctx context.Context, aggregateID string, aggregateType event.AggregateType, eventType event.Type, actorID string, data any) {
	e, err := event.New(aggregateID, aggregateType, eventType, actorID, data)
	if err != nil {
		b.logger.Error("イベントの生成に失敗", zap.String("event_type", string(eventType)), zap.Error(err))
		return
	}

	ctx = context.WithoutCancel(ctx)
	b.inflight.Go(func() {
		ctx, cancel := context.WithTimeout(ctx, b.timeout)
		defer cancel()
		if err := b.publisher.Publish(ctx, e); err != nil {
			b.logger.Warn("イベントの配信に失敗",
				zap.String("event_id", e.ID),
				zap.String("event_type", string(eventType)),
				zap.String("aggregate_id", aggregateID),
				zap.Error(err),
			)
		}
	})
}

// Wait は配信中のイベントが全て終わるまで待つ。
func (b *Bus) Wait() {
	b.inflight.Wait()
}

// Close は配信中のイベントを待ってから配信先を閉じる。
func (b *Bus) Close() error {
	b.inflight.Wait()
	return b.publisher.Close()
}
