package eventbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/nao1215/teamhub/pkg/event"
)

// fakeWriter は書き込まれたメッセージを記録する。
type fakeWriter struct {
	mu       sync.Mutex
	messages []kafkago.Message
	err      error
	closed   bool
}

func (w *fakeWriter) WriteMessages(_ context.Context, msgs ...kafkago.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *fakeWriter) Close() error {
	w.closed = true
	return nil
}

// TestKafkaPublisher はKafkaへのメッセージ変換を検証する。
func TestKafkaPublisher(t *testing.T) {
	t.Parallel()

	t.Run("集約IDをキーにしてイベントを書き込むこと", func(t *testing.T) {
		t.Parallel()

		w := &fakeWriter{}
		p := &KafkaPublisher{writer: w}
		e, err := event.New("comment-1", event.AggregateTypeComment, event.TypeCommentCreated, "alice", event.CommentCreatedData{TaskID: "t1", AuthorID: "alice"})
		if err != nil {
			t.Fatalf("event.New()でエラーが発生: %v", err)
		}

		if err := p.Publish(t.Context(), e); err != nil {
			t.Fatalf("Publish()でエラーが発生: %v", err)
		}
		if len(w.messages) != 1 {
			t.Fatalf("メッセージ数 = %d, want 1", len(w.messages))
		}
		msg := w.messages[0]
		if string(msg.Key) != "comment-1" {
			t.Errorf("Key = %q, want %q", msg.Key, "comment-1")
		}
		decoded, err := event.Decode(msg.Value)
		if err != nil {
			t.Fatalf("event.Decode()でエラーが発生: %v", err)
		}
		if decoded.ID != e.ID || decoded.EventType != event.TypeCommentCreated {
			t.Errorf("decoded = %+v", decoded)
		}
		if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "CommentCreated" {
			t.Errorf("Headers = %+v", msg.Headers)
		}
	})

	t.Run("Closeで書き込み先を閉じること", func(t *testing.T) {
		t.Parallel()

		w := &fakeWriter{}
		if err := (&KafkaPublisher{writer: w}).Close(); err != nil {
			t.Fatalf("Close()でエラーが発生: %v", err)
		}
		if !w.closed {
			t.Error("Writerが閉じられていません")
		}
	})
}

// TestNew はブローカー設定によるPublisherの選択を検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	if _, ok := New(nil, "teamhub.events").(NopPublisher); !ok {
		t.Error("ブローカー未設定でNopPublisherが返されませんでした")
	}
	p := New([]string{"localhost:9092"}, "teamhub.events")
	if _, ok := p.(*KafkaPublisher); !ok {
		t.Error("ブローカー設定時にKafkaPublisherが返されませんでした")
	}
	p.Close()
}

// TestBusEmit は配信失敗の握りつぶしを検証する。
func TestBusEmit(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.WarnLevel)
	w := &fakeWriter{err: errors.New("broker unavailable")}
	bus := NewBus(&KafkaPublisher{writer: w}, zap.New(core))

	bus.Emit(t.Context(), "team-1", event.AggregateTypeTeam, event.TypeTeamCreated, "m", event.TeamCreatedData{Name: "core"})
	bus.Wait()

	entries := logs.FilterMessage("イベントの配信に失敗").All()
	if len(entries) != 1 {
		t.Fatalf("警告ログ数 = %d, want 1", len(entries))
	}
	if got := entries[0].ContextMap()["event_type"]; got != "TeamCreated" {
		t.Errorf("event_type = %v, want TeamCreated", got)
	}
}

// blockingPublisher はreleaseが閉じられるかctxが終了するまでPublishを返さない。
type blockingPublisher struct {
	release chan struct{}

	mu        sync.Mutex
	published []*event.Event
}

func (p *blockingPublisher) Publish(ctx context.Context, e *event.Event) error {
	select {
	case <-p.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, e)
	return nil
}

func (p *blockingPublisher) Close() error { return nil }

func (p *blockingPublisher) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.published)
}

// TestBusEmitInBackground は配信先が応答しなくてもEmitがすぐに戻ることを検証する。
func TestBusEmitInBackground(t *testing.T) {
	t.Parallel()

	t.Run("配信の完了を待たずに戻ること", func(t *testing.T) {
		t.Parallel()

		p := &blockingPublisher{release: make(chan struct{})}
		bus := NewBus(p, zap.NewNop())

		returned := make(chan struct{})
		go func() {
			bus.Emit(t.Context(), "c1", event.AggregateTypeComment, event.TypeCommentCreated, "alice", event.CommentCreatedData{TaskID: "t1"})
			close(returned)
		}()
		select {
		case <-returned:
		case <-time.After(time.Second):
			t.Fatal("Emit()が配信の完了を待っている")
		}

		close(p.release)
		bus.Wait()
		if got := p.count(); got != 1 {
			t.Errorf("配信数 = %d, want 1", got)
		}
	})

	t.Run("呼び出し元のコンテキストが終了しても配信すること", func(t *testing.T) {
		t.Parallel()

		p := &blockingPublisher{release: make(chan struct{})}
		bus := NewBus(p, zap.NewNop())

		ctx, cancel := context.WithCancel(t.Context())
		bus.Emit(ctx, "c1", event.AggregateTypeComment, event.TypeCommentCreated, "alice", event.CommentCreatedData{TaskID: "t1"})
		cancel()
		close(p.release)

		if err := bus.Close(); err != nil {
			t.Fatalf("Close()でエラーが発生: %v", err)
		}
		if got := p.count(); got != 1 {
			t.Errorf("配信数 = %d, want 1", got)
		}
	})

	t.Run("期限を過ぎた配信は失敗としてログに記録されること", func(t *testing.T) {
		t.Parallel()

		core, logs := observer.New(zap.WarnLevel)
		p := &blockingPublisher{release: make(chan struct{})}
		bus := NewBus(p, zap.New(core))
		bus.timeout = 20 * time.Millisecond

		bus.Emit(t.Context(), "c1", event.AggregateTypeComment, event.TypeCommentCreated, "alice", event.CommentCreatedData{TaskID: "t1"})
		bus.Wait()

		if got := logs.FilterMessage("イベントの配信に失敗").Len(); got != 1 {
			t.Errorf("警告ログ数 = %d, want 1", got)
		}
		if got := p.count(); got != 0 {
			t.Errorf("配信数 = %d, want 0", got)
		}
	})
}
