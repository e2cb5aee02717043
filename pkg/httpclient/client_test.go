package httpclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"
)

// testPayload はテスト用のリクエスト/レスポンスペイロード。
type testPayload struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
}

// TestNew はクライアントの生成とオプションを検証する。
func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("既定のタイムアウトが30秒であること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080")
		if client.httpClient.Timeout != 30*time.Second {
			t.Errorf("Timeout = %v, want 30s", client.httpClient.Timeout)
		}
		if client.breaker != nil {
			t.Error("既定でブレーカーが設定されています")
		}
	})

	t.Run("WithTimeoutでタイムアウトを変更できること", func(t *testing.T) {
		t.Parallel()

		client := New("http://localhost:8080", WithTimeout(5*time.Second))
		if client.httpClient.Timeout != 5*time.Second {
			t.Errorf("Timeout = %v, want 5s", client.httpClient.Timeout)
		}
	})
}

// TestPostJSON はPostJSONを検証する。
func TestPostJSON(t *testing.T) {
	t.Parallel()

	t.Run("ボディと固定ヘッダーを送信してレスポンスを取得できること", func(t *testing.T) {
		t.Parallel()

		var (
			method string
			path   string
			header http.Header
			body   []byte
		)
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			method, path, header = r.Method, r.URL.Path, r.Header
			body, _ = io.ReadAll(r.Body)
			w.Header().Set("Content-Type", "application/json")
			json.NewEncoder(w).Encode(testPayload{Name: "response", Value: 201})
		}))
		defer ts.Close()

		client := New(ts.URL, WithHeader("api-key", "secret-key"))
		var result testPayload
		if err := client.PostJSON(t.Context(), "/v3/smtp/email", testPayload{Name: "request", Value: 1}, &result); err != nil {
			t.Fatalf("PostJSON()でエラーが発生: %v", err)
		}

		if method != http.MethodPost || path != "/v3/smtp/email" {
			t.Errorf("request = %s %s, want POST /v3/smtp/email", method, path)
		}
		if got := header.Get("api-key"); got != "secret-key" {
			t.Errorf("api-key = %q, want %q", got, "secret-key")
		}
		if got := header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want %q", got, "application/json")
		}
		var sent testPayload
		if err := json.Unmarshal(body, &sent); err != nil || sent.Name != "request" {
			t.Errorf("送信ボディ = %s", body)
		}
		if result.Value != 201 {
			t.Errorf("result.Value = %d, want %d", result.Value, 201)
		}
	})

	t.Run("2xx以外はStatusErrorになること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"message":"Key not found"}`))
		}))
		defer ts.Close()

		err := New(ts.URL).PostJSON(t.Context(), "/v3/smtp/email", testPayload{}, nil)
		var statusErr *StatusError
		if !errors.As(err, &statusErr) {
			t.Fatalf("err = %v, want *StatusError", err)
		}
		if statusErr.StatusCode != http.StatusUnauthorized {
			t.Errorf("StatusCode = %d, want %d", statusErr.StatusCode, http.StatusUnauthorized)
		}
	})

	t.Run("キャンセルされたコンテキストでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))
		defer ts.Close()

		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		if err := New(ts.URL).PostJSON(ctx, "/", testPayload{}, nil); err == nil {
			t.Fatal("PostJSON()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestGetJSON はGetJSONを検証する。
func TestGetJSON(t *testing.T) {
	t.Parallel()

	t.Run("ボディなしでGETしレスポンスを取得できること", func(t *testing.T) {
		t.Parallel()

		var receivedBody []byte
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			receivedBody, _ = io.ReadAll(r.Body)
			json.NewEncoder(w).Encode(testPayload{Name: "get", Value: 42})
		}))
		defer ts.Close()

		var result testPayload
		if err := New(ts.URL).GetJSON(t.Context(), "/v3/account", &result); err != nil {
			t.Fatalf("GetJSON()でエラーが発生: %v", err)
		}
		if len(receivedBody) != 0 {
			t.Errorf("GETリクエストにボディが含まれている: %q", receivedBody)
		}
		if result.Value != 42 {
			t.Errorf("result.Value = %d, want %d", result.Value, 42)
		}
	})

	t.Run("不正なJSONレスポンスでエラーが返ること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.Write([]byte(`{invalid json}`))
		}))
		defer ts.Close()

		var result testPayload
		if err := New(ts.URL).GetJSON(t.Context(), "/", &result); err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
	})

	t.Run("接続できないサーバーに対してエラーが返ること", func(t *testing.T) {
		t.Parallel()

		var result testPayload
		if err := New("http://127.0.0.1:1").GetJSON(t.Context(), "/", &result); err == nil {
			t.Fatal("GetJSON()がエラーを返すべきだが、nilが返った")
		}
	})
}

// TestBreaker はサーキットブレーカーの動作を検証する。
func TestBreaker(t *testing.T) {
	t.Parallel()

	t.Run("連続失敗で開き以後は呼び出さないこと", func(t *testing.T) {
		t.Parallel()

		var calls atomic.Int32
		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer ts.Close()

		client := New(ts.URL, WithBreaker(BreakerSettings{Name: "test", MaxFailures: 2, Timeout: time.Minute}, zaptest.NewLogger(t)))
		for range 2 {
			if err := client.PostJSON(t.Context(), "/", testPayload{}, nil); err == nil {
				t.Fatal("PostJSON()がエラーを返すべきだが、nilが返った")
			}
		}

		err := client.PostJSON(t.Context(), "/", testPayload{}, nil)
		if !errors.Is(err, ErrCircuitOpen) {
			t.Errorf("err = %v, want ErrCircuitOpen", err)
		}
		if got := calls.Load(); got != 2 {
			t.Errorf("サーバー呼び出し回数 = %d, want 2", got)
		}
	})

	t.Run("成功している間は閉じたままであること", func(t *testing.T) {
		t.Parallel()

		ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusCreated)
		}))
		defer ts.Close()

		client := New(ts.URL, WithBreaker(BreakerSettings{Name: "test", MaxFailures: 1, Timeout: time.Minute}, zaptest.NewLogger(t)))
		for range 3 {
			if err := client.PostJSON(t.Context(), "/", testPayload{}, nil); err != nil {
				t.Fatalf("PostJSON()でエラーが発生: %v", err)
			}
		}
	})
}
