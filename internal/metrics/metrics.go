// Package metrics はteamhubのPrometheusメトリクスを定義する。
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nao1215/teamhub/internal/presence"
)

// 通知処理の失敗段階。
const (
	StageResolve = "resolve"
	StageRecord  = "record"
)

// Metrics は通知とライブ配信のメトリクス。presence.Observer を実装する。
type Metrics struct {
	sessions   prometheus.Gauge
	recorded   *prometheus.CounterVec
	failures   *prometheus.CounterVec
	deliveries *prometheus.CounterVec
	gatherer   prometheus.Gatherer
}

var _ presence.Observer = (*Metrics)(nil)

// New はメトリクスを生成し、regに登録する。regがnilの場合は新しいレジストリを使う。
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}

	m := &Metrics{
		sessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "teamhub_presence_sessions",
			Help: "Active websocket sessions",
		}),
		recorded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamhub_notifications_recorded_total",
			Help: "Notifications persisted, by kind",
		}, []string{"kind"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamhub_notification_failures_total",
			Help: "Swallowed fan-out failures, by stage",
		}, []string{"stage"}),
		deliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "teamhub_deliveries_total",
			Help: "Live push attempts, by result",
		}, []string{"result"}),
		gatherer: reg,
	}
	reg.MustRegister(m.sessions, m.recorded, m.failures, m.deliveries)
	return m
}

// SessionOpened はセッション数を1増やす。
func (m *Metrics) SessionOpened() { m.sessions.Inc() }

// SessionClosed はセッション数を1減らす。
func (m *Metrics) SessionClosed() { m.sessions.Dec() }

// Delivered はプッシュの結果を数える。
func (m *Metrics) Delivered(result presence.DeliveryResult) {
	m.deliveries.WithLabelValues(string(result)).Inc()
}

// NotificationRecorded は永続化された通知を種類ごとに数える。
func (m *Metrics) NotificationRecorded(kind string) {
	m.recorded.WithLabelValues(kind).Inc()
}

// NotificationFailed は握りつぶした失敗を段階ごとに数える。
func (m *Metrics) NotificationFailed(stage string) {
	m.failures.WithLabelValues(stage).Inc()
}

// Handler は /metrics 用のHTTPハンドラを返す。
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
