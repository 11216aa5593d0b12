// monitor/monitor.go
package monitor

import (
	"encoding/json"
	"expvar"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultOK    = "ok"
	ResultError = "error"
)

type Metrics struct {
	OnlineConnections prometheus.Gauge
	ActiveRooms       prometheus.Gauge
	MessagesReceived  *prometheus.CounterVec
	BroadcastDropped  prometheus.Counter
	MirrorWrites      *prometheus.CounterVec
	MirrorDropped     prometheus.Counter
	RoomsReaped       prometheus.Counter
	MessageLatency    prometheus.Histogram
}

func NewMetrics(namespace string, registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		OnlineConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_connections",
			Help:      "Number of open websocket connections",
		}),
		ActiveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rooms",
			Help:      "Number of rooms held in memory",
		}),
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_received_total",
			Help:      "Total number of client messages received, by type",
		}, []string{"type"}),
		BroadcastDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_dropped_total",
			Help:      "Events that could not be queued for a connection",
		}),
		MirrorWrites: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_writes_total",
			Help:      "Durable mirror writes, by operation and result",
		}, []string{"op", "result"}),
		MirrorDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mirror_dropped_total",
			Help:      "Mirror tasks dropped because a queue was full or closed",
		}),
		RoomsReaped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rooms_reaped_total",
			Help:      "Idle rooms removed from memory",
		}),
		MessageLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "message_latency_seconds",
			Help:      "Message processing latency",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
	}

	registerer.MustRegister(
		m.OnlineConnections,
		m.ActiveRooms,
		m.MessagesReceived,
		m.BroadcastDropped,
		m.MirrorWrites,
		m.MirrorDropped,
		m.RoomsReaped,
		m.MessageLatency,
	)

	return m
}

// Monitor owns a private registry, so several instances can live in one
// process. A nil *Monitor discards everything.
type Monitor struct {
	metrics      *Metrics
	registry     *prometheus.Registry
	startTime    time.Time
	requestCount atomic.Int64
}

func NewMonitor(namespace string) *Monitor {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return &Monitor{
		metrics:   NewMetrics(namespace, registry),
		registry:  registry,
		startTime: time.Now(),
	}
}

func (m *Monitor) Metrics() *Metrics {
	return m.metrics
}

func (m *Monitor) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves /metrics and /debug/vars.
func (m *Monitor) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))

	// 添加expvar指标
	uptime := expvar.Func(func() any {
		return time.Since(m.startTime).Seconds()
	})
	requests := expvar.Func(func() any {
		return m.requestCount.Load()
	})
	mux.HandleFunc("/debug/vars", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_ = json.NewEncoder(w).Encode(map[string]json.RawMessage{
			"uptime":   json.RawMessage(uptime.String()),
			"requests": json.RawMessage(requests.String()),
		})
	})
	return mux
}

// StartServer serves Handler on addr in the background. The caller shuts
// the returned server down.
func (m *Monitor) StartServer(addr string, onError func(error)) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed && onError != nil {
			onError(err)
		}
	}()
	return srv
}

func (m *Monitor) IncOnlineConnections() {
	if m == nil {
		return
	}
	m.metrics.OnlineConnections.Inc()
}

func (m *Monitor) DecOnlineConnections() {
	if m == nil {
		return
	}
	m.metrics.OnlineConnections.Dec()
}

func (m *Monitor) SetActiveRooms(count int) {
	if m == nil {
		return
	}
	m.metrics.ActiveRooms.Set(float64(count))
}

func (m *Monitor) IncMessagesReceived(msgType string) {
	if m == nil {
		return
	}
	m.metrics.MessagesReceived.WithLabelValues(msgType).Inc()
	m.requestCount.Add(1)
}

func (m *Monitor) IncBroadcastDropped() {
	if m == nil {
		return
	}
	m.metrics.BroadcastDropped.Inc()
}

// ObserveMirrorWrite counts one durable write.
func (m *Monitor) ObserveMirrorWrite(op string, err error) {
	if m == nil {
		return
	}
	result := ResultOK
	if err != nil {
		result = ResultError
	}
	m.metrics.MirrorWrites.WithLabelValues(op, result).Inc()
}

func (m *Monitor) IncMirrorDropped() {
	if m == nil {
		return
	}
	m.metrics.MirrorDropped.Inc()
}

func (m *Monitor) AddRoomsReaped(n int) {
	if m == nil {
		return
	}
	m.metrics.RoomsReaped.Add(float64(n))
}

func (m *Monitor) ObserveMessageLatency(duration time.Duration) {
	if m == nil {
		return
	}
	m.metrics.MessageLatency.Observe(duration.Seconds())
}
