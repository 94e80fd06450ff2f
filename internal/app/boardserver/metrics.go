package boardserver

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/todo-1m/board/internal/platform/metrics"
)

var (
	requests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boardserver_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "status"})
	broadcasts = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boardserver_broadcast_events_total",
		Help: "Events fanned out to push clients by event name.",
	}, []string{"event"})
	droppedEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "boardserver_dropped_events_total",
		Help: "Events dropped because a push client buffer was full.",
	}, []string{"event"})
	pushClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "boardserver_push_clients",
		Help: "Connected push-channel clients.",
	})
)

func init() {
	metrics.Default.MustRegister(requests, broadcasts, droppedEvents, pushClients)
}
