// Package metrics exposes Prometheus collectors for the sync and transport
// subsystems.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectedClients tracks currently open WebSocket connections.
	ConnectedClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "celebeaty",
		Name:      "websocket_clients",
		Help:      "Number of connected WebSocket clients.",
	})

	// LiveSenders tracks senders currently sharing playback.
	LiveSenders = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "celebeaty",
		Name:      "live_senders",
		Help:      "Number of senders currently broadcasting.",
	})

	// SyncEventsEmitted counts sync events by kind (track, pause).
	SyncEventsEmitted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "celebeaty",
		Name:      "sync_events_emitted_total",
		Help:      "Sync events emitted by senders.",
	}, []string{"kind"})

	// ProviderCalls counts outbound provider API calls by operation.
	ProviderCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "celebeaty",
		Name:      "provider_calls_total",
		Help:      "Provider API calls by operation.",
	}, []string{"op"})

	// TokenRefreshes counts refresh-token exchanges by outcome.
	TokenRefreshes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "celebeaty",
		Name:      "token_refreshes_total",
		Help:      "Refresh-token exchanges by outcome.",
	}, []string{"outcome"})

	// MessagesDropped counts outbound messages dropped on slow connections.
	MessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "celebeaty",
		Name:      "messages_dropped_total",
		Help:      "Outbound realtime messages dropped due to full client buffers.",
	})
)

// Handler returns the HTTP handler serving the metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
