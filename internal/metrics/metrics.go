// Package metrics exposes the bot's Prometheus instruments. All
// collectors are registered on the default registry and served by the
// control plane's /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesReceived counts inbound envelopes by content kind.
	MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_messages_received_total",
		Help: "Inbound message envelopes by content kind.",
	}, []string{"kind"})

	// CommandsDispatched counts routed command invocations by outcome.
	CommandsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_commands_dispatched_total",
		Help: "Command invocations by plugin and outcome.",
	}, []string{"plugin", "outcome"})

	// Reconnects counts connection attempts by disconnect cause.
	Reconnects = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_reconnects_total",
		Help: "Reconnection attempts by prior disconnect cause.",
	}, []string{"cause"})

	// RateLimited counts silently dropped over-limit commands.
	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "hermes_rate_limited_total",
		Help: "Commands dropped by the per-user rate limiter.",
	})

	// ConnectionUp is 1 while the transport session is open.
	ConnectionUp = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hermes_connection_up",
		Help: "Whether the transport session is currently open.",
	})

	// PluginsLoaded tracks the number of enabled plugins.
	PluginsLoaded = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hermes_plugins_loaded",
		Help: "Enabled plugins in the live registry snapshot.",
	})

	// ScheduledJobs tracks live cron entries.
	ScheduledJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "hermes_scheduled_jobs",
		Help: "Live scheduled jobs.",
	})

	// PluginErrors counts plugin run failures.
	PluginErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "hermes_plugin_errors_total",
		Help: "Plugin run invocations that returned an error.",
	}, []string{"plugin"})
)
