package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "swarmtrace"

var (
	ConnectionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "connections_total",
		Help:      "Tracer client connections accepted",
	})

	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "connections_active",
		Help:      "Tracer client connections currently open",
	})

	// EventsReceived is labelled by event id; events without an id use "none".
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "events_total",
		Help:      "Trace events received from tracer clients",
	}, []string{"event_id"})

	// NotesWritten labels: kind (new_session, skipped, out_of_order, socket_error)
	NotesWritten = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "notes_total",
		Help:      "Session notes persisted by the tracer server",
	}, []string{"kind"})

	SkippedMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "server",
		Name:      "skipped_messages_total",
		Help:      "Trace numbers missing between consecutive events of one session",
	})

	SinkErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "sink",
		Name:      "errors_total",
		Help:      "Failed writes per persistence sink",
	}, []string{"sink"})

	GraphEdges = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "graph",
		Name:      "edges",
		Help:      "Open streams in the connection graph, counting duplicates",
	})

	// RenderJobs labels: result (rendered, skipped, failed)
	RenderJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "render",
		Name:      "jobs_total",
		Help:      "Diagram render jobs by result",
	}, []string{"result"})

	RenderDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "render",
		Name:      "duration_seconds",
		Help:      "Time spent in the diagram renderer",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})
)
