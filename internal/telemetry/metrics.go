// Package telemetry holds the process's structured logging setup and
// Prometheus metrics, grounded on this codebase's observability package
// (same promauto registration style, renamed to the sensor's own domain
// counters/gauges/histograms).
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	FramesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sensor",
		Name:      "frames_processed_total",
		Help:      "Total number of frames processed by the pipeline worker",
	})

	FacesDetected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "sensor",
		Name:      "faces_detected_total",
		Help:      "Total number of frames on which a face was detected",
	})

	PostureTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sensor",
		Name:      "posture_transitions_total",
		Help:      "Total number of committed posture state changes",
	}, []string{"from", "to"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sensor",
		Name:      "inference_duration_seconds",
		Help:      "Duration of detector/feature/fusion pipeline stages",
		Buckets:   prometheus.ExponentialBuckets(0.0005, 2, 12),
	}, []string{"stage"})

	FrameLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sensor",
		Name:      "frame_latency_seconds",
		Help:      "End-to-end per-frame pipeline latency",
		Buckets:   prometheus.DefBuckets,
	})

	QoSProcScale = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sensor",
		Name:      "qos_proc_scale",
		Help:      "Current QoS processing resolution scale",
	})

	QoSOverload = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sensor",
		Name:      "qos_overload",
		Help:      "1 if the QoS controller currently considers the pipeline overloaded",
	})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "sensor",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "sensor",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})
)
