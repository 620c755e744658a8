package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_uploads_total",
		Help: "Uploads processed, by file type and outcome.",
	}, []string{"file_type", "outcome"})

	ChatRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_chat_requests_total",
		Help: "Chat requests, by mode (full or stream) and outcome.",
	}, []string{"mode", "outcome"})

	ProviderErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchat_provider_errors_total",
		Help: "Upstream AI provider failures, by operation.",
	}, []string{"operation"})

	UploadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docchat_upload_processing_seconds",
		Help:    "Wall time of the upload processing pipeline.",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	})
)
