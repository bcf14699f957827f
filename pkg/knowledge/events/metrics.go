package events

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/tendant/simple-knowledge/pkg/knowledge"
)

type metricsSink struct {
	uploads   *prometheus.CounterVec
	reviews   *prometheus.CounterVec
	downloads *prometheus.CounterVec
	votes     *prometheus.CounterVec
}

// NewMetricsSink registers the package counters on reg.
func NewMetricsSink(reg prometheus.Registerer) knowledge.EventSink {
	factory := promauto.With(reg)
	return adapter{&metricsSink{
		uploads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "knowledge_uploads_total",
			Help: "Accepted package uploads by category.",
		}, []string{"category"}),
		reviews: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "knowledge_reviews_total",
			Help: "Moderation decisions by outcome.",
		}, []string{"decision"}),
		downloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "knowledge_downloads_total",
			Help: "Package downloads by category.",
		}, []string{"category"}),
		votes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "knowledge_votes_total",
			Help: "Votes by direction.",
		}, []string{"direction"}),
	}}
}

func (s *metricsSink) publish(_ context.Context, eventType string, p Payload) error {
	switch eventType {
	case TypeUploaded:
		s.uploads.WithLabelValues(p.Category).Inc()
	case TypeApproved:
		s.reviews.WithLabelValues("approved").Inc()
	case TypeRejected:
		s.reviews.WithLabelValues("rejected").Inc()
	case TypeDownloaded:
		s.downloads.WithLabelValues(p.Category).Inc()
	case TypeVoted:
		s.votes.WithLabelValues(p.Direction).Inc()
	}
	return nil
}
