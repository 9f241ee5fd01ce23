package handlers

import (
	"context"
	"time"

	"github.com/isotope/ragatouille/internal/chat"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus metrics for the chat widget and the test-case board.
type Metrics struct {
	// RetrievalRequests counts retrieval calls.
	// Labels: status (success|error)
	RetrievalRequests *prometheus.CounterVec

	// RetrievalDuration measures retrieval latency in seconds.
	RetrievalDuration prometheus.Histogram

	// ChatMessages counts messages added to the chat log.
	// Labels: sender (user|bot)
	ChatMessages *prometheus.CounterVec

	// Evaluations counts test-case evaluations.
	// Labels: status (success|error)
	Evaluations *prometheus.CounterVec

	// CSVImports counts test-case sheet uploads.
	// Labels: status (success|error)
	CSVImports *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		RetrievalRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragatouille_retrieval_requests_total",
				Help: "Total number of retrieval requests by status",
			},
			[]string{"status"},
		),
		RetrievalDuration: f.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ragatouille_retrieval_duration_seconds",
				Help:    "Duration of retrieval requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
		),
		ChatMessages: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragatouille_chat_messages_total",
				Help: "Total number of chat messages by sender",
			},
			[]string{"sender"},
		),
		Evaluations: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragatouille_testcase_evaluations_total",
				Help: "Total number of test-case evaluations by status",
			},
			[]string{"status"},
		),
		CSVImports: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ragatouille_csv_imports_total",
				Help: "Total number of test-case CSV imports by status",
			},
			[]string{"status"},
		),
	}
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Retriever wraps r so every call is counted and timed.
func (mt *Metrics) Retriever(r chat.Retriever) chat.Retriever {
	if mt == nil {
		return r
	}
	return instrumentedRetriever{next: r, metrics: mt}
}

func (mt *Metrics) chatMessage(isBot bool) {
	if mt == nil {
		return
	}
	sender := "user"
	if isBot {
		sender = "bot"
	}
	mt.ChatMessages.WithLabelValues(sender).Inc()
}

func (mt *Metrics) evaluation(err error) {
	if mt == nil {
		return
	}
	mt.Evaluations.WithLabelValues(status(err)).Inc()
}

func (mt *Metrics) csvImport(err error) {
	if mt == nil {
		return
	}
	mt.CSVImports.WithLabelValues(status(err)).Inc()
}

type instrumentedRetriever struct {
	next    chat.Retriever
	metrics *Metrics
}

func (i instrumentedRetriever) Retrieve(ctx context.Context, query string) (chat.Retrieval, error) {
	start := time.Now()
	res, err := i.next.Retrieve(ctx, query)
	i.metrics.RetrievalDuration.Observe(time.Since(start).Seconds())
	i.metrics.RetrievalRequests.WithLabelValues(status(err)).Inc()
	return res, err
}
