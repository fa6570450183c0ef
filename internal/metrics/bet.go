package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	betTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "coinflip_bets_total",
			Help: "Total bet requests by result and chosen side",
		},
		[]string{"result", "chosen"},
	)

	betDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "coinflip_bet_duration_ms",
			Help:    "Bet settlement duration in milliseconds",
			Buckets: prometheus.ExponentialBuckets(5, 2, 10),
		},
		[]string{"result"},
	)
)

// RecordBet records business metrics for one settlement attempt.
// result is one of "won", "lost", or "rejected".
func RecordBet(result string, chosen string, started time.Time) {
	betTotal.WithLabelValues(result, chosen).Inc()
	betDuration.WithLabelValues(result).Observe(float64(time.Since(started).Milliseconds()))
}
