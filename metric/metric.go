// Package metric exposes prometheus counters for the session lifecycle on a
// dedicated listener, separate from the public API port.
package metric

import (
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	SessionsStarted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bounty_sessions_started_total",
		Help: "Sessions created via /v1/session/start",
	})
	SessionsExpired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bounty_sessions_expired_total",
		Help: "Sessions sealed as expired (lazy check or sweeper)",
	})
	SessionsCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bounty_sessions_cancelled_total",
		Help: "Sessions finished with a non-success outcome",
	})
	SessionsFinished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bounty_sessions_finished_total",
		Help: "Sessions finished successfully after redemption",
	})
	CodesIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bounty_checkpoint_codes_issued_total",
		Help: "One-time codes issued, including re-issuances",
	})
	CheckpointsRedeemed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bounty_checkpoints_redeemed_total",
		Help: "Checkpoints redeemed (idempotent replays excluded)",
	})
)

// Serve blocks on a plain net/http listener serving /metrics.
func Serve(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Printf("[metric] listener error: %v", err)
	}
}
