package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RefreshAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsc_session_refresh_total",
			Help: "Session refresh calls by trigger and outcome.",
		},
		[]string{"trigger", "outcome"},
	)

	FetchRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsc_fetch_retries_total",
			Help: "Resilient fetch retries by reason.",
		},
		[]string{"reason"},
	)

	FetchExhaustedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsc_fetch_retries_exhausted_total",
			Help: "Requests that used up their attempt budget, by final reason.",
		},
		[]string{"reason"},
	)

	DedupeCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsc_dedupe_calls_total",
			Help: "Deduplicated lookups by result (leader issued the call, shared joined one in flight).",
		},
		[]string{"result"},
	)

	StorageErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsc_session_storage_errors_total",
			Help: "Swallowed session storage failures by operation.",
		},
		[]string{"op"},
	)

	AuthStateGauge = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tsc_auth_state",
			Help: "1 for the current auth gate state, 0 otherwise.",
		},
		[]string{"state"},
	)
)

var authStates = []string{"checking", "authenticated", "unauthenticated", "error"}

// IncrementRefresh records one session refresh outcome.
func IncrementRefresh(trigger, outcome string) {
	RefreshAttemptsTotal.WithLabelValues(trigger, outcome).Inc()
}

// IncrementFetchRetry records one retry of an internal API request.
func IncrementFetchRetry(reason string) {
	FetchRetriesTotal.WithLabelValues(reason).Inc()
}

// IncrementFetchExhausted records a request that ran out of attempts.
func IncrementFetchExhausted(reason string) {
	FetchExhaustedTotal.WithLabelValues(reason).Inc()
}

// IncrementDedupe records whether a deduplicated call led or joined.
func IncrementDedupe(shared bool) {
	result := "leader"
	if shared {
		result = "shared"
	}
	DedupeCallsTotal.WithLabelValues(result).Inc()
}

// IncrementStorageError records a storage failure the credential store swallowed.
func IncrementStorageError(op string) {
	StorageErrorsTotal.WithLabelValues(op).Inc()
}

// SetAuthState marks state as the current auth gate state.
func SetAuthState(state string) {
	for _, s := range authStates {
		v := 0.0
		if s == state {
			v = 1
		}
		AuthStateGauge.WithLabelValues(s).Set(v)
	}
}
