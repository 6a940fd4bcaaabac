package observability

import "github.com/prometheus/client_golang/prometheus"

// Domain collectors. Label values are drawn from small fixed sets (channel
// names, outcome kinds, delivery reasons, store names, tag sources) so
// cardinality stays bounded.
var (
	// VerificationCodesIssued counts codes issued, by channel.
	VerificationCodesIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_codes_issued_total",
			Help: "Verification codes issued.",
		},
		[]string{"channel"},
	)

	// VerificationAttempts counts verify calls by channel and outcome
	// (verified, invalid_code, expired, not_found, too_many_attempts, ...).
	VerificationAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_attempts_total",
			Help: "Verification attempts by outcome.",
		},
		[]string{"channel", "outcome"},
	)

	// MessengerDeliveries counts outbound sends by channel and result reason
	// ("ok" on success).
	MessengerDeliveries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messenger_deliveries_total",
			Help: "Outbound messenger sends by result.",
		},
		[]string{"channel", "reason"},
	)

	// SessionsSwept counts sessions evicted by the background sweeper.
	SessionsSwept = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "verification_sessions_swept_total",
			Help: "Expired verification sessions evicted by the sweeper.",
		},
		[]string{"store"},
	)

	// TaggingSourceFailures counts tag sources that failed and contributed nothing.
	TaggingSourceFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tagging_source_failures_total",
			Help: "Tag source calls that failed.",
		},
		[]string{"source"},
	)
)

func init() {
	prometheus.MustRegister(
		VerificationCodesIssued,
		VerificationAttempts,
		MessengerDeliveries,
		SessionsSwept,
		TaggingSourceFailures,
	)
}
