// Package metrics provides Prometheus metrics for the account service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RateLimitedTotal counts requests rejected by a scoped sliding window.
	RateLimitedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "phonegate",
			Name:      "rate_limited_total",
			Help:      "Total number of requests rejected by scoped rate limits",
		},
		[]string{"scope"},
	)

	// OTPSentTotal counts OTP deliveries by result (sent, failed).
	OTPSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "phonegate",
			Name:      "otp_sent_total",
			Help:      "Total number of OTP delivery attempts",
		},
		[]string{"result"},
	)

	// LoginsTotal counts password logins by result (success, wrong_phone, wrong_password, inactive).
	LoginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "phonegate",
			Name:      "logins_total",
			Help:      "Total number of password login attempts",
		},
		[]string{"result"},
	)

	// SessionsIssuedTotal counts session entries created by login, registration or refresh.
	SessionsIssuedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "phonegate",
			Name:      "sessions_issued_total",
			Help:      "Total number of login sessions created",
		},
	)

	// SessionsRevokedTotal counts session entries removed, by reason (logout, logout_all, selected, refresh, delete).
	SessionsRevokedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "phonegate",
			Name:      "sessions_revoked_total",
			Help:      "Total number of login sessions revoked",
		},
		[]string{"reason"},
	)
)
