// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type prometheusMetrics struct {
	ticketsInQueue       prometheus.GaugeVec
	lobbiesInState       prometheus.GaugeVec
	matchPassElapsedTime prometheus.HistogramVec
	unmatchedReasons     prometheus.CounterVec
	sessionOutcomes      prometheus.CounterVec
}

func setupPrometheusMetrics(registry *prometheus.Registry) prometheusMetrics {
	factory := promauto.With(registry)

	ticketsInQueue := factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ab_msc_tickets_in_queue",
			Help: "Number of tickets currently waiting in the match queue",
		}, []string{"match_type"})

	lobbiesInState := factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "ab_msc_lobbies_in_state",
			Help: "Number of live lobbies per state",
		}, []string{"state"})

	//nolint:promlinter
	matchPassElapsedTime := factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ab_msc_match_pass_elapsed_time_ms",
			Help:    "A histogram of matching pass elapsed time in milliseconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10),
		}, []string{"match_type"})

	unmatchedReasons := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ab_msc_unmatched_reasons",
			Help: "Counter of reasons tickets were left unmatched by a pass",
		}, []string{"match_type", "reason"})

	sessionOutcomes := factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ab_msc_session_outcomes",
			Help: "Counter of terminal session outcomes",
		}, []string{"match_type", "outcome"})

	return prometheusMetrics{
		ticketsInQueue:       *ticketsInQueue,
		lobbiesInState:       *lobbiesInState,
		matchPassElapsedTime: *matchPassElapsedTime,
		unmatchedReasons:     *unmatchedReasons,
		sessionOutcomes:      *sessionOutcomes,
	}
}

func (m prometheusMetrics) TicketsInQueue(matchType string, count int) {
	m.ticketsInQueue.With(prometheus.Labels{"match_type": matchType}).Set(float64(count))
}

func (m prometheusMetrics) LobbiesInState(state string, count int) {
	m.lobbiesInState.With(prometheus.Labels{"state": state}).Set(float64(count))
}

func (m prometheusMetrics) AddMatchPassElapsedTimeMs(matchType string, elapsedTime time.Duration) {
	m.matchPassElapsedTime.With(prometheus.Labels{"match_type": matchType}).Observe(float64(elapsedTime.Milliseconds()))
}

func (m prometheusMetrics) AddUnmatchedReason(matchType string, reason string) {
	m.unmatchedReasons.With(prometheus.Labels{"match_type": matchType, "reason": reason}).Add(float64(1))
}

func (m prometheusMetrics) AddSessionOutcome(matchType string, outcome string) {
	m.sessionOutcomes.With(prometheus.Labels{"match_type": matchType, "outcome": outcome}).Add(float64(1))
}
