// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type EngineMetrics interface {
	TicketsInQueue(matchType string, count int)
	LobbiesInState(state string, count int)
	AddMatchPassElapsedTimeMs(matchType string, elapsedTime time.Duration)
	AddUnmatchedReason(matchType string, reason string)
	AddSessionOutcome(matchType string, outcome string)
}

func NewMetrics(registry *prometheus.Registry) EngineMetrics {
	return setupPrometheusMetrics(registry)
}
