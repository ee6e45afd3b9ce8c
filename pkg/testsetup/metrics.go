package testsetup

import (
	"time"

	"github.com/AccelByte/match-session-core/pkg/metrics"
)

type stubMetricsCollection struct{}

func (s stubMetricsCollection) TicketsInQueue(matchType string, count int) {}

func (s stubMetricsCollection) LobbiesInState(state string, count int) {}

func (s stubMetricsCollection) AddMatchPassElapsedTimeMs(matchType string, elapsedTime time.Duration) {
}

func (s stubMetricsCollection) AddUnmatchedReason(matchType string, reason string) {}

func (s stubMetricsCollection) AddSessionOutcome(matchType string, outcome string) {}

func NewMetrics() metrics.EngineMetrics {
	return stubMetricsCollection{}
}
