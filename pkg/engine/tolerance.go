// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package engine

import (
	"time"

	"github.com/AccelByte/match-session-core/pkg/config"
)

// ToleranceAt returns the rating tolerance of a ticket that has been waiting
// for waitTime. The tolerance starts at the configured initial band and
// widens by a fixed step for every full widening interval waited. It is
// monotonic in waitTime and clamped to the configured ceiling; at the
// ceiling rating difference no longer blocks a match.
func ToleranceAt(cfg *config.Config, waitTime time.Duration) float64 {
	if waitTime < 0 {
		waitTime = 0
	}
	steps := int64(0)
	if every := cfg.ToleranceWidenEvery(); every > 0 {
		steps = int64(waitTime / every)
	}
	tolerance := cfg.ToleranceInitial + float64(steps)*cfg.ToleranceWidenStep
	if tolerance > cfg.ToleranceMax {
		tolerance = cfg.ToleranceMax
	}
	return tolerance
}
