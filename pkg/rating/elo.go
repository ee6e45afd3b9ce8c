// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package rating

import (
	"math"

	"github.com/AccelByte/match-session-core/pkg/config"
	"github.com/AccelByte/match-session-core/pkg/mathutil"
	"github.com/AccelByte/match-session-core/pkg/models"
)

// GroupRelativeDeltas computes one rating delta per named player using a
// group-relative Elo adjustment: each player's expected score is taken
// against the mean rating of the opposing outcome group, and the K factor
// scales with the player's uncertainty so low-confidence ratings move faster.
// Winners' deltas are positive, losers' negative; a draw moves everyone
// toward the overall mean.
func GroupRelativeDeltas(cfg *config.Config, ratings map[string]models.PlayerRating, outcome models.MatchOutcome) map[string]float64 {
	deltas := make(map[string]float64, len(outcome.WinnerIDs)+len(outcome.LoserIDs))

	if outcome.Draw {
		mean := meanRating(ratings, keys(ratings))
		for playerID, record := range ratings {
			deltas[playerID] = kFactor(cfg, record) * (0.5 - expectedScore(record.Rating, mean))
		}
		return deltas
	}

	winnerMean := meanRating(ratings, outcome.WinnerIDs)
	loserMean := meanRating(ratings, outcome.LoserIDs)

	for _, playerID := range outcome.WinnerIDs {
		record := ratings[playerID]
		deltas[playerID] = kFactor(cfg, record) * (1.0 - expectedScore(record.Rating, loserMean))
	}
	for _, playerID := range outcome.LoserIDs {
		record := ratings[playerID]
		deltas[playerID] = kFactor(cfg, record) * (0.0 - expectedScore(record.Rating, winnerMean))
	}
	return deltas
}

// expectedScore is the standard logistic Elo expectation of a player rated
// r against an opponent rated opp.
func expectedScore(r, opp float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (opp-r)/400.0))
}

func kFactor(cfg *config.Config, record models.PlayerRating) float64 {
	ref := cfg.RatingUncertaintyRef
	if ref <= 0 {
		ref = 350.0
	}
	k := cfg.RatingKFactorBase * (record.Uncertainty / ref)
	return mathutil.Clamp(k, 1.0, cfg.RatingKFactorMax)
}

func meanRating(ratings map[string]models.PlayerRating, playerIDs []string) float64 {
	if len(playerIDs) == 0 {
		return 0.0
	}
	var total float64
	for _, id := range playerIDs {
		total += ratings[id].Rating
	}
	return total / float64(len(playerIDs))
}

func keys(ratings map[string]models.PlayerRating) []string {
	ids := make([]string, 0, len(ratings))
	for id := range ratings {
		ids = append(ids, id)
	}
	return ids
}
