// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package models

import (
	"time"

	"gonum.org/v1/gonum/stat"
)

// pool reusable object to reduce garbage collection that can affect performance
var pool = NewPool()

// MatchGroup is an ephemeral proposed grouping produced by a single matching
// pass. It is either committed into a Lobby or discarded; it has no lifecycle
// of its own.
type MatchGroup struct {
	MatchType MatchType `json:"match_type"`
	Criteria  Criteria  `json:"criteria"`
	Tickets   []Ticket  `json:"tickets"`
}

func (g MatchGroup) CountPlayer() (count int) {
	for _, t := range g.Tickets {
		count += t.CountPlayer()
	}
	return
}

func (g MatchGroup) TicketIDs() []string {
	ids := make([]string, 0, len(g.Tickets))
	for _, t := range g.Tickets {
		ids = append(ids, t.TicketID)
	}
	return ids
}

func (g MatchGroup) GetMemberUserIDs() []string {
	userIDs := make([]string, 0)
	for _, t := range g.Tickets {
		userIDs = append(userIDs, t.GetMemberUserIDs()...)
	}
	return userIDs
}

func (g MatchGroup) OldestCreatedAt() time.Time {
	var oldest time.Time
	for i, t := range g.Tickets {
		if i == 0 || t.CreatedAt.Before(oldest) {
			oldest = t.CreatedAt
		}
	}
	return oldest
}

// MaxPairwiseSpread is the largest rating difference between any two tickets
// in the group, the primary quality measure for tie-breaking.
func (g MatchGroup) MaxPairwiseSpread() float64 {
	var spread float64
	for i := 0; i < len(g.Tickets); i++ {
		for j := i + 1; j < len(g.Tickets); j++ {
			diff := g.Tickets[i].EffectiveRating() - g.Tickets[j].EffectiveRating()
			if diff < 0 {
				diff = -diff
			}
			if diff > spread {
				spread = diff
			}
		}
	}
	return spread
}

// RatingStdDev is the standard deviation of member-level ratings,
// a secondary quality measure for observability.
func (g MatchGroup) RatingStdDev() float64 {
	ratings := pool.Ratings.Get()
	ratings = ratings[:0]
	defer pool.Ratings.Put(ratings)

	for _, t := range g.Tickets {
		for _, m := range t.Members {
			ratings = append(ratings, m.Rating)
		}
	}
	if len(ratings) < 2 {
		return 0.0
	}
	return stat.StdDev(ratings, nil)
}
