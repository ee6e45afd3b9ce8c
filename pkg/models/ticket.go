// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package models

import (
	"time"

	"github.com/mitchellh/copystructure"
	"github.com/sirupsen/logrus"
)

// MatchType partitions the queue. Each match type is matched independently.
type MatchType string

const (
	MatchTypeRanked MatchType = "ranked"
	MatchTypeCasual MatchType = "casual"
	MatchTypeCustom MatchType = "custom"
)

var matchTypes = []MatchType{MatchTypeRanked, MatchTypeCasual, MatchTypeCustom}

func (m MatchType) Valid() bool {
	for _, t := range matchTypes {
		if m == t {
			return true
		}
	}
	return false
}

// Criteria narrows who a ticket can be grouped with. Empty fields match anything.
// MaxSpread, when set, caps the ticket's rating tolerance: widening stops at
// the cap, so the ticket trades queue time for match quality.
type Criteria struct {
	Region    string   `json:"region,omitempty"`
	GameMode  string   `json:"game_mode,omitempty"`
	MaxSpread *float64 `json:"max_spread,omitempty"`
}

// Matches reports whether two criteria are mutually acceptable.
// A field set on either side must agree with the other side when both are set.
func (c Criteria) Matches(other Criteria) bool {
	if c.Region != "" && other.Region != "" && c.Region != other.Region {
		return false
	}
	if c.GameMode != "" && other.GameMode != "" && c.GameMode != other.GameMode {
		return false
	}
	return true
}

// TicketMember is one player inside a ticket with the rating snapshot taken at enqueue.
type TicketMember struct {
	PlayerID string  `json:"player_id" x-nullable:"false"`
	Rating   float64 `json:"rating"`
}

// Ticket is a request for one player, or one party queuing as a unit,
// to be matched. A party enters and leaves the queue atomically.
type Ticket struct {
	TicketID  string         `json:"ticket_id"`
	MatchType MatchType      `json:"match_type"`
	CreatedAt time.Time      `json:"created_at"`
	Members   []TicketMember `json:"members"`
	Criteria  Criteria       `json:"criteria"`
}

func (t Ticket) CountPlayer() int {
	return len(t.Members)
}

func (t Ticket) GetMemberUserIDs() []string {
	userIDs := make([]string, 0, len(t.Members))
	for _, m := range t.Members {
		userIDs = append(userIDs, m.PlayerID)
	}
	return userIDs
}

// EffectiveRating is the rating used for matching purposes:
// the mean of the party members' rating snapshots.
func (t Ticket) EffectiveRating() float64 {
	if len(t.Members) == 0 {
		return 0.0
	}
	var total float64
	for _, m := range t.Members {
		total += m.Rating
	}
	return total / float64(len(t.Members))
}

func (t Ticket) Validate() error {
	if t.TicketID == "" {
		return NewValidationError("ticket_id", "cannot be empty")
	}
	if !t.MatchType.Valid() {
		return NewValidationError("match_type", "must be one of ranked, casual, custom")
	}
	if len(t.Members) == 0 {
		return NewValidationError("members", "ticket must contain at least one player")
	}
	if t.Criteria.MaxSpread != nil && *t.Criteria.MaxSpread < 0 {
		return NewValidationError("criteria", "max spread cannot be negative")
	}
	seen := make(map[string]struct{}, len(t.Members))
	for _, m := range t.Members {
		if m.PlayerID == "" {
			return NewValidationError("members", "player id cannot be empty")
		}
		if _, dup := seen[m.PlayerID]; dup {
			return NewValidationError("members", "duplicate player id "+m.PlayerID)
		}
		seen[m.PlayerID] = struct{}{}
		if m.Rating < 0 {
			return NewValidationError("members", "rating cannot be negative")
		}
	}
	return nil
}

func (t Ticket) Copy() Ticket {
	copied, err := copystructure.Copy(t)
	if err != nil {
		logrus.Warn("failed copy ticket:", err)
		return t
	}
	copyTicket, _ := copied.(Ticket)
	return copyTicket
}
