// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package models

import (
	"time"

	"github.com/mitchellh/copystructure"
	"github.com/sirupsen/logrus"
)

// SessionState is the session state machine. Active is the only
// non-terminal state.
type SessionState string

const (
	SessionStateActive    SessionState = "active"
	SessionStateCompleted SessionState = "completed"
	SessionStateAbandoned SessionState = "abandoned"
	SessionStateFailed    SessionState = "failed"
)

var sessionTransitions = map[SessionState][]SessionState{
	SessionStateActive:    {SessionStateCompleted, SessionStateAbandoned, SessionStateFailed},
	SessionStateCompleted: {},
	SessionStateAbandoned: {},
	SessionStateFailed:    {},
}

func (s SessionState) CanTransition(to SessionState) bool {
	for _, next := range sessionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s SessionState) Terminal() bool {
	return len(sessionTransitions[s]) == 0
}

// MatchOutcome is the reported result of a finished game.
// A draw carries neither winners nor losers.
type MatchOutcome struct {
	WinnerIDs []string `json:"winner_ids,omitempty"`
	LoserIDs  []string `json:"loser_ids,omitempty"`
	Draw      bool     `json:"draw,omitempty"`
}

// ValidateAgainst checks the outcome only names session members and that
// nobody is both a winner and a loser.
func (o MatchOutcome) ValidateAgainst(members []Member) error {
	if o.Draw && (len(o.WinnerIDs) > 0 || len(o.LoserIDs) > 0) {
		return NewValidationError("outcome", "a draw cannot name winners or losers")
	}
	if !o.Draw && len(o.WinnerIDs) == 0 && len(o.LoserIDs) == 0 {
		return NewValidationError("outcome", "outcome must name winners, losers, or be a draw")
	}
	memberSet := make(map[string]struct{}, len(members))
	for _, m := range members {
		memberSet[m.PlayerID] = struct{}{}
	}
	winnerSet := make(map[string]struct{}, len(o.WinnerIDs))
	for _, id := range o.WinnerIDs {
		if _, ok := memberSet[id]; !ok {
			return NewValidationError("outcome", "winner "+id+" is not a session member")
		}
		winnerSet[id] = struct{}{}
	}
	for _, id := range o.LoserIDs {
		if _, ok := memberSet[id]; !ok {
			return NewValidationError("outcome", "loser "+id+" is not a session member")
		}
		if _, both := winnerSet[id]; both {
			return NewValidationError("outcome", "player "+id+" cannot both win and lose")
		}
	}
	return nil
}

// Session is the tracked runtime of a started game instance, bound
// one-to-one to the lobby that produced it. The member list is frozen at
// creation. The Session Supervisor is its sole mutator.
type Session struct {
	SessionID          string        `json:"session_id"`
	LobbyID            string        `json:"lobby_id"`
	MatchType          MatchType     `json:"match_type"`
	Members            []Member      `json:"members"`
	ProvisioningHandle string        `json:"provisioning_handle"`
	Endpoint           string        `json:"endpoint,omitempty"`
	State              SessionState  `json:"state"`
	StartedAt          time.Time     `json:"started_at"`
	EndedAt            time.Time     `json:"ended_at,omitempty"`
	LastHeartbeatAt    time.Time     `json:"last_heartbeat_at,omitempty"`
	Outcome            *MatchOutcome `json:"outcome,omitempty"`
	FailReason         string        `json:"fail_reason,omitempty"`
	RequeueOffered     bool          `json:"requeue_offered"`
}

func (s Session) GetMemberUserIDs() []string {
	userIDs := make([]string, 0, len(s.Members))
	for _, m := range s.Members {
		userIDs = append(userIDs, m.PlayerID)
	}
	return userIDs
}

func (s Session) Copy() Session {
	copied, err := copystructure.Copy(s)
	if err != nil {
		logrus.Warn("failed copy session:", err)
		return s
	}
	session, _ := copied.(Session)
	return session
}
