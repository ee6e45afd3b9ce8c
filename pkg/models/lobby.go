// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package models

import (
	"time"

	"github.com/mitchellh/copystructure"
	"github.com/sirupsen/logrus"
)

// LobbyState is the lobby state machine. Transitions are explicit,
// everything else is rejected with a StateError.
type LobbyState string

const (
	LobbyStateForming   LobbyState = "forming"
	LobbyStateReady     LobbyState = "ready"
	LobbyStateStarting  LobbyState = "starting"
	LobbyStateStarted   LobbyState = "started"
	LobbyStateCancelled LobbyState = "cancelled"
)

var lobbyTransitions = map[LobbyState][]LobbyState{
	LobbyStateForming:   {LobbyStateReady, LobbyStateCancelled},
	LobbyStateReady:     {LobbyStateForming, LobbyStateStarting, LobbyStateCancelled},
	LobbyStateStarting:  {LobbyStateStarted, LobbyStateCancelled},
	LobbyStateStarted:   {},
	LobbyStateCancelled: {},
}

func (s LobbyState) CanTransition(to LobbyState) bool {
	for _, next := range lobbyTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func (s LobbyState) Terminal() bool {
	return len(lobbyTransitions[s]) == 0
}

// Member is a player inside a lobby with their readiness flag.
type Member struct {
	PlayerID string    `json:"player_id" x-nullable:"false"`
	Rating   float64   `json:"rating"`
	Ready    bool      `json:"ready"`
	JoinedAt time.Time `json:"joined_at"`
}

// LobbySettings are host-supplied for custom lobbies and derived from the
// match type otherwise.
type LobbySettings struct {
	TargetSize int    `json:"target_size"`
	Region     string `json:"region,omitempty"`
	GameMode   string `json:"game_mode,omitempty"`
	HostID     string `json:"host_id,omitempty"` // set for custom lobbies only
}

func (s LobbySettings) Validate() error {
	if s.TargetSize < 1 {
		return NewValidationError("target_size", "must be at least 1")
	}
	return nil
}

func (s LobbySettings) Copy() LobbySettings {
	copied, err := copystructure.Copy(s)
	if err != nil {
		logrus.Warn("failed copy lobby settings:", err)
		return s
	}
	settings, _ := copied.(LobbySettings)
	return settings
}

// DerivedSettings builds settings for an engine-committed lobby from the
// group's match type and criteria.
func DerivedSettings(criteria Criteria, targetSize int) LobbySettings {
	return LobbySettings{
		TargetSize: targetSize,
		Region:     criteria.Region,
		GameMode:   criteria.GameMode,
	}
}

// Lobby is a game-session-to-be. The Lobby Manager is its sole mutator.
type Lobby struct {
	LobbyID       string        `json:"lobby_id"`
	MatchType     MatchType     `json:"match_type"`
	Settings      LobbySettings `json:"settings"`
	State         LobbyState    `json:"state"`
	Members       []Member      `json:"members"`
	Tickets       []Ticket      `json:"tickets"` // source tickets, kept so requeue preserves wait time
	CreatedAt     time.Time     `json:"created_at"`
	ReadyAt       time.Time     `json:"ready_at,omitempty"`
	CancelReason  string        `json:"cancel_reason,omitempty"`
	NeedsBackfill bool          `json:"needs_backfill"`
}

func (l Lobby) CountPlayer() int {
	return len(l.Members)
}

func (l Lobby) IsFull() bool {
	return len(l.Members) >= l.Settings.TargetSize
}

func (l Lobby) AllReady() bool {
	for _, m := range l.Members {
		if !m.Ready {
			return false
		}
	}
	return len(l.Members) > 0
}

func (l Lobby) HasMember(playerID string) bool {
	for _, m := range l.Members {
		if m.PlayerID == playerID {
			return true
		}
	}
	return false
}

func (l Lobby) GetMemberUserIDs() []string {
	userIDs := make([]string, 0, len(l.Members))
	for _, m := range l.Members {
		userIDs = append(userIDs, m.PlayerID)
	}
	return userIDs
}

func (l Lobby) Copy() Lobby {
	copied, err := copystructure.Copy(l)
	if err != nil {
		logrus.Warn("failed copy lobby:", err)
		return l
	}
	lobby, _ := copied.(Lobby)
	return lobby
}
