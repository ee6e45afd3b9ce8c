// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package models

import "time"

// PlayerRating is the skill statistic owned by the rating store. Only the
// Session Supervisor writes it, and only through the store's delta contract.
type PlayerRating struct {
	PlayerID    string    `json:"player_id"`
	Rating      float64   `json:"rating"`
	Uncertainty float64   `json:"uncertainty"`
	GamesPlayed int       `json:"games_played"`
	UpdatedAt   time.Time `json:"updated_at"`
}
