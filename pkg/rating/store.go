// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package rating carries the external rating-store contract and the
// confidence-aware adjustment used for ranked sessions.
package rating

import (
	"context"

	"github.com/AccelByte/match-session-core/pkg/models"
)

// Store is the external collaborator that owns PlayerRating records.
// ApplyRatingDelta must be idempotent per (sessionID, playerID) so retried
// outcome reports cannot double-apply an adjustment.
type Store interface {
	GetRating(ctx context.Context, playerID string) (models.PlayerRating, error)
	ApplyRatingDelta(ctx context.Context, sessionID string, playerID string, delta float64) error
}
