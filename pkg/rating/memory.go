// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package rating

import (
	"context"
	"sync"
	"time"

	"github.com/AccelByte/match-session-core/pkg/models"
)

// Now is overridable for deterministic tests.
var Now = time.Now

const (
	defaultRating      = 1000.0
	defaultUncertainty = 350.0

	// uncertainty shrinks with every recorded game, floored so ratings
	// never stop moving entirely
	uncertaintyDecay = 15.0
	uncertaintyFloor = 50.0
)

// MemoryStore is the reference Store implementation. Unknown players get a
// default rating on first read. The idempotency ledger is keyed by
// (sessionID, playerID).
type MemoryStore struct {
	mu      sync.Mutex
	ratings map[string]models.PlayerRating
	applied map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		ratings: make(map[string]models.PlayerRating),
		applied: make(map[string]struct{}),
	}
}

func (s *MemoryStore) GetRating(_ context.Context, playerID string) (models.PlayerRating, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getLocked(playerID), nil
}

func (s *MemoryStore) ApplyRatingDelta(_ context.Context, sessionID string, playerID string, delta float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := sessionID + "/" + playerID
	if _, done := s.applied[key]; done {
		return nil
	}
	s.applied[key] = struct{}{}

	record := s.getLocked(playerID)
	record.Rating += delta
	record.GamesPlayed++
	record.Uncertainty -= uncertaintyDecay
	if record.Uncertainty < uncertaintyFloor {
		record.Uncertainty = uncertaintyFloor
	}
	record.UpdatedAt = Now()
	s.ratings[playerID] = record
	return nil
}

// Seed installs a rating record directly, bypassing the delta contract.
// Intended for bootstrap and tests.
func (s *MemoryStore) Seed(record models.PlayerRating) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings[record.PlayerID] = record
}

func (s *MemoryStore) getLocked(playerID string) models.PlayerRating {
	if record, ok := s.ratings[playerID]; ok {
		return record
	}
	return models.PlayerRating{
		PlayerID:    playerID,
		Rating:      defaultRating,
		Uncertainty: defaultUncertainty,
	}
}
