// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package session tracks running game sessions from handoff until a terminal
// outcome and applies rating adjustments for ranked play.
package session

import (
	"fmt"
	"sync"
	"time"

	"github.com/AccelByte/match-session-core/pkg/common"
	"github.com/AccelByte/match-session-core/pkg/config"
	"github.com/AccelByte/match-session-core/pkg/constants"
	"github.com/AccelByte/match-session-core/pkg/envelope"
	"github.com/AccelByte/match-session-core/pkg/metrics"
	"github.com/AccelByte/match-session-core/pkg/models"
	"github.com/AccelByte/match-session-core/pkg/provision"
	"github.com/AccelByte/match-session-core/pkg/rating"
)

// Now is overridable for deterministic tests.
var Now = time.Now

// Supervisor owns every Session between Start and its terminal state.
// Terminal sessions are retained so retried outcome reports can return the
// stored result instead of double-applying ratings.
type Supervisor struct {
	cfg         *config.Config
	ratings     rating.Store
	provisioner provision.Provisioner
	metrics     metrics.EngineMetrics

	mu       sync.RWMutex
	sessions map[string]*models.Session
	applying map[string]struct{} // session IDs with an outcome report in flight
}

func NewSupervisor(cfg *config.Config, ratings rating.Store, provisioner provision.Provisioner, engineMetrics metrics.EngineMetrics) *Supervisor {
	return &Supervisor{
		cfg:         cfg,
		ratings:     ratings,
		provisioner: provisioner,
		metrics:     engineMetrics,
		sessions:    make(map[string]*models.Session),
		applying:    make(map[string]struct{}),
	}
}

// Start creates an Active session from a lobby that finished provisioning.
// The member list is frozen at this point; later lobby mutations (there are
// none, the lobby is gone) cannot leak in because the slice is deep copied.
func (s *Supervisor) Start(scope *envelope.Scope, lobby models.Lobby, provisioningHandle string, endpoint string) (models.Session, error) {
	scope = scope.NewChildScope("Supervisor.Start")
	defer scope.Finish()

	if len(lobby.Members) == 0 {
		return models.Session{}, models.NewValidationError("members", "cannot start a session with no members")
	}

	now := Now().UTC()
	session := models.Session{
		SessionID:          common.GenerateSortableID(),
		LobbyID:            lobby.LobbyID,
		MatchType:          lobby.MatchType,
		Members:            append([]models.Member(nil), lobby.Members...),
		ProvisioningHandle: provisioningHandle,
		Endpoint:           endpoint,
		State:              models.SessionStateActive,
		StartedAt:          now,
		LastHeartbeatAt:    now,
	}

	s.mu.Lock()
	s.sessions[session.SessionID] = &session
	s.mu.Unlock()

	scope.SetAttributes(envelope.SessionIDTag, session.SessionID)
	scope.Log.
		WithField("sessionId", session.SessionID).
		WithField("lobbyId", lobby.LobbyID).
		WithField("endpoint", endpoint).
		Infof("session started with %d members", len(session.Members))

	return session.Copy(), nil
}

// Heartbeat records runtime liveness. Heartbeats on terminal sessions are
// ignored without error so a slow runtime shutting down stays harmless.
func (s *Supervisor) Heartbeat(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return models.ErrSessionNotFound
	}
	if session.State.Terminal() {
		return nil
	}
	session.LastHeartbeatAt = Now().UTC()
	return nil
}

// ReportOutcome moves an Active session to Completed. Ranked sessions apply
// rating deltas first; the session stays Active until every member's delta is
// durably applied, so a crashed report can be retried. A report against a
// session that is already Completed is a no-op returning the stored result.
// At most one report is applied per session: a report arriving while another
// is mid-application is rejected with a state error rather than queued, since
// the two may carry conflicting outcomes.
func (s *Supervisor) ReportOutcome(scope *envelope.Scope, sessionID string, outcome models.MatchOutcome) (models.Session, error) {
	scope = scope.NewChildScope("Supervisor.ReportOutcome")
	defer scope.Finish()
	scope.SetAttributes(envelope.SessionIDTag, sessionID)

	s.mu.Lock()
	session, ok := s.sessions[sessionID]
	if !ok {
		s.mu.Unlock()
		return models.Session{}, models.ErrSessionNotFound
	}
	if session.State == models.SessionStateCompleted {
		stored := session.Copy()
		s.mu.Unlock()
		scope.Log.WithField("sessionId", sessionID).Info("duplicate outcome report, returning stored result")
		return stored, nil
	}
	if session.State != models.SessionStateActive {
		state := session.State
		s.mu.Unlock()
		return models.Session{}, models.NewStateError("session", sessionID, string(state), "report outcome")
	}
	if err := outcome.ValidateAgainst(session.Members); err != nil {
		s.mu.Unlock()
		return models.Session{}, err
	}
	if _, busy := s.applying[sessionID]; busy {
		s.mu.Unlock()
		return models.Session{}, models.NewStateError("session", sessionID, string(models.SessionStateActive), "report outcome while a report is being applied")
	}
	s.applying[sessionID] = struct{}{}
	snapshot := session.Copy()
	s.mu.Unlock()

	// Rating writes happen outside the lock; the applying guard keeps a
	// second report from interleaving a conflicting delta batch, and the
	// store's per-(session, player) idempotency covers a crashed retry.
	if snapshot.MatchType == models.MatchTypeRanked {
		if err := s.applyRatings(scope, snapshot, outcome); err != nil {
			s.mu.Lock()
			delete(s.applying, sessionID)
			s.mu.Unlock()
			return models.Session{}, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.applying, sessionID)
	if session.State != models.SessionStateActive {
		// failed or abandoned while the ratings were being written
		return models.Session{}, models.NewStateError("session", sessionID, string(session.State), "report outcome")
	}
	session.State = models.SessionStateCompleted
	session.Outcome = &outcome
	session.EndedAt = Now().UTC()
	result := session.Copy()

	s.releaseRuntime(session.ProvisioningHandle)
	if s.metrics != nil {
		s.metrics.AddSessionOutcome(string(session.MatchType), string(models.SessionStateCompleted))
	}
	scope.Log.WithField("sessionId", sessionID).Info("session completed")
	return result, nil
}

// Fail moves an Active session to Failed with a reason. No rating change;
// members are offered a requeue when configured.
func (s *Supervisor) Fail(scope *envelope.Scope, sessionID string, reason string) (models.Session, error) {
	scope = scope.NewChildScope("Supervisor.Fail")
	defer scope.Finish()
	scope.SetAttributes(envelope.SessionIDTag, sessionID)

	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok {
		return models.Session{}, models.ErrSessionNotFound
	}
	if session.State != models.SessionStateActive {
		return models.Session{}, models.NewStateError("session", sessionID, string(session.State), "fail")
	}

	session.State = models.SessionStateFailed
	session.FailReason = reason
	session.EndedAt = Now().UTC()
	session.RequeueOffered = s.cfg.RequeueOnSessionFailure
	result := session.Copy()

	s.releaseRuntime(session.ProvisioningHandle)
	if s.metrics != nil {
		s.metrics.AddSessionOutcome(string(session.MatchType), string(models.SessionStateFailed))
	}
	scope.Log.
		WithField("sessionId", sessionID).
		WithField("reason", reason).
		Warn("session failed")
	return result, nil
}

// SweepHeartbeats abandons Active sessions whose runtime went silent for
// longer than the heartbeat timeout. Returns the abandoned sessions.
func (s *Supervisor) SweepHeartbeats(scope *envelope.Scope) []models.Session {
	scope = scope.NewChildScope("Supervisor.SweepHeartbeats")
	defer scope.Finish()

	deadline := Now().UTC().Add(-s.cfg.HeartbeatTimeout())

	s.mu.Lock()
	defer s.mu.Unlock()

	var abandoned []models.Session
	for _, session := range s.sessions {
		if session.State != models.SessionStateActive {
			continue
		}
		if !session.LastHeartbeatAt.Before(deadline) {
			continue
		}
		session.State = models.SessionStateAbandoned
		session.FailReason = constants.FailReasonRuntimeLost
		session.EndedAt = Now().UTC()
		session.RequeueOffered = s.cfg.RequeueOnSessionAbandonment
		abandoned = append(abandoned, session.Copy())

		s.releaseRuntime(session.ProvisioningHandle)
		if s.metrics != nil {
			s.metrics.AddSessionOutcome(string(session.MatchType), string(models.SessionStateAbandoned))
		}
		scope.Log.
			WithField("sessionId", session.SessionID).
			WithField("lastHeartbeatAt", session.LastHeartbeatAt).
			Warn("session abandoned, no heartbeat")
	}
	return abandoned
}

// Get returns a copy of the session, terminal or not.
func (s *Supervisor) Get(sessionID string) (models.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[sessionID]
	if !ok {
		return models.Session{}, models.ErrSessionNotFound
	}
	return session.Copy(), nil
}

// applyRatings computes group-relative deltas and writes each one through the
// store with bounded retries. A partial batch is safe to re-run: the store
// skips deltas it already applied for this session.
func (s *Supervisor) applyRatings(scope *envelope.Scope, session models.Session, outcome models.MatchOutcome) error {
	records := make(map[string]models.PlayerRating, len(session.Members))
	for _, member := range session.Members {
		record, err := s.getRatingWithRetry(scope, member.PlayerID)
		if err != nil {
			return err
		}
		records[member.PlayerID] = record
	}

	deltas := rating.GroupRelativeDeltas(s.cfg, records, outcome)
	for _, member := range session.Members {
		delta := deltas[member.PlayerID]
		if err := s.applyDeltaWithRetry(scope, session.SessionID, member.PlayerID, delta); err != nil {
			return err
		}
		scope.Log.
			WithField("sessionId", session.SessionID).
			WithField("playerId", member.PlayerID).
			WithField("delta", delta).
			Debug("rating delta applied")
	}
	return nil
}

func (s *Supervisor) getRatingWithRetry(scope *envelope.Scope, playerID string) (models.PlayerRating, error) {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.RatingApplyMaxRetry; attempt++ {
		record, err := s.ratings.GetRating(scope.Ctx, playerID)
		if err == nil {
			return record, nil
		}
		lastErr = err
		scope.Log.WithError(err).
			WithField("playerId", playerID).
			Warnf("rating read failed, attempt %d/%d", attempt, s.cfg.RatingApplyMaxRetry)
	}
	return models.PlayerRating{}, models.ExternalFailure("get rating", fmt.Errorf("player %s: %w", playerID, lastErr))
}

func (s *Supervisor) applyDeltaWithRetry(scope *envelope.Scope, sessionID, playerID string, delta float64) error {
	var lastErr error
	for attempt := 1; attempt <= s.cfg.RatingApplyMaxRetry; attempt++ {
		err := s.ratings.ApplyRatingDelta(scope.Ctx, sessionID, playerID, delta)
		if err == nil {
			return nil
		}
		lastErr = err
		scope.Log.WithError(err).
			WithField("playerId", playerID).
			Warnf("rating write failed, attempt %d/%d", attempt, s.cfg.RatingApplyMaxRetry)
	}
	return models.ExternalFailure("apply rating delta", fmt.Errorf("player %s: %w", playerID, lastErr))
}

// releaseRuntime requires s.mu held only for session bookkeeping; the release
// call itself is fire-and-forget toward the provisioner.
func (s *Supervisor) releaseRuntime(handle string) {
	if handle == "" || s.provisioner == nil {
		return
	}
	s.provisioner.ReleaseProvision(provision.Handle(handle))
}
