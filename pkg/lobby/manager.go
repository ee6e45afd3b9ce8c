// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package lobby owns lobby state machines. Each lobby serializes its own
// transitions behind a per-lobby lock; lobbies transition independently of
// each other and of the matching pass.
package lobby

import (
	"context"
	"sync"
	"time"

	"github.com/AccelByte/match-session-core/pkg/common"
	"github.com/AccelByte/match-session-core/pkg/config"
	"github.com/AccelByte/match-session-core/pkg/constants"
	"github.com/AccelByte/match-session-core/pkg/envelope"
	"github.com/AccelByte/match-session-core/pkg/metrics"
	"github.com/AccelByte/match-session-core/pkg/models"
	"github.com/AccelByte/match-session-core/pkg/provision"
	"github.com/AccelByte/match-session-core/pkg/queue"
)

// Now is overridable for deterministic tests.
var Now = time.Now

// SessionStarter receives a lobby that reached Started. Implemented by the
// session supervisor.
type SessionStarter interface {
	Start(scope *envelope.Scope, lobby models.Lobby, provisioningHandle string, endpoint string) (models.Session, error)
}

type managedLobby struct {
	mu              sync.Mutex
	lobby           models.Lobby
	provisionCancel context.CancelFunc
}

type Manager struct {
	cfg         *config.Config
	queue       *queue.MatchQueue
	provisioner provision.Provisioner
	sessions    SessionStarter
	metrics     metrics.EngineMetrics

	mu      sync.RWMutex
	lobbies map[string]*managedLobby
	byState map[models.LobbyState]int
}

func NewManager(cfg *config.Config, matchQueue *queue.MatchQueue, provisioner provision.Provisioner, sessions SessionStarter, engineMetrics metrics.EngineMetrics) *Manager {
	return &Manager{
		cfg:         cfg,
		queue:       matchQueue,
		provisioner: provisioner,
		sessions:    sessions,
		metrics:     engineMetrics,
		lobbies:     make(map[string]*managedLobby),
		byState:     make(map[models.LobbyState]int),
	}
}

// Commit converts a proposed group into a Forming lobby. The group's tickets
// are claimed from the queue atomically; if any was withdrawn or claimed
// elsewhere since the snapshot, ErrMembershipConflict is returned and the
// surviving tickets stay queued.
func (m *Manager) Commit(rootScope *envelope.Scope, group models.MatchGroup) (models.Lobby, error) {
	scope := rootScope.NewChildScope("LobbyManager.Commit")
	defer scope.Finish()

	tickets, err := m.queue.Take(scope, group.TicketIDs())
	if err != nil {
		return models.Lobby{}, err
	}

	now := Now()
	members := make([]models.Member, 0, group.CountPlayer())
	for _, ticket := range tickets {
		for _, tm := range ticket.Members {
			members = append(members, models.Member{
				PlayerID: tm.PlayerID,
				Rating:   tm.Rating,
				JoinedAt: now,
			})
		}
	}

	lobby := models.Lobby{
		LobbyID:   common.GenerateSortableID(),
		MatchType: group.MatchType,
		Settings:  models.DerivedSettings(group.Criteria, len(members)),
		State:     models.LobbyStateForming,
		Members:   members,
		Tickets:   tickets,
		CreatedAt: now,
	}

	m.mu.Lock()
	m.lobbies[lobby.LobbyID] = &managedLobby{lobby: lobby}
	m.trackLocked(lobby.State, +1)
	m.mu.Unlock()

	scope.SetAttributes(envelope.LobbyIDTag, lobby.LobbyID)
	scope.Log.WithField("lobbyID", lobby.LobbyID).
		WithField("matchType", string(lobby.MatchType)).
		WithField("members", len(members)).
		Info("lobby committed")
	return lobby.Copy(), nil
}

// CreateCustom opens a host-owned lobby with host-supplied settings.
// Custom lobbies are filled by invitation, never by the matching engine.
func (m *Manager) CreateCustom(rootScope *envelope.Scope, hostID string, hostRating float64, settings models.LobbySettings) (models.Lobby, error) {
	scope := rootScope.NewChildScope("LobbyManager.CreateCustom")
	defer scope.Finish()

	if hostID == "" {
		return models.Lobby{}, models.NewValidationError("host_id", "cannot be empty")
	}
	if err := settings.Validate(); err != nil {
		return models.Lobby{}, err
	}
	settings.HostID = hostID

	now := Now()
	lobby := models.Lobby{
		LobbyID:   common.GenerateSortableID(),
		MatchType: models.MatchTypeCustom,
		Settings:  settings,
		State:     models.LobbyStateForming,
		Members:   []models.Member{{PlayerID: hostID, Rating: hostRating, JoinedAt: now}},
		CreatedAt: now,
	}

	m.mu.Lock()
	m.lobbies[lobby.LobbyID] = &managedLobby{lobby: lobby}
	m.trackLocked(lobby.State, +1)
	m.mu.Unlock()

	scope.Log.WithField("lobbyID", lobby.LobbyID).WithField("hostID", hostID).Info("custom lobby created")
	return lobby.Copy(), nil
}

// Join adds a player to a Forming custom lobby.
func (m *Manager) Join(rootScope *envelope.Scope, lobbyID, playerID string, playerRating float64) (models.Lobby, error) {
	scope := rootScope.NewChildScope("LobbyManager.Join")
	defer scope.Finish()

	ml, err := m.get(lobbyID)
	if err != nil {
		return models.Lobby{}, err
	}
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.lobby.MatchType != models.MatchTypeCustom {
		return models.Lobby{}, models.NewStateError("lobby", lobbyID, string(ml.lobby.State), "join a matched lobby")
	}
	if ml.lobby.State != models.LobbyStateForming {
		return models.Lobby{}, models.NewStateError("lobby", lobbyID, string(ml.lobby.State), "join")
	}
	if ml.lobby.HasMember(playerID) {
		return models.Lobby{}, models.NewValidationError("player_id", "already a member of this lobby")
	}
	if ml.lobby.IsFull() {
		return models.Lobby{}, models.ErrLobbyFull
	}

	ml.lobby.Members = append(ml.lobby.Members, models.Member{PlayerID: playerID, Rating: playerRating, JoinedAt: Now()})
	scope.Log.WithField("lobbyID", lobbyID).WithField("playerID", playerID).Info("player joined lobby")
	return ml.lobby.Copy(), nil
}

// SetReady toggles a member's ready flag. A full lobby with every member
// ready moves Forming to Ready; a member going unready moves Ready back to
// Forming.
func (m *Manager) SetReady(rootScope *envelope.Scope, lobbyID, playerID string, ready bool) (models.Lobby, error) {
	scope := rootScope.NewChildScope("LobbyManager.SetReady")
	defer scope.Finish()

	ml, err := m.get(lobbyID)
	if err != nil {
		return models.Lobby{}, err
	}
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.lobby.State != models.LobbyStateForming && ml.lobby.State != models.LobbyStateReady {
		return models.Lobby{}, models.NewStateError("lobby", lobbyID, string(ml.lobby.State), "set readiness")
	}

	found := false
	for i := range ml.lobby.Members {
		if ml.lobby.Members[i].PlayerID == playerID {
			ml.lobby.Members[i].Ready = ready
			found = true
			break
		}
	}
	if !found {
		return models.Lobby{}, models.ErrMemberNotFound
	}

	if ready && ml.lobby.State == models.LobbyStateForming && ml.lobby.IsFull() && ml.lobby.AllReady() {
		m.transitionLocked(ml, models.LobbyStateReady)
		ml.lobby.ReadyAt = Now()
		scope.Log.WithField("lobbyID", lobbyID).Info("lobby ready")
	}
	if !ready && ml.lobby.State == models.LobbyStateReady {
		m.transitionLocked(ml, models.LobbyStateForming)
		scope.Log.WithField("lobbyID", lobbyID).Info("lobby back to forming, member unready")
	}
	return ml.lobby.Copy(), nil
}

// Leave removes a member, and for party tickets the whole party, from a
// Forming or Ready lobby. Ranked lobbies dropped below target are flagged
// for backfill so the next matching pass refills them; custom lobbies wait
// for a host-invited replacement.
func (m *Manager) Leave(rootScope *envelope.Scope, lobbyID, playerID string) (models.Lobby, error) {
	scope := rootScope.NewChildScope("LobbyManager.Leave")
	defer scope.Finish()

	ml, err := m.get(lobbyID)
	if err != nil {
		return models.Lobby{}, err
	}
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.lobby.State != models.LobbyStateForming && ml.lobby.State != models.LobbyStateReady {
		return models.Lobby{}, models.NewStateError("lobby", lobbyID, string(ml.lobby.State), "leave")
	}
	if !ml.lobby.HasMember(playerID) {
		return models.Lobby{}, models.ErrMemberNotFound
	}

	if ml.lobby.MatchType == models.MatchTypeCustom && ml.lobby.Settings.HostID == playerID {
		m.cancelLocked(scope, ml, constants.CancelReasonHostLeft, false)
		return ml.lobby.Copy(), nil
	}

	leaving := map[string]struct{}{playerID: {}}
	for i, ticket := range ml.lobby.Tickets {
		holds := false
		for _, tm := range ticket.Members {
			if tm.PlayerID == playerID {
				holds = true
				break
			}
		}
		if !holds {
			continue
		}
		// parties leave as a unit
		for _, member := range ticket.Members {
			leaving[member.PlayerID] = struct{}{}
		}
		ml.lobby.Tickets = append(ml.lobby.Tickets[:i:i], ml.lobby.Tickets[i+1:]...)
		break
	}

	remaining := ml.lobby.Members[:0:0]
	for _, member := range ml.lobby.Members {
		if _, gone := leaving[member.PlayerID]; !gone {
			remaining = append(remaining, member)
		}
	}
	ml.lobby.Members = remaining

	if len(ml.lobby.Members) == 0 {
		m.cancelLocked(scope, ml, constants.CancelReasonEmpty, true)
		return ml.lobby.Copy(), nil
	}

	if ml.lobby.State == models.LobbyStateReady {
		m.transitionLocked(ml, models.LobbyStateForming)
	}
	if ml.lobby.MatchType != models.MatchTypeCustom && !ml.lobby.IsFull() {
		ml.lobby.NeedsBackfill = true
	}
	scope.Log.WithField("lobbyID", lobbyID).
		WithField("playerID", playerID).
		WithField("remaining", len(ml.lobby.Members)).
		Info("member left lobby")
	return ml.lobby.Copy(), nil
}

// Start moves a Ready lobby to Starting and requests provisioning. The
// provisioning exchange runs on its own goroutine so no lobby or queue lock
// is held across the external call.
func (m *Manager) Start(rootScope *envelope.Scope, lobbyID string) (models.Lobby, error) {
	scope := rootScope.NewChildScope("LobbyManager.Start")
	defer scope.Finish()

	ml, err := m.get(lobbyID)
	if err != nil {
		return models.Lobby{}, err
	}
	ml.mu.Lock()
	if ml.lobby.State != models.LobbyStateReady {
		defer ml.mu.Unlock()
		return models.Lobby{}, models.NewStateError("lobby", lobbyID, string(ml.lobby.State), "start")
	}
	m.transitionLocked(ml, models.LobbyStateStarting)

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.ProvisionTimeout())
	ml.provisionCancel = cancel
	members := append([]models.Member(nil), ml.lobby.Members...)
	settings := ml.lobby.Settings.Copy()
	snapshot := ml.lobby.Copy()
	ml.mu.Unlock()

	scope.Log.WithField("lobbyID", lobbyID).Info("lobby starting, requesting provision")
	go m.awaitProvision(ctx, cancel, ml, lobbyID, members, settings)

	return snapshot, nil
}

func (m *Manager) awaitProvision(ctx context.Context, cancel context.CancelFunc, ml *managedLobby, lobbyID string, members []models.Member, settings models.LobbySettings) {
	defer cancel()
	scope := envelope.NewRootScope(context.Background(), "LobbyManager.awaitProvision", "")
	defer scope.Finish()
	scope.SetAttributes(envelope.LobbyIDTag, lobbyID)

	handle, results := m.provisioner.RequestProvision(ctx, lobbyID, members, settings)

	select {
	case result, ok := <-results:
		if !ok {
			m.failStart(scope, ml, constants.CancelReasonProvisioningFailed)
			return
		}
		if !result.Ok {
			scope.Log.WithField("lobbyID", lobbyID).WithField("reason", result.Reason).Warn("provisioning failed")
			m.failStart(scope, ml, constants.CancelReasonProvisioningFailed)
			return
		}
		m.finishStart(scope, ml, string(handle), result)
	case <-ctx.Done():
		scope.Log.WithField("lobbyID", lobbyID).Warn("provisioning timed out or was cancelled")
		go m.drainStaleResult(results)
		m.failStart(scope, ml, constants.CancelReasonProvisioningTimeout)
	}
}

// finishStart completes the Starting to Started transition and hands the
// lobby to the session supervisor. A lobby cancelled while the provision was
// in flight gets its runtime released instead of a session.
func (m *Manager) finishStart(scope *envelope.Scope, ml *managedLobby, handle string, result provision.Result) {
	ml.mu.Lock()
	if ml.lobby.State != models.LobbyStateStarting {
		ml.mu.Unlock()
		scope.Log.WithField("lobbyID", ml.lobby.LobbyID).Info("stale provisioning response, releasing runtime")
		m.provisioner.ReleaseProvision(result.Handle)
		return
	}
	m.transitionLocked(ml, models.LobbyStateStarted)
	lobby := ml.lobby.Copy()
	ml.provisionCancel = nil
	ml.mu.Unlock()

	if _, err := m.sessions.Start(scope, lobby, handle, result.Endpoint); err != nil {
		scope.Log.WithError(err).Error("session handoff rejected")
		m.provisioner.ReleaseProvision(result.Handle)
		ml.mu.Lock()
		ml.lobby.CancelReason = constants.CancelReasonSessionRejected
		m.requeueTicketsLocked(scope, ml)
		ml.mu.Unlock()
		m.remove(lobby.LobbyID, models.LobbyStateStarted)
		return
	}

	scope.Log.WithField("lobbyID", lobby.LobbyID).Info("lobby started, session supervisor owns it now")
	m.remove(lobby.LobbyID, models.LobbyStateStarted)
}

func (m *Manager) failStart(scope *envelope.Scope, ml *managedLobby, reason string) {
	ml.mu.Lock()
	defer ml.mu.Unlock()
	if ml.lobby.State != models.LobbyStateStarting {
		// already cancelled explicitly, nothing left to do
		return
	}
	m.cancelLocked(scope, ml, reason, false)
}

func (m *Manager) drainStaleResult(results <-chan provision.Result) {
	if result, ok := <-results; ok && result.Ok {
		m.provisioner.ReleaseProvision(result.Handle)
	}
}

// Cancel moves any non-terminal lobby to Cancelled. Members' tickets go back
// to the queue with their original wait time unless withdrawMembers is set.
func (m *Manager) Cancel(rootScope *envelope.Scope, lobbyID, reason string, withdrawMembers bool) error {
	scope := rootScope.NewChildScope("LobbyManager.Cancel")
	defer scope.Finish()

	ml, err := m.get(lobbyID)
	if err != nil {
		return err
	}
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.lobby.State.Terminal() {
		return models.NewStateError("lobby", lobbyID, string(ml.lobby.State), "cancel")
	}
	m.cancelLocked(scope, ml, reason, withdrawMembers)
	return nil
}

// cancelLocked requires ml.mu held.
func (m *Manager) cancelLocked(scope *envelope.Scope, ml *managedLobby, reason string, withdrawMembers bool) {
	if ml.provisionCancel != nil {
		ml.provisionCancel()
		ml.provisionCancel = nil
	}
	m.transitionLocked(ml, models.LobbyStateCancelled)
	ml.lobby.CancelReason = reason
	if !withdrawMembers {
		m.requeueTicketsLocked(scope, ml)
	}
	m.remove(ml.lobby.LobbyID, models.LobbyStateCancelled)
	scope.Log.WithField("lobbyID", ml.lobby.LobbyID).WithField("reason", reason).Info("lobby cancelled")
}

// requeueTicketsLocked returns the lobby's source tickets to the queue with
// CreatedAt preserved so tolerance keeps widening from the original enqueue.
func (m *Manager) requeueTicketsLocked(scope *envelope.Scope, ml *managedLobby) {
	if len(ml.lobby.Tickets) == 0 {
		return
	}
	m.queue.Requeue(scope, ml.lobby.Tickets)
	ml.lobby.Tickets = nil
}

// BackfillCandidates lists Forming lobbies flagged for refill. Custom
// lobbies never appear; they are filled by invitation.
func (m *Manager) BackfillCandidates(matchType models.MatchType) []models.Lobby {
	m.mu.RLock()
	managed := make([]*managedLobby, 0, len(m.lobbies))
	for _, ml := range m.lobbies {
		managed = append(managed, ml)
	}
	m.mu.RUnlock()

	var candidates []models.Lobby
	for _, ml := range managed {
		ml.mu.Lock()
		if ml.lobby.MatchType == matchType && ml.lobby.MatchType != models.MatchTypeCustom &&
			ml.lobby.State == models.LobbyStateForming && ml.lobby.NeedsBackfill && !ml.lobby.IsFull() {
			candidates = append(candidates, ml.lobby.Copy())
		}
		ml.mu.Unlock()
	}
	return candidates
}

// Backfill claims the named tickets and adds their members to an
// under-target lobby.
func (m *Manager) Backfill(rootScope *envelope.Scope, lobbyID string, ticketIDs []string) error {
	scope := rootScope.NewChildScope("LobbyManager.Backfill")
	defer scope.Finish()

	ml, err := m.get(lobbyID)
	if err != nil {
		return err
	}
	ml.mu.Lock()
	defer ml.mu.Unlock()

	if ml.lobby.State != models.LobbyStateForming || !ml.lobby.NeedsBackfill {
		return models.NewStateError("lobby", lobbyID, string(ml.lobby.State), "backfill")
	}

	tickets, err := m.queue.Take(scope, ticketIDs)
	if err != nil {
		return err
	}

	incoming := 0
	for _, t := range tickets {
		incoming += t.CountPlayer()
	}
	if ml.lobby.CountPlayer()+incoming > ml.lobby.Settings.TargetSize {
		m.queue.Requeue(scope, tickets)
		return models.ErrLobbyFull
	}

	now := Now()
	for _, ticket := range tickets {
		for _, tm := range ticket.Members {
			ml.lobby.Members = append(ml.lobby.Members, models.Member{PlayerID: tm.PlayerID, Rating: tm.Rating, JoinedAt: now})
		}
	}
	ml.lobby.Tickets = append(ml.lobby.Tickets, tickets...)
	if ml.lobby.IsFull() {
		ml.lobby.NeedsBackfill = false
	}
	scope.Log.WithField("lobbyID", lobbyID).WithField("added", incoming).Info("lobby backfilled from queue")
	return nil
}

// SweepReadyTimeouts cancels lobbies stuck in Ready past the ready-check
// window. Members are requeued, not surfaced an error.
func (m *Manager) SweepReadyTimeouts(rootScope *envelope.Scope) int {
	scope := rootScope.NewChildScope("LobbyManager.SweepReadyTimeouts")
	defer scope.Finish()

	m.mu.RLock()
	managed := make([]*managedLobby, 0, len(m.lobbies))
	for _, ml := range m.lobbies {
		managed = append(managed, ml)
	}
	m.mu.RUnlock()

	deadline := Now().Add(-m.cfg.ReadyCheckTimeout())
	cancelled := 0
	for _, ml := range managed {
		ml.mu.Lock()
		if ml.lobby.State == models.LobbyStateReady && ml.lobby.ReadyAt.Before(deadline) {
			m.cancelLocked(scope, ml, constants.CancelReasonReadyCheckTimeout, false)
			cancelled++
		}
		ml.mu.Unlock()
	}
	if cancelled > 0 {
		scope.Log.WithField("cancelled", cancelled).Info("ready-check sweep cancelled stale lobbies")
	}
	return cancelled
}

// Get returns a copy of a live lobby.
func (m *Manager) Get(lobbyID string) (models.Lobby, error) {
	ml, err := m.get(lobbyID)
	if err != nil {
		return models.Lobby{}, err
	}
	ml.mu.Lock()
	defer ml.mu.Unlock()
	return ml.lobby.Copy(), nil
}

func (m *Manager) get(lobbyID string) (*managedLobby, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ml, ok := m.lobbies[lobbyID]
	if !ok {
		return nil, models.ErrLobbyNotFound
	}
	return ml, nil
}

func (m *Manager) remove(lobbyID string, state models.LobbyState) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.lobbies[lobbyID]; ok {
		delete(m.lobbies, lobbyID)
		m.trackLocked(state, -1)
	}
}

// transitionLocked requires ml.mu held. Panics are not used; an impossible
// transition is a programming error caught by the state table in tests.
func (m *Manager) transitionLocked(ml *managedLobby, to models.LobbyState) {
	from := ml.lobby.State
	if !from.CanTransition(to) {
		return
	}
	ml.lobby.State = to
	m.mu.Lock()
	m.trackLocked(from, -1)
	m.trackLocked(to, +1)
	m.mu.Unlock()
}

// trackLocked requires m.mu held.
func (m *Manager) trackLocked(state models.LobbyState, delta int) {
	m.byState[state] += delta
	if m.byState[state] < 0 {
		m.byState[state] = 0
	}
	if m.metrics != nil {
		m.metrics.LobbiesInState(string(state), m.byState[state])
	}
}
