// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package service is the client-facing facade. It wires the queue, matching
// engine, lobby manager, and session supervisor together and owns their
// background goroutines.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/AccelByte/match-session-core/pkg/common"
	"github.com/AccelByte/match-session-core/pkg/config"
	"github.com/AccelByte/match-session-core/pkg/engine"
	"github.com/AccelByte/match-session-core/pkg/envelope"
	"github.com/AccelByte/match-session-core/pkg/lobby"
	"github.com/AccelByte/match-session-core/pkg/metrics"
	"github.com/AccelByte/match-session-core/pkg/models"
	"github.com/AccelByte/match-session-core/pkg/provision"
	"github.com/AccelByte/match-session-core/pkg/queue"
	"github.com/AccelByte/match-session-core/pkg/rating"
	"github.com/AccelByte/match-session-core/pkg/session"
)

// sweepEvery paces the ready-timeout and heartbeat sweeps. Both deadlines are
// measured in tens of seconds, so second-level resolution is enough.
const sweepEvery = time.Second

// Service exposes every client-facing operation of the matchmaking and
// session lifecycle. One instance serves all match types.
type Service struct {
	cfg      *config.Config
	queue    *queue.MatchQueue
	lobbies  *lobby.Manager
	sessions *session.Supervisor
	engine   *engine.Engine
	worker   *engine.Worker

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// New assembles the full pipeline around the two external ports: the
// provisioner and the rating store.
func New(cfg *config.Config, provisioner provision.Provisioner, ratings rating.Store, engineMetrics metrics.EngineMetrics) *Service {
	matchQueue := queue.New(engineMetrics)
	sessions := session.NewSupervisor(cfg, ratings, provisioner, engineMetrics)
	lobbies := lobby.NewManager(cfg, matchQueue, provisioner, sessions, engineMetrics)
	matchEngine := engine.New(cfg, matchQueue, lobbies, engineMetrics)
	worker := engine.NewWorker(matchEngine, []models.MatchType{models.MatchTypeRanked, models.MatchTypeCasual})

	return &Service{
		cfg:      cfg,
		queue:    matchQueue,
		lobbies:  lobbies,
		sessions: sessions,
		engine:   matchEngine,
		worker:   worker,
	}
}

// OnTicketExpired registers a handler for tickets dropped by the queue-time
// limit, typically a player notification. Register before Start.
func (s *Service) OnTicketExpired(handler func(scope *envelope.Scope, ticket models.Ticket)) {
	s.engine.OnTicketExpired(handler)
}

// Start launches the engine workers and the sweep loop. Idempotent Stop.
func (s *Service) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.worker.Start(ctx)
	go s.sweep(ctx)
}

func (s *Service) Stop() {
	s.stopOnce.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
		s.worker.Stop()
		if s.done != nil {
			<-s.done
		}
	})
}

func (s *Service) sweep(ctx context.Context) {
	defer close(s.done)
	ticker := time.NewTicker(sweepEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scope := envelope.NewRootScope(ctx, "Service.Sweep", common.GenerateUUID())
			s.lobbies.SweepReadyTimeouts(scope)
			s.sessions.SweepHeartbeats(scope)
			scope.Finish()
		}
	}
}

// EnqueueTicket submits a ticket for matchmaking and returns its 1-based
// queue position.
func (s *Service) EnqueueTicket(scope *envelope.Scope, ticket models.Ticket) (int, error) {
	return s.queue.Enqueue(scope, ticket)
}

// WithdrawTicket removes the whole party holding playerID's ticket.
// Withdrawing a player who is not queued is a no-op.
func (s *Service) WithdrawTicket(scope *envelope.Scope, playerID string) bool {
	return s.queue.Withdraw(scope, playerID)
}

// QueryQueuePosition reports the player's 1-based position within their
// match type's queue.
func (s *Service) QueryQueuePosition(playerID string) (int, bool) {
	return s.queue.Position(playerID)
}

func (s *Service) CreateCustomLobby(scope *envelope.Scope, hostID string, hostRating float64, settings models.LobbySettings) (models.Lobby, error) {
	return s.lobbies.CreateCustom(scope, hostID, hostRating, settings)
}

func (s *Service) JoinLobby(scope *envelope.Scope, lobbyID, playerID string, playerRating float64) (models.Lobby, error) {
	return s.lobbies.Join(scope, lobbyID, playerID, playerRating)
}

func (s *Service) LeaveLobby(scope *envelope.Scope, lobbyID, playerID string) (models.Lobby, error) {
	return s.lobbies.Leave(scope, lobbyID, playerID)
}

func (s *Service) SetReady(scope *envelope.Scope, lobbyID, playerID string, ready bool) (models.Lobby, error) {
	return s.lobbies.SetReady(scope, lobbyID, playerID, ready)
}

// StartLobby begins provisioning for a Ready lobby. The transition to
// Started (or back to Cancelled) completes asynchronously.
func (s *Service) StartLobby(scope *envelope.Scope, lobbyID string) (models.Lobby, error) {
	return s.lobbies.Start(scope, lobbyID)
}

func (s *Service) CancelLobby(scope *envelope.Scope, lobbyID, reason string, withdrawMembers bool) error {
	return s.lobbies.Cancel(scope, lobbyID, reason, withdrawMembers)
}

func (s *Service) GetLobby(lobbyID string) (models.Lobby, error) {
	return s.lobbies.Get(lobbyID)
}

func (s *Service) ReportSessionOutcome(scope *envelope.Scope, sessionID string, outcome models.MatchOutcome) (models.Session, error) {
	return s.sessions.ReportOutcome(scope, sessionID, outcome)
}

func (s *Service) FailSession(scope *envelope.Scope, sessionID, reason string) (models.Session, error) {
	return s.sessions.Fail(scope, sessionID, reason)
}

func (s *Service) Heartbeat(sessionID string) error {
	return s.sessions.Heartbeat(sessionID)
}

func (s *Service) GetSession(sessionID string) (models.Session, error) {
	return s.sessions.Get(sessionID)
}
