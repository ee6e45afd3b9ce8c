// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package engine consumes queue snapshots and turns them into proposed
// lobbies. A pass is greedy and oldest-first: the longest-waiting ticket is
// the pivot, compatible tickets are collected forward, and the exact-fill
// combination with the smallest rating spread wins.
package engine

import (
	"errors"
	"time"

	"github.com/AccelByte/match-session-core/pkg/common"
	"github.com/AccelByte/match-session-core/pkg/config"
	"github.com/AccelByte/match-session-core/pkg/constants"
	"github.com/AccelByte/match-session-core/pkg/envelope"
	"github.com/AccelByte/match-session-core/pkg/mathutil"
	"github.com/AccelByte/match-session-core/pkg/metrics"
	"github.com/AccelByte/match-session-core/pkg/models"
	"github.com/AccelByte/match-session-core/pkg/queue"

	pie "github.com/elliotchance/pie/v2"
	"gonum.org/v1/gonum/stat/combin"
)

// Now is overridable for deterministic tests.
var Now = time.Now

// Committer owns lobbies. The engine proposes, the committer decides;
// a commit can fail with ErrMembershipConflict when the snapshot went stale.
type Committer interface {
	Commit(scope *envelope.Scope, group models.MatchGroup) (models.Lobby, error)
	BackfillCandidates(matchType models.MatchType) []models.Lobby
	Backfill(scope *envelope.Scope, lobbyID string, ticketIDs []string) error
}

type Engine struct {
	cfg       *config.Config
	queue     *queue.MatchQueue
	committer Committer
	metrics   metrics.EngineMetrics

	expiryHandler func(scope *envelope.Scope, ticket models.Ticket)
}

func New(cfg *config.Config, matchQueue *queue.MatchQueue, committer Committer, engineMetrics metrics.EngineMetrics) *Engine {
	return &Engine{
		cfg:       cfg,
		queue:     matchQueue,
		committer: committer,
		metrics:   engineMetrics,
	}
}

// TargetSize returns the lobby size the engine fills for a match type.
func (e *Engine) TargetSize(matchType models.MatchType) int {
	switch matchType {
	case models.MatchTypeRanked:
		return e.cfg.RankedTargetSize
	default:
		return e.cfg.CasualTargetSize
	}
}

// OnTicketExpired registers a handler invoked for every ticket dropped by the
// queue-time limit. Register before the first pass runs; the engine does not
// synchronize handler swaps.
func (e *Engine) OnTicketExpired(handler func(scope *envelope.Scope, ticket models.Ticket)) {
	e.expiryHandler = handler
}

// RunPass executes one matching pass for a match type and returns the number
// of lobbies committed. A pass that finds nothing is the expected steady
// state of an underfull queue, not an error.
func (e *Engine) RunPass(rootScope *envelope.Scope, matchType models.MatchType) int {
	scope := rootScope.NewChildScope("Engine.RunPass")
	defer scope.Finish()
	scope.SetAttributes(envelope.MatchTypeTag, string(matchType))

	passStart := Now()
	defer func() {
		if e.metrics != nil {
			e.metrics.AddMatchPassElapsedTimeMs(string(matchType), time.Since(passStart))
		}
	}()

	e.expirePass(scope, matchType)

	snapshot := e.queue.Snapshot(matchType)
	if len(snapshot) == 0 {
		return 0
	}

	consumed := make(map[string]bool, len(snapshot))

	e.backfillPass(scope, matchType, snapshot, consumed)

	committed := 0
	targetSize := e.TargetSize(matchType)
	for i, pivot := range snapshot {
		if consumed[pivot.TicketID] {
			continue
		}
		group, ok := e.groupForPivot(scope, snapshot, i, targetSize, consumed)
		if !ok {
			continue
		}

		for _, id := range group.TicketIDs() {
			consumed[id] = true
		}

		if _, err := e.committer.Commit(scope, group); err != nil {
			if errors.Is(err, models.ErrMembershipConflict) {
				// surviving tickets never left the queue, the next pass picks them up
				scope.Log.WithField("tickets", group.TicketIDs()).Info("group commit lost race with withdrawal")
				continue
			}
			scope.Log.WithError(err).Error("group commit failed")
			continue
		}
		committed++
		scope.Log.WithField("tickets", common.LogJSONFormatter(group.TicketIDs())).
			WithField("spread", group.MaxPairwiseSpread()).
			WithField("ratingStdDev", group.RatingStdDev()).
			WithField("oldestCreatedAt", group.OldestCreatedAt()).
			Debug("group committed")
	}

	if committed == 0 && e.metrics != nil {
		e.metrics.AddUnmatchedReason(string(matchType), unmatchedReason(snapshot, consumed, targetSize))
	}
	scope.Log.WithField("matchType", string(matchType)).
		WithField("snapshot", len(snapshot)).
		WithField("committed", committed).
		Debug("matching pass finished")
	return committed
}

// expirePass drops tickets that waited past the configured queue-time limit.
// A zero limit disables expiry.
func (e *Engine) expirePass(scope *envelope.Scope, matchType models.MatchType) {
	ttl := e.cfg.TicketTTL()
	if ttl <= 0 {
		return
	}
	for _, ticket := range e.queue.ExpireStale(scope, matchType, Now().Add(-ttl)) {
		if e.metrics != nil {
			e.metrics.AddUnmatchedReason(string(matchType), constants.ReasonTicketExpired)
		}
		if e.expiryHandler != nil {
			e.expiryHandler(scope, ticket)
		}
	}
}

// groupForPivot collects compatible candidates ahead of the pivot and picks
// the exact-fill combination minimizing the maximum pairwise rating spread,
// ties going to the longest-waiting tickets.
func (e *Engine) groupForPivot(scope *envelope.Scope, snapshot []models.Ticket, pivotIndex, targetSize int, consumed map[string]bool) (models.MatchGroup, bool) {
	pivot := snapshot[pivotIndex]
	needed := targetSize - pivot.CountPlayer()
	if needed < 0 {
		scope.Log.WithField("ticketID", pivot.TicketID).Warn("party larger than target lobby size, ticket cannot match")
		return models.MatchGroup{}, false
	}

	now := Now()
	if needed == 0 {
		return e.buildGroup(pivot, nil), true
	}

	var candidates []models.Ticket
	for j := pivotIndex + 1; j < len(snapshot) && len(candidates) < e.cfg.CandidateWindowSize; j++ {
		cand := snapshot[j]
		if consumed[cand.TicketID] || cand.CountPlayer() > needed {
			continue
		}
		if e.compatible(pivot, cand, now) {
			candidates = append(candidates, cand)
		}
	}
	if len(candidates) == 0 {
		return models.MatchGroup{}, false
	}

	bestSpread := -1.0
	var bestWait time.Duration
	var best []models.Ticket
	maxPick := mathutil.Min(needed, len(candidates))
	for k := 1; k <= maxPick; k++ {
		for _, indexes := range combin.Combinations(len(candidates), k) {
			combo := make([]models.Ticket, 0, k)
			size := 0
			for _, idx := range indexes {
				combo = append(combo, candidates[idx])
				size += candidates[idx].CountPlayer()
			}
			if size != needed || !e.mutuallyCompatible(combo, now) {
				continue
			}
			group := e.buildGroup(pivot, combo)
			spread := group.MaxPairwiseSpread()
			wait := totalWait(combo, now)
			if bestSpread < 0 || spread < bestSpread || (spread == bestSpread && wait > bestWait) {
				bestSpread = spread
				bestWait = wait
				best = combo
			}
		}
	}
	if best == nil {
		return models.MatchGroup{}, false
	}
	return e.buildGroup(pivot, best), true
}

func (e *Engine) buildGroup(pivot models.Ticket, rest []models.Ticket) models.MatchGroup {
	return models.MatchGroup{
		MatchType: pivot.MatchType,
		Criteria:  pivot.Criteria,
		Tickets:   append([]models.Ticket{pivot}, rest...),
	}
}

// compatible applies the pairwise rule: same criteria, and rating difference
// within the narrower of the two tickets' current tolerances. Once both
// tolerances hit the ceiling, fairness yields to latency and the rating
// check is waived. A ticket carrying a MaxSpread cap never waives it.
func (e *Engine) compatible(a, b models.Ticket, now time.Time) bool {
	if a.MatchType != b.MatchType || !a.Criteria.Matches(b.Criteria) {
		return false
	}
	minTolerance := mathutil.Min(
		e.ticketTolerance(a, now),
		e.ticketTolerance(b, now),
	)
	if minTolerance >= e.cfg.ToleranceMax {
		return true
	}
	return mathutil.Abs(a.EffectiveRating()-b.EffectiveRating()) <= minTolerance
}

// ticketTolerance is the wait-widened tolerance, capped by the ticket's own
// MaxSpread when one is set.
func (e *Engine) ticketTolerance(t models.Ticket, now time.Time) float64 {
	tolerance := ToleranceAt(e.cfg, now.Sub(t.CreatedAt))
	if t.Criteria.MaxSpread != nil {
		tolerance = mathutil.Min(tolerance, *t.Criteria.MaxSpread)
	}
	return tolerance
}

func (e *Engine) mutuallyCompatible(tickets []models.Ticket, now time.Time) bool {
	for i := 0; i < len(tickets); i++ {
		for j := i + 1; j < len(tickets); j++ {
			if !e.compatible(tickets[i], tickets[j], now) {
				return false
			}
		}
	}
	return true
}

// backfillPass feeds compatible tickets into under-target lobbies before new
// groups are formed, so a lobby that lost a member refills ahead of fresh
// matches.
func (e *Engine) backfillPass(scope *envelope.Scope, matchType models.MatchType, snapshot []models.Ticket, consumed map[string]bool) {
	now := Now()
	for _, lobby := range e.committer.BackfillCandidates(matchType) {
		remaining := lobby.Settings.TargetSize - lobby.CountPlayer()
		if remaining <= 0 {
			continue
		}
		lobbyRating := meanMemberRating(lobby.Members)

		var picked []models.Ticket
		for _, cand := range snapshot {
			if remaining == 0 {
				break
			}
			if consumed[cand.TicketID] || cand.CountPlayer() > remaining {
				continue
			}
			if !e.backfillCompatible(lobby, lobbyRating, cand, now) {
				continue
			}
			picked = append(picked, cand)
			remaining -= cand.CountPlayer()
		}
		if len(picked) == 0 {
			continue
		}

		ticketIDs := pie.Map(picked, func(t models.Ticket) string { return t.TicketID })
		if err := e.committer.Backfill(scope, lobby.LobbyID, ticketIDs); err != nil {
			scope.Log.WithError(err).WithField("lobbyID", lobby.LobbyID).Info("backfill not applied")
			continue
		}
		for _, id := range ticketIDs {
			consumed[id] = true
		}
		scope.Log.WithField("lobbyID", lobby.LobbyID).WithField("tickets", ticketIDs).Info("lobby backfilled")
	}
}

func (e *Engine) backfillCompatible(lobby models.Lobby, lobbyRating float64, cand models.Ticket, now time.Time) bool {
	criteria := models.Criteria{Region: lobby.Settings.Region, GameMode: lobby.Settings.GameMode}
	if cand.MatchType != lobby.MatchType || !cand.Criteria.Matches(criteria) {
		return false
	}
	tolerance := e.ticketTolerance(cand, now)
	if tolerance >= e.cfg.ToleranceMax {
		return true
	}
	return mathutil.Abs(cand.EffectiveRating()-lobbyRating) <= tolerance
}

func meanMemberRating(members []models.Member) float64 {
	if len(members) == 0 {
		return 0.0
	}
	var total float64
	for _, m := range members {
		total += m.Rating
	}
	return total / float64(len(members))
}

func totalWait(tickets []models.Ticket, now time.Time) time.Duration {
	var total time.Duration
	for _, t := range tickets {
		total += now.Sub(t.CreatedAt)
	}
	return total
}

func unmatchedReason(snapshot []models.Ticket, consumed map[string]bool, targetSize int) string {
	remaining := 0
	players := 0
	for _, t := range snapshot {
		if !consumed[t.TicketID] {
			remaining++
			players += t.CountPlayer()
		}
	}
	if players < targetSize {
		return constants.ReasonNotEnoughTickets
	}
	return constants.ReasonNoCompatibleTickets
}
