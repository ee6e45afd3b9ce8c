// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

// Package queue holds waiting matchmaking tickets. It owns Tickets from
// enqueue until they are withdrawn, timed out, or claimed into a lobby.
package queue

import (
	"sort"
	"sync"
	"time"

	"github.com/AccelByte/match-session-core/pkg/envelope"
	"github.com/AccelByte/match-session-core/pkg/metrics"
	"github.com/AccelByte/match-session-core/pkg/models"
)

// MatchQueue is safe for concurrent use. Enqueue and withdraw are
// linearizable per player: a withdrawal issued after an enqueue is observed
// by any snapshot taken afterward.
type MatchQueue struct {
	metrics metrics.EngineMetrics

	mu       sync.Mutex
	byType   map[models.MatchType][]models.Ticket // oldest first
	byPlayer map[string]string                    // player id -> ticket id
}

func New(engineMetrics metrics.EngineMetrics) *MatchQueue {
	return &MatchQueue{
		metrics:  engineMetrics,
		byType:   make(map[models.MatchType][]models.Ticket),
		byPlayer: make(map[string]string),
	}
}

// Enqueue inserts a ticket and returns its 1-based queue position within its
// match type. Party tickets are atomic: if any member already has an active
// ticket, nothing is inserted and ErrDuplicatePlayer is returned.
func (q *MatchQueue) Enqueue(scope *envelope.Scope, ticket models.Ticket) (int, error) {
	if err := ticket.Validate(); err != nil {
		return 0, err
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	for _, member := range ticket.Members {
		if _, active := q.byPlayer[member.PlayerID]; active {
			scope.Log.WithField("playerID", member.PlayerID).Warn("enqueue rejected, player already queued")
			return 0, models.ErrDuplicatePlayer
		}
	}

	q.insertLocked(ticket)

	position := q.positionLocked(ticket.MatchType, ticket.TicketID)
	scope.Log.WithField("ticketID", ticket.TicketID).
		WithField("matchType", string(ticket.MatchType)).
		WithField("position", position).
		Info("ticket enqueued")
	return position, nil
}

// Withdraw removes the ticket containing playerID, party and all. Withdrawing
// an absent player is not an error; the bool reports whether anything was removed.
func (q *MatchQueue) Withdraw(scope *envelope.Scope, playerID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	ticketID, ok := q.byPlayer[playerID]
	if !ok {
		return false
	}
	removed := q.removeTicketLocked(ticketID)
	if removed != nil {
		scope.Log.WithField("ticketID", ticketID).WithField("playerID", playerID).Info("ticket withdrawn")
	}
	return removed != nil
}

// Snapshot returns a point-in-time deep copy of the queued tickets for a
// match type, oldest first. Later mutations do not appear in it.
func (q *MatchQueue) Snapshot(matchType models.MatchType) []models.Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()

	tickets := q.byType[matchType]
	snapshot := make([]models.Ticket, 0, len(tickets))
	for _, t := range tickets {
		snapshot = append(snapshot, t.Copy())
	}
	return snapshot
}

// Position returns the 1-based queue position of the ticket holding playerID.
func (q *MatchQueue) Position(playerID string) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ticketID, ok := q.byPlayer[playerID]
	if !ok {
		return 0, false
	}
	for matchType := range q.byType {
		if pos := q.positionLocked(matchType, ticketID); pos > 0 {
			return pos, true
		}
	}
	return 0, false
}

// Take atomically claims the named tickets out of the queue. Either every
// ticket is still present and all are removed, or nothing is removed and
// ErrMembershipConflict is returned. This is the commit half of the
// snapshot-then-commit split.
func (q *MatchQueue) Take(scope *envelope.Scope, ticketIDs []string) ([]models.Ticket, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, id := range ticketIDs {
		if !q.containsTicketLocked(id) {
			scope.Log.WithField("ticketID", id).Info("take failed, ticket no longer queued")
			return nil, models.ErrMembershipConflict
		}
	}

	taken := make([]models.Ticket, 0, len(ticketIDs))
	for _, id := range ticketIDs {
		taken = append(taken, *q.removeTicketLocked(id))
	}
	return taken, nil
}

// Requeue re-admits tickets with their original CreatedAt, preserving
// accumulated wait time and therefore tolerance. Tickets whose members have
// since re-enqueued on their own are skipped.
func (q *MatchQueue) Requeue(scope *envelope.Scope, tickets []models.Ticket) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, ticket := range tickets {
		conflict := false
		for _, member := range ticket.Members {
			if _, active := q.byPlayer[member.PlayerID]; active {
				conflict = true
				break
			}
		}
		if conflict {
			scope.Log.WithField("ticketID", ticket.TicketID).Warn("requeue skipped, member already queued")
			continue
		}
		q.insertLocked(ticket)
		scope.Log.WithField("ticketID", ticket.TicketID).Info("ticket requeued with preserved wait time")
	}
}

// ExpireStale removes tickets enqueued before the cutoff and returns them,
// oldest first. Expiry is a lifecycle event, not an error; the caller owns
// notifying the affected players.
func (q *MatchQueue) ExpireStale(scope *envelope.Scope, matchType models.MatchType, cutoff time.Time) []models.Ticket {
	q.mu.Lock()
	defer q.mu.Unlock()

	tickets := q.byType[matchType]
	var expired []models.Ticket
	kept := tickets[:0:0]
	for _, t := range tickets {
		if !t.CreatedAt.Before(cutoff) {
			kept = append(kept, t)
			continue
		}
		for _, member := range t.Members {
			delete(q.byPlayer, member.PlayerID)
		}
		expired = append(expired, t)
		scope.Log.WithField("ticketID", t.TicketID).
			WithField("createdAt", t.CreatedAt).
			Info("ticket expired, exceeded queue time limit")
	}
	if len(expired) == 0 {
		return nil
	}
	q.byType[matchType] = kept
	q.reportDepthLocked(matchType)
	return expired
}

// Len reports the number of queued tickets for a match type.
func (q *MatchQueue) Len(matchType models.MatchType) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.byType[matchType])
}

func (q *MatchQueue) insertLocked(ticket models.Ticket) {
	tickets := append(q.byType[ticket.MatchType], ticket)
	sort.SliceStable(tickets, func(i, j int) bool {
		if tickets[i].CreatedAt.Equal(tickets[j].CreatedAt) {
			return tickets[i].TicketID < tickets[j].TicketID
		}
		return tickets[i].CreatedAt.Before(tickets[j].CreatedAt)
	})
	q.byType[ticket.MatchType] = tickets
	for _, member := range ticket.Members {
		q.byPlayer[member.PlayerID] = ticket.TicketID
	}
	q.reportDepthLocked(ticket.MatchType)
}

func (q *MatchQueue) containsTicketLocked(ticketID string) bool {
	for _, tickets := range q.byType {
		for _, t := range tickets {
			if t.TicketID == ticketID {
				return true
			}
		}
	}
	return false
}

func (q *MatchQueue) removeTicketLocked(ticketID string) *models.Ticket {
	for matchType, tickets := range q.byType {
		for i, t := range tickets {
			if t.TicketID != ticketID {
				continue
			}
			q.byType[matchType] = append(tickets[:i:i], tickets[i+1:]...)
			for _, member := range t.Members {
				delete(q.byPlayer, member.PlayerID)
			}
			q.reportDepthLocked(matchType)
			return &t
		}
	}
	return nil
}

func (q *MatchQueue) positionLocked(matchType models.MatchType, ticketID string) int {
	for i, t := range q.byType[matchType] {
		if t.TicketID == ticketID {
			return i + 1
		}
	}
	return 0
}

func (q *MatchQueue) reportDepthLocked(matchType models.MatchType) {
	if q.metrics != nil {
		q.metrics.TicketsInQueue(string(matchType), len(q.byType[matchType]))
	}
}
