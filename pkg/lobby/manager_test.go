// Copyright (c) 2025 AccelByte Inc. All Rights Reserved.
// This is licensed software from AccelByte Inc, for limitations
// and restrictions contact your company contract manager.

package lobby

import (
	"sync"
	"testing"
	"time"

	"github.com/AccelByte/match-session-core/pkg/config"
	"github.com/AccelByte/match-session-core/pkg/constants"
	"github.com/AccelByte/match-session-core/pkg/envelope"
	"github.com/AccelByte/match-session-core/pkg/models"
	"github.com/AccelByte/match-session-core/pkg/queue"
	"github.com/AccelByte/match-session-core/pkg/testsetup"
	. "github.com/onsi/gomega"
)

var baseTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// stubStarter accepts every session handoff and remembers the lobbies.
type stubStarter struct {
	mu      sync.Mutex
	started []models.Lobby
	err     error
}

func (s *stubStarter) Start(scope *envelope.Scope, lobby models.Lobby, provisioningHandle string, endpoint string) (models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return models.Session{}, s.err
	}
	s.started = append(s.started, lobby)
	return models.Session{SessionID: "session-1", LobbyID: lobby.LobbyID, State: models.SessionStateActive}, nil
}

func (s *stubStarter) startedLobbies() []models.Lobby {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.Lobby(nil), s.started...)
}

type fixture struct {
	manager     *Manager
	queue       *queue.MatchQueue
	provisioner *testsetup.FakeProvisioner
	starter     *stubStarter
}

func newFixture(override func(cfg *config.Config)) *fixture {
	cfg := testsetup.NewConfig(override)
	q := queue.New(testsetup.NewMetrics())
	provisioner := &testsetup.FakeProvisioner{}
	starter := &stubStarter{}
	return &fixture{
		manager:     NewManager(cfg, q, provisioner, starter, testsetup.NewMetrics()),
		queue:       q,
		provisioner: provisioner,
		starter:     starter,
	}
}

func rankedTicket(id string, rating float64, createdAt time.Time, playerIDs ...string) models.Ticket {
	if len(playerIDs) == 0 {
		playerIDs = []string{"player-" + id}
	}
	members := make([]models.TicketMember, 0, len(playerIDs))
	for _, playerID := range playerIDs {
		members = append(members, models.TicketMember{PlayerID: playerID, Rating: rating})
	}
	return models.Ticket{
		TicketID:  id,
		MatchType: models.MatchTypeRanked,
		CreatedAt: createdAt,
		Members:   members,
	}
}

// commitPair enqueues two solo tickets and commits them into a Forming lobby.
func (f *fixture) commitPair(g testsetup.GomegaWithScope) models.Lobby {
	t1 := rankedTicket("t1", 1000, baseTime)
	t2 := rankedTicket("t2", 1010, baseTime)
	for _, ticket := range []models.Ticket{t1, t2} {
		_, err := f.queue.Enqueue(g.TestScope, ticket)
		g.Expect(err).To(BeNil())
	}
	group := models.MatchGroup{MatchType: models.MatchTypeRanked, Tickets: []models.Ticket{t1, t2}}
	lobby, err := f.manager.Commit(g.TestScope, group)
	g.Expect(err).To(BeNil())
	return lobby
}

func (f *fixture) readyAll(g testsetup.GomegaWithScope, lobby models.Lobby) models.Lobby {
	var err error
	for _, member := range lobby.Members {
		lobby, err = f.manager.SetReady(g.TestScope, lobby.LobbyID, member.PlayerID, true)
		g.Expect(err).To(BeNil())
	}
	return lobby
}

func TestManager_CommitClaimsTicketsIntoFormingLobby(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	f := newFixture(func(cfg *config.Config) { cfg.RankedTargetSize = 2 })

	lobby := f.commitPair(g)

	g.Expect(lobby.State).To(Equal(models.LobbyStateForming))
	g.Expect(lobby.Members).To(HaveLen(2))
	g.Expect(lobby.Settings.TargetSize).To(Equal(2))
	g.Expect(f.queue.Len(models.MatchTypeRanked)).To(Equal(0))
}

func TestManager_CommitConflictLeavesSurvivorQueued(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	f := newFixture(func(cfg *config.Config) { cfg.RankedTargetSize = 2 })

	t1 := rankedTicket("t1", 1000, baseTime)
	t2 := rankedTicket("t2", 1010, baseTime)
	for _, ticket := range []models.Ticket{t1, t2} {
		_, err := f.queue.Enqueue(g.TestScope, ticket)
		g.Expect(err).To(BeNil())
	}
	g.Expect(f.queue.Withdraw(g.TestScope, "player-t2")).To(BeTrue())

	group := models.MatchGroup{MatchType: models.MatchTypeRanked, Tickets: []models.Ticket{t1, t2}}
	_, err := f.manager.Commit(g.TestScope, group)
	g.Expect(err).To(MatchError(models.ErrMembershipConflict))

	position, queued := f.queue.Position("player-t1")
	g.Expect(queued).To(BeTrue())
	g.Expect(position).To(Equal(1))
}

func TestManager_AllReadyMovesLobbyToReady(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	f := newFixture(func(cfg *config.Config) { cfg.RankedTargetSize = 2 })
	lobby := f.commitPair(g)

	lobby, err := f.manager.SetReady(g.TestScope, lobby.LobbyID, "player-t1", true)
	g.Expect(err).To(BeNil())
	g.Expect(lobby.State).To(Equal(models.LobbyStateForming))

	lobby, err = f.manager.SetReady(g.TestScope, lobby.LobbyID, "player-t2", true)
	g.Expect(err).To(BeNil())
	g.Expect(lobby.State).To(Equal(models.LobbyStateReady))
	g.Expect(lobby.ReadyAt.IsZero()).To(BeFalse())
}

func TestManager_UnreadyRevertsReadyLobby(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	f := newFixture(func(cfg *config.Config) { cfg.RankedTargetSize = 2 })
	lobby := f.readyAll(g, f.commitPair(g))
	g.Expect(lobby.State).To(Equal(models.LobbyStateReady))

	lobby, err := f.manager.SetReady(g.TestScope, lobby.LobbyID, "player-t1", false)
	g.Expect(err).To(BeNil())
	g.Expect(lobby.State).To(Equal(models.LobbyStateForming))
}

func TestManager_SetReadyUnknownMember(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	f := newFixture(func(cfg *config.Config) { cfg.RankedTargetSize = 2 })
	lobby := f.commitPair(g)

	_, err := f.manager.SetReady(g.TestScope, lobby.LobbyID, "stranger", true)
	g.Expect(err).To(MatchError(models.ErrMemberNotFound))
}

// A departure from a matched lobby does not tear the lobby down and re-queue
// the survivors. They keep their seats, the lobby drops back to Forming, and
// the engine refills the empty seat from the queue on its next pass.
func TestManager_LeaveFlagsRankedLobbyForBackfill(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	f := newFixture(func(cfg *config.Config) { cfg.RankedTargetSize = 4 })

	tickets := []models.Ticket{
		rankedTicket("t1", 1000, baseTime),
		rankedTicket("t2", 1005, baseTime),
		rankedTicket("t3", 1010, baseTime),
		rankedTicket("t4", 1015, baseTime),
	}
	for _, ticket := range tickets {
		_, err := f.queue.Enqueue(g.TestScope, ticket)
		g.Expect(err).To(BeNil())
	}
	lobby, err := f.manager.Commit(g.TestScope, models.MatchGroup{MatchType: models.MatchTypeRanked, Tickets: tickets})
	g.Expect(err).To(BeNil())
	lobby = f.readyAll(g, lobby)
	g.Expect(lobby.State).To(Equal(models.LobbyStateReady))

	lobby, err = f.manager.Leave(g.TestScope, lobby.LobbyID, "player-t4")
	g.Expect(err).To(BeNil())
	g.Expect(lobby.State).To(Equal(models.LobbyStateForming))
	g.Expect(lobby.Members).To(HaveLen(3))
	g.Expect(lobby.NeedsBackfill).To(BeTrue())

	candidates := f.manager.BackfillCandidates(models.MatchTypeRanked)
	g.Expect(candidates).To(HaveLen(1))
	g.Expect(candidates[0].LobbyID).To(Equal(lobby.LobbyID))
}

func TestManager_PartyLeavesAsUnit(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	f := newFixture(func(cfg *config.Config) { cfg.RankedTargetSize = 4 })

	party := rankedTicket("party", 1000, baseTime, "alice", "bob")
	pair := rankedTicket("pair", 1005, baseTime, "carol", "dave")
	for _, ticket := range []models.Ticket{party, pair} {
		_, err := f.queue.Enqueue(g.TestScope, ticket)
		g.Expect(err).To(BeNil())
	}
	lobby, err := f.manager.Commit(g.TestScope, models.MatchGroup{MatchType: models.MatchTypeRanked, Tickets: []models.Ticket{party, pair}})
	g.Expect(err).To(BeNil())

	lobby, err = f.manager.Leave(g.TestScope, lobby.LobbyID, "alice")
	g.Expect(err).To(BeNil())
	g.Expect(lobby.Members).To(HaveLen(2))
	g.Expect(lobby.HasMember("bob")).To(BeFalse())
	g.Expect(lobby.HasMember("carol")).To(BeTrue())
}

func TestManager_LastLeaverCancelsLobby(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	f := newFixture(func(cfg *config.Config) { cfg.RankedTargetSize = 2 })
	lobby := f.commitPair(g)

	_, err := f.manager.Leave(g.TestScope, lobby.LobbyID, "player-t1")
	g.Expect(err).To(BeNil())
	result, err := f.manager.Leave(g.TestScope, lobby.LobbyID, "player-t2")
	g.Expect(err).To(BeNil())
	g.Expect(result.State).To(Equal(models.LobbyStateCancelled))
	g.Expect(result.CancelReason).To(Equal(constants.CancelReasonEmpty))

	_, err = f.manager.Get(lobby.LobbyID)
	g.Expect(err).To(MatchError(models.ErrLobbyNotFound))
}

func TestManager_BackfillAddsClaimedTickets(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	f := newFixture(func(cfg *config.Config) { cfg.RankedTargetSize = 2 })
	lobby := f.commitPair(g)

	_, err := f.manager.Leave(g.TestScope, lobby.LobbyID, "player-t2")
	g.Expect(err).To(BeNil())

	replacement := rankedTicket("t3", 1008, baseTime)
	_, err = f.queue.Enqueue(g.TestScope, replacement)
	g.Expect(err).To(BeNil())

	g.Expect(f.manager.Backfill(g.TestScope, lobby.LobbyID, []string{"t3"})).To(Succeed())

	refilled, err := f.manager.Get(lobby.LobbyID)
	g.Expect(err).To(BeNil())
	g.Expect(refilled.Members).To(HaveLen(2))
	g.Expect(refilled.NeedsBackfill).To(BeFalse())
	g.Expect(refilled.HasMember("player-t3")).To(BeTrue())
	// the newcomer starts unready
	g.Expect(refilled.AllReady()).To(BeFalse())
}

func TestManager_BackfillOverflowRequeuesTickets(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	f := newFixture(func(cfg *config.Config) { cfg.RankedTargetSize = 2 })
	lobby := f.commitPair(g)

	_, err := f.manager.Leave(g.TestScope, lobby.LobbyID, "player-t2")
	g.Expect(err).To(BeNil())

	oversized := rankedTicket("big", 1000, baseTime, "x1", "x2")
	_, err = f.queue.Enqueue(g.TestScope, oversized)
	g.Expect(err).To(BeNil())

	err = f.manager.Backfill(g.TestScope, lobby.LobbyID, []string{"big"})
	g.Expect(err).To(MatchError(models.ErrLobbyFull))
	g.Expect(f.queue.Len(models.MatchTypeRanked)).To(Equal(1))
}

func TestManager_CustomLobbyJoinAndCapacity(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	f := newFixture(nil)

	lobby, err := f.manager.CreateCustom(g.TestScope, "host", 1200, models.LobbySettings{TargetSize: 2})
	g.Expect(err).To(BeNil())
	g.Expect(lobby.MatchType).To(Equal(models.MatchTypeCustom))
	g.Expect(lobby.Settings.HostID).To(Equal("host"))

	lobby, err = f.manager.Join(g.TestScope, lobby.LobbyID, "guest", 1100)
	g.Expect(err).To(BeNil())
	g.Expect(lobby.Members).To(HaveLen(2))

	_, err = f.manager.Join(g.TestScope, lobby.LobbyID, "late", 1000)
	g.Expect(err).To(MatchError(models.ErrLobbyFull))

	_, err = f.manager.Join(g.TestScope, lobby.LobbyID, "guest", 1100)
	g.Expect(models.IsValidationError(err)).To(BeTrue())
}

func TestManager_CustomLobbyNeverListedForBackfill(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	f := newFixture(nil)

	lobby, err := f.manager.CreateCustom(g.TestScope, "host", 1200, models.LobbySettings{TargetSize: 3})
	g.Expect(err).To(BeNil())
	_, err = f.manager.Join(g.TestScope, lobby.LobbyID, "guest", 1100)
	g.Expect(err).To(BeNil())
	_, err = f.manager.Leave(g.TestScope, lobby.LobbyID, "guest")
	g.Expect(err).To(BeNil())

	g.Expect(f.manager.BackfillCandidates(models.MatchTypeCustom)).To(BeEmpty())
}

func TestManager_HostLeavingCancelsCustomLobby(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	f := newFixture(nil)

	lobby, err := f.manager.CreateCustom(g.TestScope, "host", 1200, models.LobbySettings{TargetSize: 4})
	g.Expect(err).To(BeNil())
	_, err = f.manager.Join(g.TestScope, lobby.LobbyID, "guest", 1100)
	g.Expect(err).To(BeNil())

	result, err := f.manager.Leave(g.TestScope, lobby.LobbyID, "host")
	g.Expect(err).To(BeNil())
	g.Expect(result.State).To(Equal(models.LobbyStateCancelled))
	g.Expect(result.CancelReason).To(Equal(constants.CancelReasonHostLeft))
}

func TestManager_JoinMatchedLobbyRejected(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	f := newFixture(func(cfg *config.Config) { cfg.RankedTargetSize = 2 })
	lobby := f.commitPair(g)

	_, err := f.manager.Join(g.TestScope, lobby.LobbyID, "stranger", 1000)
	g.Expect(models.IsStateError(err)).To(BeTrue())
}

func TestManager_StartProvisionsAndHandsOffToSessions(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	f := newFixture(func(cfg *config.Config) { cfg.RankedTargetSize = 2 })
	lobby := f.readyAll(g, f.commitPair(g))

	started, err := f.manager.Start(g.TestScope, lobby.LobbyID)
	g.Expect(err).To(BeNil())
	g.Expect(started.State).To(Equal(models.LobbyStateStarting))

	g.Eventually(f.starter.startedLobbies, 2*time.Second).Should(HaveLen(1))
	g.Eventually(func() error {
		_, err := f.manager.Get(lobby.LobbyID)
		return err
	}, 2*time.Second).Should(MatchError(models.ErrLobbyNotFound))
	g.Expect(f.starter.startedLobbies()[0].State).To(Equal(models.LobbyStateStarted))
}

func TestManager_StartRequiresReadyState(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	f := newFixture(func(cfg *config.Config) { cfg.RankedTargetSize = 2 })
	lobby := f.commitPair(g)

	_, err := f.manager.Start(g.TestScope, lobby.LobbyID)
	g.Expect(models.IsStateError(err)).To(BeTrue())
}

func TestManager_ProvisioningFailureCancelsAndRequeues(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	f := newFixture(func(cfg *config.Config) { cfg.RankedTargetSize = 2 })
	f.provisioner.FailWith = "no capacity"
	lobby := f.readyAll(g, f.commitPair(g))

	_, err := f.manager.Start(g.TestScope, lobby.LobbyID)
	g.Expect(err).To(BeNil())

	g.Eventually(func() error {
		_, err := f.manager.Get(lobby.LobbyID)
		return err
	}, 2*time.Second).Should(MatchError(models.ErrLobbyNotFound))

	// tickets went back with their original enqueue time
	g.Eventually(func() int { return f.queue.Len(models.MatchTypeRanked) }, 2*time.Second).Should(Equal(2))
	for _, ticket := range f.queue.Snapshot(models.MatchTypeRanked) {
		g.Expect(ticket.CreatedAt).To(Equal(baseTime))
	}
}

func TestManager_ProvisioningTimeoutCancelsLobby(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	f := newFixture(func(cfg *config.Config) {
		cfg.RankedTargetSize = 2
		cfg.ProvisionTimeoutSecond = 1
	})
	f.provisioner.Hang = true
	lobby := f.readyAll(g, f.commitPair(g))

	_, err := f.manager.Start(g.TestScope, lobby.LobbyID)
	g.Expect(err).To(BeNil())

	g.Eventually(func() error {
		_, err := f.manager.Get(lobby.LobbyID)
		return err
	}, 5*time.Second).Should(MatchError(models.ErrLobbyNotFound))
	g.Eventually(func() int { return f.queue.Len(models.MatchTypeRanked) }, 2*time.Second).Should(Equal(2))
	g.Expect(f.starter.startedLobbies()).To(BeEmpty())
}

func TestManager_CancelDuringStartingReleasesLateRuntime(t *testing.T) {
	g := testsetup.ParallelWithGomega(t)
	f := newFixture(func(cfg *config.Config) { cfg.RankedTargetSize = 2 })
	f.provisioner.Delay = 300 * time.Millisecond
	f.provisioner.IgnoreCancel = true
	lobby := f.readyAll(g, f.commitPair(g))

	_, err := f.manager.Start(g.TestScope, lobby.LobbyID)
	g.Expect(err).To(BeNil())

	g.Expect(f.manager.Cancel(g.TestScope, lobby.LobbyID, constants.CancelReasonRequested, true)).To(Succeed())
	g.Expect(f.starter.startedLobbies()).To(BeEmpty())
	// withdrawMembers was set, nobody goes back to the queue
	g.Expect(f.queue.Len(models.MatchTypeRanked)).To(Equal(0))

	// the runtime that arrived after the cancel is given back
	g.Eventually(f.provisioner.Released, 2*time.Second).Should(HaveLen(1))
}

func TestManager_SweepCancelsStaleReadyLobbies(t *testing.T) {
	g := testsetup.WithGomega(t)
	f := newFixture(func(cfg *config.Config) { cfg.RankedTargetSize = 2 })

	prev := Now
	Now = func() time.Time { return baseTime }
	t.Cleanup(func() { Now = prev })

	lobby := f.readyAll(g, f.commitPair(g))
	g.Expect(lobby.State).To(Equal(models.LobbyStateReady))

	// nothing stale yet
	g.Expect(f.manager.SweepReadyTimeouts(g.TestScope)).To(Equal(0))

	Now = func() time.Time { return baseTime.Add(time.Minute) }
	g.Expect(f.manager.SweepReadyTimeouts(g.TestScope)).To(Equal(1))
	_, err := f.manager.Get(lobby.LobbyID)
	g.Expect(err).To(MatchError(models.ErrLobbyNotFound))
	g.Expect(f.queue.Len(models.MatchTypeRanked)).To(Equal(2))
}
