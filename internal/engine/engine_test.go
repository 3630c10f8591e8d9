package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/sockathon/internal/domain"
	"example.com/sockathon/internal/ledger"
	"example.com/sockathon/internal/persistence/memory"
)

const eventChannel = "C0EVENT"

func testRules() Rules {
	return Rules{
		ThresholdSeconds: 900,
		WarningHour:      18,
		WarningMinute:    0,
		FailureHour:      23,
		FailureMinute:    59,
		EventStart:       time.Date(2025, time.February, 10, 0, 0, 0, 0, time.UTC),
		EventEnd:         time.Date(2025, time.February, 20, 0, 0, 0, 0, time.UTC),
		Channel:          eventChannel,
	}
}

type stubSource struct {
	mu      sync.Mutex
	records []ledger.Record
	err     error
}

func (s *stubSource) FetchSince(_ context.Context, cursor int64) ([]ledger.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	out := make([]ledger.Record, 0, len(s.records))
	for i := len(s.records) - 1; i >= 0; i-- {
		if s.records[i].ID > cursor {
			out = append(out, s.records[i])
		}
	}
	return out, nil
}

func (s *stubSource) add(id int64, participantID string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, ledger.Record{ID: id, ExternalUserKey: "hackatime-" + participantID, Time: at})
}

type summaryCall struct {
	participantID string
	from, to      time.Time
}

type stubTracker struct {
	mu       sync.Mutex
	payloads map[string]string
	failing  map[string]error
	calls    []summaryCall
}

func newStubTracker() *stubTracker {
	return &stubTracker{payloads: map[string]string{}, failing: map[string]error{}}
}

func (s *stubTracker) Token(_ context.Context, p domain.Participant) (string, error) {
	return "tok-" + p.ID, nil
}

func (s *stubTracker) Summary(_ context.Context, token string, from, to time.Time) (json.RawMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := strings.TrimPrefix(token, "tok-")
	s.calls = append(s.calls, summaryCall{participantID: id, from: from, to: to})
	if err := s.failing[id]; err != nil {
		return nil, err
	}
	return json.RawMessage(s.payloads[id]), nil
}

func (s *stubTracker) set(participantID string, seconds int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payloads[participantID] = coded(seconds)
}

func (s *stubTracker) fail(participantID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing[participantID] = err
}

type sentMessage struct {
	target domain.Target
	text   string
}

type recordingNotifier struct {
	mu      sync.Mutex
	sent    []sentMessage
	failFor map[string]error
}

func (n *recordingNotifier) Send(_ context.Context, target domain.Target, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentMessage{target: target, text: text})
	return n.failFor[target.ID]
}

func (n *recordingNotifier) to(kind domain.TargetKind) []sentMessage {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]sentMessage, 0)
	for _, m := range n.sent {
		if m.target.Kind == kind {
			out = append(out, m)
		}
	}
	return out
}

type fixture struct {
	repo     *memory.Repository
	source   *stubSource
	tracker  *stubTracker
	notifier *recordingNotifier
	team     domain.Team
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     memory.NewRepository(),
		source:   &stubSource{},
		tracker:  newStubTracker(),
		notifier: &recordingNotifier{failFor: map[string]error{}},
	}
	f.team = f.repo.AddTeam("Lint Rollers", "ABCD")
	f.engine = New(f.source, f.tracker, f.repo, f.notifier, testRules(), WithWorkers(4))
	return f
}

func (f *fixture) join(id string, offsetSeconds int) domain.Participant {
	teamID := f.team.ID
	p := domain.Participant{ID: id, Username: strings.ToLower(id), TZOffsetSeconds: offsetSeconds, TZLabel: "India Standard Time", TeamID: &teamID}
	f.repo.AddParticipant(p)
	return p
}

func (f *fixture) seed(t *testing.T, participantID string, date time.Time, seconds int) {
	t.Helper()
	require.NoError(t, f.repo.UpsertDailySummary(context.Background(), domain.DailySummary{
		ParticipantID: participantID,
		Date:          date,
		Payload:       json.RawMessage(coded(seconds)),
		CodedSeconds:  int64(seconds),
	}))
}

func (f *fixture) codedOn(t *testing.T, participantID string, date time.Time) int64 {
	t.Helper()
	s, err := f.repo.GetDailySummary(context.Background(), participantID, date)
	require.NoError(t, err)
	require.NotNil(t, s)
	return s.CodedSeconds
}

func coded(seconds int) string {
	return fmt.Sprintf(`{"categories":[{"key":"coding","total":%d},{"key":"browsing","total":5000}]}`, seconds)
}

func day(d int) time.Time {
	return time.Date(2025, time.February, d, 0, 0, 0, 0, time.UTC)
}

const (
	ada   = "U0000000001"
	grace = "U0000000002"
)

func TestThresholdCrossingAnnouncedOnce(t *testing.T) {
	f := newFixture(t)
	f.join(ada, 0)
	f.seed(t, ada, day(12), 600)
	f.source.add(1, ada, time.Date(2025, time.February, 12, 10, 0, 0, 0, time.UTC))
	f.tracker.set(ada, 1000)

	report, err := f.engine.RunTick(context.Background(), time.Date(2025, time.February, 12, 10, 1, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Equal(t, 1, report.Crossings)
	require.Equal(t, 1, report.Synced)
	require.EqualValues(t, 1, report.Cursor)
	require.EqualValues(t, 1000, f.codedOn(t, ada, day(12)))

	notices := f.notifier.to(domain.TargetChannel)
	require.Len(t, notices, 1)
	require.Equal(t, eventChannel, notices[0].target.ID)
	require.Contains(t, notices[0].text, "<@"+ada+">")
	require.Contains(t, notices[0].text, "15 min mark")
}

func TestThresholdNoticeRequiresCrossing(t *testing.T) {
	cases := map[string]struct {
		before, after int
		seed          bool
		want          int
	}{
		"zero to zero":         {before: 0, after: 0, want: 0},
		"already above":        {before: 1000, after: 1200, seed: true, want: 0},
		"exactly at threshold": {before: 899, after: 900, seed: true, want: 1},
		"from nothing":         {after: 901, want: 1},
		"still below":          {before: 100, after: 899, seed: true, want: 0},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			f.join(ada, 0)
			if tc.seed {
				f.seed(t, ada, day(12), tc.before)
			}
			f.source.add(7, ada, time.Date(2025, time.February, 12, 9, 0, 0, 0, time.UTC))
			f.tracker.set(ada, tc.after)

			_, err := f.engine.RunTick(context.Background(), time.Date(2025, time.February, 12, 9, 5, 0, 0, time.UTC))
			require.NoError(t, err)
			require.Len(t, f.notifier.to(domain.TargetChannel), tc.want)
		})
	}
}

func TestThresholdNoticeSuppressedOutsideEvent(t *testing.T) {
	f := newFixture(t)
	f.join(ada, 0)
	f.source.add(1, ada, time.Date(2025, time.February, 25, 9, 0, 0, 0, time.UTC))
	f.tracker.set(ada, 1200)

	report, err := f.engine.RunTick(context.Background(), time.Date(2025, time.February, 25, 9, 1, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Zero(t, report.Crossings)
	require.Empty(t, f.notifier.sent)
	require.EqualValues(t, 1200, f.codedOn(t, ada, day(25)))
}

func TestSyncRequestsLocalDayWindow(t *testing.T) {
	f := newFixture(t)
	f.join(ada, 19800)
	f.source.add(1, ada, time.Date(2025, time.February, 11, 10, 0, 0, 0, time.UTC))
	f.source.add(2, ada, time.Date(2025, time.February, 11, 20, 0, 0, 0, time.UTC))
	f.tracker.set(ada, 300)

	_, err := f.engine.RunTick(context.Background(), time.Date(2025, time.February, 11, 20, 1, 0, 0, time.UTC))
	require.NoError(t, err)

	require.Len(t, f.tracker.calls, 1)
	call := f.tracker.calls[0]
	require.Equal(t, time.Date(2025, time.February, 11, 18, 30, 0, 0, time.UTC), call.from)
	require.Equal(t, time.Date(2025, time.February, 12, 18, 29, 59, int(999*time.Millisecond), time.UTC), call.to)
	require.EqualValues(t, 300, f.codedOn(t, ada, day(12)))
}

func TestFailedParticipantDoesNotBlockOthersAndIsRetried(t *testing.T) {
	f := newFixture(t)
	f.join(ada, 0)
	f.join(grace, 0)
	at := time.Date(2025, time.February, 12, 9, 0, 0, 0, time.UTC)
	f.source.add(10, ada, at)
	f.source.add(11, grace, at)
	f.tracker.set(ada, 400)
	f.tracker.set(grace, 500)
	f.tracker.fail(ada, errors.New("upstream timeout"))

	now := at.Add(time.Minute)
	report, err := f.engine.RunTick(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, report.Failed)
	require.Equal(t, 1, report.Synced)
	require.EqualValues(t, 11, report.Cursor)
	require.EqualValues(t, 500, f.codedOn(t, grace, day(12)))

	pending, err := f.repo.PendingRecords(context.Background(), "heartbeats")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	require.Equal(t, ada, pending[0].ParticipantID)
	require.EqualValues(t, 10, pending[0].RecordID)

	f.tracker.fail(ada, nil)
	report, err = f.engine.RunTick(context.Background(), now.Add(time.Minute))
	require.NoError(t, err)
	require.Zero(t, report.Records)
	require.Equal(t, 1, report.Synced)
	require.EqualValues(t, 400, f.codedOn(t, ada, day(12)))

	pending, err = f.repo.PendingRecords(context.Background(), "heartbeats")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestUnknownParticipantIsConsumed(t *testing.T) {
	f := newFixture(t)
	f.source.add(3, "U00000STRAY", time.Date(2025, time.February, 12, 9, 0, 0, 0, time.UTC))

	report, err := f.engine.RunTick(context.Background(), time.Date(2025, time.February, 12, 9, 1, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, 1, report.Unknown)
	require.EqualValues(t, 3, report.Cursor)
	require.Empty(t, f.tracker.calls)

	pending, err := f.repo.PendingRecords(context.Background(), "heartbeats")
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestLedgerFailureLeavesCursorButStillChecksTeams(t *testing.T) {
	f := newFixture(t)
	f.join(ada, 0)
	f.source.err = errors.New("connection refused")
	now := time.Date(2025, time.February, 12, 23, 59, 0, 0, time.UTC)

	_, err := f.engine.RunTick(context.Background(), now)
	require.ErrorIs(t, err, errLedger)

	cursor, err := f.repo.LoadCursor(context.Background(), "heartbeats")
	require.NoError(t, err)
	require.Zero(t, cursor)

	team, err := f.repo.GetTeam(context.Background(), f.team.ID)
	require.NoError(t, err)
	require.False(t, team.Active())
}

func TestWarningCheckpointAtLocalEvening(t *testing.T) {
	f := newFixture(t)
	f.join(ada, 19800)
	f.join(grace, 19800)
	f.seed(t, ada, day(12), 100)
	f.seed(t, grace, day(12), 900)
	now := time.Date(2025, time.February, 12, 12, 30, 0, 0, time.UTC)

	report, err := f.engine.RunTick(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, report.Warnings)

	dms := f.notifier.to(domain.TargetParticipant)
	require.Len(t, dms, 1)
	require.Equal(t, ada, dms[0].target.ID)
	require.Contains(t, dms[0].text, "It's 6pm india standard time")

	// The same minute evaluated again repeats the reminder.
	_, err = f.engine.RunTick(context.Background(), now)
	require.NoError(t, err)
	require.Len(t, f.notifier.to(domain.TargetParticipant), 2)

	team, err := f.repo.GetTeam(context.Background(), f.team.ID)
	require.NoError(t, err)
	require.True(t, team.Active())
}

func TestFailureCheckpointEliminatesTeam(t *testing.T) {
	f := newFixture(t)
	f.join(ada, 0)
	f.join(grace, 3600)
	f.seed(t, ada, day(12), 500)
	now := time.Date(2025, time.February, 12, 23, 59, 0, 0, time.UTC)

	report, err := f.engine.RunTick(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, report.Eliminations)

	team, err := f.repo.GetTeam(context.Background(), f.team.ID)
	require.NoError(t, err)
	require.NotNil(t, team.EliminatedAt)
	require.True(t, team.EliminatedAt.Equal(now))
	require.Equal(t, domain.TeamStateFailed, team.State())

	dms := f.notifier.to(domain.TargetParticipant)
	require.Len(t, dms, 2)
	byRecipient := map[string]string{}
	for _, m := range dms {
		byRecipient[m.target.ID] = m.text
	}
	require.Contains(t, byRecipient[ada], "You didn't get your 15 minutes")
	require.Contains(t, byRecipient[grace], "Your teammate <@"+ada+">")

	broadcasts := f.notifier.to(domain.TargetChannel)
	require.Len(t, broadcasts, 1)
	require.Contains(t, broadcasts[0].text, "*Lint Rollers*")
	require.Contains(t, broadcasts[0].text, "<@"+ada+"> & <@"+grace+">")
}

func TestFailureCheckpointIgnoresEliminatedTeam(t *testing.T) {
	f := newFixture(t)
	f.join(ada, 0)
	earlier := time.Date(2025, time.February, 11, 23, 59, 0, 0, time.UTC)
	won, err := f.repo.EliminateTeam(context.Background(), f.team.ID, earlier)
	require.NoError(t, err)
	require.True(t, won)

	report, err := f.engine.RunTick(context.Background(), earlier.Add(24*time.Hour))
	require.NoError(t, err)
	require.Zero(t, report.Eliminations)
	require.Empty(t, f.notifier.sent)

	team, err := f.repo.GetTeam(context.Background(), f.team.ID)
	require.NoError(t, err)
	require.True(t, team.EliminatedAt.Equal(earlier))
}

func TestTwoFailingMembersProduceOneCascade(t *testing.T) {
	f := newFixture(t)
	f.join(ada, 0)
	f.join(grace, 0)
	now := time.Date(2025, time.February, 12, 23, 59, 0, 0, time.UTC)

	report, err := f.engine.RunTick(context.Background(), now)
	require.NoError(t, err)
	require.Equal(t, 1, report.Eliminations)
	require.Len(t, f.notifier.to(domain.TargetChannel), 1)
	require.Len(t, f.notifier.to(domain.TargetParticipant), 2)

	_, err = f.engine.RunTick(context.Background(), now.Add(30*time.Second))
	require.NoError(t, err)
	require.Len(t, f.notifier.to(domain.TargetChannel), 1)
}

func TestEliminationFanOutSurvivesDeliveryFailures(t *testing.T) {
	f := newFixture(t)
	f.join(ada, 0)
	f.join(grace, 3600)
	f.notifier.failFor[ada] = errors.New("cannot_dm_bot")
	now := time.Date(2025, time.February, 12, 23, 59, 0, 0, time.UTC)

	_, err := f.engine.RunTick(context.Background(), now)
	require.NoError(t, err)

	require.Len(t, f.notifier.to(domain.TargetParticipant), 2)
	require.Len(t, f.notifier.to(domain.TargetChannel), 1)
	team, err := f.repo.GetTeam(context.Background(), f.team.ID)
	require.NoError(t, err)
	require.False(t, team.Active())
}

func TestEngineNeverAltersMembership(t *testing.T) {
	f := newFixture(t)
	for i := range domain.TeamCapacity {
		f.join(fmt.Sprintf("U%010d", i+1), 0)
	}
	now := time.Date(2025, time.February, 12, 23, 59, 0, 0, time.UTC)

	_, err := f.engine.RunTick(context.Background(), now)
	require.NoError(t, err)

	members, err := f.repo.TeamMembers(context.Background(), f.team.ID)
	require.NoError(t, err)
	require.Len(t, members, domain.TeamCapacity)
	require.Len(t, f.notifier.to(domain.TargetParticipant), domain.TeamCapacity)
}

func TestClockLabel(t *testing.T) {
	require.Equal(t, "6pm", clockLabel(18, 0))
	require.Equal(t, "6:30pm", clockLabel(18, 30))
	require.Equal(t, "12am", clockLabel(0, 0))
	require.Equal(t, "12pm", clockLabel(12, 0))
}
