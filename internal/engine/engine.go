// Package engine runs the periodic sync tick: it pulls new ledger activity,
// refreshes each affected participant's daily summary, announces threshold
// crossings and evaluates the daily warning and failure checkpoints.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	nooptrace "go.opentelemetry.io/otel/trace/noop"
	"golang.org/x/sync/errgroup"

	"example.com/sockathon/internal/domain"
	"example.com/sockathon/internal/ledger"
	"example.com/sockathon/internal/localday"
	"example.com/sockathon/internal/observability"
	"example.com/sockathon/internal/summary"
)

const defaultWorkers = 8

// ActivitySource yields ledger records beyond a cursor.
type ActivitySource interface {
	FetchSince(ctx context.Context, cursor int64) ([]ledger.Record, error)
}

// TimeTracker obtains credentials and recomputed summaries from the
// time-tracking service.
type TimeTracker interface {
	Token(ctx context.Context, p domain.Participant) (string, error)
	Summary(ctx context.Context, token string, from, to time.Time) (json.RawMessage, error)
}

// Store is the persistence the engine needs.
type Store interface {
	domain.ParticipantRepository
	domain.TeamRepository
	domain.SummaryRepository
	domain.CursorRepository
}

// Engine executes ticks. A single Engine must not run two ticks at once; the
// Scheduler guarantees that.
type Engine struct {
	source     ActivitySource
	tracker    TimeTracker
	store      Store
	notifier   domain.Notifier
	rules      Rules
	keys       ledger.KeyResolver
	cursorName string
	workers    int
	logger     *slog.Logger
	tracer     trace.Tracer
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger overrides the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer sets the tracer used for tick and participant spans.
func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithWorkers bounds per-participant parallelism.
func WithWorkers(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.workers = n
		}
	}
}

// WithCursorName selects the durable cursor row.
func WithCursorName(name string) Option {
	return func(e *Engine) {
		if name != "" {
			e.cursorName = name
		}
	}
}

// WithKeyResolver sets how ledger user keys map to participant ids.
func WithKeyResolver(keys ledger.KeyResolver) Option {
	return func(e *Engine) {
		e.keys = keys
	}
}

// New constructs an Engine.
func New(source ActivitySource, tracker TimeTracker, store Store, notifier domain.Notifier, rules Rules, opts ...Option) *Engine {
	e := &Engine{
		source:     source,
		tracker:    tracker,
		store:      store,
		notifier:   notifier,
		rules:      rules,
		keys:       ledger.NewKeyResolver(ledger.DefaultKeyLength),
		cursorName: "heartbeats",
		workers:    defaultWorkers,
		logger:     slog.Default(),
		tracer:     nooptrace.NewTracerProvider().Tracer("engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// TickReport summarises one tick.
type TickReport struct {
	ID           string
	Cursor       int64
	Records      int
	Synced       int
	Failed       int
	Unknown      int
	Crossings    int
	Warnings     int
	Eliminations int
}

type syncOutcome int

const (
	outcomeSynced syncOutcome = iota
	outcomeFailed
	outcomeUnknown
)

// RunTick performs one sync pass followed by one checkpoint pass at now.
//
// Every summary upsert of the sync pass completes before the checkpoint pass
// starts. If the ledger cannot be read the sync pass is abandoned without
// touching the cursor, but checkpoints are still evaluated against the
// summaries already stored.
func (e *Engine) RunTick(ctx context.Context, now time.Time) (TickReport, error) {
	started := time.Now()
	report := TickReport{ID: uuid.NewString()}

	ctx, span := e.tracer.Start(ctx, "sync.tick", trace.WithAttributes(attribute.String("tick.id", report.ID)))
	defer span.End()
	logger := e.logger.With("tick_id", report.ID)

	syncErr := e.syncPass(ctx, now, &report, logger)
	checkErr := e.checkpointPass(ctx, now, &report, logger)

	result := tickResultOK
	switch {
	case errors.Is(syncErr, errLedger):
		result = tickResultLedgerError
	case syncErr != nil || checkErr != nil:
		result = tickResultStoreError
	}
	recordTick(result, time.Since(started))

	err := errors.Join(syncErr, checkErr)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, result)
		logger.ErrorContext(ctx, "tick finished with errors", "error", err)
		return report, err
	}

	observability.RecordTickCompleted(now)
	logger.InfoContext(ctx, "tick complete",
		"records", report.Records,
		"synced", report.Synced,
		"failed", report.Failed,
		"unknown", report.Unknown,
		"crossings", report.Crossings,
		"warnings", report.Warnings,
		"eliminations", report.Eliminations,
		"cursor", report.Cursor,
	)
	return report, nil
}

var errLedger = errors.New("ledger unavailable")

func (e *Engine) syncPass(ctx context.Context, now time.Time, report *TickReport, logger *slog.Logger) error {
	cursor, err := e.store.LoadCursor(ctx, e.cursorName)
	if err != nil {
		return fmt.Errorf("load cursor: %w", err)
	}
	report.Cursor = cursor

	pending, err := e.store.PendingRecords(ctx, e.cursorName)
	if err != nil {
		return fmt.Errorf("load pending records: %w", err)
	}

	records, err := e.source.FetchSince(ctx, cursor)
	if err != nil {
		return fmt.Errorf("%w: %w", errLedger, err)
	}
	report.Records = len(records)

	work := e.workItems(records, pending)
	if len(work) == 0 {
		return nil
	}

	var (
		mu     sync.Mutex
		failed []domain.PendingRecord
		synced []domain.PendingRecord
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, item := range work {
		g.Go(func() error {
			outcome, crossed := e.syncParticipant(gctx, now, item, logger)
			recordParticipantSync(outcomeLabel(outcome))

			mu.Lock()
			defer mu.Unlock()
			switch outcome {
			case outcomeFailed:
				report.Failed++
				failed = append(failed, item)
			case outcomeUnknown:
				report.Unknown++
				synced = append(synced, item)
			default:
				report.Synced++
				synced = append(synced, item)
			}
			if crossed {
				report.Crossings++
			}
			return nil
		})
	}
	_ = g.Wait()

	next := ledger.MaxID(records, cursor)
	if err := e.store.AdvanceCursor(ctx, e.cursorName, next, failed, synced); err != nil {
		return fmt.Errorf("advance cursor: %w", err)
	}
	report.Cursor = next
	observability.RecordCursor(next)

	if remaining, err := e.store.PendingRecords(ctx, e.cursorName); err == nil {
		recordPending(len(remaining))
	}
	return nil
}

// workItems merges the newest record per participant from this page with the
// records left over from earlier failed syncs.
func (e *Engine) workItems(records []ledger.Record, pending []domain.PendingRecord) []domain.PendingRecord {
	byParticipant := make(map[string]domain.PendingRecord, len(records)+len(pending))
	for id, rec := range e.keys.LatestByParticipant(records) {
		byParticipant[id] = domain.PendingRecord{ParticipantID: id, RecordID: rec.ID, RecordedAt: rec.Time}
	}
	for _, p := range pending {
		if cur, ok := byParticipant[p.ParticipantID]; !ok || p.RecordID > cur.RecordID {
			byParticipant[p.ParticipantID] = p
		}
	}

	out := make([]domain.PendingRecord, 0, len(byParticipant))
	for _, item := range byParticipant {
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ParticipantID < out[j].ParticipantID })
	return out
}

func (e *Engine) syncParticipant(ctx context.Context, now time.Time, item domain.PendingRecord, logger *slog.Logger) (syncOutcome, bool) {
	ctx, span := e.tracer.Start(ctx, "sync.participant", trace.WithAttributes(
		attribute.String("participant.id", item.ParticipantID),
		attribute.Int64("ledger.record_id", item.RecordID),
	))
	defer span.End()
	logger = logger.With("participant_id", item.ParticipantID, "record_id", item.RecordID)

	fail := func(step string, err error) (syncOutcome, bool) {
		span.RecordError(err)
		span.SetStatus(codes.Error, step)
		logger.WarnContext(ctx, "participant sync failed", "step", step, "error", err)
		return outcomeFailed, false
	}

	p, err := e.store.GetParticipant(ctx, item.ParticipantID)
	if err != nil {
		return fail("load participant", err)
	}
	if p == nil {
		logger.DebugContext(ctx, "activity from unregistered user ignored")
		return outcomeUnknown, false
	}

	window := localday.Resolve(item.RecordedAt, p.TZOffsetSeconds)
	token, err := e.tracker.Token(ctx, *p)
	if err != nil {
		return fail("credential", err)
	}
	raw, err := e.tracker.Summary(ctx, token, window.Start, window.End)
	if err != nil {
		return fail("summary", err)
	}

	existing, err := e.store.GetDailySummary(ctx, p.ID, window.Date)
	if err != nil {
		return fail("load summary", err)
	}
	before := summary.ForSummary(existing)

	fresh := domain.DailySummary{
		ParticipantID: p.ID,
		TeamID:        p.TeamID,
		Date:          window.Date,
		Payload:       raw,
		CodedSeconds:  summary.CodedSeconds(raw),
		UpdatedAt:     now.UTC(),
	}
	if err := e.store.UpsertDailySummary(ctx, fresh); err != nil {
		return fail("upsert summary", err)
	}
	after := fresh.CodedSeconds

	logger.InfoContext(ctx, "summary synced", "date", window.String(), "before_seconds", before, "after_seconds", after)

	if !e.rules.Crossed(before, after) || !e.rules.InEvent(now, p.TZOffsetSeconds) {
		return outcomeSynced, false
	}
	err = e.notifier.Send(ctx, domain.ChannelTarget(e.rules.Channel), thresholdMessage(*p, e.rules))
	recordNotification(notifyThreshold, err)
	if err != nil {
		logger.WarnContext(ctx, "threshold notice not delivered", "error", err)
	}
	return outcomeSynced, true
}

func (e *Engine) checkpointPass(ctx context.Context, now time.Time, report *TickReport, logger *slog.Logger) error {
	participants, err := e.store.ListActiveParticipants(ctx)
	if err != nil {
		return fmt.Errorf("list active participants: %w", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.workers)
	for _, p := range participants {
		g.Go(func() error {
			warned, eliminated := e.evaluate(gctx, now, p, logger)
			mu.Lock()
			defer mu.Unlock()
			if warned {
				report.Warnings++
			}
			if eliminated {
				report.Eliminations++
			}
			return nil
		})
	}
	_ = g.Wait()
	return nil
}

// evaluate applies the warning and failure checkpoints to one participant.
func (e *Engine) evaluate(ctx context.Context, now time.Time, p domain.Participant, logger *slog.Logger) (warned, eliminated bool) {
	if !p.HasTeam() || !e.rules.InEvent(now, p.TZOffsetSeconds) {
		return false, false
	}
	hour, minute := localday.Clock(now, p.TZOffsetSeconds)
	warning, failure := e.rules.isWarning(hour, minute), e.rules.isFailure(hour, minute)
	if !warning && !failure {
		return false, false
	}

	logger = logger.With("participant_id", p.ID, "team_id", *p.TeamID)
	existing, err := e.store.GetDailySummary(ctx, p.ID, localday.Date(now, p.TZOffsetSeconds))
	if err != nil {
		logger.WarnContext(ctx, "checkpoint skipped", "error", err)
		return false, false
	}
	if summary.ForSummary(existing) >= e.rules.ThresholdSeconds {
		return false, false
	}

	if warning {
		// Not deduplicated: a minute evaluated twice sends the reminder twice.
		err := e.notifier.Send(ctx, domain.ParticipantTarget(p.ID), warningMessage(p, e.rules))
		recordNotification(notifyWarning, err)
		if err != nil {
			logger.WarnContext(ctx, "warning not delivered", "error", err)
		}
		warned = true
	}
	if failure {
		eliminated = e.eliminate(ctx, now, p, logger)
	}
	return warned, eliminated
}

// eliminate marks the participant's team as failed and, only when this call
// made the transition, notifies every member and the event channel.
func (e *Engine) eliminate(ctx context.Context, now time.Time, trigger domain.Participant, logger *slog.Logger) bool {
	ctx, span := e.tracer.Start(ctx, "engine.eliminate", trace.WithAttributes(
		attribute.String("participant.id", trigger.ID),
		attribute.Int64("team.id", *trigger.TeamID),
	))
	defer span.End()

	team, err := e.store.GetTeam(ctx, *trigger.TeamID)
	if err != nil {
		span.RecordError(err)
		logger.WarnContext(ctx, "load team failed", "error", err)
		return false
	}
	if team == nil || !team.Active() {
		return false
	}

	won, err := e.store.EliminateTeam(ctx, team.ID, now)
	if err != nil {
		span.RecordError(err)
		logger.ErrorContext(ctx, "elimination marker not set", "error", err)
		return false
	}
	if !won {
		logger.DebugContext(ctx, "team already eliminated")
		return false
	}
	recordElimination()
	marker := now.UTC()
	team.EliminatedAt = &marker
	logger.InfoContext(ctx, "team eliminated", "team", team.Name)

	members, err := e.store.TeamMembers(ctx, team.ID)
	if err != nil {
		logger.WarnContext(ctx, "list members failed, notifying trigger only", "error", err)
		members = []domain.Participant{trigger}
	}
	for _, m := range members {
		err := e.notifier.Send(ctx, domain.ParticipantTarget(m.ID), eliminationMessage(*team, trigger, m, e.rules))
		recordNotification(notifyElimination, err)
		if err != nil {
			logger.WarnContext(ctx, "elimination notice not delivered", "recipient", m.ID, "error", err)
		}
	}
	err = e.notifier.Send(ctx, domain.ChannelTarget(e.rules.Channel), broadcastMessage(*team, members))
	recordNotification(notifyBroadcast, err)
	if err != nil {
		logger.WarnContext(ctx, "elimination broadcast not delivered", "error", err)
	}
	return true
}

func outcomeLabel(o syncOutcome) string {
	switch o {
	case outcomeFailed:
		return syncResultFailed
	case outcomeUnknown:
		return syncResultUnknown
	default:
		return syncResultSynced
	}
}
