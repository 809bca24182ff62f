package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"basegraph.app/categorizer/common/id"
	"basegraph.app/categorizer/common/logger"
	"basegraph.app/categorizer/common/retry"
	"basegraph.app/categorizer/core/config"
	"basegraph.app/categorizer/internal/model"
	"basegraph.app/categorizer/internal/store"
)

const persistTimeout = 2 * time.Minute

var errInduction = errors.New("induction failed")

type Deps struct {
	Conversations store.ConversationStore
	Taxonomy      store.TaxonomyStore
	Lease         store.RunLease         // nil disables mutual exclusion
	Runs          store.PipelineRunStore // nil disables run history
	Chunker       Chunker
	Inducer       Inducer
	Assigner      Assigner
	Now           func() time.Time
}

type Orchestrator struct {
	conversations store.ConversationStore
	taxonomy      store.TaxonomyStore
	lease         store.RunLease
	runs          store.PipelineRunStore
	extractor     *Extractor
	chunker       Chunker
	inducer       Inducer
	assigner      Assigner
	cfg           config.PipelineConfig
	retry         retry.Policy
	now           func() time.Time
}

func NewOrchestrator(deps Deps, cfg config.PipelineConfig) *Orchestrator {
	policy := retry.DefaultPolicy(cfg.RetryMaxTries)

	now := deps.Now
	if now == nil {
		now = time.Now
	}

	return &Orchestrator{
		conversations: deps.Conversations,
		taxonomy:      deps.Taxonomy,
		lease:         deps.Lease,
		runs:          deps.Runs,
		extractor:     NewExtractor(deps.Conversations, cfg.Window, policy),
		chunker:       deps.Chunker,
		inducer:       deps.Inducer,
		assigner:      deps.Assigner,
		cfg:           cfg,
		retry:         policy,
		now:           now,
	}
}

// Run performs one categorization pass. Records are handled one at a time in
// store order. The returned error is set when the run aborted or the taxonomy
// could not be persisted; per-record failures are only counted.
func (o *Orchestrator) Run(ctx context.Context) (*RunResult, error) {
	runID := id.New()

	ctx = logger.WithLogFields(ctx, logger.LogFields{
		RunID:     logger.Ptr(runID),
		Component: "categorizer.pipeline.orchestrator",
	})

	sc := logger.StartSpan(ctx, "pipeline.run", attribute.Int64("run_id", runID))
	defer sc.End()
	ctx = sc.Context()

	result := &RunResult{RunID: runID, State: StateDone, StartedAt: o.now()}

	var lease *store.Lease
	if o.lease != nil {
		var err error
		lease, err = o.lease.Acquire(ctx)
		if errors.Is(err, store.ErrLeaseHeld) {
			slog.InfoContext(ctx, "another run holds the lease, skipping")
			result.State = StateSkipped
			result.FinishedAt = o.now()
			return result, nil
		}
		if err != nil {
			sc.RecordError(err)
			result.State = StateAborted
			result.FinishedAt = o.now()
			return result, fmt.Errorf("acquiring run lease: %w", err)
		}
		defer func() {
			if err := o.lease.Release(context.WithoutCancel(ctx), lease); err != nil {
				slog.ErrorContext(ctx, "failed to release run lease", "error", err)
			}
		}()
	}

	o.recordStart(ctx, result)

	err := o.run(ctx, result, lease)
	result.FinishedAt = o.now()
	if err != nil {
		sc.RecordError(err)
	}

	o.recordFinish(ctx, result, err)

	sc.SetAttributes(
		attribute.String("state", string(result.State)),
		attribute.Int("scanned", result.Scanned),
		attribute.Int("processed", result.Processed),
		attribute.Int("failed", result.Failed),
	)

	slog.InfoContext(ctx, "categorization run finished",
		"state", result.State,
		"scanned", result.Scanned,
		"skipped", result.Skipped,
		"processed", result.Processed,
		"failed", result.Failed,
		"chunks", result.Chunks,
		"labels_induced", result.LabelsInduced,
		"labels_persisted", result.LabelsPersisted,
		"taxonomy_size", result.TaxonomySize,
		"halted", result.Halted,
		"duration_ms", result.Duration().Milliseconds())

	return result, err
}

func (o *Orchestrator) run(ctx context.Context, result *RunResult, lease *store.Lease) error {
	slog.InfoContext(ctx, "categorization run started", "window", o.cfg.Window.String())

	taxonomy, err := o.loadTaxonomy(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "failed to load taxonomy, aborting run", "error", err)
		result.State = StateAborted
		return fmt.Errorf("loading taxonomy: %w", err)
	}
	loaded := len(taxonomy)

	records, extractErr := o.extractor.Extract(ctx, result.StartedAt)
	if extractErr != nil {
		slog.ErrorContext(ctx, "failed to extract window, aborting run", "error", extractErr)
		result.State = StateAborted
	}
	result.Scanned = len(records)

	var stopErr error
	for _, conv := range records {
		if err := ctx.Err(); err != nil {
			slog.WarnContext(ctx, "run cancelled, stopping record loop", "error", err)
			result.State = StateAborted
			stopErr = fmt.Errorf("run cancelled: %w", err)
			break
		}
		if err := o.renewLease(ctx, lease); err != nil {
			slog.ErrorContext(ctx, "run lease lost, stopping record loop", "error", err)
			result.State = StateAborted
			stopErr = err
			break
		}

		var rerr error
		var outcome recordOutcome
		outcome, taxonomy, rerr = o.processRecord(ctx, conv, taxonomy)
		result.Chunks += outcome.chunks

		switch {
		case outcome.skipped:
			result.Skipped++
		case rerr != nil:
			result.Failed++
			slog.ErrorContext(ctx, "record failed", "record_id", conv.ID, "error", rerr)
		default:
			result.Processed++
		}

		if rerr != nil && errors.Is(rerr, errInduction) && o.cfg.HaltOnInductionError {
			slog.WarnContext(ctx, "halting record loop after induction failure", "record_id", conv.ID)
			result.Halted = true
			break
		}
	}

	result.LabelsInduced = len(taxonomy) - loaded
	result.TaxonomySize = len(taxonomy)

	// Labels induced before a cancellation are still written.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	inserted, persistErr := o.taxonomy.Persist(persistCtx, taxonomy)
	result.LabelsPersisted = inserted
	if persistErr != nil {
		slog.ErrorContext(ctx, "failed to persist taxonomy", "error", persistErr)
	}

	if extractErr != nil {
		return errors.Join(fmt.Errorf("extracting window: %w", extractErr), persistErr)
	}
	return errors.Join(stopErr, persistErr)
}

// renewLease keeps the lease alive between records. Only a lost lease stops the
// run; a failed renewal is retried before the next record while the TTL lasts.
func (o *Orchestrator) renewLease(ctx context.Context, lease *store.Lease) error {
	if o.lease == nil || lease == nil {
		return nil
	}
	err := o.lease.Renew(ctx, lease)
	if errors.Is(err, store.ErrLeaseLost) {
		return err
	}
	if err != nil {
		slog.WarnContext(ctx, "failed to renew run lease", "error", err)
	}
	return nil
}

// recordStart and recordFinish keep the run history. History is best effort:
// a failing write is logged and never fails the run.
func (o *Orchestrator) recordStart(ctx context.Context, result *RunResult) {
	if o.runs == nil {
		return
	}
	run := &model.PipelineRun{
		ID:        result.RunID,
		Status:    model.RunStatusRunning,
		StartedAt: result.StartedAt,
	}
	if err := o.runs.Create(ctx, run); err != nil {
		slog.WarnContext(ctx, "failed to record run start", "error", err)
	}
}

func (o *Orchestrator) recordFinish(ctx context.Context, result *RunResult, runErr error) {
	if o.runs == nil {
		return
	}

	status := model.RunStatusDone
	if result.State == StateAborted {
		status = model.RunStatusAborted
	}

	run := &model.PipelineRun{
		ID:              result.RunID,
		Status:          status,
		Scanned:         result.Scanned,
		Skipped:         result.Skipped,
		Processed:       result.Processed,
		Failed:          result.Failed,
		LabelsInduced:   result.LabelsInduced,
		LabelsPersisted: result.LabelsPersisted,
		StartedAt:       result.StartedAt,
		FinishedAt:      logger.Ptr(result.FinishedAt),
	}
	if runErr != nil {
		run.Error = logger.Ptr(runErr.Error())
	}

	if err := o.runs.Finish(context.WithoutCancel(ctx), run); err != nil {
		slog.WarnContext(ctx, "failed to record run finish", "error", err)
	}
}

func (o *Orchestrator) loadTaxonomy(ctx context.Context) (model.Taxonomy, error) {
	if err := o.taxonomy.EnsureSchema(ctx); err != nil {
		return nil, err
	}

	taxonomy, err := o.taxonomy.Load(ctx)
	if err != nil {
		return nil, err
	}
	if taxonomy == nil {
		taxonomy = model.Taxonomy{}
	}

	slog.InfoContext(ctx, "taxonomy loaded", "taxonomy_size", len(taxonomy))
	return taxonomy, nil
}

type recordOutcome struct {
	skipped bool
	chunks  int
}

// processRecord chunks, labels and writes back one record. The returned taxonomy
// carries every label induced before a failure, so nothing already learned is lost.
func (o *Orchestrator) processRecord(ctx context.Context, conv *model.Conversation, taxonomy model.Taxonomy) (out recordOutcome, updated model.Taxonomy, err error) {
	updated = taxonomy

	ctx = logger.WithLogFields(ctx, logger.LogFields{RecordID: logger.Ptr(conv.ID)})

	defer func() {
		if r := recover(); r != nil {
			slog.ErrorContext(ctx, "panic while processing record", "panic", r)
			err = fmt.Errorf("record %s: panic: %v", conv.ID, r)
		}
	}()

	if conv.HasCategory() || !conv.HasMessages() {
		slog.DebugContext(ctx, "record skipped",
			"has_category", conv.HasCategory(),
			"has_messages", conv.HasMessages())
		return recordOutcome{skipped: true}, updated, nil
	}

	sc := logger.StartSpan(ctx, "pipeline.process_record", attribute.String("record_id", conv.ID))
	defer sc.End()
	ctx = sc.Context()

	chunks, err := o.chunker.Chunk(conv.Messages)
	if err != nil {
		sc.RecordError(err)
		return out, updated, fmt.Errorf("chunking: %w", err)
	}
	out.chunks = len(chunks)
	if len(chunks) == 0 {
		slog.DebugContext(ctx, "record has no user content, leaving it unchanged")
		out.skipped = true
		return out, updated, nil
	}

	for i, chunk := range chunks {
		chunkCtx := logger.WithLogFields(ctx, logger.LogFields{ChunkIndex: logger.Ptr(i)})
		next, _, ierr := o.inducer.Induce(chunkCtx, chunk, updated)
		if ierr != nil {
			sc.RecordError(ierr)
			return out, updated, fmt.Errorf("%w: chunk %d: %w", errInduction, i, ierr)
		}
		updated = next
	}

	var labels []string
	for i, chunk := range chunks {
		chunkCtx := logger.WithLogFields(ctx, logger.LogFields{ChunkIndex: logger.Ptr(i)})
		labels = append(labels, o.assigner.Assign(chunkCtx, chunk, updated)...)
	}
	if o.cfg.DedupeCategories {
		labels = dedupe(labels)
	}

	conv.SetCategory(labels)

	if err := retry.Run(ctx, o.retry, "store.upsert_conversation", retry.Transient,
		func(ctx context.Context) error {
			return o.conversations.Upsert(ctx, conv)
		}); err != nil {
		sc.RecordError(err)
		return out, updated, err
	}

	slog.InfoContext(ctx, "record categorized", "chunks", len(chunks), "category", conv.Category)
	return out, updated, nil
}

// dedupe keeps the first occurrence of each label.
func dedupe(labels []string) []string {
	seen := make(map[string]struct{}, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}
