// Package pipeline implements the generation orchestrator: it drives
// the fixed step sequence for a campaign, calls the injected text
// generator per step, scans every result, and appends one immutable
// artifact version per completed step.
//
// Concurrency model: each campaign has one exclusive lock, held for one
// pipeline step or one regeneration call at a time, never for a whole
// run. Distinct campaigns proceed fully independently.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"brandforge/internal/logging"
	"brandforge/internal/scanner"
	"brandforge/internal/store"
	"brandforge/internal/types"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"
)

// Orchestrator runs campaign content generation.
type Orchestrator struct {
	mu sync.RWMutex

	generator types.TextGenerator
	scanner   *scanner.Engine
	store     *store.VersionStore

	genTimeout   time.Duration
	progressChan chan Progress
	eventChan    chan Event

	// Per-campaign state. locks serialize steps and regeneration calls;
	// runs holds the most recent run per campaign.
	locks   map[string]*semaphore.Weighted
	runs    map[string]*Run
	cancels map[string]context.CancelFunc
	reports map[string]types.ComplianceReport
}

// OrchestratorConfig holds construction parameters.
type OrchestratorConfig struct {
	Generator        types.TextGenerator
	Scanner          *scanner.Engine
	Store            *store.VersionStore
	GeneratorTimeout time.Duration // Per generator call; 0 means no timeout
	ProgressChan     chan Progress // Optional; sends are non-blocking
	EventChan        chan Event    // Optional; sends are non-blocking
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	return &Orchestrator{
		generator:    cfg.Generator,
		scanner:      cfg.Scanner,
		store:        cfg.Store,
		genTimeout:   cfg.GeneratorTimeout,
		progressChan: cfg.ProgressChan,
		eventChan:    cfg.EventChan,
		locks:        make(map[string]*semaphore.Weighted),
		runs:         make(map[string]*Run),
		cancels:      make(map[string]context.CancelFunc),
		reports:      make(map[string]types.ComplianceReport),
	}
}

// campaignLock returns (creating if needed) the campaign's exclusive lock.
func (o *Orchestrator) campaignLock(campaignID string) *semaphore.Weighted {
	o.mu.Lock()
	defer o.mu.Unlock()
	sem, ok := o.locks[campaignID]
	if !ok {
		sem = semaphore.NewWeighted(1)
		o.locks[campaignID] = sem
	}
	return sem
}

// StartRun begins a generation run for the brief, capturing the
// guardrail snapshot. It returns the run handle immediately; steps
// execute in a background goroutine. Only one active run per campaign
// is permitted.
func (o *Orchestrator) StartRun(ctx context.Context, brief types.CampaignBrief, guardrailSnapshot types.GuardrailConfig) (string, error) {
	if err := brief.Validate(); err != nil {
		return "", err
	}

	o.mu.Lock()
	if existing, ok := o.runs[brief.CampaignID]; ok && existing.Status == RunActive {
		o.mu.Unlock()
		return "", types.ErrRunAlreadyActive
	}

	run := &Run{
		ID:         uuid.NewString(),
		CampaignID: brief.CampaignID,
		Brief:      brief,
		Guardrail:  guardrailSnapshot.Clone(),
		Status:     RunActive,
		Steps:      newStepTable(),
		StartedAt:  time.Now(),
		done:       make(chan struct{}),
	}
	runCtx, cancel := context.WithCancel(ctx)
	if old := o.cancels[brief.CampaignID]; old != nil {
		old()
	}
	o.runs[brief.CampaignID] = run
	o.cancels[brief.CampaignID] = cancel
	o.mu.Unlock()

	logging.Pipeline("Run %s started for campaign %s", run.ID, run.CampaignID)
	o.emitEvent(Event{Type: "run_started", CampaignID: run.CampaignID, RunID: run.ID, Message: "run started"})

	go o.executeRun(runCtx, run, 0, run.done)
	return run.ID, nil
}

// ResumeRun starts a run that continues a campaign from its stored
// progress: steps already backed by the version history are marked
// completed without re-invoking the generator, and execution picks up
// at the first step with no artifact. A campaign with no versions
// resumes from the beginning.
func (o *Orchestrator) ResumeRun(ctx context.Context, brief types.CampaignBrief, guardrailSnapshot types.GuardrailConfig) (string, error) {
	if err := brief.Validate(); err != nil {
		return "", err
	}

	versions, err := o.store.ListVersions(brief.CampaignID)
	if err != nil {
		return "", err
	}
	startIdx := CompletedSteps(versions)
	if startIdx >= len(types.StepOrder) {
		return "", fmt.Errorf("campaign %s has all steps completed; use regenerate to revise sections", brief.CampaignID)
	}

	o.mu.Lock()
	if existing, ok := o.runs[brief.CampaignID]; ok && existing.Status == RunActive {
		o.mu.Unlock()
		return "", types.ErrRunAlreadyActive
	}

	steps := newStepTable()
	for i := 0; i < startIdx; i++ {
		steps[i] = types.StepStatus{Step: types.StepOrder[i], State: types.StepCompleted, Progress: 100}
	}
	run := &Run{
		ID:         uuid.NewString(),
		CampaignID: brief.CampaignID,
		Brief:      brief,
		Guardrail:  guardrailSnapshot.Clone(),
		Status:     RunActive,
		Steps:      steps,
		StartedAt:  time.Now(),
		done:       make(chan struct{}),
	}
	runCtx, cancel := context.WithCancel(ctx)
	if old := o.cancels[brief.CampaignID]; old != nil {
		old()
	}
	o.runs[brief.CampaignID] = run
	o.cancels[brief.CampaignID] = cancel
	o.mu.Unlock()

	logging.Pipeline("Run %s resumed campaign %s at step %d of %d", run.ID, run.CampaignID, startIdx+1, len(types.StepOrder))
	o.emitEvent(Event{Type: "run_resumed", CampaignID: run.CampaignID, RunID: run.ID, Step: types.StepOrder[startIdx], Message: "run resumed"})

	go o.executeRun(runCtx, run, startIdx, run.done)
	return run.ID, nil
}

// Wait blocks until the run's current execution leg finishes: the run
// completed, failed at a step, or was cancelled.
func (o *Orchestrator) Wait(campaignID string) {
	o.mu.RLock()
	run, ok := o.runs[campaignID]
	var done chan struct{}
	if ok {
		done = run.done
	}
	o.mu.RUnlock()
	if done != nil {
		<-done
	}
}

// Status returns a snapshot of the campaign's current run.
func (o *Orchestrator) Status(campaignID string) (Run, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	run, ok := o.runs[campaignID]
	if !ok {
		return Run{}, fmt.Errorf("no run for campaign %s", campaignID)
	}
	return run.snapshot(), nil
}

// LatestReport returns the most recent compliance report for the
// campaign, if any.
func (o *Orchestrator) LatestReport(campaignID string) (types.ComplianceReport, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	report, ok := o.reports[campaignID]
	return report, ok
}

// Cancel cancels the campaign's active run. Cancellation takes effect
// between steps only: the step currently executing finishes first, its
// artifact is kept, and remaining steps stay pending.
func (o *Orchestrator) Cancel(campaignID string) {
	o.mu.Lock()
	cancel := o.cancels[campaignID]
	o.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// RetryStep re-invokes the generator for a failed step and resumes the
// run from there. Completed steps are untouched: their artifacts are
// neither regenerated nor re-scanned.
func (o *Orchestrator) RetryStep(ctx context.Context, runID string, step types.GenerationStep) error {
	o.mu.Lock()

	var run *Run
	for _, r := range o.runs {
		if r.ID == runID {
			run = r
			break
		}
	}
	if run == nil {
		o.mu.Unlock()
		return fmt.Errorf("unknown run %s", runID)
	}
	if run.Status == RunActive {
		o.mu.Unlock()
		return types.ErrRunAlreadyActive
	}

	idx := types.StepIndex(step)
	if idx < 0 || run.Steps[idx].State != types.StepFailed || idx != run.firstIncomplete() {
		o.mu.Unlock()
		return types.ErrStepOutOfOrder
	}

	run.Steps[idx] = types.StepStatus{Step: step, State: types.StepPending}
	run.Status = RunActive
	run.done = make(chan struct{})
	runCtx, cancel := context.WithCancel(ctx)
	// Release the finished leg's context before installing the new one.
	if old := o.cancels[run.CampaignID]; old != nil {
		old()
	}
	o.cancels[run.CampaignID] = cancel
	o.mu.Unlock()

	logging.Pipeline("Run %s retrying step %s", run.ID, step)
	o.emitEvent(Event{Type: "step_retried", CampaignID: run.CampaignID, RunID: run.ID, Step: step, Message: "step retried"})

	go o.executeRun(runCtx, run, idx, run.done)
	return nil
}

// executeRun is one execution leg: it runs steps from startIdx until
// completion, failure, or cancellation.
func (o *Orchestrator) executeRun(ctx context.Context, run *Run, startIdx int, done chan struct{}) {
	defer close(done)

	for idx := startIdx; idx < len(types.StepOrder); idx++ {
		// Cancellation is honored between steps only.
		select {
		case <-ctx.Done():
			o.finishRun(run, RunCancelled, "run_cancelled", "cancelled between steps")
			return
		default:
		}

		if err := o.executeStep(ctx, run, idx); err != nil {
			if errors.Is(err, context.Canceled) {
				// Cancelled while waiting for the campaign lock. The
				// step never started generating, so put it back to
				// pending and report the run as cancelled, not failed.
				o.setStep(run, idx, types.StepStatus{Step: types.StepOrder[idx], State: types.StepPending})
				o.finishRun(run, RunCancelled, "run_cancelled", "cancelled")
				return
			}
			o.finishRun(run, RunFailed, "run_failed", err.Error())
			return
		}
	}

	o.finishRun(run, RunCompleted, "run_completed", "all steps completed")
}

// finishRun records the terminal (or retryable-failed) state of a leg.
func (o *Orchestrator) finishRun(run *Run, status RunStatus, eventType, message string) {
	o.mu.Lock()
	run.Status = status
	run.FinishedAt = time.Now()
	o.mu.Unlock()

	logging.Pipeline("Run %s %s: %s", run.ID, status, message)
	o.emitEvent(Event{Type: eventType, CampaignID: run.CampaignID, RunID: run.ID, Message: message})
}

// executeStep runs one pipeline step under the campaign lock: generate,
// scan, persist a new version, update the status table.
func (o *Orchestrator) executeStep(ctx context.Context, run *Run, idx int) error {
	step := types.StepOrder[idx]

	sem := o.campaignLock(run.CampaignID)
	if err := sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("acquiring campaign lock: %w", err)
	}
	defer sem.Release(1)

	o.setStep(run, idx, types.StepStatus{Step: step, State: types.StepProcessing, Progress: 0})
	o.emitEvent(Event{Type: "step_started", CampaignID: run.CampaignID, RunID: run.ID, Step: step, Message: "step started"})

	// Generator calls are never interrupted mid-flight. Run cancellation
	// is honored at the step boundary in executeRun; only the per-call
	// timeout can end the call early.
	genCtx := context.WithoutCancel(ctx)
	if o.genTimeout > 0 {
		var cancel context.CancelFunc
		genCtx, cancel = context.WithTimeout(genCtx, o.genTimeout)
		defer cancel()
	}

	sections, err := o.generator.Generate(genCtx, step, run.Brief, run.Guardrail, nil, "")
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		wrapped := classifyGeneratorError(err)
		o.setStep(run, idx, types.StepStatus{Step: step, State: types.StepFailed, Error: wrapped.Error()})
		o.emitEvent(Event{Type: "step_failed", CampaignID: run.CampaignID, RunID: run.ID, Step: step, Message: wrapped.Error()})
		return wrapped
	}

	baseVersion := 0
	if latest, err := o.store.GetLatest(run.CampaignID); err == nil {
		baseVersion = latest.Version
	} else if !errors.Is(err, types.ErrVersionNotFound) {
		o.setStep(run, idx, types.StepStatus{Step: step, State: types.StepFailed, Error: err.Error()})
		return err
	}

	version, err := o.store.CreateVersion(run.CampaignID, baseVersion, sections, step)
	if err != nil {
		o.setStep(run, idx, types.StepStatus{Step: step, State: types.StepFailed, Error: err.Error()})
		return err
	}

	report := o.scanner.ScanVersion(version, run.Guardrail)
	o.mu.Lock()
	o.reports[run.CampaignID] = report
	o.mu.Unlock()

	o.setStep(run, idx, types.StepStatus{Step: step, State: types.StepCompleted, Progress: 100})
	o.emitEvent(Event{
		Type: "step_completed", CampaignID: run.CampaignID, RunID: run.ID, Step: step,
		Message: fmt.Sprintf("v%d created, compliance %d", version.Version, report.OverallScore),
	})
	return nil
}

// setStep updates one row of the status table and emits progress.
func (o *Orchestrator) setStep(run *Run, idx int, status types.StepStatus) {
	o.mu.Lock()
	run.Steps[idx] = status
	completed := 0
	for _, s := range run.Steps {
		if s.State == types.StepCompleted {
			completed++
		}
	}
	total := len(run.Steps)
	o.mu.Unlock()

	o.emitProgress(Progress{
		CampaignID:      run.CampaignID,
		RunID:           run.ID,
		Step:            status.Step,
		State:           status.State,
		StepProgress:    status.Progress,
		CompletedSteps:  completed,
		TotalSteps:      total,
		OverallProgress: float64(completed) / float64(total),
	})
}

// classifyGeneratorError maps a generator failure into the error
// taxonomy without interpreting provider-specific contents.
func classifyGeneratorError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", types.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", types.ErrTextGeneratorFailure, err)
}

// emitProgress sends a progress update without blocking.
func (o *Orchestrator) emitProgress(p Progress) {
	if o.progressChan == nil {
		return
	}
	select {
	case o.progressChan <- p:
	default:
		// Channel full, skip
	}
}

// emitEvent sends an event without blocking.
func (o *Orchestrator) emitEvent(e Event) {
	if o.eventChan == nil {
		return
	}
	e.Timestamp = time.Now()
	select {
	case o.eventChan <- e:
	default:
		// Channel full, skip
	}
}
