package pipeline

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"brandforge/internal/generator"
	"brandforge/internal/scanner"
	"brandforge/internal/store"
	"brandforge/internal/types"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"),
	)
}

// fakeGenerator wraps the deterministic static generator with failure
// and blocking controls for orchestration tests.
type fakeGenerator struct {
	inner *generator.StaticGenerator

	mu       sync.Mutex
	calls    map[types.GenerationStep]int
	failStep types.GenerationStep
	failErr  error

	blockStep types.GenerationStep
	release   chan struct{}
	entered   chan types.GenerationStep
}

func newFakeGenerator() *fakeGenerator {
	return &fakeGenerator{
		inner:   generator.NewStaticGenerator(),
		calls:   make(map[types.GenerationStep]int),
		entered: make(chan types.GenerationStep, 16),
	}
}

func (g *fakeGenerator) Generate(ctx context.Context, step types.GenerationStep, brief types.CampaignBrief, guardrail types.GuardrailConfig, targetSections []string, extraInstructions string) (map[string]types.ContentSection, error) {
	g.mu.Lock()
	g.calls[step]++
	failStep, failErr := g.failStep, g.failErr
	blockStep, release := g.blockStep, g.release
	g.mu.Unlock()

	select {
	case g.entered <- step:
	default:
	}

	if step == blockStep && release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if step == failStep && failErr != nil {
		return nil, failErr
	}
	return g.inner.Generate(ctx, step, brief, guardrail, targetSections, extraInstructions)
}

func (g *fakeGenerator) count(step types.GenerationStep) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[step]
}

func (g *fakeGenerator) setFail(step types.GenerationStep, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.failStep, g.failErr = step, err
}

func (g *fakeGenerator) awaitStep(t *testing.T, step types.GenerationStep) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case got := <-g.entered:
			if got == step {
				return
			}
		case <-deadline:
			t.Fatalf("generator never reached step %s", step)
		}
	}
}

func newTestOrchestrator(t *testing.T, gen types.TextGenerator, eventChan chan Event) (*Orchestrator, *store.VersionStore) {
	t.Helper()
	vs, err := store.NewVersionStore(filepath.Join(t.TempDir(), "versions.db"))
	if err != nil {
		t.Fatalf("NewVersionStore failed: %v", err)
	}
	t.Cleanup(func() { vs.Close() })

	eng, err := scanner.NewEngine(scanner.EngineConfig{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	return NewOrchestrator(OrchestratorConfig{
		Generator: gen,
		Scanner:   eng,
		Store:     vs,
		EventChan: eventChan,
	}), vs
}

func testBrief() types.CampaignBrief {
	return types.CampaignBrief{
		CampaignID:     "camp-1",
		Product:        "Aqua Cream",
		Offer:          "30% launch discount",
		TargetSegments: []string{"20s skincare"},
		Channels:       []string{"Instagram"},
	}
}

func allSectionKeys() []string {
	return []string{
		"channel_copy", "cta", "hashtags", "headline", "key_message",
		"offer_terms", "positioning", "script", "subheadline",
	}
}

func TestStartRun_CompletesAllSteps(t *testing.T) {
	gen := newFakeGenerator()
	orch, vs := newTestOrchestrator(t, gen, nil)

	runID, err := orch.StartRun(context.Background(), testBrief(), types.GuardrailConfig{})
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	if runID == "" {
		t.Fatal("StartRun returned empty run ID")
	}
	orch.Wait("camp-1")

	run, err := orch.Status("camp-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if run.Status != RunCompleted {
		t.Fatalf("run status = %s, want completed", run.Status)
	}
	for i, s := range run.Steps {
		if s.State != types.StepCompleted || s.Progress != 100 {
			t.Errorf("step %d (%s): state=%s progress=%d, want completed/100", i, s.Step, s.State, s.Progress)
		}
	}

	versions, err := vs.ListVersions("camp-1")
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(versions) != len(types.StepOrder) {
		t.Fatalf("got %d versions, want %d", len(versions), len(types.StepOrder))
	}
	for i, v := range versions {
		if v.Version != i+1 {
			t.Errorf("version %d numbered %d", i, v.Version)
		}
		if v.OriginStep != types.StepOrder[i] {
			t.Errorf("version %d origin = %s, want %s", v.Version, v.OriginStep, types.StepOrder[i])
		}
	}

	final := versions[len(versions)-1]
	if diff := cmp.Diff(allSectionKeys(), final.SectionKeys()); diff != "" {
		t.Errorf("final version keys (-want +got):\n%s", diff)
	}

	// Earlier output rides forward untouched.
	if diff := cmp.Diff(versions[0].Sections["positioning"], final.Sections["positioning"]); diff != "" {
		t.Errorf("positioning drifted between v1 and v%d:\n%s", final.Version, diff)
	}

	if _, ok := orch.LatestReport("camp-1"); !ok {
		t.Error("no compliance report recorded")
	}
}

func TestStartRun_InvalidBrief(t *testing.T) {
	gen := newFakeGenerator()
	orch, _ := newTestOrchestrator(t, gen, nil)

	_, err := orch.StartRun(context.Background(), types.CampaignBrief{CampaignID: "x"}, types.GuardrailConfig{})
	if !errors.Is(err, types.ErrInvalidBrief) {
		t.Errorf("expected ErrInvalidBrief, got %v", err)
	}
}

func TestStartRun_SecondRunRefusedWhileActive(t *testing.T) {
	gen := newFakeGenerator()
	gen.blockStep = types.StepBrief
	gen.release = make(chan struct{})
	orch, _ := newTestOrchestrator(t, gen, nil)

	runID, err := orch.StartRun(context.Background(), testBrief(), types.GuardrailConfig{})
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	gen.awaitStep(t, types.StepBrief)

	if _, err := orch.StartRun(context.Background(), testBrief(), types.GuardrailConfig{}); !errors.Is(err, types.ErrRunAlreadyActive) {
		t.Errorf("second StartRun: expected ErrRunAlreadyActive, got %v", err)
	}
	if err := orch.RetryStep(context.Background(), runID, types.StepBrief); !errors.Is(err, types.ErrRunAlreadyActive) {
		t.Errorf("RetryStep on active run: expected ErrRunAlreadyActive, got %v", err)
	}
	if _, err := orch.RegenerateSections(context.Background(), testBrief(), types.GuardrailConfig{}, []string{"headline"}, ""); !errors.Is(err, types.ErrRunAlreadyActive) {
		t.Errorf("RegenerateSections on active run: expected ErrRunAlreadyActive, got %v", err)
	}

	close(gen.release)
	orch.Wait("camp-1")

	// With the first run finished a new one is allowed.
	if _, err := orch.StartRun(context.Background(), types.CampaignBrief{
		CampaignID: "camp-2", Product: "Aqua Cream", Offer: "x",
	}, types.GuardrailConfig{}); err != nil {
		t.Errorf("StartRun for another campaign failed: %v", err)
	}
	orch.Wait("camp-2")
	orch.Wait("camp-1")
}

func TestStepFailure_HaltsRun(t *testing.T) {
	gen := newFakeGenerator()
	gen.setFail(types.StepChannel, errors.New("provider exploded"))
	orch, vs := newTestOrchestrator(t, gen, nil)

	if _, err := orch.StartRun(context.Background(), testBrief(), types.GuardrailConfig{}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	orch.Wait("camp-1")

	run, err := orch.Status("camp-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if run.Status != RunFailed {
		t.Fatalf("run status = %s, want failed", run.Status)
	}

	wantStates := []types.StepState{
		types.StepCompleted, types.StepCompleted, types.StepFailed, types.StepPending,
	}
	for i, want := range wantStates {
		if run.Steps[i].State != want {
			t.Errorf("step %d (%s): state=%s, want %s", i, run.Steps[i].Step, run.Steps[i].State, want)
		}
	}
	if run.Steps[2].Error == "" {
		t.Error("failed step carries no error")
	}

	versions, err := vs.ListVersions("camp-1")
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(versions) != 2 {
		t.Errorf("got %d versions after failure at step 3, want 2", len(versions))
	}
}

func TestRetryStep_ResumesFromFailure(t *testing.T) {
	gen := newFakeGenerator()
	gen.setFail(types.StepChannel, errors.New("transient"))
	orch, vs := newTestOrchestrator(t, gen, nil)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	defer cancelFirst()
	runID, err := orch.StartRun(firstCtx, testBrief(), types.GuardrailConfig{})
	if err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	orch.Wait("camp-1")

	// The original leg's parent context is dead from here on. The retry
	// leg runs under its own context and must not be affected.
	cancelFirst()

	// Retrying any step other than the failed one is out of order.
	if err := orch.RetryStep(context.Background(), runID, types.StepCreative); !errors.Is(err, types.ErrStepOutOfOrder) {
		t.Errorf("retry of pending step: expected ErrStepOutOfOrder, got %v", err)
	}
	if err := orch.RetryStep(context.Background(), runID, types.StepBrief); !errors.Is(err, types.ErrStepOutOfOrder) {
		t.Errorf("retry of completed step: expected ErrStepOutOfOrder, got %v", err)
	}
	if err := orch.RetryStep(context.Background(), "no-such-run", types.StepChannel); err == nil {
		t.Error("retry with unknown run ID succeeded")
	}

	gen.setFail("", nil)
	if err := orch.RetryStep(context.Background(), runID, types.StepChannel); err != nil {
		t.Fatalf("RetryStep failed: %v", err)
	}
	orch.Wait("camp-1")

	run, err := orch.Status("camp-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if run.Status != RunCompleted {
		t.Fatalf("run status after retry = %s, want completed", run.Status)
	}
	if run.ID != runID {
		t.Errorf("retry created a new run: %s != %s", run.ID, runID)
	}

	// Completed steps were not re-invoked.
	for _, step := range []types.GenerationStep{types.StepBrief, types.StepOffer, types.StepCreative} {
		if n := gen.count(step); n != 1 {
			t.Errorf("step %s invoked %d times, want 1", step, n)
		}
	}
	if n := gen.count(types.StepChannel); n != 2 {
		t.Errorf("step channel invoked %d times, want 2", n)
	}

	versions, err := vs.ListVersions("camp-1")
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(versions) != len(types.StepOrder) {
		t.Errorf("got %d versions, want %d", len(versions), len(types.StepOrder))
	}
}

func TestCancel_InFlightStepFinishesFirst(t *testing.T) {
	gen := newFakeGenerator()
	gen.blockStep = types.StepOffer
	gen.release = make(chan struct{})
	orch, vs := newTestOrchestrator(t, gen, nil)

	if _, err := orch.StartRun(context.Background(), testBrief(), types.GuardrailConfig{}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	gen.awaitStep(t, types.StepOffer)

	// Cancel lands while the offer generator call is in flight. The call
	// must run to completion and keep its artifact; the run stops at the
	// step boundary afterwards.
	orch.Cancel("camp-1")
	close(gen.release)
	orch.Wait("camp-1")

	run, err := orch.Status("camp-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if run.Status != RunCancelled {
		t.Fatalf("run status = %s, want cancelled", run.Status)
	}
	wantStates := []types.StepState{
		types.StepCompleted, types.StepCompleted, types.StepPending, types.StepPending,
	}
	for i, want := range wantStates {
		if run.Steps[i].State != want {
			t.Errorf("step %d (%s): state=%s, want %s", i, run.Steps[i].Step, run.Steps[i].State, want)
		}
	}

	versions, err := vs.ListVersions("camp-1")
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(versions) != 2 {
		t.Errorf("got %d versions after cancel, want 2", len(versions))
	}
}

func TestResumeRun_ContinuesFromStoredProgress(t *testing.T) {
	gen := newFakeGenerator()
	gen.setFail(types.StepChannel, errors.New("transient"))
	orch, vs := newTestOrchestrator(t, gen, nil)

	if _, err := orch.StartRun(context.Background(), testBrief(), types.GuardrailConfig{}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	orch.Wait("camp-1")

	// A fresh orchestrator over the same store, as a new process
	// invocation would have.
	eng, err := scanner.NewEngine(scanner.EngineConfig{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	gen2 := newFakeGenerator()
	orch2 := NewOrchestrator(OrchestratorConfig{Generator: gen2, Scanner: eng, Store: vs})

	if _, err := orch2.ResumeRun(context.Background(), testBrief(), types.GuardrailConfig{}); err != nil {
		t.Fatalf("ResumeRun failed: %v", err)
	}
	orch2.Wait("camp-1")

	run, err := orch2.Status("camp-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if run.Status != RunCompleted {
		t.Fatalf("resumed run status = %s, want completed", run.Status)
	}
	for i, s := range run.Steps {
		if s.State != types.StepCompleted {
			t.Errorf("step %d (%s): state=%s, want completed", i, s.Step, s.State)
		}
	}

	// Steps already backed by stored versions were not re-invoked.
	for _, step := range []types.GenerationStep{types.StepBrief, types.StepOffer} {
		if n := gen2.count(step); n != 0 {
			t.Errorf("resumed run invoked %s %d times, want 0", step, n)
		}
	}
	for _, step := range []types.GenerationStep{types.StepChannel, types.StepCreative} {
		if n := gen2.count(step); n != 1 {
			t.Errorf("resumed run invoked %s %d times, want 1", step, n)
		}
	}

	versions, err := vs.ListVersions("camp-1")
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(versions) != len(types.StepOrder) {
		t.Errorf("got %d versions, want %d", len(versions), len(types.StepOrder))
	}

	// Nothing left to resume once every step has an artifact.
	if _, err := orch2.ResumeRun(context.Background(), testBrief(), types.GuardrailConfig{}); err == nil {
		t.Error("ResumeRun on a fully completed campaign succeeded")
	}
}

func TestResumeRun_FreshCampaignRunsAllSteps(t *testing.T) {
	gen := newFakeGenerator()
	orch, vs := newTestOrchestrator(t, gen, nil)

	if _, err := orch.ResumeRun(context.Background(), testBrief(), types.GuardrailConfig{}); err != nil {
		t.Fatalf("ResumeRun failed: %v", err)
	}
	orch.Wait("camp-1")

	versions, err := vs.ListVersions("camp-1")
	if err != nil {
		t.Fatalf("ListVersions failed: %v", err)
	}
	if len(versions) != len(types.StepOrder) {
		t.Errorf("got %d versions, want %d", len(versions), len(types.StepOrder))
	}
}

func TestCompletedSteps(t *testing.T) {
	if got := CompletedSteps(nil); got != 0 {
		t.Errorf("CompletedSteps(nil) = %d, want 0", got)
	}

	versions := []types.ArtifactVersion{
		{Version: 1, OriginStep: types.StepBrief},
		{Version: 2, OriginStep: types.StepOffer},
	}
	if got := CompletedSteps(versions); got != 2 {
		t.Errorf("CompletedSteps = %d, want 2", got)
	}

	// A later regeneration version with an earlier origin step must not
	// roll progress back.
	versions = append(versions,
		types.ArtifactVersion{Version: 3, OriginStep: types.StepChannel},
		types.ArtifactVersion{Version: 4, OriginStep: types.StepCreative},
		types.ArtifactVersion{Version: 5, OriginStep: types.StepOffer},
	)
	if got := CompletedSteps(versions); got != 4 {
		t.Errorf("CompletedSteps with regeneration tail = %d, want 4", got)
	}
}

func TestRegenerateSections_CopyForward(t *testing.T) {
	gen := newFakeGenerator()
	orch, _ := newTestOrchestrator(t, gen, nil)

	if _, err := orch.StartRun(context.Background(), testBrief(), types.GuardrailConfig{}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	orch.Wait("camp-1")

	before, err := orch.Status("camp-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if before.Status != RunCompleted {
		t.Fatalf("run did not complete: %s", before.Status)
	}

	v5, err := orch.RegenerateSections(context.Background(), testBrief(), types.GuardrailConfig{}, []string{"headline"}, "more punch")
	if err != nil {
		t.Fatalf("RegenerateSections failed: %v", err)
	}
	if v5.Version != 5 {
		t.Errorf("regenerated version = %d, want 5", v5.Version)
	}
	if v5.OriginStep != types.StepOffer {
		t.Errorf("origin step = %s, want offer", v5.OriginStep)
	}
	if _, ok := orch.LatestReport("camp-1"); !ok {
		t.Error("regeneration recorded no compliance report")
	}
}

func TestRegenerateSections_OnlyNamedSectionsChange(t *testing.T) {
	gen := newFakeGenerator()
	orch, vs := newTestOrchestrator(t, gen, nil)

	if _, err := orch.StartRun(context.Background(), testBrief(), types.GuardrailConfig{}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	orch.Wait("camp-1")

	base, err := vs.GetLatest("camp-1")
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}

	next, err := orch.RegenerateSections(context.Background(), testBrief(), types.GuardrailConfig{}, []string{"headline"}, "shorter")
	if err != nil {
		t.Fatalf("RegenerateSections failed: %v", err)
	}

	if next.Sections["headline"].Value == base.Sections["headline"].Value {
		t.Error("named section did not change")
	}
	for _, key := range base.SectionKeys() {
		if key == "headline" {
			continue
		}
		if diff := cmp.Diff(base.Sections[key], next.Sections[key]); diff != "" {
			t.Errorf("unnamed section %q changed (-base +next):\n%s", key, diff)
		}
	}
}

func TestRegenerateSections_Errors(t *testing.T) {
	gen := newFakeGenerator()
	orch, _ := newTestOrchestrator(t, gen, nil)
	brief := testBrief()

	_, err := orch.RegenerateSections(context.Background(), brief, types.GuardrailConfig{}, []string{"headline"}, "")
	if !errors.Is(err, types.ErrNoPriorVersion) {
		t.Errorf("expected ErrNoPriorVersion, got %v", err)
	}

	if _, err := orch.StartRun(context.Background(), brief, types.GuardrailConfig{}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	orch.Wait("camp-1")

	_, err = orch.RegenerateSections(context.Background(), brief, types.GuardrailConfig{}, []string{"no_such_section"}, "")
	if !errors.Is(err, types.ErrUnknownSectionKey) {
		t.Errorf("expected ErrUnknownSectionKey, got %v", err)
	}
	_, err = orch.RegenerateSections(context.Background(), brief, types.GuardrailConfig{}, nil, "")
	if !errors.Is(err, types.ErrUnknownSectionKey) {
		t.Errorf("expected ErrUnknownSectionKey for empty key list, got %v", err)
	}
}

func TestEvents_EmittedInOrder(t *testing.T) {
	gen := newFakeGenerator()
	events := make(chan Event, 64)
	orch, _ := newTestOrchestrator(t, gen, events)

	if _, err := orch.StartRun(context.Background(), testBrief(), types.GuardrailConfig{}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	orch.Wait("camp-1")

	counts := map[string]int{}
drain:
	for {
		select {
		case e := <-events:
			counts[e.Type]++
		default:
			break drain
		}
	}

	if counts["run_started"] != 1 {
		t.Errorf("run_started emitted %d times", counts["run_started"])
	}
	if counts["step_completed"] != len(types.StepOrder) {
		t.Errorf("step_completed emitted %d times, want %d", counts["step_completed"], len(types.StepOrder))
	}
	if counts["run_completed"] != 1 {
		t.Errorf("run_completed emitted %d times", counts["run_completed"])
	}
}

func TestGeneratorTimeout_MapsToErrTimeout(t *testing.T) {
	gen := newFakeGenerator()
	gen.blockStep = types.StepBrief
	gen.release = make(chan struct{})
	defer close(gen.release)

	vs, err := store.NewVersionStore(filepath.Join(t.TempDir(), "versions.db"))
	if err != nil {
		t.Fatalf("NewVersionStore failed: %v", err)
	}
	t.Cleanup(func() { vs.Close() })
	eng, err := scanner.NewEngine(scanner.EngineConfig{})
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}

	orch := NewOrchestrator(OrchestratorConfig{
		Generator:        gen,
		Scanner:          eng,
		Store:            vs,
		GeneratorTimeout: 50 * time.Millisecond,
	})

	if _, err := orch.StartRun(context.Background(), testBrief(), types.GuardrailConfig{}); err != nil {
		t.Fatalf("StartRun failed: %v", err)
	}
	orch.Wait("camp-1")

	run, err := orch.Status("camp-1")
	if err != nil {
		t.Fatalf("Status failed: %v", err)
	}
	if run.Status != RunFailed {
		t.Fatalf("run status = %s, want failed", run.Status)
	}
	if run.Steps[0].State != types.StepFailed {
		t.Fatalf("step brief state = %s, want failed", run.Steps[0].State)
	}
}
