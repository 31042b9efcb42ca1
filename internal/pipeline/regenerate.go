package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"brandforge/internal/logging"
	"brandforge/internal/types"
)

// RegenerateSections regenerates just the named sections on top of the
// campaign's latest version and appends the result as a new version.
// Every section not named is copied forward byte-identical.
//
// The call is mutually exclusive with an active run and with other
// regeneration calls for the same campaign.
func (o *Orchestrator) RegenerateSections(ctx context.Context, brief types.CampaignBrief, guardrailSnapshot types.GuardrailConfig, sectionKeys []string, extraInstructions string) (types.ArtifactVersion, error) {
	if err := brief.Validate(); err != nil {
		return types.ArtifactVersion{}, err
	}
	if len(sectionKeys) == 0 {
		return types.ArtifactVersion{}, fmt.Errorf("%w: no section keys given", types.ErrUnknownSectionKey)
	}
	campaignID := brief.CampaignID

	o.mu.RLock()
	if run, ok := o.runs[campaignID]; ok && run.Status == RunActive {
		o.mu.RUnlock()
		return types.ArtifactVersion{}, types.ErrRunAlreadyActive
	}
	o.mu.RUnlock()

	sem := o.campaignLock(campaignID)
	if !sem.TryAcquire(1) {
		return types.ArtifactVersion{}, types.ErrRunAlreadyActive
	}
	defer sem.Release(1)

	latest, err := o.store.GetLatest(campaignID)
	if err != nil {
		if errors.Is(err, types.ErrVersionNotFound) {
			return types.ArtifactVersion{}, types.ErrNoPriorVersion
		}
		return types.ArtifactVersion{}, err
	}

	// Group requested keys by the step that originally produced them,
	// so each generator call is scoped the same way it was during the
	// run that created the section.
	byStep := make(map[types.GenerationStep][]string)
	for _, key := range sectionKeys {
		section, ok := latest.Sections[key]
		if !ok {
			return types.ArtifactVersion{}, fmt.Errorf("%w: %q", types.ErrUnknownSectionKey, key)
		}
		byStep[section.Step] = append(byStep[section.Step], key)
	}

	guardrail := guardrailSnapshot.Clone()
	changed := make(map[string]types.ContentSection, len(sectionKeys))
	originStep := latest.OriginStep

	for _, step := range types.StepOrder {
		keys, ok := byStep[step]
		if !ok {
			continue
		}
		sort.Strings(keys)

		genCtx := ctx
		if o.genTimeout > 0 {
			var cancel context.CancelFunc
			genCtx, cancel = context.WithTimeout(ctx, o.genTimeout)
			defer cancel()
		}

		sections, err := o.generator.Generate(genCtx, step, brief, guardrail, keys, extraInstructions)
		if err != nil {
			return types.ArtifactVersion{}, classifyGeneratorError(err)
		}
		for _, key := range keys {
			section, ok := sections[key]
			if !ok {
				return types.ArtifactVersion{}, fmt.Errorf("%w: generator returned no content for %q", types.ErrTextGeneratorFailure, key)
			}
			section.Step = step
			changed[key] = section
		}
		originStep = step
	}

	version, err := o.store.CreateVersion(campaignID, latest.Version, changed, originStep)
	if err != nil {
		return types.ArtifactVersion{}, err
	}

	report := o.scanner.ScanVersion(version, guardrail)
	o.mu.Lock()
	o.reports[campaignID] = report
	o.mu.Unlock()

	logging.Pipeline("Regenerated %d sections of campaign %s into v%d", len(sectionKeys), campaignID, version.Version)
	o.emitEvent(Event{
		Type: "sections_regenerated", CampaignID: campaignID,
		Message: fmt.Sprintf("v%d created from v%d, compliance %d", version.Version, latest.Version, report.OverallScore),
	})
	return version, nil
}
