package store

import (
	"sort"

	"brandforge/internal/diff"
	"brandforge/internal/types"
)

// DiffStatus is the per-section outcome of comparing two versions.
type DiffStatus string

const (
	DiffUnchanged DiffStatus = "unchanged"
	DiffChanged   DiffStatus = "changed"
	DiffAdded     DiffStatus = "added"
	DiffRemoved   DiffStatus = "removed"
)

// SectionDiff reports one section's status between two versions. Detail
// carries line-level hunks for changed sections; status itself is
// decided by exact equality, never fuzzy matching.
type SectionDiff struct {
	SectionKey string         `json:"section_key"`
	Status     DiffStatus     `json:"status"`
	Detail     *diff.TextDiff `json:"detail,omitempty"`
}

// DiffResult covers the union of both versions' section keys, ordered
// by key.
type DiffResult struct {
	CampaignID string        `json:"campaign_id"`
	VersionA   int           `json:"version_a"`
	VersionB   int           `json:"version_b"`
	Sections   []SectionDiff `json:"sections"`
}

// Diff compares two stored versions of a campaign.
func (s *VersionStore) Diff(campaignID string, versionA, versionB int) (DiffResult, error) {
	a, err := s.GetVersion(campaignID, versionA)
	if err != nil {
		return DiffResult{}, err
	}
	b, err := s.GetVersion(campaignID, versionB)
	if err != nil {
		return DiffResult{}, err
	}

	keySet := make(map[string]struct{}, len(a.Sections)+len(b.Sections))
	for k := range a.Sections {
		keySet[k] = struct{}{}
	}
	for k := range b.Sections {
		keySet[k] = struct{}{}
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	result := DiffResult{CampaignID: campaignID, VersionA: versionA, VersionB: versionB}
	for _, k := range keys {
		secA, inA := a.Sections[k]
		secB, inB := b.Sections[k]

		var sd SectionDiff
		sd.SectionKey = k
		switch {
		case inA && !inB:
			sd.Status = DiffRemoved
		case !inA && inB:
			sd.Status = DiffAdded
		case sectionEqual(secA, secB):
			sd.Status = DiffUnchanged
		default:
			sd.Status = DiffChanged
			sd.Detail = s.diffEngine.Compute(secA.Text(), secB.Text())
		}
		result.Sections = append(result.Sections, sd)
	}
	return result, nil
}

// sectionEqual is exact structural equality of section content.
func sectionEqual(a, b types.ContentSection) bool {
	if a.Value != b.Value {
		return false
	}
	if len(a.Items) != len(b.Items) {
		return false
	}
	for i := range a.Items {
		if a.Items[i] != b.Items[i] {
			return false
		}
	}
	return true
}
