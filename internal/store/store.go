// Package store persists immutable artifact versions in SQLite. The
// versions table is append-only: rows are inserted, never updated or
// deleted, and version numbers per campaign are contiguous from 1.
package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"brandforge/internal/diff"
	"brandforge/internal/logging"
	"brandforge/internal/types"

	_ "github.com/mattn/go-sqlite3"
)

// VersionStore stores and retrieves ArtifactVersions for all campaigns.
type VersionStore struct {
	db         *sql.DB
	mu         sync.Mutex
	dbPath     string
	diffEngine *diff.Engine

	// Campaigns whose persisted rows failed to decode. Corruption is
	// fatal for the campaign: further writes are refused.
	corrupt map[string]bool
}

// NewVersionStore opens (or creates) the SQLite database at path.
func NewVersionStore(path string) (*VersionStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewVersionStore")
	defer timer.Stop()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("Failed to set sqlite busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("Failed to set sqlite synchronous=NORMAL: %v", err)
	}

	s := &VersionStore{
		db:         db,
		dbPath:     path,
		diffEngine: diff.NewEngine(),
		corrupt:    make(map[string]bool),
	}
	if err := s.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.Store("VersionStore ready at %s", path)
	return s, nil
}

// initialize creates the required tables.
func (s *VersionStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS artifact_versions (
		campaign_id TEXT NOT NULL,
		version INTEGER NOT NULL,
		origin_step TEXT NOT NULL,
		sections TEXT NOT NULL,
		created_at DATETIME NOT NULL,
		PRIMARY KEY (campaign_id, version)
	);
	CREATE INDEX IF NOT EXISTS idx_artifact_versions_campaign ON artifact_versions(campaign_id);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *VersionStore) Close() error {
	return s.db.Close()
}

// CreateVersion appends a new immutable version for the campaign.
//
// With baseVersion > 0, the new section map is the base's map with
// changedSections overwritten (copy-forward), numbered base+1. The base
// must be the campaign's latest version.
//
// With baseVersion == 0, this must be the campaign's first version and
// changedSections is the complete section set.
func (s *VersionStore) CreateVersion(campaignID string, baseVersion int, changedSections map[string]types.ContentSection, originStep types.GenerationStep) (types.ArtifactVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.corrupt[campaignID] {
		return types.ArtifactVersion{}, types.ErrStoreCorrupt
	}

	latest, err := s.latestVersionNumber(campaignID)
	if err != nil {
		return types.ArtifactVersion{}, err
	}

	sections := make(map[string]types.ContentSection, len(changedSections))

	if baseVersion == 0 {
		if latest != 0 {
			return types.ArtifactVersion{}, fmt.Errorf("campaign %s already has version %d: %w", campaignID, latest, types.ErrIncompleteInitialVersion)
		}
		if len(changedSections) == 0 {
			return types.ArtifactVersion{}, types.ErrIncompleteInitialVersion
		}
	} else {
		if baseVersion != latest {
			return types.ArtifactVersion{}, fmt.Errorf("base version %d is not latest (%d): %w", baseVersion, latest, types.ErrVersionNotFound)
		}
		base, err := s.getVersionLocked(campaignID, baseVersion)
		if err != nil {
			return types.ArtifactVersion{}, err
		}
		for k, sec := range base.Sections {
			sections[k] = sec
		}
	}
	for k, sec := range changedSections {
		sec.Key = k
		sections[k] = sec
	}

	v := types.ArtifactVersion{
		CampaignID: campaignID,
		Version:    latest + 1,
		Sections:   sections,
		CreatedAt:  time.Now().UTC(),
		OriginStep: originStep,
	}

	data, err := json.Marshal(v.Sections)
	if err != nil {
		return types.ArtifactVersion{}, fmt.Errorf("failed to encode sections: %w", err)
	}

	_, err = s.db.Exec(
		`INSERT INTO artifact_versions (campaign_id, version, origin_step, sections, created_at) VALUES (?, ?, ?, ?, ?)`,
		v.CampaignID, v.Version, string(v.OriginStep), string(data), v.CreatedAt,
	)
	if err != nil {
		return types.ArtifactVersion{}, fmt.Errorf("failed to insert version: %w", err)
	}

	logging.Store("Created %s v%d (%d sections, origin %s)", campaignID, v.Version, len(sections), originStep)
	return v, nil
}

// GetVersion retrieves one version by exact number.
func (s *VersionStore) GetVersion(campaignID string, version int) (types.ArtifactVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getVersionLocked(campaignID, version)
}

func (s *VersionStore) getVersionLocked(campaignID string, version int) (types.ArtifactVersion, error) {
	row := s.db.QueryRow(
		`SELECT origin_step, sections, created_at FROM artifact_versions WHERE campaign_id = ? AND version = ?`,
		campaignID, version,
	)

	var originStep, sectionsJSON string
	var createdAt time.Time
	if err := row.Scan(&originStep, &sectionsJSON, &createdAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.ArtifactVersion{}, types.ErrVersionNotFound
		}
		return types.ArtifactVersion{}, fmt.Errorf("failed to read version: %w", err)
	}

	var sections map[string]types.ContentSection
	if err := json.Unmarshal([]byte(sectionsJSON), &sections); err != nil {
		s.corrupt[campaignID] = true
		logging.Get(logging.CategoryStore).Error("Corrupt sections for %s v%d: %v", campaignID, version, err)
		return types.ArtifactVersion{}, types.ErrStoreCorrupt
	}

	return types.ArtifactVersion{
		CampaignID: campaignID,
		Version:    version,
		Sections:   sections,
		CreatedAt:  createdAt,
		OriginStep: types.GenerationStep(originStep),
	}, nil
}

// GetLatest retrieves the campaign's highest-numbered version.
func (s *VersionStore) GetLatest(campaignID string) (types.ArtifactVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.latestVersionNumber(campaignID)
	if err != nil {
		return types.ArtifactVersion{}, err
	}
	if latest == 0 {
		return types.ArtifactVersion{}, types.ErrVersionNotFound
	}
	return s.getVersionLocked(campaignID, latest)
}

// ListVersions returns all versions for a campaign in ascending order.
func (s *VersionStore) ListVersions(campaignID string) ([]types.ArtifactVersion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT version FROM artifact_versions WHERE campaign_id = ? ORDER BY version ASC`,
		campaignID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list versions: %w", err)
	}
	defer rows.Close()

	var numbers []int
	for rows.Next() {
		var n int
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		numbers = append(numbers, n)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	versions := make([]types.ArtifactVersion, 0, len(numbers))
	for _, n := range numbers {
		v, err := s.getVersionLocked(campaignID, n)
		if err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// latestVersionNumber returns 0 when the campaign has no versions.
func (s *VersionStore) latestVersionNumber(campaignID string) (int, error) {
	row := s.db.QueryRow(
		`SELECT COALESCE(MAX(version), 0) FROM artifact_versions WHERE campaign_id = ?`,
		campaignID,
	)
	var latest int
	if err := row.Scan(&latest); err != nil {
		return 0, fmt.Errorf("failed to read latest version: %w", err)
	}
	return latest, nil
}
