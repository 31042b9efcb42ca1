// Package guardrail manages the workspace brand-safety constraint set:
// forbidden words, required phrases, and the tone descriptor. The store
// validates on save and hands out value-copy snapshots on read, so an
// in-flight generation run is never affected by concurrent edits.
package guardrail

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"brandforge/internal/logging"
	"brandforge/internal/types"
)

// Store owns the guardrail config for one workspace, persisted as JSON.
type Store struct {
	mu   sync.RWMutex
	path string
	cfg  types.GuardrailConfig
}

// NewStore loads the guardrail config at path. A missing file yields an
// empty config; a malformed one is an error.
func NewStore(path string) (*Store, error) {
	s := &Store{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logging.Guardrail("No guardrail file at %s, starting empty", path)
			return s, nil
		}
		return nil, fmt.Errorf("failed to read guardrail config: %w", err)
	}

	var cfg types.GuardrailConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse guardrail config: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}

	s.cfg = cfg
	logging.Guardrail("Loaded guardrail config: %d forbidden, %d required",
		len(cfg.ForbiddenWords), len(cfg.RequiredPhrases))
	return s, nil
}

// Snapshot returns a deep copy of the current config. Runs capture one
// snapshot at start and never re-read.
func (s *Store) Snapshot() types.GuardrailConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg.Clone()
}

// Save validates and persists a new guardrail config. Malformed configs
// are rejected here, never at scan time.
func (s *Store) Save(cfg types.GuardrailConfig) error {
	if err := Validate(cfg); err != nil {
		return err
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return fmt.Errorf("failed to create guardrail directory: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0644); err != nil {
		return fmt.Errorf("failed to write guardrail config: %w", err)
	}

	s.mu.Lock()
	s.cfg = cfg.Clone()
	s.mu.Unlock()

	logging.Guardrail("Saved guardrail config: %d forbidden, %d required",
		len(cfg.ForbiddenWords), len(cfg.RequiredPhrases))
	return nil
}

// reload re-reads the file, keeping the current config on any error.
func (s *Store) reload() error {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return err
	}
	var cfg types.GuardrailConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}
	if err := Validate(cfg); err != nil {
		return err
	}

	s.mu.Lock()
	s.cfg = cfg
	s.mu.Unlock()
	return nil
}

// Validate rejects empty and duplicate phrase entries.
func Validate(cfg types.GuardrailConfig) error {
	if err := validatePhrases(cfg.ForbiddenWords); err != nil {
		return err
	}
	return validatePhrases(cfg.RequiredPhrases)
}

func validatePhrases(phrases []string) error {
	seen := make(map[string]struct{}, len(phrases))
	for _, p := range phrases {
		if strings.TrimSpace(p) == "" {
			return types.ErrInvalidGuardrailConfig
		}
		if _, dup := seen[p]; dup {
			return types.ErrInvalidGuardrailConfig
		}
		seen[p] = struct{}{}
	}
	return nil
}
