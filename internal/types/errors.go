package types

import "errors"

// Error taxonomy for the pipeline. All are recoverable by the caller
// except ErrStoreCorrupt, which halts further writes for the affected
// campaign.
var (
	ErrInvalidBrief             = errors.New("invalid brief: campaign id, product, and offer are required")
	ErrRunAlreadyActive         = errors.New("a run is already active for this campaign")
	ErrStepOutOfOrder           = errors.New("step is not the first non-terminal step")
	ErrTextGeneratorFailure     = errors.New("text generator failed")
	ErrTimeout                  = errors.New("text generator call timed out")
	ErrNoPriorVersion           = errors.New("no prior artifact version exists for this campaign")
	ErrUnknownSectionKey        = errors.New("section key does not exist in any prior version")
	ErrIncompleteInitialVersion = errors.New("initial version requires a complete section set")
	ErrVersionNotFound          = errors.New("artifact version not found")
	ErrInvalidGuardrailConfig   = errors.New("guardrail config has empty or duplicate entries")
	ErrStoreCorrupt             = errors.New("version store is corrupt for this campaign")
)
