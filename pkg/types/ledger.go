// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// StageName identifies one stage of the workflow.
type StageName string

const (
	StageTriage      StageName = "triage"
	StageScout       StageName = "scout"
	StageClarify     StageName = "clarify"
	StageAlignScout  StageName = "align-scout"
	StageTemplate    StageName = "template-adjust"
	StagePlan        StageName = "plan"
	StageWebFetch    StageName = "web-fetch"
	StageEvidence    StageName = "evidence"
	StageWrite       StageName = "write"
	StageRepair      StageName = "repair"
	StageCritique    StageName = "critique-loop"
	StageFinalize    StageName = "finalize"
	StageRepairFinal StageName = "repair-final"
	StageAlignFinal  StageName = "align-final"
	StageRender      StageName = "render"
)

// StageStatus is the recorded outcome of one stage.
type StageStatus string

const (
	StatusRan              StageStatus = "ran"
	StatusCached           StageStatus = "cached"
	StatusSkippedDisabled  StageStatus = "skipped_disabled"
	StatusSkippedCondition StageStatus = "skipped_condition"
	StatusFailed           StageStatus = "failed"
)

// Committed reports whether the stage produced a committed artifact.
func (s StageStatus) Committed() bool {
	return s == StatusRan || s == StatusCached
}

// Ledger reasons shared across stages.
const (
	ReasonDisabled            = "disabled"
	ReasonProviderUnavailable = "provider_unavailable"
	ReasonResumed             = "resumed"
	ReasonCacheHit            = "cache_hit"
	ReasonCancelled           = "cancelled"
	ReasonBudgetExhausted     = "iteration-budget-exhausted"
	ReasonNoIterations        = "max_iterations=0"
	ReasonRepaired            = "repaired"
)

// LedgerEntry records what happened to one stage.
type LedgerEntry struct {
	Stage     StageName     `json:"stage" yaml:"stage"`
	Status    StageStatus   `json:"status" yaml:"status"`
	Reason    string        `json:"reason,omitempty" yaml:"reason,omitempty"`
	Notes     []string      `json:"notes,omitempty" yaml:"notes,omitempty"`
	Artifacts []string      `json:"artifact_paths,omitempty" yaml:"artifact_paths,omitempty"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
	Started   time.Time     `json:"started" yaml:"started"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// WorkflowLedger is the append-only record of stage outcomes for one run.
type WorkflowLedger struct {
	RunID   string        `json:"run_id" yaml:"run_id"`
	Entries []LedgerEntry `json:"entries" yaml:"entries"`
}

// Latest returns the most recent entry for stage.
func (l WorkflowLedger) Latest(stage StageName) (LedgerEntry, bool) {
	for i := len(l.Entries) - 1; i >= 0; i-- {
		if l.Entries[i].Stage == stage {
			return l.Entries[i], true
		}
	}
	return LedgerEntry{}, false
}

// Failed reports whether any stage failed.
func (l WorkflowLedger) Failed() bool {
	for _, e := range l.Entries {
		if e.Status == StatusFailed {
			return true
		}
	}
	return false
}
