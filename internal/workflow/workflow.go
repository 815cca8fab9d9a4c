// Package workflow holds the pure computations over a project's stage
// states: status classification and progress. Nothing here touches the
// database; callers pass a config snapshot and the current step codes.
package workflow

import (
	"math"

	"solaire/internal/config"
	"solaire/internal/domain"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in_progress"
	StatusSuccess    Status = "success"
	StatusRejected   Status = "rejected"
)

// StageStatus classifies a stage's current step for display and filtering.
// Unknown but non-empty codes classify as in_progress: the config is
// editable per deployment and may lag behind stored data, so an unknown
// code must never block.
func StageStatus(cfg *config.Config, stageKey, currentStep string) Status {
	if currentStep == "" || currentStep == config.PendingStep {
		return StatusPending
	}
	step, ok := cfg.Step(stageKey, currentStep)
	if ok && step.Final {
		if step.Success {
			return StatusSuccess
		}
		return StatusRejected
	}
	return StatusInProgress
}

// StageProgress maps a stage's current step to [0,1]. The first step of a
// stage (the pending placeholder) contributes no progress; a singleton
// step list cannot be normalized and counts as 0.
func StageProgress(cfg *config.Config, stageKey, currentStep string) float64 {
	stage, ok := cfg.Stage(stageKey)
	if !ok || len(stage.Steps) == 0 {
		return 0
	}
	idx := -1
	if currentStep != "" && currentStep != config.PendingStep {
		for i, s := range stage.Steps {
			if s.Code == currentStep {
				idx = i
				break
			}
		}
	}
	if idx <= 0 || len(stage.Steps) == 1 {
		return 0
	}
	return float64(idx) / float64(len(stage.Steps)-1)
}

// ProjectProgress averages stage progress across the four fixed stages
// and returns a whole percentage in [0,100].
func ProjectProgress(cfg *config.Config, wf domain.Workflow) int {
	total := 0.0
	for _, key := range config.StageKeys {
		state, _ := wf.Stage(key)
		total += StageProgress(cfg, key, state.CurrentStep)
	}
	return int(math.Round(total / float64(len(config.StageKeys)) * 100))
}
