package workflow_test

import (
	"testing"

	"solaire/internal/config"
	"solaire/internal/domain"
	"solaire/internal/workflow"
)

func TestStageStatusClassification(t *testing.T) {
	cfg := config.Default()
	cases := []struct {
		stage string
		step  string
		want  workflow.Status
	}{
		{"dp", "", workflow.StatusPending},
		{"dp", "pending", workflow.StatusPending},
		{"dp", "sent", workflow.StatusInProgress},
		{"dp", "approved", workflow.StatusSuccess},
		{"dp", "rejected", workflow.StatusRejected},
		{"consuel", "attestation_approved", workflow.StatusSuccess},
		{"consuel", "attestation_rejected", workflow.StatusRejected},
		{"enedis", "mes_done", workflow.StatusSuccess},
		// codes missing from the catalog stay workable
		{"dp", "some_legacy_code", workflow.StatusInProgress},
	}
	for _, c := range cases {
		got := workflow.StageStatus(cfg, c.stage, c.step)
		if got != c.want {
			t.Errorf("StageStatus(%s, %q) = %s, want %s", c.stage, c.step, got, c.want)
		}
	}
}

func TestStageProgressValues(t *testing.T) {
	cfg := config.Default()
	// dp has 7 steps: index 4 of 6 non-pending positions
	got := workflow.StageProgress(cfg, "dp", "instruction")
	want := 4.0 / 6.0
	if got != want {
		t.Fatalf("StageProgress(dp, instruction) = %v, want %v", got, want)
	}
	if p := workflow.StageProgress(cfg, "dp", "pending"); p != 0 {
		t.Fatalf("pending should contribute 0, got %v", p)
	}
	if p := workflow.StageProgress(cfg, "dp", ""); p != 0 {
		t.Fatalf("empty step should contribute 0, got %v", p)
	}
	if p := workflow.StageProgress(cfg, "dp", "no_such_code"); p != 0 {
		t.Fatalf("unknown step should contribute 0, got %v", p)
	}
	if p := workflow.StageProgress(cfg, "enedis", "mes_done"); p != 1 {
		t.Fatalf("terminal step should be 1, got %v", p)
	}
	if p := workflow.StageProgress(cfg, "nostage", "anything"); p != 0 {
		t.Fatalf("unknown stage should be 0, got %v", p)
	}
}

func TestStageProgressMonotonicAlongCatalog(t *testing.T) {
	cfg := config.Default()
	for _, key := range config.StageKeys {
		stage, ok := cfg.Stage(key)
		if !ok {
			t.Fatalf("missing stage %s", key)
		}
		prev := -1.0
		for _, step := range stage.Steps {
			p := workflow.StageProgress(cfg, key, step.Code)
			if p < 0 || p > 1 {
				t.Fatalf("stage %s step %s progress %v out of range", key, step.Code, p)
			}
			if p < prev {
				t.Fatalf("stage %s step %s progress %v dropped below %v", key, step.Code, p, prev)
			}
			prev = p
		}
	}
}

func TestStageProgressSingletonStage(t *testing.T) {
	cfg := config.Default()
	cfg.Workflow.Enedis = config.StageDefinition{
		Label: "Enedis",
		Steps: []config.StepDefinition{{Code: "only", Label: "Only"}},
	}
	if p := workflow.StageProgress(cfg, "enedis", "only"); p != 0 {
		t.Fatalf("singleton stage cannot be normalized, want 0, got %v", p)
	}
}

func TestProjectProgressAverages(t *testing.T) {
	cfg := config.Default()
	wf := domain.NewWorkflow()
	if p := workflow.ProjectProgress(cfg, wf); p != 0 {
		t.Fatalf("fresh workflow should be 0%%, got %d", p)
	}

	// dp approved: 5/6 of one stage out of four -> round(20.83) = 21
	wf.SetStage("dp", domain.StageState{CurrentStep: "approved"})
	if p := workflow.ProjectProgress(cfg, wf); p != 21 {
		t.Fatalf("dp approved alone should be 21%%, got %d", p)
	}

	wf.SetStage("consuel", domain.StageState{CurrentStep: "attestation_approved"})
	wf.SetStage("enedis", domain.StageState{CurrentStep: "mes_done"})
	wf.SetStage("edfOa", domain.StageState{CurrentStep: "contract_signed"})
	// (5/6 + 6/7 + 1 + 1) / 4 = 0.9226 -> 92
	if p := workflow.ProjectProgress(cfg, wf); p != 92 {
		t.Fatalf("all stages at success should be 92%%, got %d", p)
	}
}
