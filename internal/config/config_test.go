package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"solaire/internal/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate: %v", err)
	}
	for _, key := range config.StageKeys {
		stage, ok := cfg.Stage(key)
		if !ok {
			t.Fatalf("missing stage %s", key)
		}
		if stage.Steps[0].Code != config.PendingStep {
			t.Fatalf("stage %s should start at pending, got %s", key, stage.Steps[0].Code)
		}
	}
	for _, pack := range []string{"essentiel", "pro", "serenite", "flex"} {
		if !cfg.PackAllowed(pack) {
			t.Fatalf("pack %s should be allowed", pack)
		}
	}
	if cfg.PackAllowed("premium") {
		t.Fatalf("unknown pack should not be allowed")
	}
}

func TestGenerateDefaultRoundTrips(t *testing.T) {
	cfg, err := config.FromYAML([]byte(config.GenerateDefault()))
	if err != nil {
		t.Fatalf("generated default should parse: %v", err)
	}
	if _, ok := cfg.Step("consuel", "visit_done"); !ok {
		t.Fatalf("expected consuel visit_done in generated catalog")
	}
}

func TestValidateRejectsBadCatalogs(t *testing.T) {
	base := config.Default()

	dup := *base
	dup.Workflow.DP.Steps = append([]config.StepDefinition{}, base.Workflow.DP.Steps...)
	dup.Workflow.DP.Steps[1] = config.StepDefinition{Code: "pending", Label: "dup"}
	if err := dup.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate step code") {
		t.Fatalf("expected duplicate code error, got %v", err)
	}

	orphanSuccess := *base
	orphanSuccess.Workflow.Consuel.Steps = []config.StepDefinition{
		{Code: "pending", Label: "En attente"},
		{Code: "ok", Label: "OK", Success: true},
	}
	if err := orphanSuccess.Validate(); err == nil || !strings.Contains(err.Error(), "success without final") {
		t.Fatalf("expected success-without-final error, got %v", err)
	}

	trailing := *base
	trailing.Workflow.Enedis.Steps = []config.StepDefinition{
		{Code: "pending", Label: "En attente"},
		{Code: "done", Label: "Fait", Final: true, Success: true},
		{Code: "after", Label: "Trop tard"},
	}
	if err := trailing.Validate(); err == nil || !strings.Contains(err.Error(), "follows a final step") {
		t.Fatalf("expected step-after-final error, got %v", err)
	}

	noPacks := *base
	noPacks.Packs = nil
	if err := noPacks.Validate(); err == nil || !strings.Contains(err.Error(), "packs is required") {
		t.Fatalf("expected missing packs error, got %v", err)
	}

	dupPacks := *base
	dupPacks.Packs = []string{"pro", "pro"}
	if err := dupPacks.Validate(); err == nil || !strings.Contains(err.Error(), "duplicate code") {
		t.Fatalf("expected duplicate pack error, got %v", err)
	}

	badHook := *base
	badHook.Webhooks = []config.WebhookConfig{{}}
	if err := badHook.Validate(); err == nil || !strings.Contains(err.Error(), "url is required") {
		t.Fatalf("expected webhook url error, got %v", err)
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if cfg != nil {
		t.Fatalf("missing file should yield nil config")
	}

	if err := os.WriteFile(filepath.Join(dir, "solaire.yml"), []byte(config.GenerateDefault()), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = config.LoadOptional(dir)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg == nil || !cfg.PackAllowed("flex") {
		t.Fatalf("expected loaded catalog with flex pack")
	}
}

func TestStepLookup(t *testing.T) {
	cfg := config.Default()
	step, ok := cfg.Step("dp", "approved")
	if !ok || !step.Final || !step.Success {
		t.Fatalf("dp approved should be final success, got %+v ok=%v", step, ok)
	}
	if _, ok := cfg.Step("dp", "nope"); ok {
		t.Fatalf("unknown code should not resolve")
	}
	if _, ok := cfg.Step("bogus", "pending"); ok {
		t.Fatalf("unknown stage should not resolve")
	}
	if config.IsStage("edfOa") != true || config.IsStage("edfoa") != false {
		t.Fatalf("stage keys are case sensitive")
	}
}
