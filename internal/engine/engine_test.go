package engine_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"solaire/internal/config"
	"solaire/internal/db"
	"solaire/internal/domain"
	"solaire/internal/engine"
	"solaire/internal/migrate"
	"solaire/internal/repo"
)

type testEnv struct {
	Engine engine.Engine
	Ctx    context.Context
}

func newTestEnv(t *testing.T) testEnv {
	t.Helper()
	dir := t.TempDir()
	conn, err := db.Open(db.Config{Workspace: dir})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	eng := engine.New(conn, config.Default())
	eng.Now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Ctx: context.Background()}
}

func createLead(t *testing.T, env testEnv) domain.Lead {
	t.Helper()
	l, err := env.Engine.CreateLead(env.Ctx, engine.LeadCreateOptions{
		ContactName: "Marie Durand",
		Email:       "marie@example.com",
		Pack:        "essentiel",
		ActorID:     "tester",
	})
	if err != nil {
		t.Fatalf("create lead: %v", err)
	}
	return l
}

func TestConvertLeadCreatesProject(t *testing.T) {
	env := newTestEnv(t)
	l := createLead(t, env)

	p, err := env.Engine.ConvertLead(env.Ctx, l.ID, "tester")
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if p.Reference != "DOS-2025-0001" {
		t.Fatalf("expected DOS-2025-0001, got %s", p.Reference)
	}
	if p.LeadID == nil || *p.LeadID != l.ID {
		t.Fatalf("project should link back to the lead")
	}
	if p.Status != "en_cours" {
		t.Fatalf("new project should be en_cours, got %s", p.Status)
	}
	for _, key := range config.StageKeys {
		state, _ := p.Workflow.Stage(key)
		if state.CurrentStep != config.PendingStep {
			t.Fatalf("stage %s should start pending, got %s", key, state.CurrentStep)
		}
	}

	got, err := env.Engine.Repo.GetLead(env.Ctx, l.ID)
	if err != nil {
		t.Fatalf("reload lead: %v", err)
	}
	if got.Status != "converted" || got.ClientID == nil || *got.ClientID != p.ID {
		t.Fatalf("lead should be converted and linked, got status=%s client=%v", got.Status, got.ClientID)
	}

	// converting twice must not mint a second dossier
	_, err = env.Engine.ConvertLead(env.Ctx, l.ID, "tester")
	if !errors.Is(err, engine.ErrAlreadyConverted) {
		t.Fatalf("expected ErrAlreadyConverted, got %v", err)
	}
}

func TestUpdateLeadStatusGuards(t *testing.T) {
	env := newTestEnv(t)
	l := createLead(t, env)

	// converted is only ever set by ConvertLead; forcing it here would leave
	// a lead that looks converted but has no client link
	status := "converted"
	_, err := env.Engine.UpdateLead(env.Ctx, l.ID, engine.LeadUpdateOptions{Status: &status, ActorID: "tester"})
	if err == nil {
		t.Fatalf("setting status converted by hand should be rejected")
	}
	got, err := env.Engine.Repo.GetLead(env.Ctx, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "new" || got.ClientID != nil {
		t.Fatalf("rejected update must not touch the lead, got status=%s client=%v", got.Status, got.ClientID)
	}
	if _, err := env.Engine.ConvertLead(env.Ctx, l.ID, "tester"); err != nil {
		t.Fatalf("conversion should still work after the rejected update: %v", err)
	}

	// once converted, the status is locked to the client link; only
	// UndoConvertLead may move it back
	status = "qualified"
	_, err = env.Engine.UpdateLead(env.Ctx, l.ID, engine.LeadUpdateOptions{Status: &status, ActorID: "tester"})
	if err == nil {
		t.Fatalf("demoting a converted lead should be rejected")
	}
	if !strings.Contains(err.Error(), "undo") {
		t.Fatalf("error should point at undo-convert, got %v", err)
	}
	got, err = env.Engine.Repo.GetLead(env.Ctx, l.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "converted" || got.ClientID == nil {
		t.Fatalf("converted lead must keep its client link, got status=%s client=%v", got.Status, got.ClientID)
	}

	// other fields stay editable while converted
	notes := "rappeler après mise en service"
	got, err = env.Engine.UpdateLead(env.Ctx, l.ID, engine.LeadUpdateOptions{Notes: &notes, ActorID: "tester"})
	if err != nil {
		t.Fatalf("notes update on a converted lead: %v", err)
	}
	if got.Notes != notes || got.Status != "converted" {
		t.Fatalf("unexpected lead after notes update: %+v", got)
	}
}

func TestConvertSequencesIncrement(t *testing.T) {
	env := newTestEnv(t)
	first := createLead(t, env)
	second := createLead(t, env)

	p1, err := env.Engine.ConvertLead(env.Ctx, first.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	p2, err := env.Engine.ConvertLead(env.Ctx, second.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if p1.Reference != "DOS-2025-0001" || p2.Reference != "DOS-2025-0002" {
		t.Fatalf("expected sequential references, got %s and %s", p1.Reference, p2.Reference)
	}
}

func TestConcurrentConversions(t *testing.T) {
	env := newTestEnv(t)
	const n = 8
	ids := make([]string, n)
	for i := range ids {
		ids[i] = createLead(t, env).ID
	}

	refs := make(chan string, n)
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			p, err := env.Engine.ConvertLead(env.Ctx, id, "tester")
			if err != nil {
				errs <- err
				return
			}
			refs <- p.Reference
		}(id)
	}
	wg.Wait()
	close(refs)
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent convert: %v", err)
	}
	seen := map[string]bool{}
	for ref := range refs {
		if seen[ref] {
			t.Fatalf("duplicate reference %s", ref)
		}
		seen[ref] = true
	}
	if len(seen) != n {
		t.Fatalf("expected %d distinct references, got %d", n, len(seen))
	}
	counters, err := env.Engine.Repo.ListCounters(env.Ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(counters) != 1 || counters[0].Seq != n {
		t.Fatalf("counter should land exactly at %d, got %+v", n, counters)
	}
}

func TestConcurrentConvertsOfOneLead(t *testing.T) {
	env := newTestEnv(t)
	l := createLead(t, env)

	const workers = 4
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.Engine.ConvertLead(env.Ctx, l.ID, "tester")
			results <- err
		}()
	}
	wg.Wait()
	close(results)
	successes := 0
	for err := range results {
		if err == nil {
			successes++
		}
	}
	if successes != 1 {
		t.Fatalf("exactly one conversion should win, got %d", successes)
	}
	projects, err := env.Engine.Repo.ListProjects(env.Ctx, repo.ProjectFilters{LeadID: l.ID})
	if err != nil {
		t.Fatal(err)
	}
	if len(projects) != 1 {
		t.Fatalf("one project for the lead, got %d", len(projects))
	}
}

func TestReferenceWidensPastFourDigits(t *testing.T) {
	if got := engine.Reference(2025, 42); got != "DOS-2025-0042" {
		t.Fatalf("got %s", got)
	}
	if got := engine.Reference(2025, 12345); got != "DOS-2025-12345" {
		t.Fatalf("sequence past 9999 should widen, got %s", got)
	}
}

func TestConvertRejectsUnknownPack(t *testing.T) {
	env := newTestEnv(t)
	now := env.Engine.Now().UTC().Format(time.RFC3339)
	l := domain.Lead{
		ID:          "lead-badpack",
		ContactName: "Paul",
		Pack:        "premium_gold",
		Status:      "qualified",
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := env.Engine.Repo.InsertLead(env.Ctx, l); err != nil {
		t.Fatalf("insert lead: %v", err)
	}
	_, err := env.Engine.ConvertLead(env.Ctx, l.ID, "tester")
	if !errors.Is(err, engine.ErrInvalidPack) {
		t.Fatalf("expected ErrInvalidPack, got %v", err)
	}
}

func TestConvertBlockedByActiveProject(t *testing.T) {
	env := newTestEnv(t)
	l := createLead(t, env)
	if _, err := env.Engine.ConvertLead(env.Ctx, l.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	// simulate a lead reopened by hand while its project is still active
	if _, err := env.Engine.DB.ExecContext(env.Ctx, `UPDATE leads SET status='qualified', client_id=NULL, converted_at=NULL WHERE id=?`, l.ID); err != nil {
		t.Fatal(err)
	}
	_, err := env.Engine.ConvertLead(env.Ctx, l.ID, "tester")
	if !errors.Is(err, engine.ErrDuplicateActiveProject) {
		t.Fatalf("expected ErrDuplicateActiveProject, got %v", err)
	}
}

func TestUndoConvertDetachesProject(t *testing.T) {
	env := newTestEnv(t)
	l := createLead(t, env)
	p, err := env.Engine.ConvertLead(env.Ctx, l.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}

	got, err := env.Engine.UndoConvertLead(env.Ctx, l.ID, "tester")
	if err != nil {
		t.Fatalf("undo: %v", err)
	}
	if got.Status != "qualified" || got.ClientID != nil || got.ConvertedAt != nil {
		t.Fatalf("lead should be back to qualified and unlinked, got %+v", got)
	}

	orphan, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatalf("project must survive the undo: %v", err)
	}
	if orphan.LeadID != nil {
		t.Fatalf("project should be detached from the lead")
	}
	if orphan.Reference != p.Reference {
		t.Fatalf("dossier reference must be preserved")
	}

	// undo twice fails, re-convert works and mints a new reference
	if _, err := env.Engine.UndoConvertLead(env.Ctx, l.ID, "tester"); !errors.Is(err, engine.ErrNotConverted) {
		t.Fatalf("expected ErrNotConverted, got %v", err)
	}
	p2, err := env.Engine.ConvertLead(env.Ctx, l.ID, "tester")
	if err != nil {
		t.Fatalf("re-convert: %v", err)
	}
	if p2.Reference != "DOS-2025-0002" {
		t.Fatalf("re-conversion should take the next sequence, got %s", p2.Reference)
	}
}

func TestApplyStepRecordsHistory(t *testing.T) {
	env := newTestEnv(t)
	l := createLead(t, env)
	p, err := env.Engine.ConvertLead(env.Ctx, l.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}

	p, err = env.Engine.ApplyStep(env.Ctx, p.ID, "dp", "sent", "posté lundi", "tester")
	if err != nil {
		t.Fatalf("apply step: %v", err)
	}
	state, _ := p.Workflow.Stage("dp")
	if state.CurrentStep != "sent" {
		t.Fatalf("expected sent, got %s", state.CurrentStep)
	}
	if len(state.History) != 1 || state.History[0].From != "pending" || state.History[0].To != "sent" {
		t.Fatalf("unexpected history %+v", state.History)
	}

	// any code is stored verbatim, catalog or not
	p, err = env.Engine.ApplyStep(env.Ctx, p.ID, "dp", "mairie_called_back", "", "tester")
	if err != nil {
		t.Fatalf("apply off-catalog step: %v", err)
	}

	reloaded, err := env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	state, _ = reloaded.Workflow.Stage("dp")
	if state.CurrentStep != "mairie_called_back" {
		t.Fatalf("step should persist verbatim, got %s", state.CurrentStep)
	}
	if len(state.History) != 2 {
		t.Fatalf("expected 2 transitions, got %d", len(state.History))
	}

	if _, err := env.Engine.ApplyStep(env.Ctx, p.ID, "mairie", "sent", "", "tester"); !errors.Is(err, engine.ErrUnknownStage) {
		t.Fatalf("expected ErrUnknownStage, got %v", err)
	}
}

func TestResetStage(t *testing.T) {
	env := newTestEnv(t)
	l := createLead(t, env)
	p, err := env.Engine.ConvertLead(env.Ctx, l.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApplyStep(env.Ctx, p.ID, "consuel", "attestation_approved", "", "tester"); err != nil {
		t.Fatal(err)
	}
	p, err = env.Engine.ResetStage(env.Ctx, p.ID, "consuel", "tester")
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	state, _ := p.Workflow.Stage("consuel")
	if state.CurrentStep != config.PendingStep {
		t.Fatalf("expected pending after reset, got %s", state.CurrentStep)
	}
	if len(state.History) != 2 {
		t.Fatalf("reset should append a transition, got %d", len(state.History))
	}
}

func TestProgressOverride(t *testing.T) {
	env := newTestEnv(t)
	l := createLead(t, env)
	p, err := env.Engine.ConvertLead(env.Ctx, l.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.Engine.ApplyStep(env.Ctx, p.ID, "dp", "approved", "", "tester"); err != nil {
		t.Fatal(err)
	}
	p, err = env.Engine.Repo.GetProject(env.Ctx, p.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got := env.Engine.ProgressOf(p); got != 21 {
		t.Fatalf("computed progress should be 21, got %d", got)
	}

	override := 75
	p, err = env.Engine.UpdateProject(env.Ctx, p.ID, engine.ProjectUpdateOptions{Progress: &override, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if got := env.Engine.ProgressOf(p); got != 75 {
		t.Fatalf("override should win, got %d", got)
	}

	bad := 150
	if _, err := env.Engine.UpdateProject(env.Ctx, p.ID, engine.ProjectUpdateOptions{Progress: &bad, ActorID: "tester"}); err == nil {
		t.Fatalf("progress above 100 should be rejected")
	}

	p, err = env.Engine.UpdateProject(env.Ctx, p.ID, engine.ProjectUpdateOptions{ClearProgress: true, ActorID: "tester"})
	if err != nil {
		t.Fatal(err)
	}
	if got := env.Engine.ProgressOf(p); got != 21 {
		t.Fatalf("clearing the override should restore the computed value, got %d", got)
	}
}

func TestDocumentsLifecycle(t *testing.T) {
	env := newTestEnv(t)
	l := createLead(t, env)
	p, err := env.Engine.ConvertLead(env.Ctx, l.ID, "tester")
	if err != nil {
		t.Fatal(err)
	}
	d, err := env.Engine.AddDocument(env.Ctx, engine.DocumentCreateOptions{
		ProjectID: p.ID,
		Stage:     "consuel",
		Filename:  "attestation.pdf",
		URL:       "https://files.example.com/attestation.pdf",
		ActorID:   "tester",
	})
	if err != nil {
		t.Fatalf("add document: %v", err)
	}
	docs, err := env.Engine.Repo.ListDocuments(env.Ctx, p.ID, "consuel")
	if err != nil || len(docs) != 1 {
		t.Fatalf("expected one consuel document, got %d (%v)", len(docs), err)
	}
	docs, err = env.Engine.Repo.ListDocuments(env.Ctx, p.ID, "dp")
	if err != nil || len(docs) != 0 {
		t.Fatalf("stage filter should exclude other stages, got %d (%v)", len(docs), err)
	}
	if err := env.Engine.DeleteDocument(env.Ctx, d.ID, "tester"); err != nil {
		t.Fatalf("delete document: %v", err)
	}
	if _, err := env.Engine.Repo.GetDocument(env.Ctx, d.ID); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	var payload string
	row := env.Engine.DB.QueryRowContext(env.Ctx, `SELECT payload_json FROM events WHERE type='document.deleted' AND entity_id=?`, d.ID)
	if err := row.Scan(&payload); err != nil {
		t.Fatalf("document.deleted event: %v", err)
	}
	if !strings.Contains(payload, p.ID) || !strings.Contains(payload, "consuel") {
		t.Fatalf("deleted event should describe the removed row, got %s", payload)
	}
}

func TestEventsAppendedOnConversion(t *testing.T) {
	env := newTestEnv(t)
	l := createLead(t, env)
	if _, err := env.Engine.ConvertLead(env.Ctx, l.ID, "tester"); err != nil {
		t.Fatal(err)
	}
	rows, err := env.Engine.DB.QueryContext(env.Ctx, `SELECT type FROM events ORDER BY id`)
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	defer rows.Close()
	var types []string
	for rows.Next() {
		var typ string
		if err := rows.Scan(&typ); err != nil {
			t.Fatal(err)
		}
		types = append(types, typ)
	}
	want := map[string]bool{"lead.created": false, "lead.converted": false, "project.created": false}
	for _, typ := range types {
		if _, ok := want[typ]; ok {
			want[typ] = true
		}
	}
	for typ, seen := range want {
		if !seen {
			t.Fatalf("missing event %s in %v", typ, types)
		}
	}
}
