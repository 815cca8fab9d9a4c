package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"solaire/internal/config"
	"solaire/internal/domain"
	"solaire/internal/events"
	"solaire/internal/repo"
	"solaire/internal/workflow"
)

type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Events events.Writer
	Config *config.Config
	Now    func() time.Time
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// Reference builds the dossier reference for a year and sequence. The
// sequence is zero-padded to four digits and widens naturally past 9999.
func Reference(year, seq int) string {
	return fmt.Sprintf("DOS-%d-%04d", year, seq)
}

// LeadCreateOptions are parameters for creating a lead.
type LeadCreateOptions struct {
	ID          string
	Company     string
	ContactName string
	Email       string
	Phone       string
	Pack        string
	Notes       string
	ActorID     string
}

func (e Engine) CreateLead(ctx context.Context, opts LeadCreateOptions) (domain.Lead, error) {
	if e.Config == nil {
		return domain.Lead{}, errors.New("config not loaded")
	}
	if opts.ContactName == "" {
		return domain.Lead{}, errors.New("contact name is required")
	}
	if opts.Pack != "" && !e.Config.PackAllowed(opts.Pack) {
		return domain.Lead{}, ErrInvalidPack
	}
	if opts.Pack == "" {
		return domain.Lead{}, errors.New("pack is required")
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	now := e.now().UTC().Format(time.RFC3339)
	l := domain.Lead{
		ID:          id,
		Company:     opts.Company,
		ContactName: opts.ContactName,
		Email:       opts.Email,
		Phone:       opts.Phone,
		Pack:        opts.Pack,
		Status:      "new",
		Notes:       opts.Notes,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO leads(id,company,contact_name,email,phone,pack,status,notes,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?)`,
		l.ID, optional(l.Company), l.ContactName, optional(l.Email), optional(l.Phone), l.Pack, l.Status, optional(l.Notes), l.CreatedAt, l.UpdatedAt); err != nil {
		return domain.Lead{}, fmt.Errorf("insert lead: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "lead.created", "lead", l.ID, opts.ActorID, events.EventPayload{"pack": l.Pack}); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return l, nil
}

// LeadUpdateOptions carries optional field updates; nil means unchanged.
type LeadUpdateOptions struct {
	Company     *string
	ContactName *string
	Email       *string
	Phone       *string
	Pack        *string
	Status      *string
	Notes       *string
	ActorID     string
}

func (e Engine) UpdateLead(ctx context.Context, id string, opts LeadUpdateOptions) (domain.Lead, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetLeadTx(ctx, tx, id)
	if err != nil {
		return domain.Lead{}, err
	}
	if opts.Company != nil {
		l.Company = *opts.Company
	}
	if opts.ContactName != nil {
		if *opts.ContactName == "" {
			return domain.Lead{}, errors.New("contact name is required")
		}
		l.ContactName = *opts.ContactName
	}
	if opts.Email != nil {
		l.Email = *opts.Email
	}
	if opts.Phone != nil {
		l.Phone = *opts.Phone
	}
	if opts.Pack != nil {
		if !e.Config.PackAllowed(*opts.Pack) {
			return domain.Lead{}, ErrInvalidPack
		}
		l.Pack = *opts.Pack
	}
	if opts.Status != nil && *opts.Status != l.Status {
		// The converted status and the client link move together, and only
		// through ConvertLead/UndoConvertLead.
		if *opts.Status == "converted" {
			return domain.Lead{}, errors.New("invalid status: converted is set by the conversion pipeline")
		}
		if l.ClientID != nil {
			return domain.Lead{}, errors.New("invalid status change: lead is converted, undo the conversion first")
		}
		l.Status = *opts.Status
	}
	if opts.Notes != nil {
		l.Notes = *opts.Notes
	}
	l.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateLeadTx(ctx, tx, l); err != nil {
		return domain.Lead{}, err
	}
	if err := e.Events.Append(ctx, tx, "lead.updated", "lead", l.ID, opts.ActorID, events.EventPayload{"status": l.Status}); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return l, nil
}

// ConvertLead turns a qualified lead into a project with a fresh dossier
// reference. Everything happens in one transaction: the sequence bump, the
// project insert, the lead update and the events either all land or none do.
func (e Engine) ConvertLead(ctx context.Context, leadID, actorID string) (domain.Project, error) {
	if e.Config == nil {
		return domain.Project{}, errors.New("config not loaded")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetLeadTx(ctx, tx, leadID)
	if err != nil {
		return domain.Project{}, err
	}
	if l.ClientID != nil || l.Status == "converted" {
		return domain.Project{}, ErrAlreadyConverted
	}
	if !e.Config.PackAllowed(l.Pack) {
		return domain.Project{}, ErrInvalidPack
	}
	active, err := e.Repo.ActiveProjectForLeadTx(ctx, tx, l.ID)
	if err != nil {
		return domain.Project{}, err
	}
	if active {
		return domain.Project{}, ErrDuplicateActiveProject
	}

	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	year := now.Year()
	seq, err := e.Repo.NextSequenceTx(ctx, tx, year)
	if err != nil {
		return domain.Project{}, fmt.Errorf("next sequence: %w", err)
	}

	leadIDCopy := l.ID
	p := domain.Project{
		ID:        uuid.NewString(),
		Reference: Reference(year, seq),
		LeadID:    &leadIDCopy,
		Beneficiary: domain.Beneficiary{
			Company:     l.Company,
			ContactName: l.ContactName,
			Email:       l.Email,
			Phone:       l.Phone,
		},
		Pack:      l.Pack,
		Status:    "en_cours",
		Workflow:  domain.NewWorkflow(),
		CreatedAt: nowStr,
		UpdatedAt: nowStr,
	}
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}

	l.Status = "converted"
	l.ClientID = &p.ID
	l.ConvertedAt = &nowStr
	l.UpdatedAt = nowStr
	if err := e.Repo.UpdateLeadTx(ctx, tx, l); err != nil {
		return domain.Project{}, fmt.Errorf("update lead: %w", err)
	}

	if err := e.Events.Append(ctx, tx, "lead.converted", "lead", l.ID, actorID, events.EventPayload{"project_id": p.ID, "reference": p.Reference}); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.created", "project", p.ID, actorID, events.EventPayload{"reference": p.Reference, "pack": p.Pack}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// UndoConvertLead reverts a conversion: the lead goes back to qualified and
// loses its client link, and the project is detached rather than deleted so
// no dossier reference or history is ever destroyed.
func (e Engine) UndoConvertLead(ctx context.Context, leadID, actorID string) (domain.Lead, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Lead{}, err
	}
	defer tx.Rollback()

	l, err := e.Repo.GetLeadTx(ctx, tx, leadID)
	if err != nil {
		return domain.Lead{}, err
	}
	if l.ClientID == nil {
		return domain.Lead{}, ErrNotConverted
	}
	projectID := *l.ClientID
	now := e.now().UTC().Format(time.RFC3339)

	if _, err := tx.ExecContext(ctx, `UPDATE projects SET lead_id=NULL, updated_at=? WHERE id=?`, now, projectID); err != nil {
		return domain.Lead{}, fmt.Errorf("detach project: %w", err)
	}

	l.Status = "qualified"
	l.ClientID = nil
	l.ConvertedAt = nil
	l.UpdatedAt = now
	if err := e.Repo.UpdateLeadTx(ctx, tx, l); err != nil {
		return domain.Lead{}, err
	}
	if err := e.Events.Append(ctx, tx, "lead.convert_undone", "lead", l.ID, actorID, events.EventPayload{"project_id": projectID}); err != nil {
		return domain.Lead{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Lead{}, err
	}
	return l, nil
}

// ProjectCreateOptions are parameters for creating a project directly,
// without a lead.
type ProjectCreateOptions struct {
	ID           string
	Beneficiary  domain.Beneficiary
	Installation domain.Installation
	Pack         string
	ActorID      string
}

func (e Engine) CreateProject(ctx context.Context, opts ProjectCreateOptions) (domain.Project, error) {
	if e.Config == nil {
		return domain.Project{}, errors.New("config not loaded")
	}
	if opts.Beneficiary.ContactName == "" {
		return domain.Project{}, errors.New("contact name is required")
	}
	if !e.Config.PackAllowed(opts.Pack) {
		return domain.Project{}, ErrInvalidPack
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	now := e.now().UTC()
	nowStr := now.Format(time.RFC3339)
	seq, err := e.Repo.NextSequenceTx(ctx, tx, now.Year())
	if err != nil {
		return domain.Project{}, fmt.Errorf("next sequence: %w", err)
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	p := domain.Project{
		ID:           id,
		Reference:    Reference(now.Year(), seq),
		Beneficiary:  opts.Beneficiary,
		Installation: opts.Installation,
		Pack:         opts.Pack,
		Status:       "en_cours",
		Workflow:     domain.NewWorkflow(),
		CreatedAt:    nowStr,
		UpdatedAt:    nowStr,
	}
	if err := e.Repo.InsertProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, fmt.Errorf("insert project: %w", err)
	}
	if err := e.Events.Append(ctx, tx, "project.created", "project", p.ID, opts.ActorID, events.EventPayload{"reference": p.Reference, "pack": p.Pack}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ProjectUpdateOptions carries optional field updates; nil means unchanged.
// ClearProgress removes a manual progress override so the computed value
// shows again.
type ProjectUpdateOptions struct {
	Company       *string
	ContactName   *string
	Email         *string
	Phone         *string
	Address       *string
	City          *string
	PostalCode    *string
	PowerKWC      *float64
	PanelsCount   *int
	Pack          *string
	Status        *string
	Progress      *int
	ClearProgress bool
	ActorID       string
}

func (e Engine) UpdateProject(ctx context.Context, id string, opts ProjectUpdateOptions) (domain.Project, error) {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, id)
	if err != nil {
		return domain.Project{}, err
	}
	if opts.Company != nil {
		p.Beneficiary.Company = *opts.Company
	}
	if opts.ContactName != nil {
		if *opts.ContactName == "" {
			return domain.Project{}, errors.New("contact name is required")
		}
		p.Beneficiary.ContactName = *opts.ContactName
	}
	if opts.Email != nil {
		p.Beneficiary.Email = *opts.Email
	}
	if opts.Phone != nil {
		p.Beneficiary.Phone = *opts.Phone
	}
	if opts.Address != nil {
		p.Installation.Address = *opts.Address
	}
	if opts.City != nil {
		p.Installation.City = *opts.City
	}
	if opts.PostalCode != nil {
		p.Installation.PostalCode = *opts.PostalCode
	}
	if opts.PowerKWC != nil {
		p.Installation.PowerKWC = opts.PowerKWC
	}
	if opts.PanelsCount != nil {
		p.Installation.PanelsCount = opts.PanelsCount
	}
	if opts.Pack != nil {
		if !e.Config.PackAllowed(*opts.Pack) {
			return domain.Project{}, ErrInvalidPack
		}
		p.Pack = *opts.Pack
	}
	if opts.Status != nil {
		p.Status = *opts.Status
	}
	if opts.Progress != nil {
		v := *opts.Progress
		if v < 0 || v > 100 {
			return domain.Project{}, errors.New("progress must be between 0 and 100")
		}
		p.Progress = &v
	}
	if opts.ClearProgress {
		p.Progress = nil
	}
	p.UpdatedAt = e.now().UTC().Format(time.RFC3339)
	if err := e.Repo.UpdateProjectTx(ctx, tx, p); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.updated", "project", p.ID, opts.ActorID, events.EventPayload{"status": p.Status}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}
	return p, nil
}

// ApplyStep records a stage's new current step. Transitions are permissive:
// any step code is stored verbatim, in any order, so the back office can
// correct mistakes or jump ahead when the paperwork did.
func (e Engine) ApplyStep(ctx context.Context, projectID, stage, step, notes, actorID string) (domain.Project, error) {
	if !config.IsStage(stage) {
		return domain.Project{}, ErrUnknownStage
	}
	if step == "" {
		return domain.Project{}, errors.New("step is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Project{}, err
	}
	defer tx.Rollback()

	p, err := e.Repo.GetProjectTx(ctx, tx, projectID)
	if err != nil {
		return domain.Project{}, err
	}
	state, _ := p.Workflow.Stage(stage)
	from := state.CurrentStep
	now := e.now().UTC().Format(time.RFC3339)

	if err := e.Repo.SetStageStepTx(ctx, tx, p.ID, stage, from, step, now, notes); err != nil {
		return domain.Project{}, err
	}
	if err := e.Repo.TouchProjectTx(ctx, tx, p.ID, now); err != nil {
		return domain.Project{}, err
	}
	if err := e.Events.Append(ctx, tx, "project.step_applied", "project", p.ID, actorID, events.EventPayload{
		"stage": stage, "from": from, "to": step,
	}); err != nil {
		return domain.Project{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Project{}, err
	}

	state.CurrentStep = step
	state.History = append(state.History, domain.Transition{From: from, To: step, At: now, Notes: notes})
	p.Workflow.SetStage(stage, state)
	p.UpdatedAt = now
	return p, nil
}

// ResetStage sends a stage back to pending. Always allowed, from any step.
func (e Engine) ResetStage(ctx context.Context, projectID, stage, actorID string) (domain.Project, error) {
	return e.ApplyStep(ctx, projectID, stage, config.PendingStep, "", actorID)
}

// ProgressOf returns the project's displayed progress: the stored override
// when one is set, otherwise the value computed from the workflow.
func (e Engine) ProgressOf(p domain.Project) int {
	if p.Progress != nil {
		return *p.Progress
	}
	return workflow.ProjectProgress(e.Config, p.Workflow)
}

// StageStatuses classifies every stage of a project.
func (e Engine) StageStatuses(p domain.Project) map[string]workflow.Status {
	out := make(map[string]workflow.Status, len(config.StageKeys))
	for _, key := range config.StageKeys {
		state, _ := p.Workflow.Stage(key)
		out[key] = workflow.StageStatus(e.Config, key, state.CurrentStep)
	}
	return out
}

// DocumentCreateOptions are parameters for attaching a document record.
type DocumentCreateOptions struct {
	ID        string
	ProjectID string
	Stage     string
	Category  string
	Filename  string
	URL       string
	MimeType  string
	Size      int64
	ActorID   string
}

func (e Engine) AddDocument(ctx context.Context, opts DocumentCreateOptions) (domain.Document, error) {
	if !config.IsStage(opts.Stage) {
		return domain.Document{}, ErrUnknownStage
	}
	if opts.Filename == "" {
		return domain.Document{}, errors.New("filename is required")
	}
	if opts.URL == "" {
		return domain.Document{}, errors.New("url is required")
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.Document{}, err
	}
	defer tx.Rollback()

	if _, err := e.Repo.GetProjectTx(ctx, tx, opts.ProjectID); err != nil {
		return domain.Document{}, err
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	d := domain.Document{
		ID:        id,
		ProjectID: opts.ProjectID,
		Stage:     opts.Stage,
		Category:  opts.Category,
		Filename:  opts.Filename,
		URL:       opts.URL,
		MimeType:  opts.MimeType,
		Size:      opts.Size,
		CreatedAt: e.now().UTC().Format(time.RFC3339),
	}
	if err := e.Repo.InsertDocumentTx(ctx, tx, d); err != nil {
		return domain.Document{}, err
	}
	if err := e.Events.Append(ctx, tx, "document.added", "document", d.ID, opts.ActorID, events.EventPayload{
		"project_id": d.ProjectID, "stage": d.Stage, "filename": d.Filename,
	}); err != nil {
		return domain.Document{}, err
	}
	if err := tx.Commit(); err != nil {
		return domain.Document{}, err
	}
	return d, nil
}

func (e Engine) DeleteDocument(ctx context.Context, id, actorID string) error {
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	d, err := e.Repo.GetDocumentTx(ctx, tx, id)
	if err != nil {
		return err
	}
	if err := e.Repo.DeleteDocumentTx(ctx, tx, id); err != nil {
		return err
	}
	if err := e.Events.Append(ctx, tx, "document.deleted", "document", d.ID, actorID, events.EventPayload{
		"project_id": d.ProjectID, "stage": d.Stage,
	}); err != nil {
		return err
	}
	return tx.Commit()
}

func optional(v string) any {
	if v == "" {
		return nil
	}
	return v
}
