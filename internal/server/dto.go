package server

import (
	"solaire/internal/config"
	"solaire/internal/domain"
	"solaire/internal/engine"
	"solaire/internal/workflow"
)

func stageProgress(e engine.Engine, stageKey, currentStep string) float64 {
	return workflow.StageProgress(e.Config, stageKey, currentStep)
}

// Request payloads

type CreateLeadRequest struct {
	Company     *string `json:"company,omitempty"`
	ContactName string  `json:"contact_name"`
	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Pack        string  `json:"pack"`
	Notes       *string `json:"notes,omitempty"`
}

type UpdateLeadRequest struct {
	Company     *string `json:"company,omitempty"`
	ContactName *string `json:"contact_name,omitempty"`
	Email       *string `json:"email,omitempty"`
	Phone       *string `json:"phone,omitempty"`
	Pack        *string `json:"pack,omitempty"`
	Status      *string `json:"status,omitempty" enum:"new,contacted,qualified,lost"`
	Notes       *string `json:"notes,omitempty"`
}

type CreateProjectRequest struct {
	Company     *string  `json:"company,omitempty"`
	ContactName string   `json:"contact_name"`
	Email       *string  `json:"email,omitempty"`
	Phone       *string  `json:"phone,omitempty"`
	Address     *string  `json:"address,omitempty"`
	City        *string  `json:"city,omitempty"`
	PostalCode  *string  `json:"postal_code,omitempty"`
	PowerKWC    *float64 `json:"power_kwc,omitempty"`
	PanelsCount *int     `json:"panels_count,omitempty"`
	Pack        string   `json:"pack"`
}

type UpdateProjectRequest struct {
	Company     *string  `json:"company,omitempty"`
	ContactName *string  `json:"contact_name,omitempty"`
	Email       *string  `json:"email,omitempty"`
	Phone       *string  `json:"phone,omitempty"`
	Address     *string  `json:"address,omitempty"`
	City        *string  `json:"city,omitempty"`
	PostalCode  *string  `json:"postal_code,omitempty"`
	PowerKWC    *float64 `json:"power_kwc,omitempty"`
	PanelsCount *int     `json:"panels_count,omitempty"`
	Pack        *string  `json:"pack,omitempty"`
	Status      *string  `json:"status,omitempty" enum:"en_cours,termine,annule"`
	Progress    *int     `json:"progress,omitempty" minimum:"0" maximum:"100"`
}

type ApplyStepRequest struct {
	Step  string  `json:"step"`
	Notes *string `json:"notes,omitempty"`
}

type CreateDocumentRequest struct {
	Stage    string  `json:"stage" enum:"dp,consuel,enedis,edfOa"`
	Category *string `json:"category,omitempty"`
	Filename string  `json:"filename"`
	URL      string  `json:"url"`
	MimeType *string `json:"mime_type,omitempty"`
	Size     *int64  `json:"size,omitempty"`
}

// Response payloads

type LeadResponse struct {
	ID          string  `json:"id"`
	Company     string  `json:"company,omitempty"`
	ContactName string  `json:"contact_name"`
	Email       string  `json:"email,omitempty"`
	Phone       string  `json:"phone,omitempty"`
	Pack        string  `json:"pack"`
	Status      string  `json:"status" enum:"new,contacted,qualified,converted,lost"`
	ClientID    *string `json:"client_id,omitempty"`
	ConvertedAt *string `json:"converted_at,omitempty" format:"date-time"`
	Notes       string  `json:"notes,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type TransitionResponse struct {
	From  string `json:"from"`
	To    string `json:"to"`
	At    string `json:"at" format:"date-time"`
	Notes string `json:"notes,omitempty"`
}

type StageResponse struct {
	CurrentStep string               `json:"current_step"`
	Status      string               `json:"status" enum:"pending,in_progress,success,rejected"`
	Progress    float64              `json:"progress"`
	History     []TransitionResponse `json:"history,omitempty"`
}

type ProjectResponse struct {
	ID             string                   `json:"id"`
	Reference      string                   `json:"reference"`
	LeadID         *string                  `json:"lead_id,omitempty"`
	Beneficiary    domain.Beneficiary       `json:"beneficiary"`
	Installation   domain.Installation      `json:"installation"`
	Pack           string                   `json:"pack"`
	Status         string                   `json:"status" enum:"en_cours,termine,annule"`
	Progress       int                      `json:"progress"`
	ManualOverride bool                     `json:"manual_override,omitempty"`
	Workflow       map[string]StageResponse `json:"workflow"`
	CreatedAt      string                   `json:"created_at" format:"date-time"`
	UpdatedAt      string                   `json:"updated_at" format:"date-time"`
}

type DocumentResponse struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Stage     string `json:"stage"`
	Category  string `json:"category,omitempty"`
	Filename  string `json:"filename"`
	URL       string `json:"url"`
	MimeType  string `json:"mime_type,omitempty"`
	Size      int64  `json:"size,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type EventResponse struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json,omitempty"`
}

type StepResponse struct {
	Code    string `json:"code"`
	Label   string `json:"label"`
	Final   bool   `json:"final,omitempty"`
	Success bool   `json:"success,omitempty"`
}

type StageDefinitionResponse struct {
	Label string         `json:"label"`
	Steps []StepResponse `json:"steps"`
}

type WorkflowConfigResponse struct {
	Workflow map[string]StageDefinitionResponse `json:"workflow"`
	Packs    []string                           `json:"packs"`
}

type paginatedLeads struct {
	Items      []LeadResponse `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type paginatedProjects struct {
	Items      []ProjectResponse `json:"items"`
	NextCursor string            `json:"next_cursor,omitempty"`
}

func leadResponse(l domain.Lead) LeadResponse {
	return LeadResponse{
		ID:          l.ID,
		Company:     l.Company,
		ContactName: l.ContactName,
		Email:       l.Email,
		Phone:       l.Phone,
		Pack:        l.Pack,
		Status:      l.Status,
		ClientID:    l.ClientID,
		ConvertedAt: l.ConvertedAt,
		Notes:       l.Notes,
		CreatedAt:   l.CreatedAt,
		UpdatedAt:   l.UpdatedAt,
	}
}

func mapLeads(items []domain.Lead) []LeadResponse {
	out := make([]LeadResponse, 0, len(items))
	for _, l := range items {
		out = append(out, leadResponse(l))
	}
	return out
}

func projectResponse(e engine.Engine, p domain.Project) ProjectResponse {
	wf := make(map[string]StageResponse, len(config.StageKeys))
	statuses := e.StageStatuses(p)
	for _, key := range config.StageKeys {
		state, _ := p.Workflow.Stage(key)
		history := make([]TransitionResponse, 0, len(state.History))
		for _, t := range state.History {
			history = append(history, TransitionResponse{From: t.From, To: t.To, At: t.At, Notes: t.Notes})
		}
		wf[key] = StageResponse{
			CurrentStep: state.CurrentStep,
			Status:      string(statuses[key]),
			Progress:    stageProgress(e, key, state.CurrentStep),
			History:     history,
		}
	}
	return ProjectResponse{
		ID:             p.ID,
		Reference:      p.Reference,
		LeadID:         p.LeadID,
		Beneficiary:    p.Beneficiary,
		Installation:   p.Installation,
		Pack:           p.Pack,
		Status:         p.Status,
		Progress:       e.ProgressOf(p),
		ManualOverride: p.Progress != nil,
		Workflow:       wf,
		CreatedAt:      p.CreatedAt,
		UpdatedAt:      p.UpdatedAt,
	}
}

func mapProjects(e engine.Engine, items []domain.Project) []ProjectResponse {
	out := make([]ProjectResponse, 0, len(items))
	for _, p := range items {
		out = append(out, projectResponse(e, p))
	}
	return out
}

func documentResponse(d domain.Document) DocumentResponse {
	return DocumentResponse{
		ID:        d.ID,
		ProjectID: d.ProjectID,
		Stage:     d.Stage,
		Category:  d.Category,
		Filename:  d.Filename,
		URL:       d.URL,
		MimeType:  d.MimeType,
		Size:      d.Size,
		CreatedAt: d.CreatedAt,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    e.Payload,
	}
}

func workflowConfigResponse(cfg *config.Config) WorkflowConfigResponse {
	wf := make(map[string]StageDefinitionResponse, len(config.StageKeys))
	for _, key := range config.StageKeys {
		stage, _ := cfg.Stage(key)
		steps := make([]StepResponse, 0, len(stage.Steps))
		for _, s := range stage.Steps {
			steps = append(steps, StepResponse{Code: s.Code, Label: s.Label, Final: s.Final, Success: s.Success})
		}
		wf[key] = StageDefinitionResponse{Label: stage.Label, Steps: steps}
	}
	return WorkflowConfigResponse{Workflow: wf, Packs: cfg.Packs}
}
