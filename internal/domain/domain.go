package domain

type Lead struct {
	ID          string  `json:"id"`
	Company     string  `json:"company,omitempty"`
	ContactName string  `json:"contact_name"`
	Email       string  `json:"email,omitempty"`
	Phone       string  `json:"phone,omitempty"`
	Pack        string  `json:"pack" enum:"essentiel,pro,serenite,flex"`
	Status      string  `json:"status" enum:"new,contacted,qualified,converted,lost"`
	ClientID    *string `json:"client_id,omitempty"`
	ConvertedAt *string `json:"converted_at,omitempty" format:"date-time"`
	Notes       string  `json:"notes,omitempty"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

type Beneficiary struct {
	Company     string `json:"company,omitempty"`
	ContactName string `json:"contact_name"`
	Email       string `json:"email,omitempty"`
	Phone       string `json:"phone,omitempty"`
}

type Installation struct {
	Address     string   `json:"address,omitempty"`
	City        string   `json:"city,omitempty"`
	PostalCode  string   `json:"postal_code,omitempty"`
	PowerKWC    *float64 `json:"power_kwc,omitempty"`
	PanelsCount *int     `json:"panels_count,omitempty"`
}

// Transition is one append-only history entry for a stage.
type Transition struct {
	From  string `json:"from"`
	To    string `json:"to"`
	At    string `json:"at" format:"date-time"`
	Notes string `json:"notes,omitempty"`
}

// StageState tracks where one administrative track currently sits.
type StageState struct {
	CurrentStep string       `json:"current_step"`
	History     []Transition `json:"history,omitempty"`
}

// Workflow holds the four fixed administrative stages of a project.
type Workflow struct {
	DP      StageState `json:"dp"`
	Consuel StageState `json:"consuel"`
	Enedis  StageState `json:"enedis"`
	EdfOA   StageState `json:"edfOa"`
}

type Project struct {
	ID           string       `json:"id"`
	Reference    string       `json:"reference"`
	LeadID       *string      `json:"lead_id,omitempty"`
	Beneficiary  Beneficiary  `json:"beneficiary"`
	Installation Installation `json:"installation"`
	Pack         string       `json:"pack" enum:"essentiel,pro,serenite,flex"`
	Status       string       `json:"status" enum:"en_cours,termine,annule"`
	Progress     *int         `json:"progress,omitempty"`
	Workflow     Workflow     `json:"workflow"`
	CreatedAt    string       `json:"created_at" format:"date-time"`
	UpdatedAt    string       `json:"updated_at" format:"date-time"`
}

type Document struct {
	ID        string `json:"id"`
	ProjectID string `json:"project_id"`
	Stage     string `json:"stage" enum:"dp,consuel,enedis,edfOa"`
	Category  string `json:"category,omitempty"`
	Filename  string `json:"filename"`
	URL       string `json:"url"`
	MimeType  string `json:"mime_type,omitempty"`
	Size      int64  `json:"size,omitempty"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

type ReferenceCounter struct {
	Year int `json:"year"`
	Seq  int `json:"seq"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

type APIKey struct {
	ID        string `json:"id"`
	ActorID   string `json:"actor_id"`
	Name      string `json:"name,omitempty"`
	KeyHash   string `json:"key_hash"`
	CreatedAt string `json:"created_at" format:"date-time"`
}
