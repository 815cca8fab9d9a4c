package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// StageKeys is the fixed, ordered list of administrative stages.
var StageKeys = []string{"dp", "consuel", "enedis", "edfOa"}

// PendingStep is the sentinel step code valid for every stage.
const PendingStep = "pending"

// Config models solaire.yml.
type Config struct {
	Workflow struct {
		DP      StageDefinition `yaml:"dp" json:"dp"`
		Consuel StageDefinition `yaml:"consuel" json:"consuel"`
		Enedis  StageDefinition `yaml:"enedis" json:"enedis"`
		EdfOA   StageDefinition `yaml:"edfOa" json:"edfOa"`
	} `yaml:"workflow" json:"workflow"`
	Packs    []string        `yaml:"packs" json:"packs"`
	Webhooks []WebhookConfig `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

type StageDefinition struct {
	Label string           `yaml:"label" json:"label"`
	Steps []StepDefinition `yaml:"steps" json:"steps"`
}

type StepDefinition struct {
	Code    string `yaml:"code" json:"code"`
	Label   string `yaml:"label" json:"label"`
	Final   bool   `yaml:"final,omitempty" json:"final,omitempty"`
	Success bool   `yaml:"success,omitempty" json:"success,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
}

// Stage returns the definition for a stage key.
func (c *Config) Stage(key string) (StageDefinition, bool) {
	switch key {
	case "dp":
		return c.Workflow.DP, true
	case "consuel":
		return c.Workflow.Consuel, true
	case "enedis":
		return c.Workflow.Enedis, true
	case "edfOa":
		return c.Workflow.EdfOA, true
	}
	return StageDefinition{}, false
}

// Step looks up a step by code within a stage. Unknown codes are not an
// error anywhere in the system; callers display them verbatim.
func (c *Config) Step(stageKey, code string) (StepDefinition, bool) {
	stage, ok := c.Stage(stageKey)
	if !ok {
		return StepDefinition{}, false
	}
	for _, s := range stage.Steps {
		if s.Code == code {
			return s, true
		}
	}
	return StepDefinition{}, false
}

// PackAllowed reports whether the pack code is in the configured set.
func (c *Config) PackAllowed(pack string) bool {
	for _, p := range c.Packs {
		if p == pack {
			return true
		}
	}
	return false
}

// IsStage reports whether key names one of the four fixed stages.
func IsStage(key string) bool {
	for _, k := range StageKeys {
		if k == key {
			return true
		}
	}
	return false
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with solaire config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// Validate ensures the workflow catalog meets required structure.
func (c *Config) Validate() error {
	for _, key := range StageKeys {
		stage, _ := c.Stage(key)
		if stage.Label == "" {
			return fmt.Errorf("config.workflow.%s.label is required", key)
		}
		if len(stage.Steps) == 0 {
			return fmt.Errorf("config.workflow.%s.steps is required", key)
		}
		seen := map[string]bool{}
		finalSeen := false
		for _, step := range stage.Steps {
			if step.Code == "" {
				return fmt.Errorf("stage %s has a step with empty code", key)
			}
			if seen[step.Code] {
				return fmt.Errorf("stage %s has duplicate step code %s", key, step.Code)
			}
			seen[step.Code] = true
			if step.Success && !step.Final {
				return fmt.Errorf("stage %s step %s sets success without final", key, step.Code)
			}
			if finalSeen && !step.Final {
				return fmt.Errorf("stage %s step %s follows a final step", key, step.Code)
			}
			if step.Final {
				finalSeen = true
			}
		}
	}
	if len(c.Packs) == 0 {
		return fmt.Errorf("config.packs is required")
	}
	seenPacks := map[string]bool{}
	for _, p := range c.Packs {
		if p == "" {
			return fmt.Errorf("config.packs contains an empty code")
		}
		if seenPacks[p] {
			return fmt.Errorf("config.packs contains duplicate code %s", p)
		}
		seenPacks[p] = true
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("config.webhooks[%d].url is required", i)
		}
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "solaire.yml")
}

// GenerateDefault returns the default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.Unmarshal([]byte(defaultTemplate), &cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `workflow:
  dp:
    label: "DP Mairie"
    steps:
      - { code: pending, label: "En attente" }
      - { code: draft, label: "En préparation" }
      - { code: sent, label: "Dossier envoyé" }
      - { code: receipt, label: "Récépissé reçu" }
      - { code: instruction, label: "En instruction" }
      - { code: approved, label: "Validé", final: true, success: true }
      - { code: rejected, label: "Refusé", final: true }
  consuel:
    label: "Consuel"
    steps:
      - { code: pending, label: "En attente" }
      - { code: preparing, label: "Préparation dossier" }
      - { code: submitted, label: "Déposé" }
      - { code: waiting, label: "En attente retour" }
      - { code: visit_scheduled, label: "Visite programmée" }
      - { code: visit_done, label: "Visite effectuée" }
      - { code: attestation_approved, label: "Attestation visée", final: true, success: true }
      - { code: attestation_rejected, label: "Attestation non visée", final: true }
  enedis:
    label: "Enedis"
    steps:
      - { code: pending, label: "En attente" }
      - { code: request_sent, label: "Demande de raccordement envoyée" }
      - { code: request_approved, label: "Demande de raccordement validée" }
      - { code: mes_scheduled, label: "MES programmée" }
      - { code: mes_done, label: "MES effectuée", final: true, success: true }
  edfOa:
    label: "EDF OA"
    steps:
      - { code: pending, label: "En attente" }
      - { code: account_created, label: "Compte producteur créé" }
      - { code: bta_received, label: "Numéro BTA reçu" }
      - { code: s21_sent, label: "Attestation S21 envoyée" }
      - { code: s21_signed, label: "Contrat S21 rempli et signé" }
      - { code: contract_received, label: "Contrat EDF OA reçu" }
      - { code: contract_signed, label: "Contrat EDF OA signé", final: true, success: true }

packs: [essentiel, pro, serenite, flex]
`
