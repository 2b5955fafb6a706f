package config

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/skeinworks/skein/mcp"
)

// ValidationError reports a structural problem in a workflow file.
type ValidationError struct {
	Field   string
	Message string
	Hint    string
}

func (e *ValidationError) Error() string {
	msg := e.Message
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Hint != "" {
		msg = msg + "\n  -> " + e.Hint
	}
	return msg
}

// rawSpec mirrors the file layout. Polymorphic sections (agents may be a list
// or a map, steps may be strings or maps, models must keep declaration order)
// stay as yaml.Node for a second decoding pass.
type rawSpec struct {
	Name     string                 `yaml:"name"`
	Agents   yaml.Node              `yaml:"agents"`
	Workflow *rawWorkflow           `yaml:"workflow"`
	Models   yaml.Node              `yaml:"models"`
	Tools    map[string]rawProvider `yaml:"tools"`
}

type rawWorkflow struct {
	Type     string      `yaml:"type"`
	Steps    []yaml.Node `yaml:"steps"`
	Branches []yaml.Node `yaml:"branches"`
	Then     yaml.Node   `yaml:"then"`
}

type rawAgent struct {
	ID          string   `yaml:"id"`
	Role        string   `yaml:"role"`
	Goal        string   `yaml:"goal"`
	Description string   `yaml:"description"`
	Instruction string   `yaml:"instruction"`
	Model       string   `yaml:"model"`
	Tools       []string `yaml:"tools"`
	SubAgents   []string `yaml:"sub_agents"`
}

type rawModel struct {
	Provider    string   `yaml:"provider"`
	Model       string   `yaml:"model"`
	Temperature *float64 `yaml:"temperature"`
	MaxTokens   *int     `yaml:"max_tokens"`
}

type rawProvider struct {
	Command string            `yaml:"command"`
	Server  string            `yaml:"server"` // accepted alias for command
	Args    []string          `yaml:"args"`
	Env     map[string]string `yaml:"env"`
}

// Load reads and parses a workflow file.
func Load(path string) (*Spec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse parses YAML content into a normalized Spec.
func Parse(data []byte) (*Spec, error) {
	var raw rawSpec
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}

	if raw.Agents.IsZero() {
		return nil, &ValidationError{Field: "agents", Message: "missing required field"}
	}
	if raw.Workflow == nil {
		return nil, &ValidationError{Field: "workflow", Message: "missing required field"}
	}

	d := loadDefaults()
	spec := &Spec{Name: raw.Name}

	agents, err := parseAgents(&raw.Agents, d)
	if err != nil {
		return nil, err
	}
	spec.Agents = agents

	models, defaultModel, err := parseModels(&raw.Models, d)
	if err != nil {
		return nil, err
	}
	spec.Models = models

	// Agents that name no model get the resolved default.
	for i := range spec.Agents {
		if spec.Agents[i].Model == "" {
			spec.Agents[i].Model = defaultModel
		}
	}

	wf, err := parseWorkflow(raw.Workflow)
	if err != nil {
		return nil, err
	}
	spec.Workflow = wf

	providers, err := parseProviders(raw.Tools)
	if err != nil {
		return nil, err
	}
	spec.Providers = providers

	return spec, nil
}

// parseAgents accepts both shapes: a list of agent maps with id fields, or a
// map keyed by agent id.
func parseAgents(node *yaml.Node, d defaults) ([]Agent, error) {
	var agents []Agent

	switch node.Kind {
	case yaml.SequenceNode:
		for i, item := range node.Content {
			var ra rawAgent
			if err := item.Decode(&ra); err != nil {
				return nil, fmt.Errorf("parse agent %d: %w", i, err)
			}
			agents = append(agents, normalizeAgent(ra, i, d))
		}
	case yaml.MappingNode:
		for i := 0; i+1 < len(node.Content); i += 2 {
			id := node.Content[i].Value
			var ra rawAgent
			if err := node.Content[i+1].Decode(&ra); err != nil {
				return nil, fmt.Errorf("parse agent %s: %w", id, err)
			}
			ra.ID = id
			agents = append(agents, normalizeAgent(ra, i/2, d))
		}
	default:
		return nil, &ValidationError{Field: "agents", Message: "must be a list or a map"}
	}

	if len(agents) == 0 {
		return nil, &ValidationError{Field: "agents", Message: "at least one agent must be defined"}
	}
	return agents, nil
}

func normalizeAgent(ra rawAgent, index int, d defaults) Agent {
	a := Agent{
		ID:          ra.ID,
		Role:        ra.Role,
		Goal:        ra.Goal,
		Description: ra.Description,
		Instruction: strings.TrimSpace(ra.Instruction),
		Model:       ra.Model,
		Tools:       ra.Tools,
		SubAgents:   ra.SubAgents,
	}
	if a.ID == "" {
		a.ID = fmt.Sprintf("agent_%d", index+1)
	}
	if a.Role == "" {
		a.Role = d.role
	}
	return a
}

// parseModels normalizes the models section and picks the default model name:
// an explicit "default_model" entry wins, otherwise the first declared model,
// otherwise the environment default.
func parseModels(node *yaml.Node, d defaults) (map[string]Model, string, error) {
	if node.IsZero() {
		name := d.model
		return map[string]Model{
			name: {Provider: d.provider, Name: name, Temperature: d.temperature, MaxTokens: d.maxTokens},
		}, name, nil
	}
	if node.Kind != yaml.MappingNode {
		return nil, "", &ValidationError{Field: "models", Message: "must be a map"}
	}

	models := make(map[string]Model, len(node.Content)/2)
	defaultName := ""
	for i := 0; i+1 < len(node.Content); i += 2 {
		name := node.Content[i].Value
		var rm rawModel
		if err := node.Content[i+1].Decode(&rm); err != nil {
			return nil, "", fmt.Errorf("parse model %s: %w", name, err)
		}

		m := Model{
			Provider:    rm.Provider,
			Name:        rm.Model,
			Temperature: d.temperature,
			MaxTokens:   d.maxTokens,
		}
		if m.Provider == "" {
			m.Provider = d.provider
		}
		if m.Name == "" {
			m.Name = name
		}
		if rm.Temperature != nil {
			m.Temperature = *rm.Temperature
		}
		if rm.MaxTokens != nil {
			m.MaxTokens = *rm.MaxTokens
		}
		models[name] = m

		if defaultName == "" {
			defaultName = name
		}
		if name == "default_model" {
			defaultName = name
		}
	}

	if defaultName == "" {
		defaultName = d.model
	}
	return models, defaultName, nil
}

func parseWorkflow(raw *rawWorkflow) (Workflow, error) {
	wf := Workflow{Type: raw.Type}

	switch raw.Type {
	case WorkflowSequential:
		if len(raw.Steps) == 0 {
			return wf, &ValidationError{Field: "workflow.steps", Message: "sequential workflow must have steps"}
		}
		for i, step := range raw.Steps {
			id, err := agentRef(&step)
			if err != nil {
				return wf, fmt.Errorf("parse step %d: %w", i, err)
			}
			wf.Steps = append(wf.Steps, id)
		}
	case WorkflowParallel:
		if len(raw.Branches) == 0 {
			return wf, &ValidationError{Field: "workflow.branches", Message: "parallel workflow must have branches"}
		}
		for i, branch := range raw.Branches {
			id, err := agentRef(&branch)
			if err != nil {
				return wf, fmt.Errorf("parse branch %d: %w", i, err)
			}
			wf.Branches = append(wf.Branches, id)
		}
		if !raw.Then.IsZero() {
			id, err := agentRef(&raw.Then)
			if err != nil {
				return wf, fmt.Errorf("parse then: %w", err)
			}
			wf.Then = id
		}
	default:
		return wf, &ValidationError{
			Field:   "workflow.type",
			Message: fmt.Sprintf("must be %q or %q, got %q", WorkflowSequential, WorkflowParallel, raw.Type),
		}
	}

	return wf, nil
}

// agentRef accepts a bare agent id or a map with an agent key.
func agentRef(node *yaml.Node) (string, error) {
	switch node.Kind {
	case yaml.ScalarNode:
		return node.Value, nil
	case yaml.MappingNode:
		var ref struct {
			Agent string `yaml:"agent"`
		}
		if err := node.Decode(&ref); err != nil {
			return "", err
		}
		if ref.Agent == "" {
			return "", fmt.Errorf("missing agent key")
		}
		return ref.Agent, nil
	}
	return "", fmt.Errorf("expected agent id or map with agent key")
}

// parseProviders turns the tools section into provider configurations.
// Entries without a command fall back to the well-known provider catalog.
func parseProviders(tools map[string]rawProvider) ([]mcp.ProviderConfig, error) {
	if len(tools) == 0 {
		return nil, nil
	}

	names := make([]string, 0, len(tools))
	for name := range tools {
		names = append(names, name)
	}
	// Map iteration order is random; keep the provider list deterministic.
	sort.Strings(names)

	configs := make([]mcp.ProviderConfig, 0, len(names))
	for _, name := range names {
		if strings.TrimSpace(name) == "" {
			return nil, &ValidationError{
				Field:   "tools",
				Message: "provider name must not be empty",
			}
		}
		if strings.Contains(name, ".") {
			return nil, &ValidationError{
				Field:   "tools." + name,
				Message: "provider name must not contain '.'",
				Hint:    "the dot separates provider and tool in qualified names",
			}
		}

		rp := tools[name]
		command := rp.Command
		if command == "" {
			command = rp.Server
		}

		if command == "" {
			entry, ok := mcp.LookupCatalog(name)
			if !ok {
				return nil, &ValidationError{
					Field:   "tools." + name,
					Message: "no command given and provider is not in the catalog",
					Hint:    "add a command field or use a catalog provider name",
				}
			}
			cfg := entry.ToProviderConfig(rp.Env)
			configs = append(configs, cfg)
			continue
		}

		configs = append(configs, mcp.ProviderConfig{
			Name:    name,
			Command: command,
			Args:    rp.Args,
			Env:     rp.Env,
		})
	}
	return configs, nil
}
