// Package config loads and normalizes declarative workflow definitions.
//
// A workflow file names the agents, the models they use, the workflow shape
// (sequential steps or parallel branches), and the tool providers available
// to the agents. Parsing fills every omitted field with a default so the
// rest of the system never sees a partially specified agent.
package config

import (
	"os"
	"strconv"

	"github.com/skeinworks/skein/mcp"
)

// Spec is a fully normalized workflow definition.
type Spec struct {
	Name      string
	Agents    []Agent
	Workflow  Workflow
	Models    map[string]Model
	Providers []mcp.ProviderConfig
}

// Agent describes one agent in the workflow.
type Agent struct {
	ID          string
	Role        string
	Goal        string
	Description string
	Instruction string
	Model       string
	Tools       []string
	SubAgents   []string
}

// Model is a resolved model configuration.
type Model struct {
	Provider    string
	Name        string
	Temperature float64
	MaxTokens   int
}

// Workflow types.
const (
	WorkflowSequential = "sequential"
	WorkflowParallel   = "parallel"
)

// Workflow describes the execution shape. Sequential workflows run Steps in
// order; parallel workflows run Branches concurrently and optionally hand the
// combined output to a Then agent.
type Workflow struct {
	Type     string
	Steps    []string
	Branches []string
	Then     string
}

// AgentByID looks up an agent by its id.
func (s *Spec) AgentByID(id string) (Agent, bool) {
	for _, a := range s.Agents {
		if a.ID == id {
			return a, true
		}
	}
	return Agent{}, false
}

// ModelFor resolves the model configuration for an agent. An agent model name
// that is not defined in the models section is used as-is with default
// provider and sampling parameters.
func (s *Spec) ModelFor(a Agent) Model {
	if m, ok := s.Models[a.Model]; ok {
		return m
	}
	d := loadDefaults()
	return Model{
		Provider:    d.provider,
		Name:        a.Model,
		Temperature: d.temperature,
		MaxTokens:   d.maxTokens,
	}
}

// defaults are the fill-in values for omitted fields, overridable through the
// environment.
type defaults struct {
	model       string
	provider    string
	temperature float64
	maxTokens   int
	role        string
}

func loadDefaults() defaults {
	d := defaults{
		model:       "gemini-2.5-flash",
		provider:    "google",
		temperature: 0.7,
		maxTokens:   8096,
		role:        "Agent",
	}
	if v := os.Getenv("SKEIN_DEFAULT_MODEL"); v != "" {
		d.model = v
	}
	if v := os.Getenv("SKEIN_DEFAULT_PROVIDER"); v != "" {
		d.provider = v
	}
	if v := os.Getenv("SKEIN_DEFAULT_TEMPERATURE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			d.temperature = f
		}
	}
	if v := os.Getenv("SKEIN_DEFAULT_MAX_TOKENS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			d.maxTokens = n
		}
	}
	return d
}
