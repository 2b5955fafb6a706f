package config

import (
	"errors"
	"strings"
	"testing"
)

const sequentialYAML = `
name: research-pipeline
agents:
  - id: researcher
    role: Research Analyst
    goal: Gather facts about the topic
    tools: [search.web_search]
    instruction: |
      Cite every source you use.
  - id: writer
    role: Technical Writer
    model: claude-main
models:
  claude-main:
    provider: anthropic
    model: claude-sonnet-4-20250514
    temperature: 0.3
workflow:
  type: sequential
  steps:
    - researcher
    - agent: writer
tools:
  search:
    command: ./bin/search-server
    args: [--index, /data/idx]
    env:
      SEARCH_TOKEN: abc
`

func TestParseSequential(t *testing.T) {
	spec, err := Parse([]byte(sequentialYAML))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if spec.Name != "research-pipeline" {
		t.Errorf("name = %q", spec.Name)
	}
	if len(spec.Agents) != 2 {
		t.Fatalf("got %d agents", len(spec.Agents))
	}

	researcher := spec.Agents[0]
	if researcher.ID != "researcher" || researcher.Role != "Research Analyst" {
		t.Errorf("researcher = %+v", researcher)
	}
	if researcher.Instruction != "Cite every source you use." {
		t.Errorf("instruction not trimmed: %q", researcher.Instruction)
	}
	// No model named: gets the first declared model.
	if researcher.Model != "claude-main" {
		t.Errorf("researcher model = %q", researcher.Model)
	}

	m := spec.ModelFor(spec.Agents[1])
	if m.Provider != "anthropic" || m.Name != "claude-sonnet-4-20250514" {
		t.Errorf("model = %+v", m)
	}
	if m.Temperature != 0.3 {
		t.Errorf("temperature = %v", m.Temperature)
	}
	if m.MaxTokens != 8096 {
		t.Errorf("max_tokens default = %d", m.MaxTokens)
	}

	if spec.Workflow.Type != WorkflowSequential {
		t.Errorf("workflow type = %q", spec.Workflow.Type)
	}
	if len(spec.Workflow.Steps) != 2 || spec.Workflow.Steps[1] != "writer" {
		t.Errorf("steps = %v", spec.Workflow.Steps)
	}

	if len(spec.Providers) != 1 {
		t.Fatalf("got %d providers", len(spec.Providers))
	}
	p := spec.Providers[0]
	if p.Name != "search" || p.Command != "./bin/search-server" {
		t.Errorf("provider = %+v", p)
	}
	if p.Env["SEARCH_TOKEN"] != "abc" {
		t.Errorf("env = %v", p.Env)
	}
}

func TestParseParallelWithThen(t *testing.T) {
	spec, err := Parse([]byte(`
agents:
  optimist:
    role: Optimist
  pessimist:
    role: Pessimist
  judge:
    role: Judge
workflow:
  type: parallel
  branches:
    - optimist
    - pessimist
  then:
    agent: judge
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	// Map-form agents keep declaration order and take the key as id.
	want := []string{"optimist", "pessimist", "judge"}
	for i, a := range spec.Agents {
		if a.ID != want[i] {
			t.Errorf("agent %d = %q, want %q", i, a.ID, want[i])
		}
	}

	wf := spec.Workflow
	if wf.Type != WorkflowParallel {
		t.Errorf("type = %q", wf.Type)
	}
	if len(wf.Branches) != 2 || wf.Then != "judge" {
		t.Errorf("workflow = %+v", wf)
	}
}

func TestParseAgentDefaults(t *testing.T) {
	spec, err := Parse([]byte(`
agents:
  - goal: do the thing
workflow:
  type: sequential
  steps: [agent_1]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	a := spec.Agents[0]
	if a.ID != "agent_1" {
		t.Errorf("generated id = %q", a.ID)
	}
	if a.Role != "Agent" {
		t.Errorf("default role = %q", a.Role)
	}

	// No models section: the environment default model is synthesized.
	m := spec.ModelFor(a)
	if m.Name == "" || m.Provider == "" {
		t.Errorf("default model = %+v", m)
	}
	if m.Temperature != 0.7 || m.MaxTokens != 8096 {
		t.Errorf("default sampling = %+v", m)
	}
}

func TestParseEnvDefaults(t *testing.T) {
	t.Setenv("SKEIN_DEFAULT_MODEL", "llama-local")
	t.Setenv("SKEIN_DEFAULT_PROVIDER", "openai")
	t.Setenv("SKEIN_DEFAULT_TEMPERATURE", "0.1")

	spec, err := Parse([]byte(`
agents:
  - id: solo
workflow:
  type: sequential
  steps: [solo]
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	m := spec.ModelFor(spec.Agents[0])
	if m.Name != "llama-local" || m.Provider != "openai" {
		t.Errorf("model = %+v", m)
	}
	if m.Temperature != 0.1 {
		t.Errorf("temperature = %v", m.Temperature)
	}
}

func TestParseCatalogFallback(t *testing.T) {
	spec, err := Parse([]byte(`
agents:
  - id: solo
workflow:
  type: sequential
  steps: [solo]
tools:
  filesystem: {}
`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if len(spec.Providers) != 1 {
		t.Fatalf("got %d providers", len(spec.Providers))
	}
	p := spec.Providers[0]
	if p.Name != "filesystem" || p.Command == "" {
		t.Errorf("catalog provider = %+v", p)
	}
}

func TestParseValidationErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing agents",
			yaml: "workflow:\n  type: sequential\n  steps: [a]\n",
			want: "agents",
		},
		{
			name: "missing workflow",
			yaml: "agents:\n  - id: a\n",
			want: "workflow",
		},
		{
			name: "bad workflow type",
			yaml: "agents:\n  - id: a\nworkflow:\n  type: roundrobin\n",
			want: "workflow.type",
		},
		{
			name: "sequential without steps",
			yaml: "agents:\n  - id: a\nworkflow:\n  type: sequential\n",
			want: "workflow.steps",
		},
		{
			name: "parallel without branches",
			yaml: "agents:\n  - id: a\nworkflow:\n  type: parallel\n",
			want: "workflow.branches",
		},
		{
			name: "unknown provider without command",
			yaml: "agents:\n  - id: a\nworkflow:\n  type: sequential\n  steps: [a]\ntools:\n  mystery: {}\n",
			want: "tools.mystery",
		},
		{
			name: "dotted provider name",
			yaml: "agents:\n  - id: a\nworkflow:\n  type: sequential\n  steps: [a]\ntools:\n  has.dot:\n    command: ./srv\n",
			want: "tools.has.dot",
		},
		{
			name: "empty provider name",
			yaml: "agents:\n  - id: a\nworkflow:\n  type: sequential\n  steps: [a]\ntools:\n  \"\":\n    command: ./srv\n",
			want: "provider name",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected error")
			}
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("expected ValidationError, got %T: %v", err, err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParseInvalidYAML(t *testing.T) {
	_, err := Parse([]byte("agents: [\n"))
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse yaml") {
		t.Errorf("error = %v", err)
	}
}
