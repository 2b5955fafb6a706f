package skein

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/skeinworks/skein/config"
	"github.com/skeinworks/skein/llm"
	"github.com/skeinworks/skein/mcp"
	"github.com/skeinworks/skein/memory"
)

// TestMain lets the test binary double as a minimal tool provider when
// re-executed with SKEIN_FAKE_PROVIDER set.
func TestMain(m *testing.M) {
	if os.Getenv("SKEIN_FAKE_PROVIDER") != "" {
		fakeProviderMain()
		os.Exit(0)
	}
	os.Exit(m.Run())
}

func fakeProviderMain() {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	reply := func(id int64, result any) {
		b, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": id, "result": result})
		os.Stdout.Write(append(b, '\n'))
	}

	for scanner.Scan() {
		var msg struct {
			ID     *int64 `json:"id"`
			Method string `json:"method"`
			Params struct {
				Name      string         `json:"name"`
				Arguments map[string]any `json:"arguments"`
			} `json:"params"`
		}
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil || msg.ID == nil {
			continue
		}

		switch msg.Method {
		case "initialize":
			reply(*msg.ID, map[string]any{
				"protocolVersion": "2024-11-05",
				"capabilities":    map[string]any{},
				"serverInfo":      map[string]any{"name": "fake", "version": "0.0.1"},
			})
		case "tools/list":
			reply(*msg.ID, map[string]any{
				"tools": []map[string]any{{
					"name":        "echo",
					"description": "Echo the given text",
					"inputSchema": map[string]any{"type": "object"},
				}},
			})
		case "tools/call":
			text, _ := msg.Params.Arguments["text"].(string)
			reply(*msg.ID, map[string]any{
				"content": []map[string]any{{"type": "text", "text": "echo:" + text}},
			})
		}
	}
}

// scriptedGenerator replays canned responses and records the prompts it saw.
type scriptedGenerator struct {
	mu        sync.Mutex
	responses []string
	prompts   []string
}

func (g *scriptedGenerator) Generate(_ context.Context, prompt string, _ llm.ModelConfig) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, prompt)
	if len(g.responses) == 0 {
		return "ok", nil
	}
	resp := g.responses[0]
	g.responses = g.responses[1:]
	return resp, nil
}

func (g *scriptedGenerator) seenPrompts() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]string(nil), g.prompts...)
}

func testStore(t *testing.T) *memory.Store {
	t.Helper()
	s, err := memory.Open(filepath.Join(t.TempDir(), "mem.db"))
	if err != nil {
		t.Fatalf("memory.Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func testSpec(workflow config.Workflow, agents ...config.Agent) *config.Spec {
	return &config.Spec{
		Agents:   agents,
		Workflow: workflow,
		Models: map[string]config.Model{
			"test-model": {Provider: "test", Name: "test-model", Temperature: 0.7, MaxTokens: 128},
		},
	}
}

func TestRunSequential(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		"The sky is blue because of Rayleigh scattering.",
		"Article: why the sky is blue.",
	}}
	runner := NewRunner(
		WithGenerator("test", gen),
		WithMemory(testStore(t)),
	)

	spec := testSpec(
		config.Workflow{Type: config.WorkflowSequential, Steps: []string{"researcher", "writer"}},
		config.Agent{ID: "researcher", Role: "Researcher", Goal: "explain the sky color", Model: "test-model"},
		config.Agent{ID: "writer", Role: "Writer", Goal: "write about the sky color", Model: "test-model"},
	)

	result, err := runner.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.RunID == "" {
		t.Error("missing run id")
	}
	if len(result.Order) != 2 || result.Order[0] != "researcher" || result.Order[1] != "writer" {
		t.Errorf("order = %v", result.Order)
	}
	if !strings.Contains(result.Outputs["writer"], "Article") {
		t.Errorf("writer output = %q", result.Outputs["writer"])
	}

	prompts := gen.seenPrompts()
	if len(prompts) != 2 {
		t.Fatalf("got %d prompts", len(prompts))
	}
	if !strings.HasPrefix(prompts[0], "you are Researcher and your motive is explain the sky color") {
		t.Errorf("prompt[0] = %q", prompts[0])
	}
	// The first step runs without context; later steps get retrieved memory.
	if strings.Contains(prompts[0], "Relevant previous context") {
		t.Errorf("first prompt has context: %q", prompts[0])
	}
	if !strings.Contains(prompts[1], "Relevant previous context") {
		t.Errorf("second prompt has no context: %q", prompts[1])
	}
	if !strings.Contains(prompts[1], "Rayleigh") {
		t.Errorf("context missing earlier response: %q", prompts[1])
	}
}

func TestRunSkipsUnknownAgent(t *testing.T) {
	gen := &scriptedGenerator{}
	runner := NewRunner(WithGenerator("test", gen))

	spec := testSpec(
		config.Workflow{Type: config.WorkflowSequential, Steps: []string{"ghost", "real"}},
		config.Agent{ID: "real", Role: "Agent", Model: "test-model"},
	)

	result, err := runner.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if _, ok := result.Outputs["ghost"]; ok {
		t.Error("unknown agent produced output")
	}
	if _, ok := result.Outputs["real"]; !ok {
		t.Error("real agent skipped")
	}
	if len(result.Order) != 1 {
		t.Errorf("order = %v", result.Order)
	}
}

func TestRunParallelWithThen(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		"branch output one", "branch output two", "combined verdict",
	}}
	runner := NewRunner(
		WithGenerator("test", gen),
		WithMemory(testStore(t)),
	)

	spec := testSpec(
		config.Workflow{
			Type:     config.WorkflowParallel,
			Branches: []string{"optimist", "pessimist"},
			Then:     "judge",
		},
		config.Agent{ID: "optimist", Role: "Optimist", Model: "test-model"},
		config.Agent{ID: "pessimist", Role: "Pessimist", Model: "test-model"},
		config.Agent{ID: "judge", Role: "Judge", Goal: "weigh both sides", Model: "test-model"},
	)

	result, err := runner.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(result.Outputs) != 3 {
		t.Errorf("outputs = %v", result.Outputs)
	}
	if result.Order[len(result.Order)-1] != "judge" {
		t.Errorf("consolidation agent not last: %v", result.Order)
	}

	// The judge runs after the branches, with a non-empty store, so its
	// prompt always carries retrieved context.
	prompts := gen.seenPrompts()
	judgePrompt := prompts[len(prompts)-1]
	if !strings.Contains(judgePrompt, "Relevant previous context") {
		t.Errorf("judge prompt has no context: %q", judgePrompt)
	}
}

func TestRunToolCall(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{
		`{"tool": "fake.echo", "arguments": {"text": "hi"}}`,
		"final answer using the echo",
	}}
	runner := NewRunner(WithGenerator("test", gen))

	spec := testSpec(
		config.Workflow{Type: config.WorkflowSequential, Steps: []string{"caller"}},
		config.Agent{ID: "caller", Role: "Caller", Model: "test-model", Tools: []string{"fake.echo"}},
	)
	spec.Providers = []mcp.ProviderConfig{{
		Name:    "fake",
		Command: os.Args[0],
		Env:     map[string]string{"SKEIN_FAKE_PROVIDER": "1"},
	}}

	result, err := runner.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outputs["caller"] != "final answer using the echo" {
		t.Errorf("output = %q", result.Outputs["caller"])
	}

	prompts := gen.seenPrompts()
	if len(prompts) != 2 {
		t.Fatalf("got %d prompts", len(prompts))
	}
	if !strings.Contains(prompts[0], "fake.echo") {
		t.Errorf("tool not offered in prompt: %q", prompts[0])
	}
	if !strings.Contains(prompts[1], "Result of fake.echo:\necho:hi") {
		t.Errorf("tool result not fed back: %q", prompts[1])
	}
}

func TestRunUnknownWorkflowType(t *testing.T) {
	runner := NewRunner(WithGenerator("test", &scriptedGenerator{}))
	spec := testSpec(
		config.Workflow{Type: "roundrobin"},
		config.Agent{ID: "a", Model: "test-model"},
	)
	if _, err := runner.Run(context.Background(), spec); err == nil {
		t.Fatal("expected error")
	}
}

func TestParseToolCall(t *testing.T) {
	tests := []struct {
		name     string
		response string
		wantTool string
		wantOK   bool
	}{
		{
			name:     "plain json",
			response: `{"tool": "fs.read_file", "arguments": {"path": "/tmp/x"}}`,
			wantTool: "fs.read_file",
			wantOK:   true,
		},
		{
			name:     "fenced json",
			response: "```json\n{\"tool\": \"calc.add\", \"arguments\": {\"a\": 1}}\n```",
			wantTool: "calc.add",
			wantOK:   true,
		},
		{
			name:     "plain text",
			response: "The answer is 42.",
			wantOK:   false,
		},
		{
			name:     "json without tool key",
			response: `{"answer": 42}`,
			wantOK:   false,
		},
		{
			name:     "malformed json",
			response: `{"tool": `,
			wantOK:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			call, ok := parseToolCall(tt.response)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && call.Tool != tt.wantTool {
				t.Errorf("tool = %q, want %q", call.Tool, tt.wantTool)
			}
		})
	}
}

func TestGeneratorFallback(t *testing.T) {
	gen := &scriptedGenerator{responses: []string{"fallback ok"}}
	runner := NewRunner(WithGenerator("google", gen))

	spec := &config.Spec{
		Agents: []config.Agent{{ID: "a", Role: "Agent", Model: "m"}},
		Workflow: config.Workflow{
			Type:  config.WorkflowSequential,
			Steps: []string{"a"},
		},
		Models: map[string]config.Model{
			"m": {Provider: "does-not-exist", Name: "m"},
		},
	}

	result, err := runner.Run(context.Background(), spec)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if result.Outputs["a"] != "fallback ok" {
		t.Errorf("output = %q", result.Outputs["a"])
	}
}
