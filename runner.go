package skein

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/skeinworks/skein/config"
	"github.com/skeinworks/skein/llm"
	"github.com/skeinworks/skein/mcp"
	"github.com/skeinworks/skein/memory"
)

// Context sizes for memory retrieval at each workflow position.
const (
	sequentialContextK  = 3
	branchContextK      = 2
	consolidateContextK = 5
)

// DefaultMaxToolRounds bounds the tool-call loop for one agent step.
const DefaultMaxToolRounds = 5

// Runner executes workflow specs. Each run gets a fresh uuid, a fresh set of
// tool providers (started from the spec, shut down when the run ends), and
// feeds every exchange through the memory store so later steps can retrieve
// relevant context.
type Runner struct {
	generators    map[string]llm.Generator
	manager       *mcp.Manager
	store         *memory.Store
	maxToolRounds int
}

// RunnerOption configures a Runner.
type RunnerOption func(*Runner)

// WithGenerator sets the generator for a provider name, replacing the
// default backend.
func WithGenerator(provider string, g llm.Generator) RunnerOption {
	return func(r *Runner) {
		r.generators[provider] = g
	}
}

// WithManager sets a tool provider manager to use for every run. The caller
// owns its shutdown. Without this option each run creates and shuts down its
// own manager.
func WithManager(m *mcp.Manager) RunnerOption {
	return func(r *Runner) {
		r.manager = m
	}
}

// WithMemory sets the memory store used for context retrieval. Without it,
// steps run without retrieved context and exchanges are not recorded.
func WithMemory(s *memory.Store) RunnerOption {
	return func(r *Runner) {
		r.store = s
	}
}

// WithMaxToolRounds bounds how many tool calls one agent step may make.
func WithMaxToolRounds(n int) RunnerOption {
	return func(r *Runner) {
		r.maxToolRounds = n
	}
}

// NewRunner creates a Runner with the standard generator backends registered
// under their provider names.
func NewRunner(opts ...RunnerOption) *Runner {
	r := &Runner{
		generators: map[string]llm.Generator{
			"anthropic": llm.NewAnthropic(),
			"openai":    llm.NewOpenAI(),
			"google":    llm.NewGemini(),
			"mock":      llm.NewMock(),
		},
		maxToolRounds: DefaultMaxToolRounds,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunResult holds the outputs of one workflow run.
type RunResult struct {
	RunID   string
	Outputs map[string]string
	Order   []string
}

// Run executes the workflow described by spec.
func (r *Runner) Run(ctx context.Context, spec *config.Spec) (*RunResult, error) {
	result := &RunResult{
		RunID:   uuid.NewString(),
		Outputs: make(map[string]string),
	}

	manager := r.manager
	if len(spec.Providers) > 0 {
		if manager == nil {
			manager = mcp.NewManager()
			defer manager.Shutdown()
		}
		summary, err := manager.Initialize(ctx, spec.Providers)
		if err != nil {
			return nil, fmt.Errorf("initialize providers: %w", err)
		}
		for name, ferr := range summary.Failed {
			slog.Warn("run: provider unavailable", "run", result.RunID, "provider", name, "error", ferr)
		}
	}

	slog.Info("run: starting workflow",
		"run", result.RunID, "workflow", spec.Workflow.Type, "agents", len(spec.Agents))

	var err error
	switch spec.Workflow.Type {
	case config.WorkflowSequential:
		err = r.runSequential(ctx, spec, manager, result)
	case config.WorkflowParallel:
		err = r.runParallel(ctx, spec, manager, result)
	default:
		err = fmt.Errorf("unknown workflow type %q", spec.Workflow.Type)
	}
	if err != nil {
		return nil, err
	}

	slog.Info("run: workflow complete", "run", result.RunID, "outputs", len(result.Outputs))
	return result, nil
}

func (r *Runner) runSequential(ctx context.Context, spec *config.Spec, manager *mcp.Manager, result *RunResult) error {
	for i, id := range spec.Workflow.Steps {
		contextK := 0
		if i > 0 {
			contextK = sequentialContextK
		}
		out, ok, err := r.runStep(ctx, spec, manager, result.RunID, id, contextK)
		if err != nil {
			return fmt.Errorf("step %s: %w", id, err)
		}
		if !ok {
			continue
		}
		result.Outputs[id] = out
		result.Order = append(result.Order, id)
	}
	return nil
}

func (r *Runner) runParallel(ctx context.Context, spec *config.Spec, manager *mcp.Manager, result *RunResult) error {
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		firstErr error
	)

	for _, id := range spec.Workflow.Branches {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			out, ok, err := r.runStep(ctx, spec, manager, result.RunID, id, branchContextK)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("branch %s: %w", id, err)
				}
				return
			}
			if ok {
				result.Outputs[id] = out
				result.Order = append(result.Order, id)
			}
		}(id)
	}
	wg.Wait()

	if firstErr != nil {
		return firstErr
	}

	if spec.Workflow.Then != "" {
		out, ok, err := r.runStep(ctx, spec, manager, result.RunID, spec.Workflow.Then, consolidateContextK)
		if err != nil {
			return fmt.Errorf("then %s: %w", spec.Workflow.Then, err)
		}
		if ok {
			result.Outputs[spec.Workflow.Then] = out
			result.Order = append(result.Order, spec.Workflow.Then)
		}
	}
	return nil
}

// runStep executes one agent. The bool result is false when the agent id is
// not defined in the spec; the step is skipped rather than failing the run.
func (r *Runner) runStep(ctx context.Context, spec *config.Spec, manager *mcp.Manager, runID, id string, contextK int) (string, bool, error) {
	agent, ok := spec.AgentByID(id)
	if !ok {
		slog.Warn("run: agent not found, skipping", "run", runID, "agent", id)
		return "", false, nil
	}

	model := spec.ModelFor(agent)
	gen, err := r.generatorFor(model.Provider)
	if err != nil {
		return "", false, err
	}

	prompt := buildPrompt(agent)

	if contextK > 0 && r.store != nil {
		memCtx, err := r.store.Context(ctx, prompt, contextK)
		if err != nil {
			return "", false, fmt.Errorf("retrieve context: %w", err)
		}
		if memCtx != "" {
			prompt += "\n\nRelevant previous context:\n" + memCtx
		}
	}

	tools := agentTools(agent, manager)
	if len(tools) > 0 {
		prompt += "\n\n" + toolInstructions(tools)
	}

	r.remember(ctx, runID, id, "User", prompt)

	cfg := llm.ModelConfig{
		Model:       model.Name,
		Temperature: model.Temperature,
		MaxTokens:   model.MaxTokens,
	}

	response, err := r.generateWithTools(ctx, gen, manager, runID, id, prompt, cfg)
	if err != nil {
		return "", false, err
	}

	r.remember(ctx, runID, id, agent.Role, response)
	return response, true, nil
}

// generateWithTools runs the generation loop. A response that is a tool-call
// request is executed through the manager and its result appended to the
// prompt for the next round; a plain response ends the loop.
func (r *Runner) generateWithTools(ctx context.Context, gen llm.Generator, manager *mcp.Manager, runID, agentID, prompt string, cfg llm.ModelConfig) (string, error) {
	for round := 0; ; round++ {
		response, err := gen.Generate(ctx, prompt, cfg)
		if err != nil {
			return "", fmt.Errorf("generate: %w", err)
		}

		call, ok := parseToolCall(response)
		if !ok {
			return response, nil
		}
		if manager == nil || round >= r.maxToolRounds {
			// Out of budget (or no providers): surface the raw response.
			return response, nil
		}

		slog.Info("run: tool call", "run", runID, "agent", agentID, "tool", call.Tool)
		result, callErr := manager.Call(ctx, call.Tool, call.Arguments)
		if callErr != nil {
			slog.Warn("run: tool call failed", "run", runID, "agent", agentID, "tool", call.Tool, "error", callErr)
			prompt += fmt.Sprintf("\n\nTool %s failed: %v\nContinue without it or try another tool.", call.Tool, callErr)
			continue
		}
		prompt += fmt.Sprintf("\n\nResult of %s:\n%s", call.Tool, result)
	}
}

func (r *Runner) generatorFor(provider string) (llm.Generator, error) {
	if gen, ok := r.generators[provider]; ok {
		return gen, nil
	}
	// Unconfigured providers fall back to the default backend.
	if gen, ok := r.generators["google"]; ok {
		slog.Warn("run: unknown model provider, using google", "provider", provider)
		return gen, nil
	}
	return nil, fmt.Errorf("no generator for provider %q", provider)
}

func (r *Runner) remember(ctx context.Context, runID, agentID, role, text string) {
	if r.store == nil {
		return
	}
	meta := map[string]string{"run_id": runID, "agent": agentID}
	if err := r.store.Store(ctx, role, text, meta); err != nil {
		slog.Warn("run: memory store failed", "run", runID, "error", err)
	}
}

func buildPrompt(agent config.Agent) string {
	return fmt.Sprintf("you are %s and your motive is %s %s %s",
		agent.Role, agent.Goal, agent.Description, agent.Instruction)
}

// agentTools resolves the agent's tool list against the discovered tools.
// A bare provider name grants every tool of that provider; a qualified name
// grants exactly that tool. Names that resolved to nothing are dropped.
func agentTools(agent config.Agent, manager *mcp.Manager) []mcp.ToolSchema {
	if manager == nil || len(agent.Tools) == 0 {
		return nil
	}

	var tools []mcp.ToolSchema
	for _, schema := range manager.DescribeAll() {
		for _, want := range agent.Tools {
			if want == schema.Qualified() || want == schema.Provider {
				tools = append(tools, schema)
				break
			}
		}
	}
	return tools
}

func toolInstructions(tools []mcp.ToolSchema) string {
	var b strings.Builder
	b.WriteString("You can use the following tools:\n")
	for _, t := range tools {
		b.WriteString("- ")
		b.WriteString(t.Qualified())
		if t.Description != "" {
			b.WriteString(": ")
			b.WriteString(t.Description)
		}
		b.WriteString("\n")
	}
	b.WriteString(`To use a tool, reply with only a JSON object of the form {"tool": "provider.name", "arguments": {...}}. When you have your final answer, reply with plain text.`)
	return b.String()
}

// toolCall is an in-band tool request parsed from a model response.
type toolCall struct {
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments"`
}

// parseToolCall reports whether a response is a tool-call request. Code
// fences around the JSON are tolerated.
func parseToolCall(response string) (toolCall, bool) {
	s := strings.TrimSpace(response)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
		s = strings.TrimSpace(s)
	}
	if !strings.HasPrefix(s, "{") {
		return toolCall{}, false
	}

	var call toolCall
	if err := json.Unmarshal([]byte(s), &call); err != nil || call.Tool == "" {
		return toolCall{}, false
	}
	return call, true
}
