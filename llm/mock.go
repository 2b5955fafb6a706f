package llm

import (
	"context"
	"fmt"
)

// Mock is a Generator for running workflows without API keys. It echoes a
// truncated view of the prompt so tests can assert on what reached the model.
type Mock struct{}

// NewMock creates a mock generator.
func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Generate(_ context.Context, prompt string, cfg ModelConfig) (string, error) {
	model := cfg.Model
	if model == "" {
		model = "mock-model"
	}
	head := prompt
	if len(head) > 50 {
		head = head[:50]
	}
	return fmt.Sprintf("[Mock response from %s] This is a simulated response to: %s...", model, head), nil
}
