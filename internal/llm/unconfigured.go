package llm

import (
	"context"
	"fmt"
)

// Unconfigured stands in when no API key is set. The server still
// starts and serves the dataset and health endpoints; every model-backed
// stage fails as an upstream error.
type Unconfigured struct{}

// Generate always fails.
func (Unconfigured) Generate(ctx context.Context, prompt string) (string, error) {
	return "", fmt.Errorf("%w: model configuration missing, check environment variables", ErrUpstream)
}
