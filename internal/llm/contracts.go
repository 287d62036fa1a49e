package llm

import "context"

// GenerateRequest is one prompt sent to a generative text service.
type GenerateRequest struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
	// JSON asks the provider to constrain output to a JSON object when it can.
	JSON bool
}

// Usage reports token accounting when the provider returns it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Generation is the provider's reply.
type Generation struct {
	Text  string
	Model string
	Usage Usage
}

// TextGenerator is the interface the extractor and the LLM matcher depend on.
type TextGenerator interface {
	Generate(ctx context.Context, req GenerateRequest) (Generation, error)
}

// GeneratorFunc adapts a plain function to TextGenerator.
type GeneratorFunc func(ctx context.Context, req GenerateRequest) (Generation, error)

func (f GeneratorFunc) Generate(ctx context.Context, req GenerateRequest) (Generation, error) {
	return f(ctx, req)
}
