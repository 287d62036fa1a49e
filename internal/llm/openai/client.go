package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/joseph-ayodele/receipts-inbox/internal/llm"
)

var _ llm.TextGenerator = (*Client)(nil)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string         `json:"model"`
	Messages       []chatMessage  `json:"messages"`
	Temperature    float32        `json:"temperature"`
	MaxTokens      int            `json:"max_tokens,omitempty"`
	ResponseFormat map[string]any `json:"response_format,omitempty"`
}

type chatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage llm.Usage `json:"usage"`
}

// Generate sends one system+user exchange and returns the first choice's text.
func (c *Client) Generate(ctx context.Context, req llm.GenerateRequest) (llm.Generation, error) {
	start := time.Now()

	body := chatRequest{
		Model:       c.cfg.Model,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if s := strings.TrimSpace(req.System); s != "" {
		body.Messages = append(body.Messages, chatMessage{Role: "system", Content: s})
	}
	body.Messages = append(body.Messages, chatMessage{Role: "user", Content: req.User})
	if req.JSON {
		body.ResponseFormat = map[string]any{"type": "json_object"}
	}

	c.log.Info("llm.generate.start",
		"model", c.cfg.Model,
		"temp", req.Temperature,
		"max_tokens", req.MaxTokens,
		"prompt_len", len(req.System)+len(req.User),
	)

	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
	raw, err := llm.SendJSON(ctx, c.httpClient, c.cfg.BaseURL+"/chat/completions", body, headers, c.log)
	if err != nil {
		c.log.Error("llm.generate.http_error", "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return llm.Generation{}, err
	}

	var cc chatResponse
	if err := json.Unmarshal(raw, &cc); err != nil {
		c.log.Error("llm.generate.decode_error", "error", err, "raw_bytes", len(raw))
		return llm.Generation{}, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		c.log.Error("llm.generate.no_choices", "raw_bytes", len(raw))
		return llm.Generation{}, fmt.Errorf("no choices in openai response")
	}

	out := llm.Generation{
		Text:  strings.TrimSpace(cc.Choices[0].Message.Content),
		Model: cc.Model,
		Usage: cc.Usage,
	}
	if out.Model == "" {
		out.Model = c.cfg.Model
	}
	c.log.Info("llm.generate.ok",
		"model", out.Model,
		"finish_reason", cc.Choices[0].FinishReason,
		"prompt_tokens", out.Usage.PromptTokens,
		"completion_tokens", out.Usage.CompletionTokens,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}
