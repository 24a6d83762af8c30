package llm

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/house-scraper/internal/resilience"
	"github.com/sells-group/house-scraper/pkg/anthropic"
)

// AnthropicCompleter completes prompts with a Claude model.
type AnthropicCompleter struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicCompleter creates an AnthropicCompleter.
func NewAnthropicCompleter(client anthropic.Client, model string, maxTokens int64) *AnthropicCompleter {
	if maxTokens <= 0 {
		maxTokens = 2048
	}
	return &AnthropicCompleter{client: client, model: model, maxTokens: maxTokens}
}

func (a *AnthropicCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	temp := Temperature
	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:       a.model,
		MaxTokens:   a.maxTokens,
		Messages:    []anthropic.Message{{Role: "user", Content: prompt}},
		Temperature: &temp,
	})
	if err != nil {
		return "", classifyAnthropic(err)
	}
	resp.Usage.LogCost(a.model, "")
	return resp.Text(), nil
}

func classifyAnthropic(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && resilience.IsTransientHTTPStatus(apiErr.StatusCode) {
		return resilience.NewTransientError(err, apiErr.StatusCode)
	}
	return eris.Wrap(err, "llm: anthropic")
}
