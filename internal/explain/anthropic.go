package explain

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/rotisserie/eris"

	"github.com/sells-group/valuation-cli/pkg/anthropic"
)

const narratorPrompt = `You write short explanations of used-vehicle valuations for the vehicle's owner.
Use only the figures supplied. Write three plain paragraphs: the base market value,
the factors that moved it (largest effects first, in dollars), and the final estimate
as a private-party sale value. Do not use headings, lists or markdown.`

// AnthropicInvoker asks Claude to write the explanation locally instead of
// calling a hosted function.
type AnthropicInvoker struct {
	client    anthropic.Client
	model     string
	maxTokens int64
}

// NewAnthropicInvoker creates an invoker that narrates with model.
func NewAnthropicInvoker(client anthropic.Client, model string, maxTokens int64) *AnthropicInvoker {
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	return &AnthropicInvoker{client: client, model: model, maxTokens: maxTokens}
}

// Invoke narrates req. API rejections become a FunctionError; transport
// failures and cancellation are returned as errors.
func (a *AnthropicInvoker) Invoke(ctx context.Context, function string, req Request) (*InvokeResult, error) {
	facts, err := json.MarshalIndent(req, "", "  ")
	if err != nil {
		return nil, eris.Wrap(err, "explain: marshal valuation facts")
	}

	resp, err := a.client.CreateMessage(ctx, anthropic.MessageRequest{
		Model:     a.model,
		MaxTokens: a.maxTokens,
		System:    []anthropic.SystemBlock{{Text: narratorPrompt, Cached: true}},
		Messages: []anthropic.Message{{
			Role:    "user",
			Content: fmt.Sprintf("Explain this valuation:\n\n%s", facts),
		}},
	})
	if err != nil {
		var apiErr *sdk.Error
		if ctx.Err() == nil && errors.As(err, &apiErr) {
			return &InvokeResult{Error: &FunctionError{Message: apiErr.Error()}}, nil
		}
		return nil, eris.Wrapf(err, "explain: %s", function)
	}

	resp.Usage.LogCost(a.model, function)
	return &InvokeResult{Explanation: resp.Text()}, nil
}
