package oracle

import (
	"context"
	"errors"
	"strings"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/rotisserie/eris"

	"github.com/lexbook/lexipipe/internal/resilience"
)

// sdkClient implements Client using the official anthropic-sdk-go.
type sdkClient struct {
	client sdk.Client
}

// NewClient creates an oracle client backed by the Anthropic SDK.
// The SDK's own retry layer is disabled; retries belong to the
// pipeline's retry policy so the run budget stays accurate.
func NewClient(apiKey string) Client {
	return &sdkClient{
		client: sdk.NewClient(
			option.WithAPIKey(apiKey),
			option.WithMaxRetries(0),
		),
	}
}

func (c *sdkClient) Complete(ctx context.Context, req Request) (*Response, error) {
	params := sdk.MessageNewParams{
		Model:     sdk.Model(req.Model),
		MaxTokens: req.MaxTokens,
		Messages: []sdk.MessageParam{
			sdk.NewUserMessage(sdk.NewTextBlock(req.Prompt)),
		},
	}

	if req.System != "" {
		params.System = []sdk.TextBlockParam{{Text: req.System}}
	}

	if req.Temperature != nil {
		params.Temperature = sdk.Float(*req.Temperature)
	}

	msg, err := c.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classify(eris.Wrap(err, "oracle: complete"))
	}

	return fromSDKMessage(msg), nil
}

// classify tags retryable SDK failures so the retry policy can tell a
// rate-limit signal apart from a fatal call error.
func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		if resilience.IsRetryableHTTPStatus(apiErr.StatusCode) {
			return resilience.NewRateLimitError(err, apiErr.StatusCode)
		}
		return err
	}
	// Transport errors without a status code (timeouts, resets) are
	// handled by the retry policy's network heuristics.
	return err
}

func fromSDKMessage(msg *sdk.Message) *Response {
	var sb strings.Builder
	for _, b := range msg.Content {
		if b.Type == "" || b.Type == "text" {
			sb.WriteString(b.Text)
		}
	}

	return &Response{
		ID:         msg.ID,
		Model:      string(msg.Model),
		Text:       sb.String(),
		StopReason: string(msg.StopReason),
		Usage: TokenUsage{
			InputTokens:  msg.Usage.InputTokens,
			OutputTokens: msg.Usage.OutputTokens,
		},
	}
}
