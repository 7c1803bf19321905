package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
)

// Completer runs one system+user text completion.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
}

type CompletionRequest struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

var ErrEmptyCompletion = errors.New("bot: empty completion")

type ProviderOptions struct {
	APIKey string
	Model  string
	// BaseURL overrides the provider endpoint; empty uses the default.
	BaseURL    string
	MaxRetries int
}

type OpenAICompleter struct {
	client openai.Client
	model  string
}

func NewOpenAICompleter(opts ProviderOptions) *OpenAICompleter {
	if opts.Model == "" {
		opts.Model = string(openai.ChatModelGPT4oMini)
	}
	reqOpts := []openaioption.RequestOption{
		openaioption.WithAPIKey(opts.APIKey),
		openaioption.WithMaxRetries(opts.MaxRetries),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, openaioption.WithBaseURL(opts.BaseURL))
	}
	return &OpenAICompleter{client: openai.NewClient(reqOpts...), model: opts.Model}
}

func (o *OpenAICompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
		MaxTokens:   openai.Int(int64(req.MaxTokens)),
		Temperature: openai.Float(req.Temperature),
	})
	if err != nil {
		return "", fmt.Errorf("openai completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", ErrEmptyCompletion
	}
	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	if out == "" {
		return "", ErrEmptyCompletion
	}
	return out, nil
}

type AnthropicCompleter struct {
	client anthropic.Client
	model  string
}

func NewAnthropicCompleter(opts ProviderOptions) *AnthropicCompleter {
	if opts.Model == "" {
		opts.Model = string(anthropic.ModelClaude3_5HaikuLatest)
	}
	reqOpts := []anthropicoption.RequestOption{
		anthropicoption.WithAPIKey(opts.APIKey),
		anthropicoption.WithMaxRetries(opts.MaxRetries),
	}
	if opts.BaseURL != "" {
		reqOpts = append(reqOpts, anthropicoption.WithBaseURL(opts.BaseURL))
	}
	return &AnthropicCompleter{client: anthropic.NewClient(reqOpts...), model: opts.Model}
}

func (a *AnthropicCompleter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(a.model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(req.Temperature),
		System:      []anthropic.TextBlockParam{{Text: req.System}},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.User)),
		},
	})
	if err != nil {
		return "", fmt.Errorf("anthropic completion: %w", err)
	}
	var b strings.Builder
	for _, block := range msg.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	out := strings.TrimSpace(b.String())
	if out == "" {
		return "", ErrEmptyCompletion
	}
	return out, nil
}
