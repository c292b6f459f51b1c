// Package direct executes generation requests that need only a single
// synchronous provider call. The outcome is applied before the admission call
// returns, so no pending window is observable to other components.
package direct

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/inkflow-ai/inkflow/internal/completion"
	"github.com/inkflow-ai/inkflow/internal/config"
	generationdomain "github.com/inkflow-ai/inkflow/internal/generation/domain"
	openai "github.com/sashabaranov/go-openai"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Provider is the synchronous slice of the completion API the executor needs.
// *openai.Client satisfies it; tests substitute a fake.
type Provider interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	CreateImage(ctx context.Context, req openai.ImageRequest) (openai.ImageResponse, error)
}

type Params struct {
	fx.In

	Log      *zap.Logger
	Config   config.Config
	Applier  *completion.Applier
	Provider Provider
}

type Executor struct {
	log     *zap.Logger
	cfg     config.ProviderConfig
	applier *completion.Applier
	client  Provider
}

func NewExecutor(p Params) generationdomain.DirectExecutor {
	return &Executor{
		log:     p.Log.Named("executor.direct"),
		cfg:     p.Config.Provider,
		applier: p.Applier,
		client:  p.Provider,
	}
}

// NewProvider builds the real provider client from config.
func NewProvider(cfg config.Config) Provider {
	clientCfg := openai.DefaultConfig(cfg.Provider.APIKey)
	if cfg.Provider.BaseURL != "" {
		clientCfg.BaseURL = cfg.Provider.BaseURL
	}
	return openai.NewClientWithConfig(clientCfg)
}

func (e *Executor) Execute(ctx context.Context, req *generationdomain.GenerationRequest) {
	ctx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	var outcome completion.Outcome
	if req.Type == generationdomain.TypeImage {
		outcome = e.generateImage(ctx, req)
	} else {
		outcome = e.generateText(ctx, req)
	}

	if err := e.applier.Apply(ctx, req.ID, outcome); err != nil {
		e.log.Error("failed to apply direct outcome",
			zap.String("request_id", req.ID.String()), zap.Error(err))
	}
}

func (e *Executor) generateText(ctx context.Context, req *generationdomain.GenerationRequest) completion.Outcome {
	model := req.Model
	if model == "" {
		model = e.cfg.TextModel
	}

	resp, err := e.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt(req)},
		},
	})
	if err != nil {
		return completion.Failure(sanitizeProviderError(err))
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return completion.Failure("provider returned an empty completion")
	}

	return completion.Success(map[string]any{
		"content": resp.Choices[0].Message.Content,
	})
}

func (e *Executor) generateImage(ctx context.Context, req *generationdomain.GenerationRequest) completion.Outcome {
	model := req.Model
	if model == "" {
		model = e.cfg.ImageModel
	}

	resp, err := e.client.CreateImage(ctx, openai.ImageRequest{
		Model:  model,
		Prompt: prompt(req),
		N:      1,
	})
	if err != nil {
		return completion.Failure(sanitizeProviderError(err))
	}
	if len(resp.Data) == 0 || strings.TrimSpace(resp.Data[0].URL) == "" {
		return completion.Failure("provider returned no image")
	}

	return completion.Success(map[string]any{
		"imageUrl": resp.Data[0].URL,
	})
}

func prompt(req *generationdomain.GenerationRequest) string {
	if raw, ok := req.Params["prompt"].(string); ok && strings.TrimSpace(raw) != "" {
		return raw
	}
	return string(req.Type)
}

// sanitizeProviderError keeps provider detail (status, code, message) while
// never echoing request configuration or credentials.
func sanitizeProviderError(err error) string {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fmt.Sprintf("provider error (status %d): %s", apiErr.HTTPStatusCode, apiErr.Message)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fmt.Sprintf("provider request failed (status %d)", reqErr.HTTPStatusCode)
	}
	return "provider call failed: " + err.Error()
}

var Module = fx.Module("executor.direct",
	fx.Provide(NewProvider),
	fx.Provide(NewExecutor),
)
