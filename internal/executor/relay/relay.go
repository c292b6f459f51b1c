// Package relay hands generation work to an external automation pipeline and
// returns immediately. The pipeline reports completion later through the
// callback router; the relay call itself is the only failure surfaced here,
// because a pipeline that never received the job will never call back.
package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/inkflow-ai/inkflow/internal/completion"
	"github.com/inkflow-ai/inkflow/internal/config"
	generationdomain "github.com/inkflow-ai/inkflow/internal/generation/domain"
	"github.com/inkflow-ai/inkflow/internal/queue"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log     *zap.Logger
	Config  config.Config
	Applier *completion.Applier
	Queues  *queue.Manager
}

type Executor struct {
	log     *zap.Logger
	cfg     config.RelayConfig
	applier *completion.Applier
	queues  *queue.Manager
	client  *http.Client
}

func NewExecutor(p Params) generationdomain.RelayExecutor {
	return &Executor{
		log:     p.Log.Named("executor.relay"),
		cfg:     p.Config.Relay,
		applier: p.Applier,
		queues:  p.Queues,
		client:  &http.Client{Timeout: p.Config.Relay.Timeout},
	}
}

// payload is the pipeline-specific envelope. The request id doubles as the
// correlation id echoed back in the callback.
type payload struct {
	GenerationRequestID string         `json:"generationRequestId"`
	Type                string         `json:"type"`
	Params              map[string]any `json:"params,omitempty"`
	Model               string         `json:"model,omitempty"`
	CallbackURL         string         `json:"callbackUrl"`
}

// Launch enqueues the relay call so the admission call never blocks on the
// pipeline.
func (e *Executor) Launch(req *generationdomain.GenerationRequest) {
	e.queues.Dispatch.Enqueue(func(ctx context.Context) {
		e.fire(ctx, req)
	})
}

func (e *Executor) fire(ctx context.Context, req *generationdomain.GenerationRequest) {
	if err := e.post(ctx, req); err != nil {
		e.log.Warn("relay call failed",
			zap.String("request_id", req.ID.String()), zap.Error(err))
		if applyErr := e.applier.Apply(ctx, req.ID, completion.Failure("dispatch failed: "+err.Error())); applyErr != nil {
			e.log.Error("failed to record relay dispatch failure",
				zap.String("request_id", req.ID.String()), zap.Error(applyErr))
		}
		return
	}
	// Success leaves the request pending until the callback arrives.
	e.log.Info("request relayed to automation pipeline",
		zap.String("request_id", req.ID.String()),
		zap.String("type", string(req.Type)))
}

func (e *Executor) post(ctx context.Context, req *generationdomain.GenerationRequest) error {
	if e.cfg.Endpoint == "" {
		return fmt.Errorf("relay endpoint is not configured")
	}

	body, err := json.Marshal(payload{
		GenerationRequestID: req.ID.String(),
		Type:                string(req.Type),
		Params:              map[string]any(req.Params),
		Model:               req.Model,
		CallbackURL:         e.cfg.CallbackBaseURL + "/v1/callbacks/generations",
	})
	if err != nil {
		return err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.Endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if e.cfg.Secret != "" {
		httpReq.Header.Set("X-Relay-Secret", e.cfg.Secret)
	}

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("relay endpoint returned status %d", resp.StatusCode)
	}
	return nil
}

var Module = fx.Module("executor.relay",
	fx.Provide(NewExecutor),
)
