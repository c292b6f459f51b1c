// Package callback receives completion reports from external automation
// pipelines. Senders are not under this engine's control, so the parser is
// deliberately forgiving about envelope shape: wrapped arrays, several id key
// spellings and content under whichever key the pipeline chose. Redelivered
// callbacks for already-terminal requests are acknowledged without effect.
package callback

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strconv"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/inkflow-ai/inkflow/internal/completion"
	generationdomain "github.com/inkflow-ai/inkflow/internal/generation/domain"
	obsmetrics "github.com/inkflow-ai/inkflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	ErrMalformed = errors.New("callback payload is malformed")
	ErrMismatch  = errors.New("callback does not match a known generation request")
)

// idKeys are accepted spellings of the correlation id, in precedence order.
var idKeys = []string{"generationRequestId", "requestId", "id"}

// contentKeys are accepted result fields, in precedence order. The matched
// key is preserved in the stored result so downstream delivery can tell text
// from media.
var contentKeys = []string{
	"content", "text", "result",
	"imageUrl", "gammaUrl", "pdfUrl", "pptxUrl",
	"transcription",
}

type Params struct {
	fx.In

	Log     *zap.Logger
	DB      *gorm.DB
	Repo    generationdomain.Repository
	Applier *completion.Applier
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Router struct {
	log     *zap.Logger
	db      *gorm.DB
	repo    generationdomain.Repository
	applier *completion.Applier
	metrics *obsmetrics.Metrics
}

func NewRouter(p Params) *Router {
	return &Router{
		log:     p.Log.Named("callback.router"),
		db:      p.DB,
		repo:    p.Repo,
		applier: p.Applier,
		metrics: p.Metrics,
	}
}

// Handle parses an inbound callback body and routes it to the completion
// applier. Unknown ids return ErrMismatch; callbacks for requests that are
// already terminal are acknowledged as duplicates.
func (r *Router) Handle(ctx context.Context, body []byte) error {
	requestID, outcome, err := parse(body)
	if err != nil {
		r.count("malformed")
		return err
	}

	req, err := r.repo.FindByID(ctx, r.db, requestID)
	if errors.Is(err, generationdomain.ErrNotFound) {
		r.count("mismatch")
		r.log.Warn("callback for unknown request",
			zap.String("request_id", requestID.String()))
		return ErrMismatch
	}
	if err != nil {
		r.count("error")
		return err
	}

	if req.Status.Terminal() {
		r.count("duplicate")
		r.log.Debug("callback for terminal request ignored",
			zap.String("request_id", requestID.String()),
			zap.String("status", string(req.Status)))
		return nil
	}

	if err := r.applier.Apply(ctx, requestID, outcome); err != nil {
		r.count("error")
		return err
	}
	if outcome.Success {
		r.count("completed")
	} else {
		r.count("failed")
	}
	return nil
}

func (r *Router) count(outcome string) {
	if r.metrics != nil {
		r.metrics.CallbacksReceived.WithLabelValues(outcome).Inc()
	}
}

// parse extracts the correlation id and outcome from a callback body.
func parse(body []byte) (snowflake.ID, completion.Outcome, error) {
	var raw any
	if err := json.Unmarshal(body, &raw); err != nil {
		return 0, completion.Outcome{}, ErrMalformed
	}

	// Some pipelines wrap the single envelope in an array.
	if list, ok := raw.([]any); ok {
		if len(list) == 0 {
			return 0, completion.Outcome{}, ErrMalformed
		}
		raw = list[0]
	}

	envelope, ok := raw.(map[string]any)
	if !ok {
		return 0, completion.Outcome{}, ErrMalformed
	}

	requestID, ok := extractID(envelope)
	if !ok {
		return 0, completion.Outcome{}, ErrMalformed
	}

	// An explicit success flag decides the outcome outright; the error-string
	// heuristic only applies when the pipeline omits the flag.
	if success, ok := envelope["success"].(bool); ok {
		if !success {
			message, _ := extractError(envelope)
			return requestID, completion.Failure(message), nil
		}
	} else if message, failed := extractError(envelope); failed {
		return requestID, completion.Failure(message), nil
	}

	result, ok := extractResult(envelope)
	if !ok {
		return 0, completion.Outcome{}, ErrMalformed
	}
	return requestID, completion.Success(result), nil
}

func extractID(envelope map[string]any) (snowflake.ID, bool) {
	for _, key := range idKeys {
		value, present := envelope[key]
		if !present {
			continue
		}
		switch v := value.(type) {
		case string:
			parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
			if err == nil && parsed > 0 {
				return snowflake.ID(parsed), true
			}
		case float64:
			// JSON numbers arrive as float64, which stops round-tripping
			// integers exactly above 2^53. A near-miss id would land on the
			// wrong request, so fractional and oversized ids are rejected.
			if v > 0 && v == math.Trunc(v) && v < 1<<53 {
				return snowflake.ID(int64(v)), true
			}
		}
	}
	return 0, false
}

// extractError reports failure only for a non-empty error field; pipelines
// routinely send `"error": null` or `"error": ""` on success.
func extractError(envelope map[string]any) (string, bool) {
	for _, key := range []string{"error", "errorMessage"} {
		if message, ok := envelope[key].(string); ok && strings.TrimSpace(message) != "" {
			return message, true
		}
	}
	return "", false
}

func extractResult(envelope map[string]any) (map[string]any, bool) {
	for _, key := range contentKeys {
		value, present := envelope[key]
		if !present {
			continue
		}
		switch v := value.(type) {
		case map[string]any:
			return v, true
		case string:
			if strings.TrimSpace(v) == "" {
				continue
			}
			// Some pipelines serialize the structured result into the content
			// string. Unwrap it when it parses as an object.
			if embedded, ok := decodeEmbedded(v); ok {
				return embedded, true
			}
			return map[string]any{key: v}, true
		}
	}
	return nil, false
}

func decodeEmbedded(value string) (map[string]any, bool) {
	trimmed := strings.TrimSpace(value)
	if !strings.HasPrefix(trimmed, "{") {
		return nil, false
	}
	var embedded map[string]any
	if err := json.Unmarshal([]byte(trimmed), &embedded); err != nil {
		return nil, false
	}
	if len(embedded) == 0 {
		return nil, false
	}
	return embedded, true
}

var Module = fx.Module("callback",
	fx.Provide(NewRouter),
)
