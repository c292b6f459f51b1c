// Package delivery pushes completed results back to the chat the request
// came from. Delivery is best-effort and strictly at-most-once per request:
// the delivered flag is flipped with a compare-and-set, and every attempt
// re-reads the job so a concurrent or earlier delivery turns later attempts
// into no-ops.
package delivery

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/inkflow-ai/inkflow/internal/completion"
	"github.com/inkflow-ai/inkflow/internal/config"
	generationdomain "github.com/inkflow-ai/inkflow/internal/generation/domain"
	obsmetrics "github.com/inkflow-ai/inkflow/internal/observability/metrics"
	"github.com/inkflow-ai/inkflow/internal/queue"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Transport sends rendered content to a chat. Implemented by the telegram
// client; tests substitute a fake.
type Transport interface {
	SendText(ctx context.Context, chatID int64, text string) error
	SendPhoto(ctx context.Context, chatID int64, url string) error
	SendDocument(ctx context.Context, chatID int64, url string) error
}

type Params struct {
	fx.In

	Log       *zap.Logger
	Config    config.Config
	DB        *gorm.DB
	Repo      generationdomain.Repository
	Queues    *queue.Manager
	Transport Transport           `optional:"true"`
	Metrics   *obsmetrics.Metrics `optional:"true"`
}

type Worker struct {
	log       *zap.Logger
	cfg       config.DeliveryConfig
	db        *gorm.DB
	repo      generationdomain.Repository
	queues    *queue.Manager
	transport Transport
	metrics   *obsmetrics.Metrics
}

func NewWorker(p Params) *Worker {
	return &Worker{
		log:       p.Log.Named("delivery.worker"),
		cfg:       p.Config.Delivery,
		db:        p.DB,
		repo:      p.Repo,
		queues:    p.Queues,
		transport: p.Transport,
		metrics:   p.Metrics,
	}
}

// Schedule implements completion.DeliveryScheduler.
func (w *Worker) Schedule(requestID snowflake.ID) {
	w.queues.Delivery.Enqueue(func(ctx context.Context) {
		w.attempt(ctx, requestID, 1)
	})
}

func (w *Worker) attempt(ctx context.Context, requestID snowflake.ID, attempt int) {
	if w.transport == nil {
		w.log.Warn("no delivery transport configured, dropping delivery",
			zap.String("request_id", requestID.String()))
		return
	}

	job, err := w.repo.FindJob(ctx, w.db, requestID)
	if err != nil {
		w.log.Error("could not load job for delivery",
			zap.String("request_id", requestID.String()), zap.Error(err))
		return
	}
	// Preconditions re-checked on every attempt: a request without a chat
	// origin, already delivered, or no longer completed is not delivered.
	if !job.SupportsDelivery() || job.Delivered || job.Status != generationdomain.StatusCompleted {
		return
	}

	if err := w.send(ctx, job); err != nil {
		w.retry(requestID, attempt, err)
		return
	}

	marked, err := w.repo.MarkDelivered(ctx, w.db, requestID)
	if err != nil {
		w.log.Error("sent but failed to record delivery",
			zap.String("request_id", requestID.String()), zap.Error(err))
		return
	}
	if !marked {
		// Another worker delivered between our precondition read and the
		// flag update. Nothing to undo; the flag stayed set exactly once.
		w.count("duplicate")
		return
	}
	w.count("delivered")
	w.log.Info("result delivered",
		zap.String("request_id", requestID.String()),
		zap.Int64("chat_id", job.ChatID),
		zap.Int("attempt", attempt))
}

func (w *Worker) retry(requestID snowflake.ID, attempt int, cause error) {
	if attempt >= w.cfg.MaxAttempts {
		w.count("failed")
		w.log.Error("delivery abandoned",
			zap.String("request_id", requestID.String()),
			zap.Int("attempts", attempt),
			zap.Error(cause))
		return
	}

	delay := w.cfg.RetryBase << (attempt - 1)
	w.count("retried")
	w.log.Warn("delivery attempt failed, retrying",
		zap.String("request_id", requestID.String()),
		zap.Int("attempt", attempt),
		zap.Duration("delay", delay),
		zap.Error(cause))
	w.queues.Delivery.EnqueueAfter(delay, func(ctx context.Context) {
		w.attempt(ctx, requestID, attempt+1)
	})
}

// send picks the channel from the result shape: images go as photos,
// downloadable artifacts as documents, everything else as truncated text.
func (w *Worker) send(ctx context.Context, job *generationdomain.GenerationJob) error {
	if url := resultString(job.Result, "imageUrl"); url != "" {
		return w.transport.SendPhoto(ctx, job.ChatID, url)
	}
	if url := resultString(job.Result, "pdfUrl", "pptxUrl", "fileUrl"); url != "" {
		return w.transport.SendDocument(ctx, job.ChatID, url)
	}
	return w.transport.SendText(ctx, job.ChatID, w.renderText(job))
}

func (w *Worker) renderText(job *generationdomain.GenerationJob) string {
	text := resultString(job.Result, "content", "text", "transcription", "result", "gammaUrl", "url")
	if text == "" {
		text = "Your " + strings.ReplaceAll(string(job.Type), "_", " ") + " is ready."
	}
	return truncate(text, w.cfg.MaxTextRunes)
}

// truncationNotice tells the user where the untruncated result lives.
const truncationNotice = "… see the full result in the app"

// truncate cuts on rune boundaries so the chat API's message length cap is
// never exceeded mid-character; the notice counts against the budget.
func truncate(text string, maxRunes int) string {
	if maxRunes <= 0 {
		return text
	}
	runes := []rune(text)
	if len(runes) <= maxRunes {
		return text
	}
	notice := []rune(truncationNotice)
	keep := maxRunes - len(notice)
	if keep < 0 {
		keep = 0
	}
	return string(runes[:keep]) + truncationNotice
}

func resultString(result map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := result[key].(string); ok && strings.TrimSpace(value) != "" {
			return value
		}
	}
	return ""
}

func (w *Worker) count(outcome string) {
	if w.metrics != nil {
		w.metrics.Deliveries.WithLabelValues(outcome).Inc()
	}
}

var _ completion.DeliveryScheduler = (*Worker)(nil)
