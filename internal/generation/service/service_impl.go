package service

import (
	"context"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	creditsdomain "github.com/inkflow-ai/inkflow/internal/credits/domain"
	generationdomain "github.com/inkflow-ai/inkflow/internal/generation/domain"
	obsmetrics "github.com/inkflow-ai/inkflow/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Repo    generationdomain.Repository
	Credits creditsdomain.Service
	Direct  generationdomain.DirectExecutor
	Relay   generationdomain.RelayExecutor
	Polling generationdomain.PollingLauncher
	Metrics *obsmetrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	repo    generationdomain.Repository
	credits creditsdomain.Service
	direct  generationdomain.DirectExecutor
	relay   generationdomain.RelayExecutor
	polling generationdomain.PollingLauncher
	metrics *obsmetrics.Metrics
}

func NewService(p Params) generationdomain.Service {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("generation.service"),
		genID:   p.GenID,
		repo:    p.Repo,
		credits: p.Credits,
		direct:  p.Direct,
		relay:   p.Relay,
		polling: p.Polling,
		metrics: p.Metrics,
	}
}

// Create runs admission, writes the canonical record plus projection with
// status pending, then dispatches. The debit gates creation: no request row
// exists unless the debit succeeded.
func (s *Service) Create(ctx context.Context, req generationdomain.CreateRequest) (*generationdomain.CreateResponse, error) {
	userID, err := snowflake.ParseString(strings.TrimSpace(req.UserID))
	if err != nil || userID == 0 {
		return nil, generationdomain.ErrInvalidUser
	}

	requestType := generationdomain.RequestType(strings.TrimSpace(req.Type))
	strategy, ok := requestType.Strategy()
	if !ok {
		return nil, generationdomain.ErrInvalidRequestType
	}

	requestID := s.genID.Generate()
	if _, err := s.credits.CheckAndDebit(ctx, userID, string(requestType), &requestID); err != nil {
		if s.metrics != nil {
			s.metrics.AdmissionDenied.WithLabelValues(admissionReason(err)).Inc()
		}
		return nil, err
	}

	now := time.Now().UTC()
	record := &generationdomain.GenerationRequest{
		ID:        requestID,
		UserID:    userID,
		Type:      requestType,
		Status:    generationdomain.StatusPending,
		Params:    datatypes.JSONMap(req.Params),
		Model:     strings.TrimSpace(req.Model),
		CreatedAt: now,
		UpdatedAt: now,
	}
	projection := &generationdomain.GenerationJob{
		GenerationRequestID: requestID,
		UserID:              userID,
		Type:                requestType,
		Status:              generationdomain.StatusPending,
		ChatID:              req.ChatID,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.repo.Insert(ctx, tx, record, projection)
	})
	if err != nil {
		return nil, err
	}

	if s.metrics != nil {
		s.metrics.GenerationsStarted.WithLabelValues(string(requestType)).Inc()
	}
	s.log.Info("generation request created",
		zap.String("request_id", requestID.String()),
		zap.String("type", string(requestType)),
		zap.String("strategy", string(strategy)))

	return s.dispatch(ctx, strategy, record)
}

func (s *Service) GetByID(ctx context.Context, userID, id snowflake.ID) (*generationdomain.GenerationRequest, error) {
	record, err := s.repo.FindByID(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	if record.UserID != userID {
		return nil, generationdomain.ErrNotOwner
	}
	return record, nil
}

func admissionReason(err error) string {
	switch {
	case err == nil:
		return "none"
	case err == creditsdomain.ErrInsufficientCredits:
		return "insufficient_credits"
	case err == creditsdomain.ErrUnknownAccount:
		return "unknown_account"
	default:
		return "error"
	}
}
