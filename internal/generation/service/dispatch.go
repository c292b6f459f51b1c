package service

import (
	"context"

	generationdomain "github.com/inkflow-ai/inkflow/internal/generation/domain"
	"go.uber.org/zap"
)

// dispatch is the one-shot routing decision. It never retries here; each
// executor owns its own retry policy.
func (s *Service) dispatch(
	ctx context.Context,
	strategy generationdomain.Strategy,
	record *generationdomain.GenerationRequest,
) (*generationdomain.CreateResponse, error) {
	switch strategy {
	case generationdomain.StrategyDirect:
		// Synchronous: the provider call happens inside the admission call
		// and the response carries the terminal outcome.
		s.direct.Execute(ctx, record)
		final, err := s.repo.FindByID(ctx, s.db, record.ID)
		if err != nil {
			s.log.Warn("direct execution finished but reload failed",
				zap.String("request_id", record.ID.String()), zap.Error(err))
			return pendingResponse(record), nil
		}
		return &generationdomain.CreateResponse{
			RequestID: final.ID.String(),
			Status:    final.Status,
			Result:    map[string]any(final.Result),
			Error:     final.Error,
		}, nil

	case generationdomain.StrategyRelay:
		s.relay.Launch(record)
		return pendingResponse(record), nil

	case generationdomain.StrategyPolling:
		s.polling.Launch(record)
		return pendingResponse(record), nil

	default:
		return nil, generationdomain.ErrInvalidRequestType
	}
}

func pendingResponse(record *generationdomain.GenerationRequest) *generationdomain.CreateResponse {
	return &generationdomain.CreateResponse{
		RequestID: record.ID.String(),
		Status:    generationdomain.StatusPending,
	}
}
