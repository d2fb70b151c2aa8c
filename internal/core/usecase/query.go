package usecase

import (
	"context"
	"errors"
	"fmt"

	"github.com/audexhq/audex/internal/core/domain"
	"github.com/audexhq/audex/internal/core/ports"
)

// BatchQueryUseCase is the read side: batch state plus every persisted
// pipeline artifact, assembled for the HTTP layer.
type BatchQueryUseCase struct {
	repo ports.BatchRepository
}

func NewBatchQueryUseCase(repo ports.BatchRepository) *BatchQueryUseCase {
	return &BatchQueryUseCase{repo: repo}
}

func (uc *BatchQueryUseCase) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	return uc.repo.GetByID(ctx, id)
}

func (uc *BatchQueryUseCase) ListEvents(ctx context.Context, batchID string) ([]domain.ProgressEvent, error) {
	return uc.repo.ListEvents(ctx, batchID)
}

// GetDetail loads the full read model. Artifacts a run has not produced yet
// come back nil; only a missing batch is an error.
func (uc *BatchQueryUseCase) GetDetail(ctx context.Context, id string) (*domain.BatchDetail, error) {
	batch, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("fetch batch by id: %w", err)
	}

	detail := &domain.BatchDetail{Batch: *batch}

	if detail.Observations, err = uc.repo.ListObservations(ctx, id); err != nil {
		return nil, fmt.Errorf("list observations: %w", err)
	}
	if detail.OCRTexts, err = uc.repo.ListOCRTexts(ctx, id); err != nil {
		return nil, fmt.Errorf("list ocr texts: %w", err)
	}
	if detail.Events, err = uc.repo.ListEvents(ctx, id); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}

	if detail.Risk, err = uc.repo.GetRiskScore(ctx, id); err != nil && !errors.Is(err, domain.ErrBatchNotFound) {
		return nil, fmt.Errorf("get risk score: %w", err)
	}
	if detail.AI, err = uc.repo.GetLatestAIAnalysis(ctx, id); err != nil && !errors.Is(err, domain.ErrBatchNotFound) {
		return nil, fmt.Errorf("get latest ai analysis: %w", err)
	}
	if detail.AI != nil {
		if detail.AIHistory, err = uc.repo.ListAIAnalyses(ctx, id); err != nil {
			return nil, fmt.Errorf("list ai analyses: %w", err)
		}
	}
	if detail.Summary, err = uc.repo.GetSummary(ctx, id); err != nil && !errors.Is(err, domain.ErrBatchNotFound) {
		return nil, fmt.Errorf("get summary: %w", err)
	}

	return detail, nil
}
