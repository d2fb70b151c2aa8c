package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/audexhq/audex/internal/core/domain"
	"github.com/audexhq/audex/internal/core/ports"
)

// ReanalyzeBatchUseCase re-runs only the remote AI pass for a batch that was
// already processed. Gemini-sourced observations are swapped atomically while
// local ones stay untouched, and the attempt is appended to the AI history.
// Overlapping re-runs on the same batch are serialized by a keyed lock.
type ReanalyzeBatchUseCase struct {
	repo      ports.BatchRepository
	analyzer  *AnalyzeBatchUseCase
	publisher ports.ProgressPublisher

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func NewReanalyzeBatchUseCase(
	repo ports.BatchRepository,
	analyzer *AnalyzeBatchUseCase,
	publisher ports.ProgressPublisher,
) *ReanalyzeBatchUseCase {
	return &ReanalyzeBatchUseCase{
		repo:      repo,
		analyzer:  analyzer,
		publisher: publisher,
		locks:     make(map[string]*sync.Mutex),
	}
}

func (uc *ReanalyzeBatchUseCase) ReanalyzeByID(ctx context.Context, batchID string) (*domain.AIAnalysisResult, error) {
	lock := uc.batchLock(batchID)
	lock.Lock()
	defer lock.Unlock()

	batch, err := uc.repo.GetByID(ctx, batchID)
	if err != nil {
		return nil, fmt.Errorf("fetch batch by id: %w", err)
	}

	images := imageFiles(batch.Files)
	uc.emit(ctx, batchID, domain.StageAIStart, "Nouvelle analyse avancée", domain.EventInfo, map[string]any{
		"images": len(images),
		"rerun":  true,
	})

	result, err := uc.analyzer.Analyze(ctx, batchID, images)
	if err != nil {
		uc.emit(ctx, batchID, domain.StagePipelineFailed, "Échec de la nouvelle analyse", domain.EventError, map[string]any{
			"error": err.Error(),
		})
		return nil, err
	}

	if err := uc.repo.ReplaceObservations(ctx, batchID, domain.SourceGemini, result.Observations); err != nil {
		return nil, fmt.Errorf("replace remote observations: %w", err)
	}
	if err := uc.repo.AppendAIAnalysis(ctx, result); err != nil {
		return nil, fmt.Errorf("append ai analysis: %w", err)
	}

	uc.emit(ctx, batchID, domain.StageAIComplete, "Nouvelle analyse terminée", domain.EventSuccess, map[string]any{
		"status":       string(result.Status),
		"observations": len(result.Observations),
		"rerun":        true,
	})
	return &result, nil
}

func (uc *ReanalyzeBatchUseCase) batchLock(batchID string) *sync.Mutex {
	uc.mu.Lock()
	defer uc.mu.Unlock()
	lock, ok := uc.locks[batchID]
	if !ok {
		lock = &sync.Mutex{}
		uc.locks[batchID] = lock
	}
	return lock
}

func (uc *ReanalyzeBatchUseCase) emit(ctx context.Context, batchID, code, label string, kind domain.EventKind, details map[string]any) {
	event := domain.ProgressEvent{
		ID:        uuid.NewString(),
		BatchID:   batchID,
		Code:      code,
		Label:     label,
		Kind:      kind,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}
	if err := uc.repo.AppendEvents(ctx, batchID, []domain.ProgressEvent{event}); err != nil {
		slog.Warn("append rerun event", "batch_id", batchID, "code", code, "error", err)
	}
	uc.publisher.Publish(domain.ProgressMessage{BatchID: batchID, Stage: &event})
}
