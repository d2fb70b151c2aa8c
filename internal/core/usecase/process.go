package usecase

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/audexhq/audex/internal/core/domain"
	"github.com/audexhq/audex/internal/core/ports"
	"github.com/audexhq/audex/internal/core/scoring"
)

// Progress bounds for the per-file analysis window. File progress is
// interpolated linearly inside it.
const (
	progressReceived      = 5
	progressMetadata      = 10
	progressAnalysisStart = 15
	progressAnalysisEnd   = 70
	progressScored        = 75
	progressAIStart       = 80
	progressAIDone        = 90
	progressSummary       = 95
	progressReport        = 100
)

type ProcessorConfig struct {
	// HeartbeatInterval drives "still analyzing" events while per-file
	// work is slow. Zero disables heartbeats.
	HeartbeatInterval time.Duration
}

// ProcessBatchUseCase drives one batch through the full pipeline:
// per-file vision/OCR, risk scoring, the remote AI pass, the narrative
// summary and the report artifact. Whatever partial state exists when a
// stage fails is persisted before the failure is surfaced.
type ProcessBatchUseCase struct {
	cfg        ProcessorConfig
	repo       ports.BatchRepository
	vision     ports.VisionEngine
	ocr        ports.OCREngine
	analyzer   *AnalyzeBatchUseCase
	summarizer *SummarizeBatchUseCase
	scorer     *scoring.Scorer
	publisher  ports.ProgressPublisher
	reporter   ports.ReportBuilder
}

func NewProcessBatchUseCase(
	cfg ProcessorConfig,
	repo ports.BatchRepository,
	vision ports.VisionEngine,
	ocr ports.OCREngine,
	analyzer *AnalyzeBatchUseCase,
	summarizer *SummarizeBatchUseCase,
	scorer *scoring.Scorer,
	publisher ports.ProgressPublisher,
	reporter ports.ReportBuilder,
) *ProcessBatchUseCase {
	return &ProcessBatchUseCase{
		cfg:        cfg,
		repo:       repo,
		vision:     vision,
		ocr:        ocr,
		analyzer:   analyzer,
		summarizer: summarizer,
		scorer:     scorer,
		publisher:  publisher,
		reporter:   reporter,
	}
}

func (uc *ProcessBatchUseCase) ProcessByID(ctx context.Context, batchID string) error {
	batch, err := uc.repo.GetByID(ctx, batchID)
	if err != nil {
		return fmt.Errorf("fetch batch by id: %w", err)
	}

	result, runErr := uc.run(ctx, batch)

	if persistErr := uc.persist(ctx, batch, result); persistErr != nil {
		if runErr != nil {
			return fmt.Errorf("%w; persist partial state: %v", runErr, persistErr)
		}
		runErr = persistErr
	}

	if runErr != nil {
		if failErr := uc.repo.UpdateStatus(ctx, batch.ID, domain.StatusFailed, runErr.Error()); failErr != nil {
			return fmt.Errorf("%w; mark failed status: %v", runErr, failErr)
		}
		uc.publisher.Publish(domain.ProgressMessage{BatchID: batch.ID, Status: string(domain.StatusFailed)})
		return runErr
	}

	artifact, err := uc.reporter.Build(ctx, batch, result)
	if err != nil {
		if failErr := uc.repo.UpdateStatus(ctx, batch.ID, domain.StatusFailed, err.Error()); failErr != nil {
			return fmt.Errorf("build report: %w; mark failed status: %v", err, failErr)
		}
		uc.publisher.Publish(domain.ProgressMessage{BatchID: batch.ID, Status: string(domain.StatusFailed)})
		return fmt.Errorf("build report: %w", err)
	}
	if err := uc.repo.SetReportArtifact(ctx, batch.ID, artifact); err != nil {
		return fmt.Errorf("save report artifact: %w", err)
	}

	if err := uc.repo.UpdateStatus(ctx, batch.ID, domain.StatusCompleted, ""); err != nil {
		return fmt.Errorf("set status=completed: %w", err)
	}
	uc.publisher.Publish(domain.ProgressMessage{BatchID: batch.ID, Status: string(domain.StatusCompleted)})
	return nil
}

// run executes the pipeline stages in order and returns the consolidated
// result. On failure the partial result is still returned so the caller can
// persist whatever was produced before the abort.
func (uc *ProcessBatchUseCase) run(ctx context.Context, batch *domain.Batch) (*domain.PipelineResult, error) {
	result := &domain.PipelineResult{BatchID: batch.ID}

	emit := func(code, label string, kind domain.EventKind, progress int, details map[string]any) {
		p := progress
		event := domain.ProgressEvent{
			ID:        uuid.NewString(),
			BatchID:   batch.ID,
			Code:      code,
			Label:     label,
			Kind:      kind,
			Progress:  &p,
			Details:   details,
			Timestamp: time.Now().UTC(),
		}
		result.Events = append(result.Events, event)
		uc.publisher.Publish(domain.ProgressMessage{BatchID: batch.ID, Stage: &event})
	}

	fail := func(stage string, err error) (*domain.PipelineResult, error) {
		wrapped := domain.WrapError(domain.ErrPipeline, stage, err)
		emit(domain.StagePipelineFailed, "Échec du traitement", domain.EventError, progressReport, map[string]any{
			"stage": stage,
			"error": err.Error(),
		})
		return result, wrapped
	}

	emit(domain.StageUploadReceived, fmt.Sprintf("Lot reçu (%d fichiers)", len(batch.Files)), domain.EventInfo,
		progressReceived, map[string]any{"files": len(batch.Files)})

	hasMetadata := false
	for _, file := range batch.Files {
		if len(file.Metadata) > 0 {
			hasMetadata = true
			break
		}
	}
	emit(domain.StageMetadataExtracted, "Métadonnées extraites", domain.EventInfo,
		progressMetadata, map[string]any{"has_metadata": hasMetadata})

	uc.analyzeFiles(ctx, batch, result, emit)

	if len(result.LocalObservations) > 0 {
		score := uc.scorer.Score(batch.ID, result.LocalObservations)
		result.Risk = &score
		emit(domain.StageScoringComplete, "Score de risque calculé", domain.EventSuccess, progressScored, map[string]any{
			"total_score":      score.TotalScore,
			"normalized_score": score.NormalizedScore,
		})
	} else {
		slog.Info("no local observations, skipping risk scoring", "batch_id", batch.ID)
	}

	images := imageFiles(batch.Files)
	emit(domain.StageAIStart, "Analyse avancée en cours", domain.EventInfo, progressAIStart, map[string]any{
		"images": len(images),
	})
	ai, err := uc.analyzer.Analyze(ctx, batch.ID, images)
	if err != nil {
		result.AI = &ai
		return fail("advanced analysis", err)
	}
	result.AI = &ai
	result.Observations = append(append([]domain.Observation{}, result.LocalObservations...), ai.Observations...)
	emit(domain.StageAIComplete, "Analyse avancée terminée", domain.EventSuccess, progressAIDone, map[string]any{
		"status":       string(ai.Status),
		"observations": len(ai.Observations),
		"warnings":     len(ai.Warnings),
		"prompt_hash":  ai.PromptHash,
		"duration_ms":  ai.DurationMS,
	})

	summary, err := uc.summarizer.Generate(ctx, SummaryRequest{
		BatchID:            batch.ID,
		Risk:               result.Risk,
		LocalObservations:  result.LocalObservations,
		RemoteObservations: ai.Observations,
		OCRTexts:           result.OCRTexts,
	})
	if err != nil {
		result.Summary = &summary
		return fail("summary generation", err)
	}
	result.Summary = &summary
	emit(domain.StageSummaryComplete, "Synthèse générée", domain.EventSuccess, progressSummary, map[string]any{
		"status": string(summary.Status),
	})

	emit(domain.StageReportReady, "Rapport prêt", domain.EventSuccess, progressReport, nil)
	return result, nil
}

type emitFunc func(code, label string, kind domain.EventKind, progress int, details map[string]any)

// analyzeFiles runs the per-file vision and OCR passes in input order,
// interpolating progress inside the analysis window and emitting a
// time-based heartbeat while work is slow.
func (uc *ProcessBatchUseCase) analyzeFiles(ctx context.Context, batch *domain.Batch, result *domain.PipelineResult, emit emitFunc) {
	total := len(batch.Files)
	emit(domain.StageAnalysisStart, "Analyse des fichiers", domain.EventInfo, progressAnalysisStart, map[string]any{
		"files": total,
	})

	stopHeartbeat := uc.startHeartbeat(batch.ID)
	defer stopHeartbeat()

	for i, file := range batch.Files {
		progress := fileProgress(i+1, total)

		if file.IsImage() {
			observations := uc.vision.Detect(ctx, file)
			for j := range observations {
				observations[j].ClampConfidence()
			}
			result.LocalObservations = append(result.LocalObservations, observations...)
			emit(domain.StageVisionFile, fmt.Sprintf("Analyse visuelle %d/%d", i+1, total), domain.EventInfo, progress, map[string]any{
				"file":         file.Filename,
				"observations": len(observations),
				"zone":         file.Zone(),
			})
		}

		ocr := uc.ocr.Extract(ctx, file)
		result.OCRTexts = append(result.OCRTexts, ocr)
		emit(domain.StageOCRFile, fmt.Sprintf("Extraction de texte %d/%d", i+1, total), domain.EventInfo, progress, map[string]any{
			"file":     file.Filename,
			"chars":    len(ocr.Text),
			"warnings": len(ocr.Warnings),
		})
	}

	emit(domain.StageAnalysisComplete, "Analyse des fichiers terminée", domain.EventSuccess, progressAnalysisEnd, map[string]any{
		"observations": len(result.LocalObservations),
		"ocr_results":  len(result.OCRTexts),
	})
}

// startHeartbeat publishes periodic "still analyzing" messages. Heartbeats
// go straight to subscribers and are not appended to the persisted event
// log, keeping it deterministic.
func (uc *ProcessBatchUseCase) startHeartbeat(batchID string) func() {
	if uc.cfg.HeartbeatInterval <= 0 {
		return func() {}
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(uc.cfg.HeartbeatInterval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				p := progressAnalysisStart
				event := domain.ProgressEvent{
					ID:        uuid.NewString(),
					BatchID:   batchID,
					Code:      domain.StageAnalysisHeartbeat,
					Label:     "Analyse en cours",
					Kind:      domain.EventInfo,
					Progress:  &p,
					Timestamp: time.Now().UTC(),
				}
				uc.publisher.Publish(domain.ProgressMessage{BatchID: batchID, Stage: &event})
			}
		}
	}()
	return func() { close(done) }
}

func fileProgress(position, total int) int {
	if total <= 0 {
		return progressAnalysisEnd
	}
	span := progressAnalysisEnd - progressAnalysisStart
	return progressAnalysisStart + position*span/total
}

func imageFiles(files []domain.FileDescriptor) []domain.FileDescriptor {
	var images []domain.FileDescriptor
	for _, file := range files {
		if file.IsImage() {
			images = append(images, file)
		}
	}
	return images
}

// persist flushes everything a run produced, including partial state from a
// failed run, before the batch status changes.
func (uc *ProcessBatchUseCase) persist(ctx context.Context, batch *domain.Batch, result *domain.PipelineResult) error {
	if result == nil {
		return nil
	}

	if len(result.Events) > 0 {
		if err := uc.repo.AppendEvents(ctx, batch.ID, result.Events); err != nil {
			return fmt.Errorf("append events: %w", err)
		}
	}

	bySource := map[domain.ObservationSource][]domain.Observation{}
	for _, obs := range result.LocalObservations {
		bySource[obs.Source] = append(bySource[obs.Source], obs)
	}
	for _, source := range []domain.ObservationSource{domain.SourceLocal, domain.SourceQuality} {
		if err := uc.repo.ReplaceObservations(ctx, batch.ID, source, bySource[source]); err != nil {
			return fmt.Errorf("replace %s observations: %w", source, err)
		}
	}
	if result.AI != nil {
		if err := uc.repo.ReplaceObservations(ctx, batch.ID, domain.SourceGemini, result.AI.Observations); err != nil {
			return fmt.Errorf("replace remote observations: %w", err)
		}
	}

	if len(result.OCRTexts) > 0 {
		if err := uc.repo.ReplaceOCRTexts(ctx, batch.ID, result.OCRTexts); err != nil {
			return fmt.Errorf("replace ocr texts: %w", err)
		}
	}
	if result.Risk != nil {
		if err := uc.repo.SaveRiskScore(ctx, *result.Risk); err != nil {
			return fmt.Errorf("save risk score: %w", err)
		}
	}
	if result.AI != nil {
		if err := uc.repo.AppendAIAnalysis(ctx, *result.AI); err != nil {
			return fmt.Errorf("append ai analysis: %w", err)
		}
	}
	if result.Summary != nil {
		if err := uc.repo.SaveSummary(ctx, *result.Summary); err != nil {
			return fmt.Errorf("save summary: %w", err)
		}
	}
	return nil
}
