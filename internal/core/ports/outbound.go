package ports

import (
	"context"
	"io"

	"github.com/audexhq/audex/internal/core/domain"
)

// BatchRepository persists batch state and every artifact the pipeline
// produces for it.
type BatchRepository interface {
	CreateBatch(ctx context.Context, batch *domain.Batch) error
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	UpdateStatus(ctx context.Context, id string, status domain.BatchStatus, errMessage string) error
	SaveRiskScore(ctx context.Context, score domain.RiskScore) error
	ReplaceObservations(ctx context.Context, batchID string, source domain.ObservationSource, obs []domain.Observation) error
	ReplaceOCRTexts(ctx context.Context, batchID string, texts []domain.OCRResult) error
	AppendEvents(ctx context.Context, batchID string, events []domain.ProgressEvent) error
	ListEvents(ctx context.Context, batchID string) ([]domain.ProgressEvent, error)
	AppendAIAnalysis(ctx context.Context, result domain.AIAnalysisResult) error
	GetLatestAIAnalysis(ctx context.Context, batchID string) (*domain.AIAnalysisResult, error)
	ListAIAnalyses(ctx context.Context, batchID string) ([]domain.AIAnalysisResult, error)
	SaveSummary(ctx context.Context, summary domain.SummaryResult) error
	GetSummary(ctx context.Context, batchID string) (*domain.SummaryResult, error)
	SetReportArtifact(ctx context.Context, batchID string, artifact domain.ReportArtifact) error
	ListObservations(ctx context.Context, batchID string) ([]domain.Observation, error)
	ListOCRTexts(ctx context.Context, batchID string) ([]domain.OCRResult, error)
	GetRiskScore(ctx context.Context, batchID string) (*domain.RiskScore, error)
}

// ObjectStorage stores uploaded files and generated reports.
type ObjectStorage interface {
	Save(ctx context.Context, key string, data io.Reader) (size int64, checksumSHA256 string, err error)
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Path(key string) string
}

// MessageQueue hands freshly ingested batches to the worker.
type MessageQueue interface {
	PublishBatchIngested(ctx context.Context, batchID string) error
	SubscribeBatchIngested(ctx context.Context, handler func(context.Context, string) error) error
}

// VisionEngine performs local object detection on a single file. It never
// fails the pipeline: on engine trouble it returns no observations and the
// run degrades to the remaining analysis passes.
type VisionEngine interface {
	Detect(ctx context.Context, file domain.FileDescriptor) []domain.Observation
}

// OCREngine extracts text from a single file. Extraction failures are
// reported inside the result, never as an error.
type OCREngine interface {
	Extract(ctx context.Context, file domain.FileDescriptor) domain.OCRResult
}

// VisionModel is a remote multimodal model answering a prompt about one image.
type VisionModel interface {
	AnalyzeImage(ctx context.Context, prompt, mimeType string, data []byte) (string, error)
}

// TextModel is a remote text-only model.
type TextModel interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// ProgressPublisher fans a progress message out to live subscribers. It must
// never block the pipeline.
type ProgressPublisher interface {
	Publish(msg domain.ProgressMessage)
}

// ReportBuilder renders the final batch report artifact.
type ReportBuilder interface {
	Build(ctx context.Context, batch *domain.Batch, result *domain.PipelineResult) (domain.ReportArtifact, error)
}
