package ports

import (
	"context"
	"io"

	"github.com/audexhq/audex/internal/core/domain"
)

// IngestFile is one uploaded file plus the audit metadata submitted with it.
type IngestFile struct {
	Filename    string
	ContentType string
	Body        io.Reader
	Metadata    map[string]any
}

// BatchIngestor is the inbound contract for batch upload orchestration.
type BatchIngestor interface {
	Upload(ctx context.Context, files []IngestFile) (*domain.Batch, error)
}

// BatchProcessor is the inbound contract for asynchronous pipeline runs.
type BatchProcessor interface {
	ProcessByID(ctx context.Context, batchID string) error
}

// BatchAnalyzer re-runs the remote deep-analysis pass for a stored batch.
type BatchAnalyzer interface {
	ReanalyzeByID(ctx context.Context, batchID string) (*domain.AIAnalysisResult, error)
}

// BatchReader is the inbound read model for batch state and artifacts.
type BatchReader interface {
	GetByID(ctx context.Context, id string) (*domain.Batch, error)
	GetDetail(ctx context.Context, id string) (*domain.BatchDetail, error)
	ListEvents(ctx context.Context, id string) ([]domain.ProgressEvent, error)
}
