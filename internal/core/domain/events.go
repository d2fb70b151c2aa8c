package domain

import "time"

type EventKind string

const (
	EventInfo    EventKind = "info"
	EventSuccess EventKind = "success"
	EventError   EventKind = "error"
)

// Pipeline stage codes. The first segment groups codes into a business
// phase for timeline projection.
const (
	StageUploadReceived    = "upload:received"
	StageMetadataExtracted = "metadata:extracted"
	StageAnalysisStart     = "analysis:start"
	StageVisionFile        = "vision:file"
	StageOCRFile           = "ocr:file"
	StageAnalysisHeartbeat = "analysis:heartbeat"
	StageAnalysisComplete  = "analysis:complete"
	StageScoringComplete   = "scoring:complete"
	StageAIStart           = "ai:start"
	StageAIComplete        = "ai:complete"
	StageSummaryComplete   = "summary:complete"
	StageReportReady       = "report:ready"
	StagePipelineFailed    = "pipeline:failed"
)

// ProgressEvent is one timeline entry for a batch. Progress, when set, is a
// percentage in [0,100] that never regresses within a run. Events are
// append-only and never mutated after creation.
type ProgressEvent struct {
	ID        string         `json:"id"`
	BatchID   string         `json:"batch_id"`
	Code      string         `json:"code"`
	Label     string         `json:"label"`
	Kind      EventKind      `json:"kind"`
	Progress  *int           `json:"progress,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// ProgressMessage is the wire form pushed to live subscribers: either a
// stage event or a bare status change, never both.
type ProgressMessage struct {
	BatchID string         `json:"batchId"`
	Stage   *ProgressEvent `json:"stage,omitempty"`
	Status  string         `json:"status,omitempty"`
}
