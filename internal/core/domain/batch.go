package domain

import (
	"strings"
	"time"
)

type BatchStatus string

const (
	StatusProcessing BatchStatus = "processing"
	StatusCompleted  BatchStatus = "completed"
	StatusFailed     BatchStatus = "failed"
)

// Metadata keys carried by FileDescriptor.Metadata.
const (
	MetaZone     = "zone"
	MetaSiteType = "site_type"
	MetaWidth    = "width"
	MetaHeight   = "height"
)

type FileDescriptor struct {
	Filename       string         `json:"filename"`
	ContentType    string         `json:"content_type"`
	SizeBytes      int64          `json:"size_bytes"`
	ChecksumSHA256 string         `json:"checksum_sha256"`
	StoragePath    string         `json:"storage_path"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

func (f FileDescriptor) IsImage() bool {
	return strings.HasPrefix(strings.ToLower(f.ContentType), "image/")
}

func (f FileDescriptor) Zone() string {
	return f.metaString(MetaZone)
}

func (f FileDescriptor) SiteType() string {
	return f.metaString(MetaSiteType)
}

func (f FileDescriptor) metaString(key string) string {
	if f.Metadata == nil {
		return ""
	}
	v, _ := f.Metadata[key].(string)
	return strings.TrimSpace(v)
}

// Batch is one user-submitted set of files processed together. The
// orchestrator owns it in memory for the duration of a run; the repository
// persists it before, during and after.
type Batch struct {
	ID         string           `json:"id"`
	Status     BatchStatus      `json:"status"`
	Files      []FileDescriptor `json:"files"`
	ReportPath string           `json:"report_path,omitempty"`
	ReportHash string           `json:"report_hash,omitempty"`
	LastError  string           `json:"last_error,omitempty"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// PipelineResult is the consolidated output of one pipeline run.
type PipelineResult struct {
	BatchID           string            `json:"batch_id"`
	LocalObservations []Observation     `json:"local_observations"`
	Observations      []Observation     `json:"observations"` // local + remote union
	OCRTexts          []OCRResult       `json:"ocr_texts"`
	Risk              *RiskScore        `json:"risk,omitempty"`
	AI                *AIAnalysisResult `json:"ai,omitempty"`
	Summary           *SummaryResult    `json:"summary,omitempty"`
	Events            []ProgressEvent   `json:"events"`
}

// BatchDetail is the full read model for one batch: state plus every
// persisted artifact.
type BatchDetail struct {
	Batch        Batch              `json:"batch"`
	Risk         *RiskScore         `json:"risk,omitempty"`
	Observations []Observation      `json:"observations"`
	OCRTexts     []OCRResult        `json:"ocr_texts"`
	AI           *AIAnalysisResult  `json:"ai,omitempty"`
	AIHistory    []AIAnalysisResult `json:"ai_history,omitempty"`
	Summary      *SummaryResult     `json:"summary,omitempty"`
	Events       []ProgressEvent    `json:"events"`
}

// ReportArtifact is a content-addressed report file.
type ReportArtifact struct {
	Path           string `json:"path"`
	ChecksumSHA256 string `json:"checksum_sha256"`
}
