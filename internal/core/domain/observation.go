package domain

import "time"

type Severity string

const (
	SeverityNegligible Severity = "negligible"
	SeverityLow        Severity = "low"
	SeverityMedium     Severity = "medium"
	SeverityHigh       Severity = "high"
	SeverityCritical   Severity = "critical"
)

var severityRanks = map[Severity]int{
	SeverityNegligible: 0,
	SeverityLow:        1,
	SeverityMedium:     2,
	SeverityHigh:       3,
	SeverityCritical:   4,
}

// SeverityRank orders severities for dominant-severity tracking. Unknown
// severities rank lowest.
func SeverityRank(s Severity) int {
	return severityRanks[s]
}

type ObservationSource string

const (
	SourceLocal   ObservationSource = "local"
	SourceGemini  ObservationSource = "gemini"
	SourceQuality ObservationSource = "quality"
)

// Observation is a single detected anomaly tied to one file.
type Observation struct {
	SourceFile string            `json:"source_file"`
	Label      string            `json:"label"`
	Confidence float64           `json:"confidence"`
	Severity   Severity          `json:"severity"`
	BBox       *[4]int           `json:"bbox,omitempty"`
	Source     ObservationSource `json:"source"`
	Attrs      map[string]any    `json:"attrs,omitempty"`
}

// ClampConfidence enforces the [0,1] invariant on confidence values coming
// from engines or remote models.
func (o *Observation) ClampConfidence() {
	if o.Confidence < 0 {
		o.Confidence = 0
	}
	if o.Confidence > 1 {
		o.Confidence = 1
	}
}

// OCRResult is the extraction outcome for exactly one file. A file yields
// one OCRResult once OCR has been attempted, never zero and never multiple.
type OCRResult struct {
	SourceFile string   `json:"source_file"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
	Warnings   []string `json:"warnings,omitempty"`
	Error      string   `json:"error,omitempty"`
	Engine     string   `json:"engine,omitempty"`
}

type RiskBreakdown struct {
	Label    string   `json:"label"`
	Severity Severity `json:"severity"`
	Count    int      `json:"count"`
	Score    float64  `json:"score"`
}

// RiskScore is a deterministic weighted aggregation of observations. At most
// one is current per batch; recomputation replaces it.
type RiskScore struct {
	BatchID         string          `json:"batch_id"`
	TotalScore      float64         `json:"total_score"`
	NormalizedScore float64         `json:"normalized_score"`
	Breakdown       []RiskBreakdown `json:"breakdown"`
	CreatedAt       time.Time       `json:"created_at"`
}
