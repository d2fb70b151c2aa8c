package domain

import "time"

// AIStatus tracks the terminal outcome of one remote analysis pass.
type AIStatus string

const (
	AIStatusOK         AIStatus = "ok"
	AIStatusNoInsights AIStatus = "no_insights"
	AIStatusSkipped    AIStatus = "skipped"
	AIStatusDisabled   AIStatus = "disabled"
	AIStatusFailed     AIStatus = "failed"
)

// AIAnalysisResult records one deep-analysis pass over the batch images.
// PromptHash is the SHA-256 of the last prompt built during the pass, kept
// for audit traceability.
type AIAnalysisResult struct {
	BatchID       string        `json:"batch_id"`
	Status        AIStatus      `json:"status"`
	Provider      string        `json:"provider,omitempty"`
	Model         string        `json:"model,omitempty"`
	PromptVersion string        `json:"prompt_version,omitempty"`
	PromptHash    string        `json:"prompt_hash,omitempty"`
	Observations  []Observation `json:"observations,omitempty"`
	Summary       string        `json:"summary,omitempty"`
	Warnings      []string      `json:"warnings,omitempty"`
	DurationMS    int64         `json:"duration_ms,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
}

type SummaryStatus string

const (
	SummaryStatusOK        SummaryStatus = "ok"
	SummaryStatusNoContent SummaryStatus = "no_content"
	SummaryStatusFallback  SummaryStatus = "fallback"
	SummaryStatusDisabled  SummaryStatus = "disabled"
	SummaryStatusSkipped   SummaryStatus = "skipped"
	SummaryStatusFailed    SummaryStatus = "failed"
)

// SummaryResult is the operator-facing narrative for a batch. Text is
// sanitized: internal tooling vocabulary never appears in it.
type SummaryResult struct {
	BatchID         string        `json:"batch_id"`
	Status          SummaryStatus `json:"status"`
	Text            string        `json:"text"`
	Findings        []string      `json:"findings,omitempty"`
	Recommendations []string      `json:"recommendations,omitempty"`
	Warnings        []string      `json:"warnings,omitempty"`
	Source          string        `json:"source,omitempty"`
	Model           string        `json:"model,omitempty"`
	PromptHash      string        `json:"prompt_hash,omitempty"`
	ResponseHash    string        `json:"response_hash,omitempty"`
	DurationMS      int64         `json:"duration_ms,omitempty"`
	CreatedAt       time.Time     `json:"created_at"`
}
