package usecase

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/audexhq/audex/internal/core/domain"
)

type textModelFake struct {
	response string
	err      error
	calls    int
	prompt   string
}

func (f *textModelFake) Generate(_ context.Context, prompt string) (string, error) {
	f.calls++
	f.prompt = prompt
	if f.err != nil {
		return "", f.err
	}
	return f.response, nil
}

func summaryRiskScore() *domain.RiskScore {
	return &domain.RiskScore{
		BatchID:         "b1",
		TotalScore:      12.8,
		NormalizedScore: 0.128,
		Breakdown: []domain.RiskBreakdown{
			{Label: "incendie", Severity: domain.SeverityHigh, Count: 1, Score: 7.0},
		},
	}
}

const summaryResponse = `{
  "summary": {"context": "Audit du site effectué.", "critical_areas": "Zone de stockage exposée.", "priorities": "Sécuriser le périmètre."},
  "key_findings": [
    {"observation": "Brèche dans la clôture", "context": "Côté est", "impact": "Intrusion possible"},
    "Déchets accumulés près de l'entrée"
  ],
  "recommendations": [
    {"action": "Réparer la clôture", "owner": "Maintenance", "timeline": "1 semaine"}
  ],
  "warnings": [
    {"type": "missing_data", "description": "Zone nord non photographiée"}
  ]
}`

func TestSummarizeDisabled(t *testing.T) {
	model := &textModelFake{}
	uc := NewSummarizeBatchUseCase(SummarizerConfig{Enabled: false}, model)

	result, err := uc.Generate(context.Background(), SummaryRequest{BatchID: "b1"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Status != domain.SummaryStatusDisabled || model.calls != 0 {
		t.Fatalf("expected disabled with no calls, got %s calls=%d", result.Status, model.calls)
	}
}

func TestSummarizeMissingKey(t *testing.T) {
	uc := NewSummarizeBatchUseCase(SummarizerConfig{Enabled: true}, &textModelFake{})
	result, _ := uc.Generate(context.Background(), SummaryRequest{BatchID: "b1"})
	if result.Status != domain.SummaryStatusSkipped {
		t.Fatalf("expected skipped, got %s", result.Status)
	}

	uc = NewSummarizeBatchUseCase(SummarizerConfig{Enabled: true, Required: true}, &textModelFake{})
	result, _ = uc.Generate(context.Background(), SummaryRequest{BatchID: "b1"})
	if result.Status != domain.SummaryStatusFailed {
		t.Fatalf("expected failed when required, got %s", result.Status)
	}
}

func TestSummarizeComposesAndPrependRiskIntro(t *testing.T) {
	model := &textModelFake{response: summaryResponse}
	uc := NewSummarizeBatchUseCase(SummarizerConfig{Enabled: true, APIKeyConfigured: true, Model: "gemini-2.0-flash"}, model)

	result, err := uc.Generate(context.Background(), SummaryRequest{
		BatchID: "b1",
		Risk:    summaryRiskScore(),
		LocalObservations: []domain.Observation{
			{SourceFile: "a.jpg", Label: "incendie", Severity: domain.SeverityHigh, Confidence: 0.9},
		},
		OCRTexts: []domain.OCRResult{{SourceFile: "doc.txt", Text: "Registre de sécurité à jour"}},
	})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Status != domain.SummaryStatusOK {
		t.Fatalf("expected ok, got %s", result.Status)
	}
	if !strings.HasPrefix(result.Text, "Site audité : risque faible (13%).") {
		t.Fatalf("expected risk intro prefix, got %q", result.Text)
	}
	if len(result.Findings) != 2 {
		t.Fatalf("expected 2 findings, got %d: %v", len(result.Findings), result.Findings)
	}
	if !strings.Contains(result.Findings[0], "Contexte : Côté est") {
		t.Fatalf("expected structured finding flattened, got %q", result.Findings[0])
	}
	if len(result.Recommendations) != 1 || !strings.Contains(result.Recommendations[0], "Responsable : Maintenance") {
		t.Fatalf("unexpected recommendations: %v", result.Recommendations)
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "[missing_data]") {
		t.Fatalf("unexpected warnings: %v", result.Warnings)
	}
	if result.PromptHash == "" || result.ResponseHash == "" {
		t.Fatalf("expected prompt and response hashes")
	}
	if !strings.Contains(model.prompt, "Registre de sécurité") {
		t.Fatalf("expected OCR snippet in prompt")
	}
	if !strings.Contains(model.prompt, "Score global : 12.8") {
		t.Fatalf("expected risk section in prompt")
	}
}

func TestSummarizeSanitizesVocabulary(t *testing.T) {
	model := &textModelFake{response: `{"summary": "Le Batch analysé par Gemini via le pipeline YOLO est correct."}`}
	uc := NewSummarizeBatchUseCase(SummarizerConfig{Enabled: true, APIKeyConfigured: true}, model)

	result, err := uc.Generate(context.Background(), SummaryRequest{BatchID: "b1"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	lower := strings.ToLower(result.Text)
	for _, banned := range []string{"yolo", "gemini", "pipeline", "batch"} {
		if strings.Contains(lower, banned) {
			t.Fatalf("expected %q removed from summary, got %q", banned, result.Text)
		}
	}
	for _, neutral := range []string{"lot", "analyse distante", "flux d'analyse", "analyse visuelle"} {
		if !strings.Contains(lower, neutral) {
			t.Fatalf("expected %q in sanitized summary, got %q", neutral, result.Text)
		}
	}
}

func TestSummarizeTruncatesLongText(t *testing.T) {
	long := strings.Repeat("observation détaillée ", 300)
	model := &textModelFake{response: `{"summary": "` + long + `"}`}
	uc := NewSummarizeBatchUseCase(SummarizerConfig{Enabled: true, APIKeyConfigured: true}, model)

	result, err := uc.Generate(context.Background(), SummaryRequest{BatchID: "b1"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if runes := []rune(result.Text); len(runes) > summaryCharLimit {
		t.Fatalf("expected text under limit, got %d runes", len(runes))
	}
	if !strings.HasSuffix(result.Text, "…") {
		t.Fatalf("expected ellipsis marker, got %q", result.Text[len(result.Text)-8:])
	}
}

func TestSummarizeInvalidJSONIsNoContentWithWarning(t *testing.T) {
	model := &textModelFake{response: "not json"}
	uc := NewSummarizeBatchUseCase(SummarizerConfig{Enabled: true, APIKeyConfigured: true}, model)

	result, err := uc.Generate(context.Background(), SummaryRequest{BatchID: "b1"})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Status != domain.SummaryStatusNoContent {
		t.Fatalf("expected no_content, got %s", result.Status)
	}
	if len(result.Warnings) == 0 || !strings.Contains(result.Warnings[0], "summary-invalid-json") {
		t.Fatalf("expected invalid json warning, got %v", result.Warnings)
	}
}

func TestSummarizeFallbackOnFailure(t *testing.T) {
	model := &textModelFake{err: errors.New("remote down")}
	uc := NewSummarizeBatchUseCase(SummarizerConfig{
		Enabled:          true,
		APIKeyConfigured: true,
		FallbackEnabled:  true,
		FallbackModel:    "local-template",
	}, model)

	result, err := uc.Generate(context.Background(), SummaryRequest{BatchID: "b1", Risk: summaryRiskScore()})
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if result.Status != domain.SummaryStatusFallback {
		t.Fatalf("expected fallback, got %s", result.Status)
	}
	if result.Source != "local-template" {
		t.Fatalf("expected fallback source, got %s", result.Source)
	}
	if result.Text == "" || len(result.Warnings) == 0 {
		t.Fatalf("expected fallback text and warning, got %+v", result)
	}
}

func TestSummarizeRequiredFailureWithoutFallback(t *testing.T) {
	model := &textModelFake{err: errors.New("remote down")}
	uc := NewSummarizeBatchUseCase(SummarizerConfig{Enabled: true, APIKeyConfigured: true, Required: true}, model)

	result, err := uc.Generate(context.Background(), SummaryRequest{BatchID: "b1"})
	if err == nil {
		t.Fatalf("expected error")
	}
	if !domain.IsKind(err, domain.ErrExternalCall) {
		t.Fatalf("expected external call kind, got %v", err)
	}
	if result.Status != domain.SummaryStatusFailed {
		t.Fatalf("expected failed status, got %s", result.Status)
	}
}
