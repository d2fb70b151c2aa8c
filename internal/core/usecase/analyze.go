package usecase

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/audexhq/audex/internal/core/domain"
	"github.com/audexhq/audex/internal/core/ports"
	"github.com/audexhq/audex/internal/core/rules"
)

const (
	aiProvider      = "google-gemini"
	aiPromptVersion = "schema-1.4-bfa"
)

// AnalyzerConfig gates and identifies the remote deep-analysis pass.
type AnalyzerConfig struct {
	Enabled          bool
	Required         bool
	APIKeyConfigured bool
	Model            string
}

// AnalyzeBatchUseCase runs the remote vision model over a batch's images and
// converts its verdicts into observations. Per-image failures are tolerated
// unless the pass is marked required.
type AnalyzeBatchUseCase struct {
	cfg     AnalyzerConfig
	model   ports.VisionModel
	storage ports.ObjectStorage
}

func NewAnalyzeBatchUseCase(cfg AnalyzerConfig, model ports.VisionModel, storage ports.ObjectStorage) *AnalyzeBatchUseCase {
	return &AnalyzeBatchUseCase{cfg: cfg, model: model, storage: storage}
}

func (uc *AnalyzeBatchUseCase) Analyze(ctx context.Context, batchID string, images []domain.FileDescriptor) (domain.AIAnalysisResult, error) {
	result := domain.AIAnalysisResult{
		BatchID:       batchID,
		Provider:      aiProvider,
		Model:         uc.cfg.Model,
		PromptVersion: aiPromptVersion,
		CreatedAt:     time.Now().UTC(),
	}

	if !uc.cfg.Enabled {
		slog.Info("advanced analysis disabled", "batch_id", batchID)
		result.Status = domain.AIStatusDisabled
		return result, nil
	}
	if !uc.cfg.APIKeyConfigured {
		result.Warnings = append(result.Warnings, "gemini-missing-api-key")
		if uc.cfg.Required {
			result.Status = domain.AIStatusFailed
		} else {
			result.Status = domain.AIStatusSkipped
		}
		slog.Warn("gemini api key missing", "batch_id", batchID, "status", result.Status)
		return result, nil
	}

	start := time.Now()

	for _, file := range images {
		prompt := buildAnalysisPrompt(file.Zone(), file.SiteType())
		result.PromptHash = hashSHA256(prompt)

		raw, err := uc.callModel(ctx, file, prompt)
		if err != nil {
			warning := fmt.Sprintf("gemini-error:%s:%v", file.Filename, err)
			slog.Warn("gemini call failed", "batch_id", batchID, "file", file.Filename, "error", err)
			if uc.cfg.Required {
				result.Status = domain.AIStatusFailed
				result.Warnings = append(result.Warnings, warning)
				result.DurationMS = time.Since(start).Milliseconds()
				return result, domain.WrapError(domain.ErrExternalCall, "gemini analyze", err)
			}
			result.Warnings = append(result.Warnings, warning)
			continue
		}

		var parsed geminiVerdict
		if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
			warning := fmt.Sprintf("gemini-response-invalid:%s:%v", file.Filename, err)
			slog.Warn("gemini response unparseable", "batch_id", batchID, "file", file.Filename, "error", err)
			if uc.cfg.Required {
				result.Status = domain.AIStatusFailed
				result.Warnings = append(result.Warnings, warning)
				result.DurationMS = time.Since(start).Milliseconds()
				return result, domain.WrapError(domain.ErrResponseParse, "gemini analyze", err)
			}
			result.Warnings = append(result.Warnings, warning)
			continue
		}

		result.Observations = append(result.Observations, verdictToObservations(parsed, file.Filename, file.Zone())...)
	}

	result.DurationMS = time.Since(start).Milliseconds()
	result.Summary = buildAISummary(result.Observations, result.Warnings)
	if len(result.Observations) > 0 || result.Summary != "" {
		result.Status = domain.AIStatusOK
	} else {
		result.Status = domain.AIStatusNoInsights
	}
	slog.Info("advanced analysis finished",
		"batch_id", batchID,
		"status", result.Status,
		"observations", len(result.Observations),
		"warnings", len(result.Warnings),
		"duration_ms", result.DurationMS,
	)
	return result, nil
}

func (uc *AnalyzeBatchUseCase) callModel(ctx context.Context, file domain.FileDescriptor, prompt string) (string, error) {
	reader, err := uc.storage.Open(ctx, file.StoragePath)
	if err != nil {
		return "", fmt.Errorf("open stored file: %w", err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return "", fmt.Errorf("read stored file: %w", err)
	}
	return uc.model.AnalyzeImage(ctx, prompt, file.ContentType, data)
}

func hashSHA256(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// geminiVerdict is the expected schema-1.4 response shape.
type geminiVerdict struct {
	SchemaVersion      string                `json:"schema_version"`
	SecurityLevel      string                `json:"security_level"`
	PerimeterScore     *float64              `json:"perimeter_score"`
	AccessControlScore *float64              `json:"access_control_score"`
	FireSafetyScore    *float64              `json:"fire_safety_score"`
	StructuralScore    *float64              `json:"structural_score"`
	HygieneScore       *float64              `json:"hygiene_score"`
	Vulnerabilities    []geminiVulnerability `json:"vulnerabilities"`
	ImmediateRisks     []string              `json:"immediate_risks"`
}

type geminiVulnerability struct {
	Category       string `json:"category"`
	Type           string `json:"type"`
	Description    string `json:"description"`
	Severity       string `json:"severity"`
	Location       string `json:"location"`
	Recommendation string `json:"recommendation"`
}

// verdictCategories translates response categories to audit categories;
// anything unknown lands in malveillance.
var verdictCategories = map[string]string{
	"perimeter":  rules.CategoryAccessControl,
	"access":     rules.CategoryAccessControl,
	"fire":       rules.CategoryIncendie,
	"structural": rules.CategoryMalveillance,
	"signage":    rules.CategoryHygiene,
	"personnel":  rules.CategoryAccessControl,
}

func verdictToObservations(verdict geminiVerdict, sourceFile, zone string) []domain.Observation {
	var observations []domain.Observation

	for _, vuln := range verdict.Vulnerabilities {
		category, ok := verdictCategories[vuln.Category]
		if !ok {
			category = rules.CategoryMalveillance
		}
		vulnType := vuln.Type
		if vulnType == "" {
			vulnType = "unknown"
		}
		severity := domain.Severity(strings.ToLower(vuln.Severity))
		if severity == "" {
			severity = domain.SeverityMedium
		}
		obs := domain.Observation{
			SourceFile: sourceFile,
			Label:      "security_" + vulnType,
			Confidence: 0.75,
			Severity:   severity,
			Source:     domain.SourceGemini,
			Attrs: map[string]any{
				"category":       category,
				"description":    vuln.Description,
				"location":       vuln.Location,
				"recommendation": vuln.Recommendation,
				"zone":           zone,
			},
		}
		obs.ClampConfidence()
		observations = append(observations, obs)
	}

	if verdict.SecurityLevel == "low" || verdict.SecurityLevel == "critical" {
		severity := domain.SeverityHigh
		if verdict.SecurityLevel == "critical" {
			severity = domain.SeverityCritical
		}
		observations = append(observations, domain.Observation{
			SourceFile: sourceFile,
			Label:      "security_level_alert",
			Confidence: 0.8,
			Severity:   severity,
			Source:     domain.SourceGemini,
			Attrs: map[string]any{
				"category":             rules.CategoryMalveillance,
				"security_level":       verdict.SecurityLevel,
				"perimeter_score":      verdict.PerimeterScore,
				"access_control_score": verdict.AccessControlScore,
				"fire_safety_score":    verdict.FireSafetyScore,
				"structural_score":     verdict.StructuralScore,
				"immediate_risks":      verdict.ImmediateRisks,
				"zone":                 zone,
			},
		})
	}

	return observations
}

// buildAISummary condenses the pass outcome into a compact JSON digest, or
// returns "" when there is nothing to report.
func buildAISummary(observations []domain.Observation, warnings []string) string {
	if len(observations) == 0 && len(warnings) == 0 {
		return ""
	}
	type entry struct {
		Label    string `json:"label"`
		Severity string `json:"severity"`
		Source   string `json:"source"`
	}
	payload := struct {
		Observations []entry  `json:"observations"`
		Warnings     []string `json:"warnings"`
	}{Observations: []entry{}, Warnings: warnings}
	if payload.Warnings == nil {
		payload.Warnings = []string{}
	}
	for _, obs := range observations {
		payload.Observations = append(payload.Observations, entry{
			Label:    obs.Label,
			Severity: string(obs.Severity),
			Source:   string(obs.Source),
		})
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return ""
	}
	return string(raw)
}
