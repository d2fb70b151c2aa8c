package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/audexhq/audex/internal/core/domain"
	"github.com/audexhq/audex/internal/core/ports"
)

const (
	summaryCharLimit   = 3000
	summaryListLimit   = 4
	summaryWarnLimit   = 3
	summaryObsLimit    = 5
	summarySnippetMax  = 160
	summarySnippetRows = 5
)

// severityTranslations renders severities in the operator's language.
var severityTranslations = map[domain.Severity]string{
	domain.SeverityLow:      "faible",
	domain.SeverityMedium:   "modérée",
	domain.SeverityHigh:     "élevée",
	domain.SeverityCritical: "critique",
}

// vocabularyReplacements strips internal tooling names from any text that
// reaches the operator.
var vocabularyReplacements = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`(?i)yolo`), "analyse visuelle"},
	{regexp.MustCompile(`(?i)gemini`), "analyse distante"},
	{regexp.MustCompile(`(?i)pipeline`), "flux d'analyse"},
	{regexp.MustCompile(`(?i)batch`), "lot"},
}

var whitespacePattern = regexp.MustCompile(`\s+`)

// SummarizerConfig gates the narrative summary pass.
type SummarizerConfig struct {
	Enabled          bool
	Required         bool
	APIKeyConfigured bool
	Model            string
	FallbackEnabled  bool
	FallbackModel    string
}

// SummaryRequest carries everything the narrative needs.
type SummaryRequest struct {
	BatchID            string
	Risk               *domain.RiskScore
	LocalObservations  []domain.Observation
	RemoteObservations []domain.Observation
	OCRTexts           []domain.OCRResult
}

// SummarizeBatchUseCase composes the operator-facing narrative through one
// remote model call, with an optional local fallback.
type SummarizeBatchUseCase struct {
	cfg   SummarizerConfig
	model ports.TextModel
}

func NewSummarizeBatchUseCase(cfg SummarizerConfig, model ports.TextModel) *SummarizeBatchUseCase {
	return &SummarizeBatchUseCase{cfg: cfg, model: model}
}

func (uc *SummarizeBatchUseCase) Generate(ctx context.Context, req SummaryRequest) (domain.SummaryResult, error) {
	result := domain.SummaryResult{
		BatchID:   req.BatchID,
		Model:     uc.cfg.Model,
		CreatedAt: time.Now().UTC(),
	}

	if !uc.cfg.Enabled {
		result.Status = domain.SummaryStatusDisabled
		result.Source = "none"
		return result, nil
	}
	if !uc.cfg.APIKeyConfigured {
		result.Warnings = append(result.Warnings, "summary-missing-api-key")
		result.Source = aiProvider
		if uc.cfg.Required {
			result.Status = domain.SummaryStatusFailed
		} else {
			result.Status = domain.SummaryStatusSkipped
		}
		return result, nil
	}

	prompt := buildSummaryPrompt(req)
	result.PromptHash = hashSHA256(prompt)

	start := time.Now()
	raw, err := uc.model.Generate(ctx, prompt)
	if err != nil {
		slog.Warn("summary generation failed", "batch_id", req.BatchID, "error", err)
		if uc.cfg.Required && !uc.cfg.FallbackEnabled {
			result.Status = domain.SummaryStatusFailed
			result.Source = aiProvider
			result.Warnings = append(result.Warnings, fmt.Sprintf("summary-error:%v", err))
			return result, domain.WrapError(domain.ErrExternalCall, "generate summary", err)
		}
		if uc.cfg.FallbackEnabled {
			return uc.fallback(req, result, err), nil
		}
		result.Status = domain.SummaryStatusFailed
		result.Source = aiProvider
		result.Warnings = append(result.Warnings, fmt.Sprintf("summary-error:%v", err))
		return result, nil
	}
	result.DurationMS = time.Since(start).Milliseconds()
	result.ResponseHash = hashSHA256(raw)
	result.Source = aiProvider

	parsed := parseSummaryResponse(raw)
	result.Text = composeSummary(parsed.summary, req.Risk)
	result.Findings = sanitizeList(parsed.findings, summaryListLimit, true)
	result.Recommendations = sanitizeList(parsed.recommendations, summaryListLimit, true)
	result.Warnings = append(result.Warnings, sanitizeList(parsed.warnings, summaryWarnLimit, false)...)

	if result.Text != "" || len(result.Findings) > 0 || len(result.Recommendations) > 0 {
		result.Status = domain.SummaryStatusOK
	} else {
		result.Status = domain.SummaryStatusNoContent
	}
	return result, nil
}

func (uc *SummarizeBatchUseCase) fallback(req SummaryRequest, result domain.SummaryResult, cause error) domain.SummaryResult {
	slog.Info("using fallback summary", "batch_id", req.BatchID, "model", uc.cfg.FallbackModel, "cause", cause)

	text := "Analyse avancée indisponible. Résumé généré localement : " +
		"les observations locales doivent être traitées selon les priorités habituelles."
	if composed := composeSummary(text, req.Risk); composed != "" {
		text = composed
	}

	result.Status = domain.SummaryStatusFallback
	result.Text = text
	result.Findings = sanitizeList([]string{"Analyse avancée indisponible"}, summaryListLimit, true)
	result.Recommendations = sanitizeList([]string{"Relancer la synthèse distante quand la connexion est rétablie."}, summaryListLimit, true)
	result.Warnings = append(result.Warnings, sanitizeList([]string{fmt.Sprintf("summary-fallback:%v", cause)}, summaryWarnLimit, false)...)
	result.Source = uc.cfg.FallbackModel
	result.ResponseHash = hashSHA256(text)
	return result
}

func translateSeverity(severity domain.Severity) string {
	if severity == "" {
		return "non précisée"
	}
	if translated, ok := severityTranslations[domain.Severity(strings.ToLower(string(severity)))]; ok {
		return translated
	}
	return string(severity)
}

func buildSummaryPrompt(req SummaryRequest) string {
	riskSection := "Aucun score de risque enregistré."
	if req.Risk != nil {
		lines := []string{
			fmt.Sprintf("- Score global : %.1f / 100", req.Risk.TotalScore),
			fmt.Sprintf("- Score normalisé : %.0f%%", req.Risk.NormalizedScore*100),
		}
		if len(req.Risk.Breakdown) > 0 {
			lines = append(lines, "- Principales catégories :")
			for i, breakdown := range req.Risk.Breakdown {
				if i >= 5 {
					break
				}
				lines = append(lines, fmt.Sprintf(
					"  * %s · gravité %s · %d cas · score %.1f",
					breakdown.Label, translateSeverity(breakdown.Severity), breakdown.Count, breakdown.Score,
				))
			}
		}
		riskSection = strings.Join(lines, "\n")
	}

	localObs := formatObservationSection(req.LocalObservations, "terrain")
	remoteObs := formatObservationSection(req.RemoteObservations, "analyse distante")

	ocrSection := "Aucun extrait OCR pertinent."
	var snippets []string
	for i, entry := range req.OCRTexts {
		if i >= summarySnippetRows {
			break
		}
		snippet := strings.ReplaceAll(strings.TrimSpace(entry.Text), "\n", " ")
		if snippet == "" {
			continue
		}
		if runes := []rune(snippet); len(runes) > summarySnippetMax {
			snippet = string(runes[:summarySnippetMax])
		}
		snippets = append(snippets, fmt.Sprintf("- %s • %s", entry.SourceFile, snippet))
	}
	if len(snippets) > 0 {
		ocrSection = "Extraits OCR :\n" + strings.Join(snippets, "\n")
	}

	return strings.TrimSpace(fmt.Sprintf(`
Tu es un consultant QHSE. Fournis une synthèse claire et actionnable en français. Interdiction de citer les moteurs
(YOLO, Gemini, pipeline).

### Contexte audit
- Identifiant lot : %s

### Score de risque
%s

### Observations terrain
%s

### Observations analyse distante
%s

### Extraits clés (OCR)
%s

### Consignes de rédaction
- Style professionnel de consultant QHSE, précis et factuel.
- Résumé structuré en 3-4 phrases (≤ 420 caractères).
- Constats clés (3-5 points) avec contexte, preuves, impact, gravité et confiance.
- Recommandations (exactement 2) : actions concrètes, responsable, délai, effort, impact.
- Ajouter des warnings si données manquantes, contradictions ou expertise nécessaire.
- Format JSON strict obligatoire : {"summary": {"context": "...", "critical_areas": "...", "priorities": "...", "major_risks": "..."}, "key_findings": [...], "recommendations": [...], "warnings": [...]}
`, req.BatchID, riskSection, localObs, remoteObs, ocrSection))
}

func formatObservationSection(observations []domain.Observation, label string) string {
	if len(observations) == 0 {
		return fmt.Sprintf("Aucune observation %s.", label)
	}
	lines := []string{fmt.Sprintf("Observations %s :", label)}
	for i, obs := range observations {
		if i >= summaryObsLimit {
			break
		}
		lines = append(lines, fmt.Sprintf(
			"- %s • %s (gravité %s, confiance %.0f%%)",
			obs.SourceFile, obs.Label, translateSeverity(obs.Severity), obs.Confidence*100,
		))
	}
	return strings.Join(lines, "\n")
}

type summaryParts struct {
	summary         string
	findings        []string
	recommendations []string
	warnings        []string
}

func parseSummaryResponse(raw string) summaryParts {
	var payload struct {
		Summary         json.RawMessage   `json:"summary"`
		KeyFindings     []json.RawMessage `json:"key_findings"`
		Recommendations []json.RawMessage `json:"recommendations"`
		Warnings        []json.RawMessage `json:"warnings"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return summaryParts{warnings: []string{fmt.Sprintf("summary-invalid-json:%v", err)}}
	}

	parts := summaryParts{
		summary:         flattenSummary(payload.Summary),
		findings:        flattenItems(payload.KeyFindings, []string{"observation"}, map[string]string{"context": "Contexte", "evidence": "Preuves", "impact": "Impact"}),
		recommendations: flattenItems(payload.Recommendations, []string{"action"}, map[string]string{"owner": "Responsable", "timeline": "Délai", "effort": "Effort", "impact": "Impact attendu"}),
		warnings:        flattenItems(payload.Warnings, []string{"description"}, map[string]string{"impact": "Impact"}),
	}
	return parts
}

func flattenSummary(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var structured map[string]any
	if err := json.Unmarshal(raw, &structured); err == nil {
		var parts []string
		for _, key := range []string{"context", "critical_areas", "priorities", "major_risks"} {
			if v, ok := structured[key]; ok && v != nil {
				if s := fmt.Sprintf("%v", v); s != "" {
					parts = append(parts, s)
				}
			}
		}
		return strings.Join(parts, " ")
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}
	return ""
}

// flattenItems renders structured list entries as single lines; plain
// strings pass through unchanged.
func flattenItems(items []json.RawMessage, leadKeys []string, labeled map[string]string) []string {
	var out []string
	for _, item := range items {
		var structured map[string]any
		if err := json.Unmarshal(item, &structured); err == nil {
			var parts []string
			for _, key := range leadKeys {
				if v, ok := structured[key]; ok && v != nil {
					parts = append(parts, fmt.Sprintf("%v", v))
				}
			}
			// Stable rendering order for the labeled fields.
			for _, key := range []string{"context", "evidence", "owner", "timeline", "effort", "impact"} {
				label, wanted := labeled[key]
				if !wanted {
					continue
				}
				if v, ok := structured[key]; ok && v != nil {
					parts = append(parts, fmt.Sprintf("%s : %v", label, v))
				}
			}
			if t, ok := structured["type"]; ok && t != nil {
				parts = append([]string{fmt.Sprintf("[%v]", t)}, parts...)
			}
			if len(parts) > 0 {
				out = append(out, strings.Join(parts, " - "))
				continue
			}
		}
		var plain string
		if err := json.Unmarshal(item, &plain); err == nil && plain != "" {
			out = append(out, plain)
		}
	}
	return out
}

func sanitizeText(text string) string {
	sanitized := strings.TrimSpace(text)
	for _, rule := range vocabularyReplacements {
		sanitized = rule.pattern.ReplaceAllString(sanitized, rule.replacement)
	}
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(sanitized, " "))
}

func sanitizeList(values []string, limit int, sentenceCase bool) []string {
	var cleaned []string
	for _, value := range values {
		sanitized := sanitizeText(value)
		if sanitized == "" {
			continue
		}
		if sentenceCase {
			sanitized = ensureSentenceCase(sanitized)
		}
		cleaned = append(cleaned, sanitized)
		if len(cleaned) >= limit {
			break
		}
	}
	return cleaned
}

func ensureSentenceCase(text string) string {
	runes := []rune(text)
	if len(runes) == 0 {
		return text
	}
	return strings.ToUpper(string(runes[0])) + string(runes[1:])
}

func riskIntro(risk *domain.RiskScore) string {
	if risk == nil {
		return ""
	}
	pct := risk.NormalizedScore
	if pct < 0 {
		pct = 0
	}
	if pct > 1 {
		pct = 1
	}
	pct *= 100
	var level string
	switch {
	case pct < 20:
		level = "faible"
	case pct < 50:
		level = "modéré"
	case pct < 75:
		level = "élevé"
	default:
		level = "critique"
	}
	return fmt.Sprintf("Site audité : risque %s (%.0f%%).", level, pct)
}

func composeSummary(summary string, risk *domain.RiskScore) string {
	sanitized := sanitizeText(summary)
	if sanitized == "" {
		return ""
	}
	merged := sanitized
	if intro := riskIntro(risk); intro != "" {
		merged = strings.TrimSpace(intro + " " + sanitized)
	}
	merged = ensureSentenceCase(merged)
	return truncateText(merged, summaryCharLimit)
}

func truncateText(text string, limit int) string {
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return strings.TrimRight(string(runes[:limit-1]), " ") + "…"
}
