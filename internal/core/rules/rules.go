// Package rules holds the pure business rules that turn raw detector output
// into audit observations: class-to-category mapping, zone whitelists,
// confidence-driven severity adjustment and image quality thresholds.
package rules

import (
	"fmt"
	"math"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/audexhq/audex/internal/core/domain"
)

// Category groups observations for risk weighting.
const (
	CategoryIncendie      = "incendie"
	CategoryHygiene       = "hygiene"
	CategoryAccessControl = "access_control"
	CategoryMalveillance  = "malveillance"
	CategoryCyber         = "cyber"
	CategoryGeneral       = "general"
)

// Confidence bands for severity adjustment.
const (
	highConfidence = 0.85
	lowConfidence  = 0.40
)

// Quality thresholds below which an image is flagged.
const (
	MinBrightness        = 55.0
	MinLaplacianVariance = 35.0
)

// ClassRule maps one detector class to an audit category with a default
// severity.
type ClassRule struct {
	Category string          `yaml:"category"`
	Severity domain.Severity `yaml:"severity"`
}

// Ruleset is the complete, immutable-after-load rule configuration.
type Ruleset struct {
	Classes       map[string]ClassRule `yaml:"classes"`
	ZoneWhitelist map[string][]string  `yaml:"zone_whitelist"`
}

// Default returns the built-in ruleset.
func Default() *Ruleset {
	return &Ruleset{
		Classes: map[string]ClassRule{
			"fire hydrant":      {CategoryIncendie, domain.SeverityHigh},
			"fire extinguisher": {CategoryIncendie, domain.SeverityHigh},

			"bottle":     {CategoryHygiene, domain.SeverityLow},
			"cup":        {CategoryHygiene, domain.SeverityLow},
			"wine glass": {CategoryHygiene, domain.SeverityMedium},
			"bowl":       {CategoryHygiene, domain.SeverityLow},
			"fork":       {CategoryHygiene, domain.SeverityLow},
			"knife":      {CategoryHygiene, domain.SeverityMedium},
			"spoon":      {CategoryHygiene, domain.SeverityLow},
			"scissors":   {CategoryHygiene, domain.SeverityLow},
			"toilet":     {CategoryHygiene, domain.SeverityMedium},

			"person":   {CategoryAccessControl, domain.SeverityLow},
			"backpack": {CategoryAccessControl, domain.SeverityLow},
			"handbag":  {CategoryAccessControl, domain.SeverityLow},
			"suitcase": {CategoryAccessControl, domain.SeverityMedium},

			"car":        {CategoryAccessControl, domain.SeverityNegligible},
			"truck":      {CategoryAccessControl, domain.SeverityLow},
			"motorcycle": {CategoryAccessControl, domain.SeverityNegligible},
			"bicycle":    {CategoryAccessControl, domain.SeverityNegligible},
		},
		ZoneWhitelist: map[string][]string{
			"kitchen":   {"knife", "fork", "spoon", "scissors", "bottle", "cup", "bowl"},
			"cafeteria": {"cup", "bottle", "fork", "spoon", "bowl"},
			"parking":   {"car", "truck", "motorcycle", "bicycle"},
			"bathroom":  {"toilet", "bottle"},
			"reception": {"person", "backpack", "suitcase", "handbag"},
			"office":    {"person", "cup", "bottle", "backpack", "handbag"},
		},
	}
}

// Load returns the default ruleset merged with an optional YAML overlay
// file. Overlay entries replace built-ins per class / per zone; they never
// clear unrelated entries.
func Load(overlayPath string) (*Ruleset, error) {
	rs := Default()
	if overlayPath == "" {
		return rs, nil
	}
	raw, err := os.ReadFile(overlayPath)
	if err != nil {
		return nil, fmt.Errorf("read rules overlay: %w", err)
	}
	var overlay Ruleset
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return nil, fmt.Errorf("parse rules overlay: %w", err)
	}
	for class, rule := range overlay.Classes {
		rs.Classes[strings.ToLower(class)] = rule
	}
	for zone, allowed := range overlay.ZoneWhitelist {
		rs.ZoneWhitelist[strings.ToLower(zone)] = allowed
	}
	return rs, nil
}

// Mapping is the outcome of classifying one detection.
type Mapping struct {
	Category string
	Severity domain.Severity
}

func normalizeZone(zone string) string {
	return strings.ToLower(strings.TrimSpace(zone))
}

// Map classifies one detector class in context. It returns (mapping, true)
// when an observation should be emitted, and (zero, false) when the class is
// unknown or whitelisted for the declared zone.
//
// High-confidence detections (>= 0.85) escalate low to medium and medium to
// high; detections at or below 0.40 collapse to negligible regardless of the
// default.
func (rs *Ruleset) Map(className string, confidence float64, zone string) (Mapping, bool) {
	key := strings.ToLower(className)

	if z := normalizeZone(zone); z != "" {
		for _, allowed := range rs.ZoneWhitelist[z] {
			if key == allowed {
				return Mapping{}, false
			}
		}
	}

	rule, ok := rs.Classes[key]
	if !ok {
		return Mapping{}, false
	}

	severity := rule.Severity
	switch {
	case confidence >= highConfidence && severity == domain.SeverityLow:
		severity = domain.SeverityMedium
	case confidence >= highConfidence && severity == domain.SeverityMedium:
		severity = domain.SeverityHigh
	case confidence <= lowConfidence:
		severity = domain.SeverityNegligible
	}

	return Mapping{Category: rule.Category, Severity: severity}, true
}

// QualityMetrics are the measured image quality signals for one file.
type QualityMetrics struct {
	MeanBrightness    float64
	LaplacianVariance float64
}

// QualityObservations flags files whose brightness or sharpness falls below
// the fixed thresholds. It runs independently of class mapping: whitelisting
// never suppresses a quality finding.
func QualityObservations(sourceFile string, m QualityMetrics, zone string) []domain.Observation {
	var obs []domain.Observation
	z := normalizeZone(zone)

	if m.MeanBrightness < MinBrightness {
		obs = append(obs, qualityObservation(sourceFile, "low_light", map[string]any{
			"mean_brightness": round2(m.MeanBrightness),
			"zone":            z,
		}))
	}
	if m.LaplacianVariance < MinLaplacianVariance {
		obs = append(obs, qualityObservation(sourceFile, "blur", map[string]any{
			"laplacian_variance": round2(m.LaplacianVariance),
			"zone":               z,
		}))
	}
	return obs
}

func qualityObservation(sourceFile, issue string, attrs map[string]any) domain.Observation {
	attrs["issue"] = issue
	return domain.Observation{
		SourceFile: sourceFile,
		Label:      "cleanliness_issue",
		Confidence: 0.4,
		Severity:   domain.SeverityMedium,
		Source:     domain.SourceQuality,
		Attrs:      attrs,
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
