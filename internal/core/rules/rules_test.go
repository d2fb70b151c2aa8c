package rules

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/audexhq/audex/internal/core/domain"
)

func TestMapKnownClassKeepsDefaultSeverity(t *testing.T) {
	rs := Default()

	m, ok := rs.Map("fire hydrant", 0.6, "")
	if !ok {
		t.Fatalf("expected mapping for fire hydrant")
	}
	if m.Category != CategoryIncendie || m.Severity != domain.SeverityHigh {
		t.Fatalf("unexpected mapping: %+v", m)
	}
}

func TestMapUnknownClassProducesNothing(t *testing.T) {
	rs := Default()

	if _, ok := rs.Map("traffic light", 0.9, ""); ok {
		t.Fatalf("expected no mapping for unknown class")
	}
}

func TestMapHighConfidenceEscalates(t *testing.T) {
	rs := Default()

	cases := []struct {
		class string
		want  domain.Severity
	}{
		{"bottle", domain.SeverityMedium}, // low -> medium
		{"knife", domain.SeverityHigh},    // medium -> high
	}
	for _, tc := range cases {
		m, ok := rs.Map(tc.class, 0.9, "")
		if !ok {
			t.Fatalf("expected mapping for %s", tc.class)
		}
		if m.Severity != tc.want {
			t.Fatalf("class %s: expected severity %s, got %s", tc.class, tc.want, m.Severity)
		}
	}
}

func TestMapLowConfidenceCollapsesToNegligible(t *testing.T) {
	rs := Default()

	m, ok := rs.Map("knife", 0.35, "")
	if !ok {
		t.Fatalf("expected mapping")
	}
	if m.Severity != domain.SeverityNegligible {
		t.Fatalf("expected negligible severity, got %s", m.Severity)
	}
}

func TestMapWhitelistSuppressesInDeclaredZone(t *testing.T) {
	rs := Default()

	if _, ok := rs.Map("knife", 0.95, "Kitchen"); ok {
		t.Fatalf("expected knife suppressed in kitchen")
	}
	if _, ok := rs.Map("knife", 0.95, "parking"); !ok {
		t.Fatalf("expected knife mapped outside kitchen")
	}
	if _, ok := rs.Map("car", 0.8, "parking"); ok {
		t.Fatalf("expected car suppressed in parking")
	}
}

func TestMapEmptyZoneDisablesWhitelist(t *testing.T) {
	rs := Default()

	if _, ok := rs.Map("knife", 0.6, "   "); !ok {
		t.Fatalf("expected blank zone to behave like no zone")
	}
}

func TestQualityObservationsFlagDarkAndBlurry(t *testing.T) {
	obs := QualityObservations("site.jpg", QualityMetrics{MeanBrightness: 30, LaplacianVariance: 10}, "kitchen")
	if len(obs) != 2 {
		t.Fatalf("expected 2 quality observations, got %d", len(obs))
	}
	for _, o := range obs {
		if o.Label != "cleanliness_issue" {
			t.Fatalf("unexpected label %s", o.Label)
		}
		if o.Source != domain.SourceQuality {
			t.Fatalf("unexpected source %s", o.Source)
		}
		if o.Severity != domain.SeverityMedium {
			t.Fatalf("unexpected severity %s", o.Severity)
		}
	}
	if obs[0].Attrs["issue"] != "low_light" || obs[1].Attrs["issue"] != "blur" {
		t.Fatalf("unexpected issues: %v / %v", obs[0].Attrs["issue"], obs[1].Attrs["issue"])
	}
}

func TestQualityObservationsPassGoodImage(t *testing.T) {
	obs := QualityObservations("site.jpg", QualityMetrics{MeanBrightness: 120, LaplacianVariance: 90}, "")
	if len(obs) != 0 {
		t.Fatalf("expected no quality observations, got %d", len(obs))
	}
}

func TestLoadOverlayReplacesPerEntry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	overlay := `
classes:
  drone:
    category: malveillance
    severity: high
  bottle:
    category: hygiene
    severity: medium
zone_whitelist:
  warehouse: ["forklift"]
`
	if err := os.WriteFile(path, []byte(overlay), 0o600); err != nil {
		t.Fatalf("write overlay: %v", err)
	}

	rs, err := Load(path)
	if err != nil {
		t.Fatalf("load overlay: %v", err)
	}

	if m, ok := rs.Map("drone", 0.6, ""); !ok || m.Category != CategoryMalveillance {
		t.Fatalf("expected overlay class mapped, got %+v ok=%v", m, ok)
	}
	if m, _ := rs.Map("bottle", 0.6, ""); m.Severity != domain.SeverityMedium {
		t.Fatalf("expected overridden bottle severity, got %s", m.Severity)
	}
	// Built-ins outside the overlay survive.
	if _, ok := rs.Map("knife", 0.6, "kitchen"); ok {
		t.Fatalf("expected built-in kitchen whitelist intact")
	}
}

func TestLoadMissingOverlayFails(t *testing.T) {
	if _, err := Load("/nonexistent/rules.yaml"); err == nil {
		t.Fatalf("expected error for missing overlay file")
	}
}
