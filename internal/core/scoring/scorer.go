// Package scoring turns a set of observations into a weighted, normalized
// risk score with a per-category breakdown.
package scoring

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/audexhq/audex/internal/core/domain"
	"github.com/audexhq/audex/internal/core/rules"
)

// Config carries the scoring weights. Unknown severities and labels both
// weigh 1.0.
type Config struct {
	SeverityWeights   map[domain.Severity]float64 `yaml:"severity_weights"`
	LabelWeights      map[string]float64          `yaml:"label_weights"`
	NormalizationBase float64                     `yaml:"normalization_base"`
}

// DefaultConfig returns the standard weight tables.
func DefaultConfig() Config {
	return Config{
		SeverityWeights: map[domain.Severity]float64{
			domain.SeverityLow:      1.0,
			domain.SeverityMedium:   3.0,
			domain.SeverityHigh:     5.0,
			domain.SeverityCritical: 8.0,
		},
		LabelWeights: map[string]float64{
			rules.CategoryIncendie:     1.4,
			rules.CategoryMalveillance: 1.6,
			rules.CategoryHygiene:      1.2,
			rules.CategoryCyber:        1.5,
			rules.CategoryGeneral:      1.0,
		},
		NormalizationBase: 100.0,
	}
}

// LoadConfig returns the default weights merged with an optional YAML
// overlay. The overlay file is shared with the rule table; unrelated keys
// are ignored. Overlay entries replace built-ins per severity / per label.
func LoadConfig(overlayPath string) (Config, error) {
	cfg := DefaultConfig()
	if overlayPath == "" {
		return cfg, nil
	}
	raw, err := os.ReadFile(overlayPath)
	if err != nil {
		return Config{}, fmt.Errorf("read scoring overlay: %w", err)
	}
	var overlay Config
	if err := yaml.Unmarshal(raw, &overlay); err != nil {
		return Config{}, fmt.Errorf("parse scoring overlay: %w", err)
	}
	for severity, weight := range overlay.SeverityWeights {
		cfg.SeverityWeights[severity] = weight
	}
	for label, weight := range overlay.LabelWeights {
		cfg.LabelWeights[strings.ToLower(label)] = weight
	}
	if overlay.NormalizationBase > 0 {
		cfg.NormalizationBase = overlay.NormalizationBase
	}
	return cfg, nil
}

// Scorer computes risk scores. It is stateless and safe for concurrent use.
type Scorer struct {
	cfg Config
}

func NewScorer(cfg Config) *Scorer {
	if cfg.SeverityWeights == nil {
		cfg.SeverityWeights = DefaultConfig().SeverityWeights
	}
	if cfg.LabelWeights == nil {
		cfg.LabelWeights = DefaultConfig().LabelWeights
	}
	if cfg.NormalizationBase == 0 {
		cfg.NormalizationBase = DefaultConfig().NormalizationBase
	}
	return &Scorer{cfg: cfg}
}

type aggregate struct {
	count    int
	score    float64
	severity domain.Severity
	rank     int
}

// Score aggregates observations into a RiskScore. The result is
// order-independent up to breakdown tie ordering: breakdown entries sort
// descending by score, ties keeping encounter order.
func (s *Scorer) Score(batchID string, observations []domain.Observation) domain.RiskScore {
	aggregates := make(map[string]*aggregate)
	var order []string
	var totalRaw float64

	for _, obs := range observations {
		severity := domain.Severity(strings.ToLower(string(obs.Severity)))
		label := strings.ToLower(obs.Label)

		severityWeight, ok := s.cfg.SeverityWeights[severity]
		if !ok {
			severityWeight = 1.0
		}
		labelWeight, ok := s.cfg.LabelWeights[label]
		if !ok {
			labelWeight = 1.0
		}
		value := severityWeight * labelWeight

		agg, ok := aggregates[label]
		if !ok {
			agg = &aggregate{severity: severity, rank: domain.SeverityRank(severity)}
			aggregates[label] = agg
			order = append(order, label)
		}
		agg.count++
		agg.score += value
		if rank := domain.SeverityRank(severity); rank > agg.rank {
			agg.severity = severity
			agg.rank = rank
		}

		totalRaw += value
	}

	var normalized float64
	if s.cfg.NormalizationBase > 0 {
		normalized = math.Min(1.0, totalRaw/s.cfg.NormalizationBase)
	}

	breakdown := make([]domain.RiskBreakdown, 0, len(order))
	for _, label := range order {
		agg := aggregates[label]
		breakdown = append(breakdown, domain.RiskBreakdown{
			Label:    label,
			Severity: agg.severity,
			Count:    agg.count,
			Score:    round(agg.score, 2),
		})
	}
	sort.SliceStable(breakdown, func(i, j int) bool {
		return breakdown[i].Score > breakdown[j].Score
	})

	return domain.RiskScore{
		BatchID:         batchID,
		TotalScore:      round(totalRaw, 2),
		NormalizedScore: round(normalized, 3),
		Breakdown:       breakdown,
		CreatedAt:       time.Now().UTC(),
	}
}

func round(v float64, decimals int) float64 {
	factor := math.Pow(10, float64(decimals))
	return math.Round(v*factor) / factor
}
