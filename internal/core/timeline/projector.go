// Package timeline folds granular pipeline stage codes into the six
// business phases shown on audit timelines.
package timeline

import (
	"sort"
	"strings"
	"time"

	"github.com/audexhq/audex/internal/core/domain"
)

type Phase string

const (
	PhaseDeposit     Phase = "deposit"
	PhasePreparation Phase = "preparation"
	PhaseAnalysis    Phase = "analysis"
	PhaseEvaluation  Phase = "evaluation"
	PhaseReport      Phase = "report"
	PhaseIncident    Phase = "incident"
)

// phaseOrder fixes the display order of projected phases.
var phaseOrder = []Phase{
	PhaseDeposit,
	PhasePreparation,
	PhaseAnalysis,
	PhaseEvaluation,
	PhaseReport,
	PhaseIncident,
}

// codePhases maps exact stage codes to phases.
var codePhases = map[string]Phase{
	domain.StageUploadReceived:    PhaseDeposit,
	domain.StageMetadataExtracted: PhasePreparation,
	domain.StageAnalysisStart:     PhaseAnalysis,
	domain.StageVisionFile:        PhaseAnalysis,
	domain.StageOCRFile:           PhaseAnalysis,
	domain.StageAnalysisHeartbeat: PhaseAnalysis,
	domain.StageAnalysisComplete:  PhaseAnalysis,
	domain.StageScoringComplete:   PhaseEvaluation,
	domain.StageAIStart:           PhaseEvaluation,
	domain.StageAIComplete:        PhaseEvaluation,
	domain.StageSummaryComplete:   PhaseReport,
	domain.StageReportReady:       PhaseReport,
	domain.StagePipelineFailed:    PhaseIncident,
}

// prefixPhases catches codes not listed above by their first segment.
var prefixPhases = map[string]Phase{
	"upload":   PhaseDeposit,
	"metadata": PhasePreparation,
	"analysis": PhaseAnalysis,
	"vision":   PhaseAnalysis,
	"ocr":      PhaseAnalysis,
	"scoring":  PhaseEvaluation,
	"ai":       PhaseEvaluation,
	"summary":  PhaseReport,
	"report":   PhaseReport,
	"pipeline": PhaseIncident,
	"incident": PhaseIncident,
}

// technicalKeys are diagnostic detail fields hidden unless the caller asks
// for them.
var technicalKeys = map[string]struct{}{
	"prompt_hash":        {},
	"response_hash":      {},
	"attempts":           {},
	"duration_ms":        {},
	"engine":             {},
	"model":              {},
	"mean_brightness":    {},
	"laplacian_variance": {},
}

// PhaseSummary is the projection of all events mapped to one phase.
type PhaseSummary struct {
	Phase     Phase            `json:"phase"`
	Label     string           `json:"label"`
	Kind      domain.EventKind `json:"kind"`
	Timestamp time.Time        `json:"timestamp"`
	Progress  *int             `json:"progress,omitempty"`
	Details   map[string]any   `json:"details,omitempty"`
}

// Projector folds progress events into business phases.
type Projector struct {
	IncludeTechnical bool
}

func phaseFor(code string) (Phase, bool) {
	if p, ok := codePhases[code]; ok {
		return p, true
	}
	prefix, _, _ := strings.Cut(code, ":")
	p, ok := prefixPhases[prefix]
	return p, ok
}

// Project maps events onto phases. Events are processed in timestamp order
// (ties broken by stage code); per phase the latest label/timestamp wins,
// progress keeps its maximum, and details merge with first-seen precedence.
// Events with unrecognized codes are dropped. Output follows the fixed
// phase display order.
func (p *Projector) Project(events []domain.ProgressEvent) []PhaseSummary {
	ordered := make([]domain.ProgressEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool {
		if ordered[i].Timestamp.Equal(ordered[j].Timestamp) {
			return ordered[i].Code < ordered[j].Code
		}
		return ordered[i].Timestamp.Before(ordered[j].Timestamp)
	})

	summaries := make(map[Phase]*PhaseSummary)
	for _, ev := range ordered {
		phase, ok := phaseFor(ev.Code)
		if !ok {
			continue
		}

		s, seen := summaries[phase]
		if !seen {
			s = &PhaseSummary{Phase: phase}
			summaries[phase] = s
		}

		s.Label = ev.Label
		s.Kind = ev.Kind
		s.Timestamp = ev.Timestamp
		if ev.Progress != nil && (s.Progress == nil || *ev.Progress > *s.Progress) {
			v := *ev.Progress
			s.Progress = &v
		}
		for key, value := range ev.Details {
			if !p.IncludeTechnical {
				if _, technical := technicalKeys[key]; technical {
					continue
				}
			}
			if s.Details == nil {
				s.Details = make(map[string]any)
			}
			if _, exists := s.Details[key]; !exists {
				s.Details[key] = value
			}
		}
	}

	out := make([]PhaseSummary, 0, len(summaries))
	for _, phase := range phaseOrder {
		if s, ok := summaries[phase]; ok {
			out = append(out, *s)
		}
	}
	return out
}
