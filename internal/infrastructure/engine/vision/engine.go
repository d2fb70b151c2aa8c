// Package vision is the local detection engine. It never fails a pipeline
// run: on any engine trouble the result degrades to a low-confidence
// placeholder observation.
package vision

import (
	"bytes"
	"context"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/audexhq/audex/internal/core/domain"
	"github.com/audexhq/audex/internal/core/ports"
	"github.com/audexhq/audex/internal/core/rules"
)

const (
	ModeDetector  = "detector"
	ModeHeuristic = "heuristic"
)

const (
	detectorInitTimeout  = 5 * time.Second
	minDetectConfidence  = 0.25
	brightSceneThreshold = 200.0
)

type detector interface {
	Ping(ctx context.Context) error
	Detect(ctx context.Context, image []byte, minConfidence float64) ([]Detection, error)
}

// Engine maps detector classes to audit observations through the rule table
// and always runs the image quality checks. The detector is initialized
// lazily with a sticky failure flag so an unreachable server is probed once,
// not per file.
type Engine struct {
	mode     string
	storage  ports.ObjectStorage
	rules    *rules.Ruleset
	detector detector

	initOnce sync.Once
	initErr  error
}

func NewEngine(mode string, storage ports.ObjectStorage, ruleset *rules.Ruleset, detector *DetectorClient) *Engine {
	e := &Engine{
		mode:    mode,
		storage: storage,
		rules:   ruleset,
	}
	if detector != nil {
		e.detector = detector
	}
	return e
}

func (e *Engine) Detect(ctx context.Context, file domain.FileDescriptor) []domain.Observation {
	raw, err := e.read(ctx, file)
	if err != nil {
		slog.Warn("vision engine: read file", "file", file.Filename, "error", err)
		return []domain.Observation{unavailableObservation(file)}
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		slog.Warn("vision engine: decode image", "file", file.Filename, "error", err)
		return []domain.Observation{unavailableObservation(file)}
	}

	zone := file.Zone()
	metrics := measure(img)
	observations := rules.QualityObservations(file.Filename, metrics, zone)

	if e.mode == ModeDetector && e.detectorReady(ctx) {
		detections, err := e.detector.Detect(ctx, raw, minDetectConfidence)
		if err == nil {
			return append(observations, e.mapDetections(file, detections, zone)...)
		}
		slog.Warn("vision engine: detector call failed, falling back", "file", file.Filename, "error", err)
	}

	return append(observations, heuristicObservation(file, metrics))
}

func (e *Engine) mapDetections(file domain.FileDescriptor, detections []Detection, zone string) []domain.Observation {
	var observations []domain.Observation
	for _, det := range detections {
		mapping, ok := e.rules.Map(det.Class, det.Confidence, zone)
		if !ok {
			continue
		}
		obs := domain.Observation{
			SourceFile: file.Filename,
			Label:      mapping.Category,
			Confidence: det.Confidence,
			Severity:   mapping.Severity,
			BBox:       det.Box,
			Source:     domain.SourceLocal,
			Attrs: map[string]any{
				"class": det.Class,
				"zone":  zone,
			},
		}
		obs.ClampConfidence()
		observations = append(observations, obs)
	}
	return observations
}

// detectorReady runs the one-time health probe. A failed probe is sticky:
// the engine stays in heuristic mode for its lifetime.
func (e *Engine) detectorReady(ctx context.Context) bool {
	if e.detector == nil {
		return false
	}
	e.initOnce.Do(func() {
		pingCtx, cancel := context.WithTimeout(ctx, detectorInitTimeout)
		defer cancel()
		if err := e.detector.Ping(pingCtx); err != nil {
			e.initErr = err
			slog.Warn("vision engine: detector unavailable, sticking to heuristic mode", "error", err)
		}
	})
	return e.initErr == nil
}

func (e *Engine) read(ctx context.Context, file domain.FileDescriptor) ([]byte, error) {
	reader, err := e.storage.Open(ctx, file.StoragePath)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	return io.ReadAll(reader)
}

// heuristicObservation is the deterministic fallback when no detector is
// configured or reachable: a single scene-level observation driven by
// brightness.
func heuristicObservation(file domain.FileDescriptor, metrics rules.QualityMetrics) domain.Observation {
	severity := domain.SeverityMedium
	if metrics.MeanBrightness > brightSceneThreshold {
		severity = domain.SeverityHigh
	}
	return domain.Observation{
		SourceFile: file.Filename,
		Label:      rules.CategoryGeneral,
		Confidence: math.Min(0.99, metrics.MeanBrightness/255),
		Severity:   severity,
		Source:     domain.SourceLocal,
		Attrs: map[string]any{
			"engine":          "heuristic",
			"mean_brightness": metrics.MeanBrightness,
		},
	}
}

func unavailableObservation(file domain.FileDescriptor) domain.Observation {
	return domain.Observation{
		SourceFile: file.Filename,
		Label:      rules.CategoryGeneral,
		Confidence: 0.2,
		Severity:   domain.SeverityLow,
		Source:     domain.SourceLocal,
		Attrs: map[string]any{
			"note": "vision-engine-unavailable",
		},
	}
}
