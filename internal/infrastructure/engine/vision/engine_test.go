package vision

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/audexhq/audex/internal/core/domain"
	"github.com/audexhq/audex/internal/core/rules"
)

type storageStub struct {
	files map[string][]byte
}

func (s *storageStub) Save(_ context.Context, key string, data io.Reader) (int64, string, error) {
	raw, err := io.ReadAll(data)
	if err != nil {
		return 0, "", err
	}
	if s.files == nil {
		s.files = map[string][]byte{}
	}
	s.files[key] = raw
	return int64(len(raw)), "stub", nil
}

func (s *storageStub) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := s.files[key]
	if !ok {
		return nil, errors.New("missing: " + key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (s *storageStub) Path(key string) string { return key }

func uniformPNG(t *testing.T, level uint8, size int) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetGray(x, y, color.Gray{Y: level})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func imageDescriptor(path, zone string) domain.FileDescriptor {
	meta := map[string]any{}
	if zone != "" {
		meta[domain.MetaZone] = zone
	}
	return domain.FileDescriptor{
		Filename:    path,
		ContentType: "image/png",
		StoragePath: path,
		Metadata:    meta,
	}
}

func TestHeuristicModeEmitsQualityAndSceneObservations(t *testing.T) {
	storage := &storageStub{files: map[string][]byte{
		"dark.png": uniformPNG(t, 20, 10),
	}}
	engine := NewEngine(ModeHeuristic, storage, rules.Default(), nil)

	obs := engine.Detect(context.Background(), imageDescriptor("dark.png", ""))

	issues := map[string]bool{}
	var scene *domain.Observation
	for i, o := range obs {
		switch o.Source {
		case domain.SourceQuality:
			issue, _ := o.Attrs["issue"].(string)
			issues[issue] = true
		case domain.SourceLocal:
			scene = &obs[i]
		}
	}
	if !issues["low_light"] || !issues["blur"] {
		t.Fatalf("expected low_light and blur findings, got %v", obs)
	}
	if scene == nil || scene.Label != rules.CategoryGeneral || scene.Severity != domain.SeverityMedium {
		t.Fatalf("unexpected scene observation: %+v", scene)
	}
}

func TestHeuristicBrightSceneIsHighSeverity(t *testing.T) {
	storage := &storageStub{files: map[string][]byte{
		"bright.png": uniformPNG(t, 250, 10),
	}}
	engine := NewEngine(ModeHeuristic, storage, rules.Default(), nil)

	obs := engine.Detect(context.Background(), imageDescriptor("bright.png", ""))
	for _, o := range obs {
		if o.Source != domain.SourceLocal {
			continue
		}
		if o.Severity != domain.SeverityHigh {
			t.Fatalf("expected high severity for bright scene, got %+v", o)
		}
		if o.Confidence < 0.9 || o.Confidence > 0.99 {
			t.Fatalf("unexpected confidence %f", o.Confidence)
		}
		return
	}
	t.Fatalf("expected scene observation, got %v", obs)
}

func TestDetectorModeMapsClassesThroughRules(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/healthz" {
			w.WriteHeader(http.StatusOK)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"detections": []map[string]any{
				{"class": "fire hydrant", "confidence": 0.9},
				{"class": "car", "confidence": 0.9},
				{"class": "unknown thing", "confidence": 0.9},
			},
		})
	}))
	defer server.Close()

	storage := &storageStub{files: map[string][]byte{
		"site.png": uniformPNG(t, 120, 10),
	}}
	engine := NewEngine(ModeDetector, storage, rules.Default(),
		NewDetectorClient(server.URL, time.Second))

	obs := engine.Detect(context.Background(), imageDescriptor("site.png", "parking"))

	var local []domain.Observation
	for _, o := range obs {
		if o.Source == domain.SourceLocal {
			local = append(local, o)
		}
	}
	// car is whitelisted for parking, unknown thing is unmapped.
	if len(local) != 1 {
		t.Fatalf("expected one mapped observation, got %v", local)
	}
	if local[0].Label != rules.CategoryIncendie || local[0].Severity != domain.SeverityHigh {
		t.Fatalf("unexpected mapping: %+v", local[0])
	}
	if local[0].Attrs["class"] != "fire hydrant" {
		t.Fatalf("expected raw class carried, got %v", local[0].Attrs)
	}
}

type countingDetector struct {
	pings   int
	pingErr error
}

func (d *countingDetector) Ping(context.Context) error { d.pings++; return d.pingErr }

func (d *countingDetector) Detect(context.Context, []byte, float64) ([]Detection, error) {
	return nil, errors.New("unreachable")
}

func TestDetectorInitFailureIsSticky(t *testing.T) {
	storage := &storageStub{files: map[string][]byte{
		"a.png": uniformPNG(t, 120, 10),
		"b.png": uniformPNG(t, 120, 10),
	}}
	det := &countingDetector{pingErr: errors.New("connection refused")}
	engine := NewEngine(ModeDetector, storage, rules.Default(), nil)
	engine.detector = det

	first := engine.Detect(context.Background(), imageDescriptor("a.png", ""))
	second := engine.Detect(context.Background(), imageDescriptor("b.png", ""))
	if det.pings != 1 {
		t.Fatalf("expected a single sticky probe, got %d", det.pings)
	}
	for _, obs := range [][]domain.Observation{first, second} {
		found := false
		for _, o := range obs {
			if o.Source == domain.SourceLocal && o.Attrs["engine"] == "heuristic" {
				found = true
			}
		}
		if !found {
			t.Fatalf("expected heuristic fallback, got %v", obs)
		}
	}
}

func TestUnreadableImageDegrades(t *testing.T) {
	storage := &storageStub{files: map[string][]byte{
		"broken.png": []byte("not an image"),
	}}
	engine := NewEngine(ModeHeuristic, storage, rules.Default(), nil)

	obs := engine.Detect(context.Background(), imageDescriptor("broken.png", ""))
	if len(obs) != 1 {
		t.Fatalf("expected single placeholder observation, got %v", obs)
	}
	if obs[0].Attrs["note"] != "vision-engine-unavailable" || obs[0].Confidence != 0.2 {
		t.Fatalf("unexpected placeholder: %+v", obs[0])
	}
}
