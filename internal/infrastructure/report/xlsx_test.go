package report

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/audexhq/audex/internal/core/domain"
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
	sum := sha256.Sum256(raw)
	return int64(len(raw)), hex.EncodeToString(sum[:]), nil
}

func (s *storageStub) Open(_ context.Context, key string) (io.ReadCloser, error) {
	raw, ok := s.files[key]
	if !ok {
		return nil, errors.New("missing: " + key)
	}
	return io.NopCloser(bytes.NewReader(raw)), nil
}

func (s *storageStub) Path(key string) string { return key }

func sampleResult() (*domain.Batch, *domain.PipelineResult) {
	now := time.Now().UTC()
	p := 100
	batch := &domain.Batch{
		ID:        "b1",
		Status:    domain.StatusProcessing,
		Files:     []domain.FileDescriptor{{Filename: "site.jpg", ContentType: "image/jpeg"}},
		CreatedAt: now,
	}
	result := &domain.PipelineResult{
		BatchID: "b1",
		Observations: []domain.Observation{
			{SourceFile: "site.jpg", Label: "incendie", Confidence: 0.9, Severity: domain.SeverityHigh, Source: domain.SourceLocal},
		},
		OCRTexts: []domain.OCRResult{
			{SourceFile: "site.jpg", Text: "[ocr-unavailable] image 640x480", Engine: "placeholder", Warnings: []string{"ocr-model-unavailable"}},
		},
		Risk: &domain.RiskScore{
			BatchID:         "b1",
			TotalScore:      12.8,
			NormalizedScore: 0.128,
			Breakdown: []domain.RiskBreakdown{
				{Label: "incendie", Severity: domain.SeverityHigh, Count: 1, Score: 7.0},
			},
		},
		AI:      &domain.AIAnalysisResult{BatchID: "b1", Status: domain.AIStatusOK},
		Summary: &domain.SummaryResult{BatchID: "b1", Status: domain.SummaryStatusOK, Text: "Site audité : risque faible (13%)."},
		Events: []domain.ProgressEvent{
			{ID: "e1", BatchID: "b1", Code: domain.StageUploadReceived, Label: "Lot reçu", Kind: domain.EventInfo, Timestamp: now},
			{ID: "e2", BatchID: "b1", Code: domain.StageReportReady, Label: "Rapport prêt", Kind: domain.EventSuccess, Progress: &p, Timestamp: now.Add(time.Second)},
		},
	}
	return batch, result
}

func TestBuildWritesContentAddressedWorkbook(t *testing.T) {
	storage := &storageStub{}
	builder := NewBuilder(storage)
	batch, result := sampleResult()

	artifact, err := builder.Build(context.Background(), batch, result)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if artifact.Path != "reports/b1.xlsx" {
		t.Fatalf("unexpected path %s", artifact.Path)
	}
	raw, ok := storage.files[artifact.Path]
	if !ok {
		t.Fatalf("expected workbook stored under %s", artifact.Path)
	}
	sum := sha256.Sum256(raw)
	if artifact.ChecksumSHA256 != hex.EncodeToString(sum[:]) {
		t.Fatalf("checksum mismatch")
	}

	workbook, err := excelize.OpenReader(bytes.NewReader(raw))
	if err != nil {
		t.Fatalf("reopen workbook: %v", err)
	}
	defer workbook.Close()

	sheets := workbook.GetSheetList()
	expected := []string{sheetOverview, sheetObservations, sheetRisk, sheetTimeline, sheetOCR}
	if len(sheets) != len(expected) {
		t.Fatalf("expected %d sheets, got %v", len(expected), sheets)
	}
	for i, name := range expected {
		if sheets[i] != name {
			t.Fatalf("sheet %d: expected %s, got %s", i, name, sheets[i])
		}
	}

	rows, err := workbook.GetRows(sheetObservations)
	if err != nil {
		t.Fatalf("read observations: %v", err)
	}
	if len(rows) != 2 || rows[1][1] != "incendie" {
		t.Fatalf("unexpected observation rows: %v", rows)
	}

	timelineRows, err := workbook.GetRows(sheetTimeline)
	if err != nil {
		t.Fatalf("read timeline: %v", err)
	}
	// deposit and report phases from the two events, plus the header.
	if len(timelineRows) != 3 {
		t.Fatalf("unexpected timeline rows: %v", timelineRows)
	}
	if timelineRows[1][0] != "deposit" || timelineRows[2][0] != "report" {
		t.Fatalf("unexpected phase order: %v", timelineRows)
	}
}

func TestBuildWithoutOptionalArtifacts(t *testing.T) {
	storage := &storageStub{}
	builder := NewBuilder(storage)
	batch, _ := sampleResult()
	result := &domain.PipelineResult{BatchID: batch.ID}

	artifact, err := builder.Build(context.Background(), batch, result)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if artifact.ChecksumSHA256 == "" {
		t.Fatalf("expected checksum for empty report")
	}
}
