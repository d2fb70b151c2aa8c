package postgres

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/audexhq/audex/internal/core/domain"
)

func newRepoWithMock(t *testing.T) (*BatchRepository, sqlmock.Sqlmock, func()) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	return &BatchRepository{db: db}, mock, func() { _ = db.Close() }
}

func TestCreateBatchInsertsBatchAndFiles(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	now := time.Now().UTC()
	batch := &domain.Batch{
		ID:     "b1",
		Status: domain.StatusProcessing,
		Files: []domain.FileDescriptor{
			{
				Filename:       "site.jpg",
				ContentType:    "image/jpeg",
				SizeBytes:      42,
				ChecksumSHA256: "abc",
				StoragePath:    "batches/b1/site.jpg",
				Metadata:       map[string]any{"zone": "parking"},
			},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO audit_batches").
		WithArgs("b1", "processing", "", "", "", now, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO batch_files").
		WithArgs("b1", 0, "site.jpg", "image/jpeg", int64(42), "abc", "batches/b1/site.jpg", []byte(`{"zone":"parking"}`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.CreateBatch(context.Background(), batch); err != nil {
		t.Fatalf("CreateBatch() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetByIDReturnsDomainNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT id, status, report_path").
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetByID(context.Background(), "missing")
	if !domain.IsKind(err, domain.ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestUpdateStatusReturnsDomainNotFoundWhenNoRowsAffected(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectExec("UPDATE audit_batches").
		WithArgs("missing", string(domain.StatusFailed), "boom", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.UpdateStatus(context.Background(), "missing", domain.StatusFailed, "boom")
	if !domain.IsKind(err, domain.ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReplaceObservationsDeletesThenInserts(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM observations").
		WithArgs("b1", "gemini").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec("INSERT INTO observations").
		WithArgs("b1", "gemini", "site.jpg", "security_missing_fire_equipment", 0.75, "high", nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := repo.ReplaceObservations(context.Background(), "b1", domain.SourceGemini, []domain.Observation{
		{
			SourceFile: "site.jpg",
			Label:      "security_missing_fire_equipment",
			Confidence: 0.75,
			Severity:   domain.SeverityHigh,
			Source:     domain.SourceGemini,
			Attrs:      map[string]any{"category": "incendie"},
		},
	})
	if err != nil {
		t.Fatalf("ReplaceObservations() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestReplaceObservationsEmptySetOnlyDeletes(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM observations").
		WithArgs("b1", "local").
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectCommit()

	if err := repo.ReplaceObservations(context.Background(), "b1", domain.SourceLocal, nil); err != nil {
		t.Fatalf("ReplaceObservations() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestSaveRiskScoreUpserts(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	now := time.Now().UTC()
	mock.ExpectExec("INSERT INTO risk_scores").
		WithArgs("b1", 12.8, 0.128, sqlmock.AnyArg(), now).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.SaveRiskScore(context.Background(), domain.RiskScore{
		BatchID:         "b1",
		TotalScore:      12.8,
		NormalizedScore: 0.128,
		Breakdown: []domain.RiskBreakdown{
			{Label: "incendie", Severity: domain.SeverityHigh, Count: 1, Score: 7.0},
		},
		CreatedAt: now,
	})
	if err != nil {
		t.Fatalf("SaveRiskScore() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetLatestAIAnalysisScans(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"batch_id", "status", "provider", "model", "prompt_version", "prompt_hash",
		"observations", "summary", "warnings", "duration_ms", "created_at",
	}).AddRow("b1", "ok", "google-gemini", "gemini-2.0-flash", "schema-1.4-bfa", "hash",
		[]byte(`[{"source_file":"site.jpg","label":"security_fence_breach"}]`), "digest",
		[]byte(`["gemini-error:x.jpg:boom"]`), int64(1200), now)

	mock.ExpectQuery("SELECT batch_id, status, provider").
		WithArgs("b1").
		WillReturnRows(rows)

	result, err := repo.GetLatestAIAnalysis(context.Background(), "b1")
	if err != nil {
		t.Fatalf("GetLatestAIAnalysis() error = %v", err)
	}
	if result.Status != domain.AIStatusOK || result.Provider != "google-gemini" {
		t.Fatalf("unexpected result: %+v", result)
	}
	if len(result.Observations) != 1 || result.Observations[0].Label != "security_fence_breach" {
		t.Fatalf("unexpected observations: %v", result.Observations)
	}
	if len(result.Warnings) != 1 {
		t.Fatalf("unexpected warnings: %v", result.Warnings)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestAppendEventsInsertsAll(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	now := time.Now().UTC()
	p := 5
	events := []domain.ProgressEvent{
		{ID: "e1", BatchID: "b1", Code: domain.StageUploadReceived, Label: "Lot reçu", Kind: domain.EventInfo, Progress: &p, Timestamp: now},
		{ID: "e2", BatchID: "b1", Code: domain.StagePipelineFailed, Label: "Échec", Kind: domain.EventError, Timestamp: now},
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO processing_events").
		WithArgs("e1", "b1", domain.StageUploadReceived, "Lot reçu", "info", &p, nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO processing_events").
		WithArgs("e2", "b1", domain.StagePipelineFailed, "Échec", "error", nil, nil, now).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	if err := repo.AppendEvents(context.Background(), "b1", events); err != nil {
		t.Fatalf("AppendEvents() error = %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}

func TestGetSummaryNotFound(t *testing.T) {
	repo, mock, done := newRepoWithMock(t)
	defer done()

	mock.ExpectQuery("SELECT batch_id, status, text").
		WithArgs("b1").
		WillReturnError(sql.ErrNoRows)

	_, err := repo.GetSummary(context.Background(), "b1")
	if !domain.IsKind(err, domain.ErrBatchNotFound) {
		t.Fatalf("expected ErrBatchNotFound, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("expectations: %v", err)
	}
}
