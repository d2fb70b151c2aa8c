package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/audexhq/audex/internal/core/domain"
)

// BatchRepository persists batches and every pipeline artifact in Postgres.
// Observations carry replace-by-source semantics so an AI re-run swaps only
// its own rows; AI analyses and progress events are append-only.
type BatchRepository struct {
	db *sql.DB
}

func NewBatchRepository(db *sql.DB) *BatchRepository {
	return &BatchRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *BatchRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026082801)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS audit_batches (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	report_path TEXT,
	report_hash TEXT,
	error_message TEXT,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_files (
	batch_id TEXT NOT NULL REFERENCES audit_batches(id) ON DELETE CASCADE,
	position INT NOT NULL,
	filename TEXT NOT NULL,
	content_type TEXT NOT NULL,
	size_bytes BIGINT NOT NULL,
	checksum_sha256 TEXT NOT NULL,
	storage_path TEXT NOT NULL,
	metadata JSONB,
	PRIMARY KEY (batch_id, position)
);

CREATE TABLE IF NOT EXISTS observations (
	id BIGSERIAL PRIMARY KEY,
	batch_id TEXT NOT NULL REFERENCES audit_batches(id) ON DELETE CASCADE,
	source TEXT NOT NULL,
	source_file TEXT NOT NULL,
	label TEXT NOT NULL,
	confidence DOUBLE PRECISION NOT NULL,
	severity TEXT NOT NULL,
	bbox JSONB,
	attrs JSONB
);

CREATE INDEX IF NOT EXISTS idx_observations_batch_source ON observations(batch_id, source);

CREATE TABLE IF NOT EXISTS ocr_texts (
	id BIGSERIAL PRIMARY KEY,
	batch_id TEXT NOT NULL REFERENCES audit_batches(id) ON DELETE CASCADE,
	source_file TEXT NOT NULL,
	text TEXT NOT NULL,
	confidence DOUBLE PRECISION,
	warnings JSONB NOT NULL DEFAULT '[]'::jsonb,
	error_message TEXT,
	engine TEXT
);

CREATE INDEX IF NOT EXISTS idx_ocr_texts_batch ON ocr_texts(batch_id);

CREATE TABLE IF NOT EXISTS risk_scores (
	batch_id TEXT PRIMARY KEY REFERENCES audit_batches(id) ON DELETE CASCADE,
	total_score DOUBLE PRECISION NOT NULL,
	normalized_score DOUBLE PRECISION NOT NULL,
	breakdown JSONB NOT NULL DEFAULT '[]'::jsonb,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS ai_analyses (
	id BIGSERIAL PRIMARY KEY,
	batch_id TEXT NOT NULL REFERENCES audit_batches(id) ON DELETE CASCADE,
	status TEXT NOT NULL,
	provider TEXT,
	model TEXT,
	prompt_version TEXT,
	prompt_hash TEXT,
	observations JSONB NOT NULL DEFAULT '[]'::jsonb,
	summary TEXT,
	warnings JSONB NOT NULL DEFAULT '[]'::jsonb,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_ai_analyses_batch ON ai_analyses(batch_id, created_at DESC);

CREATE TABLE IF NOT EXISTS batch_summaries (
	batch_id TEXT PRIMARY KEY REFERENCES audit_batches(id) ON DELETE CASCADE,
	status TEXT NOT NULL,
	text TEXT NOT NULL,
	findings JSONB NOT NULL DEFAULT '[]'::jsonb,
	recommendations JSONB NOT NULL DEFAULT '[]'::jsonb,
	warnings JSONB NOT NULL DEFAULT '[]'::jsonb,
	source TEXT,
	model TEXT,
	prompt_hash TEXT,
	response_hash TEXT,
	duration_ms BIGINT NOT NULL DEFAULT 0,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS processing_events (
	id TEXT PRIMARY KEY,
	batch_id TEXT NOT NULL REFERENCES audit_batches(id) ON DELETE CASCADE,
	code TEXT NOT NULL,
	label TEXT NOT NULL,
	kind TEXT NOT NULL,
	progress INT,
	details JSONB,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_processing_events_batch ON processing_events(batch_id, created_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

func (r *BatchRepository) CreateBatch(ctx context.Context, batch *domain.Batch) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create batch tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	_, err = tx.ExecContext(ctx, `
INSERT INTO audit_batches (id, status, report_path, report_hash, error_message, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`,
		batch.ID, string(batch.Status), batch.ReportPath, batch.ReportHash, batch.LastError,
		batch.CreatedAt, batch.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}

	for i, file := range batch.Files {
		metadata, err := marshalNullable(file.Metadata)
		if err != nil {
			return fmt.Errorf("marshal file metadata: %w", err)
		}
		_, err = tx.ExecContext(ctx, `
INSERT INTO batch_files (batch_id, position, filename, content_type, size_bytes, checksum_sha256, storage_path, metadata)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`,
			batch.ID, i, file.Filename, file.ContentType, file.SizeBytes,
			file.ChecksumSHA256, file.StoragePath, metadata,
		)
		if err != nil {
			return fmt.Errorf("insert batch file: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create batch tx: %w", err)
	}
	return nil
}

func (r *BatchRepository) GetByID(ctx context.Context, id string) (*domain.Batch, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT id, status, report_path, report_hash, error_message, created_at, updated_at
FROM audit_batches
WHERE id = $1
`, id)

	var batch domain.Batch
	var status string
	var reportPath, reportHash, errMessage sql.NullString

	err := row.Scan(&batch.ID, &status, &reportPath, &reportHash, &errMessage, &batch.CreatedAt, &batch.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrBatchNotFound, "get batch", fmt.Errorf("id %s", id))
		}
		return nil, fmt.Errorf("scan batch: %w", err)
	}
	batch.Status = domain.BatchStatus(status)
	batch.ReportPath = reportPath.String
	batch.ReportHash = reportHash.String
	batch.LastError = errMessage.String

	rows, err := r.db.QueryContext(ctx, `
SELECT filename, content_type, size_bytes, checksum_sha256, storage_path, metadata
FROM batch_files
WHERE batch_id = $1
ORDER BY position
`, id)
	if err != nil {
		return nil, fmt.Errorf("query batch files: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var file domain.FileDescriptor
		var metadata []byte
		if err := rows.Scan(&file.Filename, &file.ContentType, &file.SizeBytes,
			&file.ChecksumSHA256, &file.StoragePath, &metadata); err != nil {
			return nil, fmt.Errorf("scan batch file: %w", err)
		}
		if len(metadata) > 0 {
			if err := json.Unmarshal(metadata, &file.Metadata); err != nil {
				return nil, fmt.Errorf("unmarshal file metadata: %w", err)
			}
		}
		batch.Files = append(batch.Files, file)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate batch files: %w", err)
	}
	return &batch, nil
}

func (r *BatchRepository) UpdateStatus(ctx context.Context, id string, status domain.BatchStatus, errMessage string) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE audit_batches
SET status = $2, error_message = $3, updated_at = $4
WHERE id = $1
`, id, string(status), errMessage, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("update batch status: %w", err)
	}
	return requireRow(result, "update batch status", id)
}

func (r *BatchRepository) SetReportArtifact(ctx context.Context, batchID string, artifact domain.ReportArtifact) error {
	result, err := r.db.ExecContext(ctx, `
UPDATE audit_batches
SET report_path = $2, report_hash = $3, updated_at = $4
WHERE id = $1
`, batchID, artifact.Path, artifact.ChecksumSHA256, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("set report artifact: %w", err)
	}
	return requireRow(result, "set report artifact", batchID)
}

func (r *BatchRepository) SaveRiskScore(ctx context.Context, score domain.RiskScore) error {
	breakdown, err := json.Marshal(score.Breakdown)
	if err != nil {
		return fmt.Errorf("marshal risk breakdown: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO risk_scores (batch_id, total_score, normalized_score, breakdown, created_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (batch_id) DO UPDATE
SET total_score = EXCLUDED.total_score,
	normalized_score = EXCLUDED.normalized_score,
	breakdown = EXCLUDED.breakdown,
	created_at = EXCLUDED.created_at
`, score.BatchID, score.TotalScore, score.NormalizedScore, breakdown, score.CreatedAt)
	if err != nil {
		return fmt.Errorf("save risk score: %w", err)
	}
	return nil
}

func (r *BatchRepository) GetRiskScore(ctx context.Context, batchID string) (*domain.RiskScore, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT batch_id, total_score, normalized_score, breakdown, created_at
FROM risk_scores
WHERE batch_id = $1
`, batchID)

	var score domain.RiskScore
	var breakdown []byte
	err := row.Scan(&score.BatchID, &score.TotalScore, &score.NormalizedScore, &breakdown, &score.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrBatchNotFound, "get risk score", fmt.Errorf("batch %s", batchID))
		}
		return nil, fmt.Errorf("scan risk score: %w", err)
	}
	if err := json.Unmarshal(breakdown, &score.Breakdown); err != nil {
		return nil, fmt.Errorf("unmarshal risk breakdown: %w", err)
	}
	return &score, nil
}

func (r *BatchRepository) ReplaceObservations(ctx context.Context, batchID string, source domain.ObservationSource, obs []domain.Observation) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace observations tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `
DELETE FROM observations WHERE batch_id = $1 AND source = $2
`, batchID, string(source)); err != nil {
		return fmt.Errorf("delete observations: %w", err)
	}

	for _, o := range obs {
		bbox, err := marshalNullable(o.BBox)
		if err != nil {
			return fmt.Errorf("marshal bbox: %w", err)
		}
		attrs, err := marshalNullable(o.Attrs)
		if err != nil {
			return fmt.Errorf("marshal attrs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO observations (batch_id, source, source_file, label, confidence, severity, bbox, attrs)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, batchID, string(source), o.SourceFile, o.Label, o.Confidence, string(o.Severity), bbox, attrs); err != nil {
			return fmt.Errorf("insert observation: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace observations tx: %w", err)
	}
	return nil
}

func (r *BatchRepository) ListObservations(ctx context.Context, batchID string) ([]domain.Observation, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT source, source_file, label, confidence, severity, bbox, attrs
FROM observations
WHERE batch_id = $1
ORDER BY id
`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query observations: %w", err)
	}
	defer rows.Close()

	var observations []domain.Observation
	for rows.Next() {
		var o domain.Observation
		var source, severity string
		var bbox, attrs []byte
		if err := rows.Scan(&source, &o.SourceFile, &o.Label, &o.Confidence, &severity, &bbox, &attrs); err != nil {
			return nil, fmt.Errorf("scan observation: %w", err)
		}
		o.Source = domain.ObservationSource(source)
		o.Severity = domain.Severity(severity)
		if len(bbox) > 0 {
			if err := json.Unmarshal(bbox, &o.BBox); err != nil {
				return nil, fmt.Errorf("unmarshal bbox: %w", err)
			}
		}
		if len(attrs) > 0 {
			if err := json.Unmarshal(attrs, &o.Attrs); err != nil {
				return nil, fmt.Errorf("unmarshal attrs: %w", err)
			}
		}
		observations = append(observations, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate observations: %w", err)
	}
	return observations, nil
}

func (r *BatchRepository) ReplaceOCRTexts(ctx context.Context, batchID string, texts []domain.OCRResult) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin replace ocr tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, `DELETE FROM ocr_texts WHERE batch_id = $1`, batchID); err != nil {
		return fmt.Errorf("delete ocr texts: %w", err)
	}

	for _, text := range texts {
		warnings, err := json.Marshal(emptyIfNil(text.Warnings))
		if err != nil {
			return fmt.Errorf("marshal ocr warnings: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO ocr_texts (batch_id, source_file, text, confidence, warnings, error_message, engine)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, batchID, text.SourceFile, text.Text, text.Confidence, warnings, text.Error, text.Engine); err != nil {
			return fmt.Errorf("insert ocr text: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace ocr tx: %w", err)
	}
	return nil
}

func (r *BatchRepository) ListOCRTexts(ctx context.Context, batchID string) ([]domain.OCRResult, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT source_file, text, confidence, warnings, error_message, engine
FROM ocr_texts
WHERE batch_id = $1
ORDER BY id
`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query ocr texts: %w", err)
	}
	defer rows.Close()

	var texts []domain.OCRResult
	for rows.Next() {
		var text domain.OCRResult
		var warnings []byte
		var errMessage, engine sql.NullString
		if err := rows.Scan(&text.SourceFile, &text.Text, &text.Confidence, &warnings, &errMessage, &engine); err != nil {
			return nil, fmt.Errorf("scan ocr text: %w", err)
		}
		if len(warnings) > 0 {
			if err := json.Unmarshal(warnings, &text.Warnings); err != nil {
				return nil, fmt.Errorf("unmarshal ocr warnings: %w", err)
			}
		}
		text.Error = errMessage.String
		text.Engine = engine.String
		texts = append(texts, text)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ocr texts: %w", err)
	}
	return texts, nil
}

func (r *BatchRepository) AppendEvents(ctx context.Context, batchID string, events []domain.ProgressEvent) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append events tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, event := range events {
		details, err := marshalNullable(event.Details)
		if err != nil {
			return fmt.Errorf("marshal event details: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
INSERT INTO processing_events (id, batch_id, code, label, kind, progress, details, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
`, event.ID, batchID, event.Code, event.Label, string(event.Kind), event.Progress, details, event.Timestamp); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append events tx: %w", err)
	}
	return nil
}

func (r *BatchRepository) ListEvents(ctx context.Context, batchID string) ([]domain.ProgressEvent, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, batch_id, code, label, kind, progress, details, created_at
FROM processing_events
WHERE batch_id = $1
ORDER BY created_at, id
`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []domain.ProgressEvent
	for rows.Next() {
		var event domain.ProgressEvent
		var kind string
		var details []byte
		if err := rows.Scan(&event.ID, &event.BatchID, &event.Code, &event.Label, &kind,
			&event.Progress, &details, &event.Timestamp); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		event.Kind = domain.EventKind(kind)
		if len(details) > 0 {
			if err := json.Unmarshal(details, &event.Details); err != nil {
				return nil, fmt.Errorf("unmarshal event details: %w", err)
			}
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func (r *BatchRepository) AppendAIAnalysis(ctx context.Context, result domain.AIAnalysisResult) error {
	observations, err := json.Marshal(emptyIfNil(result.Observations))
	if err != nil {
		return fmt.Errorf("marshal ai observations: %w", err)
	}
	warnings, err := json.Marshal(emptyIfNil(result.Warnings))
	if err != nil {
		return fmt.Errorf("marshal ai warnings: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO ai_analyses (batch_id, status, provider, model, prompt_version, prompt_hash, observations, summary, warnings, duration_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`, result.BatchID, string(result.Status), result.Provider, result.Model, result.PromptVersion,
		result.PromptHash, observations, result.Summary, warnings, result.DurationMS, result.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert ai analysis: %w", err)
	}
	return nil
}

func (r *BatchRepository) GetLatestAIAnalysis(ctx context.Context, batchID string) (*domain.AIAnalysisResult, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT batch_id, status, provider, model, prompt_version, prompt_hash, observations, summary, warnings, duration_ms, created_at
FROM ai_analyses
WHERE batch_id = $1
ORDER BY created_at DESC, id DESC
LIMIT 1
`, batchID)

	var result domain.AIAnalysisResult
	var status string
	var observations, warnings []byte
	err := row.Scan(&result.BatchID, &status, &result.Provider, &result.Model, &result.PromptVersion,
		&result.PromptHash, &observations, &result.Summary, &warnings, &result.DurationMS, &result.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrBatchNotFound, "get latest ai analysis", fmt.Errorf("batch %s", batchID))
		}
		return nil, fmt.Errorf("scan ai analysis: %w", err)
	}
	result.Status = domain.AIStatus(status)
	if err := json.Unmarshal(observations, &result.Observations); err != nil {
		return nil, fmt.Errorf("unmarshal ai observations: %w", err)
	}
	if err := json.Unmarshal(warnings, &result.Warnings); err != nil {
		return nil, fmt.Errorf("unmarshal ai warnings: %w", err)
	}
	return &result, nil
}

func (r *BatchRepository) ListAIAnalyses(ctx context.Context, batchID string) ([]domain.AIAnalysisResult, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT batch_id, status, provider, model, prompt_version, prompt_hash, observations, summary, warnings, duration_ms, created_at
FROM ai_analyses
WHERE batch_id = $1
ORDER BY created_at, id
`, batchID)
	if err != nil {
		return nil, fmt.Errorf("query ai analyses: %w", err)
	}
	defer rows.Close()

	var results []domain.AIAnalysisResult
	for rows.Next() {
		var result domain.AIAnalysisResult
		var status string
		var observations, warnings []byte
		if err := rows.Scan(&result.BatchID, &status, &result.Provider, &result.Model, &result.PromptVersion,
			&result.PromptHash, &observations, &result.Summary, &warnings, &result.DurationMS, &result.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ai analysis: %w", err)
		}
		result.Status = domain.AIStatus(status)
		if err := json.Unmarshal(observations, &result.Observations); err != nil {
			return nil, fmt.Errorf("unmarshal ai observations: %w", err)
		}
		if err := json.Unmarshal(warnings, &result.Warnings); err != nil {
			return nil, fmt.Errorf("unmarshal ai warnings: %w", err)
		}
		results = append(results, result)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ai analyses: %w", err)
	}
	return results, nil
}

func (r *BatchRepository) SaveSummary(ctx context.Context, summary domain.SummaryResult) error {
	findings, err := json.Marshal(emptyIfNil(summary.Findings))
	if err != nil {
		return fmt.Errorf("marshal summary findings: %w", err)
	}
	recommendations, err := json.Marshal(emptyIfNil(summary.Recommendations))
	if err != nil {
		return fmt.Errorf("marshal summary recommendations: %w", err)
	}
	warnings, err := json.Marshal(emptyIfNil(summary.Warnings))
	if err != nil {
		return fmt.Errorf("marshal summary warnings: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO batch_summaries (batch_id, status, text, findings, recommendations, warnings, source, model, prompt_hash, response_hash, duration_ms, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
ON CONFLICT (batch_id) DO UPDATE
SET status = EXCLUDED.status,
	text = EXCLUDED.text,
	findings = EXCLUDED.findings,
	recommendations = EXCLUDED.recommendations,
	warnings = EXCLUDED.warnings,
	source = EXCLUDED.source,
	model = EXCLUDED.model,
	prompt_hash = EXCLUDED.prompt_hash,
	response_hash = EXCLUDED.response_hash,
	duration_ms = EXCLUDED.duration_ms,
	created_at = EXCLUDED.created_at
`, summary.BatchID, string(summary.Status), summary.Text, findings, recommendations, warnings,
		summary.Source, summary.Model, summary.PromptHash, summary.ResponseHash, summary.DurationMS, summary.CreatedAt)
	if err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

func (r *BatchRepository) GetSummary(ctx context.Context, batchID string) (*domain.SummaryResult, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT batch_id, status, text, findings, recommendations, warnings, source, model, prompt_hash, response_hash, duration_ms, created_at
FROM batch_summaries
WHERE batch_id = $1
`, batchID)

	var summary domain.SummaryResult
	var status string
	var findings, recommendations, warnings []byte
	var source, model, promptHash, responseHash sql.NullString
	err := row.Scan(&summary.BatchID, &status, &summary.Text, &findings, &recommendations, &warnings,
		&source, &model, &promptHash, &responseHash, &summary.DurationMS, &summary.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.WrapError(domain.ErrBatchNotFound, "get summary", fmt.Errorf("batch %s", batchID))
		}
		return nil, fmt.Errorf("scan summary: %w", err)
	}
	summary.Status = domain.SummaryStatus(status)
	summary.Source = source.String
	summary.Model = model.String
	summary.PromptHash = promptHash.String
	summary.ResponseHash = responseHash.String
	if err := json.Unmarshal(findings, &summary.Findings); err != nil {
		return nil, fmt.Errorf("unmarshal summary findings: %w", err)
	}
	if err := json.Unmarshal(recommendations, &summary.Recommendations); err != nil {
		return nil, fmt.Errorf("unmarshal summary recommendations: %w", err)
	}
	if err := json.Unmarshal(warnings, &summary.Warnings); err != nil {
		return nil, fmt.Errorf("unmarshal summary warnings: %w", err)
	}
	return &summary, nil
}

func requireRow(result sql.Result, operation, id string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", operation, err)
	}
	if affected == 0 {
		return domain.WrapError(domain.ErrBatchNotFound, operation, fmt.Errorf("id %s", id))
	}
	return nil
}

func marshalNullable(v any) ([]byte, error) {
	switch value := v.(type) {
	case nil:
		return nil, nil
	case map[string]any:
		if len(value) == 0 {
			return nil, nil
		}
	case *[4]int:
		if value == nil {
			return nil, nil
		}
	}
	return json.Marshal(v)
}

func emptyIfNil[T any](values []T) []T {
	if values == nil {
		return []T{}
	}
	return values
}
