// Package report renders the batch audit workbook. The artifact is
// content-addressed: the returned path is a storage key and the checksum is
// the SHA-256 of the written bytes.
package report

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/audexhq/audex/internal/core/domain"
	"github.com/audexhq/audex/internal/core/ports"
	"github.com/audexhq/audex/internal/core/timeline"
)

const (
	sheetOverview     = "Synthèse"
	sheetObservations = "Observations"
	sheetRisk         = "Risque"
	sheetTimeline     = "Chronologie"
	sheetOCR          = "Annexe OCR"
)

type Builder struct {
	storage   ports.ObjectStorage
	projector *timeline.Projector
}

func NewBuilder(storage ports.ObjectStorage) *Builder {
	return &Builder{
		storage:   storage,
		projector: &timeline.Projector{},
	}
}

func (b *Builder) Build(ctx context.Context, batch *domain.Batch, result *domain.PipelineResult) (domain.ReportArtifact, error) {
	f := excelize.NewFile()
	defer f.Close()

	if err := b.writeOverview(f, batch, result); err != nil {
		return domain.ReportArtifact{}, err
	}
	if err := b.writeObservations(f, result.Observations); err != nil {
		return domain.ReportArtifact{}, err
	}
	if err := b.writeRisk(f, result.Risk); err != nil {
		return domain.ReportArtifact{}, err
	}
	if err := b.writeTimeline(f, result.Events); err != nil {
		return domain.ReportArtifact{}, err
	}
	if err := b.writeOCR(f, result.OCRTexts); err != nil {
		return domain.ReportArtifact{}, err
	}

	var buf bytes.Buffer
	if err := f.Write(&buf); err != nil {
		return domain.ReportArtifact{}, fmt.Errorf("serialize workbook: %w", err)
	}

	key := fmt.Sprintf("reports/%s.xlsx", batch.ID)
	_, checksum, err := b.storage.Save(ctx, key, &buf)
	if err != nil {
		return domain.ReportArtifact{}, fmt.Errorf("store report: %w", err)
	}
	return domain.ReportArtifact{Path: key, ChecksumSHA256: checksum}, nil
}

func (b *Builder) writeOverview(f *excelize.File, batch *domain.Batch, result *domain.PipelineResult) error {
	if err := f.SetSheetName(f.GetSheetName(0), sheetOverview); err != nil {
		return fmt.Errorf("rename overview sheet: %w", err)
	}

	rows := [][]any{
		{"Lot", batch.ID},
		{"Statut", string(batch.Status)},
		{"Fichiers", len(batch.Files)},
		{"Créé le", batch.CreatedAt.Format("2006-01-02 15:04:05")},
	}
	if result.Risk != nil {
		rows = append(rows,
			[]any{"Score de risque", result.Risk.TotalScore},
			[]any{"Score normalisé", result.Risk.NormalizedScore},
		)
	}
	if result.AI != nil {
		rows = append(rows, []any{"Analyse distante", string(result.AI.Status)})
	}
	if result.Summary != nil {
		rows = append(rows,
			[]any{"Synthèse", result.Summary.Text},
			[]any{"Constats clés", strings.Join(result.Summary.Findings, "\n")},
			[]any{"Recommandations", strings.Join(result.Summary.Recommendations, "\n")},
		)
	}
	return writeRows(f, sheetOverview, nil, rows)
}

func (b *Builder) writeObservations(f *excelize.File, observations []domain.Observation) error {
	header := []any{"Fichier", "Libellé", "Sévérité", "Confiance", "Source"}
	rows := make([][]any, 0, len(observations))
	for _, o := range observations {
		rows = append(rows, []any{o.SourceFile, o.Label, string(o.Severity), o.Confidence, string(o.Source)})
	}
	return writeRows(f, sheetObservations, header, rows)
}

func (b *Builder) writeRisk(f *excelize.File, risk *domain.RiskScore) error {
	header := []any{"Libellé", "Sévérité", "Nombre", "Score"}
	var rows [][]any
	if risk != nil {
		for _, entry := range risk.Breakdown {
			rows = append(rows, []any{entry.Label, string(entry.Severity), entry.Count, entry.Score})
		}
	}
	return writeRows(f, sheetRisk, header, rows)
}

func (b *Builder) writeTimeline(f *excelize.File, events []domain.ProgressEvent) error {
	header := []any{"Phase", "Libellé", "Type", "Horodatage", "Progression"}
	phases := b.projector.Project(events)
	rows := make([][]any, 0, len(phases))
	for _, phase := range phases {
		progress := ""
		if phase.Progress != nil {
			progress = fmt.Sprintf("%d%%", *phase.Progress)
		}
		rows = append(rows, []any{
			string(phase.Phase), phase.Label, string(phase.Kind),
			phase.Timestamp.Format("2006-01-02 15:04:05"), progress,
		})
	}
	return writeRows(f, sheetTimeline, header, rows)
}

func (b *Builder) writeOCR(f *excelize.File, texts []domain.OCRResult) error {
	header := []any{"Fichier", "Moteur", "Texte", "Avertissements"}
	rows := make([][]any, 0, len(texts))
	for _, text := range texts {
		rows = append(rows, []any{text.SourceFile, text.Engine, text.Text, strings.Join(text.Warnings, "; ")})
	}
	return writeRows(f, sheetOCR, header, rows)
}

func writeRows(f *excelize.File, sheet string, header []any, rows [][]any) error {
	if sheet != sheetOverview {
		if _, err := f.NewSheet(sheet); err != nil {
			return fmt.Errorf("create sheet %s: %w", sheet, err)
		}
	}

	line := 1
	if header != nil {
		if err := setRow(f, sheet, line, header); err != nil {
			return err
		}
		line++
	}
	for _, row := range rows {
		if err := setRow(f, sheet, line, row); err != nil {
			return err
		}
		line++
	}
	return nil
}

func setRow(f *excelize.File, sheet string, line int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, line)
	if err != nil {
		return fmt.Errorf("row coordinates: %w", err)
	}
	if err := f.SetSheetRow(sheet, cell, &values); err != nil {
		return fmt.Errorf("write row in %s: %w", sheet, err)
	}
	return nil
}
