// Package ocr extracts text from batch files. One OCRResult per file,
// always: extraction trouble is reported inside the result, never as an
// error, so a corrupt file degrades a run instead of aborting it.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"github.com/audexhq/audex/internal/core/domain"
	"github.com/audexhq/audex/internal/core/ports"
)

const maxTextBytes = 4 << 20

type Engine struct {
	storage ports.ObjectStorage
}

func NewEngine(storage ports.ObjectStorage) *Engine {
	return &Engine{storage: storage}
}

func (e *Engine) Extract(ctx context.Context, file domain.FileDescriptor) domain.OCRResult {
	contentType := strings.ToLower(strings.TrimSpace(file.ContentType))
	switch {
	case contentType == "text/plain":
		return e.extractPlaintext(ctx, file)
	case contentType == "application/pdf":
		return e.extractPDF(ctx, file)
	case strings.HasPrefix(contentType, "image/"):
		return e.describeImage(ctx, file)
	default:
		return domain.OCRResult{
			SourceFile: file.Filename,
			Warnings:   []string{"unsupported-content-type:" + contentType},
			Engine:     "none",
		}
	}
}

func (e *Engine) extractPlaintext(ctx context.Context, file domain.FileDescriptor) domain.OCRResult {
	result := domain.OCRResult{SourceFile: file.Filename, Engine: "plaintext"}

	raw, err := e.read(ctx, file)
	if err != nil {
		result.Error = err.Error()
		result.Warnings = append(result.Warnings, "read-failed")
		return result
	}

	if !utf8.Valid(raw) {
		// Legacy exports are often latin-1; decode byte-wise rather
		// than dropping the file.
		result.Warnings = append(result.Warnings, "non-utf8-decoded-as-latin1")
		raw = latin1ToUTF8(raw)
	}
	result.Text = strings.TrimSpace(string(raw))
	return result
}

func (e *Engine) extractPDF(ctx context.Context, file domain.FileDescriptor) domain.OCRResult {
	result := domain.OCRResult{SourceFile: file.Filename, Engine: "pdf"}

	raw, err := e.read(ctx, file)
	if err != nil {
		result.Error = err.Error()
		result.Warnings = append(result.Warnings, "read-failed")
		return result
	}

	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		result.Error = fmt.Sprintf("parse pdf: %v", err)
		result.Warnings = append(result.Warnings, "pdf-parse-failed")
		return result
	}

	text, err := reader.GetPlainText()
	if err != nil {
		result.Error = fmt.Sprintf("extract pdf text: %v", err)
		result.Warnings = append(result.Warnings, "pdf-extract-failed")
		return result
	}
	extracted, err := io.ReadAll(io.LimitReader(text, maxTextBytes))
	if err != nil {
		result.Error = fmt.Sprintf("read pdf text: %v", err)
		result.Warnings = append(result.Warnings, "pdf-extract-failed")
		return result
	}
	result.Text = strings.TrimSpace(string(extracted))
	if result.Text == "" {
		result.Warnings = append(result.Warnings, "pdf-no-text-layer")
	}
	return result
}

// describeImage emits a deterministic placeholder: no local OCR model is
// bundled, but downstream consumers still want one result per file with the
// image dimensions visible.
func (e *Engine) describeImage(ctx context.Context, file domain.FileDescriptor) domain.OCRResult {
	result := domain.OCRResult{
		SourceFile: file.Filename,
		Warnings:   []string{"ocr-model-unavailable"},
		Engine:     "placeholder",
	}

	width, height := imageDimensions(file)
	if width == 0 || height == 0 {
		raw, err := e.read(ctx, file)
		if err == nil {
			if cfg, _, decErr := image.DecodeConfig(bytes.NewReader(raw)); decErr == nil {
				width, height = cfg.Width, cfg.Height
			}
		}
	}
	if width > 0 && height > 0 {
		result.Text = fmt.Sprintf("[ocr-unavailable] image %dx%d", width, height)
	} else {
		result.Text = "[ocr-unavailable] image"
	}
	return result
}

func (e *Engine) read(ctx context.Context, file domain.FileDescriptor) ([]byte, error) {
	reader, err := e.storage.Open(ctx, file.StoragePath)
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", file.StoragePath, err)
	}
	defer reader.Close()
	return io.ReadAll(io.LimitReader(reader, maxTextBytes))
}

func imageDimensions(file domain.FileDescriptor) (int, int) {
	width, _ := file.Metadata[domain.MetaWidth].(int)
	height, _ := file.Metadata[domain.MetaHeight].(int)
	return width, height
}

func latin1ToUTF8(raw []byte) []byte {
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return []byte(string(runes))
}
