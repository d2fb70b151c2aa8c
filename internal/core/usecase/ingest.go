package usecase

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/audexhq/audex/internal/core/domain"
	"github.com/audexhq/audex/internal/core/ports"
)

// allowedContentTypes lists the upload types the pipeline knows how to
// process. Anything else is rejected before a single byte is stored.
var allowedContentTypes = []string{"image/", "application/pdf", "text/plain"}

type IngestBatchUseCase struct {
	repo    ports.BatchRepository
	storage ports.ObjectStorage
	queue   ports.MessageQueue
}

func NewIngestBatchUseCase(
	repo ports.BatchRepository,
	storage ports.ObjectStorage,
	queue ports.MessageQueue,
) *IngestBatchUseCase {
	return &IngestBatchUseCase{
		repo:    repo,
		storage: storage,
		queue:   queue,
	}
}

// Upload stores every file of the batch, records the batch in processing
// state and hands it to the queue for asynchronous analysis.
func (uc *IngestBatchUseCase) Upload(ctx context.Context, files []ports.IngestFile) (*domain.Batch, error) {
	if len(files) == 0 {
		return nil, domain.WrapError(domain.ErrInvalidInput, "upload batch", fmt.Errorf("no files provided"))
	}
	for _, file := range files {
		if !contentTypeAllowed(file.ContentType) {
			return nil, domain.WrapError(domain.ErrInvalidInput, "upload batch",
				fmt.Errorf("unsupported content type %q for %q", file.ContentType, file.Filename))
		}
	}

	batchID := strings.ReplaceAll(uuid.NewString(), "-", "")
	now := time.Now().UTC()

	descriptors := make([]domain.FileDescriptor, 0, len(files))
	for _, file := range files {
		key := fmt.Sprintf("batches/%s/%s", batchID, sanitizeFilename(file.Filename))

		size, checksum, err := uc.storage.Save(ctx, key, file.Body)
		if err != nil {
			return nil, fmt.Errorf("save %q to object storage: %w", file.Filename, err)
		}

		descriptor := domain.FileDescriptor{
			Filename:       file.Filename,
			ContentType:    file.ContentType,
			SizeBytes:      size,
			ChecksumSHA256: checksum,
			StoragePath:    key,
			Metadata:       cloneMetadata(file.Metadata),
		}
		uc.enrichImageMetadata(ctx, &descriptor)
		descriptors = append(descriptors, descriptor)
	}

	batch := &domain.Batch{
		ID:        batchID,
		Status:    domain.StatusProcessing,
		Files:     descriptors,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := uc.repo.CreateBatch(ctx, batch); err != nil {
		return nil, fmt.Errorf("create batch record: %w", err)
	}

	if err := uc.queue.PublishBatchIngested(ctx, batch.ID); err != nil {
		return nil, fmt.Errorf("publish ingestion event: %w", err)
	}

	return batch, nil
}

// enrichImageMetadata records pixel dimensions for images. Extraction
// failures are logged and ignored, an undecodable image still flows
// through the pipeline.
func (uc *IngestBatchUseCase) enrichImageMetadata(ctx context.Context, file *domain.FileDescriptor) {
	if !file.IsImage() {
		return
	}
	reader, err := uc.storage.Open(ctx, file.StoragePath)
	if err != nil {
		slog.Warn("image metadata extraction skipped", "file", file.Filename, "error", err)
		return
	}
	defer reader.Close()

	cfg, _, err := image.DecodeConfig(reader)
	if err != nil {
		slog.Warn("image metadata extraction failed", "file", file.Filename, "error", err)
		return
	}
	if file.Metadata == nil {
		file.Metadata = map[string]any{}
	}
	file.Metadata[domain.MetaWidth] = cfg.Width
	file.Metadata[domain.MetaHeight] = cfg.Height
}

func contentTypeAllowed(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	for _, allowed := range allowedContentTypes {
		if strings.HasSuffix(allowed, "/") {
			if strings.HasPrefix(ct, allowed) {
				return true
			}
		} else if ct == allowed {
			return true
		}
	}
	return false
}

func cloneMetadata(meta map[string]any) map[string]any {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]any, len(meta))
	for k, v := range meta {
		out[k] = v
	}
	return out
}

func sanitizeFilename(name string) string {
	base := filepath.Base(name)
	base = strings.ReplaceAll(base, " ", "_")
	base = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r
		case r >= 'A' && r <= 'Z':
			return r
		case r >= '0' && r <= '9':
			return r
		case r == '.', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, base)
	if base == "" || base == "." {
		return "file.bin"
	}
	return base
}
