package usecase

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"testing"

	"github.com/audexhq/audex/internal/core/domain"
	"github.com/audexhq/audex/internal/core/ports"
)

type ingestQueueFake struct {
	batchID string
	err     error
}

func (f *ingestQueueFake) PublishBatchIngested(_ context.Context, batchID string) error {
	if f.err != nil {
		return f.err
	}
	f.batchID = batchID
	return nil
}

func (f *ingestQueueFake) SubscribeBatchIngested(context.Context, func(context.Context, string) error) error {
	return errors.New("not implemented")
}

func tinyPNG(t *testing.T, width, height int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, width, height))); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func TestIngestUploadSuccess(t *testing.T) {
	repo := newBatchRepoFake(nil)
	storage := &storageFake{}
	queue := &ingestQueueFake{}
	uc := NewIngestBatchUseCase(repo, storage, queue)

	batch, err := uc.Upload(context.Background(), []ports.IngestFile{
		{
			Filename:    "site plan.png",
			ContentType: "image/png",
			Body:        bytes.NewReader(tinyPNG(t, 8, 6)),
			Metadata:    map[string]any{domain.MetaZone: "parking", domain.MetaSiteType: "bank"},
		},
		{
			Filename:    "notes.txt",
			ContentType: "text/plain",
			Body:        strings.NewReader("registre incendie"),
		},
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if batch.ID == "" || strings.Contains(batch.ID, "-") {
		t.Fatalf("expected compact batch id, got %q", batch.ID)
	}
	if batch.Status != domain.StatusProcessing {
		t.Fatalf("expected processing status, got %s", batch.Status)
	}
	if repo.created == nil || len(repo.created.Files) != 2 {
		t.Fatalf("expected batch record with 2 files, got %+v", repo.created)
	}
	if queue.batchID != batch.ID {
		t.Fatalf("expected queued batch id %s, got %s", batch.ID, queue.batchID)
	}

	img := batch.Files[0]
	if !strings.HasSuffix(img.StoragePath, "/site_plan.png") {
		t.Fatalf("expected sanitized storage key, got %s", img.StoragePath)
	}
	if !strings.HasPrefix(img.StoragePath, "batches/"+batch.ID+"/") {
		t.Fatalf("expected batch-scoped storage key, got %s", img.StoragePath)
	}
	if img.SizeBytes == 0 || img.ChecksumSHA256 == "" {
		t.Fatalf("expected size and checksum recorded, got %+v", img)
	}
	if img.Metadata[domain.MetaWidth] != 8 || img.Metadata[domain.MetaHeight] != 6 {
		t.Fatalf("expected image dimensions in metadata, got %v", img.Metadata)
	}
	if img.Zone() != "parking" || img.SiteType() != "bank" {
		t.Fatalf("expected zone and site type carried, got %v", img.Metadata)
	}

	txt := batch.Files[1]
	if len(txt.Metadata) != 0 {
		t.Fatalf("expected no metadata for text file, got %v", txt.Metadata)
	}
}

func TestIngestUploadRejectsEmptyBatch(t *testing.T) {
	uc := NewIngestBatchUseCase(newBatchRepoFake(nil), &storageFake{}, &ingestQueueFake{})

	_, err := uc.Upload(context.Background(), nil)
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
}

func TestIngestUploadRejectsUnsupportedType(t *testing.T) {
	storage := &storageFake{}
	uc := NewIngestBatchUseCase(newBatchRepoFake(nil), storage, &ingestQueueFake{})

	_, err := uc.Upload(context.Background(), []ports.IngestFile{
		{Filename: "video.mp4", ContentType: "video/mp4", Body: strings.NewReader("x")},
	})
	if !domain.IsKind(err, domain.ErrInvalidInput) {
		t.Fatalf("expected invalid input error, got %v", err)
	}
	if len(storage.files) != 0 {
		t.Fatalf("expected nothing stored on rejection, got %v", storage.files)
	}
}

func TestIngestUploadUndecodableImageStillIngested(t *testing.T) {
	uc := NewIngestBatchUseCase(newBatchRepoFake(nil), &storageFake{}, &ingestQueueFake{})

	batch, err := uc.Upload(context.Background(), []ports.IngestFile{
		{Filename: "broken.jpg", ContentType: "image/jpeg", Body: strings.NewReader("not an image")},
	})
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if _, ok := batch.Files[0].Metadata[domain.MetaWidth]; ok {
		t.Fatalf("expected no dimensions for undecodable image, got %v", batch.Files[0].Metadata)
	}
}

func TestIngestUploadQueueError(t *testing.T) {
	queue := &ingestQueueFake{err: errors.New("queue down")}
	uc := NewIngestBatchUseCase(newBatchRepoFake(nil), &storageFake{}, queue)

	_, err := uc.Upload(context.Background(), []ports.IngestFile{
		{Filename: "notes.txt", ContentType: "text/plain", Body: strings.NewReader("x")},
	})
	if err == nil || !strings.Contains(err.Error(), "publish ingestion event") {
		t.Fatalf("expected publish error, got %v", err)
	}
}

func TestSanitizeFilename(t *testing.T) {
	cases := []struct {
		input string
		want  string
	}{
		{"rapport final.pdf", "rapport_final.pdf"},
		{"../../../etc/passwd", "passwd"},
		{"照片.jpg", "__.jpg"},
		{"", "file.bin"},
	}
	for _, tc := range cases {
		if got := sanitizeFilename(tc.input); got != tc.want {
			t.Fatalf("sanitizeFilename(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}
