package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/audexhq/audex/internal/core/domain"
)

func TestReanalyzeSwapsRemoteObservations(t *testing.T) {
	batch := processBatch()
	repo := newBatchRepoFake(batch)
	repo.observations[domain.SourceLocal] = []domain.Observation{
		{SourceFile: "site.jpg", Label: "hygiene", Source: domain.SourceLocal},
	}
	repo.observations[domain.SourceGemini] = []domain.Observation{
		{SourceFile: "site.jpg", Label: "stale_remote", Source: domain.SourceGemini},
	}
	repo.aiResults = []domain.AIAnalysisResult{{BatchID: "b1", Status: domain.AIStatusOK}}

	storage := analyzerStorage(batch.Files[0])
	analyzer := NewAnalyzeBatchUseCase(
		AnalyzerConfig{Enabled: true, APIKeyConfigured: true},
		&visionModelFake{responses: []string{verdictWithVulnerability}},
		storage,
	)
	publisher := &publisherFake{}
	uc := NewReanalyzeBatchUseCase(repo, analyzer, publisher)

	result, err := uc.ReanalyzeByID(context.Background(), "b1")
	if err != nil {
		t.Fatalf("ReanalyzeByID() error = %v", err)
	}
	if result.Status != domain.AIStatusOK {
		t.Fatalf("expected ok status, got %s", result.Status)
	}

	remote := repo.observations[domain.SourceGemini]
	if len(remote) != 1 || remote[0].Label == "stale_remote" {
		t.Fatalf("expected remote observations swapped, got %v", remote)
	}
	if len(repo.observations[domain.SourceLocal]) != 1 {
		t.Fatalf("expected local observations untouched, got %v", repo.observations[domain.SourceLocal])
	}
	if len(repo.aiResults) != 2 {
		t.Fatalf("expected attempt appended to history, got %d", len(repo.aiResults))
	}

	codes := publisher.stageCodes()
	if len(codes) != 2 || codes[0] != domain.StageAIStart || codes[1] != domain.StageAIComplete {
		t.Fatalf("unexpected event codes: %v", codes)
	}
}

func TestReanalyzeFailureEmitsErrorEvent(t *testing.T) {
	batch := processBatch()
	repo := newBatchRepoFake(batch)
	repo.observations[domain.SourceGemini] = []domain.Observation{
		{SourceFile: "site.jpg", Label: "stale_remote", Source: domain.SourceGemini},
	}

	storage := analyzerStorage(batch.Files[0])
	analyzer := NewAnalyzeBatchUseCase(
		AnalyzerConfig{Enabled: true, APIKeyConfigured: true, Required: true},
		&visionModelFake{errs: []error{errors.New("quota exhausted")}},
		storage,
	)
	publisher := &publisherFake{}
	uc := NewReanalyzeBatchUseCase(repo, analyzer, publisher)

	_, err := uc.ReanalyzeByID(context.Background(), "b1")
	if err == nil {
		t.Fatalf("expected error")
	}
	if len(repo.observations[domain.SourceGemini]) != 1 || repo.observations[domain.SourceGemini][0].Label != "stale_remote" {
		t.Fatalf("expected stale remote observations preserved on failure, got %v", repo.observations[domain.SourceGemini])
	}
	codes := publisher.stageCodes()
	if len(codes) != 2 || codes[1] != domain.StagePipelineFailed {
		t.Fatalf("expected failure event, got %v", codes)
	}
}

func TestReanalyzeSerializesPerBatch(t *testing.T) {
	uc := NewReanalyzeBatchUseCase(newBatchRepoFake(processBatch()), nil, &publisherFake{})

	first := uc.batchLock("b1")
	second := uc.batchLock("b1")
	if first != second {
		t.Fatalf("expected the same lock for one batch")
	}
	if uc.batchLock("b2") == first {
		t.Fatalf("expected distinct locks per batch")
	}

	// Holding the lock must block a second caller until released.
	first.Lock()
	acquired := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		lock := uc.batchLock("b1")
		lock.Lock()
		close(acquired)
		lock.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatalf("second caller acquired lock while held")
	default:
	}
	first.Unlock()
	wg.Wait()
	<-acquired
}
