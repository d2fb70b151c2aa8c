// Package httpadapter exposes the batch pipeline over HTTP: multipart
// upload, the batch read model, the SSE progress stream, AI re-analysis
// and report download.
package httpadapter

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/audexhq/audex/internal/core/domain"
	"github.com/audexhq/audex/internal/core/ports"
	"github.com/audexhq/audex/internal/eventbus"
	"github.com/audexhq/audex/internal/observability/metrics"
)

const (
	maxUploadMemoryBytes = 64 << 20
	xlsxContentType      = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

type Router struct {
	service string

	ingest  ports.BatchIngestor
	query   ports.BatchReader
	rerun   ports.BatchAnalyzer
	storage ports.ObjectStorage

	bus       *eventbus.Bus
	metrics   *metrics.HTTPServerMetrics
	keepalive time.Duration
}

func NewRouter(
	service string,
	ingest ports.BatchIngestor,
	query ports.BatchReader,
	rerun ports.BatchAnalyzer,
	storage ports.ObjectStorage,
	bus *eventbus.Bus,
	m *metrics.HTTPServerMetrics,
	keepalive time.Duration,
) *Router {
	if keepalive <= 0 {
		keepalive = 15 * time.Second
	}
	return &Router{
		service:   service,
		ingest:    ingest,
		query:     query,
		rerun:     rerun,
		storage:   storage,
		bus:       bus,
		metrics:   m,
		keepalive: keepalive,
	}
}

func (rt *Router) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", rt.healthz)
	mux.HandleFunc("/v1/batches", rt.uploadBatch)
	mux.HandleFunc("/v1/batches/", rt.batchSubresource)
	mux.Handle("/metrics", rt.metrics.Handler())

	handler := rt.metrics.Middleware(rt.service, mux)
	return requestIDMiddleware(accessLogMiddleware(handler))
}

func (rt *Router) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (rt *Router) uploadBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	if err := r.ParseMultipartForm(maxUploadMemoryBytes); err != nil {
		rt.metrics.RecordUpload(rt.service, "rejected", 0)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid multipart body"})
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		rt.metrics.RecordUpload(rt.service, "rejected", 0)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "multipart field 'files' is required"})
		return
	}

	metadata := map[string]any{}
	if zone := strings.TrimSpace(r.FormValue("zone")); zone != "" {
		metadata[domain.MetaZone] = zone
	}
	if siteType := strings.TrimSpace(r.FormValue("site_type")); siteType != "" {
		metadata[domain.MetaSiteType] = siteType
	}

	files := make([]ports.IngestFile, 0, len(headers))
	openedAll := true
	for _, header := range headers {
		part, err := header.Open()
		if err != nil {
			openedAll = false
			break
		}
		defer part.Close()
		files = append(files, ports.IngestFile{
			Filename:    header.Filename,
			ContentType: header.Header.Get("Content-Type"),
			Body:        part,
			Metadata:    metadata,
		})
	}
	if !openedAll {
		rt.metrics.RecordUpload(rt.service, "error", 0)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unreadable multipart file"})
		return
	}

	batch, err := rt.ingest.Upload(r.Context(), files)
	if err != nil {
		status := mapErrorToHTTPStatus(err)
		outcome := "error"
		if status == http.StatusBadRequest {
			outcome = "rejected"
		}
		rt.metrics.RecordUpload(rt.service, outcome, 0)
		writeJSON(w, status, map[string]string{"error": err.Error()})
		return
	}

	rt.metrics.RecordUpload(rt.service, "accepted", len(batch.Files))
	writeJSON(w, http.StatusAccepted, batch)
}

// batchSubresource dispatches /v1/batches/{id}[/suffix] by suffix. The mux
// cannot express path parameters for the Go version targeted here.
func (rt *Router) batchSubresource(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/batches/")
	batchID, suffix, _ := strings.Cut(rest, "/")
	if batchID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "batch id is required"})
		return
	}

	switch suffix {
	case "":
		rt.getBatchDetail(w, r, batchID)
	case "events":
		rt.streamEvents(w, r, batchID)
	case "analysis":
		rt.rerunAnalysis(w, r, batchID)
	case "report":
		rt.downloadReport(w, r, batchID)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown resource"})
	}
}

func (rt *Router) getBatchDetail(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	detail, err := rt.query.GetDetail(r.Context(), batchID)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

func (rt *Router) rerunAnalysis(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	result, err := rt.rerun.ReanalyzeByID(r.Context(), batchID)
	if err != nil {
		rt.metrics.RecordRerun(rt.service, "error")
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}

	rt.metrics.RecordRerun(rt.service, "success")
	writeJSON(w, http.StatusOK, result)
}

func (rt *Router) downloadReport(w http.ResponseWriter, r *http.Request, batchID string) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}

	batch, err := rt.query.GetByID(r.Context(), batchID)
	if err != nil {
		writeJSON(w, mapErrorToHTTPStatus(err), map[string]string{"error": err.Error()})
		return
	}
	if batch.ReportPath == "" {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "report not generated yet"})
		return
	}

	reader, err := rt.storage.Open(r.Context(), batch.ReportPath)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "report artifact unavailable"})
		return
	}
	defer reader.Close()

	w.Header().Set("Content-Type", xlsxContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", "audit-"+batchID+".xlsx"))
	if batch.ReportHash != "" {
		w.Header().Set("X-Checksum-Sha256", batch.ReportHash)
	}
	w.WriteHeader(http.StatusOK)
	_, _ = io.Copy(w, reader)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
